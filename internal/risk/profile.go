package risk

import "context"

// ProfileProvider supplies per-owner risk inputs. Implementations may hit a
// KYC service or a transaction history store; both inputs are optional.
type ProfileProvider interface {
	Profile(ctx context.Context, ownerID string) (Profile, error)
}

// Profile is the identity and history view of one owner.
type Profile struct {
	Identity IdentityStatus
	History  *History
}

// NeutralProfiles returns an unknown identity and no history for everyone,
// which contributes nothing to the score.
type NeutralProfiles struct{}

// Profile implements ProfileProvider.
func (NeutralProfiles) Profile(context.Context, string) (Profile, error) {
	return Profile{}, nil
}

// StaticProfiles serves fixed profiles by owner, neutral for the rest.
type StaticProfiles map[string]Profile

// Profile implements ProfileProvider.
func (s StaticProfiles) Profile(_ context.Context, ownerID string) (Profile, error) {
	return s[ownerID], nil
}
