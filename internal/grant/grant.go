// Package grant manages standing payment pre-authorizations and enforces
// their per-transaction and rolling-window limits.
package grant

import (
	"errors"
	"time"

	"paycore/internal/common/money"
)

// UsageKind distinguishes debits from releases of a debit whose payment
// was later confirmed not to have happened.
type UsageKind string

const (
	UsageDebit   UsageKind = "debit"
	UsageRelease UsageKind = "release"
)

// UsageEntry is one append-only ledger line. A release carries the UsedAt
// of the debit it cancels so both leave the window together.
type UsageEntry struct {
	Amount   money.Money `json:"amount"`
	Kind     UsageKind   `json:"kind"`
	IntentID string      `json:"intent_id,omitempty"`
	UsedAt   time.Time   `json:"used_at"`
}

// Grant lets an owner's payments proceed without per-transaction approval,
// within limits.
type Grant struct {
	ID                  string         `json:"id"`
	OwnerID             string         `json:"owner_id"`
	ScopeMerchantID     string         `json:"scope_merchant_id,omitempty"`
	Currency            money.Currency `json:"currency"`
	PerTransactionLimit money.Money    `json:"per_transaction_limit"`
	WindowLimit         money.Money    `json:"rolling_window_limit"`
	WindowDuration      time.Duration  `json:"rolling_window_duration"`
	Usage               []UsageEntry   `json:"-"`
	ExpiresAt           time.Time      `json:"expires_at"`
	Revoked             bool           `json:"revoked"`
	RevokedAt           *time.Time     `json:"revoked_at,omitempty"`
	CreatedAt           time.Time      `json:"created_at"`
}

// NewGrant creates a grant after checking its limits are coherent.
func NewGrant(id, ownerID, scopeMerchantID string, perTx, window money.Money, windowDuration time.Duration, expiresAt, now time.Time) (*Grant, error) {
	if id == "" {
		return nil, errors.New("id is required")
	}
	if ownerID == "" {
		return nil, errors.New("owner_id is required")
	}
	if !perTx.IsPositive() || !window.IsPositive() {
		return nil, errors.New("limits must be positive")
	}
	if perTx.Currency != window.Currency {
		return nil, errors.New("limits must share a currency")
	}
	if windowDuration <= 0 {
		return nil, errors.New("rolling window duration must be positive")
	}
	// Windows are persisted in whole seconds.
	if windowDuration%time.Second != 0 {
		return nil, errors.New("rolling window duration must be a whole number of seconds")
	}
	if !expiresAt.After(now) {
		return nil, errors.New("expires_at must be in the future")
	}

	return &Grant{
		ID:                  id,
		OwnerID:             ownerID,
		ScopeMerchantID:     scopeMerchantID,
		Currency:            perTx.Currency,
		PerTransactionLimit: perTx,
		WindowLimit:         window,
		WindowDuration:      windowDuration,
		ExpiresAt:           expiresAt.UTC(),
		CreatedAt:           now.UTC(),
	}, nil
}

// inWindow reports whether an entry stamped at t still counts at now.
func (g *Grant) inWindow(t, now time.Time) bool {
	return now.Sub(t) < g.WindowDuration
}

// WindowUsage sums debits younger than the window, net of releases.
func (g *Grant) WindowUsage(now time.Time) money.Money {
	var sum int64
	for _, e := range g.Usage {
		if !g.inWindow(e.UsedAt, now) {
			continue
		}
		if e.Kind == UsageRelease {
			sum -= e.Amount.AmountMinor
		} else {
			sum += e.Amount.AmountMinor
		}
	}
	if sum < 0 {
		sum = 0
	}
	return money.New(sum, g.Currency)
}

// Remaining is the window capacity left at now.
func (g *Grant) Remaining(now time.Time) money.Money {
	left := g.WindowLimit.AmountMinor - g.WindowUsage(now).AmountMinor
	if left < 0 {
		left = 0
	}
	return money.New(left, g.Currency)
}

// DebitFor returns the debit recorded for intentID and whether it has
// since been released.
func (g *Grant) DebitFor(intentID string) (debit UsageEntry, found, released bool) {
	for _, e := range g.Usage {
		if e.IntentID != intentID {
			continue
		}
		if e.Kind == UsageRelease {
			released = true
			continue
		}
		debit, found = e, true
	}
	return debit, found, released
}

// Clone deep-copies g so callers never share the usage slice.
func (g *Grant) Clone() *Grant {
	c := *g
	c.Usage = append([]UsageEntry(nil), g.Usage...)
	if g.RevokedAt != nil {
		t := *g.RevokedAt
		c.RevokedAt = &t
	}
	return &c
}

// View is the API representation, with computed window usage.
type View struct {
	*Grant
	WindowUsed      money.Money `json:"window_used"`
	WindowRemaining money.Money `json:"window_remaining"`
}

// ViewAt renders g as seen at now.
func (g *Grant) ViewAt(now time.Time) View {
	return View{Grant: g, WindowUsed: g.WindowUsage(now), WindowRemaining: g.Remaining(now)}
}
