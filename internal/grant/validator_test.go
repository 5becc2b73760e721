package grant

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"paycore/internal/common/money"
)

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func usd(minor int64) money.Money { return money.New(minor, money.USD) }

func newTestGrant(t *testing.T, scope string) *Grant {
	t.Helper()
	g, err := NewGrant("grt_1", "owner-1", scope, usd(100), usd(300), time.Hour, t0.Add(24*time.Hour), t0)
	require.NoError(t, err)
	return g
}

func TestNewGrantRejectsIncoherentLimits(t *testing.T) {
	tests := []struct {
		name   string
		perTx  money.Money
		window money.Money
		dur    time.Duration
		exp    time.Time
	}{
		{"zero per-tx", usd(0), usd(300), time.Hour, t0.Add(time.Hour)},
		{"mixed currencies", usd(100), money.New(300, money.EUR), time.Hour, t0.Add(time.Hour)},
		{"no window", usd(100), usd(300), 0, t0.Add(time.Hour)},
		{"sub-second window", usd(100), usd(300), 500 * time.Millisecond, t0.Add(time.Hour)},
		{"fractional seconds", usd(100), usd(300), 1500 * time.Millisecond, t0.Add(time.Hour)},
		{"already expired", usd(100), usd(300), time.Hour, t0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewGrant("grt_1", "owner-1", "", tt.perTx, tt.window, tt.dur, tt.exp, t0)
			assert.Error(t, err)
		})
	}
}

func TestValidateReasonsInOrder(t *testing.T) {
	tests := []struct {
		name     string
		mutate   func(g *Grant)
		amount   money.Money
		merchant string
		now      time.Time
		want     Reason
	}{
		{"revoked beats everything", func(g *Grant) { g.Revoked = true }, usd(1000), "other", t0.Add(48 * time.Hour), ReasonRevoked},
		{"expired at the boundary", nil, usd(10), "m-1", t0.Add(24 * time.Hour), ReasonExpired},
		{"scope before limits", nil, usd(1000), "other", t0, ReasonScopeMismatch},
		{"currency", nil, money.New(10, money.EUR), "m-1", t0, ReasonCurrencyMismatch},
		{"per transaction", nil, usd(101), "m-1", t0, ReasonPerTransaction},
		{"window", func(g *Grant) {
			g.Usage = append(g.Usage, UsageEntry{Amount: usd(250), Kind: UsageDebit, UsedAt: t0})
		}, usd(51), "m-1", t0.Add(time.Minute), ReasonWindowLimit},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g := newTestGrant(t, "m-1")
			if tt.mutate != nil {
				tt.mutate(g)
			}
			res := Validate(g, tt.amount, tt.merchant, tt.now)
			assert.False(t, res.Valid)
			assert.Equal(t, tt.want, res.Reason)

			var inv *InvalidError
			require.True(t, errors.As(res.Err(), &inv))
			assert.Equal(t, tt.want, inv.Reason)
			assert.ErrorIs(t, res.Err(), ErrInvalid)
		})
	}
}

func TestValidateUnscopedAcceptsAnyMerchant(t *testing.T) {
	g := newTestGrant(t, "")
	res := Validate(g, usd(100), "anyone", t0)
	assert.True(t, res.Valid)
	assert.NoError(t, res.Err())
}

func TestValidateDoesNotMutate(t *testing.T) {
	g := newTestGrant(t, "")
	g.Usage = []UsageEntry{{Amount: usd(50), Kind: UsageDebit, UsedAt: t0}}
	before := g.Clone()

	Validate(g, usd(100), "", t0.Add(time.Minute))
	assert.Equal(t, before, g)
}

func TestWindowUsageRollsOff(t *testing.T) {
	g := newTestGrant(t, "")
	g.Usage = []UsageEntry{
		{Amount: usd(100), Kind: UsageDebit, UsedAt: t0},
		{Amount: usd(100), Kind: UsageDebit, UsedAt: t0.Add(10 * time.Minute)},
	}

	assert.Equal(t, int64(200), g.WindowUsage(t0.Add(30*time.Minute)).AmountMinor)
	// An entry exactly one window old no longer counts.
	assert.Equal(t, int64(100), g.WindowUsage(t0.Add(time.Hour)).AmountMinor)
	assert.Equal(t, int64(0), g.WindowUsage(t0.Add(2*time.Hour)).AmountMinor)
	assert.Equal(t, int64(300), g.Remaining(t0.Add(2*time.Hour)).AmountMinor)
}

func TestWindowUsageNetsReleases(t *testing.T) {
	g := newTestGrant(t, "")
	g.Usage = []UsageEntry{
		{Amount: usd(100), Kind: UsageDebit, IntentID: "pi_1", UsedAt: t0},
		{Amount: usd(80), Kind: UsageDebit, IntentID: "pi_2", UsedAt: t0.Add(time.Minute)},
		{Amount: usd(100), Kind: UsageRelease, IntentID: "pi_1", UsedAt: t0},
	}
	assert.Equal(t, int64(80), g.WindowUsage(t0.Add(5*time.Minute)).AmountMinor)
	assert.Equal(t, int64(220), g.Remaining(t0.Add(5*time.Minute)).AmountMinor)
}

func TestCloneIsDeep(t *testing.T) {
	g := newTestGrant(t, "")
	g.Usage = []UsageEntry{{Amount: usd(1), Kind: UsageDebit, UsedAt: t0}}
	c := g.Clone()
	c.Usage[0].Amount = usd(99)
	c.Usage = append(c.Usage, UsageEntry{})
	assert.Equal(t, int64(1), g.Usage[0].Amount.AmountMinor)
	assert.Len(t, g.Usage, 1)
}
