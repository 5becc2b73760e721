package intent

import (
	"context"
	"io"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"paycore/internal/common/database"
	"paycore/internal/common/money"
	"paycore/internal/routing"
	"paycore/internal/routing/selector"
)

func exerciseStore(t *testing.T, s Store) {
	t.Helper()
	ctx := context.Background()
	owner := "owner-" + ulid.Make().String()
	base := time.Now().UTC().Truncate(time.Second)

	newIntent := func(createdAt time.Time, ttl time.Duration) *Intent {
		d := Draft{
			OwnerID:           owner,
			Type:              TypeServicePayment,
			Amount:            money.New(2500, money.USD),
			MerchantID:        "mer_1",
			PaymentMethodHint: "card",
		}
		in, err := NewIntent("pi_"+ulid.Make().String(), d, ttl, createdAt)
		require.NoError(t, err)
		return in
	}

	a := newIntent(base, time.Hour)
	b := newIntent(base.Add(time.Second), time.Minute)
	c := newIntent(base.Add(2*time.Second), time.Hour)
	for _, in := range []*Intent{a, b, c} {
		require.NoError(t, s.Create(ctx, in))
	}

	t.Run("duplicate id conflicts", func(t *testing.T) {
		assert.ErrorIs(t, s.Create(ctx, a), ErrConflict)
	})

	t.Run("get round trip", func(t *testing.T) {
		got, err := s.Get(ctx, a.ID)
		require.NoError(t, err)
		assert.Equal(t, a.OwnerID, got.OwnerID)
		assert.Equal(t, a.Amount, got.Amount)
		assert.Equal(t, "mer_1", got.MerchantID)
		assert.Equal(t, "card", got.PaymentMethodHint)
		assert.Equal(t, StatusCreated, got.Status)
		assert.True(t, a.ExpiresAt.Equal(got.ExpiresAt))

		_, err = s.Get(ctx, "pi_missing")
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("update is compare and set on status", func(t *testing.T) {
		next := a.Clone()
		require.NoError(t, next.MarkAuthorized(AuthorizedByUser, "", base.Add(time.Minute)))
		require.NoError(t, s.Update(ctx, next, StatusCreated))

		stale := a.Clone()
		require.NoError(t, stale.MarkCancelled(base.Add(time.Minute)))
		assert.ErrorIs(t, s.Update(ctx, stale, StatusCreated), ErrConflict)

		missing := newIntent(base, time.Hour)
		assert.ErrorIs(t, s.Update(ctx, missing, StatusCreated), ErrNotFound)

		exec := next.Clone()
		decision := selector.Decision{Selected: selector.ScoredRoute{
			Route: routing.CandidateRoute{RouteID: "card-visa", PaymentMethod: "card"},
			Score: 81.25,
		}}
		require.NoError(t, exec.MarkExecuting(decision, base.Add(2*time.Minute)))
		require.NoError(t, s.Update(ctx, exec, StatusAuthorized))

		got, err := s.Get(ctx, a.ID)
		require.NoError(t, err)
		assert.Equal(t, StatusExecuting, got.Status)
		require.NotNil(t, got.Authorization)
		assert.Equal(t, AuthorizedByUser, got.Authorization.AuthorizedBy)
		require.NotNil(t, got.RouteDecision)
		assert.Equal(t, "card-visa", got.RouteDecision.Selected.Route.RouteID)
		assert.Equal(t, 81.25, got.RouteDecision.Selected.Score)
	})

	t.Run("list by owner and status", func(t *testing.T) {
		all, err := s.List(ctx, owner, "", 0, 0)
		require.NoError(t, err)
		require.Len(t, all, 3)
		assert.Equal(t, []string{c.ID, b.ID, a.ID}, []string{all[0].ID, all[1].ID, all[2].ID})

		created, err := s.List(ctx, owner, StatusCreated, 0, 0)
		require.NoError(t, err)
		require.Len(t, created, 2)

		page, err := s.List(ctx, owner, "", 1, 1)
		require.NoError(t, err)
		require.Len(t, page, 1)
		assert.Equal(t, b.ID, page[0].ID)

		none, err := s.List(ctx, "owner-nobody", "", 10, 0)
		require.NoError(t, err)
		assert.Empty(t, none)
	})

	t.Run("expirable includes the deadline itself", func(t *testing.T) {
		ids, err := s.ListExpirable(ctx, b.ExpiresAt.Add(-time.Second), 100000)
		require.NoError(t, err)
		assert.NotContains(t, ids, b.ID)

		ids, err = s.ListExpirable(ctx, b.ExpiresAt, 100000)
		require.NoError(t, err)
		assert.Contains(t, ids, b.ID)
		assert.NotContains(t, ids, a.ID)
		assert.NotContains(t, ids, c.ID)
	})
}

func TestMemoryStore(t *testing.T) {
	exerciseStore(t, NewMemoryStore())
}

func TestPostgresStore(t *testing.T) {
	url := os.Getenv("TEST_DATABASE_URL")
	if url == "" {
		t.Skip("TEST_DATABASE_URL not set")
	}

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	cfg := database.Config{URL: url, MaxConns: 4, MinConns: 1, MaxConnLifetime: time.Hour, MaxConnIdleTime: time.Minute}
	require.NoError(t, database.Migrate(cfg, database.MigrateUp, logger))

	db, err := database.New(context.Background(), cfg, logger)
	require.NoError(t, err)
	t.Cleanup(db.Close)

	exerciseStore(t, NewPostgresStore(db))
}
