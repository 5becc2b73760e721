package intent

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"paycore/internal/common/clock"
	"paycore/internal/common/events"
	"paycore/internal/common/lock"
	"paycore/internal/common/money"
	"paycore/internal/common/telemetry"
	"paycore/internal/fees"
	"paycore/internal/grant"
	"paycore/internal/risk"
	"paycore/internal/routing"
	"paycore/internal/routing/selector"
)

type recordingPublisher struct {
	mu           sync.Mutex
	types        []string
	correlations []string
}

func (p *recordingPublisher) Publish(_ context.Context, e *events.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.types = append(p.types, e.Type)
	p.correlations = append(p.correlations, e.CorrelationID)
	return nil
}

func (p *recordingPublisher) seen() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.types...)
}

type fixture struct {
	svc     *Service
	grants  *grant.Service
	store   *MemoryStore
	clock   *clock.Fake
	pub     *recordingPublisher
	metrics *telemetry.Metrics
	calls   atomic.Int32
	exec    func(ctx context.Context, route routing.CandidateRoute, in *Intent) (ExecutionResult, error)
}

func newFixture(t *testing.T, cfg Config) *fixture {
	t.Helper()

	f := &fixture{
		store:   NewMemoryStore(),
		clock:   clock.NewFake(t0),
		pub:     &recordingPublisher{},
		metrics: telemetry.NewMetrics(nil),
	}
	f.exec = func(_ context.Context, _ routing.CandidateRoute, in *Intent) (ExecutionResult, error) {
		return ExecutionResult{PaymentID: "pay_" + in.ID}, nil
	}

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	locker := lock.NewKeyed()

	catalog, err := routing.NewMemoryCatalog([]routing.CandidateRoute{{
		RouteID: "card", PaymentMethod: "card", SourceChain: "fiat", TargetChain: "fiat",
		Fees:        routing.FeeStructure{BaseFeeMinor: 30, PercentageBps: 290},
		SuccessRate: 97, AvgExecutionMs: 1500, RiskLevel: risk.LevelLow, Active: true,
	}})
	require.NoError(t, err)

	f.grants = grant.NewService(grant.NewMemoryStore(), locker, f.clock, f.pub, f.metrics, logger)
	f.svc = NewService(cfg, Deps{
		Store:    f.store,
		Grants:   f.grants,
		Selector: selector.New(catalog, fees.NewEstimator(fees.DefaultConfig()), risk.NewScorer(risk.DefaultConfig()), selector.DefaultConfig(), f.metrics),
		Executor: ExecutorFunc(func(ctx context.Context, route routing.CandidateRoute, in *Intent) (ExecutionResult, error) {
			f.calls.Add(1)
			return f.exec(ctx, route, in)
		}),
		Locker:    locker,
		Clock:     f.clock,
		Publisher: f.pub,
		Metrics:   f.metrics,
		Logger:    logger,
	})
	return f
}

func (f *fixture) create(t *testing.T, minor int64) *Intent {
	t.Helper()
	in, err := f.svc.Create(context.Background(), CreateRequest{Draft: Draft{
		OwnerID: "owner-1",
		Type:    TypeOrderPayment,
		Amount:  money.New(minor, money.USD),
	}})
	require.NoError(t, err)
	return in
}

func (f *fixture) grant(t *testing.T, perTx, window int64) *grant.Grant {
	t.Helper()
	g, err := f.grants.Create(context.Background(), grant.CreateRequest{
		OwnerID:             "owner-1",
		PerTransactionLimit: money.New(perTx, money.USD),
		WindowLimit:         money.New(window, money.USD),
		WindowDuration:      time.Hour,
		ExpiresAt:           t0.Add(24 * time.Hour),
	})
	require.NoError(t, err)
	return g
}

func TestCreateAuthorizeExecuteCompletes(t *testing.T) {
	f := newFixture(t, DefaultConfig())
	ctx := context.Background()

	in := f.create(t, 5000)
	assert.Equal(t, StatusCreated, in.Status)
	assert.Equal(t, t0.Add(time.Hour), in.ExpiresAt)

	in, err := f.svc.Authorize(ctx, AuthorizeRequest{IntentID: in.ID, OwnerID: "owner-1", By: AuthorizedByUser})
	require.NoError(t, err)
	assert.Equal(t, StatusAuthorized, in.Status)
	require.NotNil(t, in.Authorization)
	assert.Equal(t, AuthorizedByUser, in.Authorization.AuthorizedBy)

	in, err = f.svc.Execute(ctx, in.ID, "owner-1")
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, in.Status)
	assert.Equal(t, "pay_"+in.ID, in.ResultPaymentID)
	require.NotNil(t, in.CompletedAt)
	require.NotNil(t, in.RouteDecision)
	assert.Equal(t, "card", in.RouteDecision.Selected.Route.RouteID)

	stored, err := f.svc.Get(ctx, in.ID, "owner-1")
	require.NoError(t, err)
	assert.Equal(t, in.ResultPaymentID, stored.ResultPaymentID)

	assert.Equal(t, []string{
		events.EventIntentCreated,
		events.EventIntentAuthorized,
		events.EventIntentExecuting,
		events.EventIntentCompleted,
	}, f.pub.seen())
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.IntentTransitions.WithLabelValues("executing", "completed")))
}

func TestEventsCarryCorrelationID(t *testing.T) {
	f := newFixture(t, DefaultConfig())
	ctx := events.WithCorrelationID(context.Background(), "corr-42")

	in := f.create(t, 5000)
	_, err := f.svc.Cancel(ctx, in.ID, "owner-1")
	require.NoError(t, err)

	f.pub.mu.Lock()
	defer f.pub.mu.Unlock()
	require.Len(t, f.pub.correlations, 2)
	assert.Empty(t, f.pub.correlations[0], "create ran without a correlation id")
	assert.Equal(t, "corr-42", f.pub.correlations[1])
}

func TestLazyExpiryOnRead(t *testing.T) {
	f := newFixture(t, DefaultConfig())
	ctx := context.Background()

	in, err := f.svc.Create(ctx, CreateRequest{Draft: draft(), TTL: 10 * time.Minute})
	require.NoError(t, err)

	f.clock.Set(t0.Add(10*time.Minute - time.Millisecond))
	got, err := f.svc.Get(ctx, in.ID, "owner-1")
	require.NoError(t, err)
	assert.Equal(t, StatusCreated, got.Status)

	f.clock.Set(t0.Add(10 * time.Minute))
	got, err = f.svc.Get(ctx, in.ID, "owner-1")
	require.NoError(t, err)
	assert.Equal(t, StatusExpired, got.Status)

	// Idempotent.
	got, err = f.svc.Get(ctx, in.ID, "owner-1")
	require.NoError(t, err)
	assert.Equal(t, StatusExpired, got.Status)
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.IntentsExpired))
}

func TestAuthorizeExpiredIntent(t *testing.T) {
	f := newFixture(t, DefaultConfig())
	ctx := context.Background()
	in := f.create(t, 5000)

	f.clock.Advance(2 * time.Hour)
	_, err := f.svc.Authorize(ctx, AuthorizeRequest{IntentID: in.ID, OwnerID: "owner-1", By: AuthorizedByUser})
	assert.ErrorIs(t, err, ErrExpired)

	stored, err := f.store.Get(ctx, in.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusExpired, stored.Status)
}

func TestAuthorizeWithExhaustedGrantLeavesIntentCreated(t *testing.T) {
	f := newFixture(t, DefaultConfig())
	ctx := context.Background()
	g := f.grant(t, 100, 300)

	// Exhaust the window through three completed intents.
	for i := 0; i < 3; i++ {
		in := f.create(t, 100)
		_, err := f.svc.Authorize(ctx, AuthorizeRequest{IntentID: in.ID, OwnerID: "owner-1", By: AuthorizedByGrant, GrantID: g.ID})
		require.NoError(t, err)
		_, err = f.svc.Execute(ctx, in.ID, "owner-1")
		require.NoError(t, err)
	}

	in := f.create(t, 100)
	_, err := f.svc.Authorize(ctx, AuthorizeRequest{IntentID: in.ID, OwnerID: "owner-1", By: AuthorizedByGrant, GrantID: g.ID})
	require.ErrorIs(t, err, grant.ErrInvalid)
	var inv *grant.InvalidError
	require.True(t, errors.As(err, &inv))
	assert.Equal(t, grant.ReasonWindowLimit, inv.Reason)

	stored, err := f.store.Get(ctx, in.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusCreated, stored.Status)
	assert.Nil(t, stored.Authorization)
}

func TestAuthorizeRejectsForeignIntentAndGrant(t *testing.T) {
	f := newFixture(t, DefaultConfig())
	ctx := context.Background()
	in := f.create(t, 100)
	g := f.grant(t, 100, 300)

	_, err := f.svc.Authorize(ctx, AuthorizeRequest{IntentID: in.ID, OwnerID: "intruder", By: AuthorizedByUser})
	assert.ErrorIs(t, err, ErrNotFound)

	other, err := f.svc.Create(ctx, CreateRequest{Draft: Draft{OwnerID: "owner-2", Type: TypeTaskPayment, Amount: money.New(10, money.USD)}})
	require.NoError(t, err)
	_, err = f.svc.Authorize(ctx, AuthorizeRequest{IntentID: other.ID, OwnerID: "owner-2", By: AuthorizedByGrant, GrantID: g.ID})
	assert.ErrorIs(t, err, grant.ErrNotFound)
}

func TestAuthorizeActorValidation(t *testing.T) {
	f := newFixture(t, DefaultConfig())
	ctx := context.Background()
	in := f.create(t, 100)

	for _, req := range []AuthorizeRequest{
		{IntentID: in.ID, OwnerID: "owner-1", By: "robot"},
		{IntentID: in.ID, OwnerID: "owner-1", By: AuthorizedByGrant},
		{IntentID: in.ID, OwnerID: "owner-1", By: AuthorizedByAgent, GrantID: "grt_1"},
	} {
		_, err := f.svc.Authorize(ctx, req)
		assert.ErrorIs(t, err, ErrValidation)
	}
}

func TestIllegalOperationsAreInvalidState(t *testing.T) {
	f := newFixture(t, DefaultConfig())
	ctx := context.Background()
	in := f.create(t, 100)

	_, err := f.svc.Execute(ctx, in.ID, "owner-1")
	assert.ErrorIs(t, err, ErrInvalidState)

	_, err = f.svc.Cancel(ctx, in.ID, "owner-1")
	require.NoError(t, err)

	_, err = f.svc.Authorize(ctx, AuthorizeRequest{IntentID: in.ID, OwnerID: "owner-1", By: AuthorizedByUser})
	assert.ErrorIs(t, err, ErrInvalidState)
	_, err = f.svc.Cancel(ctx, in.ID, "owner-1")
	assert.ErrorIs(t, err, ErrInvalidState)
	assert.Zero(t, f.calls.Load())
}

func TestCancelByMerchant(t *testing.T) {
	f := newFixture(t, DefaultConfig())
	ctx := context.Background()

	d := draft()
	d.MerchantID = "merchant-9"
	in, err := f.svc.Create(ctx, CreateRequest{Draft: d})
	require.NoError(t, err)
	_, err = f.svc.Authorize(ctx, AuthorizeRequest{IntentID: in.ID, OwnerID: "owner-1", By: AuthorizedByAgent})
	require.NoError(t, err)

	_, err = f.svc.Cancel(ctx, in.ID, "someone-else")
	assert.ErrorIs(t, err, ErrNotFound)

	got, err := f.svc.Cancel(ctx, in.ID, "merchant-9")
	require.NoError(t, err)
	assert.Equal(t, StatusCancelled, got.Status)
}

func TestExecuteFailureMarksFailed(t *testing.T) {
	f := newFixture(t, DefaultConfig())
	ctx := context.Background()
	g := f.grant(t, 100, 300)
	f.exec = func(context.Context, routing.CandidateRoute, *Intent) (ExecutionResult, error) {
		return ExecutionResult{}, errors.New("insufficient liquidity")
	}

	in := f.create(t, 100)
	_, err := f.svc.Authorize(ctx, AuthorizeRequest{IntentID: in.ID, OwnerID: "owner-1", By: AuthorizedByGrant, GrantID: g.ID})
	require.NoError(t, err)

	got, err := f.svc.Execute(ctx, in.ID, "owner-1")
	require.ErrorIs(t, err, ErrExecutionFailed)
	assert.Contains(t, err.Error(), "insufficient liquidity")
	require.NotNil(t, got)
	assert.Equal(t, StatusFailed, got.Status)
	assert.Equal(t, "insufficient liquidity", got.ErrorMessage)

	// No debit for a payment that did not happen.
	stored, err := f.grants.Get(ctx, g.ID, "owner-1")
	require.NoError(t, err)
	assert.Empty(t, stored.Usage)

	// Never retried.
	_, err = f.svc.Execute(ctx, in.ID, "owner-1")
	assert.ErrorIs(t, err, ErrInvalidState)
	assert.Equal(t, int32(1), f.calls.Load())
}

func TestExecuteTimeoutLeavesExecuting(t *testing.T) {
	cfg := DefaultConfig()
	cfg.ExecutorTimeout = 20 * time.Millisecond
	f := newFixture(t, cfg)
	ctx := context.Background()
	g := f.grant(t, 100, 300)
	f.exec = func(ctx context.Context, _ routing.CandidateRoute, _ *Intent) (ExecutionResult, error) {
		<-ctx.Done()
		return ExecutionResult{}, ctx.Err()
	}

	in := f.create(t, 100)
	_, err := f.svc.Authorize(ctx, AuthorizeRequest{IntentID: in.ID, OwnerID: "owner-1", By: AuthorizedByGrant, GrantID: g.ID})
	require.NoError(t, err)

	_, err = f.svc.Execute(ctx, in.ID, "owner-1")
	require.ErrorIs(t, err, ErrTimeout)
	assert.False(t, errors.Is(err, ErrExecutionFailed))

	stored, err := f.store.Get(ctx, in.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusExecuting, stored.Status)

	// Usage is held while the outcome is unknown.
	gr, err := f.grants.Get(ctx, g.ID, "owner-1")
	require.NoError(t, err)
	assert.Equal(t, int64(100), gr.WindowUsage(f.clock.Now()).AmountMinor)
	assert.Contains(t, f.pub.seen(), events.EventIntentExecutionTimeout)
}

func TestReconcile(t *testing.T) {
	for _, succeeded := range []bool{true, false} {
		t.Run(map[bool]string{true: "success", false: "failure"}[succeeded], func(t *testing.T) {
			cfg := DefaultConfig()
			cfg.ExecutorTimeout = 10 * time.Millisecond
			f := newFixture(t, cfg)
			ctx := context.Background()
			g := f.grant(t, 100, 300)
			f.exec = func(ctx context.Context, _ routing.CandidateRoute, _ *Intent) (ExecutionResult, error) {
				<-ctx.Done()
				return ExecutionResult{}, ctx.Err()
			}

			in := f.create(t, 100)
			_, err := f.svc.Authorize(ctx, AuthorizeRequest{IntentID: in.ID, OwnerID: "owner-1", By: AuthorizedByGrant, GrantID: g.ID})
			require.NoError(t, err)
			_, err = f.svc.Execute(ctx, in.ID, "owner-1")
			require.ErrorIs(t, err, ErrTimeout)

			got, err := f.svc.Reconcile(ctx, in.ID, Outcome{
				Succeeded: succeeded,
				Result:    ExecutionResult{PaymentID: "pay_late"},
				Error:     "rejected by network",
			})
			require.NoError(t, err)

			gr, err := f.grants.Get(ctx, g.ID, "owner-1")
			require.NoError(t, err)
			if succeeded {
				assert.Equal(t, StatusCompleted, got.Status)
				assert.Equal(t, "pay_late", got.ResultPaymentID)
				assert.Len(t, gr.Usage, 1)
				assert.Equal(t, int64(100), gr.WindowUsage(f.clock.Now()).AmountMinor)
			} else {
				assert.Equal(t, StatusFailed, got.Status)
				assert.Equal(t, "rejected by network", got.ErrorMessage)
				assert.True(t, gr.WindowUsage(f.clock.Now()).IsZero())
			}

			_, err = f.svc.Reconcile(ctx, in.ID, Outcome{Succeeded: succeeded})
			assert.ErrorIs(t, err, ErrInvalidState)
		})
	}
}

func TestConcurrentExecuteOnSharedGrantNeverDoubleSpends(t *testing.T) {
	f := newFixture(t, DefaultConfig())
	ctx := context.Background()
	g := f.grant(t, 100, 150)

	var ids []string
	for i := 0; i < 2; i++ {
		in := f.create(t, 100)
		_, err := f.svc.Authorize(ctx, AuthorizeRequest{IntentID: in.ID, OwnerID: "owner-1", By: AuthorizedByGrant, GrantID: g.ID})
		require.NoError(t, err)
		ids = append(ids, in.ID)
	}

	start := make(chan struct{})
	errs := make([]error, len(ids))
	var wg sync.WaitGroup
	for i, id := range ids {
		wg.Add(1)
		go func(i int, id string) {
			defer wg.Done()
			<-start
			_, errs[i] = f.svc.Execute(ctx, id, "owner-1")
		}(i, id)
	}
	close(start)
	wg.Wait()

	var succeeded, denied int
	for _, err := range errs {
		switch {
		case err == nil:
			succeeded++
		case errors.Is(err, grant.ErrInvalid):
			denied++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	assert.Equal(t, 1, succeeded)
	assert.Equal(t, 1, denied)
	assert.Equal(t, int32(1), f.calls.Load())

	gr, err := f.grants.Get(ctx, g.ID, "owner-1")
	require.NoError(t, err)
	assert.Equal(t, int64(100), gr.WindowUsage(f.clock.Now()).AmountMinor)
}

func TestSweepExpired(t *testing.T) {
	cfg := DefaultConfig()
	cfg.SweepBatch = 2
	f := newFixture(t, cfg)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		f.create(t, 100)
	}
	kept := f.create(t, 100)
	_, err := f.svc.Authorize(ctx, AuthorizeRequest{IntentID: kept.ID, OwnerID: "owner-1", By: AuthorizedByUser})
	require.NoError(t, err)

	n, err := f.svc.SweepExpired(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)

	f.clock.Advance(time.Hour)
	n, err = f.svc.SweepExpired(ctx)
	require.NoError(t, err)
	assert.Equal(t, 5, n)

	n, err = f.svc.SweepExpired(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)

	list, err := f.svc.List(ctx, ListRequest{OwnerID: "owner-1", Status: StatusExpired})
	require.NoError(t, err)
	assert.Len(t, list, 5)
}

func TestListAppliesLazyExpiry(t *testing.T) {
	f := newFixture(t, DefaultConfig())
	ctx := context.Background()
	f.create(t, 100)
	f.create(t, 200)

	created, err := f.svc.List(ctx, ListRequest{OwnerID: "owner-1", Status: StatusCreated})
	require.NoError(t, err)
	assert.Len(t, created, 2)

	f.clock.Advance(time.Hour)
	created, err = f.svc.List(ctx, ListRequest{OwnerID: "owner-1", Status: StatusCreated})
	require.NoError(t, err)
	assert.Empty(t, created)

	all, err := f.svc.List(ctx, ListRequest{OwnerID: "owner-1"})
	require.NoError(t, err)
	require.Len(t, all, 2)
	for _, in := range all {
		assert.Equal(t, StatusExpired, in.Status)
	}
}

func TestSweeperRunsUntilCancelled(t *testing.T) {
	f := newFixture(t, DefaultConfig())
	in := f.create(t, 100)
	f.clock.Advance(2 * time.Hour)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- NewSweeper(f.svc, 5*time.Millisecond, slog.New(slog.NewTextHandler(io.Discard, nil))).Run(ctx)
	}()

	require.Eventually(t, func() bool {
		stored, err := f.store.Get(context.Background(), in.ID)
		return err == nil && stored.Status == StatusExpired
	}, time.Second, 5*time.Millisecond)

	cancel()
	assert.NoError(t, <-done)
}
