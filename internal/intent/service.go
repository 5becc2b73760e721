package intent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/oklog/ulid/v2"
	"go.opentelemetry.io/otel/attribute"

	"paycore/internal/common/clock"
	"paycore/internal/common/events"
	"paycore/internal/common/lock"
	"paycore/internal/common/money"
	"paycore/internal/common/telemetry"
	"paycore/internal/grant"
	"paycore/internal/risk"
	"paycore/internal/routing/selector"
)

// Config tunes the orchestrator.
type Config struct {
	DefaultTTL      time.Duration `envconfig:"INTENT_DEFAULT_TTL" default:"1h"`
	ExecutorTimeout time.Duration `envconfig:"EXECUTOR_TIMEOUT" default:"30s"`
	SweepBatch      int           `envconfig:"SWEEP_BATCH" default:"500"`
}

// DefaultConfig mirrors the envconfig defaults.
func DefaultConfig() Config {
	return Config{
		DefaultTTL:      time.Hour,
		ExecutorTimeout: 30 * time.Second,
		SweepBatch:      500,
	}
}

// RouteSelector chooses the execution route.
type RouteSelector interface {
	SelectBestRoute(ctx context.Context, req selector.Request) (selector.Decision, error)
}

// Grants validates and debits standing authorizations.
type Grants interface {
	Validate(ctx context.Context, id, ownerID string, amount money.Money, merchantID string) (grant.Result, error)
	Acquire(ctx context.Context, id string) (*grant.Guard, error)
	SettleUsage(ctx context.Context, id, intentID string, amount money.Money, succeeded bool) error
}

// Deps are the collaborators of a Service.
type Deps struct {
	Store     Store
	Grants    Grants
	Selector  RouteSelector
	Profiles  risk.ProfileProvider
	Executor  Executor
	Locker    lock.Locker
	Clock     clock.Clock
	Publisher events.Publisher
	Metrics   *telemetry.Metrics
	Logger    *slog.Logger
}

// Service sequences intent transitions. Every mutation of one intent runs
// under that intent's lock; grant locks are only taken while holding it.
type Service struct {
	cfg       Config
	store     Store
	grants    Grants
	selector  RouteSelector
	profiles  risk.ProfileProvider
	executor  Executor
	locker    lock.Locker
	clock     clock.Clock
	publisher events.Publisher
	metrics   *telemetry.Metrics
	logger    *slog.Logger
}

// NewService creates an orchestrator. Nil Profiles and Publisher default
// to neutral implementations.
func NewService(cfg Config, d Deps) *Service {
	if d.Profiles == nil {
		d.Profiles = risk.NeutralProfiles{}
	}
	if d.Publisher == nil {
		d.Publisher = events.NopPublisher{}
	}
	if cfg.DefaultTTL <= 0 {
		cfg.DefaultTTL = time.Hour
	}
	return &Service{
		cfg:       cfg,
		store:     d.Store,
		grants:    d.Grants,
		selector:  d.Selector,
		profiles:  d.Profiles,
		executor:  d.Executor,
		locker:    d.Locker,
		clock:     d.Clock,
		publisher: d.Publisher,
		metrics:   d.Metrics,
		logger:    d.Logger,
	}
}

// CreateRequest holds the data for creating an intent. A zero TTL uses the
// configured default.
type CreateRequest struct {
	Draft
	TTL time.Duration
}

// Create declares a new intent.
func (s *Service) Create(ctx context.Context, req CreateRequest) (in *Intent, err error) {
	ctx, span := telemetry.StartSpan(ctx, "intent.Create", attribute.String("owner.id", req.OwnerID))
	defer func() { telemetry.EndSpan(span, err) }()

	ttl := req.TTL
	if ttl == 0 {
		ttl = s.cfg.DefaultTTL
	}

	in, err = NewIntent("pi_"+ulid.Make().String(), req.Draft, ttl, s.clock.Now())
	if err != nil {
		return nil, err
	}
	if err := s.store.Create(ctx, in); err != nil {
		return nil, fmt.Errorf("storing intent: %w", err)
	}

	s.logger.Info("intent created",
		"intent_id", in.ID,
		"owner_id", in.OwnerID,
		"amount", in.Amount.String(),
		"expires_at", in.ExpiresAt,
	)
	s.metrics.IntentTransitions.WithLabelValues("", string(StatusCreated)).Inc()
	s.publish(ctx, events.EventIntentCreated, in)

	return in, nil
}

// Get returns an owner's intent, expiring it first if its deadline passed.
func (s *Service) Get(ctx context.Context, id, ownerID string) (*Intent, error) {
	in, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if in.OwnerID != ownerID {
		return nil, ErrNotFound
	}
	if !in.IsExpiredAt(s.clock.Now()) {
		return in, nil
	}

	return s.withLock(ctx, id, func(ctx context.Context) (*Intent, error) {
		in, err := s.store.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		if _, err := s.expireIfDue(ctx, in); err != nil {
			return nil, err
		}
		return in, nil
	})
}

// ListRequest filters List. An empty Status matches all.
type ListRequest struct {
	OwnerID string
	Status  Status
	Limit   int
	Offset  int
}

// List returns an owner's intents, newest first. Stale created intents are
// expired on the way out.
func (s *Service) List(ctx context.Context, req ListRequest) ([]*Intent, error) {
	list, err := s.store.List(ctx, req.OwnerID, req.Status, req.Limit, req.Offset)
	if err != nil {
		return nil, fmt.Errorf("listing intents: %w", err)
	}

	now := s.clock.Now()
	out := list[:0]
	for _, in := range list {
		if in.IsExpiredAt(now) {
			if in, err = s.Get(ctx, in.ID, req.OwnerID); err != nil {
				return nil, err
			}
		}
		if req.Status == "" || in.Status == req.Status {
			out = append(out, in)
		}
	}
	return out, nil
}

// AuthorizeRequest approves an intent. GrantID is required when, and only
// when, By is AuthorizedByGrant.
type AuthorizeRequest struct {
	IntentID string
	OwnerID  string
	By       AuthorizedBy
	GrantID  string
}

// Authorize moves a created intent to authorized. An intent past its
// deadline is expired and ErrExpired returned. A grant that does not
// permit the payment leaves the intent untouched.
func (s *Service) Authorize(ctx context.Context, req AuthorizeRequest) (in *Intent, err error) {
	ctx, span := telemetry.StartSpan(ctx, "intent.Authorize",
		attribute.String("intent.id", req.IntentID),
		attribute.String("authorized_by", string(req.By)),
	)
	defer func() { telemetry.EndSpan(span, err) }()

	if !req.By.Valid() {
		return nil, validationf("unknown actor %q", req.By)
	}
	if (req.By == AuthorizedByGrant) != (req.GrantID != "") {
		return nil, validationf("grant_id must be set exactly when authorized_by is grant")
	}

	return s.withLock(ctx, req.IntentID, func(ctx context.Context) (*Intent, error) {
		in, err := s.load(ctx, req.IntentID, req.OwnerID)
		if err != nil {
			return nil, err
		}
		expired, err := s.expireIfDue(ctx, in)
		if err != nil {
			return nil, err
		}
		if expired {
			return nil, fmt.Errorf("intent %s: %w", in.ID, ErrExpired)
		}
		if in.Status != StatusCreated {
			return nil, &StateError{ID: in.ID, From: in.Status, To: StatusAuthorized}
		}

		if req.By == AuthorizedByGrant {
			res, err := s.grants.Validate(ctx, req.GrantID, in.OwnerID, in.Amount, in.MerchantID)
			if err != nil {
				return nil, err
			}
			if err := res.Err(); err != nil {
				s.logger.Info("authorization denied by grant",
					"intent_id", in.ID,
					"grant_id", req.GrantID,
					"reason", string(res.Reason),
				)
				return nil, err
			}
		}

		if err := s.advance(ctx, in, events.EventIntentAuthorized, func(now time.Time) error {
			return in.MarkAuthorized(req.By, req.GrantID, now)
		}); err != nil {
			return nil, err
		}
		return in, nil
	})
}

// Execute selects a route for an authorized intent and runs the executor.
//
// Success completes the intent and debits its grant. A failure fails the
// intent and returns an *ExecutionError. If the executor does not answer
// within the configured timeout the intent stays executing, the grant is
// debited as if the payment went through, and ErrTimeout is returned;
// Reconcile settles it later.
func (s *Service) Execute(ctx context.Context, id, ownerID string) (in *Intent, err error) {
	ctx, span := telemetry.StartSpan(ctx, "intent.Execute", attribute.String("intent.id", id))
	defer func() { telemetry.EndSpan(span, err) }()

	return s.withLock(ctx, id, func(ctx context.Context) (*Intent, error) {
		in, err := s.load(ctx, id, ownerID)
		if err != nil {
			return nil, err
		}
		if in.Status != StatusAuthorized {
			return nil, &StateError{ID: in.ID, From: in.Status, To: StatusExecuting}
		}

		// Held across the executor call so concurrent intents on one grant
		// cannot jointly exceed it.
		var guard *grant.Guard
		if grantID := in.GrantID(); grantID != "" {
			if guard, err = s.grants.Acquire(ctx, grantID); err != nil {
				return nil, err
			}
			defer guard.Release()
			if err := guard.Validate(in.OwnerID, in.Amount, in.MerchantID); err != nil {
				return nil, err
			}
		}

		profile, err := s.profiles.Profile(ctx, in.OwnerID)
		if err != nil {
			return nil, fmt.Errorf("loading risk profile: %w", err)
		}
		decision, err := s.selector.SelectBestRoute(ctx, selector.Request{
			Amount:        in.Amount,
			SourceChain:   in.SourceChainHint,
			TargetChain:   in.TargetChainHint,
			PaymentMethod: in.PaymentMethodHint,
			OwnerID:       in.OwnerID,
			AgentID:       in.AgentID,
			Profile:       profile,
		})
		if err != nil {
			return nil, fmt.Errorf("selecting route: %w", err)
		}

		if err := s.advance(ctx, in, events.EventIntentExecuting, func(now time.Time) error {
			return in.MarkExecuting(decision, now)
		}); err != nil {
			return nil, err
		}

		route := decision.Selected.Route
		s.logger.Info("executing intent",
			"intent_id", in.ID,
			"route_id", route.RouteID,
			"score", decision.Selected.Score,
			"fallback", decision.Fallback,
		)

		res, execErr := s.runExecutor(ctx, in)

		// The payment may have happened; never lose its outcome to a
		// cancelled caller.
		ctx = context.WithoutCancel(ctx)

		switch {
		case execErr == nil:
			if guard != nil {
				if err := guard.Record(ctx, in.Amount, in.ID); err != nil {
					s.logger.Error("grant usage not recorded; intent left executing",
						"intent_id", in.ID,
						"grant_id", in.GrantID(),
						"error", err,
					)
					return nil, err
				}
			}
			if err := s.advance(ctx, in, events.EventIntentCompleted, func(now time.Time) error {
				return in.MarkCompleted(res, now)
			}); err != nil {
				return nil, err
			}
			return in, nil

		case errors.Is(execErr, ErrTimeout):
			if guard != nil {
				if err := guard.Record(ctx, in.Amount, in.ID); err != nil {
					return nil, err
				}
			}
			s.logger.Warn("execution outcome unknown; intent left executing",
				"intent_id", in.ID,
				"route_id", route.RouteID,
				"timeout", s.cfg.ExecutorTimeout,
			)
			s.publish(ctx, events.EventIntentExecutionTimeout, in)
			return nil, fmt.Errorf("intent %s: %w", in.ID, execErr)

		default:
			if err := s.advance(ctx, in, events.EventIntentFailed, func(now time.Time) error {
				return in.MarkFailed(execErr.Error(), now)
			}); err != nil {
				return nil, err
			}
			s.logger.Warn("execution failed",
				"intent_id", in.ID,
				"route_id", route.RouteID,
				"error", execErr,
			)
			return in, &ExecutionError{IntentID: in.ID, Cause: execErr}
		}
	})
}

// runExecutor calls the executor under the configured timeout. A deadline
// or caller cancellation is reported as ErrTimeout.
func (s *Service) runExecutor(ctx context.Context, in *Intent) (ExecutionResult, error) {
	execCtx := ctx
	if s.cfg.ExecutorTimeout > 0 {
		var cancel context.CancelFunc
		execCtx, cancel = context.WithTimeout(ctx, s.cfg.ExecutorTimeout)
		defer cancel()
	}

	start := time.Now()
	res, err := s.executor.Execute(execCtx, in.RouteDecision.Selected.Route, in.Clone())

	outcome := "success"
	switch {
	case err == nil:
	case execCtx.Err() != nil || errors.Is(err, ErrTimeout):
		outcome = "timeout"
		err = fmt.Errorf("%w: %v", ErrTimeout, err)
	default:
		outcome = "failure"
	}
	s.metrics.ExecutorDuration.WithLabelValues(outcome).Observe(time.Since(start).Seconds())
	return res, err
}

// Cancel cancels a created or authorized intent. The owner or the
// intent's merchant may cancel.
func (s *Service) Cancel(ctx context.Context, id, callerID string) (in *Intent, err error) {
	ctx, span := telemetry.StartSpan(ctx, "intent.Cancel", attribute.String("intent.id", id))
	defer func() { telemetry.EndSpan(span, err) }()

	return s.withLock(ctx, id, func(ctx context.Context) (*Intent, error) {
		in, err := s.store.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		if callerID == "" || (in.OwnerID != callerID && in.MerchantID != callerID) {
			return nil, ErrNotFound
		}
		if _, err := s.expireIfDue(ctx, in); err != nil {
			return nil, err
		}
		if err := s.advance(ctx, in, events.EventIntentCancelled, in.MarkCancelled); err != nil {
			return nil, err
		}
		return in, nil
	})
}

// Outcome is the externally confirmed result of an execution that timed out.
type Outcome struct {
	Succeeded bool
	Result    ExecutionResult
	Error     string
}

// Reconcile settles an executing intent. On success the grant debit is
// ensured; on failure any debit taken at timeout is released.
func (s *Service) Reconcile(ctx context.Context, id string, o Outcome) (in *Intent, err error) {
	ctx, span := telemetry.StartSpan(ctx, "intent.Reconcile",
		attribute.String("intent.id", id),
		attribute.Bool("succeeded", o.Succeeded),
	)
	defer func() { telemetry.EndSpan(span, err) }()

	return s.withLock(ctx, id, func(ctx context.Context) (*Intent, error) {
		in, err := s.store.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		if in.Status != StatusExecuting {
			to := StatusFailed
			if o.Succeeded {
				to = StatusCompleted
			}
			return nil, &StateError{ID: in.ID, From: in.Status, To: to}
		}

		if grantID := in.GrantID(); grantID != "" {
			if err := s.grants.SettleUsage(ctx, grantID, in.ID, in.Amount, o.Succeeded); err != nil {
				return nil, err
			}
		}

		if o.Succeeded {
			err = s.advance(ctx, in, events.EventIntentCompleted, func(now time.Time) error {
				return in.MarkCompleted(o.Result, now)
			})
		} else {
			msg := o.Error
			if msg == "" {
				msg = "payment not executed"
			}
			err = s.advance(ctx, in, events.EventIntentFailed, func(now time.Time) error {
				return in.MarkFailed(msg, now)
			})
		}
		if err != nil {
			return nil, err
		}

		s.logger.Info("intent reconciled", "intent_id", in.ID, "status", string(in.Status))
		return in, nil
	})
}

// SweepExpired expires every created intent past its deadline and returns
// how many it moved. Running it concurrently with reads is safe.
func (s *Service) SweepExpired(ctx context.Context) (int, error) {
	batch := s.cfg.SweepBatch
	if batch <= 0 {
		batch = 500
	}

	swept := 0
	for {
		ids, err := s.store.ListExpirable(ctx, s.clock.Now(), batch)
		if err != nil {
			return swept, fmt.Errorf("listing expirable intents: %w", err)
		}

		moved := 0
		for _, id := range ids {
			_, err := s.withLock(ctx, id, func(ctx context.Context) (*Intent, error) {
				in, err := s.store.Get(ctx, id)
				if err != nil {
					return nil, err
				}
				expired, err := s.expireIfDue(ctx, in)
				if expired {
					moved++
				}
				return in, err
			})
			if err != nil {
				return swept + moved, err
			}
		}
		swept += moved

		if len(ids) < batch || moved == 0 {
			return swept, nil
		}
	}
}

func (s *Service) withLock(ctx context.Context, id string, fn func(ctx context.Context) (*Intent, error)) (*Intent, error) {
	unlock, err := s.locker.Lock(ctx, "intent:"+id)
	if err != nil {
		return nil, fmt.Errorf("locking intent: %w", err)
	}
	defer unlock()
	return fn(ctx)
}

// load fetches an intent owned by ownerID; must run under the intent lock.
func (s *Service) load(ctx context.Context, id, ownerID string) (*Intent, error) {
	in, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if in.OwnerID != ownerID {
		return nil, ErrNotFound
	}
	return in, nil
}

// expireIfDue expires in when it is a created intent past its deadline.
// Must run under the intent lock.
func (s *Service) expireIfDue(ctx context.Context, in *Intent) (bool, error) {
	if !in.IsExpiredAt(s.clock.Now()) {
		return false, nil
	}
	if err := s.advance(ctx, in, events.EventIntentExpired, in.MarkExpired); err != nil {
		return false, err
	}
	s.metrics.IntentsExpired.Inc()
	s.logger.Info("intent expired", "intent_id", in.ID, "expires_at", in.ExpiresAt)
	return true, nil
}

// advance applies one transition, persists it against the previous status
// and publishes eventType. The in-memory intent is restored if the store
// rejects the write.
func (s *Service) advance(ctx context.Context, in *Intent, eventType string, mark func(now time.Time) error) error {
	before := in.Clone()
	if err := mark(s.clock.Now()); err != nil {
		return err
	}
	if err := s.store.Update(ctx, in, before.Status); err != nil {
		*in = *before
		return fmt.Errorf("persisting intent %s: %w", in.ID, err)
	}

	s.metrics.IntentTransitions.WithLabelValues(string(before.Status), string(in.Status)).Inc()
	s.publish(ctx, eventType, in)
	return nil
}

func (s *Service) publish(ctx context.Context, eventType string, in *Intent) {
	event, err := events.NewEvent(eventType, in.OwnerID, events.AggregateIntent, in.ID, s.clock.Now(), in)
	if err != nil {
		s.logger.Error("building event", "error", err, "type", eventType)
		return
	}
	if err := s.publisher.Publish(ctx, event.Correlate(ctx)); err != nil {
		s.logger.Error("publishing event", "error", err, "type", eventType, "intent_id", in.ID)
	}
}
