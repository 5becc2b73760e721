package grant

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/oklog/ulid/v2"

	"paycore/internal/common/clock"
	"paycore/internal/common/events"
	"paycore/internal/common/lock"
	"paycore/internal/common/money"
	"paycore/internal/common/telemetry"
)

// Service administers grants and owns the validate-then-record critical
// section for each grant id.
type Service struct {
	store     Store
	locker    lock.Locker
	clock     clock.Clock
	publisher events.Publisher
	metrics   *telemetry.Metrics
	logger    *slog.Logger
}

// NewService creates a grant service.
func NewService(store Store, locker lock.Locker, clk clock.Clock, publisher events.Publisher, metrics *telemetry.Metrics, logger *slog.Logger) *Service {
	return &Service{
		store:     store,
		locker:    locker,
		clock:     clk,
		publisher: publisher,
		metrics:   metrics,
		logger:    logger,
	}
}

// CreateRequest holds the data for creating a grant.
type CreateRequest struct {
	OwnerID             string
	ScopeMerchantID     string
	PerTransactionLimit money.Money
	WindowLimit         money.Money
	WindowDuration      time.Duration
	ExpiresAt           time.Time
}

// Create issues a new grant.
func (s *Service) Create(ctx context.Context, req CreateRequest) (*Grant, error) {
	now := s.clock.Now()
	g, err := NewGrant("grt_"+ulid.Make().String(), req.OwnerID, req.ScopeMerchantID,
		req.PerTransactionLimit, req.WindowLimit, req.WindowDuration, req.ExpiresAt, now)
	if err != nil {
		return nil, err
	}

	if err := s.store.Create(ctx, g); err != nil {
		return nil, fmt.Errorf("storing grant: %w", err)
	}

	s.logger.Info("grant created",
		"grant_id", g.ID,
		"owner_id", g.OwnerID,
		"per_transaction_limit", g.PerTransactionLimit.String(),
		"window_limit", g.WindowLimit.String(),
		"window", g.WindowDuration.String(),
	)
	s.publish(ctx, events.EventGrantCreated, g, g)

	return g, nil
}

// Get returns a grant owned by ownerID. Foreign grants are reported as
// not found.
func (s *Service) Get(ctx context.Context, id, ownerID string) (*Grant, error) {
	g, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if g.OwnerID != ownerID {
		return nil, ErrNotFound
	}
	return g, nil
}

// ListByOwner returns all grants of an owner, newest first.
func (s *Service) ListByOwner(ctx context.Context, ownerID string) ([]*Grant, error) {
	return s.store.ListByOwner(ctx, ownerID)
}

// Revoke permanently disables a grant. Revoking twice is a no-op.
func (s *Service) Revoke(ctx context.Context, id, ownerID string) (*Grant, error) {
	unlock, err := s.locker.Lock(ctx, lockKey(id))
	if err != nil {
		return nil, fmt.Errorf("locking grant: %w", err)
	}
	defer unlock()

	g, err := s.Get(ctx, id, ownerID)
	if err != nil {
		return nil, err
	}
	if g.Revoked {
		return g, nil
	}

	now := s.clock.Now()
	if err := s.store.Revoke(ctx, id, now); err != nil {
		return nil, fmt.Errorf("revoking grant: %w", err)
	}
	g.Revoked = true
	g.RevokedAt = &now

	s.logger.Info("grant revoked", "grant_id", id, "owner_id", ownerID)
	s.publish(ctx, events.EventGrantRevoked, g, g)

	return g, nil
}

// Validate checks whether the grant would permit amount for merchantID
// right now. It records nothing.
func (s *Service) Validate(ctx context.Context, id, ownerID string, amount money.Money, merchantID string) (Result, error) {
	g, err := s.Get(ctx, id, ownerID)
	if err != nil {
		return Result{}, err
	}
	res := Validate(g, amount, merchantID, s.clock.Now())
	s.observe(g.ID, res)
	return res, nil
}

// Guard is an exclusive hold on one grant. Validation and usage recording
// done through a Guard cannot interleave with any other holder.
type Guard struct {
	svc    *Service
	grant  *Grant
	unlock func()
}

// Acquire locks the grant and loads its current state. The caller must
// call Release.
func (s *Service) Acquire(ctx context.Context, id string) (*Guard, error) {
	unlock, err := s.locker.Lock(ctx, lockKey(id))
	if err != nil {
		return nil, fmt.Errorf("locking grant: %w", err)
	}

	g, err := s.store.Get(ctx, id)
	if err != nil {
		unlock()
		return nil, err
	}
	return &Guard{svc: s, grant: g, unlock: unlock}, nil
}

// Validate checks the held grant for ownerID. A foreign grant is
// ErrNotFound; a failed check is an *InvalidError.
func (g *Guard) Validate(ownerID string, amount money.Money, merchantID string) error {
	if g.grant.OwnerID != ownerID {
		return ErrNotFound
	}
	res := Validate(g.grant, amount, merchantID, g.svc.clock.Now())
	g.svc.observe(g.grant.ID, res)
	return res.Err()
}

// Record appends a debit for a payment that happened, or may have.
func (g *Guard) Record(ctx context.Context, amount money.Money, intentID string) error {
	entry := UsageEntry{
		Amount:   amount,
		Kind:     UsageDebit,
		IntentID: intentID,
		UsedAt:   g.svc.clock.Now(),
	}
	if err := g.svc.store.AppendUsage(ctx, g.grant.ID, entry); err != nil {
		return fmt.Errorf("recording grant usage: %w", err)
	}
	g.grant.Usage = append(g.grant.Usage, entry)

	g.svc.logger.Info("grant usage recorded",
		"grant_id", g.grant.ID,
		"intent_id", intentID,
		"amount", amount.String(),
	)
	g.svc.publish(ctx, events.EventGrantUsed, g.grant, entry)
	return nil
}

// Release unlocks the grant. Safe to call more than once.
func (g *Guard) Release() {
	g.unlock()
}

// SettleUsage brings the ledger in line with a confirmed outcome for
// intentID: a payment that happened keeps exactly one live debit, one that
// did not keeps none. Settling twice is a no-op.
func (s *Service) SettleUsage(ctx context.Context, id, intentID string, amount money.Money, succeeded bool) error {
	guard, err := s.Acquire(ctx, id)
	if err != nil {
		return err
	}
	defer guard.Release()

	_, debited, released := guard.grant.DebitFor(intentID)
	switch {
	case succeeded && (!debited || released):
		return guard.Record(ctx, amount, intentID)
	case !succeeded && debited:
		return guard.ReleaseDebit(ctx, intentID)
	}
	return nil
}

// ReleaseDebit appends a release for the debit recorded for intentID. The
// release reuses the debit's timestamp so the pair ages out of the window
// together. Releasing twice is a no-op.
func (g *Guard) ReleaseDebit(ctx context.Context, intentID string) error {
	debit, found, released := g.grant.DebitFor(intentID)
	if released {
		return nil
	}
	if !found {
		return fmt.Errorf("no usage recorded for intent %s", intentID)
	}

	entry := UsageEntry{
		Amount:   debit.Amount,
		Kind:     UsageRelease,
		IntentID: intentID,
		UsedAt:   debit.UsedAt,
	}
	if err := g.svc.store.AppendUsage(ctx, g.grant.ID, entry); err != nil {
		return fmt.Errorf("releasing grant usage: %w", err)
	}
	g.grant.Usage = append(g.grant.Usage, entry)

	g.svc.logger.Info("grant usage released",
		"grant_id", g.grant.ID,
		"intent_id", intentID,
		"amount", debit.Amount.String(),
	)
	return nil
}

func (s *Service) observe(grantID string, res Result) {
	if res.Valid {
		s.metrics.GrantDecisions.WithLabelValues("allowed", "").Inc()
		return
	}
	s.metrics.GrantDecisions.WithLabelValues("denied", string(res.Reason)).Inc()
	s.logger.Info("grant denied", "grant_id", grantID, "reason", string(res.Reason))
}

func (s *Service) publish(ctx context.Context, eventType string, g *Grant, data interface{}) {
	event, err := events.NewEvent(eventType, g.OwnerID, events.AggregateGrant, g.ID, s.clock.Now(), data)
	if err != nil {
		s.logger.Error("building event", "error", err, "type", eventType)
		return
	}
	if err := s.publisher.Publish(ctx, event.Correlate(ctx)); err != nil {
		s.logger.Error("publishing event", "error", err, "type", eventType, "grant_id", g.ID)
	}
}

func lockKey(id string) string { return "grant:" + id }
