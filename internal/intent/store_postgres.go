package intent

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"paycore/internal/common/database"
	"paycore/internal/common/money"
	"paycore/internal/routing/selector"
)

// PostgresStore implements Store on the payment_intents table.
type PostgresStore struct {
	db database.Querier
}

// NewPostgresStore creates a new PostgreSQL store.
func NewPostgresStore(db database.Querier) *PostgresStore {
	return &PostgresStore{db: db}
}

// Create implements Store.
func (s *PostgresStore) Create(ctx context.Context, in *Intent) error {
	auth, decision, err := encodeAudit(in)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO payment_intents (
			id, owner_id, intent_type, status, amount_minor, currency,
			description, order_id, merchant_id, agent_id,
			payment_method_hint, source_chain_hint, target_chain_hint,
			authorization_data, route_decision,
			result_payment_id, result_tx_hash, error_message,
			expires_at, created_at, updated_at, completed_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20, $21, $22)
	`

	_, err = s.db.Exec(ctx, query,
		in.ID, in.OwnerID, string(in.Type), string(in.Status), in.Amount.AmountMinor, string(in.Amount.Currency),
		in.Description, nullStr(in.OrderID), nullStr(in.MerchantID), nullStr(in.AgentID),
		nullStr(in.PaymentMethodHint), nullStr(in.SourceChainHint), nullStr(in.TargetChainHint),
		auth, decision,
		nullStr(in.ResultPaymentID), nullStr(in.ResultTxHash), nullStr(in.ErrorMessage),
		in.ExpiresAt, in.CreatedAt, in.UpdatedAt, in.CompletedAt,
	)
	if err != nil {
		if database.IsUniqueViolation(err) {
			return fmt.Errorf("intent %s: %w", in.ID, ErrConflict)
		}
		return fmt.Errorf("creating intent: %w", err)
	}
	return nil
}

const selectIntent = `
	SELECT id, owner_id, intent_type, status, amount_minor, currency,
		   description, order_id, merchant_id, agent_id,
		   payment_method_hint, source_chain_hint, target_chain_hint,
		   authorization_data, route_decision,
		   result_payment_id, result_tx_hash, error_message,
		   expires_at, created_at, updated_at, completed_at
	FROM payment_intents
`

// Get implements Store.
func (s *PostgresStore) Get(ctx context.Context, id string) (*Intent, error) {
	return scanIntent(s.db.QueryRow(ctx, selectIntent+` WHERE id = $1`, id))
}

// Update implements Store. The status predicate turns a concurrent writer
// into ErrConflict instead of a lost update.
func (s *PostgresStore) Update(ctx context.Context, in *Intent, prev Status) error {
	auth, decision, err := encodeAudit(in)
	if err != nil {
		return err
	}

	query := `
		UPDATE payment_intents SET
			status = $3,
			authorization_data = $4,
			route_decision = $5,
			result_payment_id = $6,
			result_tx_hash = $7,
			error_message = $8,
			updated_at = $9,
			completed_at = $10
		WHERE id = $1 AND status = $2
	`

	tag, err := s.db.Exec(ctx, query,
		in.ID, string(prev), string(in.Status),
		auth, decision,
		nullStr(in.ResultPaymentID), nullStr(in.ResultTxHash), nullStr(in.ErrorMessage),
		in.UpdatedAt, in.CompletedAt,
	)
	if err != nil {
		return fmt.Errorf("updating intent: %w", err)
	}
	if tag.RowsAffected() == 0 {
		if _, err := s.Get(ctx, in.ID); err != nil {
			return err
		}
		return ErrConflict
	}
	return nil
}

// List implements Store using the (owner_id, status) index.
func (s *PostgresStore) List(ctx context.Context, ownerID string, status Status, limit, offset int) ([]*Intent, error) {
	query := selectIntent + ` WHERE owner_id = $1 AND ($2 = '' OR status = $2)
		ORDER BY created_at DESC, id DESC`
	args := []interface{}{ownerID, string(status)}
	if limit > 0 {
		query += ` LIMIT $3 OFFSET $4`
		args = append(args, limit, offset)
	}

	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing intents: %w", err)
	}
	defer rows.Close()

	var out []*Intent
	for rows.Next() {
		in, err := scanIntent(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, in)
	}
	return out, rows.Err()
}

// ListExpirable implements Store using the partial expires_at index.
func (s *PostgresStore) ListExpirable(ctx context.Context, now time.Time, limit int) ([]string, error) {
	rows, err := s.db.Query(ctx, `
		SELECT id FROM payment_intents
		WHERE status = 'created' AND expires_at <= $1
		ORDER BY expires_at, id
		LIMIT $2
	`, now, limit)
	if err != nil {
		return nil, fmt.Errorf("listing expirable intents: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func encodeAudit(in *Intent) (auth, decision []byte, err error) {
	if in.Authorization != nil {
		if auth, err = json.Marshal(in.Authorization); err != nil {
			return nil, nil, fmt.Errorf("encoding authorization: %w", err)
		}
	}
	if in.RouteDecision != nil {
		if decision, err = json.Marshal(in.RouteDecision); err != nil {
			return nil, nil, fmt.Errorf("encoding route decision: %w", err)
		}
	}
	return auth, decision, nil
}

func scanIntent(row pgx.Row) (*Intent, error) {
	var (
		in                              Intent
		intentType, status, currency    string
		amount                          int64
		orderID, merchantID, agentID    *string
		methodHint, sourceHint, tgtHint *string
		auth, decision                  []byte
		paymentID, txHash, errorMessage *string
	)

	err := row.Scan(
		&in.ID, &in.OwnerID, &intentType, &status, &amount, &currency,
		&in.Description, &orderID, &merchantID, &agentID,
		&methodHint, &sourceHint, &tgtHint,
		&auth, &decision,
		&paymentID, &txHash, &errorMessage,
		&in.ExpiresAt, &in.CreatedAt, &in.UpdatedAt, &in.CompletedAt,
	)
	if err != nil {
		if database.IsNotFound(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("scanning intent: %w", err)
	}

	in.Type = Type(intentType)
	in.Status = Status(status)
	in.Amount = money.New(amount, money.Currency(currency))
	in.OrderID = deref(orderID)
	in.MerchantID = deref(merchantID)
	in.AgentID = deref(agentID)
	in.PaymentMethodHint = deref(methodHint)
	in.SourceChainHint = deref(sourceHint)
	in.TargetChainHint = deref(tgtHint)
	in.ResultPaymentID = deref(paymentID)
	in.ResultTxHash = deref(txHash)
	in.ErrorMessage = deref(errorMessage)

	if len(auth) > 0 {
		in.Authorization = &Authorization{}
		if err := json.Unmarshal(auth, in.Authorization); err != nil {
			return nil, fmt.Errorf("decoding authorization: %w", err)
		}
	}
	if len(decision) > 0 {
		in.RouteDecision = &selector.Decision{}
		if err := json.Unmarshal(decision, in.RouteDecision); err != nil {
			return nil, fmt.Errorf("decoding route decision: %w", err)
		}
	}
	return &in, nil
}

func nullStr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
