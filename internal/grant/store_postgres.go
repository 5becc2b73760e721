package grant

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"paycore/internal/common/database"
	"paycore/internal/common/money"
)

// ErrAlreadyExists is returned when creating a grant whose id is taken.
var ErrAlreadyExists = errors.New("grant already exists")

// PostgresStore implements Store on authorization_grants and grant_usage.
type PostgresStore struct {
	db *database.DB
}

// NewPostgresStore creates a new PostgreSQL store.
func NewPostgresStore(db *database.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Create implements Store.
func (s *PostgresStore) Create(ctx context.Context, g *Grant) error {
	query := `
		INSERT INTO authorization_grants (
			id, owner_id, scope_merchant_id, currency,
			per_transaction_limit, window_limit, window_seconds,
			expires_at, revoked, revoked_at, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`

	_, err := s.db.Exec(ctx, query,
		g.ID, g.OwnerID, nullStr(g.ScopeMerchantID), string(g.Currency),
		g.PerTransactionLimit.AmountMinor, g.WindowLimit.AmountMinor, int64(g.WindowDuration/time.Second),
		g.ExpiresAt, g.Revoked, g.RevokedAt, g.CreatedAt,
	)
	if err != nil {
		if database.IsUniqueViolation(err) {
			return fmt.Errorf("grant %s: %w", g.ID, ErrAlreadyExists)
		}
		return fmt.Errorf("creating grant: %w", err)
	}
	return nil
}

const selectGrant = `
	SELECT id, owner_id, scope_merchant_id, currency,
		   per_transaction_limit, window_limit, window_seconds,
		   expires_at, revoked, revoked_at, created_at
	FROM authorization_grants
`

// Get implements Store. The usage ledger is loaded alongside the grant.
func (s *PostgresStore) Get(ctx context.Context, id string) (*Grant, error) {
	g, err := scanGrant(s.db.QueryRow(ctx, selectGrant+` WHERE id = $1`, id))
	if err != nil {
		return nil, err
	}
	if g.Usage, err = s.loadUsage(ctx, s.db, g); err != nil {
		return nil, err
	}
	return g, nil
}

// ListByOwner implements Store, newest first.
func (s *PostgresStore) ListByOwner(ctx context.Context, ownerID string) ([]*Grant, error) {
	rows, err := s.db.Query(ctx, selectGrant+` WHERE owner_id = $1 ORDER BY created_at DESC, id DESC`, ownerID)
	if err != nil {
		return nil, fmt.Errorf("listing grants: %w", err)
	}
	defer rows.Close()

	var grants []*Grant
	for rows.Next() {
		g, err := scanGrant(rows)
		if err != nil {
			return nil, err
		}
		grants = append(grants, g)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for _, g := range grants {
		if g.Usage, err = s.loadUsage(ctx, s.db, g); err != nil {
			return nil, err
		}
	}
	return grants, nil
}

// Revoke implements Store.
func (s *PostgresStore) Revoke(ctx context.Context, id string, at time.Time) error {
	tag, err := s.db.Exec(ctx, `
		UPDATE authorization_grants
		SET revoked = TRUE, revoked_at = COALESCE(revoked_at, $2)
		WHERE id = $1
	`, id, at)
	if err != nil {
		return fmt.Errorf("revoking grant: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// AppendUsage locks the grant row so concurrent appends for one grant
// commit in order. Validation is not repeated here: the check-execute-record
// sequence is serialized by the grant lock held in Service.Acquire.
func (s *PostgresStore) AppendUsage(ctx context.Context, grantID string, entry UsageEntry) error {
	return s.db.WithTx(ctx, func(tx pgx.Tx) error {
		var id string
		err := tx.QueryRow(ctx, `SELECT id FROM authorization_grants WHERE id = $1 FOR UPDATE`, grantID).Scan(&id)
		if err != nil {
			if database.IsNotFound(err) {
				return ErrNotFound
			}
			return fmt.Errorf("locking grant: %w", err)
		}

		_, err = tx.Exec(ctx, `
			INSERT INTO grant_usage (grant_id, intent_id, kind, amount_minor, used_at)
			VALUES ($1, $2, $3, $4, $5)
		`, grantID, nullStr(entry.IntentID), string(entry.Kind), entry.Amount.AmountMinor, entry.UsedAt)
		if err != nil {
			return fmt.Errorf("recording usage: %w", err)
		}
		return nil
	})
}

func (s *PostgresStore) loadUsage(ctx context.Context, q database.Querier, g *Grant) ([]UsageEntry, error) {
	rows, err := q.Query(ctx, `
		SELECT COALESCE(intent_id, ''), kind, amount_minor, used_at
		FROM grant_usage
		WHERE grant_id = $1
		ORDER BY id
	`, g.ID)
	if err != nil {
		return nil, fmt.Errorf("loading usage: %w", err)
	}
	defer rows.Close()

	var usage []UsageEntry
	for rows.Next() {
		var (
			e      UsageEntry
			kind   string
			amount int64
		)
		if err := rows.Scan(&e.IntentID, &kind, &amount, &e.UsedAt); err != nil {
			return nil, fmt.Errorf("scanning usage: %w", err)
		}
		e.Kind = UsageKind(kind)
		e.Amount = money.New(amount, g.Currency)
		usage = append(usage, e)
	}
	return usage, rows.Err()
}

func scanGrant(row pgx.Row) (*Grant, error) {
	var (
		g             Grant
		scope         *string
		currency      string
		perTx, window int64
		windowSeconds int64
	)
	err := row.Scan(
		&g.ID, &g.OwnerID, &scope, &currency,
		&perTx, &window, &windowSeconds,
		&g.ExpiresAt, &g.Revoked, &g.RevokedAt, &g.CreatedAt,
	)
	if err != nil {
		if database.IsNotFound(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("scanning grant: %w", err)
	}
	if scope != nil {
		g.ScopeMerchantID = *scope
	}
	g.Currency = money.Currency(currency)
	g.PerTransactionLimit = money.New(perTx, g.Currency)
	g.WindowLimit = money.New(window, g.Currency)
	g.WindowDuration = time.Duration(windowSeconds) * time.Second
	return &g, nil
}

func nullStr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
