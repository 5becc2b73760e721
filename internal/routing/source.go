package routing

import (
	"context"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"paycore/internal/common/database"
)

// Source loads a full catalog snapshot from somewhere durable.
type Source interface {
	Load(ctx context.Context) ([]CandidateRoute, error)
}

// FileSource reads routes from a YAML document:
//
//	routes:
//	  - route_id: usdc-eth
//	    payment_method: wallet
//	    ...
type FileSource struct {
	Path string
}

type routeFile struct {
	Routes []CandidateRoute `yaml:"routes"`
}

// Load implements Source.
func (s FileSource) Load(_ context.Context) ([]CandidateRoute, error) {
	data, err := os.ReadFile(s.Path)
	if err != nil {
		return nil, fmt.Errorf("reading route file: %w", err)
	}
	return ParseRoutesYAML(data)
}

// ParseRoutesYAML decodes a route document. Routes without an explicit
// active flag are treated as active.
func ParseRoutesYAML(data []byte) ([]CandidateRoute, error) {
	var raw struct {
		Routes []yaml.Node `yaml:"routes"`
	}
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parsing route file: %w", err)
	}

	routes := make([]CandidateRoute, 0, len(raw.Routes))
	for i := range raw.Routes {
		r := CandidateRoute{Active: true}
		if err := raw.Routes[i].Decode(&r); err != nil {
			return nil, fmt.Errorf("route %d: %w", i, err)
		}
		routes = append(routes, r)
	}
	return routes, nil
}

// PostgresSource reads the payment_routes table.
type PostgresSource struct {
	db database.Querier
}

// NewPostgresSource creates a source over q.
func NewPostgresSource(q database.Querier) *PostgresSource {
	return &PostgresSource{db: q}
}

// Load implements Source.
func (s *PostgresSource) Load(ctx context.Context) ([]CandidateRoute, error) {
	query := `
		SELECT route_id, payment_method, source_chain, target_chain,
			   base_fee_minor, percentage_fee_bps, min_fee_minor, max_fee_minor, min_fee_major,
			   success_rate, avg_execution_ms, risk_level, active
		FROM payment_routes
		ORDER BY route_id
	`

	rows, err := s.db.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("querying routes: %w", err)
	}
	defer rows.Close()

	var routes []CandidateRoute
	for rows.Next() {
		var r CandidateRoute
		if err := rows.Scan(
			&r.RouteID, &r.PaymentMethod, &r.SourceChain, &r.TargetChain,
			&r.Fees.BaseFeeMinor, &r.Fees.PercentageBps, &r.Fees.MinFeeMinor, &r.Fees.MaxFeeMinor, &r.Fees.MinFeeMajor,
			&r.SuccessRate, &r.AvgExecutionMs, &r.RiskLevel, &r.Active,
		); err != nil {
			return nil, fmt.Errorf("scanning route: %w", err)
		}
		routes = append(routes, r)
	}
	return routes, rows.Err()
}

// Upsert writes routes into the table, used by the catalog import command.
func (s *PostgresSource) Upsert(ctx context.Context, routes []CandidateRoute) error {
	query := `
		INSERT INTO payment_routes (
			route_id, payment_method, source_chain, target_chain,
			base_fee_minor, percentage_fee_bps, min_fee_minor, max_fee_minor, min_fee_major,
			success_rate, avg_execution_ms, risk_level, active, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, now())
		ON CONFLICT (route_id) DO UPDATE SET
			payment_method = EXCLUDED.payment_method,
			source_chain = EXCLUDED.source_chain,
			target_chain = EXCLUDED.target_chain,
			base_fee_minor = EXCLUDED.base_fee_minor,
			percentage_fee_bps = EXCLUDED.percentage_fee_bps,
			min_fee_minor = EXCLUDED.min_fee_minor,
			max_fee_minor = EXCLUDED.max_fee_minor,
			min_fee_major = EXCLUDED.min_fee_major,
			success_rate = EXCLUDED.success_rate,
			avg_execution_ms = EXCLUDED.avg_execution_ms,
			risk_level = EXCLUDED.risk_level,
			active = EXCLUDED.active,
			updated_at = now()
	`

	for _, r := range routes {
		if err := r.Validate(); err != nil {
			return err
		}
		if _, err := s.db.Exec(ctx, query,
			r.RouteID, r.PaymentMethod, r.SourceChain, r.TargetChain,
			r.Fees.BaseFeeMinor, r.Fees.PercentageBps, r.Fees.MinFeeMinor, r.Fees.MaxFeeMinor, r.Fees.MinFeeMajor,
			r.SuccessRate, r.AvgExecutionMs, string(r.RiskLevel), r.Active,
		); err != nil {
			return fmt.Errorf("upserting route %s: %w", r.RouteID, err)
		}
	}
	return nil
}
