// Package selector picks the best execution route for a payment by weighted
// scoring over success rate, fee, risk and latency.
package selector

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strconv"

	"paycore/internal/common/money"
	"paycore/internal/common/telemetry"
	"paycore/internal/fees"
	"paycore/internal/risk"
	"paycore/internal/routing"
)

// Weights for the four scoring terms. They need not sum to one.
type Weights struct {
	Success float64 `envconfig:"SCORING_WEIGHT_SUCCESS" default:"0.4"`
	Fee     float64 `envconfig:"SCORING_WEIGHT_FEE" default:"0.3"`
	Risk    float64 `envconfig:"SCORING_WEIGHT_RISK" default:"0.2"`
	Time    float64 `envconfig:"SCORING_WEIGHT_TIME" default:"0.1"`
}

// Config tunes normalization. A fee of FeeCeilingBps of the amount (or
// more) scores 100 on the fee axis; likewise MaxExecutionMs for latency.
type Config struct {
	Weights        Weights
	FeeCeilingBps  float64 `envconfig:"SCORING_FEE_CEILING_BPS" default:"500"`
	MaxExecutionMs float64 `envconfig:"SCORING_MAX_EXECUTION_MS" default:"10000"`
}

// DefaultConfig mirrors the envconfig defaults.
func DefaultConfig() Config {
	return Config{
		Weights:        Weights{Success: 0.4, Fee: 0.3, Risk: 0.2, Time: 0.1},
		FeeCeilingBps:  500,
		MaxExecutionMs: 10000,
	}
}

// FeeEstimator prices a route.
type FeeEstimator interface {
	Estimate(route routing.CandidateRoute, amount money.Money) fees.Estimate
}

// RiskScorer assesses a transaction.
type RiskScorer interface {
	Score(tx risk.TxContext) risk.Assessment
}

// Request describes the payment being routed.
type Request struct {
	Amount        money.Money
	SourceChain   string
	TargetChain   string
	PaymentMethod string
	OwnerID       string
	AgentID       string
	Profile       risk.Profile
}

// ScoredRoute is a candidate with everything that went into its score.
type ScoredRoute struct {
	Route          routing.CandidateRoute `json:"route"`
	Fee            fees.Estimate          `json:"fee"`
	Risk           risk.Assessment        `json:"risk"`
	NormalizedFee  float64                `json:"normalized_fee"`
	NormalizedTime float64                `json:"normalized_time"`
	Score          float64                `json:"score"`
}

// Decision is the selector output, kept on the intent for audit.
type Decision struct {
	Selected   ScoredRoute   `json:"selected"`
	Candidates []ScoredRoute `json:"candidates"`
	Fallback   bool          `json:"fallback"`
}

// Selector is stateless apart from its collaborators and safe for concurrent use.
type Selector struct {
	catalog routing.Catalog
	fees    FeeEstimator
	risk    RiskScorer
	cfg     Config
	metrics *telemetry.Metrics
}

// New creates a selector. metrics may be nil.
func New(catalog routing.Catalog, fees FeeEstimator, scorer RiskScorer, cfg Config, metrics *telemetry.Metrics) *Selector {
	return &Selector{
		catalog: catalog,
		fees:    fees,
		risk:    scorer,
		cfg:     cfg,
		metrics: metrics,
	}
}

// SelectBestRoute scores every matching active route and returns the best.
// An empty candidate set yields the synthesized fallback route; only a
// catalog read failure is an error.
func (s *Selector) SelectBestRoute(ctx context.Context, req Request) (Decision, error) {
	routes, err := s.catalog.Routes(ctx, routing.Query{
		PaymentMethod: req.PaymentMethod,
		SourceChain:   req.SourceChain,
		TargetChain:   req.TargetChain,
		Limit:         routing.DefaultQueryLimit,
	})
	if err != nil {
		return Decision{}, fmt.Errorf("querying route catalog: %w", err)
	}

	fallback := len(routes) == 0
	if fallback {
		routes = []routing.CandidateRoute{routing.FallbackRoute(req.SourceChain, req.TargetChain)}
	}

	scored := make([]ScoredRoute, 0, len(routes))
	for _, r := range routes {
		scored = append(scored, s.score(r, req))
	}

	sort.SliceStable(scored, func(i, j int) bool {
		return better(scored[i], scored[j])
	})

	d := Decision{
		Selected:   scored[0],
		Candidates: scored,
		Fallback:   fallback,
	}

	if s.metrics != nil {
		s.metrics.RouteSelections.WithLabelValues(d.Selected.Route.RouteID, strconv.FormatBool(fallback)).Inc()
	}
	return d, nil
}

func (s *Selector) score(r routing.CandidateRoute, req Request) ScoredRoute {
	est := s.fees.Estimate(r, req.Amount)
	assessment := s.risk.Score(risk.TxContext{
		Amount:    req.Amount,
		OwnerID:   req.OwnerID,
		AgentID:   req.AgentID,
		Identity:  req.Profile.Identity,
		History:   req.Profile.History,
		RouteRisk: r.RiskLevel,
	})

	normFee := 100.0
	if req.Amount.AmountMinor > 0 && s.cfg.FeeCeilingBps > 0 {
		ratioBps := float64(est.Breakdown.Total.AmountMinor) / float64(req.Amount.AmountMinor) * 10000
		normFee = clamp(ratioBps / s.cfg.FeeCeilingBps * 100)
	}
	normTime := 100.0
	if s.cfg.MaxExecutionMs > 0 {
		normTime = clamp(float64(r.AvgExecutionMs) / s.cfg.MaxExecutionMs * 100)
	}

	w := s.cfg.Weights
	total := r.SuccessRate*w.Success +
		(100-normFee)*w.Fee +
		(100-assessment.Score)*w.Risk +
		(100-normTime)*w.Time

	return ScoredRoute{
		Route:          r,
		Fee:            est,
		Risk:           assessment,
		NormalizedFee:  normFee,
		NormalizedTime: normTime,
		Score:          total,
	}
}

// better orders by score, then lower risk, then lower fee, then route id.
func better(a, b ScoredRoute) bool {
	if a.Score != b.Score {
		return a.Score > b.Score
	}
	if a.Risk.Score != b.Risk.Score {
		return a.Risk.Score < b.Risk.Score
	}
	fa, fb := a.Fee.Breakdown.Total.AmountMinor, b.Fee.Breakdown.Total.AmountMinor
	if fa != fb {
		return fa < fb
	}
	return a.Route.RouteID < b.Route.RouteID
}

func clamp(v float64) float64 {
	return math.Min(100, math.Max(0, v))
}
