// Package risk scores a prospective payment on a 0-100 scale.
//
// Scoring is additive and deterministic: amount tier, identity status,
// optional user history and the route's own risk level each contribute
// points, the sum is clamped to [0, 100] and mapped onto a fixed band.
package risk

import (
	"math"

	"paycore/internal/common/money"
)

// Level is a risk band.
type Level string

const (
	LevelLow      Level = "low"
	LevelMedium   Level = "medium"
	LevelHigh     Level = "high"
	LevelCritical Level = "critical"
)

// Valid reports whether l is a known band.
func (l Level) Valid() bool {
	switch l {
	case LevelLow, LevelMedium, LevelHigh, LevelCritical:
		return true
	}
	return false
}

// IdentityStatus is the payer's KYC state. The zero value means unknown.
type IdentityStatus string

const (
	IdentityUnknown  IdentityStatus = ""
	IdentityVerified IdentityStatus = "verified"
	IdentityPending  IdentityStatus = "pending"
	IdentityNone     IdentityStatus = "none"
)

// History summarizes the payer's past behaviour.
type History struct {
	// Score is an externally computed 0-100 history risk.
	Score float64 `json:"score"`
	// RecentCount is the number of payments in the provider's recent window.
	RecentCount int `json:"recent_count"`
}

// TxContext is everything the scorer looks at.
type TxContext struct {
	Amount    money.Money
	OwnerID   string
	AgentID   string
	Identity  IdentityStatus
	History   *History
	RouteRisk Level
}

// Factors are the per-input point contributions, before clamping.
type Factors struct {
	Amount    float64 `json:"amount"`
	Frequency float64 `json:"frequency"`
	KYC       float64 `json:"kyc"`
	History   float64 `json:"history"`
	Route     float64 `json:"route"`
}

// Assessment is the scorer output.
type Assessment struct {
	Score          float64 `json:"score"`
	Level          Level   `json:"level"`
	Factors        Factors `json:"factors"`
	Recommendation string  `json:"recommendation"`
}

var recommendations = map[Level]string{
	LevelCritical: "pause the transaction for manual review",
	LevelHigh:     "require additional verification (2FA or KYC) before proceeding",
	LevelMedium:   "prefer a safer payment method",
	LevelLow:      "low risk, proceed",
}

// Scorer computes assessments from a fixed configuration.
type Scorer struct {
	cfg Config
}

// NewScorer creates a scorer.
func NewScorer(cfg Config) *Scorer {
	return &Scorer{cfg: cfg}
}

// Score assesses tx. It is pure and safe for concurrent use.
func (s *Scorer) Score(tx TxContext) Assessment {
	var f Factors

	// Thresholds are in major units of tx.Amount's own currency.
	major := tx.Amount.ToMajor()
	switch {
	case major > s.cfg.AmountTierHigh:
		f.Amount = s.cfg.AmountPointsHigh
	case major > s.cfg.AmountTierMedium:
		f.Amount = s.cfg.AmountPointsMedium
	case major > s.cfg.AmountTierLow:
		f.Amount = s.cfg.AmountPointsLow
	}

	if tx.History != nil {
		f.History = tx.History.Score * s.cfg.HistoryWeight
		if s.cfg.FrequencyThreshold > 0 && tx.History.RecentCount > s.cfg.FrequencyThreshold {
			f.Frequency = s.cfg.FrequencyPoints
		}
	}

	switch tx.Identity {
	case IdentityVerified:
		f.KYC = s.cfg.IdentityVerifiedPoints
	case IdentityPending:
		f.KYC = s.cfg.IdentityPendingPoints
	case IdentityNone:
		f.KYC = s.cfg.IdentityNonePoints
	}

	switch tx.RouteRisk {
	case LevelHigh:
		f.Route = s.cfg.RouteHighPoints
	case LevelCritical:
		f.Route = s.cfg.RouteCriticalPoints
	}

	score := clamp(f.Amount + f.Frequency + f.KYC + f.History + f.Route)
	level := Band(score)

	return Assessment{
		Score:          score,
		Level:          level,
		Factors:        f,
		Recommendation: recommendations[level],
	}
}

// Band maps a clamped score onto its level.
func Band(score float64) Level {
	switch {
	case score < 30:
		return LevelLow
	case score < 60:
		return LevelMedium
	case score < 80:
		return LevelHigh
	default:
		return LevelCritical
	}
}

func clamp(v float64) float64 {
	return math.Min(100, math.Max(0, v))
}
