// Package routing holds the route catalog and the weighted route selector.
package routing

import (
	"errors"
	"fmt"

	"paycore/internal/risk"
)

// FeeStructure is a route's price list, in minor units of the payment currency.
type FeeStructure struct {
	BaseFeeMinor  int64 `json:"base_fee_minor" yaml:"base_fee_minor"`
	PercentageBps int64 `json:"percentage_fee_bps" yaml:"percentage_fee_bps"`
	// MinFeeMinor and MaxFeeMinor clamp the percentage fee; zero means unset.
	MinFeeMinor int64 `json:"min_fee_minor,omitempty" yaml:"min_fee_minor"`
	MaxFeeMinor int64 `json:"max_fee_minor,omitempty" yaml:"max_fee_minor"`
	// MinFeeMajor is a floor in major units, converted with the payment
	// currency's decimals at estimate time. MinFeeMinor wins when both are set.
	MinFeeMajor float64 `json:"min_fee_major,omitempty" yaml:"min_fee_major"`
}

// CandidateRoute is one way to execute a payment: a method over a
// source/target chain or rail. Routes are immutable reference data.
type CandidateRoute struct {
	RouteID        string       `json:"route_id" yaml:"route_id"`
	PaymentMethod  string       `json:"payment_method" yaml:"payment_method"`
	SourceChain    string       `json:"source_chain" yaml:"source_chain"`
	TargetChain    string       `json:"target_chain" yaml:"target_chain"`
	Fees           FeeStructure `json:"fee_structure" yaml:"fee_structure"`
	SuccessRate    float64      `json:"historical_success_rate" yaml:"historical_success_rate"`
	AvgExecutionMs int64        `json:"avg_execution_time_ms" yaml:"avg_execution_time_ms"`
	RiskLevel      risk.Level   `json:"risk_level" yaml:"risk_level"`
	Active         bool         `json:"active" yaml:"active"`
}

// CrossChain reports whether the route bridges between chains.
func (r CandidateRoute) CrossChain() bool {
	return r.SourceChain != r.TargetChain
}

// Validate checks a route is usable reference data.
func (r CandidateRoute) Validate() error {
	if r.RouteID == "" {
		return errors.New("route_id is required")
	}
	if r.PaymentMethod == "" {
		return fmt.Errorf("route %s: payment_method is required", r.RouteID)
	}
	if r.SuccessRate < 0 || r.SuccessRate > 100 {
		return fmt.Errorf("route %s: success rate %v outside 0-100", r.RouteID, r.SuccessRate)
	}
	if r.AvgExecutionMs < 0 {
		return fmt.Errorf("route %s: negative execution time", r.RouteID)
	}
	if !r.RiskLevel.Valid() {
		return fmt.Errorf("route %s: unknown risk level %q", r.RouteID, r.RiskLevel)
	}
	f := r.Fees
	if f.BaseFeeMinor < 0 || f.PercentageBps < 0 || f.MinFeeMinor < 0 || f.MaxFeeMinor < 0 || f.MinFeeMajor < 0 {
		return fmt.Errorf("route %s: negative fee", r.RouteID)
	}
	if f.MaxFeeMinor > 0 && f.MinFeeMinor > f.MaxFeeMinor {
		return fmt.Errorf("route %s: min fee above max fee", r.RouteID)
	}
	return nil
}

// DefaultChain is assumed when a request carries no chain hint.
const DefaultChain = "ethereum"

// FallbackRoute is synthesized when the catalog has nothing matching, so
// selection never fails on an empty candidate set.
func FallbackRoute(sourceChain, targetChain string) CandidateRoute {
	if sourceChain == "" {
		sourceChain = DefaultChain
	}
	if targetChain == "" {
		targetChain = sourceChain
	}
	return CandidateRoute{
		RouteID:       "default",
		PaymentMethod: "wallet",
		SourceChain:   sourceChain,
		TargetChain:   targetChain,
		Fees: FeeStructure{
			PercentageBps: 30,
			MinFeeMajor:   0.01,
		},
		SuccessRate:    95,
		AvgExecutionMs: 2000,
		RiskLevel:      risk.LevelMedium,
		Active:         true,
	}
}
