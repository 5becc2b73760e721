// Package fees estimates the cost of executing a payment over a route.
package fees

import (
	"paycore/internal/common/money"
	"paycore/internal/routing"
)

// Breakdown itemizes a fee estimate. Total is the sum of the others.
type Breakdown struct {
	Base       money.Money `json:"base_fee"`
	Percentage money.Money `json:"percentage_fee"`
	Gas        money.Money `json:"gas_fee"`
	Bridge     money.Money `json:"bridge_fee"`
	Total      money.Money `json:"total_fee"`
}

// Estimate is the estimator output, in the payment currency.
type Estimate struct {
	Breakdown Breakdown      `json:"breakdown"`
	Currency  money.Currency `json:"currency"`
}

// Config holds network-level fee inputs that routes do not carry.
type Config struct {
	BridgeBps int64 `envconfig:"FEE_BRIDGE_BPS" default:"10"`
	// GasFees is a flat per-chain gas cost in major units of the payment currency.
	GasFees        map[string]float64 `envconfig:"FEE_GAS_TABLE" default:"ethereum:1.5,bsc:0.1,polygon:0.01,arbitrum:0.05,base:0.02"`
	OnChainMethods []string           `envconfig:"FEE_ONCHAIN_METHODS" default:"wallet,crypto,stablecoin"`
}

// DefaultConfig mirrors the envconfig defaults.
func DefaultConfig() Config {
	return Config{
		BridgeBps: 10,
		GasFees: map[string]float64{
			"ethereum": 1.5,
			"bsc":      0.1,
			"polygon":  0.01,
			"arbitrum": 0.05,
			"base":     0.02,
		},
		OnChainMethods: []string{"wallet", "crypto", "stablecoin"},
	}
}

// Estimator computes fee estimates. It is pure and safe for concurrent use.
type Estimator struct {
	bridgeBps int64
	gas       map[string]float64
	onChain   map[string]bool
}

// NewEstimator creates an estimator. The config maps are copied.
func NewEstimator(cfg Config) *Estimator {
	e := &Estimator{
		bridgeBps: cfg.BridgeBps,
		gas:       make(map[string]float64, len(cfg.GasFees)),
		onChain:   make(map[string]bool, len(cfg.OnChainMethods)),
	}
	for chain, fee := range cfg.GasFees {
		e.gas[chain] = fee
	}
	for _, m := range cfg.OnChainMethods {
		e.onChain[m] = true
	}
	return e
}

// Estimate prices amount over route. The route is never modified.
func (e *Estimator) Estimate(route routing.CandidateRoute, amount money.Money) Estimate {
	cur := amount.Currency
	fs := route.Fees

	pct := amount.Percentage(fs.PercentageBps).AmountMinor
	minFee := fs.MinFeeMinor
	if minFee == 0 && fs.MinFeeMajor > 0 {
		minFee = money.NewFromMajor(fs.MinFeeMajor, cur).AmountMinor
	}
	if minFee > 0 && pct < minFee {
		pct = minFee
	}
	if fs.MaxFeeMinor > 0 && pct > fs.MaxFeeMinor {
		pct = fs.MaxFeeMinor
	}

	b := Breakdown{
		Base:       money.New(fs.BaseFeeMinor, cur),
		Percentage: money.New(pct, cur),
		Gas:        money.Zero(cur),
		Bridge:     money.Zero(cur),
	}

	if route.CrossChain() {
		b.Bridge = amount.Percentage(e.bridgeBps)
	}

	if e.onChain[route.PaymentMethod] {
		if gas, ok := e.gas[route.SourceChain]; ok {
			b.Gas = money.NewFromMajor(gas, cur)
		}
	}

	b.Total = money.MustSum(b.Base, b.Percentage, b.Gas, b.Bridge)

	return Estimate{Breakdown: b, Currency: cur}
}
