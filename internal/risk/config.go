package risk

// Config holds the additive scoring table. All values are points on the
// 0-100 scale except the amount tiers, which are major currency units.
type Config struct {
	AmountTierHigh     float64 `envconfig:"RISK_AMOUNT_TIER_HIGH" default:"100000"`
	AmountTierMedium   float64 `envconfig:"RISK_AMOUNT_TIER_MEDIUM" default:"10000"`
	AmountTierLow      float64 `envconfig:"RISK_AMOUNT_TIER_LOW" default:"1000"`
	AmountPointsHigh   float64 `envconfig:"RISK_AMOUNT_POINTS_HIGH" default:"30"`
	AmountPointsMedium float64 `envconfig:"RISK_AMOUNT_POINTS_MEDIUM" default:"15"`
	AmountPointsLow    float64 `envconfig:"RISK_AMOUNT_POINTS_LOW" default:"5"`

	IdentityVerifiedPoints float64 `envconfig:"RISK_IDENTITY_VERIFIED" default:"-20"`
	IdentityPendingPoints  float64 `envconfig:"RISK_IDENTITY_PENDING" default:"10"`
	IdentityNonePoints     float64 `envconfig:"RISK_IDENTITY_NONE" default:"30"`

	HistoryWeight      float64 `envconfig:"RISK_HISTORY_WEIGHT" default:"0.3"`
	FrequencyThreshold int     `envconfig:"RISK_FREQUENCY_THRESHOLD" default:"10"`
	FrequencyPoints    float64 `envconfig:"RISK_FREQUENCY_POINTS" default:"10"`

	RouteHighPoints     float64 `envconfig:"RISK_ROUTE_HIGH" default:"20"`
	RouteCriticalPoints float64 `envconfig:"RISK_ROUTE_CRITICAL" default:"40"`
}

// DefaultConfig mirrors the envconfig defaults for callers that skip env loading.
func DefaultConfig() Config {
	return Config{
		AmountTierHigh:         100000,
		AmountTierMedium:       10000,
		AmountTierLow:          1000,
		AmountPointsHigh:       30,
		AmountPointsMedium:     15,
		AmountPointsLow:        5,
		IdentityVerifiedPoints: -20,
		IdentityPendingPoints:  10,
		IdentityNonePoints:     30,
		HistoryWeight:          0.3,
		FrequencyThreshold:     10,
		FrequencyPoints:        10,
		RouteHighPoints:        20,
		RouteCriticalPoints:    40,
	}
}
