package risk

import "time"

// Risk levels derived from the score
const (
	LevelNone     = "None"
	LevelVeryLow  = "Very Low"
	LevelLow      = "Low"
	LevelModerate = "Moderate"
	LevelHigh     = "High"
	LevelVeryHigh = "Very High"
	LevelUnknown  = "Unknown"
)

// Alert severities
const (
	SeverityWarning = "WARNING"
	SeverityInfo    = "INFO"
)

// Metrics are the raw risk figures of a portfolio
type Metrics struct {
	Volatility        float64 `json:"volatility"`
	ValueAtRisk       float64 `json:"value_at_risk"`
	SharpeRatio       float64 `json:"sharpe_ratio"`
	Beta              float64 `json:"beta"`
	RiskConcentration float64 `json:"risk_concentration"`
	MaxDrawdown       float64 `json:"max_drawdown"`
}

// Alert flags a metric outside its threshold
type Alert struct {
	Type     string `json:"type"`
	Severity string `json:"severity"`
	Message  string `json:"message"`
}

// Recommendation pairs an action code with advice
type Recommendation struct {
	Action  string `json:"action"`
	Message string `json:"message"`
}

// Analysis is one risk evaluation of a portfolio
type Analysis struct {
	UserID          string           `json:"user_id"`
	Timestamp       time.Time        `json:"timestamp"`
	TotalValue      float64          `json:"total_value"`
	RiskScore       int              `json:"risk_score"`
	RiskLevel       string           `json:"risk_level"`
	Metrics         Metrics          `json:"metrics"`
	Alerts          []Alert          `json:"alerts"`
	Recommendations []Recommendation `json:"recommendations"`
}

// Tolerance holds the user limits checked by IsWithinRiskTolerance
type Tolerance struct {
	MaxRiskScore     int     `json:"max_risk_score"`
	MaxVaRPct        float64 `json:"max_var_pct"`
	MaxConcentration float64 `json:"max_concentration"`
}

// DefaultTolerance returns the limits applied when none are given
func DefaultTolerance() Tolerance {
	return Tolerance{MaxRiskScore: 80, MaxVaRPct: 15, MaxConcentration: 25}
}

func (t Tolerance) withDefaults() Tolerance {
	d := DefaultTolerance()
	if t.MaxRiskScore <= 0 {
		t.MaxRiskScore = d.MaxRiskScore
	}
	if t.MaxVaRPct <= 0 {
		t.MaxVaRPct = d.MaxVaRPct
	}
	if t.MaxConcentration <= 0 {
		t.MaxConcentration = d.MaxConcentration
	}
	return t
}

// RiskyAsset is a position whose volatility exceeds a threshold
type RiskyAsset struct {
	Symbol        string  `json:"symbol"`
	Name          string  `json:"name"`
	Volatility    float64 `json:"volatility"`
	Value         float64 `json:"value"`
	AllocationPct float64 `json:"allocation_pct"`
}

// ExecutionFailure is a worker failure reported for a user
type ExecutionFailure struct {
	ID         int64     `json:"id"`
	UserID     string    `json:"user_id"`
	WorkerType string    `json:"worker_type"`
	Error      string    `json:"error"`
	CreatedAt  time.Time `json:"created_at"`
}
