package workers

import (
	"context"
	"fmt"
	"math"

	"gonum.org/v1/gonum/stat/distuv"

	"github.com/aristath/nexus/internal/domain"
	"github.com/aristath/nexus/internal/transport"
)

// Risk analysis kinds, selected by the task's "analysis" field
const (
	AnalysisVaR        = "calculate_var"
	AnalysisStressTest = "stress_test"
)

const (
	defaultPortfolioValue = 100000.0
	defaultVolatility     = 24.0 // annualised percent
	defaultBeta           = 0.75
	defaultScenario       = "Market Crash -20%"
)

// Scenarios maps stress scenarios to a market shock
var Scenarios = map[string]float64{
	defaultScenario:   -0.20,
	"Rate Shock +2%":  -0.08,
	"Crypto Winter":   -0.60,
	"Mild Correction": -0.10,
}

// RiskAnalyst is the risk_analyzer executor
type RiskAnalyst struct{}

// NewRiskAnalyst creates the risk_analyzer executor
func NewRiskAnalyst() *RiskAnalyst {
	return &RiskAnalyst{}
}

// Capability implements Executor
func (RiskAnalyst) Capability() string {
	return domain.CapabilityRiskAnalyzer
}

// Execute implements Executor
func (r RiskAnalyst) Execute(ctx context.Context, task Task) transport.Response {
	if err := ctx.Err(); err != nil {
		return transport.Response{Status: StatusFailed, Error: err.Error()}
	}

	value := numberField(task.Fields, "portfolio_value", math.Abs(task.Amount))
	if value <= 0 {
		value = defaultPortfolioValue
	}

	analysis := stringField(task.Fields, "analysis", AnalysisVaR)
	switch analysis {
	case AnalysisVaR:
		confidence := numberField(task.Fields, "confidence_level", 0.95)
		if confidence <= 0.5 || confidence >= 1 {
			return failed("confidence_level must be between 0.5 and 1")
		}
		horizon := numberField(task.Fields, "time_horizon_days", 1)
		if horizon < 1 {
			horizon = 1
		}
		volatility := numberField(task.Fields, "volatility", defaultVolatility)

		daily := volatility / 100 / math.Sqrt(252)
		z := distuv.UnitNormal.Quantile(confidence)
		amount := value * daily * z * math.Sqrt(horizon)

		return transport.Response{
			Status: StatusCompleted,
			Data: map[string]interface{}{
				"value_at_risk": map[string]interface{}{
					"amount":            domain.Round(amount, 2),
					"confidence_level":  confidence,
					"time_horizon_days": horizon,
				},
			},
		}

	case AnalysisStressTest:
		scenario := stringField(task.Fields, "scenario", defaultScenario)
		shock, ok := Scenarios[scenario]
		if !ok {
			return failed(fmt.Sprintf("unknown scenario %q", scenario))
		}
		beta := numberField(task.Fields, "beta", defaultBeta)
		impact := value * shock * beta

		return transport.Response{
			Status: StatusCompleted,
			Data: map[string]interface{}{
				"scenario":         scenario,
				"estimated_impact": domain.Round(impact, 2),
				"message":          fmt.Sprintf("Simulated stress test projects a %.1f%% change in portfolio value", shock*beta*100),
			},
		}
	}

	return failed(fmt.Sprintf("Unsupported task type: %s", analysis))
}

func failed(msg string) transport.Response {
	return transport.Response{Status: StatusFailed, Error: msg}
}

func numberField(fields map[string]interface{}, key string, fallback float64) float64 {
	switch v := fields[key].(type) {
	case float64:
		return v
	case float32:
		return float64(v)
	case int:
		return float64(v)
	case int8:
		return float64(v)
	case int16:
		return float64(v)
	case int32:
		return float64(v)
	case int64:
		return float64(v)
	case uint8:
		return float64(v)
	case uint16:
		return float64(v)
	case uint32:
		return float64(v)
	case uint64:
		return float64(v)
	}
	return fallback
}

func stringField(fields map[string]interface{}, key, fallback string) string {
	if v, ok := fields[key].(string); ok && v != "" {
		return v
	}
	return fallback
}
