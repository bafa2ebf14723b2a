// Package risk scores portfolio risk and raises alerts and recommendations.
package risk

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"gonum.org/v1/gonum/stat"
	"gonum.org/v1/gonum/stat/distuv"

	"github.com/aristath/nexus/internal/domain"
	"github.com/aristath/nexus/internal/events"
	"github.com/aristath/nexus/internal/modules/portfolio"
)

const (
	// DefaultConfidence is the VaR confidence level
	DefaultConfidence = 0.95
	// DefaultRiskyThreshold is the volatility (percent) above which a holding is risky
	DefaultRiskyThreshold = 15.0

	tradingDaysPerYear = 252
	drawdownWindowDays = 365
)

// Analyzer computes and caches one risk analysis per user
type Analyzer struct {
	volatility VolatilitySource
	history    domain.HistoryProvider
	failures   FailureRepository
	bus        *events.Bus
	zScore     float64
	confidence float64
	cache      map[string]*Analysis
	mu         sync.RWMutex
	now        func() time.Time
	log        zerolog.Logger
}

// Config holds analyzer settings
type Config struct {
	Confidence float64
	Volatility VolatilitySource
}

// NewAnalyzer creates a risk analyzer
func NewAnalyzer(cfg Config, history domain.HistoryProvider, failures FailureRepository, bus *events.Bus, log zerolog.Logger) *Analyzer {
	if cfg.Confidence <= 0 || cfg.Confidence >= 1 {
		cfg.Confidence = DefaultConfidence
	}
	if cfg.Volatility == nil {
		cfg.Volatility = TableVolatility{}
	}
	if failures == nil {
		failures = NewMemoryFailureRepository()
	}

	return &Analyzer{
		volatility: cfg.Volatility,
		history:    history,
		failures:   failures,
		bus:        bus,
		confidence: cfg.Confidence,
		zScore:     distuv.UnitNormal.Quantile(cfg.Confidence),
		cache:      make(map[string]*Analysis),
		now:        time.Now,
		log:        log.With().Str("service", "risk").Logger(),
	}
}

// AnalyzePortfolioRisk scores the portfolio and replaces the cached analysis
func (a *Analyzer) AnalyzePortfolioRisk(ctx context.Context, p *portfolio.Portfolio) (*Analysis, error) {
	if p.TotalValue <= 0 {
		a.log.Debug().Str("user_id", p.UserID).Msg("Portfolio has zero value")
		analysis := a.emptyAnalysis(p.UserID)
		a.store(analysis)
		return analysis, nil
	}

	m := Metrics{}
	m.Volatility = a.portfolioVolatility(p.Assets)
	m.ValueAtRisk = a.valueAtRisk(p.TotalValue, m.Volatility)
	m.SharpeRatio = sharpeRatio(p.Assets, m.Volatility)
	m.Beta = portfolioBeta(p.Assets)
	m.RiskConcentration = concentration(p.Assets, p.TotalValue)

	drawdown, err := a.maxDrawdown(ctx, p.UserID)
	if err != nil {
		return nil, err
	}
	m.MaxDrawdown = drawdown

	score := riskScore(m)
	analysis := &Analysis{
		UserID:          p.UserID,
		Timestamp:       a.now().UTC(),
		TotalValue:      p.TotalValue,
		RiskScore:       score,
		RiskLevel:       levelForScore(score),
		Metrics:         m,
		Alerts:          []Alert{},
		Recommendations: []Recommendation{},
	}
	addAlerts(analysis)
	a.store(analysis)

	a.bus.Emit("risk", &events.RiskAnalyzedData{
		UserID:    p.UserID,
		RiskScore: score,
		RiskLevel: analysis.RiskLevel,
		Alerts:    len(analysis.Alerts),
	})
	a.log.Info().
		Str("user_id", p.UserID).
		Int("risk_score", score).
		Str("risk_level", analysis.RiskLevel).
		Msg("Risk analysis completed")

	return analysis, nil
}

func (a *Analyzer) emptyAnalysis(userID string) *Analysis {
	return &Analysis{
		UserID:    userID,
		Timestamp: a.now().UTC(),
		RiskScore: 0,
		RiskLevel: LevelNone,
		Alerts:    []Alert{},
		Recommendations: []Recommendation{{
			Action:  "INITIAL_INVESTMENT",
			Message: "Make your first investment to begin portfolio analysis",
		}},
	}
}

func (a *Analyzer) store(analysis *Analysis) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.cache[analysis.UserID] = analysis
}

// GetCachedAnalysis returns the last analysis, or nil when none was computed
func (a *Analyzer) GetCachedAnalysis(userID string) *Analysis {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.cache[userID]
}

// GetRiskLevel returns the cached risk level, or Unknown
func (a *Analyzer) GetRiskLevel(userID string) string {
	if analysis := a.GetCachedAnalysis(userID); analysis != nil {
		return analysis.RiskLevel
	}
	a.log.Debug().Str("user_id", userID).Msg("No risk analysis available")
	return LevelUnknown
}

// IsWithinRiskTolerance checks the cached analysis (computing one if absent)
// against the tolerance and returns the violated limits
func (a *Analyzer) IsWithinRiskTolerance(ctx context.Context, p *portfolio.Portfolio, tol Tolerance) (bool, []string, error) {
	tol = tol.withDefaults()

	analysis := a.GetCachedAnalysis(p.UserID)
	if analysis == nil {
		var err error
		if analysis, err = a.AnalyzePortfolioRisk(ctx, p); err != nil {
			return false, nil, err
		}
	}

	issues := []string{}
	if analysis.RiskScore > tol.MaxRiskScore {
		issues = append(issues, fmt.Sprintf("Risk score (%d) exceeds maximum tolerance (%d)", analysis.RiskScore, tol.MaxRiskScore))
	}
	if p.TotalValue > 0 {
		varPct := analysis.Metrics.ValueAtRisk / p.TotalValue * 100
		if varPct > tol.MaxVaRPct {
			issues = append(issues, fmt.Sprintf("Value at Risk (%.1f%%) exceeds maximum tolerance (%g%%)", varPct, tol.MaxVaRPct))
		}
	}
	if analysis.Metrics.RiskConcentration > tol.MaxConcentration {
		issues = append(issues, fmt.Sprintf("Concentration risk (%.1f%%) exceeds maximum tolerance (%g%%)",
			analysis.Metrics.RiskConcentration, tol.MaxConcentration))
	}

	if len(issues) > 0 {
		a.log.Info().Str("user_id", p.UserID).Strs("issues", issues).Msg("Portfolio outside risk tolerance")
	}
	return len(issues) == 0, issues, nil
}

// ShouldAdjustStrategy reports whether a high-risk portfolio meets a high
// volatility market
func (a *Analyzer) ShouldAdjustStrategy(userID string, snapshot *domain.MarketSnapshot) bool {
	analysis := a.GetCachedAnalysis(userID)
	if analysis == nil || snapshot == nil {
		return false
	}

	switch analysis.RiskLevel {
	case LevelHigh, LevelVeryHigh:
		if snapshot.Volatility == domain.VolatilityHigh {
			a.log.Info().
				Str("user_id", userID).
				Str("risk_level", analysis.RiskLevel).
				Msg("Recommending strategy adjustment")
			return true
		}
	}
	return false
}

// IdentifyRiskyAssets lists holdings whose volatility exceeds threshold percent
func (a *Analyzer) IdentifyRiskyAssets(p *portfolio.Portfolio, threshold float64) []RiskyAsset {
	if threshold <= 0 {
		threshold = DefaultRiskyThreshold
	}

	risky := []RiskyAsset{}
	for _, asset := range p.Assets {
		vol := a.volatility.Volatility(asset.Category, asset.Subcategory)
		if vol <= threshold {
			continue
		}
		pct := 0.0
		if p.TotalValue > 0 {
			pct = asset.Value / p.TotalValue * 100
		}
		risky = append(risky, RiskyAsset{
			Symbol:        asset.Symbol,
			Name:          asset.Name,
			Volatility:    vol,
			Value:         asset.Value,
			AllocationPct: pct,
		})
	}
	return risky
}

// LogExecutionFailure records a worker failure for the user
func (a *Analyzer) LogExecutionFailure(ctx context.Context, userID, workerType, errMsg string) error {
	f := ExecutionFailure{
		UserID:     userID,
		WorkerType: workerType,
		Error:      errMsg,
		CreatedAt:  a.now().UTC(),
	}
	if err := a.failures.Record(ctx, f); err != nil {
		return fmt.Errorf("failed to record execution failure: %w", err)
	}

	a.log.Warn().
		Str("user_id", userID).
		Str("worker_type", workerType).
		Str("error", errMsg).
		Msg("Execution failure logged")
	return nil
}

// ListExecutionFailures returns recent failures for the user, newest first
func (a *Analyzer) ListExecutionFailures(ctx context.Context, userID string, limit int) ([]ExecutionFailure, error) {
	return a.failures.List(ctx, userID, limit)
}

func (a *Analyzer) portfolioVolatility(assets []portfolio.Position) float64 {
	values, weights := make([]float64, 0, len(assets)), make([]float64, 0, len(assets))
	for _, asset := range assets {
		values = append(values, a.volatility.Volatility(asset.Category, asset.Subcategory))
		weights = append(weights, asset.Value)
	}
	return weightedMean(values, weights, 0)
}

func (a *Analyzer) valueAtRisk(value, volatility float64) float64 {
	daily := volatility / math.Sqrt(tradingDaysPerYear)
	return math.Abs(value * (daily / 100) * a.zScore)
}

func (a *Analyzer) maxDrawdown(ctx context.Context, userID string) (float64, error) {
	if a.history == nil {
		return 0, nil
	}
	series, err := a.history.PortfolioValueHistory(ctx, userID, drawdownWindowDays)
	if err != nil {
		return 0, fmt.Errorf("failed to get value history: %w", err)
	}
	return MaxDrawdown(series), nil
}

// MaxDrawdown returns the largest peak-to-trough decline of a series in percent
func MaxDrawdown(series []float64) float64 {
	peak, worst := 0.0, 0.0
	for _, v := range series {
		if v > peak {
			peak = v
		}
		if peak > 0 {
			if dd := (peak - v) / peak * 100; dd > worst {
				worst = dd
			}
		}
	}
	return worst
}

// weightedMean returns the value-weighted mean, or fallback when the weights sum to 0
func weightedMean(values, weights []float64, fallback float64) float64 {
	total := 0.0
	for _, w := range weights {
		total += w
	}
	if len(values) == 0 || total <= 0 {
		return fallback
	}
	return stat.Mean(values, weights)
}

func sharpeRatio(assets []portfolio.Position, volatility float64) float64 {
	if volatility == 0 {
		return 0
	}
	returns, weights := make([]float64, 0, len(assets)), make([]float64, 0, len(assets))
	for _, asset := range assets {
		returns = append(returns, assetReturn(asset.Category))
		weights = append(weights, asset.Value)
	}
	expected := weightedMean(returns, weights, 0)
	return (expected - riskFreeRate) / volatility
}

func portfolioBeta(assets []portfolio.Position) float64 {
	betas, weights := make([]float64, 0, len(assets)), make([]float64, 0, len(assets))
	for _, asset := range assets {
		betas = append(betas, assetBeta(asset.Category, asset.Subcategory))
		weights = append(weights, asset.Value)
	}
	return weightedMean(betas, weights, 1.0)
}

func concentration(assets []portfolio.Position, total float64) float64 {
	if total <= 0 {
		return 0
	}
	largest := 0.0
	for _, asset := range assets {
		largest = math.Max(largest, asset.Value)
	}
	return largest / total * 100
}

func riskScore(m Metrics) int {
	volScore := math.Min(100, m.Volatility*3)
	varScore := math.Min(100, m.ValueAtRisk/1000*50)
	sharpeScore := math.Max(0, 100-m.SharpeRatio*40)
	betaScore := math.Min(100, math.Max(0, (m.Beta-0.5)*75))
	concScore := math.Min(100, m.RiskConcentration*2)

	score := volScore*0.35 + varScore*0.15 + sharpeScore*0.20 + betaScore*0.15 + concScore*0.15
	return int(math.Max(0, math.Min(100, math.Round(score))))
}

func addAlerts(analysis *Analysis) {
	m := analysis.Metrics

	if m.Volatility > 20 {
		analysis.Alerts = append(analysis.Alerts, Alert{
			Type:     "HIGH_VOLATILITY",
			Severity: SeverityWarning,
			Message:  fmt.Sprintf("Portfolio volatility is high at %.1f%%", m.Volatility),
		})
		analysis.Recommendations = append(analysis.Recommendations, Recommendation{
			Action:  "REDUCE_VOLATILITY",
			Message: "Consider reducing exposure to volatile assets",
		})
	}

	if analysis.TotalValue > 0 {
		if varPct := m.ValueAtRisk / analysis.TotalValue * 100; varPct > 5 {
			analysis.Alerts = append(analysis.Alerts, Alert{
				Type:     "HIGH_VAR",
				Severity: SeverityWarning,
				Message:  fmt.Sprintf("Value at Risk is %.1f%% of portfolio value", varPct),
			})
			analysis.Recommendations = append(analysis.Recommendations, Recommendation{
				Action:  "HEDGING",
				Message: "Consider hedging strategies to reduce downside risk",
			})
		}
	}

	if m.RiskConcentration > 20 {
		analysis.Alerts = append(analysis.Alerts, Alert{
			Type:     "HIGH_CONCENTRATION",
			Severity: SeverityWarning,
			Message:  fmt.Sprintf("Portfolio concentration is high at %.1f%%", m.RiskConcentration),
		})
		analysis.Recommendations = append(analysis.Recommendations, Recommendation{
			Action:  "DIVERSIFY",
			Message: "Diversify holdings to reduce concentration risk",
		})
	}

	if m.Beta > 1.3 {
		analysis.Alerts = append(analysis.Alerts, Alert{
			Type:     "HIGH_BETA",
			Severity: SeverityInfo,
			Message:  fmt.Sprintf("Portfolio beta is high at %.2f", m.Beta),
		})
		analysis.Recommendations = append(analysis.Recommendations, Recommendation{
			Action:  "REDUCE_BETA",
			Message: "Consider reducing market exposure during volatile periods",
		})
	}
}
