package risk

import "github.com/aristath/nexus/internal/domain"

const riskFreeRate = 2.0

var baseVolatility = map[domain.AssetClass]float64{
	domain.Cash:   0.5,
	domain.Bonds:  5.0,
	domain.Equity: 15.0,
	domain.Crypto: 40.0,
}

var volatilityMultiplier = map[domain.AssetClass]map[string]float64{
	domain.Equity: {
		domain.LargeCap:        0.8,
		domain.MidCap:          1.0,
		domain.SmallCap:        1.3,
		domain.International:   1.1,
		domain.EmergingMarkets: 1.5,
	},
	domain.Crypto: {
		domain.Bitcoin:  0.9,
		domain.Ethereum: 1.1,
		domain.Altcoins: 1.5,
	},
}

var expectedReturn = map[domain.AssetClass]float64{
	domain.Cash:   1.0,
	domain.Bonds:  3.0,
	domain.Equity: 8.0,
	domain.Crypto: 15.0,
}

var equityBeta = map[string]float64{
	domain.LargeCap:        0.95,
	domain.MidCap:          1.05,
	domain.SmallCap:        1.15,
	domain.International:   0.9,
	domain.EmergingMarkets: 1.2,
}

// VolatilitySource supplies annualized volatility (percent) for a holding
type VolatilitySource interface {
	Volatility(category domain.AssetClass, subcategory string) float64
}

// TableVolatility is the fixed category/subcategory volatility table
type TableVolatility struct{}

// Volatility looks up the base volatility scaled by the subcategory multiplier
func (TableVolatility) Volatility(category domain.AssetClass, subcategory string) float64 {
	base, ok := baseVolatility[category]
	if !ok {
		base = 10.0
	}
	if mult, ok := volatilityMultiplier[category][subcategory]; ok {
		base *= mult
	}
	return base
}

func assetReturn(category domain.AssetClass) float64 {
	if r, ok := expectedReturn[category]; ok {
		return r
	}
	return 5.0
}

func assetBeta(category domain.AssetClass, subcategory string) float64 {
	switch category {
	case domain.Equity:
		if b, ok := equityBeta[subcategory]; ok {
			return b
		}
		return 1.0
	case domain.Bonds:
		return 0.2
	case domain.Cash:
		return 0.0
	case domain.Crypto:
		return 1.5
	default:
		return 1.0
	}
}

func levelForScore(score int) string {
	switch {
	case score < 20:
		return LevelVeryLow
	case score < 40:
		return LevelLow
	case score < 60:
		return LevelModerate
	case score < 80:
		return LevelHigh
	default:
		return LevelVeryHigh
	}
}
