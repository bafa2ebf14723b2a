package market

import (
	"math"

	"github.com/markcheno/go-talib"

	"github.com/aristath/nexus/internal/domain"
)

const (
	regimePeriod  = 20
	vixHighLevel  = 25.0
	vixLowLevel   = 15.0
	regimeBandPct = 0.2
)

// ClassifyVolatility derives the volatility regime from a VIX series (oldest first).
// With a full period of history the latest value is compared to its SMA band;
// otherwise absolute VIX levels are used.
func ClassifyVolatility(vix []float64) string {
	if len(vix) == 0 {
		return domain.VolatilityNormal
	}
	latest := vix[len(vix)-1]

	if len(vix) >= regimePeriod {
		sma := talib.Sma(vix, regimePeriod)
		avg := sma[len(sma)-1]
		if !math.IsNaN(avg) && avg > 0 {
			switch {
			case latest > avg*(1+regimeBandPct):
				return domain.VolatilityHigh
			case latest < avg*(1-regimeBandPct):
				return domain.VolatilityLow
			default:
				return domain.VolatilityNormal
			}
		}
	}

	switch {
	case latest >= vixHighLevel:
		return domain.VolatilityHigh
	case latest <= vixLowLevel:
		return domain.VolatilityLow
	default:
		return domain.VolatilityNormal
	}
}
