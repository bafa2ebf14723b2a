package domain

// Worker capabilities known to the coordinator
const (
	CapabilityEquityTrader = "equity_trader"
	CapabilityCryptoTrader = "crypto_trader"
	CapabilityRiskAnalyzer = "risk_analyzer"
)

// TraderFor returns the capability that executes trades for a class. Bonds
// and Cash have no trading worker.
func TraderFor(class AssetClass) (string, bool) {
	switch class {
	case Equity:
		return CapabilityEquityTrader, true
	case Crypto:
		return CapabilityCryptoTrader, true
	default:
		return "", false
	}
}

// MinTradeAmount is the smallest dollar amount worth delegating
const MinTradeAmount = 10.0
