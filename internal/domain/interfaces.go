package domain

import "context"

// MarketSnapshotProvider supplies the market summary used as strategy input
type MarketSnapshotProvider interface {
	GetMarketSummary(ctx context.Context) (*MarketSnapshot, error)
}

// MarketQuerier answers free-text questions about the market
type MarketQuerier interface {
	Query(ctx context.Context, text string) (*QueryAnswer, error)
}

// HistoryProvider returns historical series for drawdown and performance figures.
// Values are ordered oldest first. An empty series means no history is known.
type HistoryProvider interface {
	PortfolioValueHistory(ctx context.Context, userID string, days int) ([]float64, error)
}
