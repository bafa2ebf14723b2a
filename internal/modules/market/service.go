package market

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/nexus/internal/domain"
)

const maxVIXHistory = 250

// Provider is a snapshot source that can also answer free-text queries
type Provider interface {
	domain.MarketSnapshotProvider
	domain.MarketQuerier
}

// Service caches market summaries and fills in the volatility regime
type Service struct {
	provider Provider
	ttl      time.Duration
	now      func() time.Time

	cached    *domain.MarketSnapshot
	fetchedAt time.Time
	vix       []float64
	mu        sync.Mutex

	log zerolog.Logger
}

// NewService wraps provider with a summary cache of the given TTL
func NewService(provider Provider, ttl time.Duration, log zerolog.Logger) *Service {
	return &Service{
		provider: provider,
		ttl:      ttl,
		now:      time.Now,
		log:      log.With().Str("service", "market").Logger(),
	}
}

// GetMarketSummary returns the cached snapshot while fresh, refreshing otherwise.
// A failed refresh falls back to the stale snapshot, then to a neutral one.
func (s *Service) GetMarketSummary(ctx context.Context) (*domain.MarketSnapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cached != nil && s.now().Sub(s.fetchedAt) < s.ttl {
		return s.copyCached(), nil
	}

	snapshot, err := s.provider.GetMarketSummary(ctx)
	if err != nil {
		if s.cached != nil {
			s.log.Warn().Err(err).Msg("Market refresh failed, serving stale snapshot")
			return s.copyCached(), nil
		}
		s.log.Warn().Err(err).Msg("Market refresh failed, serving neutral snapshot")
		return domain.NeutralSnapshot(), nil
	}

	if snapshot.VolatilityIndex > 0 {
		s.vix = append(s.vix, snapshot.VolatilityIndex)
		if len(s.vix) > maxVIXHistory {
			s.vix = s.vix[len(s.vix)-maxVIXHistory:]
		}
	}
	if snapshot.Volatility == "" {
		snapshot.Volatility = ClassifyVolatility(s.vix)
	}

	s.cached = snapshot
	s.fetchedAt = s.now()
	s.log.Debug().Str("outlook", snapshot.OverallOutlook).Str("volatility", snapshot.Volatility).Msg("Market snapshot refreshed")

	return s.copyCached(), nil
}

// GetAssetOutlook returns the outlook string for one asset class
func (s *Service) GetAssetOutlook(ctx context.Context, class domain.AssetClass) (string, error) {
	snapshot, err := s.GetMarketSummary(ctx)
	if err != nil {
		return "", err
	}

	switch class {
	case domain.Equity:
		return snapshot.EquityOutlook, nil
	case domain.Bonds:
		return snapshot.BondOutlook, nil
	case domain.Crypto:
		return snapshot.CryptoOutlook, nil
	default:
		return domain.OutlookNeutral, nil
	}
}

// Query passes a free-text question through to the retrieval subsystem
func (s *Service) Query(ctx context.Context, text string) (*domain.QueryAnswer, error) {
	if text == "" {
		return nil, domain.MissingFieldError("query")
	}
	answer, err := s.provider.Query(ctx, text)
	if err != nil {
		return nil, fmt.Errorf("failed to query market: %w", err)
	}
	return answer, nil
}

// Invalidate drops the cached snapshot
func (s *Service) Invalidate() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cached = nil
}

func (s *Service) copyCached() *domain.MarketSnapshot {
	return s.cached.Clone()
}
