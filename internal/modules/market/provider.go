// Package market supplies the market snapshot consumed by strategy and decision logic.
package market

import (
	"context"
	"sync"
	"time"

	"github.com/aristath/nexus/internal/domain"
)

// StaticProvider returns a fixed snapshot. It backs development mode and tests,
// and is the fallback when no retrieval service is configured.
type StaticProvider struct {
	snapshot *domain.MarketSnapshot
	mu       sync.RWMutex
}

// NewStaticProvider creates a provider serving snapshot (neutral when nil)
func NewStaticProvider(snapshot *domain.MarketSnapshot) *StaticProvider {
	if snapshot == nil {
		snapshot = domain.NeutralSnapshot()
	}
	return &StaticProvider{snapshot: snapshot}
}

// Set replaces the served snapshot
func (p *StaticProvider) Set(snapshot *domain.MarketSnapshot) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.snapshot = snapshot
}

// GetMarketSummary returns a copy of the configured snapshot
func (p *StaticProvider) GetMarketSummary(ctx context.Context) (*domain.MarketSnapshot, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	s := p.snapshot.Clone()
	s.UpdatedAt = time.Now()
	return s, nil
}

// Query answers with a canned summary of the snapshot
func (p *StaticProvider) Query(ctx context.Context, text string) (*domain.QueryAnswer, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	return &domain.QueryAnswer{
		Answer:  "Market outlook is " + p.snapshot.OverallOutlook,
		Context: []string{"static market snapshot"},
	}, nil
}
