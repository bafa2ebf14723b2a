package portfolio

import (
	"context"
	"sync"
	"time"
)

const maxHistorySamples = 4096

type valueSample struct {
	at    time.Time
	value float64
}

// ValueHistory records the portfolio value after every ledger mutation.
// It is the default HistoryProvider for drawdown and performance figures.
type ValueHistory struct {
	samples map[string][]valueSample
	now     func() time.Time
	mu      sync.RWMutex
}

// NewValueHistory creates an empty history
func NewValueHistory() *ValueHistory {
	return &ValueHistory{
		samples: make(map[string][]valueSample),
		now:     time.Now,
	}
}

// Record appends a value sample for the user
func (h *ValueHistory) Record(userID string, value float64) {
	h.mu.Lock()
	defer h.mu.Unlock()

	s := append(h.samples[userID], valueSample{at: h.now(), value: value})
	if len(s) > maxHistorySamples {
		s = s[len(s)-maxHistorySamples:]
	}
	h.samples[userID] = s
}

// PortfolioValueHistory returns the values recorded within the last days, oldest first
func (h *ValueHistory) PortfolioValueHistory(ctx context.Context, userID string, days int) ([]float64, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	cutoff := h.now().Add(-time.Duration(days) * 24 * time.Hour)
	var values []float64
	for _, s := range h.samples[userID] {
		if days > 0 && s.at.Before(cutoff) {
			continue
		}
		values = append(values, s.value)
	}
	return values, nil
}
