package market

import (
	"context"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/aristath/nexus/internal/domain"
)

// HTTPProvider consumes the market/news retrieval subsystem over HTTP
type HTTPProvider struct {
	client *resty.Client
}

// NewHTTPProvider creates a client for the retrieval service at baseURL
func NewHTTPProvider(baseURL string, timeout time.Duration) *HTTPProvider {
	client := resty.New()
	client.SetBaseURL(baseURL)
	client.SetTimeout(timeout)
	client.SetHeader("Accept", "application/json")
	client.SetRetryCount(2)
	client.SetRetryWaitTime(500 * time.Millisecond)

	return &HTTPProvider{client: client}
}

// GetMarketSummary fetches GET /market/summary
func (p *HTTPProvider) GetMarketSummary(ctx context.Context) (*domain.MarketSnapshot, error) {
	var snapshot domain.MarketSnapshot
	resp, err := p.client.R().
		SetContext(ctx).
		SetResult(&snapshot).
		Get("/market/summary")
	if err != nil {
		return nil, fmt.Errorf("failed to fetch market summary: %w", err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("market summary request failed with status %d", resp.StatusCode())
	}

	if snapshot.Sectors == nil {
		snapshot.Sectors = map[string]string{}
	}
	if snapshot.UpdatedAt.IsZero() {
		snapshot.UpdatedAt = time.Now()
	}
	return &snapshot, nil
}

// Query posts a free-text question to POST /query
func (p *HTTPProvider) Query(ctx context.Context, text string) (*domain.QueryAnswer, error) {
	var answer domain.QueryAnswer
	resp, err := p.client.R().
		SetContext(ctx).
		SetBody(map[string]string{"query": text}).
		SetResult(&answer).
		Post("/query")
	if err != nil {
		return nil, fmt.Errorf("failed to query market service: %w", err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("market query failed with status %d", resp.StatusCode())
	}
	return &answer, nil
}
