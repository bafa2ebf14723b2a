package server

import (
	"bufio"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/nexus/internal/config"
	"github.com/aristath/nexus/internal/di"
	"github.com/aristath/nexus/internal/modules/portfolio"
)

func newTestServer(t *testing.T) (*Server, *di.Container) {
	t.Helper()
	log := zerolog.New(nil).Level(zerolog.Disabled)

	cfg := &config.Config{
		Environment:    "test",
		DataDir:        t.TempDir(),
		StorageBackend: config.StorageMemory,
		Orchestrator: config.OrchestratorConfig{
			DefaultTaskTimeout: 30 * time.Second,
			ResultPollInterval: 10 * time.Millisecond,
			WorkerTimeout:      time.Minute,
			MaxConcurrentTasks: 10,
			SweepSchedule:      "@every 5s",
			PurgeSchedule:      "@hourly",
			SimulateWorkers:    true,
		},
		Transport: config.TransportConfig{Kind: config.TransportMemory},
		Market:    config.MarketConfig{CacheTTL: time.Minute},
		Risk:      config.RiskConfig{Confidence: 0.95},
	}

	container, err := di.Wire(context.Background(), cfg, log)
	require.NoError(t, err)
	t.Cleanup(func() { container.Close(log) })

	srv := New(Config{Log: log, Config: cfg, Container: container, Port: 0, DevMode: true, Version: "test"})
	srv.systemHandlers.stats = func() (float64, float64) { return 12.5, 40 }
	return srv, container
}

func TestHealth(t *testing.T) {
	srv, _ := newTestServer(t)

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "healthy", body["status"])
	assert.Equal(t, "test", body["version"])
	assert.Equal(t, "nexus", body["service"])
}

func TestMetricsEndpoint(t *testing.T) {
	srv, container := newTestServer(t)

	_, err := container.Coordinator.ProcessCashFlow(context.Background(), "alice", 1000, portfolio.Deposit)
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "nexus_")
	assert.Contains(t, rec.Body.String(), "go_goroutines")
}

func TestSystemStatus(t *testing.T) {
	srv, _ := newTestServer(t)

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/system/status", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	var resp SystemStatusResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "healthy", resp.Status)
	assert.Equal(t, 12.5, resp.CPUPercent)
	assert.Equal(t, 40.0, resp.MemoryPercent)
	assert.Equal(t, config.StorageMemory, resp.StorageBackend)
	assert.Equal(t, config.TransportMemory, resp.Transport)
	assert.Equal(t, 3, resp.Workers.Total)
	assert.Equal(t, 3, resp.Workers.Active)
	assert.ElementsMatch(t, []string{"task_sweep", "housekeeping"}, resp.Jobs)
}

func TestRunJob(t *testing.T) {
	srv, _ := newTestServer(t)

	t.Run("known job", func(t *testing.T) {
		rec := httptest.NewRecorder()
		srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/system/jobs/task_sweep/run", nil))
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Contains(t, rec.Body.String(), "task_sweep completed")
	})

	t.Run("unknown job", func(t *testing.T) {
		rec := httptest.NewRecorder()
		srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/system/jobs/nope/run", nil))
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})
}

func TestBackupsDisabled(t *testing.T) {
	srv, _ := newTestServer(t)

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/system/backups", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestCashFlowRoute(t *testing.T) {
	srv, _ := newTestServer(t)

	body := strings.NewReader(`{"user_id":"alice","amount":5000,"type":"deposit"}`)
	req := httptest.NewRequest(http.MethodPost, "/api/cash_flow", body)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp struct {
		Data struct {
			Status  string   `json:"status"`
			TaskIDs []string `json:"task_ids"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.NotEmpty(t, resp.Data.TaskIDs)

	rec = httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/mcu/status", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "sim-equity-1")
}

func TestEventsStream(t *testing.T) {
	srv, container := newTestServer(t)

	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ts.URL+"/api/events/stream?types=CASH_UPDATED", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	reader := bufio.NewReader(resp.Body)
	readEvent := func() map[string]interface{} {
		for {
			line, err := reader.ReadString('\n')
			require.NoError(t, err)
			if strings.HasPrefix(line, "data: ") {
				var event map[string]interface{}
				require.NoError(t, json.Unmarshal([]byte(strings.TrimPrefix(strings.TrimSpace(line), "data: ")), &event))
				return event
			}
		}
	}

	assert.Equal(t, "connected", readEvent()["type"])

	_, err = container.Coordinator.ProcessCashFlow(context.Background(), "bob", 250, portfolio.Deposit)
	require.NoError(t, err)

	event := readEvent()
	assert.Equal(t, "CASH_UPDATED", event["type"])
}
