package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/nexus/internal/domain"
	"github.com/aristath/nexus/internal/modules/portfolio"
)

func setupRouter(t *testing.T) (*chi.Mux, *portfolio.Ledger) {
	t.Helper()
	log := zerolog.New(nil).Level(zerolog.Disabled)
	ledger := portfolio.NewLedger(portfolio.NewMemoryRepository(), nil, nil, log)

	router := chi.NewRouter()
	NewHandler(ledger, log).RegisterRoutes(router)
	return router, ledger
}

func TestRegisterRoutes(t *testing.T) {
	log := zerolog.New(nil).Level(zerolog.Disabled)
	h := NewHandler(portfolio.NewLedger(portfolio.NewMemoryRepository(), nil, nil, log), log)
	assert.NotPanics(t, func() {
		h.RegisterRoutes(chi.NewRouter())
	})
}

func TestHandleGetAllocation(t *testing.T) {
	router, ledger := setupRouter(t)
	_, err := ledger.UpdateCash(context.Background(), "u1", 100, portfolio.Deposit)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/ledger/u1/allocation", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	var body struct {
		Data domain.Allocation `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, 100.0, body.Data.TopLevel[domain.Cash])
}

func TestHandleGetTransactions(t *testing.T) {
	router, ledger := setupRouter(t)
	for i := 0; i < 3; i++ {
		_, err := ledger.UpdateCash(context.Background(), "u1", 10, portfolio.Deposit)
		require.NoError(t, err)
	}

	req := httptest.NewRequest(http.MethodGet, "/ledger/u1/transactions?limit=2", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	var body struct {
		Data []portfolio.Transaction `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Len(t, body.Data, 2)
}

func TestHandleGetTransactions_BadLimit(t *testing.T) {
	router, _ := setupRouter(t)

	req := httptest.NewRequest(http.MethodGet, "/ledger/u1/transactions?limit=abc", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestHandleGetPerformance(t *testing.T) {
	router, _ := setupRouter(t)

	req := httptest.NewRequest(http.MethodGet, "/ledger/u1/performance", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"daily":0`)
}
