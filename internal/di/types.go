// Package di provides dependency injection wiring and initialization.
package di

import (
	"context"
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/aristath/nexus/internal/config"
	"github.com/aristath/nexus/internal/coordinator"
	"github.com/aristath/nexus/internal/database"
	"github.com/aristath/nexus/internal/events"
	"github.com/aristath/nexus/internal/modules/decision"
	"github.com/aristath/nexus/internal/modules/market"
	"github.com/aristath/nexus/internal/modules/portfolio"
	"github.com/aristath/nexus/internal/modules/risk"
	"github.com/aristath/nexus/internal/modules/strategy"
	"github.com/aristath/nexus/internal/orchestrator"
	"github.com/aristath/nexus/internal/reliability"
	"github.com/aristath/nexus/internal/scheduler"
	"github.com/aristath/nexus/internal/transport"
	"github.com/aristath/nexus/internal/workers"
)

// Container holds all dependencies for the application.
// It is created by Wire and passed to the server.
type Container struct {
	Config *config.Config

	// Databases; nil with the memory storage backend
	LedgerDB    *database.DB
	DecisionsDB *database.DB

	Bus      *events.Bus
	Registry *prometheus.Registry

	Ledger       *portfolio.Ledger
	History      *portfolio.ValueHistory
	Market       *market.Service
	Strategy     *strategy.Engine
	Risk         *risk.Analyzer
	Decisions    *decision.Engine
	Orchestrator *orchestrator.Orchestrator
	Coordinator  *coordinator.Coordinator

	// Transport carries task envelopes; WebSocketHub is set when it is the
	// WebSocket hub so the server can mount it
	Transport    transport.Transport
	WebSocketHub *transport.WebSocketHub

	Workers   []*workers.Worker
	Scheduler *scheduler.Scheduler
	Backups   *reliability.BackupService

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// Databases returns the open databases
func (c *Container) Databases() []*database.DB {
	var dbs []*database.DB
	for _, db := range []*database.DB{c.LedgerDB, c.DecisionsDB} {
		if db != nil {
			dbs = append(dbs, db)
		}
	}
	return dbs
}
