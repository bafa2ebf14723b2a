package di

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog"

	"github.com/aristath/nexus/internal/config"
	"github.com/aristath/nexus/internal/coordinator"
	"github.com/aristath/nexus/internal/domain"
	"github.com/aristath/nexus/internal/events"
	"github.com/aristath/nexus/internal/modules/decision"
	"github.com/aristath/nexus/internal/modules/market"
	"github.com/aristath/nexus/internal/modules/portfolio"
	"github.com/aristath/nexus/internal/modules/risk"
	"github.com/aristath/nexus/internal/modules/strategy"
	"github.com/aristath/nexus/internal/orchestrator"
	"github.com/aristath/nexus/internal/transport"
	"github.com/aristath/nexus/internal/workers"
)

// InitializeServices builds the domain services, the transport and the
// orchestrator on top of the initialized databases
func InitializeServices(ctx context.Context, container *Container, cfg *config.Config, log zerolog.Logger) error {
	container.Bus = events.NewBus(log)

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	container.Registry = registry

	// Ledger
	var repo portfolio.Repository = portfolio.NewMemoryRepository()
	if container.LedgerDB != nil {
		repo = portfolio.NewSQLiteRepository(container.LedgerDB.Conn(), log)
	}
	container.History = portfolio.NewValueHistory()
	container.Ledger = portfolio.NewLedger(repo, container.History, container.Bus, log)

	// Market data
	var provider market.Provider = market.NewStaticProvider(nil)
	if cfg.Market.ServiceURL != "" {
		provider = market.NewHTTPProvider(cfg.Market.ServiceURL, cfg.Market.Timeout)
	}
	container.Market = market.NewService(provider, cfg.Market.CacheTTL, log)

	// Strategy
	presets, err := strategy.LoadPresets(cfg.StrategyFile)
	if err != nil {
		return fmt.Errorf("failed to load strategy presets: %w", err)
	}
	container.Strategy = strategy.NewEngine(container.Ledger, container.Market, presets, container.Bus, log)

	// Risk
	var failures risk.FailureRepository
	var decisions decision.Repository
	if container.DecisionsDB != nil {
		failures = risk.NewSQLiteFailureRepository(container.DecisionsDB.Conn(), log)
		decisions = decision.NewSQLiteRepository(container.DecisionsDB.Conn(), log)
	}
	container.Risk = risk.NewAnalyzer(risk.Config{Confidence: cfg.Risk.Confidence}, container.History, failures, container.Bus, log)

	// Decisions
	container.Decisions = decision.NewEngine(container.Strategy, container.Ledger, container.Risk, container.Market, decisions, container.Bus, log)

	// Transport
	tr, hub, err := newTransport(ctx, cfg.Transport, log)
	if err != nil {
		return err
	}
	container.Transport = tr
	container.WebSocketHub = hub

	// Orchestrator
	container.Orchestrator = orchestrator.New(orchestrator.Config{
		DefaultTimeout:       cfg.Orchestrator.DefaultTaskTimeout,
		PollInterval:         cfg.Orchestrator.ResultPollInterval,
		MaxInFlightPerWorker: cfg.Orchestrator.MaxConcurrentTasks,
	}, tr, orchestrator.NewMetrics(registry), container.Bus, log)

	if hub != nil {
		orch := container.Orchestrator
		hub.OnConnect(func(workerID string) {
			// Reconnecting workers come back ACTIVE
			_ = orch.Heartbeat(workerID)
		})
	}

	if err := registerStaticWorkers(container, cfg, log); err != nil {
		return err
	}
	if err := startSimulatedWorkers(container, cfg, log); err != nil {
		return err
	}

	// Coordinator
	container.Coordinator = coordinator.New(
		container.Ledger,
		container.Strategy,
		container.Risk,
		container.Decisions,
		container.Orchestrator,
		container.Market,
		coordinator.NewMetrics(registry),
		container.Bus,
		log,
	)

	log.Info().Msg("Services initialized")
	return nil
}

func newTransport(ctx context.Context, cfg config.TransportConfig, log zerolog.Logger) (transport.Transport, *transport.WebSocketHub, error) {
	switch cfg.Kind {
	case config.TransportRedis:
		tr, err := transport.NewRedisTransport(ctx, transport.RedisConfig{
			Address:  cfg.RedisAddress(),
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
			Prefix:   cfg.RedisQueue,
		}, log)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to connect redis transport: %w", err)
		}
		return tr, nil, nil

	case config.TransportRabbitMQ:
		tr, err := transport.NewRabbitMQTransport(transport.RabbitMQConfig{
			URL:    cfg.RabbitMQURL,
			Prefix: cfg.RabbitMQQueue,
		}, log)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to connect rabbitmq transport: %w", err)
		}
		return tr, nil, nil

	case config.TransportWebSocket:
		hub := transport.NewWebSocketHub(log)
		return hub, hub, nil

	default:
		return transport.NewMemoryTransport(log), nil, nil
	}
}

func registerStaticWorkers(container *Container, cfg *config.Config, log zerolog.Logger) error {
	specs, err := config.LoadWorkers(cfg.WorkersFile)
	if err != nil {
		return err
	}
	for _, spec := range specs {
		if err := container.Orchestrator.RegisterWorker(spec.ID, spec.Capabilities, spec.Endpoint); err != nil {
			return fmt.Errorf("failed to register worker %s: %w", spec.ID, err)
		}
	}
	if len(specs) > 0 {
		log.Info().Int("count", len(specs)).Str("file", cfg.WorkersFile).Msg("Registered static workers")
	}
	return nil
}

// startSimulatedWorkers creates one in-process worker per capability. With
// the WebSocket transport workers must dial in, so none are created.
func startSimulatedWorkers(container *Container, cfg *config.Config, log zerolog.Logger) error {
	if !cfg.Orchestrator.SimulateWorkers {
		return nil
	}
	if container.WebSocketHub != nil {
		log.Warn().Msg("Simulated workers need a queue transport; run `nexusctl worker` against the WebSocket endpoint instead")
		return nil
	}

	wcfg := workers.Config{
		Delay:             200 * time.Millisecond,
		HeartbeatInterval: cfg.Orchestrator.WorkerPingInterval,
	}
	sims := []struct {
		id       string
		executor workers.Executor
	}{
		{"sim-equity-1", workers.NewEquityTrader(nil)},
		{"sim-crypto-1", workers.NewCryptoTrader(nil)},
		{"sim-risk-1", workers.NewRiskAnalyst()},
	}

	for _, sim := range sims {
		w := workers.New(sim.id, wcfg, container.Transport, container.Orchestrator, log, sim.executor)
		if err := container.Orchestrator.RegisterWorker(w.ID(), w.Capabilities(), "simulated"); err != nil {
			return fmt.Errorf("failed to register simulated worker %s: %w", sim.id, err)
		}
		container.Workers = append(container.Workers, w)
	}

	log.Info().
		Strs("capabilities", []string{domain.CapabilityEquityTrader, domain.CapabilityCryptoTrader, domain.CapabilityRiskAnalyzer}).
		Msg("Simulated workers registered")
	return nil
}
