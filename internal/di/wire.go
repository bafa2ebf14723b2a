package di

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/aristath/nexus/internal/config"
)

// Wire initializes all dependencies and returns a fully configured container.
// Call Start to begin consuming responses and running jobs, and Close on
// shutdown.
func Wire(ctx context.Context, cfg *config.Config, log zerolog.Logger) (*Container, error) {
	container := &Container{Config: cfg}

	// Step 1: Databases
	if err := InitializeDatabases(container, cfg, log); err != nil {
		return nil, fmt.Errorf("failed to initialize databases: %w", err)
	}

	// Step 2: Services, transport and workers
	if err := InitializeServices(ctx, container, cfg, log); err != nil {
		container.closeDatabases(log)
		return nil, fmt.Errorf("failed to initialize services: %w", err)
	}

	// Step 3: Background jobs
	if err := RegisterJobs(ctx, container, cfg, log); err != nil {
		container.Close(log)
		return nil, fmt.Errorf("failed to register jobs: %w", err)
	}

	log.Info().Msg("Dependency injection wiring completed")
	return container, nil
}

// Start launches the response consumer, the in-process workers and the
// scheduler. Everything stops when ctx is cancelled or Close is called.
func (c *Container) Start(ctx context.Context, log zerolog.Logger) {
	ctx, c.cancel = context.WithCancel(ctx)

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		if err := c.Orchestrator.ConsumeResponses(ctx, c.Transport); err != nil {
			log.Error().Err(err).Msg("Response consumer stopped")
		}
	}()

	for _, w := range c.Workers {
		w := w
		c.wg.Add(1)
		go func() {
			defer c.wg.Done()
			if err := w.Run(ctx); err != nil {
				log.Error().Err(err).Str("worker_id", w.ID()).Msg("Worker stopped")
			}
		}()
	}

	c.Scheduler.Start()
	log.Info().Int("workers", len(c.Workers)).Msg("Background processing started")
}

// Close stops background processing and releases the transport and
// databases
func (c *Container) Close(log zerolog.Logger) {
	if c.Scheduler != nil {
		c.Scheduler.Stop()
	}
	if c.cancel != nil {
		c.cancel()
	}
	// Closing the transport unblocks consumers that ignore ctx
	if c.Transport != nil {
		if err := c.Transport.Close(); err != nil {
			log.Error().Err(err).Msg("Failed to close transport")
		}
	}
	c.wg.Wait()
	c.closeDatabases(log)
}

func (c *Container) closeDatabases(log zerolog.Logger) {
	for _, db := range c.Databases() {
		if err := db.Close(); err != nil {
			log.Error().Err(err).Str("database", db.Name()).Msg("Failed to close database")
		}
	}
}
