package di

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/nexus/internal/config"
	"github.com/aristath/nexus/internal/reliability"
	"github.com/aristath/nexus/internal/scheduler"
)

const (
	terminalTaskRetention = 24 * time.Hour
	walCheckpointSchedule = "0 */15 * * * *"
	maintenanceSchedule   = "0 0 2 * * *"
)

// RegisterJobs creates the scheduler and registers the background jobs
func RegisterJobs(ctx context.Context, container *Container, cfg *config.Config, log zerolog.Logger) error {
	sched := scheduler.New(log)
	container.Scheduler = sched

	// Active timeout sweep
	if err := sched.AddJob(cfg.Orchestrator.SweepSchedule, scheduler.NewTaskSweepJob(container.Orchestrator, log)); err != nil {
		return fmt.Errorf("failed to register task sweep job: %w", err)
	}

	housekeeping := scheduler.NewHousekeepingJob(
		container.Orchestrator,
		container.Coordinator,
		terminalTaskRetention,
		cfg.Orchestrator.WorkerTimeout,
		log,
	)
	if err := sched.AddJob(cfg.Orchestrator.PurgeSchedule, housekeeping); err != nil {
		return fmt.Errorf("failed to register housekeeping job: %w", err)
	}

	dbs := container.Databases()
	if len(dbs) > 0 {
		if err := sched.AddJob(walCheckpointSchedule, scheduler.NewCheckWALCheckpointsJob(log, dbs...)); err != nil {
			return fmt.Errorf("failed to register WAL checkpoint job: %w", err)
		}

		maintenance := reliability.NewMaintenanceJob(dbs, cfg.DataDir, reliability.GopsutilDiskUsage, log)
		if err := sched.AddJob(maintenanceSchedule, maintenance); err != nil {
			return fmt.Errorf("failed to register maintenance job: %w", err)
		}
	}

	if cfg.Backup.Enabled && len(dbs) > 0 {
		store, err := reliability.NewS3Client(ctx, reliability.S3Config{
			Bucket:          cfg.Backup.Bucket,
			Endpoint:        cfg.Backup.Endpoint,
			Region:          cfg.Backup.Region,
			AccessKeyID:     cfg.Backup.AccessKeyID,
			SecretAccessKey: cfg.Backup.SecretAccessKey,
		}, log)
		if err != nil {
			return fmt.Errorf("failed to create backup store: %w", err)
		}
		container.Backups = reliability.NewBackupService(store, dbs, cfg.DataDir, cfg.Backup.RetentionDays, log)
		if err := sched.AddJob(cfg.Backup.Schedule, scheduler.NewBackupJob(container.Backups, 0)); err != nil {
			return fmt.Errorf("failed to register backup job: %w", err)
		}
	}

	log.Info().Strs("jobs", sched.Jobs()).Msg("Background jobs registered")
	return nil
}
