package scheduler

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/nexus/internal/database"
)

// TaskSweeper times out overdue tasks
type TaskSweeper interface {
	SweepExpired() int
	PurgeTerminal(olderThan time.Duration) int
	DeactivateStaleWorkers(maxAge time.Duration) []string
}

// IndexPurger drops stale correlation entries
type IndexPurger interface {
	PurgeStale() int
}

// Backuper uploads database backups
type Backuper interface {
	BackupAll(ctx context.Context) error
}

// TaskSweepJob moves overdue PENDING and RUNNING tasks to TIMEOUT
type TaskSweepJob struct {
	tasks TaskSweeper
	log   zerolog.Logger
}

// NewTaskSweepJob creates the timeout sweep job
func NewTaskSweepJob(tasks TaskSweeper, log zerolog.Logger) *TaskSweepJob {
	return &TaskSweepJob{tasks: tasks, log: log.With().Str("job", "task_sweep").Logger()}
}

// Name returns the job name
func (j *TaskSweepJob) Name() string { return "task_sweep" }

// Run executes the sweep
func (j *TaskSweepJob) Run() error {
	if n := j.tasks.SweepExpired(); n > 0 {
		j.log.Info().Int("timed_out", n).Msg("Swept expired tasks")
	}
	return nil
}

// HousekeepingJob purges old terminal tasks, stale correlation entries and
// silent workers
type HousekeepingJob struct {
	tasks        TaskSweeper
	index        IndexPurger
	retention    time.Duration
	workerMaxAge time.Duration
	log          zerolog.Logger
}

// NewHousekeepingJob creates the housekeeping job. index may be nil.
func NewHousekeepingJob(tasks TaskSweeper, index IndexPurger, retention, workerMaxAge time.Duration, log zerolog.Logger) *HousekeepingJob {
	return &HousekeepingJob{
		tasks:        tasks,
		index:        index,
		retention:    retention,
		workerMaxAge: workerMaxAge,
		log:          log.With().Str("job", "housekeeping").Logger(),
	}
}

// Name returns the job name
func (j *HousekeepingJob) Name() string { return "housekeeping" }

// Run executes housekeeping
func (j *HousekeepingJob) Run() error {
	purged := j.tasks.PurgeTerminal(j.retention)

	var inactive []string
	if j.workerMaxAge > 0 {
		inactive = j.tasks.DeactivateStaleWorkers(j.workerMaxAge)
	}

	stale := 0
	if j.index != nil {
		stale = j.index.PurgeStale()
	}

	j.log.Info().
		Int("purged_tasks", purged).
		Int("stale_entries", stale).
		Strs("inactive_workers", inactive).
		Msg("Housekeeping completed")
	return nil
}

// CheckWALCheckpointsJob checkpoints each database's WAL and warns when a
// WAL has grown large
type CheckWALCheckpointsJob struct {
	databases []*database.DB
	log       zerolog.Logger
}

// NewCheckWALCheckpointsJob creates the WAL checkpoint job. Nil databases are skipped.
func NewCheckWALCheckpointsJob(log zerolog.Logger, databases ...*database.DB) *CheckWALCheckpointsJob {
	return &CheckWALCheckpointsJob{
		databases: databases,
		log:       log.With().Str("job", "check_wal_checkpoints").Logger(),
	}
}

// Name returns the job name
func (j *CheckWALCheckpointsJob) Name() string { return "check_wal_checkpoints" }

// Run executes the checkpoint pass
func (j *CheckWALCheckpointsJob) Run() error {
	checked := 0
	for _, db := range j.databases {
		if db == nil {
			continue
		}

		// PRAGMA wal_checkpoint returns: busy, log, checkpointed
		var busy, frames, checkpointed int
		err := db.Conn().QueryRow("PRAGMA wal_checkpoint(PASSIVE)").Scan(&busy, &frames, &checkpointed)
		if err != nil {
			j.log.Warn().Err(err).Str("database", db.Name()).Msg("Failed to check WAL checkpoint")
			continue
		}

		if frames > 1000 {
			j.log.Warn().
				Str("database", db.Name()).
				Int("wal_frames", frames).
				Int("checkpointed", checkpointed).
				Msg("WAL file is large, forcing truncate checkpoint")
			if err := db.WALCheckpoint("TRUNCATE"); err != nil {
				j.log.Warn().Err(err).Str("database", db.Name()).Msg("Truncate checkpoint failed")
			}
		}
		checked++
	}

	j.log.Debug().Int("checked", checked).Msg("WAL checkpoint check completed")
	return nil
}

// BackupJob uploads database snapshots to object storage
type BackupJob struct {
	backups Backuper
	timeout time.Duration
}

// NewBackupJob creates the backup job
func NewBackupJob(backups Backuper, timeout time.Duration) *BackupJob {
	if timeout <= 0 {
		timeout = 10 * time.Minute
	}
	return &BackupJob{backups: backups, timeout: timeout}
}

// Name returns the job name
func (j *BackupJob) Name() string { return "backup" }

// Run executes the backup
func (j *BackupJob) Run() error {
	ctx, cancel := context.WithTimeout(context.Background(), j.timeout)
	defer cancel()
	return j.backups.BackupAll(ctx)
}
