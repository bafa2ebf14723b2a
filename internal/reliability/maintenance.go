package reliability

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/shirou/gopsutil/v3/disk"

	"github.com/aristath/nexus/internal/database"
)

const (
	criticalFreeGB = 0.5
	lowFreeGB      = 5.0
	// Databases whose free pages exceed this share of all pages are vacuumed
	vacuumFreelistRatio = 0.25
)

// DiskUsage reports free space for a path
type DiskUsage func(path string) (freeGB float64, err error)

// GopsutilDiskUsage reads free space through gopsutil
func GopsutilDiskUsage(path string) (float64, error) {
	usage, err := disk.Usage(path)
	if err != nil {
		return 0, err
	}
	return float64(usage.Free) / 1e9, nil
}

// MaintenanceJob runs the daily database maintenance pass: integrity check,
// WAL truncation, free space check and VACUUM of fragmented databases
type MaintenanceJob struct {
	databases []*database.DB
	dataDir   string
	usage     DiskUsage
	log       zerolog.Logger
}

// NewMaintenanceJob creates the maintenance job. A nil usage reads the disk through gopsutil.
func NewMaintenanceJob(databases []*database.DB, dataDir string, usage DiskUsage, log zerolog.Logger) *MaintenanceJob {
	if usage == nil {
		usage = GopsutilDiskUsage
	}
	return &MaintenanceJob{
		databases: databases,
		dataDir:   dataDir,
		usage:     usage,
		log:       log.With().Str("job", "maintenance").Logger(),
	}
}

// Name returns the job name for scheduler
func (j *MaintenanceJob) Name() string {
	return "maintenance"
}

// Run executes the maintenance pass
func (j *MaintenanceJob) Run() error {
	j.log.Info().Msg("Starting maintenance")
	start := time.Now()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	for _, db := range j.databases {
		if db == nil {
			continue
		}
		if err := db.HealthCheck(ctx); err != nil {
			j.log.Error().Err(err).Str("database", db.Name()).Msg("Integrity check failed")
			return fmt.Errorf("integrity check failed for %s: %w", db.Name(), err)
		}
		if err := db.WALCheckpoint("TRUNCATE"); err != nil {
			// Not critical; the next pass retries
			j.log.Warn().Err(err).Str("database", db.Name()).Msg("WAL checkpoint failed")
		}
		j.vacuumIfFragmented(db)
	}

	if err := j.checkDiskSpace(); err != nil {
		return err
	}

	j.log.Info().Dur("duration_ms", time.Since(start)).Msg("Maintenance completed")
	return nil
}

func (j *MaintenanceJob) checkDiskSpace() error {
	freeGB, err := j.usage(j.dataDir)
	if err != nil {
		return fmt.Errorf("failed to read disk usage: %w", err)
	}

	switch {
	case freeGB < criticalFreeGB:
		j.log.Error().Float64("available_gb", freeGB).Msg("CRITICAL: insufficient disk space")
		return fmt.Errorf("only %.2f GB free in %s", freeGB, j.dataDir)
	case freeGB < lowFreeGB:
		j.log.Warn().Float64("available_gb", freeGB).Msg("Disk space running low")
	default:
		j.log.Debug().Float64("available_gb", freeGB).Msg("Disk space check")
	}
	return nil
}

func (j *MaintenanceJob) vacuumIfFragmented(db *database.DB) {
	stats, err := db.GetStats()
	if err != nil {
		j.log.Warn().Err(err).Str("database", db.Name()).Msg("Failed to read database stats")
		return
	}
	if stats.PageCount == 0 || float64(stats.FreelistCount)/float64(stats.PageCount) < vacuumFreelistRatio {
		return
	}

	before := stats.PageCount * stats.PageSize
	if _, err := db.Conn().Exec("VACUUM"); err != nil {
		j.log.Error().Err(err).Str("database", db.Name()).Msg("VACUUM failed")
		return
	}

	after := before
	if s, err := db.GetStats(); err == nil {
		after = s.PageCount * s.PageSize
	}
	j.log.Info().
		Str("database", db.Name()).
		Float64("size_before_mb", float64(before)/1024/1024).
		Float64("size_after_mb", float64(after)/1024/1024).
		Msg("VACUUM completed")
}
