package scheduler

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/nexus/internal/database"
)

func testLogger() zerolog.Logger {
	return zerolog.New(nil).Level(zerolog.Disabled)
}

type countingJob struct {
	name string
	err  error
	mu   sync.Mutex
	runs int
}

func (j *countingJob) Name() string { return j.name }

func (j *countingJob) Run() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.runs++
	return j.err
}

func (j *countingJob) count() int {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.runs
}

type fakeSweeper struct {
	swept, purged int
	inactive      []string
	retention     time.Duration
	maxAge        time.Duration
}

func (f *fakeSweeper) SweepExpired() int { return f.swept }

func (f *fakeSweeper) PurgeTerminal(olderThan time.Duration) int {
	f.retention = olderThan
	return f.purged
}

func (f *fakeSweeper) DeactivateStaleWorkers(maxAge time.Duration) []string {
	f.maxAge = maxAge
	return f.inactive
}

type fakePurger struct{ calls int }

func (f *fakePurger) PurgeStale() int {
	f.calls++
	return 3
}

type fakeBackuper struct {
	err      error
	deadline bool
}

func (f *fakeBackuper) BackupAll(ctx context.Context) error {
	_, f.deadline = ctx.Deadline()
	return f.err
}

func TestScheduler_RunsJobsOnSchedule(t *testing.T) {
	s := New(testLogger())
	job := &countingJob{name: "tick"}
	require.NoError(t, s.AddJob("@every 1s", job))

	s.Start()
	defer s.Stop()

	assert.Eventually(t, func() bool { return job.count() >= 1 }, 3*time.Second, 50*time.Millisecond)
}

func TestScheduler_AddJobValidation(t *testing.T) {
	s := New(testLogger())

	assert.Error(t, s.AddJob("not a schedule", &countingJob{name: "bad"}))
	require.NoError(t, s.AddJob("0 0 3 * * *", &countingJob{name: "backup"}))
	require.NoError(t, s.AddJob("@hourly", &countingJob{name: "hourly"}))
	assert.Error(t, s.AddJob("@hourly", &countingJob{name: "hourly"}))

	assert.ElementsMatch(t, []string{"backup", "hourly"}, s.Jobs())
}

func TestScheduler_RunNow(t *testing.T) {
	s := New(testLogger())
	failing := &countingJob{name: "failing", err: errors.New("boom")}
	require.NoError(t, s.AddJob("@daily", failing))

	assert.EqualError(t, s.RunNow("failing"), "boom")
	assert.Equal(t, 1, failing.count())
	assert.Error(t, s.RunNow("missing"))
}

func TestHousekeepingJob(t *testing.T) {
	sweeper := &fakeSweeper{purged: 2, inactive: []string{"equity-1"}}
	purger := &fakePurger{}
	job := NewHousekeepingJob(sweeper, purger, time.Hour, 2*time.Minute, testLogger())

	require.NoError(t, job.Run())
	assert.Equal(t, "housekeeping", job.Name())
	assert.Equal(t, time.Hour, sweeper.retention)
	assert.Equal(t, 2*time.Minute, sweeper.maxAge)
	assert.Equal(t, 1, purger.calls)

	require.NoError(t, NewHousekeepingJob(sweeper, nil, time.Hour, 0, testLogger()).Run())
}

func TestTaskSweepJob(t *testing.T) {
	job := NewTaskSweepJob(&fakeSweeper{swept: 4}, testLogger())
	assert.Equal(t, "task_sweep", job.Name())
	assert.NoError(t, job.Run())
}

func TestBackupJob(t *testing.T) {
	b := &fakeBackuper{}
	job := NewBackupJob(b, 0)
	require.NoError(t, job.Run())
	assert.True(t, b.deadline)

	b.err = errors.New("bucket missing")
	assert.Error(t, job.Run())
}

func TestCheckWALCheckpointsJob(t *testing.T) {
	db, err := database.New(database.Config{
		Path:    filepath.Join(t.TempDir(), "ledger.db"),
		Profile: database.ProfileLedger,
		Name:    database.NameLedger,
	})
	require.NoError(t, err)
	defer db.Close()

	job := NewCheckWALCheckpointsJob(testLogger(), db, nil)
	assert.Equal(t, "check_wal_checkpoints", job.Name())
	assert.NoError(t, job.Run())
}
