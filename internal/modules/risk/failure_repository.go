package risk

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// FailureRepository stores worker execution failures
type FailureRepository interface {
	Record(ctx context.Context, f ExecutionFailure) error
	List(ctx context.Context, userID string, limit int) ([]ExecutionFailure, error)
}

// MemoryFailureRepository keeps failures in process memory
type MemoryFailureRepository struct {
	failures []ExecutionFailure
	nextID   int64
	mu       sync.RWMutex
}

// NewMemoryFailureRepository creates an empty in-memory failure log
func NewMemoryFailureRepository() *MemoryFailureRepository {
	return &MemoryFailureRepository{}
}

// Record appends a failure
func (r *MemoryFailureRepository) Record(ctx context.Context, f ExecutionFailure) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.nextID++
	f.ID = r.nextID
	r.failures = append(r.failures, f)
	return nil
}

// List returns the user's failures, newest first
func (r *MemoryFailureRepository) List(ctx context.Context, userID string, limit int) ([]ExecutionFailure, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := []ExecutionFailure{}
	for i := len(r.failures) - 1; i >= 0; i-- {
		if r.failures[i].UserID != userID {
			continue
		}
		result = append(result, r.failures[i])
		if limit > 0 && len(result) == limit {
			break
		}
	}
	return result, nil
}

// SQLiteFailureRepository stores failures in the decisions database
type SQLiteFailureRepository struct {
	db  *sql.DB
	log zerolog.Logger
}

// NewSQLiteFailureRepository creates a failure repository
func NewSQLiteFailureRepository(db *sql.DB, log zerolog.Logger) *SQLiteFailureRepository {
	return &SQLiteFailureRepository{
		db:  db,
		log: log.With().Str("repo", "execution_failures").Logger(),
	}
}

// Record inserts a failure
func (r *SQLiteFailureRepository) Record(ctx context.Context, f ExecutionFailure) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO execution_failures (user_id, worker_type, error, created_at)
		VALUES (?, ?, ?, ?)
	`, f.UserID, f.WorkerType, f.Error, f.CreatedAt.Unix())
	if err != nil {
		return fmt.Errorf("failed to insert execution failure: %w", err)
	}
	return nil
}

// List returns the user's failures, newest first
func (r *SQLiteFailureRepository) List(ctx context.Context, userID string, limit int) ([]ExecutionFailure, error) {
	query := `
		SELECT id, user_id, worker_type, error, created_at
		FROM execution_failures
		WHERE user_id = ?
		ORDER BY created_at DESC, id DESC
	`
	args := []interface{}{userID}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query execution failures: %w", err)
	}
	defer rows.Close()

	result := []ExecutionFailure{}
	for rows.Next() {
		var f ExecutionFailure
		var createdAt int64
		if err := rows.Scan(&f.ID, &f.UserID, &f.WorkerType, &f.Error, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan execution failure: %w", err)
		}
		f.CreatedAt = time.Unix(createdAt, 0).UTC()
		result = append(result, f)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating execution failures: %w", err)
	}
	return result, nil
}
