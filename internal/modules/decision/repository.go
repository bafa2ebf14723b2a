package decision

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Repository is the append-only decision log
type Repository interface {
	Append(ctx context.Context, e Entry) error
	// RecordOutcome sets the outcome on every entry of the task that has none
	// yet and returns how many entries were updated
	RecordOutcome(ctx context.Context, taskID, outcome, details string, at time.Time) (int, error)
	Recent(ctx context.Context, userID string, limit int) ([]Entry, error)
}

// MemoryRepository keeps the log in process memory
type MemoryRepository struct {
	entries []Entry
	mu      sync.RWMutex
}

// NewMemoryRepository creates an empty decision log
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{}
}

// Append adds an entry
func (r *MemoryRepository) Append(ctx context.Context, e Entry) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = append(r.entries, e)
	return nil
}

// RecordOutcome updates entries of the task without an outcome
func (r *MemoryRepository) RecordOutcome(ctx context.Context, taskID, outcome, details string, at time.Time) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	updated := 0
	for i := range r.entries {
		e := &r.entries[i]
		if e.TaskID != taskID || e.Outcome != "" {
			continue
		}
		ts := at
		e.Outcome = outcome
		e.OutcomeDetails = details
		e.OutcomeAt = &ts
		updated++
	}
	return updated, nil
}

// Recent returns the newest entries for the user
func (r *MemoryRepository) Recent(ctx context.Context, userID string, limit int) ([]Entry, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := []Entry{}
	for i := len(r.entries) - 1; i >= 0; i-- {
		if r.entries[i].UserID != userID {
			continue
		}
		result = append(result, r.entries[i])
		if limit > 0 && len(result) == limit {
			break
		}
	}
	return result, nil
}

// SQLiteRepository stores the log in the decisions database
type SQLiteRepository struct {
	db  *sql.DB
	log zerolog.Logger
}

// NewSQLiteRepository creates a decision log repository
func NewSQLiteRepository(db *sql.DB, log zerolog.Logger) *SQLiteRepository {
	return &SQLiteRepository{
		db:  db,
		log: log.With().Str("repo", "decisions").Logger(),
	}
}

// Append inserts an entry
func (r *SQLiteRepository) Append(ctx context.Context, e Entry) error {
	data, err := json.Marshal(e.Data)
	if err != nil {
		return fmt.Errorf("failed to marshal decision data: %w", err)
	}

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO decisions (id, user_id, task_id, decision_type, description, data, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, e.ID, e.UserID, e.TaskID, e.DecisionType, e.Description, string(data), e.CreatedAt.Unix())
	if err != nil {
		return fmt.Errorf("failed to insert decision: %w", err)
	}
	return nil
}

// RecordOutcome updates entries of the task without an outcome
func (r *SQLiteRepository) RecordOutcome(ctx context.Context, taskID, outcome, details string, at time.Time) (int, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE decisions
		SET outcome = ?, outcome_details = ?, outcome_at = ?
		WHERE task_id = ? AND outcome = ''
	`, outcome, details, at.Unix(), taskID)
	if err != nil {
		return 0, fmt.Errorf("failed to record outcome: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get affected rows: %w", err)
	}
	return int(n), nil
}

// Recent returns the newest entries for the user
func (r *SQLiteRepository) Recent(ctx context.Context, userID string, limit int) ([]Entry, error) {
	query := `
		SELECT id, user_id, task_id, decision_type, description, data, outcome, outcome_details, created_at, outcome_at
		FROM decisions
		WHERE user_id = ?
		ORDER BY created_at DESC, rowid DESC
	`
	args := []interface{}{userID}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query decisions: %w", err)
	}
	defer rows.Close()

	result := []Entry{}
	for rows.Next() {
		var e Entry
		var data string
		var createdAt int64
		var outcomeAt sql.NullInt64
		if err := rows.Scan(&e.ID, &e.UserID, &e.TaskID, &e.DecisionType, &e.Description, &data,
			&e.Outcome, &e.OutcomeDetails, &createdAt, &outcomeAt); err != nil {
			return nil, fmt.Errorf("failed to scan decision: %w", err)
		}
		if err := json.Unmarshal([]byte(data), &e.Data); err != nil {
			r.log.Warn().Err(err).Str("decision_id", e.ID).Msg("Failed to unmarshal decision data")
		}
		e.CreatedAt = time.Unix(createdAt, 0).UTC()
		if outcomeAt.Valid {
			t := time.Unix(outcomeAt.Int64, 0).UTC()
			e.OutcomeAt = &t
		}
		result = append(result, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating decisions: %w", err)
	}
	return result, nil
}
