package sidecar

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Launch attempt outcomes.
const (
	OutcomePending = "pending"
	OutcomeReady   = "ready"
	OutcomeFailed  = "failed"
	OutcomeStopped = "stopped"
)

// History list bounds.
const (
	defaultHistoryLimit = 20
	maxHistoryLimit     = 200
)

// timeLayout has fixed-width fractions so stored timestamps sort as text.
const timeLayout = "2006-01-02T15:04:05.000000Z07:00"

// ErrAttemptNotFound is returned when a launch attempt ID is unknown.
var ErrAttemptNotFound = errors.New("launch attempt not found")

// Attempt is one recorded backend launch.
type Attempt struct {
	ID         string     `json:"id"`
	Mode       string     `json:"mode"`
	PID        int        `json:"pid"`
	LogPath    string     `json:"log_path"`
	StartedAt  time.Time  `json:"started_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
	Outcome    string     `json:"outcome"`
	Reason     string     `json:"reason,omitempty"`
	ReadyMS    int64      `json:"ready_ms,omitempty"`
}

// HistoryRepository stores launch attempts.
type HistoryRepository interface {
	Create(ctx context.Context, a *Attempt) error
	Resolve(ctx context.Context, id, outcome, reason string, readyMS int64) error
	MarkFinished(ctx context.Context, id string, at time.Time) error
	List(ctx context.Context, limit int) ([]Attempt, error)
}

// SQLiteHistory keeps launch attempts in the launch_attempts table.
type SQLiteHistory struct {
	db *sql.DB
}

// NewSQLiteHistory creates a history repository over an open database.
func NewSQLiteHistory(db *sql.DB) *SQLiteHistory {
	return &SQLiteHistory{db: db}
}

// Create inserts a pending attempt. ID and StartedAt are filled in if empty.
func (r *SQLiteHistory) Create(ctx context.Context, a *Attempt) error {
	if a.ID == "" {
		a.ID = "launch-" + uuid.NewString()[:8]
	}
	if a.StartedAt.IsZero() {
		a.StartedAt = time.Now().UTC()
	}
	if a.Outcome == "" {
		a.Outcome = OutcomePending
	}

	_, err := r.db.ExecContext(ctx,
		`INSERT INTO launch_attempts (id, mode, pid, log_path, started_at, outcome)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		a.ID, a.Mode, a.PID, a.LogPath, a.StartedAt.UTC().Format(timeLayout), a.Outcome,
	)
	if err != nil {
		return fmt.Errorf("inserting launch attempt: %w", err)
	}
	return nil
}

// Resolve records how the readiness wait ended.
func (r *SQLiteHistory) Resolve(ctx context.Context, id, outcome, reason string, readyMS int64) error {
	var ms any
	if outcome == OutcomeReady {
		ms = readyMS
	}
	var why any
	if reason != "" {
		why = reason
	}

	res, err := r.db.ExecContext(ctx,
		`UPDATE launch_attempts SET outcome = ?, reason = ?, ready_ms = ? WHERE id = ?`,
		outcome, why, ms, id,
	)
	if err != nil {
		return fmt.Errorf("resolving launch attempt: %w", err)
	}
	return requireRow(res, id)
}

// MarkFinished stamps the end of the attempt. An attempt still pending
// becomes stopped; a resolved outcome is kept.
func (r *SQLiteHistory) MarkFinished(ctx context.Context, id string, at time.Time) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE launch_attempts
		 SET finished_at = ?,
		     outcome = CASE WHEN outcome = 'pending' THEN 'stopped' ELSE outcome END
		 WHERE id = ?`,
		at.UTC().Format(timeLayout), id,
	)
	if err != nil {
		return fmt.Errorf("finishing launch attempt: %w", err)
	}
	return requireRow(res, id)
}

func requireRow(res sql.Result, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", ErrAttemptNotFound, id)
	}
	return nil
}

// List returns attempts newest first. limit <= 0 selects the default.
func (r *SQLiteHistory) List(ctx context.Context, limit int) ([]Attempt, error) {
	if limit <= 0 {
		limit = defaultHistoryLimit
	}
	limit = min(limit, maxHistoryLimit)

	rows, err := r.db.QueryContext(ctx,
		`SELECT id, mode, pid, log_path, started_at, finished_at, outcome, reason, ready_ms
		 FROM launch_attempts ORDER BY started_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("querying launch attempts: %w", err)
	}
	defer rows.Close()

	var out []Attempt
	for rows.Next() {
		var (
			a                Attempt
			started          string
			finished, reason sql.NullString
			readyMS          sql.NullInt64
		)
		if err := rows.Scan(&a.ID, &a.Mode, &a.PID, &a.LogPath, &started, &finished, &a.Outcome, &reason, &readyMS); err != nil {
			return nil, fmt.Errorf("scanning launch attempt: %w", err)
		}
		if a.StartedAt, err = time.Parse(timeLayout, started); err != nil {
			return nil, fmt.Errorf("parsing started_at: %w", err)
		}
		if finished.Valid {
			t, err := time.Parse(timeLayout, finished.String)
			if err != nil {
				return nil, fmt.Errorf("parsing finished_at: %w", err)
			}
			a.FinishedAt = &t
		}
		a.Reason = reason.String
		a.ReadyMS = readyMS.Int64
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating launch attempts: %w", err)
	}
	return out, nil
}
