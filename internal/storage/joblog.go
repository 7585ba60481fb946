package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/mknight/arbiter/internal/queue"
)

// JobLog persists terminal jobs for post-mortem inspection. The in-memory
// completed-history ring serves live status; this table outlives restarts.
type JobLog struct {
	db *sql.DB
}

// NewJobLog creates a JobLog over an opened database.
func NewJobLog(db *sql.DB) *JobLog {
	return &JobLog{db: db}
}

// LogEntry is a lightweight projection of one terminal job.
type LogEntry struct {
	ID         string
	Kind       queue.Kind
	Status     queue.Status
	TargetTier int
	Complexity float64
	Mode       string
	WorkerID   int
	CreatedAt  time.Time
	DurationMs int64
	Error      *string
}

// Append records a terminal job. Non-terminal jobs are rejected.
func (l *JobLog) Append(ctx context.Context, job *queue.Job) error {
	if job == nil {
		return fmt.Errorf("job is nil")
	}
	if !job.Status.Terminal() {
		return fmt.Errorf("job %s is not terminal (status %s)", job.ID, job.Status)
	}

	var startedAt, completedAt any
	var durationMs any
	if job.StartedAt != nil {
		startedAt = job.StartedAt.UTC().Format(time.RFC3339Nano)
	}
	if job.EndedAt != nil {
		completedAt = job.EndedAt.UTC().Format(time.RFC3339Nano)
		if job.StartedAt != nil {
			durationMs = job.EndedAt.Sub(*job.StartedAt).Milliseconds()
		}
	}

	_, err := l.db.ExecContext(ctx, `
INSERT INTO job_log(
  id, kind, status, target_tier, complexity, execution_mode, worker_id,
  created_at, started_at, completed_at, duration_ms, error
)
VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?);
`, job.ID, job.Payload.Kind, job.Status, job.Routing.TargetTier, job.Routing.Complexity,
		string(job.Routing.Mode), job.AssignedWorker,
		job.CreatedAt.UTC().Format(time.RFC3339Nano), startedAt, completedAt, durationMs, job.Error)
	if err != nil {
		return fmt.Errorf("append job_log: %w", err)
	}
	return nil
}

// Recent returns the most recently created terminal jobs, newest first.
func (l *JobLog) Recent(ctx context.Context, limit int) ([]LogEntry, error) {
	if limit <= 0 {
		limit = 50
	}

	rows, err := l.db.QueryContext(ctx, `
SELECT id, kind, status, target_tier, complexity, execution_mode, worker_id,
       created_at, duration_ms, error
FROM job_log
ORDER BY created_at DESC
LIMIT ?;
`, limit)
	if err != nil {
		return nil, fmt.Errorf("query job_log: %w", err)
	}
	defer rows.Close()

	var out []LogEntry
	for rows.Next() {
		var (
			e          LogEntry
			kindS      string
			statusS    string
			workerID   sql.NullInt64
			createdAtS string
			durationMs sql.NullInt64
			errS       sql.NullString
		)
		if err := rows.Scan(&e.ID, &kindS, &statusS, &e.TargetTier, &e.Complexity, &e.Mode,
			&workerID, &createdAtS, &durationMs, &errS); err != nil {
			return nil, fmt.Errorf("scan job_log: %w", err)
		}
		e.Kind = queue.Kind(kindS)
		e.Status = queue.Status(statusS)
		if workerID.Valid {
			e.WorkerID = int(workerID.Int64)
		}
		if t, err := time.Parse(time.RFC3339Nano, createdAtS); err == nil {
			e.CreatedAt = t
		}
		if durationMs.Valid {
			e.DurationMs = durationMs.Int64
		}
		if errS.Valid {
			e.Error = &errS.String
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// Count returns the total number of logged jobs.
func (l *JobLog) Count(ctx context.Context) (int, error) {
	var n int
	if err := l.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM job_log;").Scan(&n); err != nil {
		return 0, fmt.Errorf("count job_log: %w", err)
	}
	return n, nil
}
