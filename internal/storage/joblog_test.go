package storage

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/mknight/arbiter/internal/queue"
	"github.com/mknight/arbiter/internal/router"
)

func openTestDB(t *testing.T) *JobLog {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "arbiter.db")
	db, err := OpenSQLite(context.Background(), dbPath)
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return NewJobLog(db)
}

func terminalJob(status queue.Status) *queue.Job {
	job := queue.NewJob(queue.Payload{Kind: queue.KindAnalyze, Text: "x"}, router.Decision{
		TargetTier: 5, Complexity: 0.4, Mode: "analysis",
	})
	started := time.Now().UTC().Add(-100 * time.Millisecond)
	ended := time.Now().UTC()
	job.Status = status
	job.AssignedWorker = 2
	job.StartedAt = &started
	job.EndedAt = &ended
	return job
}

func TestJobLogAppendAndRecent(t *testing.T) {
	t.Parallel()

	l := openTestDB(t)
	job := terminalJob(queue.StatusCompleted)
	if err := l.Append(context.Background(), job); err != nil {
		t.Fatalf("Append: %v", err)
	}

	entries, err := l.Recent(context.Background(), 10)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(entries))
	}
	e := entries[0]
	if e.ID != job.ID || e.Kind != queue.KindAnalyze || e.Status != queue.StatusCompleted {
		t.Fatalf("unexpected entry: %+v", e)
	}
	if e.TargetTier != 5 || e.WorkerID != 2 {
		t.Fatalf("unexpected routing fields: %+v", e)
	}
	if e.DurationMs <= 0 {
		t.Fatalf("expected positive duration, got %d", e.DurationMs)
	}
}

func TestJobLogRejectsNonTerminal(t *testing.T) {
	t.Parallel()

	l := openTestDB(t)
	job := queue.NewJob(queue.Payload{Kind: queue.KindFix}, router.Decision{})
	if err := l.Append(context.Background(), job); err == nil {
		t.Fatal("expected error for non-terminal job")
	}
}

func TestJobLogCount(t *testing.T) {
	t.Parallel()

	l := openTestDB(t)
	for i := 0; i < 3; i++ {
		if err := l.Append(context.Background(), terminalJob(queue.StatusFailed)); err != nil {
			t.Fatalf("Append %d: %v", i, err)
		}
	}

	n, err := l.Count(context.Background())
	if err != nil {
		t.Fatalf("Count: %v", err)
	}
	if n != 3 {
		t.Fatalf("Count = %d, want 3", n)
	}
}
