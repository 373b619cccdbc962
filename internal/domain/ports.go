package domain

import (
	"context"
	"time"
)

// HistoryStore reads and deletes snapshots. It is implemented over a plain
// connection pool and over a single transaction.
type HistoryStore interface {
	// History streams the snapshots of one object newest-first
	// (date DESC, history id DESC). A non-nil since keeps date >= since.
	History(ctx context.Context, m Model, objectID any, since *time.Time, fn func(*HistoryRecord) error) error
	// Boundary returns the newest snapshot dated strictly before cutoff, or nil.
	Boundary(ctx context.Context, m Model, objectID any, cutoff time.Time) (*HistoryRecord, error)
	// FetchByIDs loads full snapshots by history id.
	FetchByIDs(ctx context.Context, m Model, ids []any) ([]HistoryRecord, error)
	// DeleteByIDs removes snapshots by history id and returns the affected count.
	DeleteByIDs(ctx context.Context, m Model, ids []any) (int64, error)
}

// HistoryRepository is the target-database entry point for cleanup.
type HistoryRepository interface {
	HistoryStore
	// Count returns the number of snapshots, optionally only those dated >= since.
	Count(ctx context.Context, m Model, since *time.Time) (int64, error)
	// ObjectIDs lists the objects to scan. For models with a live table these
	// are its primary keys; a non-nil since keeps objects with history dated >= since.
	ObjectIDs(ctx context.Context, m Model, since *time.Time) ([]any, error)
	// InTx runs fn inside a transaction, committing when fn returns nil.
	InTx(ctx context.Context, fn func(HistoryStore) error) error
}

// SchemaInspector answers catalog questions about the target database.
type SchemaInspector interface {
	Tables(ctx context.Context) ([]string, error)
	TableExists(ctx context.Context, table string) (bool, error)
	Columns(ctx context.Context, table string) ([]string, error)
}

// RunRepository persists the cleanup-run ledger.
type RunRepository interface {
	Create(ctx context.Context, run *CleanupRun) error
	Finish(ctx context.Context, id string, status RunStatus, report *Report, runErr error) error
	Get(ctx context.Context, id string) (*CleanupRun, error)
	List(ctx context.Context, page PageRequest) ([]CleanupRun, int64, error)
}

// Archiver stores snapshots before they are deleted.
type Archiver interface {
	Archive(ctx context.Context, runID string, m Model, records []HistoryRecord) error
}

// MetricsRecorder receives cleanup counters.
type MetricsRecorder interface {
	ObserveModel(r ModelReport)
	ObserveBatch(model string, deleted int64)
	ObserveRun(status RunStatus, d time.Duration)
}
