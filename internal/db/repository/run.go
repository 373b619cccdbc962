package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"histclean/internal/domain"
)

var _ domain.RunRepository = (*RunRepo)(nil)

// RunRepo persists the cleanup-run ledger in SQLite.
type RunRepo struct {
	db     *sql.DB // write pool
	readDB *sql.DB
}

// NewRunRepo creates a RunRepo. readDB may be nil, in which case reads use db.
func NewRunRepo(db, readDB *sql.DB) *RunRepo {
	if readDB == nil {
		readDB = db
	}
	return &RunRepo{db: db, readDB: readDB}
}

// Create inserts a new run.
func (r *RunRepo) Create(ctx context.Context, run *domain.CleanupRun) error {
	models, err := json.Marshal(run.Models)
	if err != nil {
		return fmt.Errorf("marshal models: %w", err)
	}
	if run.Status == "" {
		run.Status = domain.RunStatusRunning
	}
	if run.StartedAt.IsZero() {
		run.StartedAt = time.Now().UTC()
	}

	_, err = r.db.ExecContext(ctx, `INSERT INTO cleanup_runs
		(id, trigger_source, models, dry_run, window_seconds, batch_size, status, started_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		run.ID, run.Trigger, string(models), boolToInt(run.DryRun),
		int64(run.Window/time.Second), run.BatchSize, string(run.Status), formatTime(run.StartedAt))
	return mapDBError(err)
}

// Finish records the outcome of a run. report may be nil when the run failed
// before producing one.
func (r *RunRepo) Finish(ctx context.Context, id string, status domain.RunStatus, report *domain.Report, runErr error) (err error) {
	var found, dups, deleted int64
	if report != nil {
		found, dups, deleted = report.Totals()
	}
	var errMsg *string
	if runErr != nil {
		s := runErr.Error()
		errMsg = &s
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	res, err := tx.ExecContext(ctx, `UPDATE cleanup_runs
		SET status = ?, found = ?, duplicates = ?, deleted = ?, error_message = ?, finished_at = ?
		WHERE id = ?`,
		string(status), found, dups, deleted, errMsg, formatTime(time.Now()), id)
	if err != nil {
		return fmt.Errorf("update run %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.ErrNotFound("cleanup run %q not found", id)
	}

	if report != nil {
		for _, m := range report.Models {
			_, err = tx.ExecContext(ctx, `INSERT INTO cleanup_run_models
				(run_id, model, found, objects, duplicates, deleted, batches)
				VALUES (?, ?, ?, ?, ?, ?, ?)`,
				id, m.Model, m.Found, m.Objects, m.Duplicates, m.Deleted, m.Batches)
			if err != nil {
				return mapDBError(err)
			}
		}
	}

	return tx.Commit()
}

const runColumns = `id, trigger_source, models, dry_run, window_seconds, batch_size, status,
	found, duplicates, deleted, error_message, started_at, finished_at`

// Get returns a run by id.
func (r *RunRepo) Get(ctx context.Context, id string) (*domain.CleanupRun, error) {
	row := r.readDB.QueryRowContext(ctx, `SELECT `+runColumns+` FROM cleanup_runs WHERE id = ?`, id)
	run, err := scanRun(row)
	if err != nil {
		return nil, mapDBError(err)
	}
	return run, nil
}

// List returns runs newest-first together with the total count.
func (r *RunRepo) List(ctx context.Context, page domain.PageRequest) ([]domain.CleanupRun, int64, error) {
	var total int64
	if err := r.readDB.QueryRowContext(ctx, `SELECT COUNT(*) FROM cleanup_runs`).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count runs: %w", err)
	}

	rows, err := r.readDB.QueryContext(ctx, `SELECT `+runColumns+` FROM cleanup_runs
		ORDER BY started_at DESC, id DESC LIMIT ? OFFSET ?`, page.Limit(), page.Offset())
	if err != nil {
		return nil, 0, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var runs []domain.CleanupRun
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, 0, err
		}
		runs = append(runs, *run)
	}
	return runs, total, rows.Err()
}

// ModelReports returns the per-model counters recorded for a run.
func (r *RunRepo) ModelReports(ctx context.Context, id string) ([]domain.ModelReport, error) {
	rows, err := r.readDB.QueryContext(ctx, `SELECT model, found, objects, duplicates, deleted, batches
		FROM cleanup_run_models WHERE run_id = ? ORDER BY model`, id)
	if err != nil {
		return nil, fmt.Errorf("list run models: %w", err)
	}
	defer rows.Close()

	var out []domain.ModelReport
	for rows.Next() {
		var m domain.ModelReport
		if err := rows.Scan(&m.Model, &m.Found, &m.Objects, &m.Duplicates, &m.Deleted, &m.Batches); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRun(row rowScanner) (*domain.CleanupRun, error) {
	var (
		run        domain.CleanupRun
		models     string
		dryRun     int64
		windowSecs int64
		status     string
		errMsg     sql.NullString
		startedAt  string
		finishedAt sql.NullString
	)
	if err := row.Scan(&run.ID, &run.Trigger, &models, &dryRun, &windowSecs, &run.BatchSize, &status,
		&run.Found, &run.Duplicates, &run.Deleted, &errMsg, &startedAt, &finishedAt); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(models), &run.Models); err != nil {
		return nil, fmt.Errorf("decode models of run %s: %w", run.ID, err)
	}
	run.DryRun = dryRun != 0
	run.Window = time.Duration(windowSecs) * time.Second
	run.Status = domain.RunStatus(status)
	if errMsg.Valid {
		run.ErrorMessage = &errMsg.String
	}
	run.StartedAt = parseTime(startedAt)
	if finishedAt.Valid {
		t := parseTime(finishedAt.String)
		run.FinishedAt = &t
	}
	return &run, nil
}
