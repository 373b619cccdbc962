// Package cleanup removes consecutive duplicate history snapshots.
package cleanup

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"histclean/internal/diff"
	"histclean/internal/domain"
)

// Service scans history tables and deletes redundant snapshots.
type Service struct {
	history  domain.HistoryRepository
	runs     domain.RunRepository
	archiver domain.Archiver
	metrics  domain.MetricsRecorder
	logger   *slog.Logger

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error

	running sync.Mutex
	active  atomic.Bool
}

// NewService creates a cleanup Service.
func NewService(history domain.HistoryRepository, logger *slog.Logger) *Service {
	return &Service{
		history: history,
		logger:  logger,
		now:     time.Now,
		sleep:   sleepContext,
	}
}

// SetRunRepository enables the run ledger.
func (s *Service) SetRunRepository(r domain.RunRepository) { s.runs = r }

// SetArchiver makes the service archive snapshots before deleting them.
func (s *Service) SetArchiver(a domain.Archiver) { s.archiver = a }

// SetMetrics sets the metrics recorder.
func (s *Service) SetMetrics(m domain.MetricsRecorder) { s.metrics = m }

// Run processes models and records the run in the ledger. Only one run may be
// in progress per Service; a concurrent call fails with a ConflictError.
func (s *Service) Run(ctx context.Context, trigger string, models []domain.Model, opts domain.CleanupOptions) (*domain.Report, error) {
	_, exec, err := s.Start(ctx, trigger, models, opts)
	if err != nil {
		return nil, err
	}
	return exec(ctx)
}

// Start reserves the service for one run and records the run in the ledger
// before returning its id. The returned function performs the run and
// releases the reservation; it must be called exactly once. Start fails with
// a ConflictError while another run holds the reservation.
func (s *Service) Start(ctx context.Context, trigger string, models []domain.Model, opts domain.CleanupOptions) (string, func(context.Context) (*domain.Report, error), error) {
	if !s.running.TryLock() {
		return "", nil, domain.ErrConflict("a cleanup run is already in progress")
	}
	s.active.Store(true)
	release := func() {
		s.active.Store(false)
		s.running.Unlock()
	}

	if opts.RunID == "" {
		opts.RunID = uuid.NewString()
	}
	if s.runs != nil {
		labels := make([]string, len(models))
		for i, m := range models {
			labels[i] = m.Label
		}
		run := &domain.CleanupRun{
			ID:        opts.RunID,
			Trigger:   trigger,
			Models:    labels,
			DryRun:    opts.DryRun,
			Window:    opts.Window,
			BatchSize: opts.BatchSize,
			Status:    domain.RunStatusRunning,
			StartedAt: s.now().UTC(),
		}
		if err := s.runs.Create(ctx, run); err != nil {
			release()
			return "", nil, fmt.Errorf("record run: %w", err)
		}
	}

	exec := func(ctx context.Context) (*domain.Report, error) {
		defer release()
		start := s.now()
		report, err := s.Process(ctx, models, opts)

		status := domain.RunStatusSucceeded
		if err != nil {
			status = domain.RunStatusFailed
		}
		if s.runs != nil {
			if ferr := s.runs.Finish(context.WithoutCancel(ctx), opts.RunID, status, report, err); ferr != nil {
				s.logger.Warn("failed to record run outcome", "run_id", opts.RunID, "error", ferr)
			}
		}
		if s.metrics != nil {
			s.metrics.ObserveRun(status, s.now().Sub(start))
		}
		return report, err
	}
	return opts.RunID, exec, nil
}

// Active reports whether a run is in progress.
func (s *Service) Active() bool { return s.active.Load() }

// Process scans every model for duplicate snapshots. The report is returned
// even when an error stops the run, so partial progress can be recorded.
func (s *Service) Process(ctx context.Context, models []domain.Model, opts domain.CleanupOptions) (*domain.Report, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	keep, _ := domain.ParseKeepPolicy(string(opts.Keep))
	opts.Keep = keep
	if opts.RunID == "" {
		opts.RunID = uuid.NewString()
	}

	report := &domain.Report{
		RunID:     opts.RunID,
		DryRun:    opts.DryRun,
		StartedAt: s.now(),
		Models:    make([]domain.ModelReport, len(models)),
	}

	var cutoff *time.Time
	if opts.Window > 0 {
		c := report.StartedAt.Add(-opts.Window)
		cutoff = &c
	}

	var limiter *rate.Limiter
	if opts.TxRate > 0 {
		limiter = rate.NewLimiter(rate.Limit(opts.TxRate), 1)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(max(opts.Parallelism, 1))
	for i, m := range models {
		g.Go(func() error {
			r := &modelRun{
				svc:      s,
				model:    m,
				opts:     opts,
				cutoff:   cutoff,
				limiter:  limiter,
				excluded: append(append([]string(nil), opts.ExcludedFields...), m.ExcludedFields...),
				logger:   s.logger.With("model", m.Label, "run_id", opts.RunID),
				report:   &report.Models[i],
			}
			r.report.Model = m.Label
			if err := r.process(gctx); err != nil {
				return fmt.Errorf("clean %s: %w", m.Label, err)
			}
			if s.metrics != nil {
				s.metrics.ObserveModel(*r.report)
			}
			return nil
		})
	}
	err := g.Wait()
	report.FinishedAt = s.now()
	return report, err
}

// modelRun is the state of cleaning a single model.
type modelRun struct {
	svc      *Service
	model    domain.Model
	opts     domain.CleanupOptions
	cutoff   *time.Time
	limiter  *rate.Limiter
	excluded []string
	logger   *slog.Logger
	report   *domain.ModelReport
}

func (r *modelRun) process(ctx context.Context) error {
	m := r.model
	found, err := r.svc.history.Count(ctx, m, r.cutoff)
	if err != nil {
		return err
	}
	r.report.Found = found
	r.logger.Debug(fmt.Sprintf("%s has %d historical entries", m, found))
	if found == 0 {
		return nil
	}

	objects, err := r.svc.history.ObjectIDs(ctx, m, r.cutoff)
	if err != nil {
		return err
	}

	if !r.opts.BatchMode() {
		for _, id := range objects {
			if err := ctx.Err(); err != nil {
				return err
			}
			if err := r.cleanObject(ctx, id); err != nil {
				return err
			}
			r.report.Objects++
		}
		return nil
	}

	var pending []any
	for _, id := range objects {
		if err := ctx.Err(); err != nil {
			return err
		}
		ids, err := r.redundant(ctx, r.svc.history, id)
		if err != nil {
			return err
		}
		r.report.Objects++
		r.report.Duplicates += int64(len(ids))
		pending = append(pending, ids...)
		r.logger.Info(fmt.Sprintf("Gathered %d records of %s to delete", len(ids), m))
	}
	if r.opts.DryRun {
		return nil
	}
	return r.deleteBatches(ctx, pending)
}

// cleanObject finds and deletes the redundant snapshots of one object in a
// single transaction. A dry run reads outside of any transaction.
func (r *modelRun) cleanObject(ctx context.Context, objectID any) error {
	var ids []any
	if r.opts.DryRun {
		var err error
		if ids, err = r.redundant(ctx, r.svc.history, objectID); err != nil {
			return err
		}
	} else {
		if err := r.wait(ctx); err != nil {
			return err
		}
		var deleted int64
		err := r.svc.history.InTx(ctx, func(st domain.HistoryStore) error {
			var err error
			if ids, err = r.redundant(ctx, st, objectID); err != nil {
				return err
			}
			deleted, err = r.delete(ctx, st, ids)
			return err
		})
		if err != nil {
			return err
		}
		r.report.Deleted += deleted
	}
	r.report.Duplicates += int64(len(ids))
	r.logger.Info(fmt.Sprintf("Removed %d historical records for %s", len(ids), r.model))
	return nil
}

// redundant walks the snapshots of one object newest-first and returns the
// history ids the keep policy marks for deletion. With a window, the oldest
// in-window snapshot is also compared with the newest one before the cutoff.
func (r *modelRun) redundant(ctx context.Context, st domain.HistoryStore, objectID any) ([]any, error) {
	var boundary *domain.HistoryRecord
	if r.cutoff != nil {
		var err error
		if boundary, err = st.Boundary(ctx, r.model, objectID, *r.cutoff); err != nil {
			return nil, err
		}
	}

	var (
		ids  []any
		prev *domain.HistoryRecord
	)
	err := st.History(ctx, r.model, objectID, r.cutoff, func(rec *domain.HistoryRecord) error {
		if prev != nil && r.duplicate(prev, rec) {
			if r.opts.Keep == domain.KeepLatest {
				ids = append(ids, rec.HistoryID)
			} else {
				ids = append(ids, prev.HistoryID)
			}
		}
		prev = rec
		return nil
	})
	if err != nil {
		return nil, err
	}

	// The boundary snapshot lies outside the window and is never deleted, so
	// only the keep-oldest policy can act on the edge pair.
	if prev != nil && boundary != nil && r.opts.Keep == domain.KeepOldest && r.duplicate(prev, boundary) {
		ids = append(ids, prev.HistoryID)
	}
	return ids, nil
}

func (r *modelRun) duplicate(newer, older *domain.HistoryRecord) bool {
	return !diff.Against(newer, older, r.excluded).HasChanges()
}

// delete archives (when configured) and removes ids using st.
func (r *modelRun) delete(ctx context.Context, st domain.HistoryStore, ids []any) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	if a := r.svc.archiver; a != nil {
		recs, err := st.FetchByIDs(ctx, r.model, ids)
		if err != nil {
			return 0, err
		}
		if err := a.Archive(ctx, r.opts.RunID, r.model, recs); err != nil {
			return 0, fmt.Errorf("archive: %w", err)
		}
	}
	return st.DeleteByIDs(ctx, r.model, ids)
}

// deleteBatches deletes ids in fixed-size chunks, one transaction each,
// pausing between chunks.
func (r *modelRun) deleteBatches(ctx context.Context, ids []any) error {
	m := r.model
	size := r.opts.BatchSize
	count := (len(ids) + size - 1) / size
	r.logger.Info(fmt.Sprintf("Starting deletion with %d batches of %d history records of %s", count, size, m))

	for i := 0; i < count; i++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := r.wait(ctx); err != nil {
			return err
		}

		start := i * size
		end := min(start+size, len(ids))
		r.logger.Info(fmt.Sprintf("Starting batch %d of %d total batches", i, count))
		r.logger.Info(fmt.Sprintf("Batch will run from %d to %d of %d total entries", start, end, len(ids)))

		var deleted int64
		err := r.svc.history.InTx(ctx, func(st domain.HistoryStore) error {
			r.logger.Info(fmt.Sprintf("Deleting %d history records of %s", end-start, m))
			n, err := r.delete(ctx, st, ids[start:end])
			deleted = n
			return err
		})
		if err != nil {
			return fmt.Errorf("batch %d: %w", i, err)
		}
		r.report.Deleted += deleted
		r.report.Batches++
		if r.svc.metrics != nil {
			r.svc.metrics.ObserveBatch(m.Label, deleted)
		}

		if i != count-1 && r.opts.BatchSleep > 0 {
			r.logger.Info(fmt.Sprintf("Pause after batch %d, sleeping for %s", i, r.opts.BatchSleep))
			if err := r.svc.sleep(ctx, r.opts.BatchSleep); err != nil {
				return err
			}
		}
	}

	r.logger.Info(fmt.Sprintf("Finished batch deletion for %s", m))
	return nil
}

// wait blocks until the transaction rate limit allows another transaction.
func (r *modelRun) wait(ctx context.Context) error {
	if r.limiter == nil {
		return nil
	}
	return r.limiter.Wait(ctx)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
