package cleanup

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/robfig/cron/v3"

	"histclean/internal/domain"
)

// Scheduler runs a cleanup job on a cron schedule. A tick that fires while
// the previous run is still going is skipped.
type Scheduler struct {
	cron     *cron.Cron
	svc      *Service
	resolver ModelResolver
	job      Job
	logger   *slog.Logger

	mu    sync.Mutex
	entry cron.EntryID
	ctx   context.Context
}

// NewScheduler creates a Scheduler for job.
func NewScheduler(svc *Service, resolver ModelResolver, job Job, logger *slog.Logger) *Scheduler {
	cl := cronLogger{logger: logger}
	return &Scheduler{
		cron:     cron.New(cron.WithLogger(cl), cron.WithChain(cron.SkipIfStillRunning(cl))),
		svc:      svc,
		resolver: resolver,
		job:      job,
		logger:   logger,
		ctx:      context.Background(),
	}
}

// Schedule sets the cron expression, replacing any previous one. Standard
// five-field expressions and descriptors such as "@hourly" are accepted.
func (s *Scheduler) Schedule(spec string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	id, err := s.cron.AddFunc(spec, s.tick)
	if err != nil {
		return domain.ErrValidation("invalid cron schedule %q: %v", spec, err)
	}
	if s.entry != 0 {
		s.cron.Remove(s.entry)
	}
	s.entry = id
	s.logger.Info("scheduled cleanup", "schedule", spec)
	return nil
}

// Start starts the scheduler. Runs use ctx; cancelling it aborts a run in
// progress.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	s.ctx = ctx
	s.mu.Unlock()
	s.cron.Start()
	s.logger.Info("cleanup scheduler started")
}

// Stop stops the scheduler and waits for a running job to finish.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
	s.logger.Info("cleanup scheduler stopped")
}

// tick performs one scheduled run.
func (s *Scheduler) tick() {
	s.mu.Lock()
	ctx := s.ctx
	s.mu.Unlock()

	report, err := s.svc.RunJob(ctx, s.resolver, domain.TriggerSchedule, s.job)
	if err != nil {
		s.logger.Warn("scheduled cleanup failed", "error", err)
		return
	}
	found, dups, deleted := report.Totals()
	s.logger.Info("scheduled cleanup finished",
		"run_id", report.RunID,
		"found", found,
		"duplicates", dups,
		"deleted", deleted,
	)
}

// cronLogger adapts slog to cron.Logger.
type cronLogger struct {
	logger *slog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.logger.Debug("cron: "+msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.logger.Error(fmt.Sprintf("cron: %s", msg), append(keysAndValues, "error", err)...)
}
