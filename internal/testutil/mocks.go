// Package testutil provides shared fixtures and mock implementations of
// domain interfaces for use in tests across the codebase.
package testutil

import (
	"context"
	"sync"
	"time"

	"histclean/internal/domain"
)

// === Run Repository Mock ===

// MockRunRepo implements domain.RunRepository in memory.
type MockRunRepo struct {
	mu       sync.Mutex
	CreateFn func(ctx context.Context, run *domain.CleanupRun) error
	FinishFn func(ctx context.Context, id string, status domain.RunStatus, report *domain.Report, runErr error) error
	Runs     map[string]*domain.CleanupRun
}

// Create implements the interface method for testing.
func (m *MockRunRepo) Create(ctx context.Context, run *domain.CleanupRun) error {
	if m.CreateFn != nil {
		if err := m.CreateFn(ctx, run); err != nil {
			return err
		}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Runs == nil {
		m.Runs = make(map[string]*domain.CleanupRun)
	}
	cp := *run
	m.Runs[run.ID] = &cp
	return nil
}

// Finish implements the interface method for testing.
func (m *MockRunRepo) Finish(ctx context.Context, id string, status domain.RunStatus, report *domain.Report, runErr error) error {
	if m.FinishFn != nil {
		return m.FinishFn(ctx, id, status, report, runErr)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	run, ok := m.Runs[id]
	if !ok {
		return domain.ErrNotFound("cleanup run %q not found", id)
	}
	run.Status = status
	if report != nil {
		run.Found, run.Duplicates, run.Deleted = report.Totals()
	}
	if runErr != nil {
		msg := runErr.Error()
		run.ErrorMessage = &msg
	}
	now := time.Now()
	run.FinishedAt = &now
	return nil
}

// Get implements the interface method for testing.
func (m *MockRunRepo) Get(_ context.Context, id string) (*domain.CleanupRun, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	run, ok := m.Runs[id]
	if !ok {
		return nil, domain.ErrNotFound("cleanup run %q not found", id)
	}
	cp := *run
	return &cp, nil
}

// List implements the interface method for testing. Order is unspecified.
func (m *MockRunRepo) List(_ context.Context, _ domain.PageRequest) ([]domain.CleanupRun, int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]domain.CleanupRun, 0, len(m.Runs))
	for _, r := range m.Runs {
		out = append(out, *r)
	}
	return out, int64(len(out)), nil
}

// === Archiver Mock ===

// MockArchiver records archived snapshots.
type MockArchiver struct {
	mu        sync.Mutex
	ArchiveFn func(ctx context.Context, runID string, m domain.Model, records []domain.HistoryRecord) error
	Archived  []domain.HistoryRecord
}

// Archive implements the interface method for testing.
func (m *MockArchiver) Archive(ctx context.Context, runID string, model domain.Model, records []domain.HistoryRecord) error {
	if m.ArchiveFn != nil {
		if err := m.ArchiveFn(ctx, runID, model, records); err != nil {
			return err
		}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Archived = append(m.Archived, records...)
	return nil
}

// === Metrics Mock ===

// MockMetrics records observations.
type MockMetrics struct {
	mu      sync.Mutex
	Models  []domain.ModelReport
	Batches int
	Runs    []domain.RunStatus
}

// ObserveModel implements domain.MetricsRecorder.
func (m *MockMetrics) ObserveModel(r domain.ModelReport) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Models = append(m.Models, r)
}

// ObserveBatch implements domain.MetricsRecorder.
func (m *MockMetrics) ObserveBatch(_ string, _ int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Batches++
}

// ObserveRun implements domain.MetricsRecorder.
func (m *MockMetrics) ObserveRun(status domain.RunStatus, _ time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Runs = append(m.Runs, status)
}
