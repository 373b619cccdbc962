package repository

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	internaldb "histclean/internal/db"
	"histclean/internal/domain"
)

func setupRunRepo(t *testing.T) *RunRepo {
	t.Helper()
	writeDB, readDB := internaldb.OpenTestLedger(t)
	return NewRunRepo(writeDB, readDB)
}

func TestRunRepo_CreateGetFinish(t *testing.T) {
	repo := setupRunRepo(t)
	ctx := context.Background()

	run := &domain.CleanupRun{
		ID:        uuid.New().String(),
		Trigger:   domain.TriggerCLI,
		Models:    []string{"polls.poll", "polls.choice"},
		DryRun:    true,
		Window:    90 * time.Minute,
		BatchSize: 100,
	}
	require.NoError(t, repo.Create(ctx, run))
	assert.Equal(t, domain.RunStatusRunning, run.Status)

	got, err := repo.Get(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, run.Models, got.Models)
	assert.True(t, got.DryRun)
	assert.Equal(t, 90*time.Minute, got.Window)
	assert.Equal(t, 100, got.BatchSize)
	assert.Nil(t, got.FinishedAt)

	report := &domain.Report{Models: []domain.ModelReport{
		{Model: "polls.choice", Found: 3, Objects: 1, Duplicates: 1},
		{Model: "polls.poll", Found: 10, Objects: 4, Duplicates: 4, Deleted: 4, Batches: 2},
	}}
	require.NoError(t, repo.Finish(ctx, run.ID, domain.RunStatusSucceeded, report, nil))

	got, err = repo.Get(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.RunStatusSucceeded, got.Status)
	assert.Equal(t, int64(13), got.Found)
	assert.Equal(t, int64(5), got.Duplicates)
	assert.Equal(t, int64(4), got.Deleted)
	assert.Nil(t, got.ErrorMessage)
	require.NotNil(t, got.FinishedAt)

	models, err := repo.ModelReports(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, report.Models, models)
}

func TestRunRepo_FinishFailed(t *testing.T) {
	repo := setupRunRepo(t)
	ctx := context.Background()
	run := &domain.CleanupRun{ID: uuid.New().String(), Trigger: domain.TriggerAPI, Models: []string{}}
	require.NoError(t, repo.Create(ctx, run))

	require.NoError(t, repo.Finish(ctx, run.ID, domain.RunStatusFailed, nil, errors.New("database is locked")))

	got, err := repo.Get(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.RunStatusFailed, got.Status)
	require.NotNil(t, got.ErrorMessage)
	assert.Equal(t, "database is locked", *got.ErrorMessage)
}

func TestRunRepo_NotFound(t *testing.T) {
	repo := setupRunRepo(t)
	ctx := context.Background()

	_, err := repo.Get(ctx, "missing")
	var nf *domain.NotFoundError
	require.ErrorAs(t, err, &nf)

	err = repo.Finish(ctx, "missing", domain.RunStatusSucceeded, nil, nil)
	require.ErrorAs(t, err, &nf)
}

func TestRunRepo_DuplicateID(t *testing.T) {
	repo := setupRunRepo(t)
	ctx := context.Background()
	run := &domain.CleanupRun{ID: "r1", Trigger: domain.TriggerCLI}
	require.NoError(t, repo.Create(ctx, run))

	err := repo.Create(ctx, &domain.CleanupRun{ID: "r1", Trigger: domain.TriggerCLI})
	var conflict *domain.ConflictError
	assert.ErrorAs(t, err, &conflict)
}

func TestRunRepo_ListNewestFirst(t *testing.T) {
	repo := setupRunRepo(t)
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		require.NoError(t, repo.Create(ctx, &domain.CleanupRun{
			ID:        uuid.New().String(),
			Trigger:   domain.TriggerSchedule,
			StartedAt: base.Add(time.Duration(i) * time.Minute),
		}))
	}

	runs, total, err := repo.List(ctx, domain.PageRequest{MaxResults: 2})
	require.NoError(t, err)
	assert.Equal(t, int64(3), total)
	require.Len(t, runs, 2)
	assert.True(t, runs[0].StartedAt.After(runs[1].StartedAt))
	assert.True(t, runs[0].StartedAt.Equal(base.Add(2*time.Minute)))
}
