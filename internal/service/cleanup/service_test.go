package cleanup

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	internaldb "histclean/internal/db"
	"histclean/internal/db/repository"
	"histclean/internal/domain"
	"histclean/internal/testutil"
)

var base = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

type fixture struct {
	svc   *Service
	db    *sql.DB
	model domain.Model
	slept []time.Duration
}

func setup(t *testing.T) *fixture {
	t.Helper()
	target := internaldb.OpenTestTarget(t)
	testutil.CreatePollTables(t, target.DB)
	m, err := domain.ConventionalModel("polls.poll")
	require.NoError(t, err)

	f := &fixture{db: target.DB, model: m}
	f.svc = NewService(repository.NewHistoryRepo(target, repository.NewSchemaRepo(target)), slog.New(slog.DiscardHandler))
	f.svc.now = func() time.Time { return base.Add(10 * time.Hour) }
	f.svc.sleep = func(_ context.Context, d time.Duration) error {
		f.slept = append(f.slept, d)
		return nil
	}
	return f
}

// seed creates a poll whose i-th snapshot is taken at base+hours[i] with votes[i].
func (f *fixture) seed(t *testing.T, pollID int64, hours []int, votes []int64) map[int]int64 {
	t.Helper()
	testutil.InsertPoll(t, f.db, pollID, "q")
	ids := make(map[int]int64, len(hours))
	for i, h := range hours {
		ids[h] = testutil.InsertSnapshot(t, f.db, testutil.Snapshot{
			PollID:   pollID,
			Question: "q",
			Votes:    votes[i],
			Date:     base.Add(time.Duration(h) * time.Hour),
		})
	}
	return ids
}

func (f *fixture) remaining(t *testing.T, pollID int64) []int64 {
	return testutil.HistoryIDs(t, f.db, pollID)
}

func TestProcess_KeepOldest(t *testing.T) {
	f := setup(t)
	ids := f.seed(t, 1, []int{0, 1, 2, 3, 4}, []int64{0, 0, 1, 1, 1})

	report, err := f.svc.Process(context.Background(), []domain.Model{f.model}, domain.CleanupOptions{})
	require.NoError(t, err)

	require.Len(t, report.Models, 1)
	mr := report.Models[0]
	assert.Equal(t, "polls.poll", mr.Model)
	assert.Equal(t, int64(5), mr.Found)
	assert.Equal(t, int64(1), mr.Objects)
	assert.Equal(t, int64(3), mr.Duplicates)
	assert.Equal(t, int64(3), mr.Deleted)
	assert.Equal(t, []int64{ids[2], ids[0]}, f.remaining(t, 1))
}

func TestProcess_KeepLatest(t *testing.T) {
	f := setup(t)
	ids := f.seed(t, 1, []int{0, 1, 2, 3, 4}, []int64{0, 0, 1, 1, 1})

	report, err := f.svc.Process(context.Background(), []domain.Model{f.model}, domain.CleanupOptions{Keep: domain.KeepLatest})
	require.NoError(t, err)
	assert.Equal(t, int64(3), report.Models[0].Deleted)
	assert.Equal(t, []int64{ids[4], ids[1]}, f.remaining(t, 1))
}

func TestProcess_DryRun(t *testing.T) {
	f := setup(t)
	f.seed(t, 1, []int{0, 1, 2}, []int64{0, 0, 0})

	report, err := f.svc.Process(context.Background(), []domain.Model{f.model}, domain.CleanupOptions{DryRun: true})
	require.NoError(t, err)
	assert.True(t, report.DryRun)
	assert.Equal(t, int64(2), report.Models[0].Duplicates)
	assert.Zero(t, report.Models[0].Deleted)
	assert.Len(t, f.remaining(t, 1), 3)
}

func TestProcess_ExcludedFields(t *testing.T) {
	f := setup(t)
	ids := f.seed(t, 1, []int{0, 1, 2}, []int64{0, 1, 2})

	report, err := f.svc.Process(context.Background(), []domain.Model{f.model}, domain.CleanupOptions{
		ExcludedFields: []string{"votes", "no_such_field"},
	})
	require.NoError(t, err)
	assert.Equal(t, int64(2), report.Models[0].Deleted)
	assert.Equal(t, []int64{ids[0]}, f.remaining(t, 1))
}

func TestProcess_ModelExcludedFields(t *testing.T) {
	f := setup(t)
	f.seed(t, 1, []int{0, 1}, []int64{0, 1})
	f.model.ExcludedFields = []string{"votes"}

	report, err := f.svc.Process(context.Background(), []domain.Model{f.model}, domain.CleanupOptions{})
	require.NoError(t, err)
	assert.Equal(t, int64(1), report.Models[0].Deleted)
}

func TestProcess_SingleSnapshotAndEmpty(t *testing.T) {
	f := setup(t)
	f.seed(t, 1, []int{0}, []int64{0})
	testutil.InsertPoll(t, f.db, 2, "no history")

	report, err := f.svc.Process(context.Background(), []domain.Model{f.model}, domain.CleanupOptions{})
	require.NoError(t, err)
	assert.Equal(t, int64(2), report.Models[0].Objects)
	assert.Zero(t, report.Models[0].Duplicates)
}

func TestProcess_SkipsDeletedObjects(t *testing.T) {
	f := setup(t)
	testutil.InsertSnapshot(t, f.db, testutil.Snapshot{PollID: 7, Question: "q", Date: base})
	testutil.InsertSnapshot(t, f.db, testutil.Snapshot{PollID: 7, Question: "q", Date: base.Add(time.Hour)})

	report, err := f.svc.Process(context.Background(), []domain.Model{f.model}, domain.CleanupOptions{})
	require.NoError(t, err)
	assert.Equal(t, int64(2), report.Models[0].Found)
	assert.Zero(t, report.Models[0].Objects)
	assert.Len(t, f.remaining(t, 7), 2)
}

func TestProcess_WindowComparesBoundary(t *testing.T) {
	f := setup(t)
	// now is base+10h, so a 3h window starts at base+7h.
	ids := f.seed(t, 1, []int{0, 5, 8, 9}, []int64{0, 0, 0, 1})

	report, err := f.svc.Process(context.Background(), []domain.Model{f.model}, domain.CleanupOptions{Window: 3 * time.Hour})
	require.NoError(t, err)
	assert.Equal(t, int64(2), report.Models[0].Found)
	assert.Equal(t, int64(1), report.Models[0].Deleted)
	// the duplicate pair outside the window is left alone
	assert.Equal(t, []int64{ids[9], ids[5], ids[0]}, f.remaining(t, 1))
}

func TestProcess_WindowEdgeIsNotADuplicate(t *testing.T) {
	f := setup(t)
	f.seed(t, 1, []int{5, 8, 9}, []int64{0, 1, 1})

	report, err := f.svc.Process(context.Background(), []domain.Model{f.model}, domain.CleanupOptions{
		Window: 3 * time.Hour,
		DryRun: true,
	})
	require.NoError(t, err)
	assert.Equal(t, int64(1), report.Models[0].Duplicates)
}

func TestProcess_WindowKeepLatestNeverTouchesBoundary(t *testing.T) {
	f := setup(t)
	f.seed(t, 1, []int{5, 8}, []int64{0, 0})

	report, err := f.svc.Process(context.Background(), []domain.Model{f.model}, domain.CleanupOptions{
		Window: 3 * time.Hour,
		Keep:   domain.KeepLatest,
	})
	require.NoError(t, err)
	assert.Zero(t, report.Models[0].Deleted)
	assert.Len(t, f.remaining(t, 1), 2)
}

func TestProcess_WindowWithoutHistory(t *testing.T) {
	f := setup(t)
	f.seed(t, 1, []int{0, 1}, []int64{0, 0})

	report, err := f.svc.Process(context.Background(), []domain.Model{f.model}, domain.CleanupOptions{Window: time.Hour})
	require.NoError(t, err)
	assert.Zero(t, report.Models[0].Found)
	assert.Zero(t, report.Models[0].Objects)
	assert.Len(t, f.remaining(t, 1), 2)
}

func TestProcess_Batches(t *testing.T) {
	f := setup(t)
	metrics := &testutil.MockMetrics{}
	f.svc.SetMetrics(metrics)
	a := f.seed(t, 1, []int{0, 1, 2, 3}, []int64{0, 0, 0, 0})
	b := f.seed(t, 2, []int{0, 1, 2}, []int64{0, 0, 0})

	report, err := f.svc.Process(context.Background(), []domain.Model{f.model}, domain.CleanupOptions{
		BatchSize:  2,
		BatchSleep: time.Second,
		TxRate:     1000,
	})
	require.NoError(t, err)

	mr := report.Models[0]
	assert.Equal(t, int64(5), mr.Duplicates)
	assert.Equal(t, int64(5), mr.Deleted)
	assert.Equal(t, 3, mr.Batches)
	assert.Equal(t, []time.Duration{time.Second, time.Second}, f.slept, "no pause after the last batch")
	assert.Equal(t, 3, metrics.Batches)
	require.Len(t, metrics.Models, 1)
	assert.Equal(t, []int64{a[0]}, f.remaining(t, 1))
	assert.Equal(t, []int64{b[0]}, f.remaining(t, 2))
}

func TestProcess_BatchDryRunOnlyGathers(t *testing.T) {
	f := setup(t)
	f.seed(t, 1, []int{0, 1, 2}, []int64{0, 0, 0})

	report, err := f.svc.Process(context.Background(), []domain.Model{f.model}, domain.CleanupOptions{
		BatchSize:  1,
		BatchSleep: time.Second,
		DryRun:     true,
	})
	require.NoError(t, err)
	assert.Equal(t, int64(2), report.Models[0].Duplicates)
	assert.Zero(t, report.Models[0].Batches)
	assert.Empty(t, f.slept)
	assert.Len(t, f.remaining(t, 1), 3)
}

func TestProcess_ArchivesBeforeDelete(t *testing.T) {
	f := setup(t)
	archiver := &testutil.MockArchiver{}
	f.svc.SetArchiver(archiver)
	ids := f.seed(t, 1, []int{0, 1, 2}, []int64{0, 0, 0})

	_, err := f.svc.Process(context.Background(), []domain.Model{f.model}, domain.CleanupOptions{RunID: "run-1"})
	require.NoError(t, err)
	require.Len(t, archiver.Archived, 2)
	assert.Equal(t, ids[2], archiver.Archived[0].HistoryID)
	assert.Equal(t, "q", archiver.Archived[0].Fields["question"])
}

func TestProcess_ArchiveFailureRollsBack(t *testing.T) {
	f := setup(t)
	boom := errors.New("bucket unavailable")
	f.svc.SetArchiver(&testutil.MockArchiver{
		ArchiveFn: func(context.Context, string, domain.Model, []domain.HistoryRecord) error { return boom },
	})
	f.seed(t, 1, []int{0, 1}, []int64{0, 0})

	report, err := f.svc.Process(context.Background(), []domain.Model{f.model}, domain.CleanupOptions{})
	require.ErrorIs(t, err, boom)
	require.NotNil(t, report)
	assert.Zero(t, report.Models[0].Deleted)
	assert.Len(t, f.remaining(t, 1), 2)
}

func TestProcess_DeletesWithColdSchemaCache(t *testing.T) {
	// setup builds a fresh SchemaRepo, so the first column lookup happens
	// inside a delete transaction on a single-connection SQLite pool.
	f := setup(t)
	archiver := &testutil.MockArchiver{}
	f.svc.SetArchiver(archiver)
	ids := f.seed(t, 1, []int{0, 1}, []int64{0, 0})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	report, err := f.svc.Process(ctx, []domain.Model{f.model}, domain.CleanupOptions{})
	require.NoError(t, err)
	assert.Equal(t, int64(1), report.Models[0].Deleted)
	assert.Len(t, archiver.Archived, 1)
	assert.Equal(t, []int64{ids[0]}, f.remaining(t, 1))
}

func TestProcess_Cancelled(t *testing.T) {
	f := setup(t)
	f.seed(t, 1, []int{0, 1}, []int64{0, 0})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := f.svc.Process(ctx, []domain.Model{f.model}, domain.CleanupOptions{})
	require.ErrorIs(t, err, context.Canceled)
	assert.Len(t, f.remaining(t, 1), 2)
}

func TestProcess_ParallelModels(t *testing.T) {
	f := setup(t)
	f.seed(t, 1, []int{0, 1}, []int64{0, 0})
	other := f.model
	other.Label = "polls.pollcopy"

	report, err := f.svc.Process(context.Background(), []domain.Model{f.model, other}, domain.CleanupOptions{
		DryRun:      true,
		Parallelism: 2,
	})
	require.NoError(t, err)
	require.Len(t, report.Models, 2)
	assert.Equal(t, "polls.poll", report.Models[0].Model)
	assert.Equal(t, "polls.pollcopy", report.Models[1].Model)
	_, dups, _ := report.Totals()
	assert.Equal(t, int64(2), dups)
}

func TestProcess_InvalidOptions(t *testing.T) {
	f := setup(t)
	_, err := f.svc.Process(context.Background(), []domain.Model{f.model}, domain.CleanupOptions{BatchSize: -1})
	var ve *domain.ValidationError
	assert.ErrorAs(t, err, &ve)
}

func TestRun_RecordsLedger(t *testing.T) {
	f := setup(t)
	runs := &testutil.MockRunRepo{}
	metrics := &testutil.MockMetrics{}
	f.svc.SetRunRepository(runs)
	f.svc.SetMetrics(metrics)
	f.seed(t, 1, []int{0, 1}, []int64{0, 0})

	report, err := f.svc.Run(context.Background(), domain.TriggerCLI, []domain.Model{f.model}, domain.CleanupOptions{})
	require.NoError(t, err)
	require.NotEmpty(t, report.RunID)

	run, err := runs.Get(context.Background(), report.RunID)
	require.NoError(t, err)
	assert.Equal(t, domain.RunStatusSucceeded, run.Status)
	assert.Equal(t, []string{"polls.poll"}, run.Models)
	assert.Equal(t, int64(1), run.Deleted)
	assert.Equal(t, []domain.RunStatus{domain.RunStatusSucceeded}, metrics.Runs)
}

func TestRun_RecordsFailure(t *testing.T) {
	f := setup(t)
	runs := &testutil.MockRunRepo{}
	f.svc.SetRunRepository(runs)
	missing, err := domain.ConventionalModel("polls.choice")
	require.NoError(t, err)

	_, err = f.svc.Run(context.Background(), domain.TriggerAPI, []domain.Model{missing}, domain.CleanupOptions{RunID: "r1"})
	require.Error(t, err)

	run, gerr := runs.Get(context.Background(), "r1")
	require.NoError(t, gerr)
	assert.Equal(t, domain.RunStatusFailed, run.Status)
	require.NotNil(t, run.ErrorMessage)
}

func TestRun_RejectsOverlap(t *testing.T) {
	f := setup(t)
	f.svc.running.Lock()
	defer f.svc.running.Unlock()

	_, err := f.svc.Run(context.Background(), domain.TriggerSchedule, nil, domain.CleanupOptions{})
	var ce *domain.ConflictError
	assert.ErrorAs(t, err, &ce)
}

func TestStart_ReservesAndRecordsBeforeRunning(t *testing.T) {
	f := setup(t)
	runs := &testutil.MockRunRepo{}
	f.svc.SetRunRepository(runs)
	f.seed(t, 1, []int{0, 1}, []int64{0, 0})
	ctx := context.Background()

	id, exec, err := f.svc.Start(ctx, domain.TriggerAPI, []domain.Model{f.model}, domain.CleanupOptions{})
	require.NoError(t, err)
	require.NotEmpty(t, id)
	assert.True(t, f.svc.Active())

	run, err := runs.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, domain.RunStatusRunning, run.Status)

	_, _, err = f.svc.Start(ctx, domain.TriggerAPI, []domain.Model{f.model}, domain.CleanupOptions{})
	var ce *domain.ConflictError
	require.ErrorAs(t, err, &ce)

	report, err := exec(ctx)
	require.NoError(t, err)
	assert.Equal(t, id, report.RunID)
	assert.False(t, f.svc.Active())

	run, err = runs.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, domain.RunStatusSucceeded, run.Status)

	_, exec, err = f.svc.Start(ctx, domain.TriggerAPI, []domain.Model{f.model}, domain.CleanupOptions{DryRun: true})
	require.NoError(t, err, "the reservation is released after the run")
	_, err = exec(ctx)
	require.NoError(t, err)
}
