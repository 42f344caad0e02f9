package ledger

import (
	"database/sql"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"krxwatch/internal/database"
)

func setupTestRepo(t *testing.T) *Repository {
	db, err := database.New(database.Config{
		Path:    filepath.Join(t.TempDir(), "jobs.db"),
		Profile: database.ProfileLedger,
		Name:    "jobs",
	})
	require.NoError(t, err)
	require.NoError(t, db.Migrate())
	t.Cleanup(func() { db.Close() })

	return NewRepository(db.Conn(), zerolog.New(nil).Level(zerolog.Disabled))
}

func mustDate(t *testing.T, s string) time.Time {
	d, err := time.Parse("2006-01-02", s)
	require.NoError(t, err)
	return d
}

func TestStartRun_Exclusive(t *testing.T) {
	repo := setupTestRepo(t)
	day := mustDate(t, "2026-08-28")

	h, err := repo.StartRun(JobIngest, day, time.Hour)
	require.NoError(t, err)
	require.NotNil(t, h)

	// A second start while the first is still running is a duplicate.
	_, err = repo.StartRun(JobIngest, day, time.Hour)
	assert.ErrorIs(t, err, ErrDuplicateRun)

	// Completing the run keeps the date closed for good.
	require.NoError(t, repo.FinishRun(h, StatusCompleted, "done"))
	_, err = repo.StartRun(JobIngest, day, time.Hour)
	assert.ErrorIs(t, err, ErrDuplicateRun)
}

func TestStartRun_DifferentJobsIndependent(t *testing.T) {
	repo := setupTestRepo(t)
	day := mustDate(t, "2026-08-28")

	_, err := repo.StartRun(JobIngest, day, time.Hour)
	require.NoError(t, err)

	_, err = repo.StartRun(JobAnalyze, day, time.Hour)
	require.NoError(t, err)
}

func TestStartRun_FailedRunIsRetryable(t *testing.T) {
	repo := setupTestRepo(t)
	day := mustDate(t, "2026-08-28")

	h, err := repo.StartRun(JobIngest, day, time.Hour)
	require.NoError(t, err)
	require.NoError(t, repo.FinishRun(h, StatusFailed, "provider down"))

	h2, err := repo.StartRun(JobIngest, day, time.Hour)
	require.NoError(t, err)
	require.NotNil(t, h2)

	run, err := repo.GetRun(JobIngest, day)
	require.NoError(t, err)
	require.NotNil(t, run)
	assert.Equal(t, StatusRunning, run.Status)
	assert.Nil(t, run.FinishedAt)
	assert.Empty(t, run.Detail)
}

func TestStartRun_OrphanTakeover(t *testing.T) {
	repo := setupTestRepo(t)
	day := mustDate(t, "2026-08-28")

	_, err := repo.StartRun(JobIngest, day, time.Hour)
	require.NoError(t, err)

	// Age the running entry past the staleness threshold.
	backdate(t, repo.db, JobIngest, day, 3*time.Hour)

	h, err := repo.StartRun(JobIngest, day, time.Hour)
	require.NoError(t, err)
	require.NotNil(t, h)

	run, err := repo.GetRun(JobIngest, day)
	require.NoError(t, err)
	assert.Equal(t, StatusRunning, run.Status)
	assert.WithinDuration(t, time.Now(), run.StartedAt, time.Minute)
}

func TestStartRun_ConcurrentClaimsSingleWinner(t *testing.T) {
	repo := setupTestRepo(t)
	day := mustDate(t, "2026-08-28")

	const attempts = 8
	var wg sync.WaitGroup
	errs := make(chan error, attempts)
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := repo.StartRun(JobIngest, day, time.Hour)
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)

	won := 0
	for err := range errs {
		if err == nil {
			won++
			continue
		}
		assert.ErrorIs(t, err, ErrDuplicateRun)
	}
	assert.Equal(t, 1, won)
}

func TestStartRun_FreshRunningNotOrphaned(t *testing.T) {
	repo := setupTestRepo(t)
	day := mustDate(t, "2026-08-28")

	_, err := repo.StartRun(JobIngest, day, time.Hour)
	require.NoError(t, err)

	backdate(t, repo.db, JobIngest, day, 30*time.Minute)

	_, err = repo.StartRun(JobIngest, day, time.Hour)
	assert.ErrorIs(t, err, ErrDuplicateRun)
}

func TestFinishRun_OnlyOnce(t *testing.T) {
	repo := setupTestRepo(t)
	day := mustDate(t, "2026-08-28")

	h, err := repo.StartRun(JobIngest, day, time.Hour)
	require.NoError(t, err)

	require.NoError(t, repo.FinishRun(h, StatusCompleted, "done"))
	err = repo.FinishRun(h, StatusFailed, "again")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already finished")
}

func TestFinishRun_RejectsNonFinalStatus(t *testing.T) {
	repo := setupTestRepo(t)
	day := mustDate(t, "2026-08-28")

	h, err := repo.StartRun(JobIngest, day, time.Hour)
	require.NoError(t, err)

	assert.Error(t, repo.FinishRun(h, StatusRunning, ""))
	assert.Error(t, repo.FinishRun(h, StatusPending, ""))
}

func TestLastCompletedDate(t *testing.T) {
	repo := setupTestRepo(t)

	last, err := repo.LastCompletedDate(JobIngest)
	require.NoError(t, err)
	assert.Nil(t, last)

	for _, s := range []string{"2026-08-25", "2026-08-26", "2026-08-27"} {
		h, err := repo.StartRun(JobIngest, mustDate(t, s), time.Hour)
		require.NoError(t, err)
		require.NoError(t, repo.FinishRun(h, StatusCompleted, ""))
	}

	// A later failed run must not advance the checkpoint.
	h, err := repo.StartRun(JobIngest, mustDate(t, "2026-08-28"), time.Hour)
	require.NoError(t, err)
	require.NoError(t, repo.FinishRun(h, StatusFailed, "provider down"))

	last, err = repo.LastCompletedDate(JobIngest)
	require.NoError(t, err)
	require.NotNil(t, last)
	assert.Equal(t, "2026-08-27", last.Format("2006-01-02"))
}

func TestIsCompletedFor(t *testing.T) {
	repo := setupTestRepo(t)
	day := mustDate(t, "2026-08-28")

	done, err := repo.IsCompletedFor(JobIngest, day)
	require.NoError(t, err)
	assert.False(t, done)

	h, err := repo.StartRun(JobIngest, day, time.Hour)
	require.NoError(t, err)

	done, err = repo.IsCompletedFor(JobIngest, day)
	require.NoError(t, err)
	assert.False(t, done)

	require.NoError(t, repo.FinishRun(h, StatusCompleted, ""))

	done, err = repo.IsCompletedFor(JobIngest, day)
	require.NoError(t, err)
	assert.True(t, done)
}

func TestHistory(t *testing.T) {
	repo := setupTestRepo(t)

	for _, s := range []string{"2026-08-25", "2026-08-26", "2026-08-27"} {
		h, err := repo.StartRun(JobIngest, mustDate(t, s), time.Hour)
		require.NoError(t, err)
		require.NoError(t, repo.FinishRun(h, StatusCompleted, ""))
	}

	runs, err := repo.History(JobIngest, 2)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, "2026-08-27", runs[0].RunDate.Format("2006-01-02"))
	assert.Equal(t, "2026-08-26", runs[1].RunDate.Format("2006-01-02"))
}

func TestRunningRuns(t *testing.T) {
	repo := setupTestRepo(t)

	h, err := repo.StartRun(JobIngest, mustDate(t, "2026-08-27"), time.Hour)
	require.NoError(t, err)
	require.NoError(t, repo.FinishRun(h, StatusCompleted, ""))

	_, err = repo.StartRun(JobAnalyze, mustDate(t, "2026-08-27"), time.Hour)
	require.NoError(t, err)

	running, err := repo.RunningRuns()
	require.NoError(t, err)
	require.Len(t, running, 1)
	assert.Equal(t, JobAnalyze, running[0].JobName)
	assert.Equal(t, StatusRunning, running[0].Status)
}

func TestInvocations_AppendMode(t *testing.T) {
	repo := setupTestRepo(t)
	day := mustDate(t, "2026-08-28")

	h1, err := repo.StartInvocation(JobAnalyze, day, time.Hour)
	require.NoError(t, err)

	// Append mode: a second invocation for the same date is never blocked.
	h2, err := repo.StartInvocation(JobAnalyze, day, time.Hour)
	require.NoError(t, err)
	assert.NotEqual(t, h1.ID, h2.ID)

	require.NoError(t, repo.FinishInvocation(h1, StatusCompleted, "processed 40"))
	require.NoError(t, repo.FinishInvocation(h2, StatusFailed, "canceled"))

	invs, err := repo.InvocationsFor(JobAnalyze, day)
	require.NoError(t, err)
	require.Len(t, invs, 2)
	assert.Equal(t, h1.ID, invs[0].ID)
	assert.Equal(t, StatusCompleted, invs[0].Status)
	assert.Equal(t, "processed 40", invs[0].Detail)
	assert.Equal(t, StatusFailed, invs[1].Status)
}

func TestFinishInvocation_OnlyOnce(t *testing.T) {
	repo := setupTestRepo(t)

	h, err := repo.StartInvocation(JobAnalyze, mustDate(t, "2026-08-28"), time.Hour)
	require.NoError(t, err)

	require.NoError(t, repo.FinishInvocation(h, StatusCompleted, ""))
	assert.Error(t, repo.FinishInvocation(h, StatusCompleted, ""))
}

func TestStartInvocation_ReapsStaleRunning(t *testing.T) {
	repo := setupTestRepo(t)
	day := mustDate(t, "2026-08-28")

	orphan, err := repo.StartInvocation(JobAnalyze, day, time.Hour)
	require.NoError(t, err)
	fresh, err := repo.StartInvocation(JobAnalyze, day, 0)
	require.NoError(t, err)

	// The orphan's process died two hours ago without closing its entry.
	_, err = repo.db.Exec(
		"UPDATE job_invocations SET started_at = ? WHERE id = ?",
		time.Now().Add(-2*time.Hour).Unix(), orphan.ID)
	require.NoError(t, err)

	_, err = repo.StartInvocation(JobAnalyze, day, time.Hour)
	require.NoError(t, err)

	invs, err := repo.InvocationsFor(JobAnalyze, day)
	require.NoError(t, err)
	require.Len(t, invs, 3)

	byID := make(map[string]Invocation, len(invs))
	for _, inv := range invs {
		byID[inv.ID] = inv
	}
	assert.Equal(t, StatusFailed, byID[orphan.ID].Status)
	assert.Equal(t, "orphaned", byID[orphan.ID].Detail)
	assert.NotNil(t, byID[orphan.ID].FinishedAt)
	// Young running invocations are left alone.
	assert.Equal(t, StatusRunning, byID[fresh.ID].Status)
}

// backdate shifts a run's started_at into the past to simulate age.
func backdate(t *testing.T, db *sql.DB, jobName string, date time.Time, age time.Duration) {
	t.Helper()
	_, err := db.Exec(
		"UPDATE job_runs SET started_at = ? WHERE job_name = ? AND run_date = ?",
		time.Now().Add(-age).Unix(), jobName, date.Format("2006-01-02"))
	require.NoError(t, err)
}
