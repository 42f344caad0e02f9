// Package ledger is the durable record of job invocations and outcomes.
// Both batch jobs coordinate exclusively through it: each run is a fresh
// process, so no scheduling state may ever live in process memory.
package ledger

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"krxwatch/internal/calendar"
)

// ErrDuplicateRun is returned by StartRun when a live (running or completed)
// entry already exists for the same job and logical date. Callers treat it
// as a benign no-op, not a failure.
var ErrDuplicateRun = errors.New("job run already exists for this date")

// Repository handles ledger operations on jobs.db. Every call is a durable
// write or read; nothing is cached across process invocations.
type Repository struct {
	db  *sql.DB
	log zerolog.Logger
}

// NewRepository creates a new ledger repository.
func NewRepository(db *sql.DB, log zerolog.Logger) *Repository {
	return &Repository{
		db:  db,
		log: log.With().Str("repo", "ledger").Logger(),
	}
}

// StartRun opens an exclusive run for (jobName, date).
//
// If an entry already exists for the key:
//   - completed, or running younger than staleAfter: ErrDuplicateRun
//   - running older than staleAfter: orphaned, overwritten as a fresh attempt
//   - failed or pending: overwritten as a fresh attempt
func (r *Repository) StartRun(jobName string, date time.Time, staleAfter time.Duration) (*RunHandle, error) {
	dateStr := date.Format(calendar.DateFormat)
	now := time.Now()

	// Single guarded upsert so two racing invocations cannot both claim the
	// key: the conflict branch only fires on failed, pending, or orphaned
	// rows, and zero affected rows means another process holds a live entry.
	query := `
		INSERT INTO job_runs (job_name, run_date, status, started_at, finished_at, detail)
		VALUES (?, ?, ?, ?, NULL, '')
		ON CONFLICT(job_name, run_date) DO UPDATE SET
			status = excluded.status,
			started_at = excluded.started_at,
			finished_at = NULL,
			detail = ''
		WHERE job_runs.status IN (?, ?)
			OR (job_runs.status = ? AND job_runs.started_at < ?)`

	res, err := r.db.Exec(query,
		jobName, dateStr, string(StatusRunning), now.Unix(),
		string(StatusFailed), string(StatusPending),
		string(StatusRunning), now.Add(-staleAfter).Unix())
	if err != nil {
		return nil, fmt.Errorf("failed to start run %s/%s: %w", jobName, dateStr, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("failed to start run %s/%s: %w", jobName, dateStr, err)
	}
	if n == 0 {
		return nil, ErrDuplicateRun
	}

	r.log.Info().Str("job", jobName).Str("date", dateStr).Msg("Run started")
	return &RunHandle{JobName: jobName, RunDate: date}, nil
}

// FinishRun closes an open run with a final status and diagnostic detail.
// Calling it twice on the same handle is an error.
func (r *Repository) FinishRun(h *RunHandle, status Status, detail string) error {
	if h == nil {
		return fmt.Errorf("nil run handle")
	}
	if h.finished {
		return fmt.Errorf("run %s/%s already finished", h.JobName, h.RunDate.Format(calendar.DateFormat))
	}
	if status != StatusCompleted && status != StatusFailed {
		return fmt.Errorf("invalid final status %q", status)
	}

	dateStr := h.RunDate.Format(calendar.DateFormat)
	res, err := r.db.Exec(
		"UPDATE job_runs SET status = ?, finished_at = ?, detail = ? WHERE job_name = ? AND run_date = ?",
		string(status), time.Now().Unix(), detail, h.JobName, dateStr)
	if err != nil {
		return fmt.Errorf("failed to finish run %s/%s: %w", h.JobName, dateStr, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("run %s/%s not found in ledger", h.JobName, dateStr)
	}

	h.finished = true
	r.log.Info().Str("job", h.JobName).Str("date", dateStr).Str("status", string(status)).Msg("Run finished")
	return nil
}

// StartInvocation records one append-mode attempt for (jobName, date).
// Unlike StartRun, prior entries for the same key never block a new one.
// Running invocations older than staleAfter are first reclassified as
// failed: their process died without closing them.
func (r *Repository) StartInvocation(jobName string, date time.Time, staleAfter time.Duration) (*InvocationHandle, error) {
	id := uuid.New().String()
	dateStr := date.Format(calendar.DateFormat)
	now := time.Now()

	if staleAfter > 0 {
		res, err := r.db.Exec(
			`UPDATE job_invocations SET status = ?, finished_at = ?, detail = 'orphaned'
			WHERE job_name = ? AND status = ? AND started_at < ?`,
			string(StatusFailed), now.Unix(),
			jobName, string(StatusRunning), now.Add(-staleAfter).Unix())
		if err != nil {
			return nil, fmt.Errorf("failed to reap orphaned invocations for %s: %w", jobName, err)
		}
		if n, _ := res.RowsAffected(); n > 0 {
			r.log.Warn().Str("job", jobName).Int64("count", n).Msg("Orphaned invocations marked failed")
		}
	}

	query := `
		INSERT INTO job_invocations (id, job_name, run_date, status, started_at, finished_at, detail)
		VALUES (?, ?, ?, ?, ?, NULL, '')`

	if _, err := r.db.Exec(query, id, jobName, dateStr, string(StatusRunning), now.Unix()); err != nil {
		return nil, fmt.Errorf("failed to start invocation %s/%s: %w", jobName, dateStr, err)
	}

	return &InvocationHandle{ID: id, JobName: jobName, RunDate: date}, nil
}

// FinishInvocation closes an open invocation.
func (r *Repository) FinishInvocation(h *InvocationHandle, status Status, detail string) error {
	if h == nil {
		return fmt.Errorf("nil invocation handle")
	}
	if h.finished {
		return fmt.Errorf("invocation %s already finished", h.ID)
	}
	if status != StatusCompleted && status != StatusFailed {
		return fmt.Errorf("invalid final status %q", status)
	}

	res, err := r.db.Exec(
		"UPDATE job_invocations SET status = ?, finished_at = ?, detail = ? WHERE id = ?",
		string(status), time.Now().Unix(), detail, h.ID)
	if err != nil {
		return fmt.Errorf("failed to finish invocation %s: %w", h.ID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("invocation %s not found in ledger", h.ID)
	}

	h.finished = true
	return nil
}

// GetRun returns the ledger entry for (jobName, date), or nil if none exists.
func (r *Repository) GetRun(jobName string, date time.Time) (*JobRun, error) {
	query := `
		SELECT job_name, run_date, status, started_at, finished_at, detail
		FROM job_runs WHERE job_name = ? AND run_date = ?`

	row := r.db.QueryRow(query, jobName, date.Format(calendar.DateFormat))
	run, err := scanRun(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query run %s: %w", jobName, err)
	}
	return run, nil
}

// LastCompletedDate returns the most recent logical date with a completed run
// for the job, or nil when no run has ever completed. The ingestion job uses
// this as its sole resumption checkpoint.
func (r *Repository) LastCompletedDate(jobName string) (*time.Time, error) {
	var dateStr sql.NullString
	err := r.db.QueryRow(
		"SELECT MAX(run_date) FROM job_runs WHERE job_name = ? AND status = ?",
		jobName, string(StatusCompleted)).Scan(&dateStr)
	if err != nil {
		return nil, fmt.Errorf("failed to query last completed date for %s: %w", jobName, err)
	}
	if !dateStr.Valid || dateStr.String == "" {
		return nil, nil
	}

	d, err := time.Parse(calendar.DateFormat, dateStr.String)
	if err != nil {
		return nil, fmt.Errorf("invalid run_date %q in ledger: %w", dateStr.String, err)
	}
	return &d, nil
}

// IsCompletedFor reports whether the job has a completed run for the date.
// The analysis job uses this as its precondition against ingestion.
func (r *Repository) IsCompletedFor(jobName string, date time.Time) (bool, error) {
	var count int
	err := r.db.QueryRow(
		"SELECT COUNT(*) FROM job_runs WHERE job_name = ? AND run_date = ? AND status = ?",
		jobName, date.Format(calendar.DateFormat), string(StatusCompleted)).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("failed to check completion for %s: %w", jobName, err)
	}
	return count > 0, nil
}

// History returns the most recent runs for a job, newest first.
func (r *Repository) History(jobName string, limit int) ([]JobRun, error) {
	if limit <= 0 {
		limit = 30
	}

	query := `
		SELECT job_name, run_date, status, started_at, finished_at, detail
		FROM job_runs WHERE job_name = ? ORDER BY run_date DESC LIMIT ?`

	rows, err := r.db.Query(query, jobName, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query run history for %s: %w", jobName, err)
	}
	defer rows.Close()

	var runs []JobRun
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		runs = append(runs, *run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating runs: %w", err)
	}
	return runs, nil
}

// RunningRuns returns all runs currently in the running state, across jobs.
func (r *Repository) RunningRuns() ([]JobRun, error) {
	query := `
		SELECT job_name, run_date, status, started_at, finished_at, detail
		FROM job_runs WHERE status = ? ORDER BY started_at ASC`

	rows, err := r.db.Query(query, string(StatusRunning))
	if err != nil {
		return nil, fmt.Errorf("failed to query running runs: %w", err)
	}
	defer rows.Close()

	var runs []JobRun
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		runs = append(runs, *run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating runs: %w", err)
	}
	return runs, nil
}

// InvocationsFor returns all invocations recorded for (jobName, date),
// oldest first.
func (r *Repository) InvocationsFor(jobName string, date time.Time) ([]Invocation, error) {
	query := `
		SELECT id, job_name, run_date, status, started_at, finished_at, detail
		FROM job_invocations WHERE job_name = ? AND run_date = ? ORDER BY started_at ASC, rowid ASC`

	rows, err := r.db.Query(query, jobName, date.Format(calendar.DateFormat))
	if err != nil {
		return nil, fmt.Errorf("failed to query invocations for %s: %w", jobName, err)
	}
	defer rows.Close()

	var invocations []Invocation
	for rows.Next() {
		var inv Invocation
		var dateStr string
		var startedAt int64
		var finishedAt sql.NullInt64

		if err := rows.Scan(&inv.ID, &inv.JobName, &dateStr, &inv.Status, &startedAt, &finishedAt, &inv.Detail); err != nil {
			return nil, fmt.Errorf("failed to scan invocation: %w", err)
		}

		d, err := time.Parse(calendar.DateFormat, dateStr)
		if err != nil {
			return nil, fmt.Errorf("invalid run_date %q in ledger: %w", dateStr, err)
		}
		inv.RunDate = d
		inv.StartedAt = time.Unix(startedAt, 0)
		if finishedAt.Valid {
			t := time.Unix(finishedAt.Int64, 0)
			inv.FinishedAt = &t
		}
		invocations = append(invocations, inv)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating invocations: %w", err)
	}
	return invocations, nil
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanRun(s scanner) (*JobRun, error) {
	var run JobRun
	var status string
	var dateStr string
	var startedAt int64
	var finishedAt sql.NullInt64

	if err := s.Scan(&run.JobName, &dateStr, &status, &startedAt, &finishedAt, &run.Detail); err != nil {
		return nil, err
	}

	d, err := time.Parse(calendar.DateFormat, dateStr)
	if err != nil {
		return nil, fmt.Errorf("invalid run_date %q in ledger: %w", dateStr, err)
	}
	run.RunDate = d
	run.Status = Status(status)
	run.StartedAt = time.Unix(startedAt, 0)
	if finishedAt.Valid {
		t := time.Unix(finishedAt.Int64, 0)
		run.FinishedAt = &t
	}

	return &run, nil
}
