package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/taskrelay-labs/taskrelay-go/internal/domain"
	"github.com/taskrelay-labs/taskrelay-go/internal/repo"
)

type RunStore struct {
	db DB
}

const (
	insertRunQuery = `INSERT INTO execution_runs (
		run_id,
		request_id,
		delegation_id,
		user_id,
		status,
		summary,
		error,
		started_at,
		finished_at
	) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)`

	// Guarded on finished_at IS NULL: a finished run is never reopened.
	finishRunQuery = `UPDATE execution_runs
	 SET status = $1, summary = $2, error = $3, finished_at = $4
	 WHERE run_id = $5 AND finished_at IS NULL`

	selectRunColumns = `run_id, request_id, delegation_id, user_id, status, summary, error, started_at, finished_at`

	latestRunQuery = `SELECT run_id, request_id, delegation_id, user_id, status, summary, error, started_at, finished_at
	 FROM execution_runs
	 WHERE user_id = $1 AND request_id = $2 AND run_id <> $3
	 ORDER BY started_at DESC
	 LIMIT 1`

	insertRunStepQuery = `INSERT INTO execution_run_steps (
		run_step_id,
		run_id,
		step_id,
		status,
		reason,
		message,
		created_at
	) VALUES ($1,$2,$3,$4,$5,$6,$7)`

	// Run-step records become immutable once their run is finished.
	updateRunStepQuery = `UPDATE execution_run_steps rs
	 SET status = $1, reason = $2, message = $3
	 FROM execution_runs r
	 WHERE rs.run_step_id = $4 AND r.run_id = rs.run_id AND r.finished_at IS NULL`

	listRunStepsQuery = `SELECT run_step_id, run_id, step_id, status, reason, message, created_at
	 FROM execution_run_steps
	 WHERE run_id = $1
	 ORDER BY created_at ASC, run_step_id ASC`
)

func NewRunStore(db DB) *RunStore {
	if db == nil {
		return nil
	}
	return &RunStore{db: db}
}

func (s *RunStore) CreateRun(ctx context.Context, run domain.ExecutionRun) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("run store not initialized")
	}
	if strings.TrimSpace(run.ID) == "" {
		run.ID = uuid.NewString()
	}
	if err := run.Validate(); err != nil {
		return err
	}
	_, err := s.db.ExecContext(
		ctx,
		insertRunQuery,
		strings.TrimSpace(run.ID),
		strings.TrimSpace(run.RequestID),
		nullIfEmpty(run.DelegationID),
		strings.TrimSpace(run.UserID),
		string(run.Status),
		nullIfEmpty(run.Summary),
		nullIfEmpty(run.Error),
		normalizeTime(run.StartedAt),
		nullTime(run.FinishedAt),
	)
	if err != nil {
		return fmt.Errorf("insert run: %w", err)
	}
	return nil
}

func (s *RunStore) FinishRun(ctx context.Context, runID string, status domain.RunStatus, summary, errMsg string, finishedAt time.Time) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("run store not initialized")
	}
	runID = strings.TrimSpace(runID)
	if runID == "" {
		return fmt.Errorf("run id is required")
	}
	if finishedAt.IsZero() {
		finishedAt = time.Now().UTC()
	}
	res, err := s.db.ExecContext(
		ctx,
		finishRunQuery,
		string(status),
		nullIfEmpty(summary),
		nullIfEmpty(errMsg),
		finishedAt.UTC(),
		runID,
	)
	if err != nil {
		return fmt.Errorf("finish run: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("finish run: %w", err)
	}
	if rows == 0 {
		return repo.ErrNotFound
	}
	return nil
}

func (s *RunStore) LatestRun(ctx context.Context, userID, requestID, excludeRunID string) (domain.ExecutionRun, error) {
	if s == nil || s.db == nil {
		return domain.ExecutionRun{}, fmt.Errorf("run store not initialized")
	}
	userID = strings.TrimSpace(userID)
	requestID = strings.TrimSpace(requestID)
	if userID == "" {
		return domain.ExecutionRun{}, fmt.Errorf("user id is required")
	}
	if requestID == "" {
		return domain.ExecutionRun{}, fmt.Errorf("request id is required")
	}
	row := s.db.QueryRowContext(ctx, latestRunQuery, userID, requestID, strings.TrimSpace(excludeRunID))
	return scanRun(row)
}

func (s *RunStore) ListRuns(ctx context.Context, filter repo.RunFilter) ([]domain.ExecutionRun, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("run store not initialized")
	}
	if strings.TrimSpace(filter.RequestID) == "" {
		return nil, fmt.Errorf("request id is required")
	}

	args := []any{strings.TrimSpace(filter.RequestID)}
	query := `SELECT ` + selectRunColumns + ` FROM execution_runs WHERE request_id = $1`
	if strings.TrimSpace(filter.UserID) != "" {
		args = append(args, strings.TrimSpace(filter.UserID))
		query += fmt.Sprintf(" AND user_id = $%d", len(args))
	}
	query += " ORDER BY started_at DESC"
	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	runs := make([]domain.ExecutionRun, 0)
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	return runs, nil
}

func (s *RunStore) AppendRunStep(ctx context.Context, step domain.ExecutionRunStep) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("run store not initialized")
	}
	if strings.TrimSpace(step.ID) == "" {
		step.ID = uuid.NewString()
	}
	if err := step.Validate(); err != nil {
		return err
	}
	_, err := s.db.ExecContext(
		ctx,
		insertRunStepQuery,
		strings.TrimSpace(step.ID),
		strings.TrimSpace(step.RunID),
		strings.TrimSpace(step.StepID),
		string(step.Status),
		nullIfEmpty(string(step.Reason)),
		nullIfEmpty(step.Message),
		normalizeTime(step.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("insert run step: %w", err)
	}
	return nil
}

func (s *RunStore) UpdateRunStep(ctx context.Context, runStepID string, status domain.RunStepStatus, reason domain.ReasonCode, message string) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("run store not initialized")
	}
	runStepID = strings.TrimSpace(runStepID)
	if runStepID == "" {
		return fmt.Errorf("run step id is required")
	}
	res, err := s.db.ExecContext(
		ctx,
		updateRunStepQuery,
		string(status),
		nullIfEmpty(string(reason)),
		nullIfEmpty(message),
		runStepID,
	)
	if err != nil {
		return fmt.Errorf("update run step: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update run step: %w", err)
	}
	if rows == 0 {
		return repo.ErrNotFound
	}
	return nil
}

func (s *RunStore) ListRunSteps(ctx context.Context, runID string) ([]domain.ExecutionRunStep, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("run store not initialized")
	}
	runID = strings.TrimSpace(runID)
	if runID == "" {
		return nil, fmt.Errorf("run id is required")
	}

	rows, err := s.db.QueryContext(ctx, listRunStepsQuery, runID)
	if err != nil {
		return nil, fmt.Errorf("list run steps: %w", err)
	}
	defer rows.Close()

	steps := make([]domain.ExecutionRunStep, 0)
	for rows.Next() {
		var step domain.ExecutionRunStep
		var status string
		var reason, message sql.NullString
		if err := rows.Scan(
			&step.ID,
			&step.RunID,
			&step.StepID,
			&status,
			&reason,
			&message,
			&step.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan run step: %w", err)
		}
		step.Status = domain.RunStepStatus(status)
		step.Reason = domain.ReasonCode(strings.TrimSpace(reason.String))
		step.Message = strings.TrimSpace(message.String)
		steps = append(steps, step)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list run steps: %w", err)
	}
	return steps, nil
}

type runScanner interface {
	Scan(dest ...any) error
}

func scanRun(scanner runScanner) (domain.ExecutionRun, error) {
	var run domain.ExecutionRun
	var delegationID, summary, errMsg sql.NullString
	var status string
	var finishedAt sql.NullTime
	if err := scanner.Scan(
		&run.ID,
		&run.RequestID,
		&delegationID,
		&run.UserID,
		&status,
		&summary,
		&errMsg,
		&run.StartedAt,
		&finishedAt,
	); err != nil {
		return domain.ExecutionRun{}, handleNotFound(err)
	}
	run.DelegationID = strings.TrimSpace(delegationID.String)
	run.Status = domain.RunStatus(status)
	run.Summary = strings.TrimSpace(summary.String)
	run.Error = strings.TrimSpace(errMsg.String)
	run.FinishedAt = timePtr(finishedAt)
	return run, nil
}
