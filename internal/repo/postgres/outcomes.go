package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/taskrelay-labs/taskrelay-go/internal/domain"
)

type OutcomeStore struct {
	db DB
}

const (
	// The unique key on step_id is what makes the upsert idempotent: two
	// writes for the same step always leave exactly one row with the latest
	// values.
	upsertOutcomeQuery = `INSERT INTO outcomes (step_id, result, notes, output, updated_at)
	 VALUES ($1,$2,$3,$4,$5)
	 ON CONFLICT (step_id) DO UPDATE
	 SET result = EXCLUDED.result, notes = EXCLUDED.notes, output = EXCLUDED.output, updated_at = EXCLUDED.updated_at`

	selectOutcomeQuery = `SELECT step_id, result, notes, output, updated_at
	 FROM outcomes
	 WHERE step_id = $1`

	listOutcomesByPlanQuery = `SELECT o.step_id, o.result, o.notes, o.output, o.updated_at
	 FROM outcomes o
	 JOIN steps s ON s.step_id = o.step_id
	 WHERE s.plan_id = $1
	 ORDER BY s.sequence ASC`
)

func NewOutcomeStore(db DB) *OutcomeStore {
	if db == nil {
		return nil
	}
	return &OutcomeStore{db: db}
}

func (s *OutcomeStore) Upsert(ctx context.Context, outcome domain.Outcome) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("outcome store not initialized")
	}
	if err := outcome.Validate(); err != nil {
		return err
	}
	updatedAt := outcome.UpdatedAt
	if updatedAt.IsZero() {
		updatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(
		ctx,
		upsertOutcomeQuery,
		strings.TrimSpace(outcome.StepID),
		string(outcome.Result),
		nullIfEmpty(outcome.Notes),
		nullIfEmpty(outcome.Output),
		updatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("upsert outcome: %w", err)
	}
	return nil
}

func (s *OutcomeStore) GetByStep(ctx context.Context, stepID string) (domain.Outcome, error) {
	if s == nil || s.db == nil {
		return domain.Outcome{}, fmt.Errorf("outcome store not initialized")
	}
	stepID = strings.TrimSpace(stepID)
	if stepID == "" {
		return domain.Outcome{}, fmt.Errorf("step id is required")
	}
	row := s.db.QueryRowContext(ctx, selectOutcomeQuery, stepID)
	return scanOutcome(row)
}

func (s *OutcomeStore) ListByPlan(ctx context.Context, planID string) ([]domain.Outcome, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("outcome store not initialized")
	}
	planID = strings.TrimSpace(planID)
	if planID == "" {
		return nil, fmt.Errorf("plan id is required")
	}

	rows, err := s.db.QueryContext(ctx, listOutcomesByPlanQuery, planID)
	if err != nil {
		return nil, fmt.Errorf("list outcomes: %w", err)
	}
	defer rows.Close()

	outcomes := make([]domain.Outcome, 0)
	for rows.Next() {
		outcome, err := scanOutcome(rows)
		if err != nil {
			return nil, err
		}
		outcomes = append(outcomes, outcome)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list outcomes: %w", err)
	}
	return outcomes, nil
}

type outcomeScanner interface {
	Scan(dest ...any) error
}

func scanOutcome(scanner outcomeScanner) (domain.Outcome, error) {
	var outcome domain.Outcome
	var result string
	var notes, output sql.NullString
	if err := scanner.Scan(&outcome.StepID, &result, &notes, &output, &outcome.UpdatedAt); err != nil {
		return domain.Outcome{}, handleNotFound(err)
	}
	outcome.Result = domain.OutcomeResult(result)
	outcome.Notes = notes.String
	outcome.Output = output.String
	return outcome, nil
}
