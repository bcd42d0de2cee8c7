package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/taskrelay-labs/taskrelay-go/internal/domain"
)

type PlanStore struct {
	db DB
}

const (
	selectPlanByRequestQuery = `SELECT plan_id, request_id, total_steps, estimated_total_effort, deadline, created_at
	 FROM plans
	 WHERE request_id = $1`

	listStepsQuery = `SELECT step_id, plan_id, sequence, action, detail, action_type, status, suggested_date, created_at
	 FROM steps
	 WHERE plan_id = $1
	 ORDER BY sequence ASC`
)

func NewPlanStore(db DB) *PlanStore {
	if db == nil {
		return nil
	}
	return &PlanStore{db: db}
}

func (s *PlanStore) CreatePlan(ctx context.Context, plan domain.Plan, steps []domain.Step) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("plan store not initialized")
	}
	if err := plan.Validate(); err != nil {
		return err
	}
	_, err := s.db.ExecContext(
		ctx,
		`INSERT INTO plans (plan_id, request_id, total_steps, estimated_total_effort, deadline, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		strings.TrimSpace(plan.ID),
		strings.TrimSpace(plan.RequestID),
		plan.TotalSteps,
		nullIfEmpty(plan.EstimatedTotalEffort),
		nullTime(plan.Deadline),
		plan.CreatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("insert plan: %w", err)
	}
	for _, step := range steps {
		if err := step.Validate(); err != nil {
			return err
		}
		_, err := s.db.ExecContext(
			ctx,
			`INSERT INTO steps (step_id, plan_id, sequence, action, detail, action_type, status, suggested_date, created_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
			strings.TrimSpace(step.ID),
			strings.TrimSpace(step.PlanID),
			step.Sequence,
			step.Action,
			nullIfEmpty(step.Detail),
			string(step.ActionType),
			nullIfEmpty(step.Status),
			nullTime(step.SuggestedDate),
			step.CreatedAt.UTC(),
		)
		if err != nil {
			return fmt.Errorf("insert step %s: %w", step.ID, err)
		}
	}
	return nil
}

func (s *PlanStore) GetByRequest(ctx context.Context, requestID string) (domain.Plan, error) {
	if s == nil || s.db == nil {
		return domain.Plan{}, fmt.Errorf("plan store not initialized")
	}
	requestID = strings.TrimSpace(requestID)
	if requestID == "" {
		return domain.Plan{}, fmt.Errorf("request id is required")
	}

	var plan domain.Plan
	var effort sql.NullString
	var deadline sql.NullTime
	row := s.db.QueryRowContext(ctx, selectPlanByRequestQuery, requestID)
	if err := row.Scan(
		&plan.ID,
		&plan.RequestID,
		&plan.TotalSteps,
		&effort,
		&deadline,
		&plan.CreatedAt,
	); err != nil {
		return domain.Plan{}, handleNotFound(err)
	}
	plan.EstimatedTotalEffort = strings.TrimSpace(effort.String)
	plan.Deadline = timePtr(deadline)
	return plan, nil
}

// ListSteps returns the plan's steps in sequence order. Ordering is an
// observable contract of execution, not a display concern.
func (s *PlanStore) ListSteps(ctx context.Context, planID string) ([]domain.Step, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("plan store not initialized")
	}
	planID = strings.TrimSpace(planID)
	if planID == "" {
		return nil, fmt.Errorf("plan id is required")
	}

	rows, err := s.db.QueryContext(ctx, listStepsQuery, planID)
	if err != nil {
		return nil, fmt.Errorf("list steps: %w", err)
	}
	defer rows.Close()

	steps := make([]domain.Step, 0)
	for rows.Next() {
		var step domain.Step
		var detail sql.NullString
		var actionType string
		var status sql.NullString
		var suggested sql.NullTime
		if err := rows.Scan(
			&step.ID,
			&step.PlanID,
			&step.Sequence,
			&step.Action,
			&detail,
			&actionType,
			&status,
			&suggested,
			&step.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan step: %w", err)
		}
		step.Detail = strings.TrimSpace(detail.String)
		step.ActionType = domain.ActionType(actionType)
		step.Status = strings.TrimSpace(status.String)
		step.SuggestedDate = timePtr(suggested)
		steps = append(steps, step)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list steps: %w", err)
	}
	return steps, nil
}
