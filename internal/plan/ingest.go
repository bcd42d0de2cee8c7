package plan

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/taskrelay-labs/taskrelay-go/internal/domain"
	"github.com/taskrelay-labs/taskrelay-go/internal/repo"
	"github.com/taskrelay-labs/taskrelay-go/internal/view"
)

// StepInput is one proposed plan step. The action type is not accepted from
// the caller; it is classified here and stored on the step.
type StepInput struct {
	Action        string
	Detail        string
	SuggestedDate *time.Time
}

// Input creates a request together with its plan in one call.
type Input struct {
	UserID               string
	Title                string
	Summary              string
	RawInput             string
	Domain               string
	EstimatedTotalEffort string
	Deadline             *time.Time
	Steps                []StepInput
}

// Service persists requests with their plans. Plans are immutable after this
// point; execution reads the stored steps as-is.
type Service struct {
	tx    repo.Tx
	views *view.Assembler
	now   func() time.Time
	newID func() string
}

func NewService(tx repo.Tx, views *view.Assembler) *Service {
	if tx == nil || views == nil {
		return nil
	}
	return &Service{
		tx:    tx,
		views: views,
		now:   time.Now,
		newID: func() string { return uuid.NewString() },
	}
}

// Ingest stores the request as PLANNED with its classified steps and returns
// the assembled view. The request, plan, and steps land as one unit.
func (s *Service) Ingest(ctx context.Context, in Input) (domain.RequestView, error) {
	if s == nil {
		return domain.RequestView{}, fmt.Errorf("plan service not initialized")
	}
	if strings.TrimSpace(in.UserID) == "" {
		return domain.RequestView{}, fmt.Errorf("%w: user id is required", domain.ErrInvalidInput)
	}
	if strings.TrimSpace(in.RawInput) == "" {
		return domain.RequestView{}, fmt.Errorf("%w: raw input is required", domain.ErrInvalidInput)
	}
	if len(in.Steps) == 0 {
		return domain.RequestView{}, fmt.Errorf("%w: at least one step is required", domain.ErrInvalidInput)
	}
	for i, step := range in.Steps {
		if strings.TrimSpace(step.Action) == "" {
			return domain.RequestView{}, fmt.Errorf("%w: step %d has no action", domain.ErrInvalidInput, i+1)
		}
	}

	now := s.now().UTC()
	request := domain.Request{
		ID:        s.newID(),
		UserID:    strings.TrimSpace(in.UserID),
		Title:     strings.TrimSpace(in.Title),
		Summary:   strings.TrimSpace(in.Summary),
		RawInput:  in.RawInput,
		Domain:    strings.TrimSpace(in.Domain),
		Status:    domain.RequestStatusPlanned,
		CreatedAt: now,
		UpdatedAt: now,
	}
	planRecord := domain.Plan{
		ID:                   s.newID(),
		RequestID:            request.ID,
		TotalSteps:           len(in.Steps),
		EstimatedTotalEffort: strings.TrimSpace(in.EstimatedTotalEffort),
		Deadline:             in.Deadline,
		CreatedAt:            now,
	}
	steps := make([]domain.Step, 0, len(in.Steps))
	for i, step := range in.Steps {
		steps = append(steps, domain.Step{
			ID:            s.newID(),
			PlanID:        planRecord.ID,
			Sequence:      i + 1,
			Action:        strings.TrimSpace(step.Action),
			Detail:        strings.TrimSpace(step.Detail),
			ActionType:    ClassifyActionType(step.Action, step.Detail),
			Status:        "PENDING",
			SuggestedDate: step.SuggestedDate,
			CreatedAt:     now,
		})
	}

	err := s.tx.Within(ctx, func(stores repo.Stores) error {
		if err := stores.Requests.CreateRequest(ctx, request); err != nil {
			return fmt.Errorf("create request: %w", err)
		}
		if err := stores.Plans.CreatePlan(ctx, planRecord, steps); err != nil {
			return fmt.Errorf("create plan: %w", err)
		}
		entry := domain.ActionLogEntry{
			OccurredAt: now,
			Action:     domain.LogStatusChanged,
			RequestID:  request.ID,
			Message:    "Plan stored.",
			PayloadPreview: domain.Metadata{
				"planId":     planRecord.ID,
				"countSteps": len(steps),
				"status":     string(request.Status),
			},
		}
		if _, err := stores.ActionLog.Append(ctx, entry); err != nil {
			return fmt.Errorf("append action log: %w", err)
		}
		return nil
	})
	if err != nil {
		return domain.RequestView{}, err
	}

	return s.views.RequestView(ctx, request.UserID, request.ID)
}
