// Package authorize grants scope-limited execution delegations over approved
// plan steps.
package authorize

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/taskrelay-labs/taskrelay-go/internal/domain"
	"github.com/taskrelay-labs/taskrelay-go/internal/repo"
	"github.com/taskrelay-labs/taskrelay-go/internal/view"
)

// Input is one authorize call. PlanID, ApprovedStepIDs and Scope are
// optional; an absent plan id accepts the request's current plan, absent
// steps default to the whole plan, an absent scope to the policy default.
type Input struct {
	UserID          string
	RequestID       string
	PlanID          string
	ApprovedStepIDs []string
	Scope           *domain.Scope
}

// Result carries the created delegation and the refreshed request view.
type Result struct {
	Delegation domain.Delegation
	View       domain.RequestView
}

type Service struct {
	tx     repo.Tx
	views  *view.Assembler
	policy Policy
	now    func() time.Time
	newID  func() string
}

func New(tx repo.Tx, views *view.Assembler, policy Policy) *Service {
	if tx == nil || views == nil {
		return nil
	}
	return &Service{
		tx:     tx,
		views:  views,
		policy: policy,
		now:    time.Now,
		newID:  func() string { return uuid.NewString() },
	}
}

// Authorize creates an APPROVED delegation for the request's plan, records
// the grant in the action log, and moves the request to AUTHORIZED. The three
// writes land as one unit.
func (s *Service) Authorize(ctx context.Context, in Input) (Result, error) {
	if s == nil {
		return Result{}, fmt.Errorf("authorize service not initialized")
	}
	if strings.TrimSpace(in.UserID) == "" || strings.TrimSpace(in.RequestID) == "" {
		return Result{}, fmt.Errorf("%w: user id and request id are required", domain.ErrInvalidInput)
	}

	var delegation domain.Delegation
	err := s.tx.Within(ctx, func(stores repo.Stores) error {
		request, err := stores.Requests.Get(ctx, in.UserID, in.RequestID)
		if err != nil {
			return notFound("request", err)
		}
		plan, err := stores.Plans.GetByRequest(ctx, request.ID)
		if err != nil {
			return notFound("plan", err)
		}
		if in.PlanID != "" && in.PlanID != plan.ID {
			return fmt.Errorf("plan: %w", domain.ErrNotFound)
		}
		steps, err := stores.Plans.ListSteps(ctx, plan.ID)
		if err != nil {
			return err
		}

		approved, err := s.resolveApproved(in.ApprovedStepIDs, steps)
		if err != nil {
			return err
		}
		scope := s.policy.ResolveScope(in.Scope)

		delegation = domain.Delegation{
			ID:              s.newID(),
			RequestID:       request.ID,
			PlanID:          plan.ID,
			UserID:          in.UserID,
			Status:          domain.DelegationApproved,
			Scope:           scope,
			ApprovedStepIDs: approved,
			CreatedAt:       s.now().UTC(),
		}
		if err := stores.Delegations.Create(ctx, delegation); err != nil {
			return fmt.Errorf("create delegation: %w", err)
		}

		entry := domain.ActionLogEntry{
			OccurredAt:   delegation.CreatedAt,
			Action:       domain.LogDelegationGranted,
			RequestID:    request.ID,
			DelegationID: delegation.ID,
			Message:      "delegation granted",
			PayloadPreview: domain.Metadata{
				"requestId":  request.ID,
				"planId":     plan.ID,
				"countSteps": len(approved),
				"scope":      scope,
			},
		}
		if _, err := stores.ActionLog.Append(ctx, entry); err != nil {
			return fmt.Errorf("append delegation log: %w", err)
		}

		if _, err := stores.Requests.UpdateStatus(ctx, in.UserID, request.ID, domain.RequestStatusAuthorized); err != nil {
			return fmt.Errorf("mark request authorized: %w", err)
		}
		return nil
	})
	if err != nil {
		return Result{}, err
	}

	refreshed, err := s.views.RequestView(ctx, in.UserID, in.RequestID)
	if err != nil {
		return Result{}, err
	}
	return Result{Delegation: delegation, View: refreshed}, nil
}

// resolveApproved validates caller-supplied step ids against the plan. With
// none supplied every plan step is approved.
func (s *Service) resolveApproved(requested []string, steps []domain.Step) ([]string, error) {
	planIDs := make([]string, 0, len(steps))
	known := make(domain.StepIDSet, len(steps))
	for _, step := range steps {
		planIDs = append(planIDs, step.ID)
		known[step.ID] = struct{}{}
	}

	approved := planIDs
	if len(requested) > 0 {
		set := domain.NewStepIDSet(requested)
		approved = make([]string, 0, len(set))
		// keep plan order
		for _, id := range planIDs {
			if set.Contains(id) {
				approved = append(approved, id)
				delete(set, id)
			}
		}
		if len(set) > 0 {
			return nil, fmt.Errorf("%w: approved step ids outside the plan", domain.ErrInvalidInput)
		}
	}
	if s.policy.MaxApprovedSteps > 0 && len(approved) > s.policy.MaxApprovedSteps {
		return nil, fmt.Errorf("%w: policy allows at most %d approved steps", domain.ErrInvalidInput, s.policy.MaxApprovedSteps)
	}
	return approved, nil
}

func notFound(what string, err error) error {
	if errors.Is(err, repo.ErrNotFound) {
		return fmt.Errorf("%s: %w", what, domain.ErrNotFound)
	}
	return fmt.Errorf("load %s: %w", what, err)
}
