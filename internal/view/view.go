// Package view assembles the refreshed request shape the authorize and
// execute operations return: the request with its plan, steps, outcomes,
// delegations and recent runs.
package view

import (
	"context"
	"errors"
	"fmt"

	"github.com/taskrelay-labs/taskrelay-go/internal/domain"
	"github.com/taskrelay-labs/taskrelay-go/internal/repo"
)

// RecentRunLimit bounds how many runs a request view carries.
const RecentRunLimit = 5

type Assembler struct {
	requests    repo.RequestRepository
	plans       repo.PlanRepository
	outcomes    repo.OutcomeRepository
	delegations repo.DelegationRepository
	runs        repo.RunRepository
}

func NewAssembler(requests repo.RequestRepository, plans repo.PlanRepository, outcomes repo.OutcomeRepository, delegations repo.DelegationRepository, runs repo.RunRepository) *Assembler {
	if requests == nil || plans == nil || outcomes == nil || delegations == nil || runs == nil {
		return nil
	}
	return &Assembler{
		requests:    requests,
		plans:       plans,
		outcomes:    outcomes,
		delegations: delegations,
		runs:        runs,
	}
}

// RequestView loads the full view for one request owned by the user.
func (a *Assembler) RequestView(ctx context.Context, userID, requestID string) (domain.RequestView, error) {
	if a == nil {
		return domain.RequestView{}, fmt.Errorf("view assembler not initialized")
	}
	request, err := a.requests.Get(ctx, userID, requestID)
	if err != nil {
		return domain.RequestView{}, err
	}

	result := domain.RequestView{Request: request}

	plan, err := a.plans.GetByRequest(ctx, request.ID)
	if err != nil && !errors.Is(err, repo.ErrNotFound) {
		return domain.RequestView{}, err
	}
	if err == nil {
		result.Plan = &plan
		steps, err := a.plans.ListSteps(ctx, plan.ID)
		if err != nil {
			return domain.RequestView{}, err
		}
		outcomes, err := a.outcomes.ListByPlan(ctx, plan.ID)
		if err != nil {
			return domain.RequestView{}, err
		}
		byStep := make(map[string]domain.Outcome, len(outcomes))
		for _, outcome := range outcomes {
			byStep[outcome.StepID] = outcome
		}
		result.Steps = make([]domain.StepView, 0, len(steps))
		for _, step := range steps {
			item := domain.StepView{Step: step}
			if outcome, ok := byStep[step.ID]; ok {
				outcome := outcome
				item.Outcome = &outcome
			}
			result.Steps = append(result.Steps, item)
		}
	}

	delegations, err := a.delegations.ListByRequest(ctx, request.ID)
	if err != nil {
		return domain.RequestView{}, err
	}
	result.Delegations = delegations

	runs, err := a.runs.ListRuns(ctx, repo.RunFilter{
		RequestID: request.ID,
		UserID:    userID,
		Limit:     RecentRunLimit,
	})
	if err != nil {
		return domain.RequestView{}, err
	}
	result.RecentRuns = make([]domain.RunView, 0, len(runs))
	for _, run := range runs {
		steps, err := a.runs.ListRunSteps(ctx, run.ID)
		if err != nil {
			return domain.RequestView{}, err
		}
		result.RecentRuns = append(result.RecentRuns, domain.RunView{Run: run, Steps: steps})
	}
	return result, nil
}
