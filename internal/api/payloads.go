package api

import (
	"time"

	"github.com/taskrelay-labs/taskrelay-go/internal/domain"
)

type requestPayload struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	Summary   string    `json:"summary,omitempty"`
	RawInput  string    `json:"rawInput,omitempty"`
	Domain    string    `json:"domain,omitempty"`
	Status    string    `json:"status"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

type planPayload struct {
	ID                   string     `json:"id"`
	TotalSteps           int        `json:"totalSteps"`
	EstimatedTotalEffort string     `json:"estimatedTotalEffort,omitempty"`
	Deadline             *time.Time `json:"deadline,omitempty"`
	CreatedAt            time.Time  `json:"createdAt"`
}

type outcomePayload struct {
	Result    string    `json:"result"`
	Notes     string    `json:"notes,omitempty"`
	Output    string    `json:"output,omitempty"`
	UpdatedAt time.Time `json:"updatedAt"`
}

type stepPayload struct {
	ID            string          `json:"id"`
	Sequence      int             `json:"sequence"`
	Action        string          `json:"action"`
	Detail        string          `json:"detail,omitempty"`
	ActionType    string          `json:"actionType"`
	Status        string          `json:"status,omitempty"`
	SuggestedDate *time.Time      `json:"suggestedDate,omitempty"`
	Outcome       *outcomePayload `json:"outcome,omitempty"`
}

type delegationPayload struct {
	ID              string       `json:"id"`
	PlanID          string       `json:"planId"`
	Status          string       `json:"status"`
	Scope           domain.Scope `json:"scope"`
	ApprovedStepIDs []string     `json:"approvedStepIds"`
	CreatedAt       time.Time    `json:"createdAt"`
}

type runStepPayload struct {
	ID        string    `json:"id"`
	StepID    string    `json:"stepId"`
	Status    string    `json:"status"`
	Reason    string    `json:"reason,omitempty"`
	Message   string    `json:"message,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}

type runPayload struct {
	ID           string           `json:"id"`
	DelegationID string           `json:"delegationId"`
	Status       string           `json:"status"`
	Summary      string           `json:"summary,omitempty"`
	Error        string           `json:"error,omitempty"`
	StartedAt    time.Time        `json:"startedAt"`
	FinishedAt   *time.Time       `json:"finishedAt,omitempty"`
	Steps        []runStepPayload `json:"steps"`
}

type viewPayload struct {
	Request     requestPayload      `json:"request"`
	Plan        *planPayload        `json:"plan,omitempty"`
	Steps       []stepPayload       `json:"steps"`
	Delegations []delegationPayload `json:"delegations"`
	RecentRuns  []runPayload        `json:"recentRuns"`
}

func viewFromDomain(v domain.RequestView) viewPayload {
	out := viewPayload{
		Request: requestPayload{
			ID:        v.Request.ID,
			Title:     v.Request.Title,
			Summary:   v.Request.Summary,
			RawInput:  v.Request.RawInput,
			Domain:    v.Request.Domain,
			Status:    string(v.Request.Status),
			CreatedAt: v.Request.CreatedAt,
			UpdatedAt: v.Request.UpdatedAt,
		},
		Steps:       make([]stepPayload, 0, len(v.Steps)),
		Delegations: make([]delegationPayload, 0, len(v.Delegations)),
		RecentRuns:  make([]runPayload, 0, len(v.RecentRuns)),
	}
	if v.Plan != nil {
		out.Plan = &planPayload{
			ID:                   v.Plan.ID,
			TotalSteps:           v.Plan.TotalSteps,
			EstimatedTotalEffort: v.Plan.EstimatedTotalEffort,
			Deadline:             v.Plan.Deadline,
			CreatedAt:            v.Plan.CreatedAt,
		}
	}
	for _, step := range v.Steps {
		item := stepPayload{
			ID:            step.Step.ID,
			Sequence:      step.Step.Sequence,
			Action:        step.Step.Action,
			Detail:        step.Step.Detail,
			ActionType:    string(step.Step.ActionType),
			Status:        step.Step.Status,
			SuggestedDate: step.Step.SuggestedDate,
		}
		if step.Outcome != nil {
			item.Outcome = &outcomePayload{
				Result:    string(step.Outcome.Result),
				Notes:     step.Outcome.Notes,
				Output:    step.Outcome.Output,
				UpdatedAt: step.Outcome.UpdatedAt,
			}
		}
		out.Steps = append(out.Steps, item)
	}
	for _, delegation := range v.Delegations {
		out.Delegations = append(out.Delegations, delegationFromDomain(delegation))
	}
	for _, run := range v.RecentRuns {
		out.RecentRuns = append(out.RecentRuns, runFromDomain(run))
	}
	return out
}

func delegationFromDomain(d domain.Delegation) delegationPayload {
	approved := d.ApprovedStepIDs
	if approved == nil {
		approved = []string{}
	}
	return delegationPayload{
		ID:              d.ID,
		PlanID:          d.PlanID,
		Status:          string(d.Status),
		Scope:           d.Scope,
		ApprovedStepIDs: approved,
		CreatedAt:       d.CreatedAt,
	}
}

func runFromDomain(r domain.RunView) runPayload {
	steps := make([]runStepPayload, 0, len(r.Steps))
	for _, step := range r.Steps {
		steps = append(steps, runStepPayload{
			ID:        step.ID,
			StepID:    step.StepID,
			Status:    string(step.Status),
			Reason:    string(step.Reason),
			Message:   step.Message,
			CreatedAt: step.CreatedAt,
		})
	}
	return runPayload{
		ID:           r.Run.ID,
		DelegationID: r.Run.DelegationID,
		Status:       string(r.Run.Status),
		Summary:      r.Run.Summary,
		Error:        r.Run.Error,
		StartedAt:    r.Run.StartedAt,
		FinishedAt:   r.Run.FinishedAt,
		Steps:        steps,
	}
}
