package domain

import (
	"errors"
	"strings"
	"time"
)

// Request is one user-submitted task moving through the pipeline.
type Request struct {
	ID        string
	UserID    string
	Title     string
	Summary   string
	RawInput  string
	Domain    string
	Status    RequestStatus
	CreatedAt time.Time
	UpdatedAt time.Time
}

func (r Request) Validate() error {
	if strings.TrimSpace(r.ID) == "" {
		return errors.New("request id is required")
	}
	if strings.TrimSpace(r.UserID) == "" {
		return errors.New("user id is required")
	}
	if strings.TrimSpace(r.RawInput) == "" {
		return errors.New("raw input is required")
	}
	if strings.TrimSpace(string(r.Status)) == "" {
		return errors.New("status is required")
	}
	return nil
}

// RequestView is the refreshed request shape returned by the authorize and
// execute operations: the request plus its plan, steps with outcomes, all
// delegations (newest first) and the most recent runs with their step records.
type RequestView struct {
	Request     Request
	Plan        *Plan
	Steps       []StepView
	Delegations []Delegation
	RecentRuns  []RunView
}

// StepView pairs a step with its singleton outcome, if any.
type StepView struct {
	Step    Step
	Outcome *Outcome
}

// RunView pairs an execution run with its append-only step records.
type RunView struct {
	Run   ExecutionRun
	Steps []ExecutionRunStep
}
