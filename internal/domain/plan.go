package domain

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Plan is the immutable, ordered set of steps for one request. Exactly one
// plan exists per request once planning has finished.
type Plan struct {
	ID                   string
	RequestID            string
	TotalSteps           int
	EstimatedTotalEffort string
	Deadline             *time.Time
	CreatedAt            time.Time
}

func (p Plan) Validate() error {
	if strings.TrimSpace(p.ID) == "" {
		return errors.New("plan id is required")
	}
	if strings.TrimSpace(p.RequestID) == "" {
		return errors.New("request id is required")
	}
	if p.TotalSteps < 0 {
		return errors.New("total steps must be >= 0")
	}
	return nil
}

// Step is one ordered unit of work within a plan. Steps are never reordered
// or deleted after plan creation.
type Step struct {
	ID            string
	PlanID        string
	Sequence      int
	Action        string
	Detail        string
	ActionType    ActionType
	Status        string
	SuggestedDate *time.Time
	CreatedAt     time.Time
}

func (s Step) Validate() error {
	if strings.TrimSpace(s.ID) == "" {
		return errors.New("step id is required")
	}
	if strings.TrimSpace(s.PlanID) == "" {
		return errors.New("plan id is required")
	}
	if s.Sequence < 1 {
		return errors.New("sequence must be >= 1")
	}
	if strings.TrimSpace(s.Action) == "" {
		return errors.New("action is required")
	}
	switch s.ActionType {
	case ActionTypeDraftEmail, ActionTypeCreateGmailDraft, ActionTypeUserOnly:
	default:
		return fmt.Errorf("unknown action type: %s", s.ActionType)
	}
	return nil
}

// Outcome is the singleton result record for one step. It is always
// overwritten, never appended.
type Outcome struct {
	StepID    string
	Result    OutcomeResult
	Notes     string
	Output    string
	UpdatedAt time.Time
}

func (o Outcome) Validate() error {
	if strings.TrimSpace(o.StepID) == "" {
		return errors.New("step id is required")
	}
	if strings.TrimSpace(string(o.Result)) == "" {
		return errors.New("result is required")
	}
	return nil
}
