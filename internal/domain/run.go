package domain

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// ExecutionRun records one invocation of the orchestrator over a request.
// A finished run is never reopened.
type ExecutionRun struct {
	ID           string
	RequestID    string
	DelegationID string
	UserID       string
	Status       RunStatus
	Summary      string
	Error        string
	StartedAt    time.Time
	FinishedAt   *time.Time
}

func (r ExecutionRun) Validate() error {
	if strings.TrimSpace(r.ID) == "" {
		return errors.New("run id is required")
	}
	if strings.TrimSpace(r.RequestID) == "" {
		return errors.New("request id is required")
	}
	if strings.TrimSpace(r.UserID) == "" {
		return errors.New("user id is required")
	}
	if strings.TrimSpace(string(r.Status)) == "" {
		return errors.New("status is required")
	}
	return nil
}

// ExecutionRunStep is one append-only audit record of a step touched within a
// run. The same step appears once per run that considered it.
type ExecutionRunStep struct {
	ID        string
	RunID     string
	StepID    string
	Status    RunStepStatus
	Reason    ReasonCode
	Message   string
	CreatedAt time.Time
}

func (s ExecutionRunStep) Validate() error {
	if strings.TrimSpace(s.ID) == "" {
		return errors.New("run step id is required")
	}
	if strings.TrimSpace(s.RunID) == "" {
		return errors.New("run id is required")
	}
	if strings.TrimSpace(s.StepID) == "" {
		return errors.New("step id is required")
	}
	if strings.TrimSpace(string(s.Status)) == "" {
		return errors.New("status is required")
	}
	return nil
}

// RunCounts aggregates what one run saw. Actionable counts only approved
// steps whose action type the orchestrator knows how to execute.
type RunCounts struct {
	Actionable int
	Succeeded  int
	Failed     int
	Skipped    int
}

// Summary renders the counts in the run-summary wire format.
func (c RunCounts) Summary() string {
	return fmt.Sprintf("actionable:%d success:%d failed:%d skipped:%d",
		c.Actionable, c.Succeeded, c.Failed, c.Skipped)
}

// RunStatusFor derives the terminal run status from the counts.
func RunStatusFor(c RunCounts) RunStatus {
	switch {
	case c.Actionable == 0:
		return RunPartial
	case c.Failed > 0 && c.Succeeded == 0:
		return RunFailed
	case c.Failed == 0 && c.Skipped == 0 && c.Succeeded == c.Actionable:
		return RunSucceeded
	default:
		return RunPartial
	}
}

// RequestStatusFor derives the post-run request status. DONE requires a full
// pass: every step considered, none skipped, at least one success. Retries
// leave the request AUTHORIZED so further retries stay possible.
func RequestStatusFor(retry bool, c RunCounts) RequestStatus {
	if c.Failed > 0 {
		return RequestStatusError
	}
	if !retry && c.Succeeded > 0 && c.Skipped == 0 {
		return RequestStatusDone
	}
	return RequestStatusAuthorized
}
