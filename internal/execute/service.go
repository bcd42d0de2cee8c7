// Package execute turns an authorized request's plan into attempted actions,
// one step at a time, and records every attempt.
package execute

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

// Mode selects which plan steps an execution considers.
type Mode string

const (
	ModeAll         Mode = "ALL"
	ModeRetryFailed Mode = "RETRY_FAILED"
)

const noRetryableSummary = "No retryable failed steps."

// Service is the execution orchestrator. Steps run strictly sequentially in
// plan order; a step failure is recorded and never aborts the run.
type Service struct {
	stores   repo.Stores
	views    *view.Assembler
	handlers map[domain.ActionType]Handler
	ledger   ledger
	now      func() time.Time
	newID    func() string
}

func New(tx repo.Tx, stores repo.Stores, views *view.Assembler, draftEmail, gmailDraft Handler) *Service {
	if tx == nil || views == nil || draftEmail == nil || gmailDraft == nil {
		return nil
	}
	now := time.Now
	newID := func() string { return uuid.NewString() }
	return &Service{
		stores: stores,
		views:  views,
		handlers: map[domain.ActionType]Handler{
			domain.ActionTypeDraftEmail:       draftEmail,
			domain.ActionTypeCreateGmailDraft: gmailDraft,
		},
		ledger: ledger{tx: tx, newID: newID, now: now},
		now:    now,
		newID:  newID,
	}
}

// Execute runs the plan of an authorized request. Mode ALL processes every
// step; RETRY_FAILED only the steps whose latest prior run record failed for
// a retryable reason. Returns the refreshed request view.
func (s *Service) Execute(ctx context.Context, userID, requestID string, mode Mode) (domain.RequestView, error) {
	if s == nil {
		return domain.RequestView{}, fmt.Errorf("execute service not initialized")
	}
	if strings.TrimSpace(userID) == "" || strings.TrimSpace(requestID) == "" {
		return domain.RequestView{}, fmt.Errorf("%w: user id and request id are required", domain.ErrInvalidInput)
	}
	if mode != ModeAll && mode != ModeRetryFailed {
		return domain.RequestView{}, fmt.Errorf("%w: unknown mode %q", domain.ErrInvalidInput, mode)
	}

	// Preconditions read everything first; nothing is written until they
	// all pass.
	request, err := s.stores.Requests.Get(ctx, userID, requestID)
	if err != nil {
		return domain.RequestView{}, notFound("request", err)
	}
	plan, err := s.stores.Plans.GetByRequest(ctx, request.ID)
	if err != nil {
		return domain.RequestView{}, notFound("plan", err)
	}
	steps, err := s.stores.Plans.ListSteps(ctx, plan.ID)
	if err != nil {
		return domain.RequestView{}, fmt.Errorf("list steps: %w", err)
	}
	delegation, err := s.stores.Delegations.LatestApproved(ctx, userID, request.ID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return domain.RequestView{}, fmt.Errorf("%w: no approved delegation", domain.ErrInvalidState)
		}
		return domain.RequestView{}, fmt.Errorf("load delegation: %w", err)
	}
	outcomes, err := s.stores.Outcomes.ListByPlan(ctx, plan.ID)
	if err != nil {
		return domain.RequestView{}, fmt.Errorf("list outcomes: %w", err)
	}
	priorOutcomes := make(map[string]domain.Outcome, len(outcomes))
	for _, outcome := range outcomes {
		priorOutcomes[outcome.StepID] = outcome
	}

	allowed := []domain.RequestStatus{domain.RequestStatusAuthorized}
	if mode == ModeRetryFailed {
		allowed = append(allowed, domain.RequestStatusError)
	}

	// The retry set is computed before the status claim so that a retry
	// with nothing to redo leaves the request status untouched. Only the
	// closed PARTIAL run records the attempt.
	runID := s.newID()
	var retrySet domain.StepIDSet
	if mode == ModeRetryFailed {
		retrySet, err = s.retryableSteps(ctx, userID, request.ID, runID)
		if err != nil {
			return domain.RequestView{}, err
		}
		if len(retrySet) == 0 {
			if request.Status != domain.RequestStatusAuthorized && request.Status != domain.RequestStatusError {
				return domain.RequestView{}, fmt.Errorf("%w: request is not authorized for execution", domain.ErrInvalidState)
			}
			run := domain.ExecutionRun{
				ID:           runID,
				RequestID:    request.ID,
				DelegationID: delegation.ID,
				UserID:       userID,
				Status:       domain.RunStarted,
				StartedAt:    s.now().UTC(),
			}
			if err := s.stores.Runs.CreateRun(ctx, run); err != nil {
				return domain.RequestView{}, fmt.Errorf("create run: %w", err)
			}
			if err := s.stores.Runs.FinishRun(ctx, run.ID, domain.RunPartial, noRetryableSummary, "", s.now().UTC()); err != nil {
				return domain.RequestView{}, fmt.Errorf("finish run: %w", err)
			}
			return s.views.RequestView(ctx, userID, request.ID)
		}
	}

	// The claim is the single atomic status read-and-transition: a second
	// concurrent execution finds the status already moved and fails here.
	request, err = s.stores.Requests.UpdateStatusIf(ctx, userID, request.ID, allowed, domain.RequestStatusAuthorized)
	if err != nil {
		if errors.Is(err, repo.ErrConflict) {
			return domain.RequestView{}, fmt.Errorf("%w: request is not authorized for execution", domain.ErrInvalidState)
		}
		return domain.RequestView{}, fmt.Errorf("claim request: %w", err)
	}

	run := domain.ExecutionRun{
		ID:           runID,
		RequestID:    request.ID,
		DelegationID: delegation.ID,
		UserID:       userID,
		Status:       domain.RunStarted,
		StartedAt:    s.now().UTC(),
	}
	if err := s.stores.Runs.CreateRun(ctx, run); err != nil {
		return domain.RequestView{}, fmt.Errorf("create run: %w", err)
	}

	approved := delegation.ApprovedSet()
	var counts domain.RunCounts

	for _, step := range steps {
		if retrySet != nil && !retrySet.Contains(step.ID) {
			continue
		}
		ref := stepRef{
			RequestID:    request.ID,
			RunID:        run.ID,
			DelegationID: delegation.ID,
			StepID:       step.ID,
		}

		handler, actionable := s.handlers[step.ActionType]
		if !actionable {
			if err := s.ledger.skip(ctx, ref, domain.ReasonUnknown, "Unsupported action", "unsupported_action"); err != nil {
				return domain.RequestView{}, err
			}
			counts.Skipped++
			continue
		}
		if !approved.Contains(step.ID) {
			if err := s.ledger.skip(ctx, ref, domain.ReasonNotApproved, "Step not approved", "not_approved"); err != nil {
				return domain.RequestView{}, err
			}
			counts.Skipped++
			continue
		}

		counts.Actionable++
		if !delegation.Scope.Allows(step.ActionType) {
			if err := s.ledger.skip(ctx, ref, domain.ReasonScopeDenied, scopeDeniedNote(step.ActionType), "scope_denied"); err != nil {
				return domain.RequestView{}, err
			}
			counts.Skipped++
			continue
		}

		runStepID, err := s.ledger.attempt(ctx, ref, attemptMessage(step.ActionType))
		if err != nil {
			return domain.RequestView{}, err
		}

		input := StepInput{Request: request, Step: step}
		if prior, ok := priorOutcomes[step.ID]; ok {
			prior := prior
			input.Prior = &prior
		}
		result, err := handler.Execute(ctx, input)
		if err != nil {
			reason, message, payload := failureDetails(err)
			if err := s.ledger.failure(ctx, ref, runStepID, reason, message, payload); err != nil {
				return domain.RequestView{}, err
			}
			counts.Failed++
			continue
		}
		if err := s.ledger.success(ctx, ref, runStepID, result.Output, result.Message); err != nil {
			return domain.RequestView{}, err
		}
		counts.Succeeded++
	}

	finalStatus := domain.RequestStatusFor(mode == ModeRetryFailed, counts)
	if _, err := s.stores.Requests.UpdateStatus(ctx, userID, request.ID, finalStatus); err != nil {
		return domain.RequestView{}, fmt.Errorf("finalize request status: %w", err)
	}

	runErr := ""
	if counts.Failed > 0 {
		runErr = "Execution had failures"
	}
	if err := s.stores.Runs.FinishRun(ctx, run.ID, domain.RunStatusFor(counts), counts.Summary(), runErr, s.now().UTC()); err != nil {
		return domain.RequestView{}, fmt.Errorf("finish run: %w", err)
	}

	return s.views.RequestView(ctx, userID, request.ID)
}

// retryableSteps computes the step ids whose latest record in the most
// recent prior run is FAILED with a retryable reason.
func (s *Service) retryableSteps(ctx context.Context, userID, requestID, currentRunID string) (domain.StepIDSet, error) {
	prior, err := s.stores.Runs.LatestRun(ctx, userID, requestID, currentRunID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return domain.StepIDSet{}, nil
		}
		return nil, fmt.Errorf("load prior run: %w", err)
	}
	records, err := s.stores.Runs.ListRunSteps(ctx, prior.ID)
	if err != nil {
		return nil, fmt.Errorf("list prior run steps: %w", err)
	}

	// Records are append-ordered; the last record per step wins.
	latest := make(map[string]domain.ExecutionRunStep, len(records))
	for _, record := range records {
		latest[record.StepID] = record
	}
	set := domain.StepIDSet{}
	for stepID, record := range latest {
		if record.Status != domain.RunStepFailed {
			continue
		}
		if _, retryable := domain.RetryableReasons[record.Reason]; retryable {
			set[stepID] = struct{}{}
		}
	}
	return set, nil
}

func scopeDeniedNote(t domain.ActionType) string {
	if t == domain.ActionTypeCreateGmailDraft {
		return "Scope denied: canCreateGmailDraft"
	}
	return "Scope denied: canDraftEmail"
}

func attemptMessage(t domain.ActionType) string {
	if t == domain.ActionTypeCreateGmailDraft {
		return "Creating Gmail draft."
	}
	return "Drafting email."
}

// failureDetails maps a handler error to the recorded reason, message and
// optional log payload. Anything that is not a StepError is UNKNOWN.
func failureDetails(err error) (domain.ReasonCode, string, domain.Metadata) {
	var stepErr *StepError
	if !errors.As(err, &stepErr) {
		return domain.ReasonUnknown, err.Error(), nil
	}
	message := err.Error()
	if stepErr.Err != nil {
		message = stepErr.Err.Error()
	}
	var payload domain.Metadata
	if stepErr.Reason == domain.ReasonSchemaValidation {
		payload = domain.Metadata{"reason": "schema_validation"}
	}
	return stepErr.Reason, message, payload
}

func notFound(what string, err error) error {
	if errors.Is(err, repo.ErrNotFound) {
		return fmt.Errorf("%s: %w", what, domain.ErrNotFound)
	}
	return fmt.Errorf("load %s: %w", what, err)
}
