package execute

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/taskrelay-labs/taskrelay-go/internal/domain"
)

type fakeHandler struct {
	result StepResult
	err    error
	calls  []string
}

func (h *fakeHandler) Execute(ctx context.Context, in StepInput) (StepResult, error) {
	h.calls = append(h.calls, in.Step.ID)
	if h.err != nil {
		return StepResult{}, h.err
	}
	return h.result, nil
}

func newExecuteStore(status domain.RequestStatus) *memStore {
	return &memStore{
		request: domain.Request{
			ID:       "req-1",
			UserID:   "user-1",
			Title:    "Lease follow-up",
			RawInput: "follow up with the landlord about the lease",
			Status:   status,
		},
		plan: domain.Plan{ID: "plan-1", RequestID: "req-1", TotalSteps: 3},
		steps: []domain.Step{
			{ID: "step-1", PlanID: "plan-1", Sequence: 1, Action: "Draft an email to the landlord", ActionType: domain.ActionTypeDraftEmail},
			{ID: "step-2", PlanID: "plan-1", Sequence: 2, Action: "Create the Gmail draft", ActionType: domain.ActionTypeCreateGmailDraft},
			{ID: "step-3", PlanID: "plan-1", Sequence: 3, Action: "Review the lease in person", ActionType: domain.ActionTypeUserOnly},
		},
	}
}

func approveAll(store *memStore, scope domain.Scope) {
	ids := make([]string, 0, len(store.steps))
	for _, step := range store.steps {
		ids = append(ids, step.ID)
	}
	store.delegations = append(store.delegations, domain.Delegation{
		ID:              "del-1",
		RequestID:       "req-1",
		PlanID:          "plan-1",
		UserID:          "user-1",
		Status:          domain.DelegationApproved,
		Scope:           scope,
		ApprovedStepIDs: ids,
	})
}

func newExecuteService(store *memStore, draft, gmailDraft Handler) *Service {
	return New(memTx{store: store}, store.stores(), store.assembler(), draft, gmailDraft)
}

func successHandler(message string) *fakeHandler {
	return &fakeHandler{result: StepResult{Output: `{"subject":"s","body":"b","assumptions":[],"needsUserInput":[]}`, Message: message}}
}

func TestExecutePartialOnScopeAndUnknownSkips(t *testing.T) {
	store := newExecuteStore(domain.RequestStatusAuthorized)
	store.delegations = append(store.delegations, domain.Delegation{
		ID:              "del-1",
		RequestID:       "req-1",
		PlanID:          "plan-1",
		UserID:          "user-1",
		Status:          domain.DelegationApproved,
		Scope:           domain.Scope{CanDraftEmail: true, CanCreateGmailDraft: false},
		ApprovedStepIDs: []string{"step-1", "step-2"},
	})
	draft := successHandler("Draft email generated.")
	gmailDraft := successHandler("Gmail draft created.")
	service := newExecuteService(store, draft, gmailDraft)

	viewResult, err := service.Execute(context.Background(), "user-1", "req-1", ModeAll)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}

	run := store.runs[0]
	records := store.runStepsFor(run.ID)
	if records["step-1"].Status != domain.RunStepSucceeded {
		t.Fatalf("step-1 = %+v, want SUCCEEDED", records["step-1"])
	}
	if records["step-2"].Status != domain.RunStepSkipped || records["step-2"].Reason != domain.ReasonScopeDenied {
		t.Fatalf("step-2 = %+v, want SKIPPED/SCOPE_DENIED", records["step-2"])
	}
	if records["step-3"].Status != domain.RunStepSkipped || records["step-3"].Reason != domain.ReasonUnknown {
		t.Fatalf("step-3 = %+v, want SKIPPED/UNKNOWN", records["step-3"])
	}
	if run.Status != domain.RunPartial {
		t.Fatalf("run status = %s, want PARTIAL", run.Status)
	}
	if viewResult.Request.Status != domain.RequestStatusAuthorized {
		t.Fatalf("request status = %s, want AUTHORIZED", viewResult.Request.Status)
	}
	if run.Summary != "actionable:2 success:1 failed:0 skipped:2" {
		t.Fatalf("summary = %q", run.Summary)
	}
	if store.outcomes["step-2"].Result != domain.OutcomeSkipped || store.outcomes["step-2"].Notes != "Scope denied: canCreateGmailDraft" {
		t.Fatalf("step-2 outcome = %+v", store.outcomes["step-2"])
	}
	if store.outcomes["step-3"].Notes != "Unsupported action" {
		t.Fatalf("step-3 outcome = %+v", store.outcomes["step-3"])
	}
	if gmailDraft.calls != nil {
		t.Fatalf("gmail handler ran despite scope denial: %v", gmailDraft.calls)
	}
}

func TestExecuteSkipsUnapprovedSteps(t *testing.T) {
	store := newExecuteStore(domain.RequestStatusAuthorized)
	store.delegations = append(store.delegations, domain.Delegation{
		ID:              "del-1",
		RequestID:       "req-1",
		PlanID:          "plan-1",
		UserID:          "user-1",
		Status:          domain.DelegationApproved,
		Scope:           domain.Scope{CanDraftEmail: true, CanCreateGmailDraft: true},
		ApprovedStepIDs: []string{"step-2"},
	})
	draft := successHandler("Draft email generated.")
	service := newExecuteService(store, draft, successHandler("Gmail draft created."))

	if _, err := service.Execute(context.Background(), "user-1", "req-1", ModeAll); err != nil {
		t.Fatalf("Execute: %v", err)
	}

	run := store.runs[0]
	records := store.runStepsFor(run.ID)
	if records["step-1"].Status != domain.RunStepSkipped || records["step-1"].Reason != domain.ReasonNotApproved {
		t.Fatalf("step-1 = %+v, want SKIPPED/NOT_APPROVED", records["step-1"])
	}
	if records["step-2"].Status != domain.RunStepSucceeded {
		t.Fatalf("step-2 = %+v, want SUCCEEDED", records["step-2"])
	}
	if store.outcomes["step-1"].Result != domain.OutcomeSkipped || store.outcomes["step-1"].Notes != "Step not approved" {
		t.Fatalf("step-1 outcome = %+v", store.outcomes["step-1"])
	}
	// Unapproved steps never count as actionable.
	if run.Summary != "actionable:1 success:1 failed:0 skipped:2" {
		t.Fatalf("summary = %q", run.Summary)
	}
	if draft.calls != nil {
		t.Fatalf("draft handler ran for an unapproved step: %v", draft.calls)
	}
}

func TestExecuteWrongStatusWritesNothing(t *testing.T) {
	store := newExecuteStore(domain.RequestStatusPlanned)
	approveAll(store, domain.DefaultScope())
	service := newExecuteService(store, successHandler("ok"), successHandler("ok"))

	_, err := service.Execute(context.Background(), "user-1", "req-1", ModeAll)
	if !errors.Is(err, domain.ErrInvalidState) {
		t.Fatalf("err = %v, want ErrInvalidState", err)
	}
	if len(store.runs) != 0 || len(store.runSteps) != 0 || len(store.entries) != 0 || len(store.outcomes) != 0 {
		t.Fatal("precondition failure must not write")
	}
	if store.request.Status != domain.RequestStatusPlanned {
		t.Fatalf("request status changed to %s", store.request.Status)
	}
}

func TestExecuteMissingDelegation(t *testing.T) {
	store := newExecuteStore(domain.RequestStatusAuthorized)
	service := newExecuteService(store, successHandler("ok"), successHandler("ok"))

	_, err := service.Execute(context.Background(), "user-1", "req-1", ModeAll)
	if !errors.Is(err, domain.ErrInvalidState) {
		t.Fatalf("err = %v, want ErrInvalidState", err)
	}
	if len(store.runs) != 0 {
		t.Fatal("run created despite missing delegation")
	}
}

func TestExecuteMissingRequest(t *testing.T) {
	store := newExecuteStore(domain.RequestStatusAuthorized)
	approveAll(store, domain.DefaultScope())
	service := newExecuteService(store, successHandler("ok"), successHandler("ok"))

	_, err := service.Execute(context.Background(), "user-2", "req-1", ModeAll)
	if !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestExecuteAllSuccessIsDone(t *testing.T) {
	store := newExecuteStore(domain.RequestStatusAuthorized)
	store.steps = store.steps[:2]
	approveAll(store, domain.Scope{CanDraftEmail: true, CanCreateGmailDraft: true})
	service := newExecuteService(store, successHandler("Draft email generated."), successHandler("Gmail draft created."))

	viewResult, err := service.Execute(context.Background(), "user-1", "req-1", ModeAll)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if viewResult.Request.Status != domain.RequestStatusDone {
		t.Fatalf("request status = %s, want DONE", viewResult.Request.Status)
	}
	run := store.runs[0]
	if run.Status != domain.RunSucceeded {
		t.Fatalf("run status = %s, want SUCCEEDED", run.Status)
	}
	if run.FinishedAt == nil {
		t.Fatal("run not closed")
	}
	if run.Error != "" {
		t.Fatalf("run error = %q, want empty", run.Error)
	}
}

func TestExecuteFailureContinuesAndMarksError(t *testing.T) {
	store := newExecuteStore(domain.RequestStatusAuthorized)
	store.steps = store.steps[:2]
	approveAll(store, domain.Scope{CanDraftEmail: true, CanCreateGmailDraft: true})

	longMessage := strings.Repeat("x", 300)
	draft := &fakeHandler{err: stepFailure(domain.ReasonLLMError, errors.New(longMessage))}
	gmailDraft := successHandler("Gmail draft created.")
	service := newExecuteService(store, draft, gmailDraft)

	viewResult, err := service.Execute(context.Background(), "user-1", "req-1", ModeAll)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if viewResult.Request.Status != domain.RequestStatusError {
		t.Fatalf("request status = %s, want ERROR", viewResult.Request.Status)
	}
	if len(gmailDraft.calls) != 1 {
		t.Fatalf("second step did not run after first failed: %v", gmailDraft.calls)
	}
	run := store.runs[0]
	if run.Status != domain.RunPartial {
		t.Fatalf("run status = %s, want PARTIAL", run.Status)
	}
	if run.Error != "Execution had failures" {
		t.Fatalf("run error = %q", run.Error)
	}
	outcome := store.outcomes["step-1"]
	if outcome.Result != domain.OutcomeError {
		t.Fatalf("outcome = %+v, want ERROR", outcome)
	}
	if len(outcome.Notes) != 200 {
		t.Fatalf("note length = %d, want truncated to 200", len(outcome.Notes))
	}
	records := store.runStepsFor(run.ID)
	if records["step-1"].Reason != domain.ReasonLLMError {
		t.Fatalf("step-1 reason = %s, want LLM_ERROR", records["step-1"].Reason)
	}
}

func TestExecuteAllFailuresIsFailedRun(t *testing.T) {
	store := newExecuteStore(domain.RequestStatusAuthorized)
	store.steps = store.steps[:1]
	approveAll(store, domain.DefaultScope())
	draft := &fakeHandler{err: stepFailure(domain.ReasonLLMError, errors.New("model unavailable"))}
	service := newExecuteService(store, draft, successHandler("ok"))

	if _, err := service.Execute(context.Background(), "user-1", "req-1", ModeAll); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if store.runs[0].Status != domain.RunFailed {
		t.Fatalf("run status = %s, want FAILED", store.runs[0].Status)
	}
}

func TestRetryProcessesOnlyRetryableFailures(t *testing.T) {
	store := newExecuteStore(domain.RequestStatusError)
	approveAll(store, domain.Scope{CanDraftEmail: true, CanCreateGmailDraft: true})

	prior := domain.ExecutionRun{ID: "run-0", RequestID: "req-1", UserID: "user-1", Status: domain.RunFailed}
	store.runs = append(store.runs, prior)
	store.runSteps = append(store.runSteps,
		domain.ExecutionRunStep{ID: "rs-1", RunID: "run-0", StepID: "step-1", Status: domain.RunStepFailed, Reason: domain.ReasonSchemaValidation},
		domain.ExecutionRunStep{ID: "rs-2", RunID: "run-0", StepID: "step-2", Status: domain.RunStepFailed, Reason: domain.ReasonGmailAPI},
	)

	draft := successHandler("Draft email generated.")
	gmailDraft := successHandler("Gmail draft created.")
	service := newExecuteService(store, draft, gmailDraft)

	viewResult, err := service.Execute(context.Background(), "user-1", "req-1", ModeRetryFailed)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if draft.calls != nil {
		t.Fatalf("schema-validation failure retried: %v", draft.calls)
	}
	if len(gmailDraft.calls) != 1 || gmailDraft.calls[0] != "step-2" {
		t.Fatalf("gmail calls = %v, want [step-2]", gmailDraft.calls)
	}
	// retries never move the request to DONE
	if viewResult.Request.Status != domain.RequestStatusAuthorized {
		t.Fatalf("request status = %s, want AUTHORIZED", viewResult.Request.Status)
	}
}

func TestRetryWithoutRetryableStepsClosesPartial(t *testing.T) {
	store := newExecuteStore(domain.RequestStatusError)
	approveAll(store, domain.DefaultScope())

	prior := domain.ExecutionRun{ID: "run-0", RequestID: "req-1", UserID: "user-1", Status: domain.RunFailed}
	store.runs = append(store.runs, prior)
	store.runSteps = append(store.runSteps,
		domain.ExecutionRunStep{ID: "rs-1", RunID: "run-0", StepID: "step-1", Status: domain.RunStepFailed, Reason: domain.ReasonSchemaValidation},
	)

	draft := successHandler("ok")
	service := newExecuteService(store, draft, successHandler("ok"))

	if _, err := service.Execute(context.Background(), "user-1", "req-1", ModeRetryFailed); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if draft.calls != nil {
		t.Fatalf("steps processed despite empty retry set: %v", draft.calls)
	}
	newRun := store.runs[1]
	if newRun.Status != domain.RunPartial || newRun.Summary != "No retryable failed steps." {
		t.Fatalf("new run = %+v", newRun)
	}
	if newRun.FinishedAt == nil {
		t.Fatal("new run not closed")
	}
	if store.request.Status != domain.RequestStatusError {
		t.Fatalf("request status = %s, want ERROR unchanged", store.request.Status)
	}
}

func TestRetryModeRejectedFromDone(t *testing.T) {
	store := newExecuteStore(domain.RequestStatusDone)
	approveAll(store, domain.DefaultScope())
	service := newExecuteService(store, successHandler("ok"), successHandler("ok"))

	_, err := service.Execute(context.Background(), "user-1", "req-1", ModeRetryFailed)
	if !errors.Is(err, domain.ErrInvalidState) {
		t.Fatalf("err = %v, want ErrInvalidState", err)
	}
}

func TestExecuteUnknownMode(t *testing.T) {
	store := newExecuteStore(domain.RequestStatusAuthorized)
	approveAll(store, domain.DefaultScope())
	service := newExecuteService(store, successHandler("ok"), successHandler("ok"))

	_, err := service.Execute(context.Background(), "user-1", "req-1", Mode("SOMETIMES"))
	if !errors.Is(err, domain.ErrInvalidInput) {
		t.Fatalf("err = %v, want ErrInvalidInput", err)
	}
}

func TestExecuteLogsAttemptAndSuccess(t *testing.T) {
	store := newExecuteStore(domain.RequestStatusAuthorized)
	store.steps = store.steps[:1]
	approveAll(store, domain.DefaultScope())
	service := newExecuteService(store, successHandler("Draft email generated."), successHandler("ok"))

	if _, err := service.Execute(context.Background(), "user-1", "req-1", ModeAll); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if len(store.entries) != 2 {
		t.Fatalf("log entries = %d, want attempt + success", len(store.entries))
	}
	if store.entries[0].Action != domain.LogExecutionAttempted || store.entries[0].Message != "Drafting email." {
		t.Fatalf("first entry = %+v", store.entries[0])
	}
	if store.entries[1].Action != domain.LogExecutionSucceeded || store.entries[1].Message != "Draft email generated." {
		t.Fatalf("second entry = %+v", store.entries[1])
	}
	if store.entries[0].DelegationID != "del-1" {
		t.Fatalf("entry missing delegation id: %+v", store.entries[0])
	}
}
