package domain

import "errors"

// Sentinel error kinds surfaced by the authorize and execute services.
// Callers detect them with errors.Is; everything else is an internal error.
var (
	ErrNotFound     = errors.New("not found")
	ErrInvalidState = errors.New("invalid state")
	ErrInvalidInput = errors.New("invalid input")
)

// RequestStatus tracks a request through the interpret/plan/authorize/execute
// pipeline.
type RequestStatus string

const (
	RequestStatusInterpreting      RequestStatus = "INTERPRETING"
	RequestStatusInterpreted       RequestStatus = "INTERPRETED"
	RequestStatusPlanning          RequestStatus = "PLANNING"
	RequestStatusPlanned           RequestStatus = "PLANNED"
	RequestStatusAwaitingAuthority RequestStatus = "AWAITING_AUTHORITY"
	RequestStatusAuthorized        RequestStatus = "AUTHORIZED"
	RequestStatusDone              RequestStatus = "DONE"
	RequestStatusError             RequestStatus = "ERROR"
)

// ActionType classifies what a plan step asks the system to do. Classification
// happens once when the plan is persisted and is stored on the step.
type ActionType string

const (
	ActionTypeDraftEmail       ActionType = "DRAFT_EMAIL"
	ActionTypeCreateGmailDraft ActionType = "CREATE_GMAIL_DRAFT"
	ActionTypeUserOnly         ActionType = "USER_ONLY"
)

// OutcomeResult is the current known result of a step.
type OutcomeResult string

const (
	OutcomeDone     OutcomeResult = "DONE"
	OutcomeError    OutcomeResult = "ERROR"
	OutcomeSkipped  OutcomeResult = "SKIPPED"
	OutcomePending  OutcomeResult = "PENDING"
	OutcomeBlocked  OutcomeResult = "BLOCKED"
	OutcomeDeferred OutcomeResult = "DEFERRED"
)

// DelegationStatus marks whether a delegation is usable for execution.
type DelegationStatus string

const (
	DelegationApproved DelegationStatus = "APPROVED"
	DelegationRevoked  DelegationStatus = "REVOKED"
)

// RunStatus is the terminal classification of one execution run.
type RunStatus string

const (
	RunStarted   RunStatus = "STARTED"
	RunSucceeded RunStatus = "SUCCEEDED"
	RunFailed    RunStatus = "FAILED"
	RunPartial   RunStatus = "PARTIAL"
)

// RunStepStatus records what happened to one step within one run.
type RunStepStatus string

const (
	RunStepAttempted RunStepStatus = "ATTEMPTED"
	RunStepSucceeded RunStepStatus = "SUCCEEDED"
	RunStepFailed    RunStepStatus = "FAILED"
	RunStepSkipped   RunStepStatus = "SKIPPED"
)

// ReasonCode explains a skip or failure on a run step.
type ReasonCode string

const (
	ReasonNotApproved      ReasonCode = "NOT_APPROVED"
	ReasonScopeDenied      ReasonCode = "SCOPE_DENIED"
	ReasonLLMError         ReasonCode = "LLM_ERROR"
	ReasonSchemaValidation ReasonCode = "SCHEMA_VALIDATION"
	ReasonGmailAuth        ReasonCode = "GMAIL_AUTH"
	ReasonGmailAPI         ReasonCode = "GMAIL_API"
	ReasonUnknown          ReasonCode = "UNKNOWN"
)

// RetryableReasons are the failure reasons eligible for RETRY_FAILED mode.
// Schema and authorization failures need a plan or delegation change, not a
// mechanical retry.
var RetryableReasons = map[ReasonCode]struct{}{
	ReasonGmailAPI:  {},
	ReasonGmailAuth: {},
	ReasonLLMError:  {},
	ReasonUnknown:   {},
}

// LogAction names an append-only action-log event.
type LogAction string

const (
	LogContextUsed        LogAction = "CONTEXT_USED"
	LogExecutionAttempted LogAction = "EXECUTION_ATTEMPTED"
	LogExecutionSucceeded LogAction = "EXECUTION_SUCCEEDED"
	LogExecutionFailed    LogAction = "EXECUTION_FAILED"
	LogExecutionSkipped   LogAction = "EXECUTION_SKIPPED"
	LogDelegationGranted  LogAction = "DELEGATION_GRANTED"
	LogStatusChanged      LogAction = "STATUS_CHANGED"
)
