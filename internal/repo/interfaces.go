package repo

import (
	"context"
	"errors"
	"time"

	"github.com/taskrelay-labs/taskrelay-go/internal/domain"
)

// ErrNotFound is returned when a record does not exist or is not visible to
// the requesting user.
var ErrNotFound = errors.New("record not found")

// ErrConflict is returned when a conditional write finds the record in a
// state outside the allowed set.
var ErrConflict = errors.New("record state conflict")

type RunFilter struct {
	RequestID string
	UserID    string
	Limit     int
}

// RequestRepository manages requests. Requests are never deleted by the
// execution path.
type RequestRepository interface {
	CreateRequest(ctx context.Context, request domain.Request) error
	Get(ctx context.Context, userID, id string) (domain.Request, error)
	// UpdateStatus transitions the request status unconditionally.
	UpdateStatus(ctx context.Context, userID, id string, to domain.RequestStatus) (domain.Request, error)
	// UpdateStatusIf atomically transitions the request status, but only when
	// the current status is in the from set. ErrConflict otherwise.
	UpdateStatusIf(ctx context.Context, userID, id string, from []domain.RequestStatus, to domain.RequestStatus) (domain.Request, error)
}

// PlanRepository manages the immutable plan and its ordered steps. A plan is
// written once, with all of its steps, and never updated.
type PlanRepository interface {
	CreatePlan(ctx context.Context, plan domain.Plan, steps []domain.Step) error
	GetByRequest(ctx context.Context, requestID string) (domain.Plan, error)
	ListSteps(ctx context.Context, planID string) ([]domain.Step, error)
}

// OutcomeRepository enforces the one-outcome-per-step constraint. Upsert
// always overwrites; two upserts for the same step leave exactly one row.
type OutcomeRepository interface {
	Upsert(ctx context.Context, outcome domain.Outcome) error
	GetByStep(ctx context.Context, stepID string) (domain.Outcome, error)
	ListByPlan(ctx context.Context, planID string) ([]domain.Outcome, error)
}

// DelegationRepository manages scope-limited execution grants.
type DelegationRepository interface {
	Create(ctx context.Context, delegation domain.Delegation) error
	// LatestApproved returns the most recently created APPROVED delegation
	// for the request and user.
	LatestApproved(ctx context.Context, userID, requestID string) (domain.Delegation, error)
	ListByRequest(ctx context.Context, requestID string) ([]domain.Delegation, error)
}

// RunRepository manages execution runs and their append-only step records.
type RunRepository interface {
	CreateRun(ctx context.Context, run domain.ExecutionRun) error
	// FinishRun closes an open run. Finished runs are immutable.
	FinishRun(ctx context.Context, runID string, status domain.RunStatus, summary, errMsg string, finishedAt time.Time) error
	// LatestRun returns the most recently started run for the request,
	// excluding the given run id (the one currently open).
	LatestRun(ctx context.Context, userID, requestID, excludeRunID string) (domain.ExecutionRun, error)
	ListRuns(ctx context.Context, filter RunFilter) ([]domain.ExecutionRun, error)

	AppendRunStep(ctx context.Context, step domain.ExecutionRunStep) error
	// UpdateRunStep finalizes an ATTEMPTED record in place before its run
	// closes. Closed runs reject updates.
	UpdateRunStep(ctx context.Context, runStepID string, status domain.RunStepStatus, reason domain.ReasonCode, message string) error
	ListRunSteps(ctx context.Context, runID string) ([]domain.ExecutionRunStep, error)
}

// ActionLogAppender ensures append-only action-log writes.
type ActionLogAppender interface {
	Append(ctx context.Context, entry domain.ActionLogEntry) (int64, error)
}

// ActionLogReader lists a request's action log, oldest first.
type ActionLogReader interface {
	ListByRequest(ctx context.Context, requestID string) ([]domain.ActionLogEntry, error)
}

// OAuthAccountRepository stores provider token grants.
type OAuthAccountRepository interface {
	GetByUser(ctx context.Context, userID, provider string) (domain.OAuthAccount, error)
	UpdateTokens(ctx context.Context, id, accessToken, tokenType, scope string, expiresAt *time.Time) (domain.OAuthAccount, error)
}

// Stores bundles the repositories bound to one atomic write unit.
type Stores struct {
	Requests    RequestRepository
	Plans       PlanRepository
	Outcomes    OutcomeRepository
	Delegations DelegationRepository
	Runs        RunRepository
	ActionLog   ActionLogAppender
}

// Tx runs multi-record writes as one unit: all of fn's writes land together
// or not at all.
type Tx interface {
	Within(ctx context.Context, fn func(Stores) error) error
}
