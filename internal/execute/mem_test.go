package execute

import (
	"context"
	"sort"
	"time"

	"github.com/taskrelay-labs/taskrelay-go/internal/domain"
	"github.com/taskrelay-labs/taskrelay-go/internal/repo"
	"github.com/taskrelay-labs/taskrelay-go/internal/view"
)

// memStore is an in-memory implementation of the store contracts, enough to
// drive the orchestrator end to end in tests.
type memStore struct {
	request     domain.Request
	plan        domain.Plan
	steps       []domain.Step
	outcomes    map[string]domain.Outcome
	delegations []domain.Delegation
	runs        []domain.ExecutionRun
	runSteps    []domain.ExecutionRunStep
	entries     []domain.ActionLogEntry
}

func (m *memStore) CreateRequest(ctx context.Context, request domain.Request) error {
	m.request = request
	return nil
}

func (m *memStore) Get(ctx context.Context, userID, id string) (domain.Request, error) {
	if m.request.ID != id || m.request.UserID != userID {
		return domain.Request{}, repo.ErrNotFound
	}
	return m.request, nil
}

func (m *memStore) UpdateStatus(ctx context.Context, userID, id string, to domain.RequestStatus) (domain.Request, error) {
	if m.request.ID != id || m.request.UserID != userID {
		return domain.Request{}, repo.ErrNotFound
	}
	m.request.Status = to
	return m.request, nil
}

func (m *memStore) UpdateStatusIf(ctx context.Context, userID, id string, from []domain.RequestStatus, to domain.RequestStatus) (domain.Request, error) {
	current, err := m.Get(ctx, userID, id)
	if err != nil {
		return domain.Request{}, err
	}
	for _, status := range from {
		if current.Status == status {
			return m.UpdateStatus(ctx, userID, id, to)
		}
	}
	return domain.Request{}, repo.ErrConflict
}

func (m *memStore) CreatePlan(ctx context.Context, plan domain.Plan, steps []domain.Step) error {
	m.plan = plan
	m.steps = append(m.steps, steps...)
	return nil
}

func (m *memStore) GetByRequest(ctx context.Context, requestID string) (domain.Plan, error) {
	if m.plan.RequestID != requestID {
		return domain.Plan{}, repo.ErrNotFound
	}
	return m.plan, nil
}

func (m *memStore) ListSteps(ctx context.Context, planID string) ([]domain.Step, error) {
	out := make([]domain.Step, len(m.steps))
	copy(out, m.steps)
	sort.Slice(out, func(i, j int) bool { return out[i].Sequence < out[j].Sequence })
	return out, nil
}

func (m *memStore) Upsert(ctx context.Context, outcome domain.Outcome) error {
	if m.outcomes == nil {
		m.outcomes = map[string]domain.Outcome{}
	}
	m.outcomes[outcome.StepID] = outcome
	return nil
}

func (m *memStore) GetByStep(ctx context.Context, stepID string) (domain.Outcome, error) {
	outcome, ok := m.outcomes[stepID]
	if !ok {
		return domain.Outcome{}, repo.ErrNotFound
	}
	return outcome, nil
}

func (m *memStore) ListByPlan(ctx context.Context, planID string) ([]domain.Outcome, error) {
	out := make([]domain.Outcome, 0, len(m.outcomes))
	for _, step := range m.steps {
		if outcome, ok := m.outcomes[step.ID]; ok {
			out = append(out, outcome)
		}
	}
	return out, nil
}

func (m *memStore) Create(ctx context.Context, delegation domain.Delegation) error {
	m.delegations = append(m.delegations, delegation)
	return nil
}

func (m *memStore) LatestApproved(ctx context.Context, userID, requestID string) (domain.Delegation, error) {
	for i := len(m.delegations) - 1; i >= 0; i-- {
		d := m.delegations[i]
		if d.UserID == userID && d.RequestID == requestID && d.Status == domain.DelegationApproved {
			return d, nil
		}
	}
	return domain.Delegation{}, repo.ErrNotFound
}

func (m *memStore) ListByRequest(ctx context.Context, requestID string) ([]domain.Delegation, error) {
	out := make([]domain.Delegation, len(m.delegations))
	copy(out, m.delegations)
	return out, nil
}

func (m *memStore) CreateRun(ctx context.Context, run domain.ExecutionRun) error {
	m.runs = append(m.runs, run)
	return nil
}

func (m *memStore) FinishRun(ctx context.Context, runID string, status domain.RunStatus, summary, errMsg string, finishedAt time.Time) error {
	for i := range m.runs {
		if m.runs[i].ID == runID && m.runs[i].FinishedAt == nil {
			m.runs[i].Status = status
			m.runs[i].Summary = summary
			m.runs[i].Error = errMsg
			m.runs[i].FinishedAt = &finishedAt
			return nil
		}
	}
	return repo.ErrNotFound
}

func (m *memStore) LatestRun(ctx context.Context, userID, requestID, excludeRunID string) (domain.ExecutionRun, error) {
	for i := len(m.runs) - 1; i >= 0; i-- {
		run := m.runs[i]
		if run.UserID == userID && run.RequestID == requestID && run.ID != excludeRunID {
			return run, nil
		}
	}
	return domain.ExecutionRun{}, repo.ErrNotFound
}

func (m *memStore) ListRuns(ctx context.Context, filter repo.RunFilter) ([]domain.ExecutionRun, error) {
	out := make([]domain.ExecutionRun, 0, len(m.runs))
	for i := len(m.runs) - 1; i >= 0; i-- {
		run := m.runs[i]
		if run.RequestID == filter.RequestID && run.UserID == filter.UserID {
			out = append(out, run)
		}
		if filter.Limit > 0 && len(out) == filter.Limit {
			break
		}
	}
	return out, nil
}

func (m *memStore) AppendRunStep(ctx context.Context, step domain.ExecutionRunStep) error {
	m.runSteps = append(m.runSteps, step)
	return nil
}

func (m *memStore) UpdateRunStep(ctx context.Context, runStepID string, status domain.RunStepStatus, reason domain.ReasonCode, message string) error {
	for i := range m.runSteps {
		if m.runSteps[i].ID == runStepID {
			m.runSteps[i].Status = status
			m.runSteps[i].Reason = reason
			m.runSteps[i].Message = message
			return nil
		}
	}
	return repo.ErrNotFound
}

func (m *memStore) ListRunSteps(ctx context.Context, runID string) ([]domain.ExecutionRunStep, error) {
	var out []domain.ExecutionRunStep
	for _, step := range m.runSteps {
		if step.RunID == runID {
			out = append(out, step)
		}
	}
	return out, nil
}

func (m *memStore) Append(ctx context.Context, entry domain.ActionLogEntry) (int64, error) {
	entry.EntryID = int64(len(m.entries) + 1)
	m.entries = append(m.entries, entry)
	return entry.EntryID, nil
}

func (m *memStore) stores() repo.Stores {
	return repo.Stores{
		Requests:    m,
		Plans:       m,
		Outcomes:    m,
		Delegations: m,
		Runs:        m,
		ActionLog:   m,
	}
}

type memTx struct{ store *memStore }

func (tx memTx) Within(ctx context.Context, fn func(repo.Stores) error) error {
	return fn(tx.store.stores())
}

func (m *memStore) assembler() *view.Assembler {
	stores := m.stores()
	return view.NewAssembler(stores.Requests, stores.Plans, stores.Outcomes, stores.Delegations, stores.Runs)
}

// runStepsFor returns the run-step records of a run keyed by step id,
// keeping the latest record per step.
func (m *memStore) runStepsFor(runID string) map[string]domain.ExecutionRunStep {
	out := map[string]domain.ExecutionRunStep{}
	for _, step := range m.runSteps {
		if step.RunID == runID {
			out[step.StepID] = step
		}
	}
	return out
}
