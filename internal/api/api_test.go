package api

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sort"
	"strings"
	"testing"
	"time"

	"github.com/taskrelay-labs/taskrelay-go/internal/auditexport"
	"github.com/taskrelay-labs/taskrelay-go/internal/authorize"
	"github.com/taskrelay-labs/taskrelay-go/internal/domain"
	"github.com/taskrelay-labs/taskrelay-go/internal/execute"
	"github.com/taskrelay-labs/taskrelay-go/internal/plan"
	"github.com/taskrelay-labs/taskrelay-go/internal/platform/auth"
	"github.com/taskrelay-labs/taskrelay-go/internal/repo"
	"github.com/taskrelay-labs/taskrelay-go/internal/view"
)

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

// logReader adapts memStore's entries to the action-log reader contract; the
// store itself already uses ListByRequest for delegations.
type logReader struct{ store *memStore }

func (r logReader) ListByRequest(ctx context.Context, requestID string) ([]domain.ActionLogEntry, error) {
	var out []domain.ActionLogEntry
	for _, entry := range r.store.entries {
		if entry.RequestID == requestID {
			out = append(out, entry)
		}
	}
	return out, nil
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

type memSink struct {
	key  string
	body []byte
}

func (s *memSink) Put(ctx context.Context, key string, body io.Reader, size int64, contentType string) error {
	data, err := io.ReadAll(body)
	if err != nil {
		return err
	}
	s.key = key
	s.body = data
	return nil
}

type fakeAuth struct {
	identity auth.Identity
	err      error
}

func (f *fakeAuth) Authenticate(ctx context.Context, r *http.Request) (auth.Identity, error) {
	if f.err != nil {
		return auth.Identity{}, f.err
	}
	return f.identity, nil
}

type okHandler struct{}

func (okHandler) Execute(ctx context.Context, in execute.StepInput) (execute.StepResult, error) {
	return execute.StepResult{Output: `{"subject":"s","body":"b","assumptions":[],"needsUserInput":[]}`, Message: "Draft email generated."}, nil
}

func seededStore(status domain.RequestStatus) *memStore {
	now := time.Date(2026, 4, 2, 8, 0, 0, 0, time.UTC)
	return &memStore{
		request: domain.Request{
			ID: "req-1", UserID: "user-1", Title: "Follow up with the venue",
			Status: status, CreatedAt: now, UpdatedAt: now,
		},
		plan: domain.Plan{ID: "plan-1", RequestID: "req-1", TotalSteps: 2, CreatedAt: now},
		steps: []domain.Step{
			{ID: "step-1", PlanID: "plan-1", Sequence: 1, Action: "Draft reply", ActionType: domain.ActionTypeDraftEmail, CreatedAt: now},
			{ID: "step-2", PlanID: "plan-1", Sequence: 2, Action: "Stage in Gmail", ActionType: domain.ActionTypeCreateGmailDraft, CreatedAt: now},
		},
	}
}

func newTestServer(t *testing.T, store *memStore, authn Authenticator) *httptest.Server {
	t.Helper()
	logger := slog.New(slog.NewJSONHandler(io.Discard, nil))
	tx := memTx{store: store}
	stores := store.stores()
	views := view.NewAssembler(stores.Requests, stores.Plans, stores.Outcomes, stores.Delegations, stores.Runs)
	plansSvc := plan.NewService(tx, views)
	authorizeSvc := authorize.New(tx, views, authorize.DefaultPolicy())
	executeSvc := execute.New(tx, stores, views, okHandler{}, okHandler{})
	exportSvc := auditexport.New(store, logReader{store: store}, &memSink{})

	apiHandler := New(logger, authn, plansSvc, authorizeSvc, executeSvc, views, exportSvc)
	if apiHandler == nil {
		t.Fatal("api handler is nil")
	}
	mux := http.NewServeMux()
	apiHandler.Register(mux)
	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)
	return server
}

func editorAuth() *fakeAuth {
	return &fakeAuth{identity: auth.Identity{Subject: "user-1", Email: "user@example.test", Roles: []string{"editor"}}}
}

func doJSON(t *testing.T, method, url, body string) (*http.Response, map[string]any) {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req, err := http.NewRequest(method, url, reader)
	if err != nil {
		t.Fatalf("build request: %v", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("do request: %v", err)
	}
	defer resp.Body.Close()
	var decoded map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return resp, decoded
}

func TestCreateRequestClassifiesSteps(t *testing.T) {
	store := &memStore{}
	server := newTestServer(t, store, editorAuth())

	resp, body := doJSON(t, http.MethodPost, server.URL+"/v1/requests", `{
		"title": "Venue follow-up",
		"rawInput": "Sort out the venue contract before Friday",
		"steps": [
			{"action": "Draft an email reply", "detail": "ask about availability"},
			{"action": "Create a Gmail draft", "detail": "send the draft to my mailbox"},
			{"action": "Call the venue", "detail": "confirm by phone"}
		]
	}`)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("status = %d body = %v", resp.StatusCode, body)
	}
	request := body["request"].(map[string]any)
	if request["status"] != "PLANNED" {
		t.Fatalf("status = %v", request["status"])
	}
	steps := body["steps"].([]any)
	if len(steps) != 3 {
		t.Fatalf("got %d steps, want 3", len(steps))
	}
	wantTypes := []string{"DRAFT_EMAIL", "CREATE_GMAIL_DRAFT", "USER_ONLY"}
	for i, raw := range steps {
		step := raw.(map[string]any)
		if step["actionType"] != wantTypes[i] {
			t.Fatalf("step %d actionType = %v, want %s", i, step["actionType"], wantTypes[i])
		}
		if step["sequence"] != float64(i+1) {
			t.Fatalf("step %d sequence = %v", i, step["sequence"])
		}
	}
	if len(store.entries) != 1 || store.entries[0].Action != domain.LogStatusChanged {
		t.Fatalf("entries = %+v", store.entries)
	}
}

func TestCreateRequestWithoutStepsIs400(t *testing.T) {
	server := newTestServer(t, &memStore{}, editorAuth())

	resp, body := doJSON(t, http.MethodPost, server.URL+"/v1/requests", `{"rawInput": "do the thing", "steps": []}`)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if body["error"] != "invalid_input" {
		t.Fatalf("error = %v", body["error"])
	}
}

func TestGetRequestReturnsView(t *testing.T) {
	server := newTestServer(t, seededStore(domain.RequestStatusPlanned), editorAuth())

	resp, body := doJSON(t, http.MethodGet, server.URL+"/v1/requests/req-1", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	request := body["request"].(map[string]any)
	if request["id"] != "req-1" || request["status"] != "PLANNED" {
		t.Fatalf("request = %v", request)
	}
	steps := body["steps"].([]any)
	if len(steps) != 2 {
		t.Fatalf("got %d steps, want 2", len(steps))
	}
	if body["plan"].(map[string]any)["id"] != "plan-1" {
		t.Fatalf("plan = %v", body["plan"])
	}
}

func TestGetRequestUnknownIsNotFound(t *testing.T) {
	server := newTestServer(t, seededStore(domain.RequestStatusPlanned), editorAuth())

	resp, body := doJSON(t, http.MethodGet, server.URL+"/v1/requests/missing", "")
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if body["error"] != "not_found" {
		t.Fatalf("error = %v", body["error"])
	}
}

func TestUnauthenticatedIs401(t *testing.T) {
	server := newTestServer(t, seededStore(domain.RequestStatusPlanned), &fakeAuth{err: auth.ErrUnauthenticated})

	resp, body := doJSON(t, http.MethodGet, server.URL+"/v1/requests/req-1", "")
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if body["error"] != "unauthenticated" {
		t.Fatalf("error = %v", body["error"])
	}
}

func TestViewerCanReadButNotExecute(t *testing.T) {
	viewer := &fakeAuth{identity: auth.Identity{Subject: "user-1", Roles: []string{"viewer"}}}
	server := newTestServer(t, seededStore(domain.RequestStatusAuthorized), viewer)

	resp, _ := doJSON(t, http.MethodGet, server.URL+"/v1/requests/req-1", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("read status = %d", resp.StatusCode)
	}

	resp, body := doJSON(t, http.MethodPost, server.URL+"/v1/requests/req-1/execute", "")
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("execute status = %d", resp.StatusCode)
	}
	if body["error"] != "forbidden" {
		t.Fatalf("error = %v", body["error"])
	}
}

func TestAuthorizeCreatesDelegation(t *testing.T) {
	server := newTestServer(t, seededStore(domain.RequestStatusPlanned), editorAuth())

	resp, body := doJSON(t, http.MethodPost, server.URL+"/v1/requests/req-1/authorize",
		`{"approvedStepIds":["step-1"],"scope":{"canDraftEmail":true,"canCreateGmailDraft":false}}`)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("status = %d body = %v", resp.StatusCode, body)
	}

	delegation := body["delegation"].(map[string]any)
	approved := delegation["approvedStepIds"].([]any)
	if len(approved) != 1 || approved[0] != "step-1" {
		t.Fatalf("approvedStepIds = %v", approved)
	}
	scope := delegation["scope"].(map[string]any)
	if scope["canDraftEmail"] != true || scope["canCreateGmailDraft"] != false {
		t.Fatalf("scope = %v", scope)
	}
	request := body["request"].(map[string]any)["request"].(map[string]any)
	if request["status"] != "AUTHORIZED" {
		t.Fatalf("request status = %v", request["status"])
	}
}

func TestAuthorizeAcceptsMatchingPlanID(t *testing.T) {
	server := newTestServer(t, seededStore(domain.RequestStatusPlanned), editorAuth())

	resp, body := doJSON(t, http.MethodPost, server.URL+"/v1/requests/req-1/authorize",
		`{"planId":"plan-1"}`)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("status = %d body = %v", resp.StatusCode, body)
	}
	delegation := body["delegation"].(map[string]any)
	if delegation["planId"] != "plan-1" {
		t.Fatalf("delegation planId = %v", delegation["planId"])
	}
}

func TestAuthorizeWrongPlanIDIsNotFound(t *testing.T) {
	server := newTestServer(t, seededStore(domain.RequestStatusPlanned), editorAuth())

	resp, body := doJSON(t, http.MethodPost, server.URL+"/v1/requests/req-1/authorize",
		`{"planId":"plan-2"}`)
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("status = %d body = %v", resp.StatusCode, body)
	}
	if body["error"] != "not_found" {
		t.Fatalf("error = %v", body["error"])
	}
}

func TestAuthorizeUnknownStepIs400(t *testing.T) {
	server := newTestServer(t, seededStore(domain.RequestStatusPlanned), editorAuth())

	resp, body := doJSON(t, http.MethodPost, server.URL+"/v1/requests/req-1/authorize",
		`{"approvedStepIds":["nope"]}`)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if body["error"] != "invalid_input" {
		t.Fatalf("error = %v", body["error"])
	}
}

func TestExecuteRunsApprovedSteps(t *testing.T) {
	store := seededStore(domain.RequestStatusAuthorized)
	store.delegations = []domain.Delegation{{
		ID: "del-1", RequestID: "req-1", PlanID: "plan-1", UserID: "user-1",
		Status:          domain.DelegationApproved,
		Scope:           domain.Scope{CanDraftEmail: true, CanCreateGmailDraft: true},
		ApprovedStepIDs: []string{"step-1", "step-2"},
		CreatedAt:       time.Now(),
	}}
	server := newTestServer(t, store, editorAuth())

	resp, body := doJSON(t, http.MethodPost, server.URL+"/v1/requests/req-1/execute", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d body = %v", resp.StatusCode, body)
	}
	request := body["request"].(map[string]any)
	if request["status"] != "DONE" {
		t.Fatalf("request status = %v", request["status"])
	}
	runs := body["recentRuns"].([]any)
	if len(runs) != 1 {
		t.Fatalf("got %d runs, want 1", len(runs))
	}
	run := runs[0].(map[string]any)
	if run["status"] != "SUCCEEDED" {
		t.Fatalf("run status = %v", run["status"])
	}
	runSteps := run["steps"].([]any)
	if len(runSteps) != 2 {
		t.Fatalf("got %d run steps, want 2", len(runSteps))
	}
}

func TestExecuteFromDoneIsConflict(t *testing.T) {
	server := newTestServer(t, seededStore(domain.RequestStatusDone), editorAuth())

	resp, body := doJSON(t, http.MethodPost, server.URL+"/v1/requests/req-1/execute", "")
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if body["error"] != "invalid_state" {
		t.Fatalf("error = %v", body["error"])
	}
}

func TestExecuteRejectsUnknownMode(t *testing.T) {
	server := newTestServer(t, seededStore(domain.RequestStatusAuthorized), editorAuth())

	resp, body := doJSON(t, http.MethodPost, server.URL+"/v1/requests/req-1/execute", `{"mode":"SOMETIMES"}`)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if body["error"] != "invalid_input" {
		t.Fatalf("error = %v", body["error"])
	}
}

func TestAuditExportReturnsSnapshotInfo(t *testing.T) {
	store := seededStore(domain.RequestStatusAuthorized)
	store.entries = []domain.ActionLogEntry{
		{EntryID: 1, OccurredAt: time.Now(), Action: domain.LogDelegationGranted, RequestID: "req-1"},
		{EntryID: 2, OccurredAt: time.Now(), Action: domain.LogExecutionAttempted, RequestID: "req-1"},
	}
	server := newTestServer(t, store, editorAuth())

	resp, body := doJSON(t, http.MethodPost, server.URL+"/v1/requests/req-1/audit-export", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d body = %v", resp.StatusCode, body)
	}
	if body["key"] != "req-1.ndjson" {
		t.Fatalf("key = %v", body["key"])
	}
	if body["entries"] != float64(2) {
		t.Fatalf("entries = %v", body["entries"])
	}
}

func TestMalformedBodyIs400(t *testing.T) {
	server := newTestServer(t, seededStore(domain.RequestStatusPlanned), editorAuth())

	resp, body := doJSON(t, http.MethodPost, server.URL+"/v1/requests/req-1/authorize", `{"approvedStepIds":`)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if body["error"] != "invalid_json" {
		t.Fatalf("error = %v", body["error"])
	}
}
