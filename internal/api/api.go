package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"
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

// Authenticator resolves the caller identity from gateway headers.
type Authenticator interface {
	Authenticate(ctx context.Context, r *http.Request) (auth.Identity, error)
}

type API struct {
	logger    *slog.Logger
	auth      Authenticator
	plans     *plan.Service
	authorize *authorize.Service
	execute   *execute.Service
	views     *view.Assembler
	exports   *auditexport.Service
}

func New(logger *slog.Logger, authn Authenticator, plans *plan.Service, authorizeSvc *authorize.Service, executeSvc *execute.Service, views *view.Assembler, exports *auditexport.Service) *API {
	if logger == nil || authn == nil || plans == nil || authorizeSvc == nil || executeSvc == nil || views == nil || exports == nil {
		return nil
	}
	return &API{
		logger:    logger,
		auth:      authn,
		plans:     plans,
		authorize: authorizeSvc,
		execute:   executeSvc,
		views:     views,
		exports:   exports,
	}
}

func (api *API) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST /v1/requests", api.handleCreateRequest)
	mux.HandleFunc("GET /v1/requests/{request_id}", api.handleGetRequest)
	mux.HandleFunc("POST /v1/requests/{request_id}/authorize", api.handleAuthorize)
	mux.HandleFunc("POST /v1/requests/{request_id}/execute", api.handleExecute)
	mux.HandleFunc("POST /v1/requests/{request_id}/audit-export", api.handleAuditExport)
}

type createStepRequest struct {
	Action        string     `json:"action"`
	Detail        string     `json:"detail"`
	SuggestedDate *time.Time `json:"suggestedDate"`
}

type createRequest struct {
	Title                string              `json:"title"`
	Summary              string              `json:"summary"`
	RawInput             string              `json:"rawInput"`
	Domain               string              `json:"domain"`
	EstimatedTotalEffort string              `json:"estimatedTotalEffort"`
	Deadline             *time.Time          `json:"deadline"`
	Steps                []createStepRequest `json:"steps"`
}

func (api *API) handleCreateRequest(w http.ResponseWriter, r *http.Request) {
	identity, ok := api.authenticate(w, r)
	if !ok {
		return
	}

	var body createRequest
	if err := decodeJSON(r, &body); err != nil {
		api.writeError(w, r, http.StatusBadRequest, "invalid_json")
		return
	}

	steps := make([]plan.StepInput, 0, len(body.Steps))
	for _, step := range body.Steps {
		steps = append(steps, plan.StepInput{
			Action:        step.Action,
			Detail:        step.Detail,
			SuggestedDate: step.SuggestedDate,
		})
	}
	result, err := api.plans.Ingest(r.Context(), plan.Input{
		UserID:               identity.Subject,
		Title:                body.Title,
		Summary:              body.Summary,
		RawInput:             body.RawInput,
		Domain:               body.Domain,
		EstimatedTotalEffort: body.EstimatedTotalEffort,
		Deadline:             body.Deadline,
		Steps:                steps,
	})
	if err != nil {
		api.writeDomainError(w, r, err)
		return
	}
	api.writeJSON(w, http.StatusCreated, viewFromDomain(result))
}

func (api *API) handleGetRequest(w http.ResponseWriter, r *http.Request) {
	identity, ok := api.authenticate(w, r)
	if !ok {
		return
	}
	requestID := strings.TrimSpace(r.PathValue("request_id"))
	if requestID == "" {
		api.writeError(w, r, http.StatusBadRequest, "request_id_required")
		return
	}

	result, err := api.views.RequestView(r.Context(), identity.Subject, requestID)
	if err != nil {
		api.writeDomainError(w, r, err)
		return
	}
	api.writeJSON(w, http.StatusOK, viewFromDomain(result))
}

type authorizeRequest struct {
	PlanID          string        `json:"planId"`
	ApprovedStepIDs []string      `json:"approvedStepIds"`
	Scope           *domain.Scope `json:"scope"`
}

func (api *API) handleAuthorize(w http.ResponseWriter, r *http.Request) {
	identity, ok := api.authenticate(w, r)
	if !ok {
		return
	}
	requestID := strings.TrimSpace(r.PathValue("request_id"))
	if requestID == "" {
		api.writeError(w, r, http.StatusBadRequest, "request_id_required")
		return
	}

	var body authorizeRequest
	if err := decodeJSON(r, &body); err != nil && !errors.Is(err, io.EOF) {
		api.writeError(w, r, http.StatusBadRequest, "invalid_json")
		return
	}

	result, err := api.authorize.Authorize(r.Context(), authorize.Input{
		UserID:          identity.Subject,
		RequestID:       requestID,
		PlanID:          body.PlanID,
		ApprovedStepIDs: body.ApprovedStepIDs,
		Scope:           body.Scope,
	})
	if err != nil {
		api.writeDomainError(w, r, err)
		return
	}
	api.writeJSON(w, http.StatusCreated, map[string]any{
		"delegation": delegationFromDomain(result.Delegation),
		"request":    viewFromDomain(result.View),
	})
}

type executeRequest struct {
	Mode string `json:"mode"`
}

func (api *API) handleExecute(w http.ResponseWriter, r *http.Request) {
	identity, ok := api.authenticate(w, r)
	if !ok {
		return
	}
	requestID := strings.TrimSpace(r.PathValue("request_id"))
	if requestID == "" {
		api.writeError(w, r, http.StatusBadRequest, "request_id_required")
		return
	}

	var body executeRequest
	if err := decodeJSON(r, &body); err != nil && !errors.Is(err, io.EOF) {
		api.writeError(w, r, http.StatusBadRequest, "invalid_json")
		return
	}
	mode := execute.Mode(strings.TrimSpace(body.Mode))
	if mode == "" {
		mode = execute.ModeAll
	}

	result, err := api.execute.Execute(r.Context(), identity.Subject, requestID, mode)
	if err != nil {
		api.writeDomainError(w, r, err)
		return
	}
	api.writeJSON(w, http.StatusOK, viewFromDomain(result))
}

func (api *API) handleAuditExport(w http.ResponseWriter, r *http.Request) {
	identity, ok := api.authenticate(w, r)
	if !ok {
		return
	}
	requestID := strings.TrimSpace(r.PathValue("request_id"))
	if requestID == "" {
		api.writeError(w, r, http.StatusBadRequest, "request_id_required")
		return
	}

	result, err := api.exports.Export(r.Context(), identity.Subject, requestID)
	if err != nil {
		api.writeDomainError(w, r, err)
		return
	}
	api.writeJSON(w, http.StatusOK, result)
}

func (api *API) authenticate(w http.ResponseWriter, r *http.Request) (auth.Identity, bool) {
	identity, err := api.auth.Authenticate(r.Context(), r)
	if err != nil {
		api.writeError(w, r, http.StatusUnauthorized, "unauthenticated")
		return auth.Identity{}, false
	}
	if !auth.HasAtLeast(identity.Roles, auth.RequiredRoleForRequest(r)) {
		api.writeError(w, r, http.StatusForbidden, "forbidden")
		return auth.Identity{}, false
	}
	return identity, true
}

func (api *API) writeDomainError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, domain.ErrNotFound), errors.Is(err, repo.ErrNotFound):
		api.writeError(w, r, http.StatusNotFound, "not_found")
	case errors.Is(err, domain.ErrInvalidInput):
		api.writeError(w, r, http.StatusBadRequest, "invalid_input")
	case errors.Is(err, domain.ErrInvalidState):
		api.writeError(w, r, http.StatusConflict, "invalid_state")
	default:
		api.logger.Error("request failed", "path", r.URL.Path, "error", err)
		api.writeError(w, r, http.StatusInternalServerError, "internal_error")
	}
}

func (api *API) writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(true)
	_ = enc.Encode(body)
}

func (api *API) writeError(w http.ResponseWriter, r *http.Request, status int, code string) {
	api.writeJSON(w, status, map[string]any{
		"error":      code,
		"request_id": r.Header.Get("X-Request-Id"),
	})
}

func decodeJSON(r *http.Request, dst any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return err
	}
	if err := dec.Decode(&struct{}{}); err == nil {
		return errors.New("multiple JSON values")
	}
	return nil
}
