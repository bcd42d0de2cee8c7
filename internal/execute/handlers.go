package execute

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/taskrelay-labs/taskrelay-go/internal/domain"
	"github.com/taskrelay-labs/taskrelay-go/internal/gmail"
	"github.com/taskrelay-labs/taskrelay-go/internal/llm"
)

// StepError is a per-step handler failure. It never aborts the run; the
// orchestrator records the reason and continues.
type StepError struct {
	Reason domain.ReasonCode
	Err    error
}

func (e *StepError) Error() string {
	return fmt.Sprintf("%s: %v", e.Reason, e.Err)
}

func (e *StepError) Unwrap() error { return e.Err }

func stepFailure(reason domain.ReasonCode, err error) *StepError {
	return &StepError{Reason: reason, Err: err}
}

// StepInput carries everything a handler may use for one step.
type StepInput struct {
	Request domain.Request
	Step    domain.Step
	// Prior is the step's existing outcome from an earlier run, if any.
	Prior *domain.Outcome
}

// StepResult is a successful handler execution: the redacted output document
// to persist and the success message for the action log.
type StepResult struct {
	Output  string
	Message string
}

// Handler executes one actionable step. Failures are *StepError values.
type Handler interface {
	Execute(ctx context.Context, in StepInput) (StepResult, error)
}

const draftSystemPrompt = `You are an assistant that writes email drafts on a user's behalf.
Respond with a single JSON object and nothing else. The object has these fields:
  "subject": string, 1-140 characters
  "body": string, 1-5000 characters, plain text
  "tone": optional, one of "formal", "professional", "friendly", "direct"
  "assumptions": list of assumptions you made (may be empty)
  "needsUserInput": list of details only the user can supply (may be empty)
Never invent confidential details. When information is missing, note it in
needsUserInput instead of guessing.`

// draftUserMessage serializes the generation input: request context plus the
// step being performed.
func draftUserMessage(request domain.Request, step domain.Step) (string, error) {
	payload := struct {
		RequestID      string `json:"requestId"`
		RequestTitle   string `json:"requestTitle"`
		RequestSummary string `json:"requestSummary"`
		RawInput       string `json:"rawInput"`
		Step           struct {
			Action string `json:"action"`
			Detail string `json:"detail"`
		} `json:"step"`
	}{
		RequestID:      request.ID,
		RequestTitle:   request.Title,
		RequestSummary: request.Summary,
		RawInput:       request.RawInput,
	}
	payload.Step.Action = step.Action
	payload.Step.Detail = step.Detail

	raw, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("encode generation input: %w", err)
	}
	return string(raw), nil
}

// generateDraft calls the generation service and validates the returned
// document against the draft schema. A call failure is LLM_ERROR, a shape
// failure SCHEMA_VALIDATION.
func generateDraft(ctx context.Context, client llm.Client, request domain.Request, step domain.Step) (DraftEmail, error) {
	message, err := draftUserMessage(request, step)
	if err != nil {
		return DraftEmail{}, stepFailure(domain.ReasonUnknown, err)
	}
	raw, err := client.Generate(ctx, llm.GenerateRequest{
		SystemPrompt: draftSystemPrompt,
		UserMessage:  message,
	})
	if err != nil {
		return DraftEmail{}, stepFailure(domain.ReasonLLMError, err)
	}
	draft, err := DecodeDraft(raw)
	if err != nil {
		return DraftEmail{}, stepFailure(domain.ReasonSchemaValidation, err)
	}
	return draft, nil
}

// DraftEmailHandler generates an email draft and persists a redacted copy.
type DraftEmailHandler struct {
	client llm.Client
}

func NewDraftEmailHandler(client llm.Client) *DraftEmailHandler {
	if client == nil {
		return nil
	}
	return &DraftEmailHandler{client: client}
}

func (h *DraftEmailHandler) Execute(ctx context.Context, in StepInput) (StepResult, error) {
	draft, err := generateDraft(ctx, h.client, in.Request, in.Step)
	if err != nil {
		return StepResult{}, err
	}
	output, err := draft.redacted().encode()
	if err != nil {
		return StepResult{}, stepFailure(domain.ReasonUnknown, err)
	}
	return StepResult{Output: output, Message: "Draft email generated."}, nil
}

// GmailDraftHandler places a generated draft into the user's Gmail drafts.
// The draft sent to Gmail keeps its real content; only the persisted copy is
// redacted.
type GmailDraftHandler struct {
	client llm.Client
	tokens gmail.TokenProvider
	drafts *gmail.DraftsClient
}

func NewGmailDraftHandler(client llm.Client, tokens gmail.TokenProvider, drafts *gmail.DraftsClient) *GmailDraftHandler {
	if client == nil || tokens == nil || drafts == nil {
		return nil
	}
	return &GmailDraftHandler{client: client, tokens: tokens, drafts: drafts}
}

func (h *GmailDraftHandler) Execute(ctx context.Context, in StepInput) (StepResult, error) {
	// A draft recorded on the step's outcome by an earlier attempt is reused,
	// so retries after a Gmail failure do not regenerate the email.
	draft, reused := h.priorDraft(in)
	if !reused {
		generated, err := generateDraft(ctx, h.client, in.Request, in.Step)
		if err != nil {
			return StepResult{}, err
		}
		draft = generated
	}

	token, err := h.tokens.AccessToken(ctx, in.Request.UserID)
	if err != nil {
		return StepResult{}, stepFailure(domain.ReasonGmailAuth, err)
	}

	created, err := h.drafts.CreateDraft(ctx, gmail.CreateDraftParams{
		AccessToken: token,
		Subject:     draft.Subject,
		Body:        draft.Body,
	})
	if err != nil {
		return StepResult{}, stepFailure(domain.ReasonGmailAPI, err)
	}

	redacted := draft.redacted()
	output, err := gmailOutput{
		Provider: "gmail",
		DraftID:  created.DraftID,
		ThreadID: created.ThreadID,
		Subject:  redacted.Subject,
		Body:     redacted.Body,
	}.encode()
	if err != nil {
		return StepResult{}, stepFailure(domain.ReasonUnknown, err)
	}
	return StepResult{Output: output, Message: "Gmail draft created."}, nil
}

func (h *GmailDraftHandler) priorDraft(in StepInput) (DraftEmail, bool) {
	if in.Prior == nil {
		return DraftEmail{}, false
	}
	return ParseStoredDraft(in.Prior.Output)
}
