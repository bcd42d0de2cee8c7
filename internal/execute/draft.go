package execute

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/taskrelay-labs/taskrelay-go/internal/redact"
)

const (
	maxSubjectLen = 140
	maxBodyLen    = 5000
)

var draftTones = map[string]struct{}{
	"formal":       {},
	"professional": {},
	"friendly":     {},
	"direct":       {},
}

// DraftEmail is the structured draft the generation service must return.
// Assumptions and NeedsUserInput are required by the schema; a missing list
// is a validation failure, an empty one is fine.
type DraftEmail struct {
	Subject        string   `json:"subject"`
	Body           string   `json:"body"`
	Tone           string   `json:"tone,omitempty"`
	Assumptions    []string `json:"assumptions"`
	NeedsUserInput []string `json:"needsUserInput"`
}

func (d DraftEmail) Validate() error {
	if d.Subject == "" {
		return errors.New("subject is required")
	}
	if len(d.Subject) > maxSubjectLen {
		return fmt.Errorf("subject exceeds %d characters", maxSubjectLen)
	}
	if d.Body == "" {
		return errors.New("body is required")
	}
	if len(d.Body) > maxBodyLen {
		return fmt.Errorf("body exceeds %d characters", maxBodyLen)
	}
	if d.Tone != "" {
		if _, ok := draftTones[d.Tone]; !ok {
			return fmt.Errorf("unknown tone %q", d.Tone)
		}
	}
	if d.Assumptions == nil {
		return errors.New("assumptions list is required")
	}
	if d.NeedsUserInput == nil {
		return errors.New("needsUserInput list is required")
	}
	return nil
}

// DecodeDraft decodes and validates a generated draft document.
func DecodeDraft(raw json.RawMessage) (DraftEmail, error) {
	var draft DraftEmail
	if err := json.Unmarshal(raw, &draft); err != nil {
		return DraftEmail{}, fmt.Errorf("decode draft: %w", err)
	}
	if err := draft.Validate(); err != nil {
		return DraftEmail{}, err
	}
	return draft, nil
}

// ParseStoredDraft recovers a draft from a previously persisted outcome
// output. Only subject and body matter here; the lists default to empty.
// Reports false when the output holds no usable draft.
func ParseStoredDraft(output string) (DraftEmail, bool) {
	output = strings.TrimSpace(output)
	if output == "" {
		return DraftEmail{}, false
	}
	var draft DraftEmail
	if err := json.Unmarshal([]byte(output), &draft); err != nil {
		return DraftEmail{}, false
	}
	if draft.Subject == "" || draft.Body == "" {
		return DraftEmail{}, false
	}
	if draft.Assumptions == nil {
		draft.Assumptions = []string{}
	}
	if draft.NeedsUserInput == nil {
		draft.NeedsUserInput = []string{}
	}
	return draft, true
}

// redacted returns a copy with sensitive subject and body text replaced by
// the redaction marker. Persisted copies are always redacted; content sent to
// the drafts API never is.
func (d DraftEmail) redacted() DraftEmail {
	out := d
	out.Subject = redact.Sensitive(d.Subject)
	out.Body = redact.Sensitive(d.Body)
	return out
}

func (d DraftEmail) encode() (string, error) {
	raw, err := json.Marshal(d)
	if err != nil {
		return "", fmt.Errorf("encode draft output: %w", err)
	}
	return string(raw), nil
}

// gmailOutput is the persisted outcome payload of a created Gmail draft.
type gmailOutput struct {
	Provider string `json:"provider"`
	DraftID  string `json:"draftId"`
	ThreadID string `json:"threadId"`
	Subject  string `json:"subject"`
	Body     string `json:"body"`
}

func (o gmailOutput) encode() (string, error) {
	raw, err := json.Marshal(o)
	if err != nil {
		return "", fmt.Errorf("encode gmail output: %w", err)
	}
	return string(raw), nil
}
