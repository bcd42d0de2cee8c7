// Package plan holds plan-shaping logic that runs once, at plan persistence.
package plan

import (
	"strings"

	"github.com/taskrelay-labs/taskrelay-go/internal/domain"
)

// ClassifyActionType maps a step's action and detail text to the closed
// action-type enumeration. Classification happens exactly once when a plan is
// stored; the executor reads the stored value and never re-derives it.
//
// Gmail-draft wins over plain drafting when both signals are present: a step
// that names Gmail wants the external draft, not just generated text.
func ClassifyActionType(action, detail string) domain.ActionType {
	text := strings.ToLower(action + " " + detail)
	hasDraft := strings.Contains(text, "draft")
	if hasDraft && strings.Contains(text, "gmail") {
		return domain.ActionTypeCreateGmailDraft
	}
	if hasDraft && strings.Contains(text, "email") {
		return domain.ActionTypeDraftEmail
	}
	return domain.ActionTypeUserOnly
}
