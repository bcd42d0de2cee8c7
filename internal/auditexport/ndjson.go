package auditexport

import (
	"encoding/json"
	"io"

	"github.com/taskrelay-labs/taskrelay-go/internal/domain"
)

// NDJSONEncoder writes action-log entries as newline-delimited JSON.
type NDJSONEncoder struct {
	enc *json.Encoder
}

func NewNDJSONEncoder(w io.Writer) *NDJSONEncoder {
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(true)
	return &NDJSONEncoder{enc: enc}
}

func (e *NDJSONEncoder) Encode(entry domain.ActionLogEntry) error {
	return e.enc.Encode(exportEntryFromDomain(entry))
}

type exportEntry struct {
	EntryID         int64           `json:"entry_id"`
	OccurredAt      string          `json:"occurred_at"`
	Action          string          `json:"action"`
	RequestID       string          `json:"request_id"`
	StepID          string          `json:"step_id,omitempty"`
	DelegationID    string          `json:"delegation_id,omitempty"`
	Message         string          `json:"message,omitempty"`
	Payload         json.RawMessage `json:"payload"`
	IntegritySHA256 string          `json:"integrity_sha256"`
}

func exportEntryFromDomain(entry domain.ActionLogEntry) exportEntry {
	payload, _ := json.Marshal(entry.PayloadPreview)
	return exportEntry{
		EntryID:         entry.EntryID,
		OccurredAt:      entry.OccurredAt.UTC().Format(timeFormatRFC3339Nano),
		Action:          string(entry.Action),
		RequestID:       entry.RequestID,
		StepID:          entry.StepID,
		DelegationID:    entry.DelegationID,
		Message:         entry.Message,
		Payload:         payload,
		IntegritySHA256: entry.IntegritySHA256,
	}
}

const timeFormatRFC3339Nano = "2006-01-02T15:04:05.999999999Z07:00"
