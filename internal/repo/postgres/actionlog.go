package postgres

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/taskrelay-labs/taskrelay-go/internal/domain"
)

// ActionLogStore is append-only: entries are inserted and listed, never
// updated or deleted.
type ActionLogStore struct {
	db DB
}

const (
	insertActionLogQuery = `INSERT INTO action_logs (
		occurred_at,
		action,
		request_id,
		step_id,
		delegation_id,
		message,
		payload_preview,
		integrity_sha256
	) VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
	RETURNING entry_id`

	listActionLogByRequestQuery = `SELECT entry_id, occurred_at, action, request_id, step_id, delegation_id, message, payload_preview, integrity_sha256
	 FROM action_logs
	 WHERE request_id = $1
	 ORDER BY entry_id ASC`
)

func NewActionLogStore(db DB) *ActionLogStore {
	if db == nil {
		return nil
	}
	return &ActionLogStore{db: db}
}

func (s *ActionLogStore) Append(ctx context.Context, entry domain.ActionLogEntry) (int64, error) {
	if s == nil || s.db == nil {
		return 0, fmt.Errorf("action log store not initialized")
	}
	if entry.OccurredAt.IsZero() {
		entry.OccurredAt = time.Now().UTC()
	}
	if err := entry.Validate(); err != nil {
		return 0, err
	}

	payload := entry.PayloadPreview
	if payload == nil {
		payload = domain.Metadata{}
	}
	payloadJSON, err := json.Marshal(payload)
	if err != nil {
		return 0, fmt.Errorf("marshal payload: %w", err)
	}
	integrity, err := computeEntryIntegrity(entry, payloadJSON)
	if err != nil {
		return 0, err
	}

	var id int64
	err = s.db.QueryRowContext(
		ctx,
		insertActionLogQuery,
		entry.OccurredAt.UTC(),
		string(entry.Action),
		strings.TrimSpace(entry.RequestID),
		nullIfEmpty(entry.StepID),
		nullIfEmpty(entry.DelegationID),
		nullIfEmpty(entry.Message),
		payloadJSON,
		integrity,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("insert action log entry: %w", err)
	}
	return id, nil
}

func (s *ActionLogStore) ListByRequest(ctx context.Context, requestID string) ([]domain.ActionLogEntry, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("action log store not initialized")
	}
	requestID = strings.TrimSpace(requestID)
	if requestID == "" {
		return nil, fmt.Errorf("request id is required")
	}

	rows, err := s.db.QueryContext(ctx, listActionLogByRequestQuery, requestID)
	if err != nil {
		return nil, fmt.Errorf("list action log: %w", err)
	}
	defer rows.Close()

	entries := make([]domain.ActionLogEntry, 0)
	for rows.Next() {
		var entry domain.ActionLogEntry
		var action string
		var stepID, delegationID, message sql.NullString
		var payloadJSON []byte
		if err := rows.Scan(
			&entry.EntryID,
			&entry.OccurredAt,
			&action,
			&entry.RequestID,
			&stepID,
			&delegationID,
			&message,
			&payloadJSON,
			&entry.IntegritySHA256,
		); err != nil {
			return nil, fmt.Errorf("scan action log entry: %w", err)
		}
		entry.Action = domain.LogAction(action)
		entry.StepID = strings.TrimSpace(stepID.String)
		entry.DelegationID = strings.TrimSpace(delegationID.String)
		entry.Message = strings.TrimSpace(message.String)
		if len(payloadJSON) > 0 {
			var payload map[string]any
			if err := json.Unmarshal(payloadJSON, &payload); err != nil {
				return nil, fmt.Errorf("decode payload: %w", err)
			}
			entry.PayloadPreview = domain.Metadata(payload)
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list action log: %w", err)
	}
	return entries, nil
}

func computeEntryIntegrity(entry domain.ActionLogEntry, payloadJSON []byte) (string, error) {
	type integrityInput struct {
		OccurredAt   time.Time       `json:"occurred_at"`
		Action       string          `json:"action"`
		RequestID    string          `json:"request_id"`
		StepID       string          `json:"step_id,omitempty"`
		DelegationID string          `json:"delegation_id,omitempty"`
		Message      string          `json:"message,omitempty"`
		Payload      json.RawMessage `json:"payload"`
	}

	in := integrityInput{
		OccurredAt:   entry.OccurredAt.UTC(),
		Action:       string(entry.Action),
		RequestID:    strings.TrimSpace(entry.RequestID),
		StepID:       strings.TrimSpace(entry.StepID),
		DelegationID: strings.TrimSpace(entry.DelegationID),
		Message:      strings.TrimSpace(entry.Message),
		Payload:      payloadJSON,
	}

	blob, err := json.Marshal(in)
	if err != nil {
		return "", fmt.Errorf("marshal integrity: %w", err)
	}
	sum := sha256.Sum256(blob)
	return hex.EncodeToString(sum[:]), nil
}
