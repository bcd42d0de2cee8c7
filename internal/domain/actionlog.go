package domain

import (
	"errors"
	"strings"
	"time"
)

// Metadata is an unstructured payload container for log entries.
type Metadata map[string]any

func (m Metadata) Clone() Metadata {
	if m == nil {
		return Metadata{}
	}
	copy := make(Metadata, len(m))
	for k, v := range m {
		copy[k] = v
	}
	return copy
}

// ActionLogEntry is one immutable observability event. Entries never drive
// control flow.
type ActionLogEntry struct {
	EntryID         int64
	OccurredAt      time.Time
	Action          LogAction
	RequestID       string
	StepID          string
	DelegationID    string
	Message         string
	PayloadPreview  Metadata
	IntegritySHA256 string
}

func (e ActionLogEntry) Validate() error {
	if e.OccurredAt.IsZero() {
		return errors.New("occurred_at is required")
	}
	if strings.TrimSpace(string(e.Action)) == "" {
		return errors.New("action is required")
	}
	if strings.TrimSpace(e.RequestID) == "" {
		return errors.New("request id is required")
	}
	return nil
}

// OAuthAccount holds the stored Google OAuth grant for a user. Tokens are
// refreshed in place when near expiry.
type OAuthAccount struct {
	ID           string
	UserID       string
	Provider     string
	AccessToken  string
	RefreshToken string
	TokenType    string
	Scope        string
	ExpiresAt    *time.Time
}

func (a OAuthAccount) Validate() error {
	if strings.TrimSpace(a.ID) == "" {
		return errors.New("account id is required")
	}
	if strings.TrimSpace(a.UserID) == "" {
		return errors.New("user id is required")
	}
	if strings.TrimSpace(a.Provider) == "" {
		return errors.New("provider is required")
	}
	if strings.TrimSpace(a.AccessToken) == "" {
		return errors.New("access token is required")
	}
	return nil
}
