package gmail

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/taskrelay-labs/taskrelay-go/internal/platform/env"
)

// APIError marks a failed drafts-API call.
type APIError struct {
	StatusCode int
	Err        error
}

func (e *APIError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("gmail api: status %d: %v", e.StatusCode, e.Err)
	}
	return fmt.Sprintf("gmail api: %v", e.Err)
}

func (e *APIError) Unwrap() error { return e.Err }

// Draft is the created-draft identity returned by the API.
type Draft struct {
	DraftID  string
	ThreadID string
}

// DraftsConfig locates the drafts endpoint. BaseURL is injectable for tests.
type DraftsConfig struct {
	BaseURL string
	Timeout time.Duration
}

func DraftsConfigFromEnv() (DraftsConfig, error) {
	timeout, err := env.Duration("GMAIL_API_TIMEOUT", 30*time.Second)
	if err != nil {
		return DraftsConfig{}, err
	}
	cfg := DraftsConfig{
		BaseURL: env.String("GMAIL_API_BASE_URL", "https://gmail.googleapis.com"),
		Timeout: timeout,
	}
	if err := cfg.Validate(); err != nil {
		return DraftsConfig{}, err
	}
	return cfg, nil
}

func (c DraftsConfig) Validate() error {
	if strings.TrimSpace(c.BaseURL) == "" {
		return errors.New("GMAIL_API_BASE_URL is required")
	}
	if c.Timeout <= 0 {
		return errors.New("GMAIL_API_TIMEOUT must be positive")
	}
	return nil
}

// DraftsClient creates drafts in the user's mailbox. The draft body is sent
// unredacted: the mailbox must hold the real content.
type DraftsClient struct {
	cfg    DraftsConfig
	client *http.Client
}

func NewDraftsClient(cfg DraftsConfig) (*DraftsClient, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &DraftsClient{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
	}, nil
}

// CreateDraftParams carries the draft content. To is optional; drafts without
// a recipient are valid.
type CreateDraftParams struct {
	AccessToken string
	To          string
	Subject     string
	Body        string
}

func (c *DraftsClient) CreateDraft(ctx context.Context, params CreateDraftParams) (Draft, error) {
	if c == nil || c.client == nil {
		return Draft{}, &APIError{Err: errors.New("drafts client not initialized")}
	}
	if strings.TrimSpace(params.AccessToken) == "" {
		return Draft{}, &APIError{Err: errors.New("access token is required")}
	}

	raw := encodeMessage(params.To, params.Subject, params.Body)
	payload, err := json.Marshal(map[string]any{
		"message": map[string]string{"raw": raw},
	})
	if err != nil {
		return Draft{}, &APIError{Err: fmt.Errorf("encode draft: %w", err)}
	}

	url := strings.TrimRight(c.cfg.BaseURL, "/") + "/gmail/v1/users/me/drafts"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return Draft{}, &APIError{Err: err}
	}
	req.Header.Set("Authorization", "Bearer "+params.AccessToken)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return Draft{}, &APIError{Err: err}
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return Draft{}, &APIError{StatusCode: resp.StatusCode, Err: err}
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return Draft{}, &APIError{
			StatusCode: resp.StatusCode,
			Err:        fmt.Errorf("create draft: %s", strings.TrimSpace(string(body))),
		}
	}

	var decoded struct {
		ID      string `json:"id"`
		Message struct {
			ThreadID string `json:"threadId"`
		} `json:"message"`
	}
	if err := json.Unmarshal(body, &decoded); err != nil {
		return Draft{}, &APIError{StatusCode: resp.StatusCode, Err: fmt.Errorf("decode response: %w", err)}
	}
	if strings.TrimSpace(decoded.ID) == "" {
		return Draft{}, &APIError{StatusCode: resp.StatusCode, Err: errors.New("response missing draft id")}
	}
	return Draft{DraftID: decoded.ID, ThreadID: decoded.Message.ThreadID}, nil
}

// encodeMessage builds the RFC 2822 message and base64url-encodes it the way
// the drafts API expects.
func encodeMessage(to, subject, body string) string {
	lines := make([]string, 0, 5)
	if strings.TrimSpace(to) != "" {
		lines = append(lines, "To: "+to)
	}
	lines = append(lines,
		"Subject: "+subject,
		`Content-Type: text/plain; charset="UTF-8"`,
		"",
		body,
	)
	return base64.RawURLEncoding.EncodeToString([]byte(strings.Join(lines, "\r\n")))
}
