// Package gmail integrates with Google's OAuth token endpoint and the Gmail
// drafts API. Failures are typed so the executor can classify them: AuthError
// for token problems, APIError for draft-creation problems.
package gmail

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"golang.org/x/oauth2"

	"github.com/taskrelay-labs/taskrelay-go/internal/domain"
	"github.com/taskrelay-labs/taskrelay-go/internal/platform/env"
	"github.com/taskrelay-labs/taskrelay-go/internal/repo"
)

const providerGoogle = "google"

// Tokens are refreshed this long before their recorded expiry.
const refreshSkew = time.Minute

// AuthError marks a token lookup or refresh failure.
type AuthError struct {
	Err error
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("gmail auth: %v", e.Err)
}

func (e *AuthError) Unwrap() error { return e.Err }

// TokenProvider yields a live bearer token for a user.
type TokenProvider interface {
	AccessToken(ctx context.Context, userID string) (string, error)
}

// OAuthConfig holds the Google OAuth client credentials.
type OAuthConfig struct {
	ClientID     string
	ClientSecret string
	TokenURL     string
}

func OAuthConfigFromEnv() (OAuthConfig, error) {
	cfg := OAuthConfig{
		ClientID:     env.String("GOOGLE_CLIENT_ID", ""),
		ClientSecret: env.String("GOOGLE_CLIENT_SECRET", ""),
		TokenURL:     env.String("GOOGLE_TOKEN_URL", "https://oauth2.googleapis.com/token"),
	}
	if err := cfg.Validate(); err != nil {
		return OAuthConfig{}, err
	}
	return cfg, nil
}

func (c OAuthConfig) Validate() error {
	if strings.TrimSpace(c.ClientID) == "" {
		return errors.New("GOOGLE_CLIENT_ID is required")
	}
	if strings.TrimSpace(c.ClientSecret) == "" {
		return errors.New("GOOGLE_CLIENT_SECRET is required")
	}
	if strings.TrimSpace(c.TokenURL) == "" {
		return errors.New("GOOGLE_TOKEN_URL is required")
	}
	return nil
}

// StoredTokenProvider serves access tokens from the oauth-accounts store,
// refreshing through the OAuth endpoint when a token is near expiry and
// persisting the refreshed credentials.
type StoredTokenProvider struct {
	accounts repo.OAuthAccountRepository
	cfg      OAuthConfig
	now      func() time.Time
}

func NewStoredTokenProvider(accounts repo.OAuthAccountRepository, cfg OAuthConfig) (*StoredTokenProvider, error) {
	if accounts == nil {
		return nil, errors.New("account repository is required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &StoredTokenProvider{accounts: accounts, cfg: cfg, now: time.Now}, nil
}

func (p *StoredTokenProvider) AccessToken(ctx context.Context, userID string) (string, error) {
	if p == nil || p.accounts == nil {
		return "", &AuthError{Err: errors.New("token provider not initialized")}
	}
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return "", &AuthError{Err: errors.New("user id is required")}
	}

	account, err := p.accounts.GetByUser(ctx, userID, providerGoogle)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return "", &AuthError{Err: errors.New("google account not connected")}
		}
		return "", &AuthError{Err: err}
	}

	if !p.expired(account) {
		return account.AccessToken, nil
	}
	if strings.TrimSpace(account.RefreshToken) == "" {
		return "", &AuthError{Err: errors.New("missing refresh token for google account")}
	}

	refreshed, err := p.refresh(ctx, account.RefreshToken)
	if err != nil {
		return "", &AuthError{Err: err}
	}

	expiresAt := account.ExpiresAt
	if !refreshed.Expiry.IsZero() {
		expiry := refreshed.Expiry.UTC()
		expiresAt = &expiry
	}
	updated, err := p.accounts.UpdateTokens(ctx, account.ID, refreshed.AccessToken, refreshed.TokenType, account.Scope, expiresAt)
	if err != nil {
		return "", &AuthError{Err: fmt.Errorf("persist refreshed token: %w", err)}
	}
	return updated.AccessToken, nil
}

func (p *StoredTokenProvider) expired(account domain.OAuthAccount) bool {
	if account.ExpiresAt == nil || account.ExpiresAt.IsZero() {
		return false
	}
	return !p.now().Before(account.ExpiresAt.Add(-refreshSkew))
}

func (p *StoredTokenProvider) refresh(ctx context.Context, refreshToken string) (*oauth2.Token, error) {
	conf := &oauth2.Config{
		ClientID:     p.cfg.ClientID,
		ClientSecret: p.cfg.ClientSecret,
		Endpoint:     oauth2.Endpoint{TokenURL: p.cfg.TokenURL},
	}
	source := conf.TokenSource(ctx, &oauth2.Token{RefreshToken: refreshToken})
	token, err := source.Token()
	if err != nil {
		return nil, fmt.Errorf("refresh token: %w", err)
	}
	if strings.TrimSpace(token.AccessToken) == "" {
		return nil, errors.New("refresh returned empty access token")
	}
	return token, nil
}
