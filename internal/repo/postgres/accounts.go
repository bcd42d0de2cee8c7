package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/taskrelay-labs/taskrelay-go/internal/domain"
)

type OAuthAccountStore struct {
	db DB
}

const (
	selectAccountQuery = `SELECT account_id, user_id, provider, access_token, refresh_token, token_type, scope, expires_at
	 FROM oauth_accounts
	 WHERE user_id = $1 AND provider = $2`

	updateAccountTokensQuery = `UPDATE oauth_accounts
	 SET access_token = $1, token_type = COALESCE(NULLIF($2, ''), token_type), scope = COALESCE(NULLIF($3, ''), scope), expires_at = $4
	 WHERE account_id = $5
	 RETURNING account_id, user_id, provider, access_token, refresh_token, token_type, scope, expires_at`
)

func NewOAuthAccountStore(db DB) *OAuthAccountStore {
	if db == nil {
		return nil
	}
	return &OAuthAccountStore{db: db}
}

func (s *OAuthAccountStore) GetByUser(ctx context.Context, userID, provider string) (domain.OAuthAccount, error) {
	if s == nil || s.db == nil {
		return domain.OAuthAccount{}, fmt.Errorf("oauth account store not initialized")
	}
	userID = strings.TrimSpace(userID)
	provider = strings.TrimSpace(provider)
	if userID == "" {
		return domain.OAuthAccount{}, fmt.Errorf("user id is required")
	}
	if provider == "" {
		return domain.OAuthAccount{}, fmt.Errorf("provider is required")
	}
	row := s.db.QueryRowContext(ctx, selectAccountQuery, userID, provider)
	return scanAccount(row)
}

func (s *OAuthAccountStore) UpdateTokens(ctx context.Context, id, accessToken, tokenType, scope string, expiresAt *time.Time) (domain.OAuthAccount, error) {
	if s == nil || s.db == nil {
		return domain.OAuthAccount{}, fmt.Errorf("oauth account store not initialized")
	}
	id = strings.TrimSpace(id)
	if id == "" {
		return domain.OAuthAccount{}, fmt.Errorf("account id is required")
	}
	if strings.TrimSpace(accessToken) == "" {
		return domain.OAuthAccount{}, fmt.Errorf("access token is required")
	}
	row := s.db.QueryRowContext(
		ctx,
		updateAccountTokensQuery,
		strings.TrimSpace(accessToken),
		strings.TrimSpace(tokenType),
		strings.TrimSpace(scope),
		nullTime(expiresAt),
		id,
	)
	return scanAccount(row)
}

type accountScanner interface {
	Scan(dest ...any) error
}

func scanAccount(scanner accountScanner) (domain.OAuthAccount, error) {
	var account domain.OAuthAccount
	var refreshToken, tokenType, scope sql.NullString
	var expiresAt sql.NullTime
	if err := scanner.Scan(
		&account.ID,
		&account.UserID,
		&account.Provider,
		&account.AccessToken,
		&refreshToken,
		&tokenType,
		&scope,
		&expiresAt,
	); err != nil {
		return domain.OAuthAccount{}, handleNotFound(err)
	}
	account.RefreshToken = strings.TrimSpace(refreshToken.String)
	account.TokenType = strings.TrimSpace(tokenType.String)
	account.Scope = strings.TrimSpace(scope.String)
	account.ExpiresAt = timePtr(expiresAt)
	return account, nil
}
