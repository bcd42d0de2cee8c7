package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/taskrelay-labs/taskrelay-go/internal/domain"
	"github.com/taskrelay-labs/taskrelay-go/internal/repo"
)

type RequestStore struct {
	db DB
}

const selectRequestColumns = `request_id, user_id, title, summary, raw_input, domain, status, created_at, updated_at`

func NewRequestStore(db DB) *RequestStore {
	if db == nil {
		return nil
	}
	return &RequestStore{db: db}
}

func (s *RequestStore) CreateRequest(ctx context.Context, request domain.Request) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("request store not initialized")
	}
	if err := request.Validate(); err != nil {
		return err
	}
	_, err := s.db.ExecContext(
		ctx,
		`INSERT INTO requests (request_id, user_id, title, summary, raw_input, domain, status, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		strings.TrimSpace(request.ID),
		strings.TrimSpace(request.UserID),
		nullIfEmpty(request.Title),
		nullIfEmpty(request.Summary),
		request.RawInput,
		nullIfEmpty(request.Domain),
		string(request.Status),
		request.CreatedAt.UTC(),
		request.UpdatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("insert request: %w", err)
	}
	return nil
}

func (s *RequestStore) Get(ctx context.Context, userID, id string) (domain.Request, error) {
	if s == nil || s.db == nil {
		return domain.Request{}, fmt.Errorf("request store not initialized")
	}
	userID = strings.TrimSpace(userID)
	id = strings.TrimSpace(id)
	if userID == "" {
		return domain.Request{}, fmt.Errorf("user id is required")
	}
	if id == "" {
		return domain.Request{}, fmt.Errorf("request id is required")
	}
	row := s.db.QueryRowContext(
		ctx,
		`SELECT `+selectRequestColumns+` FROM requests WHERE user_id = $1 AND request_id = $2`,
		userID,
		id,
	)
	return scanRequest(row)
}

func (s *RequestStore) UpdateStatus(ctx context.Context, userID, id string, to domain.RequestStatus) (domain.Request, error) {
	if s == nil || s.db == nil {
		return domain.Request{}, fmt.Errorf("request store not initialized")
	}
	userID = strings.TrimSpace(userID)
	id = strings.TrimSpace(id)
	if userID == "" {
		return domain.Request{}, fmt.Errorf("user id is required")
	}
	if id == "" {
		return domain.Request{}, fmt.Errorf("request id is required")
	}
	if strings.TrimSpace(string(to)) == "" {
		return domain.Request{}, fmt.Errorf("target status is required")
	}
	row := s.db.QueryRowContext(
		ctx,
		`UPDATE requests
		 SET status = $1, updated_at = $2
		 WHERE user_id = $3 AND request_id = $4
		 RETURNING `+selectRequestColumns,
		string(to),
		time.Now().UTC(),
		userID,
		id,
	)
	return scanRequest(row)
}

// UpdateStatusIf is the atomic read-and-transition the execution path relies
// on: the status flips only when it is currently in the from set. A missing
// row maps to ErrNotFound, a row outside the from set to ErrConflict.
func (s *RequestStore) UpdateStatusIf(ctx context.Context, userID, id string, from []domain.RequestStatus, to domain.RequestStatus) (domain.Request, error) {
	if s == nil || s.db == nil {
		return domain.Request{}, fmt.Errorf("request store not initialized")
	}
	userID = strings.TrimSpace(userID)
	id = strings.TrimSpace(id)
	if userID == "" {
		return domain.Request{}, fmt.Errorf("user id is required")
	}
	if id == "" {
		return domain.Request{}, fmt.Errorf("request id is required")
	}
	if len(from) == 0 {
		return domain.Request{}, fmt.Errorf("from status set is required")
	}
	if strings.TrimSpace(string(to)) == "" {
		return domain.Request{}, fmt.Errorf("target status is required")
	}

	fromStrs := make([]string, 0, len(from))
	for _, status := range from {
		fromStrs = append(fromStrs, string(status))
	}

	row := s.db.QueryRowContext(
		ctx,
		`UPDATE requests
		 SET status = $1, updated_at = $2
		 WHERE user_id = $3 AND request_id = $4 AND status = ANY($5)
		 RETURNING `+selectRequestColumns,
		string(to),
		time.Now().UTC(),
		userID,
		id,
		fromStrs,
	)
	request, err := scanRequest(row)
	if err == nil {
		return request, nil
	}
	if !errors.Is(err, repo.ErrNotFound) {
		return domain.Request{}, err
	}

	// Distinguish a missing request from a status conflict.
	if _, getErr := s.Get(ctx, userID, id); getErr != nil {
		return domain.Request{}, getErr
	}
	return domain.Request{}, repo.ErrConflict
}

type requestScanner interface {
	Scan(dest ...any) error
}

func scanRequest(scanner requestScanner) (domain.Request, error) {
	var request domain.Request
	var title sql.NullString
	var summary sql.NullString
	var reqDomain sql.NullString
	var status string
	if err := scanner.Scan(
		&request.ID,
		&request.UserID,
		&title,
		&summary,
		&request.RawInput,
		&reqDomain,
		&status,
		&request.CreatedAt,
		&request.UpdatedAt,
	); err != nil {
		return domain.Request{}, handleNotFound(err)
	}
	request.Title = strings.TrimSpace(title.String)
	request.Summary = strings.TrimSpace(summary.String)
	request.Domain = strings.TrimSpace(reqDomain.String)
	request.Status = domain.RequestStatus(status)
	return request, nil
}
