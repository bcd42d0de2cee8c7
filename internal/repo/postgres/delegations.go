package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/taskrelay-labs/taskrelay-go/internal/domain"
)

type DelegationStore struct {
	db DB
}

const (
	insertDelegationQuery = `INSERT INTO delegations (
		delegation_id,
		request_id,
		plan_id,
		user_id,
		status,
		scope,
		approved_step_ids,
		created_at
	) VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`

	latestApprovedDelegationQuery = `SELECT delegation_id, request_id, plan_id, user_id, status, scope, approved_step_ids, created_at
	 FROM delegations
	 WHERE user_id = $1 AND request_id = $2 AND status = $3
	 ORDER BY created_at DESC
	 LIMIT 1`

	listDelegationsByRequestQuery = `SELECT delegation_id, request_id, plan_id, user_id, status, scope, approved_step_ids, created_at
	 FROM delegations
	 WHERE request_id = $1
	 ORDER BY created_at DESC`
)

func NewDelegationStore(db DB) *DelegationStore {
	if db == nil {
		return nil
	}
	return &DelegationStore{db: db}
}

func (s *DelegationStore) Create(ctx context.Context, delegation domain.Delegation) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("delegation store not initialized")
	}
	if strings.TrimSpace(delegation.ID) == "" {
		delegation.ID = uuid.NewString()
	}
	if err := delegation.Validate(); err != nil {
		return err
	}
	scopeJSON, err := json.Marshal(delegation.Scope)
	if err != nil {
		return fmt.Errorf("encode scope: %w", err)
	}
	stepIDs := delegation.ApprovedStepIDs
	if stepIDs == nil {
		stepIDs = []string{}
	}
	stepIDsJSON, err := json.Marshal(stepIDs)
	if err != nil {
		return fmt.Errorf("encode approved step ids: %w", err)
	}
	_, err = s.db.ExecContext(
		ctx,
		insertDelegationQuery,
		strings.TrimSpace(delegation.ID),
		strings.TrimSpace(delegation.RequestID),
		nullIfEmpty(delegation.PlanID),
		strings.TrimSpace(delegation.UserID),
		string(delegation.Status),
		scopeJSON,
		stepIDsJSON,
		normalizeTime(delegation.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("insert delegation: %w", err)
	}
	return nil
}

func (s *DelegationStore) LatestApproved(ctx context.Context, userID, requestID string) (domain.Delegation, error) {
	if s == nil || s.db == nil {
		return domain.Delegation{}, fmt.Errorf("delegation store not initialized")
	}
	userID = strings.TrimSpace(userID)
	requestID = strings.TrimSpace(requestID)
	if userID == "" {
		return domain.Delegation{}, fmt.Errorf("user id is required")
	}
	if requestID == "" {
		return domain.Delegation{}, fmt.Errorf("request id is required")
	}
	row := s.db.QueryRowContext(ctx, latestApprovedDelegationQuery, userID, requestID, string(domain.DelegationApproved))
	return scanDelegation(row)
}

func (s *DelegationStore) ListByRequest(ctx context.Context, requestID string) ([]domain.Delegation, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("delegation store not initialized")
	}
	requestID = strings.TrimSpace(requestID)
	if requestID == "" {
		return nil, fmt.Errorf("request id is required")
	}

	rows, err := s.db.QueryContext(ctx, listDelegationsByRequestQuery, requestID)
	if err != nil {
		return nil, fmt.Errorf("list delegations: %w", err)
	}
	defer rows.Close()

	delegations := make([]domain.Delegation, 0)
	for rows.Next() {
		delegation, err := scanDelegation(rows)
		if err != nil {
			return nil, err
		}
		delegations = append(delegations, delegation)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list delegations: %w", err)
	}
	return delegations, nil
}

type delegationScanner interface {
	Scan(dest ...any) error
}

func scanDelegation(scanner delegationScanner) (domain.Delegation, error) {
	var delegation domain.Delegation
	var planID sql.NullString
	var status string
	var scopeJSON []byte
	var stepIDsJSON []byte
	if err := scanner.Scan(
		&delegation.ID,
		&delegation.RequestID,
		&planID,
		&delegation.UserID,
		&status,
		&scopeJSON,
		&stepIDsJSON,
		&delegation.CreatedAt,
	); err != nil {
		return domain.Delegation{}, handleNotFound(err)
	}
	delegation.PlanID = strings.TrimSpace(planID.String)
	delegation.Status = domain.DelegationStatus(status)
	if len(scopeJSON) > 0 {
		if err := json.Unmarshal(scopeJSON, &delegation.Scope); err != nil {
			return domain.Delegation{}, fmt.Errorf("decode scope: %w", err)
		}
	}
	if len(stepIDsJSON) > 0 {
		if err := json.Unmarshal(stepIDsJSON, &delegation.ApprovedStepIDs); err != nil {
			return domain.Delegation{}, fmt.Errorf("decode approved step ids: %w", err)
		}
	}
	return delegation, nil
}
