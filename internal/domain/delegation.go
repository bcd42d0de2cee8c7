package domain

import (
	"errors"
	"strings"
	"time"
)

// Scope is the set of capability flags a delegation grants. Each flag gates
// one actionable step type.
type Scope struct {
	CanDraftEmail       bool `json:"canDraftEmail" yaml:"canDraftEmail"`
	CanCreateGmailDraft bool `json:"canCreateGmailDraft" yaml:"canCreateGmailDraft"`
}

// DefaultScope is granted when the caller supplies no scope: draft-only, no
// external Gmail drafts.
func DefaultScope() Scope {
	return Scope{CanDraftEmail: true, CanCreateGmailDraft: false}
}

// Allows reports whether the scope permits the given actionable step type.
func (s Scope) Allows(t ActionType) bool {
	switch t {
	case ActionTypeDraftEmail:
		return s.CanDraftEmail
	case ActionTypeCreateGmailDraft:
		return s.CanCreateGmailDraft
	default:
		return false
	}
}

// StepIDSet is an explicit set of approved step identifiers.
type StepIDSet map[string]struct{}

func NewStepIDSet(ids []string) StepIDSet {
	set := make(StepIDSet, len(ids))
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		set[id] = struct{}{}
	}
	return set
}

func (s StepIDSet) Contains(id string) bool {
	_, ok := s[id]
	return ok
}

// Delegation is a user-granted, scope-limited permission record authorizing a
// subset of a plan's steps for automated execution. A request may accumulate
// several delegations; execution uses the newest APPROVED one.
type Delegation struct {
	ID              string
	RequestID       string
	PlanID          string
	UserID          string
	Status          DelegationStatus
	Scope           Scope
	ApprovedStepIDs []string
	CreatedAt       time.Time
}

func (d Delegation) Validate() error {
	if strings.TrimSpace(d.ID) == "" {
		return errors.New("delegation id is required")
	}
	if strings.TrimSpace(d.RequestID) == "" {
		return errors.New("request id is required")
	}
	if strings.TrimSpace(d.UserID) == "" {
		return errors.New("user id is required")
	}
	if d.Status != DelegationApproved && d.Status != DelegationRevoked {
		return errors.New("unknown delegation status")
	}
	return nil
}

// ApprovedSet returns the approved step ids as a set.
func (d Delegation) ApprovedSet() StepIDSet {
	return NewStepIDSet(d.ApprovedStepIDs)
}
