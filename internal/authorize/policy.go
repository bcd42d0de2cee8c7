package authorize

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/taskrelay-labs/taskrelay-go/internal/domain"
	"github.com/taskrelay-labs/taskrelay-go/internal/platform/env"
)

const PolicySchemaV1 = "taskrelay.delegation.v1"

// Policy bounds what a single delegation may grant. Operators ship it as a
// yaml file; an absent file means DefaultPolicy.
type Policy struct {
	Schema           string        `json:"schema" yaml:"schema"`
	DefaultScope     *domain.Scope `json:"default_scope,omitempty" yaml:"default_scope,omitempty"`
	AllowGmailDrafts bool          `json:"allow_gmail_drafts" yaml:"allow_gmail_drafts"`
	// MaxApprovedSteps caps the approved step set per delegation. Zero means
	// unlimited.
	MaxApprovedSteps int `json:"max_approved_steps,omitempty" yaml:"max_approved_steps,omitempty"`
}

// DefaultPolicy permits everything scopes can express.
func DefaultPolicy() Policy {
	return Policy{
		Schema:           PolicySchemaV1,
		AllowGmailDrafts: true,
	}
}

// LoadPolicy reads the yaml policy file named by
// TASKRELAY_DELEGATION_POLICY_FILE. An empty setting yields DefaultPolicy.
func LoadPolicy() (Policy, error) {
	path := strings.TrimSpace(env.String("TASKRELAY_DELEGATION_POLICY_FILE", ""))
	if path == "" {
		return DefaultPolicy(), nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return Policy{}, fmt.Errorf("read delegation policy: %w", err)
	}
	return ParsePolicy(raw)
}

func ParsePolicy(input []byte) (Policy, error) {
	var policy Policy
	if err := yaml.Unmarshal(input, &policy); err != nil {
		return Policy{}, fmt.Errorf("decode delegation policy: %w", err)
	}
	if err := policy.Validate(); err != nil {
		return Policy{}, err
	}
	return policy, nil
}

func (p Policy) Validate() error {
	if strings.TrimSpace(p.Schema) != PolicySchemaV1 {
		return fmt.Errorf("policy.schema must be %q", PolicySchemaV1)
	}
	if p.MaxApprovedSteps < 0 {
		return fmt.Errorf("policy.max_approved_steps must be >= 0")
	}
	return nil
}

// ResolveScope applies the policy to a caller-requested scope. A nil request
// takes the policy default, which falls back to the built-in default scope.
func (p Policy) ResolveScope(requested *domain.Scope) domain.Scope {
	var scope domain.Scope
	switch {
	case requested != nil:
		scope = *requested
	case p.DefaultScope != nil:
		scope = *p.DefaultScope
	default:
		scope = domain.DefaultScope()
	}
	if !p.AllowGmailDrafts {
		scope.CanCreateGmailDraft = false
	}
	return scope
}
