package allocation

import (
	"bytes"
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Action is the outcome of the self-assignment policy.
type Action string

const (
	ActionSelfAssign Action = "self-assign"
	ActionRotate     Action = "rotate"
	ActionReject     Action = "reject"
)

func (a Action) valid() bool {
	return a == ActionSelfAssign || a == ActionRotate || a == ActionReject
}

// Decision is what the policy says about one (creator role, case type) pair.
type Decision struct {
	Action Action
	Reason string
}

// Rule matches a creator role and a case type. Empty selectors match anything.
type Rule struct {
	CreatorRole    Role       `yaml:"creator_role,omitempty"`
	ExceptRoles    []Role     `yaml:"except_roles,omitempty"`
	CaseTypes      []CaseType `yaml:"case_types,omitempty"`
	Families       []Family   `yaml:"families,omitempty"`
	ExceptFamilies []Family   `yaml:"except_families,omitempty"`
	Action         Action     `yaml:"action"`
	Reason         string     `yaml:"reason,omitempty"`
}

func (r Rule) matches(role Role, t CaseType) bool {
	if r.CreatorRole != "" && r.CreatorRole != role {
		return false
	}
	if contains(r.ExceptRoles, role) {
		return false
	}
	fam := FamilyOf(t)
	if contains(r.ExceptFamilies, fam) {
		return false
	}
	if len(r.CaseTypes) == 0 && len(r.Families) == 0 {
		return true
	}
	return contains(r.CaseTypes, t) || contains(r.Families, fam)
}

// Policy is the single source of truth for eligibility and self-assignment.
type Policy struct {
	Version     int               `yaml:"version"`
	Eligibility map[Family][]Role `yaml:"eligibility"`
	Rules       []Rule            `yaml:"rules"`
}

const rejectDeveloperFirst = "only state-owned-enterprise desk may create this case type"

// DefaultPolicy returns the built-in policy table.
func DefaultPolicy() Policy {
	return Policy{
		Version: 1,
		Eligibility: map[Family][]Role{
			FamilyGeneral:           {RoleGeneralReceiver},
			FamilyDeveloperTransfer: {RoleGeneralReceiver, RoleEnterpriseDesk},
			FamilyEnterprise:        {RoleEnterpriseDesk},
		},
		Rules: []Rule{
			{ExceptRoles: []Role{RoleEnterpriseDesk}, CaseTypes: []CaseType{TypeDeveloperFirst}, Action: ActionReject, Reason: rejectDeveloperFirst},
			{CreatorRole: RoleDeveloper, Action: ActionRotate},
			{CreatorRole: RoleGeneralReceiver, ExceptFamilies: []Family{FamilyDeveloperTransfer}, Action: ActionSelfAssign},
			{CreatorRole: RoleEnterpriseDesk, Families: []Family{FamilyEnterprise}, Action: ActionSelfAssign},
		},
	}
}

// Decide walks the rules in order; the first match wins and no match means rotate.
func (p Policy) Decide(role Role, t CaseType) Decision {
	for _, r := range p.Rules {
		if r.matches(role, t) {
			return Decision{Action: r.Action, Reason: r.Reason}
		}
	}
	return Decision{Action: ActionRotate}
}

// EligibleRoles returns the role set allowed to receive case type t.
func (p Policy) EligibleRoles(t CaseType) []Role {
	roles := p.Eligibility[FamilyOf(t)]
	out := make([]Role, len(roles))
	copy(out, roles)
	return out
}

// Validate checks that the policy is total over the taxonomy and uses known values.
func (p Policy) Validate() error {
	var errs []error
	if p.Version <= 0 {
		errs = append(errs, errors.New("version must be positive"))
	}
	for _, fam := range AllFamilies() {
		roles := p.Eligibility[fam]
		if len(roles) == 0 {
			errs = append(errs, fmt.Errorf("family %q has no eligible roles", fam))
		}
		for _, r := range roles {
			if !r.Valid() {
				errs = append(errs, fmt.Errorf("family %q: unknown role %q", fam, r))
			}
		}
	}
	for fam := range p.Eligibility {
		if !fam.Valid() {
			errs = append(errs, fmt.Errorf("unknown family %q", fam))
		}
	}
	for i, r := range p.Rules {
		if !r.Action.valid() {
			errs = append(errs, fmt.Errorf("rule %d: unknown action %q", i, r.Action))
		}
		if r.Action == ActionReject && r.Reason == "" {
			errs = append(errs, fmt.Errorf("rule %d: reject needs a reason", i))
		}
		if r.CreatorRole != "" && !r.CreatorRole.Valid() {
			errs = append(errs, fmt.Errorf("rule %d: unknown role %q", i, r.CreatorRole))
		}
		for _, role := range r.ExceptRoles {
			if !role.Valid() {
				errs = append(errs, fmt.Errorf("rule %d: unknown role %q", i, role))
			}
		}
		for _, t := range r.CaseTypes {
			if !t.Valid() {
				errs = append(errs, fmt.Errorf("rule %d: unknown case type %q", i, t))
			}
		}
		for _, f := range append(append([]Family{}, r.Families...), r.ExceptFamilies...) {
			if !f.Valid() {
				errs = append(errs, fmt.Errorf("rule %d: unknown family %q", i, f))
			}
		}
	}
	return errors.Join(errs...)
}

// ParsePolicy decodes and validates a YAML policy document.
func ParsePolicy(data []byte) (Policy, error) {
	var p Policy
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&p); err != nil {
		return Policy{}, fmt.Errorf("decode policy: %w", err)
	}
	if err := p.Validate(); err != nil {
		return Policy{}, fmt.Errorf("invalid policy: %w", err)
	}
	return p, nil
}

// LoadPolicy reads a policy file. A configured file replaces the built-in
// policy entirely, so callers must treat any error as fatal.
func LoadPolicy(path string) (Policy, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Policy{}, fmt.Errorf("read policy %s: %w", path, err)
	}
	p, err := ParsePolicy(data)
	if err != nil {
		return Policy{}, fmt.Errorf("%s: %w", path, err)
	}
	return p, nil
}

func contains[T comparable](items []T, v T) bool {
	for _, it := range items {
		if it == v {
			return true
		}
	}
	return false
}
