package allocation

import (
	"context"
	"sort"
)

// Roster returns active staff by role category.
type Roster interface {
	ActiveReceivers(ctx context.Context, roles []Role) ([]Receiver, error)
}

// Resolver turns a case type into its ordered candidate pool.
type Resolver struct {
	policy Policy
}

func NewResolver(p Policy) Resolver { return Resolver{policy: p} }

// Candidates returns the active, role-eligible receivers for t sorted by ID.
// An empty pool is not an error.
func (r Resolver) Candidates(ctx context.Context, roster Roster, t CaseType) ([]Receiver, error) {
	roles := r.policy.EligibleRoles(t)
	if len(roles) == 0 {
		return nil, nil
	}
	found, err := roster.ActiveReceivers(ctx, roles)
	if err != nil {
		return nil, err
	}
	out := make([]Receiver, 0, len(found))
	for _, rc := range found {
		if rc.Active && contains(roles, rc.Role) {
			out = append(out, rc)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}
