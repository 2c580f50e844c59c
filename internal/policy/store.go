package policy

import (
	"fmt"
	"sort"
	"sync/atomic"

	"github.com/google/uuid"
)

// View is an immutable snapshot of roles and policies. Policy iteration
// order is insertion order, which keeps conflict resolution deterministic
// and testable.
type View struct {
	policies map[uuid.UUID]Policy
	order    []uuid.UUID
	roles    map[uuid.UUID]Role
}

// Policy returns a policy by id.
func (v *View) Policy(id uuid.UUID) (Policy, bool) {
	p, ok := v.policies[id]
	return p, ok
}

// Role returns a role by id.
func (v *View) Role(id uuid.UUID) (Role, bool) {
	r, ok := v.roles[id]
	return r, ok
}

// PoliciesForRoles returns active policies linked to any active role in
// roleIDs, in policy insertion order. A policy is only considered when both
// the policy and the linking role are active.
func (v *View) PoliciesForRoles(roleIDs []uuid.UUID) []Policy {
	linked := make(map[uuid.UUID]struct{})
	for _, rid := range roleIDs {
		role, ok := v.roles[rid]
		if !ok || role.Status != StatusActive {
			continue
		}
		for _, pid := range role.PolicyIDs {
			linked[pid] = struct{}{}
		}
	}
	if len(linked) == 0 {
		return nil
	}
	out := make([]Policy, 0, len(linked))
	for _, pid := range v.order {
		if _, ok := linked[pid]; !ok {
			continue
		}
		p := v.policies[pid]
		if p.Status != StatusActive {
			continue
		}
		out = append(out, p)
	}
	return out
}

// ListRoles returns all roles ordered by name then id.
func (v *View) ListRoles() []Role {
	out := make([]Role, 0, len(v.roles))
	for _, r := range v.roles {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Name != out[j].Name {
			return out[i].Name < out[j].Name
		}
		return out[i].ID.String() < out[j].ID.String()
	})
	return out
}

// ListPolicies returns all policies in insertion order.
func (v *View) ListPolicies() []Policy {
	out := make([]Policy, 0, len(v.order))
	for _, pid := range v.order {
		out = append(out, v.policies[pid])
	}
	return out
}

// Store owns mutable role and policy state. Mutations must be serialized by
// the caller; reads are lock-free against the installed view.
type Store struct {
	view atomic.Pointer[View]
}

// NewStore returns an empty store.
func NewStore() *Store {
	s := &Store{}
	s.view.Store(&View{
		policies: make(map[uuid.UUID]Policy),
		roles:    make(map[uuid.UUID]Role),
	})
	return s
}

// CurrentView returns the latest installed view.
func (s *Store) CurrentView() *View {
	return s.view.Load()
}

// Seed replaces the whole state at startup. Policies must be supplied in
// insertion order.
func (s *Store) Seed(policies []Policy, roles []Role) error {
	v := &View{
		policies: make(map[uuid.UUID]Policy, len(policies)),
		order:    make([]uuid.UUID, 0, len(policies)),
		roles:    make(map[uuid.UUID]Role, len(roles)),
	}
	for _, p := range policies {
		if _, dup := v.policies[p.ID]; dup {
			return fmt.Errorf("%w: duplicate policy id %s", ErrValidation, p.ID)
		}
		v.policies[p.ID] = p
		v.order = append(v.order, p.ID)
	}
	for _, r := range roles {
		for _, pid := range r.PolicyIDs {
			if _, ok := v.policies[pid]; !ok {
				return fmt.Errorf("%w: role %s links unknown policy %s", ErrValidation, r.ID, pid)
			}
		}
		v.roles[r.ID] = r
	}
	s.view.Store(v)
	return nil
}

// AddPolicy appends a policy to the insertion order.
func (s *Store) AddPolicy(p Policy) error {
	v := s.view.Load()
	if _, dup := v.policies[p.ID]; dup {
		return fmt.Errorf("%w: duplicate policy id", ErrValidation)
	}
	next := *v
	next.policies = clonePolicies(v.policies)
	next.policies[p.ID] = p
	next.order = append(append([]uuid.UUID(nil), v.order...), p.ID)
	s.view.Store(&next)
	return nil
}

// PutPolicy replaces a policy, keeping its insertion position.
func (s *Store) PutPolicy(p Policy) error {
	v := s.view.Load()
	if _, ok := v.policies[p.ID]; !ok {
		return ErrNotFound
	}
	next := *v
	next.policies = clonePolicies(v.policies)
	next.policies[p.ID] = p
	s.view.Store(&next)
	return nil
}

// AddRole installs a new role. Linked policies must exist.
func (s *Store) AddRole(r Role) error {
	v := s.view.Load()
	if _, dup := v.roles[r.ID]; dup {
		return fmt.Errorf("%w: duplicate role id", ErrValidation)
	}
	for _, pid := range r.PolicyIDs {
		if _, ok := v.policies[pid]; !ok {
			return fmt.Errorf("%w: unknown policy %s", ErrValidation, pid)
		}
	}
	next := *v
	next.roles = cloneRoles(v.roles)
	next.roles[r.ID] = r
	s.view.Store(&next)
	return nil
}

// PutRole replaces a role.
func (s *Store) PutRole(r Role) error {
	v := s.view.Load()
	if _, ok := v.roles[r.ID]; !ok {
		return ErrNotFound
	}
	for _, pid := range r.PolicyIDs {
		if _, ok := v.policies[pid]; !ok {
			return fmt.Errorf("%w: unknown policy %s", ErrValidation, pid)
		}
	}
	next := *v
	next.roles = cloneRoles(v.roles)
	next.roles[r.ID] = r
	s.view.Store(&next)
	return nil
}

func clonePolicies(in map[uuid.UUID]Policy) map[uuid.UUID]Policy {
	out := make(map[uuid.UUID]Policy, len(in)+1)
	for k, v := range in {
		out[k] = v
	}
	return out
}

func cloneRoles(in map[uuid.UUID]Role) map[uuid.UUID]Role {
	out := make(map[uuid.UUID]Role, len(in)+1)
	for k, v := range in {
		out[k] = v
	}
	return out
}

// RoleExists reports whether a role id is known.
func (s *Store) RoleExists(id uuid.UUID) bool {
	_, ok := s.view.Load().roles[id]
	return ok
}
