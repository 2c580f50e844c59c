package directory

import (
	"fmt"
	"sort"
	"sync/atomic"

	"github.com/google/uuid"
)

// View is an immutable snapshot of the directory. Published views are never
// mutated; the store installs a fresh view (copy-on-write over the changed
// substructures only) after every mutation.
type View struct {
	users       map[uuid.UUID]User
	groups      map[uuid.UUID]Group
	departments map[uuid.UUID]Department
	userGroups  map[uuid.UUID][]uuid.UUID
	tree        *tree
}

// User returns the user by id.
func (v *View) User(id uuid.UUID) (User, bool) {
	u, ok := v.users[id]
	return u, ok
}

// Group returns the group by id.
func (v *View) Group(id uuid.UUID) (Group, bool) {
	g, ok := v.groups[id]
	return g, ok
}

// Department returns the department by id.
func (v *View) Department(id uuid.UUID) (Department, bool) {
	d, ok := v.departments[id]
	return d, ok
}

// UserGroups returns the ids of every group the user belongs to.
func (v *View) UserGroups(id uuid.UUID) []uuid.UUID {
	return v.userGroups[id]
}

// GroupMembers returns the member user ids of a group.
func (v *View) GroupMembers(id uuid.UUID) []uuid.UUID {
	return v.groups[id].Members
}

// Ancestors returns ancestors of a department in root-to-immediate-parent
// order.
func (v *View) Ancestors(id uuid.UUID) []uuid.UUID {
	return v.tree.ancestorChain(id)
}

// DepartmentChain returns ancestors plus the department itself, root first.
func (v *View) DepartmentChain(id uuid.UUID) []uuid.UUID {
	if !v.tree.has(id) {
		return nil
	}
	return append(append([]uuid.UUID(nil), v.tree.ancestorChain(id)...), id)
}

// Descendants returns the transitive child department set, sorted for
// deterministic output.
func (v *View) Descendants(id uuid.UUID) []uuid.UUID {
	set := v.tree.descendants(id)
	out := make([]uuid.UUID, 0, len(set))
	for d := range set {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].String() < out[j].String() })
	return out
}

// ListUsers returns all users ordered by email.
func (v *View) ListUsers() []User {
	out := make([]User, 0, len(v.users))
	for _, u := range v.users {
		out = append(out, u)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Email < out[j].Email })
	return out
}

// Store owns the mutable directory state. Mutations must be serialized by
// the caller (the admin service holds the aggregate mutex); reads are
// lock-free against the installed view.
type Store struct {
	view atomic.Pointer[View]
}

// NewStore returns an empty store.
func NewStore() *Store {
	s := &Store{}
	s.view.Store(emptyView())
	return s
}

func emptyView() *View {
	return &View{
		users:       make(map[uuid.UUID]User),
		groups:      make(map[uuid.UUID]Group),
		departments: make(map[uuid.UUID]Department),
		userGroups:  make(map[uuid.UUID][]uuid.UUID),
		tree:        newTree(),
	}
}

// CurrentView returns the latest installed view.
func (s *Store) CurrentView() *View {
	return s.view.Load()
}

// Seed replaces the whole state, used at startup when loading from the
// repository.
func (s *Store) Seed(users []User, groups []Group, departments []Department) error {
	v := emptyView()
	for _, d := range departments {
		v.departments[d.ID] = d
	}
	// Insert parents before children so ancestor chains resolve.
	pending := append([]Department(nil), departments...)
	for len(pending) > 0 {
		progressed := false
		rest := pending[:0]
		for _, d := range pending {
			if d.ParentID == uuid.Nil || v.tree.has(d.ParentID) {
				v.tree.add(d.ID, d.ParentID)
				progressed = true
			} else {
				rest = append(rest, d)
			}
		}
		if !progressed {
			return fmt.Errorf("%w: department parents unresolvable", ErrValidation)
		}
		pending = rest
	}
	for _, u := range users {
		if u.DepartmentID != uuid.Nil && !v.tree.has(u.DepartmentID) {
			return fmt.Errorf("%w: user %s references unknown department", ErrValidation, u.ID)
		}
		v.users[u.ID] = u
	}
	for _, g := range groups {
		g.Members = normalizeIDSet(g.Members)
		v.groups[g.ID] = g
	}
	v.userGroups = buildUserGroups(v.groups)
	s.view.Store(v)
	return nil
}

// AddUser installs a new user.
func (s *Store) AddUser(u User) error {
	v := s.view.Load()
	if _, exists := v.users[u.ID]; exists {
		return fmt.Errorf("%w: duplicate user id", ErrValidation)
	}
	if u.DepartmentID != uuid.Nil && !v.tree.has(u.DepartmentID) {
		return fmt.Errorf("%w: unknown department", ErrValidation)
	}
	next := *v
	next.users = cloneUsers(v.users)
	next.users[u.ID] = u
	s.view.Store(&next)
	return nil
}

// PutUser replaces an existing user record.
func (s *Store) PutUser(u User) error {
	v := s.view.Load()
	if _, ok := v.users[u.ID]; !ok {
		return ErrNotFound
	}
	if u.DepartmentID != uuid.Nil && !v.tree.has(u.DepartmentID) {
		return fmt.Errorf("%w: unknown department", ErrValidation)
	}
	next := *v
	next.users = cloneUsers(v.users)
	next.users[u.ID] = u
	s.view.Store(&next)
	return nil
}

// AddGroup installs a new group. Unknown members are rejected.
func (s *Store) AddGroup(g Group) error {
	v := s.view.Load()
	if _, exists := v.groups[g.ID]; exists {
		return fmt.Errorf("%w: duplicate group id", ErrValidation)
	}
	g.Members = normalizeIDSet(g.Members)
	for _, m := range g.Members {
		if _, ok := v.users[m]; !ok {
			return fmt.Errorf("%w: unknown member %s", ErrValidation, m)
		}
	}
	next := *v
	next.groups = cloneGroups(v.groups)
	next.groups[g.ID] = g
	next.userGroups = buildUserGroups(next.groups)
	s.view.Store(&next)
	return nil
}

// PutGroup replaces a group, typically after a member-set change.
func (s *Store) PutGroup(g Group) error {
	v := s.view.Load()
	if _, ok := v.groups[g.ID]; !ok {
		return ErrNotFound
	}
	g.Members = normalizeIDSet(g.Members)
	for _, m := range g.Members {
		if _, ok := v.users[m]; !ok {
			return fmt.Errorf("%w: unknown member %s", ErrValidation, m)
		}
	}
	next := *v
	next.groups = cloneGroups(v.groups)
	next.groups[g.ID] = g
	next.userGroups = buildUserGroups(next.groups)
	s.view.Store(&next)
	return nil
}

// AddDepartment installs a new tree node under parent (uuid.Nil for roots).
func (s *Store) AddDepartment(d Department) error {
	v := s.view.Load()
	if v.tree.has(d.ID) {
		return fmt.Errorf("%w: duplicate department id", ErrValidation)
	}
	if d.ParentID != uuid.Nil && !v.tree.has(d.ParentID) {
		return fmt.Errorf("%w: unknown parent department", ErrValidation)
	}
	next := *v
	next.departments = cloneDepartments(v.departments)
	next.departments[d.ID] = d
	next.tree = v.tree.clone()
	next.tree.add(d.ID, d.ParentID)
	s.view.Store(&next)
	return nil
}

// ReparentDepartment moves a department under a new parent. The move is
// rejected with ErrCycle when newParent is the department itself or one of
// its descendants; the store is left unchanged.
func (s *Store) ReparentDepartment(id, newParent uuid.UUID, version int64) error {
	v := s.view.Load()
	d, ok := v.departments[id]
	if !ok {
		return ErrNotFound
	}
	if newParent != uuid.Nil && !v.tree.has(newParent) {
		return fmt.Errorf("%w: unknown parent department", ErrValidation)
	}
	if v.tree.wouldCycle(id, newParent) {
		return ErrCycle
	}
	d.ParentID = newParent
	d.Version = version
	next := *v
	next.departments = cloneDepartments(v.departments)
	next.departments[id] = d
	next.tree = v.tree.clone()
	next.tree.reparent(id, newParent)
	s.view.Store(&next)
	return nil
}

func cloneUsers(in map[uuid.UUID]User) map[uuid.UUID]User {
	out := make(map[uuid.UUID]User, len(in)+1)
	for k, v := range in {
		out[k] = v
	}
	return out
}

func cloneGroups(in map[uuid.UUID]Group) map[uuid.UUID]Group {
	out := make(map[uuid.UUID]Group, len(in)+1)
	for k, v := range in {
		out[k] = v
	}
	return out
}

func cloneDepartments(in map[uuid.UUID]Department) map[uuid.UUID]Department {
	out := make(map[uuid.UUID]Department, len(in)+1)
	for k, v := range in {
		out[k] = v
	}
	return out
}

func buildUserGroups(groups map[uuid.UUID]Group) map[uuid.UUID][]uuid.UUID {
	out := make(map[uuid.UUID][]uuid.UUID)
	ids := make([]uuid.UUID, 0, len(groups))
	for id := range groups {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i].String() < ids[j].String() })
	for _, gid := range ids {
		for _, m := range groups[gid].Members {
			out[m] = append(out[m], gid)
		}
	}
	return out
}

func normalizeIDSet(ids []uuid.UUID) []uuid.UUID {
	seen := make(map[uuid.UUID]struct{}, len(ids))
	out := make([]uuid.UUID, 0, len(ids))
	for _, id := range ids {
		if id == uuid.Nil {
			continue
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].String() < out[j].String() })
	return out
}

// WouldCycle reports whether reparenting id under newParent would close a
// cycle, without mutating the store.
func (s *Store) WouldCycle(id, newParent uuid.UUID) bool {
	return s.view.Load().tree.wouldCycle(id, newParent)
}

// UserExists reports whether a user id is known.
func (s *Store) UserExists(id uuid.UUID) bool {
	_, ok := s.view.Load().users[id]
	return ok
}

// GroupExists reports whether a group id is known.
func (s *Store) GroupExists(id uuid.UUID) bool {
	_, ok := s.view.Load().groups[id]
	return ok
}

// DepartmentExists reports whether a department id is known.
func (s *Store) DepartmentExists(id uuid.UUID) bool {
	_, ok := s.view.Load().departments[id]
	return ok
}
