package assignment

import (
	"sort"
	"sync/atomic"

	"github.com/google/uuid"
)

// View is an immutable snapshot of the assignment edges.
type View struct {
	byPrincipal map[uuid.UUID][]uuid.UUID // sorted role ids
	edges       map[edgeKey]Assignment
}

type edgeKey struct {
	principal uuid.UUID
	role      uuid.UUID
}

// RolesForPrincipal returns the role ids directly assigned to a principal.
func (v *View) RolesForPrincipal(id uuid.UUID) []uuid.UUID {
	return v.byPrincipal[id]
}

// Store owns the mutable edge set. Mutations must be serialized by the
// caller; reads are lock-free against the installed view.
type Store struct {
	view atomic.Pointer[View]
}

// NewStore returns an empty store.
func NewStore() *Store {
	s := &Store{}
	s.view.Store(&View{
		byPrincipal: make(map[uuid.UUID][]uuid.UUID),
		edges:       make(map[edgeKey]Assignment),
	})
	return s
}

// CurrentView returns the latest installed view.
func (s *Store) CurrentView() *View {
	return s.view.Load()
}

// Seed replaces the whole edge set at startup.
func (s *Store) Seed(assignments []Assignment) {
	v := &View{
		byPrincipal: make(map[uuid.UUID][]uuid.UUID),
		edges:       make(map[edgeKey]Assignment, len(assignments)),
	}
	for _, a := range assignments {
		v.edges[edgeKey{a.PrincipalID, a.RoleID}] = a
	}
	v.byPrincipal = indexEdges(v.edges)
	s.view.Store(v)
}

// Add installs edges for one principal; existing edges are kept.
func (s *Store) Add(assignments []Assignment) {
	v := s.view.Load()
	next := &View{edges: make(map[edgeKey]Assignment, len(v.edges)+len(assignments))}
	for k, a := range v.edges {
		next.edges[k] = a
	}
	for _, a := range assignments {
		next.edges[edgeKey{a.PrincipalID, a.RoleID}] = a
	}
	next.byPrincipal = indexEdges(next.edges)
	s.view.Store(next)
}

// Remove deletes one edge. It reports whether the edge existed.
func (s *Store) Remove(principalID, roleID uuid.UUID) bool {
	v := s.view.Load()
	key := edgeKey{principalID, roleID}
	if _, ok := v.edges[key]; !ok {
		return false
	}
	next := &View{edges: make(map[edgeKey]Assignment, len(v.edges))}
	for k, a := range v.edges {
		if k == key {
			continue
		}
		next.edges[k] = a
	}
	next.byPrincipal = indexEdges(next.edges)
	s.view.Store(next)
	return true
}

func indexEdges(edges map[edgeKey]Assignment) map[uuid.UUID][]uuid.UUID {
	out := make(map[uuid.UUID][]uuid.UUID)
	for k := range edges {
		out[k.principal] = append(out[k.principal], k.role)
	}
	for principal, roles := range out {
		sort.Slice(roles, func(i, j int) bool { return roles[i].String() < roles[j].String() })
		out[principal] = roles
	}
	return out
}
