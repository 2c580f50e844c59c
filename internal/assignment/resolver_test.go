package assignment

import (
	"context"
	"sync/atomic"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

// fakeSnapshot is a hand-built snapshot for resolver tests.
type fakeSnapshot struct {
	version uint64
	users   map[uuid.UUID]bool
	groups  map[uuid.UUID][]uuid.UUID
	dept    map[uuid.UUID]uuid.UUID
	chains  map[uuid.UUID][]uuid.UUID
	roles   map[uuid.UUID][]uuid.UUID
	lookups atomic.Int64
}

func (s *fakeSnapshot) Version() uint64 { return s.version }

func (s *fakeSnapshot) UserKnown(id uuid.UUID) bool { return s.users[id] }

func (s *fakeSnapshot) UserGroups(id uuid.UUID) []uuid.UUID { return s.groups[id] }

func (s *fakeSnapshot) UserDepartment(id uuid.UUID) (uuid.UUID, bool) {
	d, ok := s.dept[id]
	return d, ok
}

func (s *fakeSnapshot) DepartmentChain(id uuid.UUID) []uuid.UUID { return s.chains[id] }

func (s *fakeSnapshot) RolesForPrincipal(id uuid.UUID) []uuid.UUID {
	s.lookups.Add(1)
	return s.roles[id]
}

func TestEffectiveRolesUnknownPrincipal(t *testing.T) {
	r := NewResolver(true, 16, nil)
	snap := &fakeSnapshot{version: 1, users: map[uuid.UUID]bool{}}

	_, err := r.EffectiveRoles(context.Background(), uuid.New(), snap)
	require.ErrorIs(t, err, ErrPrincipalNotFound)
}

func TestEffectiveRolesUnionsSources(t *testing.T) {
	user := uuid.New()
	group := uuid.New()
	root := uuid.New()
	leaf := uuid.New()
	directRole := uuid.New()
	groupRole := uuid.New()
	rootRole := uuid.New()

	snap := &fakeSnapshot{
		version: 1,
		users:   map[uuid.UUID]bool{user: true},
		groups:  map[uuid.UUID][]uuid.UUID{user: {group}},
		dept:    map[uuid.UUID]uuid.UUID{user: leaf},
		chains:  map[uuid.UUID][]uuid.UUID{leaf: {root, leaf}},
		roles: map[uuid.UUID][]uuid.UUID{
			user:  {directRole},
			group: {groupRole, directRole},
			root:  {rootRole},
		},
	}

	roles, err := NewResolver(true, 16, nil).EffectiveRoles(context.Background(), user, snap)
	require.NoError(t, err)
	require.Len(t, roles, 3)
	require.Contains(t, roles, directRole)
	require.Contains(t, roles, groupRole)
	require.Contains(t, roles, rootRole)

	// Inheritance disabled: the department chain contributes nothing, and
	// the result set can only shrink.
	withoutDept, err := NewResolver(false, 16, nil).EffectiveRoles(context.Background(), user, snap)
	require.NoError(t, err)
	require.Len(t, withoutDept, 2)
	require.NotContains(t, withoutDept, rootRole)
	for _, role := range withoutDept {
		require.Contains(t, roles, role)
	}
}

func TestEffectiveRolesInheritanceMonotonic(t *testing.T) {
	user := uuid.New()
	group := uuid.New()
	directRole := uuid.New()
	groupRole := uuid.New()
	r := NewResolver(true, 16, nil)
	ctx := context.Background()

	base := &fakeSnapshot{
		version: 1,
		users:   map[uuid.UUID]bool{user: true},
		groups:  map[uuid.UUID][]uuid.UUID{user: {group}},
		roles:   map[uuid.UUID][]uuid.UUID{user: {directRole}},
	}
	before, err := r.EffectiveRoles(ctx, user, base)
	require.NoError(t, err)

	// Granting the group a role can only grow the member's set.
	granted := &fakeSnapshot{
		version: 2,
		users:   map[uuid.UUID]bool{user: true},
		groups:  map[uuid.UUID][]uuid.UUID{user: {group}},
		roles:   map[uuid.UUID][]uuid.UUID{user: {directRole}, group: {groupRole}},
	}
	after, err := r.EffectiveRoles(ctx, user, granted)
	require.NoError(t, err)
	require.Subset(t, after, before)
	require.Contains(t, after, groupRole)

	// Dropping the membership can only shrink it; direct grants remain.
	left := &fakeSnapshot{
		version: 3,
		users:   map[uuid.UUID]bool{user: true},
		roles:   map[uuid.UUID][]uuid.UUID{user: {directRole}, group: {groupRole}},
	}
	final, err := r.EffectiveRoles(ctx, user, left)
	require.NoError(t, err)
	require.Subset(t, after, final)
	require.NotContains(t, final, groupRole)
	require.Contains(t, final, directRole)
}

func TestEffectiveRolesCachedPerVersion(t *testing.T) {
	user := uuid.New()
	role := uuid.New()
	snap := &fakeSnapshot{
		version: 3,
		users:   map[uuid.UUID]bool{user: true},
		roles:   map[uuid.UUID][]uuid.UUID{user: {role}},
	}

	r := NewResolver(false, 16, nil)
	ctx := context.Background()

	first, err := r.EffectiveRoles(ctx, user, snap)
	require.NoError(t, err)
	lookups := snap.lookups.Load()

	second, err := r.EffectiveRoles(ctx, user, snap)
	require.NoError(t, err)
	require.Equal(t, first, second)
	require.Equal(t, lookups, snap.lookups.Load(), "cached resolution must not recompute")

	// A new snapshot version is a new cache key.
	next := &fakeSnapshot{
		version: 4,
		users:   map[uuid.UUID]bool{user: true},
		roles:   map[uuid.UUID][]uuid.UUID{user: {role, uuid.New()}},
	}
	third, err := r.EffectiveRoles(ctx, user, next)
	require.NoError(t, err)
	require.Len(t, third, 2)

	require.Equal(t, 1, r.SweepBelow(4))
}

func TestStoreAddRemove(t *testing.T) {
	s := NewStore()
	principal := uuid.New()
	roleA := uuid.New()
	roleB := uuid.New()

	s.Add([]Assignment{
		{PrincipalID: principal, PrincipalType: PrincipalUser, RoleID: roleA},
		{PrincipalID: principal, PrincipalType: PrincipalUser, RoleID: roleB},
		{PrincipalID: principal, PrincipalType: PrincipalUser, RoleID: roleA},
	})
	require.Len(t, s.CurrentView().RolesForPrincipal(principal), 2)

	require.True(t, s.Remove(principal, roleA))
	require.False(t, s.Remove(principal, roleA))
	require.Equal(t, []uuid.UUID{roleB}, s.CurrentView().RolesForPrincipal(principal))
}

func TestLRUEviction(t *testing.T) {
	c := newLRUCache(2)
	c.put("erc:1:a", []uuid.UUID{uuid.New()})
	c.put("erc:1:b", []uuid.UUID{uuid.New()})
	c.put("erc:2:c", []uuid.UUID{uuid.New()})

	_, ok := c.get("erc:1:a")
	require.False(t, ok, "oldest entry should be evicted")
	_, ok = c.get("erc:2:c")
	require.True(t, ok)

	require.Equal(t, 1, c.sweepBelow(2))
	_, ok = c.get("erc:1:b")
	require.False(t, ok)
}
