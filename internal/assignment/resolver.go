package assignment

import (
	"context"
	"fmt"
	"sort"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"
)

// ErrPrincipalNotFound marks an unknown evaluation principal; the evaluator
// degrades it to an Indeterminate decision.
var ErrPrincipalNotFound = fmt.Errorf("%w: principal", ErrNotFound)

// Snapshot is the surface the resolver needs from an engine snapshot.
type Snapshot interface {
	Version() uint64
	UserKnown(userID uuid.UUID) bool
	UserGroups(userID uuid.UUID) []uuid.UUID
	UserDepartment(userID uuid.UUID) (uuid.UUID, bool)
	DepartmentChain(deptID uuid.UUID) []uuid.UUID
	RolesForPrincipal(principalID uuid.UUID) []uuid.UUID
}

// SharedCache is an optional second-level cache that survives local LRU
// eviction. Implementations must namespace entries so that version numbers
// from a previous boot cannot alias this one's.
type SharedCache interface {
	Get(ctx context.Context, version uint64, userID uuid.UUID) ([]uuid.UUID, bool)
	Set(ctx context.Context, version uint64, userID uuid.UUID, roles []uuid.UUID)
}

// Resolver computes the effective role set for a principal: roles assigned
// directly, via group membership, and (when department inheritance is
// enabled) via the department ancestor chain. Resolution is a pure function
// of (userID, snapshot); results are cached per (userID, snapshotVersion)
// and old versions are evicted lazily by the LRU.
type Resolver struct {
	deptInheritance bool
	cache           *lruCache
	shared          SharedCache
	group           singleflight.Group
}

// NewResolver builds a Resolver. shared may be nil.
func NewResolver(deptInheritance bool, cacheSize int, shared SharedCache) *Resolver {
	return &Resolver{
		deptInheritance: deptInheritance,
		cache:           newLRUCache(cacheSize),
		shared:          shared,
	}
}

// EffectiveRoles returns the deduplicated, sorted role ids applicable to
// userID under the given snapshot.
func (r *Resolver) EffectiveRoles(ctx context.Context, userID uuid.UUID, snap Snapshot) ([]uuid.UUID, error) {
	if !snap.UserKnown(userID) {
		return nil, ErrPrincipalNotFound
	}
	// The local key carries the raw version: this cache dies with the
	// process, so its versions cannot alias an earlier boot's.
	key := fmt.Sprintf("erc:%d:%s", snap.Version(), userID)
	if roles, ok := r.cache.get(key); ok {
		return roles, nil
	}
	if r.shared != nil {
		if roles, ok := r.shared.Get(ctx, snap.Version(), userID); ok {
			r.cache.put(key, roles)
			return roles, nil
		}
	}
	v, err, _ := r.group.Do(key, func() (any, error) {
		roles := r.resolve(userID, snap)
		r.cache.put(key, roles)
		if r.shared != nil {
			r.shared.Set(ctx, snap.Version(), userID, roles)
		}
		return roles, nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]uuid.UUID), nil
}

func (r *Resolver) resolve(userID uuid.UUID, snap Snapshot) []uuid.UUID {
	set := make(map[uuid.UUID]struct{})
	collect := func(principal uuid.UUID) {
		for _, role := range snap.RolesForPrincipal(principal) {
			set[role] = struct{}{}
		}
	}
	collect(userID)
	for _, g := range snap.UserGroups(userID) {
		collect(g)
	}
	if r.deptInheritance {
		if dept, ok := snap.UserDepartment(userID); ok && dept != uuid.Nil {
			for _, d := range snap.DepartmentChain(dept) {
				collect(d)
			}
		}
	}
	out := make([]uuid.UUID, 0, len(set))
	for role := range set {
		out = append(out, role)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].String() < out[j].String() })
	return out
}

// SweepBelow drops local cache entries built against snapshot versions
// older than minVersion, called by the worker on rotation thresholds.
func (r *Resolver) SweepBelow(minVersion uint64) int {
	return r.cache.sweepBelow(minVersion)
}
