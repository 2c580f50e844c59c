// Package engine publishes immutable, versioned snapshots of the
// authorization state and evaluates decisions against them.
package engine

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/warrant-labs/sentinel/internal/assignment"
	"github.com/warrant-labs/sentinel/internal/directory"
	"github.com/warrant-labs/sentinel/internal/observability"
	"github.com/warrant-labs/sentinel/internal/policy"
)

// Snapshot is an immutable, versioned view over the directory, policy and
// assignment stores. Readers holding an older snapshot keep a consistent,
// stale-but-valid view until they re-fetch Current.
type Snapshot struct {
	versionNum  uint64
	directory   *directory.View
	policies    *policy.View
	assignments *assignment.View
}

// Version returns the monotonically increasing snapshot version.
func (s *Snapshot) Version() uint64 {
	return s.versionNum
}

// UserKnown reports whether the user exists in this snapshot.
func (s *Snapshot) UserKnown(userID uuid.UUID) bool {
	_, ok := s.directory.User(userID)
	return ok
}

// UserGroups returns group ids the user belongs to.
func (s *Snapshot) UserGroups(userID uuid.UUID) []uuid.UUID {
	return s.directory.UserGroups(userID)
}

// UserDepartment returns the user's department id; ok is false for an
// unknown user.
func (s *Snapshot) UserDepartment(userID uuid.UUID) (uuid.UUID, bool) {
	u, ok := s.directory.User(userID)
	if !ok {
		return uuid.Nil, false
	}
	return u.DepartmentID, true
}

// DepartmentChain returns ancestors plus the department itself, root first.
func (s *Snapshot) DepartmentChain(deptID uuid.UUID) []uuid.UUID {
	return s.directory.DepartmentChain(deptID)
}

// RolesForPrincipal returns role ids directly assigned to a principal.
func (s *Snapshot) RolesForPrincipal(principalID uuid.UUID) []uuid.UUID {
	return s.assignments.RolesForPrincipal(principalID)
}

// PoliciesForRoles returns active policies linked from active roles, in
// stable insertion order.
func (s *Snapshot) PoliciesForRoles(roleIDs []uuid.UUID) []policy.Policy {
	return s.policies.PoliciesForRoles(roleIDs)
}

var _ assignment.Snapshot = (*Snapshot)(nil)

// Manager builds and atomically installs snapshots. The current snapshot
// pointer is the only resource shared between the write and read paths;
// Current is lock-free.
type Manager struct {
	mu      sync.Mutex
	version uint64
	current atomic.Pointer[Snapshot]

	directory   *directory.Store
	policies    *policy.Store
	assignments *assignment.Store
	metrics     *observability.Metrics
}

// NewManager wires the stores and publishes the initial snapshot as
// version 1.
func NewManager(dir *directory.Store, pol *policy.Store, asg *assignment.Store, metrics *observability.Metrics) *Manager {
	m := &Manager{directory: dir, policies: pol, assignments: asg, metrics: metrics}
	m.Publish(context.Background())
	return m
}

// Publish builds a new immutable snapshot from the stores' current views
// and swaps the current pointer. Each call produces exactly one new,
// strictly increasing version.
func (m *Manager) Publish(_ context.Context) uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.version++
	snap := &Snapshot{
		versionNum:  m.version,
		directory:   m.directory.CurrentView(),
		policies:    m.policies.CurrentView(),
		assignments: m.assignments.CurrentView(),
	}
	m.current.Store(snap)
	m.metrics.SetSnapshotVersion(m.version)
	return m.version
}

// Current returns the latest published snapshot without locking.
func (m *Manager) Current() *Snapshot {
	return m.current.Load()
}
