// Package directory is the authoritative store for users, groups and the
// department tree, including their structural edges.
package directory

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/warrant-labs/sentinel/internal/platform/httpx"
)

// UserStatus enumerates user lifecycle states. Users are never hard-deleted;
// deactivation preserves audit referential integrity.
type UserStatus string

const (
	UserActive   UserStatus = "active"
	UserInactive UserStatus = "inactive"
	UserPending  UserStatus = "pending"
)

// User is a directory principal.
type User struct {
	ID           uuid.UUID
	DisplayName  string
	Email        string
	DepartmentID uuid.UUID // uuid.Nil when unassigned
	Status       UserStatus
	Version      int64
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Group is a flat many-to-many collection of users.
type Group struct {
	ID        uuid.UUID
	Name      string
	Members   []uuid.UUID // sorted, deduplicated
	Version   int64
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Department is one node of the organisational tree.
type Department struct {
	ID        uuid.UUID
	Name      string
	ParentID  uuid.UUID // uuid.Nil for roots
	Version   int64
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Domain errors, mapped to HTTP status codes by httpx.RespondError.
var (
	ErrNotFound        = fmt.Errorf("directory: %w", httpx.ErrNotFound)
	ErrCycle           = fmt.Errorf("directory: department cycle: %w", httpx.ErrCycle)
	ErrVersionConflict = fmt.Errorf("directory: stale version: %w", httpx.ErrConflict)
	ErrDuplicate       = fmt.Errorf("directory: duplicate value: %w", httpx.ErrConflict)
	ErrValidation      = fmt.Errorf("directory: %w", httpx.ErrValidation)
)

// ValidStatusTransition reports whether a user may move between statuses.
// Pending is an entry state only; active and inactive toggle freely.
func ValidStatusTransition(from, to UserStatus) bool {
	if from == to {
		return true
	}
	switch from {
	case UserPending:
		return to == UserActive || to == UserInactive
	case UserActive:
		return to == UserInactive
	case UserInactive:
		return to == UserActive
	}
	return false
}
