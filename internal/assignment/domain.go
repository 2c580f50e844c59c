// Package assignment stores principal-to-role edges and resolves the
// effective role set for a principal against an immutable snapshot.
package assignment

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/warrant-labs/sentinel/internal/platform/httpx"
)

// PrincipalType identifies what an assignment's principal ref points at.
type PrincipalType string

const (
	PrincipalUser       PrincipalType = "user"
	PrincipalGroup      PrincipalType = "group"
	PrincipalDepartment PrincipalType = "department"
)

// Assignment ties a role to a principal. It is the only mutable edge set
// driving effective permissions.
type Assignment struct {
	PrincipalID   uuid.UUID
	PrincipalType PrincipalType
	RoleID        uuid.UUID
	CreatedAt     time.Time
}

// Domain errors, mapped to HTTP status codes by httpx.RespondError.
var (
	ErrNotFound   = fmt.Errorf("assignment: %w", httpx.ErrNotFound)
	ErrValidation = fmt.Errorf("assignment: %w", httpx.ErrValidation)
)
