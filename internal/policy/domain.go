// Package policy stores policies and role links and performs
// resource-pattern matching for the decision evaluator.
package policy

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/warrant-labs/sentinel/internal/platform/httpx"
)

// Effect is the outcome a matching policy contributes.
type Effect string

const (
	EffectAllow Effect = "Allow"
	EffectDeny  Effect = "Deny"
)

// Status enumerates lifecycle states shared by roles and policies.
type Status string

const (
	StatusActive   Status = "active"
	StatusInactive Status = "inactive"
)

// RoleType distinguishes built-in from operator-defined roles.
type RoleType string

const (
	RoleSystem RoleType = "system"
	RoleCustom RoleType = "custom"
)

// ActionAll is the wildcard action.
const ActionAll = "All"

// Policy is a structured allow/deny record, not a parsed expression tree.
type Policy struct {
	ID              uuid.UUID
	Name            string
	ResourcePattern string
	Actions         []string
	Effect          Effect
	Status          Status
	Version         int64
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// Role groups policies and is the assignment target for principals.
type Role struct {
	ID        uuid.UUID
	Name      string
	Type      RoleType
	Status    Status
	PolicyIDs []uuid.UUID
	Version   int64
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Domain errors, mapped to HTTP status codes by httpx.RespondError.
var (
	ErrNotFound        = fmt.Errorf("policy: %w", httpx.ErrNotFound)
	ErrVersionConflict = fmt.Errorf("policy: stale version: %w", httpx.ErrConflict)
	ErrDuplicate       = fmt.Errorf("policy: duplicate name: %w", httpx.ErrConflict)
	ErrValidation      = fmt.Errorf("policy: %w", httpx.ErrValidation)
)

// ActionAllowed reports whether the policy covers the action, either
// explicitly or through the All wildcard.
func ActionAllowed(p Policy, action string) bool {
	for _, a := range p.Actions {
		if a == ActionAll || a == action {
			return true
		}
	}
	return false
}
