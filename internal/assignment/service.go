package assignment

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/warrant-labs/sentinel/internal/audit"
)

// RepositoryPort defines the write-through persistence methods.
type RepositoryPort interface {
	InsertAssignments(ctx context.Context, assignments []Assignment) error
	DeleteAssignment(ctx context.Context, principalID, roleID uuid.UUID) error
}

// DirectoryPort answers principal existence checks.
type DirectoryPort interface {
	UserExists(id uuid.UUID) bool
	GroupExists(id uuid.UUID) bool
	DepartmentExists(id uuid.UUID) bool
}

// RolePort answers role existence checks.
type RolePort interface {
	RoleExists(id uuid.UUID) bool
}

// Publisher rebuilds and atomically installs a new engine snapshot.
type Publisher interface {
	Publish(ctx context.Context) uint64
}

// AuditPort appends administrative mutation entries.
type AuditPort interface {
	Append(ctx context.Context, e audit.Entry) (int64, error)
}

// Service handles assignment administration.
type Service struct {
	mu        sync.Mutex
	store     *Store
	repo      RepositoryPort
	directory DirectoryPort
	roles     RolePort
	publisher Publisher
	auditor   AuditPort
	logger    *slog.Logger
	actor     string
}

// NewService builds a Service instance.
func NewService(store *Store, repo RepositoryPort, directory DirectoryPort, roles RolePort, publisher Publisher, auditor AuditPort, logger *slog.Logger, actor string) *Service {
	return &Service{store: store, repo: repo, directory: directory, roles: roles, publisher: publisher, auditor: auditor, logger: logger, actor: actor}
}

// Assign grants roleIDs to the principal. Existing edges are idempotently
// kept; the whole grant publishes one snapshot version.
func (s *Service) Assign(ctx context.Context, principalID uuid.UUID, principalType PrincipalType, roleIDs []uuid.UUID) (uint64, error) {
	if len(roleIDs) == 0 {
		return 0, fmt.Errorf("%w: at least one role required", ErrValidation)
	}
	if err := s.checkPrincipal(principalID, principalType); err != nil {
		return 0, err
	}
	for _, rid := range roleIDs {
		if !s.roles.RoleExists(rid) {
			return 0, fmt.Errorf("%w: unknown role %s", ErrValidation, rid)
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC()
	assignments := make([]Assignment, 0, len(roleIDs))
	for _, rid := range roleIDs {
		assignments = append(assignments, Assignment{
			PrincipalID:   principalID,
			PrincipalType: principalType,
			RoleID:        rid,
			CreatedAt:     now,
		})
	}
	if err := s.repo.InsertAssignments(ctx, assignments); err != nil {
		return 0, err
	}
	s.store.Add(assignments)
	return s.commit(ctx, "admin:assignment.create", principalID.String()), nil
}

// Revoke removes one principal-to-role edge.
func (s *Service) Revoke(ctx context.Context, principalID, roleID uuid.UUID) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.repo.DeleteAssignment(ctx, principalID, roleID); err != nil {
		return 0, err
	}
	if !s.store.Remove(principalID, roleID) {
		return 0, ErrNotFound
	}
	return s.commit(ctx, "admin:assignment.revoke", principalID.String()), nil
}

func (s *Service) checkPrincipal(id uuid.UUID, t PrincipalType) error {
	switch t {
	case PrincipalUser:
		if !s.directory.UserExists(id) {
			return fmt.Errorf("%w: unknown user %s", ErrValidation, id)
		}
	case PrincipalGroup:
		if !s.directory.GroupExists(id) {
			return fmt.Errorf("%w: unknown group %s", ErrValidation, id)
		}
	case PrincipalDepartment:
		if !s.directory.DepartmentExists(id) {
			return fmt.Errorf("%w: unknown department %s", ErrValidation, id)
		}
	default:
		return fmt.Errorf("%w: unknown principal type %q", ErrValidation, t)
	}
	return nil
}

func (s *Service) commit(ctx context.Context, action, entityID string) uint64 {
	if s.auditor != nil {
		if _, err := s.auditor.Append(ctx, audit.Entry{
			ActorPrincipal: s.actor,
			Action:         action,
			Resource:       entityID,
		}); err != nil {
			s.logger.Error("admin audit append", slog.String("action", action), slog.Any("error", err))
		}
	}
	return s.publisher.Publish(ctx)
}
