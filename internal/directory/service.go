package directory

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/warrant-labs/sentinel/internal/audit"
	"github.com/warrant-labs/sentinel/internal/platform/httpx"
)

// RepositoryPort defines the write-through persistence methods.
type RepositoryPort interface {
	InsertUser(ctx context.Context, u User) error
	UpdateUser(ctx context.Context, u User, expectedVersion int64) error
	InsertGroup(ctx context.Context, g Group) error
	UpdateGroupMembers(ctx context.Context, g Group, expectedVersion int64) error
	InsertDepartment(ctx context.Context, d Department) error
	UpdateDepartmentParent(ctx context.Context, d Department, expectedVersion int64) error
}

// Publisher rebuilds and atomically installs a new engine snapshot.
type Publisher interface {
	Publish(ctx context.Context) uint64
}

// AuditPort appends administrative mutation entries.
type AuditPort interface {
	Append(ctx context.Context, e audit.Entry) (int64, error)
}

// Service handles directory administration. Mutations are serialized by a
// single aggregate mutex; each successful mutation publishes exactly one
// snapshot version.
type Service struct {
	mu        sync.Mutex
	store     *Store
	repo      RepositoryPort
	publisher Publisher
	auditor   AuditPort
	logger    *slog.Logger
	actor     string
}

// NewService builds a Service instance.
func NewService(store *Store, repo RepositoryPort, publisher Publisher, auditor AuditPort, logger *slog.Logger, actor string) *Service {
	return &Service{store: store, repo: repo, publisher: publisher, auditor: auditor, logger: logger, actor: actor}
}

// CreateUserInput carries a new user request.
type CreateUserInput struct {
	DisplayName  string
	Email        string
	DepartmentID uuid.UUID
	Status       UserStatus
}

// CreateUser adds a user and returns it with the new snapshot version.
func (s *Service) CreateUser(ctx context.Context, in CreateUserInput) (User, uint64, error) {
	in.DisplayName = strings.TrimSpace(in.DisplayName)
	in.Email = strings.TrimSpace(in.Email)
	if in.DisplayName == "" || in.Email == "" {
		return User{}, 0, fmt.Errorf("%w: display name and email required", ErrValidation)
	}
	if in.Status == "" {
		in.Status = UserPending
	}
	if in.Status != UserActive && in.Status != UserInactive && in.Status != UserPending {
		return User{}, 0, fmt.Errorf("%w: unknown status %q", ErrValidation, in.Status)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC()
	u := User{
		ID:           uuid.New(),
		DisplayName:  in.DisplayName,
		Email:        in.Email,
		DepartmentID: in.DepartmentID,
		Status:       in.Status,
		Version:      1,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if u.DepartmentID != uuid.Nil {
		if _, ok := s.store.CurrentView().Department(u.DepartmentID); !ok {
			return User{}, 0, fmt.Errorf("%w: unknown department", ErrValidation)
		}
	}
	if err := s.repo.InsertUser(ctx, u); err != nil {
		return User{}, 0, err
	}
	if err := s.store.AddUser(u); err != nil {
		return User{}, 0, err
	}
	version := s.commit(ctx, "admin:user.create", u.ID.String())
	return u, version, nil
}

// UpdateUserInput patches status or department. ExpectedVersion implements
// optimistic concurrency; a stale version yields ErrVersionConflict.
type UpdateUserInput struct {
	Status          *UserStatus
	DepartmentID    *uuid.UUID
	ExpectedVersion int64
}

// UpdateUser applies a status or department change.
func (s *Service) UpdateUser(ctx context.Context, id uuid.UUID, in UpdateUserInput) (User, uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.store.CurrentView().User(id)
	if !ok {
		return User{}, 0, ErrNotFound
	}
	if u.Version != in.ExpectedVersion {
		return User{}, 0, ErrVersionConflict
	}
	if in.Status != nil {
		if !ValidStatusTransition(u.Status, *in.Status) {
			return User{}, 0, fmt.Errorf("%w: invalid status transition %s -> %s", ErrValidation, u.Status, *in.Status)
		}
		u.Status = *in.Status
	}
	if in.DepartmentID != nil {
		if *in.DepartmentID != uuid.Nil {
			if _, ok := s.store.CurrentView().Department(*in.DepartmentID); !ok {
				return User{}, 0, fmt.Errorf("%w: unknown department", ErrValidation)
			}
		}
		u.DepartmentID = *in.DepartmentID
	}
	u.Version++
	u.UpdatedAt = time.Now().UTC()
	if err := s.repo.UpdateUser(ctx, u, in.ExpectedVersion); err != nil {
		return User{}, 0, err
	}
	if err := s.store.PutUser(u); err != nil {
		return User{}, 0, err
	}
	version := s.commit(ctx, "admin:user.update", u.ID.String())
	return u, version, nil
}

// CreateGroup adds a group with an optional initial member set.
func (s *Service) CreateGroup(ctx context.Context, name string, members []uuid.UUID) (Group, uint64, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return Group{}, 0, fmt.Errorf("%w: group name required", ErrValidation)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC()
	g := Group{ID: uuid.New(), Name: name, Members: members, Version: 1, CreatedAt: now, UpdatedAt: now}
	g.Members = normalizeIDSet(g.Members)
	view := s.store.CurrentView()
	for _, m := range g.Members {
		if _, ok := view.User(m); !ok {
			return Group{}, 0, fmt.Errorf("%w: unknown member %s", ErrValidation, m)
		}
	}
	if err := s.repo.InsertGroup(ctx, g); err != nil {
		return Group{}, 0, err
	}
	if err := s.store.AddGroup(g); err != nil {
		return Group{}, 0, err
	}
	version := s.commit(ctx, "admin:group.create", g.ID.String())
	return g, version, nil
}

// SetGroupMembers replaces the member set of a group.
func (s *Service) SetGroupMembers(ctx context.Context, id uuid.UUID, members []uuid.UUID, expectedVersion int64) (Group, uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	view := s.store.CurrentView()
	g, ok := view.Group(id)
	if !ok {
		return Group{}, 0, ErrNotFound
	}
	if g.Version != expectedVersion {
		return Group{}, 0, ErrVersionConflict
	}
	g.Members = normalizeIDSet(members)
	for _, m := range g.Members {
		if _, ok := view.User(m); !ok {
			return Group{}, 0, fmt.Errorf("%w: unknown member %s", ErrValidation, m)
		}
	}
	g.Version++
	g.UpdatedAt = time.Now().UTC()
	if err := s.repo.UpdateGroupMembers(ctx, g, expectedVersion); err != nil {
		return Group{}, 0, err
	}
	if err := s.store.PutGroup(g); err != nil {
		return Group{}, 0, err
	}
	version := s.commit(ctx, "admin:group.members", g.ID.String())
	return g, version, nil
}

// CreateDepartment adds a tree node; parent uuid.Nil creates a root.
func (s *Service) CreateDepartment(ctx context.Context, name string, parent uuid.UUID) (Department, uint64, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return Department{}, 0, fmt.Errorf("%w: department name required", ErrValidation)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if parent != uuid.Nil {
		if _, ok := s.store.CurrentView().Department(parent); !ok {
			return Department{}, 0, fmt.Errorf("%w: unknown parent department", ErrValidation)
		}
	}
	now := time.Now().UTC()
	d := Department{ID: uuid.New(), Name: name, ParentID: parent, Version: 1, CreatedAt: now, UpdatedAt: now}
	if err := s.repo.InsertDepartment(ctx, d); err != nil {
		return Department{}, 0, err
	}
	if err := s.store.AddDepartment(d); err != nil {
		return Department{}, 0, err
	}
	version := s.commit(ctx, "admin:department.create", d.ID.String())
	return d, version, nil
}

// ReparentDepartment moves a department under a new parent. A move into the
// department's own descendant set (or itself) fails with ErrCycle; nothing
// is persisted or published in that case.
func (s *Service) ReparentDepartment(ctx context.Context, id, newParent uuid.UUID, expectedVersion int64) (Department, uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	view := s.store.CurrentView()
	d, ok := view.Department(id)
	if !ok {
		return Department{}, 0, ErrNotFound
	}
	if d.Version != expectedVersion {
		return Department{}, 0, ErrVersionConflict
	}
	if newParent != uuid.Nil {
		if _, ok := view.Department(newParent); !ok {
			return Department{}, 0, fmt.Errorf("%w: unknown parent department", ErrValidation)
		}
	}
	if s.store.WouldCycle(id, newParent) {
		return Department{}, 0, ErrCycle
	}
	d.ParentID = newParent
	d.Version++
	d.UpdatedAt = time.Now().UTC()
	if err := s.repo.UpdateDepartmentParent(ctx, d, expectedVersion); err != nil {
		return Department{}, 0, err
	}
	if err := s.store.ReparentDepartment(id, newParent, d.Version); err != nil {
		return Department{}, 0, err
	}
	version := s.commit(ctx, "admin:department.reparent", d.ID.String())
	return d, version, nil
}

// GetUser returns a user by id.
func (s *Service) GetUser(id uuid.UUID) (User, error) {
	u, ok := s.store.CurrentView().User(id)
	if !ok {
		return User{}, ErrNotFound
	}
	return u, nil
}

// ListUsers returns one page of users ordered by email.
func (s *Service) ListUsers(page, perPage int) ([]User, httpx.Pagination) {
	all := s.store.CurrentView().ListUsers()
	p := httpx.NewPagination(page, perPage, len(all))
	start := (p.Page - 1) * p.PerPage
	if start >= len(all) {
		return []User{}, p
	}
	end := start + p.PerPage
	if end > len(all) {
		end = len(all)
	}
	return all[start:end], p
}

// Ancestors returns the ancestor departments of id, root first.
func (s *Service) Ancestors(id uuid.UUID) ([]Department, error) {
	view := s.store.CurrentView()
	if _, ok := view.Department(id); !ok {
		return nil, ErrNotFound
	}
	chain := view.Ancestors(id)
	out := make([]Department, 0, len(chain))
	for _, a := range chain {
		if d, ok := view.Department(a); ok {
			out = append(out, d)
		}
	}
	return out, nil
}

// commit records the admin mutation in the audit log (best effort: the
// mutation is already durable) and publishes a new snapshot version.
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
