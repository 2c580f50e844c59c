package policy

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/warrant-labs/sentinel/internal/audit"
)

// RepositoryPort defines the write-through persistence methods.
type RepositoryPort interface {
	InsertPolicy(ctx context.Context, p Policy, seq int) error
	UpdatePolicy(ctx context.Context, p Policy, expectedVersion int64) error
	InsertRole(ctx context.Context, role Role) error
	UpdateRole(ctx context.Context, role Role, expectedVersion int64) error
}

// Publisher rebuilds and atomically installs a new engine snapshot.
type Publisher interface {
	Publish(ctx context.Context) uint64
}

// AuditPort appends administrative mutation entries.
type AuditPort interface {
	Append(ctx context.Context, e audit.Entry) (int64, error)
}

// Service handles role and policy administration. Role names are not
// unique: two concurrent creations with the same name both succeed with
// distinct ids, each publishing its own snapshot version.
type Service struct {
	mu        sync.Mutex
	store     *Store
	repo      RepositoryPort
	publisher Publisher
	auditor   AuditPort
	logger    *slog.Logger
	actor     string
	nextSeq   int
}

// NewService builds a Service instance. seedCount is the number of policies
// loaded at startup, continuing the insertion sequence.
func NewService(store *Store, repo RepositoryPort, publisher Publisher, auditor AuditPort, logger *slog.Logger, actor string, seedCount int) *Service {
	return &Service{store: store, repo: repo, publisher: publisher, auditor: auditor, logger: logger, actor: actor, nextSeq: seedCount}
}

// CreatePolicyInput carries a new policy request.
type CreatePolicyInput struct {
	Name            string
	ResourcePattern string
	Actions         []string
	Effect          Effect
	Status          Status
}

// CreatePolicy validates and adds a policy.
func (s *Service) CreatePolicy(ctx context.Context, in CreatePolicyInput) (Policy, uint64, error) {
	in.Name = strings.TrimSpace(in.Name)
	if in.Name == "" {
		return Policy{}, 0, fmt.Errorf("%w: policy name required", ErrValidation)
	}
	if err := ValidatePattern(in.ResourcePattern); err != nil {
		return Policy{}, 0, err
	}
	if len(in.Actions) == 0 {
		return Policy{}, 0, fmt.Errorf("%w: at least one action required", ErrValidation)
	}
	if in.Effect != EffectAllow && in.Effect != EffectDeny {
		return Policy{}, 0, fmt.Errorf("%w: effect must be Allow or Deny", ErrValidation)
	}
	if in.Status == "" {
		in.Status = StatusActive
	}
	if in.Status != StatusActive && in.Status != StatusInactive {
		return Policy{}, 0, fmt.Errorf("%w: unknown status %q", ErrValidation, in.Status)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC()
	p := Policy{
		ID:              uuid.New(),
		Name:            in.Name,
		ResourcePattern: in.ResourcePattern,
		Actions:         normalizeActions(in.Actions),
		Effect:          in.Effect,
		Status:          in.Status,
		Version:         1,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if err := s.repo.InsertPolicy(ctx, p, s.nextSeq); err != nil {
		return Policy{}, 0, err
	}
	if err := s.store.AddPolicy(p); err != nil {
		return Policy{}, 0, err
	}
	s.nextSeq++
	version := s.commit(ctx, "admin:policy.create", p.ID.String())
	return p, version, nil
}

// UpdatePolicyInput patches a policy under optimistic concurrency.
type UpdatePolicyInput struct {
	Name            *string
	ResourcePattern *string
	Actions         []string
	Effect          *Effect
	Status          *Status
	ExpectedVersion int64
}

// UpdatePolicy applies a policy mutation.
func (s *Service) UpdatePolicy(ctx context.Context, id uuid.UUID, in UpdatePolicyInput) (Policy, uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.store.CurrentView().Policy(id)
	if !ok {
		return Policy{}, 0, ErrNotFound
	}
	if p.Version != in.ExpectedVersion {
		return Policy{}, 0, ErrVersionConflict
	}
	if in.Name != nil {
		name := strings.TrimSpace(*in.Name)
		if name == "" {
			return Policy{}, 0, fmt.Errorf("%w: policy name required", ErrValidation)
		}
		p.Name = name
	}
	if in.ResourcePattern != nil {
		if err := ValidatePattern(*in.ResourcePattern); err != nil {
			return Policy{}, 0, err
		}
		p.ResourcePattern = *in.ResourcePattern
	}
	if in.Actions != nil {
		if len(in.Actions) == 0 {
			return Policy{}, 0, fmt.Errorf("%w: at least one action required", ErrValidation)
		}
		p.Actions = normalizeActions(in.Actions)
	}
	if in.Effect != nil {
		if *in.Effect != EffectAllow && *in.Effect != EffectDeny {
			return Policy{}, 0, fmt.Errorf("%w: effect must be Allow or Deny", ErrValidation)
		}
		p.Effect = *in.Effect
	}
	if in.Status != nil {
		if *in.Status != StatusActive && *in.Status != StatusInactive {
			return Policy{}, 0, fmt.Errorf("%w: unknown status %q", ErrValidation, *in.Status)
		}
		p.Status = *in.Status
	}
	p.Version++
	p.UpdatedAt = time.Now().UTC()
	if err := s.repo.UpdatePolicy(ctx, p, in.ExpectedVersion); err != nil {
		return Policy{}, 0, err
	}
	if err := s.store.PutPolicy(p); err != nil {
		return Policy{}, 0, err
	}
	version := s.commit(ctx, "admin:policy.update", p.ID.String())
	return p, version, nil
}

// CreateRoleInput carries a new role request.
type CreateRoleInput struct {
	Name      string
	Type      RoleType
	Status    Status
	PolicyIDs []uuid.UUID
}

// CreateRole adds a role with optional policy links.
func (s *Service) CreateRole(ctx context.Context, in CreateRoleInput) (Role, uint64, error) {
	in.Name = strings.TrimSpace(in.Name)
	if in.Name == "" {
		return Role{}, 0, fmt.Errorf("%w: role name required", ErrValidation)
	}
	if in.Type == "" {
		in.Type = RoleCustom
	}
	if in.Type != RoleSystem && in.Type != RoleCustom {
		return Role{}, 0, fmt.Errorf("%w: unknown role type %q", ErrValidation, in.Type)
	}
	if in.Status == "" {
		in.Status = StatusActive
	}
	if in.Status != StatusActive && in.Status != StatusInactive {
		return Role{}, 0, fmt.Errorf("%w: unknown status %q", ErrValidation, in.Status)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	view := s.store.CurrentView()
	for _, pid := range in.PolicyIDs {
		if _, ok := view.Policy(pid); !ok {
			return Role{}, 0, fmt.Errorf("%w: unknown policy %s", ErrValidation, pid)
		}
	}
	now := time.Now().UTC()
	role := Role{
		ID:        uuid.New(),
		Name:      in.Name,
		Type:      in.Type,
		Status:    in.Status,
		PolicyIDs: append([]uuid.UUID(nil), in.PolicyIDs...),
		Version:   1,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.repo.InsertRole(ctx, role); err != nil {
		return Role{}, 0, err
	}
	if err := s.store.AddRole(role); err != nil {
		return Role{}, 0, err
	}
	version := s.commit(ctx, "admin:role.create", role.ID.String())
	return role, version, nil
}

// UpdateRoleInput patches a role under optimistic concurrency.
type UpdateRoleInput struct {
	Name            *string
	Status          *Status
	PolicyIDs       []uuid.UUID
	ExpectedVersion int64
}

// UpdateRole applies a role mutation.
func (s *Service) UpdateRole(ctx context.Context, id uuid.UUID, in UpdateRoleInput) (Role, uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	view := s.store.CurrentView()
	role, ok := view.Role(id)
	if !ok {
		return Role{}, 0, ErrNotFound
	}
	if role.Version != in.ExpectedVersion {
		return Role{}, 0, ErrVersionConflict
	}
	if in.Name != nil {
		name := strings.TrimSpace(*in.Name)
		if name == "" {
			return Role{}, 0, fmt.Errorf("%w: role name required", ErrValidation)
		}
		role.Name = name
	}
	if in.Status != nil {
		if *in.Status != StatusActive && *in.Status != StatusInactive {
			return Role{}, 0, fmt.Errorf("%w: unknown status %q", ErrValidation, *in.Status)
		}
		role.Status = *in.Status
	}
	if in.PolicyIDs != nil {
		for _, pid := range in.PolicyIDs {
			if _, ok := view.Policy(pid); !ok {
				return Role{}, 0, fmt.Errorf("%w: unknown policy %s", ErrValidation, pid)
			}
		}
		role.PolicyIDs = append([]uuid.UUID(nil), in.PolicyIDs...)
	}
	role.Version++
	role.UpdatedAt = time.Now().UTC()
	if err := s.repo.UpdateRole(ctx, role, in.ExpectedVersion); err != nil {
		return Role{}, 0, err
	}
	if err := s.store.PutRole(role); err != nil {
		return Role{}, 0, err
	}
	version := s.commit(ctx, "admin:role.update", role.ID.String())
	return role, version, nil
}

// ListRoles returns all roles ordered by name.
func (s *Service) ListRoles() []Role {
	return s.store.CurrentView().ListRoles()
}

// ListPolicies returns all policies in insertion order.
func (s *Service) ListPolicies() []Policy {
	return s.store.CurrentView().ListPolicies()
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

func normalizeActions(actions []string) []string {
	seen := make(map[string]struct{}, len(actions))
	out := make([]string, 0, len(actions))
	for _, a := range actions {
		a = strings.TrimSpace(a)
		if a == "" {
			continue
		}
		if _, dup := seen[a]; dup {
			continue
		}
		seen[a] = struct{}{}
		out = append(out, a)
	}
	return out
}
