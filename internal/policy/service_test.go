package policy

import (
	"context"
	"log/slog"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/warrant-labs/sentinel/internal/audit"
)

type memoryPolicyRepo struct {
	insertPolicies int
	insertRoles    int
	updates        int
}

func (r *memoryPolicyRepo) InsertPolicy(ctx context.Context, p Policy, seq int) error {
	r.insertPolicies++
	return nil
}

func (r *memoryPolicyRepo) UpdatePolicy(ctx context.Context, p Policy, expectedVersion int64) error {
	r.updates++
	return nil
}

func (r *memoryPolicyRepo) InsertRole(ctx context.Context, role Role) error {
	r.insertRoles++
	return nil
}

func (r *memoryPolicyRepo) UpdateRole(ctx context.Context, role Role, expectedVersion int64) error {
	r.updates++
	return nil
}

type countingPublisher struct {
	version uint64
}

func (p *countingPublisher) Publish(ctx context.Context) uint64 {
	p.version++
	return p.version
}

type memoryAuditor struct {
	entries []audit.Entry
}

func (a *memoryAuditor) Append(ctx context.Context, e audit.Entry) (int64, error) {
	a.entries = append(a.entries, e)
	return int64(len(a.entries)), nil
}

func newPolicyService(t *testing.T) (*Service, *countingPublisher, *memoryAuditor) {
	t.Helper()
	pub := &countingPublisher{}
	auditor := &memoryAuditor{}
	svc := NewService(NewStore(), &memoryPolicyRepo{}, pub, auditor, slog.Default(), "admin", 0)
	return svc, pub, auditor
}

func TestCreatePolicyPublishesOneVersion(t *testing.T) {
	svc, pub, auditor := newPolicyService(t)
	ctx := context.Background()

	p, version, err := svc.CreatePolicy(ctx, CreatePolicyInput{
		Name:            "finance-read",
		ResourcePattern: "reports/finance/*",
		Actions:         []string{"Read", "Read", " "},
		Effect:          EffectAllow,
	})
	require.NoError(t, err)
	require.Equal(t, uint64(1), version)
	require.Equal(t, uint64(1), pub.version)
	require.Equal(t, StatusActive, p.Status)
	require.Equal(t, []string{"Read"}, p.Actions)
	require.Len(t, auditor.entries, 1)
	require.Equal(t, "admin:policy.create", auditor.entries[0].Action)
}

func TestCreatePolicyValidation(t *testing.T) {
	svc, _, _ := newPolicyService(t)
	ctx := context.Background()

	_, _, err := svc.CreatePolicy(ctx, CreatePolicyInput{Name: "", ResourcePattern: "a", Actions: []string{"Read"}, Effect: EffectAllow})
	require.ErrorIs(t, err, ErrValidation)
	_, _, err = svc.CreatePolicy(ctx, CreatePolicyInput{Name: "x", ResourcePattern: "a*b", Actions: []string{"Read"}, Effect: EffectAllow})
	require.ErrorIs(t, err, ErrValidation)
	_, _, err = svc.CreatePolicy(ctx, CreatePolicyInput{Name: "x", ResourcePattern: "a", Actions: nil, Effect: EffectAllow})
	require.ErrorIs(t, err, ErrValidation)
	_, _, err = svc.CreatePolicy(ctx, CreatePolicyInput{Name: "x", ResourcePattern: "a", Actions: []string{"Read"}, Effect: "Maybe"})
	require.ErrorIs(t, err, ErrValidation)
}

func TestUpdatePolicyVersionConflict(t *testing.T) {
	svc, _, _ := newPolicyService(t)
	ctx := context.Background()

	p, _, err := svc.CreatePolicy(ctx, CreatePolicyInput{Name: "x", ResourcePattern: "a", Actions: []string{"Read"}, Effect: EffectAllow})
	require.NoError(t, err)

	status := StatusInactive
	_, _, err = svc.UpdatePolicy(ctx, p.ID, UpdatePolicyInput{Status: &status, ExpectedVersion: 99})
	require.ErrorIs(t, err, ErrVersionConflict)

	updated, _, err := svc.UpdatePolicy(ctx, p.ID, UpdatePolicyInput{Status: &status, ExpectedVersion: 1})
	require.NoError(t, err)
	require.Equal(t, int64(2), updated.Version)
	require.Equal(t, StatusInactive, updated.Status)
}

func TestRoleLinksValidated(t *testing.T) {
	svc, _, _ := newPolicyService(t)
	ctx := context.Background()

	_, _, err := svc.CreateRole(ctx, CreateRoleInput{Name: "analyst", PolicyIDs: []uuid.UUID{uuid.New()}})
	require.ErrorIs(t, err, ErrValidation)

	p, _, err := svc.CreatePolicy(ctx, CreatePolicyInput{Name: "x", ResourcePattern: "a", Actions: []string{"Read"}, Effect: EffectAllow})
	require.NoError(t, err)
	role, _, err := svc.CreateRole(ctx, CreateRoleInput{Name: "analyst", PolicyIDs: []uuid.UUID{p.ID}})
	require.NoError(t, err)
	require.Equal(t, RoleCustom, role.Type)
	require.Equal(t, StatusActive, role.Status)
}

func TestPoliciesForRolesFiltersInactive(t *testing.T) {
	svc, _, _ := newPolicyService(t)
	ctx := context.Background()

	allow, _, err := svc.CreatePolicy(ctx, CreatePolicyInput{Name: "allow", ResourcePattern: "a", Actions: []string{"Read"}, Effect: EffectAllow})
	require.NoError(t, err)
	inactive, _, err := svc.CreatePolicy(ctx, CreatePolicyInput{Name: "off", ResourcePattern: "a", Actions: []string{"Read"}, Effect: EffectDeny, Status: StatusInactive})
	require.NoError(t, err)

	role, _, err := svc.CreateRole(ctx, CreateRoleInput{Name: "r", PolicyIDs: []uuid.UUID{allow.ID, inactive.ID}})
	require.NoError(t, err)

	got := svc.store.CurrentView().PoliciesForRoles([]uuid.UUID{role.ID})
	require.Len(t, got, 1)
	require.Equal(t, allow.ID, got[0].ID)

	off := StatusInactive
	_, _, err = svc.UpdateRole(ctx, role.ID, UpdateRoleInput{Status: &off, ExpectedVersion: 1})
	require.NoError(t, err)
	require.Empty(t, svc.store.CurrentView().PoliciesForRoles([]uuid.UUID{role.ID}))
}

func TestPolicyOrderIsStable(t *testing.T) {
	svc, _, _ := newPolicyService(t)
	ctx := context.Background()

	var ids []uuid.UUID
	for _, name := range []string{"first", "second", "third"} {
		p, _, err := svc.CreatePolicy(ctx, CreatePolicyInput{Name: name, ResourcePattern: "a", Actions: []string{"Read"}, Effect: EffectAllow})
		require.NoError(t, err)
		ids = append(ids, p.ID)
	}
	name := "second-renamed"
	_, _, err := svc.UpdatePolicy(ctx, ids[1], UpdatePolicyInput{Name: &name, ExpectedVersion: 1})
	require.NoError(t, err)

	listed := svc.ListPolicies()
	require.Len(t, listed, 3)
	for i, p := range listed {
		require.Equal(t, ids[i], p.ID)
	}
	require.Equal(t, "second-renamed", listed[1].Name)
}
