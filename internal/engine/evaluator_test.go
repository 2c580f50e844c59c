package engine

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/warrant-labs/sentinel/internal/assignment"
	"github.com/warrant-labs/sentinel/internal/audit"
	"github.com/warrant-labs/sentinel/internal/directory"
	"github.com/warrant-labs/sentinel/internal/platform/httpx"
	"github.com/warrant-labs/sentinel/internal/policy"
)

type memoryAuditor struct {
	mu      sync.Mutex
	entries []audit.Entry
	fail    error
}

func (a *memoryAuditor) Append(ctx context.Context, e audit.Entry) (int64, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.fail != nil {
		return 0, a.fail
	}
	e.Seq = int64(len(a.entries) + 1)
	a.entries = append(a.entries, e)
	return e.Seq, nil
}

func (a *memoryAuditor) all() []audit.Entry {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]audit.Entry(nil), a.entries...)
}

// fixture builds a small working directory: u1 in group g1, g1 holds
// role r1, r1 links an allow on data-lake/* and a deny on
// data-lake/secret/*.
type fixture struct {
	manager   *Manager
	evaluator *Evaluator
	auditor   *memoryAuditor
	user      uuid.UUID
	allowID   uuid.UUID
	denyID    uuid.UUID
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	user := uuid.New()
	group := uuid.New()
	role := uuid.New()
	allow := policy.Policy{
		ID:              uuid.New(),
		Name:            "lake-read",
		ResourcePattern: "data-lake/*",
		Actions:         []string{"Read"},
		Effect:          policy.EffectAllow,
		Status:          policy.StatusActive,
	}
	deny := policy.Policy{
		ID:              uuid.New(),
		Name:            "lake-secret",
		ResourcePattern: "data-lake/secret/*",
		Actions:         []string{policy.ActionAll},
		Effect:          policy.EffectDeny,
		Status:          policy.StatusActive,
	}

	dirStore := directory.NewStore()
	require.NoError(t, dirStore.Seed(
		[]directory.User{{ID: user, DisplayName: "U1", Email: "u1@example.com", Status: directory.UserActive}},
		[]directory.Group{{ID: group, Name: "g1", Members: []uuid.UUID{user}}},
		nil,
	))
	polStore := policy.NewStore()
	require.NoError(t, polStore.Seed(
		[]policy.Policy{allow, deny},
		[]policy.Role{{ID: role, Name: "r1", Status: policy.StatusActive, PolicyIDs: []uuid.UUID{allow.ID, deny.ID}}},
	))
	asgStore := assignment.NewStore()
	asgStore.Seed([]assignment.Assignment{{PrincipalID: group, PrincipalType: assignment.PrincipalGroup, RoleID: role}})

	manager := NewManager(dirStore, polStore, asgStore, nil)
	auditor := &memoryAuditor{}
	resolver := assignment.NewResolver(true, 64, nil)
	evaluator := NewEvaluator(manager, resolver, auditor, nil, slog.Default())

	return &fixture{
		manager:   manager,
		evaluator: evaluator,
		auditor:   auditor,
		user:      user,
		allowID:   allow.ID,
		denyID:    deny.ID,
	}
}

func TestAuthorizeAllowViaGroup(t *testing.T) {
	f := newFixture(t)

	result, err := f.evaluator.Authorize(context.Background(), Request{
		Principal: f.user.String(),
		Resource:  "data-lake/reports/q1.csv",
		Action:    "Read",
	})
	require.NoError(t, err)
	require.Equal(t, DecisionAllow, result.Decision)
	require.Equal(t, []uuid.UUID{f.allowID}, result.MatchedPolicyIDs)
	require.Empty(t, result.Reason)
	require.Equal(t, f.manager.Current().Version(), result.SnapshotVersion)
}

func TestAuthorizeDenyOverridesAllow(t *testing.T) {
	f := newFixture(t)

	result, err := f.evaluator.Authorize(context.Background(), Request{
		Principal: f.user.String(),
		Resource:  "data-lake/secret/x",
		Action:    "Read",
	})
	require.NoError(t, err)
	require.Equal(t, DecisionDeny, result.Decision)
	require.Equal(t, []uuid.UUID{f.denyID}, result.MatchedPolicyIDs)
}

func TestAuthorizeFailClosed(t *testing.T) {
	f := newFixture(t)

	result, err := f.evaluator.Authorize(context.Background(), Request{
		Principal: f.user.String(),
		Resource:  "unrelated/path",
		Action:    "Read",
	})
	require.NoError(t, err)
	require.Equal(t, DecisionDeny, result.Decision)
	require.Equal(t, ReasonNoMatchingPolicy, result.Reason)
	require.Empty(t, result.MatchedPolicyIDs)
}

func TestAuthorizeUnknownPrincipal(t *testing.T) {
	f := newFixture(t)

	for _, principal := range []string{uuid.NewString(), "not-a-uuid"} {
		result, err := f.evaluator.Authorize(context.Background(), Request{
			Principal: principal,
			Resource:  "data-lake/reports/q1.csv",
			Action:    "Read",
		})
		require.NoError(t, err)
		require.Equal(t, DecisionIndeterminate, result.Decision)
		require.Equal(t, ReasonPrincipalNotFound, result.Reason)
	}
	// Indeterminate outcomes are still audited.
	require.Len(t, f.auditor.all(), 2)
}

func TestAuthorizeMissingResourceOrAction(t *testing.T) {
	f := newFixture(t)

	result, err := f.evaluator.Authorize(context.Background(), Request{Principal: f.user.String(), Action: "Read"})
	require.NoError(t, err)
	require.Equal(t, DecisionIndeterminate, result.Decision)
	require.Equal(t, ReasonResourceUnspecified, result.Reason)

	result, err = f.evaluator.Authorize(context.Background(), Request{Principal: f.user.String(), Resource: "x"})
	require.NoError(t, err)
	require.Equal(t, DecisionIndeterminate, result.Decision)
	require.Equal(t, ReasonResourceUnspecified, result.Reason)
}

func TestAuthorizeExpiredContext(t *testing.T) {
	f := newFixture(t)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	result, err := f.evaluator.Authorize(ctx, Request{
		Principal: f.user.String(),
		Resource:  "data-lake/reports/q1.csv",
		Action:    "Read",
	})
	require.NoError(t, err)
	require.Equal(t, DecisionIndeterminate, result.Decision)
	require.Equal(t, ReasonTimeout, result.Reason)
	require.Len(t, f.auditor.all(), 1)
}

func TestAuthorizeAuditFailureFailsCall(t *testing.T) {
	f := newFixture(t)
	f.auditor.fail = httpx.ErrAuditWrite

	_, err := f.evaluator.Authorize(context.Background(), Request{
		Principal: f.user.String(),
		Resource:  "data-lake/reports/q1.csv",
		Action:    "Read",
	})
	require.Error(t, err)
	require.True(t, errors.Is(err, httpx.ErrAuditWrite))
}

func TestAuthorizeIndeterminateAuditFailureFailsCall(t *testing.T) {
	f := newFixture(t)
	f.auditor.fail = httpx.ErrAuditWrite

	// Unwritable trails fail the call for unknown-principal and
	// missing-resource outcomes too, not just full decisions.
	for _, req := range []Request{
		{Principal: "not-a-uuid", Resource: "data-lake/reports/q1.csv", Action: "Read"},
		{Principal: uuid.NewString(), Resource: "data-lake/reports/q1.csv", Action: "Read"},
		{Principal: f.user.String(), Action: "Read"},
	} {
		_, err := f.evaluator.Authorize(context.Background(), req)
		require.ErrorIs(t, err, httpx.ErrAuditWrite)
	}

	// Only an already-expired deadline downgrades to best effort.
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	result, err := f.evaluator.Authorize(ctx, Request{
		Principal: f.user.String(),
		Resource:  "data-lake/reports/q1.csv",
		Action:    "Read",
	})
	require.NoError(t, err)
	require.Equal(t, ReasonTimeout, result.Reason)
}

func TestAuthorizeIdempotentPerSnapshot(t *testing.T) {
	f := newFixture(t)
	req := Request{Principal: f.user.String(), Resource: "data-lake/reports/q1.csv", Action: "Read"}

	first, err := f.evaluator.Authorize(context.Background(), req)
	require.NoError(t, err)
	for i := 0; i < 5; i++ {
		again, err := f.evaluator.Authorize(context.Background(), req)
		require.NoError(t, err)
		require.Equal(t, first.Decision, again.Decision)
		require.Equal(t, first.MatchedPolicyIDs, again.MatchedPolicyIDs)
		require.Equal(t, first.SnapshotVersion, again.SnapshotVersion)
	}
}

func TestAuthorizeAuditCompletenessUnderConcurrency(t *testing.T) {
	f := newFixture(t)
	req := Request{Principal: f.user.String(), Resource: "data-lake/reports/q1.csv", Action: "Read"}

	const calls = 64
	var wg sync.WaitGroup
	wg.Add(calls)
	for i := 0; i < calls; i++ {
		go func() {
			defer wg.Done()
			_, err := f.evaluator.Authorize(context.Background(), req)
			require.NoError(t, err)
		}()
	}
	wg.Wait()

	entries := f.auditor.all()
	require.Len(t, entries, calls)
	seen := make(map[int64]bool, calls)
	for _, e := range entries {
		require.False(t, seen[e.Seq], "sequence numbers must be unique")
		seen[e.Seq] = true
		require.Equal(t, "Allow", e.Decision)
	}
}

func TestSnapshotVersionsAreMonotonic(t *testing.T) {
	f := newFixture(t)

	before := f.manager.Current().Version()
	v1 := f.manager.Publish(context.Background())
	v2 := f.manager.Publish(context.Background())
	require.Greater(t, v1, before)
	require.Greater(t, v2, v1)
	require.Equal(t, v2, f.manager.Current().Version())
}
