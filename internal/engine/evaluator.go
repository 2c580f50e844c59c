package engine

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/warrant-labs/sentinel/internal/assignment"
	"github.com/warrant-labs/sentinel/internal/audit"
	"github.com/warrant-labs/sentinel/internal/observability"
	"github.com/warrant-labs/sentinel/internal/policy"
)

// Decision is the outcome of one authorization evaluation.
type Decision string

const (
	DecisionAllow         Decision = "Allow"
	DecisionDeny          Decision = "Deny"
	DecisionIndeterminate Decision = "Indeterminate"
)

// Decision reasons surfaced to callers and recorded in the audit log.
const (
	ReasonNoMatchingPolicy    = "NoMatchingPolicy"
	ReasonPrincipalNotFound   = "PrincipalNotFound"
	ReasonResourceUnspecified = "ResourceUnspecified"
	ReasonTimeout             = "Timeout"
)

// Request is one evaluation input.
type Request struct {
	Principal string
	Resource  string
	Action    string
	SourceIP  string
}

// Result is the evaluation outcome returned to the guarding service.
type Result struct {
	Decision         Decision
	MatchedPolicyIDs []uuid.UUID
	Reason           string
	SnapshotVersion  uint64
}

// ResolverPort computes effective roles against a snapshot.
type ResolverPort interface {
	EffectiveRoles(ctx context.Context, userID uuid.UUID, snap assignment.Snapshot) ([]uuid.UUID, error)
}

// AuditPort durably queues decision entries.
type AuditPort interface {
	Append(ctx context.Context, e audit.Entry) (int64, error)
}

// Matcher tests a resource pattern against a requested resource. The
// default is the structured glob matcher; an expression engine could be
// slotted in here without touching the evaluation pipeline.
type Matcher func(pattern, resource string) bool

// Evaluator runs the decision pipeline: Resolve -> Match -> Decide ->
// Audit. There are no retries between stages; any failure short-circuits
// to Indeterminate. The pipeline never fails open: uncertainty yields
// Indeterminate and an empty candidate set yields Deny.
type Evaluator struct {
	snapshots *Manager
	resolver  ResolverPort
	auditor   AuditPort
	matcher   Matcher
	metrics   *observability.Metrics
	logger    *slog.Logger
}

// NewEvaluator builds an Evaluator with the structured glob matcher.
func NewEvaluator(snapshots *Manager, resolver ResolverPort, auditor AuditPort, metrics *observability.Metrics, logger *slog.Logger) *Evaluator {
	return &Evaluator{
		snapshots: snapshots,
		resolver:  resolver,
		auditor:   auditor,
		matcher:   policy.Matches,
		metrics:   metrics,
		logger:    logger,
	}
}

// Authorize evaluates (principal, resource, action) against the latest
// published snapshot. The decision is a pure function of the inputs and
// the snapshot version, apart from the audit side effect. An audit append
// failure fails the call: the caller never receives a decision that left
// no trail. The single exception is a caller whose deadline already
// expired, where the Timeout entry is written best-effort.
func (e *Evaluator) Authorize(ctx context.Context, req Request) (Result, error) {
	start := time.Now()
	snap := e.snapshots.Current()
	result := Result{SnapshotVersion: snap.Version()}

	if req.Resource == "" || req.Action == "" {
		result.Decision = DecisionIndeterminate
		result.Reason = ReasonResourceUnspecified
		return e.finish(ctx, req, result, start)
	}

	// Resolve.
	userID, err := uuid.Parse(req.Principal)
	if err != nil {
		result.Decision = DecisionIndeterminate
		result.Reason = ReasonPrincipalNotFound
		return e.finish(ctx, req, result, start)
	}
	roles, err := e.resolver.EffectiveRoles(ctx, userID, snap)
	if err != nil {
		result.Decision = DecisionIndeterminate
		switch {
		case errors.Is(err, assignment.ErrPrincipalNotFound):
			result.Reason = ReasonPrincipalNotFound
		case ctx.Err() != nil:
			result.Reason = ReasonTimeout
		default:
			result.Reason = ReasonPrincipalNotFound
		}
		return e.finish(ctx, req, result, start)
	}
	if ctx.Err() != nil {
		result.Decision = DecisionIndeterminate
		result.Reason = ReasonTimeout
		return e.finish(ctx, req, result, start)
	}

	// Match.
	var denies, allows []uuid.UUID
	for _, p := range snap.PoliciesForRoles(roles) {
		if !e.matcher(p.ResourcePattern, req.Resource) || !policy.ActionAllowed(p, req.Action) {
			continue
		}
		if p.Effect == policy.EffectDeny {
			denies = append(denies, p.ID)
		} else {
			allows = append(allows, p.ID)
		}
	}
	if ctx.Err() != nil {
		result.Decision = DecisionIndeterminate
		result.Reason = ReasonTimeout
		return e.finish(ctx, req, result, start)
	}

	// Decide: deny-overrides, fail-closed.
	switch {
	case len(denies) > 0:
		result.Decision = DecisionDeny
		result.MatchedPolicyIDs = denies
	case len(allows) > 0:
		result.Decision = DecisionAllow
		result.MatchedPolicyIDs = allows
	default:
		result.Decision = DecisionDeny
		result.Reason = ReasonNoMatchingPolicy
	}
	return e.finish(ctx, req, result, start)
}

// finish records the audit entry and the metrics sample. Every outcome
// requires a trail before it may be returned; only the Timeout reason is
// downgraded to best-effort, since the caller's deadline is already gone
// and a strict append could never succeed under it.
func (e *Evaluator) finish(ctx context.Context, req Request, result Result, start time.Time) (Result, error) {
	if result.Reason == ReasonTimeout {
		e.auditBestEffort(req, result)
		e.observe(result, start)
		return result, nil
	}
	if _, err := e.auditor.Append(ctx, e.entry(req, result)); err != nil {
		e.logger.Error("decision audit append", slog.Any("error", err))
		e.observe(result, start)
		return Result{}, err
	}
	e.observe(result, start)
	return result, nil
}

func (e *Evaluator) entry(req Request, result Result) audit.Entry {
	return audit.Entry{
		ActorPrincipal:   req.Principal,
		Action:           req.Action,
		Resource:         req.Resource,
		Decision:         string(result.Decision),
		Reason:           result.Reason,
		MatchedPolicyIDs: result.MatchedPolicyIDs,
		SourceIP:         req.SourceIP,
	}
}

// auditBestEffort records a Timeout outcome without failing the call. The
// caller's context is already dead, so the write gets its own deadline.
func (e *Evaluator) auditBestEffort(req Request, result Result) {
	writeCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if _, err := e.auditor.Append(writeCtx, e.entry(req, result)); err != nil {
		e.logger.Error("best-effort audit append", slog.Any("error", err))
	}
}

func (e *Evaluator) observe(result Result, start time.Time) {
	e.metrics.ObserveDecision(string(result.Decision), result.Reason, time.Since(start))
}
