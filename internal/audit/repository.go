package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Repository provides PostgreSQL backed persistence for the audit log.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// AppendBatch inserts entries in sequence order.
func (r *Repository) AppendBatch(ctx context.Context, entries []Entry) error {
	if len(entries) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for _, e := range entries {
		matched, err := json.Marshal(e.MatchedPolicyIDs)
		if err != nil {
			return fmt.Errorf("audit: marshal matched policies: %w", err)
		}
		batch.Queue(
			`INSERT INTO audit_log (seq, at, actor_principal, action, resource, decision, reason, matched_policy_ids, source_ip)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
			e.Seq, e.At, e.ActorPrincipal, e.Action, e.Resource, e.Decision, e.Reason, matched, e.SourceIP,
		)
	}
	results := r.pool.SendBatch(ctx, batch)
	defer func() { _ = results.Close() }()
	for range entries {
		if _, err := results.Exec(); err != nil {
			return fmt.Errorf("audit: append batch: %w", err)
		}
	}
	return nil
}

// MaxSeq returns the highest persisted sequence number, or zero for an
// empty log.
func (r *Repository) MaxSeq(ctx context.Context) (int64, error) {
	var seq pgtype.Int8
	if err := r.pool.QueryRow(ctx, `SELECT MAX(seq) FROM audit_log`).Scan(&seq); err != nil {
		return 0, fmt.Errorf("audit: max seq: %w", err)
	}
	if !seq.Valid {
		return 0, nil
	}
	return seq.Int64, nil
}

// Query returns entries matching the filters, ordered by seq ascending.
func (r *Repository) Query(ctx context.Context, f Filters) ([]Entry, error) {
	var (
		conds []string
		args  []any
	)
	add := func(cond string, val any) {
		args = append(args, val)
		conds = append(conds, fmt.Sprintf(cond, len(args)))
	}
	add("seq > $%d", f.AfterSeq)
	if f.Principal != "" {
		add("actor_principal = $%d", f.Principal)
	}
	if f.Action != "" {
		add("action = $%d", f.Action)
	}
	if f.Resource != "" {
		add("resource = $%d", f.Resource)
	}
	if f.Decision != "" {
		add("decision = $%d", f.Decision)
	}
	if !f.From.IsZero() {
		add("at >= $%d", f.From)
	}
	if !f.To.IsZero() {
		add("at <= $%d", f.To)
	}
	args = append(args, f.Limit)
	query := fmt.Sprintf(
		`SELECT seq, at, actor_principal, action, resource, decision, reason, matched_policy_ids, source_ip
		 FROM audit_log WHERE %s ORDER BY seq ASC LIMIT $%d`,
		strings.Join(conds, " AND "), len(args),
	)

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("audit: query: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var (
			e       Entry
			matched []byte
		)
		if err := rows.Scan(&e.Seq, &e.At, &e.ActorPrincipal, &e.Action, &e.Resource, &e.Decision, &e.Reason, &matched, &e.SourceIP); err != nil {
			return nil, fmt.Errorf("audit: scan: %w", err)
		}
		if len(matched) > 0 {
			if err := json.Unmarshal(matched, &e.MatchedPolicyIDs); err != nil {
				return nil, fmt.Errorf("audit: unmarshal matched policies: %w", err)
			}
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// ArchiveRange copies a sealed sequence range into audit_log_archive. The
// hot log is never deleted from here; retention is an external concern.
func (r *Repository) ArchiveRange(ctx context.Context, fromSeq, toSeq int64) (int64, error) {
	tag, err := r.pool.Exec(ctx,
		`INSERT INTO audit_log_archive
		 SELECT * FROM audit_log WHERE seq >= $1 AND seq <= $2
		 ON CONFLICT (seq) DO NOTHING`,
		fromSeq, toSeq,
	)
	if err != nil {
		return 0, fmt.Errorf("audit: archive range: %w", err)
	}
	return tag.RowsAffected(), nil
}

var _ StorePort = (*Repository)(nil)
