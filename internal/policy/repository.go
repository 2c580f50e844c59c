package policy

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/warrant-labs/sentinel/internal/platform/db"
)

// Repository provides PostgreSQL backed persistence for roles and policies.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// InsertPolicy persists a new policy. seq orders policies for deterministic
// evaluation; it is the insertion position.
func (r *Repository) InsertPolicy(ctx context.Context, p Policy, seq int) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO policies (id, name, resource_pattern, actions, effect, status, seq, version, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		p.ID, p.Name, p.ResourcePattern, p.Actions, string(p.Effect), string(p.Status), seq, p.Version, p.CreatedAt, p.UpdatedAt,
	)
	if err != nil {
		if db.UniqueViolation(err) {
			return fmt.Errorf("%w: %q", ErrDuplicate, p.Name)
		}
		return fmt.Errorf("policy: insert policy: %w", err)
	}
	return nil
}

// UpdatePolicy persists a policy mutation guarded by the expected version.
func (r *Repository) UpdatePolicy(ctx context.Context, p Policy, expectedVersion int64) error {
	tag, err := r.pool.Exec(ctx,
		`UPDATE policies SET name = $2, resource_pattern = $3, actions = $4, effect = $5, status = $6, version = $7, updated_at = $8
		 WHERE id = $1 AND version = $9`,
		p.ID, p.Name, p.ResourcePattern, p.Actions, string(p.Effect), string(p.Status), p.Version, p.UpdatedAt, expectedVersion,
	)
	if err != nil {
		if db.UniqueViolation(err) {
			return fmt.Errorf("%w: %q", ErrDuplicate, p.Name)
		}
		return fmt.Errorf("policy: update policy: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrVersionConflict
	}
	return nil
}

// InsertRole persists a new role and its policy links.
func (r *Repository) InsertRole(ctx context.Context, role Role) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx,
			`INSERT INTO roles (id, name, type, status, version, created_at, updated_at) VALUES ($1, $2, $3, $4, $5, $6, $7)`,
			role.ID, role.Name, string(role.Type), string(role.Status), role.Version, role.CreatedAt, role.UpdatedAt,
		); err != nil {
			if db.UniqueViolation(err) {
				return fmt.Errorf("%w: %q", ErrDuplicate, role.Name)
			}
			return fmt.Errorf("policy: insert role: %w", err)
		}
		return insertRolePolicies(ctx, tx, role.ID, role.PolicyIDs)
	})
}

// UpdateRole persists role status and policy links guarded by the expected
// version.
func (r *Repository) UpdateRole(ctx context.Context, role Role, expectedVersion int64) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx,
			`UPDATE roles SET name = $2, status = $3, version = $4, updated_at = $5 WHERE id = $1 AND version = $6`,
			role.ID, role.Name, string(role.Status), role.Version, role.UpdatedAt, expectedVersion,
		)
		if err != nil {
			if db.UniqueViolation(err) {
				return fmt.Errorf("%w: %q", ErrDuplicate, role.Name)
			}
			return fmt.Errorf("policy: update role: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return ErrVersionConflict
		}
		if _, err := tx.Exec(ctx, `DELETE FROM role_policies WHERE role_id = $1`, role.ID); err != nil {
			return fmt.Errorf("policy: clear role policies: %w", err)
		}
		return insertRolePolicies(ctx, tx, role.ID, role.PolicyIDs)
	})
}

func insertRolePolicies(ctx context.Context, tx pgx.Tx, roleID uuid.UUID, policyIDs []uuid.UUID) error {
	for _, pid := range policyIDs {
		if _, err := tx.Exec(ctx,
			`INSERT INTO role_policies (role_id, policy_id) VALUES ($1, $2)`, roleID, pid,
		); err != nil {
			return fmt.Errorf("policy: insert role policy: %w", err)
		}
	}
	return nil
}

// LoadAll reads policies (in insertion order) and roles for startup seeding.
func (r *Repository) LoadAll(ctx context.Context) ([]Policy, []Role, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, name, resource_pattern, actions, effect, status, version, created_at, updated_at
		 FROM policies ORDER BY seq ASC`)
	if err != nil {
		return nil, nil, fmt.Errorf("policy: load policies: %w", err)
	}
	defer rows.Close()
	var policies []Policy
	for rows.Next() {
		var p Policy
		if err := rows.Scan(&p.ID, &p.Name, &p.ResourcePattern, &p.Actions, &p.Effect, &p.Status, &p.Version, &p.CreatedAt, &p.UpdatedAt); err != nil {
			return nil, nil, fmt.Errorf("policy: scan policy: %w", err)
		}
		policies = append(policies, p)
	}
	if err := rows.Err(); err != nil {
		return nil, nil, err
	}

	roleRows, err := r.pool.Query(ctx,
		`SELECT id, name, type, status, version, created_at, updated_at FROM roles`)
	if err != nil {
		return nil, nil, fmt.Errorf("policy: load roles: %w", err)
	}
	defer roleRows.Close()
	byID := make(map[uuid.UUID]*Role)
	var order []uuid.UUID
	for roleRows.Next() {
		var role Role
		if err := roleRows.Scan(&role.ID, &role.Name, &role.Type, &role.Status, &role.Version, &role.CreatedAt, &role.UpdatedAt); err != nil {
			return nil, nil, fmt.Errorf("policy: scan role: %w", err)
		}
		byID[role.ID] = &role
		order = append(order, role.ID)
	}
	if err := roleRows.Err(); err != nil {
		return nil, nil, err
	}

	linkRows, err := r.pool.Query(ctx, `SELECT role_id, policy_id FROM role_policies`)
	if err != nil {
		return nil, nil, fmt.Errorf("policy: load role policies: %w", err)
	}
	defer linkRows.Close()
	for linkRows.Next() {
		var roleID, policyID uuid.UUID
		if err := linkRows.Scan(&roleID, &policyID); err != nil {
			return nil, nil, fmt.Errorf("policy: scan role policy: %w", err)
		}
		if role, ok := byID[roleID]; ok {
			role.PolicyIDs = append(role.PolicyIDs, policyID)
		}
	}
	if err := linkRows.Err(); err != nil {
		return nil, nil, err
	}
	roles := make([]Role, 0, len(order))
	for _, id := range order {
		roles = append(roles, *byID[id])
	}
	return policies, roles, nil
}
