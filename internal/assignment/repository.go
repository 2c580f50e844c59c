package assignment

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/warrant-labs/sentinel/internal/platform/db"
)

// Repository provides PostgreSQL backed persistence for assignment edges.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// InsertAssignments persists a batch of edges for one principal.
func (r *Repository) InsertAssignments(ctx context.Context, assignments []Assignment) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		for _, a := range assignments {
			if _, err := tx.Exec(ctx,
				`INSERT INTO assignments (principal_id, principal_type, role_id, created_at)
				 VALUES ($1, $2, $3, $4)
				 ON CONFLICT (principal_id, role_id) DO NOTHING`,
				a.PrincipalID, string(a.PrincipalType), a.RoleID, a.CreatedAt,
			); err != nil {
				return fmt.Errorf("assignment: insert: %w", err)
			}
		}
		return nil
	})
}

// DeleteAssignment removes one edge.
func (r *Repository) DeleteAssignment(ctx context.Context, principalID, roleID uuid.UUID) error {
	_, err := r.pool.Exec(ctx,
		`DELETE FROM assignments WHERE principal_id = $1 AND role_id = $2`, principalID, roleID)
	if err != nil {
		return fmt.Errorf("assignment: delete: %w", err)
	}
	return nil
}

// LoadAll reads the whole edge set for startup seeding.
func (r *Repository) LoadAll(ctx context.Context) ([]Assignment, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT principal_id, principal_type, role_id, created_at FROM assignments`)
	if err != nil {
		return nil, fmt.Errorf("assignment: load: %w", err)
	}
	defer rows.Close()
	var assignments []Assignment
	for rows.Next() {
		var a Assignment
		if err := rows.Scan(&a.PrincipalID, &a.PrincipalType, &a.RoleID, &a.CreatedAt); err != nil {
			return nil, fmt.Errorf("assignment: scan: %w", err)
		}
		assignments = append(assignments, a)
	}
	return assignments, rows.Err()
}
