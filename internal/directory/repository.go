package directory

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/warrant-labs/sentinel/internal/platform/db"
)

// Repository provides PostgreSQL backed persistence for the directory.
// In-memory state is authoritative for reads; every mutation is written
// through here before it is applied and published.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

func nullableUUID(id uuid.UUID) pgtype.UUID {
	if id == uuid.Nil {
		return pgtype.UUID{}
	}
	return pgtype.UUID{Bytes: id, Valid: true}
}

func fromNullableUUID(u pgtype.UUID) uuid.UUID {
	if !u.Valid {
		return uuid.Nil
	}
	return u.Bytes
}

// InsertUser persists a new user.
func (r *Repository) InsertUser(ctx context.Context, u User) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO users (id, display_name, email, department_id, status, version, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		u.ID, u.DisplayName, u.Email, nullableUUID(u.DepartmentID), string(u.Status), u.Version, u.CreatedAt, u.UpdatedAt,
	)
	if err != nil {
		if db.UniqueViolation(err) {
			return fmt.Errorf("%w: email already registered", ErrDuplicate)
		}
		return fmt.Errorf("directory: insert user: %w", err)
	}
	return nil
}

// UpdateUser persists a user mutation guarded by the expected version.
func (r *Repository) UpdateUser(ctx context.Context, u User, expectedVersion int64) error {
	tag, err := r.pool.Exec(ctx,
		`UPDATE users SET display_name = $2, email = $3, department_id = $4, status = $5, version = $6, updated_at = $7
		 WHERE id = $1 AND version = $8`,
		u.ID, u.DisplayName, u.Email, nullableUUID(u.DepartmentID), string(u.Status), u.Version, u.UpdatedAt, expectedVersion,
	)
	if err != nil {
		if db.UniqueViolation(err) {
			return fmt.Errorf("%w: email already registered", ErrDuplicate)
		}
		return fmt.Errorf("directory: update user: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrVersionConflict
	}
	return nil
}

// InsertGroup persists a new group and its member edges.
func (r *Repository) InsertGroup(ctx context.Context, g Group) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx,
			`INSERT INTO groups (id, name, version, created_at, updated_at) VALUES ($1, $2, $3, $4, $5)`,
			g.ID, g.Name, g.Version, g.CreatedAt, g.UpdatedAt,
		); err != nil {
			if db.UniqueViolation(err) {
				return fmt.Errorf("%w: group name taken", ErrDuplicate)
			}
			return fmt.Errorf("directory: insert group: %w", err)
		}
		return insertMembers(ctx, tx, g.ID, g.Members)
	})
}

// UpdateGroupMembers replaces the member set, guarded by the expected
// version.
func (r *Repository) UpdateGroupMembers(ctx context.Context, g Group, expectedVersion int64) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx,
			`UPDATE groups SET version = $2, updated_at = $3 WHERE id = $1 AND version = $4`,
			g.ID, g.Version, g.UpdatedAt, expectedVersion,
		)
		if err != nil {
			return fmt.Errorf("directory: update group: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return ErrVersionConflict
		}
		if _, err := tx.Exec(ctx, `DELETE FROM group_members WHERE group_id = $1`, g.ID); err != nil {
			return fmt.Errorf("directory: clear members: %w", err)
		}
		return insertMembers(ctx, tx, g.ID, g.Members)
	})
}

func insertMembers(ctx context.Context, tx pgx.Tx, groupID uuid.UUID, members []uuid.UUID) error {
	for _, m := range members {
		if _, err := tx.Exec(ctx,
			`INSERT INTO group_members (group_id, user_id) VALUES ($1, $2)`, groupID, m,
		); err != nil {
			return fmt.Errorf("directory: insert member: %w", err)
		}
	}
	return nil
}

// InsertDepartment persists a new tree node.
func (r *Repository) InsertDepartment(ctx context.Context, d Department) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO departments (id, name, parent_id, version, created_at, updated_at) VALUES ($1, $2, $3, $4, $5, $6)`,
		d.ID, d.Name, nullableUUID(d.ParentID), d.Version, d.CreatedAt, d.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("directory: insert department: %w", err)
	}
	return nil
}

// UpdateDepartmentParent persists a reparent, guarded by the expected
// version.
func (r *Repository) UpdateDepartmentParent(ctx context.Context, d Department, expectedVersion int64) error {
	tag, err := r.pool.Exec(ctx,
		`UPDATE departments SET parent_id = $2, version = $3, updated_at = $4 WHERE id = $1 AND version = $5`,
		d.ID, nullableUUID(d.ParentID), d.Version, d.UpdatedAt, expectedVersion,
	)
	if err != nil {
		return fmt.Errorf("directory: update department: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrVersionConflict
	}
	return nil
}

// LoadAll reads the whole directory for startup seeding.
func (r *Repository) LoadAll(ctx context.Context) ([]User, []Group, []Department, error) {
	users, err := r.loadUsers(ctx)
	if err != nil {
		return nil, nil, nil, err
	}
	groups, err := r.loadGroups(ctx)
	if err != nil {
		return nil, nil, nil, err
	}
	departments, err := r.loadDepartments(ctx)
	if err != nil {
		return nil, nil, nil, err
	}
	return users, groups, departments, nil
}

func (r *Repository) loadUsers(ctx context.Context) ([]User, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, display_name, email, department_id, status, version, created_at, updated_at FROM users`)
	if err != nil {
		return nil, fmt.Errorf("directory: load users: %w", err)
	}
	defer rows.Close()
	var users []User
	for rows.Next() {
		var (
			u    User
			dept pgtype.UUID
		)
		if err := rows.Scan(&u.ID, &u.DisplayName, &u.Email, &dept, &u.Status, &u.Version, &u.CreatedAt, &u.UpdatedAt); err != nil {
			return nil, fmt.Errorf("directory: scan user: %w", err)
		}
		u.DepartmentID = fromNullableUUID(dept)
		users = append(users, u)
	}
	return users, rows.Err()
}

func (r *Repository) loadGroups(ctx context.Context) ([]Group, error) {
	rows, err := r.pool.Query(ctx, `SELECT id, name, version, created_at, updated_at FROM groups`)
	if err != nil {
		return nil, fmt.Errorf("directory: load groups: %w", err)
	}
	defer rows.Close()
	byID := make(map[uuid.UUID]*Group)
	var order []uuid.UUID
	for rows.Next() {
		var g Group
		if err := rows.Scan(&g.ID, &g.Name, &g.Version, &g.CreatedAt, &g.UpdatedAt); err != nil {
			return nil, fmt.Errorf("directory: scan group: %w", err)
		}
		byID[g.ID] = &g
		order = append(order, g.ID)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	memberRows, err := r.pool.Query(ctx, `SELECT group_id, user_id FROM group_members`)
	if err != nil {
		return nil, fmt.Errorf("directory: load members: %w", err)
	}
	defer memberRows.Close()
	for memberRows.Next() {
		var groupID, userID uuid.UUID
		if err := memberRows.Scan(&groupID, &userID); err != nil {
			return nil, fmt.Errorf("directory: scan member: %w", err)
		}
		if g, ok := byID[groupID]; ok {
			g.Members = append(g.Members, userID)
		}
	}
	if err := memberRows.Err(); err != nil {
		return nil, err
	}
	groups := make([]Group, 0, len(order))
	for _, id := range order {
		groups = append(groups, *byID[id])
	}
	return groups, nil
}

func (r *Repository) loadDepartments(ctx context.Context) ([]Department, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, name, parent_id, version, created_at, updated_at FROM departments`)
	if err != nil {
		return nil, fmt.Errorf("directory: load departments: %w", err)
	}
	defer rows.Close()
	var departments []Department
	for rows.Next() {
		var (
			d      Department
			parent pgtype.UUID
		)
		if err := rows.Scan(&d.ID, &d.Name, &parent, &d.Version, &d.CreatedAt, &d.UpdatedAt); err != nil {
			return nil, fmt.Errorf("directory: scan department: %w", err)
		}
		d.ParentID = fromNullableUUID(parent)
		departments = append(departments, d)
	}
	return departments, rows.Err()
}
