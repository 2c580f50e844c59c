package db

import (
	"errors"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/require"
)

func TestUniqueViolation(t *testing.T) {
	dup := &pgconn.PgError{Code: "23505", ConstraintName: "users_email_key"}
	require.True(t, UniqueViolation(dup))
	require.True(t, UniqueViolation(fmt.Errorf("directory: insert user: %w", dup)))

	require.False(t, UniqueViolation(nil))
	require.False(t, UniqueViolation(errors.New("broken pipe")))
	require.False(t, UniqueViolation(&pgconn.PgError{Code: "23503"}))
}
