package db

import (
	"errors"

	"github.com/jackc/pgx/v5/pgconn"
)

// SQLSTATE for unique constraint violations.
const uniqueViolationCode = "23505"

// UniqueViolation reports whether err is a Postgres unique constraint
// violation, so repositories can surface it as a conflict instead of an
// opaque internal error.
func UniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolationCode
}
