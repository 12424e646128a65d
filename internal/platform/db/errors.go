package db

import (
	"errors"
	"fmt"
	"strconv"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// Well-known SQLSTATE values, as integers.
const (
	CodeForeignKeyViolation  = 23503
	CodeUniqueViolation      = 23505
	CodeSerializationFailure = 40001
)

// ErrNoRows is returned by repositories when a lookup matches nothing.
var ErrNoRows = pgx.ErrNoRows

// ProcedureError is a database error reduced to the fields callers branch on.
// Code is the SQLSTATE as an integer; states containing letters (e.g. P0001)
// have Code 0 and are only available through SQLState.
type ProcedureError struct {
	Code       int
	SQLState   string
	Message    string
	Constraint string
	Err        error
}

func (e *ProcedureError) Error() string {
	return fmt.Sprintf("database error %s: %s", e.SQLState, e.Message)
}

func (e *ProcedureError) Unwrap() error { return e.Err }

// Classify converts a PostgreSQL error into a *ProcedureError. Other errors
// are returned unchanged.
func Classify(err error) error {
	if err == nil {
		return nil
	}
	var pe *ProcedureError
	if errors.As(err, &pe) {
		return err
	}
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return err
	}
	code, convErr := strconv.Atoi(pgErr.Code)
	if convErr != nil {
		code = 0
	}
	return &ProcedureError{
		Code:       code,
		SQLState:   pgErr.Code,
		Message:    pgErr.Message,
		Constraint: pgErr.ConstraintName,
		Err:        err,
	}
}

// AsProcedureError reports whether err carries a classified database error.
func AsProcedureError(err error) (*ProcedureError, bool) {
	var pe *ProcedureError
	if errors.As(Classify(err), &pe) {
		return pe, true
	}
	return nil, false
}

// IsNoRows reports whether err means the query matched no rows.
func IsNoRows(err error) bool {
	return errors.Is(err, pgx.ErrNoRows)
}
