package database

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/hashicorp/go-multierror"
	"github.com/mattn/go-sqlite3"
	"github.com/pkg/errors"
)

var (
	ErrNotFound = errors.New("not found")
	ErrExists   = errors.New("already exists")

	// ErrTransaction marks a failure to roll a transaction back.
	ErrTransaction = errors.New("transaction rollback failed")
)

// DataAccessError is a failed statement. The wrapped error carries the stack
// of the call site.
type DataAccessError struct {
	Op   string
	SQL  string
	Args []any
	Err  error
}

func (e *DataAccessError) Error() string {
	return fmt.Sprintf("%s: executing %q with parameters %v: %v", e.Op, compact(e.SQL), e.Args, e.Err)
}

func (e *DataAccessError) Unwrap() error {
	return e.Err
}

func (e *DataAccessError) Cause() error {
	return errors.Cause(e.Err)
}

func dataAccess(op string, err error, sql string, args ...any) error {
	return &DataAccessError{Op: op, SQL: sql, Args: args, Err: errors.WithStack(err)}
}

func compact(sql string) string {
	return strings.Join(strings.Fields(sql), " ")
}

func isUnique(err error, column string) bool {
	var sqliteErr sqlite3.Error
	if !errors.As(err, &sqliteErr) || sqliteErr.ExtendedCode != sqlite3.ErrConstraintUnique {
		return false
	}
	return strings.Contains(sqliteErr.Error(), column)
}

// inTx runs fn in a transaction, committing when it returns nil. A failed
// rollback is reported together with the error that caused it.
func inTx(ctx context.Context, db *sql.DB, op string, fn func(tx *sql.Tx) error) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return dataAccess(op+".begin", err, "BEGIN")
	}

	if err = fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
			return multierror.Append(err, errors.Wrapf(ErrTransaction, "%s: %v", op, rbErr))
		}
		return err
	}

	if err = tx.Commit(); err != nil {
		return dataAccess(op+".commit", err, "COMMIT")
	}
	return nil
}
