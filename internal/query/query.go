// Package query runs validated read-only statements against the target
// database and returns materialized rows.
package query

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/tablesense/tablesense/internal/apperr"
	"github.com/tablesense/tablesense/internal/observability"
)

const (
	DefaultTimeout  = 15 * time.Second
	DefaultRowLimit = 1000
)

// Result is the ordered, materialized output of one statement. Rows never
// exceeds the executor's row limit; Truncated reports whether more existed.
type Result struct {
	Columns   []string
	Rows      [][]any
	Truncated bool
	Duration  time.Duration
}

// ExecutionError carries the statement the database refused, so callers can
// echo it back.
type ExecutionError struct {
	SQL string
	Err error
}

func (e *ExecutionError) Error() string { return e.Err.Error() }
func (e *ExecutionError) Unwrap() error { return e.Err }

type Options struct {
	Timeout    time.Duration
	RowLimit   int
	ReadOnlyTx bool
}

// Executor borrows one connection per statement and always gives it back.
type Executor struct {
	db         *sql.DB
	timeout    time.Duration
	rowLimit   int
	readOnlyTx bool
}

func NewExecutor(db *sql.DB, opts Options) (*Executor, error) {
	if db == nil {
		return nil, fmt.Errorf("database handle is required")
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.RowLimit <= 0 {
		opts.RowLimit = DefaultRowLimit
	}
	return &Executor{
		db:         db,
		timeout:    opts.Timeout,
		rowLimit:   opts.RowLimit,
		readOnlyTx: opts.ReadOnlyTx,
	}, nil
}

type queryer interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

// Execute runs sqlText and returns its rows. Failures are *apperr.E values of
// kind Connectivity, Timeout or Execution; the latter two wrap an
// *ExecutionError.
func (e *Executor) Execute(ctx context.Context, sqlText string) (Result, error) {
	sqlText = stripTrailingSemicolons(sqlText)
	if sqlText == "" {
		return Result{}, apperr.New(apperr.Validation, "empty statement")
	}

	started := time.Now()
	execCtx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	conn, err := e.db.Conn(execCtx)
	if err != nil {
		if deadlineHit(execCtx, err) {
			return Result{}, apperr.Wrap(apperr.Timeout, "acquire connection", err)
		}
		return Result{}, apperr.Wrap(apperr.Connectivity, "acquire connection", err)
	}
	defer func() { _ = conn.Close() }()

	var q queryer = conn
	if e.readOnlyTx {
		tx, err := conn.BeginTx(execCtx, &sql.TxOptions{ReadOnly: true})
		if err != nil {
			if deadlineHit(execCtx, err) {
				return Result{}, apperr.Wrap(apperr.Timeout, "begin read-only transaction", err)
			}
			return Result{}, apperr.Wrap(apperr.Connectivity, "begin read-only transaction", err)
		}
		defer func() { _ = tx.Rollback() }()
		q = tx
	}

	result, err := e.run(execCtx, q, sqlText)
	if err != nil {
		execErr := &ExecutionError{SQL: sqlText, Err: err}
		if deadlineHit(execCtx, err) {
			return Result{}, apperr.Wrap(apperr.Timeout, "execute statement", execErr)
		}
		return Result{}, apperr.Wrap(apperr.Execution, "execute statement", execErr)
	}
	result.Duration = time.Since(started)
	observability.ObserveRowsReturned(len(result.Rows))
	return result, nil
}

func (e *Executor) run(ctx context.Context, q queryer, sqlText string) (Result, error) {
	rows, err := q.QueryContext(ctx, sqlText)
	if err != nil {
		return Result{}, err
	}
	defer func() { _ = rows.Close() }()

	columns, err := rows.Columns()
	if err != nil {
		return Result{}, err
	}

	resultRows := make([][]any, 0)
	truncated := false
	for rows.Next() {
		if len(resultRows) == e.rowLimit {
			truncated = true
			break
		}
		values := make([]any, len(columns))
		scanTargets := make([]any, len(columns))
		for i := range values {
			scanTargets[i] = &values[i]
		}
		if err := rows.Scan(scanTargets...); err != nil {
			return Result{}, err
		}
		resultRows = append(resultRows, normalizeValues(values))
	}
	if err := rows.Err(); err != nil {
		return Result{}, err
	}

	return Result{Columns: columns, Rows: resultRows, Truncated: truncated}, nil
}

// deadlineHit reports whether err stems from the statement deadline. Drivers
// surface cancellation with their own error values, so the context is checked too.
func deadlineHit(ctx context.Context, err error) bool {
	return errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded)
}

type floater interface {
	Float64() float64
}

func normalizeValues(values []any) []any {
	normalized := make([]any, len(values))
	for i, value := range values {
		switch typed := value.(type) {
		case []byte:
			normalized[i] = string(typed)
		case floater:
			// duckdb.Decimal
			normalized[i] = typed.Float64()
		default:
			normalized[i] = typed
		}
	}
	return normalized
}

func stripTrailingSemicolons(sqlText string) string {
	trimmed := strings.TrimSpace(sqlText)
	for strings.HasSuffix(trimmed, ";") {
		trimmed = strings.TrimSpace(strings.TrimSuffix(trimmed, ";"))
	}
	return trimmed
}
