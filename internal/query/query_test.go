package query

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	_ "github.com/marcboeker/go-duckdb/v2"

	"github.com/tablesense/tablesense/internal/apperr"
)

func newSQLMock(t *testing.T) (*sql.DB, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New() error = %v", err)
	}
	return db, mock
}

func assertSQLMock(t *testing.T, mock sqlmock.Sqlmock) {
	t.Helper()
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("sql expectations not met: %v", err)
	}
}

func TestExecuteInsideReadOnlyTransaction(t *testing.T) {
	db, mock := newSQLMock(t)
	defer db.Close()

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT id, name FROM customers`).
		WillReturnRows(sqlmock.NewRows([]string{"id", "name"}).
			AddRow(int64(1), []byte("ada")).
			AddRow(int64(2), []byte("grace")))
	mock.ExpectRollback()

	executor, err := NewExecutor(db, Options{ReadOnlyTx: true})
	if err != nil {
		t.Fatalf("NewExecutor() error = %v", err)
	}
	result, err := executor.Execute(context.Background(), "SELECT id, name FROM customers;")
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if len(result.Columns) != 2 || result.Columns[1] != "name" {
		t.Fatalf("columns = %#v", result.Columns)
	}
	if len(result.Rows) != 2 || result.Rows[1][1] != "grace" {
		t.Fatalf("rows = %#v", result.Rows)
	}
	if result.Truncated {
		t.Fatal("Truncated = true")
	}
	assertSQLMock(t, mock)
}

func TestExecuteWithoutTransaction(t *testing.T) {
	db, mock := newSQLMock(t)
	defer db.Close()

	mock.ExpectQuery(`SELECT 1`).WillReturnRows(sqlmock.NewRows([]string{"?column?"}).AddRow(int64(1)))

	executor, err := NewExecutor(db, Options{})
	if err != nil {
		t.Fatalf("NewExecutor() error = %v", err)
	}
	result, err := executor.Execute(context.Background(), "SELECT 1")
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if len(result.Rows) != 1 || result.Rows[0][0] != int64(1) {
		t.Fatalf("rows = %#v", result.Rows)
	}
	assertSQLMock(t, mock)
}

func TestExecuteTruncatesAtRowLimit(t *testing.T) {
	db, mock := newSQLMock(t)
	defer db.Close()

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT id FROM orders`).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(1).AddRow(2).AddRow(3))
	mock.ExpectRollback()

	executor, err := NewExecutor(db, Options{RowLimit: 2, ReadOnlyTx: true})
	if err != nil {
		t.Fatalf("NewExecutor() error = %v", err)
	}
	result, err := executor.Execute(context.Background(), "SELECT id FROM orders")
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if len(result.Rows) != 2 || !result.Truncated {
		t.Fatalf("rows = %d truncated = %v", len(result.Rows), result.Truncated)
	}
	assertSQLMock(t, mock)
}

func TestExecuteWrapsDatabaseErrors(t *testing.T) {
	db, mock := newSQLMock(t)
	defer db.Close()

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT missing FROM orders`).
		WillReturnError(errors.New(`column "missing" does not exist`))
	mock.ExpectRollback()

	executor, err := NewExecutor(db, Options{ReadOnlyTx: true})
	if err != nil {
		t.Fatalf("NewExecutor() error = %v", err)
	}
	_, err = executor.Execute(context.Background(), "SELECT missing FROM orders")
	if !apperr.Is(err, apperr.Execution) {
		t.Fatalf("kind = %q, want execution (err = %v)", apperr.KindOf(err), err)
	}
	var execErr *ExecutionError
	if !errors.As(err, &execErr) {
		t.Fatalf("expected *ExecutionError, got %T", err)
	}
	if execErr.SQL != "SELECT missing FROM orders" {
		t.Fatalf("SQL = %q", execErr.SQL)
	}
	assertSQLMock(t, mock)
}

func TestExecuteMapsBeginFailureToConnectivity(t *testing.T) {
	db, mock := newSQLMock(t)
	defer db.Close()

	mock.ExpectBegin().WillReturnError(errors.New("connection reset by peer"))

	executor, err := NewExecutor(db, Options{ReadOnlyTx: true})
	if err != nil {
		t.Fatalf("NewExecutor() error = %v", err)
	}
	_, err = executor.Execute(context.Background(), "SELECT 1")
	if !apperr.Is(err, apperr.Connectivity) {
		t.Fatalf("kind = %q, want connectivity", apperr.KindOf(err))
	}
	assertSQLMock(t, mock)
}

func TestExecuteTimesOut(t *testing.T) {
	db, mock := newSQLMock(t)
	defer db.Close()

	mock.ExpectQuery(`SELECT pg_sleep`).
		WillDelayFor(time.Second).
		WillReturnRows(sqlmock.NewRows([]string{"x"}).AddRow(1))

	executor, err := NewExecutor(db, Options{Timeout: 20 * time.Millisecond})
	if err != nil {
		t.Fatalf("NewExecutor() error = %v", err)
	}
	_, err = executor.Execute(context.Background(), "SELECT pg_sleep(5)")
	if !apperr.Is(err, apperr.Timeout) {
		t.Fatalf("kind = %q, want timeout (err = %v)", apperr.KindOf(err), err)
	}
	var execErr *ExecutionError
	if !errors.As(err, &execErr) {
		t.Fatalf("expected *ExecutionError, got %T", err)
	}
}

func TestExecuteRejectsEmptyStatement(t *testing.T) {
	db, _ := newSQLMock(t)
	defer db.Close()

	executor, err := NewExecutor(db, Options{})
	if err != nil {
		t.Fatalf("NewExecutor() error = %v", err)
	}
	if _, err := executor.Execute(context.Background(), " ; "); !apperr.Is(err, apperr.Validation) {
		t.Fatalf("kind = %q", apperr.KindOf(err))
	}
}

func TestNewExecutorRequiresDB(t *testing.T) {
	if _, err := NewExecutor(nil, Options{}); err == nil {
		t.Fatal("expected error for nil db")
	}
}

func TestExecuteAgainstDuckDB(t *testing.T) {
	db, err := sql.Open("duckdb", "")
	if err != nil {
		t.Fatalf("sql.Open() error = %v", err)
	}
	defer db.Close()
	db.SetMaxOpenConns(1)

	for _, stmt := range []string{
		`CREATE TABLE orders (id INTEGER, status VARCHAR)`,
		`INSERT INTO orders VALUES (1, 'paid'), (2, 'paid'), (3, 'open')`,
	} {
		if _, err := db.Exec(stmt); err != nil {
			t.Fatalf("seed %q: %v", stmt, err)
		}
	}

	executor, err := NewExecutor(db, Options{})
	if err != nil {
		t.Fatalf("NewExecutor() error = %v", err)
	}
	result, err := executor.Execute(context.Background(), "SELECT status, COUNT(*) AS c FROM orders GROUP BY status ORDER BY status")
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if len(result.Rows) != 2 {
		t.Fatalf("rows = %#v", result.Rows)
	}
	if result.Rows[0][0] != "open" || result.Rows[0][1] != int64(1) {
		t.Fatalf("first row = %#v", result.Rows[0])
	}

	// a failed statement leaves the pool usable
	if _, err := executor.Execute(context.Background(), "SELECT nope FROM orders"); !apperr.Is(err, apperr.Execution) {
		t.Fatalf("kind = %q", apperr.KindOf(err))
	}
	if _, err := executor.Execute(context.Background(), "SELECT COUNT(*) FROM orders"); err != nil {
		t.Fatalf("Execute() after failure error = %v", err)
	}
}
