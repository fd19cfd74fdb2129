// Package sqlite reads table metadata from a SQLite database through
// sqlite_master and the table-valued pragma functions.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/tablesense/tablesense/internal/schema"
)

type Source struct {
	db *sql.DB
}

func New(db *sql.DB) *Source {
	return &Source{db: db}
}

func (s *Source) ListTables(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT name
		FROM sqlite_master
		WHERE type = 'table' AND name NOT LIKE 'sqlite_%'
		ORDER BY name
	`)
	if err != nil {
		return nil, fmt.Errorf("list tables: %w", err)
	}
	defer rows.Close()

	var tables []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("scan table name: %w", err)
		}
		tables = append(tables, name)
	}
	return tables, rows.Err()
}

func (s *Source) ListColumns(ctx context.Context, table string) ([]schema.Column, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT name, type, "notnull", dflt_value
		FROM pragma_table_info(?)
		ORDER BY cid
	`, table)
	if err != nil {
		return nil, fmt.Errorf("list columns of %s: %w", table, err)
	}
	defer rows.Close()

	var columns []schema.Column
	for rows.Next() {
		var (
			name, colType string
			notNull       int
			defaultValue  sql.NullString
		)
		if err := rows.Scan(&name, &colType, &notNull, &defaultValue); err != nil {
			return nil, fmt.Errorf("scan column of %s: %w", table, err)
		}
		col := schema.Column{
			Name:     name,
			Type:     strings.ToLower(colType),
			Nullable: notNull == 0,
		}
		if defaultValue.Valid {
			col.Default = &defaultValue.String
		}
		columns = append(columns, col)
	}
	return columns, rows.Err()
}

func (s *Source) ListForeignKeys(ctx context.Context, table string) ([]schema.ForeignKey, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT "from", "table", "to"
		FROM pragma_foreign_key_list(?)
		ORDER BY id, seq
	`, table)
	if err != nil {
		return nil, fmt.Errorf("list foreign keys of %s: %w", table, err)
	}
	defer rows.Close()

	var fks []schema.ForeignKey
	for rows.Next() {
		var from, target string
		var to sql.NullString
		if err := rows.Scan(&from, &target, &to); err != nil {
			return nil, fmt.Errorf("scan foreign key of %s: %w", table, err)
		}
		// A reference without a column targets the parent's primary key.
		refColumn := to.String
		if !to.Valid || refColumn == "" {
			refColumn = "rowid"
		}
		fks = append(fks, schema.ForeignKey{Column: from, RefTable: target, RefColumn: refColumn})
	}
	return fks, rows.Err()
}

func (s *Source) CountRows(ctx context.Context, table string) (int64, error) {
	var count int64
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM "+quoteIdent(table)).Scan(&count); err != nil {
		return 0, fmt.Errorf("count rows of %s: %w", table, err)
	}
	return count, nil
}

func (s *Source) ColumnHasValue(ctx context.Context, table, column string) (bool, error) {
	var one int
	query := "SELECT 1 FROM " + quoteIdent(table) + " WHERE " + quoteIdent(column) + " IS NOT NULL LIMIT 1"
	err := s.db.QueryRowContext(ctx, query).Scan(&one)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return false, nil
	case err != nil:
		return false, fmt.Errorf("probe %s.%s: %w", table, column, err)
	default:
		return true, nil
	}
}

func quoteIdent(value string) string {
	return `"` + strings.ReplaceAll(value, `"`, `""`) + `"`
}
