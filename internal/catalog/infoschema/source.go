// Package infoschema reads table metadata from information_schema views.
// It serves PostgreSQL and DuckDB.
package infoschema

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/tablesense/tablesense/internal/schema"
)

type Dialect string

const (
	DialectPostgres Dialect = "postgres"
	DialectDuckDB   Dialect = "duckdb"
)

const varcharType = "varchar"

type Source struct {
	db      *sql.DB
	schema  string
	dialect Dialect
}

func New(db *sql.DB, schemaName string, dialect Dialect) *Source {
	if schemaName == "" {
		schemaName = "public"
		if dialect == DialectDuckDB {
			schemaName = "main"
		}
	}
	if dialect == "" {
		dialect = DialectPostgres
	}
	return &Source{db: db, schema: schemaName, dialect: dialect}
}

func (s *Source) ListTables(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT table_name
		FROM information_schema.tables
		WHERE table_schema = $1 AND table_type = 'BASE TABLE'
		ORDER BY table_name
	`, s.schema)
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
	udtExpr := "c.udt_name"
	if s.dialect == DialectDuckDB {
		udtExpr = "c.data_type"
	}
	query := `
		SELECT
			c.column_name,
			c.data_type,
			c.is_nullable,
			c.column_default,
			` + udtExpr + ` AS udt_name,
			c.character_maximum_length
		FROM information_schema.columns c
		WHERE c.table_schema = $1 AND c.table_name = $2
		ORDER BY c.ordinal_position
	`
	rows, err := s.db.QueryContext(ctx, query, s.schema, table)
	if err != nil {
		return nil, fmt.Errorf("list columns of %s: %w", table, err)
	}
	defer rows.Close()

	var columns []schema.Column
	for rows.Next() {
		var (
			col       schema.Column
			dataType  string
			nullable  string
			udtName   sql.NullString
			maxLength sql.NullInt64
		)
		if err := rows.Scan(&col.Name, &dataType, &nullable, &col.Default, &udtName, &maxLength); err != nil {
			return nil, fmt.Errorf("scan column of %s: %w", table, err)
		}
		col.Nullable = strings.EqualFold(nullable, "YES")
		if maxLength.Valid {
			n := int(maxLength.Int64)
			col.MaxLength = &n
		}
		col.Type = normalizeType(dataType, udtName.String, col.MaxLength)
		columns = append(columns, col)
	}
	return columns, rows.Err()
}

func (s *Source) ListForeignKeys(ctx context.Context, table string) ([]schema.ForeignKey, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT
			kcu.column_name,
			ccu.table_name AS foreign_table_name,
			ccu.column_name AS foreign_column_name
		FROM information_schema.table_constraints AS tc
		JOIN information_schema.key_column_usage AS kcu
			ON tc.constraint_name = kcu.constraint_name
			AND tc.table_schema = kcu.table_schema
		JOIN information_schema.constraint_column_usage AS ccu
			ON ccu.constraint_name = tc.constraint_name
			AND ccu.table_schema = tc.table_schema
		WHERE tc.constraint_type = 'FOREIGN KEY'
			AND tc.table_schema = $1
			AND tc.table_name = $2
		ORDER BY kcu.ordinal_position
	`, s.schema, table)
	if err != nil {
		return nil, fmt.Errorf("list foreign keys of %s: %w", table, err)
	}
	defer rows.Close()

	var fks []schema.ForeignKey
	for rows.Next() {
		var fk schema.ForeignKey
		if err := rows.Scan(&fk.Column, &fk.RefTable, &fk.RefColumn); err != nil {
			return nil, fmt.Errorf("scan foreign key of %s: %w", table, err)
		}
		fks = append(fks, fk)
	}
	return fks, rows.Err()
}

func (s *Source) CountRows(ctx context.Context, table string) (int64, error) {
	var count int64
	query := "SELECT COUNT(*) FROM " + s.qualified(table)
	if err := s.db.QueryRowContext(ctx, query).Scan(&count); err != nil {
		return 0, fmt.Errorf("count rows of %s: %w", table, err)
	}
	return count, nil
}

func (s *Source) ColumnHasValue(ctx context.Context, table, column string) (bool, error) {
	var one int
	query := "SELECT 1 FROM " + s.qualified(table) + " WHERE " + quoteIdent(column) + " IS NOT NULL LIMIT 1"
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

func (s *Source) qualified(table string) string {
	return quoteIdent(s.schema) + "." + quoteIdent(table)
}

func quoteIdent(value string) string {
	return `"` + strings.ReplaceAll(value, `"`, `""`) + `"`
}

// normalizeType shortens the verbose SQL-standard names information_schema
// reports into the spellings people write in queries.
func normalizeType(dataType, udtName string, maxLength *int) string {
	switch strings.ToLower(dataType) {
	case "timestamp with time zone":
		return "timestamptz"
	case "timestamp without time zone":
		return "timestamp"
	case "time with time zone":
		return "timetz"
	case "time without time zone":
		return "time"
	case "character varying":
		if maxLength != nil {
			return fmt.Sprintf("varchar(%d)", *maxLength)
		}
		return varcharType
	case "character":
		if maxLength != nil {
			return fmt.Sprintf("char(%d)", *maxLength)
		}
		return "char"
	case "array":
		if strings.HasPrefix(udtName, "_") {
			return normalizeUDTName(udtName[1:]) + "[]"
		}
		return "array"
	case "user-defined":
		return udtName
	default:
		return dataType
	}
}

func normalizeUDTName(udtName string) string {
	switch udtName {
	case "int2":
		return "smallint"
	case "int4":
		return "integer"
	case "int8":
		return "bigint"
	case "float4":
		return "real"
	case "float8":
		return "double precision"
	case "bool":
		return "boolean"
	default:
		return udtName
	}
}
