// Package schema holds the retrievable description of one database table.
package schema

import (
	"errors"
	"fmt"
	"strings"
)

// Column describes one column that held at least one non-null value when the
// catalog was built.
type Column struct {
	Name      string  `json:"name"`
	Type      string  `json:"type"`
	Nullable  bool    `json:"nullable"`
	Default   *string `json:"default,omitempty"`
	MaxLength *int    `json:"max_length,omitempty"`
}

// ForeignKey is descriptive only; nothing enforces it.
type ForeignKey struct {
	Column    string `json:"column"`
	RefTable  string `json:"ref_table"`
	RefColumn string `json:"ref_column"`
}

// Document is the canonical description of one non-empty table. Columns are
// kept in ordinal order. Treat a Document as immutable once built.
type Document struct {
	Table       string       `json:"table"`
	Columns     []Column     `json:"columns"`
	ForeignKeys []ForeignKey `json:"foreign_keys,omitempty"`
}

var (
	ErrNoTable   = errors.New("schema: table name is required")
	ErrNoColumns = errors.New("schema: at least one column is required")
)

// NewDocument validates its input and returns a Document that owns copies of
// the given slices.
func NewDocument(table string, columns []Column, fks []ForeignKey) (Document, error) {
	table = strings.TrimSpace(table)
	if table == "" {
		return Document{}, ErrNoTable
	}
	if len(columns) == 0 {
		return Document{}, fmt.Errorf("table %q: %w", table, ErrNoColumns)
	}

	seen := make(map[string]struct{}, len(columns))
	cols := make([]Column, 0, len(columns))
	for i, col := range columns {
		if strings.TrimSpace(col.Name) == "" {
			return Document{}, fmt.Errorf("table %q: column %d has no name", table, i)
		}
		if _, dup := seen[col.Name]; dup {
			return Document{}, fmt.Errorf("table %q: duplicate column %q", table, col.Name)
		}
		seen[col.Name] = struct{}{}
		cols = append(cols, col)
	}

	var keys []ForeignKey
	for _, fk := range fks {
		if fk.Column == "" || fk.RefTable == "" || fk.RefColumn == "" {
			return Document{}, fmt.Errorf("table %q: incomplete foreign key %+v", table, fk)
		}
		keys = append(keys, fk)
	}

	return Document{Table: table, Columns: cols, ForeignKeys: keys}, nil
}

// ColumnNames returns the column names in ordinal order.
func (d Document) ColumnNames() []string {
	names := make([]string, 0, len(d.Columns))
	for _, col := range d.Columns {
		names = append(names, col.Name)
	}
	return names
}

// Render produces the canonical text that gets embedded and handed to the
// model as grounding context.
func Render(d Document) string {
	var b strings.Builder
	b.WriteString("Table: ")
	b.WriteString(d.Table)
	b.WriteString("\nColumns:\n")
	for _, col := range d.Columns {
		fmt.Fprintf(&b, "- %s: %s\n", col.Name, col.Type)
	}
	if len(d.ForeignKeys) > 0 {
		b.WriteString("Foreign Keys:\n")
		for _, fk := range d.ForeignKeys {
			fmt.Fprintf(&b, "- %s -> %s(%s)\n", fk.Column, fk.RefTable, fk.RefColumn)
		}
	}
	return strings.TrimRight(b.String(), "\n")
}
