package schema

import (
	"errors"
	"reflect"
	"testing"
)

func TestNewDocumentCopiesInput(t *testing.T) {
	cols := []Column{{Name: "id", Type: "integer"}, {Name: "total", Type: "numeric"}}
	doc, err := NewDocument(" orders ", cols, nil)
	if err != nil {
		t.Fatalf("NewDocument() error = %v", err)
	}

	cols[0].Name = "mutated"
	if doc.Table != "orders" {
		t.Fatalf("table = %q", doc.Table)
	}
	if got := doc.ColumnNames(); !reflect.DeepEqual(got, []string{"id", "total"}) {
		t.Fatalf("ColumnNames() = %v", got)
	}
}

func TestNewDocumentRejectsInvalidInput(t *testing.T) {
	if _, err := NewDocument("", []Column{{Name: "id"}}, nil); !errors.Is(err, ErrNoTable) {
		t.Fatalf("empty table error = %v, want ErrNoTable", err)
	}
	if _, err := NewDocument("orders", nil, nil); !errors.Is(err, ErrNoColumns) {
		t.Fatalf("no columns error = %v, want ErrNoColumns", err)
	}
	if _, err := NewDocument("orders", []Column{{Name: "id"}, {Name: "id"}}, nil); err == nil {
		t.Fatal("expected duplicate column error")
	}
	if _, err := NewDocument("orders", []Column{{Name: "id"}}, []ForeignKey{{Column: "customer_id"}}); err == nil {
		t.Fatal("expected incomplete foreign key error")
	}
}

func TestRenderWithForeignKeys(t *testing.T) {
	doc, err := NewDocument("orders",
		[]Column{{Name: "id", Type: "integer"}, {Name: "customer_id", Type: "integer"}},
		[]ForeignKey{{Column: "customer_id", RefTable: "customers", RefColumn: "id"}},
	)
	if err != nil {
		t.Fatalf("NewDocument() error = %v", err)
	}

	want := "Table: orders\n" +
		"Columns:\n" +
		"- id: integer\n" +
		"- customer_id: integer\n" +
		"Foreign Keys:\n" +
		"- customer_id -> customers(id)"
	if got := Render(doc); got != want {
		t.Fatalf("Render() =\n%s\nwant\n%s", got, want)
	}
}

func TestRenderWithoutForeignKeys(t *testing.T) {
	doc, err := NewDocument("customers", []Column{{Name: "name", Type: "text"}}, nil)
	if err != nil {
		t.Fatalf("NewDocument() error = %v", err)
	}
	if got := Render(doc); got != "Table: customers\nColumns:\n- name: text" {
		t.Fatalf("Render() = %q", got)
	}
}
