// Package sqlguard decides whether a generated statement may be executed.
//
// Only a single read-only query is accepted: one SELECT (set operations and
// VALUES included) with no INTO target, no row locking, no data-modifying
// statement anywhere in the tree and no call to a function that changes
// state or reaches outside the database. Validate is pure and performs no I/O.
package sqlguard

import (
	"fmt"
	"strings"

	pg_query "github.com/pganalyze/pg_query_go/v6"
	"google.golang.org/protobuf/reflect/protoreflect"
)

type Reason string

const (
	ReasonEmpty              Reason = "empty"
	ReasonParseError         Reason = "parse_error"
	ReasonMultipleStatements Reason = "multiple_statements"
	ReasonNotReadOnly        Reason = "not_read_only"
)

type Verdict struct {
	Valid      bool
	Normalized string
	Reason     Reason
	Detail     string
}

func reject(reason Reason, format string, args ...any) Verdict {
	return Verdict{Reason: reason, Detail: fmt.Sprintf(format, args...)}
}

func Validate(text string) Verdict {
	text = strings.TrimSpace(text)
	if text == "" || strings.Trim(text, "; \t\r\n") == "" {
		return reject(ReasonEmpty, "statement is empty")
	}

	tree, err := pg_query.Parse(text)
	if err != nil {
		return reject(ReasonParseError, "%v", err)
	}
	switch n := len(tree.GetStmts()); {
	case n == 0:
		return reject(ReasonEmpty, "statement is empty")
	case n > 1:
		return reject(ReasonMultipleStatements, "found %d statements", n)
	}

	stmt := tree.GetStmts()[0].GetStmt()
	sel := stmt.GetSelectStmt()
	if sel == nil {
		return reject(ReasonNotReadOnly, "%s is not a query", statementKind(stmt))
	}
	if detail := checkSelect(sel); detail != "" {
		return reject(ReasonNotReadOnly, "%s", detail)
	}

	normalized, err := pg_query.Deparse(tree)
	if err != nil {
		return reject(ReasonParseError, "deparse: %v", err)
	}
	return Verdict{Valid: true, Normalized: normalized}
}

func checkSelect(sel *pg_query.SelectStmt) string {
	return walk(sel.ProtoReflect(), inspect)
}

// walk visits every message in the parse tree depth first and stops at the
// first non-empty detail.
func walk(m protoreflect.Message, visit func(protoreflect.Message) string) string {
	if !m.IsValid() {
		return ""
	}
	if detail := visit(m); detail != "" {
		return detail
	}
	var detail string
	m.Range(func(fd protoreflect.FieldDescriptor, v protoreflect.Value) bool {
		switch {
		case fd.IsMap() || fd.Message() == nil:
		case fd.IsList():
			list := v.List()
			for i := 0; i < list.Len() && detail == ""; i++ {
				detail = walk(list.Get(i).Message(), visit)
			}
		default:
			detail = walk(v.Message(), visit)
		}
		return detail == ""
	})
	return detail
}

func inspect(m protoreflect.Message) string {
	switch n := m.Interface().(type) {
	case *pg_query.SelectStmt:
		if n.GetIntoClause() != nil {
			return "SELECT INTO creates a table"
		}
		if len(n.GetLockingClause()) > 0 {
			return "row locking clauses are not allowed"
		}
	case *pg_query.CommonTableExpr:
		if query := n.GetCtequery(); query.GetSelectStmt() == nil {
			return fmt.Sprintf("WITH %s contains %s", n.GetCtename(), statementKind(query))
		}
	case *pg_query.InsertStmt:
		return "INSERT inside a query"
	case *pg_query.UpdateStmt:
		return "UPDATE inside a query"
	case *pg_query.DeleteStmt:
		return "DELETE inside a query"
	case *pg_query.MergeStmt:
		return "MERGE inside a query"
	case *pg_query.FuncCall:
		if name := funcName(n); deniedFunction(name) {
			return fmt.Sprintf("function %s is not allowed", name)
		}
	}
	return ""
}

func funcName(call *pg_query.FuncCall) string {
	parts := call.GetFuncname()
	if len(parts) == 0 {
		return ""
	}
	return strings.ToLower(parts[len(parts)-1].GetString_().GetSval())
}

// Functions that write, take locks, signal other sessions, sleep, or read
// files and remote sources.
var deniedFunctions = map[string]struct{}{
	"nextval":                     {},
	"setval":                      {},
	"set_config":                  {},
	"txid_current":                {},
	"pg_current_xact_id":          {},
	"pg_notify":                   {},
	"pg_sleep":                    {},
	"pg_sleep_for":                {},
	"pg_sleep_until":              {},
	"pg_terminate_backend":        {},
	"pg_cancel_backend":           {},
	"pg_reload_conf":              {},
	"pg_rotate_logfile":           {},
	"pg_switch_wal":               {},
	"pg_promote":                  {},
	"pg_logical_emit_message":     {},
	"pg_import_system_collations": {},
	"glob":                        {},
	"query":                       {},
	"query_table":                 {},
	"sniff_csv":                   {},
}

var deniedPrefixes = []string{
	"pg_advisory_",
	"pg_try_advisory_",
	"pg_read_",
	"pg_ls_",
	"pg_stat_file",
	"pg_stat_reset",
	"pg_create_",
	"pg_drop_",
	"pg_replication_",
	"pg_file_",
	"lo_",
	"dblink",
	"read_",
	"http_",
}

func deniedFunction(name string) bool {
	if name == "" {
		return false
	}
	if _, ok := deniedFunctions[name]; ok {
		return true
	}
	for _, prefix := range deniedPrefixes {
		if strings.HasPrefix(name, prefix) {
			return true
		}
	}
	// parquet_scan, sqlite_scan, postgres_scan and friends
	return strings.HasSuffix(name, "_scan")
}

func statementKind(node *pg_query.Node) string {
	switch {
	case node == nil:
		return "empty statement"
	case node.GetInsertStmt() != nil:
		return "INSERT"
	case node.GetUpdateStmt() != nil:
		return "UPDATE"
	case node.GetDeleteStmt() != nil:
		return "DELETE"
	case node.GetMergeStmt() != nil:
		return "MERGE"
	case node.GetDropStmt() != nil:
		return "DROP"
	case node.GetTruncateStmt() != nil:
		return "TRUNCATE"
	case node.GetCreateStmt() != nil, node.GetCreateTableAsStmt() != nil:
		return "CREATE"
	case node.GetAlterTableStmt() != nil:
		return "ALTER"
	case node.GetGrantStmt() != nil:
		return "GRANT"
	case node.GetCopyStmt() != nil:
		return "COPY"
	case node.GetTransactionStmt() != nil:
		return "transaction control"
	case node.GetExplainStmt() != nil:
		return "EXPLAIN"
	default:
		return "statement"
	}
}
