package sqlguard

import "testing"

func TestValidateAcceptsSingleSelect(t *testing.T) {
	v := Validate("SELECT 1")
	if !v.Valid {
		t.Fatalf("expected valid verdict, got %+v", v)
	}
	if v.Normalized != "SELECT 1" {
		t.Fatalf("normalized = %q", v.Normalized)
	}
	if v.Reason != "" {
		t.Fatalf("reason = %q, want empty", v.Reason)
	}
}

func TestValidateRejectsMultipleStatements(t *testing.T) {
	v := Validate("SELECT 1; DROP TABLE x;")
	if v.Valid || v.Reason != ReasonMultipleStatements {
		t.Fatalf("verdict = %+v, want %s", v, ReasonMultipleStatements)
	}
}

func TestValidateRejectsUnparseable(t *testing.T) {
	v := Validate("SELEC name FRM users")
	if v.Valid || v.Reason != ReasonParseError {
		t.Fatalf("verdict = %+v, want %s", v, ReasonParseError)
	}
}

func TestValidateRejectsEmpty(t *testing.T) {
	for _, in := range []string{"", "   ", ";", " ; ;"} {
		v := Validate(in)
		if v.Valid || v.Reason != ReasonEmpty {
			t.Fatalf("Validate(%q) = %+v, want %s", in, v, ReasonEmpty)
		}
	}
}

func TestValidateRejectsWrites(t *testing.T) {
	cases := map[string]string{
		"delete":           "DELETE FROM orders",
		"insert":           "INSERT INTO orders (id) VALUES (1)",
		"update":           "UPDATE orders SET total = 0",
		"drop":             "DROP TABLE orders",
		"truncate":         "TRUNCATE orders",
		"create":           "CREATE TABLE t (id int)",
		"alter":            "ALTER TABLE orders ADD COLUMN x int",
		"select into":      "SELECT * INTO backup FROM orders",
		"for update":       "SELECT * FROM orders FOR UPDATE",
		"subquery lock":    "SELECT * FROM (SELECT * FROM orders FOR SHARE) o",
		"cte delete":       "WITH gone AS (DELETE FROM orders RETURNING *) SELECT count(*) FROM gone",
		"nested cte":       "WITH a AS (WITH b AS (UPDATE orders SET total = 0 RETURNING id) SELECT * FROM b) SELECT * FROM a",
		"union arm cte":    "SELECT 1 UNION ALL (WITH d AS (DELETE FROM orders RETURNING id) SELECT id FROM d)",
		"begin":            "BEGIN",
		"copy":             "COPY orders TO '/tmp/x'",
		"nextval":          "SELECT nextval('order_ids') FROM range(1000)",
		"qualified":        "SELECT pg_catalog.nextval('order_ids')",
		"setval":           "SELECT setval('order_ids', 1)",
		"nested call":      "SELECT id FROM orders WHERE id > (SELECT nextval('order_ids'))",
		"advisory lock":    "SELECT pg_advisory_lock(42)",
		"terminate":        "SELECT pg_terminate_backend(pid) FROM pg_stat_activity",
		"cancel":           "SELECT pg_cancel_backend(1)",
		"large object":     "SELECT lo_import('/etc/passwd')",
		"dblink":           "SELECT * FROM dblink_exec('host=x', 'DELETE FROM orders')",
		"read file":        "SELECT pg_read_file('/etc/passwd')",
		"sleep":            "SELECT pg_sleep(60)",
		"set config":       "SELECT set_config('search_path', 'x', false)",
		"duckdb read_csv":  "SELECT * FROM read_csv('/etc/passwd')",
		"duckdb glob":      "SELECT * FROM glob('/home/*')",
		"duckdb scan":      "SELECT * FROM sqlite_scan('other.db', 'users')",
		"upper-case call":  "SELECT NEXTVAL('order_ids')",
		"call in group by": "SELECT count(*) FROM orders GROUP BY setval('s', 1)",
	}
	for name, sql := range cases {
		t.Run(name, func(t *testing.T) {
			v := Validate(sql)
			if v.Valid {
				t.Fatalf("expected %q to be rejected", sql)
			}
			if v.Reason != ReasonNotReadOnly {
				t.Fatalf("reason = %s (%s), want %s", v.Reason, v.Detail, ReasonNotReadOnly)
			}
			if v.Detail == "" {
				t.Fatal("expected detail")
			}
		})
	}
}

func TestValidateAcceptsReadOnlyShapes(t *testing.T) {
	for _, sql := range []string{
		"SELECT COUNT(*) FROM orders",
		"select o.id, c.name from orders o join customers c on c.id = o.customer_id where o.total > 10 order by o.id limit 5",
		"WITH big AS (SELECT * FROM orders WHERE total > 100) SELECT count(*) FROM big",
		"SELECT id FROM orders UNION SELECT id FROM refunds",
		"SELECT 1;",
		"VALUES (1, 'a')",
		"SELECT date_trunc('month', placed_at) AS month, round(sum(total_amount), 2) FROM orders GROUP BY 1",
		"SELECT lower(full_name), coalesce(country, 'n/a') FROM customers",
		"SELECT * FROM range(10)",
		"SELECT id FROM orders WHERE id IN (SELECT order_id FROM order_returns)",
	} {
		v := Validate(sql)
		if !v.Valid {
			t.Fatalf("Validate(%q) rejected: %s", sql, v.Detail)
		}
		if v.Normalized == "" {
			t.Fatalf("Validate(%q) returned empty normalized text", sql)
		}
	}
}

func TestValidateNormalizesText(t *testing.T) {
	v := Validate("select   count(*)   from orders")
	if !v.Valid {
		t.Fatalf("unexpected rejection: %s", v.Detail)
	}
	if v.Normalized != "SELECT count(*) FROM orders" {
		t.Fatalf("normalized = %q", v.Normalized)
	}
}

func TestDeniedFunction(t *testing.T) {
	for name, want := range map[string]bool{
		"nextval":          true,
		"pg_advisory_lock": true,
		"lo_unlink":        true,
		"read_parquet":     true,
		"parquet_scan":     true,
		"count":            false,
		"date_trunc":       false,
		"currval":          false,
		"":                 false,
	} {
		if got := deniedFunction(name); got != want {
			t.Fatalf("deniedFunction(%q) = %v, want %v", name, got, want)
		}
	}
}
