// Package demo seeds a small, deterministic shop database so the service can be
// tried end to end without bringing real data.
package demo

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

//go:embed sql/shop.sql
var shopSchema string

// Tables lists the tables Seed creates. order_returns stays empty.
var Tables = []string{"customers", "orders", "order_returns"}

type Options struct {
	Customers int
	Orders    int
	Seed      int64
	Epoch     time.Time
	// Positional selects $1-style placeholders instead of ?.
	Positional bool
}

type Summary struct {
	Customers int
	Orders    int
	Revenue   float64
}

func (o Options) withDefaults() Options {
	if o.Customers <= 0 {
		o.Customers = 25
	}
	if o.Orders <= 0 {
		o.Orders = 200
	}
	if o.Epoch.IsZero() {
		o.Epoch = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	}
	return o
}

// Seed creates the shop tables and fills them in a single transaction.
func Seed(ctx context.Context, db *sql.DB, opts Options) (Summary, error) {
	if db == nil {
		return Summary{}, errors.New("demo: db is required")
	}
	opts = opts.withDefaults()

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return Summary{}, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	for _, stmt := range statements(shopSchema) {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return Summary{}, fmt.Errorf("create demo schema: %w", err)
		}
	}

	insertCustomer := `INSERT INTO customers (customer_id, full_name, country, signup_at, marketing_opt_in) VALUES ` + placeholders(5, opts.Positional)
	insertOrder := `INSERT INTO orders (order_id, customer_id, status, channel, total_amount, placed_at) VALUES ` + placeholders(6, opts.Positional)

	gen := NewGenerator(opts.Seed, opts.Epoch)
	summary := Summary{}
	for i := 0; i < opts.Customers; i++ {
		c := gen.NextCustomer()
		if _, err := tx.ExecContext(ctx, insertCustomer, c.ID, c.Name, c.Country, c.SignupAt, c.Marketing); err != nil {
			return Summary{}, fmt.Errorf("insert customer %d: %w", c.ID, err)
		}
		summary.Customers++
	}
	for i := 0; i < opts.Orders; i++ {
		o, err := gen.NextOrder()
		if err != nil {
			return Summary{}, err
		}
		if _, err := tx.ExecContext(ctx, insertOrder, o.ID, o.CustomerID, o.Status, o.Channel, o.Total, o.PlacedAt); err != nil {
			return Summary{}, fmt.Errorf("insert order %d: %w", o.ID, err)
		}
		summary.Orders++
		summary.Revenue = round2(summary.Revenue + o.Total)
	}

	if err := tx.Commit(); err != nil {
		return Summary{}, fmt.Errorf("commit demo data: %w", err)
	}
	return summary, nil
}

func statements(script string) []string {
	parts := strings.Split(script, ";")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		if stmt := strings.TrimSpace(part); stmt != "" {
			out = append(out, stmt)
		}
	}
	return out
}

func placeholders(n int, positional bool) string {
	marks := make([]string, n)
	for i := range marks {
		if positional {
			marks[i] = "$" + strconv.Itoa(i+1)
		} else {
			marks[i] = "?"
		}
	}
	return "(" + strings.Join(marks, ", ") + ")"
}
