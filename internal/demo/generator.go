package demo

import (
	"errors"
	"fmt"
	"math"
	"math/rand"
	"time"
)

type Customer struct {
	ID        int64
	Name      string
	Country   string
	SignupAt  time.Time
	Marketing bool
}

type Order struct {
	ID         int64
	CustomerID int64
	Status     string
	Channel    string
	Total      float64
	PlacedAt   time.Time
}

var ErrNoCustomers = errors.New("demo: orders need at least one customer")

// Generator produces a deterministic shop dataset for a given seed.
type Generator struct {
	rnd      *rand.Rand
	epoch    time.Time
	customer int64
	order    int64
}

func NewGenerator(seed int64, epoch time.Time) *Generator {
	return &Generator{
		rnd:   rand.New(rand.NewSource(seed)),
		epoch: epoch.UTC().Truncate(time.Second),
	}
}

func (g *Generator) NextCustomer() Customer {
	g.customer++
	return Customer{
		ID:        g.customer,
		Name:      fmt.Sprintf("%s %s", pickOne(g.rnd, firstNames), pickOne(g.rnd, lastNames)),
		Country:   pickOne(g.rnd, []string{"US", "DE", "GB", "IN", "JP", "BR"}),
		SignupAt:  g.epoch.Add(-time.Duration(g.rnd.Intn(365*24)) * time.Hour),
		Marketing: g.rnd.Intn(3) == 0,
	}
}

// NextOrder draws an order placed by a customer already handed out.
func (g *Generator) NextOrder() (Order, error) {
	if g.customer == 0 {
		return Order{}, ErrNoCustomers
	}
	g.order++
	status := g.pickStatus()
	return Order{
		ID:         g.order,
		CustomerID: g.rnd.Int63n(g.customer) + 1,
		Status:     status,
		Channel:    pickOne(g.rnd, []string{"web", "mobile", "store"}),
		Total:      g.pickTotal(status),
		PlacedAt:   g.epoch.Add(-time.Duration(g.rnd.Intn(90*24*60)) * time.Minute),
	}, nil
}

func (g *Generator) pickStatus() string {
	p := g.rnd.Intn(100)
	switch {
	case p < 70:
		return "delivered"
	case p < 85:
		return "shipped"
	case p < 95:
		return "pending"
	default:
		return "cancelled"
	}
}

func (g *Generator) pickTotal(status string) float64 {
	if status == "cancelled" {
		return 0
	}
	return round2(5 + g.rnd.Float64()*295)
}

var (
	firstNames = []string{"Ada", "Bruno", "Chen", "Dara", "Elif", "Femi", "Greta", "Hiro", "Ines", "Jonas"}
	lastNames  = []string{"Alvarez", "Becker", "Costa", "Dubois", "Evans", "Fischer", "Gupta", "Hansen", "Ito", "Jones"}
)

func round2(value float64) float64 {
	return math.Round(value*100) / 100
}

func pickOne(r *rand.Rand, values []string) string {
	return values[r.Intn(len(values))]
}
