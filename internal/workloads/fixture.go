// Package workloads holds the benchmark scenarios run by the bench command.
package workloads

import (
	"context"
	"fmt"
	"sort"

	"github.com/google/uuid"

	"shopdb/internal/database"
	"shopdb/internal/ecommerce"
	"shopdb/internal/models"
	"shopdb/internal/runner"
)

// fixture is a customer and a product created for one benchmark run, so runs
// never depend on or exhaust the seeded dataset.
type fixture struct {
	customerID int
	productID  int
	price      int
}

func seedFixture(ctx context.Context, store database.Store, stock int) (fixture, error) {
	customerID, err := store.NextID(ctx, models.CustomersCollection, models.CustomerIDField)
	if err != nil {
		return fixture{}, err
	}
	productID, err := store.NextID(ctx, models.ProductsCollection, models.ProductIDField)
	if err != nil {
		return fixture{}, err
	}
	tag := uuid.NewString()[:8]
	f := fixture{customerID: customerID, productID: productID, price: 10}
	ds := &models.Dataset{
		Customers: []models.Customer{{
			CustomerID: customerID,
			Name:       "bench " + tag,
			Email:      "bench-" + tag + "@example.com",
			Address:    models.Address{Street: "1 Bench St", City: "Loadville", State: "ZZ"},
		}},
		Products: []models.Product{{
			ProductID:   productID,
			ProductName: "bench-" + tag,
			Category:    "Benchmark",
			Price:       f.price,
			Stock:       stock,
		}},
	}
	if err := store.Seed(ctx, ds); err != nil {
		return fixture{}, fmt.Errorf("seed benchmark fixture: %w", err)
	}
	return f, nil
}

// Deps are what the workloads run against.
type Deps struct {
	Store    database.Store
	Orders   *ecommerce.Service
	Reporter database.Reporter
}

type factory func(d Deps) runner.Workload

var registry = map[string]factory{
	"order-processing": func(d Deps) runner.Workload { return &OrderProcessing{Orders: d.Orders, Store: d.Store} },
	"inventory-update": func(d Deps) runner.Workload {
		return &InventoryUpdate{Orders: d.Orders, Store: d.Store, Stock: DefaultInventoryStock}
	},
	"report-read":  func(d Deps) runner.Workload { return &ReportRead{Reporter: d.Reporter, Report: "revenue-by-category"} },
	"join-on-read": func(d Deps) runner.Workload { return &JoinOnRead{Orders: d.Orders, Store: d.Store, Reporter: d.Reporter} },
}

// New returns the named workload.
func New(name string, d Deps) (runner.Workload, error) {
	f, ok := registry[name]
	if !ok {
		return nil, fmt.Errorf("unknown workload %q, expected one of %v", name, Names())
	}
	return f(d), nil
}

func Names() []string {
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
