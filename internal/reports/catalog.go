package reports

import (
	"context"
	"errors"
	"sort"

	"shopdb/internal/database"
)

// Params carries the arguments some reports need.
type Params struct {
	CustomerID int
	OrderID    int
	Limit      int
}

type Report struct {
	Name        string
	Description string
	// Cacheable reports take no arguments besides Limit.
	Cacheable bool
	Run       func(ctx context.Context, r database.Reporter, p Params) (any, error)
}

var errCustomerRequired = errors.New("a customer id is required")
var errOrderRequired = errors.New("an order id is required")

var Catalog = []Report{
	{
		Name:        "orders-by-customer",
		Description: "orders placed by one customer, oldest first",
		Run: func(ctx context.Context, r database.Reporter, p Params) (any, error) {
			if p.CustomerID <= 0 {
				return nil, errCustomerRequired
			}
			return r.OrdersByCustomer(ctx, p.CustomerID)
		},
	},
	{
		Name:        "order-details",
		Description: "one order with its items and product names",
		Run: func(ctx context.Context, r database.Reporter, p Params) (any, error) {
			if p.OrderID <= 0 {
				return nil, errOrderRequired
			}
			return r.OrderDetails(ctx, p.OrderID)
		},
	},
	{
		Name:        "revenue-by-category",
		Description: "quantity times current product price, per category",
		Cacheable:   true,
		Run: func(ctx context.Context, r database.Reporter, p Params) (any, error) {
			return r.RevenueByCategory(ctx)
		},
	},
	{
		Name:        "revenue-by-product",
		Description: "quantity times price paid, per product",
		Cacheable:   true,
		Run: func(ctx context.Context, r database.Reporter, p Params) (any, error) {
			return r.RevenueByProduct(ctx)
		},
	},
	{
		Name:        "average-delivery-time",
		Description: "mean time from order to delivery",
		Cacheable:   true,
		Run: func(ctx context.Context, r database.Reporter, p Params) (any, error) {
			return r.AverageDeliveryTime(ctx)
		},
	},
	{
		Name:        "delivery-time-by-order",
		Description: "delivery time of each delivered order, slowest first",
		Cacheable:   true,
		Run: func(ctx context.Context, r database.Reporter, p Params) (any, error) {
			return r.DeliveryTimeByOrder(ctx)
		},
	},
	{
		Name:        "customers-by-state",
		Description: "number of customers per state",
		Cacheable:   true,
		Run: func(ctx context.Context, r database.Reporter, p Params) (any, error) {
			return r.CustomersByState(ctx)
		},
	},
	{
		Name:        "top-products",
		Description: "most expensive products of each order",
		Cacheable:   true,
		Run: func(ctx context.Context, r database.Reporter, p Params) (any, error) {
			return r.TopProductsPerOrder(ctx, p.Limit)
		},
	},
	{
		Name:        "price-audit",
		Description: "products whose price is missing, non-numeric or negative",
		Cacheable:   true,
		Run: func(ctx context.Context, r database.Reporter, p Params) (any, error) {
			return r.PriceAudit(ctx)
		},
	},
}

func Lookup(name string) (Report, bool) {
	for _, r := range Catalog {
		if r.Name == name {
			return r, true
		}
	}
	return Report{}, false
}

func Names() []string {
	names := make([]string, 0, len(Catalog))
	for _, r := range Catalog {
		names = append(names, r.Name)
	}
	sort.Strings(names)
	return names
}
