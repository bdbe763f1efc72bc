package workloads

import (
	"context"
	"sync/atomic"

	"shopdb/internal/database"
	"shopdb/internal/ecommerce"
	"shopdb/internal/models"
)

const DefaultInventoryStock = 1000

// InventoryUpdate has every worker order the same product until its stock
// runs out; orders after that fail with ErrInsufficientStock. Verify checks
// that stock never went negative and that exactly one unit left stock per
// successful order.
type InventoryUpdate struct {
	Orders *ecommerce.Service
	Store  database.Store
	Stock  int

	fx   fixture
	sold atomic.Int64
}

func (w *InventoryUpdate) Name() string { return "inventory-update" }

func (w *InventoryUpdate) Setup(ctx context.Context) error {
	if w.Stock <= 0 {
		w.Stock = DefaultInventoryStock
	}
	fx, err := seedFixture(ctx, w.Store, w.Stock)
	if err != nil {
		return err
	}
	w.fx = fx
	w.sold.Store(0)
	return nil
}

func (w *InventoryUpdate) Step(ctx context.Context) error {
	_, err := w.Orders.CreateOrder(ctx, w.fx.customerID, []models.LineItem{
		{ProductID: w.fx.productID, Quantity: 1, Price: w.fx.price},
	})
	if err != nil {
		return err
	}
	w.sold.Add(1)
	return nil
}

func (w *InventoryUpdate) Verify(ctx context.Context) (bool, error) {
	p, err := w.Store.GetProduct(ctx, w.fx.productID)
	if err != nil {
		return false, err
	}
	return p.Stock >= 0 && int64(p.Stock) == int64(w.Stock)-w.sold.Load(), nil
}
