package workloads

import (
	"context"
	"math"

	"shopdb/internal/database"
	"shopdb/internal/ecommerce"
	"shopdb/internal/models"
)

// OrderProcessing measures the full order transaction: id allocation, order
// and item inserts and the stock decrement.
type OrderProcessing struct {
	Orders *ecommerce.Service
	Store  database.Store

	fx fixture
}

func (w *OrderProcessing) Name() string { return "order-processing" }

func (w *OrderProcessing) Setup(ctx context.Context) error {
	fx, err := seedFixture(ctx, w.Store, math.MaxInt32)
	if err != nil {
		return err
	}
	w.fx = fx
	return nil
}

func (w *OrderProcessing) Step(ctx context.Context) error {
	_, err := w.Orders.CreateOrder(ctx, w.fx.customerID, []models.LineItem{
		{ProductID: w.fx.productID, Quantity: 1, Price: w.fx.price},
	})
	return err
}
