package workloads

import (
	"context"
	"fmt"

	"shopdb/internal/database"
	"shopdb/internal/ecommerce"
	"shopdb/internal/models"
)

const joinOnReadItems = 5

// JoinOnRead places one order with several items, then reads it back joined
// with product names on every step.
type JoinOnRead struct {
	Orders   *ecommerce.Service
	Store    database.Store
	Reporter database.Reporter

	orderID int
}

func (w *JoinOnRead) Name() string { return "join-on-read" }

func (w *JoinOnRead) Setup(ctx context.Context) error {
	fx, err := seedFixture(ctx, w.Store, joinOnReadItems)
	if err != nil {
		return err
	}
	lines := make([]models.LineItem, joinOnReadItems)
	for i := range lines {
		lines[i] = models.LineItem{ProductID: fx.productID, Quantity: 1, Price: fx.price}
	}
	receipt, err := w.Orders.CreateOrder(ctx, fx.customerID, lines)
	if err != nil {
		return err
	}
	w.orderID = receipt.Order.OrderID
	return nil
}

func (w *JoinOnRead) Step(ctx context.Context) error {
	details, err := w.Reporter.OrderDetails(ctx, w.orderID)
	if err != nil {
		return err
	}
	if len(details.Items) != joinOnReadItems {
		return fmt.Errorf("order %d: got %d items, want %d", w.orderID, len(details.Items), joinOnReadItems)
	}
	return nil
}
