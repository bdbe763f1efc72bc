// Package ecommerce implements the order workflows on top of a database.Store.
package ecommerce

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"shopdb/internal/database"
	"shopdb/internal/models"
)

var ErrInvalidTransition = errors.New("invalid status transition")

// Invalidator drops cached reports after a write.
type Invalidator interface {
	Invalidate(ctx context.Context) error
}

type Service struct {
	store       database.Store
	logger      *zap.Logger
	invalidator Invalidator
	now         func() time.Time
}

type Option func(*Service)

func WithInvalidator(inv Invalidator) Option {
	return func(s *Service) { s.invalidator = inv }
}

func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

func NewService(store database.Store, logger *zap.Logger, opts ...Option) *Service {
	s := &Service{
		store:  store,
		logger: logger,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

type OrderReceipt struct {
	Order models.Order       `json:"order"`
	Items []models.OrderItem `json:"items"`
}

// Total is the amount charged, at the prices recorded on the items.
func (r *OrderReceipt) Total() int {
	total := 0
	for _, it := range r.Items {
		total += it.Quantity * it.Price
	}
	return total
}

// timestamp is UTC at millisecond precision, the resolution of a BSON date.
func (s *Service) timestamp() time.Time {
	return s.now().UTC().Truncate(time.Millisecond)
}

// CreateOrder records a Processing order for customerID with one item per
// line item and takes the quantities out of stock. Nothing is written unless
// every step succeeds.
func (s *Service) CreateOrder(ctx context.Context, customerID int, lines []models.LineItem) (*OrderReceipt, error) {
	log := s.logger.With(zap.String("request_id", uuid.NewString()), zap.Int("customer_id", customerID))

	if customerID <= 0 {
		return nil, &models.ValidationError{Messages: []string{"customer_id: must be greater than 0"}}
	}
	if err := models.ValidateLineItems(lines); err != nil {
		log.Warn("rejected order", zap.Error(err))
		return nil, err
	}

	var receipt *OrderReceipt
	err := s.store.ExecuteTx(ctx, func(ctx context.Context, tx database.Tx) error {
		receipt = nil
		ok, err := tx.CustomerExists(ctx, customerID)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("customer %d: %w", customerID, database.ErrCustomerNotFound)
		}

		orderID, err := tx.NextID(ctx, models.OrdersCollection, models.OrderIDField)
		if err != nil {
			return err
		}
		order := models.Order{
			OrderID:    orderID,
			CustomerID: customerID,
			OrderDate:  s.timestamp(),
			Status:     models.StatusProcessing,
		}
		if err := tx.InsertOrder(ctx, &order); err != nil {
			return err
		}

		items := make([]models.OrderItem, 0, len(lines))
		for _, line := range lines {
			itemID, err := tx.NextID(ctx, models.OrderItemsCollection, models.OrderItemIDField)
			if err != nil {
				return err
			}
			item := models.OrderItem{
				OrderItemID: itemID,
				OrderID:     orderID,
				ProductID:   line.ProductID,
				Quantity:    line.Quantity,
				Price:       line.Price,
			}
			if err := tx.InsertOrderItem(ctx, &item); err != nil {
				return err
			}
			items = append(items, item)
		}

		for _, line := range lines {
			if err := tx.DecrementStock(ctx, line.ProductID, line.Quantity); err != nil {
				return err
			}
		}

		receipt = &OrderReceipt{Order: order, Items: items}
		return nil
	})
	if err != nil {
		log.Warn("order aborted", zap.Error(err))
		return nil, err
	}

	log.Info("order created",
		zap.Int("order_id", receipt.Order.OrderID),
		zap.Int("items", len(receipt.Items)),
		zap.Int("total", receipt.Total()))
	s.invalidate(ctx, log)
	return receipt, nil
}

// UpdateStatus moves an order along the status lifecycle. Entering
// Delivered stamps the delivery date.
func (s *Service) UpdateStatus(ctx context.Context, orderID int, status models.OrderStatus) (*models.Order, error) {
	log := s.logger.With(zap.String("request_id", uuid.NewString()), zap.Int("order_id", orderID))

	if !status.Valid() {
		return nil, &models.ValidationError{Messages: []string{fmt.Sprintf("status: must be one of %v", models.Statuses)}}
	}

	var updated *models.Order
	err := s.store.ExecuteTx(ctx, func(ctx context.Context, tx database.Tx) error {
		order, err := tx.GetOrder(ctx, orderID)
		if err != nil {
			return err
		}
		if !order.Status.CanTransition(status) {
			return fmt.Errorf("order %d %s -> %s: %w", orderID, order.Status, status, ErrInvalidTransition)
		}

		var delivered *time.Time
		if status == models.StatusDelivered {
			ts := s.timestamp()
			delivered = &ts
		}
		if err := tx.UpdateOrderStatus(ctx, orderID, status, delivered); err != nil {
			return err
		}
		order.Status = status
		if delivered != nil {
			order.DeliveryDate = delivered
		}
		updated = order
		return nil
	})
	if err != nil {
		log.Warn("status update rejected", zap.Error(err))
		return nil, err
	}

	log.Info("order status updated", zap.String("status", string(status)))
	s.invalidate(ctx, log)
	return updated, nil
}

func (s *Service) invalidate(ctx context.Context, log *zap.Logger) {
	if s.invalidator == nil {
		return
	}
	if err := s.invalidator.Invalidate(ctx); err != nil {
		log.Warn("report cache invalidation failed", zap.Error(err))
	}
}
