package database

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"shopdb/internal/models"
)

var day0 = time.Date(2024, 1, 10, 9, 0, 0, 0, time.UTC)

func ptr[T any](v T) *T { return &v }

func sampleDataset() *models.Dataset {
	addr := func(state string) models.Address {
		return models.Address{Street: "1 Main St", City: "Springfield", State: state}
	}
	return &models.Dataset{
		Customers: []models.Customer{
			{CustomerID: 1, Name: "Ada", Email: "ada@example.com", Address: addr("CA")},
			{CustomerID: 2, Name: "Bob", Email: "bob@example.com", Address: addr("NY")},
			{CustomerID: 3, Name: "Cy", Email: "cy@example.com", Address: addr("CA")},
		},
		Products: []models.Product{
			{ProductID: 10, ProductName: "Laptop", Category: "Electronics", Price: 1000, Stock: 5},
			{ProductID: 11, ProductName: "Mouse", Category: "Electronics", Price: 25, Stock: 100},
			{ProductID: 12, ProductName: "Novel", Category: "Books", Price: 15, Stock: 40},
			{ProductID: 13, ProductName: "Lamp", Category: "Home", Price: 40, Stock: 0},
		},
		Orders: []models.Order{
			{OrderID: 100, CustomerID: 1, OrderDate: day0, DeliveryDate: ptr(day0.Add(48 * time.Hour)), Status: models.StatusDelivered},
			{OrderID: 101, CustomerID: 1, OrderDate: day0.Add(-24 * time.Hour), Status: models.StatusShipped},
			{OrderID: 102, CustomerID: 2, OrderDate: day0, DeliveryDate: ptr(day0.Add(96 * time.Hour)), Status: models.StatusDelivered},
		},
		OrderItems: []models.OrderItem{
			{OrderItemID: 1000, OrderID: 100, ProductID: 10, Quantity: 1, Price: 950},
			{OrderItemID: 1001, OrderID: 100, ProductID: 11, Quantity: 2, Price: 25},
			{OrderItemID: 1002, OrderID: 100, ProductID: 12, Quantity: 1, Price: 15},
			{OrderItemID: 1003, OrderID: 100, ProductID: 13, Quantity: 1, Price: 40},
			{OrderItemID: 1004, OrderID: 101, ProductID: 12, Quantity: 3, Price: 15},
			{OrderItemID: 1005, OrderID: 102, ProductID: 11, Quantity: 1, Price: 20},
		},
	}
}

func seededStore(t *testing.T) *MemoryStore {
	t.Helper()
	ms := NewMemoryStore()
	require.NoError(t, ms.Seed(context.Background(), sampleDataset()))
	return ms
}

func TestMemoryStore_NextID(t *testing.T) {
	ctx := context.Background()

	t.Run("empty collection starts at FirstID", func(t *testing.T) {
		ms := NewMemoryStore()
		id, err := ms.NextID(ctx, models.OrdersCollection, models.OrderIDField)
		require.NoError(t, err)
		assert.Equal(t, FirstID, id)
	})

	t.Run("max plus one and strictly increasing", func(t *testing.T) {
		ms := seededStore(t)
		id, err := ms.NextID(ctx, models.OrdersCollection, models.OrderIDField)
		require.NoError(t, err)
		assert.Equal(t, 103, id)

		id, err = ms.NextID(ctx, models.OrdersCollection, models.OrderIDField)
		require.NoError(t, err)
		assert.Equal(t, 104, id)
	})

	t.Run("invalid identifier", func(t *testing.T) {
		ms := NewMemoryStore()
		_, err := ms.NextID(ctx, "orders$", models.OrderIDField)
		assert.ErrorIs(t, err, ErrInvalidIdentifier)
	})

	t.Run("concurrent callers get distinct ids", func(t *testing.T) {
		ms := seededStore(t)
		const callers = 50
		ids := make(chan int, callers)
		var wg sync.WaitGroup
		for i := 0; i < callers; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				id, err := ms.NextID(ctx, models.OrderItemsCollection, models.OrderItemIDField)
				assert.NoError(t, err)
				ids <- id
			}()
		}
		wg.Wait()
		close(ids)

		seen := make(map[int]bool)
		for id := range ids {
			assert.False(t, seen[id], "duplicate id %d", id)
			assert.Greater(t, id, 1005)
			seen[id] = true
		}
		assert.Len(t, seen, callers)
	})
}

func TestMemoryStore_ExecuteTxRollsBack(t *testing.T) {
	ctx := context.Background()
	ms := seededStore(t)
	boom := errors.New("boom")

	err := ms.ExecuteTx(ctx, func(ctx context.Context, tx Tx) error {
		id, err := tx.NextID(ctx, models.OrdersCollection, models.OrderIDField)
		require.NoError(t, err)
		require.NoError(t, tx.InsertOrder(ctx, &models.Order{
			OrderID: id, CustomerID: 1, OrderDate: day0, Status: models.StatusProcessing,
		}))
		require.NoError(t, tx.DecrementStock(ctx, 10, 2))
		return boom
	})
	require.ErrorIs(t, err, boom)

	_, err = ms.GetOrder(ctx, 103)
	assert.ErrorIs(t, err, ErrNotFound)
	p, err := ms.GetProduct(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, 5, p.Stock)

	// The reserved id is released with the rest of the transaction.
	id, err := ms.NextID(ctx, models.OrdersCollection, models.OrderIDField)
	require.NoError(t, err)
	assert.Equal(t, 103, id)
}

func TestMemoryStore_DirectWritesSurviveRollback(t *testing.T) {
	ctx := context.Background()
	ms := seededStore(t)
	boom := errors.New("boom")

	written := make(chan struct{})
	release := make(chan struct{})
	txDone := make(chan error, 1)
	go func() {
		txDone <- ms.ExecuteTx(ctx, func(ctx context.Context, tx Tx) error {
			if _, err := tx.NextID(ctx, models.OrdersCollection, models.OrderIDField); err != nil {
				return err
			}
			if err := tx.DecrementStock(ctx, 10, 1); err != nil {
				return err
			}
			close(written)
			<-release
			return boom
		})
	}()
	<-written

	var (
		wg       sync.WaitGroup
		directID int
		idErr    error
		stockErr error
	)
	wg.Add(2)
	go func() {
		defer wg.Done()
		directID, idErr = ms.NextID(ctx, models.OrdersCollection, models.OrderIDField)
	}()
	go func() {
		defer wg.Done()
		stockErr = ms.DecrementStock(ctx, 10, 2)
	}()
	time.Sleep(20 * time.Millisecond)
	close(release)

	require.ErrorIs(t, <-txDone, boom)
	wg.Wait()
	require.NoError(t, idErr)
	require.NoError(t, stockErr)

	p, err := ms.GetProduct(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, 3, p.Stock, "rollback keeps the direct decrement")

	seen := map[int]bool{directID: true}
	for i := 0; i < 2; i++ {
		id, err := ms.NextID(ctx, models.OrdersCollection, models.OrderIDField)
		require.NoError(t, err)
		assert.False(t, seen[id], "id %d handed out twice", id)
		seen[id] = true
	}
}

func TestMemoryStore_DecrementStock(t *testing.T) {
	ctx := context.Background()
	ms := seededStore(t)

	require.NoError(t, ms.DecrementStock(ctx, 10, 2))
	p, err := ms.GetProduct(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, 3, p.Stock)

	assert.ErrorIs(t, ms.DecrementStock(ctx, 13, 1), ErrInsufficientStock)
	assert.ErrorIs(t, ms.DecrementStock(ctx, 999, 1), ErrProductNotFound)
}

func TestMemoryStore_SeedRejectsDuplicates(t *testing.T) {
	ms := seededStore(t)
	ds := &models.Dataset{Customers: []models.Customer{
		{CustomerID: 9, Name: "Dup", Email: "ada@example.com", Address: models.Address{State: "CA"}},
	}}
	assert.Error(t, ms.Seed(context.Background(), ds))

	exists, err := ms.CustomerExists(context.Background(), 9)
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestMemoryStore_Reports(t *testing.T) {
	ctx := context.Background()
	ms := seededStore(t)

	t.Run("orders by customer sorted by date", func(t *testing.T) {
		orders, err := ms.OrdersByCustomer(ctx, 1)
		require.NoError(t, err)
		require.Len(t, orders, 2)
		assert.Equal(t, 101, orders[0].OrderID)
		assert.Equal(t, 100, orders[1].OrderID)

		orders, err = ms.OrdersByCustomer(ctx, 3)
		require.NoError(t, err)
		assert.Empty(t, orders)
	})

	t.Run("order details", func(t *testing.T) {
		details, err := ms.OrderDetails(ctx, 101)
		require.NoError(t, err)
		require.Len(t, details.Items, 1)
		assert.Equal(t, "Novel", details.Items[0].ProductName)
		assert.Equal(t, 45, details.Total)

		_, err = ms.OrderDetails(ctx, 999)
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("revenue by category uses product price", func(t *testing.T) {
		rows, err := ms.RevenueByCategory(ctx)
		require.NoError(t, err)
		assert.Equal(t, []CategoryRevenue{
			{Category: "Electronics", TotalRevenue: 1000 + 2*25 + 25},
			{Category: "Books", TotalRevenue: 15 + 3*15},
			{Category: "Home", TotalRevenue: 40},
		}, rows)
	})

	t.Run("revenue by product uses price paid", func(t *testing.T) {
		rows, err := ms.RevenueByProduct(ctx)
		require.NoError(t, err)
		assert.Equal(t, []ProductRevenue{
			{ProductID: 10, TotalRevenue: 950},
			{ProductID: 11, TotalRevenue: 70},
			{ProductID: 12, TotalRevenue: 60},
			{ProductID: 13, TotalRevenue: 40},
		}, rows)
	})

	t.Run("delivery times", func(t *testing.T) {
		stats, err := ms.AverageDeliveryTime(ctx)
		require.NoError(t, err)
		assert.Equal(t, 2, stats.Orders)
		assert.InDelta(t, 3.0, stats.AverageDeliveryTimeDays, 1e-9)
		assert.InDelta(t, float64(72*time.Hour/time.Millisecond), stats.AverageDeliveryTimeMs, 1e-6)

		perOrder, err := ms.DeliveryTimeByOrder(ctx)
		require.NoError(t, err)
		require.Len(t, perOrder, 2)
		assert.Equal(t, 102, perOrder[0].OrderID)
		assert.InDelta(t, 4.0, perOrder[0].DeliveryTimeDays, 1e-9)
		assert.Equal(t, 100, perOrder[1].OrderID)
	})

	t.Run("customers by state", func(t *testing.T) {
		rows, err := ms.CustomersByState(ctx)
		require.NoError(t, err)
		assert.Equal(t, []StateCount{{State: "CA", CustomerCount: 2}, {State: "NY", CustomerCount: 1}}, rows)
	})

	t.Run("top products per order", func(t *testing.T) {
		rows, err := ms.TopProductsPerOrder(ctx, 3)
		require.NoError(t, err)
		require.Len(t, rows, 3)
		assert.Equal(t, 100, rows[0].OrderID)
		require.Len(t, rows[0].TopProducts, 3)
		assert.Equal(t, []string{"Laptop", "Lamp", "Mouse"}, []string{
			rows[0].TopProducts[0].ProductName,
			rows[0].TopProducts[1].ProductName,
			rows[0].TopProducts[2].ProductName,
		})
		assert.Equal(t, int64(50), rows[0].TopProducts[2].TotalPrice)
	})

	t.Run("price audit", func(t *testing.T) {
		res, err := ms.PriceAudit(ctx)
		require.NoError(t, err)
		assert.Equal(t, 4, res.Valid)
		assert.Empty(t, res.Invalid)
	})
}

func TestMemoryStore_Watch(t *testing.T) {
	ms := seededStore(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	events := make(chan ChangeEvent, 4)
	done := make(chan error, 1)
	go func() {
		done <- ms.Watch(ctx, func(ev ChangeEvent) error {
			events <- ev
			return nil
		})
	}()
	require.Eventually(t, func() bool { return ms.Watchers() == 1 }, time.Second, 5*time.Millisecond)

	require.NoError(t, ms.InsertOrder(context.Background(), &models.Order{
		OrderID: 200, CustomerID: 2, OrderDate: day0, Status: models.StatusProcessing,
	}))
	require.NoError(t, ms.UpdateOrderStatus(context.Background(), 200, models.StatusShipped, nil))

	ev := <-events
	assert.Equal(t, "insert", ev.OperationType)
	assert.Equal(t, models.OrdersCollection, ev.Collection)
	assert.Equal(t, 200, ev.DocumentKey[models.OrderIDField])
	assert.Equal(t, "Processing", ev.FullDocument["status"])

	ev = <-events
	assert.Equal(t, "update", ev.OperationType)
	assert.Equal(t, "Shipped", ev.UpdatedFields["status"])

	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)
}
