package reports

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"shopdb/internal/database"
	"shopdb/internal/models"
)

type mockReporter struct {
	mock.Mock
}

func (m *mockReporter) OrdersByCustomer(ctx context.Context, customerID int) ([]models.Order, error) {
	args := m.Called(ctx, customerID)
	return args.Get(0).([]models.Order), args.Error(1)
}

func (m *mockReporter) OrderDetails(ctx context.Context, orderID int) (*database.OrderDetails, error) {
	args := m.Called(ctx, orderID)
	return args.Get(0).(*database.OrderDetails), args.Error(1)
}

func (m *mockReporter) RevenueByCategory(ctx context.Context) ([]database.CategoryRevenue, error) {
	args := m.Called(ctx)
	return args.Get(0).([]database.CategoryRevenue), args.Error(1)
}

func (m *mockReporter) RevenueByProduct(ctx context.Context) ([]database.ProductRevenue, error) {
	args := m.Called(ctx)
	return args.Get(0).([]database.ProductRevenue), args.Error(1)
}

func (m *mockReporter) AverageDeliveryTime(ctx context.Context) (*database.DeliveryStats, error) {
	args := m.Called(ctx)
	return args.Get(0).(*database.DeliveryStats), args.Error(1)
}

func (m *mockReporter) DeliveryTimeByOrder(ctx context.Context) ([]database.OrderDeliveryTime, error) {
	args := m.Called(ctx)
	return args.Get(0).([]database.OrderDeliveryTime), args.Error(1)
}

func (m *mockReporter) CustomersByState(ctx context.Context) ([]database.StateCount, error) {
	args := m.Called(ctx)
	return args.Get(0).([]database.StateCount), args.Error(1)
}

func (m *mockReporter) TopProductsPerOrder(ctx context.Context, limit int) ([]database.OrderTopProducts, error) {
	args := m.Called(ctx, limit)
	return args.Get(0).([]database.OrderTopProducts), args.Error(1)
}

func (m *mockReporter) PriceAudit(ctx context.Context) (*database.PriceAuditResult, error) {
	args := m.Called(ctx)
	return args.Get(0).(*database.PriceAuditResult), args.Error(1)
}

type mapCache struct {
	mu      sync.Mutex
	entries map[string][]byte
	getErr  error
}

func newMapCache() *mapCache {
	return &mapCache{entries: make(map[string][]byte)}
}

func (c *mapCache) Get(ctx context.Context, key string) ([]byte, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.getErr != nil {
		return nil, false, c.getErr
	}
	v, ok := c.entries[key]
	return v, ok, nil
}

func (c *mapCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = value
	return nil
}

func (c *mapCache) DeletePrefix(ctx context.Context, prefix string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for k := range c.entries {
		if strings.HasPrefix(k, prefix) {
			delete(c.entries, k)
		}
	}
	return nil
}

var ctx = context.Background()

func TestCached_ServesSecondCallFromCache(t *testing.T) {
	rep := &mockReporter{}
	rows := []database.CategoryRevenue{{Category: "Books", TotalRevenue: 60}}
	rep.On("RevenueByCategory", mock.Anything).Return(rows, nil).Once()

	cached := NewCached(rep, newMapCache(), time.Minute, zap.NewNop())
	first, err := cached.RevenueByCategory(ctx)
	require.NoError(t, err)
	second, err := cached.RevenueByCategory(ctx)
	require.NoError(t, err)

	assert.Equal(t, rows, first)
	assert.Equal(t, rows, second)
	rep.AssertExpectations(t)
}

func TestCached_InvalidateForcesReload(t *testing.T) {
	rep := &mockReporter{}
	rep.On("CustomersByState", mock.Anything).Return([]database.StateCount{{State: "CA", CustomerCount: 1}}, nil).Once()
	rep.On("CustomersByState", mock.Anything).Return([]database.StateCount{{State: "CA", CustomerCount: 2}}, nil).Once()

	cached := NewCached(rep, newMapCache(), time.Minute, zap.NewNop())
	before, err := cached.CustomersByState(ctx)
	require.NoError(t, err)
	require.NoError(t, cached.Invalidate(ctx))
	after, err := cached.CustomersByState(ctx)
	require.NoError(t, err)

	assert.Equal(t, 1, before[0].CustomerCount)
	assert.Equal(t, 2, after[0].CustomerCount)
	rep.AssertExpectations(t)
}

func TestCached_InvalidateDuringComputeSkipsStore(t *testing.T) {
	rep := &mockReporter{}
	cache := newMapCache()
	cached := NewCached(rep, cache, time.Minute, zap.NewNop())

	rep.On("RevenueByCategory", mock.Anything).
		Run(func(mock.Arguments) { require.NoError(t, cached.Invalidate(ctx)) }).
		Return([]database.CategoryRevenue{{Category: "Books", TotalRevenue: 60}}, nil).Once()
	rep.On("RevenueByCategory", mock.Anything).
		Return([]database.CategoryRevenue{{Category: "Books", TotalRevenue: 75}}, nil).Once()

	stale, err := cached.RevenueByCategory(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(60), stale[0].TotalRevenue)
	assert.Empty(t, cache.entries, "result computed across an invalidation is not cached")

	fresh, err := cached.RevenueByCategory(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(75), fresh[0].TotalRevenue)
	assert.Len(t, cache.entries, 1)
	rep.AssertExpectations(t)
}

func TestCached_TopProductsKeyedByLimit(t *testing.T) {
	rep := &mockReporter{}
	rep.On("TopProductsPerOrder", mock.Anything, database.DefaultTopProducts).Return([]database.OrderTopProducts{{OrderID: 1}}, nil).Once()
	rep.On("TopProductsPerOrder", mock.Anything, 1).Return([]database.OrderTopProducts{{OrderID: 2}}, nil).Once()

	cached := NewCached(rep, newMapCache(), time.Minute, zap.NewNop())
	a, err := cached.TopProductsPerOrder(ctx, 0)
	require.NoError(t, err)
	b, err := cached.TopProductsPerOrder(ctx, database.DefaultTopProducts)
	require.NoError(t, err)
	c, err := cached.TopProductsPerOrder(ctx, 1)
	require.NoError(t, err)

	assert.Equal(t, a, b)
	assert.Equal(t, 2, c[0].OrderID)
	rep.AssertExpectations(t)
}

func TestCached_CacheFailureFallsBackToStore(t *testing.T) {
	rep := &mockReporter{}
	rep.On("PriceAudit", mock.Anything).Return(&database.PriceAuditResult{Valid: 3}, nil).Twice()

	cache := newMapCache()
	cache.getErr = errors.New("connection refused")
	cached := NewCached(rep, cache, time.Minute, zap.NewNop())

	for i := 0; i < 2; i++ {
		res, err := cached.PriceAudit(ctx)
		require.NoError(t, err)
		assert.Equal(t, 3, res.Valid)
	}
	rep.AssertExpectations(t)
}

func TestCached_ErrorsAreNotCached(t *testing.T) {
	rep := &mockReporter{}
	boom := errors.New("boom")
	rep.On("RevenueByProduct", mock.Anything).Return([]database.ProductRevenue(nil), boom).Once()
	rep.On("RevenueByProduct", mock.Anything).Return([]database.ProductRevenue{{ProductID: 1, TotalRevenue: 5}}, nil).Once()

	cached := NewCached(rep, newMapCache(), time.Minute, zap.NewNop())
	_, err := cached.RevenueByProduct(ctx)
	assert.ErrorIs(t, err, boom)
	rows, err := cached.RevenueByProduct(ctx)
	require.NoError(t, err)
	assert.Len(t, rows, 1)
}

func TestCached_PassesThroughParameterisedReports(t *testing.T) {
	rep := &mockReporter{}
	rep.On("OrdersByCustomer", mock.Anything, 1).Return([]models.Order{{OrderID: 7, CustomerID: 1}}, nil).Twice()

	cached := NewCached(rep, newMapCache(), time.Minute, zap.NewNop())
	for i := 0; i < 2; i++ {
		orders, err := cached.OrdersByCustomer(ctx, 1)
		require.NoError(t, err)
		assert.Equal(t, 7, orders[0].OrderID)
	}
	rep.AssertExpectations(t)
}

func TestCached_RefreshFillsCache(t *testing.T) {
	store := database.NewMemoryStore()
	cache := newMapCache()
	cached := NewCached(store, cache, time.Minute, zap.NewNop())

	require.NoError(t, cached.Refresh(ctx))

	for _, r := range Catalog {
		_, hasKey := cache.entries[keyPrefix+r.Name]
		if r.Name == "top-products" {
			_, hasKey = cache.entries[keyPrefix+"top-products:3"]
		}
		assert.Equal(t, r.Cacheable, hasKey, r.Name)
	}
}

func TestCatalog(t *testing.T) {
	_, ok := Lookup("revenue-by-category")
	assert.True(t, ok)
	_, ok = Lookup("nope")
	assert.False(t, ok)
	assert.Len(t, Names(), len(Catalog))

	r, _ := Lookup("order-details")
	_, err := r.Run(ctx, database.NewMemoryStore(), Params{})
	assert.ErrorIs(t, err, errOrderRequired)

	r, _ = Lookup("orders-by-customer")
	_, err = r.Run(ctx, database.NewMemoryStore(), Params{})
	assert.ErrorIs(t, err, errCustomerRequired)
}

func TestRender(t *testing.T) {
	t.Run("category revenue table", func(t *testing.T) {
		var buf bytes.Buffer
		require.NoError(t, Render(&buf, []database.CategoryRevenue{
			{Category: "Electronics", TotalRevenue: 1075},
			{Category: "Books", TotalRevenue: 60},
		}))
		out := buf.String()
		assert.Contains(t, out, "category")
		assert.Contains(t, out, "Electronics")
		assert.Contains(t, out, "1075")
	})

	t.Run("price audit without findings", func(t *testing.T) {
		var buf bytes.Buffer
		require.NoError(t, Render(&buf, &database.PriceAuditResult{Valid: 8}))
		assert.Equal(t, "8 products with a valid price, 0 invalid\n", buf.String())
	})

	t.Run("order details", func(t *testing.T) {
		var buf bytes.Buffer
		require.NoError(t, Render(&buf, &database.OrderDetails{
			Order: models.Order{OrderID: 5, CustomerID: 1, Status: models.StatusShipped},
			Items: []database.OrderDetailItem{{OrderItemID: 1, ProductID: 9, ProductName: "Lamp", Quantity: 2, Price: 40}},
			Total: 80,
		}))
		assert.Contains(t, buf.String(), "order 5")
		assert.Contains(t, buf.String(), "Lamp")
		assert.Contains(t, buf.String(), "80")
	})

	t.Run("unknown type falls back to json", func(t *testing.T) {
		var buf bytes.Buffer
		require.NoError(t, Render(&buf, map[string]int{"n": 1}))
		var decoded map[string]int
		require.NoError(t, json.Unmarshal(buf.Bytes(), &decoded))
		assert.Equal(t, 1, decoded["n"])
	})
}
