package commands

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"shopdb/internal/config"
	"shopdb/internal/database"
	"shopdb/internal/models"
)

const fixturesDir = "../../../dataset"

func newTestApp(t *testing.T) *app {
	t.Helper()
	store, err := openMemory(context.Background(), fixturesDir)
	require.NoError(t, err)
	cfg := config.Default()
	cfg.Fixtures.Dir = fixturesDir
	return &app{cfg: cfg, logger: zap.NewNop(), store: store}
}

func run(t *testing.T, a *app, args ...string) (string, error) {
	t.Helper()
	root := newRootCmd(a)
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&bytes.Buffer{})
	root.SetArgs(append([]string{"--backend", backendMemory}, args...))
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func TestNextID(t *testing.T) {
	a := newTestApp(t)

	out, err := run(t, a, "next-id", "orders", "order_id")
	require.NoError(t, err)
	assert.Equal(t, "1009\n", out)

	out, err = run(t, a, "--json", "next-id", "orders", "order_id")
	require.NoError(t, err)
	assert.JSONEq(t, `{"next_id":1010}`, out)

	_, err = run(t, a, "next-id", "orders")
	assert.Error(t, err)

	_, err = run(t, a, "next-id", "orders;drop", "order_id")
	assert.ErrorIs(t, err, database.ErrInvalidIdentifier)
}

func TestOrderCreate(t *testing.T) {
	a := newTestApp(t)
	ctx := context.Background()

	out, err := run(t, a, "order", "create", "--customer", "1", "--item", "101:2:1200", "--item", "102:1:25")
	require.NoError(t, err)
	assert.Contains(t, out, "Created order 1009 with 2 items, total 2425")
	assert.Contains(t, out, "Laptop Pro 14")

	p, err := a.store.GetProduct(ctx, 101)
	require.NoError(t, err)
	assert.Equal(t, 23, p.Stock)

	t.Run("json receipt", func(t *testing.T) {
		out, err := run(t, a, "--json", "order", "create", "--customer", "2", "--item", "102:1:25")
		require.NoError(t, err)
		var receipt struct {
			Order models.Order       `json:"order"`
			Items []models.OrderItem `json:"items"`
		}
		require.NoError(t, json.Unmarshal([]byte(out), &receipt))
		assert.Equal(t, 1010, receipt.Order.OrderID)
		assert.Equal(t, models.StatusProcessing, receipt.Order.Status)
		require.Len(t, receipt.Items, 1)
	})

	t.Run("rejected orders write nothing", func(t *testing.T) {
		_, err := run(t, a, "order", "create", "--customer", "1", "--item", "101:1000:1200")
		assert.ErrorIs(t, err, database.ErrInsufficientStock)

		_, err = run(t, a, "order", "create", "--customer", "99", "--item", "101:1:1200")
		assert.ErrorIs(t, err, database.ErrCustomerNotFound)

		_, err = run(t, a, "order", "create", "--customer", "1", "--item", "101:x:1200")
		assert.ErrorContains(t, err, "101:x:1200")

		_, err = run(t, a, "order", "create", "--customer", "1", "--item", "101:0:1200")
		var verr *models.ValidationError
		assert.ErrorAs(t, err, &verr)

		id, err := a.store.NextID(ctx, models.OrdersCollection, models.OrderIDField)
		require.NoError(t, err)
		assert.Equal(t, 1011, id)
	})
}

func TestOrderStatus(t *testing.T) {
	a := newTestApp(t)

	out, err := run(t, a, "order", "status", "1004", "shipped")
	require.NoError(t, err)
	assert.Contains(t, out, "Order 1004 is now Shipped")

	out, err = run(t, a, "--json", "order", "status", "1004", "Delivered")
	require.NoError(t, err)
	var order models.Order
	require.NoError(t, json.Unmarshal([]byte(out), &order))
	assert.Equal(t, models.StatusDelivered, order.Status)
	assert.NotNil(t, order.DeliveryDate)

	_, err = run(t, a, "order", "status", "1005", "Shipped")
	assert.ErrorContains(t, err, "invalid status transition")

	_, err = run(t, a, "order", "status", "1004", "Lost")
	assert.ErrorContains(t, err, "unknown status")
}

func TestReport(t *testing.T) {
	a := newTestApp(t)

	out, err := run(t, a, "report", "revenue-by-category")
	require.NoError(t, err)
	assert.Contains(t, out, "Electronics")

	out, err = run(t, a, "--json", "report", "orders-by-customer", "--customer", "1")
	require.NoError(t, err)
	var orders []models.Order
	require.NoError(t, json.Unmarshal([]byte(out), &orders))
	require.Len(t, orders, 2)
	assert.Equal(t, 1001, orders[0].OrderID)
	assert.Equal(t, 1004, orders[1].OrderID)

	_, err = run(t, a, "report", "order-details")
	assert.ErrorContains(t, err, "order id is required")

	_, err = run(t, a, "report", "best-sellers")
	assert.ErrorContains(t, err, "unknown report")
}

func TestAuditPrices(t *testing.T) {
	a := newTestApp(t)

	out, err := run(t, a, "--json", "audit-prices")
	require.NoError(t, err)
	var res database.PriceAuditResult
	require.NoError(t, json.Unmarshal([]byte(out), &res))
	assert.Equal(t, 8, res.Valid)
	assert.Empty(t, res.Invalid)

	out, err = run(t, a, "audit-prices")
	require.NoError(t, err)
	assert.Contains(t, out, "All 8 product prices are valid")
}

func TestSeedAndReset(t *testing.T) {
	a := newTestApp(t)

	out, err := run(t, a, "reset")
	require.NoError(t, err)
	assert.Contains(t, out, "Dropped all data")

	_, err = run(t, a, "schema")
	require.NoError(t, err)

	out, err = run(t, a, "seed")
	require.NoError(t, err)
	assert.Contains(t, out, "Seeded 6 customers, 8 products, 8 orders, 15 order items")

	_, err = run(t, a, "seed")
	assert.Error(t, err, "seeding twice hits the unique ids")

	_, err = run(t, a, "seed", "--reset")
	require.NoError(t, err)
}

func TestBench(t *testing.T) {
	a := newTestApp(t)

	out, err := run(t, a, "--json", "bench", "order-processing", "inventory-update", "-c", "2", "-d", "50ms")
	require.NoError(t, err)
	var results []struct {
		Workload      string `json:"workload"`
		Operations    int64  `json:"operations"`
		DataIntegrity *bool  `json:"data_integrity"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &results))
	require.Len(t, results, 2)
	assert.Equal(t, "order-processing", results[0].Workload)
	assert.Positive(t, results[0].Operations)
	require.NotNil(t, results[1].DataIntegrity)
	assert.True(t, *results[1].DataIntegrity)

	out, err = run(t, a, "bench", "report-read", "-c", "1", "-d", "20ms")
	require.NoError(t, err)
	assert.True(t, strings.Contains(out, "report-read:revenue-by-category"))

	_, err = run(t, a, "bench", "fan-out-on-write")
	assert.ErrorContains(t, err, "unknown workload")
}

// memCache is a reports.Cache kept in a map.
type memCache struct {
	mu      sync.Mutex
	entries map[string][]byte
}

func (c *memCache) Get(ctx context.Context, key string) ([]byte, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.entries[key]
	return v, ok, nil
}

func (c *memCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = value
	return nil
}

func (c *memCache) DeletePrefix(ctx context.Context, prefix string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for k := range c.entries {
		if strings.HasPrefix(k, prefix) {
			delete(c.entries, k)
		}
	}
	return nil
}

func (c *memCache) len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

func watchFor(t *testing.T, a *app, d time.Duration) error {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), d)
	defer cancel()
	root := newRootCmd(a)
	root.SetOut(&bytes.Buffer{})
	root.SetErr(&bytes.Buffer{})
	root.SetArgs([]string{"--backend", backendMemory, "watch"})
	return root.ExecuteContext(ctx)
}

func TestWatch_RefreshInterval(t *testing.T) {
	t.Run("zero interval runs without the refresh job", func(t *testing.T) {
		a := newTestApp(t)
		cache := &memCache{entries: map[string][]byte{}}
		a.cache = cache
		a.cfg.Reports.RefreshInterval = 0

		require.NoError(t, watchFor(t, a, 100*time.Millisecond))
		assert.Zero(t, cache.len(), "no report was refreshed")
	})

	t.Run("positive interval refreshes reports", func(t *testing.T) {
		a := newTestApp(t)
		cache := &memCache{entries: map[string][]byte{}}
		a.cache = cache
		a.cfg.Reports.RefreshInterval = time.Hour

		require.NoError(t, watchFor(t, a, 300*time.Millisecond))
		assert.Positive(t, cache.len())
	})
}

func TestUnknownBackend(t *testing.T) {
	a := &app{cfg: config.Default(), logger: zap.NewNop()}
	root := newRootCmd(a)
	root.SetOut(&bytes.Buffer{})
	root.SetErr(&bytes.Buffer{})
	root.SetArgs([]string{"--backend", "oracle", "schema"})
	assert.ErrorContains(t, root.ExecuteContext(context.Background()), "unsupported backend")
}

func TestParseLineItems(t *testing.T) {
	lines, err := parseLineItems([]string{"101:2:1200", " 7 : 1 : 0 "})
	require.NoError(t, err)
	assert.Equal(t, []models.LineItem{
		{ProductID: 101, Quantity: 2, Price: 1200},
		{ProductID: 7, Quantity: 1, Price: 0},
	}, lines)

	_, err = parseLineItems([]string{"101:2"})
	assert.Error(t, err)
}
