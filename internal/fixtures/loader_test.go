package fixtures

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"shopdb/internal/models"
)

func writeFile(t *testing.T, dir, name, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644))
}

func TestDecode_ObjectIDAndDates(t *testing.T) {
	data := []byte(`[
		{"_id": {"$oid": "65a1f0c2e4b0a1b2c3d4e701"}, "order_id": 7, "customer_id": 1,
		 "order_date": "2024-01-05T10:15:00Z", "delivery_date": "2024-01-08T16:00:00Z", "status": "Delivered"},
		{"order_id": 8, "customer_id": 2, "order_date": "2024-02-01T00:00:00Z", "status": "Processing"}
	]`)

	orders, err := Decode[models.Order](data)
	require.NoError(t, err)
	require.Len(t, orders, 2)

	oid, err := primitive.ObjectIDFromHex("65a1f0c2e4b0a1b2c3d4e701")
	require.NoError(t, err)
	assert.Equal(t, oid, orders[0].ID)
	assert.True(t, orders[0].OrderDate.Equal(time.Date(2024, 1, 5, 10, 15, 0, 0, time.UTC)))
	require.NotNil(t, orders[0].DeliveryDate)
	assert.True(t, orders[0].DeliveryDate.Equal(time.Date(2024, 1, 8, 16, 0, 0, 0, time.UTC)))
	assert.Equal(t, models.StatusDelivered, orders[0].Status)

	assert.True(t, orders[1].ID.IsZero())
	assert.Nil(t, orders[1].DeliveryDate)
}

func TestDecode_Errors(t *testing.T) {
	_, err := Decode[models.Order]([]byte(`{"order_id": 1}`))
	assert.Error(t, err)

	_, err = Decode[models.Order]([]byte(`[{"order_id": 1, "order_date": "yesterday"}]`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "order_date")
}

func TestLoad(t *testing.T) {
	t.Run("missing files give empty collections", func(t *testing.T) {
		dir := t.TempDir()
		writeFile(t, dir, ProductsFile, `[{"product_id": 1, "product_name": "Pen", "category": "Office", "price": 3, "stock": 10}]`)

		ds, err := Load(dir)
		require.NoError(t, err)
		assert.Empty(t, ds.Customers)
		require.Len(t, ds.Products, 1)
		assert.Equal(t, "Pen", ds.Products[0].ProductName)
	})

	t.Run("invalid record is reported with its position", func(t *testing.T) {
		dir := t.TempDir()
		writeFile(t, dir, CustomersFile, `[
			{"customer_id": 1, "name": "Ok", "email": "ok@example.com", "address": {"street": "s", "city": "c", "state": "NY"}},
			{"customer_id": 2, "name": "Bad", "email": "not-an-email", "address": {"street": "s", "city": "c", "state": "NY"}}
		]`)

		_, err := Load(dir)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "customers[1]")
		assert.Contains(t, err.Error(), "email: must be a valid email address")
	})

	t.Run("bundled dataset", func(t *testing.T) {
		ds, err := Load(filepath.Join("..", "..", "dataset"))
		require.NoError(t, err)
		assert.Len(t, ds.Customers, 6)
		assert.Len(t, ds.Products, 8)
		assert.Len(t, ds.Orders, 8)
		assert.Len(t, ds.OrderItems, 15)
		assert.Equal(t, "IL", ds.Customers[0].Address.State)
	})
}
