// Package fixtures reads the JSON files that seed the four collections.
package fixtures

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.mongodb.org/mongo-driver/bson"

	"shopdb/internal/models"
)

// DateLayout is the timestamp format of order_date and delivery_date.
const DateLayout = "2006-01-02T15:04:05Z"

var dateFields = []string{"order_date", "delivery_date"}

// File names inside a fixture directory.
const (
	CustomersFile  = "customers.json"
	ProductsFile   = "products.json"
	OrdersFile     = "orders.json"
	OrderItemsFile = "order_items.json"
)

// Load reads every fixture file of dir and validates the records. A missing
// file yields an empty collection.
func Load(dir string) (*models.Dataset, error) {
	ds := &models.Dataset{}
	var err error
	if ds.Customers, err = loadFile[models.Customer](filepath.Join(dir, CustomersFile)); err != nil {
		return nil, err
	}
	if ds.Products, err = loadFile[models.Product](filepath.Join(dir, ProductsFile)); err != nil {
		return nil, err
	}
	if ds.Orders, err = loadFile[models.Order](filepath.Join(dir, OrdersFile)); err != nil {
		return nil, err
	}
	if ds.OrderItems, err = loadFile[models.OrderItem](filepath.Join(dir, OrderItemsFile)); err != nil {
		return nil, err
	}
	if err := models.ValidateDataset(ds); err != nil {
		return nil, err
	}
	return ds, nil
}

func loadFile[T any](path string) ([]T, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	records, err := Decode[T](data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", filepath.Base(path), err)
	}
	return records, nil
}

// Decode parses a JSON array of records. Extended JSON values such as
// {"$oid": "..."} are honoured and date strings become BSON dates.
func Decode[T any](data []byte) ([]T, error) {
	var raws []json.RawMessage
	if err := json.Unmarshal(data, &raws); err != nil {
		return nil, err
	}
	out := make([]T, 0, len(raws))
	for i, raw := range raws {
		var doc bson.M
		if err := bson.UnmarshalExtJSON(raw, false, &doc); err != nil {
			return nil, fmt.Errorf("record %d: %w", i, err)
		}
		if err := convertDates(doc); err != nil {
			return nil, fmt.Errorf("record %d: %w", i, err)
		}
		b, err := bson.Marshal(doc)
		if err != nil {
			return nil, fmt.Errorf("record %d: %w", i, err)
		}
		var rec T
		if err := bson.Unmarshal(b, &rec); err != nil {
			return nil, fmt.Errorf("record %d: %w", i, err)
		}
		out = append(out, rec)
	}
	return out, nil
}

func convertDates(doc bson.M) error {
	for _, field := range dateFields {
		s, ok := doc[field].(string)
		if !ok {
			continue
		}
		t, err := parseDate(s)
		if err != nil {
			return fmt.Errorf("%s: %w", field, err)
		}
		doc[field] = t
	}
	return nil
}

func parseDate(s string) (time.Time, error) {
	t, err := time.Parse(DateLayout, s)
	if err == nil {
		return t, nil
	}
	if t, rfcErr := time.Parse(time.RFC3339Nano, s); rfcErr == nil {
		return t.UTC(), nil
	}
	return time.Time{}, err
}
