package database

import (
	"context"
	"errors"
	"regexp"
	"time"

	"shopdb/internal/models"
)

var (
	ErrNotFound              = errors.New("not found")
	ErrCustomerNotFound      = errors.New("customer not found")
	ErrProductNotFound       = errors.New("product not found")
	ErrInsufficientStock     = errors.New("insufficient stock")
	ErrInvalidIdentifier     = errors.New("invalid collection or field name")
	ErrChangeFeedUnsupported = errors.New("change feed not supported by this backend")
)

// FirstID is returned by NextID for an empty collection.
const FirstID = 1

// DefaultTopProducts is used by TopProductsPerOrder when limit is not positive.
const DefaultTopProducts = 3

var identifierRe = regexp.MustCompile(`^[a-z_][a-z0-9_]*$`)

func validIdentifier(name string) bool {
	return identifierRe.MatchString(name)
}

// Tx is the set of operations available inside a transaction. Every Store
// also implements Tx directly, outside of any transaction.
type Tx interface {
	// NextID reserves max(field)+1 for the collection, or FirstID when empty.
	NextID(ctx context.Context, collection, field string) (int, error)
	CustomerExists(ctx context.Context, customerID int) (bool, error)
	GetProduct(ctx context.Context, productID int) (*models.Product, error)
	GetOrder(ctx context.Context, orderID int) (*models.Order, error)
	InsertOrder(ctx context.Context, order *models.Order) error
	InsertOrderItem(ctx context.Context, item *models.OrderItem) error
	// DecrementStock fails with ErrProductNotFound or ErrInsufficientStock.
	DecrementStock(ctx context.Context, productID, quantity int) error
	UpdateOrderStatus(ctx context.Context, orderID int, status models.OrderStatus, deliveryDate *time.Time) error
}

// Reporter runs the read-only reporting queries.
type Reporter interface {
	OrdersByCustomer(ctx context.Context, customerID int) ([]models.Order, error)
	OrderDetails(ctx context.Context, orderID int) (*OrderDetails, error)
	RevenueByCategory(ctx context.Context) ([]CategoryRevenue, error)
	RevenueByProduct(ctx context.Context) ([]ProductRevenue, error)
	AverageDeliveryTime(ctx context.Context) (*DeliveryStats, error)
	DeliveryTimeByOrder(ctx context.Context) ([]OrderDeliveryTime, error)
	CustomersByState(ctx context.Context) ([]StateCount, error)
	TopProductsPerOrder(ctx context.Context, limit int) ([]OrderTopProducts, error)
	PriceAudit(ctx context.Context) (*PriceAuditResult, error)
}

// ChangeFeed streams insert, update and delete events of the orders
// collection. Watch blocks until ctx is done, fn returns an error or the
// feed fails.
type ChangeFeed interface {
	Watch(ctx context.Context, fn func(ChangeEvent) error) error
}

type Store interface {
	Tx
	Reporter
	ChangeFeed
	Close(ctx context.Context) error
	// Reset drops every collection.
	Reset(ctx context.Context) error
	// EnsureSchema creates collections, validators and indexes.
	EnsureSchema(ctx context.Context) error
	Seed(ctx context.Context, ds *models.Dataset) error
	// ExecuteTx runs txFunc atomically. A returned error aborts every write
	// made through tx.
	ExecuteTx(ctx context.Context, txFunc func(ctx context.Context, tx Tx) error) error
}

type ChangeEvent struct {
	OperationType string         `json:"operation_type"`
	Collection    string         `json:"collection"`
	DocumentKey   map[string]any `json:"document_key,omitempty"`
	FullDocument  map[string]any `json:"full_document,omitempty"`
	UpdatedFields map[string]any `json:"updated_fields,omitempty"`
	ClusterTime   time.Time      `json:"cluster_time"`
	// Raw is the event as relaxed extended JSON when the backend provides it.
	Raw string `json:"-"`
}

type OrderDetails struct {
	Order models.Order      `json:"order"`
	Items []OrderDetailItem `json:"items"`
	Total int               `json:"total"`
}

type OrderDetailItem struct {
	OrderItemID int    `bson:"order_item_id" json:"order_item_id"`
	ProductID   int    `bson:"product_id" json:"product_id"`
	ProductName string `bson:"product_name" json:"product_name"`
	Category    string `bson:"category" json:"category"`
	Quantity    int    `bson:"quantity" json:"quantity"`
	Price       int    `bson:"price" json:"price"`
}

type CategoryRevenue struct {
	Category     string `bson:"product_category" json:"product_category"`
	TotalRevenue int64  `bson:"total_revenue" json:"total_revenue"`
}

type ProductRevenue struct {
	ProductID    int   `bson:"product_id" json:"product_id"`
	TotalRevenue int64 `bson:"total_revenue" json:"total_revenue"`
}

type DeliveryStats struct {
	Orders                  int     `bson:"orders" json:"orders"`
	AverageDeliveryTimeMs   float64 `bson:"average_delivery_time_ms" json:"average_delivery_time_ms"`
	AverageDeliveryTimeDays float64 `bson:"average_delivery_time_days" json:"average_delivery_time_days"`
}

type OrderDeliveryTime struct {
	OrderID          int     `bson:"order_id" json:"order_id"`
	DeliveryTimeMs   float64 `bson:"average_delivery_time_ms" json:"delivery_time_ms"`
	DeliveryTimeDays float64 `bson:"average_delivery_time_days" json:"delivery_time_days"`
}

type StateCount struct {
	State         string `bson:"state" json:"state"`
	CustomerCount int    `bson:"customer_count" json:"customer_count"`
}

type OrderTopProducts struct {
	OrderID     int          `bson:"order_id" json:"order_id"`
	TopProducts []TopProduct `bson:"top_products" json:"top_products"`
}

type TopProduct struct {
	ProductName string `bson:"product_name" json:"product_name"`
	Price       int    `bson:"price" json:"price"`
	Quantity    int    `bson:"quantity" json:"quantity"`
	TotalPrice  int64  `bson:"total_price" json:"total_price"`
}

type PriceAuditResult struct {
	Valid   int            `json:"valid"`
	Invalid []InvalidPrice `json:"invalid"`
}

type InvalidPrice struct {
	ProductID   int    `bson:"product_id" json:"product_id"`
	ProductName string `bson:"product_name" json:"product_name"`
	Reason      string `bson:"reason" json:"reason"`
}

const msPerDay = float64(24 * time.Hour / time.Millisecond)

func deliveryDays(ms float64) float64 {
	return ms / msPerDay
}
