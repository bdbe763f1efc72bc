package models

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Collection names shared by every backend.
const (
	CustomersCollection  = "customers"
	ProductsCollection   = "products"
	OrdersCollection     = "orders"
	OrderItemsCollection = "order_items"
	CountersCollection   = "counters"
)

// Identifier field of each collection.
const (
	CustomerIDField  = "customer_id"
	ProductIDField   = "product_id"
	OrderIDField     = "order_id"
	OrderItemIDField = "order_item_id"
)

type OrderStatus string

const (
	StatusProcessing OrderStatus = "Processing"
	StatusShipped    OrderStatus = "Shipped"
	StatusDelivered  OrderStatus = "Delivered"
	StatusCancelled  OrderStatus = "Cancelled"
)

// Statuses lists every valid order status.
var Statuses = []OrderStatus{StatusProcessing, StatusShipped, StatusDelivered, StatusCancelled}

var transitions = map[OrderStatus][]OrderStatus{
	StatusProcessing: {StatusShipped, StatusCancelled},
	StatusShipped:    {StatusDelivered, StatusCancelled},
}

// CanTransition reports whether an order may move from one status to another.
// Delivered and Cancelled are terminal.
func (s OrderStatus) CanTransition(to OrderStatus) bool {
	for _, next := range transitions[s] {
		if next == to {
			return true
		}
	}
	return false
}

func (s OrderStatus) Valid() bool {
	for _, st := range Statuses {
		if st == s {
			return true
		}
	}
	return false
}

// Address is embedded in the customer document.
type Address struct {
	Street string `bson:"street" json:"street" validate:"required"`
	City   string `bson:"city" json:"city" validate:"required"`
	State  string `bson:"state" json:"state" validate:"required"`
}

type Customer struct {
	ID         primitive.ObjectID `bson:"_id,omitempty" json:"-"`
	CustomerID int                `bson:"customer_id" json:"customer_id" validate:"gt=0"`
	Name       string             `bson:"name" json:"name" validate:"required"`
	Email      string             `bson:"email" json:"email" validate:"required,email"`
	Address    Address            `bson:"address" json:"address"`
}

// Product is referenced from order items by ProductID. Price and Stock change
// over time; order items keep the price paid.
type Product struct {
	ID          primitive.ObjectID `bson:"_id,omitempty" json:"-"`
	ProductID   int                `bson:"product_id" json:"product_id" validate:"gt=0"`
	ProductName string             `bson:"product_name" json:"product_name" validate:"required"`
	Category    string             `bson:"category" json:"category" validate:"required"`
	Price       int                `bson:"price" json:"price" validate:"gte=0"`
	Stock       int                `bson:"stock" json:"stock" validate:"gte=0"`
}

type Order struct {
	ID           primitive.ObjectID `bson:"_id,omitempty" json:"-"`
	OrderID      int                `bson:"order_id" json:"order_id" validate:"gt=0"`
	CustomerID   int                `bson:"customer_id" json:"customer_id" validate:"gt=0"`
	OrderDate    time.Time          `bson:"order_date" json:"order_date" validate:"required"`
	DeliveryDate *time.Time         `bson:"delivery_date,omitempty" json:"delivery_date,omitempty"`
	Status       OrderStatus        `bson:"status" json:"status" validate:"required,order_status"`
}

type OrderItem struct {
	ID          primitive.ObjectID `bson:"_id,omitempty" json:"-"`
	OrderItemID int                `bson:"order_item_id" json:"order_item_id" validate:"gt=0"`
	OrderID     int                `bson:"order_id" json:"order_id" validate:"gt=0"`
	ProductID   int                `bson:"product_id" json:"product_id" validate:"gt=0"`
	Quantity    int                `bson:"quantity" json:"quantity" validate:"gte=1"`
	Price       int                `bson:"price" json:"price" validate:"gte=0"`
}

// LineItem is one requested product of a new order.
type LineItem struct {
	ProductID int `json:"product_id" validate:"gt=0"`
	Quantity  int `json:"quantity" validate:"gt=0"`
	Price     int `json:"price" validate:"gte=0"`
}

// Dataset holds the initial contents of every collection.
type Dataset struct {
	Customers  []Customer
	Products   []Product
	Orders     []Order
	OrderItems []OrderItem
}
