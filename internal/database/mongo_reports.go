package database

import (
	"context"
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"shopdb/internal/models"
)

func stage(name string, value interface{}) bson.D {
	return bson.D{{Key: name, Value: value}}
}

func lookup(from, localField, foreignField, as string) bson.D {
	return stage("$lookup", bson.M{
		"from":         from,
		"localField":   localField,
		"foreignField": foreignField,
		"as":           as,
	})
}

func aggregateAll[T any](ctx context.Context, coll *mongo.Collection, pipeline mongo.Pipeline) ([]T, error) {
	cursor, err := coll.Aggregate(ctx, pipeline)
	if err != nil {
		return nil, fmt.Errorf("aggregate %s: %w", coll.Name(), err)
	}
	var out []T
	if err := cursor.All(ctx, &out); err != nil {
		return nil, fmt.Errorf("decode %s: %w", coll.Name(), err)
	}
	return out, nil
}

func (md *MongoStore) OrdersByCustomer(ctx context.Context, customerID int) ([]models.Order, error) {
	opts := options.Find().SetSort(bson.D{{Key: "order_date", Value: 1}, {Key: "order_id", Value: 1}})
	cursor, err := md.coll(models.OrdersCollection).Find(ctx, bson.M{models.CustomerIDField: customerID}, opts)
	if err != nil {
		return nil, err
	}
	var orders []models.Order
	if err := cursor.All(ctx, &orders); err != nil {
		return nil, err
	}
	return orders, nil
}

func (md *MongoStore) OrderDetails(ctx context.Context, orderID int) (*OrderDetails, error) {
	order, err := md.GetOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	pipeline := mongo.Pipeline{
		stage("$match", bson.M{"order_id": orderID}),
		lookup(models.ProductsCollection, "product_id", "product_id", "product"),
		stage("$unwind", bson.M{"path": "$product", "preserveNullAndEmptyArrays": true}),
		stage("$sort", bson.D{{Key: "order_item_id", Value: 1}}),
		stage("$project", bson.M{
			"_id":           0,
			"order_item_id": 1,
			"product_id":    1,
			"quantity":      1,
			"price":         1,
			"product_name":  "$product.product_name",
			"category":      "$product.category",
		}),
	}
	items, err := aggregateAll[OrderDetailItem](ctx, md.coll(models.OrderItemsCollection), pipeline)
	if err != nil {
		return nil, err
	}
	details := &OrderDetails{Order: *order, Items: items}
	for _, it := range items {
		details.Total += it.Quantity * it.Price
	}
	return details, nil
}

// RevenueByCategory prices items at the product's current price.
func (md *MongoStore) RevenueByCategory(ctx context.Context) ([]CategoryRevenue, error) {
	pipeline := mongo.Pipeline{
		lookup(models.ProductsCollection, "product_id", "product_id", "product_info"),
		stage("$unwind", "$product_info"),
		stage("$addFields", bson.M{
			"revenue": bson.M{"$multiply": bson.A{"$quantity", "$product_info.price"}},
		}),
		stage("$group", bson.M{
			"_id":           "$product_info.category",
			"total_revenue": bson.M{"$sum": "$revenue"},
		}),
		stage("$project", bson.M{"product_category": "$_id", "total_revenue": 1, "_id": 0}),
		stage("$sort", bson.D{{Key: "total_revenue", Value: -1}, {Key: "product_category", Value: 1}}),
	}
	return aggregateAll[CategoryRevenue](ctx, md.coll(models.OrderItemsCollection), pipeline)
}

// RevenueByProduct prices items at the price paid.
func (md *MongoStore) RevenueByProduct(ctx context.Context) ([]ProductRevenue, error) {
	pipeline := mongo.Pipeline{
		lookup(models.OrderItemsCollection, "order_id", "order_id", "order_details"),
		stage("$unwind", "$order_details"),
		stage("$group", bson.M{
			"_id": "$order_details.product_id",
			"total_revenue": bson.M{"$sum": bson.M{
				"$multiply": bson.A{"$order_details.quantity", "$order_details.price"},
			}},
		}),
		stage("$project", bson.M{"product_id": "$_id", "total_revenue": 1, "_id": 0}),
		stage("$sort", bson.D{{Key: "total_revenue", Value: -1}, {Key: "product_id", Value: 1}}),
	}
	return aggregateAll[ProductRevenue](ctx, md.coll(models.OrdersCollection), pipeline)
}

func deliveryTimeStages() []bson.D {
	return []bson.D{
		stage("$match", bson.M{"delivery_date": bson.M{"$exists": true}}),
		stage("$addFields", bson.M{
			"delivery_date": bson.M{"$toDate": "$delivery_date"},
			"order_date":    bson.M{"$toDate": "$order_date"},
		}),
		stage("$addFields", bson.M{
			"delivery_time_ms": bson.M{"$subtract": bson.A{"$delivery_date", "$order_date"}},
		}),
	}
}

func (md *MongoStore) AverageDeliveryTime(ctx context.Context) (*DeliveryStats, error) {
	pipeline := mongo.Pipeline(deliveryTimeStages())
	pipeline = append(pipeline,
		stage("$group", bson.M{
			"_id":                   nil,
			"average_delivery_time": bson.M{"$avg": "$delivery_time_ms"},
			"orders":                bson.M{"$sum": 1},
		}),
		stage("$project", bson.M{
			"_id":                      0,
			"orders":                   1,
			"average_delivery_time_ms": "$average_delivery_time",
			"average_delivery_time_days": bson.M{
				"$divide": bson.A{"$average_delivery_time", msPerDay},
			},
		}),
	)
	stats, err := aggregateAll[DeliveryStats](ctx, md.coll(models.OrdersCollection), pipeline)
	if err != nil {
		return nil, err
	}
	if len(stats) == 0 {
		return &DeliveryStats{}, nil
	}
	return &stats[0], nil
}

func (md *MongoStore) DeliveryTimeByOrder(ctx context.Context) ([]OrderDeliveryTime, error) {
	pipeline := mongo.Pipeline(deliveryTimeStages())
	pipeline = append(pipeline,
		stage("$group", bson.M{
			"_id":                      "$order_id",
			"average_delivery_time_ms": bson.M{"$avg": "$delivery_time_ms"},
		}),
		stage("$project", bson.M{
			"_id":                      0,
			"order_id":                 "$_id",
			"average_delivery_time_ms": 1,
			"average_delivery_time_days": bson.M{
				"$divide": bson.A{"$average_delivery_time_ms", msPerDay},
			},
		}),
		stage("$sort", bson.D{{Key: "average_delivery_time_ms", Value: -1}, {Key: "order_id", Value: 1}}),
	)
	return aggregateAll[OrderDeliveryTime](ctx, md.coll(models.OrdersCollection), pipeline)
}

func (md *MongoStore) CustomersByState(ctx context.Context) ([]StateCount, error) {
	pipeline := mongo.Pipeline{
		stage("$group", bson.M{"_id": "$address.state", "customer_count": bson.M{"$sum": 1}}),
		stage("$project", bson.M{"_id": 0, "state": "$_id", "customer_count": 1}),
		stage("$sort", bson.D{{Key: "customer_count", Value: -1}, {Key: "state", Value: 1}}),
	}
	return aggregateAll[StateCount](ctx, md.coll(models.CustomersCollection), pipeline)
}

func (md *MongoStore) TopProductsPerOrder(ctx context.Context, limit int) ([]OrderTopProducts, error) {
	if limit <= 0 {
		limit = DefaultTopProducts
	}
	pipeline := mongo.Pipeline{
		lookup(models.ProductsCollection, "product_id", "product_id", "product_details"),
		stage("$unwind", "$product_details"),
		stage("$sort", bson.D{{Key: "product_details.price", Value: -1}, {Key: "order_item_id", Value: 1}}),
		stage("$group", bson.M{
			"_id": "$order_id",
			"top_products": bson.M{"$push": bson.M{
				"product_name": "$product_details.product_name",
				"price":        "$product_details.price",
				"quantity":     "$quantity",
				"total_price":  bson.M{"$multiply": bson.A{"$quantity", "$product_details.price"}},
			}},
		}),
		stage("$project", bson.M{
			"order_id":     "$_id",
			"top_products": bson.M{"$slice": bson.A{"$top_products", limit}},
			"_id":          0,
		}),
		stage("$sort", bson.D{{Key: "order_id", Value: 1}}),
	}
	return aggregateAll[OrderTopProducts](ctx, md.coll(models.OrderItemsCollection), pipeline)
}

// PriceAudit classifies every product by the BSON type of its price, so it
// also catches documents written before the validator existed.
func (md *MongoStore) PriceAudit(ctx context.Context) (*PriceAuditResult, error) {
	priceType := bson.M{"$type": "$price"}
	pipeline := mongo.Pipeline{
		stage("$project", bson.M{
			"_id":          0,
			"product_id":   1,
			"product_name": 1,
			"reason": bson.M{"$switch": bson.M{
				"branches": bson.A{
					bson.M{"case": bson.M{"$eq": bson.A{priceType, "missing"}}, "then": "missing price"},
					bson.M{
						"case": bson.M{"$not": bson.A{bson.M{"$in": bson.A{priceType, bson.A{"int", "long", "double", "decimal"}}}}},
						"then": "non-numeric price",
					},
					bson.M{"case": bson.M{"$lt": bson.A{"$price", 0}}, "then": "negative price"},
				},
				"default": "",
			}},
		}),
		stage("$sort", bson.D{{Key: "product_id", Value: 1}}),
	}
	rows, err := aggregateAll[InvalidPrice](ctx, md.coll(models.ProductsCollection), pipeline)
	if err != nil {
		return nil, err
	}
	res := &PriceAuditResult{}
	for _, r := range rows {
		if r.Reason == "" {
			res.Valid++
			continue
		}
		res.Invalid = append(res.Invalid, r)
	}
	return res, nil
}
