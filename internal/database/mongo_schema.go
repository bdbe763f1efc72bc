package database

import (
	"context"
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/zap"

	"shopdb/internal/models"
)

var intTypes = bson.A{"int", "long"}

func intProperty(description string) bson.M {
	return bson.M{"bsonType": intTypes, "description": description}
}

func nonEmptyString(description string) bson.M {
	return bson.M{"bsonType": "string", "minLength": 1, "description": description}
}

func statusEnum() bson.A {
	out := bson.A{}
	for _, s := range models.Statuses {
		out = append(out, string(s))
	}
	return out
}

// mongoValidators are the $jsonSchema rules of each collection.
func mongoValidators() map[string]bson.M {
	return map[string]bson.M{
		models.CustomersCollection: {
			"bsonType": "object",
			"required": bson.A{"customer_id", "name", "email", "address"},
			"properties": bson.M{
				"_id":         bson.M{"bsonType": "objectId"},
				"customer_id": intProperty("must be an integer"),
				"name":        nonEmptyString("must be a non-empty string"),
				"email": bson.M{
					"bsonType":    "string",
					"pattern":     `^\S+@\S+\.\S+$`,
					"description": "must be a valid email address",
				},
				"address": bson.M{
					"bsonType": "object",
					"required": bson.A{"street", "city", "state"},
					"properties": bson.M{
						"street": bson.M{"bsonType": "string"},
						"city":   bson.M{"bsonType": "string"},
						"state":  bson.M{"bsonType": "string"},
					},
					"description": "address must include street, city, and state",
				},
			},
		},
		models.ProductsCollection: {
			"bsonType": "object",
			"required": bson.A{"product_id", "product_name", "category", "price"},
			"properties": bson.M{
				"_id":          bson.M{"bsonType": "objectId"},
				"product_id":   intProperty("must be an integer"),
				"product_name": nonEmptyString("must be a non-empty string"),
				"category":     nonEmptyString("must be a non-empty string"),
				"price": bson.M{
					"bsonType":    intTypes,
					"minimum":     0,
					"description": "must be a positive number",
				},
				"stock": bson.M{
					"bsonType":    intTypes,
					"minimum":     0,
					"description": "must not go below zero",
				},
			},
		},
		models.OrdersCollection: {
			"bsonType": "object",
			"required": bson.A{"order_id", "customer_id", "order_date", "status"},
			"properties": bson.M{
				"_id":           bson.M{"bsonType": "objectId"},
				"order_id":      intProperty("must be an integer"),
				"customer_id":   intProperty("must be an integer (reference to customers collection)"),
				"order_date":    bson.M{"bsonType": "date", "description": "must be a valid date"},
				"delivery_date": bson.M{"bsonType": "date", "description": "must be a valid date"},
				"status": bson.M{
					"bsonType":    "string",
					"enum":        statusEnum(),
					"description": "must be a valid status",
				},
			},
		},
		models.OrderItemsCollection: {
			"bsonType": "object",
			"required": bson.A{"order_item_id", "order_id", "product_id", "quantity", "price"},
			"properties": bson.M{
				"_id":           bson.M{"bsonType": "objectId"},
				"order_item_id": intProperty("must be an integer"),
				"order_id":      intProperty("must be an integer (reference to orders collection)"),
				"product_id":    intProperty("must be an integer (reference to products collection)"),
				"quantity": bson.M{
					"bsonType":    intTypes,
					"minimum":     1,
					"description": "must be a positive integer",
				},
				"price": bson.M{
					"bsonType":    intTypes,
					"minimum":     0,
					"description": "must be a positive number",
				},
			},
		},
	}
}

func ascending(fields ...string) bson.D {
	keys := bson.D{}
	for _, f := range fields {
		keys = append(keys, bson.E{Key: f, Value: 1})
	}
	return keys
}

func mongoIndexes() map[string][]mongo.IndexModel {
	unique := options.Index().SetUnique(true)
	return map[string][]mongo.IndexModel{
		models.CustomersCollection: {
			{Keys: ascending("customer_id"), Options: unique},
			{Keys: ascending("email"), Options: unique},
		},
		models.ProductsCollection: {
			{Keys: ascending("product_id"), Options: unique},
			{Keys: ascending("category")},
		},
		models.OrdersCollection: {
			{Keys: ascending("customer_id")},
			{Keys: ascending("order_id"), Options: unique},
			{Keys: ascending("status")},
		},
		models.OrderItemsCollection: {
			{Keys: ascending("order_id")},
			{Keys: ascending("product_id")},
			{Keys: ascending("order_id", "product_id")},
		},
	}
}

// EnsureSchema creates each collection with its validator, or updates the
// validator of an existing one with collMod, then creates the indexes.
func (md *MongoStore) EnsureSchema(ctx context.Context) error {
	existing, err := md.db.ListCollectionNames(ctx, bson.M{})
	if err != nil {
		return fmt.Errorf("list collections: %w", err)
	}
	present := make(map[string]bool, len(existing))
	for _, name := range existing {
		present[name] = true
	}

	for name, schema := range mongoValidators() {
		validator := bson.M{"$jsonSchema": schema}
		if present[name] {
			cmd := bson.D{{Key: "collMod", Value: name}, {Key: "validator", Value: validator}}
			if err := md.db.RunCommand(ctx, cmd).Err(); err != nil {
				return fmt.Errorf("update validator of %s: %w", name, err)
			}
		} else {
			opts := options.CreateCollection().SetValidator(validator)
			if err := md.db.CreateCollection(ctx, name, opts); err != nil {
				return fmt.Errorf("create %s: %w", name, err)
			}
		}
		md.logger.Debug("collection ready", zap.String("collection", name))
	}
	if !present[models.CountersCollection] {
		if err := md.db.CreateCollection(ctx, models.CountersCollection); err != nil {
			return fmt.Errorf("create %s: %w", models.CountersCollection, err)
		}
	}

	for name, indexes := range mongoIndexes() {
		created, err := md.coll(name).Indexes().CreateMany(ctx, indexes)
		if err != nil {
			return fmt.Errorf("create indexes on %s: %w", name, err)
		}
		md.logger.Debug("indexes ready", zap.String("collection", name), zap.Strings("indexes", created))
	}
	return nil
}
