package database

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/zap"

	"shopdb/internal/models"
)

const DefaultMongoDatabase = "ecommerce_db"

type MongoStore struct {
	client *mongo.Client
	db     *mongo.Database
	logger *zap.Logger
}

// ConnectMongo opens a client and verifies the deployment is reachable.
func ConnectMongo(ctx context.Context, uri, database string, logger *zap.Logger) (*MongoStore, error) {
	if database == "" {
		database = DefaultMongoDatabase
	}
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("connect mongo: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(ctx)
		return nil, fmt.Errorf("ping mongo: %w", err)
	}
	logger.Info("connected to mongo", zap.String("database", database))
	return &MongoStore{client: client, db: client.Database(database), logger: logger}, nil
}

func (md *MongoStore) Close(ctx context.Context) error {
	return md.client.Disconnect(ctx)
}

func (md *MongoStore) coll(name string) *mongo.Collection {
	return md.db.Collection(name)
}

// ExecuteTx runs txFunc inside a multi-document transaction. The context
// handed to txFunc carries the session, so every call made through tx joins
// the transaction. Transient errors are retried by the driver.
func (md *MongoStore) ExecuteTx(ctx context.Context, txFunc func(ctx context.Context, tx Tx) error) error {
	session, err := md.client.StartSession()
	if err != nil {
		return err
	}
	defer session.EndSession(ctx)

	_, err = session.WithTransaction(ctx, func(sessCtx mongo.SessionContext) (interface{}, error) {
		if err := txFunc(sessCtx, md); err != nil {
			return nil, err
		}
		return nil, nil
	})
	return err
}

func (md *MongoStore) Reset(ctx context.Context) error {
	return md.db.Drop(ctx)
}

func (md *MongoStore) Seed(ctx context.Context, ds *models.Dataset) error {
	batches := []struct {
		collection string
		docs       []interface{}
	}{
		{models.CustomersCollection, toDocs(ds.Customers)},
		{models.ProductsCollection, toDocs(ds.Products)},
		{models.OrdersCollection, toDocs(ds.Orders)},
		{models.OrderItemsCollection, toDocs(ds.OrderItems)},
	}
	for _, b := range batches {
		if len(b.docs) == 0 {
			continue
		}
		res, err := md.coll(b.collection).InsertMany(ctx, b.docs)
		if err != nil {
			return fmt.Errorf("seed %s: %w", b.collection, err)
		}
		md.logger.Info("seeded collection",
			zap.String("collection", b.collection),
			zap.Int("documents", len(res.InsertedIDs)))
	}
	return nil
}

func toDocs[T any](records []T) []interface{} {
	docs := make([]interface{}, len(records))
	for i := range records {
		docs[i] = records[i]
	}
	return docs
}

func (md *MongoStore) NextID(ctx context.Context, collection, field string) (int, error) {
	if !validIdentifier(collection) || !validIdentifier(field) {
		return 0, fmt.Errorf("%s.%s: %w", collection, field, ErrInvalidIdentifier)
	}
	highest, err := md.maxField(ctx, collection, field)
	if err != nil {
		return 0, err
	}

	// seq = max(seq, highest) + 1 in a single atomic update.
	update := mongo.Pipeline{
		{{Key: "$set", Value: bson.M{
			"seq": bson.M{"$add": bson.A{
				bson.M{"$max": bson.A{bson.M{"$ifNull": bson.A{"$seq", 0}}, highest}},
				1,
			}},
		}}},
	}
	opts := options.FindOneAndUpdate().SetUpsert(true).SetReturnDocument(options.After)

	var counter struct {
		Seq int `bson:"seq"`
	}
	err = md.coll(models.CountersCollection).
		FindOneAndUpdate(ctx, bson.M{"_id": counterKey(collection, field)}, update, opts).
		Decode(&counter)
	if err != nil {
		return 0, fmt.Errorf("reserve %s.%s: %w", collection, field, err)
	}
	return counter.Seq, nil
}

// maxField returns the largest value of field, or 0 for an empty collection.
func (md *MongoStore) maxField(ctx context.Context, collection, field string) (int, error) {
	pipeline := mongo.Pipeline{
		{{Key: "$group", Value: bson.M{
			"_id":    nil,
			"max_id": bson.M{"$max": "$" + field},
		}}},
	}
	cursor, err := md.coll(collection).Aggregate(ctx, pipeline)
	if err != nil {
		return 0, fmt.Errorf("max %s.%s: %w", collection, field, err)
	}
	defer cursor.Close(ctx)

	if !cursor.Next(ctx) {
		return 0, cursor.Err()
	}
	var result bson.M
	if err := cursor.Decode(&result); err != nil {
		return 0, err
	}
	n, _ := toInt(result["max_id"])
	return n, nil
}

func toInt(v interface{}) (int, bool) {
	switch n := v.(type) {
	case int32:
		return int(n), true
	case int64:
		return int(n), true
	case float64:
		return int(n), true
	case int:
		return n, true
	}
	return 0, false
}

func (md *MongoStore) CustomerExists(ctx context.Context, customerID int) (bool, error) {
	n, err := md.coll(models.CustomersCollection).CountDocuments(ctx,
		bson.M{models.CustomerIDField: customerID}, options.Count().SetLimit(1))
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (md *MongoStore) GetProduct(ctx context.Context, productID int) (*models.Product, error) {
	var p models.Product
	err := md.coll(models.ProductsCollection).FindOne(ctx, bson.M{models.ProductIDField: productID}).Decode(&p)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, fmt.Errorf("product %d: %w", productID, ErrProductNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (md *MongoStore) GetOrder(ctx context.Context, orderID int) (*models.Order, error) {
	var o models.Order
	err := md.coll(models.OrdersCollection).FindOne(ctx, bson.M{models.OrderIDField: orderID}).Decode(&o)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, fmt.Errorf("order %d: %w", orderID, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &o, nil
}

func (md *MongoStore) InsertOrder(ctx context.Context, order *models.Order) error {
	res, err := md.coll(models.OrdersCollection).InsertOne(ctx, order)
	if err != nil {
		return fmt.Errorf("insert order %d: %w", order.OrderID, err)
	}
	if oid, ok := res.InsertedID.(primitive.ObjectID); ok {
		order.ID = oid
	}
	return nil
}

func (md *MongoStore) InsertOrderItem(ctx context.Context, item *models.OrderItem) error {
	res, err := md.coll(models.OrderItemsCollection).InsertOne(ctx, item)
	if err != nil {
		return fmt.Errorf("insert order item %d: %w", item.OrderItemID, err)
	}
	if oid, ok := res.InsertedID.(primitive.ObjectID); ok {
		item.ID = oid
	}
	return nil
}

func (md *MongoStore) DecrementStock(ctx context.Context, productID, quantity int) error {
	res, err := md.coll(models.ProductsCollection).UpdateOne(ctx,
		bson.M{models.ProductIDField: productID, "stock": bson.M{"$gte": quantity}},
		bson.M{"$inc": bson.M{"stock": -quantity}},
	)
	if err != nil {
		return fmt.Errorf("decrement stock of product %d: %w", productID, err)
	}
	if res.MatchedCount > 0 {
		return nil
	}
	// Nothing matched: tell a missing product from a short one.
	if _, err := md.GetProduct(ctx, productID); err != nil {
		return err
	}
	return fmt.Errorf("product %d, want %d: %w", productID, quantity, ErrInsufficientStock)
}

func (md *MongoStore) UpdateOrderStatus(ctx context.Context, orderID int, status models.OrderStatus, deliveryDate *time.Time) error {
	set := bson.M{"status": status}
	if deliveryDate != nil {
		set["delivery_date"] = *deliveryDate
	}
	res, err := md.coll(models.OrdersCollection).UpdateOne(ctx,
		bson.M{models.OrderIDField: orderID}, bson.M{"$set": set})
	if err != nil {
		return fmt.Errorf("update order %d: %w", orderID, err)
	}
	if res.MatchedCount == 0 {
		return fmt.Errorf("order %d: %w", orderID, ErrNotFound)
	}
	return nil
}

type mongoChange struct {
	OperationType string `bson:"operationType"`
	NS            struct {
		Coll string `bson:"coll"`
	} `bson:"ns"`
	DocumentKey       bson.M `bson:"documentKey"`
	FullDocument      bson.M `bson:"fullDocument"`
	UpdateDescription struct {
		UpdatedFields bson.M `bson:"updatedFields"`
	} `bson:"updateDescription"`
	ClusterTime primitive.Timestamp `bson:"clusterTime"`
}

// Watch opens a change stream on the orders collection. Change streams need
// a replica set or sharded cluster.
func (md *MongoStore) Watch(ctx context.Context, fn func(ChangeEvent) error) error {
	stream, err := md.coll(models.OrdersCollection).Watch(ctx, mongo.Pipeline{},
		options.ChangeStream().SetFullDocument(options.UpdateLookup))
	if err != nil {
		return fmt.Errorf("open change stream: %w", err)
	}
	defer stream.Close(context.Background())

	for stream.Next(ctx) {
		var change mongoChange
		if err := stream.Decode(&change); err != nil {
			return err
		}
		raw, err := bson.MarshalExtJSON(stream.Current, false, false)
		if err != nil {
			return err
		}
		ev := ChangeEvent{
			OperationType: change.OperationType,
			Collection:    change.NS.Coll,
			DocumentKey:   map[string]any(change.DocumentKey),
			FullDocument:  map[string]any(change.FullDocument),
			UpdatedFields: map[string]any(change.UpdateDescription.UpdatedFields),
			ClusterTime:   time.Unix(int64(change.ClusterTime.T), 0).UTC(),
			Raw:           string(raw),
		}
		if err := fn(ev); err != nil {
			return err
		}
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	return stream.Err()
}
