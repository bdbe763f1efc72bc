package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/go-sql-driver/mysql"
	_ "github.com/jackc/pgx/v5/stdlib"
	"go.uber.org/zap"

	"shopdb/internal/models"
)

// querier is satisfied by *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// SQLStore keeps the four collections as tables of a PostgreSQL or MySQL
// database. MySQL DSNs need parseTime=true.
type SQLStore struct {
	db      *sql.DB
	dialect dialect
	logger  *zap.Logger
}

// OpenSQL connects to a "postgres" or "mysql" database.
func OpenSQL(ctx context.Context, dialectName, dsn string, logger *zap.Logger) (*SQLStore, error) {
	d, err := dialectFor(dialectName)
	if err != nil {
		return nil, err
	}
	db, err := sql.Open(d.driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", d.name, err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping %s: %w", d.name, err)
	}
	logger.Info("connected to sql database", zap.String("dialect", d.name))
	return newSQLStore(db, d, logger), nil
}

func newSQLStore(db *sql.DB, d dialect, logger *zap.Logger) *SQLStore {
	return &SQLStore{db: db, dialect: d, logger: logger}
}

func (s *SQLStore) Close(ctx context.Context) error {
	return s.db.Close()
}

func (s *SQLStore) Reset(ctx context.Context) error {
	for _, stmt := range s.dialect.dropTables {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("reset %s: %w", s.dialect.name, err)
		}
	}
	return nil
}

func (s *SQLStore) EnsureSchema(ctx context.Context) error {
	for _, stmt := range s.dialect.schema {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("ensure schema: %w", err)
		}
	}
	s.logger.Debug("schema ready", zap.String("dialect", s.dialect.name))
	return nil
}

// ExecuteTx commits when txFunc returns nil and rolls back otherwise,
// including when txFunc panics.
func (s *SQLStore) ExecuteTx(ctx context.Context, txFunc func(ctx context.Context, tx Tx) error) (err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}

	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		} else if err != nil {
			_ = tx.Rollback()
		} else {
			err = tx.Commit()
		}
	}()

	err = txFunc(ctx, &sqlTx{q: tx, d: s.dialect})
	return err
}

func (s *SQLStore) Seed(ctx context.Context, ds *models.Dataset) error {
	return s.ExecuteTx(ctx, func(ctx context.Context, tx Tx) error {
		st := tx.(*sqlTx)
		for _, c := range ds.Customers {
			if err := st.insertCustomer(ctx, c); err != nil {
				return err
			}
		}
		for _, p := range ds.Products {
			if err := st.insertProduct(ctx, p); err != nil {
				return err
			}
		}
		for i := range ds.Orders {
			if err := st.InsertOrder(ctx, &ds.Orders[i]); err != nil {
				return err
			}
		}
		for i := range ds.OrderItems {
			if err := st.InsertOrderItem(ctx, &ds.OrderItems[i]); err != nil {
				return err
			}
		}
		s.logger.Info("seeded tables",
			zap.Int("customers", len(ds.Customers)),
			zap.Int("products", len(ds.Products)),
			zap.Int("orders", len(ds.Orders)),
			zap.Int("order_items", len(ds.OrderItems)))
		return nil
	})
}

func (s *SQLStore) direct() *sqlTx {
	return &sqlTx{q: s.db, d: s.dialect}
}

// NextID outside a transaction still needs one: MySQL reads the counter
// back with a second statement.
func (s *SQLStore) NextID(ctx context.Context, collection, field string) (int, error) {
	var id int
	err := s.ExecuteTx(ctx, func(ctx context.Context, tx Tx) error {
		var err error
		id, err = tx.NextID(ctx, collection, field)
		return err
	})
	return id, err
}

func (s *SQLStore) CustomerExists(ctx context.Context, customerID int) (bool, error) {
	return s.direct().CustomerExists(ctx, customerID)
}

func (s *SQLStore) GetProduct(ctx context.Context, productID int) (*models.Product, error) {
	return s.direct().GetProduct(ctx, productID)
}

func (s *SQLStore) GetOrder(ctx context.Context, orderID int) (*models.Order, error) {
	return s.direct().GetOrder(ctx, orderID)
}

func (s *SQLStore) InsertOrder(ctx context.Context, order *models.Order) error {
	return s.direct().InsertOrder(ctx, order)
}

func (s *SQLStore) InsertOrderItem(ctx context.Context, item *models.OrderItem) error {
	return s.direct().InsertOrderItem(ctx, item)
}

func (s *SQLStore) DecrementStock(ctx context.Context, productID, quantity int) error {
	return s.direct().DecrementStock(ctx, productID, quantity)
}

func (s *SQLStore) UpdateOrderStatus(ctx context.Context, orderID int, status models.OrderStatus, deliveryDate *time.Time) error {
	return s.direct().UpdateOrderStatus(ctx, orderID, status, deliveryDate)
}

// Watch is not available: neither backend exposes a change feed through
// database/sql.
func (s *SQLStore) Watch(ctx context.Context, fn func(ChangeEvent) error) error {
	return fmt.Errorf("%s: %w", s.dialect.name, ErrChangeFeedUnsupported)
}

type sqlTx struct {
	q querier
	d dialect
}

func (t *sqlTx) exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return t.q.ExecContext(ctx, t.d.bindvar(query), args...)
}

func (t *sqlTx) query(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	return t.q.QueryContext(ctx, t.d.bindvar(query), args...)
}

func (t *sqlTx) queryRow(ctx context.Context, query string, args ...any) *sql.Row {
	return t.q.QueryRowContext(ctx, t.d.bindvar(query), args...)
}

func (t *sqlTx) NextID(ctx context.Context, collection, field string) (int, error) {
	if !validIdentifier(collection) || !validIdentifier(field) {
		return 0, fmt.Errorf("%s.%s: %w", collection, field, ErrInvalidIdentifier)
	}
	var highest int
	// Both names passed the identifier check above.
	maxQuery := fmt.Sprintf("SELECT COALESCE(MAX(%s), 0) FROM %s", field, collection)
	if err := t.queryRow(ctx, maxQuery).Scan(&highest); err != nil {
		return 0, fmt.Errorf("max %s.%s: %w", collection, field, err)
	}

	key := counterKey(collection, field)
	if _, err := t.exec(ctx, t.d.reserveCounter, key, highest+1); err != nil {
		return 0, fmt.Errorf("reserve %s: %w", key, err)
	}
	var seq int
	if err := t.queryRow(ctx, "SELECT seq FROM counters WHERE name = ?", key).Scan(&seq); err != nil {
		return 0, fmt.Errorf("read %s: %w", key, err)
	}
	return seq, nil
}

func (t *sqlTx) CustomerExists(ctx context.Context, customerID int) (bool, error) {
	var one int
	err := t.queryRow(ctx, "SELECT 1 FROM customers WHERE customer_id = ?", customerID).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (t *sqlTx) GetProduct(ctx context.Context, productID int) (*models.Product, error) {
	var p models.Product
	err := t.queryRow(ctx,
		"SELECT product_id, product_name, category, price, stock FROM products WHERE product_id = ?",
		productID,
	).Scan(&p.ProductID, &p.ProductName, &p.Category, &p.Price, &p.Stock)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("product %d: %w", productID, ErrProductNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

const orderColumns = "order_id, customer_id, order_date, delivery_date, status"

type rowScanner interface {
	Scan(dest ...any) error
}

func scanOrder(row rowScanner) (models.Order, error) {
	var (
		o        models.Order
		status   string
		delivery sql.NullTime
	)
	if err := row.Scan(&o.OrderID, &o.CustomerID, &o.OrderDate, &delivery, &status); err != nil {
		return o, err
	}
	o.OrderDate = o.OrderDate.UTC()
	o.Status = models.OrderStatus(status)
	if delivery.Valid {
		d := delivery.Time.UTC()
		o.DeliveryDate = &d
	}
	return o, nil
}

func (t *sqlTx) GetOrder(ctx context.Context, orderID int) (*models.Order, error) {
	o, err := scanOrder(t.queryRow(ctx, "SELECT "+orderColumns+" FROM orders WHERE order_id = ?", orderID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("order %d: %w", orderID, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &o, nil
}

func (t *sqlTx) insertCustomer(ctx context.Context, c models.Customer) error {
	_, err := t.exec(ctx,
		"INSERT INTO customers (customer_id, name, email, street, city, state) VALUES (?, ?, ?, ?, ?, ?)",
		c.CustomerID, c.Name, c.Email, c.Address.Street, c.Address.City, c.Address.State)
	if err != nil {
		return fmt.Errorf("insert customer %d: %w", c.CustomerID, err)
	}
	return nil
}

func (t *sqlTx) insertProduct(ctx context.Context, p models.Product) error {
	_, err := t.exec(ctx,
		"INSERT INTO products (product_id, product_name, category, price, stock) VALUES (?, ?, ?, ?, ?)",
		p.ProductID, p.ProductName, p.Category, p.Price, p.Stock)
	if err != nil {
		return fmt.Errorf("insert product %d: %w", p.ProductID, err)
	}
	return nil
}

func (t *sqlTx) InsertOrder(ctx context.Context, order *models.Order) error {
	var delivery sql.NullTime
	if order.DeliveryDate != nil {
		delivery = sql.NullTime{Time: *order.DeliveryDate, Valid: true}
	}
	_, err := t.exec(ctx,
		"INSERT INTO orders ("+orderColumns+") VALUES (?, ?, ?, ?, ?)",
		order.OrderID, order.CustomerID, order.OrderDate, delivery, string(order.Status))
	if err != nil {
		return fmt.Errorf("insert order %d: %w", order.OrderID, err)
	}
	return nil
}

func (t *sqlTx) InsertOrderItem(ctx context.Context, item *models.OrderItem) error {
	_, err := t.exec(ctx,
		"INSERT INTO order_items (order_item_id, order_id, product_id, quantity, price) VALUES (?, ?, ?, ?, ?)",
		item.OrderItemID, item.OrderID, item.ProductID, item.Quantity, item.Price)
	if err != nil {
		return fmt.Errorf("insert order item %d: %w", item.OrderItemID, err)
	}
	return nil
}

func (t *sqlTx) DecrementStock(ctx context.Context, productID, quantity int) error {
	res, err := t.exec(ctx,
		"UPDATE products SET stock = stock - ? WHERE product_id = ? AND stock >= ?",
		quantity, productID, quantity)
	if err != nil {
		return fmt.Errorf("decrement stock of product %d: %w", productID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n > 0 {
		return nil
	}
	if _, err := t.GetProduct(ctx, productID); err != nil {
		return err
	}
	return fmt.Errorf("product %d, want %d: %w", productID, quantity, ErrInsufficientStock)
}

func (t *sqlTx) UpdateOrderStatus(ctx context.Context, orderID int, status models.OrderStatus, deliveryDate *time.Time) error {
	var (
		res sql.Result
		err error
	)
	if deliveryDate != nil {
		res, err = t.exec(ctx, "UPDATE orders SET status = ?, delivery_date = ? WHERE order_id = ?",
			string(status), *deliveryDate, orderID)
	} else {
		res, err = t.exec(ctx, "UPDATE orders SET status = ? WHERE order_id = ?", string(status), orderID)
	}
	if err != nil {
		return fmt.Errorf("update order %d: %w", orderID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n > 0 {
		return nil
	}
	// MySQL reports zero rows when the values did not change.
	_, err = t.GetOrder(ctx, orderID)
	return err
}
