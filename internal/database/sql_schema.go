package database

import (
	"fmt"
	"strconv"
	"strings"
)

// dialect holds what differs between the relational backends.
type dialect struct {
	name   string
	driver string
	// bindvar rewrites ? placeholders for the driver.
	bindvar func(query string) string
	// reserveCounter stores max(seq+1, $2) for counter $1.
	reserveCounter string
	// deliveryMs is the expression of delivery_date - order_date in ms.
	deliveryMs string
	schema     []string
	dropTables []string
}

func questionMarks(query string) string { return query }

func dollarPlaceholders(query string) string {
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// sqlTables lists children before parents.
var sqlTables = []string{"order_items", "orders", "products", "customers", "counters"}

var postgresDialect = dialect{
	name:    "postgres",
	driver:  "pgx",
	bindvar: dollarPlaceholders,
	reserveCounter: `INSERT INTO counters (name, seq) VALUES (?, ?)
		ON CONFLICT (name) DO UPDATE SET seq = GREATEST(counters.seq + 1, EXCLUDED.seq)`,
	deliveryMs: "EXTRACT(EPOCH FROM (delivery_date - order_date)) * 1000",
	schema: []string{
		`CREATE TABLE IF NOT EXISTS customers (
			customer_id INTEGER PRIMARY KEY,
			name        TEXT NOT NULL CHECK (name <> ''),
			email       TEXT NOT NULL UNIQUE CHECK (email ~ '^\S+@\S+\.\S+$'),
			street      TEXT NOT NULL,
			city        TEXT NOT NULL,
			state       TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS products (
			product_id   INTEGER PRIMARY KEY,
			product_name TEXT NOT NULL CHECK (product_name <> ''),
			category     TEXT NOT NULL CHECK (category <> ''),
			price        INTEGER NOT NULL CHECK (price >= 0),
			stock        INTEGER NOT NULL DEFAULT 0 CHECK (stock >= 0)
		)`,
		`CREATE TABLE IF NOT EXISTS orders (
			order_id      INTEGER PRIMARY KEY,
			customer_id   INTEGER NOT NULL REFERENCES customers (customer_id),
			order_date    TIMESTAMPTZ NOT NULL,
			delivery_date TIMESTAMPTZ,
			status        VARCHAR(16) NOT NULL
				CHECK (status IN ('Processing', 'Shipped', 'Delivered', 'Cancelled'))
		)`,
		`CREATE TABLE IF NOT EXISTS order_items (
			order_item_id INTEGER PRIMARY KEY,
			order_id      INTEGER NOT NULL REFERENCES orders (order_id),
			product_id    INTEGER NOT NULL REFERENCES products (product_id),
			quantity      INTEGER NOT NULL CHECK (quantity >= 1),
			price         INTEGER NOT NULL CHECK (price >= 0)
		)`,
		`CREATE TABLE IF NOT EXISTS counters (
			name VARCHAR(128) PRIMARY KEY,
			seq  INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_products_category ON products (category)`,
		`CREATE INDEX IF NOT EXISTS idx_orders_customer_id ON orders (customer_id)`,
		`CREATE INDEX IF NOT EXISTS idx_orders_status ON orders (status)`,
		`CREATE INDEX IF NOT EXISTS idx_order_items_order_id ON order_items (order_id)`,
		`CREATE INDEX IF NOT EXISTS idx_order_items_product_id ON order_items (product_id)`,
		`CREATE INDEX IF NOT EXISTS idx_order_items_order_product ON order_items (order_id, product_id)`,
	},
	dropTables: []string{
		"DROP TABLE IF EXISTS " + strings.Join(sqlTables, ", ") + " CASCADE",
	},
}

// MySQL has no CREATE INDEX IF NOT EXISTS, so indexes are declared inline.
var mysqlDialect = dialect{
	name:    "mysql",
	driver:  "mysql",
	bindvar: questionMarks,
	reserveCounter: `INSERT INTO counters (name, seq) VALUES (?, ?)
		ON DUPLICATE KEY UPDATE seq = GREATEST(seq + 1, VALUES(seq))`,
	deliveryMs: "TIMESTAMPDIFF(MICROSECOND, order_date, delivery_date) / 1000",
	schema: []string{
		`CREATE TABLE IF NOT EXISTS customers (
			customer_id INT PRIMARY KEY,
			name        VARCHAR(255) NOT NULL CHECK (name <> ''),
			email       VARCHAR(255) NOT NULL,
			street      VARCHAR(255) NOT NULL,
			city        VARCHAR(255) NOT NULL,
			state       VARCHAR(255) NOT NULL,
			UNIQUE KEY uq_customers_email (email)
		)`,
		`CREATE TABLE IF NOT EXISTS products (
			product_id   INT PRIMARY KEY,
			product_name VARCHAR(255) NOT NULL CHECK (product_name <> ''),
			category     VARCHAR(255) NOT NULL CHECK (category <> ''),
			price        INT NOT NULL CHECK (price >= 0),
			stock        INT NOT NULL DEFAULT 0 CHECK (stock >= 0),
			KEY idx_products_category (category)
		)`,
		`CREATE TABLE IF NOT EXISTS orders (
			order_id      INT PRIMARY KEY,
			customer_id   INT NOT NULL,
			order_date    DATETIME(3) NOT NULL,
			delivery_date DATETIME(3) NULL,
			status        ENUM('Processing', 'Shipped', 'Delivered', 'Cancelled') NOT NULL,
			KEY idx_orders_customer_id (customer_id),
			KEY idx_orders_status (status),
			FOREIGN KEY (customer_id) REFERENCES customers (customer_id)
		)`,
		`CREATE TABLE IF NOT EXISTS order_items (
			order_item_id INT PRIMARY KEY,
			order_id      INT NOT NULL,
			product_id    INT NOT NULL,
			quantity      INT NOT NULL CHECK (quantity >= 1),
			price         INT NOT NULL CHECK (price >= 0),
			KEY idx_order_items_order_id (order_id),
			KEY idx_order_items_product_id (product_id),
			KEY idx_order_items_order_product (order_id, product_id),
			FOREIGN KEY (order_id) REFERENCES orders (order_id),
			FOREIGN KEY (product_id) REFERENCES products (product_id)
		)`,
		`CREATE TABLE IF NOT EXISTS counters (
			name VARCHAR(128) PRIMARY KEY,
			seq  INT NOT NULL
		)`,
	},
	dropTables: []string{
		"DROP TABLE IF EXISTS " + strings.Join(sqlTables, ", "),
	},
}

func dialectFor(name string) (dialect, error) {
	switch name {
	case "postgres":
		return postgresDialect, nil
	case "mysql":
		return mysqlDialect, nil
	}
	return dialect{}, fmt.Errorf("unsupported sql dialect %q", name)
}
