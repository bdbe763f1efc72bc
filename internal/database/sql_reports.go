package database

import (
	"context"
	"database/sql"

	"shopdb/internal/models"
)

func (s *SQLStore) OrdersByCustomer(ctx context.Context, customerID int) ([]models.Order, error) {
	rows, err := s.direct().query(ctx,
		"SELECT "+orderColumns+" FROM orders WHERE customer_id = ? ORDER BY order_date, order_id", customerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var orders []models.Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		orders = append(orders, o)
	}
	return orders, rows.Err()
}

func (s *SQLStore) OrderDetails(ctx context.Context, orderID int) (*OrderDetails, error) {
	order, err := s.GetOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	rows, err := s.direct().query(ctx, `
		SELECT oi.order_item_id, oi.product_id, COALESCE(p.product_name, ''), COALESCE(p.category, ''),
		       oi.quantity, oi.price
		FROM order_items oi
		LEFT JOIN products p ON p.product_id = oi.product_id
		WHERE oi.order_id = ?
		ORDER BY oi.order_item_id`, orderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	details := &OrderDetails{Order: *order}
	for rows.Next() {
		var it OrderDetailItem
		if err := rows.Scan(&it.OrderItemID, &it.ProductID, &it.ProductName, &it.Category, &it.Quantity, &it.Price); err != nil {
			return nil, err
		}
		details.Items = append(details.Items, it)
		details.Total += it.Quantity * it.Price
	}
	return details, rows.Err()
}

func (s *SQLStore) RevenueByCategory(ctx context.Context) ([]CategoryRevenue, error) {
	rows, err := s.direct().query(ctx, `
		SELECT p.category, SUM(oi.quantity * p.price) AS total_revenue
		FROM order_items oi
		JOIN products p ON p.product_id = oi.product_id
		GROUP BY p.category
		ORDER BY total_revenue DESC, p.category`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []CategoryRevenue
	for rows.Next() {
		var r CategoryRevenue
		if err := rows.Scan(&r.Category, &r.TotalRevenue); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *SQLStore) RevenueByProduct(ctx context.Context) ([]ProductRevenue, error) {
	rows, err := s.direct().query(ctx, `
		SELECT oi.product_id, SUM(oi.quantity * oi.price) AS total_revenue
		FROM orders o
		JOIN order_items oi ON oi.order_id = o.order_id
		GROUP BY oi.product_id
		ORDER BY total_revenue DESC, oi.product_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []ProductRevenue
	for rows.Next() {
		var r ProductRevenue
		if err := rows.Scan(&r.ProductID, &r.TotalRevenue); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *SQLStore) AverageDeliveryTime(ctx context.Context) (*DeliveryStats, error) {
	var (
		stats DeliveryStats
		avg   sql.NullFloat64
	)
	err := s.direct().queryRow(ctx,
		"SELECT COUNT(*), AVG("+s.dialect.deliveryMs+") FROM orders WHERE delivery_date IS NOT NULL",
	).Scan(&stats.Orders, &avg)
	if err != nil {
		return nil, err
	}
	if avg.Valid {
		stats.AverageDeliveryTimeMs = avg.Float64
		stats.AverageDeliveryTimeDays = deliveryDays(avg.Float64)
	}
	return &stats, nil
}

func (s *SQLStore) DeliveryTimeByOrder(ctx context.Context) ([]OrderDeliveryTime, error) {
	rows, err := s.direct().query(ctx,
		"SELECT order_id, "+s.dialect.deliveryMs+" AS delivery_time_ms FROM orders"+
			" WHERE delivery_date IS NOT NULL ORDER BY delivery_time_ms DESC, order_id")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []OrderDeliveryTime
	for rows.Next() {
		var r OrderDeliveryTime
		if err := rows.Scan(&r.OrderID, &r.DeliveryTimeMs); err != nil {
			return nil, err
		}
		r.DeliveryTimeDays = deliveryDays(r.DeliveryTimeMs)
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *SQLStore) CustomersByState(ctx context.Context) ([]StateCount, error) {
	rows, err := s.direct().query(ctx, `
		SELECT state, COUNT(*) AS customer_count
		FROM customers
		GROUP BY state
		ORDER BY customer_count DESC, state`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []StateCount
	for rows.Next() {
		var r StateCount
		if err := rows.Scan(&r.State, &r.CustomerCount); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *SQLStore) TopProductsPerOrder(ctx context.Context, limit int) ([]OrderTopProducts, error) {
	if limit <= 0 {
		limit = DefaultTopProducts
	}
	rows, err := s.direct().query(ctx, `
		SELECT order_id, product_name, price, quantity, total_price FROM (
			SELECT oi.order_id, p.product_name, p.price, oi.quantity,
			       oi.quantity * p.price AS total_price,
			       ROW_NUMBER() OVER (PARTITION BY oi.order_id ORDER BY p.price DESC, oi.order_item_id) AS rn
			FROM order_items oi
			JOIN products p ON p.product_id = oi.product_id
		) ranked
		WHERE rn <= ?
		ORDER BY order_id, rn`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []OrderTopProducts
	for rows.Next() {
		var (
			orderID int
			tp      TopProduct
		)
		if err := rows.Scan(&orderID, &tp.ProductName, &tp.Price, &tp.Quantity, &tp.TotalPrice); err != nil {
			return nil, err
		}
		if n := len(out); n == 0 || out[n-1].OrderID != orderID {
			out = append(out, OrderTopProducts{OrderID: orderID})
		}
		last := &out[len(out)-1]
		last.TopProducts = append(last.TopProducts, tp)
	}
	return out, rows.Err()
}

// PriceAudit only ever finds negative prices when the CHECK constraint was
// added after the data; the column type rules out the other cases.
func (s *SQLStore) PriceAudit(ctx context.Context) (*PriceAuditResult, error) {
	rows, err := s.direct().query(ctx,
		"SELECT product_id, product_name, price FROM products ORDER BY product_id")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	res := &PriceAuditResult{}
	for rows.Next() {
		var (
			p     InvalidPrice
			price sql.NullInt64
		)
		if err := rows.Scan(&p.ProductID, &p.ProductName, &price); err != nil {
			return nil, err
		}
		switch {
		case !price.Valid:
			p.Reason = "missing price"
		case price.Int64 < 0:
			p.Reason = "negative price"
		default:
			res.Valid++
			continue
		}
		res.Invalid = append(res.Invalid, p)
	}
	return res, rows.Err()
}
