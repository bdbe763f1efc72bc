package database

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"shopdb/internal/models"
)

// MemoryStore keeps every collection in process memory. Transactions are
// serialized and undone on error, so it honours the same atomicity contract
// as a transaction-capable database.
type MemoryStore struct {
	mu sync.Mutex
	// txMu is held for a whole transaction and for every direct write, so
	// undo steps never overwrite a write made outside the transaction.
	txMu      sync.Mutex
	customers map[int]models.Customer
	products  map[int]models.Product
	orders    map[int]models.Order
	items     map[int]models.OrderItem
	counters  map[string]int

	subs   map[int]*subscriber
	subSeq int
	now    func() time.Time
}

type subscriber struct {
	ch   chan ChangeEvent
	done chan struct{}
}

func NewMemoryStore() *MemoryStore {
	ms := &MemoryStore{
		subs: make(map[int]*subscriber),
		now:  func() time.Time { return time.Now().UTC() },
	}
	ms.clear()
	return ms
}

func (ms *MemoryStore) clear() {
	ms.customers = make(map[int]models.Customer)
	ms.products = make(map[int]models.Product)
	ms.orders = make(map[int]models.Order)
	ms.items = make(map[int]models.OrderItem)
	ms.counters = make(map[string]int)
}

func (ms *MemoryStore) Close(ctx context.Context) error {
	return nil
}

func (ms *MemoryStore) Reset(ctx context.Context) error {
	ms.txMu.Lock()
	defer ms.txMu.Unlock()
	ms.mu.Lock()
	defer ms.mu.Unlock()
	ms.clear()
	return nil
}

func (ms *MemoryStore) EnsureSchema(ctx context.Context) error {
	return nil
}

func (ms *MemoryStore) Seed(ctx context.Context, ds *models.Dataset) error {
	return ms.ExecuteTx(ctx, func(ctx context.Context, tx Tx) error {
		mt := tx.(*memTx)
		for _, c := range ds.Customers {
			if err := mt.do(func() (func(), *ChangeEvent, error) { return ms.insertCustomer(c) }); err != nil {
				return err
			}
		}
		for _, p := range ds.Products {
			if err := mt.do(func() (func(), *ChangeEvent, error) { return ms.insertProduct(p) }); err != nil {
				return err
			}
		}
		for i := range ds.Orders {
			if err := tx.InsertOrder(ctx, &ds.Orders[i]); err != nil {
				return err
			}
		}
		for i := range ds.OrderItems {
			if err := tx.InsertOrderItem(ctx, &ds.OrderItems[i]); err != nil {
				return err
			}
		}
		return nil
	})
}

func (ms *MemoryStore) ExecuteTx(ctx context.Context, txFunc func(ctx context.Context, tx Tx) error) error {
	tx := &memTx{ms: ms}
	err := func() error {
		ms.txMu.Lock()
		defer ms.txMu.Unlock()
		if err := txFunc(ctx, tx); err != nil {
			ms.mu.Lock()
			for i := len(tx.undo) - 1; i >= 0; i-- {
				tx.undo[i]()
			}
			ms.mu.Unlock()
			return err
		}
		return nil
	}()
	if err != nil {
		return err
	}
	// Events go out after the lock is released so watchers may write.
	ms.publish(tx.events...)
	return nil
}

// memTx records undo steps and defers change events until commit.
type memTx struct {
	ms     *MemoryStore
	undo   []func()
	events []ChangeEvent
}

func (t *memTx) do(op func() (func(), *ChangeEvent, error)) error {
	t.ms.mu.Lock()
	undo, ev, err := op()
	t.ms.mu.Unlock()
	if err != nil {
		return err
	}
	if undo != nil {
		t.undo = append(t.undo, undo)
	}
	if ev != nil {
		t.events = append(t.events, *ev)
	}
	return nil
}

func (t *memTx) NextID(ctx context.Context, collection, field string) (int, error) {
	var id int
	err := t.do(func() (func(), *ChangeEvent, error) {
		var undo func()
		var err error
		id, undo, err = t.ms.nextID(collection, field)
		return undo, nil, err
	})
	return id, err
}

func (t *memTx) CustomerExists(ctx context.Context, customerID int) (bool, error) {
	return t.ms.CustomerExists(ctx, customerID)
}

func (t *memTx) GetProduct(ctx context.Context, productID int) (*models.Product, error) {
	return t.ms.GetProduct(ctx, productID)
}

func (t *memTx) GetOrder(ctx context.Context, orderID int) (*models.Order, error) {
	return t.ms.GetOrder(ctx, orderID)
}

func (t *memTx) InsertOrder(ctx context.Context, order *models.Order) error {
	return t.do(func() (func(), *ChangeEvent, error) { return t.ms.insertOrder(*order) })
}

func (t *memTx) InsertOrderItem(ctx context.Context, item *models.OrderItem) error {
	return t.do(func() (func(), *ChangeEvent, error) { return t.ms.insertOrderItem(*item) })
}

func (t *memTx) DecrementStock(ctx context.Context, productID, quantity int) error {
	return t.do(func() (func(), *ChangeEvent, error) { return t.ms.decrementStock(productID, quantity) })
}

func (t *memTx) UpdateOrderStatus(ctx context.Context, orderID int, status models.OrderStatus, deliveryDate *time.Time) error {
	return t.do(func() (func(), *ChangeEvent, error) {
		return t.ms.updateOrderStatus(orderID, status, deliveryDate)
	})
}

// apply runs a single write outside of any transaction. It waits for a
// running transaction to finish.
func (ms *MemoryStore) apply(op func() (func(), *ChangeEvent, error)) error {
	ms.txMu.Lock()
	ms.mu.Lock()
	_, ev, err := op()
	ms.mu.Unlock()
	ms.txMu.Unlock()
	if err != nil {
		return err
	}
	if ev != nil {
		ms.publish(*ev)
	}
	return nil
}

func (ms *MemoryStore) NextID(ctx context.Context, collection, field string) (int, error) {
	ms.txMu.Lock()
	defer ms.txMu.Unlock()
	ms.mu.Lock()
	defer ms.mu.Unlock()
	id, _, err := ms.nextID(collection, field)
	return id, err
}

func (ms *MemoryStore) CustomerExists(ctx context.Context, customerID int) (bool, error) {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	_, ok := ms.customers[customerID]
	return ok, nil
}

func (ms *MemoryStore) GetProduct(ctx context.Context, productID int) (*models.Product, error) {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	p, ok := ms.products[productID]
	if !ok {
		return nil, fmt.Errorf("product %d: %w", productID, ErrProductNotFound)
	}
	return &p, nil
}

func (ms *MemoryStore) GetOrder(ctx context.Context, orderID int) (*models.Order, error) {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	o, ok := ms.orders[orderID]
	if !ok {
		return nil, fmt.Errorf("order %d: %w", orderID, ErrNotFound)
	}
	return &o, nil
}

func (ms *MemoryStore) InsertOrder(ctx context.Context, order *models.Order) error {
	return ms.apply(func() (func(), *ChangeEvent, error) { return ms.insertOrder(*order) })
}

func (ms *MemoryStore) InsertOrderItem(ctx context.Context, item *models.OrderItem) error {
	return ms.apply(func() (func(), *ChangeEvent, error) { return ms.insertOrderItem(*item) })
}

func (ms *MemoryStore) DecrementStock(ctx context.Context, productID, quantity int) error {
	return ms.apply(func() (func(), *ChangeEvent, error) { return ms.decrementStock(productID, quantity) })
}

func (ms *MemoryStore) UpdateOrderStatus(ctx context.Context, orderID int, status models.OrderStatus, deliveryDate *time.Time) error {
	return ms.apply(func() (func(), *ChangeEvent, error) {
		return ms.updateOrderStatus(orderID, status, deliveryDate)
	})
}

// The helpers below run with ms.mu held.

func (ms *MemoryStore) fieldValues(collection, field string) []int {
	var out []int
	switch {
	case collection == models.CustomersCollection && field == models.CustomerIDField:
		for id := range ms.customers {
			out = append(out, id)
		}
	case collection == models.ProductsCollection && field == models.ProductIDField:
		for id := range ms.products {
			out = append(out, id)
		}
	case collection == models.OrdersCollection && field == models.OrderIDField:
		for id := range ms.orders {
			out = append(out, id)
		}
	case collection == models.OrdersCollection && field == models.CustomerIDField:
		for _, o := range ms.orders {
			out = append(out, o.CustomerID)
		}
	case collection == models.OrderItemsCollection && field == models.OrderItemIDField:
		for id := range ms.items {
			out = append(out, id)
		}
	case collection == models.OrderItemsCollection && field == models.OrderIDField:
		for _, it := range ms.items {
			out = append(out, it.OrderID)
		}
	case collection == models.OrderItemsCollection && field == models.ProductIDField:
		for _, it := range ms.items {
			out = append(out, it.ProductID)
		}
	}
	return out
}

func (ms *MemoryStore) nextID(collection, field string) (int, func(), error) {
	if !validIdentifier(collection) || !validIdentifier(field) {
		return 0, nil, fmt.Errorf("%s.%s: %w", collection, field, ErrInvalidIdentifier)
	}
	highest := 0
	for _, v := range ms.fieldValues(collection, field) {
		if v > highest {
			highest = v
		}
	}
	key := counterKey(collection, field)
	prev, had := ms.counters[key]
	next := max(prev, highest) + 1
	ms.counters[key] = next
	undo := func() {
		if had {
			ms.counters[key] = prev
		} else {
			delete(ms.counters, key)
		}
	}
	return next, undo, nil
}

func counterKey(collection, field string) string {
	return collection + "." + field
}

func (ms *MemoryStore) insertCustomer(c models.Customer) (func(), *ChangeEvent, error) {
	if _, ok := ms.customers[c.CustomerID]; ok {
		return nil, nil, fmt.Errorf("customer %d: duplicate key", c.CustomerID)
	}
	for _, other := range ms.customers {
		if other.Email == c.Email {
			return nil, nil, fmt.Errorf("customer email %q: duplicate key", c.Email)
		}
	}
	ms.customers[c.CustomerID] = c
	return func() { delete(ms.customers, c.CustomerID) }, nil, nil
}

func (ms *MemoryStore) insertProduct(p models.Product) (func(), *ChangeEvent, error) {
	if _, ok := ms.products[p.ProductID]; ok {
		return nil, nil, fmt.Errorf("product %d: duplicate key", p.ProductID)
	}
	ms.products[p.ProductID] = p
	return func() { delete(ms.products, p.ProductID) }, nil, nil
}

func (ms *MemoryStore) insertOrder(o models.Order) (func(), *ChangeEvent, error) {
	if _, ok := ms.orders[o.OrderID]; ok {
		return nil, nil, fmt.Errorf("order %d: duplicate key", o.OrderID)
	}
	ms.orders[o.OrderID] = o
	ev := &ChangeEvent{
		OperationType: "insert",
		Collection:    models.OrdersCollection,
		DocumentKey:   map[string]any{models.OrderIDField: o.OrderID},
		FullDocument:  orderDocument(o),
		ClusterTime:   ms.now(),
	}
	return func() { delete(ms.orders, o.OrderID) }, ev, nil
}

func (ms *MemoryStore) insertOrderItem(it models.OrderItem) (func(), *ChangeEvent, error) {
	if _, ok := ms.items[it.OrderItemID]; ok {
		return nil, nil, fmt.Errorf("order item %d: duplicate key", it.OrderItemID)
	}
	ms.items[it.OrderItemID] = it
	return func() { delete(ms.items, it.OrderItemID) }, nil, nil
}

func (ms *MemoryStore) decrementStock(productID, quantity int) (func(), *ChangeEvent, error) {
	p, ok := ms.products[productID]
	if !ok {
		return nil, nil, fmt.Errorf("product %d: %w", productID, ErrProductNotFound)
	}
	if p.Stock < quantity {
		return nil, nil, fmt.Errorf("product %d has %d, want %d: %w", productID, p.Stock, quantity, ErrInsufficientStock)
	}
	before := p
	p.Stock -= quantity
	ms.products[productID] = p
	return func() { ms.products[productID] = before }, nil, nil
}

func (ms *MemoryStore) updateOrderStatus(orderID int, status models.OrderStatus, deliveryDate *time.Time) (func(), *ChangeEvent, error) {
	o, ok := ms.orders[orderID]
	if !ok {
		return nil, nil, fmt.Errorf("order %d: %w", orderID, ErrNotFound)
	}
	before := o
	o.Status = status
	updated := map[string]any{"status": string(status)}
	if deliveryDate != nil {
		d := *deliveryDate
		o.DeliveryDate = &d
		updated["delivery_date"] = d
	}
	ms.orders[orderID] = o
	ev := &ChangeEvent{
		OperationType: "update",
		Collection:    models.OrdersCollection,
		DocumentKey:   map[string]any{models.OrderIDField: orderID},
		UpdatedFields: updated,
		ClusterTime:   ms.now(),
	}
	return func() { ms.orders[orderID] = before }, ev, nil
}

func orderDocument(o models.Order) map[string]any {
	doc := map[string]any{
		"order_id":    o.OrderID,
		"customer_id": o.CustomerID,
		"order_date":  o.OrderDate,
		"status":      string(o.Status),
	}
	if o.DeliveryDate != nil {
		doc["delivery_date"] = *o.DeliveryDate
	}
	return doc
}

func (ms *MemoryStore) Watch(ctx context.Context, fn func(ChangeEvent) error) error {
	sub := &subscriber{ch: make(chan ChangeEvent, 64), done: make(chan struct{})}
	ms.mu.Lock()
	id := ms.subSeq
	ms.subSeq++
	ms.subs[id] = sub
	ms.mu.Unlock()

	defer func() {
		ms.mu.Lock()
		delete(ms.subs, id)
		ms.mu.Unlock()
		close(sub.done)
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev := <-sub.ch:
			if err := fn(ev); err != nil {
				return err
			}
		}
	}
}

// Watchers reports the number of active Watch calls.
func (ms *MemoryStore) Watchers() int {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	return len(ms.subs)
}

func (ms *MemoryStore) publish(events ...ChangeEvent) {
	if len(events) == 0 {
		return
	}
	ms.mu.Lock()
	subs := make([]*subscriber, 0, len(ms.subs))
	for _, s := range ms.subs {
		subs = append(subs, s)
	}
	ms.mu.Unlock()

	for _, ev := range events {
		for _, s := range subs {
			select {
			case s.ch <- ev:
			case <-s.done:
			}
		}
	}
}

func (ms *MemoryStore) OrdersByCustomer(ctx context.Context, customerID int) ([]models.Order, error) {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	var out []models.Order
	for _, o := range ms.orders {
		if o.CustomerID == customerID {
			out = append(out, o)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].OrderDate.Equal(out[j].OrderDate) {
			return out[i].OrderDate.Before(out[j].OrderDate)
		}
		return out[i].OrderID < out[j].OrderID
	})
	return out, nil
}

func (ms *MemoryStore) OrderDetails(ctx context.Context, orderID int) (*OrderDetails, error) {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	o, ok := ms.orders[orderID]
	if !ok {
		return nil, fmt.Errorf("order %d: %w", orderID, ErrNotFound)
	}
	details := &OrderDetails{Order: o}
	for _, it := range ms.items {
		if it.OrderID != orderID {
			continue
		}
		p := ms.products[it.ProductID]
		details.Items = append(details.Items, OrderDetailItem{
			OrderItemID: it.OrderItemID,
			ProductID:   it.ProductID,
			ProductName: p.ProductName,
			Category:    p.Category,
			Quantity:    it.Quantity,
			Price:       it.Price,
		})
		details.Total += it.Quantity * it.Price
	}
	sort.Slice(details.Items, func(i, j int) bool {
		return details.Items[i].OrderItemID < details.Items[j].OrderItemID
	})
	return details, nil
}

func (ms *MemoryStore) RevenueByCategory(ctx context.Context) ([]CategoryRevenue, error) {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	totals := make(map[string]int64)
	for _, it := range ms.items {
		p, ok := ms.products[it.ProductID]
		if !ok {
			continue
		}
		totals[p.Category] += int64(it.Quantity) * int64(p.Price)
	}
	out := make([]CategoryRevenue, 0, len(totals))
	for cat, total := range totals {
		out = append(out, CategoryRevenue{Category: cat, TotalRevenue: total})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].TotalRevenue != out[j].TotalRevenue {
			return out[i].TotalRevenue > out[j].TotalRevenue
		}
		return out[i].Category < out[j].Category
	})
	return out, nil
}

func (ms *MemoryStore) RevenueByProduct(ctx context.Context) ([]ProductRevenue, error) {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	totals := make(map[int]int64)
	for _, it := range ms.items {
		if _, ok := ms.orders[it.OrderID]; !ok {
			continue
		}
		totals[it.ProductID] += int64(it.Quantity) * int64(it.Price)
	}
	out := make([]ProductRevenue, 0, len(totals))
	for id, total := range totals {
		out = append(out, ProductRevenue{ProductID: id, TotalRevenue: total})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].TotalRevenue != out[j].TotalRevenue {
			return out[i].TotalRevenue > out[j].TotalRevenue
		}
		return out[i].ProductID < out[j].ProductID
	})
	return out, nil
}

func (ms *MemoryStore) AverageDeliveryTime(ctx context.Context) (*DeliveryStats, error) {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	stats := &DeliveryStats{}
	var sum float64
	for _, o := range ms.orders {
		if o.DeliveryDate == nil {
			continue
		}
		sum += float64(o.DeliveryDate.Sub(o.OrderDate).Milliseconds())
		stats.Orders++
	}
	if stats.Orders > 0 {
		stats.AverageDeliveryTimeMs = sum / float64(stats.Orders)
		stats.AverageDeliveryTimeDays = deliveryDays(stats.AverageDeliveryTimeMs)
	}
	return stats, nil
}

func (ms *MemoryStore) DeliveryTimeByOrder(ctx context.Context) ([]OrderDeliveryTime, error) {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	var out []OrderDeliveryTime
	for _, o := range ms.orders {
		if o.DeliveryDate == nil {
			continue
		}
		delta := float64(o.DeliveryDate.Sub(o.OrderDate).Milliseconds())
		out = append(out, OrderDeliveryTime{
			OrderID:          o.OrderID,
			DeliveryTimeMs:   delta,
			DeliveryTimeDays: deliveryDays(delta),
		})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].DeliveryTimeMs != out[j].DeliveryTimeMs {
			return out[i].DeliveryTimeMs > out[j].DeliveryTimeMs
		}
		return out[i].OrderID < out[j].OrderID
	})
	return out, nil
}

func (ms *MemoryStore) CustomersByState(ctx context.Context) ([]StateCount, error) {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	counts := make(map[string]int)
	for _, c := range ms.customers {
		counts[c.Address.State]++
	}
	out := make([]StateCount, 0, len(counts))
	for state, n := range counts {
		out = append(out, StateCount{State: state, CustomerCount: n})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CustomerCount != out[j].CustomerCount {
			return out[i].CustomerCount > out[j].CustomerCount
		}
		return out[i].State < out[j].State
	})
	return out, nil
}

func (ms *MemoryStore) TopProductsPerOrder(ctx context.Context, limit int) ([]OrderTopProducts, error) {
	if limit <= 0 {
		limit = DefaultTopProducts
	}
	ms.mu.Lock()
	defer ms.mu.Unlock()

	type row struct {
		itemID int
		top    TopProduct
	}
	byOrder := make(map[int][]row)
	for _, it := range ms.items {
		p, ok := ms.products[it.ProductID]
		if !ok {
			continue
		}
		byOrder[it.OrderID] = append(byOrder[it.OrderID], row{
			itemID: it.OrderItemID,
			top: TopProduct{
				ProductName: p.ProductName,
				Price:       p.Price,
				Quantity:    it.Quantity,
				TotalPrice:  int64(it.Quantity) * int64(p.Price),
			},
		})
	}

	out := make([]OrderTopProducts, 0, len(byOrder))
	for orderID, rows := range byOrder {
		sort.Slice(rows, func(i, j int) bool {
			if rows[i].top.Price != rows[j].top.Price {
				return rows[i].top.Price > rows[j].top.Price
			}
			return rows[i].itemID < rows[j].itemID
		})
		if len(rows) > limit {
			rows = rows[:limit]
		}
		entry := OrderTopProducts{OrderID: orderID}
		for _, r := range rows {
			entry.TopProducts = append(entry.TopProducts, r.top)
		}
		out = append(out, entry)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].OrderID < out[j].OrderID })
	return out, nil
}

func (ms *MemoryStore) PriceAudit(ctx context.Context) (*PriceAuditResult, error) {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	res := &PriceAuditResult{}
	for _, p := range ms.products {
		if p.Price < 0 {
			res.Invalid = append(res.Invalid, InvalidPrice{
				ProductID:   p.ProductID,
				ProductName: p.ProductName,
				Reason:      "negative price",
			})
			continue
		}
		res.Valid++
	}
	sort.Slice(res.Invalid, func(i, j int) bool { return res.Invalid[i].ProductID < res.Invalid[j].ProductID })
	return res, nil
}
