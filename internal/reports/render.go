package reports

import (
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"

	"shopdb/internal/database"
	"shopdb/internal/models"
)

var (
	headerStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#7C3AED")).Padding(0, 1)
	cellStyle   = lipgloss.NewStyle().Padding(0, 1)
	borderStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#6B7280"))
)

func newTable(headers ...string) *table.Table {
	return table.New().
		Border(lipgloss.RoundedBorder()).
		BorderStyle(borderStyle).
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == table.HeaderRow {
				return headerStyle
			}
			return cellStyle
		}).
		Headers(headers...)
}

func itoa(n int) string       { return strconv.Itoa(n) }
func i64(n int64) string      { return strconv.FormatInt(n, 10) }
func days(d float64) string   { return strconv.FormatFloat(d, 'f', 2, 64) }
func millis(d float64) string { return strconv.FormatFloat(d, 'f', 0, 64) }

func formatTime(t *time.Time) string {
	if t == nil || t.IsZero() {
		return "-"
	}
	return t.UTC().Format(time.RFC3339)
}

// RenderJSON writes data as indented JSON.
func RenderJSON(w io.Writer, data any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(data)
}

// Render writes the result of a report as a table. Unknown result types
// fall back to JSON.
func Render(w io.Writer, data any) error {
	var t *table.Table
	switch v := data.(type) {
	case []models.Order:
		t = newTable("order_id", "customer_id", "order_date", "delivery_date", "status")
		for _, o := range v {
			t.Row(itoa(o.OrderID), itoa(o.CustomerID), formatTime(&o.OrderDate), formatTime(o.DeliveryDate), string(o.Status))
		}
	case *database.OrderDetails:
		fmt.Fprintf(w, "order %d  customer %d  %s  placed %s  delivered %s\n",
			v.Order.OrderID, v.Order.CustomerID, v.Order.Status,
			formatTime(&v.Order.OrderDate), formatTime(v.Order.DeliveryDate))
		t = newTable("item", "product_id", "product", "category", "quantity", "price", "subtotal")
		for _, it := range v.Items {
			t.Row(itoa(it.OrderItemID), itoa(it.ProductID), it.ProductName, it.Category,
				itoa(it.Quantity), itoa(it.Price), itoa(it.Quantity*it.Price))
		}
		t.Row("", "", "", "", "", "total", itoa(v.Total))
	case []database.CategoryRevenue:
		t = newTable("category", "total_revenue")
		for _, r := range v {
			t.Row(r.Category, i64(r.TotalRevenue))
		}
	case []database.ProductRevenue:
		t = newTable("product_id", "total_revenue")
		for _, r := range v {
			t.Row(itoa(r.ProductID), i64(r.TotalRevenue))
		}
	case *database.DeliveryStats:
		t = newTable("delivered_orders", "average_ms", "average_days")
		t.Row(itoa(v.Orders), millis(v.AverageDeliveryTimeMs), days(v.AverageDeliveryTimeDays))
	case []database.OrderDeliveryTime:
		t = newTable("order_id", "delivery_ms", "delivery_days")
		for _, r := range v {
			t.Row(itoa(r.OrderID), millis(r.DeliveryTimeMs), days(r.DeliveryTimeDays))
		}
	case []database.StateCount:
		t = newTable("state", "customers")
		for _, r := range v {
			t.Row(r.State, itoa(r.CustomerCount))
		}
	case []database.OrderTopProducts:
		t = newTable("order_id", "rank", "product", "price", "quantity", "total_price")
		for _, o := range v {
			for i, p := range o.TopProducts {
				t.Row(itoa(o.OrderID), itoa(i+1), p.ProductName, itoa(p.Price), itoa(p.Quantity), i64(p.TotalPrice))
			}
		}
	case *database.PriceAuditResult:
		fmt.Fprintf(w, "%d products with a valid price, %d invalid\n", v.Valid, len(v.Invalid))
		if len(v.Invalid) == 0 {
			return nil
		}
		t = newTable("product_id", "product", "reason")
		for _, p := range v.Invalid {
			t.Row(itoa(p.ProductID), p.ProductName, p.Reason)
		}
	default:
		return RenderJSON(w, data)
	}
	_, err := fmt.Fprintln(w, t.String())
	return err
}
