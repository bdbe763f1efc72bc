package commands

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"shopdb/cmd/shopdb/output"
	"shopdb/internal/models"
	"shopdb/internal/reports"
)

func newNextIDCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "next-id <collection> <field>",
		Short: "Reserve the next integer identifier of a collection",
		Example: `  shopdb next-id orders order_id
  shopdb next-id order_items order_item_id`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := a.openStore(cmd.Context())
			if err != nil {
				return err
			}
			id, err := store.NextID(cmd.Context(), args[0], args[1])
			if err != nil {
				return err
			}
			if a.jsonOutput {
				return reports.RenderJSON(cmd.OutOrStdout(), map[string]int{"next_id": id})
			}
			fmt.Fprintln(cmd.OutOrStdout(), id)
			return nil
		},
	}
}

func newOrderCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "order",
		Short: "Place orders and move them through their statuses",
	}
	cmd.AddCommand(newOrderCreateCmd(a), newOrderStatusCmd(a))
	return cmd
}

func newOrderCreateCmd(a *app) *cobra.Command {
	var (
		customerID int
		items      []string
	)
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create an order and take its items out of stock",
		Long: `Create a Processing order for a customer. Every --item is
product_id:quantity:price. The order, its items and the stock updates are
written in one transaction; nothing is written if any item fails.`,
		Example: `  shopdb order create --customer 1 --item 101:1:1200 --item 103:2:25`,
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			lines, err := parseLineItems(items)
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			svc, reporter, err := a.orderService(ctx)
			if err != nil {
				return err
			}
			receipt, err := svc.CreateOrder(ctx, customerID, lines)
			if err != nil {
				return err
			}
			if a.jsonOutput {
				return reports.RenderJSON(cmd.OutOrStdout(), receipt)
			}
			output.Success(cmd.OutOrStdout(), "Created order %d with %d items, total %d",
				receipt.Order.OrderID, len(receipt.Items), receipt.Total())
			details, err := reporter.OrderDetails(ctx, receipt.Order.OrderID)
			if err != nil {
				return err
			}
			return reports.Render(cmd.OutOrStdout(), details)
		},
	}
	cmd.Flags().IntVar(&customerID, "customer", 0, "Customer id")
	cmd.Flags().StringArrayVar(&items, "item", nil, "Line item as product_id:quantity:price (repeatable)")
	_ = cmd.MarkFlagRequired("customer")
	_ = cmd.MarkFlagRequired("item")
	return cmd
}

// parseLineItems reads product_id:quantity:price triples. Range checks are
// left to the order service.
func parseLineItems(values []string) ([]models.LineItem, error) {
	lines := make([]models.LineItem, 0, len(values))
	for _, v := range values {
		parts := strings.Split(v, ":")
		if len(parts) != 3 {
			return nil, fmt.Errorf("item %q: expected product_id:quantity:price", v)
		}
		var nums [3]int
		for i, p := range parts {
			n, err := strconv.Atoi(strings.TrimSpace(p))
			if err != nil {
				return nil, fmt.Errorf("item %q: %w", v, err)
			}
			nums[i] = n
		}
		lines = append(lines, models.LineItem{ProductID: nums[0], Quantity: nums[1], Price: nums[2]})
	}
	return lines, nil
}

func newOrderStatusCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "status <order-id> <status>",
		Short: "Move an order to Shipped, Delivered or Cancelled",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			orderID, err := strconv.Atoi(args[0])
			if err != nil {
				return fmt.Errorf("order id %q: %w", args[0], err)
			}
			status, err := parseStatus(args[1])
			if err != nil {
				return err
			}
			svc, _, err := a.orderService(cmd.Context())
			if err != nil {
				return err
			}
			order, err := svc.UpdateStatus(cmd.Context(), orderID, status)
			if err != nil {
				return err
			}
			if a.jsonOutput {
				return reports.RenderJSON(cmd.OutOrStdout(), order)
			}
			output.Success(cmd.OutOrStdout(), "Order %d is now %s", order.OrderID, order.Status)
			return nil
		},
	}
}

func parseStatus(s string) (models.OrderStatus, error) {
	for _, st := range models.Statuses {
		if strings.EqualFold(s, string(st)) {
			return st, nil
		}
	}
	return "", fmt.Errorf("unknown status %q, expected one of %v", s, models.Statuses)
}
