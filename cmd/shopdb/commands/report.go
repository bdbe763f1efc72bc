package commands

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"shopdb/cmd/shopdb/output"
	"shopdb/internal/database"
	"shopdb/internal/reports"
)

func newReportCmd(a *app) *cobra.Command {
	var p reports.Params
	cmd := &cobra.Command{
		Use:       "report <name>",
		Short:     "Run an analytical report",
		Long:      "Run one of the reports below. Aggregate reports are served from redis when it is configured.\n\n" + reportList(),
		Example:   `  shopdb report orders-by-customer --customer 1
  shopdb report order-details --order 1001
  shopdb report top-products --limit 5 --json`,
		Args:      cobra.ExactArgs(1),
		ValidArgs: reports.Names(),
		RunE: func(cmd *cobra.Command, args []string) error {
			report, ok := reports.Lookup(args[0])
			if !ok {
				return fmt.Errorf("unknown report %q, expected one of %v", args[0], reports.Names())
			}
			store, err := a.openStore(cmd.Context())
			if err != nil {
				return err
			}
			reporter, _, err := a.openReporter(cmd.Context(), store)
			if err != nil {
				return err
			}
			return a.runReport(cmd, report, reporter, p)
		},
	}
	cmd.Flags().IntVar(&p.CustomerID, "customer", 0, "Customer id for orders-by-customer")
	cmd.Flags().IntVar(&p.OrderID, "order", 0, "Order id for order-details")
	cmd.Flags().IntVar(&p.Limit, "limit", database.DefaultTopProducts, "Products per order for top-products")
	return cmd
}

// newAuditPricesCmd is a shortcut for the price-audit report that also
// warns about the offending products.
func newAuditPricesCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "audit-prices",
		Short: "List products whose price is missing, not a number or negative",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := a.openStore(cmd.Context())
			if err != nil {
				return err
			}
			res, err := store.PriceAudit(cmd.Context())
			if err != nil {
				return err
			}
			if a.jsonOutput {
				return reports.RenderJSON(cmd.OutOrStdout(), res)
			}
			if len(res.Invalid) == 0 {
				output.Success(cmd.OutOrStdout(), "All %d product prices are valid", res.Valid)
				return nil
			}
			output.Warning(cmd.OutOrStdout(), "%d of %d products have an invalid price",
				len(res.Invalid), res.Valid+len(res.Invalid))
			return reports.Render(cmd.OutOrStdout(), res)
		},
	}
}

func (a *app) runReport(cmd *cobra.Command, report reports.Report, reporter database.Reporter, p reports.Params) error {
	data, err := report.Run(cmd.Context(), reporter, p)
	if err != nil {
		return fmt.Errorf("%s: %w", report.Name, err)
	}
	if a.jsonOutput {
		return reports.RenderJSON(cmd.OutOrStdout(), data)
	}
	output.Muted(cmd.OutOrStdout(), "%s: %s", report.Name, report.Description)
	return reports.Render(cmd.OutOrStdout(), data)
}

func reportList() string {
	var b strings.Builder
	b.WriteString("Reports:\n")
	for _, r := range reports.Catalog {
		fmt.Fprintf(&b, "  %-24s %s\n", r.Name, r.Description)
	}
	return b.String()
}
