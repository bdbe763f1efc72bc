package commands

import (
	"fmt"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/spf13/cobra"

	"shopdb/cmd/shopdb/output"
	"shopdb/internal/reports"
	"shopdb/internal/runner"
	"shopdb/internal/workloads"
)

func newBenchCmd(a *app) *cobra.Command {
	var (
		concurrency int
		duration    time.Duration
	)
	cmd := &cobra.Command{
		Use:   "bench <workload>...",
		Short: "Benchmark the order workflow and the reports",
		Long: "Run workloads against the selected backend and report throughput and latency percentiles.\n\nWorkloads: " +
			strings.Join(workloads.Names(), ", "),
		Example:   `  shopdb --backend postgres bench order-processing inventory-update --concurrency 50 --duration 1m`,
		Args:      cobra.MinimumNArgs(1),
		ValidArgs: workloads.Names(),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			if concurrency <= 0 {
				concurrency = a.cfg.BenchmarkSettings.DefaultConcurrency
			}
			if duration <= 0 {
				duration = a.cfg.BenchmarkSettings.DefaultDuration
			}
			svc, reporter, err := a.orderService(ctx)
			if err != nil {
				return err
			}
			deps := workloads.Deps{Store: a.store, Orders: svc, Reporter: reporter}

			results := make([]*runner.Result, 0, len(args))
			for _, name := range args {
				w, err := workloads.New(name, deps)
				if err != nil {
					return err
				}
				if !a.jsonOutput {
					output.Info(cmd.ErrOrStderr(), "Running %s on %s for %s with %d workers", w.Name(), a.backend, duration, concurrency)
				}
				res, err := runner.Run(ctx, w, concurrency, duration, a.logger)
				if err != nil {
					return err
				}
				results = append(results, res)
				if ctx.Err() != nil {
					break
				}
			}

			if a.jsonOutput {
				return reports.RenderJSON(cmd.OutOrStdout(), results)
			}
			fmt.Fprintln(cmd.OutOrStdout(), resultsTable(results))
			return nil
		},
	}
	cmd.Flags().IntVarP(&concurrency, "concurrency", "c", 0, "Concurrent workers (default from config)")
	cmd.Flags().DurationVarP(&duration, "duration", "d", 0, "Duration of each workload (default from config)")
	return cmd
}

func resultsTable(results []*runner.Result) *table.Table {
	header := lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#7C3AED")).Padding(0, 1)
	cell := lipgloss.NewStyle().Padding(0, 1)
	t := table.New().
		Border(lipgloss.RoundedBorder()).
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == table.HeaderRow {
				return header
			}
			return cell
		}).
		Headers("workload", "ops", "errors", "ops/s", "avg", "p95", "p99", "integrity")
	for _, r := range results {
		integrity := "-"
		if r.DataIntegrity != nil {
			integrity = strconv.FormatBool(*r.DataIntegrity)
		}
		t.Row(
			r.Workload,
			strconv.FormatInt(r.Operations, 10),
			strconv.FormatInt(r.Errors, 10),
			strconv.FormatFloat(r.Throughput, 'f', 1, 64),
			r.AverageLatency.String(),
			r.P95Latency.String(),
			r.P99Latency.String(),
			integrity,
		)
	}
	return t
}
