package commands

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"shopdb/cmd/shopdb/output"
	"shopdb/internal/jobs"
	"shopdb/internal/monitor"
)

func newWatchCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "watch",
		Short: "Print every change to the orders collection until interrupted",
		Long: `Subscribe to the orders change stream and print each event as
relaxed extended JSON. Requires MongoDB running as a replica set.

When redis is configured, cached reports are invalidated on every change
and refreshed in the background at reports.refresh_interval. A zero
interval leaves the refresh job off.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			store, err := a.openStore(ctx)
			if err != nil {
				return err
			}
			_, cached, err := a.openReporter(ctx, store)
			if err != nil {
				return err
			}

			opts := monitor.Options{Logger: a.logger}
			if cached != nil {
				opts.Invalidator = cached
				stopRefresh, err := startReportRefresh(ctx, cached, a.cfg.Reports.RefreshInterval, a.logger)
				if err != nil {
					return err
				}
				defer stopRefresh()
			}

			output.Info(cmd.ErrOrStderr(), "Watching orders on %s, press Ctrl+C to stop", a.backend)
			return monitor.Run(ctx, store, cmd.OutOrStdout(), opts)
		},
	}
}

// startReportRefresh runs the background report refresh until the returned
// func is called. It does nothing when interval is zero.
func startReportRefresh(ctx context.Context, refresher jobs.Refresher, interval time.Duration, logger *zap.Logger) (func(), error) {
	if interval <= 0 {
		logger.Debug("report refresh disabled")
		return func() {}, nil
	}
	refresh, err := jobs.NewReportRefresh(ctx, refresher, interval, logger)
	if err != nil {
		return nil, err
	}
	refresh.Start()
	return func() {
		if err := refresh.Stop(); err != nil {
			logger.Warn("stop report refresh", zap.Error(err))
		}
	}, nil
}
