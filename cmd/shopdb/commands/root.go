// Package commands implements the shopdb command line.
package commands

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"shopdb/cmd/shopdb/output"
	"shopdb/internal/config"
	"shopdb/internal/database"
	"shopdb/internal/logger"
	"shopdb/internal/reports"
)

const (
	backendMongo    = "mongo"
	backendPostgres = "postgres"
	backendMySQL    = "mysql"
	backendMemory   = "memory"
)

var backends = []string{backendMongo, backendPostgres, backendMySQL, backendMemory}

// app holds the global flags and what is built from them before a command
// runs. store, cache and logger may be preset, which skips opening them.
type app struct {
	configPath string
	backend    string
	jsonOutput bool

	cfg    *config.Config
	logger *zap.Logger
	store  database.Store
	cache  reports.Cache
	// closers run in reverse order after the command.
	closers []func(ctx context.Context) error
}

func newRootCmd(a *app) *cobra.Command {
	root := &cobra.Command{
		Use:   "shopdb",
		Short: "E-commerce order store on MongoDB, PostgreSQL or MySQL",
		Long: `shopdb manages customers, products, orders and order items.

It creates the schema, seeds fixture data, places orders atomically,
prints analytical reports, streams order changes and benchmarks the
order workflow.

Examples:
  shopdb schema && shopdb seed
  shopdb order create --customer 1 --item 101:2:1200
  shopdb report revenue-by-category --json
  shopdb --backend postgres bench order-processing`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.init()
		},
	}

	root.PersistentFlags().StringVar(&a.configPath, "config", "config.yaml", "Path to the configuration file")
	root.PersistentFlags().StringVar(&a.backend, "backend", backendMongo, fmt.Sprintf("Storage backend %v", backends))
	root.PersistentFlags().BoolVar(&a.jsonOutput, "json", false, "Output in JSON format")

	root.AddCommand(
		newSchemaCmd(a),
		newResetCmd(a),
		newSeedCmd(a),
		newNextIDCmd(a),
		newOrderCmd(a),
		newReportCmd(a),
		newAuditPricesCmd(a),
		newWatchCmd(a),
		newBenchCmd(a),
	)
	return root
}

// Execute runs the root command and exits 1 on error.
func Execute() {
	ctx := context.Background()
	a := &app{}
	err := newRootCmd(a).ExecuteContext(ctx)
	if cerr := a.close(ctx); err == nil {
		err = cerr
	}
	if err != nil {
		output.Error(os.Stderr, "%v", err)
		os.Exit(1)
	}
}

func (a *app) init() error {
	if a.cfg == nil {
		cfg, err := config.LoadConfig(a.configPath)
		if err != nil {
			return err
		}
		a.cfg = cfg
	}
	if a.logger == nil {
		l, err := logger.New(a.cfg.Log)
		if err != nil {
			return err
		}
		a.logger = l
		a.closers = append(a.closers, func(context.Context) error {
			_ = l.Sync()
			return nil
		})
	}
	return nil
}

func (a *app) close(ctx context.Context) error {
	var first error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](ctx); err != nil && first == nil {
			first = err
		}
	}
	a.closers = nil
	return first
}
