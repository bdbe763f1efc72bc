package commands

import (
	"github.com/spf13/cobra"

	"shopdb/cmd/shopdb/output"
	"shopdb/internal/fixtures"
)

func newSchemaCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "schema",
		Short: "Create collections, validators and indexes",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := a.openStore(cmd.Context())
			if err != nil {
				return err
			}
			if err := store.EnsureSchema(cmd.Context()); err != nil {
				return err
			}
			output.Success(cmd.OutOrStdout(), "Schema is up to date on %s", a.backend)
			return nil
		},
	}
}

func newResetCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "reset",
		Short: "Drop every collection",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := a.openStore(cmd.Context())
			if err != nil {
				return err
			}
			if err := store.Reset(cmd.Context()); err != nil {
				return err
			}
			output.Success(cmd.OutOrStdout(), "Dropped all data on %s", a.backend)
			return nil
		},
	}
}

func newSeedCmd(a *app) *cobra.Command {
	var (
		dir   string
		reset bool
	)
	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Load the fixture dataset",
		Long: `Load customers, products, orders and order items from JSON fixture files.

With --reset the existing data is dropped and the schema recreated first.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if dir == "" {
				dir = a.cfg.Fixtures.Dir
			}
			ds, err := fixtures.Load(dir)
			if err != nil {
				return err
			}
			store, err := a.openStore(ctx)
			if err != nil {
				return err
			}
			if reset {
				if err := store.Reset(ctx); err != nil {
					return err
				}
				if err := store.EnsureSchema(ctx); err != nil {
					return err
				}
			}
			if err := store.Seed(ctx, ds); err != nil {
				return err
			}
			output.Success(cmd.OutOrStdout(), "Seeded %d customers, %d products, %d orders, %d order items",
				len(ds.Customers), len(ds.Products), len(ds.Orders), len(ds.OrderItems))
			return nil
		},
	}
	cmd.Flags().StringVar(&dir, "dir", "", "Fixture directory (default from config)")
	cmd.Flags().BoolVar(&reset, "reset", false, "Drop data and recreate the schema first")
	return cmd
}
