package main

import (
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create the stage, raw, ledger and final tables and the scoring function",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := cfg.Validate("migrate"); err != nil {
			return err
		}

		ctx := cmd.Context()
		wh, err := initWarehouse(ctx, cfg)
		if err != nil {
			return err
		}
		defer wh.Close() //nolint:errcheck

		if err := wh.Migrate(ctx); err != nil {
			return eris.Wrap(err, "migrate warehouse")
		}
		zap.L().Info("warehouse migrated", zap.String("driver", cfg.Warehouse.Driver))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(migrateCmd)
}
