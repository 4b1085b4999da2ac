package main

import (
	"errors"
	"fmt"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/lead-ingest/internal/query"
	"github.com/sells-group/lead-ingest/pkg/athena"
)

var countCmd = &cobra.Command{
	Use:   "count",
	Short: "Count raw lead rows with the interactive query engine",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := cfg.Validate("count"); err != nil {
			return err
		}

		ctx := cmd.Context()
		engine, err := athena.NewClient(ctx, athena.Config{
			Region:         cfg.Athena.Region,
			Database:       cfg.Athena.Database,
			OutputLocation: cfg.Athena.OutputLocation,
			Workgroup:      cfg.Athena.Workgroup,
		})
		if err != nil {
			return err
		}

		facade := query.New(nil, engine, nil, query.Config{
			PollInterval: cfg.Athena.PollInterval(),
			MaxPolls:     cfg.Athena.MaxPolls,
			Timeout:      cfg.Athena.Timeout(),
		})
		n, err := facade.Count(ctx)
		if errors.Is(err, query.ErrCountTimeout) {
			return eris.Wrapf(err, "count did not finish within %d polls", cfg.Athena.MaxPolls)
		}
		if err != nil {
			return err
		}

		fmt.Fprintln(cmd.OutOrStdout(), n)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(countCmd)
}
