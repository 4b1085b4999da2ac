package main

import (
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/sells-group/lead-ingest/internal/config"
)

const redacted = "********"

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Print the effective configuration as YAML, with secrets redacted",
	RunE: func(cmd *cobra.Command, args []string) error {
		out, err := renderConfig(cfg)
		if err != nil {
			return err
		}
		_, err = cmd.OutOrStdout().Write(out)
		return err
	},
}

func renderConfig(c *config.Config) ([]byte, error) {
	masked := *c
	if masked.Blob.SecretAccessKey != "" {
		masked.Blob.SecretAccessKey = redacted
	}
	if masked.Warehouse.DatabaseURL != "" && masked.Warehouse.Driver == "postgres" {
		masked.Warehouse.DatabaseURL = redacted
	}
	if masked.Monitoring.WebhookURL != "" {
		masked.Monitoring.WebhookURL = redacted
	}
	out, err := yaml.Marshal(&masked)
	if err != nil {
		return nil, eris.Wrap(err, "encode config")
	}
	return out, nil
}

func init() {
	rootCmd.AddCommand(configCmd)
}
