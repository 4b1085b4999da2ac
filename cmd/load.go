package main

import (
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/lead-ingest/internal/model"
	"github.com/sells-group/lead-ingest/internal/trigger"
)

var (
	loadFile string
	loadKey  string
	loadURL  string
)

var loadCmd = &cobra.Command{
	Use:   "load",
	Short: "Load a local, remote or stored lead file into the warehouse",
	Long: "With --file the bytes are persisted and loaded in one step, like POST /upload-and-load. " +
		"With --url an http(s) or ftp file is downloaded first and then loaded the same way. " +
		"With --key an object already in the bucket is loaded, like POST /process-s3-file.",
	RunE: func(cmd *cobra.Command, args []string) error {
		if countSet(loadFile, loadKey, loadURL) != 1 {
			return eris.New("exactly one of --file, --url or --key is required")
		}
		if err := cfg.Validate("load"); err != nil {
			return err
		}

		ctx := cmd.Context()
		env, err := initIngest(ctx, cfg)
		if err != nil {
			return err
		}
		defer env.Close()

		var res *model.LoadResult
		switch {
		case loadFile != "":
			body, readErr := os.ReadFile(loadFile)
			if readErr != nil {
				return eris.Wrapf(readErr, "read %s", loadFile)
			}
			res, err = env.Trigger.Direct(ctx, model.RawUpload{
				Filename: filepath.Base(loadFile),
				Body:     body,
			})
		case loadURL != "":
			upload, fetchErr := initFetcher(cfg).Fetch(ctx, loadURL)
			if fetchErr != nil {
				return fetchErr
			}
			zap.L().Info("downloaded remote file",
				zap.String("filename", upload.Filename),
				zap.Int("bytes", len(upload.Body)),
			)
			res, err = env.Trigger.Direct(ctx, upload)
		default:
			res, err = env.Trigger.Notification(ctx, trigger.NotificationPayload{S3Key: loadKey})
		}
		if err != nil {
			return err
		}

		zap.L().Info("load complete",
			zap.String("resolved_name", res.ResolvedName),
			zap.Int64("rows_loaded", res.RowsLoaded),
			zap.Int64("rows_skipped", res.RowsSkipped),
		)
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(res)
	},
}

func countSet(vals ...string) int {
	n := 0
	for _, v := range vals {
		if v != "" {
			n++
		}
	}
	return n
}

func init() {
	loadCmd.Flags().StringVar(&loadURL, "url", "", "http(s) or ftp URL of a CSV or XLSX file to download and load")
	loadCmd.Flags().StringVar(&loadFile, "file", "", "local CSV or XLSX file to upload and load")
	loadCmd.Flags().StringVar(&loadKey, "key", "", "object key (or s3:// URI) already in the bucket")
	rootCmd.AddCommand(loadCmd)
}
