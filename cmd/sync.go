package cmd

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"vaultsync/internal/app"
	"vaultsync/internal/engine"
	"vaultsync/internal/logger"

	"github.com/spf13/cobra"
)

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Run one full sync pass",
	Long:  "Run one full sync pass. A running daemon does the pass; otherwise it runs in this process.",
	RunE: func(cmd *cobra.Command, args []string) error {
		defer logger.Sync()

		var report engine.Report
		if daemonRunning() {
			if err := call(http.MethodPost, "/sync", &report); err != nil {
				return err
			}
		} else {
			ctx := context.Background()
			a, err := app.New(ctx, cfg)
			if err != nil {
				return err
			}
			defer a.Close()

			report, err = a.Engine.SyncAll(ctx)
			if err != nil {
				printReport(report)
				return err
			}
		}

		printReport(report)
		return nil
	},
}

func printReport(r engine.Report) {
	fmt.Printf("done: %d downloaded, %d uploaded, %d failed, %d skipped in %s\n",
		r.Downloaded, r.Uploaded, r.Failed, r.Skipped, r.Duration.Round(time.Millisecond))
}

func init() {
	rootCmd.AddCommand(syncCmd)
}
