package cmd

import (
	"fmt"
	"net/http"

	"vaultsync/internal/daemon"

	"github.com/spf13/cobra"
)

var infoCmd = &cobra.Command{
	Use:   "info",
	Short: "Show the backend account and storage usage",
	RunE: func(cmd *cobra.Command, args []string) error {
		var info daemon.InfoResponse
		if err := call(http.MethodGet, "/info", &info); err != nil {
			return err
		}

		if u := info.User; u != nil {
			fmt.Printf("account: %s (%s)\n", u.Name, u.ID)
			if u.Email != "" {
				fmt.Printf("email:   %s\n", u.Email)
			}
		}
		if s := info.Storage; s != nil {
			if s.Total > 0 {
				fmt.Printf("storage: %s of %s used, %s free\n", humanBytes(s.Used), humanBytes(s.Total), humanBytes(s.Free))
			} else {
				fmt.Printf("storage: %s used\n", humanBytes(s.Used))
			}
		}
		return nil
	},
}

func humanBytes(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for m := n / unit; m >= unit; m /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}

func init() {
	rootCmd.AddCommand(infoCmd)
}
