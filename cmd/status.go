package cmd

import (
	"fmt"
	"net/http"
	"slices"
	"time"

	"vaultsync/internal/daemon"
	"vaultsync/internal/queue"

	"github.com/spf13/cobra"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "View daemon status",
	RunE: func(cmd *cobra.Command, args []string) error {
		var result daemon.StatusResponse
		if err := call(http.MethodGet, "/status", &result); err != nil {
			return err
		}

		s := result.Session
		lastSync := "-"
		if s.LastSync != nil {
			lastSync = s.LastSync.Format("2006-01-02 15:04:05")
		}

		fmt.Printf("%-10s %-8s %-8s %-8s %s\n", "STATUS", "BACKEND", "SYNCED", "FAILED", "LAST SYNC")
		fmt.Printf("%-10s %-8s %-8d %-8d %s\n", s.Status, s.Backend, s.Synced, s.Failed, lastSync)
		fmt.Printf("local:  %s\n", s.Local)
		fmt.Printf("remote: %s\n", s.Remote)
		fmt.Printf("uptime: %s\n", time.Since(s.StartedAt).Round(time.Second))
		if s.Syncing {
			fmt.Println("a sync pass is running")
		}
		if r := s.LastReport; r != nil {
			fmt.Printf("last pass: %d downloaded, %d uploaded, %d failed, %d skipped\n",
				r.Downloaded, r.Uploaded, r.Failed, r.Skipped)
		}

		fmt.Printf("\n%-10s %-8s %-8s %s\n", "QUEUE", "PENDING", "RUNNING", "WAITING")
		types := make([]queue.TaskType, 0, len(result.Queue))
		for t := range result.Queue {
			types = append(types, t)
		}
		slices.Sort(types)
		for _, t := range types {
			st := result.Queue[t]
			fmt.Printf("%-10s %-8d %-8d %d\n", t, st.QueueLength, st.Running, st.ActivePromises)
		}
		fmt.Printf("pending remote operations: %d\n", result.PendingOps)

		return nil
	},
}

func init() {
	rootCmd.AddCommand(statusCmd)
}
