package cmd

import (
	"fmt"
	"net/http"

	"vaultsync/internal/model"

	"github.com/spf13/cobra"
)

var historyN int

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "View sync history",
	RunE: func(cmd *cobra.Command, args []string) error {
		var histories []model.History
		if err := call(http.MethodGet, fmt.Sprintf("/history?n=%d", historyN), &histories); err != nil {
			return err
		}

		if len(histories) == 0 {
			fmt.Println("no history yet")
			return nil
		}

		for _, h := range histories {
			status := "✓"
			if h.Status == model.HistoryFailed {
				status = "✗"
			}

			fmt.Printf("%s [%s] %-8s %s\n",
				status,
				h.SyncedAt.Format("2006-01-02 15:04:05"),
				h.Direction,
				h.LocalPath,
			)
			if h.ErrMsg != "" {
				fmt.Printf("    %s\n", h.ErrMsg)
			}
		}

		return nil
	},
}

func init() {
	historyCmd.Flags().IntVar(&historyN, "n", 20, "number of history entries to show")
	rootCmd.AddCommand(historyCmd)
}
