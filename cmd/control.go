package cmd

import (
	"fmt"
	"net/http"

	"github.com/spf13/cobra"
)

var pauseCmd = &cobra.Command{
	Use:   "pause",
	Short: "Pause syncing",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := call(http.MethodPost, "/pause", nil); err != nil {
			return err
		}
		fmt.Println("paused")
		return nil
	},
}

var resumeCmd = &cobra.Command{
	Use:   "resume",
	Short: "Resume syncing",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := call(http.MethodPost, "/resume", nil); err != nil {
			return err
		}
		fmt.Println("resumed")
		return nil
	},
}

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop daemon",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := call(http.MethodPost, "/stop", nil); err != nil {
			return err
		}
		fmt.Println("stopped")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(pauseCmd, resumeCmd, stopCmd)
}
