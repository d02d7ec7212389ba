package cmd

import (
	"fmt"
	"os"

	"vaultsync/internal/config"
	"vaultsync/internal/db"
	"vaultsync/internal/logger"

	"github.com/spf13/cobra"
)

var (
	cfg   *config.Config
	debug bool
)

// clientCmds only talk to a running daemon and never open the database.
var clientCmds = map[string]bool{
	"status": true, "pause": true, "resume": true,
	"stop": true, "history": true, "tree": true, "info": true,
}

var rootCmd = &cobra.Command{
	Use:   "vaultsync",
	Short: "Keep a local vault in sync with cloud storage",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if cmd.Name() == "help" || cmd.Name() == "completion" {
			return nil
		}

		logger.Init(debug)

		var err error
		cfg, err = config.Load()
		if err != nil {
			return err
		}

		if !clientCmds[cmd.Name()] && cmd.Parent() != authCmd {
			if err := db.Init(cfg.DBPath); err != nil {
				return err
			}
		}

		return nil
	},
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func daemonURL(path string) string {
	return fmt.Sprintf("http://localhost:%d%s", cfg.DaemonPort, path)
}

func init() {
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "Enable debug mode")
}
