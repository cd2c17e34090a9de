package main

import (
	"fmt"

	"github.com/sammwyy/keymacro/core"
	"github.com/spf13/cobra"
)

// runCmd starts the daemon.
var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the daemon",
	Long: `Start the daemon: serve the event socket, load the script plugins,
watch the configuration and the plugin directory, and serve the monitor when
core.monitor_addr is set.`,
	Example: `  # Run with the default configuration
  keymacro run

  # Run with a specific configuration and debug logging
  keymacro run --config ./keymacro.toml --verbose`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		daemon, err := core.NewDaemon(configPath)
		if err != nil {
			return fmt.Errorf("failed to create daemon: %w", err)
		}
		return daemon.Start()
	},
}

func init() {
	rootCmd.AddCommand(runCmd)
}
