package main

import (
	"fmt"

	"github.com/sammwyy/keymacro/api"
	"github.com/sammwyy/keymacro/core/config"
	"github.com/spf13/cobra"
)

// Output format constants.
const (
	jsonFormat = "json"
	yamlFormat = "yaml"
	textFormat = "text"
)

var (
	// Global flags.
	configPath string
	envFile    string
	verbose    bool
	output     string
)

// rootCmd represents the base command when called without any subcommands.
var rootCmd = &cobra.Command{
	Use:   "keymacro",
	Short: "Keystroke plugin host with dynamic macros",
	Long: `keymacro receives keyboard events from a native hook, runs them through
an ordered chain of plugins and tells the hook whether to forward each event.

The built-in dynamic macro plugin repeats the last typed sequence, or predicts
the next one, when its hotkey is pressed.`,
	Version:       fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, buildDate),
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if err := config.LoadEnv(envFile); err != nil {
			return err
		}
		if configPath == "" {
			configPath = config.DefaultPath()
		}
		if verbose {
			return api.SetLogLevel("debug")
		}
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Path to configuration file (default $KEYMACRO_CONFIG or ~/.config/keymacro/config.toml)")
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "Dotenv file loaded before the configuration")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose output")
	rootCmd.PersistentFlags().StringVar(&output, "output", textFormat, "Output format (text, json, yaml)")

	// Disable default completion command
	rootCmd.CompletionOptions.DisableDefaultCmd = true
}
