package main

import (
	"fmt"

	"github.com/goccy/go-yaml"
	"github.com/sammwyy/keymacro/core"
	"github.com/spf13/cobra"
)

// schemaCmd prints the config schema document of the plugin chain.
var schemaCmd = &cobra.Command{
	Use:   "schema",
	Short: "Print the plugin configuration schema",
	Long: `Register the built-in and script plugins and print the configuration
schema document the settings surface renders.`,
	Example: `  # Print the schema as JSON
  keymacro schema

  # Print the schema as YAML
  keymacro schema --output yaml`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		daemon, err := core.NewDaemon(configPath)
		if err != nil {
			return fmt.Errorf("failed to create daemon: %w", err)
		}
		if err := daemon.Setup(); err != nil {
			return err
		}

		if output == yamlFormat {
			data, err := yaml.Marshal(daemon.ConfigSchema())
			if err != nil {
				return fmt.Errorf("failed to marshal schema: %w", err)
			}
			fmt.Fprint(cmd.OutOrStdout(), string(data))
			return nil
		}

		data, err := daemon.ConfigSchemaJSON()
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), string(data))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(schemaCmd)
}
