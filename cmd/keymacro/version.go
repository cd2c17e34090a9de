package main

import (
	"encoding/json"
	"fmt"

	"github.com/goccy/go-yaml"
	"github.com/spf13/cobra"
)

// versionCmd represents the version command.
var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show version information",
	RunE: func(cmd *cobra.Command, args []string) error {
		versionInfo := map[string]string{
			"version":   version,
			"commit":    commit,
			"buildDate": buildDate,
			"goVersion": goVersion,
		}

		switch output {
		case jsonFormat:
			data, err := json.MarshalIndent(versionInfo, "", "  ")
			if err != nil {
				return fmt.Errorf("failed to marshal version info: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), string(data))

		case yamlFormat:
			data, err := yaml.Marshal(versionInfo)
			if err != nil {
				return fmt.Errorf("failed to marshal version info: %w", err)
			}
			fmt.Fprint(cmd.OutOrStdout(), string(data))

		default: // text
			fmt.Fprintf(cmd.OutOrStdout(), "keymacro version %s\n", version)
			if version != "dev" {
				fmt.Fprintf(cmd.OutOrStdout(), "  commit:     %s\n", commit)
				fmt.Fprintf(cmd.OutOrStdout(), "  built:      %s\n", buildDate)
				fmt.Fprintf(cmd.OutOrStdout(), "  go version: %s\n", goVersion)
			}
		}

		return nil
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}
