// Package commands implements the s3journal CLI: a cobra root command
// with a persistent --config flag, subcommands for running the service
// and inspecting configuration.
package commands

import (
	"github.com/spf13/cobra"
)

var configPath string

// Execute builds and runs the root command.
func Execute() error {
	return rootCmd().Execute()
}

func rootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "s3journal",
		Short: "Durable append-only journal backed by S3 multipart uploads",
	}

	cmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to config file (YAML)")

	cmd.AddCommand(runCmd())
	cmd.AddCommand(configCmd())
	cmd.AddCommand(versionCmd())

	return cmd
}
