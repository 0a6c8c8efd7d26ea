// Package app implements the main application commands.
package app

import (
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "go-settings-admin",
	Short: "go-settings-admin serves typed application settings",
	Long: `go-settings-admin serves typed application settings from a pluggable
backend (sqlite, mysql, postgres, redis, s3, remote or memory) behind an
incrementally refreshed local cache, exposed through a JSON admin API.`,
	Args: cobra.OnlyValidArgs,
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}
