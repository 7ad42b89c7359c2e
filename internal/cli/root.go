// Package cli implements the grove command tree.
package cli

import (
	"github.com/spf13/cobra"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "grove",
	Short: "Grove — harvest lemons, grow databases",
	Long: `Grove is the backend for a gamified database platform: users earn
lemon credits by harvesting a shared lemon tree (gated by short quizzes)
and spend them on managed MongoDB and Redis instances.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "config file (default ~/.grove/config.toml)")
}

// Execute runs the CLI.
func Execute() error {
	return rootCmd.Execute()
}
