// Package commands holds the ledgerd command tree.
package commands

import (
	"github.com/spf13/cobra"
)

// Version is stamped at build time with -ldflags "-X ...commands.Version=".
var Version = "dev"

// NewRootCommand creates the root CLI command with all subcommands registered.
func NewRootCommand() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:     "ledgerd",
		Short:   "Multi-tenant double-entry ledger and voucher posting engine",
		Version: Version,
		CompletionOptions: cobra.CompletionOptions{
			DisableDefaultCmd: true,
		},
		SilenceUsage: true,
	}

	rootCmd.AddCommand(
		newServeCommand(),
		newMigrateCommand(),
		newRecalculateCommand(),
		newSeedChartCommand(),
		newTokenCommand(),
	)
	return rootCmd
}
