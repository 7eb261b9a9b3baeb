// Package cli implements the helpdesk command line.
package cli

import (
	"github.com/spf13/cobra"
)

// NewRootCommand assembles the helpdesk command tree.
func NewRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:           "helpdesk",
		Short:         "Slack help channel ticketing bot",
		SilenceUsage:  true,
		SilenceErrors: false,
	}

	root.AddCommand(
		newServeCommand(),
		newMigrateCommand(),
		newCloseStaleCommand(),
		newDailyStatsCommand(),
		newTagsCommand(),
		newUsersCommand(),
		newTokenCommand(),
	)
	return root
}
