package cli

import (
	"github.com/spf13/cobra"
)

func newAddCommand(feed *feedOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "add <id>...",
		Short: "Mirror every version of the given packages",
		Long:  "Mirror every upstream version of each package. Packages that already have a local version are skipped; use update to pull dependencies.",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			report, err := newAppService().Add(cmd.Context(), feed.settings(cmd), args)
			if err != nil {
				return err
			}
			return finishRun(cmd.OutOrStdout(), report)
		},
	}
}
