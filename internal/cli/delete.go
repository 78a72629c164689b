package cli

import (
	"github.com/spf13/cobra"
)

func newDeleteCommand(feed *feedOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <id>...",
		Short: "Remove every version of the given packages from the local feed",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			report, err := newAppService().Delete(cmd.Context(), feed.settings(cmd), args)
			if err != nil {
				return err
			}
			return finishRun(cmd.OutOrStdout(), report)
		},
	}
}
