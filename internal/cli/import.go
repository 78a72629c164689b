package cli

import (
	"github.com/spf13/cobra"
)

func newImportCommand(feed *feedOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "import <manifest>",
		Short: "Mirror exactly the versions listed in an offline manifest",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			report, err := newAppService().Import(cmd.Context(), feed.settings(cmd), args[0])
			if err != nil {
				return err
			}
			return finishRun(cmd.OutOrStdout(), report)
		},
	}
}
