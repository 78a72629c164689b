package cli

import (
	"github.com/spf13/cobra"
)

func newVerifyCommand(feed *feedOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "verify",
		Short: "Check local package files against their recorded hashes",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			report, err := newAppService().Verify(cmd.Context(), feed.settings(cmd))
			if err != nil {
				return err
			}
			return finishRun(cmd.OutOrStdout(), report)
		},
	}
}
