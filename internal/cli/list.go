package cli

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

type listOptions struct {
	Export string
	SBOM   string
}

func newListCommand(feed *feedOptions) *cobra.Command {
	opts := listOptions{}
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List the local feed or export it as an offline manifest",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			service := newAppService()
			if sbomPath := resolveString(cmd, opts.SBOM, "sbom", "sbom"); sbomPath != "" {
				report, err := service.SBOM(cmd.Context(), feed.settings(cmd), sbomPath)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "sbom: %s\n", sbomPath)
				return finishRun(cmd.OutOrStdout(), report)
			}
			exportPath := resolveString(cmd, opts.Export, "export", "export")
			report, err := service.List(cmd.Context(), feed.settings(cmd), exportPath)
			if err != nil {
				return err
			}
			return finishRun(cmd.OutOrStdout(), report)
		},
	}
	cmd.Flags().StringVar(&opts.Export, "export", "", "Write the inventory to this manifest (.json, .yaml or .yml)")
	cmd.Flags().StringVar(&opts.SBOM, "sbom", "", "Write the inventory as an SPDX JSON document")
	cmd.MarkFlagsMutuallyExclusive("export", "sbom")
	_ = viper.BindPFlag("export", cmd.Flags().Lookup("export"))
	_ = viper.BindPFlag("sbom", cmd.Flags().Lookup("sbom"))
	return cmd
}
