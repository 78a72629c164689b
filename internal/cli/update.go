package cli

import (
	"github.com/ZanzyTHEbar/errbuilder-go"
	"github.com/spf13/cobra"

	"package-mirror/internal/types"
)

type updateOptions struct {
	All bool
}

func newUpdateCommand(feed *feedOptions) *cobra.Command {
	opts := updateOptions{}
	cmd := &cobra.Command{
		Use:   "update [id...]",
		Short: "Mirror missing dependencies of local packages",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runUpdate(cmd, feed, opts, args)
		},
	}
	cmd.Flags().BoolVar(&opts.All, "all", false, "Update every package in the local feed")
	return cmd
}

func runUpdate(cmd *cobra.Command, feed *feedOptions, opts updateOptions, ids []string) error {
	service := newAppService()
	var (
		report types.RunReport
		err    error
	)
	switch {
	case opts.All && len(ids) > 0:
		return errbuilder.New().
			WithCode(errbuilder.CodeInvalidArgument).
			WithMsg("--all cannot be combined with package ids")
	case opts.All:
		report, err = service.UpdateAll(cmd.Context(), feed.settings(cmd))
	case len(ids) == 0:
		return errbuilder.New().
			WithCode(errbuilder.CodeInvalidArgument).
			WithMsg("give package ids or --all")
	default:
		report, err = service.Update(cmd.Context(), feed.settings(cmd), ids)
	}
	if err != nil {
		return err
	}
	return finishRun(cmd.OutOrStdout(), report)
}
