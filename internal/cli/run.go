package cli

import (
	"strings"

	"github.com/ZanzyTHEbar/errbuilder-go"
	"github.com/spf13/cobra"

	"package-mirror/internal/app"
	"package-mirror/internal/types"
)

type runOptions struct {
	Delete    []string
	Add       []string
	Import    string
	Update    []string
	UpdateAll bool
	List      bool
	Export    string
	Verify    bool
}

func newRunCommand(feed *feedOptions) *cobra.Command {
	opts := runOptions{}
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Delete, add and import packages, then run one final action",
		Long: "Phases run in order: delete, add and import, then at most one of " +
			"--update, --update-all, --list, --export or --verify.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			plan, err := opts.plan()
			if err != nil {
				return err
			}
			report, err := newAppService().Run(cmd.Context(), app.RunRequest{
				Settings:   feed.settings(cmd),
				Plan:       plan,
				ImportPath: strings.TrimSpace(opts.Import),
			})
			if err != nil {
				return err
			}
			return finishRun(cmd.OutOrStdout(), report)
		},
	}
	cmd.Flags().StringSliceVar(&opts.Delete, "delete", nil, "Package ids to delete")
	cmd.Flags().StringSliceVar(&opts.Add, "add", nil, "Package ids to add")
	cmd.Flags().StringVar(&opts.Import, "import", "", "Offline manifest to import")
	cmd.Flags().StringSliceVar(&opts.Update, "update", nil, "Package ids whose dependencies to update")
	cmd.Flags().BoolVar(&opts.UpdateAll, "update-all", false, "Update every package in the local feed")
	cmd.Flags().BoolVar(&opts.List, "list", false, "List the local feed")
	cmd.Flags().StringVar(&opts.Export, "export", "", "Export the local feed to this manifest")
	cmd.Flags().BoolVar(&opts.Verify, "verify", false, "Verify local package hashes")
	return cmd
}

func (o runOptions) plan() (types.RunPlan, error) {
	plan := types.RunPlan{Delete: o.Delete, Add: o.Add}
	actions := 0
	if len(o.Update) > 0 {
		plan.Action, plan.Update = types.ActionUpdateSpecific, o.Update
		actions++
	}
	if o.UpdateAll {
		plan.Action = types.ActionUpdateAll
		actions++
	}
	if o.List {
		plan.Action = types.ActionList
		actions++
	}
	if path := strings.TrimSpace(o.Export); path != "" {
		plan.Action, plan.ExportPath = types.ActionExport, path
		actions++
	}
	if o.Verify {
		plan.Action = types.ActionVerify
		actions++
	}
	if actions > 1 {
		return types.RunPlan{}, errbuilder.New().
			WithCode(errbuilder.CodeInvalidArgument).
			WithMsg("only one of --update, --update-all, --list, --export or --verify may be given")
	}
	return plan, nil
}
