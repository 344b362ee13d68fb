package commands

import (
	"errors"
	"fmt"
	"slices"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/macropower/helmbuild/pkg/pipeline"
)

var ErrRepoListFailed = errors.New("repo list failed")

// NewRepoCmd returns the repo command.
func NewRepoCmd(arg *RootArgs) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "repo",
		Short: "Helm chart repository management",
	}

	cmd.AddCommand(NewStageCmd(arg, pipeline.StageRepoSync, "Sync the Helm repositories with the config", "sync"))
	cmd.AddCommand(NewRepoListCmd(arg))

	return cmd
}

// NewRepoListCmd returns a command listing the repositories Helm knows.
func NewRepoListCmd(arg *RootArgs) *cobra.Command {
	args := NewStageArgs(arg)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List the repositories known to Helm",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			p, err := newPipeline(cmd, args)
			if err != nil {
				return err
			}

			err = p.Run(cmd.Context(), pipeline.StageInit)
			if err != nil {
				return fmt.Errorf("%w: %w", ErrRepoListFailed, err)
			}

			known, err := p.Syncer().Known(cmd.Context())
			if err != nil {
				return fmt.Errorf("%w: %w", ErrRepoListFailed, err)
			}

			names := make([]string, 0, len(known))
			for name := range known {
				names = append(names, name)
			}

			slices.Sort(names)

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "NAME\tURL")

			for _, name := range names {
				fmt.Fprintf(tw, "%s\t%s\n", name, known[name])
			}

			return tw.Flush()
		},
		SilenceUsage: true,
	}

	addStageFlags(cmd, args)

	return cmd
}
