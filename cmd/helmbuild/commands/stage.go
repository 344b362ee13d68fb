package commands

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"github.com/macropower/helmbuild/pkg/config"
	"github.com/macropower/helmbuild/pkg/log"
	"github.com/macropower/helmbuild/pkg/pipeline"
	"github.com/macropower/helmbuild/pkg/pipelinetui"
)

var (
	ErrConfig        = errors.New("config error")
	ErrCommandFailed = errors.New("command failed")
)

type stageRunner interface {
	Run(ctx context.Context, target pipeline.Stage) error
}

// NewStageCmd returns a command running every stage up to and including
// the named one.
func NewStageCmd(arg *RootArgs, stage pipeline.Stage, short, use string) *cobra.Command {
	args := NewStageArgs(arg)

	if use == "" {
		use = string(stage)
	}

	cmd := &cobra.Command{
		Use:   use,
		Short: short,
		Long: short + ".\n\nEvery preceding stage runs first; use --skip to leave stages out.\n" +
			"Stages: " + pipeline.StageNames() + ".\n",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runStages(cmd, args, stage)
		},
		SilenceUsage: true,
	}

	addStageFlags(cmd, args)

	return cmd
}

// NewRunCmd returns the run command, which runs the stages up to an optional
// target stage, all of them by default.
func NewRunCmd(arg *RootArgs) *cobra.Command {
	args := NewStageArgs(arg)

	validArgs := make([]string, 0, len(pipeline.Stages))
	for _, s := range pipeline.Stages {
		validArgs = append(validArgs, string(s))
	}

	cmd := &cobra.Command{
		Use:       "run [stage]",
		Short:     "Run the lifecycle up to a stage",
		Long:      "Run the lifecycle up to and including a stage (default deploy).\n\nStages: " + pipeline.StageNames() + ".\n",
		Args:      cobra.MaximumNArgs(1),
		ValidArgs: validArgs,
		RunE: func(cmd *cobra.Command, posArgs []string) error {
			target := pipeline.StageDeploy

			if len(posArgs) == 1 {
				var err error

				target, err = pipeline.ParseStage(posArgs[0])
				if err != nil {
					return fmt.Errorf("%w: %w", ErrInvalidArgument, err)
				}
			}

			return runStages(cmd, args, target)
		},
		SilenceUsage: true,
	}

	addStageFlags(cmd, args)

	return cmd
}

func addStageFlags(cmd *cobra.Command, args *StageArgs) {
	cmd.Flags().StringVarP(args.chart, "chart", "c", "", "Only test the chart with this name")
	cmd.Flags().StringVarP(args.tests, "tests", "t", "", "Only run test cases matching this pattern")
	cmd.Flags().BoolVar(args.ignoreFailures, "ignore_failures", false, "Do not fail on test failures")
	cmd.Flags().BoolVar(args.force, "force", false, "Sync repositories even when they are up to date")
	cmd.Flags().BoolVar(args.dryRun, "dry_run", false, "List the charts deploy would upload")
	cmd.Flags().StringSliceVar(args.skip, "skip", []string{}, "Stages to skip ("+pipeline.StageNames()+")")
}

func runStages(cmd *cobra.Command, args *StageArgs, target pipeline.Stage) error {
	p, err := newPipeline(cmd, args)
	if err != nil {
		return err
	}

	r, err := newStageRunner(cmd.OutOrStdout(), args.RootArgs, p)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrCommandFailed, err)
	}

	runErr := r.Run(cmd.Context(), target)

	if !args.GetQuiet() {
		printResults(cmd.OutOrStdout(), p.Results())
	}

	if runErr != nil {
		return fmt.Errorf("%w: %w", ErrCommandFailed, runErr)
	}

	return nil
}

func newPipeline(cmd *cobra.Command, args *StageArgs) (*pipeline.Pipeline, error) {
	cfg, err := loadConfig(cmd, args.RootArgs)
	if err != nil {
		return nil, err
	}

	flags := cmd.Flags()
	if flags.Changed("chart") {
		cfg.ChartName = args.GetChart()
	}

	if flags.Changed("tests") {
		cfg.TestPattern = args.GetTests()
	}

	if flags.Changed("ignore_failures") {
		cfg.IgnoreFailures = args.GetIgnoreFailures()
	}

	err = cfg.Validate()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConfig, err)
	}

	skip, err := pipeline.ParseStages(args.GetSkip()...)
	if err != nil {
		return nil, fmt.Errorf("%w: --skip: %w", ErrInvalidArgument, err)
	}

	p, err := pipeline.New(cfg,
		pipeline.WithSkip(skip...),
		pipeline.WithForce(args.GetForce()),
		pipeline.WithDryRun(args.GetDryRun()),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConfig, err)
	}

	return p, nil
}

// loadConfig reads helmbuild.yaml and applies the global flags. Paths are
// resolved against the project directory.
func loadConfig(cmd *cobra.Command, args *RootArgs) (*config.Config, error) {
	project := args.GetProject()

	path := args.GetConfig()
	if path == "" {
		path = filepath.Join(project, config.DefaultFileName)
	}

	cfg, err := config.Read(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConfig, err)
	}

	flags := cmd.Flags()
	if flags.Changed("helm_version") {
		cfg.Version = args.GetHelmVersion()
	}

	if flags.Changed("engine") {
		cfg.Engine = args.GetEngine()
	}

	if flags.Changed("cache_dir") {
		cfg.CacheDir = args.GetCacheDir()
	}

	err = cfg.Resolve(project)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConfig, err)
	}

	return cfg, nil
}

//nolint:ireturn
func newStageRunner(w io.Writer, args *RootArgs, p *pipeline.Pipeline) (stageRunner, error) {
	if args.GetQuiet() || !isatty.IsTerminal(os.Stdout.Fd()) {
		return p, nil
	}

	lvl, err := log.GetLevel(args.GetLogLevel())
	if err != nil {
		// Should not be possible due to root's PersistentPreRunE.
		return nil, fmt.Errorf("%w: %w", ErrArgument, err)
	}

	t, err := pipelinetui.NewPipelineTUI(w, lvl, p)
	if err != nil {
		return nil, err
	}

	return t, nil
}

func printResults(w io.Writer, res pipeline.Results) {
	if res.Download != nil && res.Download.Downloaded {
		fmt.Fprintf(w, "Downloaded %s\n", res.Download.Executable)
	}

	if res.RepoSync != nil && !res.RepoSync.UpToDate {
		for _, name := range res.RepoSync.Added {
			fmt.Fprintf(w, "Added repository %s\n", name)
		}

		for _, name := range res.RepoSync.Removed {
			fmt.Fprintf(w, "Removed repository %s\n", name)
		}
	}

	if res.Build != nil {
		fmt.Fprintf(w, "Built %s\n", res.Build.Archive)
	}

	if res.Test != nil && res.Test.Path != "" {
		fmt.Fprintf(w, "Test report %s\n", res.Test.Path)
	}

	if res.Deploy != nil {
		verb := "Uploaded"
		if res.Deploy.DryRun {
			verb = "Would upload"
		}

		for _, a := range res.Deploy.Archives {
			fmt.Fprintf(w, "%s %s\n", verb, a)
		}
	}
}
