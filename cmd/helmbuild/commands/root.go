package commands

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"runtime"
	"runtime/pprof"

	"github.com/iancoleman/strcase"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/macropower/helmbuild/pkg/log"
	"github.com/macropower/helmbuild/pkg/pipeline"
)

// EnvPrefix prefixes the environment variables that override flags.
const EnvPrefix = "HELMBUILD_"

var (
	ErrLogHandlerFailed = errors.New("log handler failed")
	ErrArgument         = errors.New("argument error")
	ErrInvalidArgument  = errors.New("invalid argument")
)

func NewRootCmd(name, shortDesc, longDesc string) *cobra.Command {
	args := NewRootArgs()

	cmd := &cobra.Command{
		Use:           name,
		Short:         shortDesc,
		Long:          longDesc,
		SilenceUsage:  true,
		SilenceErrors: true,
		Version:       GetVersionString(),
	}

	cmd.PersistentFlags().StringVar(args.logLevel, "log_level", "warn", "Set the log level (debug, info, warn, error)")
	cmd.PersistentFlags().StringVar(args.logFormat, "log_format", "text", "Set the log format (text, logfmt, json)")
	cmd.PersistentFlags().StringVarP(args.project, "project", "p", ".", "Project directory")
	cmd.PersistentFlags().StringVarP(args.config, "config", "f", "", "Config file (default <project>/helmbuild.yaml)")
	cmd.PersistentFlags().BoolVarP(args.quiet, "quiet", "q", false, "Run in quiet mode")
	cmd.PersistentFlags().StringVar(args.helmVersion, "helm_version", "", "Override the Helm version")
	cmd.PersistentFlags().StringVar(args.engine, "engine", "", "Override the engine (binary, sdk)")
	cmd.PersistentFlags().StringVar(args.cacheDir, "cache_dir", "", "Share downloaded Helm archives through this directory")
	cmd.PersistentFlags().StringVar(args.cpuProfile, "cpuprofile", "", "Write a CPU profile to this file")
	cmd.PersistentFlags().StringVar(args.memProfile, "memprofile", "", "Write a memory profile to this file")

	must(cmd.MarkPersistentFlagDirname("project"))
	must(cmd.MarkPersistentFlagFilename("config", "yaml", "yml"))
	must(cmd.MarkPersistentFlagDirname("cache_dir"))
	must(cmd.MarkPersistentFlagFilename("cpuprofile"))
	must(cmd.MarkPersistentFlagFilename("memprofile"))

	cmd.PersistentPreRunE = func(cc *cobra.Command, _ []string) error {
		err := applyEnv(cc.Flags())
		if err != nil {
			return fmt.Errorf("%w: %w", ErrArgument, err)
		}

		if args.GetCPUProfile() != "" {
			f, err := os.Create(args.GetCPUProfile())
			if err != nil {
				return fmt.Errorf("failed to create CPU profile: %w", err)
			}

			err = pprof.StartCPUProfile(f)
			if err != nil {
				must(f.Close())

				return fmt.Errorf("failed to start CPU profile: %w", err)
			}
		}

		h, err := log.CreateHandlerWithStrings(
			cc.ErrOrStderr(),
			args.GetLogLevel(),
			args.GetLogFormat(),
		)
		if err != nil {
			return fmt.Errorf("%w: %w", ErrLogHandlerFailed, err)
		}

		slog.SetDefault(slog.New(h))

		return nil
	}

	cmd.PersistentPostRunE = func(_ *cobra.Command, _ []string) error {
		if args.GetCPUProfile() != "" {
			pprof.StopCPUProfile()
		}

		if args.GetMemProfile() != "" {
			f, err := os.Create(args.GetMemProfile())
			if err != nil {
				return fmt.Errorf("failed to create memory profile: %w", err)
			}

			runtime.GC() //nolint:revive // Get up-to-date statistics for the profile.

			err = pprof.Lookup("allocs").WriteTo(f, 0)
			if err != nil {
				return fmt.Errorf("failed to write memory profile: %w", err)
			}

			must(f.Close())
		}

		return nil
	}

	cmd.AddCommand(NewVersionCmd())
	cmd.AddCommand(NewStageCmd(args, pipeline.StageDownload, "Download the Helm client", ""))
	cmd.AddCommand(NewStageCmd(args, pipeline.StageInit, "Initialize the Helm home", ""))
	cmd.AddCommand(NewRepoCmd(args))
	cmd.AddCommand(NewStageCmd(args, pipeline.StageBuild, "Render expansions and package the chart", ""))
	cmd.AddCommand(NewStageCmd(args, pipeline.StageTest, "Lint, render and assert the built charts", ""))
	cmd.AddCommand(NewStageCmd(args, pipeline.StageDeploy, "Upload the packaged charts", ""))
	cmd.AddCommand(NewRunCmd(args))

	return cmd
}

// applyEnv sets every flag that was not given on the command line from its
// HELMBUILD_<FLAG> environment variable.
func applyEnv(fs *pflag.FlagSet) error {
	var err error

	fs.VisitAll(func(f *pflag.Flag) {
		if err != nil || f.Changed {
			return
		}

		v, ok := os.LookupEnv(EnvName(f.Name))
		if !ok {
			return
		}

		if setErr := fs.Set(f.Name, v); setErr != nil {
			err = fmt.Errorf("%w: %s: %w", ErrInvalidArgument, EnvName(f.Name), setErr)
		}
	})

	return err
}

// EnvName returns the environment variable overriding a flag.
func EnvName(flag string) string {
	return EnvPrefix + strcase.ToScreamingSnake(flag)
}

func must(err error) {
	if err != nil {
		panic(err)
	}
}
