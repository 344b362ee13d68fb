package helmexec

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/macropower/helmbuild/pkg/exec"
	"github.com/macropower/helmbuild/pkg/helmversion"
)

var (
	ErrUnexpectedExit    = errors.New("helm exited with non-zero status")
	ErrUnexpectedSuccess = errors.New("helm succeeded unexpectedly")
)

// Result is the outcome of a Helm invocation.
type Result = exec.Result

// Interface is implemented by [Runner].
type Interface interface {
	Run(ctx context.Context, args ...string) (*Result, error)
	RunSuccess(ctx context.Context, args ...string) (*Result, error)
	RunFail(ctx context.Context, args ...string) (*Result, error)
	Version() helmversion.Version
	Home() string
}

// Runner runs a Helm executable.
type Runner struct {
	version    helmversion.Version
	executable string
	home       string
	secrets    []string
	env        []string
	timeout    time.Duration
}

type RunnerOpt func(*Runner)

// WithTimeout bounds every invocation.
func WithTimeout(d time.Duration) RunnerOpt {
	return func(r *Runner) {
		r.timeout = d
	}
}

// WithSecrets redacts the given values from logged command lines, output
// and errors.
func WithSecrets(secrets ...string) RunnerOpt {
	return func(r *Runner) {
		r.secrets = append(r.secrets, secrets...)
	}
}

// WithEnv adds KEY=value pairs to the environment of every invocation.
func WithEnv(env ...string) RunnerOpt {
	return func(r *Runner) {
		r.env = append(r.env, env...)
	}
}

// NewRunner creates a [Runner] for the Helm executable at executable, keeping
// its state below home.
func NewRunner(executable, home string, v helmversion.Version, opts ...RunnerOpt) *Runner {
	r := &Runner{
		executable: executable,
		home:       home,
		version:    v,
	}
	for _, opt := range opts {
		opt(r)
	}

	return r
}

func (r *Runner) Version() helmversion.Version {
	return r.version
}

func (r *Runner) Home() string {
	return r.home
}

// Executable returns the path of the Helm executable.
func (r *Runner) Executable() string {
	return r.executable
}

// Args returns the full argument list for an invocation, including the
// version specific home flag.
func (r *Runner) Args(args ...string) []string {
	if r.version.IsV3() {
		return args
	}

	return append([]string{"--home=" + r.home}, args...)
}

// Env returns the environment for an invocation.
func (r *Runner) Env() []string {
	extra := []string{}
	if r.version.IsV3() {
		extra = append(extra,
			"XDG_CACHE_HOME="+filepath.Join(r.home, "cache"),
			"XDG_CONFIG_HOME="+filepath.Join(r.home, "config"),
			"XDG_DATA_HOME="+filepath.Join(r.home, "data"),
		)
	}

	return exec.Environ(append(extra, r.env...)...)
}

// Run invokes Helm in the directory of the executable. A non-zero exit code
// is reported in the [Result], not as an error.
func (r *Runner) Run(ctx context.Context, args ...string) (*Result, error) {
	opts := exec.DefaultCmdOpts
	opts.Timeout = r.timeout
	opts.Redactor = exec.Redact(r.secrets)

	res, err := exec.Run(ctx, opts, filepath.Dir(r.executable), r.Env(), r.executable, r.Args(args...)...)
	if err != nil {
		return res, fmt.Errorf("run helm: %w", err)
	}

	return res, nil
}

// RunSuccess invokes Helm and fails with [ErrUnexpectedExit] unless it exits
// with code zero.
func (r *Runner) RunSuccess(ctx context.Context, args ...string) (*Result, error) {
	res, err := r.Run(ctx, args...)
	if err != nil {
		return res, err
	}

	if !res.Succeeded() {
		return res, fmt.Errorf("%w: %w", ErrUnexpectedExit,
			exec.NewCmdError(res, fmt.Errorf("exit status %d", res.ExitCode)))
	}

	return res, nil
}

// RunFail invokes Helm and fails with [ErrUnexpectedSuccess] if it exits with
// code zero.
func (r *Runner) RunFail(ctx context.Context, args ...string) (*Result, error) {
	res, err := r.Run(ctx, args...)
	if err != nil {
		return res, err
	}

	if res.Succeeded() {
		return res, fmt.Errorf("%w: %s", ErrUnexpectedSuccess, res.Args)
	}

	return res, nil
}
