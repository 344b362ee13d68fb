package exec

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
)

var (
	ErrTimeout  = errors.New("command timed out")
	ErrCanceled = errors.New("command canceled")
	ErrStart    = errors.New("command failed to start")

	Unredacted = Redact(nil)
)

// CmdError describes a command that did not behave as expected.
type CmdError struct {
	Cause    error
	Args     string
	Output   string
	ExitCode int
}

func (ce *CmdError) Error() string {
	res := fmt.Sprintf("`%v` failed: %v", ce.Args, ce.Cause)
	if ce.Output != "" {
		res = fmt.Sprintf("%s: %s", res, ce.Output)
	}

	return res
}

func (ce *CmdError) Unwrap() error {
	return ce.Cause
}

// NewCmdError creates a [CmdError] for res.
func NewCmdError(res *Result, cause error) *CmdError {
	return &CmdError{
		Args:     res.Args,
		Output:   strings.TrimSpace(res.Output),
		ExitCode: res.ExitCode,
		Cause:    cause,
	}
}

// TimeoutBehavior defines what happens to a process that outlives its
// timeout or context. By default, SIGKILL is sent and output pipes are
// closed one second later.
type TimeoutBehavior struct {
	// Signal is sent to the process.
	Signal syscall.Signal
	// WaitDelay bounds the wait for the process to exit after the signal.
	WaitDelay time.Duration
}

type CmdOpts struct {
	// Redactor redacts tokens from logged command lines and output.
	Redactor func(text string) string
	// TimeoutBehavior configures what to do in case of timeout.
	TimeoutBehavior TimeoutBehavior
	// Timeout determines how long to wait for the command to exit.
	// Zero means no timeout beyond the context.
	Timeout time.Duration
}

var DefaultCmdOpts = CmdOpts{
	Timeout:         time.Duration(0),
	Redactor:        Unredacted,
	TimeoutBehavior: TimeoutBehavior{Signal: syscall.SIGKILL, WaitDelay: time.Second},
}

// Redact returns a redactor replacing every non-empty item with asterisks.
func Redact(items []string) func(text string) string {
	return func(text string) string {
		for _, item := range items {
			if item == "" {
				continue
			}

			text = strings.ReplaceAll(text, item, "******")
		}

		return text
	}
}

// Result is the outcome of a command that ran to completion.
type Result struct {
	// Args is the redacted command line.
	Args string
	// Output holds stdout and stderr, interleaved in write order.
	Output   string
	ExitCode int
	Duration time.Duration
}

// Succeeded reports whether the command exited with code zero.
func (r *Result) Succeeded() bool {
	return r.ExitCode == 0
}

// Lines returns the output split into lines, without a trailing empty line.
func (r *Result) Lines() []string {
	out := strings.TrimSuffix(r.Output, "\n")
	if out == "" {
		return []string{}
	}

	return strings.Split(out, "\n")
}

// Run runs name with args and captures its combined output. A non-zero exit
// code is reported in [Result.ExitCode] and is not an error; errors are only
// returned when the command could not be started, timed out or was canceled.
func Run(ctx context.Context, opts CmdOpts, dir string, env []string, name string, args ...string) (*Result, error) {
	redactor := DefaultCmdOpts.Redactor
	if opts.Redactor != nil {
		redactor = opts.Redactor
	}

	timeoutBehavior := DefaultCmdOpts.TimeoutBehavior
	if opts.TimeoutBehavior.Signal != syscall.Signal(0) {
		timeoutBehavior = opts.TimeoutBehavior
	}

	runCtx := ctx
	if opts.Timeout > 0 {
		var cancel context.CancelFunc

		runCtx, cancel = context.WithTimeout(ctx, opts.Timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(runCtx, name, args...)
	cmd.Dir = dir
	cmd.Env = env
	cmd.Cancel = func() error {
		return cmd.Process.Signal(timeoutBehavior.Signal)
	}
	cmd.WaitDelay = timeoutBehavior.WaitDelay

	var out bytes.Buffer

	cmd.Stdout = &out
	cmd.Stderr = &out

	res := &Result{
		// Log in a way we can copy-and-paste into a terminal.
		Args: redactor(strings.Join(cmd.Args, " ")),
	}

	logger := slog.With(slog.String("exec_id", uuid.NewString()[:8]))
	logger.InfoContext(ctx, res.Args, slog.String("dir", cmd.Dir))

	start := time.Now()
	err := cmd.Run()
	res.Duration = time.Since(start)
	res.Output = redactor(out.String())

	logger.DebugContext(ctx, res.Output, slog.Duration("duration", res.Duration))

	if err == nil {
		return res, nil
	}

	if ctxErr := runCtx.Err(); ctxErr != nil {
		res.ExitCode = -1

		cause := fmt.Errorf("%w: %w", ErrCanceled, ctxErr)
		if errors.Is(ctxErr, context.DeadlineExceeded) && ctx.Err() == nil {
			cause = fmt.Errorf("%w after %v", ErrTimeout, opts.Timeout)
		}

		cerr := NewCmdError(res, cause)
		logger.ErrorContext(ctx, cerr.Error())

		return res, cerr
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		res.ExitCode = exitErr.ExitCode()

		return res, nil
	}

	res.ExitCode = -1

	return res, NewCmdError(res, fmt.Errorf("%w: %s", ErrStart, redactor(err.Error())))
}

// Environ returns the process environment with extra appended, so that
// entries in extra take precedence.
func Environ(extra ...string) []string {
	env := os.Environ()

	return append(env[:len(env):len(env)], extra...)
}
