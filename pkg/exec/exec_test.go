package exec_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/macropower/helmbuild/pkg/exec"
)

func TestRun(t *testing.T) {
	t.Parallel()

	tcs := map[string]struct {
		script     string
		opts       exec.CmdOpts
		wantOutput string
		wantErr    error
		wantLines  []string
		wantExit   int
	}{
		"success": {
			script:     "echo hello",
			wantOutput: "hello\n",
			wantLines:  []string{"hello"},
		},
		"merged output": {
			script:    "echo out; echo err 1>&2; echo out2",
			wantLines: []string{"out", "err", "out2"},
		},
		"non-zero exit is not an error": {
			script:    "echo failing; exit 3",
			wantExit:  3,
			wantLines: []string{"failing"},
		},
		"no output": {
			script:    "true",
			wantLines: []string{},
		},
		"redacted": {
			script:     "echo password=hunter2",
			opts:       exec.CmdOpts{Redactor: exec.Redact([]string{"hunter2", ""})},
			wantOutput: "password=******\n",
			wantLines:  []string{"password=******"},
		},
		"timeout": {
			script:   "exec sleep 5",
			opts:     exec.CmdOpts{Timeout: 50 * time.Millisecond},
			wantErr:  exec.ErrTimeout,
			wantExit: -1,
		},
	}

	for name, tc := range tcs {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			res, err := exec.Run(t.Context(), tc.opts, t.TempDir(), exec.Environ(), "/bin/sh", "-c", tc.script)
			if tc.wantErr != nil {
				require.ErrorIs(t, err, tc.wantErr)

				var cerr *exec.CmdError
				require.ErrorAs(t, err, &cerr)
				assert.Equal(t, tc.wantExit, res.ExitCode)

				return
			}

			require.NoError(t, err)
			assert.Equal(t, tc.wantExit, res.ExitCode)
			assert.Equal(t, tc.wantExit == 0, res.Succeeded())
			assert.Equal(t, tc.wantLines, res.Lines())

			if tc.wantOutput != "" {
				assert.Equal(t, tc.wantOutput, res.Output)
			}
		})
	}
}

func TestRunCanceled(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(t.Context())
	cancel()

	_, err := exec.Run(ctx, exec.DefaultCmdOpts, "", nil, "/bin/sh", "-c", "sleep 5")
	require.ErrorIs(t, err, exec.ErrCanceled)
}

func TestRunStartFailure(t *testing.T) {
	t.Parallel()

	res, err := exec.Run(t.Context(), exec.DefaultCmdOpts, "", nil, "/does/not/exist/helm", "version")
	require.ErrorIs(t, err, exec.ErrStart)
	assert.Equal(t, -1, res.ExitCode)
}

func TestRunEnv(t *testing.T) {
	t.Parallel()

	res, err := exec.Run(t.Context(), exec.DefaultCmdOpts, "", exec.Environ("HELMBUILD_TEST_VAR=abc"),
		"/bin/sh", "-c", "echo $HELMBUILD_TEST_VAR")
	require.NoError(t, err)
	assert.Equal(t, []string{"abc"}, res.Lines())
}
