package chartbuild_test

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/macropower/helmbuild/pkg/chartbuild"
	"github.com/macropower/helmbuild/pkg/helmexec"
	"github.com/macropower/helmbuild/pkg/helmversion"
)

var expansions = map[string]any{
	"chart": map[string]any{
		"name":    "demo",
		"version": "0.1.0",
	},
	"image": map[string]any{
		"tag": "1.27",
		// Integers decoded from helmbuild.yaml arrive as float64.
		"build": float64(1234567),
	},
}

const fakeHelmScript = `#!/bin/sh
case "$1" in --home=*) shift;; esac
echo "$*" >> "$FAKE_HELM_DIR/calls"
case "$1" in
dependency) echo "Error: no repository definition"; exit 1;;
package) [ -f "$FAKE_HELM_DIR/fail-package" ] && { echo "Error: bad chart"; exit 1; }; exit 0;;
esac
`

func fakeRunner(t *testing.T, version string) (*helmexec.Runner, string) {
	t.Helper()

	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "helm"), []byte(fakeHelmScript), 0o755)) //nolint:gosec // Test executable.

	return helmexec.NewRunner(filepath.Join(dir, "helm"), t.TempDir(), helmversion.MustParse(version),
		helmexec.WithEnv("FAKE_HELM_DIR="+dir),
	), dir
}

func readCalls(t *testing.T, dir string) []string {
	t.Helper()

	b, err := os.ReadFile(filepath.Join(dir, "calls"))
	require.NoError(t, err)

	return strings.Split(strings.TrimSuffix(string(b), "\n"), "\n")
}

func TestBuildWithHelmExecutable(t *testing.T) {
	t.Parallel()

	tcs := map[string]struct {
		version     string
		wantPackage string
	}{
		"helm 3": {
			version:     "3.17.4",
			wantPackage: "package --destination %s %s",
		},
		"helm 2": {
			version:     "2.17.0",
			wantPackage: "package --save=false --destination %s %s",
		},
	}

	for name, tc := range tcs {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			helm, fakeDir := fakeRunner(t, tc.version)
			out := filepath.Join(t.TempDir(), "repo")

			b := chartbuild.NewBuilder(chartbuild.NewHelmPackager(helm), filepath.Join("testdata", "demo"), out,
				chartbuild.WithExpansions(expansions),
			)

			res, err := b.Build(t.Context())
			require.NoError(t, err)

			chartDir := filepath.Join(out, "demo")
			assert.Equal(t, "demo", res.Name)
			assert.Equal(t, "0.1.0", res.Version)
			assert.Equal(t, chartDir, res.Dir)
			assert.Equal(t, filepath.Join(out, "demo-0.1.0.tgz"), res.Archive)

			values, err := os.ReadFile(filepath.Join(chartDir, "values.yaml"))
			require.NoError(t, err)
			assert.Contains(t, string(values), "tag: 1.27")
			assert.Contains(t, string(values), "build: 1234567\n")

			assert.Equal(t, []string{
				"dependency build " + chartDir,
				fmt.Sprintf(tc.wantPackage, out, chartDir),
			}, readCalls(t, fakeDir))
		})
	}
}

func TestBuildPackageFailure(t *testing.T) {
	t.Parallel()

	helm, fakeDir := fakeRunner(t, "3.17.4")
	require.NoError(t, os.WriteFile(filepath.Join(fakeDir, "fail-package"), nil, 0o600))

	b := chartbuild.NewBuilder(chartbuild.NewHelmPackager(helm), filepath.Join("testdata", "demo"), t.TempDir(),
		chartbuild.WithExpansions(expansions),
	)

	_, err := b.Build(t.Context())
	require.ErrorIs(t, err, chartbuild.ErrPackageFailed)
	assert.ErrorIs(t, err, helmexec.ErrUnexpectedExit)
	assert.ErrorContains(t, err, "Error: bad chart")
}

func TestBuildErrors(t *testing.T) {
	t.Parallel()

	noName := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(noName, "Chart.yaml"), []byte("apiVersion: v2\nversion: 1.0.0\n"), 0o600))

	tcs := map[string]struct {
		source  string
		wantErr error
	}{
		"missing source": {
			source:  filepath.Join(t.TempDir(), "missing"),
			wantErr: chartbuild.ErrSourceMissing,
		},
		"missing name": {
			source:  noName,
			wantErr: chartbuild.ErrChartNameMissing,
		},
	}

	for name, tc := range tcs {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			helm, _ := fakeRunner(t, "3.17.4")

			_, err := chartbuild.NewBuilder(chartbuild.NewHelmPackager(helm), tc.source, t.TempDir()).Build(t.Context())
			require.ErrorIs(t, err, tc.wantErr)
		})
	}
}

func TestBuildWithSDK(t *testing.T) {
	t.Parallel()

	home := t.TempDir()
	out := filepath.Join(t.TempDir(), "repo")

	p := chartbuild.NewSDKPackager(
		filepath.Join(home, "config", "helm", "repositories.yaml"),
		filepath.Join(home, "cache", "helm", "repository"),
	)

	res, err := chartbuild.NewBuilder(p, filepath.Join("testdata", "demo"), out,
		chartbuild.WithExpansions(expansions),
	).Build(t.Context())
	require.NoError(t, err)

	assert.Equal(t, filepath.Join(out, "demo-0.1.0.tgz"), res.Archive)
	assert.FileExists(t, res.Archive)

	// Building again replaces the previous chart directory.
	require.NoError(t, os.WriteFile(filepath.Join(res.Dir, "stale.txt"), nil, 0o600))

	_, err = chartbuild.NewBuilder(p, filepath.Join("testdata", "demo"), out,
		chartbuild.WithExpansions(expansions),
	).Build(t.Context())
	require.NoError(t, err)
	assert.NoFileExists(t, filepath.Join(res.Dir, "stale.txt"))
}
