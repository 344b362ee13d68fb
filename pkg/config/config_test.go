package config_test

import (
	"bytes"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/macropower/helmbuild/pkg/config"
	"github.com/macropower/helmbuild/pkg/expand"
	"github.com/macropower/helmbuild/pkg/helmrepo"
)

func TestRead(t *testing.T) {
	t.Setenv("HELMBUILD_TEST_USER", "alice")
	t.Setenv("HELMBUILD_TEST_PASSWORD", "s3cr3t")

	c, err := config.Read(filepath.Join("testdata", "helmbuild.yaml"))
	require.NoError(t, err)
	require.NoError(t, c.Validate())

	assert.Equal(t, "2.17.0", c.Version)
	assert.Equal(t, "amd64", c.Architecture)
	assert.Equal(t, config.EngineSDK, c.Engine)
	assert.Equal(t, 90*time.Second, c.Timeout.Duration)
	assert.Equal(t, int64(10<<20), c.MaxExtractSizeBytes())

	// Omitted values keep their defaults.
	assert.Equal(t, filepath.Join("build", "helm", "bin"), c.BinDir)
	assert.Equal(t, ".*", c.TestPattern)

	policy := c.RetryPolicy()
	assert.Equal(t, 2, policy.MaxAttempts)
	assert.Equal(t, 500*time.Millisecond, policy.InitialInterval)

	target, err := c.DeployTarget()
	require.NoError(t, err)
	assert.Equal(t, "alice", target.Username)
	assert.Equal(t, "s3cr3t", target.Password)
	assert.Equal(t, helmrepo.MethodPut, target.UploadMethod())
	assert.Equal(t, "https://charts.example.com", target.UploadURL())

	assert.Equal(t, map[string]any{"chart": map[string]any{"version": "1.2.3"}}, c.Expansions)

	v, err := c.HelmVersion()
	require.NoError(t, err)
	assert.False(t, v.IsV3())
}

func TestReadMissingFile(t *testing.T) {
	t.Parallel()

	c, err := config.Read(filepath.Join(t.TempDir(), config.DefaultFileName))
	require.NoError(t, err)
	require.NoError(t, c.Validate())

	assert.Equal(t, config.DefaultVersion, c.Version)
	assert.Equal(t, config.EngineBinary, c.Engine)
	assert.Equal(t, 5*time.Minute, c.Timeout.Duration)
	assert.Equal(t, int64(256<<20), c.MaxExtractSizeBytes())

	_, err = c.DeployTarget()
	require.ErrorIs(t, err, config.ErrNoDeployTo)
}

func TestApplyArchitecture(t *testing.T) {
	buf := &bytes.Buffer{}
	prev := slog.Default()
	slog.SetDefault(slog.New(slog.NewTextHandler(buf, nil)))
	t.Cleanup(func() { slog.SetDefault(prev) })

	tcs := map[string]struct {
		arch     string
		want     string
		wantWarn bool
	}{
		"alias":   {arch: "x86_64", want: "amd64"},
		"known":   {arch: "arm64", want: "arm64"},
		"unknown": {arch: "sparc", want: "sparc", wantWarn: true},
	}

	for name, tc := range tcs {
		t.Run(name, func(t *testing.T) {
			buf.Reset()

			c, err := config.Apply([]byte("architecture: "+tc.arch+"\n"), config.Default())
			require.NoError(t, err)
			assert.Equal(t, tc.want, c.Architecture)

			if tc.wantWarn {
				assert.Contains(t, buf.String(), "unknown architecture")
				assert.Contains(t, buf.String(), "architecture="+tc.arch)
			} else {
				assert.Empty(t, buf.String())
			}
		})
	}
}

func TestApplyIntegerExpansions(t *testing.T) {
	t.Parallel()

	c, err := config.Apply([]byte("expansions: {build: 1234567, big: 1000000, image: {tag: 1.27}}\n"), config.Default())
	require.NoError(t, err)

	tokens := expand.Flatten(c.Expansions)
	assert.Equal(t, "1234567", tokens["build"])
	assert.Equal(t, "1000000", tokens["big"])
	assert.Equal(t, "1.27", tokens["image.tag"])
	assert.Equal(t, "image: app:1234567", string(expand.Replace([]byte("image: app:${build}"), tokens)))
}

func TestApplyDoesNotMutateDefaults(t *testing.T) {
	t.Parallel()

	defaults := config.Default()

	_, err := config.Apply([]byte("maxExtractSize: 1Ki\nexpansions: {a: b}\n"), defaults)
	require.NoError(t, err)

	assert.Equal(t, int64(256<<20), defaults.MaxExtractSizeBytes())
	assert.Empty(t, defaults.Expansions)
}

func TestResolve(t *testing.T) {
	t.Parallel()

	project := t.TempDir()

	c := config.Default()
	c.OutputDir = "/abs/out"
	require.NoError(t, c.Resolve(project))

	assert.Equal(t, filepath.Join(project, "build", "helm", "bin"), c.BinDir)
	assert.Equal(t, filepath.Join(project, "src", "test", "helm"), c.Tests)
	assert.Equal(t, "/abs/out", c.OutputDir)
	assert.Empty(t, c.CacheDir)
}

func TestValidate(t *testing.T) {
	t.Parallel()

	tcs := map[string]struct {
		yaml    string
		wantErr string
	}{
		"unknown field": {
			yaml:    "verison: 3.0.0\n",
			wantErr: "unknown field",
		},
		"bad version": {
			yaml:    "version: three\n",
			wantErr: "three",
		},
		"empty version": {
			yaml:    "version: \"\"\n",
			wantErr: "version is empty",
		},
		"bad engine": {
			yaml:    "engine: docker\n",
			wantErr: "unknown engine",
		},
		"bad pattern": {
			yaml:    "testPattern: \"(\"\n",
			wantErr: "invalid test pattern",
		},
		"duplicate repository": {
			yaml: `repositories:
- {name: a, url: "https://a.example.com"}
- {name: a, url: "https://b.example.com"}
`,
			wantErr: "already exists",
		},
		"repository without url": {
			yaml:    "repositories: [{name: a}]\n",
			wantErr: "repo URL is empty",
		},
		"unknown deploy method": {
			yaml:    "repositories: [{name: a, url: \"https://a\", deploy: {method: GET}}]\n",
			wantErr: "invalid deploy method",
		},
		"unknown deploy target": {
			yaml:    "deployTo: nowhere\n",
			wantErr: "\"nowhere\" not found",
		},
	}

	for name, tc := range tcs {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			c, err := config.Apply([]byte(tc.yaml), config.Default())
			if err == nil {
				err = c.Validate()
			}

			require.ErrorIs(t, err, config.ErrInvalidConfig)
			assert.ErrorContains(t, err, tc.wantErr)
		})
	}
}

func TestValidateCanary(t *testing.T) {
	t.Parallel()

	c, err := config.Apply([]byte("version: canary\n"), config.Default())
	require.NoError(t, err)
	require.NoError(t, c.Validate())

	v, err := c.HelmVersion()
	require.NoError(t, err)
	assert.True(t, v.IsCanary())
}
