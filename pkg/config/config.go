package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"slices"
	"time"

	"github.com/hashicorp/go-multierror"
	"k8s.io/apimachinery/pkg/api/resource"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"sigs.k8s.io/yaml"

	"github.com/macropower/helmbuild/pkg/helmrepo"
	"github.com/macropower/helmbuild/pkg/helmversion"
	"github.com/macropower/helmbuild/pkg/provision"
	"github.com/macropower/helmbuild/pkg/retry"
)

// DefaultFileName is the project configuration file name.
const DefaultFileName = "helmbuild.yaml"

const (
	EngineBinary = "binary"
	EngineSDK    = "sdk"

	DefaultVersion = "3.17.4"
)

var (
	ErrInvalidConfig = errors.New("invalid config")
	ErrReadConfig    = errors.New("cannot read config file")
	ErrNoDeployTo    = errors.New("no deploy target configured")

	defaultMaxExtractSize = resource.MustParse("256Mi")
)

// Retry configures retries of HTTP downloads and uploads.
type Retry struct {
	InitialInterval metav1.Duration `json:"initialInterval,omitempty"`
	MaxInterval     metav1.Duration `json:"maxInterval,omitempty"`
	MaxAttempts     int             `json:"maxAttempts,omitempty"`
}

// Config is the content of helmbuild.yaml.
type Config struct {
	// Expansions are flattened to `${dotted.key}` tokens rendered into the
	// chart source.
	Expansions     map[string]any     `json:"expansions,omitempty"`
	MaxExtractSize *resource.Quantity `json:"maxExtractSize,omitempty"`
	// Version is the Helm version, or "canary".
	Version      string `json:"version,omitempty"`
	DownloadURL  string `json:"downloadURL,omitempty"`
	OS           string `json:"os,omitempty"`
	Architecture string `json:"architecture,omitempty"`
	BinDir       string `json:"binDir,omitempty"`
	HomeDir      string `json:"homeDir,omitempty"`
	// CacheDir optionally shares downloaded Helm archives between projects.
	CacheDir      string `json:"cacheDir,omitempty"`
	OutputDir     string `json:"outputDir,omitempty"`
	TestOutputDir string `json:"testOutputDir,omitempty"`
	RepoCopy      string `json:"repoCopy,omitempty"`
	Source        string `json:"source,omitempty"`
	Tests         string `json:"tests,omitempty"`
	TestPattern   string `json:"testPattern,omitempty"`
	// ChartName restricts tests to a single chart.
	ChartName string `json:"chartName,omitempty"`
	Engine    string `json:"engine,omitempty"`
	// DeployTo names the repository charts are deployed to.
	DeployTo       string           `json:"deployTo,omitempty"`
	Repositories   []*helmrepo.Repo `json:"repositories,omitempty"`
	Retry          Retry            `json:"retry"`
	Timeout        metav1.Duration  `json:"timeout"`
	IgnoreFailures bool             `json:"ignoreFailures,omitempty"`
}

// Default returns the configuration used for omitted values.
func Default() *Config {
	p := provision.Detect()
	size := defaultMaxExtractSize.DeepCopy()

	return &Config{
		Version:        DefaultVersion,
		OS:             p.OS,
		Architecture:   p.Arch,
		BinDir:         filepath.Join("build", "helm", "bin"),
		HomeDir:        filepath.Join("build", "helm", "home"),
		OutputDir:      filepath.Join("build", "helm", "repo"),
		TestOutputDir:  filepath.Join("build", "helm", "test"),
		RepoCopy:       filepath.Join("build", "helm", "out", "repocopy.yaml"),
		Source:         filepath.Join("src", "main", "helm"),
		Tests:          filepath.Join("src", "test", "helm"),
		TestPattern:    ".*",
		Engine:         EngineBinary,
		Timeout:        metav1.Duration{Duration: 5 * time.Minute},
		MaxExtractSize: &size,
		Retry: Retry{
			MaxAttempts:     retry.DefaultPolicy.MaxAttempts,
			InitialInterval: metav1.Duration{Duration: retry.DefaultPolicy.InitialInterval},
			MaxInterval:     metav1.Duration{Duration: retry.DefaultPolicy.MaxInterval},
		},
		Expansions: map[string]any{},
	}
}

// Apply returns a new [Config] decoded from the input YAML with the provided
// defaults applied to omitted values. Unknown fields are rejected.
// Credentials are expanded from the environment.
func Apply(b []byte, defaults *Config) (*Config, error) {
	c := *defaults
	c.Expansions = nil
	c.Repositories = nil

	if defaults.MaxExtractSize != nil {
		size := defaults.MaxExtractSize.DeepCopy()
		c.MaxExtractSize = &size
	}

	err := yaml.UnmarshalStrict(b, &c)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}

	if c.Expansions == nil {
		c.Expansions = map[string]any{}
	}

	if c.Architecture != "" {
		arch, ok := provision.NormalizeArch(c.Architecture)
		if !ok {
			slog.Warn("unknown architecture, the helm download may not exist",
				slog.String("architecture", c.Architecture),
			)
		}

		c.Architecture = arch
	}

	c.expandEnv()

	return &c, nil
}

// Read reads the configuration from filename. A missing file yields
// [Default].
func Read(filename string) (*Config, error) {
	b, err := os.ReadFile(filename)
	if errors.Is(err, os.ErrNotExist) {
		return Default(), nil
	}

	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrReadConfig, err)
	}

	return Apply(b, Default())
}

// expandEnv resolves ${VAR} references in credentials.
func (c *Config) expandEnv() {
	for _, r := range c.Repositories {
		if r == nil {
			continue
		}

		r.Username = os.ExpandEnv(r.Username)
		r.Password = os.ExpandEnv(r.Password)
		r.APIKey = os.ExpandEnv(r.APIKey)
	}
}

// Resolve makes every relative path absolute, relative to projectDir.
func (c *Config) Resolve(projectDir string) error {
	abs, err := filepath.Abs(projectDir)
	if err != nil {
		return fmt.Errorf("resolve project dir: %w", err)
	}

	for _, p := range []*string{
		&c.BinDir, &c.HomeDir, &c.OutputDir, &c.TestOutputDir,
		&c.RepoCopy, &c.Source, &c.Tests, &c.CacheDir,
	} {
		if *p == "" || filepath.IsAbs(*p) {
			continue
		}

		*p = filepath.Join(abs, *p)
	}

	return nil
}

// Validate reports all configuration problems.
func (c *Config) Validate() error {
	var merr error

	if c.Version == "" {
		merr = multierror.Append(merr, errors.New("version is empty"))
	} else if _, err := helmversion.Parse(c.Version); err != nil {
		merr = multierror.Append(merr, err)
	}

	if c.Engine != EngineBinary && c.Engine != EngineSDK {
		merr = multierror.Append(merr, fmt.Errorf("unknown engine %q, use %q or %q", c.Engine, EngineBinary, EngineSDK))
	}

	if _, err := regexp.Compile(c.TestPattern); err != nil {
		merr = multierror.Append(merr, fmt.Errorf("invalid test pattern: %w", err))
	}

	if c.Timeout.Duration < 0 {
		merr = multierror.Append(merr, errors.New("timeout must not be negative"))
	}

	if c.MaxExtractSize != nil && c.MaxExtractSize.Sign() < 0 {
		merr = multierror.Append(merr, errors.New("maxExtractSize must not be negative"))
	}

	_, err := c.RepoManager()
	if err != nil {
		merr = multierror.Append(merr, err)
	}

	if c.DeployTo != "" && !slices.ContainsFunc(c.Repositories, func(r *helmrepo.Repo) bool {
		return r != nil && r.Name == c.DeployTo
	}) {
		merr = multierror.Append(merr, helmrepo.RepoNotFoundError{Name: c.DeployTo})
	}

	if merr != nil {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, merr)
	}

	return nil
}

// HelmVersion parses the configured version.
func (c *Config) HelmVersion() (helmversion.Version, error) {
	v, err := helmversion.Parse(c.Version)
	if err != nil {
		return helmversion.Version{}, fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}

	return v, nil
}

func (c *Config) Platform() provision.Platform {
	return provision.Platform{OS: c.OS, Arch: c.Architecture}
}

func (c *Config) RetryPolicy() retry.Policy {
	return retry.Policy{
		MaxAttempts:     c.Retry.MaxAttempts,
		InitialInterval: c.Retry.InitialInterval.Duration,
		MaxInterval:     c.Retry.MaxInterval.Duration,
	}
}

// MaxExtractSizeBytes returns the extraction limit in bytes, zero for none.
func (c *Config) MaxExtractSizeBytes() int64 {
	if c.MaxExtractSize == nil {
		return 0
	}

	return c.MaxExtractSize.Value()
}

// RepoManager returns a [helmrepo.Manager] holding the configured
// repositories.
func (c *Config) RepoManager() (*helmrepo.Manager, error) {
	m := helmrepo.NewManager()

	var merr error

	for i, r := range c.Repositories {
		if r == nil {
			merr = multierror.Append(merr, fmt.Errorf("repositories[%d] is empty", i))

			continue
		}

		err := m.Add(r)
		if err != nil {
			merr = multierror.Append(merr, fmt.Errorf("repositories[%d]: %w", i, err))
		}
	}

	if merr != nil {
		return nil, merr
	}

	return m, nil
}

// DeployTarget returns the repository named by DeployTo.
func (c *Config) DeployTarget() (*helmrepo.Repo, error) {
	if c.DeployTo == "" {
		return nil, ErrNoDeployTo
	}

	m, err := c.RepoManager()
	if err != nil {
		return nil, err
	}

	r, err := m.GetByName(c.DeployTo)
	if err != nil {
		return nil, fmt.Errorf("deploy target: %w", err)
	}

	return r, nil
}
