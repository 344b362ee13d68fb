package chartbuild

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"

	"helm.sh/helm/v3/pkg/action"
	"helm.sh/helm/v3/pkg/chartutil"
	"helm.sh/helm/v3/pkg/cli"
	"helm.sh/helm/v3/pkg/downloader"
	"helm.sh/helm/v3/pkg/getter"

	"github.com/macropower/helmbuild/pkg/helmexec"
)

// HelmPackager runs the Helm executable.
type HelmPackager struct {
	helm helmexec.Interface
}

func NewHelmPackager(helm helmexec.Interface) *HelmPackager {
	return &HelmPackager{helm: helm}
}

// DependencyBuild runs `helm dependency build`. Its exit status is logged
// and otherwise ignored.
func (p *HelmPackager) DependencyBuild(ctx context.Context, chartDir string) error {
	res, err := p.helm.Run(ctx, "dependency", "build", chartDir)
	if err != nil {
		return err
	}

	if !res.Succeeded() {
		slog.InfoContext(ctx, "helm dependency build exited with non-zero status",
			slog.Int("exit_code", res.ExitCode),
			slog.String("output", res.Output),
		)
	}

	return nil
}

// Package runs `helm package`.
func (p *HelmPackager) Package(ctx context.Context, chartDir, destination string) (string, error) {
	args := []string{"package"}
	if !p.helm.Version().IsV3() {
		args = append(args, "--save=false")
	}

	args = append(args, "--destination", destination, chartDir)

	_, err := p.helm.RunSuccess(ctx, args...)
	if err != nil {
		return "", err
	}

	return archivePath(chartDir, destination)
}

func archivePath(chartDir, destination string) (string, error) {
	meta, err := chartutil.LoadChartfile(filepath.Join(chartDir, chartutil.ChartfileName))
	if err != nil {
		return "", fmt.Errorf("read %s: %w", chartutil.ChartfileName, err)
	}

	return filepath.Join(destination, fmt.Sprintf("%s-%s.tgz", meta.Name, meta.Version)), nil
}

// SDKPackager packages charts in-process with the Helm SDK.
type SDKPackager struct {
	settings *cli.EnvSettings
	out      io.Writer
}

// NewSDKPackager creates a [SDKPackager] that resolves dependencies with the
// given repositories.yaml and repository cache.
func NewSDKPackager(repositoryConfig, repositoryCache string) *SDKPackager {
	settings := cli.New()
	settings.RepositoryConfig = repositoryConfig
	settings.RepositoryCache = repositoryCache

	return &SDKPackager{
		settings: settings,
		out:      io.Discard,
	}
}

func (p *SDKPackager) DependencyBuild(_ context.Context, chartDir string) error {
	m := &downloader.Manager{
		Out:              p.out,
		ChartPath:        chartDir,
		Getters:          getter.All(p.settings),
		RepositoryConfig: p.settings.RepositoryConfig,
		RepositoryCache:  p.settings.RepositoryCache,
		SkipUpdate:       true,
	}

	err := m.Build()
	if err != nil {
		return fmt.Errorf("dependency build: %w", err)
	}

	return nil
}

func (p *SDKPackager) Package(_ context.Context, chartDir, destination string) (string, error) {
	pkg := action.NewPackage()
	pkg.Destination = destination

	archive, err := pkg.Run(chartDir, nil)
	if err != nil {
		return "", fmt.Errorf("package: %w", err)
	}

	return archive, nil
}
