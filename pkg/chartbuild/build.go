package chartbuild

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"helm.sh/helm/v3/pkg/chartutil"

	"github.com/macropower/helmbuild/pkg/expand"
)

var (
	ErrChartNameMissing = errors.New("chart name missing in Chart.yaml")
	ErrSourceMissing    = errors.New("chart source directory not found")
	ErrPackageFailed    = errors.New("failed to package chart")
)

// Packager builds chart dependencies and packages charts.
type Packager interface {
	// DependencyBuild rebuilds the charts/ directory of chartDir.
	DependencyBuild(ctx context.Context, chartDir string) error
	// Package writes the chart archive into destination and returns its path.
	Package(ctx context.Context, chartDir, destination string) (string, error)
}

// Result describes a built chart.
type Result struct {
	Name    string
	Version string
	// Dir is the expanded chart directory below the output directory.
	Dir string
	// Archive is the packaged chart.
	Archive string
}

// Builder builds a single chart.
type Builder struct {
	packager  Packager
	tokens    map[string]string
	source    string
	outputDir string
}

type BuilderOpt func(*Builder)

// WithExpansions sets the values for `${key}` tokens in the chart source.
func WithExpansions(expansions map[string]any) BuilderOpt {
	return func(b *Builder) {
		b.tokens = expand.Flatten(expansions)
	}
}

// NewBuilder creates a [Builder] for the chart at source.
func NewBuilder(p Packager, source, outputDir string, opts ...BuilderOpt) *Builder {
	b := &Builder{
		packager:  p,
		source:    source,
		outputDir: outputDir,
		tokens:    map[string]string{},
	}
	for _, opt := range opts {
		opt(b)
	}

	return b
}

// Build renders, copies and packages the chart.
func (b *Builder) Build(ctx context.Context) (*Result, error) {
	fi, err := os.Stat(b.source)
	if err != nil || !fi.IsDir() {
		return nil, fmt.Errorf("%w: %s", ErrSourceMissing, b.source)
	}

	tmpDir, err := os.MkdirTemp("", "helmbuild-chart-")
	if err != nil {
		return nil, fmt.Errorf("create temp dir: %w", err)
	}
	defer func() {
		err := os.RemoveAll(tmpDir)
		if err != nil {
			slog.WarnContext(ctx, "failed to remove temp dir",
				slog.String("path", tmpDir),
				slog.Any("err", err),
			)
		}
	}()

	err = expand.CopyTree(ctx, b.source, tmpDir, b.tokens)
	if err != nil {
		return nil, fmt.Errorf("render expansions: %w", err)
	}

	slog.InfoContext(ctx, "rendered helm chart with expansions", slog.String("path", tmpDir))

	meta, err := chartutil.LoadChartfile(filepath.Join(tmpDir, chartutil.ChartfileName))
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", chartutil.ChartfileName, err)
	}

	if meta.Name == "" {
		return nil, ErrChartNameMissing
	}

	slog.InfoContext(ctx, "read chart name", slog.String("chart", meta.Name))

	res := &Result{
		Name:    meta.Name,
		Version: meta.Version,
		Dir:     filepath.Join(b.outputDir, meta.Name),
	}

	err = os.RemoveAll(res.Dir)
	if err != nil {
		return nil, fmt.Errorf("clean chart dir: %w", err)
	}

	err = expand.CopyTree(ctx, tmpDir, res.Dir, nil)
	if err != nil {
		return nil, fmt.Errorf("copy chart: %w", err)
	}

	slog.InfoContext(ctx, "running dependency build", slog.String("path", res.Dir))

	// A failed dependency build surfaces again when packaging.
	err = b.packager.DependencyBuild(ctx, res.Dir)
	if err != nil {
		slog.WarnContext(ctx, "dependency build failed",
			slog.String("chart", res.Name),
			slog.Any("err", err),
		)
	}

	slog.InfoContext(ctx, "packaging chart", slog.String("path", res.Dir))

	res.Archive, err = b.packager.Package(ctx, res.Dir, b.outputDir)
	if err != nil {
		return nil, fmt.Errorf("%w %s: %w", ErrPackageFailed, res.Name, err)
	}

	slog.InfoContext(ctx, "packaged chart", slog.String("archive", res.Archive))

	return res, nil
}
