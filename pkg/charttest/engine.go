package charttest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"helm.sh/helm/v3/pkg/action"
	"helm.sh/helm/v3/pkg/chart/loader"
	"helm.sh/helm/v3/pkg/chartutil"
	"helm.sh/helm/v3/pkg/releaseutil"

	"github.com/macropower/helmbuild/pkg/helmexec"
	"github.com/macropower/helmbuild/pkg/helmversion"
)

const (
	sdkReleaseName = "release-name"
	sdkNamespace   = "default"
	sourcePrefix   = "# Source: "
)

var ErrWriteManifest = errors.New("write manifest")

// Outcome is the result of a lint or template run. A failing chart is not an
// error; errors are reserved for problems running the engine itself.
type Outcome struct {
	Output string
	OK     bool
}

// Engine lints and renders charts.
type Engine interface {
	// Lint lints the chart, with the values file if it is not empty.
	Lint(ctx context.Context, chartDir, valuesFile string) (*Outcome, error)
	// Template renders the chart with the values file. When outputDir is
	// set, manifests are written below it the way `helm template
	// --output-dir` does.
	Template(ctx context.Context, chartDir, valuesFile, outputDir string) (*Outcome, error)
	Version() helmversion.Version
}

// BinaryEngine runs a Helm executable.
type BinaryEngine struct {
	helm helmexec.Interface
}

func NewBinaryEngine(helm helmexec.Interface) *BinaryEngine {
	return &BinaryEngine{helm: helm}
}

func (e *BinaryEngine) Version() helmversion.Version {
	return e.helm.Version()
}

func (e *BinaryEngine) Lint(ctx context.Context, chartDir, valuesFile string) (*Outcome, error) {
	args := []string{"lint"}
	if valuesFile != "" {
		args = append(args, "--values", valuesFile)
	}

	return e.run(ctx, append(args, chartDir)...)
}

func (e *BinaryEngine) Template(ctx context.Context, chartDir, valuesFile, outputDir string) (*Outcome, error) {
	args := []string{"template", "--values", valuesFile}
	if outputDir != "" {
		args = append(args, "--output-dir", outputDir)
	}

	return e.run(ctx, append(args, chartDir)...)
}

func (e *BinaryEngine) run(ctx context.Context, args ...string) (*Outcome, error) {
	res, err := e.helm.Run(ctx, args...)
	if err != nil {
		return nil, err
	}

	return &Outcome{OK: res.Succeeded(), Output: res.Output}, nil
}

// SDKEngine lints and renders charts in-process with the Helm SDK. Rendering
// is a client-only dry-run install, which never contacts a cluster.
type SDKEngine struct {
	version helmversion.Version
}

func NewSDKEngine() *SDKEngine {
	v, err := helmversion.Parse(chartutil.DefaultCapabilities.HelmVersion.Version)
	if err != nil {
		v = helmversion.MustParse(helmversion.V3.Since())
	}

	return &SDKEngine{version: v}
}

func (e *SDKEngine) Version() helmversion.Version {
	return e.version
}

func (e *SDKEngine) Lint(_ context.Context, chartDir, valuesFile string) (*Outcome, error) {
	vals, err := readValues(valuesFile)
	if err != nil {
		return &Outcome{Output: "Error: " + err.Error()}, nil
	}

	lint := action.NewLint()
	lint.Namespace = sdkNamespace

	res := lint.Run([]string{chartDir}, vals)

	lines := make([]string, 0, len(res.Messages)+len(res.Errors))
	for _, msg := range res.Messages {
		lines = append(lines, msg.Error())
	}

	for _, err := range res.Errors {
		lines = append(lines, "Error: "+err.Error())
	}

	return &Outcome{OK: len(res.Errors) == 0, Output: strings.Join(lines, "\n")}, nil
}

func (e *SDKEngine) Template(ctx context.Context, chartDir, valuesFile, outputDir string) (*Outcome, error) {
	vals, err := readValues(valuesFile)
	if err != nil {
		return &Outcome{Output: "Error: " + err.Error()}, nil
	}

	ch, err := loader.Load(chartDir)
	if err != nil {
		return &Outcome{Output: fmt.Sprintf("Error: load chart: %v", err)}, nil
	}

	install := action.NewInstall(&action.Configuration{
		Log: func(format string, v ...any) {
			slog.DebugContext(ctx, fmt.Sprintf(format, v...))
		},
	})
	install.DryRun = true
	install.DryRunOption = "client"
	install.ClientOnly = true
	install.Replace = true
	install.IncludeCRDs = true
	install.ReleaseName = sdkReleaseName
	install.Namespace = sdkNamespace

	rel, err := install.RunWithContext(ctx, ch, vals)
	if err != nil {
		return &Outcome{Output: "Error: " + err.Error()}, nil
	}

	manifests := splitManifests(rel.Manifest)
	for _, h := range rel.Hooks {
		if h == nil || h.Path == "" {
			continue
		}

		manifests = append(manifests, sourcePrefix+h.Path+"\n"+h.Manifest)
	}

	if outputDir == "" {
		return &Outcome{OK: true, Output: joinManifests(manifests)}, nil
	}

	written, err := writeManifests(outputDir, manifests)
	if err != nil {
		return nil, err
	}

	return &Outcome{OK: true, Output: strings.Join(written, "\n")}, nil
}

func readValues(valuesFile string) (map[string]any, error) {
	if valuesFile == "" {
		return map[string]any{}, nil
	}

	vals, err := chartutil.ReadValuesFile(valuesFile)
	if err != nil {
		return nil, fmt.Errorf("read values %s: %w", valuesFile, err)
	}

	return vals.AsMap(), nil
}

// splitManifests splits a release manifest into its documents, in rendering
// order.
func splitManifests(manifest string) []string {
	byKey := releaseutil.SplitManifests(manifest)

	keys := make([]string, 0, len(byKey))
	for k := range byKey {
		keys = append(keys, k)
	}

	sort.Sort(releaseutil.BySplitManifestsOrder(keys))

	out := make([]string, 0, len(keys))
	for _, k := range keys {
		out = append(out, byKey[k])
	}

	return out
}

func joinManifests(manifests []string) string {
	var sb strings.Builder
	for _, m := range manifests {
		sb.WriteString("---\n")
		sb.WriteString(m)
		sb.WriteString("\n")
	}

	return sb.String()
}

// writeManifests appends every manifest to the file named by its source
// comment below dir. It returns the written paths.
func writeManifests(dir string, manifests []string) ([]string, error) {
	var written []string

	seen := map[string]bool{}

	for _, m := range manifests {
		first, _, _ := strings.Cut(m, "\n")

		source, ok := strings.CutPrefix(first, sourcePrefix)
		if !ok {
			continue
		}

		source = filepath.FromSlash(strings.TrimSpace(source))
		if !filepath.IsLocal(source) {
			return written, fmt.Errorf("%w: %q is outside the output dir", ErrWriteManifest, source)
		}

		path := filepath.Join(dir, source)
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return written, fmt.Errorf("%w: %w", ErrWriteManifest, err)
		}

		flags := os.O_CREATE | os.O_WRONLY | os.O_TRUNC
		if seen[path] {
			flags = os.O_CREATE | os.O_WRONLY | os.O_APPEND
		}

		if err := appendManifest(path, flags, m); err != nil {
			return written, err
		}

		if !seen[path] {
			seen[path] = true

			written = append(written, "wrote "+path)
		}
	}

	return written, nil
}

func appendManifest(path string, flags int, manifest string) error {
	f, err := os.OpenFile(path, flags, 0o644)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrWriteManifest, err)
	}

	_, err = f.WriteString("---\n" + manifest + "\n")
	if cerr := f.Close(); err == nil {
		err = cerr
	}

	if err != nil {
		return fmt.Errorf("%w: %w", ErrWriteManifest, err)
	}

	return nil
}
