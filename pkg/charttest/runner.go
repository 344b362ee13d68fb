package charttest

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"runtime"
	"slices"
	"sync"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/jstemmer/go-junit-report/v2/junit"
	"golang.org/x/sync/semaphore"

	"github.com/macropower/helmbuild/pkg/helmversion"
)

var (
	ErrTestsFailed       = errors.New("chart tests failed")
	ErrInvalidPattern    = errors.New("invalid test pattern")
	ErrTestWorkerFailed  = errors.New("test worker failed")
	ErrPrepareTestOutput = errors.New("prepare test output")
)

// Runner runs the test cases below a tests directory against every chart
// directory in an output directory.
type Runner struct {
	engine         Engine
	pattern        *regexp.Regexp
	testsDir       string
	outputDir      string
	testOutputDir  string
	chartName      string
	testPattern    string
	workers        int64
	ignoreFailures bool
}

type RunnerOpt func(*Runner)

// WithChartName restricts the run to a single chart.
func WithChartName(name string) RunnerOpt {
	return func(r *Runner) {
		r.chartName = name
	}
}

// WithTestPattern only runs cases whose name fully matches the regular
// expression. Other cases are reported as skipped.
func WithTestPattern(pattern string) RunnerOpt {
	return func(r *Runner) {
		r.testPattern = pattern
	}
}

// WithIgnoreFailures logs test failures instead of returning them.
func WithIgnoreFailures(ignore bool) RunnerOpt {
	return func(r *Runner) {
		r.ignoreFailures = ignore
	}
}

// WithWorkers sets how many charts are tested concurrently.
func WithWorkers(n int) RunnerOpt {
	return func(r *Runner) {
		if n > 0 {
			r.workers = int64(n)
		}
	}
}

// NewRunner creates a [Runner] testing the charts in outputDir with the
// cases in testsDir, writing rendered manifests and the report below
// testOutputDir.
func NewRunner(engine Engine, testsDir, outputDir, testOutputDir string, opts ...RunnerOpt) (*Runner, error) {
	r := &Runner{
		engine:        engine,
		testsDir:      testsDir,
		outputDir:     outputDir,
		testOutputDir: testOutputDir,
		testPattern:   ".*",
		workers:       int64(runtime.GOMAXPROCS(0)),
	}
	for _, opt := range opts {
		opt(r)
	}

	re, err := regexp.Compile(`^(?:` + r.testPattern + `)$`)
	if err != nil {
		return nil, fmt.Errorf("%w %q: %w", ErrInvalidPattern, r.testPattern, err)
	}

	r.pattern = re

	return r, nil
}

type features struct {
	lintWithValues bool
	templateOutput bool
}

// Run tests every chart and writes the JUnit report. It returns a nil
// [Report] when there is nothing to test. Test failures are returned as
// [ErrTestsFailed] unless failures are ignored; other errors are always
// returned.
func (r *Runner) Run(ctx context.Context) (*Report, error) {
	if _, err := os.Stat(r.testsDir); errors.Is(err, fs.ErrNotExist) {
		slog.InfoContext(ctx, "no tests found, skipping", slog.String("dir", r.testsDir))

		return nil, nil
	} else if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrReadCase, err)
	}

	charts, err := r.charts()
	if err != nil {
		return nil, err
	}

	if len(charts) == 0 {
		slog.InfoContext(ctx, "no charts to test", slog.String("dir", r.outputDir))

		return nil, nil
	}

	valuesDir, err := os.MkdirTemp("", "helmbuild-values-")
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrPrepareTestOutput, err)
	}
	defer func() {
		if err := os.RemoveAll(valuesDir); err != nil {
			slog.WarnContext(ctx, "remove values dir", slog.Any("err", err))
		}
	}()

	cases, err := LoadCases(r.testsDir, valuesDir)
	if err != nil {
		return nil, err
	}

	feats := r.features(ctx)

	suites := make([]junit.Testsuite, len(charts))
	failures := make([][]*AssertionError, len(charts))

	sem := semaphore.NewWeighted(r.workers)
	errChan := make(chan error, len(charts))

	var (
		wg         sync.WaitGroup
		acquireErr error
	)

	for i, chart := range charts {
		if err := sem.Acquire(ctx, 1); err != nil {
			acquireErr = fmt.Errorf("%w: %w", ErrTestWorkerFailed, err)

			break
		}

		wg.Add(1)

		go func() {
			defer wg.Done()
			defer sem.Release(1)

			suite, fails, err := r.testChart(ctx, i, chart, cases, feats)
			if err != nil {
				errChan <- fmt.Errorf("test chart %q: %w", chart, err)

				return
			}

			suites[i] = suite
			failures[i] = fails
		}()
	}

	// Charts already started must finish before the values dir is removed.
	wg.Wait()
	close(errChan)

	var merr error
	if acquireErr != nil {
		merr = multierror.Append(merr, acquireErr)
	}

	for err := range errChan {
		merr = multierror.Append(merr, err)
	}

	if merr != nil {
		return nil, merr
	}

	report := &Report{}
	for i := range suites {
		report.Suites.AddSuite(suites[i])
		report.Failures = append(report.Failures, failures[i]...)
	}

	if err := report.Write(filepath.Join(r.testOutputDir, r.chartName, ReportFileName)); err != nil {
		return report, err
	}

	slog.InfoContext(ctx, "wrote test report",
		slog.String("path", report.Path),
		slog.Int("tests", report.Suites.Tests),
		slog.Int("failures", report.Suites.Failures),
		slog.Int("skipped", report.Suites.Skipped),
	)

	if !report.Failed() {
		return report, nil
	}

	slog.ErrorContext(ctx, "there have been test failures", slog.Int("count", len(report.Failures)))

	var ferr error
	for _, f := range report.Failures {
		slog.InfoContext(ctx, "test failure", slog.String("failure", f.Error()))

		ferr = multierror.Append(ferr, f)
	}

	if r.ignoreFailures {
		return report, nil
	}

	return report, fmt.Errorf("%w: %w", ErrTestsFailed, ferr)
}

func (r *Runner) features(ctx context.Context) features {
	v := r.engine.Version()
	f := features{
		lintWithValues: v.Supports(helmversion.LintWithValues),
		templateOutput: v.Supports(helmversion.TemplateWithOutputDir),
	}

	if !f.lintWithValues {
		slog.WarnContext(ctx, "helm version does not support linting with values, skipping",
			slog.String("version", v.String()),
			slog.String("required", helmversion.LintWithValues.Since()),
		)
	}

	if !f.templateOutput {
		slog.WarnContext(ctx, "helm version does not support template output dirs, skipping assertions",
			slog.String("version", v.String()),
			slog.String("required", helmversion.TemplateWithOutputDir.Since()),
		)
	}

	return f
}

// charts lists the chart directories in the output dir.
func (r *Runner) charts() ([]string, error) {
	entries, err := os.ReadDir(r.outputDir)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	} else if err != nil {
		return nil, fmt.Errorf("list charts: %w", err)
	}

	var charts []string

	for _, e := range entries {
		if !e.IsDir() {
			continue
		}

		if r.chartName != "" && e.Name() != r.chartName {
			continue
		}

		charts = append(charts, e.Name())
	}

	slices.Sort(charts)

	return charts, nil
}

func (r *Runner) testChart(
	ctx context.Context, id int, chart string, cases []*Case, feats features,
) (junit.Testsuite, []*AssertionError, error) {
	start := time.Now()
	chartDir := filepath.Join(r.outputDir, chart)
	logger := slog.With(slog.String("chart", chart))

	suite := junit.Testsuite{Name: chart, ID: id}
	suite.SetTimestamp(start)

	var failures []*AssertionError

	logger.InfoContext(ctx, "linting chart with default values")

	lint := newLintRecorder(chart)

	out, err := r.engine.Lint(ctx, chartDir, "")
	if err != nil {
		return suite, nil, fmt.Errorf("lint: %w", err)
	}

	if !out.OK {
		lint.fail("Linting with default values failed", out.Output)
	}

	suite.AddTestcase(lint.testcase())
	failures = append(failures, lint.failures...)

	chartOut := filepath.Join(r.testOutputDir, chart)
	if err := os.RemoveAll(chartOut); err != nil {
		return suite, nil, fmt.Errorf("%w: %w", ErrPrepareTestOutput, err)
	}

	for _, c := range cases {
		rec := newCaseRecorder(chart, c)

		if !r.pattern.MatchString(c.Name) {
			logger.InfoContext(ctx, "skipping test case",
				slog.String("case", c.Name),
				slog.String("pattern", r.testPattern),
			)
			rec.skip("name does not match pattern " + r.testPattern)
		} else if err := r.runCase(ctx, rec, chartDir, filepath.Join(chartOut, filepath.FromSlash(c.Name)), c, feats); err != nil {
			return suite, nil, fmt.Errorf("case %q: %w", c.Name, err)
		}

		suite.AddTestcase(rec.testcase())
		failures = append(failures, rec.failures...)
	}

	suite.Time = seconds(time.Since(start))

	return suite, failures, nil
}

func (r *Runner) runCase(
	ctx context.Context, rec *caseRecorder, chartDir, caseOut string, c *Case, feats features,
) error {
	slog.InfoContext(ctx, "running test case",
		slog.String("chart", rec.chart),
		slog.String("case", c.Name),
		slog.String("title", c.Title),
	)

	if !c.Succeed {
		out, err := r.engine.Template(ctx, chartDir, c.ValuesFile, "")
		if err != nil {
			return fmt.Errorf("template: %w", err)
		}

		if out.OK {
			rec.fail("failed to fail template", "Templating should fail, but succeeded.")
		}

		return nil
	}

	if feats.lintWithValues {
		out, err := r.engine.Lint(ctx, chartDir, c.ValuesFile)
		if err != nil {
			return fmt.Errorf("lint: %w", err)
		}

		if !out.OK {
			rec.fail("Linting with test values failed", out.Output)
		}
	}

	if !feats.templateOutput {
		return nil
	}

	if err := os.MkdirAll(caseOut, 0o755); err != nil {
		return fmt.Errorf("%w: %w", ErrPrepareTestOutput, err)
	}

	out, err := r.engine.Template(ctx, chartDir, c.ValuesFile, caseOut)
	if err != nil {
		return fmt.Errorf("template: %w", err)
	}

	if !out.OK {
		rec.fail("failed to template chart", out.Output)

		return nil
	}

	return r.runAssertions(rec, filepath.Join(caseOut, filepath.Base(chartDir)), c)
}

func (r *Runner) runAssertions(rec *caseRecorder, renderedDir string, c *Case) error {
	for _, a := range c.Assertions {
		file, err := filepath.Abs(filepath.Join(renderedDir, filepath.FromSlash(a.File)))
		if err != nil {
			return fmt.Errorf("resolve %s: %w", a.File, err)
		}

		if info, err := os.Stat(file); err != nil || !info.Mode().IsRegular() {
			rec.fail("failed to find file "+file, "")

			continue
		}

		err = a.Check(file)

		var aerr *AssertionError

		switch {
		case err == nil:
		case errors.As(err, &aerr):
			rec.fail(aerr.Message, aerr.Detail)
		default:
			return err
		}
	}

	return nil
}
