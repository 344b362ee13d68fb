package charttest

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/jstemmer/go-junit-report/v2/junit"
)

const (
	ReportFileName = "helm-junit-report.xml"

	lintCaseName      = "defaultValueLinting"
	lintCaseClassname = "HelmPlugin"
)

// Report holds the JUnit results of a test run.
type Report struct {
	// Path is where the report was written.
	Path string
	// Failures holds one entry per failed expectation.
	Failures []*AssertionError
	Suites   junit.Testsuites
}

// Failed reports whether any test case failed.
func (r *Report) Failed() bool {
	return len(r.Failures) > 0
}

// Write writes the report as JUnit XML to path, creating parent directories.
func (r *Report) Write(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create report dir: %w", err)
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create report: %w", err)
	}

	err = r.Suites.WriteXML(f)
	if cerr := f.Close(); err == nil {
		err = cerr
	}

	if err != nil {
		return fmt.Errorf("write report: %w", err)
	}

	r.Path = path

	return nil
}

// caseRecorder builds a single testcase, collecting every failure of a case
// into one JUnit failure element.
type caseRecorder struct {
	start    time.Time
	chart    string
	caseName string
	failures []*AssertionError
	tc       junit.Testcase
}

func newCaseRecorder(chart string, c *Case) *caseRecorder {
	return &caseRecorder{
		chart:    chart,
		caseName: c.Name,
		start:    time.Now(),
		tc: junit.Testcase{
			Name:      c.Title,
			Classname: c.Name,
		},
	}
}

func newLintRecorder(chart string) *caseRecorder {
	return &caseRecorder{
		chart: chart,
		start: time.Now(),
		tc: junit.Testcase{
			Name:      lintCaseName,
			Classname: lintCaseClassname,
		},
	}
}

func (c *caseRecorder) fail(message, detail string) {
	c.failures = append(c.failures, &AssertionError{
		Chart:   c.chart,
		Case:    c.caseName,
		Message: message,
		Detail:  detail,
	})
}

func (c *caseRecorder) skip(message string) {
	c.tc.Skipped = &junit.Result{Message: message}
}

func (c *caseRecorder) testcase() junit.Testcase {
	c.tc.Time = seconds(time.Since(c.start))

	if len(c.failures) == 0 {
		return c.tc
	}

	details := make([]string, 0, len(c.failures))
	for i, f := range c.failures {
		var d string
		if i > 0 {
			d = f.Message
		}

		if f.Detail != "" {
			d = strings.TrimSpace(d + "\n" + f.Detail)
		}

		if d != "" {
			details = append(details, d)
		}
	}

	c.tc.Failure = &junit.Result{
		Message: c.failures[0].Message,
		Data:    strings.Join(details, "\n"),
	}

	return c.tc
}

func seconds(d time.Duration) string {
	return strconv.FormatFloat(d.Seconds(), 'f', 3, 64)
}
