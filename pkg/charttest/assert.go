package charttest

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"regexp"
	"strings"

	"github.com/google/go-cmp/cmp"
	"gopkg.in/yaml.v3"
	"k8s.io/client-go/util/jsonpath"

	"github.com/macropower/helmbuild/pkg/kube"
)

const (
	TestEq    = "eq"
	TestMatch = "match"
)

var (
	ErrInvalidPath  = errors.New("invalid path")
	ErrPathNotFound = errors.New("path not found")
)

var (
	bracketSelector = regexp.MustCompile(`\[[^\]]*\]`)
	// Matches a single quoted key selector such as `['app.kubernetes.io/name']`.
	keySelector = regexp.MustCompile(`\[\s*(?:'([^']*)'|"([^"]*)")\s*\]`)
)

// Functions that may end a path.
var lengthFuncs = []string{".length()", ".size()"}

// Assertion checks a fragment of a rendered chart file.
type Assertion struct {
	Value    any    `yaml:"value"`
	expected any
	re       *regexp.Regexp
	// File is relative to the rendered chart directory.
	File    string `yaml:"file"`
	Test    string `yaml:"test"`
	Path    string `yaml:"path"`
	Pattern string `yaml:"pattern"`
}

func (a *Assertion) compile() error {
	switch a.Test {
	case TestEq:
		v, err := normalize(a.Value)
		if err != nil {
			return fmt.Errorf("%w: value: %w", ErrInvalidAssertion, err)
		}

		a.expected = v

	case TestMatch:
		re, err := regexp.Compile(`^(?:` + a.Pattern + `)$`)
		if err != nil {
			return fmt.Errorf("%w: pattern: %w", ErrInvalidAssertion, err)
		}

		a.re = re

	default:
		return fmt.Errorf("%w, found: %s", ErrUnknownAssertion, a.Test)
	}

	return nil
}

// Check evaluates the assertion against the documents in file. A mismatch is
// returned as an [*AssertionError].
func (a *Assertion) Check(file string) error {
	b, err := os.ReadFile(file)
	if err != nil {
		return fmt.Errorf("read %s: %w", file, err)
	}

	docs, err := kube.DecodeDocuments(b)
	if err != nil {
		return &AssertionError{Message: fmt.Sprintf("File %s could not be parsed: %v", a.File, err)}
	}

	slog.Debug("checking assertion",
		slog.String("file", a.File),
		slog.String("test", a.Test),
		slog.String("path", a.Path),
		slog.Any("resources", resourceRefs(docs)),
	)

	fragment, err := Query(docs, a.Path)
	if err != nil {
		return &AssertionError{Message: fmt.Sprintf("File %s: %v", a.File, err)}
	}

	switch a.Test {
	case TestEq:
		if !cmp.Equal(fragment, a.expected) {
			return &AssertionError{
				Message: fmt.Sprintf("File %s at path '%s' does not contain a document matching '%v'",
					a.File, a.Path, a.Value),
				Detail: cmp.Diff(a.expected, fragment),
			}
		}

	case TestMatch:
		out, err := yaml.Marshal(fragment)
		if err != nil {
			return fmt.Errorf("dump fragment: %w", err)
		}

		dump := strings.TrimSuffix(string(out), "\n")
		if !a.re.MatchString(dump) {
			return &AssertionError{
				Message: fmt.Sprintf("File %s does not structure documents matching regular expression '%s' at path '%s'.",
					a.File, a.Pattern, a.Path),
				Detail: dump,
			}
		}

	default:
		return fmt.Errorf("%w, found: %s", ErrUnknownAssertion, a.Test)
	}

	return nil
}

// Query evaluates a JSONPath expression such as `$[0].spec.replicas` against
// data. Definite paths yield a single value; paths with wildcards, deep scans,
// filters, unions or slices yield a list of all matches.
func Query(data any, path string) (any, error) {
	expr := strings.TrimPrefix(strings.TrimSpace(path), "$")
	if expr == "" {
		return data, nil
	}

	for _, fn := range lengthFuncs {
		if base, ok := strings.CutSuffix(expr, fn); ok {
			return queryLength(data, path, base)
		}
	}

	jp := jsonpath.New("assert")
	if err := jp.Parse("{" + fieldSelectors(expr) + "}"); err != nil {
		return nil, fmt.Errorf("%w %q: %w", ErrInvalidPath, path, err)
	}

	results, err := jp.FindResults(data)
	if err != nil {
		return nil, fmt.Errorf("%w: %q: %w", ErrPathNotFound, path, err)
	}

	values := []any{}

	for _, set := range results {
		for _, r := range set {
			if !r.IsValid() {
				continue
			}

			values = append(values, r.Interface())
		}
	}

	if !isDefinite(expr) {
		return values, nil
	}

	if len(values) == 0 {
		return nil, fmt.Errorf("%w: %q", ErrPathNotFound, path)
	}

	return values[0], nil
}

func queryLength(data any, path, base string) (any, error) {
	v, err := Query(data, "$"+base)
	if err != nil {
		return nil, err
	}

	switch tv := v.(type) {
	case []any:
		return float64(len(tv)), nil
	case map[string]any:
		return float64(len(tv)), nil
	case string:
		return float64(len(tv)), nil
	}

	return nil, fmt.Errorf("%w %q: cannot take the length of %T", ErrInvalidPath, path, v)
}

// fieldSelectors rewrites quoted key selectors into dotted fields, escaping
// the characters that would otherwise end a field name.
func fieldSelectors(expr string) string {
	return keySelector.ReplaceAllStringFunc(expr, func(sel string) string {
		m := keySelector.FindStringSubmatch(sel)

		key := m[1]
		if strings.HasPrefix(strings.TrimSpace(sel[1:]), `"`) {
			key = m[2]
		}

		var sb strings.Builder
		sb.WriteByte('.')

		for _, r := range key {
			if strings.ContainsRune(` .,[]$@{}`, r) {
				sb.WriteByte('\\')
			}

			sb.WriteRune(r)
		}

		return sb.String()
	})
}

func isDefinite(expr string) bool {
	expr = keySelector.ReplaceAllString(expr, "")

	if strings.Contains(expr, "..") || strings.Contains(expr, "*") || strings.Contains(expr, "?(") {
		return false
	}

	for _, sel := range bracketSelector.FindAllString(expr, -1) {
		if strings.ContainsAny(sel, ",:") {
			return false
		}
	}

	return true
}

// normalize converts a decoded YAML value into the shapes produced by
// [encoding/json], so it can be compared to rendered documents.
func normalize(v any) (any, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}

	var out any
	if err := json.Unmarshal(b, &out); err != nil {
		return nil, err
	}

	return out, nil
}

// AssertionError is a failed test case expectation.
type AssertionError struct {
	Chart   string
	Case    string
	Message string
	// Detail is extra output for the report, e.g. helm output or a diff.
	Detail string
}

func (e *AssertionError) Error() string {
	var prefix string

	switch {
	case e.Chart != "" && e.Case != "":
		prefix = e.Chart + "/" + e.Case + ": "
	case e.Chart != "":
		prefix = e.Chart + ": "
	}

	return prefix + e.Message
}

func resourceRefs(docs []any) []string {
	refs := make([]string, 0, len(docs))
	for _, d := range docs {
		if o, ok := kube.AsObject(d); ok {
			refs = append(refs, o.Ref())
		}
	}

	return refs
}
