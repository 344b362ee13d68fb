package charttest

import (
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"
)

var (
	ErrReadCase         = errors.New("read test case")
	ErrUnknownAssertion = errors.New("unknown test type, use either 'eq' or 'match'")
	ErrInvalidAssertion = errors.New("invalid assertion")
)

// Case is a single chart test.
type Case struct {
	// Name is the path of the case file relative to the tests directory,
	// slash separated and without the YAML extension.
	Name        string
	Title       string
	Description string
	// ValuesFile is passed to helm with --values.
	ValuesFile string
	Assertions []*Assertion
	// Succeed is false when rendering the chart with the values must fail.
	Succeed bool
}

type caseFile struct {
	Title       string       `yaml:"title"`
	Description string       `yaml:"description"`
	Succeed     *bool        `yaml:"succeed"`
	Values      yaml.Node    `yaml:"values"`
	Assert      []*Assertion `yaml:"assert"`
}

// LoadCases reads every *.yaml and *.yml file below testsDir. Values of
// structured cases are written to files in valuesDir.
func LoadCases(testsDir, valuesDir string) ([]*Case, error) {
	var files []string

	err := filepath.WalkDir(testsDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}

		if d.IsDir() || !isYAML(path) {
			return nil
		}

		files = append(files, path)

		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrReadCase, err)
	}

	slices.Sort(files)

	cases := make([]*Case, 0, len(files))

	for _, f := range files {
		c, err := loadCase(testsDir, valuesDir, f)
		if err != nil {
			return nil, fmt.Errorf("%w %s: %w", ErrReadCase, f, err)
		}

		slog.Debug("loaded test case",
			slog.String("name", c.Name),
			slog.String("title", c.Title),
			slog.Int("assertions", len(c.Assertions)),
		)

		cases = append(cases, c)
	}

	return cases, nil
}

func loadCase(testsDir, valuesDir, path string) (*Case, error) {
	rel, err := filepath.Rel(testsDir, path)
	if err != nil {
		return nil, fmt.Errorf("relative path: %w", err)
	}

	name := strings.TrimSuffix(strings.TrimSuffix(filepath.ToSlash(rel), ".yaml"), ".yml")

	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read file: %w", err)
	}

	var doc yaml.Node
	if err := yaml.Unmarshal(b, &doc); err != nil {
		return nil, fmt.Errorf("parse yaml: %w", err)
	}

	if !isStructured(&doc) {
		return &Case{
			Name:       name,
			Title:      filepath.Base(path),
			ValuesFile: path,
			Succeed:    true,
		}, nil
	}

	var cf caseFile
	if err := doc.Decode(&cf); err != nil {
		return nil, fmt.Errorf("decode case: %w", err)
	}

	for i, a := range cf.Assert {
		if err := a.compile(); err != nil {
			return nil, fmt.Errorf("assertion %d: %w", i, err)
		}
	}

	valuesFile, err := writeValues(valuesDir, &cf.Values)
	if err != nil {
		return nil, err
	}

	c := &Case{
		Name:        name,
		Title:       cf.Title,
		Description: cf.Description,
		ValuesFile:  valuesFile,
		Assertions:  cf.Assert,
		Succeed:     true,
	}
	if cf.Succeed != nil {
		c.Succeed = *cf.Succeed
	}

	return c, nil
}

func writeValues(dir string, values *yaml.Node) (string, error) {
	var buf bytes.Buffer

	if values.Kind != 0 && values.Tag != "!!null" {
		enc := yaml.NewEncoder(&buf)
		enc.SetIndent(2)

		if err := enc.Encode(values); err != nil {
			return "", fmt.Errorf("encode values: %w", err)
		}

		if err := enc.Close(); err != nil {
			return "", fmt.Errorf("encode values: %w", err)
		}
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create values dir: %w", err)
	}

	path := filepath.Join(dir, uuid.NewString()+".yaml")
	if err := os.WriteFile(path, buf.Bytes(), 0o600); err != nil {
		return "", fmt.Errorf("write values: %w", err)
	}

	return path, nil
}

// isStructured reports whether the document is a map with both a title and
// values key.
func isStructured(doc *yaml.Node) bool {
	if doc.Kind != yaml.DocumentNode || len(doc.Content) == 0 {
		return false
	}

	root := doc.Content[0]
	if root.Kind != yaml.MappingNode {
		return false
	}

	var title, values bool

	for i := 0; i+1 < len(root.Content); i += 2 {
		switch root.Content[i].Value {
		case "title":
			title = true
		case "values":
			values = true
		}
	}

	return title && values
}

func isYAML(path string) bool {
	ext := filepath.Ext(path)

	return ext == ".yaml" || ext == ".yml"
}
