package helmrepo

import (
	"bytes"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/google/go-cmp/cmp"
	"gopkg.in/yaml.v3"

	sigsyaml "sigs.k8s.io/yaml"

	"github.com/macropower/helmbuild/pkg/helmversion"
)

var ErrInvalidRepositoriesFile = errors.New("invalid repositories file")

// RepositoriesFilePath returns the location of repositories.yaml inside a
// Helm home directory.
func RepositoriesFilePath(home string, v helmversion.Version) string {
	if v.IsV3() {
		return filepath.Join(home, "config", "helm", "repositories.yaml")
	}

	return filepath.Join(home, "repository", "repositories.yaml")
}

// RepoEntry is a repository as recorded in repositories.yaml.
type RepoEntry struct {
	Name     string `json:"name"`
	URL      string `json:"url"`
	Username string `json:"username,omitempty"`
	Password string `json:"password,omitempty"`
}

type repositoriesFile struct {
	Repositories []RepoEntry `json:"repositories"`
}

// ReadEntries reads the repositories recorded in a repositories.yaml file.
func ReadEntries(path string) ([]RepoEntry, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}

	rf := repositoriesFile{}

	err = sigsyaml.Unmarshal(b, &rf)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrInvalidRepositoriesFile, path, err)
	}

	return rf.Repositories, nil
}

// SameYAML reports whether two files hold semantically equal YAML. A file
// that is missing or not valid YAML never equals anything.
func SameYAML(left, right string) bool {
	l, ok := loadYAML(left)
	if !ok {
		return false
	}

	r, ok := loadYAML(right)
	if !ok {
		return false
	}

	return cmp.Equal(l, r)
}

func loadYAML(path string) (any, bool) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, false
	}

	var v any

	err = sigsyaml.Unmarshal(b, &v)
	if err != nil {
		slog.Debug("cannot parse yaml",
			slog.String("path", path),
			slog.Any("err", err),
		)

		return nil, false
	}

	return v, true
}

// updateCredentials rewrites the username and password of the given repos in
// repositories.yaml when they differ from the file. All other content of the
// file is kept. It returns the names of the repos that were changed.
func updateCredentials(path string, repos []*Repo) ([]string, error) {
	if len(repos) == 0 {
		return nil, nil
	}

	fi, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("stat %s: %w", path, err)
	}

	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}

	doc := &yaml.Node{}

	err = yaml.Unmarshal(b, doc)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrInvalidRepositoriesFile, path, err)
	}

	entries := repoNodes(doc)
	updated := []string{}

	for _, r := range repos {
		n, ok := entries[r.Name]
		if !ok {
			continue
		}

		if scalar(n, "username") == r.Username && scalar(n, "password") == r.Password {
			continue
		}

		setScalar(n, "username", r.Username)
		setScalar(n, "password", r.Password)

		updated = append(updated, r.Name)
	}

	if len(updated) == 0 {
		return updated, nil
	}

	buf := &bytes.Buffer{}
	enc := yaml.NewEncoder(buf)
	enc.SetIndent(2)

	err = enc.Encode(doc)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", path, err)
	}

	err = enc.Close()
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", path, err)
	}

	err = os.WriteFile(path, buf.Bytes(), fi.Mode().Perm())
	if err != nil {
		return nil, fmt.Errorf("write %s: %w", path, err)
	}

	return updated, nil
}

// repoNodes maps repository names to their mapping nodes.
func repoNodes(doc *yaml.Node) map[string]*yaml.Node {
	nodes := map[string]*yaml.Node{}

	root := doc
	if root.Kind == yaml.DocumentNode && len(root.Content) > 0 {
		root = root.Content[0]
	}

	repos := mappingValue(root, "repositories")
	if repos == nil || repos.Kind != yaml.SequenceNode {
		return nodes
	}

	for _, n := range repos.Content {
		if n.Kind != yaml.MappingNode {
			continue
		}

		nodes[scalar(n, "name")] = n
	}

	return nodes
}

func mappingValue(n *yaml.Node, key string) *yaml.Node {
	if n == nil || n.Kind != yaml.MappingNode {
		return nil
	}

	for i := 0; i+1 < len(n.Content); i += 2 {
		if n.Content[i].Value == key {
			return n.Content[i+1]
		}
	}

	return nil
}

func scalar(n *yaml.Node, key string) string {
	v := mappingValue(n, key)
	if v == nil || v.Kind != yaml.ScalarNode || v.Tag == "!!null" {
		return ""
	}

	return v.Value
}

func setScalar(n *yaml.Node, key, value string) {
	v := mappingValue(n, key)
	if v == nil {
		n.Content = append(n.Content,
			&yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: key},
			&yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: value},
		)

		return
	}

	v.Kind = yaml.ScalarNode
	v.Tag = "!!str"
	v.Style = 0
	v.Value = value
	v.Content = nil
}
