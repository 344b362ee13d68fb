package helmrepo

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"slices"
	"strings"

	"github.com/macropower/helmbuild/pkg/helmexec"
	"github.com/macropower/helmbuild/pkg/helmversion"
)

var (
	ErrListRepos = errors.New("failed to list helm repositories")
	ErrAddRepo   = errors.New("failed to add helm repository")

	repoRowPattern = regexp.MustCompile(`^([\w.-]+)\s+(.+)$`)

	// protectedRepos are never removed, even when not configured.
	protectedRepos = []string{"stable", "local"}
)

// SyncResult reports what [Syncer.Sync] changed.
type SyncResult struct {
	Added              []string
	Removed            []string
	CredentialsUpdated []string
	// Skipped holds authenticated repos the Helm version cannot add.
	Skipped []string
	// UpToDate is true when nothing had to be done.
	UpToDate bool
}

// Syncer reconciles the repositories known to Helm with a [Manager].
type Syncer struct {
	helm     helmexec.Interface
	repos    *Manager
	copyPath string
	force    bool
}

type SyncerOpt func(*Syncer)

// WithForce makes [Syncer.Sync] run even when the repositories are up to date.
func WithForce(force bool) SyncerOpt {
	return func(s *Syncer) {
		s.force = force
	}
}

// NewSyncer creates a [Syncer]. After each sync, repositories.yaml is copied
// to copyPath.
func NewSyncer(helm helmexec.Interface, repos *Manager, copyPath string, opts ...SyncerOpt) *Syncer {
	s := &Syncer{
		helm:     helm,
		repos:    repos,
		copyPath: copyPath,
	}
	for _, opt := range opts {
		opt(s)
	}

	return s
}

// RepositoriesFile returns the path of the live repositories.yaml.
func (s *Syncer) RepositoriesFile() string {
	p := RepositoriesFilePath(s.helm.Home(), s.helm.Version())

	slog.Debug("using repositories file", slog.String("path", p))

	if _, err := os.Stat(p); err != nil {
		slog.Error("cannot find repositories.yaml, is homeDir set correctly?",
			slog.String("path", p),
		)
	}

	return p
}

// UpToDate reports whether the last sync is still valid: the copy equals the
// live repositories.yaml, and the live file holds exactly the configured
// repos (plus protected ones) with their URLs and credentials.
func (s *Syncer) UpToDate() bool {
	live := s.RepositoriesFile()
	if !SameYAML(s.copyPath, live) {
		return false
	}

	entries, err := ReadEntries(live)
	if err != nil {
		return false
	}

	known := map[string]RepoEntry{}
	for _, e := range entries {
		known[e.Name] = e
	}

	for _, r := range s.repos.All() {
		e, ok := known[r.Name]
		if !ok {
			if r.IsAuthenticated() && !s.helm.Version().Supports(helmversion.RepoAuthentication) {
				continue
			}

			return false
		}

		if strings.TrimSuffix(e.URL, "/") != strings.TrimSuffix(r.URL, "/") {
			return false
		}

		if r.IsAuthenticated() && (e.Username != r.Username || e.Password != r.Password) {
			return false
		}

		delete(known, r.Name)
	}

	for name := range known {
		if !slices.Contains(protectedRepos, name) {
			return false
		}
	}

	return true
}

// Known lists the repositories Helm currently knows, by name.
func (s *Syncer) Known(ctx context.Context) (map[string]string, error) {
	res, err := s.helm.Run(ctx, "repo", "list")
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrListRepos, err)
	}

	if res.ExitCode == 1 && strings.Contains(strings.Join(res.Lines(), " "), "no repositories to show") {
		return map[string]string{}, nil
	}

	if !res.Succeeded() {
		return nil, fmt.Errorf("%w: exit status %d:\n%s", ErrListRepos, res.ExitCode, res.Output)
	}

	return parseRepoList(res.Lines()), nil
}

func parseRepoList(lines []string) map[string]string {
	known := map[string]string{}

	// The first line is the table header.
	for i, line := range lines {
		if i == 0 {
			continue
		}

		m := repoRowPattern.FindStringSubmatch(strings.TrimSpace(line))
		if m == nil {
			continue
		}

		known[m[1]] = strings.TrimSpace(m[2])
	}

	return known
}

// Sync removes unconfigured repos, adds missing ones, updates stale
// credentials and finally copies repositories.yaml to the copy path.
func (s *Syncer) Sync(ctx context.Context) (*SyncResult, error) {
	res := &SyncResult{}

	if !s.force && s.UpToDate() {
		slog.InfoContext(ctx, "helm repositories are up to date")

		res.UpToDate = true

		return res, nil
	}

	known, err := s.Known(ctx)
	if err != nil {
		return nil, err
	}

	toRemove := []string{}

	for name := range known {
		if !s.repos.Has(name) && !slices.Contains(protectedRepos, name) {
			toRemove = append(toRemove, name)
		}
	}

	slices.Sort(toRemove)

	toSyncAuth := []*Repo{}
	for _, r := range s.repos.All() {
		if _, ok := known[r.Name]; ok && r.IsAuthenticated() {
			toSyncAuth = append(toSyncAuth, r)
		}
	}

	for _, name := range toRemove {
		rr, err := s.helm.Run(ctx, "repo", "remove", name)
		if err != nil {
			return nil, fmt.Errorf("remove repository %q: %w", name, err)
		}

		if !rr.Succeeded() {
			slog.WarnContext(ctx, "failed to remove helm repository",
				slog.String("repo", name),
				slog.String("output", rr.Output),
			)

			continue
		}

		res.Removed = append(res.Removed, name)
	}

	for _, r := range s.repos.All() {
		if _, ok := known[r.Name]; ok {
			continue
		}

		added, err := s.add(ctx, r)
		if err != nil {
			return nil, err
		}

		if added {
			res.Added = append(res.Added, r.Name)
		} else {
			res.Skipped = append(res.Skipped, r.Name)
		}
	}

	live := s.RepositoriesFile()

	res.CredentialsUpdated, err = updateCredentials(live, toSyncAuth)
	if err != nil {
		return nil, fmt.Errorf("update repository credentials: %w", err)
	}

	err = copyRepositoriesFile(live, s.copyPath)
	if err != nil {
		return nil, err
	}

	slog.InfoContext(ctx, "synced helm repositories",
		slog.Any("added", res.Added),
		slog.Any("removed", res.Removed),
		slog.Any("credentials_updated", res.CredentialsUpdated),
	)

	return res, nil
}

func (s *Syncer) add(ctx context.Context, r *Repo) (bool, error) {
	args := []string{"repo", "add", r.Name, r.URL}

	if r.IsAuthenticated() {
		v := s.helm.Version()
		if !v.Supports(helmversion.RepoAuthentication) {
			slog.WarnContext(ctx, "cannot add authenticated repository, authentication is not supported by this helm version",
				slog.String("repo", r.Name),
				slog.String("required", helmversion.RepoAuthentication.Since()),
				slog.String("version", v.String()),
			)

			return false, nil
		}

		args = append(args, "--username="+r.Username, "--password="+r.Password)
	}

	_, err := s.helm.RunSuccess(ctx, args...)
	if err != nil {
		return false, fmt.Errorf("%w %q: %w", ErrAddRepo, r.Name, err)
	}

	return true, nil
}

func copyRepositoriesFile(src, dst string) error {
	b, err := os.ReadFile(src)
	if errors.Is(err, os.ErrNotExist) {
		// Nothing to record; a stale copy must not look up to date.
		err = os.Remove(dst)
		if err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("remove repositories copy: %w", err)
		}

		return nil
	}

	if err != nil {
		return fmt.Errorf("read repositories file: %w", err)
	}

	err = os.MkdirAll(filepath.Dir(dst), 0o750)
	if err != nil {
		return fmt.Errorf("create repositories copy dir: %w", err)
	}

	err = os.WriteFile(dst, b, 0o600)
	if err != nil {
		return fmt.Errorf("write repositories copy: %w", err)
	}

	return nil
}
