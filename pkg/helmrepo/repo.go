package helmrepo

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"
)

const (
	MethodPost = "POST"
	MethodPut  = "PUT"
)

var (
	ErrRepoNameEmpty  = errors.New("repo name is empty")
	ErrRepoURLEmpty   = errors.New("repo URL is empty")
	ErrInvalidRepoURL = errors.New("invalid repo URL")
	ErrInvalidMethod  = errors.New("invalid deploy method")
	ErrRepoNotFound   = errors.New("repo not found")
	ErrDuplicateRepo  = errors.New("duplicate repo")
)

type RepoNotFoundError struct {
	Name string
}

func (e RepoNotFoundError) Error() string {
	return fmt.Sprintf("repo with name %q not found", e.Name)
}

func (e RepoNotFoundError) Unwrap() error {
	return ErrRepoNotFound
}

type DuplicateRepoError struct {
	Name string
}

func (e DuplicateRepoError) Error() string {
	return fmt.Sprintf("repo with name %q already exists", e.Name)
}

func (e DuplicateRepoError) Unwrap() error {
	return ErrDuplicateRepo
}

// DeploySpec describes where and how packaged charts are uploaded.
type DeploySpec struct {
	// Method is the HTTP method used for uploads, POST or PUT.
	Method string `json:"method,omitempty"`
	// URL is the upload URL. Empty means the repository URL.
	URL string `json:"url,omitempty"`
	// Region is the AWS region for s3:// URLs.
	Region string `json:"region,omitempty"`
	// Endpoint is a custom S3 compatible endpoint for s3:// URLs.
	Endpoint string `json:"endpoint,omitempty"`
}

// Repo is a Helm chart repository.
type Repo struct {
	Deploy *DeploySpec `json:"deploy,omitempty"`
	url    *url.URL
	// Helm chart repository name for reference by `@name`.
	Name     string `json:"name"`
	URL      string `json:"url"`
	Username string `json:"username,omitempty"`
	Password string `json:"password,omitempty"`
	// APIKey is sent as X-JFrog-Art-Api on uploads.
	APIKey string `json:"apiKey,omitempty"`
}

// IsAuthenticated reports whether a username or password is configured.
func (r *Repo) IsAuthenticated() bool {
	return r.Username != "" || r.Password != ""
}

func (r *Repo) HasAPIKey() bool {
	return r.APIKey != ""
}

// UploadURL returns the URL charts are deployed to, or an empty string when
// the repo has no deploy spec.
func (r *Repo) UploadURL() string {
	if r.Deploy == nil {
		return ""
	}

	if r.Deploy.URL != "" {
		return r.Deploy.URL
	}

	return r.URL
}

// UploadMethod returns the HTTP method for uploads, POST by default.
func (r *Repo) UploadMethod() string {
	if r.Deploy == nil || r.Deploy.Method == "" {
		return MethodPost
	}

	return strings.ToUpper(r.Deploy.Method)
}

// Validate checks the fields of a single repo.
func (r *Repo) Validate() error {
	if r.Name == "" {
		return ErrRepoNameEmpty
	}

	if r.URL == "" {
		return fmt.Errorf("%w: %q", ErrRepoURLEmpty, r.Name)
	}

	u, err := url.Parse(r.URL)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidRepoURL, err)
	}

	if u.Scheme == "" || (u.Host == "" && u.Scheme != "file") {
		return fmt.Errorf("%w: %q", ErrInvalidRepoURL, r.URL)
	}

	r.url = u

	if r.Deploy != nil {
		switch r.UploadMethod() {
		case MethodPost, MethodPut:
		default:
			return fmt.Errorf("%w: %q", ErrInvalidMethod, r.Deploy.Method)
		}
	}

	return nil
}

// Secrets returns the credentials of the repo, for redaction.
func (r *Repo) Secrets() []string {
	return []string{r.Password, r.APIKey}
}

type Getter interface {
	Get(repo string) (*Repo, error)
}

// Manager manages a collection of [Repo]s.
type Manager struct {
	reposByName map[string]*Repo
	reposByURL  map[string]*Repo
	names       []string

	mu sync.RWMutex
}

// NewManager creates a new [Manager].
func NewManager() *Manager {
	return &Manager{
		reposByName: make(map[string]*Repo),
		reposByURL:  make(map[string]*Repo),
	}
}

// Add adds a new repo to the [Manager]. If a repo with the same name
// already exists, a [DuplicateRepoError] is returned.
func (m *Manager) Add(repo *Repo) error {
	err := repo.Validate()
	if err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.reposByName[repo.Name]; ok {
		return DuplicateRepoError{Name: repo.Name}
	}

	m.reposByName[repo.Name] = repo
	m.reposByURL[repo.url.String()] = repo
	m.names = append(m.names, repo.Name)

	return nil
}

// Get returns a repo by its name or URL. It calls [Manager.GetByName] or
// [Manager.GetByURL] depending on the input.
func (m *Manager) Get(repo string) (*Repo, error) {
	if strings.HasPrefix(repo, "@") {
		return m.GetByName(strings.TrimPrefix(repo, "@"))
	}

	return m.GetByURL(repo)
}

// GetByName returns a repo by its name. If the repo does not exist in the
// [Manager], a [RepoNotFoundError] is returned.
func (m *Manager) GetByName(name string) (*Repo, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	repo, ok := m.reposByName[name]
	if !ok {
		return nil, RepoNotFoundError{Name: name}
	}

	return repo, nil
}

// GetByURL returns a repo by its URL. If the repo does not exist in the
// [Manager], a new [Repo] is created with the URL as the name.
func (m *Manager) GetByURL(repoURL string) (*Repo, error) {
	u, err := url.Parse(repoURL)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidRepoURL, err)
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	repo, ok := m.reposByURL[u.String()]
	if !ok {
		return &Repo{
			Name: u.String(),
			URL:  u.String(),
			url:  u,
		}, nil
	}

	return repo, nil
}

// Has reports whether a repo with the given name exists.
func (m *Manager) Has(name string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()

	_, ok := m.reposByName[name]

	return ok
}

// Names returns the repo names in the order they were added.
func (m *Manager) Names() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return append([]string{}, m.names...)
}

// All returns the repos in the order they were added.
func (m *Manager) All() []*Repo {
	m.mu.RLock()
	defer m.mu.RUnlock()

	repos := make([]*Repo, 0, len(m.names))
	for _, n := range m.names {
		repos = append(repos, m.reposByName[n])
	}

	return repos
}

// Secrets returns the credentials of all repos, for redaction.
func (m *Manager) Secrets() []string {
	secrets := []string{}
	for _, r := range m.All() {
		secrets = append(secrets, r.Secrets()...)
	}

	return secrets
}
