package helmrepo_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/macropower/helmbuild/pkg/helmrepo"
)

func TestAddRepo(t *testing.T) {
	t.Parallel()

	manager := helmrepo.NewManager()

	repo := &helmrepo.Repo{
		Name: "test-repo",
		URL:  "https://example.com/charts",
	}

	err := manager.Add(repo)
	require.NoError(t, err)
	assert.Equal(t, []string{"test-repo"}, manager.Names())
	assert.True(t, manager.Has("test-repo"))
}

func TestGetRepoByName(t *testing.T) {
	t.Parallel()

	manager := helmrepo.NewManager()

	err := manager.Add(&helmrepo.Repo{
		Name: "test-repo",
		URL:  "https://example.com/charts",
	})
	require.NoError(t, err)

	retrievedRepo, err := manager.Get("@test-repo")
	require.NoError(t, err)
	assert.Equal(t, "test-repo", retrievedRepo.Name)
}

func TestGetRepoByURL(t *testing.T) {
	t.Parallel()

	manager := helmrepo.NewManager()

	err := manager.Add(&helmrepo.Repo{
		Name:     "test-repo",
		URL:      "https://example.com/charts",
		Username: "user",
		Password: "pass",
	})
	require.NoError(t, err)

	retrievedRepo, err := manager.Get("https://example.com/charts")
	require.NoError(t, err)
	assert.Equal(t, "test-repo", retrievedRepo.Name)
	assert.Equal(t, "user", retrievedRepo.Username)

	unknown, err := manager.Get("https://example.com/other")
	require.NoError(t, err)
	assert.Equal(t, "https://example.com/other", unknown.Name)
	assert.Empty(t, unknown.Username, "URL should not match named repo")
}

func TestGetNonExistentRepo(t *testing.T) {
	t.Parallel()

	manager := helmrepo.NewManager()

	_, err := manager.Get("@non-existent-repo")
	require.ErrorIs(t, err, helmrepo.ErrRepoNotFound)
	require.ErrorAs(t, err, &helmrepo.RepoNotFoundError{})
	require.ErrorContains(t, err, "\"non-existent-repo\"")
}

func TestInvalidRepo(t *testing.T) {
	t.Parallel()

	tcs := map[string]struct {
		repo *helmrepo.Repo
		err  error
	}{
		"empty name": {
			repo: &helmrepo.Repo{URL: "https://example.com/charts"},
			err:  helmrepo.ErrRepoNameEmpty,
		},
		"empty URL": {
			repo: &helmrepo.Repo{Name: "empty-url"},
			err:  helmrepo.ErrRepoURLEmpty,
		},
		"no scheme": {
			repo: &helmrepo.Repo{Name: "no-scheme", URL: "example.com/charts"},
			err:  helmrepo.ErrInvalidRepoURL,
		},
		"unparsable": {
			repo: &helmrepo.Repo{Name: "bad", URL: "''://example.com/charts"},
			err:  helmrepo.ErrInvalidRepoURL,
		},
		"bad method": {
			repo: &helmrepo.Repo{
				Name:   "bad-method",
				URL:    "https://example.com/charts",
				Deploy: &helmrepo.DeploySpec{Method: "PATCH"},
			},
			err: helmrepo.ErrInvalidMethod,
		},
	}

	for name, tc := range tcs {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			err := helmrepo.NewManager().Add(tc.repo)
			require.ErrorIs(t, err, tc.err)
		})
	}
}

func TestMultipleReposWithSameName(t *testing.T) {
	t.Parallel()

	manager := helmrepo.NewManager()

	err := manager.Add(&helmrepo.Repo{
		Name: "repo",
		URL:  "https://example.com/1/charts",
	})
	require.NoError(t, err)

	err = manager.Add(&helmrepo.Repo{
		Name: "repo",
		URL:  "https://example.com/2/charts",
	})
	require.ErrorIs(t, err, helmrepo.ErrDuplicateRepo)
	require.ErrorAs(t, err, &helmrepo.DuplicateRepoError{})
	require.ErrorContains(t, err, "\"repo\"")
}

func TestRepoDeploy(t *testing.T) {
	t.Parallel()

	tcs := map[string]struct {
		repo       helmrepo.Repo
		wantURL    string
		wantMethod string
	}{
		"no deploy spec": {
			repo:       helmrepo.Repo{Name: "a", URL: "https://charts.example.com"},
			wantURL:    "",
			wantMethod: helmrepo.MethodPost,
		},
		"to fetch url": {
			repo: helmrepo.Repo{
				Name:   "a",
				URL:    "https://charts.example.com",
				Deploy: &helmrepo.DeploySpec{Method: "put"},
			},
			wantURL:    "https://charts.example.com",
			wantMethod: helmrepo.MethodPut,
		},
		"explicit url": {
			repo: helmrepo.Repo{
				Name:   "a",
				URL:    "https://charts.example.com",
				Deploy: &helmrepo.DeploySpec{URL: "https://upload.example.com/api/charts"},
			},
			wantURL:    "https://upload.example.com/api/charts",
			wantMethod: helmrepo.MethodPost,
		},
	}

	for name, tc := range tcs {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			assert.Equal(t, tc.wantURL, tc.repo.UploadURL())
			assert.Equal(t, tc.wantMethod, tc.repo.UploadMethod())
		})
	}
}

func TestRepoCredentials(t *testing.T) {
	t.Parallel()

	r := helmrepo.Repo{Name: "a", URL: "https://x"}
	assert.False(t, r.IsAuthenticated())
	assert.False(t, r.HasAPIKey())

	r.Password = "p"
	r.APIKey = "k"
	assert.True(t, r.IsAuthenticated())
	assert.True(t, r.HasAPIKey())

	m := helmrepo.NewManager()
	require.NoError(t, m.Add(&r))
	assert.ElementsMatch(t, []string{"p", "k"}, m.Secrets())
}
