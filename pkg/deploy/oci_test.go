package deploy_test

import (
	nethttp "net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/macropower/helmbuild/pkg/deploy"
	"github.com/macropower/helmbuild/pkg/helmrepo"
)

// registry rejects every request, asking for basic auth.
type registry struct {
	srv      *httptest.Server
	requests int
	mu       sync.Mutex
}

func newRegistry(t *testing.T) *registry {
	t.Helper()

	r := &registry{}
	r.srv = httptest.NewServer(nethttp.HandlerFunc(func(w nethttp.ResponseWriter, _ *nethttp.Request) {
		r.mu.Lock()
		r.requests++
		r.mu.Unlock()

		w.Header().Set("WWW-Authenticate", `Basic realm="charts"`)
		w.WriteHeader(nethttp.StatusUnauthorized)
	}))
	t.Cleanup(r.srv.Close)

	return r
}

func (r *registry) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.requests
}

func newOCIUploader(t *testing.T, reg *registry, target *helmrepo.Repo) *deploy.OCIUploader {
	t.Helper()

	target.Deploy = &helmrepo.DeploySpec{URL: "oci://" + strings.TrimPrefix(reg.srv.URL, "http://") + "/charts"}

	u, err := deploy.NewOCIUploader(target,
		deploy.WithPlainHTTP(true),
		deploy.WithRegistryConfig(filepath.Join(t.TempDir(), "registry", "config.json")),
	)
	require.NoError(t, err)

	return u
}

func TestOCIUploaderLoginOnce(t *testing.T) {
	t.Parallel()

	reg := newRegistry(t)
	u := newOCIUploader(t, reg, &helmrepo.Repo{Name: "r", URL: "https://charts.example.com", Username: "u", Password: "p"})

	archive := filepath.Join(t.TempDir(), "demo-0.1.0.tgz")
	require.NoError(t, os.WriteFile(archive, []byte("tgz"), 0o600))

	err := u.Upload(t.Context(), archive)
	require.ErrorContains(t, err, "registry login")

	seen := reg.count()

	// A failed login is not retried for later archives.
	err = u.Upload(t.Context(), archive)
	require.ErrorContains(t, err, "registry login")
	assert.Equal(t, seen, reg.count())
}

func TestOCIUploaderWithoutCredentials(t *testing.T) {
	t.Parallel()

	reg := newRegistry(t)
	u := newOCIUploader(t, reg, &helmrepo.Repo{Name: "r", URL: "https://charts.example.com"})

	err := u.Upload(t.Context(), filepath.Join(t.TempDir(), "missing-0.1.0.tgz"))
	require.ErrorContains(t, err, "push to")
	assert.NotContains(t, err.Error(), "registry login")
	assert.Zero(t, reg.count())
}
