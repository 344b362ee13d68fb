package deploy_test

import (
	"context"
	"io"
	nethttp "net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/macropower/helmbuild/pkg/deploy"
	"github.com/macropower/helmbuild/pkg/helmrepo"
	"github.com/macropower/helmbuild/pkg/http"
	"github.com/macropower/helmbuild/pkg/retry"
)

var fastRetry = retry.Policy{
	MaxAttempts:     3,
	InitialInterval: time.Millisecond,
	MaxInterval:     5 * time.Millisecond,
}

type upload struct {
	method   string
	filename string
	content  string
	user     string
	password string
	apiKey   string
}

type chartRepo struct {
	srv      *httptest.Server
	uploads  []upload
	statuses []int
	mu       sync.Mutex
}

func newChartRepo(t *testing.T, statuses ...int) *chartRepo {
	t.Helper()

	r := &chartRepo{statuses: statuses}
	r.srv = httptest.NewServer(nethttp.HandlerFunc(r.handle))
	t.Cleanup(r.srv.Close)

	return r
}

func (r *chartRepo) handle(w nethttp.ResponseWriter, req *nethttp.Request) {
	r.mu.Lock()
	defer r.mu.Unlock()

	status := nethttp.StatusCreated
	if len(r.statuses) > 0 {
		status = r.statuses[0]
		r.statuses = r.statuses[1:]
	}

	f, fh, err := req.FormFile(deploy.FormField)
	if err != nil {
		nethttp.Error(w, err.Error(), nethttp.StatusBadRequest)

		return
	}

	content, _ := io.ReadAll(f)
	user, password, _ := req.BasicAuth()

	r.uploads = append(r.uploads, upload{
		method:   req.Method,
		filename: fh.Filename,
		content:  string(content),
		user:     user,
		password: password,
		apiKey:   req.Header.Get(deploy.APIKeyHeader),
	})

	w.WriteHeader(status)
	_, _ = w.Write([]byte(`{"saved":true}`))
}

func (r *chartRepo) received() []upload {
	r.mu.Lock()
	defer r.mu.Unlock()

	return append([]upload(nil), r.uploads...)
}

func writeArchives(t *testing.T, names ...string) string {
	t.Helper()

	dir := t.TempDir()
	for _, n := range names {
		require.NoError(t, os.WriteFile(filepath.Join(dir, n), []byte("archive "+n), 0o600))
	}

	require.NoError(t, os.MkdirAll(filepath.Join(dir, "demo"), 0o750))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "demo", "nested.tgz"), []byte("nested"), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "index.yaml"), []byte("apiVersion: v1"), 0o600))

	return dir
}

func TestDeployHTTP(t *testing.T) {
	t.Parallel()

	tcs := map[string]struct {
		target func(url string) *helmrepo.Repo
		want   upload
	}{
		"post with basic auth": {
			target: func(url string) *helmrepo.Repo {
				return &helmrepo.Repo{
					Name:     "museum",
					URL:      url,
					Username: "user",
					Password: "secret",
					Deploy:   &helmrepo.DeploySpec{URL: url + "/api/charts"},
				}
			},
			want: upload{method: nethttp.MethodPost, user: "user", password: "secret"},
		},
		"put with api key": {
			target: func(url string) *helmrepo.Repo {
				return &helmrepo.Repo{
					Name:   "artifactory",
					URL:    url,
					APIKey: "key",
					Deploy: &helmrepo.DeploySpec{Method: "put"},
				}
			},
			want: upload{method: nethttp.MethodPut, apiKey: "key"},
		},
	}

	for name, tc := range tcs {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			repo := newChartRepo(t)
			dir := writeArchives(t, "b-0.2.0.tgz", "a-0.1.0.tgz")

			d, err := deploy.New(t.Context(), tc.target(repo.srv.URL), dir,
				deploy.WithWorkers(1),
				deploy.WithUploaderOpts(deploy.WithRetryPolicy(fastRetry)),
			)
			require.NoError(t, err)

			res, err := d.Deploy(t.Context())
			require.NoError(t, err)
			assert.False(t, res.DryRun)
			assert.Equal(t, []string{filepath.Join(dir, "a-0.1.0.tgz"), filepath.Join(dir, "b-0.2.0.tgz")}, res.Archives)

			got := repo.received()
			require.Len(t, got, 2)

			for i, n := range []string{"a-0.1.0.tgz", "b-0.2.0.tgz"} {
				want := tc.want
				want.filename = n
				want.content = "archive " + n
				assert.Equal(t, want, got[i])
			}
		})
	}
}

func TestDeployHTTPErrors(t *testing.T) {
	t.Parallel()

	tcs := map[string]struct {
		statuses  []int
		wantErr   bool
		wantCalls int
		status    int
	}{
		"retry recovers": {
			statuses:  []int{nethttp.StatusServiceUnavailable, nethttp.StatusTooManyRequests},
			wantCalls: 3,
		},
		"retries exhausted": {
			statuses:  []int{nethttp.StatusBadGateway, nethttp.StatusBadGateway, nethttp.StatusBadGateway},
			wantErr:   true,
			wantCalls: 3,
			status:    nethttp.StatusBadGateway,
		},
		"client error is not retried": {
			statuses:  []int{nethttp.StatusConflict},
			wantErr:   true,
			wantCalls: 1,
			status:    nethttp.StatusConflict,
		},
	}

	for name, tc := range tcs {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			repo := newChartRepo(t, tc.statuses...)
			dir := writeArchives(t, "a-0.1.0.tgz")
			target := &helmrepo.Repo{Name: "r", URL: repo.srv.URL, Deploy: &helmrepo.DeploySpec{}}

			d, err := deploy.New(t.Context(), target, dir,
				deploy.WithUploaderOpts(
					deploy.WithRetryPolicy(fastRetry),
					deploy.WithHTTPClient(http.NewClient(10*time.Second)),
				),
			)
			require.NoError(t, err)

			_, err = d.Deploy(t.Context())
			assert.Len(t, repo.received(), tc.wantCalls)

			if !tc.wantErr {
				require.NoError(t, err)

				return
			}

			var uerr *deploy.UploadError

			require.ErrorAs(t, err, &uerr)
			assert.Equal(t, tc.status, uerr.StatusCode)
			assert.Equal(t, "a-0.1.0.tgz", uerr.Archive)
			assert.JSONEq(t, `{"saved":true}`, uerr.Body)
		})
	}
}

func TestDeployDryRun(t *testing.T) {
	t.Parallel()

	repo := newChartRepo(t)
	dir := writeArchives(t, "a-0.1.0.tgz")
	target := &helmrepo.Repo{Name: "r", URL: repo.srv.URL, Deploy: &helmrepo.DeploySpec{}}

	d, err := deploy.New(t.Context(), target, dir, deploy.WithDryRun(true))
	require.NoError(t, err)

	res, err := d.Deploy(t.Context())
	require.NoError(t, err)
	assert.True(t, res.DryRun)
	assert.Equal(t, []string{filepath.Join(dir, "a-0.1.0.tgz")}, res.Archives)
	assert.Empty(t, repo.received())
}

func TestDeployNoArchives(t *testing.T) {
	t.Parallel()

	repo := newChartRepo(t)
	target := &helmrepo.Repo{Name: "r", URL: repo.srv.URL, Deploy: &helmrepo.DeploySpec{}}

	d, err := deploy.New(t.Context(), target, filepath.Join(t.TempDir(), "missing"))
	require.NoError(t, err)

	res, err := d.Deploy(t.Context())
	require.NoError(t, err)
	assert.Empty(t, res.Archives)
	assert.Empty(t, repo.received())
}

func TestNewErrors(t *testing.T) {
	t.Parallel()

	tcs := map[string]struct {
		target *helmrepo.Repo
		err    error
	}{
		"no target": {
			err: deploy.ErrMissingTarget,
		},
		"no deploy spec": {
			target: &helmrepo.Repo{Name: "r", URL: "https://charts.example.com"},
			err:    deploy.ErrMissingTarget,
		},
		"unsupported scheme": {
			target: &helmrepo.Repo{Name: "r", URL: "ftp://charts.example.com", Deploy: &helmrepo.DeploySpec{}},
			err:    deploy.ErrUnsupportedScheme,
		},
		"s3 without bucket": {
			target: &helmrepo.Repo{Name: "r", URL: "https://charts.example.com", Deploy: &helmrepo.DeploySpec{URL: "s3:///charts"}},
			err:    helmrepo.ErrInvalidRepoURL,
		},
	}

	for name, tc := range tcs {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			_, err := deploy.New(t.Context(), tc.target, t.TempDir())
			require.ErrorIs(t, err, tc.err)
			assert.Equal(t, "missing target upload info", deploy.ErrMissingTarget.Error())
		})
	}
}

type fakeS3 struct {
	objects map[string]string
	mu      sync.Mutex
}

func (f *fakeS3) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	b, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	f.objects[*in.Bucket+"/"+*in.Key] = string(b)

	return &s3.PutObjectOutput{}, nil
}

func TestDeployS3(t *testing.T) {
	t.Parallel()

	fake := &fakeS3{objects: map[string]string{}}
	dir := writeArchives(t, "a-0.1.0.tgz", "b-0.2.0.tgz")
	target := &helmrepo.Repo{
		Name:   "bucket",
		URL:    "https://charts.example.com",
		Deploy: &helmrepo.DeploySpec{URL: "s3://charts/stable/", Region: "eu-central-1"},
	}

	d, err := deploy.New(t.Context(), target, dir, deploy.WithUploaderOpts(deploy.WithS3Client(fake)))
	require.NoError(t, err)

	_, err = d.Deploy(t.Context())
	require.NoError(t, err)

	assert.Equal(t, map[string]string{
		"charts/stable/a-0.1.0.tgz": "archive a-0.1.0.tgz",
		"charts/stable/b-0.2.0.tgz": "archive b-0.2.0.tgz",
	}, fake.objects)
}

func TestNewUploader(t *testing.T) {
	t.Parallel()

	registryConfig := filepath.Join(t.TempDir(), "registry", "config.json")

	tcs := map[string]struct {
		want any
		url  string
	}{
		"http":  {url: "http://charts.example.com/api/charts", want: &deploy.HTTPUploader{}},
		"https": {url: "https://charts.example.com/api/charts", want: &deploy.HTTPUploader{}},
		"oci":   {url: "oci://registry.example.com/charts", want: &deploy.OCIUploader{}},
		"s3":    {url: "s3://charts/stable", want: &deploy.S3Uploader{}},
	}

	for name, tc := range tcs {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			target := &helmrepo.Repo{Name: "r", URL: "https://charts.example.com", Deploy: &helmrepo.DeploySpec{URL: tc.url}}

			u, err := deploy.NewUploader(t.Context(), target,
				deploy.WithRegistryConfig(registryConfig),
				deploy.WithS3Client(&fakeS3{}),
			)
			require.NoError(t, err)
			assert.IsType(t, tc.want, u)
		})
	}
}
