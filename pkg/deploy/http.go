package deploy

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	nethttp "net/http"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/macropower/helmbuild/pkg/helmrepo"
	"github.com/macropower/helmbuild/pkg/http"
	"github.com/macropower/helmbuild/pkg/retry"
)

const (
	// FormField is the multipart field holding the chart archive.
	FormField = "chart"
	// APIKeyHeader carries an Artifactory API key.
	APIKeyHeader = "X-JFrog-Art-Api"

	maxLoggedBody = 4096
	redacted      = "REDACTED"
)

// UploadError is returned when the repository rejects an upload.
type UploadError struct {
	err        error
	Archive    string
	Body       string
	StatusCode int
}

func (e *UploadError) Error() string {
	msg := fmt.Sprintf("upload %s: status %d", e.Archive, e.StatusCode)
	if e.Body != "" {
		msg += ": " + e.Body
	}

	return msg
}

func (e *UploadError) Unwrap() error {
	return e.err
}

type uploaderOptions struct {
	client         *http.Client
	s3Client       S3API
	registryConfig string
	policy         retry.Policy
	plainHTTP      bool
}

type UploaderOpt func(*uploaderOptions)

// WithHTTPClient sets the client for http and https uploads.
func WithHTTPClient(c *http.Client) UploaderOpt {
	return func(o *uploaderOptions) {
		o.client = c
	}
}

// WithRetryPolicy sets the retry policy for http and https uploads.
func WithRetryPolicy(p retry.Policy) UploaderOpt {
	return func(o *uploaderOptions) {
		o.policy = p
	}
}

// WithS3Client sets the client for s3 uploads.
func WithS3Client(c S3API) UploaderOpt {
	return func(o *uploaderOptions) {
		o.s3Client = c
	}
}

// WithRegistryConfig sets the credentials file used by the OCI registry
// client.
func WithRegistryConfig(path string) UploaderOpt {
	return func(o *uploaderOptions) {
		o.registryConfig = path
	}
}

// WithPlainHTTP talks to OCI registries without TLS.
func WithPlainHTTP(plain bool) UploaderOpt {
	return func(o *uploaderOptions) {
		o.plainHTTP = plain
	}
}

func newUploaderOptions(opts ...UploaderOpt) *uploaderOptions {
	o := &uploaderOptions{
		client: http.NewClient(5 * time.Minute),
		policy: retry.DefaultPolicy,
	}
	for _, opt := range opts {
		opt(o)
	}

	return o
}

// HTTPUploader posts chart archives as multipart/form-data.
type HTTPUploader struct {
	client *http.Client
	target *helmrepo.Repo
	policy retry.Policy
}

func NewHTTPUploader(target *helmrepo.Repo, opts ...UploaderOpt) *HTTPUploader {
	o := newUploaderOptions(opts...)

	return &HTTPUploader{
		client: o.client,
		target: target,
		policy: o.policy,
	}
}

// Upload sends the archive, retrying server errors, rate limiting and
// transport failures.
func (u *HTTPUploader) Upload(ctx context.Context, archive string) error {
	content, err := os.ReadFile(archive)
	if err != nil {
		return fmt.Errorf("read archive: %w", err)
	}

	return retry.Do(ctx, u.policy, func() error {
		err := u.upload(ctx, filepath.Base(archive), content)
		if err != nil && !http.IsRetryable(err) {
			return retry.Permanent(err)
		}

		return err
	})
}

func (u *HTTPUploader) upload(ctx context.Context, name string, content []byte) error {
	body, contentType, err := multipartBody(name, content)
	if err != nil {
		return err
	}

	req, err := nethttp.NewRequestWithContext(ctx, u.target.UploadMethod(), u.target.UploadURL(), bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}

	req.Header.Set("Content-Type", contentType)

	if u.target.IsAuthenticated() {
		req.SetBasicAuth(u.target.Username, u.target.Password)
	}

	if u.target.HasAPIKey() {
		req.Header.Set(APIKeyHeader, u.target.APIKey)
	}

	slog.InfoContext(ctx, "sending upload request",
		slog.String("method", req.Method),
		slog.String("url", req.URL.Redacted()),
		slog.String("headers", formatHeaders(req.Header)),
		slog.Int("payload_bytes", len(body)),
	)

	resp, err := u.client.Do(req)
	if err != nil {
		var se *http.StatusError
		if errors.As(err, &se) {
			slog.ErrorContext(ctx, "upload rejected",
				slog.Int("status", se.StatusCode),
				slog.String("body", se.Body),
			)

			return &UploadError{
				Archive:    name,
				StatusCode: se.StatusCode,
				Body:       se.Body,
				err:        err,
			}
		}

		return err
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxLoggedBody))
	if err != nil {
		return fmt.Errorf("%w: read response: %w", http.ErrRequestFailed, err)
	}

	slog.InfoContext(ctx, "uploaded chart",
		slog.String("archive", name),
		slog.Int("status", resp.StatusCode),
		slog.String("body", string(respBody)),
	)

	return nil
}

// multipartBody encodes the archive as the single file part of a
// multipart/form-data body with a random boundary.
func multipartBody(name string, content []byte) ([]byte, string, error) {
	var buf bytes.Buffer

	mw := multipart.NewWriter(&buf)
	if err := mw.SetBoundary(uuid.NewString()); err != nil {
		return nil, "", fmt.Errorf("set boundary: %w", err)
	}

	part, err := mw.CreateFormFile(FormField, name)
	if err != nil {
		return nil, "", fmt.Errorf("create form file: %w", err)
	}

	if _, err := part.Write(content); err != nil {
		return nil, "", fmt.Errorf("write form file: %w", err)
	}

	if err := mw.Close(); err != nil {
		return nil, "", fmt.Errorf("close multipart writer: %w", err)
	}

	return buf.Bytes(), mw.FormDataContentType(), nil
}

// formatHeaders renders headers for logging with credentials redacted.
func formatHeaders(h nethttp.Header) string {
	keys := make([]string, 0, len(h))
	for k := range h {
		keys = append(keys, k)
	}

	sort.Strings(keys)

	lines := make([]string, 0, len(keys))

	for _, k := range keys {
		v := strings.Join(h.Values(k), ", ")
		if k == "Authorization" || k == nethttp.CanonicalHeaderKey(APIKeyHeader) {
			v = redacted
		}

		lines = append(lines, k+": "+v)
	}

	return strings.Join(lines, "\n")
}
