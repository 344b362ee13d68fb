package provision

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/macropower/helmbuild/pkg/helmversion"
	"github.com/macropower/helmbuild/pkg/http"
	"github.com/macropower/helmbuild/pkg/retry"
	"github.com/macropower/helmbuild/pkg/syncs"
)

// ArchiveName is the file name of the downloaded release archive inside the
// bin dir.
const ArchiveName = "helm.tar.gz"

var (
	ErrDownloadFailed    = errors.New("download failed")
	ErrExtractFailed     = errors.New("extract failed")
	ErrExecutableMissing = errors.New("helm executable not found in archive")

	// DefaultKeyLock serializes provisioning of the same archive URL within
	// the process.
	DefaultKeyLock = syncs.NewKeyLock()
)

// Result describes the outcome of [Provisioner.Ensure].
type Result struct {
	Executable string
	URL        string
	Downloaded bool
	FromCache  bool
}

// Provisioner makes a Helm executable available in a bin dir.
type Provisioner struct {
	client         *http.Client
	cache          *ArchiveCache
	locks          syncs.KeyLocker
	platform       Platform
	version        helmversion.Version
	binDir         string
	url            string
	retryPolicy    retry.Policy
	maxExtractSize int64
}

type Opt func(*Provisioner)

// WithPlatform overrides the detected platform.
func WithPlatform(p Platform) Opt {
	return func(pr *Provisioner) {
		pr.platform = p
	}
}

// WithDownloadURL sets an explicit archive URL instead of the official one.
func WithDownloadURL(url string) Opt {
	return func(pr *Provisioner) {
		pr.url = url
	}
}

func WithHTTPClient(c *http.Client) Opt {
	return func(pr *Provisioner) {
		pr.client = c
	}
}

func WithRetryPolicy(p retry.Policy) Opt {
	return func(pr *Provisioner) {
		pr.retryPolicy = p
	}
}

// WithMaxExtractSize limits the total uncompressed size of the archive.
// Zero disables the limit.
func WithMaxExtractSize(size int64) Opt {
	return func(pr *Provisioner) {
		pr.maxExtractSize = size
	}
}

// WithCache stores and reuses archives in the given [ArchiveCache].
func WithCache(c *ArchiveCache) Opt {
	return func(pr *Provisioner) {
		pr.cache = c
	}
}

func WithKeyLocker(l syncs.KeyLocker) Opt {
	return func(pr *Provisioner) {
		pr.locks = l
	}
}

// New creates a [Provisioner] for version v that installs into binDir.
func New(binDir string, v helmversion.Version, opts ...Opt) (*Provisioner, error) {
	absBinDir, err := filepath.Abs(binDir)
	if err != nil {
		return nil, fmt.Errorf("resolve bin dir: %w", err)
	}

	p := &Provisioner{
		binDir:         absBinDir,
		version:        v,
		platform:       Detect(),
		client:         http.NewClient(5 * time.Minute),
		retryPolicy:    retry.DefaultPolicy,
		maxExtractSize: 256 << 20,
		locks:          DefaultKeyLock,
	}
	for _, opt := range opts {
		opt(p)
	}

	if p.url == "" {
		p.url = p.platform.DownloadURL(v)
	}

	return p, nil
}

// URL returns the archive URL.
func (p *Provisioner) URL() string {
	return p.url
}

// ArchivePath returns the path of the downloaded archive.
func (p *Provisioner) ArchivePath() string {
	return filepath.Join(p.binDir, ArchiveName)
}

// ExecutablePath returns the path of the Helm executable.
func (p *Provisioner) ExecutablePath() string {
	return filepath.Join(p.binDir, p.platform.ExecutableName())
}

// Ensure makes sure the Helm executable exists in the bin dir, downloading
// and extracting the release archive when the archive is not present yet.
func (p *Provisioner) Ensure(ctx context.Context) (*Result, error) {
	var res *Result

	err := syncs.WithLock(p.locks, p.url, func() error {
		var err error

		res, err = p.ensure(ctx)

		return err
	})
	if err != nil {
		return nil, err
	}

	return res, nil
}

func (p *Provisioner) ensure(ctx context.Context) (*Result, error) {
	logger := slog.With(
		slog.String("url", p.url),
		slog.String("bin_dir", p.binDir),
	)

	res := &Result{
		Executable: p.ExecutablePath(),
		URL:        p.url,
	}

	if fileExists(p.ArchivePath()) {
		if fileExists(res.Executable) {
			logger.InfoContext(ctx, "helm archive already present, skipping download")

			return res, nil
		}

		logger.InfoContext(ctx, "helm archive present but executable missing, extracting again")

		err := p.extract()
		if err != nil {
			return nil, err
		}

		return res, nil
	}

	err := os.RemoveAll(p.binDir)
	if err != nil {
		return nil, fmt.Errorf("clean bin dir: %w", err)
	}

	err = os.MkdirAll(p.binDir, 0o750)
	if err != nil {
		return nil, fmt.Errorf("create bin dir: %w", err)
	}

	if p.cache != nil {
		cached := p.cache.GetPathIfExists(p.url)
		if cached != "" {
			logger.InfoContext(ctx, "using cached helm archive", slog.String("path", cached))

			err = copyFile(cached, p.ArchivePath())
			if err != nil {
				return nil, fmt.Errorf("copy cached archive: %w", err)
			}

			res.FromCache = true
		}
	}

	if !res.FromCache {
		logger.InfoContext(ctx, "downloading helm")

		err = p.download(ctx, p.ArchivePath())
		if err != nil {
			return nil, err
		}

		res.Downloaded = true

		if p.cache != nil {
			err = copyFile(p.ArchivePath(), p.cache.GetPath(p.url))
			if err != nil {
				logger.WarnContext(ctx, "failed to store archive in cache", slog.Any("err", err))
			}
		}
	}

	err = p.extract()
	if err != nil {
		return nil, err
	}

	logger.InfoContext(ctx, "helm ready", slog.String("executable", res.Executable))

	return res, nil
}

func (p *Provisioner) download(ctx context.Context, dst string) error {
	err := retry.Do(ctx, p.retryPolicy, func() error {
		tmp := filepath.Join(filepath.Dir(dst), "."+uuid.NewString()+".part")

		f, err := os.Create(tmp)
		if err != nil {
			return retry.Permanent(fmt.Errorf("create temp file: %w", err))
		}

		_, err = p.client.Download(ctx, p.url, f)

		closeErr := f.Close()
		if err == nil && closeErr != nil {
			err = fmt.Errorf("%w: %w", ErrFailedFileClose, closeErr)
		}

		if err != nil {
			_ = os.Remove(tmp)

			if !http.IsRetryable(err) {
				return retry.Permanent(err)
			}

			return err
		}

		err = os.Rename(tmp, dst)
		if err != nil {
			return retry.Permanent(fmt.Errorf("move archive into place: %w", err))
		}

		return nil
	})
	if err != nil {
		return fmt.Errorf("%w: %s: %w", ErrDownloadFailed, p.url, err)
	}

	return nil
}

func (p *Provisioner) extract() error {
	f, err := os.Open(p.ArchivePath())
	if err != nil {
		return fmt.Errorf("%w: %w", ErrExtractFailed, err)
	}
	defer tryClose(f)

	files, err := extractFlat(p.binDir, f, p.maxExtractSize, ArchiveName)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrExtractFailed, err)
	}

	slog.Debug("extracted helm archive", slog.Any("files", files))

	if !fileExists(p.ExecutablePath()) {
		return fmt.Errorf("%w: %s", ErrExecutableMissing, p.platform.ExecutableName())
	}

	return nil
}

// copyFile copies src to dst through a temp file in dst's directory, so dst
// is either complete or absent.
func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrFailedFileRead, err)
	}
	defer tryClose(in)

	tmp := filepath.Join(filepath.Dir(dst), "."+uuid.NewString()+".part")

	out, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrFailedFileWrite, err)
	}

	_, err = io.Copy(out, in)
	closeErr := out.Close()

	if err == nil {
		err = closeErr
	}

	if err != nil {
		_ = os.Remove(tmp)

		return fmt.Errorf("%w: %w", ErrFailedFileWrite, err)
	}

	err = os.Rename(tmp, dst)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrFailedFileWrite, err)
	}

	return nil
}

func fileExists(path string) bool {
	fi, err := os.Stat(path)
	if err != nil || fi.IsDir() {
		return false
	}

	return true
}

func tryClose(c io.Closer) {
	err := c.Close()
	if err != nil {
		slog.Warn("failed to close",
			slog.Any("closer", c),
			slog.Any("err", err),
		)
	}
}
