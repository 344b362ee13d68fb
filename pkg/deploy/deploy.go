package deploy

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"path/filepath"
	"slices"

	"golang.org/x/sync/errgroup"

	"github.com/macropower/helmbuild/pkg/helmrepo"
)

var (
	ErrMissingTarget     = errors.New("missing target upload info")
	ErrUnsupportedScheme = errors.New("unsupported upload url scheme")
	ErrListArchives      = errors.New("list chart archives")
)

const defaultWorkers = 2

// Uploader uploads a single chart archive.
type Uploader interface {
	Upload(ctx context.Context, archive string) error
}

// Result lists the archives a [Deployer] uploaded, or would have uploaded
// in a dry run.
type Result struct {
	Archives []string
	DryRun   bool
}

// Deployer uploads every chart archive in an output directory to a target
// repository.
type Deployer struct {
	uploader   Uploader
	target     *helmrepo.Repo
	outputDir  string
	uploadOpts []UploaderOpt
	workers    int
	dryRun     bool
}

type Opt func(*Deployer)

// WithDryRun lists the archives without uploading them.
func WithDryRun(dryRun bool) Opt {
	return func(d *Deployer) {
		d.dryRun = dryRun
	}
}

// WithUploader replaces the uploader selected from the upload URL.
func WithUploader(u Uploader) Opt {
	return func(d *Deployer) {
		d.uploader = u
	}
}

// WithUploaderOpts configures the uploader selected from the upload URL.
func WithUploaderOpts(opts ...UploaderOpt) Opt {
	return func(d *Deployer) {
		d.uploadOpts = append(d.uploadOpts, opts...)
	}
}

// WithWorkers sets how many archives are uploaded concurrently.
func WithWorkers(n int) Opt {
	return func(d *Deployer) {
		if n > 0 {
			d.workers = n
		}
	}
}

// New creates a [Deployer] for the charts in outputDir. The target must have
// an upload URL.
func New(ctx context.Context, target *helmrepo.Repo, outputDir string, opts ...Opt) (*Deployer, error) {
	if target == nil || target.UploadURL() == "" {
		return nil, ErrMissingTarget
	}

	d := &Deployer{
		target:    target,
		outputDir: outputDir,
		workers:   defaultWorkers,
	}
	for _, opt := range opts {
		opt(d)
	}

	if d.uploader != nil {
		return d, nil
	}

	u, err := NewUploader(ctx, target, d.uploadOpts...)
	if err != nil {
		return nil, err
	}

	d.uploader = u

	return d, nil
}

// NewUploader selects an [Uploader] for the upload URL of target.
func NewUploader(ctx context.Context, target *helmrepo.Repo, opts ...UploaderOpt) (Uploader, error) {
	raw := target.UploadURL()
	if raw == "" {
		return nil, ErrMissingTarget
	}

	u, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", helmrepo.ErrInvalidRepoURL, err)
	}

	switch u.Scheme {
	case "http", "https":
		return NewHTTPUploader(target, opts...), nil
	case "oci":
		return NewOCIUploader(target, opts...)
	case "s3":
		return NewS3Uploader(ctx, target, opts...)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedScheme, u.Scheme)
	}
}

// Archives returns the *.tgz files directly inside the output dir, sorted.
func (d *Deployer) Archives() ([]string, error) {
	archives, err := filepath.Glob(filepath.Join(d.outputDir, "*.tgz"))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrListArchives, err)
	}

	slices.Sort(archives)

	return archives, nil
}

// Deploy uploads every archive. The first failed upload cancels the rest.
func (d *Deployer) Deploy(ctx context.Context) (*Result, error) {
	archives, err := d.Archives()
	if err != nil {
		return nil, err
	}

	res := &Result{Archives: archives, DryRun: d.dryRun}

	if len(archives) == 0 {
		slog.InfoContext(ctx, "no charts to deploy", slog.String("dir", d.outputDir))

		return res, nil
	}

	target := slog.String("target", redactURL(d.target.UploadURL()))

	if d.dryRun {
		for _, a := range archives {
			slog.InfoContext(ctx, "dry run, would upload chart", target, slog.String("archive", filepath.Base(a)))
		}

		return res, nil
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(d.workers)

	for _, a := range archives {
		g.Go(func() error {
			slog.InfoContext(gctx, "uploading chart", target, slog.String("archive", filepath.Base(a)))

			if err := d.uploader.Upload(gctx, a); err != nil {
				return fmt.Errorf("upload %s: %w", filepath.Base(a), err)
			}

			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	return res, nil
}

func redactURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return raw
	}

	return u.Redacted()
}
