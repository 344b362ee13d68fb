package deploy

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/macropower/helmbuild/pkg/helmrepo"
)

const archiveContentType = "application/gzip"

// S3API is the subset of [s3.Client] used for uploads.
type S3API interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// S3Uploader writes chart archives to s3://bucket/prefix.
type S3Uploader struct {
	client S3API
	bucket string
	prefix string
}

// NewS3Uploader creates an [S3Uploader]. Without an injected client, the AWS
// default configuration chain is used; the target's username and password
// are used as a static access key when set, and deploy.endpoint selects an
// S3 compatible service with path-style addressing.
func NewS3Uploader(ctx context.Context, target *helmrepo.Repo, opts ...UploaderOpt) (*S3Uploader, error) {
	o := newUploaderOptions(opts...)

	u, err := url.Parse(target.UploadURL())
	if err != nil {
		return nil, fmt.Errorf("%w: %w", helmrepo.ErrInvalidRepoURL, err)
	}

	if u.Host == "" {
		return nil, fmt.Errorf("%w: missing bucket in %q", helmrepo.ErrInvalidRepoURL, redactURL(target.UploadURL()))
	}

	up := &S3Uploader{
		client: o.s3Client,
		bucket: u.Host,
		prefix: strings.Trim(u.Path, "/"),
	}

	if up.client != nil {
		return up, nil
	}

	client, err := newS3Client(ctx, target)
	if err != nil {
		return nil, err
	}

	up.client = client

	return up, nil
}

func newS3Client(ctx context.Context, target *helmrepo.Repo) (*s3.Client, error) {
	var (
		loadOpts []func(*config.LoadOptions) error
		region   string
		endpoint string
	)

	if target.Deploy != nil {
		region = target.Deploy.Region
		endpoint = target.Deploy.Endpoint
	}

	if region != "" {
		loadOpts = append(loadOpts, config.WithRegion(region))
	}

	if target.IsAuthenticated() {
		loadOpts = append(loadOpts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(target.Username, target.Password, ""),
		))
	}

	awsCfg, err := config.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	var s3Opts []func(*s3.Options)
	if endpoint != "" {
		s3Opts = append(s3Opts, func(o *s3.Options) {
			o.BaseEndpoint = aws.String(endpoint)
			o.UsePathStyle = true
		})
	}

	return s3.NewFromConfig(awsCfg, s3Opts...), nil
}

// Key returns the object key for an archive.
func (u *S3Uploader) Key(archive string) string {
	return path.Join(u.prefix, filepath.Base(archive))
}

func (u *S3Uploader) Upload(ctx context.Context, archive string) error {
	f, err := os.Open(archive)
	if err != nil {
		return fmt.Errorf("open archive: %w", err)
	}
	defer func() { _ = f.Close() }()

	key := u.Key(archive)

	_, err = u.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(u.bucket),
		Key:         aws.String(key),
		Body:        f,
		ContentType: aws.String(archiveContentType),
	})
	if err != nil {
		return fmt.Errorf("put s3://%s/%s: %w", u.bucket, key, err)
	}

	slog.InfoContext(ctx, "uploaded chart",
		slog.String("bucket", u.bucket),
		slog.String("key", key),
	)

	return nil
}
