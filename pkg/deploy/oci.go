package deploy

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"sync"

	"helm.sh/helm/v3/pkg/action"
	"helm.sh/helm/v3/pkg/cli"
	"helm.sh/helm/v3/pkg/registry"

	"github.com/macropower/helmbuild/pkg/helmrepo"
)

// OCIUploader pushes chart archives to an OCI registry.
type OCIUploader struct {
	client   *registry.Client
	target   *helmrepo.Repo
	loginErr error
	remote   string
	host     string
	login    sync.Once
	plain    bool
}

func NewOCIUploader(target *helmrepo.Repo, opts ...UploaderOpt) (*OCIUploader, error) {
	o := newUploaderOptions(opts...)

	remote := strings.TrimSuffix(target.UploadURL(), "/")

	u, err := url.Parse(remote)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", helmrepo.ErrInvalidRepoURL, err)
	}

	clientOpts := []registry.ClientOption{registry.ClientOptEnableCache(true)}
	if o.plainHTTP {
		clientOpts = append(clientOpts, registry.ClientOptPlainHTTP())
	}

	if o.registryConfig != "" {
		clientOpts = append(clientOpts, registry.ClientOptCredentialsFile(o.registryConfig))
	}

	rc, err := registry.NewClient(clientOpts...)
	if err != nil {
		return nil, fmt.Errorf("create registry client: %w", err)
	}

	return &OCIUploader{
		client: rc,
		target: target,
		remote: remote,
		host:   u.Host,
		plain:  o.plainHTTP,
	}, nil
}

// Upload logs in once when the target has credentials, then pushes the
// archive below the remote.
func (u *OCIUploader) Upload(ctx context.Context, archive string) error {
	u.login.Do(func() {
		if !u.target.IsAuthenticated() {
			return
		}

		slog.DebugContext(ctx, "logging in to registry", slog.String("host", u.host))

		err := u.client.Login(u.host,
			registry.LoginOptBasicAuth(u.target.Username, u.target.Password),
			registry.LoginOptInsecure(u.plain),
		)
		if err != nil {
			u.loginErr = fmt.Errorf("registry login %s: %w", u.host, err)
		}
	})

	if u.loginErr != nil {
		return u.loginErr
	}

	push := action.NewPushWithOpts(
		action.WithPushConfig(&action.Configuration{RegistryClient: u.client}),
		action.WithPlainHTTP(u.plain),
	)
	push.Settings = cli.New()

	out, err := push.Run(archive, u.remote)
	if err != nil {
		return fmt.Errorf("push to %s: %w", u.remote, err)
	}

	slog.InfoContext(ctx, "pushed chart",
		slog.String("remote", u.remote),
		slog.String("output", strings.TrimSpace(out)),
	)

	return nil
}
