package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/macropower/helmbuild/pkg/chartbuild"
	"github.com/macropower/helmbuild/pkg/charttest"
	"github.com/macropower/helmbuild/pkg/config"
	"github.com/macropower/helmbuild/pkg/deploy"
	"github.com/macropower/helmbuild/pkg/helmexec"
	"github.com/macropower/helmbuild/pkg/helmrepo"
	"github.com/macropower/helmbuild/pkg/helmversion"
	"github.com/macropower/helmbuild/pkg/provision"
	"github.com/macropower/helmbuild/pkg/tracing"
)

var (
	ErrStageFailed = errors.New("stage failed")
	ErrInitFailed  = errors.New("helm init failed")
)

// Results holds the outcome of every stage that ran.
type Results struct {
	Download *provision.Result
	RepoSync *helmrepo.SyncResult
	Build    *chartbuild.Result
	Test     *charttest.Report
	Deploy   *deploy.Result
}

// Pipeline runs lifecycle stages for a single project.
type Pipeline struct {
	tracer      tracing.Tracer
	cfg         *config.Config
	prov        *provision.Provisioner
	repos       *helmrepo.Manager
	helm        *helmexec.Runner
	skip        map[Stage]bool
	results     Results
	subs        []func(any)
	uploadOpts  []deploy.UploaderOpt
	version     helmversion.Version
	testWorkers int
	mu          sync.Mutex
	force       bool
	dryRun      bool
}

type Opt func(*Pipeline)

// WithSkip skips the given stages. Later stages still run.
func WithSkip(stages ...Stage) Opt {
	return func(p *Pipeline) {
		for _, s := range stages {
			p.skip[s] = true
		}
	}
}

// WithForce syncs repositories even when they are up to date.
func WithForce(force bool) Opt {
	return func(p *Pipeline) {
		p.force = force
	}
}

// WithDryRun lists charts in the deploy stage instead of uploading them.
func WithDryRun(dryRun bool) Opt {
	return func(p *Pipeline) {
		p.dryRun = dryRun
	}
}

func WithTracer(t tracing.Tracer) Opt {
	return func(p *Pipeline) {
		p.tracer = t
	}
}

// WithTestWorkers sets how many charts are tested concurrently.
func WithTestWorkers(n int) Opt {
	return func(p *Pipeline) {
		p.testWorkers = n
	}
}

// WithUploaderOpts configures the uploader used by the deploy stage.
func WithUploaderOpts(opts ...deploy.UploaderOpt) Opt {
	return func(p *Pipeline) {
		p.uploadOpts = append(p.uploadOpts, opts...)
	}
}

// New creates a [Pipeline] for a resolved and validated config.
func New(cfg *config.Config, opts ...Opt) (*Pipeline, error) {
	v, err := cfg.HelmVersion()
	if err != nil {
		return nil, err
	}

	repos, err := cfg.RepoManager()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", config.ErrInvalidConfig, err)
	}

	p := &Pipeline{
		cfg:     cfg,
		version: v,
		repos:   repos,
		tracer:  tracing.LoggingTracer{},
		skip:    map[Stage]bool{},
	}
	for _, opt := range opts {
		opt(p)
	}

	provOpts := []provision.Opt{
		provision.WithPlatform(cfg.Platform()),
		provision.WithRetryPolicy(cfg.RetryPolicy()),
		provision.WithMaxExtractSize(cfg.MaxExtractSizeBytes()),
	}
	if cfg.DownloadURL != "" {
		provOpts = append(provOpts, provision.WithDownloadURL(cfg.DownloadURL))
	}

	if cfg.CacheDir != "" {
		cache, err := provision.NewArchiveCache(cfg.CacheDir, provision.NewBase64PathEncoder())
		if err != nil {
			return nil, err
		}

		provOpts = append(provOpts, provision.WithCache(cache))
	}

	p.prov, err = provision.New(cfg.BinDir, v, provOpts...)
	if err != nil {
		return nil, err
	}

	return p, nil
}

// Subscribe registers f for pipeline events.
func (p *Pipeline) Subscribe(f func(any)) {
	p.subs = append(p.subs, f)
}

func (p *Pipeline) broadcastEvent(evt any) {
	for _, sub := range p.subs {
		sub(evt)
	}
}

// Results returns the outcome of the stages that ran.
func (p *Pipeline) Results() Results {
	p.mu.Lock()
	defer p.mu.Unlock()

	return p.results
}

// Run runs every stage up to and including target. The first failing stage
// stops the run.
func (p *Pipeline) Run(ctx context.Context, target Stage) error {
	stages, err := Through(target)
	if err != nil {
		p.broadcastEvent(EventDone{Err: err})

		return err
	}

	p.broadcastEvent(EventSetStageTotal(len(stages)))

	for _, s := range stages {
		if err := p.runStage(ctx, s); err != nil {
			err = fmt.Errorf("%w: %s: %w", ErrStageFailed, s, err)
			p.broadcastEvent(EventDone{Err: err})

			return err
		}
	}

	p.broadcastEvent(EventDone{})

	return nil
}

func (p *Pipeline) runStage(ctx context.Context, s Stage) error {
	if reason := p.skipReason(s); reason != "" {
		slog.InfoContext(ctx, "skipping stage",
			slog.String("stage", string(s)),
			slog.String("reason", reason),
		)
		p.broadcastEvent(EventStageFinished{Stage: s, Skipped: true})

		return nil
	}

	p.broadcastEvent(EventStageStarted(s))

	span := p.tracer.StartSpan("stage")
	span.SetBaggageItem("stage", string(s))

	var err error

	switch s {
	case StageDownload:
		err = p.Download(ctx)
	case StageInit:
		err = p.Init(ctx)
	case StageRepoSync:
		err = p.RepoSync(ctx)
	case StageBuild:
		err = p.Build(ctx)
	case StageTest:
		err = p.Test(ctx)
	case StageDeploy:
		err = p.Deploy(ctx)
	default:
		err = fmt.Errorf("%w: %q", ErrUnknownStage, s)
	}

	span.Finish()
	p.broadcastEvent(EventStageFinished{Stage: s, Err: err})

	return err
}

// skipReason returns why s does not run, or an empty string when it does.
func (p *Pipeline) skipReason(s Stage) string {
	if p.skip[s] {
		return "requested"
	}

	if s == StageDeploy && p.cfg.DeployTo == "" {
		return config.ErrNoDeployTo.Error()
	}

	return ""
}

// Helm returns the runner for the provisioned Helm executable.
func (p *Pipeline) Helm() *helmexec.Runner {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.helm == nil {
		p.helm = helmexec.NewRunner(p.prov.ExecutablePath(), p.cfg.HomeDir, p.version,
			helmexec.WithTimeout(p.cfg.Timeout.Duration),
			helmexec.WithSecrets(p.repos.Secrets()...),
		)
	}

	return p.helm
}

// Syncer returns the repository syncer for the project.
func (p *Pipeline) Syncer() *helmrepo.Syncer {
	return helmrepo.NewSyncer(p.Helm(), p.repos, p.cfg.RepoCopy, helmrepo.WithForce(p.force))
}

// Download provisions the Helm executable.
func (p *Pipeline) Download(ctx context.Context) error {
	res, err := p.prov.Ensure(ctx)
	if err != nil {
		return err
	}

	p.mu.Lock()
	p.results.Download = res
	p.mu.Unlock()

	return nil
}

// Init prepares the Helm home. Helm 2 clients run `helm init
// --client-only`; Helm 3 has nothing to initialize.
func (p *Pipeline) Init(ctx context.Context) error {
	if err := os.MkdirAll(p.cfg.HomeDir, 0o755); err != nil {
		return fmt.Errorf("%w: create home: %w", ErrInitFailed, err)
	}

	if p.version.IsV3() {
		slog.InfoContext(ctx, "helm 3 needs no init, skipping", slog.String("version", p.version.String()))

		return nil
	}

	if _, err := p.Helm().RunSuccess(ctx, "init", "--client-only"); err != nil {
		return fmt.Errorf("%w: %w", ErrInitFailed, err)
	}

	return nil
}

// RepoSync reconciles the repositories known to Helm with the config.
func (p *Pipeline) RepoSync(ctx context.Context) error {
	res, err := p.Syncer().Sync(ctx)
	if err != nil {
		return err
	}

	p.mu.Lock()
	p.results.RepoSync = res
	p.mu.Unlock()

	return nil
}

// Build expands and packages the chart source.
func (p *Pipeline) Build(ctx context.Context) error {
	b := chartbuild.NewBuilder(p.packager(), p.cfg.Source, p.cfg.OutputDir,
		chartbuild.WithExpansions(p.cfg.Expansions),
	)

	res, err := b.Build(ctx)
	if err != nil {
		return err
	}

	p.mu.Lock()
	p.results.Build = res
	p.mu.Unlock()

	return nil
}

// Test runs the chart tests against the built charts.
func (p *Pipeline) Test(ctx context.Context) error {
	opts := []charttest.RunnerOpt{
		charttest.WithChartName(p.cfg.ChartName),
		charttest.WithTestPattern(p.cfg.TestPattern),
		charttest.WithIgnoreFailures(p.cfg.IgnoreFailures),
	}
	if p.testWorkers > 0 {
		opts = append(opts, charttest.WithWorkers(p.testWorkers))
	}

	r, err := charttest.NewRunner(p.engine(), p.cfg.Tests, p.cfg.OutputDir, p.cfg.TestOutputDir, opts...)
	if err != nil {
		return err
	}

	report, err := r.Run(ctx)

	p.mu.Lock()
	p.results.Test = report
	p.mu.Unlock()

	return err
}

// Deploy uploads the packaged charts to the deploy target. A target without
// an upload spec fails with [deploy.ErrMissingTarget].
func (p *Pipeline) Deploy(ctx context.Context) error {
	target, err := p.cfg.DeployTarget()
	if err != nil {
		return err
	}

	uploadOpts := append([]deploy.UploaderOpt{
		deploy.WithRetryPolicy(p.cfg.RetryPolicy()),
		deploy.WithRegistryConfig(p.registryConfig()),
	}, p.uploadOpts...)

	d, err := deploy.New(ctx, target, p.cfg.OutputDir,
		deploy.WithDryRun(p.dryRun),
		deploy.WithUploaderOpts(uploadOpts...),
	)
	if err != nil {
		return err
	}

	res, err := d.Deploy(ctx)
	if err != nil {
		return err
	}

	p.mu.Lock()
	p.results.Deploy = res
	p.mu.Unlock()

	return nil
}

//nolint:ireturn
func (p *Pipeline) packager() chartbuild.Packager {
	if p.cfg.Engine == config.EngineSDK {
		return chartbuild.NewSDKPackager(
			helmrepo.RepositoriesFilePath(p.cfg.HomeDir, p.version),
			filepath.Join(p.cfg.HomeDir, "cache", "helm", "repository"),
		)
	}

	return chartbuild.NewHelmPackager(p.Helm())
}

//nolint:ireturn
func (p *Pipeline) engine() charttest.Engine {
	if p.cfg.Engine == config.EngineSDK {
		return charttest.NewSDKEngine()
	}

	return charttest.NewBinaryEngine(p.Helm())
}

func (p *Pipeline) registryConfig() string {
	return filepath.Join(p.cfg.HomeDir, "config", "helm", "registry", "config.json")
}
