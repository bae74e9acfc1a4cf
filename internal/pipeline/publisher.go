package pipeline

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"git.home.luguber.info/inful/docpublisher/internal/config"
	ferrors "git.home.luguber.info/inful/docpublisher/internal/foundation/errors"
	"git.home.luguber.info/inful/docpublisher/internal/generator"
	"git.home.luguber.info/inful/docpublisher/internal/git"
	"git.home.luguber.info/inful/docpublisher/internal/logfields"
	"git.home.luguber.info/inful/docpublisher/internal/metrics"
	"git.home.luguber.info/inful/docpublisher/internal/observability"
	"git.home.luguber.info/inful/docpublisher/internal/site"
	"git.home.luguber.info/inful/docpublisher/internal/workspace"
)

// Git is the subset of the git client the pipeline uses.
type Git interface {
	Checkout(ctx context.Context, req git.CheckoutRequest) (git.CheckoutResult, error)
	PublishTree(ctx context.Context, req git.PublishRequest) (git.PublishResult, error)
}

// Request identifies one run.
type Request struct {
	RunID    string
	Trigger  string
	Branch   string // defaults to source.branch
	Revision string // empty means the branch tip
	DryRun   bool   // run checkout, generate and redirect but do not push
}

// Publisher executes runs against a fixed configuration.
type Publisher struct {
	cfg           *config.Config
	git           Git
	gen           generator.Generator
	workspaces    *workspace.Manager
	exclude       *site.Filter
	recorder      metrics.Recorder
	observer      Observer
	logger        *slog.Logger
	tracer        trace.Tracer
	keepWorkspace bool
	hasToken      bool
}

// Option configures a Publisher.
type Option func(*Publisher)

// WithGit replaces the git client.
func WithGit(g Git) Option { return func(p *Publisher) { p.git = g } }

// WithGenerator replaces the documentation generator.
func WithGenerator(g generator.Generator) Option { return func(p *Publisher) { p.gen = g } }

// WithRecorder sets the metrics recorder.
func WithRecorder(r metrics.Recorder) Option { return func(p *Publisher) { p.recorder = r } }

// WithObserver sets the stage observer.
func WithObserver(o Observer) Option { return func(p *Publisher) { p.observer = o } }

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option { return func(p *Publisher) { p.logger = l } }

// WithWorkspaceManager sets where run workspaces are created.
func WithWorkspaceManager(m *workspace.Manager) Option {
	return func(p *Publisher) { p.workspaces = m }
}

// WithKeepWorkspace leaves workspaces on disk after a run for inspection.
func WithKeepWorkspace(keep bool) Option { return func(p *Publisher) { p.keepWorkspace = keep } }

// NewPublisher creates a publisher for cfg. Unless overridden, it builds a git
// client with the configured source credentials, the publish token and retry policy.
func NewPublisher(cfg *config.Config, opts ...Option) (*Publisher, error) {
	p := &Publisher{
		cfg:        cfg,
		gen:        generator.FromConfig(cfg.Generator, cfg.GeneratorTimeout()),
		workspaces: workspace.NewManager(cfg.Daemon.WorkspaceDir),
		exclude:    site.NewFilter(cfg.Publish.Exclude),
		recorder:   metrics.NoopRecorder{},
		observer:   NoopObserver{},
		logger:     slog.Default(),
		tracer:     observability.Tracer(),
		hasToken:   cfg.PublishToken() != "",
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.git == nil {
		client, err := git.NewClientFromConfig(cfg, p.logger)
		if err != nil {
			return nil, err
		}
		p.git = client
	}
	if cg, ok := p.gen.(*generator.CommandGenerator); ok && cg.Logger == nil {
		cg.Logger = p.logger
	}
	return p, nil
}

// runState is the mutable state shared by the stages of one run.
type runState struct {
	req     Request
	report  *Report
	ws      *workspace.Workspace
	srcDir  string
	siteDir string
}

// Run executes checkout, generate, redirect and publish in order. The report
// is returned even when the run fails.
func (p *Publisher) Run(ctx context.Context, req Request) (*Report, error) {
	if req.Branch == "" {
		req.Branch = p.cfg.Source.Branch
	}
	ctx = observability.WithRunID(ctx, req.RunID)
	if req.Trigger != "" {
		ctx = observability.WithTrigger(ctx, req.Trigger)
	}
	ctx, span := p.tracer.Start(ctx, "docpublisher.run", trace.WithAttributes(
		attribute.String("run.id", req.RunID),
		attribute.String("run.trigger", req.Trigger),
		attribute.String("git.branch", req.Branch),
		attribute.String("git.revision", req.Revision),
		attribute.Bool("run.dry_run", req.DryRun),
	))
	defer span.End()

	rs := &runState{req: req, report: newReport(req)}
	rs.report.ConfigHash = p.cfg.Snapshot()

	ws, err := p.workspaces.Create(req.RunID)
	if err != nil {
		err = ferrors.WrapError(err, ferrors.CategoryFileSystem, "failed to create workspace").Build()
		rs.report.finish(err, false)
		return rs.report, err
	}
	rs.ws = ws
	defer func() {
		if p.keepWorkspace {
			p.logger.InfoContext(ctx, "Keeping workspace", logfields.Path(ws.Path()))
			return
		}
		if cerr := ws.Cleanup(); cerr != nil {
			p.logger.WarnContext(ctx, "Workspace cleanup failed", logfields.Error(cerr))
		}
	}()

	p.logger.InfoContext(ctx, "Run started", logfields.Branch(req.Branch), logfields.Revision(req.Revision))
	err = p.runStages(ctx, rs, p.publishDefs())
	return p.complete(ctx, span, rs, err)
}

// Regenerate rebuilds the site inside an existing source tree (watch mode).
// It never publishes.
func (p *Publisher) Regenerate(ctx context.Context, srcDir string) (*Report, error) {
	req := Request{RunID: "local", Trigger: "watch", Branch: p.cfg.Source.Branch}
	ctx = observability.WithRunID(ctx, req.RunID)
	ctx, span := p.tracer.Start(ctx, "docpublisher.regenerate")
	defer span.End()

	rs := &runState{req: req, report: newReport(req), srcDir: srcDir}
	err := p.runStages(ctx, rs, p.localDefs())
	return p.complete(ctx, span, rs, err)
}

func (p *Publisher) complete(ctx context.Context, span trace.Span, rs *runState, err error) (*Report, error) {
	canceled := err != nil && classify(ctx, err) == StageResultCanceled
	rs.report.finish(err, canceled)
	p.recorder.ObserveRunDuration(rs.report.Duration())
	span.SetAttributes(attribute.String("run.outcome", string(rs.report.Outcome)))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		p.logger.ErrorContext(ctx, "Run failed",
			logfields.Stage(string(rs.report.FailedStage)),
			logfields.Duration(rs.report.Duration()),
			logfields.Error(err))
		return rs.report, err
	}
	p.logger.InfoContext(ctx, "Run completed",
		slog.String("outcome", string(rs.report.Outcome)),
		logfields.Commit(rs.report.Commit),
		logfields.Duration(rs.report.Duration()))
	return rs.report, nil
}

func (p *Publisher) publishDefs() []StageDef {
	return []StageDef{
		{Name: StageCheckout, Fn: p.stageCheckout},
		{Name: StageGenerate, Fn: p.stageGenerate},
		{Name: StageRedirect, Fn: p.stageRedirect},
		{Name: StagePublish, Fn: p.stagePublish},
	}
}

func (p *Publisher) localDefs() []StageDef {
	return []StageDef{
		{Name: StageGenerate, Fn: p.stageGenerate},
		{Name: StageRedirect, Fn: p.stageRedirect},
	}
}

// runStages executes stages in order, recording timing and stopping on the first error.
func (p *Publisher) runStages(ctx context.Context, rs *runState, defs []StageDef) error {
	for _, st := range defs {
		if cerr := ctx.Err(); cerr != nil {
			rs.report.FailedStage = st.Name
			rs.report.StageResults[st.Name] = StageResultCanceled
			p.recorder.IncStageResult(string(st.Name), metrics.ResultCanceled)
			err := ferrors.WrapError(cerr, ferrors.CategoryCanceled, "run canceled").Build()
			p.observer.OnStageComplete(rs.req.RunID, st.Name, 0, StageResultCanceled, err)
			return &StageError{Stage: st.Name, Canceled: true, Err: err}
		}

		stageCtx := observability.WithStage(ctx, string(st.Name))
		stageCtx, span := p.tracer.Start(stageCtx, "stage."+string(st.Name))
		p.observer.OnStageStart(rs.req.RunID, st.Name)
		p.logger.DebugContext(stageCtx, "Stage started")

		t0 := time.Now()
		err := st.Fn(stageCtx, rs)
		dur := time.Since(t0)
		res := classify(ctx, err)

		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()

		rs.report.recordStage(st.Name, dur, res)
		p.recorder.ObserveStageDuration(string(st.Name), dur)
		p.recorder.IncStageResult(string(st.Name), metricResult(res))
		p.observer.OnStageComplete(rs.req.RunID, st.Name, dur, res, err)
		p.logger.InfoContext(stageCtx, "Stage finished", slog.String("result", string(res)), logfields.Duration(dur))

		if err != nil {
			rs.report.FailedStage = st.Name
			return &StageError{Stage: st.Name, Canceled: res == StageResultCanceled, Err: err}
		}
	}
	return nil
}

func metricResult(res StageResult) metrics.ResultLabel {
	switch res {
	case StageResultSuccess:
		return metrics.ResultSuccess
	case StageResultWarning:
		return metrics.ResultWarning
	case StageResultCanceled:
		return metrics.ResultCanceled
	default:
		return metrics.ResultFatal
	}
}

func (p *Publisher) stageCheckout(ctx context.Context, rs *runState) error {
	res, err := p.git.Checkout(ctx, git.CheckoutRequest{
		URL:      p.cfg.Source.URL,
		Branch:   rs.req.Branch,
		Revision: rs.req.Revision,
		Depth:    p.cfg.Source.Depth,
		Dir:      rs.ws.SourceDir(),
	})
	if err != nil {
		return err
	}
	rs.srcDir = res.Path
	rs.report.Commit = res.Commit
	return nil
}

func (p *Publisher) stageGenerate(ctx context.Context, rs *runState) error {
	siteDir, err := p.gen.Generate(ctx, rs.srcDir)
	if err != nil {
		return err
	}
	rs.siteDir = siteDir
	rs.report.SiteDir = siteDir
	return nil
}

func (p *Publisher) stageRedirect(ctx context.Context, rs *runState) error {
	path, err := site.WriteRedirect(rs.siteDir, p.cfg.Redirect.Target)
	if err != nil {
		return err
	}
	p.logger.DebugContext(ctx, "Redirect page written", logfields.File(path))
	for _, issue := range site.Verify(rs.siteDir) {
		rs.report.AddWarning(StageRedirect, issue.Message)
		p.logger.WarnContext(ctx, "Site check", logfields.File(issue.File), slog.String("issue", issue.Message))
	}
	return nil
}

func (p *Publisher) stagePublish(ctx context.Context, rs *runState) error {
	remote := p.cfg.PublishRemote()
	if !rs.req.DryRun && !p.hasToken && isHTTPRemote(remote) {
		return ferrors.AuthError("publish token is not set").
			WithContext("token_env", p.cfg.Publish.TokenEnv).
			Build()
	}
	req := git.PublishRequest{
		SiteDir:     rs.siteDir,
		RepoDir:     rs.ws.PublishDir(),
		RemoteURL:   remote,
		Branch:      p.cfg.Publish.Branch,
		Message:     commitMessage(p.cfg.Publish.CommitMessage, rs.report.Commit),
		AuthorName:  p.cfg.Publish.AuthorName,
		AuthorEmail: p.cfg.Publish.AuthorEmail,
		DryRun:      rs.req.DryRun,
	}
	if !p.exclude.Empty() {
		req.Exclude = p.exclude.Match
	}
	res, err := p.git.PublishTree(ctx, req)
	if err != nil {
		return err
	}
	rs.report.PublishedCommit = res.Commit
	rs.report.PublishedFiles = res.Files
	return nil
}

func commitMessage(tmpl, commit string) string {
	short := commit
	if len(short) > 12 {
		short = short[:12]
	}
	if short == "" {
		short = "unknown revision"
	}
	return strings.ReplaceAll(tmpl, "{{commit}}", short)
}

func isHTTPRemote(url string) bool {
	return strings.HasPrefix(url, "https://") || strings.HasPrefix(url, "http://")
}
