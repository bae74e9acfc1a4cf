// Package daemon wires the long-running publisher: run log, coordinator,
// poller and HTTP server.
package daemon

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"git.home.luguber.info/inful/docpublisher/internal/config"
	ferrors "git.home.luguber.info/inful/docpublisher/internal/foundation/errors"
	"git.home.luguber.info/inful/docpublisher/internal/git"
	"git.home.luguber.info/inful/docpublisher/internal/logfields"
	"git.home.luguber.info/inful/docpublisher/internal/metrics"
	"git.home.luguber.info/inful/docpublisher/internal/observability"
	"git.home.luguber.info/inful/docpublisher/internal/pipeline"
	"git.home.luguber.info/inful/docpublisher/internal/queue"
	"git.home.luguber.info/inful/docpublisher/internal/server"
	"git.home.luguber.info/inful/docpublisher/internal/trigger"
)

// Status represents the current state of the daemon.
type Status string

const (
	StatusStopped  Status = "stopped"
	StatusStarting Status = "starting"
	StatusRunning  Status = "running"
	StatusStopping Status = "stopping"
)

// Option customizes a Daemon, mainly for tests.
type Option func(*Daemon)

// WithRunner replaces the pipeline publisher.
func WithRunner(r queue.Runner) Option { return func(d *Daemon) { d.runner = r } }

// WithHeadResolver replaces the git client used by the poller.
func WithHeadResolver(r trigger.HeadResolver) Option { return func(d *Daemon) { d.resolver = r } }

// Daemon is the webhook and poll driven publisher service.
type Daemon struct {
	cfg    *config.Config
	logger *slog.Logger
	status atomic.Value

	runLog      *RunLog
	registry    *prometheus.Registry
	recorder    metrics.Recorder
	runner      queue.Runner
	resolver    trigger.HeadResolver
	coordinator *queue.Coordinator
	poller      *trigger.Poller
	server      *server.Server
}

// New opens the run log and assembles every component. Nothing runs until Run.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger, opts ...Option) (*Daemon, error) {
	if cfg == nil {
		return nil, ferrors.ConfigError("configuration is required").Build()
	}
	if logger == nil {
		logger = slog.Default()
	}
	d := &Daemon{cfg: cfg, logger: logger, recorder: metrics.NoopRecorder{}}
	d.status.Store(StatusStopped)
	for _, opt := range opts {
		opt(d)
	}

	runLog, err := OpenRunLog(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	d.runLog = runLog

	if cfg.Monitoring.MetricsEnabled() {
		d.registry = prometheus.NewRegistry()
		d.registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
		d.recorder = metrics.NewPrometheusRecorder(d.registry)
	}

	if d.runner == nil || d.resolver == nil {
		client, err := git.NewClientFromConfig(cfg, logger)
		if err != nil {
			_ = runLog.Close()
			return nil, err
		}
		if d.resolver == nil {
			d.resolver = client
		}
		if d.runner == nil {
			publisher, err := pipeline.NewPublisher(cfg,
				pipeline.WithGit(client),
				pipeline.WithRecorder(d.recorder),
				pipeline.WithObserver(queue.NewStageRecorder(runLog.Emitter, logger)),
				pipeline.WithLogger(logger),
			)
			if err != nil {
				_ = runLog.Close()
				return nil, err
			}
			d.runner = publisher
		}
	}

	d.coordinator = queue.New(d.runner, runLog.Emitter, queue.Options{
		CancelSuperseded: cfg.Concurrency.CancelsSuperseded(),
		MaxQueue:         cfg.Concurrency.QueueSize,
		Recorder:         d.recorder,
		Logger:           logger,
	})

	if cfg.Trigger.PollInterval != "" || cfg.Trigger.PollCron != "" {
		d.poller = trigger.NewPoller(d.resolver, cfg.Source.URL, cfg.Trigger.Branch, d.submitPoll, logger)
	}

	srvOpts := server.Options{
		Submitter: d.coordinator,
		History:   runLog.Projection,
		Recorder:  d.recorder,
		Logger:    logger,
	}
	if d.registry != nil {
		srvOpts.Gatherer = d.registry
	}
	if d.poller != nil {
		srvOpts.OnPush = d.poller.Observe
	}
	d.server = server.New(cfg, srvOpts)
	return d, nil
}

// Status returns the current lifecycle state.
func (d *Daemon) Status() Status {
	s, _ := d.status.Load().(Status)
	return s
}

// RunLog exposes the daemon's run log.
func (d *Daemon) RunLog() *RunLog { return d.runLog }

// Server exposes the HTTP server.
func (d *Daemon) Server() *server.Server { return d.server }

// Run starts every component and blocks until ctx is canceled or the HTTP
// server fails. Queued runs are canceled on the way out.
func (d *Daemon) Run(ctx context.Context) error {
	d.status.Store(StatusStarting)
	defer d.status.Store(StatusStopped)

	shutdownTracing, err := observability.SetupTracing(ctx, d.cfg.Monitoring.TracingEndpoint)
	if err != nil {
		d.logger.Warn("Tracing disabled", logfields.Error(err))
	}

	d.coordinator.Start(ctx)
	if d.poller != nil {
		if err := d.poller.Start(ctx, d.cfg.PollInterval(), d.cfg.Trigger.PollCron); err != nil {
			d.shutdown(shutdownTracing)
			return err
		}
	}

	d.status.Store(StatusRunning)
	d.logger.Info("Daemon started",
		slog.String("listen_addr", d.cfg.Daemon.ListenAddr),
		logfields.Branch(d.cfg.Trigger.Branch),
		slog.Bool("polling", d.poller != nil))

	serveErr := d.server.ListenAndServe(ctx, d.cfg.Daemon.ListenAddr)

	d.status.Store(StatusStopping)
	d.shutdown(shutdownTracing)
	return serveErr
}

func (d *Daemon) shutdown(shutdownTracing func(context.Context) error) {
	stopCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if d.poller != nil {
		if err := d.poller.Stop(); err != nil {
			d.logger.Warn("Failed to stop poller", logfields.Error(err))
		}
	}
	d.coordinator.Stop(stopCtx)
	if shutdownTracing != nil {
		if err := shutdownTracing(stopCtx); err != nil {
			d.logger.Warn("Failed to flush traces", logfields.Error(err))
		}
	}
	if err := d.runLog.Close(); err != nil {
		d.logger.Warn("Failed to close run log", logfields.Error(err))
	}
	d.logger.Info("Daemon stopped")
}

func (d *Daemon) submitPoll(ctx context.Context, trig, branch, revision string) error {
	_, err := d.coordinator.Submit(ctx, pipeline.Request{Trigger: trig, Branch: branch, Revision: revision})
	return err
}
