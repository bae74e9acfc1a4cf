package trigger

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/go-co-op/gocron/v2"

	ferrors "git.home.luguber.info/inful/docpublisher/internal/foundation/errors"
	"git.home.luguber.info/inful/docpublisher/internal/logfields"
)

// HeadResolver returns the commit a remote branch currently points at.
type HeadResolver interface {
	RemoteHead(ctx context.Context, url, branch string) (string, error)
}

// SubmitFunc enqueues a run for branch at revision.
type SubmitFunc func(ctx context.Context, trigger, branch, revision string) error

// Poller checks the remote branch head on a schedule and submits a run when
// it moves. The first observation only records a baseline.
type Poller struct {
	resolver HeadResolver
	url      string
	branch   string
	submit   SubmitFunc
	logger   *slog.Logger

	mu        sync.Mutex
	last      string
	scheduler gocron.Scheduler
}

// NewPoller creates a poller for url/branch.
func NewPoller(resolver HeadResolver, url, branch string, submit SubmitFunc, logger *slog.Logger) *Poller {
	if logger == nil {
		logger = slog.Default()
	}
	return &Poller{resolver: resolver, url: url, branch: branch, submit: submit, logger: logger}
}

// Start schedules polling every interval, or on the cron expression when one
// is given. The scheduler stops when ctx ends or Stop is called.
func (p *Poller) Start(ctx context.Context, interval time.Duration, cronExpr string) error {
	var def gocron.JobDefinition
	switch {
	case cronExpr != "":
		def = gocron.CronJob(cronExpr, false)
	case interval > 0:
		def = gocron.DurationJob(interval)
	default:
		return ferrors.ConfigError("poller requires an interval or cron expression").Build()
	}

	s, err := gocron.NewScheduler()
	if err != nil {
		return ferrors.WrapError(err, ferrors.CategoryRuntime, "failed to create scheduler").Build()
	}
	_, err = s.NewJob(
		def,
		gocron.NewTask(func() {
			if _, err := p.Check(ctx); err != nil {
				p.logger.WarnContext(ctx, "Remote head poll failed", logfields.Branch(p.branch), logfields.Error(err))
			}
		}),
		gocron.WithName("poll-"+p.branch),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
		gocron.WithStartAt(gocron.WithStartImmediately()),
	)
	if err != nil {
		_ = s.Shutdown()
		return ferrors.WrapError(err, ferrors.CategoryConfig, "invalid poll schedule").
			WithContext("cron", cronExpr).
			Build()
	}

	p.mu.Lock()
	p.scheduler = s
	p.mu.Unlock()
	s.Start()
	p.logger.Info("Remote head polling started",
		logfields.Branch(p.branch),
		slog.Duration("interval", interval),
		slog.String("cron", cronExpr))
	return nil
}

// Stop shuts the scheduler down.
func (p *Poller) Stop() error {
	p.mu.Lock()
	s := p.scheduler
	p.scheduler = nil
	p.mu.Unlock()
	if s == nil {
		return nil
	}
	return s.Shutdown()
}

// Check resolves the remote head once and submits a run if it changed since
// the previous check. It reports whether a run was submitted.
func (p *Poller) Check(ctx context.Context) (bool, error) {
	head, err := p.resolver.RemoteHead(ctx, p.url, p.branch)
	if err != nil {
		return false, err
	}

	p.mu.Lock()
	prev := p.last
	p.last = head
	p.mu.Unlock()

	if prev == "" {
		p.logger.DebugContext(ctx, "Recorded remote head baseline", logfields.Branch(p.branch), logfields.Commit(head))
		return false, nil
	}
	if prev == head {
		return false, nil
	}

	p.logger.InfoContext(ctx, "Remote head moved",
		logfields.Branch(p.branch),
		slog.String("from", prev),
		logfields.Commit(head))
	if err := p.submit(ctx, "poll", p.branch, head); err != nil {
		// Retry on the next tick.
		p.mu.Lock()
		p.last = prev
		p.mu.Unlock()
		return false, err
	}
	return true, nil
}

// Observe records head as already handled, e.g. after a webhook-triggered run.
func (p *Poller) Observe(head string) {
	p.mu.Lock()
	p.last = head
	p.mu.Unlock()
}
