// Package queue serializes pipeline runs through a single worker. A new run
// for a branch cancels the one in progress and replaces any that are still
// waiting, so two runs for the same branch never publish concurrently.
package queue

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"git.home.luguber.info/inful/docpublisher/internal/eventstore"
	ferrors "git.home.luguber.info/inful/docpublisher/internal/foundation/errors"
	"git.home.luguber.info/inful/docpublisher/internal/logfields"
	"git.home.luguber.info/inful/docpublisher/internal/metrics"
	"git.home.luguber.info/inful/docpublisher/internal/pipeline"
)

// Runner executes one run.
type Runner interface {
	Run(ctx context.Context, req pipeline.Request) (*pipeline.Report, error)
}

// ErrQueueFull is returned when the pending queue is at capacity.
var ErrQueueFull = ferrors.RuntimeError("run queue is full").RateLimit().Build()

// ErrStopped is returned when submitting to a stopped coordinator.
var ErrStopped = ferrors.RuntimeError("run coordinator is stopped").Build()

// Result is the terminal state of a run.
type Result struct {
	RunID  string
	Status eventstore.RunStatus
	Report *pipeline.Report // nil for runs that never started
	Err    error
}

// Ticket tracks a submitted run.
type Ticket struct {
	id     string
	done   chan struct{}
	result Result
}

// ID returns the run identifier.
func (t *Ticket) ID() string { return t.id }

// Done is closed when the run reaches a terminal state.
func (t *Ticket) Done() <-chan struct{} { return t.done }

// Wait blocks until the run finishes or ctx ends.
func (t *Ticket) Wait(ctx context.Context) (Result, error) {
	select {
	case <-t.done:
		return t.result, nil
	case <-ctx.Done():
		return Result{RunID: t.id}, ctx.Err()
	}
}

type job struct {
	req    pipeline.Request
	ticket *Ticket
	ctx    context.Context
	cancel context.CancelCauseFunc
}

// Options configure a Coordinator.
type Options struct {
	CancelSuperseded bool
	MaxQueue         int
	Recorder         metrics.Recorder
	Logger           *slog.Logger
}

// Coordinator owns the single pipeline worker.
type Coordinator struct {
	runner  Runner
	emitter *eventstore.Emitter
	opts    Options

	mu      sync.Mutex
	pending []*job
	active  *job
	stopped bool

	wake chan struct{}
	stop chan struct{}
	wg   sync.WaitGroup
}

// New creates a coordinator. Call Start before submitting work.
func New(runner Runner, emitter *eventstore.Emitter, opts Options) *Coordinator {
	if opts.MaxQueue <= 0 {
		opts.MaxQueue = 16
	}
	if opts.Recorder == nil {
		opts.Recorder = metrics.NoopRecorder{}
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if emitter == nil {
		emitter = eventstore.NewEmitter(nil, nil, opts.Logger)
	}
	return &Coordinator{
		runner:  runner,
		emitter: emitter,
		opts:    opts,
		wake:    make(chan struct{}, 1),
		stop:    make(chan struct{}),
	}
}

// Start launches the worker. Runs execute under ctx.
func (c *Coordinator) Start(ctx context.Context) {
	c.wg.Add(1)
	go c.worker(ctx)
}

// Submit enqueues a run and returns immediately.
func (c *Coordinator) Submit(ctx context.Context, req pipeline.Request) (*Ticket, error) {
	if req.RunID == "" {
		req.RunID = uuid.NewString()
	}
	if req.Trigger == "" {
		req.Trigger = "manual"
	}
	j := &job{req: req, ticket: &Ticket{id: req.RunID, done: make(chan struct{})}}

	c.mu.Lock()
	if c.stopped {
		c.mu.Unlock()
		return nil, ErrStopped
	}
	// Capacity is checked before anything is superseded so a rejected run
	// leaves queued and active runs untouched.
	if len(c.pending)-c.replaceableLocked(req) >= c.opts.MaxQueue {
		c.mu.Unlock()
		return nil, ErrQueueFull
	}
	var superseded []*job
	if c.opts.CancelSuperseded {
		superseded = c.supersedeLocked(req)
	}
	c.pending = append(c.pending, j)
	depth := len(c.pending)
	c.mu.Unlock()

	c.finishSuperseded(ctx, superseded, req.RunID)
	_ = c.emitter.EmitRunQueued(ctx, req.RunID, eventstore.RunQueuedData{
		Trigger:  req.Trigger,
		Branch:   req.Branch,
		Revision: req.Revision,
		DryRun:   req.DryRun,
	})
	c.opts.Recorder.IncTrigger(req.Trigger)
	c.opts.Recorder.SetQueueDepth(depth)
	c.opts.Logger.InfoContext(ctx, "Run queued",
		logfields.RunID(req.RunID),
		logfields.Trigger(req.Trigger),
		logfields.Branch(req.Branch),
		slog.Int("queue_depth", depth))

	select {
	case c.wake <- struct{}{}:
	default:
	}
	return j.ticket, nil
}

// replaceableLocked counts the queued runs req would supersede.
func (c *Coordinator) replaceableLocked(req pipeline.Request) int {
	if !c.opts.CancelSuperseded {
		return 0
	}
	n := 0
	for _, p := range c.pending {
		if p.req.Branch == req.Branch {
			n++
		}
	}
	return n
}

// supersedeLocked removes queued runs for the same branch and cancels the
// active one. The removed jobs are returned so their terminal events are
// emitted outside the lock.
func (c *Coordinator) supersedeLocked(req pipeline.Request) []*job {
	var removed []*job
	kept := c.pending[:0]
	for _, p := range c.pending {
		if p.req.Branch == req.Branch {
			removed = append(removed, p)
			continue
		}
		kept = append(kept, p)
	}
	c.pending = kept

	if c.active != nil && c.active.req.Branch == req.Branch && c.active.cancel != nil {
		c.active.cancel(supersededError(req.RunID))
	}
	return removed
}

func (c *Coordinator) finishSuperseded(ctx context.Context, jobs []*job, by string) {
	for _, j := range jobs {
		_ = c.emitter.EmitRunCanceled(ctx, j.req.RunID, eventstore.RunCanceledData{
			Reason:       "superseded by a newer run",
			Superseded:   true,
			SupersededBy: by,
		})
		c.opts.Recorder.IncRunOutcome(string(eventstore.StatusSuperseded))
		c.opts.Logger.InfoContext(ctx, "Queued run superseded", logfields.RunID(j.req.RunID), slog.String("superseded_by", by))
		j.complete(Result{RunID: j.req.RunID, Status: eventstore.StatusSuperseded, Err: supersededError(by)})
	}
}

func supersededError(by string) error {
	return ferrors.CanceledError("superseded by a newer run").WithContext("superseded_by", by).Build()
}

func (j *job) complete(res Result) {
	j.ticket.result = res
	close(j.ticket.done)
}

// Active returns the request currently executing, if any.
func (c *Coordinator) Active() (pipeline.Request, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.active == nil {
		return pipeline.Request{}, false
	}
	return c.active.req, true
}

// Len returns the number of queued runs, excluding the active one.
func (c *Coordinator) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}

// Stop cancels the active run, drops queued runs and waits for the worker.
func (c *Coordinator) Stop(ctx context.Context) {
	c.mu.Lock()
	if c.stopped {
		c.mu.Unlock()
		return
	}
	c.stopped = true
	dropped := c.pending
	c.pending = nil
	if c.active != nil && c.active.cancel != nil {
		c.active.cancel(ferrors.CanceledError("shutting down").Build())
	}
	c.mu.Unlock()
	close(c.stop)

	for _, j := range dropped {
		_ = c.emitter.EmitRunCanceled(ctx, j.req.RunID, eventstore.RunCanceledData{Reason: "shutting down"})
		c.opts.Recorder.IncRunOutcome(string(eventstore.StatusCanceled))
		j.complete(Result{RunID: j.req.RunID, Status: eventstore.StatusCanceled, Err: ErrStopped})
	}
	c.opts.Recorder.SetQueueDepth(0)
	c.wg.Wait()
}

func (c *Coordinator) worker(ctx context.Context) {
	defer c.wg.Done()
	for {
		if j := c.next(ctx); j != nil {
			c.execute(ctx, j)
			continue
		}
		select {
		case <-ctx.Done():
			return
		case <-c.stop:
			return
		case <-c.wake:
		}
	}
}

// next pops the oldest pending job and marks it active.
func (c *Coordinator) next(ctx context.Context) *job {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.stopped || ctx.Err() != nil || len(c.pending) == 0 {
		return nil
	}
	j := c.pending[0]
	c.pending = c.pending[1:]
	j.ctx, j.cancel = context.WithCancelCause(ctx)
	c.active = j
	c.opts.Recorder.SetQueueDepth(len(c.pending))
	return j
}

func (c *Coordinator) execute(ctx context.Context, j *job) {
	runCtx := j.ctx
	defer func() {
		j.cancel(nil)
		c.mu.Lock()
		c.active = nil
		c.mu.Unlock()
	}()

	runID := j.req.RunID
	_ = c.emitter.EmitRunStarted(ctx, runID)
	report, err := c.runner.Run(runCtx, j.req)

	res := Result{RunID: runID, Report: report, Err: err}
	switch {
	case err == nil:
		res.Status = eventstore.StatusSucceeded
		data := eventstore.RunSucceededData{}
		if report != nil {
			data = eventstore.RunSucceededData{
				Outcome:         string(report.Outcome),
				Commit:          report.Commit,
				PublishedCommit: report.PublishedCommit,
				Files:           report.PublishedFiles,
				Warnings:        len(report.Issues),
				DurationMS:      report.Duration().Milliseconds(),
			}
		}
		_ = c.emitter.EmitRunSucceeded(ctx, runID, data)

	case runCtx.Err() != nil || ferrors.HasCategory(err, ferrors.CategoryCanceled):
		res.Status = eventstore.StatusCanceled
		cause := context.Cause(runCtx)
		if cause == nil {
			cause = err
		}
		data := eventstore.RunCanceledData{Reason: reason(cause)}
		if ce, ok := ferrors.AsClassified(cause); ok {
			if by, ok := ce.Context().GetString("superseded_by"); ok {
				data.SupersededBy = by
			}
		}
		if stage, ok := pipeline.FailedStage(err); ok {
			data.Stage = string(stage)
		}
		_ = c.emitter.EmitRunCanceled(context.WithoutCancel(ctx), runID, data)

	default:
		res.Status = eventstore.StatusFailed
		data := eventstore.RunFailedData{Error: err.Error()}
		if stage, ok := pipeline.FailedStage(err); ok {
			data.Stage = string(stage)
		}
		if report != nil {
			data.Commit = report.Commit
			data.DurationMS = report.Duration().Milliseconds()
		}
		_ = c.emitter.EmitRunFailed(ctx, runID, data)
	}

	c.opts.Recorder.IncRunOutcome(string(res.Status))
	c.opts.Logger.InfoContext(ctx, "Run finished", logfields.RunID(runID), logfields.RunStatus(string(res.Status)))
	j.complete(res)
}

func reason(err error) string {
	if ce, ok := ferrors.AsClassified(err); ok {
		return ce.Message()
	}
	if errors.Is(err, context.Canceled) {
		return "canceled"
	}
	return err.Error()
}
