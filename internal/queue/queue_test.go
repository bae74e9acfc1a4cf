package queue

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"git.home.luguber.info/inful/docpublisher/internal/eventstore"
	ferrors "git.home.luguber.info/inful/docpublisher/internal/foundation/errors"
	"git.home.luguber.info/inful/docpublisher/internal/pipeline"
)

type fakeRunner struct {
	mu      sync.Mutex
	order   []string
	started chan string
	block   map[string]bool          // wait for cancellation
	hold    map[string]chan struct{} // wait for release, ignoring cancellation
	fail    map[string]error
}

func newFakeRunner() *fakeRunner {
	return &fakeRunner{
		started: make(chan string, 32),
		block:   map[string]bool{},
		hold:    map[string]chan struct{}{},
		fail:    map[string]error{},
	}
}

func (f *fakeRunner) Run(ctx context.Context, req pipeline.Request) (*pipeline.Report, error) {
	f.mu.Lock()
	f.order = append(f.order, req.RunID)
	block, hold, failErr := f.block[req.RunID], f.hold[req.RunID], f.fail[req.RunID]
	f.mu.Unlock()
	f.started <- req.RunID

	report := &pipeline.Report{RunID: req.RunID, Branch: req.Branch, Commit: "abc123", Start: time.Now()}
	if hold != nil {
		<-hold
	}
	if block {
		<-ctx.Done()
		report.Outcome = pipeline.OutcomeCanceled
		return report, &pipeline.StageError{Stage: pipeline.StageGenerate, Canceled: true, Err: ctx.Err()}
	}
	if failErr != nil {
		report.Outcome = pipeline.OutcomeFailed
		return report, &pipeline.StageError{Stage: pipeline.StageGenerate, Err: failErr}
	}
	report.Outcome = pipeline.OutcomeSuccess
	return report, nil
}

func (f *fakeRunner) Order() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.order...)
}

func setup(t *testing.T, runner *fakeRunner, cancelSuperseded bool) (*Coordinator, *eventstore.RunHistoryProjection) {
	t.Helper()
	projection := eventstore.NewRunHistoryProjection(nil, 20)
	c := New(runner, eventstore.NewEmitter(nil, projection, nil), Options{CancelSuperseded: cancelSuperseded, MaxQueue: 4})
	ctx, cancel := context.WithCancel(context.Background())
	c.Start(ctx)
	t.Cleanup(func() {
		c.Stop(context.Background())
		cancel()
	})
	return c, projection
}

func waitResult(t *testing.T, ticket *Ticket) Result {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	res, err := ticket.Wait(ctx)
	require.NoError(t, err, "run %s did not finish", ticket.ID())
	return res
}

func waitStarted(t *testing.T, runner *fakeRunner, id string) {
	t.Helper()
	timeout := time.After(5 * time.Second)
	for {
		select {
		case got := <-runner.started:
			if got == id {
				return
			}
		case <-timeout:
			t.Fatalf("run %s never started", id)
		}
	}
}

func TestCoordinator_RunsAndRecordsHistory(t *testing.T) {
	runner := newFakeRunner()
	c, projection := setup(t, runner, true)

	ticket, err := c.Submit(t.Context(), pipeline.Request{Branch: "master", Trigger: "webhook"})
	require.NoError(t, err)
	require.NotEmpty(t, ticket.ID())

	res := waitResult(t, ticket)
	assert.Equal(t, eventstore.StatusSucceeded, res.Status)
	require.NotNil(t, res.Report)

	summary, ok := projection.GetRun(ticket.ID())
	require.True(t, ok)
	assert.Equal(t, eventstore.StatusSucceeded, summary.Status)
	assert.Equal(t, "webhook", summary.Trigger)
	assert.Equal(t, "abc123", summary.Commit)
}

func TestCoordinator_FailedRun(t *testing.T) {
	runner := newFakeRunner()
	runner.fail["bad"] = ferrors.GenerateError("cargo doc failed").Build()
	c, projection := setup(t, runner, true)

	ticket, err := c.Submit(t.Context(), pipeline.Request{RunID: "bad", Branch: "master"})
	require.NoError(t, err)
	res := waitResult(t, ticket)

	assert.Equal(t, eventstore.StatusFailed, res.Status)
	summary, _ := projection.GetRun("bad")
	assert.Equal(t, "generate", summary.FailedStage)
}

func TestCoordinator_NewRunCancelsActiveRunForSameBranch(t *testing.T) {
	runner := newFakeRunner()
	runner.block["first"] = true
	c, projection := setup(t, runner, true)

	first, err := c.Submit(t.Context(), pipeline.Request{RunID: "first", Branch: "master"})
	require.NoError(t, err)
	waitStarted(t, runner, "first")

	second, err := c.Submit(t.Context(), pipeline.Request{RunID: "second", Branch: "master"})
	require.NoError(t, err)

	res := waitResult(t, first)
	assert.Equal(t, eventstore.StatusCanceled, res.Status)
	assert.Equal(t, eventstore.StatusSucceeded, waitResult(t, second).Status)

	summary, _ := projection.GetRun("first")
	assert.Equal(t, eventstore.StatusCanceled, summary.Status)
	assert.Equal(t, "second", summary.SupersededBy)
	assert.Equal(t, []string{"first", "second"}, runner.Order())
}

func TestCoordinator_QueuedRunIsSuperseded(t *testing.T) {
	runner := newFakeRunner()
	release := make(chan struct{})
	runner.hold["other"] = release
	c, projection := setup(t, runner, true)

	other, err := c.Submit(t.Context(), pipeline.Request{RunID: "other", Branch: "release"})
	require.NoError(t, err)
	waitStarted(t, runner, "other")

	older, err := c.Submit(t.Context(), pipeline.Request{RunID: "older", Branch: "master"})
	require.NoError(t, err)
	newer, err := c.Submit(t.Context(), pipeline.Request{RunID: "newer", Branch: "master"})
	require.NoError(t, err)

	res := waitResult(t, older)
	assert.Equal(t, eventstore.StatusSuperseded, res.Status)
	assert.Nil(t, res.Report)
	assert.Equal(t, 1, c.Len())

	close(release)
	assert.Equal(t, eventstore.StatusSucceeded, waitResult(t, other).Status, "other branches are not canceled")
	assert.Equal(t, eventstore.StatusSucceeded, waitResult(t, newer).Status)
	assert.Equal(t, []string{"other", "newer"}, runner.Order())

	summary, _ := projection.GetRun("older")
	assert.Equal(t, eventstore.StatusSuperseded, summary.Status)
	assert.Equal(t, "newer", summary.SupersededBy)
}

func TestCoordinator_SerialWhenCancelDisabled(t *testing.T) {
	runner := newFakeRunner()
	release := make(chan struct{})
	runner.hold["a"] = release
	c, _ := setup(t, runner, false)

	a, err := c.Submit(t.Context(), pipeline.Request{RunID: "a", Branch: "master"})
	require.NoError(t, err)
	waitStarted(t, runner, "a")
	b, err := c.Submit(t.Context(), pipeline.Request{RunID: "b", Branch: "master"})
	require.NoError(t, err)

	active, ok := c.Active()
	require.True(t, ok)
	assert.Equal(t, "a", active.RunID)

	close(release)
	assert.Equal(t, eventstore.StatusSucceeded, waitResult(t, a).Status)
	assert.Equal(t, eventstore.StatusSucceeded, waitResult(t, b).Status)
	assert.Equal(t, []string{"a", "b"}, runner.Order())
}

func TestCoordinator_QueueFull(t *testing.T) {
	runner := newFakeRunner()
	release := make(chan struct{})
	runner.hold["busy"] = release
	c, _ := setup(t, runner, false)

	_, err := c.Submit(t.Context(), pipeline.Request{RunID: "busy", Branch: "master"})
	require.NoError(t, err)
	waitStarted(t, runner, "busy")

	for range 4 {
		_, err := c.Submit(t.Context(), pipeline.Request{Branch: "master"})
		require.NoError(t, err)
	}
	_, err = c.Submit(t.Context(), pipeline.Request{Branch: "master"})
	require.ErrorIs(t, err, ErrQueueFull)
	close(release)
}

func TestCoordinator_QueueFullLeavesActiveRunAlone(t *testing.T) {
	runner := newFakeRunner()
	runner.block["a1"] = true
	c, projection := setup(t, runner, true)

	a1, err := c.Submit(t.Context(), pipeline.Request{RunID: "a1", Branch: "master"})
	require.NoError(t, err)
	waitStarted(t, runner, "a1")

	for _, branch := range []string{"b", "c", "d", "e"} {
		_, err := c.Submit(t.Context(), pipeline.Request{Branch: branch})
		require.NoError(t, err)
	}
	_, err = c.Submit(t.Context(), pipeline.Request{RunID: "a2", Branch: "master"})
	require.ErrorIs(t, err, ErrQueueFull)

	active, ok := c.Active()
	require.True(t, ok)
	assert.Equal(t, "a1", active.RunID)
	select {
	case <-a1.Done():
		t.Fatal("rejected submission canceled the active run")
	case <-time.After(50 * time.Millisecond):
	}
	summary, _ := projection.GetRun("a1")
	assert.Equal(t, eventstore.StatusRunning, summary.Status)
	assert.Empty(t, summary.SupersededBy)
	_, found := projection.GetRun("a2")
	assert.False(t, found)
}

func TestCoordinator_FullQueueAcceptsReplacement(t *testing.T) {
	runner := newFakeRunner()
	release := make(chan struct{})
	runner.hold["busy"] = release
	c, _ := setup(t, runner, true)

	_, err := c.Submit(t.Context(), pipeline.Request{RunID: "busy", Branch: "release"})
	require.NoError(t, err)
	waitStarted(t, runner, "busy")

	old, err := c.Submit(t.Context(), pipeline.Request{RunID: "old", Branch: "master"})
	require.NoError(t, err)
	for _, branch := range []string{"b", "c", "d"} {
		_, err := c.Submit(t.Context(), pipeline.Request{Branch: branch})
		require.NoError(t, err)
	}
	_, err = c.Submit(t.Context(), pipeline.Request{RunID: "new", Branch: "master"})
	require.NoError(t, err)

	assert.Equal(t, eventstore.StatusSuperseded, waitResult(t, old).Status)
	assert.Equal(t, 4, c.Len())
	close(release)
}

func TestCoordinator_StopCancelsWork(t *testing.T) {
	runner := newFakeRunner()
	runner.block["active"] = true
	projection := eventstore.NewRunHistoryProjection(nil, 20)
	c := New(runner, eventstore.NewEmitter(nil, projection, nil), Options{CancelSuperseded: true})
	c.Start(context.Background())

	active, err := c.Submit(t.Context(), pipeline.Request{RunID: "active", Branch: "master"})
	require.NoError(t, err)
	waitStarted(t, runner, "active")
	queued, err := c.Submit(t.Context(), pipeline.Request{RunID: "queued", Branch: "release"})
	require.NoError(t, err)

	c.Stop(context.Background())

	assert.Equal(t, eventstore.StatusCanceled, waitResult(t, active).Status)
	assert.Equal(t, eventstore.StatusCanceled, waitResult(t, queued).Status)
	summary, _ := projection.GetRun("active")
	assert.Equal(t, "shutting down", summary.Error)

	_, err = c.Submit(t.Context(), pipeline.Request{Branch: "master"})
	require.ErrorIs(t, err, ErrStopped)
}
