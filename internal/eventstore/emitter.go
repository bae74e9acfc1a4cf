package eventstore

import (
	"context"
	"log/slog"
	"time"

	"git.home.luguber.info/inful/docpublisher/internal/logfields"
)

// Emitter persists events and keeps the projection current.
type Emitter struct {
	store      Store
	projection *RunHistoryProjection
	listeners  []func(Event)
	logger     *slog.Logger
}

// NewEmitter creates an emitter. A nil store keeps only the in-memory projection.
func NewEmitter(store Store, projection *RunHistoryProjection, logger *slog.Logger) *Emitter {
	if logger == nil {
		logger = slog.Default()
	}
	return &Emitter{store: store, projection: projection, logger: logger}
}

// Subscribe registers fn to be called after every emitted event.
func (e *Emitter) Subscribe(fn func(Event)) {
	e.listeners = append(e.listeners, fn)
}

// Projection returns the read model the emitter updates.
func (e *Emitter) Projection() *RunHistoryProjection { return e.projection }

// Emit appends the event to the log and applies it to the projection. A
// failed append is returned but the projection is still updated so the
// daemon's view stays consistent with what actually happened.
func (e *Emitter) Emit(ctx context.Context, event Event) error {
	var appendErr error
	if e.store != nil {
		appendErr = e.store.Append(context.WithoutCancel(ctx), event.RunID(), event.Type(), event.Timestamp(), event.Payload(), event.Metadata())
		if appendErr != nil {
			e.logger.WarnContext(ctx, "Failed to persist run event",
				logfields.RunID(event.RunID()),
				logfields.Event(event.Type()),
				logfields.Error(appendErr))
		}
	}
	if e.projection != nil {
		e.projection.Apply(event)
	}
	for _, fn := range e.listeners {
		fn(event)
	}
	return appendErr
}

func (e *Emitter) emit(ctx context.Context, event Event, err error) error {
	if err != nil {
		return err
	}
	return e.Emit(ctx, event)
}

// EmitRunQueued records that a run entered the queue.
func (e *Emitter) EmitRunQueued(ctx context.Context, runID string, data RunQueuedData) error {
	ev, err := NewRunQueued(runID, data)
	return e.emit(ctx, ev, err)
}

// EmitRunStarted records that the worker picked up a run.
func (e *Emitter) EmitRunStarted(ctx context.Context, runID string) error {
	ev, err := NewRunStarted(runID)
	return e.emit(ctx, ev, err)
}

// EmitStageCompleted records a stage that finished without error.
func (e *Emitter) EmitStageCompleted(ctx context.Context, runID, stage, result string, d time.Duration) error {
	ev, err := NewStageCompleted(runID, stage, result, d)
	return e.emit(ctx, ev, err)
}

// EmitStageFailed records a stage that aborted the run.
func (e *Emitter) EmitStageFailed(ctx context.Context, runID, stage, result string, d time.Duration, errMsg string) error {
	ev, err := NewStageFailed(runID, stage, result, d, errMsg)
	return e.emit(ctx, ev, err)
}

// EmitRunSucceeded records a completed run.
func (e *Emitter) EmitRunSucceeded(ctx context.Context, runID string, data RunSucceededData) error {
	ev, err := NewRunSucceeded(runID, data)
	return e.emit(ctx, ev, err)
}

// EmitRunFailed records a failed run.
func (e *Emitter) EmitRunFailed(ctx context.Context, runID string, data RunFailedData) error {
	ev, err := NewRunFailed(runID, data)
	return e.emit(ctx, ev, err)
}

// EmitRunCanceled records a canceled or superseded run.
func (e *Emitter) EmitRunCanceled(ctx context.Context, runID string, data RunCanceledData) error {
	ev, err := NewRunCanceled(runID, data)
	return e.emit(ctx, ev, err)
}
