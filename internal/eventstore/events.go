package eventstore

import (
	"encoding/json"
	"time"

	"git.home.luguber.info/inful/docpublisher/internal/foundation/errors"
)

// Run event type names.
const (
	TypeRunQueued      = "RunQueued"
	TypeRunStarted     = "RunStarted"
	TypeStageCompleted = "StageCompleted"
	TypeStageFailed    = "StageFailed"
	TypeRunSucceeded   = "RunSucceeded"
	TypeRunFailed      = "RunFailed"
	TypeRunCanceled    = "RunCanceled"
)

// RunQueuedData describes why and what a run was enqueued for.
type RunQueuedData struct {
	Trigger  string `json:"trigger"`
	Branch   string `json:"branch"`
	Revision string `json:"revision,omitempty"`
	DryRun   bool   `json:"dry_run,omitempty"`
}

// StageData records the outcome of one pipeline stage.
type StageData struct {
	Stage      string `json:"stage"`
	Result     string `json:"result"`
	DurationMS int64  `json:"duration_ms"`
	Error      string `json:"error,omitempty"`
}

// RunSucceededData records what was published.
type RunSucceededData struct {
	Outcome         string `json:"outcome"`
	Commit          string `json:"commit"`
	PublishedCommit string `json:"published_commit,omitempty"`
	Files           int    `json:"files"`
	Warnings        int    `json:"warnings,omitempty"`
	DurationMS      int64  `json:"duration_ms"`
}

// RunFailedData records the failing stage and error.
type RunFailedData struct {
	Stage      string `json:"stage"`
	Error      string `json:"error"`
	Commit     string `json:"commit,omitempty"`
	DurationMS int64  `json:"duration_ms"`
}

// RunCanceledData records why a run stopped before completing.
type RunCanceledData struct {
	Reason       string `json:"reason"`
	Superseded   bool   `json:"superseded,omitempty"` // dropped from the queue before starting
	SupersededBy string `json:"superseded_by,omitempty"`
	Stage        string `json:"stage,omitempty"`
}

func newEvent(runID, eventType string, data any) (*BaseEvent, error) {
	payload, err := json.Marshal(data)
	if err != nil {
		return nil, errors.EventStoreError("failed to marshal "+eventType+" payload").
			WithCause(err).
			WithContext("run_id", runID).
			Build()
	}
	return &BaseEvent{
		EventRunID:     runID,
		EventType:      eventType,
		EventTimestamp: time.Now(),
		EventPayload:   payload,
	}, nil
}

// NewRunQueued creates a RunQueued event.
func NewRunQueued(runID string, data RunQueuedData) (Event, error) {
	return newEvent(runID, TypeRunQueued, data)
}

// NewRunStarted creates a RunStarted event.
func NewRunStarted(runID string) (Event, error) {
	return newEvent(runID, TypeRunStarted, struct{}{})
}

// NewStageCompleted creates a StageCompleted event.
func NewStageCompleted(runID, stage, result string, d time.Duration) (Event, error) {
	return newEvent(runID, TypeStageCompleted, StageData{Stage: stage, Result: result, DurationMS: d.Milliseconds()})
}

// NewStageFailed creates a StageFailed event.
func NewStageFailed(runID, stage, result string, d time.Duration, errMsg string) (Event, error) {
	return newEvent(runID, TypeStageFailed, StageData{
		Stage:      stage,
		Result:     result,
		DurationMS: d.Milliseconds(),
		Error:      truncate(errMsg),
	})
}

// NewRunSucceeded creates a RunSucceeded event.
func NewRunSucceeded(runID string, data RunSucceededData) (Event, error) {
	return newEvent(runID, TypeRunSucceeded, data)
}

// NewRunFailed creates a RunFailed event.
func NewRunFailed(runID string, data RunFailedData) (Event, error) {
	data.Error = truncate(data.Error)
	return newEvent(runID, TypeRunFailed, data)
}

// NewRunCanceled creates a RunCanceled event.
func NewRunCanceled(runID string, data RunCanceledData) (Event, error) {
	return newEvent(runID, TypeRunCanceled, data)
}

const maxErrorLen = 500

func truncate(msg string) string {
	if len(msg) > maxErrorLen {
		return msg[:maxErrorLen] + "…"
	}
	return msg
}
