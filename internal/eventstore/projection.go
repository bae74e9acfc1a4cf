// Package eventstore keeps the append-only run log and the history read model
// folded from it.
package eventstore

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"time"
)

// RunStatus is the lifecycle state of a run.
type RunStatus string

const (
	StatusQueued     RunStatus = "queued"
	StatusRunning    RunStatus = "running"
	StatusSucceeded  RunStatus = "succeeded"
	StatusFailed     RunStatus = "failed"
	StatusCanceled   RunStatus = "canceled"
	StatusSuperseded RunStatus = "superseded"
)

// Terminal reports whether no further transitions are possible.
func (s RunStatus) Terminal() bool {
	switch s {
	case StatusSucceeded, StatusFailed, StatusCanceled, StatusSuperseded:
		return true
	default:
		return false
	}
}

// RunSummary is the read model of one run.
type RunSummary struct {
	RunID           string           `json:"run_id"`
	Trigger         string           `json:"trigger,omitempty"`
	Branch          string           `json:"branch,omitempty"`
	Revision        string           `json:"revision,omitempty"`
	DryRun          bool             `json:"dry_run,omitempty"`
	Status          RunStatus        `json:"status"`
	QueuedAt        time.Time        `json:"queued_at"`
	StartedAt       *time.Time       `json:"started_at,omitempty"`
	CompletedAt     *time.Time       `json:"completed_at,omitempty"`
	Duration        time.Duration    `json:"duration,omitempty"`
	Commit          string           `json:"commit,omitempty"`
	PublishedCommit string           `json:"published_commit,omitempty"`
	Files           int              `json:"files,omitempty"`
	Warnings        int              `json:"warnings,omitempty"`
	StageDurations  map[string]int64 `json:"stage_durations_ms,omitempty"`
	FailedStage     string           `json:"failed_stage,omitempty"`
	Error           string           `json:"error,omitempty"`
	SupersededBy    string           `json:"superseded_by,omitempty"`
}

func (s *RunSummary) clone() *RunSummary {
	cp := *s
	if s.StageDurations != nil {
		cp.StageDurations = make(map[string]int64, len(s.StageDurations))
		for k, v := range s.StageDurations {
			cp.StageDurations[k] = v
		}
	}
	return &cp
}

// RunHistoryProjection maintains an in-memory view of run history
// reconstructed from the run log.
type RunHistoryProjection struct {
	mu       sync.RWMutex
	store    Store
	runs     map[string]*RunSummary
	history  []*RunSummary // terminal runs, newest first
	maxSize  int
	lastSync time.Time
}

// NewRunHistoryProjection creates a projection backed by store.
func NewRunHistoryProjection(store Store, maxHistorySize int) *RunHistoryProjection {
	if maxHistorySize <= 0 {
		maxHistorySize = 100
	}
	return &RunHistoryProjection{
		store:   store,
		runs:    make(map[string]*RunSummary),
		history: make([]*RunSummary, 0, maxHistorySize),
		maxSize: maxHistorySize,
	}
}

// Rebuild reconstructs the projection from all events in the store.
// Runs left queued or running by a previous process are reported as canceled.
func (p *RunHistoryProjection) Rebuild(ctx context.Context) error {
	events, err := p.store.GetRange(ctx, time.Time{}, time.Now().Add(time.Hour))
	if err != nil {
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	p.runs = make(map[string]*RunSummary)
	p.history = make([]*RunSummary, 0, p.maxSize)
	for _, event := range events {
		p.applyEventLocked(event)
	}
	for _, s := range p.runs {
		if !s.Status.Terminal() {
			s.Status = StatusCanceled
			s.Error = "interrupted by shutdown"
			p.history = append(p.history, s)
		}
	}
	sort.SliceStable(p.history, func(i, j int) bool {
		return p.history[i].QueuedAt.After(p.history[j].QueuedAt)
	})
	if len(p.history) > p.maxSize {
		p.history = p.history[:p.maxSize]
	}
	p.pruneRunsLocked()
	p.lastSync = time.Now()
	return nil
}

// Apply processes a single event as it is emitted.
func (p *RunHistoryProjection) Apply(event Event) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.applyEventLocked(event)
}

func (p *RunHistoryProjection) applyEventLocked(event Event) {
	runID := event.RunID()
	if runID == "" {
		return
	}

	summary, exists := p.runs[runID]
	if !exists {
		summary = &RunSummary{RunID: runID, Status: StatusQueued, QueuedAt: event.Timestamp()}
		p.runs[runID] = summary
	}
	if summary.Status.Terminal() {
		return
	}
	at := event.Timestamp()

	switch event.Type() {
	case TypeRunQueued:
		var data RunQueuedData
		if err := json.Unmarshal(event.Payload(), &data); err == nil {
			summary.Trigger = data.Trigger
			summary.Branch = data.Branch
			summary.Revision = data.Revision
			summary.DryRun = data.DryRun
		}
		summary.QueuedAt = at

	case TypeRunStarted:
		summary.Status = StatusRunning
		summary.StartedAt = &at

	case TypeStageCompleted, TypeStageFailed:
		var data StageData
		if err := json.Unmarshal(event.Payload(), &data); err == nil {
			if summary.StageDurations == nil {
				summary.StageDurations = make(map[string]int64)
			}
			summary.StageDurations[data.Stage] = data.DurationMS
			if event.Type() == TypeStageFailed {
				summary.FailedStage = data.Stage
				summary.Error = data.Error
			}
		}

	case TypeRunSucceeded:
		var data RunSucceededData
		if err := json.Unmarshal(event.Payload(), &data); err == nil {
			summary.Commit = data.Commit
			summary.PublishedCommit = data.PublishedCommit
			summary.Files = data.Files
			summary.Warnings = data.Warnings
		}
		p.completeLocked(summary, StatusSucceeded, at)

	case TypeRunFailed:
		var data RunFailedData
		if err := json.Unmarshal(event.Payload(), &data); err == nil {
			summary.FailedStage = data.Stage
			summary.Error = data.Error
			if data.Commit != "" {
				summary.Commit = data.Commit
			}
		}
		p.completeLocked(summary, StatusFailed, at)

	case TypeRunCanceled:
		status := StatusCanceled
		var data RunCanceledData
		if err := json.Unmarshal(event.Payload(), &data); err == nil {
			summary.Error = data.Reason
			summary.SupersededBy = data.SupersededBy
			if data.Stage != "" {
				summary.FailedStage = data.Stage
			}
			if data.Superseded {
				status = StatusSuperseded
			}
		}
		p.completeLocked(summary, status, at)
	}
}

func (p *RunHistoryProjection) completeLocked(summary *RunSummary, status RunStatus, at time.Time) {
	summary.Status = status
	summary.CompletedAt = &at
	if summary.StartedAt != nil {
		summary.Duration = at.Sub(*summary.StartedAt)
	}

	p.history = append([]*RunSummary{summary}, p.history...)
	if len(p.history) > p.maxSize {
		p.history = p.history[:p.maxSize]
	}
	p.pruneRunsLocked()
}

// pruneRunsLocked drops terminal runs that fell out of the bounded history.
func (p *RunHistoryProjection) pruneRunsLocked() {
	keep := make(map[string]struct{}, len(p.history))
	for _, h := range p.history {
		keep[h.RunID] = struct{}{}
	}
	for id, summary := range p.runs {
		if !summary.Status.Terminal() {
			continue
		}
		if _, ok := keep[id]; !ok {
			delete(p.runs, id)
		}
	}
}

// GetHistory returns completed runs, newest first.
func (p *RunHistoryProjection) GetHistory() []*RunSummary {
	p.mu.RLock()
	defer p.mu.RUnlock()

	result := make([]*RunSummary, len(p.history))
	for i, s := range p.history {
		result[i] = s.clone()
	}
	return result
}

// GetRun returns a copy of the summary for runID.
func (p *RunHistoryProjection) GetRun(runID string) (*RunSummary, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	summary, ok := p.runs[runID]
	if !ok {
		return nil, false
	}
	return summary.clone(), true
}

// Pending returns queued and running runs, oldest first.
func (p *RunHistoryProjection) Pending() []*RunSummary {
	p.mu.RLock()
	defer p.mu.RUnlock()

	var out []*RunSummary
	for _, s := range p.runs {
		if !s.Status.Terminal() {
			out = append(out, s.clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].QueuedAt.Before(out[j].QueuedAt) })
	return out
}

// LastCompleted returns the most recently finished run.
func (p *RunHistoryProjection) LastCompleted() *RunSummary {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if len(p.history) == 0 {
		return nil
	}
	return p.history[0].clone()
}

// LastSyncTime returns when the projection was last rebuilt.
func (p *RunHistoryProjection) LastSyncTime() time.Time {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.lastSync
}
