package pipeline

import (
	"time"

	"git.home.luguber.info/inful/docpublisher/internal/version"
)

// Outcome is the final result of a run.
type Outcome string

const (
	OutcomeSuccess  Outcome = "success"
	OutcomeWarning  Outcome = "warning"
	OutcomeFailed   Outcome = "failed"
	OutcomeCanceled Outcome = "canceled"
)

// Issue is a structured finding recorded during a run.
type Issue struct {
	Stage   StageName `json:"stage"`
	Message string    `json:"message"`
	Fatal   bool      `json:"fatal"`
}

// Report captures what happened during a run.
type Report struct {
	RunID           string                      `json:"run_id"`
	Branch          string                      `json:"branch"`
	Revision        string                      `json:"revision,omitempty"`
	Commit          string                      `json:"commit,omitempty"`
	PublishedCommit string                      `json:"published_commit,omitempty"`
	PublishedFiles  int                         `json:"published_files,omitempty"`
	DryRun          bool                        `json:"dry_run,omitempty"`
	SiteDir         string                      `json:"site_dir,omitempty"`
	Start           time.Time                   `json:"start"`
	End             time.Time                   `json:"end"`
	StageDurations  map[StageName]time.Duration `json:"stage_durations"`
	StageResults    map[StageName]StageResult   `json:"stage_results"`
	StagesRun       []StageName                 `json:"stages_run"`
	FailedStage     StageName                   `json:"failed_stage,omitempty"`
	Issues          []Issue                     `json:"issues,omitempty"`
	Outcome         Outcome                     `json:"outcome"`
	ConfigHash      string                      `json:"config_hash,omitempty"`
	Version         string                      `json:"version"`
}

func newReport(req Request) *Report {
	return &Report{
		RunID:          req.RunID,
		Branch:         req.Branch,
		Revision:       req.Revision,
		DryRun:         req.DryRun,
		Start:          time.Now(),
		StageDurations: make(map[StageName]time.Duration),
		StageResults:   make(map[StageName]StageResult),
		Version:        version.Version,
	}
}

// AddWarning records a non-fatal issue.
func (r *Report) AddWarning(stage StageName, msg string) {
	r.Issues = append(r.Issues, Issue{Stage: stage, Message: msg})
}

func (r *Report) recordStage(stage StageName, d time.Duration, res StageResult) {
	r.StagesRun = append(r.StagesRun, stage)
	r.StageDurations[stage] = d
	r.StageResults[stage] = res
}

// finish derives the outcome and stamps the end time.
func (r *Report) finish(err error, canceled bool) {
	r.End = time.Now()
	switch {
	case canceled:
		r.Outcome = OutcomeCanceled
	case err != nil:
		r.Outcome = OutcomeFailed
		r.Issues = append(r.Issues, Issue{Stage: r.FailedStage, Message: err.Error(), Fatal: true})
	case len(r.Issues) > 0:
		r.Outcome = OutcomeWarning
	default:
		r.Outcome = OutcomeSuccess
	}
}

// Duration returns the wall time of the run.
func (r *Report) Duration() time.Duration {
	if r.End.IsZero() {
		return time.Since(r.Start)
	}
	return r.End.Sub(r.Start)
}

// Succeeded reports whether the run completed without a fatal error.
func (r *Report) Succeeded() bool {
	return r.Outcome == OutcomeSuccess || r.Outcome == OutcomeWarning
}
