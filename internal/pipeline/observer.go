package pipeline

import "time"

// Observer receives stage lifecycle callbacks. The run coordinator uses it to
// append StageCompleted/StageFailed events to the run log.
type Observer interface {
	OnStageStart(runID string, stage StageName)
	OnStageComplete(runID string, stage StageName, d time.Duration, result StageResult, err error)
}

// NoopObserver ignores all callbacks.
type NoopObserver struct{}

func (NoopObserver) OnStageStart(string, StageName)                                       {}
func (NoopObserver) OnStageComplete(string, StageName, time.Duration, StageResult, error) {}
