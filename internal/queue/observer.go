package queue

import (
	"context"
	"log/slog"
	"time"

	"git.home.luguber.info/inful/docpublisher/internal/eventstore"
	"git.home.luguber.info/inful/docpublisher/internal/logfields"
	"git.home.luguber.info/inful/docpublisher/internal/pipeline"
)

// StageRecorder appends StageCompleted and StageFailed events for each
// pipeline stage.
type StageRecorder struct {
	emitter *eventstore.Emitter
	logger  *slog.Logger
}

// NewStageRecorder returns a pipeline.Observer backed by emitter.
func NewStageRecorder(emitter *eventstore.Emitter, logger *slog.Logger) *StageRecorder {
	if logger == nil {
		logger = slog.Default()
	}
	return &StageRecorder{emitter: emitter, logger: logger}
}

func (s *StageRecorder) OnStageStart(runID string, stage pipeline.StageName) {
	s.logger.Debug("Stage starting", logfields.RunID(runID), logfields.Stage(string(stage)))
}

func (s *StageRecorder) OnStageComplete(runID string, stage pipeline.StageName, d time.Duration, result pipeline.StageResult, err error) {
	ctx := context.Background()
	if err != nil {
		_ = s.emitter.EmitStageFailed(ctx, runID, string(stage), string(result), d, err.Error())
		return
	}
	_ = s.emitter.EmitStageCompleted(ctx, runID, string(stage), string(result), d)
}

var _ pipeline.Observer = (*StageRecorder)(nil)
