package pipeline

import (
	"context"
	"errors"
	"fmt"

	ferrors "git.home.luguber.info/inful/docpublisher/internal/foundation/errors"
)

// StageName is a strongly-typed identifier for a pipeline stage.
type StageName string

// Canonical stage names.
const (
	StageCheckout StageName = "checkout"
	StageGenerate StageName = "generate"
	StageRedirect StageName = "redirect"
	StagePublish  StageName = "publish"
)

// PublishStages is the full run in execution order.
var PublishStages = []StageName{StageCheckout, StageGenerate, StageRedirect, StagePublish}

// LocalStages rebuilds the site in place without touching any remote.
var LocalStages = []StageName{StageGenerate, StageRedirect}

// StageResult captures the high-level outcome of a stage.
type StageResult string

const (
	StageResultSuccess  StageResult = "success"
	StageResultWarning  StageResult = "warning"
	StageResultFatal    StageResult = "fatal"
	StageResultCanceled StageResult = "canceled"
)

// StageError ties a failure to the stage that produced it.
type StageError struct {
	Stage    StageName
	Canceled bool
	Err      error
}

func (e *StageError) Error() string {
	kind := "fatal"
	if e.Canceled {
		kind = "canceled"
	}
	return fmt.Sprintf("%s stage %s: %v", kind, e.Stage, e.Err)
}

func (e *StageError) Unwrap() error { return e.Err }

// FailedStage returns the stage named by a StageError in err's chain.
func FailedStage(err error) (StageName, bool) {
	var se *StageError
	if errors.As(err, &se) {
		return se.Stage, true
	}
	return "", false
}

// stageFunc executes one stage against the run state.
type stageFunc func(ctx context.Context, rs *runState) error

// StageDef pairs a stage name with its executing function.
type StageDef struct {
	Name StageName
	Fn   stageFunc
}

// classify maps a stage error to its result.
func classify(ctx context.Context, err error) StageResult {
	switch {
	case err == nil:
		return StageResultSuccess
	case ctx.Err() != nil, ferrors.HasCategory(err, ferrors.CategoryCanceled), errors.Is(err, context.Canceled):
		return StageResultCanceled
	default:
		return StageResultFatal
	}
}
