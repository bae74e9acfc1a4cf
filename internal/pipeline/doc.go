// Package pipeline runs the publishing stages for one run.
//
// The stages are fixed and strictly ordered:
//
//	checkout -> generate -> redirect -> publish
//
// The first failing stage aborts the run and no later stage executes, so a
// generator failure can never lead to a publish. Each stage's duration and
// result are recorded on the run Report and forwarded to the metrics Recorder
// and any Observer.
package pipeline
