package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"git.home.luguber.info/inful/docpublisher/internal/daemon"
	"git.home.luguber.info/inful/docpublisher/internal/eventstore"
	ferrors "git.home.luguber.info/inful/docpublisher/internal/foundation/errors"
)

// HistoryCmd implements the 'history' command.
type HistoryCmd struct {
	Limit int    `short:"n" help:"Maximum number of completed runs to show" default:"20"`
	JSON  bool   `help:"Print JSON instead of a table"`
	RunID string `arg:"" optional:"" name:"run" help:"Show a single run"`
}

func (h *HistoryCmd) Run(g *Global, root *CLI) error {
	cfg, err := loadConfig(g, root)
	if err != nil {
		return err
	}
	rl, err := daemon.OpenRunLog(context.Background(), cfg, g.Logger)
	if err != nil {
		return err
	}
	defer func() { _ = rl.Close() }()
	return h.print(os.Stdout, rl.Projection)
}

func (h *HistoryCmd) print(w io.Writer, projection *eventstore.RunHistoryProjection) error {
	var runs []*eventstore.RunSummary
	if h.RunID != "" {
		run, ok := projection.GetRun(h.RunID)
		if !ok {
			return ferrors.NewError(ferrors.CategoryNotFound, "run not found").
				WithContext("run_id", h.RunID).
				Build()
		}
		runs = []*eventstore.RunSummary{run}
	} else {
		runs = projection.GetHistory()
		if h.Limit > 0 && len(runs) > h.Limit {
			runs = runs[:h.Limit]
		}
	}

	if h.JSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(runs)
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(tw, "RUN\tSTATUS\tTRIGGER\tQUEUED\tDURATION\tDETAIL")
	for _, r := range runs {
		detail := r.Error
		if r.FailedStage != "" {
			detail = r.FailedStage + ": " + detail
		}
		if r.PublishedCommit != "" {
			detail = "published " + r.PublishedCommit
		}
		_, _ = fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n",
			r.RunID, r.Status, r.Trigger,
			r.QueuedAt.Local().Format(time.DateTime),
			r.Duration.Round(time.Millisecond), detail)
	}
	return tw.Flush()
}
