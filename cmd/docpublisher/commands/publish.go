package commands

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"git.home.luguber.info/inful/docpublisher/internal/daemon"
	"git.home.luguber.info/inful/docpublisher/internal/eventstore"
	"git.home.luguber.info/inful/docpublisher/internal/logfields"
	"git.home.luguber.info/inful/docpublisher/internal/observability"
	"git.home.luguber.info/inful/docpublisher/internal/pipeline"
	"git.home.luguber.info/inful/docpublisher/internal/queue"
)

// PublishCmd implements the 'publish' command.
type PublishCmd struct {
	Revision      string `short:"r" help:"Commit, tag or branch to publish (default: branch head)"`
	Branch        string `short:"b" help:"Source branch (default: source.branch)"`
	DryRun        bool   `help:"Run every stage but skip the push"`
	KeepWorkspace bool   `help:"Keep the temporary workspace for inspection"`
	NoRecord      bool   `help:"Do not append the run to the run log"`
}

func (p *PublishCmd) Run(g *Global, root *CLI) error {
	cfg, err := loadConfig(g, root)
	if err != nil {
		return err
	}
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	shutdownTracing, err := observability.SetupTracing(ctx, cfg.Monitoring.TracingEndpoint)
	if err != nil {
		g.Logger.Warn("Tracing disabled", logfields.Error(err))
	}
	defer func() { _ = shutdownTracing(context.Background()) }()

	var emitter *eventstore.Emitter
	opts := []pipeline.Option{
		pipeline.WithLogger(g.Logger),
		pipeline.WithKeepWorkspace(p.KeepWorkspace),
	}
	if !p.NoRecord {
		rl, err := daemon.OpenRunLog(ctx, cfg, g.Logger)
		if err != nil {
			return err
		}
		defer func() { _ = rl.Close() }()
		emitter = rl.Emitter
		opts = append(opts, pipeline.WithObserver(queue.NewStageRecorder(emitter, g.Logger)))
	}

	publisher, err := pipeline.NewPublisher(cfg, opts...)
	if err != nil {
		return err
	}
	coord := queue.New(publisher, emitter, queue.Options{Logger: g.Logger, MaxQueue: 1})
	coord.Start(ctx)
	defer func() {
		stopCtx, stop := context.WithTimeout(context.Background(), 10*time.Second)
		defer stop()
		coord.Stop(stopCtx)
	}()

	ticket, err := coord.Submit(ctx, pipeline.Request{
		Trigger:  "manual",
		Branch:   p.Branch,
		Revision: p.Revision,
		DryRun:   p.DryRun,
	})
	if err != nil {
		return err
	}
	res, err := ticket.Wait(ctx)
	if err != nil {
		return err
	}
	printReport(os.Stdout, res)
	return res.Err
}

func printReport(w io.Writer, res queue.Result) {
	_, _ = fmt.Fprintf(w, "Run %s: %s\n", res.RunID, res.Status)
	r := res.Report
	if r == nil {
		return
	}
	if r.Commit != "" {
		_, _ = fmt.Fprintf(w, "  source commit:    %s\n", r.Commit)
	}
	for _, stage := range r.StagesRun {
		_, _ = fmt.Fprintf(w, "  %-10s %-8s %s\n", stage, r.StageResults[stage], r.StageDurations[stage].Round(time.Millisecond))
	}
	if r.PublishedCommit != "" {
		_, _ = fmt.Fprintf(w, "  published commit: %s (%d files)\n", r.PublishedCommit, r.PublishedFiles)
	}
	if r.DryRun && r.SiteDir != "" {
		_, _ = fmt.Fprintf(w, "  site directory:   %s\n", r.SiteDir)
	}
	for _, issue := range r.Issues {
		_, _ = fmt.Fprintf(w, "  warning [%s]: %s\n", issue.Stage, issue.Message)
	}
}
