package commands

import (
	"context"
	"os/signal"
	"path/filepath"
	"syscall"

	"git.home.luguber.info/inful/docpublisher/internal/pipeline"
	"git.home.luguber.info/inful/docpublisher/internal/watch"
)

// WatchCmd implements the 'watch' command.
type WatchCmd struct {
	Dir string `arg:"" optional:"" help:"Source checkout to watch" default:"." type:"existingdir"`
}

func (w *WatchCmd) Run(g *Global, root *CLI) error {
	cfg, err := loadConfig(g, root)
	if err != nil {
		return err
	}
	ignore := append([]string{}, cfg.Watch.Ignore...)
	if rel, ok := relativeInside(w.Dir, root.Config); ok {
		ignore = append(ignore, rel)
	}

	publisher, err := pipeline.NewPublisher(cfg, pipeline.WithLogger(g.Logger))
	if err != nil {
		return err
	}
	watcher, err := watch.New(w.Dir, ignore, cfg.DebounceInterval(), publisher, g.Logger)
	if err != nil {
		return err
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()
	return watcher.Run(ctx)
}

// relativeInside returns path relative to dir in slash form when path lies below dir.
func relativeInside(dir, path string) (string, bool) {
	absDir, err := filepath.Abs(dir)
	if err != nil {
		return "", false
	}
	absPath, err := filepath.Abs(path)
	if err != nil {
		return "", false
	}
	rel, err := filepath.Rel(absDir, absPath)
	if err != nil || !filepath.IsLocal(rel) {
		return "", false
	}
	return filepath.ToSlash(rel), true
}
