// Package watch regenerates the site in place whenever the source tree changes.
package watch

import (
	"context"
	"io/fs"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/fsnotify/fsnotify"

	ferrors "git.home.luguber.info/inful/docpublisher/internal/foundation/errors"
	"git.home.luguber.info/inful/docpublisher/internal/logfields"
	"git.home.luguber.info/inful/docpublisher/internal/pipeline"
)

// Regenerator runs the local stages against a source directory.
type Regenerator interface {
	Regenerate(ctx context.Context, srcDir string) (*pipeline.Report, error)
}

// Watcher observes a source tree and reruns generation after changes settle.
type Watcher struct {
	root     string
	ignore   []string
	debounce time.Duration
	regen    Regenerator
	logger   *slog.Logger
	watcher  *fsnotify.Watcher

	mu      sync.Mutex
	onBuild func(*pipeline.Report, error)
}

// New creates a watcher for root. Ignore patterns are doublestar globs
// relative to root.
func New(root string, ignore []string, debounce time.Duration, regen Regenerator, logger *slog.Logger) (*Watcher, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if debounce <= 0 {
		debounce = time.Second
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, ferrors.WrapError(err, ferrors.CategoryFileSystem, "failed to resolve watch root").
			WithContext("path", root).
			Build()
	}
	for _, pattern := range ignore {
		if !doublestar.ValidatePattern(pattern) {
			return nil, ferrors.ValidationError("invalid watch ignore pattern").
				WithContext("pattern", pattern).
				Build()
		}
	}
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, ferrors.WrapError(err, ferrors.CategoryRuntime, "failed to create file watcher").Build()
	}
	return &Watcher{
		root:     abs,
		ignore:   ignore,
		debounce: debounce,
		regen:    regen,
		logger:   logger,
		watcher:  fw,
	}, nil
}

// OnBuild registers a callback invoked after every regeneration.
func (w *Watcher) OnBuild(fn func(*pipeline.Report, error)) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.onBuild = fn
}

// Ignored reports whether the slash-separated path rel is excluded.
func (w *Watcher) Ignored(rel string) bool {
	for _, pattern := range w.ignore {
		if ok, _ := doublestar.Match(pattern, rel); ok {
			return true
		}
	}
	return false
}

// Run performs an initial regeneration and then rebuilds after every burst
// of changes until ctx is canceled.
func (w *Watcher) Run(ctx context.Context) error {
	defer func() { _ = w.watcher.Close() }()

	if err := w.addTree(w.root); err != nil {
		return err
	}
	w.logger.InfoContext(ctx, "Watching source tree", logfields.Path(w.root), logfields.Duration(w.debounce))
	w.build(ctx)

	timer := time.NewTimer(w.debounce)
	timer.Stop()
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-w.watcher.Events:
			if !ok {
				return nil
			}
			if !w.relevant(event) {
				continue
			}
			if event.Has(fsnotify.Create) {
				// New directories need their own watches.
				_ = w.addTree(event.Name)
			}
			w.logger.DebugContext(ctx, "Source change detected", logfields.File(event.Name), slog.String("op", event.Op.String()))
			timer.Reset(w.debounce)
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return nil
			}
			w.logger.WarnContext(ctx, "File watcher error", logfields.Error(err))
		case <-timer.C:
			w.build(ctx)
		}
	}
}

func (w *Watcher) relevant(event fsnotify.Event) bool {
	if event.Op == fsnotify.Chmod {
		return false
	}
	rel, err := filepath.Rel(w.root, event.Name)
	if err != nil {
		return false
	}
	return !w.Ignored(filepath.ToSlash(rel))
}

// addTree watches dir and every non-ignored directory below it.
func (w *Watcher) addTree(dir string) error {
	return filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if path == dir {
				return ferrors.WrapError(err, ferrors.CategoryFileSystem, "failed to walk watch root").
					WithContext("path", path).
					Build()
			}
			return nil
		}
		if !d.IsDir() {
			return nil
		}
		if rel, relErr := filepath.Rel(w.root, path); relErr == nil && rel != "." && w.Ignored(filepath.ToSlash(rel)) {
			return filepath.SkipDir
		}
		if addErr := w.watcher.Add(path); addErr != nil {
			return ferrors.WrapError(addErr, ferrors.CategoryFileSystem, "failed to watch directory").
				WithContext("path", path).
				Build()
		}
		return nil
	})
}

func (w *Watcher) build(ctx context.Context) {
	start := time.Now()
	report, err := w.regen.Regenerate(ctx, w.root)
	if err != nil {
		w.logger.ErrorContext(ctx, "Regeneration failed", logfields.Error(err), logfields.Duration(time.Since(start)))
	} else {
		w.logger.InfoContext(ctx, "Regenerated site", logfields.Duration(time.Since(start)))
	}

	w.mu.Lock()
	fn := w.onBuild
	w.mu.Unlock()
	if fn != nil {
		fn(report, err)
	}
}
