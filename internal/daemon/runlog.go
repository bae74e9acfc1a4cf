package daemon

import (
	"context"
	"errors"
	"log/slog"
	"path/filepath"

	"git.home.luguber.info/inful/docpublisher/internal/config"
	"git.home.luguber.info/inful/docpublisher/internal/eventstore"
	"git.home.luguber.info/inful/docpublisher/internal/notify"
)

// RunLogFile is the SQLite database holding the run log inside data_dir.
const RunLogFile = "runs.db"

// RunLog bundles the persistent run log with its history projection and
// the optional NATS fan-out.
type RunLog struct {
	Store      *eventstore.SQLiteStore
	Projection *eventstore.RunHistoryProjection
	Emitter    *eventstore.Emitter
	notifier   *notify.Notifier
}

// OpenRunLog opens the run log under cfg.Daemon.DataDir and replays it into
// the history projection.
func OpenRunLog(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*RunLog, error) {
	store, err := eventstore.NewSQLiteStore(filepath.Join(cfg.Daemon.DataDir, RunLogFile))
	if err != nil {
		return nil, err
	}
	projection := eventstore.NewRunHistoryProjection(store, cfg.Daemon.HistorySize)
	if err := projection.Rebuild(ctx); err != nil {
		_ = store.Close()
		return nil, err
	}

	rl := &RunLog{
		Store:      store,
		Projection: projection,
		Emitter:    eventstore.NewEmitter(store, projection, logger),
	}
	if cfg.Events.NATSURL != "" {
		n, err := notify.Connect(cfg.Events.NATSURL, cfg.Events.Subject, logger)
		if err != nil {
			_ = store.Close()
			return nil, err
		}
		rl.notifier = n
		rl.Emitter.Subscribe(n.Handle)
	}
	return rl, nil
}

// Close drains the notifier and closes the store.
func (rl *RunLog) Close() error {
	var errs []error
	if rl.notifier != nil {
		errs = append(errs, rl.notifier.Close())
	}
	errs = append(errs, rl.Store.Close())
	return errors.Join(errs...)
}
