package commands

import (
	"context"
	"os/signal"
	"syscall"

	"git.home.luguber.info/inful/docpublisher/internal/daemon"
)

// DaemonCmd implements the 'daemon' command.
type DaemonCmd struct {
	Listen  string `short:"l" help:"Listen address (overrides daemon.listen_addr)"`
	DataDir string `short:"d" help:"Data directory for the run log (overrides daemon.data_dir)"`
}

func (d *DaemonCmd) Run(g *Global, root *CLI) error {
	cfg, err := loadConfig(g, root)
	if err != nil {
		return err
	}
	if d.Listen != "" {
		cfg.Daemon.ListenAddr = d.Listen
	}
	if d.DataDir != "" {
		cfg.Daemon.DataDir = d.DataDir
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	g.Logger.Info("Starting daemon", "config_hash", cfg.Snapshot(), "data_dir", cfg.Daemon.DataDir)
	dm, err := daemon.New(ctx, cfg, g.Logger)
	if err != nil {
		return err
	}
	return dm.Run(ctx)
}
