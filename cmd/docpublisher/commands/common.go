package commands

import (
	"log/slog"
	"os"

	"github.com/alecthomas/kong"

	"git.home.luguber.info/inful/docpublisher/internal/config"
	"git.home.luguber.info/inful/docpublisher/internal/observability"
)

// Global carries state shared by every subcommand.
type Global struct {
	Logger *slog.Logger
}

// CLI definition & global flags.
type CLI struct {
	Config    string           `short:"c" help:"Configuration file path" default:"docpublisher.yaml" type:"path"`
	Verbose   bool             `short:"v" help:"Enable verbose logging"`
	LogFormat string           `help:"Log output format (text or json)" default:"text" enum:"text,json"`
	Version   kong.VersionFlag `name:"version" help:"Show version and exit"`

	Publish  PublishCmd  `cmd:"" help:"Check out, generate, write the redirect and publish the hosting branch once"`
	Daemon   DaemonCmd   `cmd:"" help:"Serve webhooks and poll for pushes, publishing on every change"`
	Watch    WatchCmd    `cmd:"" help:"Regenerate a local checkout whenever its sources change (no publish)"`
	Redirect RedirectCmd `cmd:"" help:"Write the root redirect page into a site directory"`
	History  HistoryCmd  `cmd:"" help:"Show recorded runs"`
	Workflow WorkflowCmd `cmd:"" help:"Print the equivalent CI workflow"`
	Init     InitCmd     `cmd:"" help:"Write an example configuration file"`
	Validate ValidateCmd `cmd:"" help:"Load and validate the configuration"`
}

// AfterApply runs after flag parsing and sets up logging once.
func (c *CLI) AfterApply(g *Global) error {
	level := slog.LevelInfo
	if c.Verbose {
		level = slog.LevelDebug
	}
	g.Logger = observability.NewLogger(os.Stderr, level, c.LogFormat)
	slog.SetDefault(g.Logger)
	return nil
}

// loadConfig loads the configuration and applies its monitoring level
// unless -v already asked for debug output.
func loadConfig(g *Global, root *CLI) (*config.Config, error) {
	cfg, err := config.Load(root.Config)
	if err != nil {
		return nil, err
	}
	if !root.Verbose && cfg.Monitoring.LogLevel != "" {
		format := root.LogFormat
		if cfg.Monitoring.LogFormat != "" && format == "text" {
			format = string(cfg.Monitoring.LogFormat)
		}
		g.Logger = observability.NewLogger(os.Stderr, observability.ParseLevel(string(cfg.Monitoring.LogLevel)), format)
		slog.SetDefault(g.Logger)
	}
	return cfg, nil
}
