package commands

import (
	"fmt"
	"os"

	ferrors "git.home.luguber.info/inful/docpublisher/internal/foundation/errors"
)

// ValidateCmd implements the 'validate' command.
type ValidateCmd struct {
	Token bool `help:"Also require the publish token to be present in the environment"`
}

func (v *ValidateCmd) Run(g *Global, root *CLI) error {
	cfg, err := loadConfig(g, root)
	if err != nil {
		return err
	}
	if v.Token && cfg.PublishToken() == "" {
		return ferrors.AuthError("publish token is not set").
			WithContext("env", cfg.Publish.TokenEnv).
			Build()
	}
	_, _ = fmt.Fprintf(os.Stdout, "Configuration valid (hash %s)\n", cfg.Snapshot())
	_, _ = fmt.Fprintf(os.Stdout, "  source:   %s@%s\n", cfg.Source.URL, cfg.Source.Branch)
	_, _ = fmt.Fprintf(os.Stdout, "  publish:  %s@%s\n", cfg.PublishRemote(), cfg.Publish.Branch)
	_, _ = fmt.Fprintf(os.Stdout, "  redirect: %s/index.html\n", cfg.Redirect.Target)
	return nil
}
