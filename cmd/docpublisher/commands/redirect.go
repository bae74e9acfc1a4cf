package commands

import (
	"fmt"

	"git.home.luguber.info/inful/docpublisher/internal/config"
	ferrors "git.home.luguber.info/inful/docpublisher/internal/foundation/errors"
	"git.home.luguber.info/inful/docpublisher/internal/site"
)

// RedirectCmd implements the 'redirect' command.
type RedirectCmd struct {
	SiteDir string `arg:"" help:"Generated site directory" type:"existingdir"`
	Target  string `short:"t" help:"Redirect target subdirectory (default: redirect.target from the config)"`
	Verify  bool   `help:"Check that the redirect target exists after writing"`
}

func (r *RedirectCmd) Run(g *Global, root *CLI) error {
	target := r.Target
	if target == "" {
		cfg, err := loadConfig(g, root)
		if err != nil {
			return err
		}
		target = cfg.Redirect.Target
	}
	if err := config.ValidateRedirectTarget(target); err != nil {
		return err
	}

	path, err := site.WriteRedirect(r.SiteDir, target)
	if err != nil {
		return err
	}
	fmt.Printf("Wrote %s -> %s/index.html\n", path, target)

	if r.Verify {
		issues := site.Verify(r.SiteDir)
		for _, issue := range issues {
			fmt.Printf("warning: %s: %s\n", issue.File, issue.Message)
		}
		if len(issues) > 0 {
			return ferrors.RedirectError("redirect target verification failed").
				WithContext("target", target).
				Build()
		}
	}
	return nil
}
