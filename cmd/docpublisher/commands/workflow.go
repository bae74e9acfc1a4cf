package commands

import (
	"bytes"
	"fmt"
	"os"

	ferrors "git.home.luguber.info/inful/docpublisher/internal/foundation/errors"
	"git.home.luguber.info/inful/docpublisher/internal/workflow"
)

// WorkflowCmd implements the 'workflow' command.
type WorkflowCmd struct {
	Output string `short:"o" help:"Write to this file instead of stdout" type:"path"`
}

func (w *WorkflowCmd) Run(g *Global, root *CLI) error {
	cfg, err := loadConfig(g, root)
	if err != nil {
		return err
	}
	var buf bytes.Buffer
	if err := workflow.Render(&buf, cfg); err != nil {
		return ferrors.WrapError(err, ferrors.CategoryInternal, "failed to render workflow").Build()
	}
	if w.Output == "" {
		_, err := os.Stdout.Write(buf.Bytes())
		return err
	}
	// #nosec G306 -- workflow files are committed to the repository
	if err := os.WriteFile(w.Output, buf.Bytes(), 0o644); err != nil {
		return ferrors.WrapError(err, ferrors.CategoryFileSystem, "failed to write workflow").
			WithContext("path", w.Output).
			Build()
	}
	fmt.Printf("Wrote %s\n", w.Output)
	return nil
}
