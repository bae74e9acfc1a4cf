// Package workflow renders the CI workflow equivalent of a publishing
// configuration, for hosts that prefer running the pipeline in CI.
package workflow

import (
	"bytes"
	"fmt"
	"io"
	"path"
	"strings"

	"gopkg.in/yaml.v3"

	"git.home.luguber.info/inful/docpublisher/internal/config"
	"git.home.luguber.info/inful/docpublisher/internal/site"
)

const (
	checkoutAction = "actions/checkout@v4"
	publishAction  = "JamesIves/github-pages-deploy-action@v4"
)

// Workflow is a GitHub/Forgejo Actions workflow document.
type Workflow struct {
	Name        string         `yaml:"name"`
	On          Triggers       `yaml:"on"`
	Concurrency Concurrency    `yaml:"concurrency"`
	Jobs        map[string]Job `yaml:"jobs"`
}

// Triggers lists the events that start the workflow.
type Triggers struct {
	Push BranchFilter `yaml:"push"`
}

// BranchFilter restricts an event to branches.
type BranchFilter struct {
	Branches []string `yaml:"branches"`
}

// Concurrency cancels in-flight runs of the same group.
type Concurrency struct {
	Group            string `yaml:"group"`
	CancelInProgress bool   `yaml:"cancel-in-progress"`
}

// Job is a single workflow job.
type Job struct {
	RunsOn string `yaml:"runs-on"`
	Steps  []Step `yaml:"steps"`
}

// Step is one job step; either Uses or Run is set.
type Step struct {
	Name string            `yaml:"name,omitempty"`
	Uses string            `yaml:"uses,omitempty"`
	Run  string            `yaml:"run,omitempty"`
	With map[string]string `yaml:"with,omitempty"`
	Env  map[string]string `yaml:"env,omitempty"`
}

// Build derives the workflow from cfg.
func Build(cfg *config.Config) Workflow {
	outputDir := path.Clean(cfg.Generator.OutputDir)
	redirect := strings.TrimSuffix(string(site.RedirectPage(cfg.Redirect.Target)), "\n")

	steps := []Step{
		{Uses: checkoutAction},
		{
			Name: "Build documentation",
			Run:  strings.Join(cfg.Generator.Command, " "),
			Env:  cfg.Generator.Env,
		},
		{
			Name: "Write redirect",
			Run:  fmt.Sprintf("echo %s > %s", shellQuote(redirect), path.Join(outputDir, site.IndexFile)),
		},
		{
			Name: "Deploy",
			Uses: publishAction,
			With: map[string]string{
				"branch": cfg.Publish.Branch,
				"folder": outputDir,
				"token":  "${{ secrets." + cfg.Publish.TokenEnv + " }}",
			},
		},
	}

	return Workflow{
		Name:        "Docs",
		On:          Triggers{Push: BranchFilter{Branches: []string{cfg.Trigger.Branch}}},
		Concurrency: Concurrency{Group: "pages-" + cfg.Trigger.Branch, CancelInProgress: cfg.Concurrency.CancelsSuperseded()},
		Jobs:        map[string]Job{"docs": {RunsOn: "ubuntu-latest", Steps: steps}},
	}
}

// Render writes the workflow YAML for cfg to w.
func Render(w io.Writer, cfg *config.Config) error {
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(Build(cfg)); err != nil {
		return err
	}
	if err := enc.Close(); err != nil {
		return err
	}
	_, err := w.Write(buf.Bytes())
	return err
}

// shellQuote wraps s in single quotes for a POSIX shell.
func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}
