package main

import (
	"github.com/alecthomas/kong"

	"git.home.luguber.info/inful/docpublisher/cmd/docpublisher/commands"
	ferrors "git.home.luguber.info/inful/docpublisher/internal/foundation/errors"
	"git.home.luguber.info/inful/docpublisher/internal/version"
)

func main() {
	cli := &commands.CLI{}
	global := &commands.Global{}
	parser := kong.Parse(cli,
		kong.Name("docpublisher"),
		kong.Description("Generate library documentation and publish it to a static hosting branch."),
		kong.UsageOnError(),
		kong.Vars{"version": version.String()},
		kong.Bind(global),
	)
	if err := parser.Run(global, cli); err != nil {
		ferrors.NewCLIErrorAdapter(cli.Verbose, global.Logger).HandleError(err)
	}
}
