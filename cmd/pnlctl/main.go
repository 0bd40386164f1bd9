// Command pnlctl runs trade files through the pnl engine offline.
package main

import (
	"context"
	"flag"
	"os"
	"path"

	"github.com/google/subcommands"
)

func main() {
	commander := subcommands.NewCommander(flag.CommandLine, path.Base(os.Args[0]))
	commander.Register(commander.HelpCommand(), "")
	commander.Register(commander.FlagsCommand(), "")
	commander.Register(commander.CommandsCommand(), "")

	commander.Register(&replayCmd{}, "accounting")
	commander.Register(&methodsCmd{}, "accounting")

	flag.Parse()
	os.Exit(int(commander.Execute(context.Background())))
}
