package main

import (
	"context"
	"flag"
	"fmt"

	"github.com/google/subcommands"

	"github.com/vaultdesk/pnl-engine/internal/pnl"
)

type methodsCmd struct{}

func (*methodsCmd) Name() string     { return "methods" }
func (*methodsCmd) Synopsis() string { return "list accepted accounting methods" }
func (*methodsCmd) Usage() string {
	return `pnlctl methods

  Prints the accounting methods accepted by -method, one per line.
`
}
func (*methodsCmd) SetFlags(*flag.FlagSet) {}

func (*methodsCmd) Execute(_ context.Context, _ *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	for _, m := range pnl.Methods {
		fmt.Println(m)
	}
	return subcommands.ExitSuccess
}
