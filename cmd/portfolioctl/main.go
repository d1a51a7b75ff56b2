// Command portfolioctl talks to a running PortfolioLedger over gRPC and
// manages local Ed25519 keypair files.
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

	commander.Register(&keygenCmd{}, "keys")
	commander.Register(&pubkeyCmd{}, "keys")

	commander.Register(&deriveCmd{}, "portfolios")
	commander.Register(&initCmd{}, "portfolios")
	commander.Register(&showCmd{}, "portfolios")

	commander.Register(&airdropCmd{}, "wallets")
	commander.Register(&accountCmd{}, "wallets")

	commander.Register(&journalsCmd{}, "audit")
	commander.Register(&verifyCmd{}, "audit")

	flag.Parse()
	os.Exit(int(commander.Execute(context.Background())))
}
