// Command zvault drives a zvault repository from the command line: init,
// put, get, flush, sync, check, and vacuum.
package main

import (
	"context"
	"os"
	"os/signal"
	"sort"
	"syscall"

	logging "github.com/ipfs/go-log/v2"
	"github.com/urfave/cli/v2"
)

var log = logging.Logger("zvault/cmd")

var gitCommitSHA = ""

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		interrupt := make(chan os.Signal, 1)
		signal.Notify(interrupt, syscall.SIGTERM, syscall.SIGINT)

		select {
		case <-interrupt:
			log.Info("received interrupt signal")
			cancel()
		case <-ctx.Done():
		}

		signal.Stop(interrupt)
	}()

	app := &cli.App{
		Name:        "zvault",
		Version:     gitCommitSHA,
		Description: "Content-addressed, deduplicating, encrypted backup repository.",
		Flags: []cli.Flag{
			FlagRepo,
		},
		Commands: []*cli.Command{
			newCmdInit(),
			newCmdKeygen(),
			newCmdPut(),
			newCmdGet(),
			newCmdFlush(),
			newCmdSync(),
			newCmdCheck(),
			newCmdVacuum(),
		},
	}

	sort.Sort(cli.FlagsByName(app.Flags))
	sort.Sort(cli.CommandsByName(app.Commands))

	if err := app.RunContext(ctx, os.Args); err != nil {
		log.Fatal(err)
	}
}

// FlagRepo is the local repository directory every subcommand operates
// against.
var FlagRepo = &cli.StringFlag{
	Name:    "repo",
	Aliases: []string{"r"},
	Usage:   "path to the local repository directory",
	Value:   ".zvault",
	EnvVars: []string{"ZVAULT_REPO"},
}
