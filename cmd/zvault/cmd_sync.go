package main

import (
	"fmt"

	"github.com/rpcpool/zvault/lock"
	"github.com/urfave/cli/v2"
)

func newCmdSync() *cli.Command {
	return &cli.Command{
		Name:  "sync",
		Usage: "Reconcile the local view of the remote bundle directory: fold in bundles another process uploaded, drop bundles that vanished.",
		Action: func(c *cli.Context) error {
			repo, mode, err := openRepo(c, lock.Online)
			if err != nil {
				return fmt.Errorf("sync: %w", err)
			}
			if err := repo.Synchronize(mode); err != nil {
				return closeRepo(repo, mode, fmt.Errorf("sync: %w", err))
			}
			return closeRepo(repo, mode, nil)
		},
	}
}
