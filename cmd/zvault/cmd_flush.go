package main

import (
	"fmt"

	"github.com/rpcpool/zvault/lock"
	"github.com/urfave/cli/v2"
)

func newCmdFlush() *cli.Command {
	return &cli.Command{
		Name:  "flush",
		Usage: "Seal any open bundle writers and persist the bundle map.",
		Action: func(c *cli.Context) error {
			repo, mode, err := openRepo(c, lock.Backup)
			if err != nil {
				return fmt.Errorf("flush: %w", err)
			}
			if err := repo.Flush(mode); err != nil {
				return closeRepo(repo, mode, fmt.Errorf("flush: %w", err))
			}
			return closeRepo(repo, mode, nil)
		},
	}
}
