package main

import (
	"fmt"

	"github.com/rpcpool/zvault/lock"
	"github.com/urfave/cli/v2"
)

func newCmdCheck() *cli.Command {
	var full bool
	var repair bool
	return &cli.Command{
		Name:  "check",
		Usage: "Validate index and bundle-map consistency against the remote bundle store.",
		Flags: []cli.Flag{
			&cli.BoolFlag{Name: "full", Usage: "also verify every bundle's checksum", Destination: &full},
			&cli.BoolFlag{Name: "repair", Usage: "rebuild the bundle map and index from scratch instead of just reporting", Destination: &repair},
		},
		Action: func(c *cli.Context) error {
			level := lock.Online
			if repair {
				level = lock.Vacuum
			}
			repo, mode, err := openRepo(c, level)
			if err != nil {
				return fmt.Errorf("check: %w", err)
			}

			if repair {
				if err := repo.CheckRepair(mode); err != nil {
					return closeRepo(repo, mode, fmt.Errorf("check: repair: %w", err))
				}
				log.Info("repository repaired")
				return closeRepo(repo, mode, nil)
			}

			if err := repo.Check(full, mode); err != nil {
				return closeRepo(repo, mode, fmt.Errorf("check: %w", err))
			}
			log.Info("repository is consistent")
			return closeRepo(repo, mode, nil)
		},
	}
}
