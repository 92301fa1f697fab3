package main

import (
	"fmt"
	"os"

	"github.com/rpcpool/zvault/chunk"
	"github.com/rpcpool/zvault/lock"
	"github.com/urfave/cli/v2"
)

func newCmdGet() *cli.Command {
	return &cli.Command{
		Name:      "get",
		Usage:     "Reassemble a file's content from a manifest written by put.",
		ArgsUsage: "<manifest> <output-file>",
		Action: func(c *cli.Context) error {
			if c.Args().Len() != 2 {
				return fmt.Errorf("get: expected two arguments, the manifest and the output path")
			}
			manifestPath := c.Args().Get(0)
			outPath := c.Args().Get(1)

			raw, err := os.ReadFile(manifestPath)
			if err != nil {
				return fmt.Errorf("get: %w", err)
			}
			list, err := chunk.Decode(raw)
			if err != nil {
				return fmt.Errorf("get: %w", err)
			}

			repo, mode, err := openRepo(c, lock.Readonly)
			if err != nil {
				return fmt.Errorf("get: %w", err)
			}

			data, err := repo.GetData(list)
			if err != nil {
				return closeRepo(repo, mode, fmt.Errorf("get: %w", err))
			}

			if err := os.WriteFile(outPath, data, 0o644); err != nil {
				return closeRepo(repo, mode, fmt.Errorf("get: write output: %w", err))
			}

			log.Infow("restored", "manifest", manifestPath, "output", outPath, "bytes", len(data))
			return closeRepo(repo, mode, nil)
		},
	}
}
