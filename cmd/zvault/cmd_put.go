package main

import (
	"fmt"
	"os"

	"github.com/rpcpool/zvault/bundle"
	"github.com/rpcpool/zvault/lock"
	"github.com/urfave/cli/v2"
)

func newCmdPut() *cli.Command {
	var manifestPath string
	var asMeta bool
	return &cli.Command{
		Name:      "put",
		Usage:     "Store a file's content, deduplicated against the repository, and write a manifest describing it.",
		ArgsUsage: "<file>",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "manifest", Usage: "where to write the chunk-list manifest (default: <file>.zvault-manifest)", Destination: &manifestPath},
			&cli.BoolFlag{Name: "meta", Usage: "store as metadata bundles instead of data bundles", Destination: &asMeta},
		},
		Action: func(c *cli.Context) error {
			if c.Args().Len() != 1 {
				return fmt.Errorf("put: expected exactly one argument, the file to store")
			}
			inPath := c.Args().First()
			if manifestPath == "" {
				manifestPath = inPath + ".zvault-manifest"
			}

			repo, mode, err := openRepo(c, lock.Backup)
			if err != nil {
				return fmt.Errorf("put: %w", err)
			}

			f, err := os.Open(inPath)
			if err != nil {
				return closeRepo(repo, mode, fmt.Errorf("put: %w", err))
			}
			defer f.Close()

			mode2 := bundle.Data
			if asMeta {
				mode2 = bundle.Meta
			}

			list, err := repo.PutStream(mode2, f, mode)
			if err != nil {
				return closeRepo(repo, mode, fmt.Errorf("put: %w", err))
			}
			if err := repo.Flush(mode); err != nil {
				return closeRepo(repo, mode, fmt.Errorf("put: %w", err))
			}

			if err := os.WriteFile(manifestPath, list.Encode(), 0o644); err != nil {
				return closeRepo(repo, mode, fmt.Errorf("put: write manifest: %w", err))
			}

			log.Infow("stored", "file", inPath, "chunks", len(list), "bytes", list.TotalSize(), "manifest", manifestPath)
			return closeRepo(repo, mode, nil)
		},
	}
}
