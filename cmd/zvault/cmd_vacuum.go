package main

import (
	"fmt"
	"os"

	"github.com/rpcpool/zvault/chunk"
	"github.com/rpcpool/zvault/lock"
	"github.com/urfave/cli/v2"
)

func newCmdVacuum() *cli.Command {
	var ratio float64
	var combine bool
	var force bool
	return &cli.Command{
		Name:      "vacuum",
		Usage:     "Reclaim space from bundles with little live data left, as judged against the supplied manifests.",
		ArgsUsage: "<manifest>...",
		Description: "Each manifest argument is a chunk-list written by put, standing in for one live backup's " +
			"root: a chunk absent from every manifest is treated as unreachable and its bundle space reclaimable.",
		Flags: []cli.Flag{
			&cli.Float64Flag{Name: "ratio", Value: 0.5, Usage: "reclaim bundles at or below this live-data ratio", Destination: &ratio},
			&cli.BoolFlag{Name: "combine", Usage: "also merge small, fully-live bundles to reduce bundle count", Destination: &combine},
			&cli.BoolFlag{Name: "force", Usage: "actually rewrite and delete; without this, only report the projected reclaim", Destination: &force},
		},
		Action: func(c *cli.Context) error {
			if c.Args().Len() == 0 {
				return fmt.Errorf("vacuum: expected at least one manifest argument")
			}

			var roots []chunk.List
			for _, path := range c.Args().Slice() {
				raw, err := os.ReadFile(path)
				if err != nil {
					return fmt.Errorf("vacuum: %w", err)
				}
				list, err := chunk.Decode(raw)
				if err != nil {
					return fmt.Errorf("vacuum: %s: %w", path, err)
				}
				roots = append(roots, list)
			}

			repo, mode, err := openRepo(c, lock.Vacuum)
			if err != nil {
				return fmt.Errorf("vacuum: %w", err)
			}

			report, err := repo.Vacuum(ratio, combine, force, mode, roots)
			if err != nil {
				return closeRepo(repo, mode, fmt.Errorf("vacuum: %w", err))
			}

			log.Infow("vacuum", "selected", len(report.BundlesSelected), "projected_reclaim_bytes", report.ProjectedReclaim, "applied", report.Applied)
			return closeRepo(repo, mode, nil)
		},
	}
}
