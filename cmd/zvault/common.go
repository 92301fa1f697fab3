package main

import (
	"fmt"

	"github.com/rpcpool/zvault/layout"
	"github.com/rpcpool/zvault/lock"
	"github.com/rpcpool/zvault/repository"
	"github.com/rpcpool/zvault/zcrypto"
	"github.com/urfave/cli/v2"
)

// openRepo opens the repository rooted at the --repo flag's path under
// level, loading any registered keys from its local keys directory.
func openRepo(c *cli.Context, level lock.AccessLevel) (*repository.Repository, *lock.Mode, error) {
	lay := layout.New(c.String("repo"))
	crypto, err := zcrypto.Open(lay.EncryptionKeysPath())
	if err != nil {
		return nil, nil, fmt.Errorf("load keys: %w", err)
	}
	return repository.Open(lay, crypto, level)
}

// closeRepo releases mode and reports any error closing repo, preferring
// the caller's existing error if one is already in flight.
func closeRepo(repo *repository.Repository, mode *lock.Mode, existing error) error {
	if err := repo.Close(mode); err != nil && existing == nil {
		return err
	}
	return existing
}
