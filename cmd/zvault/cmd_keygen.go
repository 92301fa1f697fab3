package main

import (
	"fmt"
	"path/filepath"

	"github.com/rpcpool/zvault/layout"
	"github.com/rpcpool/zvault/zcrypto"
	"github.com/urfave/cli/v2"
)

func newCmdKeygen() *cli.Command {
	return &cli.Command{
		Name:  "keygen",
		Usage: "Generate a keypair and register it in the repository's local keyring.",
		Action: func(c *cli.Context) error {
			lay := layout.New(c.String("repo"))

			pk, sk, err := zcrypto.GenKeyPair()
			if err != nil {
				return fmt.Errorf("keygen: %w", err)
			}

			path := filepath.Join(lay.EncryptionKeysPath(), pk.String()+".yaml")
			if err := zcrypto.WriteKeyfile(path, pk, sk); err != nil {
				return fmt.Errorf("keygen: %w", err)
			}

			fmt.Println(pk.String())
			return nil
		},
	}
}
