package main

import (
	"fmt"

	"github.com/rpcpool/zvault/checksum"
	"github.com/rpcpool/zvault/chunker"
	"github.com/rpcpool/zvault/compress"
	"github.com/rpcpool/zvault/config"
	"github.com/rpcpool/zvault/fingerprint"
	"github.com/rpcpool/zvault/layout"
	"github.com/rpcpool/zvault/repository"
	"github.com/rpcpool/zvault/zcrypto"
	"github.com/urfave/cli/v2"
)

func newCmdInit() *cli.Command {
	var (
		bundleSize  int
		compression string
		chunkerAvg  int
		checksumTy  string
		hashMethod  string
		publicKey   string
	)
	return &cli.Command{
		Name:      "init",
		Usage:     "Create a new repository.",
		ArgsUsage: "<remote-path>",
		Flags: []cli.Flag{
			&cli.IntFlag{Name: "bundle-size", Value: 25 * 1024 * 1024, Usage: "target bundle size in bytes", Destination: &bundleSize},
			&cli.StringFlag{Name: "compression", Value: "brotli/5", Usage: "compression method/level, or \"none\"", Destination: &compression},
			&cli.IntFlag{Name: "chunker-avg-size", Value: 16 * 1024, Usage: "FastCDC average chunk size in bytes", Destination: &chunkerAvg},
			&cli.StringFlag{Name: "checksum", Value: "sha3-256", Usage: "bundle checksum algorithm", Destination: &checksumTy},
			&cli.StringFlag{Name: "hash", Value: "blake2", Usage: "chunk fingerprint method", Destination: &hashMethod},
			&cli.StringFlag{Name: "encrypt-to", Usage: "hex-encoded public key new bundles are sealed to; omit for an unencrypted repository", Destination: &publicKey},
		},
		Action: func(c *cli.Context) error {
			if c.Args().Len() != 1 {
				return fmt.Errorf("init: expected exactly one argument, the remote path")
			}
			remotePath := c.Args().First()

			lay := layout.New(c.String("repo"))

			cfg := config.Default()
			cfg.BundleSize = bundleSize
			cfg.Chunker = chunker.Type{Method: "fastcdc", AvgSize: chunkerAvg}

			if compression == "none" {
				cfg.Compression = nil
			} else {
				comp, err := compress.ParseString(compression)
				if err != nil {
					return fmt.Errorf("init: %w", err)
				}
				cfg.Compression = &comp
			}

			checksumType, err := checksum.Parse(checksumTy)
			if err != nil {
				return fmt.Errorf("init: %w", err)
			}
			cfg.Checksum = checksumType

			hash, err := fingerprint.ParseMethod(hashMethod)
			if err != nil {
				return fmt.Errorf("init: %w", err)
			}
			cfg.Hash = hash

			if publicKey != "" {
				pk, err := zcrypto.ParsePublicKey(publicKey)
				if err != nil {
					return fmt.Errorf("init: %w", err)
				}
				cfg.Encryption = &pk
			}

			crypto, err := zcrypto.Open(lay.EncryptionKeysPath())
			if err != nil {
				return fmt.Errorf("init: load keys: %w", err)
			}

			repo, mode, err := repository.Create(lay, cfg, crypto, remotePath)
			if err != nil {
				return fmt.Errorf("init: %w", err)
			}
			log.Infow("repository created", "path", lay.Base(), "remote", remotePath)
			return repo.Close(mode)
		},
	}
}
