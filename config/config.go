// Package config loads and saves a repository's config.yaml: the
// compression codec, target bundle size, chunker parameters, bundle
// checksum algorithm, and chunk fingerprint method chosen at init time.
package config

import (
	"fmt"
	"os"

	"github.com/rpcpool/zvault/checksum"
	"github.com/rpcpool/zvault/chunker"
	"github.com/rpcpool/zvault/compress"
	"github.com/rpcpool/zvault/fingerprint"
	"github.com/rpcpool/zvault/zcrypto"
	"gopkg.in/yaml.v3"
)

// Config is a repository's immutable-after-init parameters.
type Config struct {
	// Compression is nil when bundle contents are stored uncompressed.
	Compression *compress.Compression
	BundleSize  int
	Chunker     chunker.Type
	Checksum    checksum.Type
	Hash        fingerprint.Method
	// Encryption is nil when bundles are stored unsealed. When set, it is
	// the public half of the keypair new bundles are sealed to; the
	// matching secret key is looked up from the repository's Crypto value
	// at write time, not stored here.
	Encryption *zcrypto.PublicKey
}

// Default returns the configuration a freshly initialized repository
// receives when the caller requests no overrides: brotli level 5, 25MiB
// bundles, FastCDC with a 16KiB average chunk size and seed 0, SHA3-256
// bundle checksums, and BLAKE2 chunk fingerprints.
func Default() Config {
	c := compress.Compression{Method: compress.Brotli, Level: 5}
	return Config{
		Compression: &c,
		BundleSize:  25 * 1024 * 1024,
		Chunker:     chunker.Type{Method: "fastcdc", AvgSize: 16 * 1024, Seed: 0},
		Checksum:    checksum.Sha3_256,
		Hash:        fingerprint.Blake2,
	}
}

// yamlDoc mirrors the on-disk shape: every field is a plain string/int so
// the file stays readable and editable by hand.
type yamlDoc struct {
	Compression *string `yaml:"compression"`
	BundleSize  int     `yaml:"bundle_size"`
	Chunker     struct {
		Method  string `yaml:"method"`
		AvgSize int    `yaml:"avg_size"`
		Seed    uint64 `yaml:"seed"`
	} `yaml:"chunker"`
	Checksum   string  `yaml:"checksum"`
	Hash       string  `yaml:"hash"`
	Encryption *string `yaml:"encryption"`
}

func (c Config) toYAML() yamlDoc {
	var doc yamlDoc
	if c.Compression != nil {
		s := c.Compression.String()
		doc.Compression = &s
	}
	doc.BundleSize = c.BundleSize
	doc.Chunker.Method = c.Chunker.Method
	doc.Chunker.AvgSize = c.Chunker.AvgSize
	doc.Chunker.Seed = c.Chunker.Seed
	doc.Checksum = c.Checksum.Name()
	doc.Hash = c.Hash.Name()
	if c.Encryption != nil {
		s := c.Encryption.String()
		doc.Encryption = &s
	}
	return doc
}

func fromYAML(doc yamlDoc) (Config, error) {
	var cfg Config
	if doc.Compression != nil {
		comp, err := compress.ParseString(*doc.Compression)
		if err != nil {
			return Config{}, fmt.Errorf("config: invalid compression: %w", err)
		}
		cfg.Compression = &comp
	}
	cfg.BundleSize = doc.BundleSize
	cfg.Chunker = chunker.Type{
		Method:  doc.Chunker.Method,
		AvgSize: doc.Chunker.AvgSize,
		Seed:    doc.Chunker.Seed,
	}
	if _, err := chunker.New(cfg.Chunker); err != nil {
		return Config{}, fmt.Errorf("config: invalid chunker: %w", err)
	}
	checksumType, err := checksum.Parse(doc.Checksum)
	if err != nil {
		return Config{}, fmt.Errorf("config: invalid checksum: %w", err)
	}
	cfg.Checksum = checksumType
	hashMethod, err := fingerprint.ParseMethod(doc.Hash)
	if err != nil {
		return Config{}, fmt.Errorf("config: invalid hash: %w", err)
	}
	cfg.Hash = hashMethod
	if doc.Encryption != nil {
		pk, err := zcrypto.ParsePublicKey(*doc.Encryption)
		if err != nil {
			return Config{}, fmt.Errorf("config: invalid encryption: %w", err)
		}
		cfg.Encryption = &pk
	}
	return cfg, nil
}

// Load reads and parses a repository's config.yaml.
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}
	doc := defaultYAMLDoc()
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return Config{}, fmt.Errorf("config: parse %s: %w", path, err)
	}
	return fromYAML(doc)
}

// Save writes cfg to path as YAML.
func (c Config) Save(path string) error {
	data, err := yaml.Marshal(c.toYAML())
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

func defaultYAMLDoc() yamlDoc {
	return Default().toYAML()
}
