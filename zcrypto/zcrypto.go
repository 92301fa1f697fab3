// Package zcrypto implements the repository's sealed-box public-key
// encryption: an anonymous ephemeral-sender X25519 key exchange feeding
// XSalsa20-Poly1305, plus a key-file store and password-derived keypairs.
package zcrypto

import (
	"crypto/rand"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	logging "github.com/ipfs/go-log/v2"
	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/blake2b"
	"golang.org/x/crypto/curve25519"
	"golang.org/x/crypto/nacl/box"
	"gopkg.in/yaml.v3"
)

var log = logging.Logger("zvault/zcrypto")

const keySize = 32

// PublicKey is an X25519 public key.
type PublicKey [keySize]byte

// SecretKey is an X25519 secret key.
type SecretKey [keySize]byte

func (pk PublicKey) String() string { return hexEncode(pk[:]) }

// ParsePublicKey decodes the hex representation produced by String.
func ParsePublicKey(s string) (PublicKey, error) {
	b, err := hexDecode(s)
	if err != nil {
		return PublicKey{}, fmt.Errorf("zcrypto: parse public key: %w", err)
	}
	if len(b) != keySize {
		return PublicKey{}, fmt.Errorf("zcrypto: invalid public key length %d, expected %d", len(b), keySize)
	}
	var pk PublicKey
	copy(pk[:], b)
	return pk, nil
}

// Method identifies an encryption scheme. Sodium is the only method
// currently implemented, mirroring the reference implementation.
type Method uint8

const Sodium Method = 1

// Encryption names the method and recipient public key a payload was (or
// should be) sealed with.
type Encryption struct {
	Method    Method
	PublicKey PublicKey
}

type errMissingKey struct{ pk PublicKey }

func (e errMissingKey) Error() string {
	return fmt.Sprintf("zcrypto: missing secret key for %s", e.pk)
}

// MissingKey builds the error Crypto.Decrypt/GetSecretKey return when the
// secret half of pk is not loaded.
func MissingKey(pk PublicKey) error { return errMissingKey{pk} }

// Crypto holds an in-memory keyring loaded from a directory of YAML
// key-files, one file per pair. The repository configuration stores only a
// public key; decrypting requires the matching secret key to have been
// registered here first.
type Crypto struct {
	path string
	mu   sync.RWMutex
	keys map[PublicKey]SecretKey
}

// Dummy returns a Crypto with no backing directory and no keys, suitable
// for repositories that never use encryption.
func Dummy() *Crypto {
	return &Crypto{keys: make(map[PublicKey]SecretKey)}
}

// Open loads every "*.yaml" key-file in dir into a new Crypto.
func Open(dir string) (*Crypto, error) {
	c := &Crypto{path: dir, keys: make(map[PublicKey]SecretKey)}
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return c, nil
		}
		return nil, err
	}
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".yaml") {
			continue
		}
		if err := c.RegisterKeyfile(filepath.Join(dir, e.Name())); err != nil {
			log.Warnf("zcrypto: skipping key-file %s: %v", e.Name(), err)
		}
	}
	return c, nil
}

type keyfileYAML struct {
	Public string `yaml:"public"`
	Secret string `yaml:"secret"`
}

// RegisterKeyfile loads a single YAML key-file and adds it to the keyring.
func (c *Crypto) RegisterKeyfile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	var kf keyfileYAML
	if err := yaml.Unmarshal(data, &kf); err != nil {
		return fmt.Errorf("zcrypto: parse key-file %s: %w", path, err)
	}
	pubBytes, err := hexDecode(kf.Public)
	if err != nil || len(pubBytes) != keySize {
		return fmt.Errorf("zcrypto: invalid public key in %s", path)
	}
	secBytes, err := hexDecode(kf.Secret)
	if err != nil || len(secBytes) != keySize {
		return fmt.Errorf("zcrypto: invalid secret key in %s", path)
	}
	var pk PublicKey
	var sk SecretKey
	copy(pk[:], pubBytes)
	copy(sk[:], secBytes)
	c.AddSecretKey(pk, sk)
	return nil
}

// WriteKeyfile persists (pk, sk) as a YAML key-file at path.
func WriteKeyfile(path string, pk PublicKey, sk SecretKey) error {
	data, err := yaml.Marshal(keyfileYAML{Public: hexEncode(pk[:]), Secret: hexEncode(sk[:])})
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o600)
}

// AddSecretKey registers a (public, secret) pair directly.
func (c *Crypto) AddSecretKey(pk PublicKey, sk SecretKey) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.keys[pk] = sk
}

// ContainsSecretKey reports whether the secret half of pk is loaded.
func (c *Crypto) ContainsSecretKey(pk PublicKey) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.keys[pk]
	return ok
}

// GetSecretKey returns the secret half of pk, or MissingKey(pk).
func (c *Crypto) GetSecretKey(pk PublicKey) (SecretKey, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	sk, ok := c.keys[pk]
	if !ok {
		return SecretKey{}, MissingKey(pk)
	}
	return sk, nil
}

// GenKeyPair generates a fresh random X25519 keypair.
func GenKeyPair() (PublicKey, SecretKey, error) {
	pub, priv, err := box.GenerateKey(rand.Reader)
	if err != nil {
		return PublicKey{}, SecretKey{}, err
	}
	return PublicKey(*pub), SecretKey(*priv), nil
}

// passwordSalt is fixed so that a password always derives the same keypair;
// it does not need to reproduce any external wire format byte-for-byte,
// only the same shape: fixed salt, memory-hard KDF, X25519 seed.
var passwordSalt = []byte("the_great_zvault_password_salt_1")

// KeypairFromPassword derives an X25519 keypair deterministically from a
// password using Argon2i with a fixed salt.
func KeypairFromPassword(password []byte) (PublicKey, SecretKey) {
	seed := argon2.Key(password, passwordSalt, 3, 64*1024, 4, keySize)
	var sk SecretKey
	copy(sk[:], seed)
	sk[0] &= 248
	sk[31] &= 127
	sk[31] |= 64
	var pk PublicKey
	pkBytes, _ := curve25519.X25519(sk[:], curve25519.Basepoint)
	copy(pk[:], pkBytes)
	return pk, sk
}

// sealNonce derives the libsodium-style sealed-box nonce: a BLAKE2b hash of
// the ephemeral public key followed by the recipient public key.
func sealNonce(ephemeralPK, recipientPK PublicKey) [24]byte {
	h, _ := blake2b.New(24, nil)
	h.Write(ephemeralPK[:])
	h.Write(recipientPK[:])
	var nonce [24]byte
	copy(nonce[:], h.Sum(nil))
	return nonce
}

// Encrypt seals data for recipient pk using an ephemeral sender keypair;
// the ephemeral public key is prepended to the returned ciphertext.
func (c *Crypto) Encrypt(data []byte, pk PublicKey) ([]byte, error) {
	ephPub, ephSec, err := box.GenerateKey(rand.Reader)
	if err != nil {
		return nil, err
	}
	nonce := sealNonce(PublicKey(*ephPub), pk)
	recipient := [keySize]byte(pk)
	out := make([]byte, 0, keySize+box.Overhead+len(data))
	out = append(out, ephPub[:]...)
	out = box.Seal(out, data, &nonce, &recipient, ephSec)
	return out, nil
}

// Decrypt opens a sealed-box payload produced by Encrypt, using the secret
// key registered for pk.
func (c *Crypto) Decrypt(data []byte, pk PublicKey) ([]byte, error) {
	if len(data) < keySize {
		return nil, fmt.Errorf("zcrypto: ciphertext too short")
	}
	sk, err := c.GetSecretKey(pk)
	if err != nil {
		return nil, err
	}
	var ephPub [keySize]byte
	copy(ephPub[:], data[:keySize])
	nonce := sealNonce(PublicKey(ephPub), pk)
	secret := [keySize]byte(sk)
	out, ok := box.Open(nil, data[keySize:], &nonce, &ephPub, &secret)
	if !ok {
		return nil, fmt.Errorf("zcrypto: decryption failed")
	}
	return out, nil
}

func hexEncode(b []byte) string {
	const digits = "0123456789abcdef"
	out := make([]byte, len(b)*2)
	for i, v := range b {
		out[i*2] = digits[v>>4]
		out[i*2+1] = digits[v&0xf]
	}
	return string(out)
}

func hexDecode(s string) ([]byte, error) {
	if len(s)%2 != 0 {
		return nil, fmt.Errorf("zcrypto: odd-length hex string")
	}
	out := make([]byte, len(s)/2)
	for i := range out {
		hi, err := hexNibble(s[i*2])
		if err != nil {
			return nil, err
		}
		lo, err := hexNibble(s[i*2+1])
		if err != nil {
			return nil, err
		}
		out[i] = hi<<4 | lo
	}
	return out, nil
}

func hexNibble(c byte) (byte, error) {
	switch {
	case c >= '0' && c <= '9':
		return c - '0', nil
	case c >= 'a' && c <= 'f':
		return c - 'a' + 10, nil
	case c >= 'A' && c <= 'F':
		return c - 'A' + 10, nil
	default:
		return 0, fmt.Errorf("zcrypto: invalid hex digit %q", c)
	}
}
