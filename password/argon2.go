package password

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"golang.org/x/crypto/argon2"
)

const (
	minMemoryKB    uint32 = 8 * 1024
	minTimeCost    uint32 = 1
	minParallelism uint8  = 1
	minSaltLength  uint32 = 16
	minKeyLength   uint32 = 16
	minPassBytes          = 8
	algorithmID           = "argon2id"
)

// Config holds the argon2id cost parameters. Raising any cost marks existing
// hashes as upgradeable; Verify still accepts them with their recorded
// parameters.
type Config struct {
	Memory      uint32
	Time        uint32
	Parallelism uint8
	SaltLength  uint32
	KeyLength   uint32
}

// Hasher hashes and verifies passwords with argon2id, encoding hashes in PHC
// string format. Safe for concurrent use.
type Hasher struct {
	config Config

	// decoyHash is a fixed hash verified against login attempts for unknown
	// accounts so that the response time does not reveal whether the
	// account exists.
	decoyHash string
}

type decodedHash struct {
	memory      uint32
	time        uint32
	parallelism uint8
	salt        []byte
	hash        []byte
	keyLength   uint32
}

// NewHasher validates the cost parameters and returns a ready [Hasher].
func NewHasher(cfg Config) (*Hasher, error) {
	if err := validateConfig(cfg); err != nil {
		return nil, err
	}

	h := &Hasher{config: cfg}
	decoy, err := h.Hash("decoy-password-never-matches")
	if err != nil {
		return nil, err
	}
	h.decoyHash = decoy
	return h, nil
}

// Hash derives an argon2id hash over the password bytes exactly as provided,
// with a fresh random salt, and encodes it in PHC format.
func (h *Hasher) Hash(password string) (string, error) {
	if len(password) < minPassBytes {
		return "", fmt.Errorf("password must be at least %d bytes", minPassBytes)
	}

	salt := make([]byte, h.config.SaltLength)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return "", err
	}

	key := argon2.IDKey(
		[]byte(password),
		salt,
		h.config.Time,
		h.config.Memory,
		h.config.Parallelism,
		h.config.KeyLength,
	)

	return fmt.Sprintf(
		"$%s$v=%d$m=%d,t=%d,p=%d$%s$%s",
		algorithmID,
		argon2.Version,
		h.config.Memory,
		h.config.Time,
		h.config.Parallelism,
		base64.StdEncoding.EncodeToString(salt),
		base64.StdEncoding.EncodeToString(key),
	), nil
}

// Verify recomputes the hash with the parameters recorded in encodedHash and
// compares in constant time. A mismatch is (false, nil); errors are reserved
// for undecodable hashes.
func (h *Hasher) Verify(password, encodedHash string) (bool, error) {
	decoded, err := decodeHash(encodedHash)
	if err != nil {
		return false, err
	}

	computed := argon2.IDKey(
		[]byte(password),
		decoded.salt,
		decoded.time,
		decoded.memory,
		decoded.parallelism,
		decoded.keyLength,
	)

	return subtle.ConstantTimeCompare(computed, decoded.hash) == 1, nil
}

// VerifyDecoy burns the same argon2 work as a real verification and always
// reports a mismatch. Called on login attempts for unknown accounts.
func (h *Hasher) VerifyDecoy(password string) {
	_, _ = h.Verify(password, h.decoyHash)
}

// NeedsUpgrade reports whether encodedHash was produced with weaker
// parameters than the current configuration.
func (h *Hasher) NeedsUpgrade(encodedHash string) (bool, error) {
	decoded, err := decodeHash(encodedHash)
	if err != nil {
		return false, err
	}

	switch {
	case h.config.Memory > decoded.memory:
		return true, nil
	case h.config.Time > decoded.time:
		return true, nil
	case h.config.Parallelism > decoded.parallelism:
		return true, nil
	case h.config.KeyLength != decoded.keyLength:
		return true, nil
	}
	return false, nil
}

func decodeHash(encodedHash string) (*decodedHash, error) {
	parts := strings.Split(encodedHash, "$")
	if len(parts) != 6 || parts[0] != "" {
		return nil, errors.New("invalid PHC format")
	}
	if parts[1] != algorithmID {
		return nil, errors.New("unsupported algorithm")
	}

	version, ok := strings.CutPrefix(parts[2], "v=")
	if !ok {
		return nil, errors.New("missing argon2 version")
	}
	v, err := strconv.Atoi(version)
	if err != nil || v != argon2.Version {
		return nil, errors.New("unsupported argon2 version")
	}

	memory, timeCost, parallelism, err := decodeParams(parts[3])
	if err != nil {
		return nil, err
	}

	salt, err := base64.StdEncoding.DecodeString(parts[4])
	if err != nil || len(salt) < int(minSaltLength) {
		return nil, errors.New("invalid salt")
	}
	hash, err := base64.StdEncoding.DecodeString(parts[5])
	if err != nil || len(hash) == 0 {
		return nil, errors.New("invalid hash")
	}

	return &decodedHash{
		memory:      memory,
		time:        timeCost,
		parallelism: parallelism,
		salt:        salt,
		hash:        hash,
		keyLength:   uint32(len(hash)),
	}, nil
}

func decodeParams(part string) (memory, timeCost uint32, parallelism uint8, err error) {
	var m, t uint64
	var p uint64

	for _, pair := range strings.Split(part, ",") {
		key, value, ok := strings.Cut(pair, "=")
		if !ok {
			return 0, 0, 0, errors.New("invalid parameter entry")
		}
		switch key {
		case "m":
			m, err = strconv.ParseUint(value, 10, 32)
		case "t":
			t, err = strconv.ParseUint(value, 10, 32)
		case "p":
			p, err = strconv.ParseUint(value, 10, 8)
		default:
			return 0, 0, 0, errors.New("unsupported parameter")
		}
		if err != nil {
			return 0, 0, 0, errors.New("invalid parameter value")
		}
	}

	if m < uint64(minMemoryKB) || t < uint64(minTimeCost) || p < uint64(minParallelism) {
		return 0, 0, 0, errors.New("parameters below minimum")
	}
	return uint32(m), uint32(t), uint8(p), nil
}

func validateConfig(cfg Config) error {
	if cfg.Memory < minMemoryKB {
		return errors.New("password memory must be >= 8192 KB")
	}
	if cfg.Time < minTimeCost {
		return errors.New("password time must be >= 1")
	}
	if cfg.Parallelism < minParallelism {
		return errors.New("password parallelism must be >= 1")
	}
	if cfg.SaltLength < minSaltLength {
		return errors.New("password salt length must be >= 16")
	}
	if cfg.KeyLength < minKeyLength {
		return errors.New("password key length must be >= 16")
	}
	return nil
}
