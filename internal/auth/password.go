package auth

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/bcrypt"

	"github.com/mrlokans/secrets/internal/config"
)

// Supported hash algorithms.
const (
	AlgorithmBcrypt   = "bcrypt"
	AlgorithmArgon2id = "argon2id"
)

const (
	// bcrypt ignores everything past 72 bytes; reject instead of truncating.
	bcryptMaxPasswordBytes = 72
	// argon2id has no hard limit, cap it so hashing cost stays bounded.
	argon2MaxPasswordBytes = 1024

	argon2SaltLen = 16
	argon2KeyLen  = 32

	// Bounds applied when parsing stored argon2id hashes.
	argon2MaxMemoryKiB = 1 << 20
	argon2MaxTime      = 16
	argon2MaxKeyLen    = 1024
)

var (
	ErrPasswordRequired = errors.New("password is required")
	ErrPasswordTooShort = errors.New("password is too short")
	ErrPasswordTooLong  = errors.New("password is too long")
	ErrUnknownAlgorithm = errors.New("unknown password hash algorithm")
)

// HasherConfig selects the algorithm and work factors for new hashes.
type HasherConfig struct {
	Algorithm       string
	BcryptCost      int
	Argon2Time      uint32
	Argon2MemoryKiB uint32
	Argon2Threads   uint8
	MinLength       int
}

// HasherConfigFrom maps the auth configuration onto a HasherConfig.
func HasherConfigFrom(cfg config.Auth) HasherConfig {
	return HasherConfig{
		Algorithm:       cfg.HashAlgorithm,
		BcryptCost:      cfg.BcryptCost,
		Argon2Time:      cfg.Argon2Time,
		Argon2MemoryKiB: cfg.Argon2MemoryKiB,
		Argon2Threads:   cfg.Argon2Threads,
		MinLength:       cfg.MinPasswordLength,
	}
}

// Hasher derives salted one-way password hashes and verifies candidates
// against them. Both bcrypt and argon2id hashes verify regardless of which
// algorithm is configured for new hashes.
type Hasher struct {
	cfg   HasherConfig
	dummy string
}

// NewHasher validates cfg and precomputes the hash used to equalize timing
// for logins that match no account.
func NewHasher(cfg HasherConfig) (*Hasher, error) {
	if cfg.Algorithm == "" {
		cfg.Algorithm = AlgorithmBcrypt
	}

	switch cfg.Algorithm {
	case AlgorithmBcrypt:
		if cfg.BcryptCost == 0 {
			cfg.BcryptCost = bcrypt.DefaultCost
		}
		if cfg.BcryptCost < bcrypt.MinCost || cfg.BcryptCost > bcrypt.MaxCost {
			return nil, fmt.Errorf("bcrypt cost %d out of range [%d, %d]", cfg.BcryptCost, bcrypt.MinCost, bcrypt.MaxCost)
		}
	case AlgorithmArgon2id:
		if cfg.Argon2Time == 0 {
			cfg.Argon2Time = 1
		}
		if cfg.Argon2MemoryKiB == 0 {
			cfg.Argon2MemoryKiB = 64 * 1024
		}
		if cfg.Argon2Threads == 0 {
			cfg.Argon2Threads = 4
		}
		if cfg.Argon2MemoryKiB > argon2MaxMemoryKiB || cfg.Argon2Time > argon2MaxTime {
			return nil, fmt.Errorf("argon2id parameters exceed limits (m<=%d, t<=%d)", argon2MaxMemoryKiB, argon2MaxTime)
		}
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownAlgorithm, cfg.Algorithm)
	}

	h := &Hasher{cfg: cfg}

	random := make([]byte, 18)
	if _, err := rand.Read(random); err != nil {
		return nil, err
	}
	dummy, err := h.hash(hex.EncodeToString(random))
	if err != nil {
		return nil, fmt.Errorf("failed to prepare dummy hash: %w", err)
	}
	h.dummy = dummy

	return h, nil
}

// Validate applies the password policy without hashing.
func (h *Hasher) Validate(password string) error {
	if password == "" {
		return ErrPasswordRequired
	}
	if utf8.RuneCountInString(password) < h.cfg.MinLength {
		return ErrPasswordTooShort
	}
	maxBytes := argon2MaxPasswordBytes
	if h.cfg.Algorithm == AlgorithmBcrypt {
		maxBytes = bcryptMaxPasswordBytes
	}
	if len(password) > maxBytes {
		return ErrPasswordTooLong
	}
	return nil
}

// Hash validates the password and returns a self-describing hash with a fresh
// random salt. Two calls with the same input never return the same value.
func (h *Hasher) Hash(password string) (string, error) {
	if err := h.Validate(password); err != nil {
		return "", err
	}
	return h.hash(password)
}

func (h *Hasher) hash(password string) (string, error) {
	switch h.cfg.Algorithm {
	case AlgorithmArgon2id:
		return h.hashArgon2id(password)
	default:
		hash, err := bcrypt.GenerateFromPassword([]byte(password), h.cfg.BcryptCost)
		if err != nil {
			return "", err
		}
		return string(hash), nil
	}
}

// Verify reports whether password matches the stored hash. Malformed or
// unrecognized hashes never match.
func (h *Hasher) Verify(password, hash string) bool {
	switch {
	case isBcryptHash(hash):
		if len(password) > bcryptMaxPasswordBytes {
			return false
		}
		return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
	case strings.HasPrefix(hash, "$argon2id$"):
		if len(password) > argon2MaxPasswordBytes {
			return false
		}
		params, salt, key, err := parseArgon2id(hash)
		if err != nil {
			return false
		}
		candidate := argon2.IDKey([]byte(password), salt, params.time, params.memory, params.threads, uint32(len(key)))
		return subtle.ConstantTimeCompare(candidate, key) == 1
	default:
		return false
	}
}

// VerifyDummy spends the same work as a real verification and always fails.
// Used when no account matches so both failures take comparable time.
func (h *Hasher) VerifyDummy(password string) bool {
	h.Verify(password, h.dummy)
	return false
}

// NeedsRehash reports whether hash was produced with a different algorithm or
// work factor than the current configuration.
func (h *Hasher) NeedsRehash(hash string) bool {
	switch h.cfg.Algorithm {
	case AlgorithmArgon2id:
		params, _, _, err := parseArgon2id(hash)
		if err != nil {
			return true
		}
		return params.time != h.cfg.Argon2Time ||
			params.memory != h.cfg.Argon2MemoryKiB ||
			params.threads != h.cfg.Argon2Threads
	default:
		if !isBcryptHash(hash) {
			return true
		}
		cost, err := bcrypt.Cost([]byte(hash))
		return err != nil || cost != h.cfg.BcryptCost
	}
}

func isBcryptHash(hash string) bool {
	return strings.HasPrefix(hash, "$2a$") || strings.HasPrefix(hash, "$2b$") || strings.HasPrefix(hash, "$2y$")
}

type argon2Params struct {
	time    uint32
	memory  uint32
	threads uint8
}

// hashArgon2id encodes in the PHC string format:
// $argon2id$v=19$m=65536,t=1,p=4$<salt>$<key>
func (h *Hasher) hashArgon2id(password string) (string, error) {
	salt := make([]byte, argon2SaltLen)
	if _, err := rand.Read(salt); err != nil {
		return "", err
	}

	key := argon2.IDKey([]byte(password), salt, h.cfg.Argon2Time, h.cfg.Argon2MemoryKiB, h.cfg.Argon2Threads, argon2KeyLen)

	return fmt.Sprintf("$argon2id$v=%d$m=%d,t=%d,p=%d$%s$%s",
		argon2.Version,
		h.cfg.Argon2MemoryKiB, h.cfg.Argon2Time, h.cfg.Argon2Threads,
		base64.RawStdEncoding.EncodeToString(salt),
		base64.RawStdEncoding.EncodeToString(key),
	), nil
}

var errMalformedHash = errors.New("malformed argon2id hash")

func parseArgon2id(hash string) (argon2Params, []byte, []byte, error) {
	var p argon2Params

	parts := strings.Split(hash, "$")
	if len(parts) != 6 || parts[1] != "argon2id" {
		return p, nil, nil, errMalformedHash
	}

	var version int
	if _, err := fmt.Sscanf(parts[2], "v=%d", &version); err != nil || version != argon2.Version {
		return p, nil, nil, errMalformedHash
	}

	var threads uint32
	if _, err := fmt.Sscanf(parts[3], "m=%d,t=%d,p=%d", &p.memory, &p.time, &threads); err != nil {
		return p, nil, nil, errMalformedHash
	}
	if p.memory == 0 || p.memory > argon2MaxMemoryKiB ||
		p.time == 0 || p.time > argon2MaxTime ||
		threads == 0 || threads > 255 {
		return p, nil, nil, errMalformedHash
	}
	p.threads = uint8(threads)

	salt, err := base64.RawStdEncoding.DecodeString(parts[4])
	if err != nil || len(salt) < 8 {
		return p, nil, nil, errMalformedHash
	}
	key, err := base64.RawStdEncoding.DecodeString(parts[5])
	if err != nil || len(key) < 16 || len(key) > argon2MaxKeyLen {
		return p, nil, nil, errMalformedHash
	}

	return p, salt, key, nil
}

// GenerateSessionSecret creates a random 32-byte secret, hex encoded.
func GenerateSessionSecret() (string, error) {
	bytes := make([]byte, 32)
	if _, err := rand.Read(bytes); err != nil {
		return "", err
	}
	return hex.EncodeToString(bytes), nil
}
