package crypto

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"golang.org/x/crypto/bcrypt"
)

// Supported password hashing algorithms.
const (
	AlgorithmBcrypt   = "bcrypt"
	AlgorithmArgon2id = "argon2id"
)

// DefaultBcryptCost targets roughly 100-250ms per hash on server hardware.
const DefaultBcryptCost = 12

// ErrEmptyPassword is returned when hashing an empty password.
var ErrEmptyPassword = errors.New("crypto: password is required")

// PasswordConfig selects the algorithm and work factor used for new hashes.
type PasswordConfig struct {
	Algorithm  string           `mapstructure:"algorithm"`
	BcryptCost int              `mapstructure:"bcrypt_cost"`
	Argon2     Argon2Parameters `mapstructure:"argon2"`
}

// PasswordHasher turns plaintext passwords into one-way hashes and verifies
// candidates against stored hashes of either supported algorithm.
type PasswordHasher struct {
	algorithm  string
	bcryptCost int
	argon2     Argon2Parameters

	dummyOnce sync.Once
	dummyHash string
}

// NewPasswordHasher validates cfg and fills unset fields with defaults.
func NewPasswordHasher(cfg PasswordConfig) (*PasswordHasher, error) {
	algorithm := strings.ToLower(strings.TrimSpace(cfg.Algorithm))
	if algorithm == "" {
		algorithm = AlgorithmBcrypt
	}

	h := &PasswordHasher{algorithm: algorithm, bcryptCost: cfg.BcryptCost, argon2: cfg.Argon2}

	switch algorithm {
	case AlgorithmBcrypt:
		if h.bcryptCost == 0 {
			h.bcryptCost = DefaultBcryptCost
		}
		if h.bcryptCost < bcrypt.MinCost || h.bcryptCost > bcrypt.MaxCost {
			return nil, fmt.Errorf("crypto: bcrypt cost must be between %d and %d (got %d)", bcrypt.MinCost, bcrypt.MaxCost, h.bcryptCost)
		}
	case AlgorithmArgon2id:
		if h.argon2 == (Argon2Parameters{}) {
			h.argon2 = DefaultArgon2Params()
		}
		defaults := DefaultArgon2Params()
		if h.argon2.KeyLength == 0 {
			h.argon2.KeyLength = defaults.KeyLength
		}
		if h.argon2.SaltLength == 0 {
			h.argon2.SaltLength = defaults.SaltLength
		}
		if err := h.argon2.Validate(); err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("crypto: unsupported password algorithm %q", cfg.Algorithm)
	}

	return h, nil
}

// Algorithm reports the algorithm used for new hashes.
func (h *PasswordHasher) Algorithm() string {
	return h.algorithm
}

// Hash returns a salted one-way hash of password.
func (h *PasswordHasher) Hash(password string) (string, error) {
	if password == "" {
		return "", ErrEmptyPassword
	}

	if h.algorithm == AlgorithmArgon2id {
		return hashArgon2id(password, h.argon2)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), h.bcryptCost)
	if err != nil {
		return "", fmt.Errorf("crypto: bcrypt: %w", err)
	}
	return string(hash), nil
}

// Verify reports whether password matches hash. Missing inputs and malformed
// hashes yield false.
func (h *PasswordHasher) Verify(password string, hash *string) bool {
	if password == "" || hash == nil || *hash == "" {
		return false
	}

	if strings.HasPrefix(*hash, argon2idPrefix) {
		ok, err := verifyArgon2id(password, *hash)
		return err == nil && ok
	}

	return bcrypt.CompareHashAndPassword([]byte(*hash), []byte(password)) == nil
}

// DummyVerify spends the same effort as Verify against a real hash. Use it on
// the unknown-account path so response timing does not reveal which emails exist.
func (h *PasswordHasher) DummyVerify(password string) {
	h.dummyOnce.Do(func() {
		hash, err := h.Hash("dummy-password-for-timing")
		if err == nil {
			h.dummyHash = hash
		}
	})
	if h.dummyHash == "" {
		return
	}
	hash := h.dummyHash
	if password == "" {
		password = "x"
	}
	_ = h.Verify(password, &hash)
}
