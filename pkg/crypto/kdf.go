package crypto

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/argon2"
)

const argon2idPrefix = "$argon2id$"

var errMalformedArgon2Hash = errors.New("argon2: malformed encoded hash")

// Argon2Parameters controls the cost factors for Argon2id password hashing.
type Argon2Parameters struct {
	// Time is the number of iterations.
	Time uint32 `mapstructure:"time"`
	// Memory is the amount of memory (in kibibytes) to use.
	Memory uint32 `mapstructure:"memory"`
	// Threads is the degree of parallelism.
	Threads uint8 `mapstructure:"threads"`
	// KeyLength is the length of the derived hash in bytes.
	KeyLength uint32 `mapstructure:"key_length"`
	// SaltLength is the length of the random salt in bytes.
	SaltLength uint32 `mapstructure:"salt_length"`
}

// DefaultArgon2Params returns the OWASP baseline for Argon2id.
func DefaultArgon2Params() Argon2Parameters {
	return Argon2Parameters{
		Time:       2,
		Memory:     64 * 1024, // 64 MiB
		Threads:    4,
		KeyLength:  32,
		SaltLength: 16,
	}
}

// Validate ensures the parameters are suitable for Argon2id hashing.
func (p Argon2Parameters) Validate() error {
	if p.Time == 0 {
		return fmt.Errorf("argon2: time cost must be greater than zero")
	}
	if p.Threads == 0 {
		return fmt.Errorf("argon2: parallelism must be greater than zero")
	}
	if p.Memory < 8*uint32(p.Threads) {
		return fmt.Errorf("argon2: memory cost must be at least 8 * threads")
	}
	if p.KeyLength < 16 {
		return fmt.Errorf("argon2: key length must be at least 16 bytes (got %d)", p.KeyLength)
	}
	if p.SaltLength < 16 {
		return fmt.Errorf("argon2: salt length must be at least 16 bytes (got %d)", p.SaltLength)
	}
	return nil
}

// hashArgon2id derives a hash and encodes it in the PHC string format
// $argon2id$v=19$m=<memory>,t=<time>,p=<threads>$<salt>$<hash>.
func hashArgon2id(password string, params Argon2Parameters) (string, error) {
	if err := params.Validate(); err != nil {
		return "", err
	}

	salt := make([]byte, params.SaltLength)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("argon2: generate salt: %w", err)
	}

	key := argon2.IDKey([]byte(password), salt, params.Time, params.Memory, params.Threads, params.KeyLength)
	return fmt.Sprintf("%sv=%d$m=%d,t=%d,p=%d$%s$%s",
		argon2idPrefix,
		argon2.Version,
		params.Memory, params.Time, params.Threads,
		base64.RawStdEncoding.EncodeToString(salt),
		base64.RawStdEncoding.EncodeToString(key),
	), nil
}

// verifyArgon2id recomputes the hash with the parameters embedded in encoded.
func verifyArgon2id(password, encoded string) (bool, error) {
	parts := strings.Split(encoded, "$")
	// "", "argon2id", "v=19", "m=..,t=..,p=..", salt, hash
	if len(parts) != 6 || parts[1] != "argon2id" {
		return false, errMalformedArgon2Hash
	}

	var version int
	if _, err := fmt.Sscanf(parts[2], "v=%d", &version); err != nil {
		return false, errMalformedArgon2Hash
	}
	if version != argon2.Version {
		return false, fmt.Errorf("argon2: unsupported version %d", version)
	}

	var params Argon2Parameters
	if _, err := fmt.Sscanf(parts[3], "m=%d,t=%d,p=%d", &params.Memory, &params.Time, &params.Threads); err != nil {
		return false, errMalformedArgon2Hash
	}

	salt, err := base64.RawStdEncoding.DecodeString(parts[4])
	if err != nil {
		return false, errMalformedArgon2Hash
	}
	want, err := base64.RawStdEncoding.DecodeString(parts[5])
	if err != nil || len(want) == 0 {
		return false, errMalformedArgon2Hash
	}

	got := argon2.IDKey([]byte(password), salt, params.Time, params.Memory, params.Threads, uint32(len(want)))
	return subtle.ConstantTimeCompare(got, want) == 1, nil
}
