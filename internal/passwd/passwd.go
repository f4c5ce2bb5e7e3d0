// Package passwd produces and verifies Argon2id password hashes in the PHC
// string format ($argon2id$v=19$m=...,t=...,p=...$salt$hash).
package passwd

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"math/big"
	"strings"

	"golang.org/x/crypto/argon2"
)

// Params controls the Argon2id cost.
type Params struct {
	Memory  uint32
	Time    uint32
	Threads uint8
	SaltLen uint32
	KeyLen  uint32
}

// DefaultParams matches the argon2-cffi defaults used by the identity stack.
var DefaultParams = Params{
	Memory:  64 * 1024,
	Time:    3,
	Threads: 4,
	SaltLen: 16,
	KeyLen:  32,
}

// ErrInvalidHash is returned for strings that are not Argon2id PHC hashes.
var ErrInvalidHash = errors.New("invalid argon2id hash")

// ErrIncompatibleVersion is returned for hashes made by another Argon2 version.
var ErrIncompatibleVersion = errors.New("incompatible argon2 version")

var b64 = base64.RawStdEncoding

// Hash returns the PHC-encoded Argon2id hash of password using DefaultParams.
func Hash(password string) (string, error) {
	return HashWith(password, DefaultParams)
}

// HashWith hashes password with explicit parameters.
func HashWith(password string, p Params) (string, error) {
	salt := make([]byte, p.SaltLen)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("failed to generate salt: %w", err)
	}

	key := argon2.IDKey([]byte(password), salt, p.Time, p.Memory, p.Threads, p.KeyLen)
	return fmt.Sprintf("$argon2id$v=%d$m=%d,t=%d,p=%d$%s$%s",
		argon2.Version, p.Memory, p.Time, p.Threads, b64.EncodeToString(salt), b64.EncodeToString(key)), nil
}

// Verify reports whether password matches encoded. A malformed hash is an error.
func Verify(password, encoded string) (bool, error) {
	p, salt, key, err := decode(encoded)
	if err != nil {
		return false, err
	}

	other := argon2.IDKey([]byte(password), salt, p.Time, p.Memory, p.Threads, p.KeyLen)
	return subtle.ConstantTimeCompare(key, other) == 1, nil
}

// IsHash reports whether s is a well-formed Argon2id PHC hash.
func IsHash(s string) bool {
	_, _, _, err := decode(s)
	return err == nil
}

func decode(encoded string) (Params, []byte, []byte, error) {
	parts := strings.Split(encoded, "$")
	if len(parts) != 6 || parts[0] != "" || parts[1] != "argon2id" {
		return Params{}, nil, nil, ErrInvalidHash
	}

	var version int
	if _, err := fmt.Sscanf(parts[2], "v=%d", &version); err != nil {
		return Params{}, nil, nil, ErrInvalidHash
	}
	if version != argon2.Version {
		return Params{}, nil, nil, ErrIncompatibleVersion
	}

	var p Params
	if _, err := fmt.Sscanf(parts[3], "m=%d,t=%d,p=%d", &p.Memory, &p.Time, &p.Threads); err != nil {
		return Params{}, nil, nil, ErrInvalidHash
	}
	if p.Memory == 0 || p.Time == 0 || p.Threads == 0 {
		return Params{}, nil, nil, ErrInvalidHash
	}

	salt, err := b64.DecodeString(parts[4])
	if err != nil || len(salt) == 0 {
		return Params{}, nil, nil, ErrInvalidHash
	}
	key, err := b64.DecodeString(parts[5])
	if err != nil || len(key) == 0 {
		return Params{}, nil, nil, ErrInvalidHash
	}
	p.SaltLen = uint32(len(salt)) // #nosec G115 -- decoded from a short string
	p.KeyLen = uint32(len(key))   // #nosec G115 -- decoded from a short string

	return p, salt, key, nil
}

const generatorAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789!@#$%^&*"

// Generate returns a random password of length n drawn from letters, digits
// and a small set of punctuation.
func Generate(n int) (string, error) {
	if n < 1 {
		return "", fmt.Errorf("password length must be positive, got %d", n)
	}

	limit := big.NewInt(int64(len(generatorAlphabet)))
	var sb strings.Builder
	sb.Grow(n)
	for i := 0; i < n; i++ {
		idx, err := rand.Int(rand.Reader, limit)
		if err != nil {
			return "", fmt.Errorf("failed to generate password: %w", err)
		}
		sb.WriteByte(generatorAlphabet[idx.Int64()])
	}
	return sb.String(), nil
}

// GenerateToken returns a URL-safe random token with n bytes of entropy.
func GenerateToken(n int) (string, error) {
	raw := make([]byte, n)
	if _, err := rand.Read(raw); err != nil {
		return "", fmt.Errorf("failed to generate token: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(raw), nil
}
