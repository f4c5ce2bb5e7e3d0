package secrets

import (
	"crypto/rand"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/nacl/secretbox"
)

const (
	// KeySize is the size of the encryption key (32 bytes for NaCl secretbox)
	KeySize = 32
	// NonceSize is the size of the nonce (24 bytes for NaCl secretbox)
	NonceSize = 24
)

// Key derivation parameters. The passphrase is already 256 bits of random
// data, so a light Argon2id pass is enough.
const (
	kdfTime    = 1
	kdfMemory  = 19 * 1024
	kdfThreads = 1
)

var kdfSalt = []byte("localauth/secrets/v1")

// ErrDecrypt is returned when a ciphertext fails authentication
var ErrDecrypt = errors.New("decryption failed (wrong key or corrupted data)")

// DeriveKey derives a 32-byte secretbox key from a passphrase using Argon2id
func DeriveKey(passphrase string) [KeySize]byte {
	var key [KeySize]byte
	copy(key[:], argon2.IDKey([]byte(passphrase), kdfSalt, kdfTime, kdfMemory, kdfThreads, KeySize))
	return key
}

// Encrypt seals plaintext with NaCl secretbox and prepends the random nonce
func Encrypt(plaintext []byte, key *[KeySize]byte) ([]byte, error) {
	var nonce [NonceSize]byte
	if _, err := io.ReadFull(rand.Reader, nonce[:]); err != nil {
		return nil, fmt.Errorf("failed to generate nonce: %w", err)
	}

	return secretbox.Seal(nonce[:], plaintext, &nonce, key), nil
}

// Decrypt opens data produced by Encrypt
func Decrypt(encrypted []byte, key *[KeySize]byte) ([]byte, error) {
	if len(encrypted) < NonceSize+secretbox.Overhead {
		return nil, fmt.Errorf("encrypted data too short (minimum %d bytes)", NonceSize+secretbox.Overhead)
	}

	var nonce [NonceSize]byte
	copy(nonce[:], encrypted[:NonceSize])

	decrypted, ok := secretbox.Open(nil, encrypted[NonceSize:], &nonce, key)
	if !ok {
		return nil, ErrDecrypt
	}

	return decrypted, nil
}
