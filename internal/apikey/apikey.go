// Package apikey issues and verifies the admin API bearer key. Only an
// Argon2id hash of the key is stored in the server config.
package apikey

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"fmt"
	"strings"
	"sync"
	"time"

	"golang.org/x/crypto/argon2"
)

const (
	// KeyPrefix is the prefix for all API keys
	KeyPrefix = "desk_"

	// KeyLength is the number of random bytes in the key
	KeyLength = 32

	// Argon2id parameters for interactive use
	Argon2Time    = 3
	Argon2Memory  = 64 * 1024 // KiB
	Argon2Threads = 4
	Argon2KeyLen  = 32
	SaltLength    = 16
)

// encodedKeyLen is the base64url length of KeyLength bytes without padding
var encodedKeyLen = base64.RawURLEncoding.EncodedLen(KeyLength)

// Generate creates a new API key: desk_<base64url(32 random bytes)>
func Generate() (string, error) {
	buf := make([]byte, KeyLength)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("failed to generate random bytes: %w", err)
	}
	return KeyPrefix + base64.RawURLEncoding.EncodeToString(buf), nil
}

// Hash creates an Argon2id hash of the key as base64(salt):base64(hash)
func Hash(apiKey string) (string, error) {
	salt := make([]byte, SaltLength)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("failed to generate salt: %w", err)
	}

	hash := argon2.IDKey([]byte(apiKey), salt, Argon2Time, Argon2Memory, Argon2Threads, Argon2KeyLen)

	return base64.RawStdEncoding.EncodeToString(salt) + ":" + base64.RawStdEncoding.EncodeToString(hash), nil
}

// Validate reports whether apiKey matches encodedHash
func Validate(apiKey, encodedHash string) bool {
	salt, hash, err := parseHash(encodedHash)
	if err != nil {
		return false
	}

	computed := argon2.IDKey([]byte(apiKey), salt, Argon2Time, Argon2Memory, Argon2Threads, Argon2KeyLen)
	return subtle.ConstantTimeCompare(hash, computed) == 1
}

func parseHash(encodedHash string) (salt, hash []byte, err error) {
	saltPart, hashPart, ok := strings.Cut(encodedHash, ":")
	if !ok {
		return nil, nil, fmt.Errorf("invalid hash format: missing separator")
	}

	salt, err = base64.RawStdEncoding.DecodeString(saltPart)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to decode salt: %w", err)
	}

	hash, err = base64.RawStdEncoding.DecodeString(hashPart)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to decode hash: %w", err)
	}

	return salt, hash, nil
}

// ValidateFormat checks the prefix, length and encoding of apiKey
func ValidateFormat(apiKey string) bool {
	encoded, ok := strings.CutPrefix(apiKey, KeyPrefix)
	if !ok || len(encoded) != encodedKeyLen {
		return false
	}

	decoded, err := base64.RawURLEncoding.DecodeString(encoded)
	return err == nil && len(decoded) == KeyLength
}

// GenerateWithHash creates a new API key and its hash
func GenerateWithHash() (apiKey string, hash string, err error) {
	apiKey, err = Generate()
	if err != nil {
		return "", "", err
	}

	hash, err = Hash(apiKey)
	if err != nil {
		return "", "", err
	}

	return apiKey, hash, nil
}

// GetCreatedAt returns the current timestamp in RFC3339 format
func GetCreatedAt() string {
	return time.Now().UTC().Format(time.RFC3339)
}

// Verifier checks keys against one stored hash. A key that verified once is
// remembered by its SHA-256 so later requests skip the Argon2id cost.
type Verifier struct {
	hash string

	mu       sync.RWMutex
	accepted [sha256.Size]byte
	hasKey   bool
}

// NewVerifier creates a verifier for encodedHash
func NewVerifier(encodedHash string) *Verifier {
	return &Verifier{hash: encodedHash}
}

// Verify reports whether apiKey is well formed and matches the stored hash
func (v *Verifier) Verify(apiKey string) bool {
	if v.hash == "" || !ValidateFormat(apiKey) {
		return false
	}

	digest := sha256.Sum256([]byte(apiKey))

	v.mu.RLock()
	cached := v.hasKey && subtle.ConstantTimeCompare(digest[:], v.accepted[:]) == 1
	v.mu.RUnlock()
	if cached {
		return true
	}

	if !Validate(apiKey, v.hash) {
		return false
	}

	v.mu.Lock()
	v.accepted = digest
	v.hasKey = true
	v.mu.Unlock()
	return true
}
