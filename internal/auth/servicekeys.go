package auth

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/argon2"
)

var (
	ErrInvalidKeyHash         = errors.New("auth: invalid service key hash format")
	ErrIncompatibleKeyVersion = errors.New("auth: incompatible service key hash version")
	ErrUnknownServiceKey      = errors.New("auth: unknown service key")
	ErrServiceKeyMismatch     = errors.New("auth: service key mismatch")
)

// Argon2idParams tunes the argon2id key derivation.
type Argon2idParams struct {
	Memory      uint32
	Iterations  uint32
	Parallelism uint8
	SaltLength  uint32
	KeyLength   uint32
}

var DefaultArgon2idParams = Argon2idParams{
	Memory:      64 * 1024,
	Iterations:  3,
	Parallelism: 2,
	SaltLength:  16,
	KeyLength:   32,
}

// HashServiceKey derives a PHC formatted argon2id hash of secret.
func HashServiceKey(secret string, params Argon2idParams) (string, error) {
	if secret == "" {
		return "", errors.New("auth: service key secret is required")
	}
	if err := params.validate(); err != nil {
		return "", err
	}
	if params.SaltLength == 0 || params.KeyLength == 0 {
		return "", fmt.Errorf("%w: salt and key lengths must be positive", ErrInvalidKeyHash)
	}

	salt := make([]byte, params.SaltLength)
	if _, err := rand.Read(salt); err != nil {
		return "", err
	}

	hash := argon2.IDKey([]byte(secret), salt, params.Iterations, params.Memory, params.Parallelism, params.KeyLength)

	b64Salt := base64.RawStdEncoding.EncodeToString(salt)
	b64Hash := base64.RawStdEncoding.EncodeToString(hash)

	// $argon2id$v=19$m=...,t=...,p=...$salt$hash
	format := "$argon2id$v=%d$m=%d,t=%d,p=%d$%s$%s"
	return fmt.Sprintf(format, argon2.Version, params.Memory, params.Iterations, params.Parallelism, b64Salt, b64Hash), nil
}

// FormatServiceKeyEntry renders one RESERVATIONS_SERVICE_KEYS entry.
func FormatServiceKeyEntry(name, hash string) string {
	return name + "@" + hash
}

// verifyServiceKey reports whether secret matches a PHC argon2id hash.
func verifyServiceKey(encoded, secret string) error {
	decoded, err := decodeServiceKeyHash(encoded)
	if err != nil {
		return err
	}

	got := argon2.IDKey([]byte(secret), decoded.salt, decoded.params.Iterations, decoded.params.Memory, decoded.params.Parallelism, uint32(len(decoded.key)))
	if subtle.ConstantTimeCompare(decoded.key, got) == 1 {
		return nil
	}
	return ErrServiceKeyMismatch
}

type decodedKeyHash struct {
	params Argon2idParams
	salt   []byte
	key    []byte
}

// decodeServiceKeyHash parses a PHC argon2id hash. Parameters argon2 would
// panic on are rejected here.
func decodeServiceKeyHash(encoded string) (decodedKeyHash, error) {
	parts := strings.Split(encoded, "$")
	if len(parts) != 6 || parts[1] != "argon2id" {
		return decodedKeyHash{}, ErrInvalidKeyHash
	}

	var version int
	if _, err := fmt.Sscanf(parts[2], "v=%d", &version); err != nil {
		return decodedKeyHash{}, fmt.Errorf("%w: %v", ErrInvalidKeyHash, err)
	}
	if version != argon2.Version {
		return decodedKeyHash{}, ErrIncompatibleKeyVersion
	}

	var decoded decodedKeyHash
	if _, err := fmt.Sscanf(parts[3], "m=%d,t=%d,p=%d", &decoded.params.Memory, &decoded.params.Iterations, &decoded.params.Parallelism); err != nil {
		return decodedKeyHash{}, fmt.Errorf("%w: %v", ErrInvalidKeyHash, err)
	}
	if err := decoded.params.validate(); err != nil {
		return decodedKeyHash{}, err
	}

	var err error
	if decoded.salt, err = base64.RawStdEncoding.DecodeString(parts[4]); err != nil {
		return decodedKeyHash{}, fmt.Errorf("%w: %v", ErrInvalidKeyHash, err)
	}
	if decoded.key, err = base64.RawStdEncoding.DecodeString(parts[5]); err != nil {
		return decodedKeyHash{}, fmt.Errorf("%w: %v", ErrInvalidKeyHash, err)
	}
	if len(decoded.salt) == 0 || len(decoded.key) == 0 {
		return decodedKeyHash{}, fmt.Errorf("%w: salt and key are required", ErrInvalidKeyHash)
	}
	return decoded, nil
}

func (p Argon2idParams) validate() error {
	if p.Memory == 0 || p.Iterations < 1 || p.Parallelism < 1 {
		return fmt.Errorf("%w: m, t and p must be positive", ErrInvalidKeyHash)
	}
	return nil
}

// ServiceKeyring holds the hashed service keys allowed to call the API.
type ServiceKeyring struct {
	hashes map[string]string
}

// ParseServiceKeys reads "name@hash" entries. Every hash is checked for
// format up front so that a typo fails at startup rather than at first use.
func ParseServiceKeys(entries []string) (*ServiceKeyring, error) {
	ring := &ServiceKeyring{hashes: make(map[string]string, len(entries))}
	for _, entry := range entries {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		name, hash, ok := strings.Cut(entry, "@")
		name = strings.TrimSpace(name)
		if !ok || name == "" || strings.Contains(name, ".") {
			return nil, fmt.Errorf("service key entry %q: expected name@hash", entry)
		}
		if _, dup := ring.hashes[name]; dup {
			return nil, fmt.Errorf("service key entry %q: duplicate name", name)
		}
		if _, err := decodeServiceKeyHash(hash); err != nil {
			return nil, fmt.Errorf("service key entry %q: %w", name, err)
		}
		ring.hashes[name] = hash
	}
	return ring, nil
}

// Len reports the number of configured keys.
func (k *ServiceKeyring) Len() int {
	if k == nil {
		return 0
	}
	return len(k.hashes)
}

// Verify checks secret against the hash stored under name.
func (k *ServiceKeyring) Verify(name, secret string) error {
	if k == nil {
		return ErrUnknownServiceKey
	}
	hash, ok := k.hashes[name]
	if !ok {
		return ErrUnknownServiceKey
	}
	return verifyServiceKey(hash, secret)
}
