package hipaa

import (
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
	"sync"
)

// Ciphertexts are stored as "v<version>:<base64>".
const (
	keyVersionPrefix    = "v"
	keyVersionSeparator = ":"
)

// RotatingEncryptor encrypts with the current key and decrypts with any key
// it still holds, selected by the version prefix.
type RotatingEncryptor struct {
	mu         sync.RWMutex
	current    *PHIEncryptor
	currentVer int
	previous   map[int]*PHIEncryptor
}

// NewRotatingEncryptor creates a rotating encryptor around the current key.
func NewRotatingEncryptor(currentKey []byte, currentVersion int) (*RotatingEncryptor, error) {
	if currentVersion < 1 {
		return nil, fmt.Errorf("rotating encryptor: key version must be positive, got %d", currentVersion)
	}
	enc, err := NewPHIEncryptor(currentKey)
	if err != nil {
		return nil, fmt.Errorf("rotating encryptor: current key: %w", err)
	}
	return &RotatingEncryptor{
		current:    enc,
		currentVer: currentVersion,
		previous:   make(map[int]*PHIEncryptor),
	}, nil
}

// AddPreviousKey registers a retired key for decryption only.
func (r *RotatingEncryptor) AddPreviousKey(key []byte, version int) error {
	if version == r.CurrentVersion() {
		return fmt.Errorf("rotating encryptor: v%d is the current key", version)
	}
	enc, err := NewPHIEncryptor(key)
	if err != nil {
		return fmt.Errorf("rotating encryptor: previous key v%d: %w", version, err)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.previous[version] = enc
	return nil
}

// Encrypt implements FieldEncryptor.
func (r *RotatingEncryptor) Encrypt(plaintext, aad string) (string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ciphertext, err := r.current.Encrypt(plaintext, aad)
	if err != nil {
		return "", err
	}
	return keyVersionPrefix + strconv.Itoa(r.currentVer) + keyVersionSeparator + ciphertext, nil
}

// Decrypt implements FieldEncryptor. Unversioned values are opened with the
// current key.
func (r *RotatingEncryptor) Decrypt(ciphertext, aad string) (string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	version, data, ok := parseVersionedCiphertext(ciphertext)
	if !ok {
		return r.current.Decrypt(ciphertext, aad)
	}
	if version == r.currentVer {
		return r.current.Decrypt(data, aad)
	}
	enc, found := r.previous[version]
	if !found {
		return "", fmt.Errorf("no key available for version %d", version)
	}
	return enc.Decrypt(data, aad)
}

// NeedsReEncryption reports whether ciphertext was sealed with anything but
// the current key.
func (r *RotatingEncryptor) NeedsReEncryption(ciphertext string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	version, _, ok := parseVersionedCiphertext(ciphertext)
	return !ok || version != r.currentVer
}

// ReEncrypt opens ciphertext and seals it again under the current key.
func (r *RotatingEncryptor) ReEncrypt(ciphertext, aad string) (string, error) {
	plaintext, err := r.Decrypt(ciphertext, aad)
	if err != nil {
		return "", fmt.Errorf("re-encrypt: decrypt: %w", err)
	}
	return r.Encrypt(plaintext, aad)
}

// CurrentVersion returns the version new ciphertexts carry.
func (r *RotatingEncryptor) CurrentVersion() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.currentVer
}

func parseVersionedCiphertext(s string) (int, string, bool) {
	if !strings.HasPrefix(s, keyVersionPrefix) {
		return 0, "", false
	}
	idx := strings.Index(s, keyVersionSeparator)
	if idx < 0 {
		return 0, "", false
	}
	version, err := strconv.Atoi(s[len(keyVersionPrefix):idx])
	if err != nil || version < 1 {
		return 0, "", false
	}
	return version, s[idx+1:], true
}

// ParsePreviousKeys reads HIPAA_PREVIOUS_KEYS: a comma separated list of
// "<version>:<64 hex chars>" pairs.
func ParsePreviousKeys(s string) (map[int][]byte, error) {
	keys := make(map[int][]byte)
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		verStr, keyHex, found := strings.Cut(part, ":")
		if !found {
			return nil, fmt.Errorf("previous key %q: expected <version>:<hex>", part)
		}
		version, err := strconv.Atoi(strings.TrimPrefix(strings.TrimSpace(verStr), keyVersionPrefix))
		if err != nil || version < 1 {
			return nil, fmt.Errorf("previous key %q: invalid version", part)
		}
		key, err := decodeKey(keyHex)
		if err != nil {
			return nil, fmt.Errorf("previous key v%d: %w", version, err)
		}
		keys[version] = key
	}
	return keys, nil
}

func decodeKey(s string) ([]byte, error) {
	key, err := hex.DecodeString(strings.TrimSpace(s))
	if err != nil {
		return nil, fmt.Errorf("not valid hex: %w", err)
	}
	if len(key) != 32 {
		return nil, fmt.Errorf("must be 32 bytes (64 hex chars), got %d bytes", len(key))
	}
	return key, nil
}
