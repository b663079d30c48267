package hipaa

import (
	"fmt"

	"github.com/rs/zerolog"
)

// KeyConfig is the key material read from configuration.
type KeyConfig struct {
	Key          string
	Version      int
	PreviousKeys string
}

// EncryptionService hands repositories their FieldEncryptor. With no key
// configured it runs in passthrough mode and values are stored as-is.
type EncryptionService struct {
	encryptor *RotatingEncryptor
}

// NewEncryptionService builds the service from cfg. A malformed key is an
// error so the server refuses to start rather than store plaintext.
func NewEncryptionService(cfg KeyConfig, logger zerolog.Logger) (*EncryptionService, error) {
	if cfg.Key == "" {
		logger.Warn().Msg("PHI encryption disabled: HIPAA_ENCRYPTION_KEY is not set")
		return &EncryptionService{}, nil
	}

	key, err := decodeKey(cfg.Key)
	if err != nil {
		return nil, fmt.Errorf("HIPAA_ENCRYPTION_KEY %w", err)
	}
	version := cfg.Version
	if version == 0 {
		version = 1
	}
	enc, err := NewRotatingEncryptor(key, version)
	if err != nil {
		return nil, err
	}

	previous, err := ParsePreviousKeys(cfg.PreviousKeys)
	if err != nil {
		return nil, fmt.Errorf("HIPAA_PREVIOUS_KEYS: %w", err)
	}
	for v, k := range previous {
		if err := enc.AddPreviousKey(k, v); err != nil {
			return nil, err
		}
	}

	logger.Info().Int("key_version", version).Int("previous_keys", len(previous)).
		Msg("PHI field-level encryption enabled")
	return &EncryptionService{encryptor: enc}, nil
}

// Encryptor returns the FieldEncryptor for repositories, or nil when
// encryption is disabled.
func (s *EncryptionService) Encryptor() FieldEncryptor {
	if s.encryptor == nil {
		return nil
	}
	return s.encryptor
}

// Rotator exposes the versioned encryptor for key rotation, or nil.
func (s *EncryptionService) Rotator() *RotatingEncryptor {
	return s.encryptor
}

// IsEnabled returns true if encryption is active.
func (s *EncryptionService) IsEnabled() bool {
	return s.encryptor != nil
}
