package config

import (
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Port               string `mapstructure:"PORT"`
	Env                string `mapstructure:"ENV"`
	AuthMode           string `mapstructure:"AUTH_MODE"`
	AuthIssuer         string `mapstructure:"AUTH_ISSUER"`
	AuthAudience       string `mapstructure:"AUTH_AUDIENCE"`
	AuthJWKSURL        string `mapstructure:"AUTH_JWKS_URL"`
	AuthSigningKey     string `mapstructure:"AUTH_SIGNING_KEY"`
	DatabaseURL        string `mapstructure:"DATABASE_URL"`
	DBMaxConns         int32  `mapstructure:"DB_MAX_CONNS"`
	DBMinConns         int32  `mapstructure:"DB_MIN_CONNS"`
	HIPAAEncryptionKey string `mapstructure:"HIPAA_ENCRYPTION_KEY"`
	HIPAAKeyVersion    int    `mapstructure:"HIPAA_KEY_VERSION"`
	HIPAAPreviousKeys  string `mapstructure:"HIPAA_PREVIOUS_KEYS"`

	RecognizerBackend        string        `mapstructure:"RECOGNIZER_BACKEND"`
	RecognizerURL            string        `mapstructure:"RECOGNIZER_URL"`
	RecognizerLanguage       string        `mapstructure:"RECOGNIZER_LANGUAGE"`
	RecognizerTimeout        time.Duration `mapstructure:"RECOGNIZER_TIMEOUT"`
	RecognizerScoreThreshold float64       `mapstructure:"RECOGNIZER_SCORE_THRESHOLD"`
	RecognizerFailurePolicy  string        `mapstructure:"RECOGNIZER_FAILURE_POLICY"`
	RecognizerModelPath      string        `mapstructure:"RECOGNIZER_MODEL_PATH"`
	RecognizerModelName      string        `mapstructure:"RECOGNIZER_MODEL_NAME"`

	VocabularyFile      string `mapstructure:"PHI_VOCABULARY_FILE"`
	SanitizeConcurrency int    `mapstructure:"SANITIZE_CONCURRENCY"`
	BodyLimit           string `mapstructure:"BODY_LIMIT"`
}

var keys = []string{
	"PORT", "ENV", "AUTH_MODE", "AUTH_ISSUER", "AUTH_AUDIENCE", "AUTH_JWKS_URL", "AUTH_SIGNING_KEY",
	"DATABASE_URL", "DB_MAX_CONNS", "DB_MIN_CONNS",
	"HIPAA_ENCRYPTION_KEY", "HIPAA_KEY_VERSION", "HIPAA_PREVIOUS_KEYS",
	"RECOGNIZER_BACKEND", "RECOGNIZER_URL", "RECOGNIZER_LANGUAGE", "RECOGNIZER_TIMEOUT",
	"RECOGNIZER_SCORE_THRESHOLD", "RECOGNIZER_FAILURE_POLICY", "RECOGNIZER_MODEL_PATH", "RECOGNIZER_MODEL_NAME",
	"PHI_VOCABULARY_FILE", "SANITIZE_CONCURRENCY", "BODY_LIMIT",
}

// Load reads configuration from the environment and an optional .env file
// in the working directory.
func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.SetConfigType("env")
	v.AutomaticEnv()

	v.SetDefault("PORT", "8000")
	v.SetDefault("ENV", "development")
	v.SetDefault("AUTH_MODE", "")
	v.SetDefault("DB_MAX_CONNS", 20)
	v.SetDefault("DB_MIN_CONNS", 2)
	v.SetDefault("HIPAA_KEY_VERSION", 1)
	v.SetDefault("RECOGNIZER_BACKEND", "http")
	v.SetDefault("RECOGNIZER_URL", "http://localhost:5002")
	v.SetDefault("RECOGNIZER_LANGUAGE", "en")
	v.SetDefault("RECOGNIZER_TIMEOUT", "5s")
	v.SetDefault("RECOGNIZER_SCORE_THRESHOLD", 0.35)
	v.SetDefault("RECOGNIZER_FAILURE_POLICY", "open")
	v.SetDefault("RECOGNIZER_MODEL_PATH", "./models")
	v.SetDefault("RECOGNIZER_MODEL_NAME", "KnightsAnalytics/distilbert-NER")
	v.SetDefault("SANITIZE_CONCURRENCY", 4)
	v.SetDefault("BODY_LIMIT", "1M")

	for _, k := range keys {
		v.BindEnv(k)
	}

	// .env is optional
	_ = v.ReadInConfig()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}
	return cfg, nil
}

func (c *Config) IsDev() bool {
	return c.Env == "development"
}

// IsProduction returns true when the server is configured for production mode.
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// ResolvedAuthMode returns AUTH_MODE, or infers it: development under
// ENV=development, otherwise jwt.
func (c *Config) ResolvedAuthMode() string {
	if c.AuthMode != "" {
		return c.AuthMode
	}
	if c.IsDev() {
		return "development"
	}
	return "jwt"
}

// Validate checks that the configuration is safe to run.
func (c *Config) Validate() error {
	switch mode := c.ResolvedAuthMode(); mode {
	case "development":
		if c.IsProduction() {
			return fmt.Errorf("AUTH_MODE=development is not allowed when ENV=production")
		}
	case "jwt":
		if c.AuthSigningKey == "" && c.AuthJWKSURL == "" && c.AuthIssuer == "" {
			return fmt.Errorf("AUTH_MODE=jwt needs AUTH_SIGNING_KEY, AUTH_JWKS_URL or AUTH_ISSUER")
		}
	default:
		return fmt.Errorf("AUTH_MODE must be \"development\" or \"jwt\", got %q", mode)
	}

	if c.IsProduction() && c.HIPAAEncryptionKey == "" {
		return fmt.Errorf("HIPAA_ENCRYPTION_KEY is required in production")
	}
	if c.HIPAAEncryptionKey != "" {
		keyBytes, err := hex.DecodeString(c.HIPAAEncryptionKey)
		if err != nil {
			return fmt.Errorf("HIPAA_ENCRYPTION_KEY is not valid hex: %w", err)
		}
		if len(keyBytes) != 32 {
			return fmt.Errorf("HIPAA_ENCRYPTION_KEY must be 32 bytes (64 hex chars), got %d bytes", len(keyBytes))
		}
	}
	if c.HIPAAKeyVersion < 1 {
		return fmt.Errorf("HIPAA_KEY_VERSION must be positive, got %d", c.HIPAAKeyVersion)
	}

	switch strings.ToLower(c.RecognizerBackend) {
	case "http":
		if c.RecognizerURL == "" {
			return fmt.Errorf("RECOGNIZER_URL is required when RECOGNIZER_BACKEND=http")
		}
	case "hugot", "none":
	default:
		return fmt.Errorf("RECOGNIZER_BACKEND must be \"http\", \"hugot\" or \"none\", got %q", c.RecognizerBackend)
	}
	switch strings.ToLower(c.RecognizerFailurePolicy) {
	case "", "open", "closed":
	default:
		return fmt.Errorf("RECOGNIZER_FAILURE_POLICY must be \"open\" or \"closed\", got %q", c.RecognizerFailurePolicy)
	}
	if c.RecognizerScoreThreshold < 0 || c.RecognizerScoreThreshold > 1 {
		return fmt.Errorf("RECOGNIZER_SCORE_THRESHOLD must be within [0,1], got %v", c.RecognizerScoreThreshold)
	}
	if c.SanitizeConcurrency < 1 {
		return fmt.Errorf("SANITIZE_CONCURRENCY must be at least 1, got %d", c.SanitizeConcurrency)
	}
	return nil
}
