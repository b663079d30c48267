package main

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"

	"github.com/ehr/phivault/internal/config"
	"github.com/ehr/phivault/internal/domain/phivault"
	"github.com/ehr/phivault/internal/platform/db"
	"github.com/ehr/phivault/internal/platform/hipaa"
	"github.com/ehr/phivault/internal/platform/phi"
	"github.com/ehr/phivault/internal/platform/recognizer"
)

// app holds everything a command needs. close releases it in reverse order.
type app struct {
	cfg        *config.Config
	logger     zerolog.Logger
	pool       *pgxpool.Pool
	encryption *hipaa.EncryptionService
	policy     recognizer.FailurePolicy
	svc        *phivault.Service
	closers    []func()
}

func newLogger(env string) zerolog.Logger {
	if env == "development" {
		return zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).With().Timestamp().Logger()
	}
	return zerolog.New(os.Stdout).With().Timestamp().Logger()
}

// loadEnvFile exports the variables of path into the process environment.
// Variables already set win.
func loadEnvFile(path string) error {
	if path == "" {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("load env file %s: %w", path, err)
	}
	return nil
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

func openPool(ctx context.Context, cfg *config.Config) (*pgxpool.Pool, error) {
	return db.NewPool(ctx, db.PoolConfig{
		URL:             cfg.DatabaseURL,
		MaxConns:        cfg.DBMaxConns,
		MinConns:        cfg.DBMinConns,
		ApplicationName: "phivault",
	})
}

func newApp(ctx context.Context) (*app, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	a := &app{cfg: cfg, logger: newLogger(cfg.Env)}

	a.pool, err = openPool(ctx, cfg)
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, a.pool.Close)
	a.logger.Info().Msg("connected to database")

	a.encryption, err = hipaa.NewEncryptionService(hipaa.KeyConfig{
		Key:          cfg.HIPAAEncryptionKey,
		Version:      cfg.HIPAAKeyVersion,
		PreviousKeys: cfg.HIPAAPreviousKeys,
	}, a.logger)
	if err != nil {
		a.close()
		return nil, err
	}

	vocab, err := phi.LoadVocabulary(cfg.VocabularyFile)
	if err != nil {
		a.close()
		return nil, fmt.Errorf("PHI_VOCABULARY_FILE: %w", err)
	}

	backend, err := recognizer.New(recognizer.Options{
		Backend:        cfg.RecognizerBackend,
		URL:            cfg.RecognizerURL,
		Timeout:        cfg.RecognizerTimeout,
		ScoreThreshold: cfg.RecognizerScoreThreshold,
		ModelPath:      cfg.RecognizerModelPath,
		ModelName:      cfg.RecognizerModelName,
	})
	if err != nil {
		a.close()
		return nil, fmt.Errorf("recognizer: %w", err)
	}
	if c, ok := backend.(io.Closer); ok {
		a.closers = append(a.closers, func() { c.Close() })
	}

	a.policy, err = recognizer.ParseFailurePolicy(cfg.RecognizerFailurePolicy)
	if err != nil {
		a.close()
		return nil, err
	}
	if a.policy == recognizer.FailOpen {
		a.logger.Warn().Str("backend", cfg.RecognizerBackend).
			Msg("recognizer failure policy is open: text is stored unredacted while the recognizer is unavailable")
	}

	enc := a.encryption.Encryptor()
	a.svc = phivault.NewService(
		phivault.NewVaultRepo(a.pool, enc),
		phivault.NewStructuredRepo(a.pool, enc),
		recognizer.Guard(backend, a.policy, a.logger.With().Str("component", "recognizer").Logger()),
		phi.NewFilter(vocab),
		phivault.Options{Language: cfg.RecognizerLanguage, Concurrency: cfg.SanitizeConcurrency},
		a.logger.With().Str("component", "phivault").Logger(),
	)
	return a, nil
}

func (a *app) close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}
