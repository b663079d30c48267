package main

import (
	"fmt"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/ehr/phivault/internal/config"
	"github.com/ehr/phivault/internal/domain/phivault"
	"github.com/ehr/phivault/internal/platform/auth"
	"github.com/ehr/phivault/internal/platform/db"
	"github.com/ehr/phivault/internal/platform/middleware"
)

const (
	version   = "0.1.0"
	phiPrefix = "/api/v1/phi"
)

func authMiddleware(cfg *config.Config) (echo.MiddlewareFunc, error) {
	if cfg.ResolvedAuthMode() == "development" {
		return auth.DevAuthMiddleware(), nil
	}
	var signingKey []byte
	if cfg.AuthSigningKey != "" {
		signingKey = []byte(cfg.AuthSigningKey)
	}
	return auth.JWTMiddleware(auth.JWTConfig{
		Issuer:     cfg.AuthIssuer,
		Audience:   cfg.AuthAudience,
		JWKSURL:    cfg.AuthJWKSURL,
		SigningKey: signingKey,
	})
}

// newRouter builds the HTTP API. Health endpoints sit outside auth.
func newRouter(cfg *config.Config, logger zerolog.Logger, svc *phivault.Service, pinger db.Pinger) (*echo.Echo, error) {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	// Global middleware
	e.Use(middleware.Recovery(logger))
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(logger))
	e.Use(middleware.SecurityHeaders())
	e.Use(middleware.BodyLimit(cfg.BodyLimit))

	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{
			"status":  "ok",
			"version": version,
		})
	})
	e.GET("/health/db", db.HealthHandler(pinger))

	authMW, err := authMiddleware(cfg)
	if err != nil {
		return nil, fmt.Errorf("auth middleware: %w", err)
	}

	// Audit runs inside auth so events carry the caller identity.
	api := e.Group(phiPrefix, authMW, middleware.Audit(logger.With().Str("component", "audit").Logger(), phiPrefix))
	phivault.NewHandler(svc).RegisterRoutes(api)
	return e, nil
}
