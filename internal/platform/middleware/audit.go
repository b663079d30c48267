package middleware

import (
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/ehr/phivault/internal/platform/auth"
)

// Audit emits one "phi_access" event per request under prefix. Events name
// the caller, the route and the subject; they never contain request or
// response bodies.
func Audit(logger zerolog.Logger, prefix string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			req := c.Request()
			if !strings.HasPrefix(req.URL.Path, prefix) {
				return next(c)
			}

			start := time.Now()
			err := next(c)

			status := c.Response().Status
			if he, ok := err.(*echo.HTTPError); ok {
				status = he.Code
			}

			ctx := req.Context()
			rid, _ := c.Get("request_id").(string)
			evt := logger.Info()
			if status == http.StatusUnauthorized || status == http.StatusForbidden {
				evt = logger.Warn()
			}
			evt.
				Str("type", "phi_audit").
				Str("request_id", rid).
				Str("user_id", auth.UserIDFromContext(ctx)).
				Strs("user_roles", auth.RolesFromContext(ctx)).
				Str("action", auditAction(req.Method, c.Path())).
				Str("route", c.Path()).
				Str("subject_id", c.Param("subject_id")).
				Str("entry_id", c.Param("id")).
				Int("status", status).
				Dur("latency", time.Since(start)).
				Str("remote_ip", c.RealIP()).
				Msg("phi_access")

			return err
		}
	}
}

// auditAction classifies a route by what it does to the vault.
func auditAction(method, route string) string {
	switch {
	case strings.Contains(route, "/entries"):
		return "reveal"
	case strings.Contains(route, "deidentify"), strings.Contains(route, "demographics"):
		return "deidentify"
	case method == http.MethodGet || method == http.MethodHead:
		return "read"
	default:
		return "vault_write"
	}
}
