package api

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/directline-io/directline/pkg/protocol"
)

const identityKey = "identity"

// requireAuth resolves the bearer token to a directory identity. Tokens for
// identities that were removed since issue are rejected.
func (s *Server) requireAuth(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		auth := c.Request().Header.Get(echo.HeaderAuthorization)
		token, ok := strings.CutPrefix(auth, "Bearer ")
		if !ok || token == "" {
			return c.JSON(http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
		}
		claims, err := s.tokens.Parse(token)
		if err != nil {
			return c.JSON(http.StatusUnauthorized, map[string]string{"error": "invalid token"})
		}
		ident, err := s.dir.Get(claims.Subject)
		if err != nil {
			return c.JSON(http.StatusUnauthorized, map[string]string{"error": "unknown identity"})
		}
		c.Set(identityKey, ident)
		return next(c)
	}
}

func currentIdentity(c echo.Context) protocol.Identity {
	ident, _ := c.Get(identityKey).(protocol.Identity)
	return ident
}

func requireRole(allowed func(protocol.Identity) bool) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if !allowed(currentIdentity(c)) {
				return c.JSON(http.StatusForbidden, map[string]string{"error": "forbidden"})
			}
			return next(c)
		}
	}
}

var (
	requireStaff      = requireRole(protocol.Identity.IsStaff)
	requireClient     = requireRole(func(i protocol.Identity) bool { return i.Role == protocol.RoleClient })
	requireSupervisor = requireRole(func(i protocol.Identity) bool { return i.Role == protocol.RoleSupervisor })
)

func (s *Server) requestLogger() echo.MiddlewareFunc {
	return middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogMethod:  true,
		LogURI:     true,
		LogStatus:  true,
		LogLatency: true,
		LogError:   true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			level := slog.LevelDebug
			if v.Status >= http.StatusInternalServerError {
				level = slog.LevelWarn
			}
			attrs := []any{"method", v.Method, "uri", v.URI, "status", v.Status, "latency", v.Latency}
			if ident := currentIdentity(c); ident.ID != "" {
				attrs = append(attrs, "identity", ident.ID)
			}
			if v.Error != nil {
				attrs = append(attrs, "error", v.Error)
			}
			s.logger.Log(c.Request().Context(), level, "http request", attrs...)
			return nil
		},
	})
}
