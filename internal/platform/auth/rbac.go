package auth

import (
	"fmt"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/habms/habms/internal/platform/session"
)

// RequireRole returns middleware that checks the authenticated user holds one
// of roles. It must run after JWTMiddleware.
func RequireRole(roles ...session.Role) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			has := RoleFromContext(c.Request().Context())
			for _, required := range roles {
				if has == required {
					return next(c)
				}
			}
			return echo.NewHTTPError(http.StatusForbidden, fmt.Sprintf("required role: %v", roles))
		}
	}
}
