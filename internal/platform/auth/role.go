package auth

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
)

// Role is the closed set of portal roles.
type Role string

const (
	RolePatient  Role = "Patient"
	RoleProvider Role = "Provider"
)

// ParseRole accepts the canonical names case-insensitively and rejects
// everything else.
func ParseRole(s string) (Role, error) {
	switch {
	case strings.EqualFold(s, string(RolePatient)):
		return RolePatient, nil
	case strings.EqualFold(s, string(RoleProvider)):
		return RoleProvider, nil
	default:
		return "", fmt.Errorf("unknown role %q", s)
	}
}

// Allowed reports whether role is one of allowed.
func Allowed(role Role, allowed ...Role) bool {
	for _, r := range allowed {
		if role == r {
			return true
		}
	}
	return false
}

// RequireRole rejects requests whose principal is not in roles.
func RequireRole(roles ...Role) echo.MiddlewareFunc {
	names := make([]string, len(roles))
	for i, r := range roles {
		names[i] = string(r)
	}
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			p := PrincipalFromContext(c.Request().Context())
			if p == nil {
				return echo.NewHTTPError(http.StatusUnauthorized, "authentication required")
			}
			if !Allowed(p.Role, roles...) {
				return echo.NewHTTPError(http.StatusForbidden,
					fmt.Sprintf("required role: %s", strings.Join(names, " or ")))
			}
			return next(c)
		}
	}
}
