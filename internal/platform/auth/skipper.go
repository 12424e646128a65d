package auth

import (
	"strings"

	"github.com/labstack/echo/v4"
)

// publicPaths bypass authentication: health checks only. Signed file
// downloads are matched by prefix because the token is part of the path.
var publicPaths = map[string]bool{
	"/health":    true,
	"/health/db": true,
}

const filesPrefix = "/files/"

// AuthSkipper returns true for requests whose path should skip authentication.
// Pass it to Middleware or DevAuthMiddleware.
func AuthSkipper(c echo.Context) bool {
	return IsPublicPath(c.Request().URL.Path)
}

// IsPublicPath reports whether path is reachable without credentials.
func IsPublicPath(path string) bool {
	if publicPaths[path] {
		return true
	}
	return strings.HasPrefix(path, filesPrefix) && len(path) > len(filesPrefix)
}
