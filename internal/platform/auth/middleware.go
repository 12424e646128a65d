package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"github.com/labstack/echo/v4"
)

type contextKey string

const principalKey contextKey = "principal"

// ErrInvalidToken is returned for any token that fails verification.
var ErrInvalidToken = errors.New("invalid token")

// Principal is the authenticated caller. UserID is the users table key, not
// a patient or doctor id.
type Principal struct {
	UserID int64
	Role   Role
}

// Claims is the bearer token payload. Subject carries the numeric user id.
type Claims struct {
	jwt.RegisteredClaims
	Role string `json:"role"`
}

// Authenticator verifies a bearer credential.
type Authenticator interface {
	Verify(ctx context.Context, token string) (*Principal, error)
}

// JWTConfig configures HS256 verification.
type JWTConfig struct {
	SigningKey []byte
	Issuer     string
}

// JWTAuthenticator validates HS256 tokens issued by the account service.
type JWTAuthenticator struct {
	key  []byte
	opts []jwt.ParserOption
}

func NewJWTAuthenticator(cfg JWTConfig) *JWTAuthenticator {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
	}
	if cfg.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(cfg.Issuer))
	}
	return &JWTAuthenticator{key: cfg.SigningKey, opts: opts}
}

// Verify parses the token and resolves its subject and role. A role outside
// the closed set is rejected here, before any handler runs.
func (a *JWTAuthenticator) Verify(_ context.Context, tokenStr string) (*Principal, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenStr, claims, func(*jwt.Token) (interface{}, error) {
		return a.key, nil
	}, a.opts...)
	if err != nil || !token.Valid {
		return nil, ErrInvalidToken
	}
	return principalFromClaims(claims)
}

func principalFromClaims(claims *Claims) (*Principal, error) {
	uid, err := strconv.ParseInt(claims.Subject, 10, 64)
	if err != nil || uid <= 0 {
		return nil, fmt.Errorf("%w: subject is not a user id", ErrInvalidToken)
	}
	role, err := ParseRole(claims.Role)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	return &Principal{UserID: uid, Role: role}, nil
}

// Skipper reports whether a request bypasses authentication.
type Skipper func(c echo.Context) bool

// Middleware authenticates the Authorization header and stores the principal
// on the request context. A nil skipper authenticates every request.
func Middleware(a Authenticator, skip Skipper) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if skip != nil && skip(c) {
				return next(c)
			}
			tokenStr, err := bearerToken(c.Request())
			if err != nil {
				return echo.NewHTTPError(http.StatusUnauthorized, err.Error())
			}
			p, err := a.Verify(c.Request().Context(), tokenStr)
			if err != nil {
				return echo.NewHTTPError(http.StatusUnauthorized, "invalid token")
			}
			c.SetRequest(c.Request().WithContext(WithPrincipal(c.Request().Context(), p)))
			return next(c)
		}
	}
}

// DevAuthMiddleware accepts X-Dev-User-ID and X-Dev-Role headers when no
// bearer token is sent. Requests with a token are verified normally.
func DevAuthMiddleware(a Authenticator, skip Skipper) echo.MiddlewareFunc {
	verify := Middleware(a, nil)
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		withToken := verify(next)
		return func(c echo.Context) error {
			if skip != nil && skip(c) {
				return next(c)
			}
			if c.Request().Header.Get("Authorization") != "" {
				return withToken(c)
			}
			uid, err := strconv.ParseInt(c.Request().Header.Get("X-Dev-User-ID"), 10, 64)
			if err != nil || uid <= 0 {
				return echo.NewHTTPError(http.StatusUnauthorized, "missing authorization header")
			}
			role, err := ParseRole(c.Request().Header.Get("X-Dev-Role"))
			if err != nil {
				return echo.NewHTTPError(http.StatusUnauthorized, err.Error())
			}
			p := &Principal{UserID: uid, Role: role}
			c.SetRequest(c.Request().WithContext(WithPrincipal(c.Request().Context(), p)))
			return next(c)
		}
	}
}

func bearerToken(r *http.Request) (string, error) {
	header := r.Header.Get("Authorization")
	if header == "" {
		return "", errors.New("missing authorization header")
	}
	scheme, token, ok := strings.Cut(header, " ")
	if !ok || !strings.EqualFold(scheme, "bearer") || strings.TrimSpace(token) == "" {
		return "", errors.New("invalid authorization format")
	}
	return strings.TrimSpace(token), nil
}

// WithPrincipal returns a copy of ctx carrying p.
func WithPrincipal(ctx context.Context, p *Principal) context.Context {
	return context.WithValue(ctx, principalKey, p)
}

// PrincipalFromContext returns the authenticated caller or nil.
func PrincipalFromContext(ctx context.Context) *Principal {
	p, _ := ctx.Value(principalKey).(*Principal)
	return p
}
