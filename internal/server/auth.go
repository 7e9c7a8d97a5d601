package server

import (
	"context"
	"errors"
	"net/http"
	"path"
	"strings"

	"github.com/danielgtaylor/huma/v2"
	"github.com/golang-jwt/jwt/v5"

	"github.com/tobiasstamann/camunda-bpm-taskpool/internal/view/auth"
)

type AuthConfig struct {
	JWTSecret string
	// AllowUserHeaders accepts X-User / X-Groups instead of a token. Meant
	// for local development only.
	AllowUserHeaders bool
}

type userKey struct{}

func withUser(ctx context.Context, u auth.ActingUser) context.Context {
	return context.WithValue(ctx, userKey{}, u)
}

func userFromContext(ctx context.Context) (auth.ActingUser, huma.StatusError) {
	if u, ok := ctx.Value(userKey{}).(auth.ActingUser); ok && u.Username != "" {
		return u, nil
	}
	return auth.ActingUser{}, newAPIError(http.StatusUnauthorized, "unauthorized", "authentication required", nil)
}

type jwtClaims struct {
	jwt.RegisteredClaims
	Groups []string `json:"groups,omitempty"`
}

func authenticateJWT(token, secret string) (auth.ActingUser, error) {
	if strings.TrimSpace(secret) == "" {
		return auth.ActingUser{}, errors.New("jwt secret not configured")
	}
	parser := jwt.NewParser(jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	claims := &jwtClaims{}
	parsed, err := parser.ParseWithClaims(token, claims, func(t *jwt.Token) (any, error) {
		return []byte(secret), nil
	})
	if err != nil {
		return auth.ActingUser{}, err
	}
	if !parsed.Valid {
		return auth.ActingUser{}, errors.New("invalid token")
	}
	if claims.Subject == "" {
		return auth.ActingUser{}, errors.New("subject claim required")
	}
	return auth.ActingUser{Username: claims.Subject, Groups: claims.Groups}, nil
}

func bearerToken(authz string) (string, bool) {
	parts := strings.Fields(authz)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
		return "", false
	}
	return parts[1], true
}

func splitGroups(header string) []string {
	if header == "" {
		return nil
	}
	var groups []string
	for _, g := range strings.Split(header, ",") {
		if g = strings.TrimSpace(g); g != "" {
			groups = append(groups, g)
		}
	}
	return groups
}

// newAuthMiddleware resolves the acting user from a bearer token or, when
// enabled, the X-User / X-Groups development headers. It does not reject
// anonymous requests itself; operations that need a user do that.
func newAuthMiddleware(basePath string, cfg AuthConfig) func(http.Handler) http.Handler {
	healthPath := path.Join(basePath, "health")
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			if req.URL.Path == healthPath {
				next.ServeHTTP(w, req)
				return
			}
			if token, ok := bearerToken(req.Header.Get("Authorization")); ok {
				u, err := authenticateJWT(token, cfg.JWTSecret)
				if err != nil {
					writeError(w, newAPIError(http.StatusUnauthorized, "unauthorized", "invalid token", nil))
					return
				}
				next.ServeHTTP(w, req.WithContext(withUser(req.Context(), u)))
				return
			}
			if cfg.AllowUserHeaders {
				if username := req.Header.Get("X-User"); username != "" {
					u := auth.ActingUser{Username: username, Groups: splitGroups(req.Header.Get("X-Groups"))}
					next.ServeHTTP(w, req.WithContext(withUser(req.Context(), u)))
					return
				}
			}
			next.ServeHTTP(w, req)
		})
	}
}

// MintToken issues an HS256 token for the given user; used by the CLI.
func MintToken(secret, username string, groups []string, claims jwt.RegisteredClaims) (string, error) {
	if strings.TrimSpace(secret) == "" {
		return "", errors.New("jwt secret not configured")
	}
	claims.Subject = username
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwtClaims{
		RegisteredClaims: claims,
		Groups:           groups,
	})
	return token.SignedString([]byte(secret))
}
