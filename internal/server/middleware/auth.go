// Package middleware provides HTTP middleware.
package middleware

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/stackpanel/stackpanel/internal/domain"
	"github.com/stackpanel/stackpanel/internal/services/auth"
)

// ContextKey is the type for context keys.
type ContextKey string

// ClaimsKey is the context key for JWT claims.
const ClaimsKey ContextKey = "claims"

// TokenVerifier verifies access tokens. *auth.Service implements it.
type TokenVerifier interface {
	ValidateToken(ctx context.Context, token string) (*auth.Claims, error)
}

// Auth authenticates API requests with a bearer access token.
type Auth struct {
	verifier TokenVerifier
	logger   *zap.Logger
}

// NewAuth creates a new auth middleware.
func NewAuth(verifier TokenVerifier, logger *zap.Logger) *Auth {
	return &Auth{
		verifier: verifier,
		logger:   logger.With(zap.String("middleware", "auth")),
	}
}

// publicEndpoints lists paths that don't require authentication.
var publicEndpoints = []string{
	"/health",
	"/healthz",
	"/ready",
	"/live",
	"/api/v1/info",
	"/api/v1/auth/login",
	"/api/v1/auth/refresh",
}

func isPublicEndpoint(path string) bool {
	for _, ep := range publicEndpoints {
		if path == ep {
			return true
		}
	}
	return false
}

// Wrap rejects unauthenticated requests and stamps the caller as the acting user.
func (a *Auth) Wrap(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodOptions || isPublicEndpoint(r.URL.Path) {
			next.ServeHTTP(w, r)
			return
		}

		token, ok := bearerToken(r)
		if !ok {
			a.logger.Debug("Missing authorization", zap.String("path", r.URL.Path))
			unauthorized(w, "missing authorization header")
			return
		}

		claims, err := a.verifier.ValidateToken(r.Context(), token)
		if err != nil {
			a.logger.Debug("Token verification failed", zap.Error(err))
			unauthorized(w, "invalid or expired token")
			return
		}

		ctx := context.WithValue(r.Context(), ClaimsKey, claims)
		ctx = domain.WithActor(ctx, claims.UserID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// bearerToken reads the Authorization header, falling back to the access_token
// query parameter for websocket upgrades which cannot carry headers from browsers.
func bearerToken(r *http.Request) (string, bool) {
	if header := r.Header.Get("Authorization"); header != "" {
		token := strings.TrimPrefix(header, "Bearer ")
		if token == header || token == "" {
			return "", false
		}
		return token, true
	}
	if token := r.URL.Query().Get("access_token"); token != "" {
		return token, true
	}
	return "", false
}

func unauthorized(w http.ResponseWriter, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("WWW-Authenticate", `Bearer realm="stackpanel"`)
	w.WriteHeader(http.StatusUnauthorized)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": message})
}

// GetClaims extracts JWT claims from the context.
func GetClaims(ctx context.Context) (*auth.Claims, bool) {
	claims, ok := ctx.Value(ClaimsKey).(*auth.Claims)
	return claims, ok
}
