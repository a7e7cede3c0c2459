package auth

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

// contextKey is a custom type for context keys to avoid collisions
type contextKey string

const principalContextKey contextKey = "principal"

// Principal is the authenticated subject extracted from a verified bearer
// token.
type Principal struct {
	Subject string
	Claims  jwt.MapClaims
}

// Gate verifies bearer tokens against the identity trust secret and enforces
// "subject owns resource" on user-scoped paths.
type Gate struct {
	secret []byte
	logger *slog.Logger
}

// NewGate creates a gate bound to the identity provider's trust material.
func NewGate(secret string, logger *slog.Logger) *Gate {
	return &Gate{secret: []byte(secret), logger: logger}
}

// Verify parses and validates a bearer token, returning the principal.
func (g *Gate) Verify(tokenString string) (*Principal, error) {
	claims := jwt.MapClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return g.secret, nil
	})
	if err != nil {
		return nil, err
	}
	if !token.Valid {
		return nil, fmt.Errorf("invalid token")
	}

	subject, err := claims.GetSubject()
	if err != nil || subject == "" {
		return nil, fmt.Errorf("token has no subject")
	}

	return &Principal{Subject: subject, Claims: claims}, nil
}

// Middleware gates a handler behind bearer-token verification and attaches
// the principal to the request context. Rejections use the same response
// envelope as the API handlers.
func (g *Gate) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		authHeader := r.Header.Get("Authorization")
		if authHeader == "" {
			unauthorized(w, "authorization header required")
			return
		}

		parts := strings.Split(authHeader, " ")
		if len(parts) != 2 || parts[0] != "Bearer" {
			unauthorized(w, "invalid authorization header format")
			return
		}

		principal, err := g.Verify(parts[1])
		if err != nil {
			unauthorized(w, "invalid or expired token")
			return
		}

		ctx := context.WithValue(r.Context(), principalContextKey, principal)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func unauthorized(w http.ResponseWriter, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	json.NewEncoder(w).Encode(map[string]any{
		"success": false,
		"message": message,
	})
}

// PrincipalFromContext extracts the verified principal from the request
// context.
func PrincipalFromContext(ctx context.Context) (*Principal, bool) {
	principal, ok := ctx.Value(principalContextKey).(*Principal)
	return principal, ok
}

// RequireOwner checks that the path's userId segment matches the principal.
// A mismatch is reported as false and audited; callers respond 404 so an
// attacker cannot distinguish "not yours" from "does not exist".
func (g *Gate) RequireOwner(ctx context.Context, pathUserID string) (*Principal, bool) {
	principal, ok := PrincipalFromContext(ctx)
	if !ok {
		return nil, false
	}
	if principal.Subject != pathUserID {
		g.logger.Warn("ownership mismatch",
			"subject", principal.Subject,
			"path_user_id", pathUserID)
		return principal, false
	}
	return principal, true
}
