package middleware

import (
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/golang-jwt/jwt/v5"

	"eduaudit/pkg/requestcontext"
)

// adminRole is the role claim required by the audit admin surface.
const adminRole = "admin"

// RequireAdmin validates the bearer token and rejects non-admin callers.
// The subject claim carries the numeric actor ID, injected into the request
// context for audit attribution of admin operations themselves.
func RequireAdmin(signingKey []byte, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()

			token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
			if !ok {
				logger.WarnContext(ctx, "admin request without bearer token",
					"request_id", requestcontext.RequestID(ctx),
					"path", r.URL.Path,
				)
				writeAuthError(w, http.StatusUnauthorized, "missing or invalid Authorization header")
				return
			}

			claims, err := parseAdminToken(token, signingKey)
			if err != nil {
				logger.WarnContext(ctx, "admin token rejected",
					"request_id", requestcontext.RequestID(ctx),
					"error", err,
				)
				writeAuthError(w, http.StatusUnauthorized, "invalid or expired token")
				return
			}
			if claims.Role != adminRole {
				logger.WarnContext(ctx, "non-admin token on admin surface",
					"request_id", requestcontext.RequestID(ctx),
					"role", claims.Role,
				)
				writeAuthError(w, http.StatusForbidden, "admin role required")
				return
			}

			if actorID, err := strconv.ParseInt(claims.Subject, 10, 64); err == nil {
				ctx = requestcontext.WithActorID(ctx, actorID)
			}
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// adminClaims is the claim set expected on admin tokens.
type adminClaims struct {
	Role string `json:"role"`
	jwt.RegisteredClaims
}

func parseAdminToken(token string, signingKey []byte) (*adminClaims, error) {
	claims := &adminClaims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return signingKey, nil
	})
	if err != nil {
		return nil, fmt.Errorf("parse token: %w", err)
	}
	if !parsed.Valid {
		return nil, fmt.Errorf("token invalid")
	}
	return claims, nil
}

func writeAuthError(w http.ResponseWriter, status int, description string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	fmt.Fprintf(w, `{"error":"unauthorized","error_description":%q}`, description)
}
