package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strings"

	"github.com/good-yellow-bee/hostdeck/internal/api/auth"
	"github.com/good-yellow-bee/hostdeck/internal/metrics"
)

// Context keys for storing caller information.
type contextKey string

const (
	subjectKey contextKey = "subject"
	claimsKey  contextKey = "claims"
)

func writeError(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]string{
			"code":    code,
			"message": message,
		},
	})
}

// jsonUnauthorized writes an unauthorized error response.
func jsonUnauthorized(w http.ResponseWriter) {
	writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "invalid or expired token")
}

// bearerToken extracts the token from an "Authorization: Bearer <token>" header.
func bearerToken(r *http.Request) (string, bool) {
	scheme, token, ok := strings.Cut(r.Header.Get("Authorization"), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") || token == "" {
		return "", false
	}
	return token, true
}

// JWTAuth returns middleware that validates admin bearer tokens.
func JWTAuth(jwtService *auth.JWTService) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, ok := bearerToken(r)
			if !ok {
				metrics.AuthAttemptsTotal.WithLabelValues("missing").Inc()
				jsonUnauthorized(w)
				return
			}

			claims, err := jwtService.ValidateToken(token)
			switch {
			case errors.Is(err, auth.ErrTokenExpired):
				metrics.AuthAttemptsTotal.WithLabelValues("expired").Inc()
				jsonUnauthorized(w)
				return
			case err != nil:
				log.Printf("warning: rejected bearer token from %s: %v", r.RemoteAddr, err)
				metrics.AuthAttemptsTotal.WithLabelValues("failure").Inc()
				jsonUnauthorized(w)
				return
			}
			metrics.AuthAttemptsTotal.WithLabelValues("success").Inc()

			ctx := context.WithValue(r.Context(), subjectKey, claims.Subject)
			ctx = context.WithValue(ctx, claimsKey, claims)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// GetSubject returns the authenticated operator from context.
func GetSubject(ctx context.Context) string {
	if v := ctx.Value(subjectKey); v != nil {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}

// GetClaims returns the JWT claims from context.
func GetClaims(ctx context.Context) *auth.Claims {
	if v := ctx.Value(claimsKey); v != nil {
		if c, ok := v.(*auth.Claims); ok {
			return c
		}
	}
	return nil
}
