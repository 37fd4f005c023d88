package middleware

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
)

type contextKey int

const (
	userKey contextKey = iota
	userSlotKey
)

type userSlot struct {
	user string
}

func withUserSlot(ctx context.Context, s *userSlot) context.Context {
	return context.WithValue(ctx, userSlotKey, s)
}

// TokenLookup resolves a bearer token to the user it was issued to.
type TokenLookup func(token string) (user string, ok bool)

// BearerAuth rejects requests without a live "Authorization: Bearer" token
// with 401 and stores the token's user in the request context.
func BearerAuth(lookup TokenLookup) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, ok := BearerToken(r)
			if !ok {
				slog.Warn("auth: missing bearer token", "path", r.URL.Path, "method", r.Method, "ip", r.RemoteAddr)
				writeError(w, http.StatusUnauthorized, "authentication required")
				return
			}

			user, ok := lookup(token)
			if !ok {
				slog.Warn("auth: unknown or expired token", "path", r.URL.Path, "method", r.Method, "ip", r.RemoteAddr)
				writeError(w, http.StatusUnauthorized, "token is invalid or expired")
				return
			}

			if slot, ok := r.Context().Value(userSlotKey).(*userSlot); ok {
				slot.user = user
			}
			ctx := context.WithValue(r.Context(), userKey, user)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// BearerToken extracts the token from the Authorization header.
func BearerToken(r *http.Request) (string, bool) {
	h := r.Header.Get("Authorization")
	scheme, token, found := strings.Cut(h, " ")
	if !found || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}

// UserFromContext returns the user BearerAuth authenticated.
func UserFromContext(ctx context.Context) (string, bool) {
	user, ok := ctx.Value(userKey).(string)
	return user, ok && user != ""
}

func writeError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}
