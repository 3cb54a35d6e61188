package middleware

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/sakif/pharmacy-session/internal/auth"
)

// AdminChecker decides whether uid may use the admin endpoints.
type AdminChecker func(ctx context.Context, uid string) bool

// RequireAdmin rejects requests whose authenticated identity is not an admin.
// It must run after auth.RequireAuth.
func RequireAdmin(isAdmin AdminChecker, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			claims, ok := auth.ClaimsFromContext(r.Context())
			if !ok || !isAdmin(r.Context(), claims.UID()) {
				uid := ""
				if ok {
					uid = claims.UID()
				}
				logger.Warn("admin access denied", slog.String("uid", uid), slog.String("path", r.URL.Path))

				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusForbidden)
				_ = json.NewEncoder(w).Encode(map[string]string{
					"error":   "forbidden",
					"message": "admin access required",
				})
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
