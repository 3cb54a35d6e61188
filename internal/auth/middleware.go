package auth

import (
	"context"
	"errors"
	"net/http"
	"strings"
)

// contextKey is unexported so only this package can read or write the claims
// stored in a request context.
type contextKey string

const claimsKey contextKey = "identityClaims"

// ErrNoBearerToken is returned when the Authorization header is missing or is
// not a bearer credential.
var ErrNoBearerToken = errors.New("auth: missing bearer token")

// RequireAuth is a middleware that enforces a valid identity token on protected
// routes.
//
// It reads "Authorization: Bearer <jwt>", validates it with tokens and stores the
// claims in the request context. A missing or invalid token ends the chain with
// 401 and the same JSON error shape the handlers use.
//
// The session client treats 401 from GET /api/users/me like 404 (provision the
// account), so this middleware must never answer 403 for a bad token.
func RequireAuth(tokens *TokenService) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			claims, err := claimsFromRequest(r, tokens)
			if err != nil {
				w.Header().Set("Content-Type", "application/json")
				w.Header().Set("WWW-Authenticate", `Bearer realm="pharmacy"`)
				w.WriteHeader(http.StatusUnauthorized)
				_, _ = w.Write([]byte(`{"error":"unauthorized","message":"valid authentication required"}`))
				return
			}

			next.ServeHTTP(w, r.WithContext(WithClaims(r.Context(), claims)))
		})
	}
}

// WithClaims returns a copy of ctx carrying claims. Exported for handler tests.
func WithClaims(ctx context.Context, claims *IdentityClaims) context.Context {
	return context.WithValue(ctx, claimsKey, claims)
}

// ClaimsFromContext retrieves the identity claims stored by RequireAuth.
//
// Returns (nil, false) on routes that are not behind RequireAuth.
func ClaimsFromContext(ctx context.Context) (*IdentityClaims, bool) {
	c, ok := ctx.Value(claimsKey).(*IdentityClaims)
	return c, ok && c != nil && c.Subject != ""
}

// BearerToken extracts the credential from an "Authorization: Bearer x" header.
// The scheme is matched case-insensitively.
func BearerToken(r *http.Request) (string, error) {
	h := strings.TrimSpace(r.Header.Get("Authorization"))
	scheme, token, ok := strings.Cut(h, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", ErrNoBearerToken
	}
	token = strings.TrimSpace(token)
	if token == "" {
		return "", ErrNoBearerToken
	}
	return token, nil
}

func claimsFromRequest(r *http.Request, tokens *TokenService) (*IdentityClaims, error) {
	raw, err := BearerToken(r)
	if err != nil {
		return nil, err
	}
	return tokens.Validate(raw)
}
