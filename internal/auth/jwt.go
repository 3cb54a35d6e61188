// Package auth provides identity token signing and verification, password
// hashing, and the bearer-token middleware used by the profile backend.
//
// TOKEN FLOW:
//  1. The identity provider (identity.Local) signs an HS256 JWT describing the
//     signed-in account: subject = provider uid, plus email, name and picture.
//  2. The session client sends it as "Authorization: Bearer <jwt>" on every
//     profile call.
//  3. The backend's RequireAuth middleware verifies it with the same secret and
//     stores the claims in the request context.
//
// Tokens are short-lived (one hour). The client asks the provider for a
// force-refreshed token at the start of every reconciliation, so an expired
// token only ever costs one extra signature.
package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const (
	// Issuer is stamped on every identity token and required on validation.
	Issuer = "pharmacy-identity"

	// DefaultTokenTTL is how long a minted identity token stays valid.
	DefaultTokenTTL = time.Hour
)

// TokenService handles identity token creation and validation.
//
// It holds the HMAC secret shared by the identity provider and the backend.
type TokenService struct {
	secret []byte
	now    func() time.Time
}

// NewTokenService creates a TokenService with the given secret.
// The secret should be at least 32 bytes of random data in production.
// Example: JWT_SECRET=$(openssl rand -hex 32)
func NewTokenService(secret string) (*TokenService, error) {
	if len(secret) < 16 {
		return nil, errors.New("auth: JWT secret must be at least 16 characters")
	}
	return &TokenService{secret: []byte(secret), now: time.Now}, nil
}

// IdentityClaims is the identity token payload. "sub" carries the provider uid.
type IdentityClaims struct {
	Email         string `json:"email,omitempty"`
	Name          string `json:"name,omitempty"`
	Picture       string `json:"picture,omitempty"`
	EmailVerified bool   `json:"email_verified,omitempty"`
	jwt.RegisteredClaims
}

// UID returns the provider uid the token was issued for.
func (c *IdentityClaims) UID() string {
	return c.Subject
}

// Generate signs an identity token for the given claims with DefaultTokenTTL.
func (s *TokenService) Generate(c IdentityClaims) (string, error) {
	return s.GenerateWithDuration(c, DefaultTokenTTL)
}

// GenerateWithDuration signs an identity token that expires after d.
// A negative d yields an already-expired token, which tests rely on.
func (s *TokenService) GenerateWithDuration(c IdentityClaims, d time.Duration) (string, error) {
	if c.Subject == "" {
		return "", errors.New("auth: identity token needs a subject")
	}

	now := s.now()
	c.IssuedAt = jwt.NewNumericDate(now)
	c.ExpiresAt = jwt.NewNumericDate(now.Add(d))
	c.Issuer = Issuer

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, c)
	signed, err := token.SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("auth: signing token: %w", err)
	}

	return signed, nil
}

// Validate parses and verifies an identity token and returns its claims.
//
// The jwt library checks the signature, expiry, issuer and algorithm. Passing
// jwt.WithValidMethods rejects "alg: none" and any asymmetric algorithm swap.
func (s *TokenService) Validate(tokenStr string) (*IdentityClaims, error) {
	token, err := jwt.ParseWithClaims(
		tokenStr,
		&IdentityClaims{},
		func(token *jwt.Token) (any, error) {
			if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("auth: unexpected signing method: %v", token.Header["alg"])
			}
			return s.secret, nil
		},
		jwt.WithValidMethods([]string{"HS256"}),
		jwt.WithIssuer(Issuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(s.now),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, fmt.Errorf("auth: token expired")
		}
		return nil, fmt.Errorf("auth: invalid token: %w", err)
	}

	c, ok := token.Claims.(*IdentityClaims)
	if !ok || !token.Valid {
		return nil, fmt.Errorf("auth: invalid token claims")
	}

	if c.Subject == "" {
		return nil, fmt.Errorf("auth: token has no subject")
	}

	return c, nil
}
