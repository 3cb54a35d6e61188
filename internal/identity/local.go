package identity

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/xid"

	"github.com/sakif/pharmacy-session/internal/auth"
	"github.com/sakif/pharmacy-session/internal/fanout"
)

// tokenRefreshMargin is how early a cached token is considered stale.
const tokenRefreshMargin = 5 * time.Minute

var (
	// ErrAccountExists is returned by Register for an email already registered.
	ErrAccountExists = errors.New("identity: account already exists")

	// ErrInvalidCredentials is returned by SignIn for an unknown email or a
	// wrong password. The two cases are deliberately indistinguishable.
	ErrInvalidCredentials = errors.New("identity: invalid email or password")
)

// Local is an in-process identity provider for development and tests.
//
// Accounts live in memory with bcrypt password hashes. Tokens are HS256 identity
// JWTs signed by auth.TokenService, so a profile backend configured with the
// same secret accepts them exactly as it would accept a hosted provider's.
type Local struct {
	tokens    *auth.TokenService
	passwords *auth.PasswordService
	logger    *slog.Logger
	now       func() time.Time

	mu          sync.Mutex
	accounts    map[string]*localAccount // keyed by lowercased email
	current     *Identity
	cachedToken string
	cachedUntil time.Time

	hub fanout.Hub[*Identity]
}

type localAccount struct {
	identity     Identity
	passwordHash string
}

var _ Provider = (*Local)(nil)

// NewLocal creates an empty Local provider.
func NewLocal(tokens *auth.TokenService, passwords *auth.PasswordService, logger *slog.Logger) *Local {
	return &Local{
		tokens:    tokens,
		passwords: passwords,
		logger:    logger,
		now:       time.Now,
		accounts:  make(map[string]*localAccount),
	}
}

// Register creates an account and returns its identity. The uid is a fresh xid.
func (l *Local) Register(email, password, displayName, photoURL string) (*Identity, error) {
	email = strings.TrimSpace(email)
	if email == "" || !strings.Contains(email, "@") {
		return nil, fmt.Errorf("identity: invalid email %q", email)
	}

	hash, err := l.passwords.Hash(password)
	if err != nil {
		return nil, fmt.Errorf("identity: registering %s: %w", email, err)
	}

	key := strings.ToLower(email)

	l.mu.Lock()
	defer l.mu.Unlock()

	if _, ok := l.accounts[key]; ok {
		return nil, ErrAccountExists
	}

	acct := &localAccount{
		identity: Identity{
			UID:           xid.New().String(),
			Email:         email,
			DisplayName:   strings.TrimSpace(displayName),
			PhotoURL:      strings.TrimSpace(photoURL),
			EmailVerified: true,
		},
		passwordHash: hash,
	}
	l.accounts[key] = acct

	l.logger.Info("local identity registered",
		slog.String("uid", acct.identity.UID),
		slog.String("email", email),
	)

	return acct.identity.Clone(), nil
}

// SignIn verifies the password and makes the account the current identity.
// Subscribers observe the new identity.
func (l *Local) SignIn(ctx context.Context, email, password string) (*Identity, error) {
	key := strings.ToLower(strings.TrimSpace(email))

	l.mu.Lock()
	acct, ok := l.accounts[key]
	l.mu.Unlock()

	if !ok {
		return nil, ErrInvalidCredentials
	}
	if err := l.passwords.Verify(acct.passwordHash, password); err != nil {
		if errors.Is(err, auth.ErrInvalidPassword) {
			return nil, ErrInvalidCredentials
		}
		return nil, fmt.Errorf("identity: signing in %s: %w", email, err)
	}

	l.SignInAs(acct.identity)

	return acct.identity.Clone(), nil
}

// SignInAs makes ident the current identity without a password check. It
// stands in for a federated sign-in that happened elsewhere.
func (l *Local) SignInAs(ident Identity) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.current = ident.Clone()
	l.cachedToken = ""
	l.cachedUntil = time.Time{}
	l.hub.Publish(l.current)

	l.logger.Info("local identity signed in", slog.String("uid", ident.UID))
}

// CurrentIdentity implements Provider.
func (l *Local) CurrentIdentity() *Identity {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.current.Clone()
}

// OnChange implements Provider.
func (l *Local) OnChange(fn func(*Identity)) func() {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.hub.Subscribe(cloneEach(fn), l.current.Clone(), true)
}

// SignOut implements Provider. Signing out while signed out is a no-op.
func (l *Local) SignOut(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.current == nil {
		return nil
	}

	uid := l.current.UID
	l.current = nil
	l.cachedToken = ""
	l.cachedUntil = time.Time{}
	l.hub.Publish(nil)

	l.logger.Info("local identity signed out", slog.String("uid", uid))
	return nil
}

// Token implements Provider. A cached token is reused until it is within
// tokenRefreshMargin of expiry unless forceRefresh is set.
func (l *Local) Token(ctx context.Context, forceRefresh bool) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if l.current == nil {
		return "", ErrNotSignedIn
	}

	now := l.now()
	if !forceRefresh && l.cachedToken != "" && now.Before(l.cachedUntil.Add(-tokenRefreshMargin)) {
		return l.cachedToken, nil
	}

	token, err := l.tokens.Generate(auth.IdentityClaims{
		Email:            l.current.Email,
		Name:             l.current.DisplayName,
		Picture:          l.current.PhotoURL,
		EmailVerified:    l.current.EmailVerified,
		RegisteredClaims: jwt.RegisteredClaims{Subject: l.current.UID},
	})
	if err != nil {
		return "", fmt.Errorf("identity: minting token for %s: %w", l.current.UID, err)
	}

	l.cachedToken = token
	l.cachedUntil = now.Add(auth.DefaultTokenTTL)

	return token, nil
}

// Close stops every subscriber goroutine.
func (l *Local) Close() {
	l.hub.Close()
}
