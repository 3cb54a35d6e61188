package identity

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"golang.org/x/oauth2"

	"github.com/sakif/pharmacy-session/internal/fanout"
)

// ErrNoRefreshToken is returned when a token must be refreshed but the
// provider session holds no refresh token.
var ErrNoRefreshToken = errors.New("identity: session has no refresh token")

// OAuth is a Provider backed by a hosted OAuth 2.0 / OIDC identity service.
//
// The authorization-code exchange happens through Exchange; the caller then
// resolves the identity facts (usually from the ID token or a userinfo call) and
// hands both to SignIn. Afterwards Token returns the ID token when the service
// issued one, else the access token, refreshing through the token endpoint
// whenever the cached one is expired or a refresh is forced.
type OAuth struct {
	config *oauth2.Config
	logger *slog.Logger

	mu      sync.Mutex
	current *Identity
	token   *oauth2.Token

	hub fanout.Hub[*Identity]
}

var _ Provider = (*OAuth)(nil)

// NewOAuth creates an OAuth provider for cfg. Scopes should include whatever
// the service needs to issue refresh tokens (e.g. "offline_access").
func NewOAuth(cfg *oauth2.Config, logger *slog.Logger) *OAuth {
	return &OAuth{config: cfg, logger: logger}
}

// AuthCodeURL returns the authorization URL to redirect the user to.
// state must be a random, single-use value checked on the callback.
func (o *OAuth) AuthCodeURL(state string) string {
	return o.config.AuthCodeURL(state, oauth2.AccessTypeOffline)
}

// Exchange trades an authorization code for provider tokens.
func (o *OAuth) Exchange(ctx context.Context, code string) (*oauth2.Token, error) {
	tok, err := o.config.Exchange(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("identity: exchanging oauth code: %w", err)
	}
	return tok, nil
}

// SignIn makes ident the current identity with tok as its credentials.
func (o *OAuth) SignIn(ident Identity, tok *oauth2.Token) error {
	if ident.UID == "" {
		return errors.New("identity: oauth identity needs a uid")
	}
	if tok == nil {
		return errors.New("identity: oauth sign-in needs a token")
	}

	o.mu.Lock()
	defer o.mu.Unlock()

	o.current = ident.Clone()
	o.token = tok
	o.hub.Publish(o.current)

	o.logger.Info("oauth identity signed in", slog.String("uid", ident.UID))
	return nil
}

// CurrentIdentity implements Provider.
func (o *OAuth) CurrentIdentity() *Identity {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.current.Clone()
}

// OnChange implements Provider.
func (o *OAuth) OnChange(fn func(*Identity)) func() {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.hub.Subscribe(cloneEach(fn), o.current.Clone(), true)
}

// SignOut implements Provider. The tokens are dropped locally; revocation at
// the identity service is not attempted.
func (o *OAuth) SignOut(ctx context.Context) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.current == nil {
		return nil
	}

	uid := o.current.UID
	o.current = nil
	o.token = nil
	o.hub.Publish(nil)

	o.logger.Info("oauth identity signed out", slog.String("uid", uid))
	return nil
}

// Token implements Provider.
//
// With forceRefresh the cached access token is discarded so the oauth2 token
// source goes to the token endpoint with the refresh token. Without a refresh
// token a forced refresh falls back to the cached token while it is still valid.
//
// The token endpoint is called without holding the provider lock. A refreshed
// token is only stored if the same identity is still signed in; otherwise
// ErrNotSignedIn is returned.
func (o *OAuth) Token(ctx context.Context, forceRefresh bool) (string, error) {
	o.mu.Lock()
	if o.current == nil || o.token == nil {
		o.mu.Unlock()
		return "", ErrNotSignedIn
	}
	signedIn, uid := o.current, o.current.UID

	seed := o.token
	if forceRefresh {
		if o.token.RefreshToken != "" {
			seed = &oauth2.Token{RefreshToken: o.token.RefreshToken}
		} else {
			o.logger.Debug("forced refresh without refresh token; using cached token",
				slog.String("uid", uid))
		}
	}
	o.mu.Unlock()

	if !seed.Valid() && seed.RefreshToken == "" {
		return "", ErrNoRefreshToken
	}

	tok, err := o.config.TokenSource(ctx, seed).Token()
	if err != nil {
		return "", fmt.Errorf("identity: refreshing token for %s: %w", uid, err)
	}

	o.mu.Lock()
	defer o.mu.Unlock()
	if o.current != signedIn {
		return "", ErrNotSignedIn
	}
	o.token = tok

	return bearerFrom(tok), nil
}

// Close stops every subscriber goroutine.
func (o *OAuth) Close() {
	o.hub.Close()
}

// bearerFrom prefers the OIDC ID token, which is what profile backends verify.
func bearerFrom(tok *oauth2.Token) string {
	if idToken, ok := tok.Extra("id_token").(string); ok && idToken != "" {
		return idToken
	}
	return tok.AccessToken
}
