// Package identity abstracts the third-party identity provider the session
// client signs users in with.
//
// The reconciler never owns an Identity. It observes identities through
// Provider.OnChange, borrows the provider to mint bearer tokens, and asks it to
// sign out when an account must be forcibly logged out. Any identity backend
// (a hosted OAuth/OIDC service, the in-process Local provider, a test fake) can
// sit behind the interface.
package identity

import (
	"context"
	"errors"
	"strings"
)

// ErrNotSignedIn is returned when a token is requested with nobody signed in.
var ErrNotSignedIn = errors.New("identity: no signed-in identity")

// Identity is the authenticated principal as reported by the provider.
// It contains facts only; the backend profile is a separate record.
type Identity struct {
	UID           string // provider-scoped unique id, used as the backend "uid"
	Email         string
	DisplayName   string // may be empty
	PhotoURL      string // may be empty
	EmailVerified bool
}

// Clone returns a copy of i, or nil for a nil identity.
func (i *Identity) Clone() *Identity {
	if i == nil {
		return nil
	}
	c := *i
	return &c
}

// EmailLocalPart returns the part of the email before "@", or the whole email
// when it has no "@".
func (i *Identity) EmailLocalPart() string {
	local, _, _ := strings.Cut(i.Email, "@")
	return local
}

// Provider is the capability surface the session reconciler needs from an
// identity backend.
type Provider interface {
	// CurrentIdentity returns a snapshot of the signed-in identity, or nil.
	CurrentIdentity() *Identity

	// OnChange registers fn for sign-in/sign-out transitions. fn is first called
	// with the current identity (nil when signed out), then once per change, in
	// order, from a goroutine owned by the provider. The returned function
	// unsubscribes; it is safe to call more than once.
	OnChange(fn func(*Identity)) (unsubscribe func())

	// SignOut ends the provider session. Subscribers observe a nil identity.
	SignOut(ctx context.Context) error

	// Token returns a bearer token for the signed-in identity. forceRefresh
	// bypasses any cached token.
	Token(ctx context.Context, forceRefresh bool) (string, error)
}

// cloneEach wraps fn so every subscriber gets its own copy of a published
// identity.
func cloneEach(fn func(*Identity)) func(*Identity) {
	return func(id *Identity) { fn(id.Clone()) }
}
