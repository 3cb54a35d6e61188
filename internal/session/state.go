package session

import (
	"github.com/sakif/pharmacy-session/internal/identity"
	"github.com/sakif/pharmacy-session/internal/model"
)

// State is the reconciler's position in the session lifecycle.
type State int

const (
	// StateInitializing is the state before the first provider event.
	StateInitializing State = iota
	// StateUnauthenticated means nobody is signed in.
	StateUnauthenticated
	// StateReconciling means an identity is present and its profile is being
	// fetched for the first time.
	StateReconciling
	// StateProvisioning means the backend had no profile and one is being created.
	StateProvisioning
	// StateAuthenticated means an identity and an active profile are published.
	StateAuthenticated
	// StateDeactivated is passed through while a deactivated account is being
	// signed out. It is never a resting state.
	StateDeactivated
	// StateDegraded means an identity is present but its profile could not be
	// read. The session stays signed in and the next reconciliation retries.
	StateDegraded
)

var stateNames = [...]string{
	StateInitializing:    "initializing",
	StateUnauthenticated: "unauthenticated",
	StateReconciling:     "reconciling",
	StateProvisioning:    "provisioning",
	StateAuthenticated:   "authenticated",
	StateDeactivated:     "deactivated",
	StateDegraded:        "degraded",
}

func (s State) String() string {
	if s >= 0 && int(s) < len(stateNames) {
		return stateNames[s]
	}
	return "unknown"
}

// Snapshot is an immutable view of the session. Profile is nil whenever
// Identity is nil.
type Snapshot struct {
	State    State
	Identity *identity.Identity
	Profile  *model.Profile

	// Loading is true until the first identity event, including its
	// reconciliation, has been fully processed.
	Loading bool
}

// SignedIn reports whether an identity is present.
func (s Snapshot) SignedIn() bool {
	return s.Identity != nil
}
