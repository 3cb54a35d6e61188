package session

import (
	"errors"
	"fmt"
)

var (
	// ErrNetworkOrParse covers read-path failures that say nothing about the
	// account: unreachable backend, unexpected status, or an undecodable body.
	ErrNetworkOrParse = errors.New("session: profile unavailable")

	// ErrNotFoundOrUnauthorized means the backend has no profile for the token's
	// subject (401 or 404) and one should be provisioned.
	ErrNotFoundOrUnauthorized = errors.New("session: profile not found")

	// ErrProvisioning means the backend refused to create the profile.
	ErrProvisioning = errors.New("session: profile provisioning failed")

	// ErrDeactivated means the backend marked the account inactive.
	ErrDeactivated = errors.New("session: account deactivated")

	// ErrProfileUpdate is wrapped by every *ProfileUpdateError.
	ErrProfileUpdate = errors.New("session: profile update failed")

	// ErrNoIdentity is returned by write operations when nobody is signed in.
	ErrNoIdentity = errors.New("session: no signed-in identity")
)

const (
	msgDeactivated     = "Your account has been deactivated. Please contact support."
	msgProvisionFailed = "Failed to create user profile. Please try again."
	msgUpdateFailed    = "Failed to update profile. Please try again."
)

// ProfileUpdateError is returned by UpdateProfile when the backend rejects the
// update or cannot be reached. Message is safe to show to the user.
type ProfileUpdateError struct {
	Status  int // HTTP status, 0 when the backend was not reached
	Message string
	Err     error
}

func (e *ProfileUpdateError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("session: profile update failed (status %d): %s", e.Status, e.Message)
	}
	return "session: profile update failed: " + e.Message
}

// Is makes errors.Is(err, ErrProfileUpdate) true for every ProfileUpdateError.
func (e *ProfileUpdateError) Is(target error) bool {
	return target == ErrProfileUpdate
}

func (e *ProfileUpdateError) Unwrap() error {
	return e.Err
}
