// Package model defines the data structures shared by the profile backend and
// the session client.
package model

import "time"

// Role is the account role the backend assigns to a profile.
type Role string

const (
	RoleCustomer Role = "customer"
	RoleSeller   Role = "seller"
	RoleAdmin    Role = "admin"
)

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool {
	switch r {
	case RoleCustomer, RoleSeller, RoleAdmin:
		return true
	}
	return false
}

// Profile is the backend-owned user record.
//
// The backend is the only writer. The session client keeps a sanitized mirror of
// it and re-derives that mirror on every reconciliation, so nothing here is ever
// persisted on the client side.
//
// UID is the identity provider's subject for the account; ID is the backend's
// own row id. Phone, Address and ProfilePicture are optional and use the empty
// string as "not set".
type Profile struct {
	ID             string    `json:"id,omitempty"`
	UID            string    `json:"uid"`
	Name           string    `json:"name"`
	Email          string    `json:"email"`
	Username       string    `json:"username"`
	Role           Role      `json:"role"`
	IsActive       bool      `json:"isActive"`
	Phone          string    `json:"phone,omitempty"`
	Address        string    `json:"address,omitempty"`
	ProfilePicture string    `json:"profilePicture,omitempty"`
	CreatedAt      time.Time `json:"createdAt"`
	UpdatedAt      time.Time `json:"updatedAt,omitempty"`
}

// Clone returns a copy of p that callers may modify freely.
func (p *Profile) Clone() *Profile {
	if p == nil {
		return nil
	}
	c := *p
	return &c
}

// ProfilePatch is a partial profile update. Only non-nil fields change.
type ProfilePatch struct {
	Name           *string `json:"name,omitempty"`
	Username       *string `json:"username,omitempty"`
	Phone          *string `json:"phone,omitempty"`
	Address        *string `json:"address,omitempty"`
	ProfilePicture *string `json:"profilePicture,omitempty"`
}

// Empty reports whether the patch changes nothing.
func (p ProfilePatch) Empty() bool {
	return p.Name == nil && p.Username == nil && p.Phone == nil &&
		p.Address == nil && p.ProfilePicture == nil
}

// Apply copies every set field of patch onto profile.
func (p ProfilePatch) Apply(profile *Profile) {
	if p.Name != nil {
		profile.Name = *p.Name
	}
	if p.Username != nil {
		profile.Username = *p.Username
	}
	if p.Phone != nil {
		profile.Phone = *p.Phone
	}
	if p.Address != nil {
		profile.Address = *p.Address
	}
	if p.ProfilePicture != nil {
		profile.ProfilePicture = *p.ProfilePicture
	}
}

// ProvisionRequest is the payload used to create a backend profile from an
// identity provider account on first sign-in.
type ProvisionRequest struct {
	UID            string `json:"uid"`
	Email          string `json:"email"`
	Name           string `json:"name"`
	Username       string `json:"username"`
	Role           Role   `json:"role"`
	ProfilePicture string `json:"profilePicture,omitempty"`
}
