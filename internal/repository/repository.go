// Package repository declares the storage contracts the profile service depends on.
package repository

import (
	"context"

	"github.com/sakif/pharmacy-session/internal/model"
)

// ListOptions pages through a listing. Implementations clamp Limit to a sane
// range and treat a negative Offset as zero.
type ListOptions struct {
	Limit  int
	Offset int
}

// UserRepository stores backend profiles keyed by the identity provider uid.
//
// Lookups that find nothing return an apperror wrapping apperror.ErrNotFound;
// a Create that collides on uid, email or username returns one wrapping
// apperror.ErrConflict.
type UserRepository interface {
	Create(ctx context.Context, profile *model.Profile) error
	GetByUID(ctx context.Context, uid string) (*model.Profile, error)
	GetByEmail(ctx context.Context, email string) (*model.Profile, error)
	UsernameTaken(ctx context.Context, username, exceptUID string) (bool, error)
	List(ctx context.Context, opts ListOptions) ([]model.Profile, error)
	Update(ctx context.Context, profile *model.Profile) error
	SetActive(ctx context.Context, uid string, active bool) error
}
