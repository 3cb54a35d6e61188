package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/rs/xid"

	"github.com/sakif/pharmacy-session/internal/apperror"
	"github.com/sakif/pharmacy-session/internal/model"
	"github.com/sakif/pharmacy-session/internal/repository"
	"github.com/sakif/pharmacy-session/internal/sanitize"
)

const (
	MaxNameLength    = 100
	MaxAddressLength = 300
	DefaultListLimit = 20
	MaxListLimit     = 100

	usernameAttempts = 5
)

// provisionInput is the validated shape of a provisioning request.
type provisionInput struct {
	UID   string `json:"uid" validate:"required,max=128"`
	Email string `json:"email" validate:"required,email,max=254"`
	Name  string `json:"name" validate:"required,max=100"`
}

// profileUpdateInput is the validated shape of a profile update. Fields left
// out of the patch and fields set to "" are both empty here, so omitempty
// skips them; "" clears an optional field.
type profileUpdateInput struct {
	Name           string `json:"name" validate:"omitempty,max=100"`
	Username       string `json:"username" validate:"omitempty,username"`
	Phone          string `json:"phone" validate:"omitempty,phone"`
	Address        string `json:"address" validate:"omitempty,max=300"`
	ProfilePicture string `json:"profilePicture" validate:"omitempty,picture"`
}

func newProfileUpdateInput(p model.ProfilePatch) profileUpdateInput {
	deref := func(v *string) string {
		if v == nil {
			return ""
		}
		return *v
	}
	return profileUpdateInput{
		Name:           deref(p.Name),
		Username:       deref(p.Username),
		Phone:          deref(p.Phone),
		Address:        deref(p.Address),
		ProfilePicture: deref(p.ProfilePicture),
	}
}

// UserService holds the business rules for backend profiles.
type UserService struct {
	repo     repository.UserRepository
	validate *validator.Validate
	logger   *slog.Logger
}

func NewUserService(repo repository.UserRepository, logger *slog.Logger) *UserService {
	return &UserService{
		repo:     repo,
		validate: newValidator(),
		logger:   logger,
	}
}

// Me returns the profile for an authenticated uid.
func (s *UserService) Me(ctx context.Context, uid string) (*model.Profile, error) {
	uid = strings.TrimSpace(uid)
	if uid == "" {
		return nil, apperror.Unauthorized("token has no subject")
	}
	return s.repo.GetByUID(ctx, uid)
}

// ProvisionFromIdentity creates a customer profile for an identity seen for the
// first time. It is idempotent: an existing profile for the uid is returned
// with created == false.
//
// The username is normalized and made unique rather than rejected, since the
// caller derives it from a display name the user never typed.
func (s *UserService) ProvisionFromIdentity(ctx context.Context, req model.ProvisionRequest) (profile *model.Profile, created bool, err error) {
	in := provisionInput{
		UID:   strings.TrimSpace(req.UID),
		Email: strings.ToLower(strings.TrimSpace(req.Email)),
		Name:  strings.TrimSpace(req.Name),
	}
	if in.Name == "" {
		in.Name, _, _ = strings.Cut(in.Email, "@")
	}
	if err := s.validate.Struct(in); err != nil {
		return nil, false, validationError(err)
	}

	existing, err := s.repo.GetByUID(ctx, in.UID)
	if err == nil {
		return existing, false, nil
	}
	if !errors.Is(err, apperror.ErrNotFound) {
		return nil, false, fmt.Errorf("looking up uid %s: %w", in.UID, err)
	}

	if _, err := s.repo.GetByEmail(ctx, in.Email); err == nil {
		return nil, false, &apperror.AppError{
			Err:     apperror.ErrConflict,
			Message: "Email already registered with another account",
			Field:   "email",
		}
	} else if !errors.Is(err, apperror.ErrNotFound) {
		return nil, false, fmt.Errorf("looking up email: %w", err)
	}

	if req.Role != "" && req.Role != model.RoleCustomer {
		s.logger.Warn("provisioning request asked for a privileged role",
			slog.String("uid", in.UID),
			slog.String("role", string(req.Role)),
		)
	}

	username, err := s.uniqueUsername(ctx, req.Username, in.Email, in.UID)
	if err != nil {
		return nil, false, err
	}

	profile = &model.Profile{
		UID:            in.UID,
		Name:           in.Name,
		Email:          in.Email,
		Username:       username,
		Role:           model.RoleCustomer,
		IsActive:       true,
		ProfilePicture: sanitize.PictureURL(req.ProfilePicture, ""),
	}

	if err := s.repo.Create(ctx, profile); err != nil {
		if errors.Is(err, apperror.ErrConflict) {
			// A concurrent request for the same uid won the race.
			if existing, getErr := s.repo.GetByUID(ctx, in.UID); getErr == nil {
				return existing, false, nil
			}
		}
		s.logger.Error("failed to provision profile",
			slog.String("uid", in.UID),
			slog.String("error", err.Error()),
		)
		return nil, false, fmt.Errorf("creating profile: %w", err)
	}

	s.logger.Info("profile provisioned",
		slog.String("uid", profile.UID),
		slog.String("username", profile.Username),
	)
	return profile, true, nil
}

// uniqueUsername normalizes the requested username, falling back to the email
// local part, and appends a short random suffix while it collides.
func (s *UserService) uniqueUsername(ctx context.Context, requested, email, uid string) (string, error) {
	base := normalizeUsername(requested)
	if len(base) < 3 {
		local, _, _ := strings.Cut(email, "@")
		base = normalizeUsername(local)
	}
	if len(base) < 3 {
		base = "user"
	}

	candidate := base
	for i := 0; i < usernameAttempts; i++ {
		taken, err := s.repo.UsernameTaken(ctx, candidate, uid)
		if err != nil {
			return "", fmt.Errorf("checking username: %w", err)
		}
		if !taken {
			return candidate, nil
		}
		suffix := xid.New().String()
		suffix = suffix[len(suffix)-6:]
		candidate = truncate(base, 30-len(suffix)-1) + "_" + suffix
	}
	return "", apperror.Conflict("username", base)
}

func normalizeUsername(s string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(strings.TrimSpace(s)) {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') || r == '_' || r == '.' {
			b.WriteRune(r)
		}
	}
	return truncate(b.String(), 30)
}

func truncate(s string, n int) string {
	if len(s) > n {
		return s[:n]
	}
	return s
}

// UpdateProfile applies a partial update to the caller's own profile.
// Deactivated accounts are refused.
func (s *UserService) UpdateProfile(ctx context.Context, uid string, patch model.ProfilePatch) (*model.Profile, error) {
	if patch.Empty() {
		return nil, apperror.ValidationFailed("body", "no profile fields to update")
	}

	trim := func(p *string) *string {
		if p == nil {
			return nil
		}
		v := strings.TrimSpace(*p)
		return &v
	}
	patch = model.ProfilePatch{
		Name:           trim(patch.Name),
		Username:       trim(patch.Username),
		Phone:          trim(patch.Phone),
		Address:        trim(patch.Address),
		ProfilePicture: trim(patch.ProfilePicture),
	}
	if patch.Name != nil && *patch.Name == "" {
		return nil, apperror.ValidationFailed("name", "name is required")
	}
	if patch.Username != nil && *patch.Username == "" {
		return nil, apperror.ValidationFailed("username", "username is required")
	}

	if err := s.validate.Struct(newProfileUpdateInput(patch)); err != nil {
		return nil, validationError(err)
	}
	if patch.ProfilePicture != nil && *patch.ProfilePicture != "" {
		pic := sanitize.PictureURL(*patch.ProfilePicture, "")
		patch.ProfilePicture = &pic
	}

	profile, err := s.repo.GetByUID(ctx, uid)
	if err != nil {
		return nil, err
	}
	if !profile.IsActive {
		return nil, apperror.Forbidden("account is deactivated")
	}

	if patch.Username != nil && *patch.Username != profile.Username {
		taken, err := s.repo.UsernameTaken(ctx, *patch.Username, uid)
		if err != nil {
			return nil, fmt.Errorf("checking username: %w", err)
		}
		if taken {
			return nil, &apperror.AppError{
				Err:     apperror.ErrConflict,
				Message: "Username already taken",
				Field:   "username",
			}
		}
	}

	patch.Apply(profile)
	if err := s.repo.Update(ctx, profile); err != nil {
		return nil, err
	}

	s.logger.Info("profile updated", slog.String("uid", uid))
	return profile, nil
}

// SetActive activates or deactivates an account and returns the result.
func (s *UserService) SetActive(ctx context.Context, uid string, active bool) (*model.Profile, error) {
	if err := s.repo.SetActive(ctx, uid, active); err != nil {
		return nil, err
	}
	s.logger.Info("account status changed", slog.String("uid", uid), slog.Bool("active", active))
	return s.repo.GetByUID(ctx, uid)
}

// List returns a page of profiles for administration.
func (s *UserService) List(ctx context.Context, limit, offset int) ([]model.Profile, error) {
	if limit <= 0 {
		limit = DefaultListLimit
	}
	if limit > MaxListLimit {
		limit = MaxListLimit
	}
	if offset < 0 {
		offset = 0
	}
	return s.repo.List(ctx, repository.ListOptions{Limit: limit, Offset: offset})
}
