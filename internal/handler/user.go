package handler

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/sakif/pharmacy-session/internal/apperror"
	"github.com/sakif/pharmacy-session/internal/auth"
	"github.com/sakif/pharmacy-session/internal/model"
)

// UserService is what the handlers need from the profile service.
type UserService interface {
	Me(ctx context.Context, uid string) (*model.Profile, error)
	ProvisionFromIdentity(ctx context.Context, req model.ProvisionRequest) (*model.Profile, bool, error)
	UpdateProfile(ctx context.Context, uid string, patch model.ProfilePatch) (*model.Profile, error)
	SetActive(ctx context.Context, uid string, active bool) (*model.Profile, error)
	List(ctx context.Context, limit, offset int) ([]model.Profile, error)
}

type UserHandler struct {
	users  UserService
	logger *slog.Logger
}

func NewUserHandler(users UserService, logger *slog.Logger) *UserHandler {
	return &UserHandler{users: users, logger: logger}
}

// HandleMe serves GET /api/users/me.
func (h *UserHandler) HandleMe(w http.ResponseWriter, r *http.Request) {
	claims, ok := auth.ClaimsFromContext(r.Context())
	if !ok {
		writeError(w, h.logger, apperror.Unauthorized("valid authentication required"))
		return
	}

	profile, err := h.users.Me(r.Context(), claims.UID())
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, profile)
}

// HandleProvision serves POST /api/users/google. It answers 201 when a profile
// was created and 200 when one already existed for the uid.
func (h *UserHandler) HandleProvision(w http.ResponseWriter, r *http.Request) {
	var req model.ProvisionRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, h.logger, err)
		return
	}

	profile, created, err := h.users.ProvisionFromIdentity(r.Context(), req)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}

	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	writeJSON(w, status, profile)
}

// HandleUpdateProfile serves PUT /api/users/update-profile.
func (h *UserHandler) HandleUpdateProfile(w http.ResponseWriter, r *http.Request) {
	claims, ok := auth.ClaimsFromContext(r.Context())
	if !ok {
		writeError(w, h.logger, apperror.Unauthorized("valid authentication required"))
		return
	}

	var patch model.ProfilePatch
	if err := decodeJSON(w, r, &patch); err != nil {
		writeError(w, h.logger, err)
		return
	}

	profile, err := h.users.UpdateProfile(r.Context(), claims.UID(), patch)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, profile)
}

type statusRequest struct {
	IsActive *bool `json:"isActive"`
}

// HandleSetStatus serves PATCH /api/admin/users/{uid}/status.
func (h *UserHandler) HandleSetStatus(w http.ResponseWriter, r *http.Request) {
	uid := chi.URLParam(r, "uid")

	var req statusRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, h.logger, err)
		return
	}
	if req.IsActive == nil {
		writeError(w, h.logger, apperror.ValidationFailed("isActive", "isActive is required"))
		return
	}

	profile, err := h.users.SetActive(r.Context(), uid, *req.IsActive)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, profile)
}

// HandleList serves GET /api/admin/users?limit=&offset=.
func (h *UserHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	limit, err := queryInt(r, "limit")
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	offset, err := queryInt(r, "offset")
	if err != nil {
		writeError(w, h.logger, err)
		return
	}

	profiles, err := h.users.List(r.Context(), limit, offset)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, profiles)
}

func queryInt(r *http.Request, name string) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, apperror.ValidationFailed(name, name+" must be an integer")
	}
	return n, nil
}
