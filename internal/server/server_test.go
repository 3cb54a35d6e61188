package server_test

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sakif/pharmacy-session/internal/auth"
	"github.com/sakif/pharmacy-session/internal/identity"
	"github.com/sakif/pharmacy-session/internal/model"
	"github.com/sakif/pharmacy-session/internal/profileapi"
	"github.com/sakif/pharmacy-session/internal/server"
	"github.com/sakif/pharmacy-session/internal/session"
)

const testSecret = "server-test-secret-0123456789"

type backend struct {
	srv    *httptest.Server
	tokens *auth.TokenService
}

func newBackend(t *testing.T) *backend {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	s, err := server.New(server.Config{
		DBPath:    ":memory:",
		JWTSecret: testSecret,
		AdminUIDs: []string{"root"},
	}, logger)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	srv := httptest.NewServer(s.Handler())
	t.Cleanup(srv.Close)

	tokens, err := auth.NewTokenService(testSecret)
	require.NoError(t, err)

	return &backend{srv: srv, tokens: tokens}
}

func (b *backend) token(t *testing.T, uid string) string {
	t.Helper()
	var c auth.IdentityClaims
	c.Subject = uid
	tok, err := b.tokens.Generate(c)
	require.NoError(t, err)
	return tok
}

func (b *backend) do(t *testing.T, method, path, token, body string) (int, map[string]any) {
	t.Helper()
	var rdr io.Reader
	if body != "" {
		rdr = strings.NewReader(body)
	}
	req, err := http.NewRequest(method, b.srv.URL+path, rdr)
	require.NoError(t, err)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var out map[string]any
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	if len(raw) > 0 && raw[0] == '{' {
		require.NoError(t, json.Unmarshal(raw, &out))
	}
	return resp.StatusCode, out
}

// ===========================================================================
// HTTP surface
// ===========================================================================

func TestHealthz(t *testing.T) {
	b := newBackend(t)
	status, body := b.do(t, http.MethodGet, "/healthz", "", "")
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "ok", body["status"])
}

func TestMe_RequiresToken(t *testing.T) {
	b := newBackend(t)

	status, body := b.do(t, http.MethodGet, "/api/users/me", "", "")
	assert.Equal(t, http.StatusUnauthorized, status)
	assert.Equal(t, "unauthorized", body["error"])

	status, _ = b.do(t, http.MethodGet, "/api/users/me", "not-a-jwt", "")
	assert.Equal(t, http.StatusUnauthorized, status)
}

func TestMe_UnknownUIDIsNotFound(t *testing.T) {
	b := newBackend(t)
	status, body := b.do(t, http.MethodGet, "/api/users/me", b.token(t, "u1"), "")
	assert.Equal(t, http.StatusNotFound, status)
	assert.Equal(t, "not_found", body["error"])
}

func TestProvisionThenMe(t *testing.T) {
	b := newBackend(t)
	payload := `{"uid":"u1","email":"jane@x.com","name":"Jane","username":"jane","role":"customer"}`

	status, body := b.do(t, http.MethodPost, "/api/users/google", "", payload)
	require.Equal(t, http.StatusCreated, status)
	assert.Equal(t, "jane", body["username"])

	status, _ = b.do(t, http.MethodPost, "/api/users/google", "", payload)
	assert.Equal(t, http.StatusOK, status, "provisioning is idempotent")

	status, body = b.do(t, http.MethodGet, "/api/users/me", b.token(t, "u1"), "")
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "u1", body["uid"])
	assert.Equal(t, true, body["isActive"])
	assert.Equal(t, "customer", body["role"])
}

func TestProvision_BadRequests(t *testing.T) {
	b := newBackend(t)

	tests := []struct {
		name string
		body string
		want int
	}{
		{"invalid json", `{"uid":`, http.StatusBadRequest},
		{"unknown field", `{"uid":"u1","email":"a@x.com","admin":true}`, http.StatusBadRequest},
		{"missing email", `{"uid":"u1"}`, http.StatusBadRequest},
		{"empty body", ``, http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, body := b.do(t, http.MethodPost, "/api/users/google", "", tt.body)
			assert.Equal(t, tt.want, status)
			assert.Equal(t, "validation_error", body["error"])
			assert.NotEmpty(t, body["message"])
		})
	}
}

func TestProvision_EmailConflict(t *testing.T) {
	b := newBackend(t)
	_, _ = b.do(t, http.MethodPost, "/api/users/google", "", `{"uid":"u1","email":"jane@x.com","name":"Jane"}`)

	status, body := b.do(t, http.MethodPost, "/api/users/google", "", `{"uid":"u2","email":"jane@x.com","name":"Jane"}`)
	assert.Equal(t, http.StatusConflict, status)
	assert.Equal(t, "Email already registered with another account", body["message"])
}

func TestUpdateProfile(t *testing.T) {
	b := newBackend(t)
	_, _ = b.do(t, http.MethodPost, "/api/users/google", "", `{"uid":"u1","email":"jane@x.com","name":"Jane","username":"jane"}`)
	tok := b.token(t, "u1")

	status, body := b.do(t, http.MethodPut, "/api/users/update-profile", tok, `{"name":"Jane Doe","phone":"+15551234567"}`)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "Jane Doe", body["name"])
	assert.Equal(t, "+15551234567", body["phone"])
	assert.Equal(t, "jane", body["username"])

	status, body = b.do(t, http.MethodPut, "/api/users/update-profile", tok, `{"phone":"call me"}`)
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "phone", body["field"])
}

func TestAdmin_DeactivateAccount(t *testing.T) {
	b := newBackend(t)
	_, _ = b.do(t, http.MethodPost, "/api/users/google", "", `{"uid":"u1","email":"jane@x.com","name":"Jane"}`)
	userTok, rootTok := b.token(t, "u1"), b.token(t, "root")

	status, _ := b.do(t, http.MethodPatch, "/api/admin/users/u1/status", userTok, `{"isActive":false}`)
	assert.Equal(t, http.StatusForbidden, status, "customers cannot use admin endpoints")

	status, body := b.do(t, http.MethodPatch, "/api/admin/users/u1/status", rootTok, `{"isActive":false}`)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, false, body["isActive"])

	status, body = b.do(t, http.MethodGet, "/api/users/me", userTok, "")
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, false, body["isActive"])

	status, _ = b.do(t, http.MethodPut, "/api/users/update-profile", userTok, `{"name":"X"}`)
	assert.Equal(t, http.StatusForbidden, status)

	status, _ = b.do(t, http.MethodPatch, "/api/admin/users/ghost/status", rootTok, `{"isActive":true}`)
	assert.Equal(t, http.StatusNotFound, status)

	status, _ = b.do(t, http.MethodPatch, "/api/admin/users/u1/status", rootTok, `{}`)
	assert.Equal(t, http.StatusBadRequest, status)
}

func TestAdmin_List(t *testing.T) {
	b := newBackend(t)
	_, _ = b.do(t, http.MethodPost, "/api/users/google", "", `{"uid":"u1","email":"a@x.com","name":"A"}`)
	_, _ = b.do(t, http.MethodPost, "/api/users/google", "", `{"uid":"u2","email":"b@x.com","name":"B"}`)

	req, err := http.NewRequest(http.MethodGet, b.srv.URL+"/api/admin/users?limit=1", nil)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+b.token(t, "root"))
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusOK, resp.StatusCode)
	var profiles []model.Profile
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&profiles))
	assert.Len(t, profiles, 1)

	status, body := b.do(t, http.MethodGet, "/api/admin/users?limit=abc", b.token(t, "root"), "")
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "limit", body["field"])
}

// ===========================================================================
// Session client against the real backend
// ===========================================================================

func TestSessionLifecycleAgainstBackend(t *testing.T) {
	b := newBackend(t)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	passwords := auth.NewPasswordServiceWithCost(4)
	provider := identity.NewLocal(b.tokens, passwords, logger)
	t.Cleanup(provider.Close)

	_, err := provider.Register("jane.doe@x.com", "correct horse battery", "Jane! Doe 123", "")
	require.NoError(t, err)

	rec := session.New(provider, profileapi.New(b.srv.URL, logger),
		session.WithLogger(logger),
		session.WithRevalidateInterval(20*time.Millisecond),
	)
	t.Cleanup(rec.Close)
	require.NoError(t, rec.Start(context.Background()))
	<-rec.Ready()
	assert.Equal(t, session.StateUnauthenticated, rec.Snapshot().State)

	// First sign-in provisions the account.
	ident, err := provider.SignIn(context.Background(), "jane.doe@x.com", "correct horse battery")
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return rec.Snapshot().State == session.StateAuthenticated
	}, 3*time.Second, 10*time.Millisecond)
	p := rec.Snapshot().Profile
	assert.Equal(t, "janedoe123", p.Username)
	assert.Equal(t, model.RoleCustomer, p.Role)

	name := "Jane Doe"
	updated, err := rec.UpdateProfile(context.Background(), model.ProfilePatch{Name: &name})
	require.NoError(t, err)
	assert.Equal(t, "Jane Doe", updated.Name)

	// An admin deactivates the account; revalidation signs the user out.
	status, _ := b.do(t, http.MethodPatch, "/api/admin/users/"+ident.UID+"/status", b.token(t, "root"), `{"isActive":false}`)
	require.Equal(t, http.StatusOK, status)

	require.Eventually(t, func() bool {
		s := rec.Snapshot()
		return s.State == session.StateUnauthenticated && s.Identity == nil
	}, 3*time.Second, 10*time.Millisecond)
	assert.Nil(t, provider.CurrentIdentity())
}
