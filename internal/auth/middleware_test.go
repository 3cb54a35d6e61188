package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBearerToken(t *testing.T) {
	tests := []struct {
		name    string
		header  string
		want    string
		wantErr bool
	}{
		{"bearer", "Bearer abc.def.ghi", "abc.def.ghi", false},
		{"lowercase scheme", "bearer abc", "abc", false},
		{"extra spaces", "  Bearer    abc  ", "abc", false},
		{"missing", "", "", true},
		{"basic scheme", "Basic dXNlcjpwdw==", "", true},
		{"scheme only", "Bearer", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodGet, "/api/users/me", nil)
			if tt.header != "" {
				r.Header.Set("Authorization", tt.header)
			}

			got, err := BearerToken(r)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrNoBearerToken)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestRequireAuth(t *testing.T) {
	ts := newTestTokenService(t)

	var seen *IdentityClaims
	protected := RequireAuth(ts)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen, _ = ClaimsFromContext(r.Context())
		w.WriteHeader(http.StatusNoContent)
	}))

	t.Run("valid token reaches handler with claims", func(t *testing.T) {
		seen = nil
		token, err := ts.Generate(testClaims("uid-77"))
		require.NoError(t, err)

		r := httptest.NewRequest(http.MethodGet, "/api/users/me", nil)
		r.Header.Set("Authorization", "Bearer "+token)
		rr := httptest.NewRecorder()
		protected.ServeHTTP(rr, r)

		assert.Equal(t, http.StatusNoContent, rr.Code)
		require.NotNil(t, seen)
		assert.Equal(t, "uid-77", seen.UID())
	})

	t.Run("missing token is 401 json", func(t *testing.T) {
		seen = nil
		r := httptest.NewRequest(http.MethodGet, "/api/users/me", nil)
		rr := httptest.NewRecorder()
		protected.ServeHTTP(rr, r)

		assert.Equal(t, http.StatusUnauthorized, rr.Code)
		assert.Equal(t, "application/json", rr.Header().Get("Content-Type"))
		assert.Contains(t, rr.Body.String(), `"error":"unauthorized"`)
		assert.Nil(t, seen)
	})

	t.Run("invalid token is 401", func(t *testing.T) {
		r := httptest.NewRequest(http.MethodGet, "/api/users/me", nil)
		r.Header.Set("Authorization", "Bearer garbage")
		rr := httptest.NewRecorder()
		protected.ServeHTTP(rr, r)

		assert.Equal(t, http.StatusUnauthorized, rr.Code)
	})
}

func TestClaimsFromContext_Empty(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	_, ok := ClaimsFromContext(r.Context())
	assert.False(t, ok)
}
