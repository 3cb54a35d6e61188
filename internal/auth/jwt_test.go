package auth

import (
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

func newTestTokenService(t *testing.T) *TokenService {
	t.Helper()
	ts, err := NewTokenService("test-secret-at-least-16-chars!!")
	if err != nil {
		t.Fatalf("NewTokenService: %v", err)
	}
	return ts
}

func testClaims(uid string) IdentityClaims {
	return IdentityClaims{
		Email:            "jane.doe@x.com",
		Name:             "Jane Doe",
		Picture:          "https://cdn.example.com/jane.png",
		EmailVerified:    true,
		RegisteredClaims: jwt.RegisteredClaims{Subject: uid},
	}
}

// =========================================================================
// CONSTRUCTION
// =========================================================================

func TestNewTokenService_ShortSecret(t *testing.T) {
	if _, err := NewTokenService("short"); err == nil {
		t.Fatal("NewTokenService() should reject secrets shorter than 16 chars")
	}
}

// =========================================================================
// GENERATE / VALIDATE
// =========================================================================

func TestGenerate_RequiresSubject(t *testing.T) {
	ts := newTestTokenService(t)

	if _, err := ts.Generate(IdentityClaims{Email: "x@y.z"}); err == nil {
		t.Fatal("Generate() should reject claims without a subject")
	}
}

func TestValidate_RoundTripKeepsIdentityClaims(t *testing.T) {
	ts := newTestTokenService(t)

	token, err := ts.Generate(testClaims("uid-abc-123"))
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}
	if strings.Count(token, ".") != 2 {
		t.Fatalf("Generate() token doesn't look like a JWT: %q", token)
	}

	got, err := ts.Validate(token)
	if err != nil {
		t.Fatalf("Validate() error = %v", err)
	}
	if got.UID() != "uid-abc-123" {
		t.Errorf("UID() = %q, want %q", got.UID(), "uid-abc-123")
	}
	if got.Email != "jane.doe@x.com" || got.Name != "Jane Doe" || !got.EmailVerified {
		t.Errorf("claims not preserved: %+v", got)
	}
	if got.Issuer != Issuer {
		t.Errorf("Issuer = %q, want %q", got.Issuer, Issuer)
	}
}

func TestValidate_ExpiredToken(t *testing.T) {
	ts := newTestTokenService(t)

	token, err := ts.GenerateWithDuration(testClaims("uid-1"), -1*time.Second)
	if err != nil {
		t.Fatalf("GenerateWithDuration() error = %v", err)
	}

	if _, err := ts.Validate(token); err == nil {
		t.Fatal("Validate() should return an error for an expired token")
	}
}

func TestValidate_InjectedClockControlsExpiry(t *testing.T) {
	ts := newTestTokenService(t)
	start := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	ts.now = func() time.Time { return start }

	token, err := ts.GenerateWithDuration(testClaims("uid-1"), time.Minute)
	if err != nil {
		t.Fatalf("GenerateWithDuration() error = %v", err)
	}

	if _, err := ts.Validate(token); err != nil {
		t.Fatalf("Validate() inside lifetime error = %v", err)
	}

	ts.now = func() time.Time { return start.Add(2 * time.Minute) }
	if _, err := ts.Validate(token); err == nil {
		t.Fatal("Validate() should fail once the clock passes expiry")
	}
}

func TestValidate_Rejections(t *testing.T) {
	ts := newTestTokenService(t)
	other, _ := NewTokenService("wrong-secret-32-chars-long!!!!!!")

	good, _ := ts.Generate(testClaims("uid-1"))
	foreign, _ := other.Generate(testClaims("uid-1"))

	tests := []struct {
		name  string
		token string
	}{
		{"empty", ""},
		{"garbage", "not.a.jwt.token"},
		{"tampered signature", good[:len(good)-3] + "xxx"},
		{"signed with another secret", foreign},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := ts.Validate(tt.token); err == nil {
				t.Fatal("Validate() should fail")
			}
		})
	}
}
