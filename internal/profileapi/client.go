// Package profileapi is the HTTP client for the backend profile service.
//
// It speaks the three endpoints the session reconciler depends on:
//
//	GET  /api/users/me              (bearer)  → 200 profile | 401/404 no record
//	POST /api/users/google          (public)  → 2xx created | {error|message}
//	PUT  /api/users/update-profile  (bearer)  → 200 profile | {message|error}
//
// The client does no sanitization and no retries. It returns the raw wire
// body so the caller decides what is safe to publish.
package profileapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/sakif/pharmacy-session/internal/model"
)

const (
	pathMe        = "/api/users/me"
	pathProvision = "/api/users/google"
	pathUpdate    = "/api/users/update-profile"

	// DefaultTimeout bounds a single backend call.
	DefaultTimeout = 30 * time.Second

	// maxErrorBody caps how much of a failed response is read for its message.
	maxErrorBody = 64 << 10
)

var (
	// ErrTransport wraps failures to reach the backend at all.
	ErrTransport = errors.New("profileapi: transport failure")

	// ErrDecode wraps 2xx responses whose body is not a valid profile.
	ErrDecode = errors.New("profileapi: undecodable response body")
)

// StatusError is returned for any non-2xx response.
type StatusError struct {
	Op      string // "get profile", "provision profile", "update profile"
	Status  int
	Message string // backend-provided message, may be empty
}

func (e *StatusError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("profileapi: %s: status %d: %s", e.Op, e.Status, e.Message)
	}
	return fmt.Sprintf("profileapi: %s: status %d", e.Op, e.Status)
}

// StatusCode returns the HTTP status carried by err, or 0 when err is not a
// *StatusError.
func StatusCode(err error) int {
	var se *StatusError
	if errors.As(err, &se) {
		return se.Status
	}
	return 0
}

// ProfileBody is the profile as it comes off the wire.
//
// IsActive is a pointer because the backend may omit it; only an explicit
// false means the account is deactivated.
type ProfileBody struct {
	ID             string     `json:"id"`
	UID            string     `json:"uid"`
	Name           string     `json:"name"`
	Email          string     `json:"email"`
	Username       string     `json:"username"`
	Role           string     `json:"role"`
	IsActive       *bool      `json:"isActive"`
	Phone          string     `json:"phone"`
	Address        string     `json:"address"`
	ProfilePicture string     `json:"profilePicture"`
	CreatedAt      *time.Time `json:"createdAt"`
}

// Deactivated reports whether the backend explicitly marked the account
// inactive.
func (b *ProfileBody) Deactivated() bool {
	return b.IsActive != nil && !*b.IsActive
}

// empty reports whether the body identifies no account, as a JSON null or {}
// decodes without error.
func (b *ProfileBody) empty() bool {
	return b.UID == "" && b.Email == ""
}

// errorBody matches both error shapes the backend uses.
type errorBody struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// Client calls the backend profile service.
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the default http.Client (DefaultTimeout, default
// transport).
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.httpClient = hc
		}
	}
}

// New creates a Client for the backend at baseURL (scheme://host[:port]).
func New(baseURL string, logger *slog.Logger, opts ...Option) *Client {
	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: DefaultTimeout},
		logger:     logger,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// GetMe fetches the profile of the account the token belongs to.
func (c *Client) GetMe(ctx context.Context, token string) (*ProfileBody, error) {
	var body ProfileBody
	if err := c.do(ctx, "get profile", http.MethodGet, pathMe, token, nil, &body); err != nil {
		return nil, err
	}
	if body.empty() {
		return nil, fmt.Errorf("%w: get profile: body carries no uid or email", ErrDecode)
	}
	return &body, nil
}

// ProvisionFromIdentity asks the backend to create a profile for an identity
// that has none yet. The endpoint is unauthenticated; the payload carries the
// identity facts.
func (c *Client) ProvisionFromIdentity(ctx context.Context, req model.ProvisionRequest) error {
	return c.do(ctx, "provision profile", http.MethodPost, pathProvision, "", req, nil)
}

// UpdateProfile submits a partial update and returns the updated profile.
func (c *Client) UpdateProfile(ctx context.Context, token string, patch model.ProfilePatch) (*ProfileBody, error) {
	var body ProfileBody
	if err := c.do(ctx, "update profile", http.MethodPut, pathUpdate, token, patch, &body); err != nil {
		return nil, err
	}
	if body.empty() {
		return nil, fmt.Errorf("%w: update profile: body carries no uid or email", ErrDecode)
	}
	return &body, nil
}

// do performs one JSON round trip. out may be nil when the body is ignored.
func (c *Client) do(ctx context.Context, op, method, path, token string, in, out any) error {
	var reqBody io.Reader
	if in != nil {
		payload, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("profileapi: %s: encoding request: %w", op, err)
		}
		reqBody = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return fmt.Errorf("profileapi: %s: building request: %w", op, err)
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %s: %w", ErrTransport, op, err)
	}
	defer resp.Body.Close()

	c.logger.Debug("profile api call",
		slog.String("op", op),
		slog.String("method", method),
		slog.String("path", path),
		slog.Int("status", resp.StatusCode),
		slog.Duration("duration", time.Since(start)),
	)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &StatusError{Op: op, Status: resp.StatusCode, Message: readErrorMessage(resp.Body)}
	}

	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%w: %s: %w", ErrDecode, op, err)
	}
	return nil
}

// readErrorMessage extracts "message" (preferred) or "error" from a JSON error
// body. Non-JSON bodies yield "".
func readErrorMessage(r io.Reader) string {
	raw, err := io.ReadAll(io.LimitReader(r, maxErrorBody))
	if err != nil || len(raw) == 0 {
		return ""
	}
	var eb errorBody
	if err := json.Unmarshal(raw, &eb); err != nil {
		return ""
	}
	if msg := strings.TrimSpace(eb.Message); msg != "" {
		return msg
	}
	return strings.TrimSpace(eb.Error)
}
