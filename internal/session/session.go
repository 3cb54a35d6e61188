// Package session keeps a signed-in identity and its backend profile in sync.
//
// A Reconciler watches an identity.Provider. Whenever an identity appears it
// fetches the matching profile from the backend, provisions one when the
// backend has none, and signs the identity out when the backend says the
// account is deactivated. While an identity is present the profile is
// re-validated on a fixed interval so a deactivation takes effect without the
// user signing in again.
//
// Consumers read the outcome through Snapshot, Subscribe and Ready.
package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/sakif/pharmacy-session/internal/apperror"
	"github.com/sakif/pharmacy-session/internal/fanout"
	"github.com/sakif/pharmacy-session/internal/identity"
	"github.com/sakif/pharmacy-session/internal/model"
	"github.com/sakif/pharmacy-session/internal/profileapi"
)

// DefaultRevalidateInterval is how often a signed-in session re-reads its
// profile.
const DefaultRevalidateInterval = 5 * time.Minute

// ErrAlreadyStarted is returned by Start when called more than once.
var ErrAlreadyStarted = errors.New("session: reconciler already started")

// ProfileClient is the subset of the backend API the reconciler uses.
// *profileapi.Client implements it.
type ProfileClient interface {
	GetMe(ctx context.Context, token string) (*profileapi.ProfileBody, error)
	ProvisionFromIdentity(ctx context.Context, req model.ProvisionRequest) error
	UpdateProfile(ctx context.Context, token string, patch model.ProfilePatch) (*profileapi.ProfileBody, error)
}

var _ ProfileClient = (*profileapi.Client)(nil)

// Option configures a Reconciler.
type Option func(*Reconciler)

// WithLogger sets the structured logger. The default discards everything.
func WithLogger(l *slog.Logger) Option {
	return func(r *Reconciler) {
		if l != nil {
			r.logger = l
		}
	}
}

// WithNotifier sets where user-facing notices go. The default logs them.
func WithNotifier(n Notifier) Option {
	return func(r *Reconciler) {
		if n != nil {
			r.notifier = n
		}
	}
}

// WithOrigin sets the origin that relative "/uploads/..." picture paths are
// resolved against.
func WithOrigin(origin string) Option {
	return func(r *Reconciler) { r.origin = origin }
}

// WithRevalidateInterval overrides DefaultRevalidateInterval. A non-positive
// interval disables periodic revalidation.
func WithRevalidateInterval(d time.Duration) Option {
	return func(r *Reconciler) { r.interval = d }
}

// Reconciler is the session state machine. It is safe for concurrent use.
type Reconciler struct {
	provider identity.Provider
	client   ProfileClient
	logger   *slog.Logger
	notifier Notifier
	origin   string
	interval time.Duration

	flight singleflight.Group
	subs   fanout.Hub[Snapshot]

	mu       sync.Mutex
	state    State
	ident    *identity.Identity
	profile  *model.Profile
	loading  bool
	epoch    uint64
	started  bool
	closed   bool
	ctx      context.Context
	cancel   context.CancelFunc
	unwatch  func()
	stopTick context.CancelFunc

	ready     chan struct{}
	readyOnce sync.Once
}

// New creates a Reconciler. Call Start to begin watching the provider.
func New(provider identity.Provider, client ProfileClient, opts ...Option) *Reconciler {
	r := &Reconciler{
		provider: provider,
		client:   client,
		logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
		interval: DefaultRevalidateInterval,
		state:    StateInitializing,
		loading:  true,
		ready:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.notifier == nil {
		r.notifier = LogNotifier{Logger: r.logger}
	}
	return r
}

// Start subscribes to the provider. Work started on behalf of the session
// (reconciliations, revalidation) runs until ctx is done or Close is called.
func (r *Reconciler) Start(ctx context.Context) error {
	r.mu.Lock()
	if r.started || r.closed {
		r.mu.Unlock()
		return ErrAlreadyStarted
	}
	r.started = true
	r.ctx, r.cancel = context.WithCancel(ctx)
	r.mu.Unlock()

	unwatch := r.provider.OnChange(r.handleIdentity)

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		unwatch()
		return nil
	}
	r.unwatch = unwatch
	r.mu.Unlock()

	r.logger.Info("session reconciler started", slog.Duration("revalidate_interval", r.interval))
	return nil
}

// Close stops watching the provider, cancels revalidation and any in-flight
// reconciliation, and stops snapshot delivery. It does not sign anybody out.
func (r *Reconciler) Close() {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.closed = true
	unwatch := r.unwatch
	r.stopRevalidationLocked()
	if r.cancel != nil {
		r.cancel()
	}
	r.mu.Unlock()

	if unwatch != nil {
		unwatch()
	}
	r.subs.Close()
	r.logger.Info("session reconciler closed")
}

// Snapshot returns the current session view.
func (r *Reconciler) Snapshot() Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.snapshotLocked()
}

// Ready is closed once the first identity event has been fully processed.
func (r *Reconciler) Ready() <-chan struct{} {
	return r.ready
}

// Subscribe calls fn with the current snapshot and then with every published
// snapshot, in order, from a dedicated goroutine.
func (r *Reconciler) Subscribe(fn func(Snapshot)) (unsubscribe func()) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.subs.Subscribe(fn, r.snapshotLocked(), true)
}

// ValidateSession reconciles the current identity against the backend. It is a
// no-op when nobody is signed in. Failures are logged and reflected in the
// published state, never returned.
func (r *Reconciler) ValidateSession(ctx context.Context) {
	r.reconcileCurrent(ctx, "validate")
}

// RefreshProfile picks up identity fields the provider may have refreshed
// (display name, photo) and then reconciles.
func (r *Reconciler) RefreshProfile(ctx context.Context) {
	if cur := r.provider.CurrentIdentity(); cur != nil {
		r.mu.Lock()
		if r.ident != nil && r.ident.UID == cur.UID {
			r.ident = cur
		}
		r.mu.Unlock()
	}
	r.reconcileCurrent(ctx, "refresh")
}

// UpdateProfile sends a partial update for the signed-in account and publishes
// the result. On any failure the published profile is left as it was and a
// *ProfileUpdateError is returned. ErrNoIdentity is returned when nobody is
// signed in, including when the identity changed while the update was in
// flight.
func (r *Reconciler) UpdateProfile(ctx context.Context, patch model.ProfilePatch) (*model.Profile, error) {
	r.mu.Lock()
	ident, epoch := r.ident.Clone(), r.epoch
	r.mu.Unlock()

	if ident == nil {
		return nil, ErrNoIdentity
	}

	out, ok := outgoingPatch(patch)
	if !ok {
		return nil, &ProfileUpdateError{Message: "Profile picture must be an http(s) URL or an uploaded image."}
	}

	token, err := r.provider.Token(ctx, true)
	if err != nil {
		return nil, &ProfileUpdateError{Message: msgUpdateFailed, Err: err}
	}

	body, err := r.client.UpdateProfile(ctx, token, out)
	if err != nil {
		var se *profileapi.StatusError
		if errors.As(err, &se) {
			msg := se.Message
			if msg == "" {
				msg = msgUpdateFailed
			}
			return nil, &ProfileUpdateError{Status: se.Status, Message: msg, Err: err}
		}
		return nil, &ProfileUpdateError{Message: msgUpdateFailed, Err: err}
	}

	if body.Deactivated() {
		r.deactivate(ctx, ident, epoch)
		return nil, ErrDeactivated
	}

	profile := publishable(body, r.origin)
	if !r.publishProfile(epoch, profile, "update") {
		return nil, ErrNoIdentity
	}
	return profile.Clone(), nil
}

// Logout signs the identity out of the provider and clears the session. A
// provider error is logged; the session is cleared either way.
func (r *Reconciler) Logout(ctx context.Context) {
	if err := r.provider.SignOut(ctx); err != nil {
		r.logger.Error("provider sign-out failed during logout", slog.String("error", err.Error()))
	}

	r.mu.Lock()
	uid := ""
	if r.ident != nil {
		uid = r.ident.UID
	}
	r.clearLocked()
	r.publishLocked()
	r.mu.Unlock()

	r.logger.Info("session logged out", slog.String("uid", uid))
}

// handleIdentity runs on the provider's delivery goroutine, one event at a
// time. It returns once the event has been reconciled.
func (r *Reconciler) handleIdentity(next *identity.Identity) {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}

	if next == nil {
		changed := false
		if r.ident != nil || r.state == StateInitializing {
			r.clearLocked()
			changed = true
		}
		if r.finishLoadingLocked() {
			changed = true
		}
		if changed {
			r.publishLocked()
		}
		r.mu.Unlock()
		return
	}

	if r.ident != nil && r.ident.UID == next.UID {
		r.ident = next
	} else {
		r.epoch++
		r.ident = next
		r.profile = nil
		r.state = StateReconciling
		r.logger.Info("identity signed in", slog.String("uid", next.UID), slog.Uint64("epoch", r.epoch))
	}
	r.startRevalidationLocked()
	r.publishLocked()
	ctx := r.ctx
	r.mu.Unlock()

	r.reconcileCurrent(ctx, "identity change")

	r.mu.Lock()
	if r.finishLoadingLocked() {
		r.publishLocked()
	}
	r.mu.Unlock()
}

// reconcileCurrent reconciles whatever identity the session holds when it is
// called. Concurrent callers for the same identity and epoch share one attempt.
// The attempt runs on the reconciler's context, so a caller giving up does not
// cancel it for the others.
func (r *Reconciler) reconcileCurrent(ctx context.Context, reason string) {
	r.mu.Lock()
	ident, epoch, base := r.ident.Clone(), r.epoch, r.ctx
	r.mu.Unlock()

	if ident == nil || base == nil {
		return
	}

	key := ident.UID + "/" + strconv.FormatUint(epoch, 10)
	ch := r.flight.DoChan(key, func() (any, error) {
		r.reconcile(base, ident, epoch, reason)
		return nil, nil
	})

	select {
	case res := <-ch:
		if res.Shared {
			r.logger.Debug("joined in-flight reconciliation", slog.String("uid", ident.UID), slog.String("reason", reason))
		}
	case <-ctx.Done():
	}
}

func (r *Reconciler) reconcile(ctx context.Context, ident *identity.Identity, epoch uint64, reason string) {
	log := r.logger.With(slog.String("uid", ident.UID), slog.String("reason", reason))
	log.Debug("reconciling profile")

	body, err := r.fetch(ctx)
	switch {
	case err == nil:
		r.accept(ctx, ident, epoch, body)
	case errors.Is(err, ErrNotFoundOrUnauthorized):
		r.provision(ctx, ident, epoch)
	default:
		log.Warn("profile fetch failed", slog.String("error", err.Error()))
		r.degrade(epoch)
	}
}

// fetch mints a fresh token and reads the profile, classifying failures into
// ErrNotFoundOrUnauthorized or ErrNetworkOrParse.
func (r *Reconciler) fetch(ctx context.Context) (*profileapi.ProfileBody, error) {
	token, err := r.provider.Token(ctx, true)
	if err != nil {
		return nil, fmt.Errorf("%w: minting token: %w", ErrNetworkOrParse, err)
	}

	body, err := r.client.GetMe(ctx, token)
	if err != nil {
		switch profileapi.StatusCode(err) {
		case 401, 404:
			return nil, fmt.Errorf("%w: %w", ErrNotFoundOrUnauthorized, err)
		default:
			return nil, fmt.Errorf("%w: %w", ErrNetworkOrParse, err)
		}
	}
	return body, nil
}

// accept publishes body, or signs the identity out when the account is
// deactivated.
func (r *Reconciler) accept(ctx context.Context, ident *identity.Identity, epoch uint64, body *profileapi.ProfileBody) {
	if body.Deactivated() {
		r.deactivate(ctx, ident, epoch)
		return
	}
	r.publishProfile(epoch, publishable(body, r.origin), "fetch")
}

func (r *Reconciler) provision(ctx context.Context, ident *identity.Identity, epoch uint64) {
	if !r.setState(epoch, StateProvisioning) {
		return
	}

	if err := r.client.ProvisionFromIdentity(ctx, provisionRequest(ident)); err != nil {
		msg := msgProvisionFailed
		var se *profileapi.StatusError
		if errors.As(err, &se) && se.Message != "" {
			msg = se.Message
		}
		perr := &apperror.AppError{Err: ErrProvisioning, Message: msg}
		r.logger.Error("profile provisioning failed",
			slog.String("uid", ident.UID),
			slog.String("error", err.Error()),
		)
		r.forceSignOut(ctx, ident, epoch, Notice{
			Level:   LevelError,
			Message: apperror.MessageOf(perr, msgProvisionFailed),
			Err:     errors.Join(perr, err),
		})
		return
	}
	r.logger.Info("profile provisioned", slog.String("uid", ident.UID))

	body, err := r.fetch(ctx)
	if err != nil {
		r.logger.Warn("profile fetch after provisioning failed",
			slog.String("uid", ident.UID),
			slog.String("error", err.Error()),
		)
		r.degrade(epoch)
		return
	}
	r.accept(ctx, ident, epoch, body)
}

func (r *Reconciler) deactivate(ctx context.Context, ident *identity.Identity, epoch uint64) {
	if !r.setState(epoch, StateDeactivated) {
		return
	}
	r.logger.Warn("account deactivated, signing out", slog.String("uid", ident.UID))
	r.forceSignOut(ctx, ident, epoch, Notice{
		Level:   LevelError,
		Message: msgDeactivated,
		Err:     ErrDeactivated,
	})
}

// forceSignOut clears the session, signs the identity out of the provider and
// tells the user why. Nothing happens if the session has moved on from epoch.
func (r *Reconciler) forceSignOut(ctx context.Context, ident *identity.Identity, epoch uint64, n Notice) {
	r.mu.Lock()
	if epoch != r.epoch {
		r.mu.Unlock()
		return
	}
	r.clearLocked()
	r.publishLocked()
	r.mu.Unlock()

	if err := r.provider.SignOut(ctx); err != nil {
		r.logger.Error("forced sign-out failed", slog.String("uid", ident.UID), slog.String("error", err.Error()))
	}
	r.notifier.Notify(ctx, n)
}

// degrade drops the profile but keeps the identity signed in.
func (r *Reconciler) degrade(epoch uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if epoch != r.epoch {
		return
	}
	r.profile = nil
	r.state = StateDegraded
	r.publishLocked()
}

// publishProfile publishes p unless the identity changed since epoch, and
// reports whether it did.
func (r *Reconciler) publishProfile(epoch uint64, p *model.Profile, source string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if epoch != r.epoch || r.ident == nil {
		r.logger.Debug("discarding stale profile", slog.String("source", source))
		return false
	}
	r.profile = p
	r.state = StateAuthenticated
	r.publishLocked()
	return true
}

func (r *Reconciler) setState(epoch uint64, s State) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if epoch != r.epoch {
		return false
	}
	if r.state != s {
		r.state = s
		if r.profile == nil {
			r.publishLocked()
		}
	}
	return true
}

// clearLocked moves to Unauthenticated and invalidates in-flight work.
func (r *Reconciler) clearLocked() {
	r.epoch++
	r.ident = nil
	r.profile = nil
	r.state = StateUnauthenticated
	r.stopRevalidationLocked()
}

// finishLoadingLocked reports whether loading was flipped off by this call.
func (r *Reconciler) finishLoadingLocked() bool {
	if !r.loading {
		return false
	}
	r.loading = false
	r.readyOnce.Do(func() { close(r.ready) })
	return true
}

func (r *Reconciler) snapshotLocked() Snapshot {
	return Snapshot{
		State:    r.state,
		Identity: r.ident.Clone(),
		Profile:  r.profile.Clone(),
		Loading:  r.loading,
	}
}

func (r *Reconciler) publishLocked() {
	r.subs.Publish(r.snapshotLocked())
}
