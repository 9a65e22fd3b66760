package binding

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/clipcast/clipcast/backend/account-service/internal/accounts"
	"github.com/clipcast/clipcast/backend/account-service/internal/platform"
	"github.com/clipcast/clipcast/backend/account-service/pkg/logger"
	"github.com/clipcast/clipcast/backend/account-service/pkg/metrics"
)

var (
	ErrUnsupportedPlatform  = errors.New("platform is not supported")
	ErrAlreadyConnected     = errors.New("platform account is already bound")
	ErrNotConnected         = errors.New("platform account is not bound")
	ErrBindInProgress       = errors.New("an authorization is already pending for this platform")
	ErrAuthorizationTimeout = errors.New("authorization was not completed in time")
	ErrConfirmationDeclined = errors.New("unbind was not confirmed")
)

// Phase is the per-platform slice of the bind state machine.
type Phase string

const (
	PhaseUnbound     Phase = "unbound"
	PhaseAuthorizing Phase = "authorizing"
	PhaseBound       Phase = "bound"
	PhaseUnbinding   Phase = "unbinding"
)

// Gateway is the slice of the backend client the controller needs.
type Gateway interface {
	AuthorizeURL(p platform.Platform) string
	Disconnect(ctx context.Context, p platform.Platform) error
}

// StatusCache is the slice of the account cache the controller needs.
type StatusCache interface {
	Refresh(ctx context.Context)
	Get(p platform.Platform) accounts.Status
}

// Confirmer gates destructive actions behind an explicit user confirmation.
type Confirmer interface {
	Confirm(ctx context.Context, p platform.Platform) bool
}

// ConfirmerFunc adapts a function to the Confirmer interface.
type ConfirmerFunc func(ctx context.Context, p platform.Platform) bool

func (f ConfirmerFunc) Confirm(ctx context.Context, p platform.Platform) bool { return f(ctx, p) }

// Controller drives the bind/unbind workflow per platform. Platforms are
// independent: an authorization pending on one never blocks another.
type Controller struct {
	gw        Gateway
	cache     StatusCache
	bus       *Bus
	surface   Surface
	confirmer Confirmer

	// trustedOrigin, when set, is the only origin completion signals are
	// accepted from.
	trustedOrigin string
	timeout       time.Duration
	refreshWait   time.Duration

	mu      sync.Mutex
	pending map[platform.Platform]bool
	lastErr map[platform.Platform]error
}

// NewController wires the bind workflow. timeout bounds how long a pending
// authorization waits for its completion signal; <=0 disables the bound.
func NewController(gw Gateway, cache StatusCache, bus *Bus, surface Surface, confirmer Confirmer, trustedOrigin string, timeout time.Duration) *Controller {
	return &Controller{
		gw:            gw,
		cache:         cache,
		bus:           bus,
		surface:       surface,
		confirmer:     confirmer,
		trustedOrigin: trustedOrigin,
		timeout:       timeout,
		refreshWait:   30 * time.Second,
		pending:       make(map[platform.Platform]bool),
		lastErr:       make(map[platform.Platform]error),
	}
}

// Bind starts the authorization workflow for p and returns the consent URL
// that was opened. The wait for the completion signal happens in the
// background: on a matching signal the controller triggers exactly one
// status refresh; on timeout the platform silently drops back to unbound
// and the error is recorded on the phase.
func (c *Controller) Bind(ctx context.Context, p platform.Platform) (string, error) {
	if !platform.Supported(p) {
		metrics.BindAttempts.WithLabelValues(string(p), "unsupported").Inc()
		return "", ErrUnsupportedPlatform
	}
	if c.cache.Get(p).Connected {
		metrics.BindAttempts.WithLabelValues(string(p), "already_bound").Inc()
		return "", ErrAlreadyConnected
	}

	c.mu.Lock()
	if c.pending[p] {
		c.mu.Unlock()
		metrics.BindAttempts.WithLabelValues(string(p), "in_progress").Inc()
		return "", ErrBindInProgress
	}
	c.pending[p] = true
	delete(c.lastErr, p)
	c.mu.Unlock()

	// subscribe before opening the surface so a fast callback can't race
	// past the listener
	sub := c.bus.Subscribe()

	authorizeURL := c.gw.AuthorizeURL(p)
	if err := c.surface.Open(p, authorizeURL); err != nil {
		sub.Cancel()
		c.finish(p, err)
		metrics.BindAttempts.WithLabelValues(string(p), "surface_failed").Inc()
		if _, ok := err.(*PopupBlockedError); ok {
			return "", err
		}
		return "", &PopupBlockedError{Platform: p, Err: err}
	}
	metrics.BindAttempts.WithLabelValues(string(p), "started").Inc()

	go c.await(p, sub)
	return authorizeURL, nil
}

// await consumes the per-call subscription until a matching signal, the
// timeout, or cancellation. Runs after the caller may have lost interest,
// so it only touches the cache and its own bookkeeping.
func (c *Controller) await(p platform.Platform, sub *Subscription) {
	defer sub.Cancel()

	var timeoutC <-chan time.Time
	if c.timeout > 0 {
		timer := time.NewTimer(c.timeout)
		defer timer.Stop()
		timeoutC = timer.C
	}

	for {
		select {
		case sig := <-sub.C:
			if sig.Type != SignalAuthSuccess || sig.Platform != p {
				continue
			}
			if c.trustedOrigin != "" && sig.Origin != c.trustedOrigin {
				logger.Warnf("binding: dropping %s signal for %s from untrusted origin %q", sig.Type, p, sig.Origin)
				metrics.SignalsDropped.WithLabelValues("origin").Inc()
				continue
			}
			metrics.SignalsDelivered.Inc()
			metrics.BindAttempts.WithLabelValues(string(p), "completed").Inc()
			ctx, cancel := context.WithTimeout(context.Background(), c.refreshWait)
			c.cache.Refresh(ctx)
			cancel()
			c.finish(p, nil)
			return
		case <-timeoutC:
			logger.Infof("binding: authorization for %s timed out, returning to unbound", p)
			metrics.BindAttempts.WithLabelValues(string(p), "timeout").Inc()
			c.finish(p, ErrAuthorizationTimeout)
			return
		}
	}
}

// Unbind disconnects the platform account. The confirmer must approve
// before any network call is made; on backend failure cached state is left
// untouched and the error goes back to the caller verbatim.
func (c *Controller) Unbind(ctx context.Context, p platform.Platform) error {
	if !platform.Supported(p) {
		return ErrUnsupportedPlatform
	}
	if !c.cache.Get(p).Connected {
		return ErrNotConnected
	}
	if c.confirmer != nil && !c.confirmer.Confirm(ctx, p) {
		return ErrConfirmationDeclined
	}

	c.mu.Lock()
	c.pending[p] = true
	c.mu.Unlock()
	defer c.finish(p, nil)

	if err := c.gw.Disconnect(ctx, p); err != nil {
		metrics.Unbinds.WithLabelValues(string(p), "error").Inc()
		return err
	}
	metrics.Unbinds.WithLabelValues(string(p), "ok").Inc()
	c.cache.Refresh(ctx)
	return nil
}

// Phase reports the platform's current position in the state machine.
func (c *Controller) Phase(p platform.Platform) Phase {
	c.mu.Lock()
	pending := c.pending[p]
	c.mu.Unlock()
	connected := c.cache.Get(p).Connected
	switch {
	case pending && connected:
		return PhaseUnbinding
	case pending:
		return PhaseAuthorizing
	case connected:
		return PhaseBound
	}
	return PhaseUnbound
}

// LastError returns the error recorded by the most recent attempt for p, or
// nil. Cleared when a new Bind starts.
func (c *Controller) LastError(p platform.Platform) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastErr[p]
}

func (c *Controller) finish(p platform.Platform, err error) {
	c.mu.Lock()
	delete(c.pending, p)
	if err != nil {
		c.lastErr[p] = err
	}
	c.mu.Unlock()
}
