package accounts

import (
	"context"
	"sync"

	"github.com/clipcast/clipcast/backend/account-service/internal/gateway"
	"github.com/clipcast/clipcast/backend/account-service/internal/platform"
	"github.com/clipcast/clipcast/backend/account-service/pkg/logger"
	"github.com/clipcast/clipcast/backend/account-service/pkg/metrics"
)

// Gateway is the slice of the backend client the cache needs.
type Gateway interface {
	FetchAccounts(ctx context.Context) (map[platform.Platform]gateway.AccountEntry, error)
	FetchLegacyStatus(ctx context.Context) (*gateway.LegacyStatus, error)
}

// Cache holds the per-platform binding status set and refreshes it from the
// backend. It is the single shared mutable resource of the reconciliation
// core: only Refresh/RefreshLegacy write, everything else reads.
type Cache struct {
	gw Gateway

	mu        sync.Mutex
	statuses  map[platform.Platform]Status
	attempted bool
	subs      []func()
}

func New(gw Gateway) *Cache {
	return &Cache{gw: gw, statuses: make(map[platform.Platform]Status)}
}

// Refresh fetches the status map for all platforms and installs it. Each
// platform named in the response is replaced wholesale; platforms absent
// from the response keep their prior value. Any failure leaves the cache
// untouched but still counts as a completed first attempt.
//
// Safe to call concurrently: each response is applied under one critical
// section, so overlapping refreshes never interleave partial writes. The
// last response to install wins per platform.
func (c *Cache) Refresh(ctx context.Context) {
	resp, err := c.gw.FetchAccounts(ctx)
	if err != nil {
		logger.Warnf("accounts: status refresh failed, keeping cached state: %v", err)
		metrics.StatusRefreshes.WithLabelValues("error").Inc()
		c.markAttempted()
		return
	}
	metrics.StatusRefreshes.WithLabelValues("ok").Inc()

	c.mu.Lock()
	for p, entry := range resp {
		if !platform.Supported(p) {
			logger.Debugf("accounts: ignoring unknown platform %q in status response", p)
			continue
		}
		c.statuses[p] = Status{
			Platform:         p,
			Connected:        entry.Connected,
			ExternalUsername: entry.Username,
			AvatarURL:        entry.Avatar,
			ConnectedAt:      parseConnectedAt(entry.ConnectedAt),
		}
	}
	c.attempted = true
	c.mu.Unlock()
	c.notify()
}

// RefreshLegacy fetches the primary-platform session state and installs it
// as the legacy platform's record (the accounts endpoint does not carry the
// external id the legacy identity path needs). Same failure policy as
// Refresh.
func (c *Cache) RefreshLegacy(ctx context.Context) {
	st, err := c.gw.FetchLegacyStatus(ctx)
	if err != nil {
		logger.Warnf("accounts: legacy status refresh failed, keeping cached state: %v", err)
		metrics.StatusRefreshes.WithLabelValues("error").Inc()
		c.markAttempted()
		return
	}
	metrics.StatusRefreshes.WithLabelValues("ok").Inc()

	rec := Status{Platform: platform.Legacy}
	if st.Connected && st.User != nil {
		rec.Connected = true
		rec.ExternalID = st.User.MID
		rec.ExternalUsername = st.User.Name
		rec.AvatarURL = st.User.Avatar
	}
	c.mu.Lock()
	c.statuses[platform.Legacy] = rec
	c.attempted = true
	c.mu.Unlock()
	c.notify()
}

// Get returns the current record for the platform, or an unbound default if
// never fetched.
func (c *Cache) Get(p platform.Platform) Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	if s, ok := c.statuses[p]; ok {
		return s
	}
	return Status{Platform: p}
}

// All returns every supported platform's record in display order.
func (c *Cache) All() []Status {
	out := make([]Status, 0, len(platform.All()))
	for _, p := range platform.All() {
		out = append(out, c.Get(p))
	}
	return out
}

// Attempted reports whether at least one refresh has completed, successfully
// or not. Drives the resolver's loading flag.
func (c *Cache) Attempted() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.attempted
}

// Subscribe registers fn for every installed change.
func (c *Cache) Subscribe(fn func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.subs = append(c.subs, fn)
}

func (c *Cache) markAttempted() {
	c.mu.Lock()
	first := !c.attempted
	c.attempted = true
	c.mu.Unlock()
	if first {
		c.notify()
	}
}

func (c *Cache) notify() {
	c.mu.Lock()
	subs := make([]func(), len(c.subs))
	copy(subs, c.subs)
	c.mu.Unlock()
	for _, fn := range subs {
		fn()
	}
}
