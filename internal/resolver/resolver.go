package resolver

import (
	"context"
	"sync"

	"github.com/clipcast/clipcast/backend/account-service/internal/accounts"
	"github.com/clipcast/clipcast/backend/account-service/internal/identity"
	"github.com/clipcast/clipcast/backend/account-service/internal/platform"
)

// ResolvedUser is the single identity value the rest of the application
// treats as "who is using this session now". Derived, never independently
// mutated.
type ResolvedUser struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	MID       string `json:"mid"`
	AvatarURL string `json:"avatar,omitempty"`
}

// Resolver merges the federated identity store and the legacy platform's
// binding record into one resolved user, with a fixed precedence:
//
//  1. live principal (session established in this lifetime)
//  2. persisted principal restored from a prior session
//  3. legacy platform account, when bound with a username
//  4. nil, logged out
type Resolver struct {
	ids   *identity.Store
	cache *accounts.Cache

	mu      sync.Mutex
	started bool
	subs    []func()
}

func New(ids *identity.Store, cache *accounts.Cache) *Resolver {
	return &Resolver{ids: ids, cache: cache}
}

// Start wires the data flow: once the identity store reports ready, the
// resolver asks the cache for its first refresh (legacy status first, since
// it feeds the login fallback). Change notifications from either source fan
// out to the resolver's subscribers.
func (r *Resolver) Start(ctx context.Context) {
	r.cache.Subscribe(r.notify)
	r.ids.Subscribe(func(snap identity.Snapshot) {
		if snap.State == identity.StateReady {
			r.kickoff(ctx)
		}
		r.notify()
	})
	// the store may already be ready when Start runs
	if r.ids.Initialized() {
		r.kickoff(ctx)
	}
}

func (r *Resolver) kickoff(ctx context.Context) {
	r.mu.Lock()
	if r.started {
		r.mu.Unlock()
		return
	}
	r.started = true
	r.mu.Unlock()
	go func() {
		r.cache.RefreshLegacy(ctx)
		r.cache.Refresh(ctx)
	}()
}

// ResolvedUser computes the current user. Pure and synchronous over current
// state; returns nil rather than erroring because "no user yet" is an
// expected state.
func (r *Resolver) ResolvedUser() *ResolvedUser {
	if p := r.ids.CurrentPrincipal(); p != nil {
		return fromPrincipal(p)
	}
	if p := r.ids.PersistedPrincipal(); p != nil {
		return fromPrincipal(p)
	}
	if u := fromLegacy(r.cache.Get(platform.Legacy)); u != nil {
		return u
	}
	return nil
}

// Loading is true until the identity store is initialized and the cache has
// completed its first refresh attempt, successful or not.
func (r *Resolver) Loading() bool {
	return !r.ids.Initialized() || !r.cache.Attempted()
}

// Subscribe registers fn for every observed change to either upstream
// source.
func (r *Resolver) Subscribe(fn func()) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.subs = append(r.subs, fn)
}

func (r *Resolver) notify() {
	r.mu.Lock()
	subs := make([]func(), len(r.subs))
	copy(subs, r.subs)
	r.mu.Unlock()
	for _, fn := range subs {
		fn()
	}
}

func fromPrincipal(p *identity.Principal) *ResolvedUser {
	name := p.DisplayName
	if name == "" {
		name = p.Email
	}
	if name == "" {
		name = p.ID
	}
	return &ResolvedUser{ID: p.ID, Name: name, MID: p.ID, AvatarURL: p.AvatarURL}
}

func fromLegacy(s accounts.Status) *ResolvedUser {
	if !s.Connected || s.ExternalUsername == "" {
		return nil
	}
	id := s.ExternalID
	if id == "" {
		id = s.ExternalUsername
	}
	return &ResolvedUser{ID: id, Name: s.ExternalUsername, MID: id, AvatarURL: s.AvatarURL}
}
