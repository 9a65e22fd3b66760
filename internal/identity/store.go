package identity

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/clipcast/clipcast/backend/account-service/internal/oidc"
	"github.com/clipcast/clipcast/backend/account-service/pkg/logger"
)

// AuthProviderError wraps a failed call against the primary identity
// provider or its persistence. Local sign-out state is never rolled back
// because of one; the caller only gets it for reporting.
type AuthProviderError struct {
	Op  string
	Err error
}

func (e *AuthProviderError) Error() string {
	return fmt.Sprintf("auth provider %s: %v", e.Op, e.Err)
}

func (e *AuthProviderError) Unwrap() error { return e.Err }

// State is the store lifecycle: uninitialized until Initialize is called,
// initializing while the persisted principal is being restored, ready after
// the first resolution completes (with or without a principal).
type State int

const (
	StateUninitialized State = iota
	StateInitializing
	StateReady
)

// TokenVerifier validates a raw provider ID token. Satisfied by
// oidc.Verifier and oidc.InsecureVerifier.
type TokenVerifier interface {
	Verify(ctx context.Context, raw string) (oidc.Token, error)
}

// Snapshot is a consistent view of the store handed to subscribers. A
// subscriber never observes a half-updated principal.
type Snapshot struct {
	State     State
	Live      *Principal
	Persisted *Principal
}

// Store owns the federated identity session for this process: the live
// principal established in the current lifetime, and the persisted principal
// restored from a prior session.
type Store struct {
	verifier TokenVerifier
	repo     Repository
	provider string

	mu        sync.Mutex
	state     State
	live      *Principal
	persisted *Principal
	subs      []func(Snapshot)
}

// NewStore creates an uninitialized store. repo may be nil, in which case no
// principal survives a restart.
func NewStore(verifier TokenVerifier, repo Repository, provider string) *Store {
	return &Store{verifier: verifier, repo: repo, provider: provider}
}

// Initialize restores the persisted principal and moves the store to ready.
// A restore failure is logged and treated as "no prior session"; it must
// not block startup.
func (s *Store) Initialize(ctx context.Context) {
	s.mu.Lock()
	if s.state != StateUninitialized {
		s.mu.Unlock()
		return
	}
	s.state = StateInitializing
	s.mu.Unlock()

	var restored *Principal
	if s.repo != nil {
		p, err := s.repo.Load(ctx)
		if err != nil {
			logger.Warnf("identity: restore of persisted principal failed: %v", err)
		} else {
			restored = p
		}
	}

	s.mu.Lock()
	s.persisted = restored
	s.state = StateReady
	snap := s.snapshotLocked()
	s.mu.Unlock()
	s.notify(snap)
}

// SignIn verifies the raw provider ID token and installs the resulting
// principal as both live and persisted.
func (s *Store) SignIn(ctx context.Context, rawIDToken string) (*Principal, error) {
	if s.verifier == nil {
		return nil, &AuthProviderError{Op: "verify", Err: errors.New("no verifier configured")}
	}
	tok, err := s.verifier.Verify(ctx, rawIDToken)
	if err != nil {
		return nil, &AuthProviderError{Op: "verify", Err: err}
	}
	var claims map[string]interface{}
	if err := tok.Claims(&claims); err != nil {
		return nil, &AuthProviderError{Op: "claims", Err: err}
	}
	p := principalFromClaims(claims, s.provider)
	if p == nil {
		return nil, &AuthProviderError{Op: "claims", Err: errors.New("token carries no subject")}
	}

	if s.repo != nil {
		if err := s.repo.Save(ctx, p); err != nil {
			// persistence is best-effort; the live session still works
			logger.Warnf("identity: persisting principal failed: %v", err)
		}
	}

	s.mu.Lock()
	s.live = p
	s.persisted = p
	snap := s.snapshotLocked()
	s.mu.Unlock()
	s.notify(snap)
	return p, nil
}

// SignOut clears the local session unconditionally, then invalidates the
// persisted copy. A failing provider-side call surfaces as AuthProviderError
// but the local clear stands: a stale authenticated view is the worse
// failure mode.
func (s *Store) SignOut(ctx context.Context) error {
	s.mu.Lock()
	s.live = nil
	s.persisted = nil
	snap := s.snapshotLocked()
	s.mu.Unlock()
	s.notify(snap)

	if s.repo != nil {
		if err := s.repo.Clear(ctx); err != nil {
			return &AuthProviderError{Op: "sign_out", Err: err}
		}
	}
	return nil
}

// CurrentPrincipal returns the live principal or nil. Never blocks.
func (s *Store) CurrentPrincipal() *Principal {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.live
}

// PersistedPrincipal returns the principal restored from a prior session, or
// nil. Lower trust than a live principal.
func (s *Store) PersistedPrincipal() *Principal {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.persisted
}

// Initialized reports whether the first resolution has completed.
func (s *Store) Initialized() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state == StateReady
}

// Subscribe registers fn for every state transition. fn receives a
// consistent snapshot and must not call back into the store.
func (s *Store) Subscribe(fn func(Snapshot)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.subs = append(s.subs, fn)
}

func (s *Store) snapshotLocked() Snapshot {
	return Snapshot{State: s.state, Live: s.live, Persisted: s.persisted}
}

func (s *Store) notify(snap Snapshot) {
	s.mu.Lock()
	subs := make([]func(Snapshot), len(s.subs))
	copy(subs, s.subs)
	s.mu.Unlock()
	for _, fn := range subs {
		fn(snap)
	}
}
