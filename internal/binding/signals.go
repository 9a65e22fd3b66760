package binding

import (
	"sync"

	"github.com/clipcast/clipcast/backend/account-service/internal/platform"
)

// SignalAuthSuccess is the completion signal type posted by the hosted
// authorization callback page.
const SignalAuthSuccess = "auth_success"

// Signal is an authorization completion event. Origin is the origin the
// signal arrived from; the controller checks it against the trusted backend
// origin before acting.
type Signal struct {
	Type     string            `json:"type"`
	Platform platform.Platform `json:"platform"`
	Origin   string            `json:"-"`
}

// Bus fans completion signals out to waiting binds. Every Bind call takes
// its own Subscription and releases it when done, so listeners never outlive
// the attempt that registered them.
type Bus struct {
	mu   sync.Mutex
	subs map[uint64]chan Signal
	next uint64
}

func NewBus() *Bus {
	return &Bus{subs: make(map[uint64]chan Signal)}
}

// Subscription is a per-call handle on the bus. Cancel is idempotent and
// safe to call on every exit path.
type Subscription struct {
	C      <-chan Signal
	once   sync.Once
	cancel func()
}

func (s *Subscription) Cancel() {
	s.once.Do(s.cancel)
}

// Subscribe registers a new listener. The channel is buffered so a
// publisher is never blocked by a slow waiter.
func (b *Bus) Subscribe() *Subscription {
	ch := make(chan Signal, 4)
	b.mu.Lock()
	id := b.next
	b.next++
	b.subs[id] = ch
	b.mu.Unlock()
	return &Subscription{
		C: ch,
		cancel: func() {
			b.mu.Lock()
			delete(b.subs, id)
			b.mu.Unlock()
		},
	}
}

// Publish delivers sig to every current subscriber. Non-blocking: a full
// subscriber buffer drops the signal for that subscriber rather than
// stalling the publisher.
func (b *Bus) Publish(sig Signal) {
	b.mu.Lock()
	chans := make([]chan Signal, 0, len(b.subs))
	for _, ch := range b.subs {
		chans = append(chans, ch)
	}
	b.mu.Unlock()
	for _, ch := range chans {
		select {
		case ch <- sig:
		default:
		}
	}
}
