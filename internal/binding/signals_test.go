package binding

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clipcast/clipcast/backend/account-service/internal/platform"
)

func TestBusDeliversToAllSubscribers(t *testing.T) {
	b := NewBus()
	s1 := b.Subscribe()
	s2 := b.Subscribe()
	defer s1.Cancel()
	defer s2.Cancel()

	b.Publish(Signal{Type: SignalAuthSuccess, Platform: platform.Bilibili})

	sig1 := <-s1.C
	sig2 := <-s2.C
	assert.Equal(t, platform.Bilibili, sig1.Platform)
	assert.Equal(t, platform.Bilibili, sig2.Platform)
}

func TestCancelledSubscriptionReceivesNothing(t *testing.T) {
	b := NewBus()
	s := b.Subscribe()
	s.Cancel()

	b.Publish(Signal{Type: SignalAuthSuccess, Platform: platform.YouTube})
	select {
	case sig := <-s.C:
		t.Fatalf("cancelled subscription received %+v", sig)
	default:
	}
}

func TestCancelIsIdempotent(t *testing.T) {
	b := NewBus()
	s := b.Subscribe()
	s.Cancel()
	require.NotPanics(t, func() { s.Cancel() })
}

func TestPublishNeverBlocksOnFullBuffer(t *testing.T) {
	b := NewBus()
	s := b.Subscribe()
	defer s.Cancel()

	done := make(chan struct{})
	go func() {
		for i := 0; i < 32; i++ {
			b.Publish(Signal{Type: SignalAuthSuccess, Platform: platform.Douyin})
		}
		close(done)
	}()
	<-done // would deadlock if Publish blocked on the unread buffer
}
