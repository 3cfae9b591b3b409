package events

import (
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEmit_DeliversToSubscriber(t *testing.T) {
	bus := NewBus(zerolog.Nop())

	var mu sync.Mutex
	var got Event
	done := make(chan struct{})

	bus.Subscribe(CycleCompleted, func(e Event) {
		mu.Lock()
		got = e
		mu.Unlock()
		close(done)
	})

	bus.Emit(CycleCompleted, "run-1", map[string]interface{}{"status": "SUCCESS"})

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("handler was not invoked")
	}

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, "run-1", got.RunID)
	assert.Equal(t, CycleCompleted, got.Type)
}

func TestUnsubscribe_StopsDelivery(t *testing.T) {
	bus := NewBus(zerolog.Nop())
	calls := 0
	var mu sync.Mutex

	sub := bus.Subscribe(CycleStarted, func(Event) {
		mu.Lock()
		calls++
		mu.Unlock()
	})
	bus.Unsubscribe(sub)
	bus.Emit(CycleStarted, "run-2", nil)

	time.Sleep(50 * time.Millisecond)
	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 0, calls)
}

func TestEmit_NoSubscribersIsSafe(t *testing.T) {
	bus := NewBus(zerolog.Nop())
	require.NotPanics(t, func() {
		bus.Emit(CycleStarted, "run-3", nil)
	})
}
