package eventbus

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBus_EmitAndSubscribe(t *testing.T) {
	bus := New()

	received := make(chan Event, 1)
	bus.Subscribe("sub1", Filter{}, func(ctx context.Context, e Event) error {
		received <- e
		return nil
	})

	bus.Emit(context.Background(), Event{Kind: "node.started", ExecutionID: "exec-1"})

	select {
	case e := <-received:
		assert.Equal(t, "node.started", e.Kind)
		assert.Equal(t, "exec-1", e.ExecutionID)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for delivery")
	}
}

func TestBus_FilterMatching(t *testing.T) {
	bus := New()

	var mu sync.Mutex
	var got []Event
	bus.Subscribe("sub1", NewKindFilter("ai_request"), func(ctx context.Context, e Event) error {
		mu.Lock()
		got = append(got, e)
		mu.Unlock()
		return nil
	})

	bus.Emit(context.Background(), Event{Kind: "ai_response"})
	bus.Emit(context.Background(), Event{Kind: "ai_request"})

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) == 1
	}, time.Second, 10*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, "ai_request", got[0].Kind)
}

func TestBus_RecentReturnsRingInOrder(t *testing.T) {
	bus := New(WithRingSize(3))

	for i := 0; i < 5; i++ {
		bus.Emit(context.Background(), Event{Kind: "node.started", NodeID: string(rune('a' + i))})
	}

	recent := bus.Recent(0, Filter{})
	require.Len(t, recent, 3)
	assert.Equal(t, "d", recent[0].NodeID)
	assert.Equal(t, "e", recent[2].NodeID)
}

func TestBus_RecentRespectsLimit(t *testing.T) {
	bus := New()
	for i := 0; i < 10; i++ {
		bus.Emit(context.Background(), Event{Kind: "k"})
	}

	recent := bus.Recent(3, Filter{})
	assert.Len(t, recent, 3)
}

func TestBus_SlowSubscriberDropsOldestWithoutBlockingEmit(t *testing.T) {
	bus := New(WithQueueSize(2))

	block := make(chan struct{})
	bus.Subscribe("slow", Filter{}, func(ctx context.Context, e Event) error {
		<-block
		return nil
	})

	done := make(chan struct{})
	go func() {
		for i := 0; i < 20; i++ {
			bus.Emit(context.Background(), Event{Kind: "k"})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Emit blocked on a slow subscriber")
	}
	close(block)
}

func TestBus_UnsubscribeStopsDelivery(t *testing.T) {
	bus := New()

	var mu sync.Mutex
	count := 0
	sub := bus.Subscribe("sub1", Filter{}, func(ctx context.Context, e Event) error {
		mu.Lock()
		count++
		mu.Unlock()
		return nil
	})

	bus.Emit(context.Background(), Event{Kind: "k"})
	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return count == 1
	}, time.Second, 10*time.Millisecond)

	sub.Unsubscribe()
	assert.Equal(t, 0, bus.Count())

	bus.Emit(context.Background(), Event{Kind: "k"})
	time.Sleep(50 * time.Millisecond)
	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 1, count)
}

func TestFilter_MatchesExecutionAndNode(t *testing.T) {
	f := Filter{ExecutionID: "exec-1", NodeID: "node-1"}

	assert.True(t, f.match(Event{ExecutionID: "exec-1", NodeID: "node-1"}))
	assert.False(t, f.match(Event{ExecutionID: "exec-2", NodeID: "node-1"}))
	assert.False(t, f.match(Event{ExecutionID: "exec-1", NodeID: "node-2"}))
}
