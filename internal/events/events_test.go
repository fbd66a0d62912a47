package events

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func startedBus(opts ...Option) *Bus {
	b := New(opts...)
	b.Start()
	return b
}

func TestBusDeliversToSubscriber(t *testing.T) {
	b := startedBus()
	defer b.Stop()

	got := make(chan SessionCreated, 1)
	Subscribe(b, TopicSessionCreated, func(ctx context.Context, e SessionCreated) error {
		got <- e
		return nil
	})

	if err := Publish(b, TopicSessionCreated, SessionCreated{ID: "s1", UserID: "u1"}); err != nil {
		t.Fatalf("publish failed: %v", err)
	}

	select {
	case e := <-got:
		if e.ID != "s1" || e.UserID != "u1" {
			t.Fatalf("got %+v, want {s1 u1}", e)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("event not delivered")
	}
}

func TestBusNoReplay(t *testing.T) {
	b := startedBus(WithSyncDelivery())
	defer b.Stop()

	if err := Publish(b, TopicPluginLoaded, PluginLoaded{Name: "early"}); err != nil {
		t.Fatalf("publish failed: %v", err)
	}
	// Let the loop dispatch the event to nobody.
	waitForCount(t, b, 1)

	var delivered atomic.Int32
	Subscribe(b, TopicPluginLoaded, func(ctx context.Context, e PluginLoaded) error {
		delivered.Add(1)
		return nil
	})

	time.Sleep(50 * time.Millisecond)
	if n := delivered.Load(); n != 0 {
		t.Fatalf("late subscriber saw %d past events, want 0", n)
	}
}

func TestBusUnsubscribe(t *testing.T) {
	b := startedBus(WithSyncDelivery())
	defer b.Stop()

	var delivered atomic.Int32
	sub := Subscribe(b, TopicPluginError, func(ctx context.Context, e PluginError) error {
		delivered.Add(1)
		return nil
	})

	if err := Publish(b, TopicPluginError, PluginError{Name: "weather"}); err != nil {
		t.Fatalf("publish failed: %v", err)
	}
	waitForCount(t, b, 1)
	if delivered.Load() != 1 {
		t.Fatalf("got %d deliveries, want 1", delivered.Load())
	}

	sub.Unsubscribe()
	if err := Publish(b, TopicPluginError, PluginError{Name: "weather"}); err != nil {
		t.Fatalf("publish failed: %v", err)
	}
	waitForCount(t, b, 2)
	if delivered.Load() != 1 {
		t.Fatalf("got %d deliveries after unsubscribe, want 1", delivered.Load())
	}
}

func TestBusRejectsPublishBeforeStart(t *testing.T) {
	b := New()
	err := Publish(b, TopicSessionClosed, SessionClosed{ID: "x"})
	if !errors.Is(err, ErrBusNotStarted) {
		t.Fatalf("got %v, want ErrBusNotStarted", err)
	}
}

func TestBusRejectsPublishAfterStop(t *testing.T) {
	b := startedBus()
	b.Stop()

	err := Publish(b, TopicSessionClosed, SessionClosed{ID: "x"})
	if !errors.Is(err, ErrBusClosed) {
		t.Fatalf("got %v, want ErrBusClosed", err)
	}
}

func TestBusStopIdempotent(t *testing.T) {
	b := startedBus()
	b.Stop()
	b.Stop() // must not panic or hang
}

func TestBusStopDrainsAcceptedEvents(t *testing.T) {
	b := startedBus(WithSyncDelivery())

	var delivered atomic.Int32
	Subscribe(b, TopicCatalogRefreshed, func(ctx context.Context, e CatalogRefreshed) error {
		delivered.Add(1)
		return nil
	})

	for i := 0; i < 20; i++ {
		if err := Publish(b, TopicCatalogRefreshed, CatalogRefreshed{RemoteTools: i}); err != nil {
			t.Fatalf("publish %d failed: %v", i, err)
		}
	}
	b.Stop()

	if n := delivered.Load(); n != 20 {
		t.Fatalf("got %d deliveries after stop, want 20", n)
	}
}

func TestBusSlowSubscriberDoesNotBlockPublisher(t *testing.T) {
	b := startedBus()
	defer b.Stop()

	release := make(chan struct{})
	Subscribe(b, TopicServerConnected, func(ctx context.Context, e ServerConnected) error {
		<-release
		return nil
	})

	start := time.Now()
	if err := Publish(b, TopicServerConnected, ServerConnected{Name: "slow"}); err != nil {
		t.Fatalf("publish failed: %v", err)
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Fatalf("publish blocked for %v on a slow subscriber", elapsed)
	}
	close(release)
}

func TestBusPanickingSubscriberIsolated(t *testing.T) {
	b := startedBus()
	defer b.Stop()

	healthy := make(chan struct{}, 2)
	Subscribe(b, TopicServerFailed, func(ctx context.Context, e ServerFailed) error {
		panic("subscriber bug")
	})
	Subscribe(b, TopicServerFailed, func(ctx context.Context, e ServerFailed) error {
		healthy <- struct{}{}
		return nil
	})

	if err := Publish(b, TopicServerFailed, ServerFailed{Name: "srv"}); err != nil {
		t.Fatalf("publish failed: %v", err)
	}

	select {
	case <-healthy:
	case <-time.After(2 * time.Second):
		t.Fatal("healthy subscriber starved by panicking peer")
	}
}

func TestBusErroringSubscriberDoesNotAffectOthers(t *testing.T) {
	b := startedBus(WithSyncDelivery())
	defer b.Stop()

	var delivered atomic.Int32
	Subscribe(b, TopicPluginLoaded, func(ctx context.Context, e PluginLoaded) error {
		return errors.New("handler failure")
	})
	Subscribe(b, TopicPluginLoaded, func(ctx context.Context, e PluginLoaded) error {
		delivered.Add(1)
		return nil
	})

	if err := Publish(b, TopicPluginLoaded, PluginLoaded{Name: "echo"}); err != nil {
		t.Fatalf("publish failed: %v", err)
	}
	waitForCount(t, b, 1)
	if delivered.Load() != 1 {
		t.Fatalf("got %d deliveries, want 1", delivered.Load())
	}
}

func TestBusRawSubscriberGetsEnvelope(t *testing.T) {
	b := startedBus()
	defer b.Stop()

	got := make(chan Event, 1)
	b.SubscribeRaw(TopicSessionClosed, func(ctx context.Context, evt Event) error {
		got <- evt
		return nil
	})

	before := time.Now()
	if err := Publish(b, TopicSessionClosed, SessionClosed{ID: "s9", Reason: "idle"}); err != nil {
		t.Fatalf("publish failed: %v", err)
	}

	select {
	case evt := <-got:
		if evt.Topic != TopicSessionClosed {
			t.Fatalf("got topic %q, want %q", evt.Topic, TopicSessionClosed)
		}
		if evt.Time.Before(before.Add(-time.Second)) {
			t.Fatalf("envelope time %v not stamped at publish", evt.Time)
		}
		payload, ok := evt.Payload.(SessionClosed)
		if !ok || payload.ID != "s9" {
			t.Fatalf("got payload %+v", evt.Payload)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("envelope not delivered")
	}
}

func TestBusConcurrentPublishers(t *testing.T) {
	b := startedBus()
	defer b.Stop()

	var delivered atomic.Int32
	Subscribe(b, TopicSessionCreated, func(ctx context.Context, e SessionCreated) error {
		delivered.Add(1)
		return nil
	})

	const publishers, perPublisher = 8, 25
	var wg sync.WaitGroup
	for p := 0; p < publishers; p++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < perPublisher; i++ {
				if err := Publish(b, TopicSessionCreated, SessionCreated{ID: "s"}); err != nil {
					t.Errorf("publish failed: %v", err)
					return
				}
			}
		}()
	}
	wg.Wait()

	deadline := time.Now().Add(3 * time.Second)
	want := int32(publishers * perPublisher)
	for delivered.Load() < want {
		if time.Now().After(deadline) {
			t.Fatalf("got %d deliveries, want %d", delivered.Load(), want)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

// waitForCount polls until the dispatch loop has processed n events.
func waitForCount(t *testing.T, b *Bus, n int64) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for b.Delivered() < n {
		if time.Now().After(deadline) {
			t.Fatalf("dispatch count stuck at %d, want %d", b.Delivered(), n)
		}
		time.Sleep(2 * time.Millisecond)
	}
}
