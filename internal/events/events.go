// Package events is the process-wide pub/sub bus. Publishers enqueue onto a
// buffered channel consumed by a single dispatch loop; each subscriber gets
// its own delivery goroutine, so a slow or panicking handler never affects
// the publisher or other subscribers. There is no replay: a subscriber only
// sees events published after it subscribed.
package events

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

const (
	publishTimeout = 5 * time.Second
	handlerTimeout = 10 * time.Second
	drainTimeout   = 5 * time.Second
)

var (
	// ErrBusClosed is returned by Publish after Stop.
	ErrBusClosed = errors.New("event bus is stopped")
	// ErrBusNotStarted is returned by Publish before Start.
	ErrBusNotStarted = errors.New("event bus is not started")
)

// Event is the envelope carried through the bus and handed to raw
// subscribers. Typed subscribers receive only the payload.
type Event struct {
	Topic   string    `json:"topic"`
	Time    time.Time `json:"time"`
	Payload any       `json:"payload"`
}

// HandlerFunc is the function called when an event is dispatched.
type HandlerFunc func(context.Context, Event) error

// Option configures a Bus.
type Option func(*busConfig)

type busConfig struct {
	bufferSize   int
	syncDelivery bool
	logger       *slog.Logger
}

// WithBufferSize sets the event channel buffer size.
func WithBufferSize(size int) Option {
	return func(cfg *busConfig) {
		cfg.bufferSize = size
	}
}

// WithLogger sets a structured logger for handler errors and panics.
func WithLogger(logger *slog.Logger) Option {
	return func(cfg *busConfig) {
		cfg.logger = logger
	}
}

// WithSyncDelivery forces synchronous (inline) delivery, serializing all
// handler calls inside the dispatch loop. Useful in tests and for handlers
// that must not run concurrently.
func WithSyncDelivery() Option {
	return func(cfg *busConfig) {
		cfg.syncDelivery = true
	}
}

// Subscription represents a handler subscribed to a specific topic.
type Subscription struct {
	Topic       string
	CreatedAt   int64
	Handler     HandlerFunc
	ID          string
	Unsubscribe func()
}

type subscriberMap map[string]map[string]Subscription

// Bus fans events out to subscribers. One instance per process, constructed
// explicitly and passed to the components that publish on it.
type Bus struct {
	// Lock-free subscriber state using copy-on-write
	subscribers atomic.Pointer[subscriberMap]
	nextSubID   int64
	eventCount  int64

	events   chan Event
	shutdown chan struct{}

	// Read-only after creation
	config busConfig

	started   int32
	closed    int32
	loopWG    sync.WaitGroup
	handlerWG sync.WaitGroup
}

// New creates a Bus. The dispatch loop does not run until Start.
func New(opts ...Option) *Bus {
	cfg := busConfig{
		bufferSize: 512, // default
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	b := &Bus{
		events:   make(chan Event, cfg.bufferSize),
		shutdown: make(chan struct{}),
		config:   cfg,
	}

	emptySubscribers := make(subscriberMap)
	b.subscribers.Store(&emptySubscribers)
	return b
}

// Start launches the dispatch loop. Calling Start again is a no-op.
func (b *Bus) Start() {
	if !atomic.CompareAndSwapInt32(&b.started, 0, 1) {
		return
	}
	b.loopWG.Add(1)
	go b.eventLoop()
}

// Stop shuts the bus down: further publishes are rejected, events accepted
// before the stop are still dispatched, and in-flight handler goroutines are
// drained with a bounded wait. Idempotent.
func (b *Bus) Stop() {
	if b == nil {
		return
	}
	if !atomic.CompareAndSwapInt32(&b.closed, 0, 1) {
		return
	}
	close(b.shutdown)

	if atomic.LoadInt32(&b.started) == 0 {
		return
	}

	done := make(chan struct{})
	go func() {
		b.loopWG.Wait()
		b.handlerWG.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(drainTimeout):
	}
}

// Delivered reports how many events the dispatch loop has processed.
func (b *Bus) Delivered() int64 {
	return atomic.LoadInt64(&b.eventCount)
}

// Publish enqueues an event for every current subscriber of topic. It never
// waits on subscriber execution; it only blocks (bounded) when the internal
// buffer is full.
func Publish[T any](b *Bus, topic string, payload T) error {
	if atomic.LoadInt32(&b.closed) == 1 {
		return ErrBusClosed
	}
	if atomic.LoadInt32(&b.started) == 0 {
		return ErrBusNotStarted
	}

	evt := Event{Topic: topic, Time: time.Now(), Payload: payload}
	select {
	case b.events <- evt:
		return nil
	case <-b.shutdown:
		return ErrBusClosed
	case <-time.After(publishTimeout):
		return fmt.Errorf("event buffer full, dropped %s", topic)
	}
}

// Subscribe registers a typed handler for topic. Payloads that do not match
// T are reported as handler errors, not panics. The returned Subscription's
// Unsubscribe removes the handler.
func Subscribe[T any](b *Bus, topic string, handler func(context.Context, T) error) Subscription {
	wrapped := HandlerFunc(func(ctx context.Context, evt Event) error {
		typed, ok := evt.Payload.(T)
		if !ok {
			return fmt.Errorf("type assertion failed for %T on topic %s", evt.Payload, evt.Topic)
		}
		return handler(ctx, typed)
	})
	return b.subscribe(topic, wrapped)
}

// SubscribeRaw registers a handler that receives the full event envelope.
// The websocket event stream uses this to forward topic and timestamp.
func (b *Bus) SubscribeRaw(topic string, handler HandlerFunc) Subscription {
	return b.subscribe(topic, handler)
}

func (b *Bus) subscribe(topic string, handler HandlerFunc) Subscription {
	subID := atomic.AddInt64(&b.nextSubID, 1)

	sub := Subscription{
		Topic:     topic,
		CreatedAt: time.Now().UnixNano(),
		Handler:   handler,
		ID:        fmt.Sprintf("%s-%d", topic, subID),
	}

	// Add subscription using copy-on-write
	b.addSubscription(sub)

	sub.Unsubscribe = func() {
		b.removeSubscription(sub.ID)
	}
	return sub
}

// eventLoop processes events and distributes them to subscribers.
func (b *Bus) eventLoop() {
	defer b.loopWG.Done()

	for {
		select {
		case <-b.shutdown:
			// Dispatch whatever was accepted before the stop, then exit.
			for {
				select {
				case evt := <-b.events:
					b.dispatch(evt)
				default:
					return
				}
			}
		case evt := <-b.events:
			b.dispatch(evt)
		}
	}
}

func (b *Bus) dispatch(evt Event) {
	atomic.AddInt64(&b.eventCount, 1)

	// Lock-free read of the current subscriber set
	subs := b.subscribers.Load()
	if topicSubs, ok := (*subs)[evt.Topic]; ok {
		for _, sub := range topicSubs {
			b.send(sub, evt, b.config.syncDelivery)
		}
	}
}

// send delivers an event to one subscriber. Handler errors and panics are
// logged and swallowed; they never reach the publisher or other subscribers.
func (b *Bus) send(sub Subscription, evt Event, sync bool) {
	deliver := func() {
		defer func() {
			if r := recover(); r != nil {
				b.logDebug("event handler panic",
					"topic", evt.Topic,
					"panic", r,
					"subscription_id", sub.ID)
			}
		}()

		ctx, cancel := context.WithTimeout(context.Background(), handlerTimeout)
		defer cancel()

		if err := sub.Handler(ctx, evt); err != nil {
			b.logDebug("event handler error",
				"topic", evt.Topic,
				"error", err,
				"subscription_id", sub.ID)
		}
	}

	if sync {
		deliver()
		return
	}

	b.handlerWG.Add(1)
	go func() {
		defer b.handlerWG.Done()
		deliver()
	}()
}

func (b *Bus) logDebug(msg string, args ...any) {
	if b.config.logger != nil {
		b.config.logger.Debug(msg, args...)
	}
}

// addSubscription adds a subscription using copy-on-write.
func (b *Bus) addSubscription(sub Subscription) {
	for {
		oldSubs := b.subscribers.Load()
		newSubs := copySubscribers(*oldSubs)

		if _, ok := newSubs[sub.Topic]; !ok {
			newSubs[sub.Topic] = make(map[string]Subscription)
		}
		newSubs[sub.Topic][sub.ID] = sub

		if b.subscribers.CompareAndSwap(oldSubs, &newSubs) {
			break
		}
		// Retry if CAS failed (another goroutine modified it)
	}
}

// removeSubscription removes a subscription using copy-on-write.
func (b *Bus) removeSubscription(subID string) {
	for {
		oldSubs := b.subscribers.Load()
		newSubs := copySubscribers(*oldSubs)

		found := false
		for topic, topicSubs := range newSubs {
			if _, ok := topicSubs[subID]; ok {
				delete(topicSubs, subID)
				if len(topicSubs) == 0 {
					delete(newSubs, topic)
				}
				found = true
				break
			}
		}

		if !found {
			break // Subscription not found, nothing to do
		}

		if b.subscribers.CompareAndSwap(oldSubs, &newSubs) {
			break
		}
		// Retry if CAS failed
	}
}

func copySubscribers(original subscriberMap) subscriberMap {
	cp := make(subscriberMap, len(original))
	for topic, topicSubs := range original {
		cp[topic] = make(map[string]Subscription, len(topicSubs))
		for id, sub := range topicSubs {
			cp[topic][id] = sub
		}
	}
	return cp
}
