package eventbus

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"example.com/afms/internal/domain"
)

const (
	defaultMaxRetries       = 3
	defaultBackoffBase      = time.Second
	defaultDeadLetterBuffer = 256
)

// Handler processes a published event. Name identifies the handler in logs
// and dead-letter entries.
type Handler interface {
	Name() string
	Handle(ctx context.Context, event domain.Event) error
}

type handlerFunc struct {
	name string
	fn   func(ctx context.Context, event domain.Event) error
}

func (h *handlerFunc) Name() string { return h.name }

func (h *handlerFunc) Handle(ctx context.Context, event domain.Event) error {
	return h.fn(ctx, event)
}

// HandlerFunc wraps a function as a named Handler
func HandlerFunc(name string, fn func(ctx context.Context, event domain.Event) error) Handler {
	return &handlerFunc{name: name, fn: fn}
}

// DeadLetter describes an event whose handler permanently failed after retries
type DeadLetter struct {
	Event    domain.Event
	Handler  string
	Error    string
	FailedAt time.Time
}

// Bus is an in-process publish/subscribe dispatcher. Handler failures are
// retried with exponential backoff off the publish path and dead-lettered
// after the retry budget is exhausted; they never reach Publish's caller.
type Bus struct {
	mu          sync.RWMutex
	subscribers map[string][]Handler
	wildcard    []Handler

	retryMu     sync.Mutex
	retryCounts map[string]int

	deadLetters chan DeadLetter
	maxRetries  int
	backoffBase time.Duration

	wg sync.WaitGroup
}

// Option configures a Bus
type Option func(*Bus)

// WithMaxRetries sets the retry budget per (event, handler) pair
func WithMaxRetries(n int) Option {
	return func(b *Bus) { b.maxRetries = n }
}

// WithBackoffBase sets the base delay; retry i waits base*2^i
func WithBackoffBase(d time.Duration) Option {
	return func(b *Bus) { b.backoffBase = d }
}

// WithDeadLetterBuffer sets the dead-letter channel capacity
func WithDeadLetterBuffer(n int) Option {
	return func(b *Bus) { b.deadLetters = make(chan DeadLetter, n) }
}

// NewBus creates a new event bus
func NewBus(opts ...Option) *Bus {
	b := &Bus{
		subscribers: make(map[string][]Handler),
		retryCounts: make(map[string]int),
		deadLetters: make(chan DeadLetter, defaultDeadLetterBuffer),
		maxRetries:  defaultMaxRetries,
		backoffBase: defaultBackoffBase,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Subscribe registers a handler for a specific event type
func (b *Bus) Subscribe(eventType string, handler Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subscribers[eventType] = append(b.subscribers[eventType], handler)
	log.Debug().Str("event_type", eventType).Str("handler", handler.Name()).Msg("Handler subscribed")
}

// SubscribeAll registers a handler that receives every event
func (b *Bus) SubscribeAll(handler Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.wildcard = append(b.wildcard, handler)
	log.Debug().Str("handler", handler.Name()).Msg("Wildcard handler subscribed")
}

// DeadLetters exposes the dead-letter channel for inspection
func (b *Bus) DeadLetters() <-chan DeadLetter {
	return b.deadLetters
}

// Publish invokes all matching handlers in subscription order. The first
// attempt per handler runs synchronously; failures move to the async retry
// path so a failing handler only costs its own backoff.
func (b *Bus) Publish(ctx context.Context, event domain.Event) {
	b.mu.RLock()
	handlers := make([]Handler, 0, len(b.subscribers[event.Type])+len(b.wildcard))
	handlers = append(handlers, b.subscribers[event.Type]...)
	handlers = append(handlers, b.wildcard...)
	b.mu.RUnlock()

	for _, handler := range handlers {
		if err := handler.Handle(ctx, event); err != nil {
			log.Warn().
				Err(err).
				Str("event_type", event.Type).
				Str("event_id", event.ID).
				Str("handler", handler.Name()).
				Msg("Event handler failed, scheduling retries")
			b.wg.Add(1)
			go b.retry(event, handler)
			continue
		}
		b.clearRetries(event.ID, handler.Name())
	}
}

// retry re-invokes a failed handler with exponential backoff, then
// dead-letters the event. Runs detached from the publish call.
func (b *Bus) retry(event domain.Event, handler Handler) {
	defer b.wg.Done()

	var lastErr error
	for attempt := 0; attempt < b.maxRetries; attempt++ {
		time.Sleep(b.backoffBase << attempt)
		b.setRetries(event.ID, handler.Name(), attempt+1)

		if err := handler.Handle(context.Background(), event); err != nil {
			lastErr = err
			log.Warn().
				Err(err).
				Str("event_id", event.ID).
				Str("handler", handler.Name()).
				Int("attempt", attempt+1).
				Msg("Event handler retry failed")
			continue
		}

		b.clearRetries(event.ID, handler.Name())
		log.Info().
			Str("event_id", event.ID).
			Str("handler", handler.Name()).
			Int("attempt", attempt+1).
			Msg("Event handler recovered on retry")
		return
	}

	b.clearRetries(event.ID, handler.Name())
	dl := DeadLetter{
		Event:    event,
		Handler:  handler.Name(),
		Error:    fmt.Sprintf("%v", lastErr),
		FailedAt: time.Now().UTC(),
	}
	select {
	case b.deadLetters <- dl:
		log.Error().
			Str("event_id", event.ID).
			Str("event_type", event.Type).
			Str("handler", handler.Name()).
			Msg("Event dead-lettered after exhausting retries")
	default:
		log.Error().
			Str("event_id", event.ID).
			Str("handler", handler.Name()).
			Msg("Dead-letter channel full, dropping entry")
	}
}

// Drain blocks until all in-flight retries settle. Used at shutdown and in
// tests.
func (b *Bus) Drain() {
	b.wg.Wait()
}

func retryKey(eventID, handlerName string) string {
	return eventID + "|" + handlerName
}

func (b *Bus) setRetries(eventID, handlerName string, n int) {
	b.retryMu.Lock()
	defer b.retryMu.Unlock()
	b.retryCounts[retryKey(eventID, handlerName)] = n
}

func (b *Bus) clearRetries(eventID, handlerName string) {
	b.retryMu.Lock()
	defer b.retryMu.Unlock()
	delete(b.retryCounts, retryKey(eventID, handlerName))
}
