package eventbus

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"

	"example.com/afms/internal/domain"
)

type countingHandler struct {
	mu        sync.Mutex
	name      string
	calls     int
	failUntil int
}

func (h *countingHandler) Name() string { return h.name }

func (h *countingHandler) Handle(ctx context.Context, event domain.Event) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.calls++
	if h.calls <= h.failUntil {
		return errors.New("handler failure")
	}
	return nil
}

func (h *countingHandler) callCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.calls
}

func testEvent(id string) domain.Event {
	return domain.Event{
		ID:          id,
		AggregateID: "emp-1",
		Type:        domain.AttendanceRecorded,
		Version:     1,
		Timestamp:   time.Now().UTC(),
	}
}

func TestPublishDeliversToSubscribers(t *testing.T) {
	bus := NewBus(WithBackoffBase(time.Millisecond))
	h := &countingHandler{name: "ok"}
	bus.Subscribe(domain.AttendanceRecorded, h)

	bus.Publish(context.Background(), testEvent("evt-1"))
	bus.Drain()

	require.Equal(t, 1, h.callCount())
	require.Len(t, bus.DeadLetters(), 0)
}

func TestPublishSkipsUnrelatedEventTypes(t *testing.T) {
	bus := NewBus(WithBackoffBase(time.Millisecond))
	h := &countingHandler{name: "ok"}
	bus.Subscribe(domain.NotificationTriggered, h)

	bus.Publish(context.Background(), testEvent("evt-1"))
	bus.Drain()

	require.Equal(t, 0, h.callCount())
}

func TestWildcardHandlerReceivesEverything(t *testing.T) {
	bus := NewBus(WithBackoffBase(time.Millisecond))
	h := &countingHandler{name: "audit"}
	bus.SubscribeAll(h)

	bus.Publish(context.Background(), testEvent("evt-1"))
	event := testEvent("evt-2")
	event.Type = domain.NotificationTriggered
	bus.Publish(context.Background(), event)
	bus.Drain()

	require.Equal(t, 2, h.callCount())
}

func TestHandlerRecoversOnRetry(t *testing.T) {
	bus := NewBus(WithBackoffBase(time.Millisecond))
	h := &countingHandler{name: "flaky", failUntil: 1}
	bus.Subscribe(domain.AttendanceRecorded, h)

	bus.Publish(context.Background(), testEvent("evt-1"))
	bus.Drain()

	// Initial attempt failed, first retry succeeded
	require.Equal(t, 2, h.callCount())
	require.Len(t, bus.DeadLetters(), 0)
}

func TestExhaustedRetriesDeadLetter(t *testing.T) {
	bus := NewBus(WithBackoffBase(time.Millisecond), WithMaxRetries(3))
	h := &countingHandler{name: "broken", failUntil: 100}
	bus.Subscribe(domain.AttendanceRecorded, h)

	bus.Publish(context.Background(), testEvent("evt-1"))
	bus.Drain()

	// Initial attempt plus three retries
	require.Equal(t, 4, h.callCount())

	select {
	case dl := <-bus.DeadLetters():
		require.Equal(t, "evt-1", dl.Event.ID)
		require.Equal(t, "broken", dl.Handler)
		require.Equal(t, "handler failure", dl.Error)
		require.False(t, dl.FailedAt.IsZero())
	default:
		t.Fatal("expected a dead letter")
	}
}

func TestFailingHandlerDoesNotBlockOthers(t *testing.T) {
	bus := NewBus(WithBackoffBase(time.Millisecond))
	broken := &countingHandler{name: "broken", failUntil: 100}
	ok := &countingHandler{name: "ok"}
	bus.Subscribe(domain.AttendanceRecorded, broken)
	bus.Subscribe(domain.AttendanceRecorded, ok)

	bus.Publish(context.Background(), testEvent("evt-1"))
	bus.Drain()

	require.Equal(t, 1, ok.callCount())
	require.Equal(t, 4, broken.callCount())
}

func TestPublishReturnsBeforeRetriesFinish(t *testing.T) {
	bus := NewBus(WithBackoffBase(50 * time.Millisecond))
	h := &countingHandler{name: "slow-fail", failUntil: 100}
	bus.Subscribe(domain.AttendanceRecorded, h)

	start := time.Now()
	bus.Publish(context.Background(), testEvent("evt-1"))
	elapsed := time.Since(start)

	// Retries back off for 50+100+200ms; Publish must not wait for them
	require.Less(t, elapsed, 50*time.Millisecond)
	bus.Drain()
}
