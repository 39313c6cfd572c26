package cqrs

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"example.com/afms/internal/metrics"
)

// ErrNoHandlerRegistered is returned when a command or query type has no
// registered handler. Fatal to that call, surfaced to the caller.
var ErrNoHandlerRegistered = errors.New("no handler registered for type")

// Command represents a user-initiated write
type Command struct {
	ID          string                 `json:"id"`
	Type        string                 `json:"type"`
	AggregateID string                 `json:"aggregate_id"`
	Payload     map[string]interface{} `json:"payload"`
	UserID      string                 `json:"user_id"`
	Timestamp   time.Time              `json:"timestamp"`
}

// Query represents a read request
type Query struct {
	ID        string                 `json:"id"`
	Type      string                 `json:"type"`
	Payload   map[string]interface{} `json:"payload"`
	UserID    string                 `json:"user_id"`
	Timestamp time.Time              `json:"timestamp"`
}

// CommandHandler handles exactly one command type
type CommandHandler interface {
	Handle(ctx context.Context, cmd Command) (interface{}, error)
}

// QueryHandler handles exactly one query type
type QueryHandler interface {
	Handle(ctx context.Context, query Query) (interface{}, error)
}

// CommandBus routes commands by type to a single registered handler.
// Handler errors propagate to the caller: commands fail loudly, unlike
// event bus subscribers.
type CommandBus struct {
	mu        sync.RWMutex
	handlers  map[string]CommandHandler
	collector *metrics.Collector
}

// NewCommandBus creates a new command bus
func NewCommandBus(collector *metrics.Collector) *CommandBus {
	return &CommandBus{
		handlers:  make(map[string]CommandHandler),
		collector: collector,
	}
}

// Register binds a handler to a command type, replacing any previous binding
func (b *CommandBus) Register(commandType string, handler CommandHandler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[commandType] = handler
}

// Dispatch routes a command to its handler
func (b *CommandBus) Dispatch(ctx context.Context, cmd Command) (interface{}, error) {
	b.mu.RLock()
	handler, ok := b.handlers[cmd.Type]
	b.mu.RUnlock()

	if !ok {
		return nil, errors.Wrap(ErrNoHandlerRegistered, cmd.Type)
	}

	log.Info().
		Str("command_id", cmd.ID).
		Str("command_type", cmd.Type).
		Str("aggregate_id", cmd.AggregateID).
		Msg("Dispatching command")

	start := time.Now()
	result, err := handler.Handle(ctx, cmd)
	duration := time.Since(start)
	b.collector.RecordCommand(cmd.Type, err == nil, duration)

	if err != nil {
		log.Error().
			Err(err).
			Str("command_id", cmd.ID).
			Str("command_type", cmd.Type).
			Dur("duration", duration).
			Msg("Command failed")
		return nil, err
	}

	log.Info().
		Str("command_id", cmd.ID).
		Str("command_type", cmd.Type).
		Dur("duration", duration).
		Msg("Command completed")
	return result, nil
}

// QueryBus routes queries by type to a single registered handler. Queries
// never mutate state and are logged at debug level only.
type QueryBus struct {
	mu        sync.RWMutex
	handlers  map[string]QueryHandler
	collector *metrics.Collector
}

// NewQueryBus creates a new query bus
func NewQueryBus(collector *metrics.Collector) *QueryBus {
	return &QueryBus{
		handlers:  make(map[string]QueryHandler),
		collector: collector,
	}
}

// Register binds a handler to a query type
func (b *QueryBus) Register(queryType string, handler QueryHandler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[queryType] = handler
}

// Dispatch routes a query to its handler
func (b *QueryBus) Dispatch(ctx context.Context, query Query) (interface{}, error) {
	b.mu.RLock()
	handler, ok := b.handlers[query.Type]
	b.mu.RUnlock()

	if !ok {
		return nil, errors.Wrap(ErrNoHandlerRegistered, query.Type)
	}

	log.Debug().
		Str("query_id", query.ID).
		Str("query_type", query.Type).
		Msg("Dispatching query")

	b.collector.IncrementCounter(metrics.CounterQueriesDispatched, 1)
	return handler.Handle(ctx, query)
}
