// Package events carries table change notifications to in-process listeners.
package events

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Event types.
const (
	TableCreated = "table_created"
	TableUpdated = "table_updated"
	TableDeleted = "table_deleted"
	RowsCreated  = "rows_created"
	RowsUpdated  = "rows_updated"
	RowsDeleted  = "rows_deleted"
)

// Event is a notification about a table.
type Event struct {
	Type    string
	TableID uuid.UUID
	UserID  uuid.UUID
	// ForceRefresh asks listeners to reload the whole table instead of
	// applying row level changes.
	ForceRefresh bool
	RowIDs       []int64
}

// Handler receives events. Errors are logged and otherwise ignored.
type Handler func(ctx context.Context, e Event) error

// Bus delivers events synchronously to every subscriber. Publishing never
// fails: a subscriber error or panic is logged and the next subscriber runs.
type Bus struct {
	mu       sync.RWMutex
	handlers []Handler
	logger   *zap.Logger
}

// NewBus creates an empty bus.
func NewBus(logger *zap.Logger) *Bus {
	return &Bus{logger: logger.Named("events")}
}

// Subscribe registers a handler for all events.
func (b *Bus) Subscribe(h Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers = append(b.handlers, h)
}

// Publish sends e to every subscriber.
func (b *Bus) Publish(ctx context.Context, e Event) {
	b.mu.RLock()
	handlers := make([]Handler, len(b.handlers))
	copy(handlers, b.handlers)
	b.mu.RUnlock()

	for _, h := range handlers {
		b.deliver(ctx, h, e)
	}
}

func (b *Bus) deliver(ctx context.Context, h Handler, e Event) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("Event handler panicked",
				zap.String("event", e.Type),
				zap.String("table_id", e.TableID.String()),
				zap.Any("panic", r))
		}
	}()
	if err := h(ctx, e); err != nil {
		b.logger.Warn("Event handler failed",
			zap.String("event", e.Type),
			zap.String("table_id", e.TableID.String()),
			zap.Error(err))
	}
}
