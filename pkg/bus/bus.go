package bus

import (
	"context"
	"sync"
	"time"

	"polybot/pkg/entity"
	"polybot/pkg/logger"
)

// Normalizer is the transform entry point an adapter attaches to the
// events it publishes, so consumers can normalize without knowing the
// adapter's concrete type.
type Normalizer interface {
	Transform(ctx context.Context, native any) (entity.Entity, error)
}

// Event is one platform-native inbound object together with the adapter
// that produced it. The native value never crosses the normalizer
// boundary in any other way.
type Event struct {
	Platform string
	Native   any
	Source   Normalizer
}

// EventBus is the inbound queue between adapters and the dispatch pump.
// Publishing to a full queue waits briefly and then drops with an error
// log; the handling loop must survive bursts, not buffer them forever.
type EventBus struct {
	inbound   chan Event
	mu        sync.RWMutex
	closed    bool
	closeOnce sync.Once
}

const publishWaitTimeout = 2 * time.Second

func NewEventBus() *EventBus {
	return &EventBus{
		inbound: make(chan Event, 100),
	}
}

func (b *EventBus) Publish(ev Event) {
	b.mu.RLock()
	if b.closed {
		b.mu.RUnlock()
		return
	}
	ch := b.inbound
	b.mu.RUnlock()

	defer func() {
		if recover() != nil {
			logger.WarnCF("bus", "Publish on closed bus recovered", map[string]interface{}{
				logger.FieldPlatform: ev.Platform,
			})
		}
	}()

	select {
	case ch <- ev:
	case <-time.After(publishWaitTimeout):
		logger.ErrorCF("bus", "Publish timeout (queue full), event dropped", map[string]interface{}{
			logger.FieldPlatform: ev.Platform,
		})
	}
}

func (b *EventBus) Consume(ctx context.Context) (Event, bool) {
	select {
	case ev, ok := <-b.inbound:
		return ev, ok
	case <-ctx.Done():
		return Event{}, false
	}
}

func (b *EventBus) Close() {
	b.closeOnce.Do(func() {
		b.mu.Lock()
		b.closed = true
		close(b.inbound)
		b.mu.Unlock()
	})
}
