package runtime

import (
	"context"
	"log/slog"
	"slices"
	"sync"

	"github.com/aretw0/ledger/internal/logging"
	"github.com/aretw0/ledger/pkg/domain"
)

// AllEvents subscribes to every event type.
const AllEvents = "*"

// Subscriber receives committed events.
type Subscriber func(ctx context.Context, evt domain.Event)

// Bus delivers events to subscribers synchronously, in subscription order.
type Bus struct {
	mu     sync.RWMutex
	next   uint64
	subs   []subscription
	logger *slog.Logger
}

type subscription struct {
	id        uint64
	eventType string
	fn        Subscriber
}

// NewBus creates an empty bus. A nil logger discards subscriber panics.
func NewBus(logger *slog.Logger) *Bus {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Bus{logger: logger}
}

// Subscribe registers fn for eventType (AllEvents for every type).
// The returned function removes the subscription.
func (b *Bus) Subscribe(eventType string, fn Subscriber) func() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.next++
	id := b.next
	b.subs = append(b.subs, subscription{id: id, eventType: eventType, fn: fn})

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		b.subs = slices.DeleteFunc(b.subs, func(s subscription) bool { return s.id == id })
	}
}

// Publish delivers each event to matching subscribers.
// The subscriber list is read once per event, so subscribers may subscribe,
// unsubscribe or execute further commands.
func (b *Bus) Publish(ctx context.Context, events []domain.Event) {
	for _, evt := range events {
		for _, fn := range b.matching(evt.Type) {
			b.deliver(ctx, fn, evt)
		}
	}
}

func (b *Bus) matching(eventType string) []Subscriber {
	b.mu.RLock()
	defer b.mu.RUnlock()

	var out []Subscriber
	for _, s := range b.subs {
		if s.eventType == eventType || s.eventType == AllEvents {
			out = append(out, s.fn)
		}
	}
	return out
}

func (b *Bus) deliver(ctx context.Context, fn Subscriber, evt domain.Event) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("event subscriber panicked", "event", evt.Type, "seq", evt.Seq, "panic", r)
		}
	}()
	fn(ctx, evt)
}
