package bus

import (
	"github.com/cskr/pubsub"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/mindmate-chat/internal/core"
	"github.com/vovakirdan/mindmate-chat/internal/log"
)

// TopicAll receives every event.
const TopicAll = "events"

// Topic returns the topic carrying events of kind.
func Topic(kind core.EventKind) string {
	return "events." + kind.String()
}

// Subscription delivers core.Event values.
type Subscription chan any

// EventBus fans engine events out to UI observers.
type EventBus interface {
	Publish(evt core.Event)
	Subscribe(topics ...string) Subscription
	Unsubscribe(ch Subscription, topics ...string)
	Close()
}

// PubSubBus is an EventBus on top of cskr/pubsub. A subscriber should listen
// on either TopicAll or kind topics, not both, or it sees events twice.
type PubSubBus struct {
	ps     *pubsub.PubSub
	logger *zerolog.Logger
}

// New constructs a bus whose subscriber channels buffer capacity events.
func New(capacity int, logger *zerolog.Logger) *PubSubBus {
	if capacity <= 0 {
		capacity = 128
	}
	return &PubSubBus{
		ps:     pubsub.New(capacity),
		logger: log.OrNop(logger),
	}
}

// Publish never blocks the caller on a slow subscriber; a subscriber whose
// buffer is full misses the event.
func (b *PubSubBus) Publish(evt core.Event) {
	b.logger.Debug().Str("kind", evt.Kind.String()).Str("room", evt.Room).Msg("publish event")
	b.ps.TryPub(evt, TopicAll, Topic(evt.Kind))
}

// Subscribe listens on topics; no topics means TopicAll.
func (b *PubSubBus) Subscribe(topics ...string) Subscription {
	if len(topics) == 0 {
		topics = []string{TopicAll}
	}
	return b.ps.Sub(topics...)
}

func (b *PubSubBus) Unsubscribe(ch Subscription, topics ...string) {
	if len(topics) == 0 {
		b.ps.Unsub(ch)
		return
	}
	b.ps.Unsub(ch, topics...)
}

func (b *PubSubBus) Close() {
	b.ps.Shutdown()
}

// Next reads the next event from sub. ok is false once sub is closed.
func Next(sub Subscription) (core.Event, bool) {
	for v := range sub {
		if evt, ok := v.(core.Event); ok {
			return evt, true
		}
	}
	return core.Event{}, false
}
