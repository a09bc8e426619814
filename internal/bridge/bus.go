package bridge

import (
	"sync"
	"time"

	"github.com/invoke-ai/launcher/internal/shared/id"
)

// Topic names an event stream a subscriber can attach to.
type Topic string

const (
	TopicStatus  Topic = "status"
	TopicOutput  Topic = "output"
	TopicLog     Topic = "log"
	TopicMetrics Topic = "metrics"
)

// Event is a single published item on a topic. The ID is unique per
// publication so clients can de-duplicate replays.
type Event struct {
	ID        string      `json:"id"`
	Topic     Topic       `json:"topic"`
	Payload   interface{} `json:"payload"`
	Timestamp time.Time   `json:"timestamp"`
}

// OutputChunk is the payload on TopicOutput: a fragment of raw session
// output, already escape-sequence safe.
type OutputChunk struct {
	Role Role   `json:"role"`
	Data string `json:"data"`
}

const defaultSubscriberBuffer = 256

// Bus fans events out to per-topic subscribers. Publishing never blocks:
// a subscriber whose channel is full misses the event and is expected to
// reconcile via the status board.
type Bus struct {
	mu     sync.RWMutex
	nextID int
	subs   map[Topic]map[int]chan Event
}

// NewBus creates an empty bus.
func NewBus() *Bus {
	return &Bus{subs: make(map[Topic]map[int]chan Event)}
}

// Subscribe attaches to a topic. The returned cancel function detaches the
// subscriber and closes its channel; it is safe to call more than once.
func (b *Bus) Subscribe(topic Topic) (<-chan Event, func()) {
	ch := make(chan Event, defaultSubscriberBuffer)

	b.mu.Lock()
	if b.subs[topic] == nil {
		b.subs[topic] = make(map[int]chan Event)
	}
	id := b.nextID
	b.nextID++
	b.subs[topic][id] = ch
	b.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs[topic], id)
			b.mu.Unlock()
			close(ch)
		})
	}
	return ch, cancel
}

// Publish delivers payload to every subscriber of topic. Slow subscribers
// are skipped rather than stalling the producer.
func (b *Bus) Publish(topic Topic, payload interface{}) {
	event := Event{
		ID:        id.NewEventID().String(),
		Topic:     topic,
		Payload:   payload,
		Timestamp: time.Now(),
	}

	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, ch := range b.subs[topic] {
		select {
		case ch <- event:
		default:
		}
	}
}

// SubscriberCount returns the number of subscribers on a topic.
func (b *Bus) SubscriberCount(topic Topic) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs[topic])
}
