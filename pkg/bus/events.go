package bus

import (
	"context"
	"sync"
	"time"

	"chatroom/pkg/message"
)

type EventType string

const (
	// EventEntryAdded fires once per entry appended to a session timeline.
	EventEntryAdded     EventType = "entry_added"
	EventStateChanged   EventType = "state_changed"
	EventSendFailed     EventType = "send_failed"
	EventHandoff        EventType = "handoff"
	EventUploadFinished EventType = "upload_finished"
)

type Event struct {
	Type       EventType         `json:"type"`
	At         time.Time         `json:"at"`
	SessionKey string            `json:"session_key,omitempty"`
	Entry      *message.Entry    `json:"entry,omitempty"`
	Payload    map[string]string `json:"payload,omitempty"`
	Error      string            `json:"error,omitempty"`
}

// Filter selects the events a subscription receives. A nil Filter takes all.
type Filter func(Event) bool

// ForSession keeps events published by one session.
func ForSession(key string) Filter {
	return func(event Event) bool {
		return event.SessionKey == key
	}
}

// OfType keeps events of the given types.
func OfType(types ...EventType) Filter {
	return func(event Event) bool {
		for _, t := range types {
			if event.Type == t {
				return true
			}
		}
		return false
	}
}

type subscription struct {
	ch     chan Event
	filter Filter
}

func (s *subscription) wants(event Event) bool {
	return s.filter == nil || s.filter(event)
}

// Publish fans event out and reports how many subscribers received it.
func (b *Bus) Publish(event Event) int {
	if event.At.IsZero() {
		event.At = time.Now().UTC()
	}

	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed() {
		return 0
	}

	delivered := 0
	for _, sub := range b.subs {
		if !sub.wants(event) {
			continue
		}
		select {
		case sub.ch <- event:
			delivered++
		default:
			b.dropped.Add(1)
		}
	}

	return delivered
}

// Subscribe registers a buffered subscription. The channel closes when ctx
// ends, the returned cancel func runs or the bus closes; buffered events stay
// readable after that.
func (b *Bus) Subscribe(ctx context.Context, buffer int, filter Filter) (<-chan Event, func()) {
	if ctx == nil {
		ctx = context.Background()
	}
	if buffer <= 0 {
		buffer = defaultBufferSize
	}

	sub := &subscription{ch: make(chan Event, buffer), filter: filter}

	b.mu.Lock()
	if b.closed() {
		b.mu.Unlock()
		close(sub.ch)
		return sub.ch, func() {}
	}
	id := b.nextID
	b.nextID++
	b.subs[id] = sub
	b.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			b.mu.Lock()
			if _, ok := b.subs[id]; ok {
				delete(b.subs, id)
				close(sub.ch)
			}
			b.mu.Unlock()
		})
	}

	go func() {
		select {
		case <-ctx.Done():
		case <-b.done:
		}
		cancel()
	}()

	return sub.ch, cancel
}
