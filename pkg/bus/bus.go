package bus

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
)

const defaultBufferSize = 100

// ErrClosed is returned by inbound operations after Close.
var ErrClosed = errors.New("bus closed")

// Bus carries channel input to the gateway and fans session events out to
// subscribers. Inbound delivery blocks when the queue is full; event delivery
// never blocks and drops for subscribers whose buffer is full.
type Bus struct {
	inbound chan InboundMessage

	mu     sync.RWMutex
	subs   map[uint64]*subscription
	nextID uint64

	dropped atomic.Uint64

	done      chan struct{}
	closeOnce sync.Once
}

// New returns a bus whose inbound queue holds size messages. size <= 0 uses
// the default.
func New(size int) *Bus {
	if size <= 0 {
		size = defaultBufferSize
	}

	return &Bus{
		inbound: make(chan InboundMessage, size),
		subs:    make(map[uint64]*subscription),
		done:    make(chan struct{}),
	}
}

// Enqueue adds msg to the inbound queue, waiting for room.
func (b *Bus) Enqueue(ctx context.Context, msg InboundMessage) error {
	if ctx == nil {
		ctx = context.Background()
	}

	// Checked first so a closed bus never accepts into free buffer space.
	select {
	case <-b.done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	select {
	case <-b.done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	case b.inbound <- msg:
		return nil
	}
}

// Next waits for the next inbound message.
func (b *Bus) Next(ctx context.Context) (InboundMessage, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	select {
	case <-b.done:
		return InboundMessage{}, ErrClosed
	case <-ctx.Done():
		return InboundMessage{}, ctx.Err()
	case msg := <-b.inbound:
		return msg, nil
	}
}

// Dropped counts events not delivered to a subscriber because its buffer was full.
func (b *Bus) Dropped() uint64 {
	return b.dropped.Load()
}

// Close stops inbound traffic and closes every subscription channel.
func (b *Bus) Close() {
	b.closeOnce.Do(func() {
		close(b.done)

		b.mu.Lock()
		for id, sub := range b.subs {
			close(sub.ch)
			delete(b.subs, id)
		}
		b.mu.Unlock()
	})
}

func (b *Bus) closed() bool {
	select {
	case <-b.done:
		return true
	default:
		return false
	}
}
