package delivery

import (
	"time"

	"chatroom/pkg/message"
)

// DefaultInterval is the pause between two bot messages becoming visible.
const DefaultInterval = 2900 * time.Millisecond

// Queue buffers bot entries that arrived but are not shown yet.
//
// Queue is not safe for concurrent use; its owner serializes access.
type Queue struct {
	pending []message.Entry
}

func NewQueue() *Queue {
	return &Queue{}
}

// Enqueue appends entries in order and reports whether the queue is non-empty.
func (q *Queue) Enqueue(entries ...message.Entry) bool {
	q.pending = append(q.pending, entries...)
	return len(q.pending) > 0
}

// Pop removes the front entry.
func (q *Queue) Pop() (message.Entry, bool) {
	if len(q.pending) == 0 {
		return message.Entry{}, false
	}

	item := q.pending[0]
	q.pending[0] = message.Entry{}
	q.pending = q.pending[1:]
	if len(q.pending) == 0 {
		q.pending = nil
	}

	return item, true
}

// Flush empties the queue and returns everything that was pending.
func (q *Queue) Flush() []message.Entry {
	out := q.pending
	q.pending = nil
	return out
}

func (q *Queue) Len() int {
	return len(q.pending)
}

// Pending returns a copy of the queued entries.
func (q *Queue) Pending() []message.Entry {
	if len(q.pending) == 0 {
		return nil
	}

	out := make([]message.Entry, len(q.pending))
	copy(out, q.pending)
	return out
}
