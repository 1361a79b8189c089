package httplog

import (
	"sync/atomic"

	"kftray-core/internal/core"
)

// Queue is the bounded in-memory buffer between the parser and the
// writer task. On overflow it drops the newest message and
// increments a counter; it never blocks the tunnel, grounded on the same
// non-blocking select{default:} pattern used by this codebase's event bus for its
// channel-backed subscribers.
type Queue struct {
	ch      chan core.LogMessage
	dropped atomic.Int64
}

func NewQueue(capacity int) *Queue {
	return &Queue{ch: make(chan core.LogMessage, capacity)}
}

// Enqueue never blocks: on a full queue the message is dropped and
// Dropped() is incremented.
func (q *Queue) Enqueue(msg core.LogMessage) {
	select {
	case q.ch <- msg:
	default:
		q.dropped.Add(1)
	}
}

func (q *Queue) Dropped() int64 { return q.dropped.Load() }

func (q *Queue) Chan() <-chan core.LogMessage { return q.ch }
