package assistant

import (
	"context"
	"sync"
)

// outboundQueue is an unbounded FIFO of Transport Chunks waiting for the
// session. Capture never blocks on it.
type outboundQueue struct {
	mu     sync.Mutex
	items  []string
	wake   chan struct{}
	closed bool
}

func newOutboundQueue() *outboundQueue {
	return &outboundQueue{wake: make(chan struct{}, 1)}
}

// push appends chunk. It reports false once the queue is closed.
func (q *outboundQueue) push(chunk string) bool {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return false
	}
	q.items = append(q.items, chunk)
	q.mu.Unlock()

	select {
	case q.wake <- struct{}{}:
	default:
	}
	return true
}

// next blocks until a chunk is available, the queue is closed or ctx is done.
func (q *outboundQueue) next(ctx context.Context) (string, bool) {
	for {
		q.mu.Lock()
		if q.closed {
			q.mu.Unlock()
			return "", false
		}
		if len(q.items) > 0 {
			chunk := q.items[0]
			q.items[0] = ""
			q.items = q.items[1:]
			q.mu.Unlock()
			return chunk, true
		}
		q.mu.Unlock()

		select {
		case <-q.wake:
		case <-ctx.Done():
			return "", false
		}
	}
}

// close discards pending chunks and rejects new ones.
func (q *outboundQueue) close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.closed = true
	q.items = nil
	select {
	case q.wake <- struct{}{}:
	default:
	}
}

func (q *outboundQueue) pending() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}
