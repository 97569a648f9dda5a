package eventbus

import (
	"context"
	"sync"
)

// spillQueue is a capped FIFO that absorbs bursts on critical topics when a
// subscriber's channel cannot keep up. A drain goroutine feeds queued
// envelopes back into the channel in publish order.
type spillQueue struct {
	mu    sync.Mutex
	items []Envelope
	limit int

	wake chan struct{} // signalled on enqueue
	done chan struct{} // closed when drain returns
}

func newSpillQueue(limit int) *spillQueue {
	if limit <= 0 {
		limit = defaultMaxOverflow
	}
	return &spillQueue{
		limit: limit,
		wake:  make(chan struct{}, 1),
		done:  make(chan struct{}),
	}
}

// enqueue adds an envelope to the tail. Returns false when the queue is at
// capacity.
func (q *spillQueue) enqueue(env Envelope) bool {
	q.mu.Lock()
	if len(q.items) >= q.limit {
		q.mu.Unlock()
		return false
	}
	q.items = append(q.items, env)
	q.mu.Unlock()

	select {
	case q.wake <- struct{}{}:
	default:
	}
	return true
}

// dequeue removes the head envelope. Returns false when empty.
func (q *spillQueue) dequeue() (Envelope, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.items) == 0 {
		return Envelope{}, false
	}
	env := q.items[0]
	q.items[0] = Envelope{} // release payload reference
	q.items = q.items[1:]
	if len(q.items) == 0 {
		q.items = nil // let the backing array go once drained
	}
	return env, true
}

// drain moves queued envelopes into ch until ctx is cancelled, sleeping on
// the wake channel whenever the queue runs dry.
func (q *spillQueue) drain(ctx context.Context, ch chan<- Envelope) {
	defer close(q.done)
	for {
		for {
			env, ok := q.dequeue()
			if !ok {
				break
			}
			select {
			case ch <- env:
			case <-ctx.Done():
				return
			}
		}

		select {
		case <-ctx.Done():
			return
		case <-q.wake:
		}
	}
}
