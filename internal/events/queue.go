// Package events holds the completion queue shared by the engine plugins.
//
// Engine goroutines push completions as the broker answers; Poll and Flush
// drain them on the caller's goroutine. This is what keeps delivery reports
// off the engines' own goroutines.
package events

import (
	"sync"
	"time"

	"github.com/miladsoleymani/deliverymux/core"
)

// DefaultLimit bounds the number of messages an engine holds in flight.
const DefaultLimit = 100000

// Queue counts accepted messages and buffers their completions until they
// are dispatched. It is safe for concurrent use.
type Queue struct {
	mu      sync.Mutex
	events  []core.Completion
	pending int // reserved and not yet dispatched
	limit   int
	closed  bool
	signal  chan struct{}
}

// NewQueue returns a queue admitting at most limit messages in flight. A
// non-positive limit uses DefaultLimit.
func NewQueue(limit int) *Queue {
	if limit <= 0 {
		limit = DefaultLimit
	}
	return &Queue{
		limit:  limit,
		signal: make(chan struct{}, 1),
	}
}

// Reserve accounts for one more message in flight. It returns
// core.ErrQueueFull when the limit is reached and core.ErrDestroy once the
// queue is closed.
func (q *Queue) Reserve() core.RespErr {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return core.ErrDestroy
	}
	if q.pending >= q.limit {
		return core.ErrQueueFull
	}
	q.pending++
	return core.ErrNoError
}

// Cancel undoes a Reserve for a message the engine ended up rejecting.
func (q *Queue) Cancel() {
	q.mu.Lock()
	q.pending--
	q.mu.Unlock()
}

// Push queues the completion of a reserved message.
func (q *Queue) Push(c core.Completion) {
	q.mu.Lock()
	q.events = append(q.events, c)
	q.mu.Unlock()

	select {
	case q.signal <- struct{}{}:
	default:
	}
}

// Close rejects further reservations. Queued completions can still be polled.
func (q *Queue) Close() {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()
}

// Poll waits up to timeout for completions and passes every queued one to
// dispatch, in the order they were pushed. A negative timeout waits
// indefinitely. It returns the number of completions dispatched.
func (q *Queue) Poll(timeout time.Duration, dispatch func(*core.Completion)) int {
	var expired <-chan time.Time
	if timeout > 0 {
		t := time.NewTimer(timeout)
		defer t.Stop()
		expired = t.C
	}

	for {
		q.mu.Lock()
		batch := q.events
		q.events = nil
		q.mu.Unlock()

		if len(batch) > 0 {
			return q.drain(batch, dispatch)
		}
		if timeout == 0 {
			return 0
		}

		select {
		case <-q.signal:
		case <-expired:
			return 0
		}
	}
}

// drain hands every completion of batch to fn. If fn panics, the
// completion it panicked on counts as dispatched and the rest of the batch
// goes back to the front of the queue before the panic continues.
func (q *Queue) drain(batch []core.Completion, fn func(*core.Completion)) (n int) {
	defer func() {
		if n == len(batch) {
			return
		}
		rest := batch[n+1:]
		q.mu.Lock()
		q.pending--
		q.events = append(append(make([]core.Completion, 0, len(rest)+len(q.events)), rest...), q.events...)
		queued := len(q.events)
		q.mu.Unlock()
		if queued > 0 {
			select {
			case q.signal <- struct{}{}:
			default:
			}
		}
	}()

	for n < len(batch) {
		fn(&batch[n])
		q.mu.Lock()
		q.pending--
		q.mu.Unlock()
		n++
	}
	return n
}

// Flush polls until no message is in flight or the timeout elapses. A
// negative timeout waits indefinitely.
func (q *Queue) Flush(timeout time.Duration, dispatch func(*core.Completion)) core.RespErr {
	var deadline time.Time
	if timeout >= 0 {
		deadline = time.Now().Add(timeout)
	}
	for {
		if q.Len() == 0 {
			return core.ErrNoError
		}
		wait := time.Duration(-1)
		if !deadline.IsZero() {
			wait = time.Until(deadline)
			if wait <= 0 {
				return core.ErrTimedOut
			}
		}
		q.Poll(wait, dispatch)
	}
}

// Len returns the number of messages reserved and not yet dispatched.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.pending
}
