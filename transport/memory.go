package transport

import (
	"context"
	"sync"

	"github.com/orepool/operator/shared"
)

// Queue is an unbounded in-memory channel of validated contributions.
// It binds the ingress collaborator, which publishes contributions it has
// verified, with the aggregator which consumes them.
// Publish never blocks.
type Queue struct {
	mu      sync.Mutex
	pending []shared.Contribution
	signal  chan struct{}
	closed  bool
}

func NewInMemory() *Queue {
	return &Queue{
		signal: make(chan struct{}, 1),
	}
}

// Publish enqueues a contribution. It returns false if the queue is closed.
func (q *Queue) Publish(c shared.Contribution) bool {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return false
	}
	q.pending = append(q.pending, c)
	q.mu.Unlock()

	select {
	case q.signal <- struct{}{}:
	default:
	}
	return true
}

// Next blocks until a contribution is available or the context is done.
func (q *Queue) Next(ctx context.Context) (shared.Contribution, error) {
	for {
		q.mu.Lock()
		if len(q.pending) > 0 {
			c := q.pending[0]
			q.pending[0] = shared.Contribution{}
			q.pending = q.pending[1:]
			if len(q.pending) == 0 {
				q.pending = nil
			}
			q.mu.Unlock()
			return c, nil
		}
		q.mu.Unlock()

		select {
		case <-q.signal:
		case <-ctx.Done():
			return shared.Contribution{}, ctx.Err()
		}
	}
}

// Len returns the number of contributions waiting to be consumed.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}

// Close stops accepting new contributions. Pending ones can still be consumed.
func (q *Queue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.closed = true
}
