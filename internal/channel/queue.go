package channel

import (
	"context"
	"sync"
)

// fifo is an unbounded queue of functions run by a single goroutine in
// push order. push never blocks.
type fifo struct {
	mu    sync.Mutex
	items []func()
	wake  chan struct{}
}

func newFIFO() *fifo {
	return &fifo{wake: make(chan struct{}, 1)}
}

func (q *fifo) push(fn func()) {
	q.mu.Lock()
	q.items = append(q.items, fn)
	q.mu.Unlock()

	select {
	case q.wake <- struct{}{}:
	default:
	}
}

func (q *fifo) pop() (func(), bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		return nil, false
	}
	fn := q.items[0]
	q.items[0] = nil
	q.items = q.items[1:]
	return fn, true
}

// run executes queued functions until ctx is cancelled. after, if set, runs
// once after every function.
func (q *fifo) run(ctx context.Context, after func()) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-q.wake:
		}
		for {
			if ctx.Err() != nil {
				return
			}
			fn, ok := q.pop()
			if !ok {
				break
			}
			fn()
			if after != nil {
				after()
			}
		}
	}
}
