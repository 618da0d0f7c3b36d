package utils

import (
	"context"
	"sync"

	"github.com/pkg/errors"
)

// ErrQueueClosed is returned when work is dispatched to a SerialQueue after Close.
var ErrQueueClosed = errors.New("serial queue is closed")

// DefaultSerialQueueSize is the number of tasks that may be pending before Dispatch blocks.
const DefaultSerialQueueSize = 64

// SerialQueue runs submitted tasks one at a time, in submission order, on a single dedicated
// goroutine. No two tasks ever run concurrently, so state touched only from tasks needs no locking.
//
// Tasks must not call DispatchSync on the queue that is running them; that deadlocks.
type SerialQueue struct {
	tasks     chan func()
	done      chan struct{}
	closeOnce sync.Once
	workers   StoppableWorkers

	mu      sync.Mutex
	closed  bool
	senders sync.WaitGroup
}

// NewSerialQueue starts the queue's worker. size bounds the number of pending tasks.
func NewSerialQueue(size int) *SerialQueue {
	if size <= 0 {
		size = DefaultSerialQueueSize
	}
	q := &SerialQueue{
		tasks: make(chan func(), size),
		done:  make(chan struct{}),
	}
	q.workers = NewStoppableWorkers(q.run)
	return q
}

func (q *SerialQueue) run(ctx context.Context) {
	for {
		select {
		case task := <-q.tasks:
			task()
		case <-ctx.Done():
			// Drain what was accepted before Close so nothing dispatched successfully is lost.
			for {
				select {
				case task := <-q.tasks:
					task()
				default:
					return
				}
			}
		}
	}
}

// Dispatch enqueues fn. It blocks while the queue is full, until ctx is done or the queue closes.
func (q *SerialQueue) Dispatch(ctx context.Context, fn func()) error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return ErrQueueClosed
	}
	q.senders.Add(1)
	q.mu.Unlock()
	defer q.senders.Done()

	select {
	case q.tasks <- fn:
		return nil
	case <-q.done:
		return ErrQueueClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// DispatchSync enqueues fn and waits for it to finish running.
func (q *SerialQueue) DispatchSync(ctx context.Context, fn func()) error {
	finished := make(chan struct{})
	if err := q.Dispatch(ctx, func() {
		defer close(finished)
		fn()
	}); err != nil {
		return err
	}
	select {
	case <-finished:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close stops accepting work, runs any tasks already accepted and waits for the worker to exit.
// It is safe to call more than once.
func (q *SerialQueue) Close() {
	q.closeOnce.Do(func() {
		q.mu.Lock()
		q.closed = true
		q.mu.Unlock()
		close(q.done)
		// the worker drains after every in-flight Dispatch has either sent or given up
		q.senders.Wait()
		q.workers.Stop()
	})
}
