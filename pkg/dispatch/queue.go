package dispatch

import (
	"context"
	"errors"
	"sync"

	"go.uber.org/zap"
)

var ErrQueueClosed = errors.New("dispatch queue closed")

// Task is a unit of work executed on the delivery goroutine.
type Task func()

// Queue serializes tasks onto a single delivery goroutine. Producers never
// block: the backlog is unbounded and drained in FIFO order.
type Queue struct {
	mu      sync.Mutex
	pending []Task
	closed  bool

	wakeChan chan struct{}
	stopChan chan struct{}
	doneChan chan struct{}
	stopOnce sync.Once

	logger *zap.SugaredLogger
}

// New creates a queue and starts its delivery goroutine.
func New(logger *zap.SugaredLogger) *Queue {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}

	q := &Queue{
		wakeChan: make(chan struct{}, 1),
		stopChan: make(chan struct{}),
		doneChan: make(chan struct{}),
		logger:   logger,
	}

	go q.run()

	return q
}

// Enqueue schedules a task. It returns false once the queue is closed.
func (q *Queue) Enqueue(task Task) bool {
	if task == nil {
		return false
	}

	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return false
	}
	q.pending = append(q.pending, task)
	q.mu.Unlock()

	select {
	case q.wakeChan <- struct{}{}:
	default:
	}

	return true
}

// Sync waits until every task enqueued before the call has run.
func (q *Queue) Sync(ctx context.Context) error {
	done := make(chan struct{})
	if !q.Enqueue(func() { close(done) }) {
		return ErrQueueClosed
	}

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Pending returns the number of tasks waiting for delivery.
func (q *Queue) Pending() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}

// Closed reports whether Close has been called.
func (q *Queue) Closed() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.closed
}

// Close stops intake, runs the remaining backlog and waits for the delivery
// goroutine to exit.
func (q *Queue) Close() {
	q.stopOnce.Do(func() {
		q.mu.Lock()
		q.closed = true
		q.mu.Unlock()
		close(q.stopChan)
	})
	<-q.doneChan
}

func (q *Queue) run() {
	defer close(q.doneChan)

	for {
		select {
		case <-q.wakeChan:
			q.drain()
		case <-q.stopChan:
			// Final drain on stop
			q.drain()
			return
		}
	}
}

func (q *Queue) drain() {
	for {
		q.mu.Lock()
		if len(q.pending) == 0 {
			q.mu.Unlock()
			return
		}
		tasks := q.pending
		q.pending = nil
		q.mu.Unlock()

		for _, task := range tasks {
			q.execute(task)
		}
	}
}

func (q *Queue) execute(task Task) {
	defer func() {
		if r := recover(); r != nil {
			q.logger.Errorw("dispatch task panicked", "panic", r)
		}
	}()
	task()
}
