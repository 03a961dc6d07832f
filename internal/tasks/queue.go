// Package tasks runs launch-and-detach work off the caller's path. Jobs execute one
// at a time in submission order; their failures are logged and never reach the submitter.
package tasks

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"
)

// ErrQueueClosed reports a submission after Close.
var ErrQueueClosed = errors.New("tasks: queue closed")

// Func is one unit of detached work.
type Func func(ctx context.Context) error

type job struct {
	name string
	run  Func
}

// QueueConfig configures a Queue.
type QueueConfig struct {
	Logger *zap.Logger
}

// Queue is an unbounded FIFO drained by a single worker goroutine.
type Queue struct {
	logger *zap.Logger

	mu          sync.Mutex
	cond        *sync.Cond
	pending     []job
	outstanding int
	closed      bool

	ctx     context.Context
	cancel  context.CancelFunc
	stopped chan struct{}
}

// NewQueue starts the worker.
func NewQueue(cfg QueueConfig) *Queue {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	ctx, cancel := context.WithCancel(context.Background())
	queue := &Queue{
		logger:  logger,
		ctx:     ctx,
		cancel:  cancel,
		stopped: make(chan struct{}),
	}
	queue.cond = sync.NewCond(&queue.mu)
	go queue.work()
	return queue
}

// Submit enqueues the job and returns immediately.
func (q *Queue) Submit(name string, run Func) {
	if run == nil {
		return
	}
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		q.logger.Warn("task dropped", zap.String("task", name), zap.Error(ErrQueueClosed))
		return
	}
	q.pending = append(q.pending, job{name: name, run: run})
	q.outstanding++
	q.mu.Unlock()
	q.cond.Broadcast()
}

// Drain blocks until every job submitted so far has finished or ctx ends.
func (q *Queue) Drain(ctx context.Context) error {
	idle := make(chan struct{})
	go func() {
		q.mu.Lock()
		for q.outstanding > 0 {
			q.cond.Wait()
		}
		q.mu.Unlock()
		close(idle)
	}()
	select {
	case <-idle:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close stops accepting jobs, waits for queued ones until ctx ends and then cancels
// whatever is still running.
func (q *Queue) Close(ctx context.Context) error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return nil
	}
	q.closed = true
	q.mu.Unlock()
	q.cond.Broadcast()

	err := q.Drain(ctx)
	q.cancel()
	q.mu.Lock()
	dropped := len(q.pending)
	q.mu.Unlock()
	if dropped > 0 {
		q.logger.Warn("tasks abandoned on close", zap.Int("count", dropped))
	}
	<-q.stopped
	return err
}

func (q *Queue) work() {
	defer close(q.stopped)
	for {
		q.mu.Lock()
		for len(q.pending) == 0 && !q.closed {
			q.cond.Wait()
		}
		if len(q.pending) == 0 || q.ctx.Err() != nil {
			q.mu.Unlock()
			if q.ctx.Err() != nil || q.closed {
				return
			}
			continue
		}
		next := q.pending[0]
		q.pending = q.pending[1:]
		q.mu.Unlock()

		q.execute(next)

		q.mu.Lock()
		q.outstanding--
		q.mu.Unlock()
		q.cond.Broadcast()
	}
}

func (q *Queue) execute(next job) {
	defer func() {
		if recovered := recover(); recovered != nil {
			q.logger.Error("task panicked", zap.String("task", next.name), zap.Error(fmt.Errorf("%v", recovered)))
		}
	}()
	if err := next.run(q.ctx); err != nil {
		q.logger.Warn("task failed", zap.String("task", next.name), zap.Error(err))
	}
}
