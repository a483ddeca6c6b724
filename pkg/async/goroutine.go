package async

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/civichub/planengine/pkg/observability"
)

// ErrPoolClosed is returned by Submit after Shutdown
var ErrPoolClosed = errors.New("worker pool shut down")

// SafeGo executes a function in a goroutine with:
// - Context cancellation support
// - Panic recovery
// - Timeout enforcement when timeout > 0
// - Error logging
//
// Example:
//
//	SafeGo(ctx, logger, 0, "catalog watcher", func(ctx context.Context) error {
//	    return backend.WatchCatalog(ctx, engine.Invalidate)
//	})
func SafeGo(parentCtx context.Context, logger *observability.Logger, timeout time.Duration, taskName string, fn func(context.Context) error) {
	go func() {
		ctx, cancel := withOptionalTimeout(parentCtx, timeout)
		defer cancel()

		defer observability.RecoverPanic(logger, taskName)

		if err := fn(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logger.WithError(err).WithField("task", taskName).Error("background task failed")
		}
	}()
}

// SafeGoNoError is like SafeGo but for functions that don't return errors
func SafeGoNoError(parentCtx context.Context, logger *observability.Logger, timeout time.Duration, taskName string, fn func(context.Context)) {
	SafeGo(parentCtx, logger, timeout, taskName, func(ctx context.Context) error {
		fn(ctx)
		return nil
	})
}

func withOptionalTimeout(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	if timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, timeout)
}

// WorkerPool runs submitted tasks on a fixed number of workers.
// Task errors and panics are delivered on Errors; when nobody drains it they are logged and dropped.
type WorkerPool struct {
	taskName string
	timeout  time.Duration
	logger   *observability.Logger

	workCh chan func(context.Context) error
	doneCh chan struct{}
	errCh  chan error
	ctx    context.Context
	cancel context.CancelFunc

	mu     sync.RWMutex
	closed bool
}

// NewWorkerPool creates a new worker pool with a queue of the given depth.
//
// Example:
//
//	pool := NewWorkerPool(ctx, 2, 256, "audit", 5*time.Second, logger)
//	defer pool.Shutdown(5 * time.Second)
//
//	pool.Submit(ctx, func(ctx context.Context) error {
//	    return sink.Log(ctx, event)
//	})
func NewWorkerPool(ctx context.Context, workers, queue int, taskName string, timeout time.Duration, logger *observability.Logger) *WorkerPool {
	return newWorkerPool(ctx, workers, queue, workers*10, taskName, timeout, logger)
}

func newWorkerPool(ctx context.Context, workers, queue, errBuffer int, taskName string, timeout time.Duration, logger *observability.Logger) *WorkerPool {
	if workers < 1 {
		workers = 1
	}
	if queue < workers {
		queue = workers * 2
	}
	ctx, cancel := context.WithCancel(ctx)

	pool := &WorkerPool{
		taskName: taskName,
		timeout:  timeout,
		logger:   logger,
		workCh:   make(chan func(context.Context) error, queue),
		doneCh:   make(chan struct{}),
		errCh:    make(chan error, errBuffer),
		ctx:      ctx,
		cancel:   cancel,
	}

	go func() {
		var wg sync.WaitGroup
		for i := 0; i < workers; i++ {
			wg.Add(1)
			go func(id int) {
				defer wg.Done()
				pool.worker(id)
			}(i)
		}
		wg.Wait()
		close(pool.doneCh)
	}()

	return pool
}

// Submit queues fn, blocking while the queue is full until ctx is done.
// Returns ErrPoolClosed once Shutdown has been called.
func (p *WorkerPool) Submit(ctx context.Context, fn func(context.Context) error) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return ErrPoolClosed
	}

	select {
	case p.workCh <- fn:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-p.ctx.Done():
		return ErrPoolClosed
	}
}

// Shutdown stops accepting work and waits up to timeout for queued tasks to finish
func (p *WorkerPool) Shutdown(timeout time.Duration) error {
	p.mu.Lock()
	if !p.closed {
		p.closed = true
		close(p.workCh)
	}
	p.mu.Unlock()

	select {
	case <-p.doneCh:
		p.cancel()
		return nil
	case <-time.After(timeout):
		p.cancel()
		return fmt.Errorf("%s worker pool shutdown timed out after %v", p.taskName, timeout)
	}
}

// Done is closed once every worker has exited
func (p *WorkerPool) Done() <-chan struct{} {
	return p.doneCh
}

// Errors returns a channel that receives task errors
func (p *WorkerPool) Errors() <-chan error {
	return p.errCh
}

func (p *WorkerPool) worker(id int) {
	for {
		select {
		case <-p.ctx.Done():
			return
		case fn, ok := <-p.workCh:
			if !ok {
				return
			}
			p.run(id, fn)
		}
	}
}

func (p *WorkerPool) run(id int, fn func(context.Context) error) {
	ctx, cancel := withOptionalTimeout(p.ctx, p.timeout)
	defer cancel()

	var err error
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic in %s worker %d: %w", p.taskName, id, observability.PanicError(r))
		}
		if err != nil {
			p.report(err)
		}
	}()

	err = fn(ctx)
}

func (p *WorkerPool) report(err error) {
	select {
	case p.errCh <- err:
	default:
		p.logger.WithError(err).WithField("task", p.taskName).Warn("worker pool error channel full, dropping error")
	}
}

// Batch processes items concurrently and returns every error encountered
func Batch[T any](ctx context.Context, items []T, workers int, taskName string, timeout time.Duration, logger *observability.Logger,
	fn func(context.Context, T) error) []error {

	pool := newWorkerPool(ctx, workers, len(items), len(items), taskName, timeout, logger)

	for _, item := range items {
		item := item
		if err := pool.Submit(ctx, func(ctx context.Context) error {
			return fn(ctx, item)
		}); err != nil {
			pool.Shutdown(time.Second)
			return []error{err}
		}
	}

	pool.mu.Lock()
	pool.closed = true
	close(pool.workCh)
	pool.mu.Unlock()
	<-pool.doneCh
	pool.cancel()

	var errs []error
	for {
		select {
		case err := <-pool.errCh:
			errs = append(errs, err)
		default:
			return errs
		}
	}
}
