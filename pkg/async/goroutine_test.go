package async

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/civichub/planengine/pkg/observability"
)

func TestSafeGo_Success(t *testing.T) {
	done := make(chan struct{})

	SafeGo(context.Background(), observability.NewNopLogger(), time.Second, "test task", func(ctx context.Context) error {
		close(done)
		return nil
	})

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("SafeGo did not execute function")
	}
}

func TestSafeGo_Timeout(t *testing.T) {
	result := make(chan error, 1)

	SafeGo(context.Background(), observability.NewNopLogger(), 50*time.Millisecond, "test task", func(ctx context.Context) error {
		select {
		case <-time.After(time.Second):
			result <- nil
		case <-ctx.Done():
			result <- ctx.Err()
		}
		return nil
	})

	select {
	case err := <-result:
		if !errors.Is(err, context.DeadlineExceeded) {
			t.Errorf("Expected deadline exceeded, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("task never finished")
	}
}

func TestSafeGo_NoTimeoutFollowsParent(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	result := make(chan error, 1)

	SafeGo(ctx, observability.NewNopLogger(), 0, "watcher", func(ctx context.Context) error {
		<-ctx.Done()
		result <- ctx.Err()
		return ctx.Err()
	})

	cancel()
	select {
	case err := <-result:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("Expected context.Canceled, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("task did not observe cancellation")
	}
}

func TestSafeGo_PanicRecovery(t *testing.T) {
	reached := make(chan struct{})

	SafeGo(context.Background(), observability.NewNopLogger(), time.Second, "test task", func(ctx context.Context) error {
		close(reached)
		panic("test panic")
	})

	<-reached
	// The process is still alive; give the deferred recover a moment to run
	time.Sleep(20 * time.Millisecond)
}

func TestSafeGoNoError(t *testing.T) {
	done := make(chan struct{})

	SafeGoNoError(context.Background(), observability.NewNopLogger(), time.Second, "test task", func(ctx context.Context) {
		close(done)
	})

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("SafeGoNoError did not execute function")
	}
}

func TestWorkerPool_Shutdown(t *testing.T) {
	pool := NewWorkerPool(context.Background(), 2, 8, "test pool", time.Second, observability.NewNopLogger())
	var executed atomic.Int32

	for i := 0; i < 5; i++ {
		err := pool.Submit(context.Background(), func(ctx context.Context) error {
			time.Sleep(10 * time.Millisecond)
			executed.Add(1)
			return nil
		})
		if err != nil {
			t.Errorf("Failed to submit task: %v", err)
		}
	}

	if err := pool.Shutdown(time.Second); err != nil {
		t.Errorf("Shutdown failed: %v", err)
	}
	if executed.Load() != 5 {
		t.Errorf("Expected 5 executions, got %d", executed.Load())
	}

	err := pool.Submit(context.Background(), func(ctx context.Context) error { return nil })
	if !errors.Is(err, ErrPoolClosed) {
		t.Errorf("Expected ErrPoolClosed after shutdown, got %v", err)
	}

	// Shutdown is idempotent
	if err := pool.Shutdown(time.Second); err != nil {
		t.Errorf("Second shutdown failed: %v", err)
	}
}

func TestWorkerPool_ErrorsAndPanics(t *testing.T) {
	pool := NewWorkerPool(context.Background(), 1, 4, "test pool", time.Second, observability.NewNopLogger())

	pool.Submit(context.Background(), func(ctx context.Context) error { return errors.New("boom") })
	pool.Submit(context.Background(), func(ctx context.Context) error { panic("kaboom") })

	if err := pool.Shutdown(time.Second); err != nil {
		t.Fatalf("Shutdown failed: %v", err)
	}

	var got []string
	for len(got) < 2 {
		select {
		case err := <-pool.Errors():
			got = append(got, err.Error())
		case <-time.After(time.Second):
			t.Fatalf("Expected 2 errors, got %v", got)
		}
	}
	if got[0] != "boom" {
		t.Errorf("Expected task error first, got %q", got[0])
	}
	if !strings.Contains(got[1], "kaboom") {
		t.Errorf("Expected panic to be reported, got %q", got[1])
	}
}

func TestWorkerPool_TaskTimeout(t *testing.T) {
	pool := NewWorkerPool(context.Background(), 1, 1, "test pool", 50*time.Millisecond, observability.NewNopLogger())
	defer pool.Shutdown(time.Second)

	result := make(chan error, 1)
	err := pool.Submit(context.Background(), func(ctx context.Context) error {
		select {
		case <-time.After(time.Second):
			result <- nil
		case <-ctx.Done():
			result <- ctx.Err()
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Failed to submit task: %v", err)
	}

	if err := <-result; !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Task should have timed out, got %v", err)
	}
}

func TestWorkerPool_SubmitRespectsContext(t *testing.T) {
	pool := NewWorkerPool(context.Background(), 1, 1, "test pool", time.Second, observability.NewNopLogger())
	release := make(chan struct{})
	defer func() {
		close(release)
		pool.Shutdown(time.Second)
	}()

	block := func(ctx context.Context) error {
		<-release
		return nil
	}
	// One running, one queued
	pool.Submit(context.Background(), block)
	pool.Submit(context.Background(), block)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	if err := pool.Submit(ctx, block); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Expected submit to give up with the context, got %v", err)
	}
}

func TestBatch(t *testing.T) {
	var sum atomic.Int64
	errs := Batch(context.Background(), []int{1, 2, 3, 4, 5}, 3, "sum", time.Second, observability.NewNopLogger(),
		func(ctx context.Context, n int) error {
			sum.Add(int64(n))
			return nil
		})

	if len(errs) != 0 {
		t.Errorf("Expected no errors, got %v", errs)
	}
	if sum.Load() != 15 {
		t.Errorf("Expected sum 15, got %d", sum.Load())
	}
}

func TestBatch_WithErrors(t *testing.T) {
	errs := Batch(context.Background(), []int{1, 2, 3, 4}, 2, "odd", time.Second, observability.NewNopLogger(),
		func(ctx context.Context, n int) error {
			if n%2 == 1 {
				return errors.New("odd")
			}
			return nil
		})

	if len(errs) != 2 {
		t.Errorf("Expected 2 errors, got %d", len(errs))
	}
}
