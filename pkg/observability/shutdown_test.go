package observability

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"
)

func TestShutdownManager_RunsFuncsInOrder(t *testing.T) {
	sm := NewShutdownManager(NewNopLogger(), time.Second, &http.Server{Addr: "127.0.0.1:0"})

	var order []string
	sm.RegisterShutdownFunc("first", func(context.Context) error {
		order = append(order, "first")
		return nil
	})
	sm.RegisterShutdownFunc("second", func(context.Context) error {
		order = append(order, "second")
		return errors.New("close failed")
	})
	sm.RegisterShutdownFunc("third", func(context.Context) error {
		order = append(order, "third")
		return nil
	})

	err := sm.Shutdown(context.Background())
	if err == nil {
		t.Fatal("Expected joined error")
	}
	if len(order) != 3 || order[0] != "first" || order[2] != "third" {
		t.Errorf("Unexpected shutdown order %v", order)
	}
}

func TestShutdownManager_WaitForShutdownOnCancel(t *testing.T) {
	sm := NewShutdownManager(NewNopLogger(), 0)
	called := false
	sm.RegisterShutdownFunc("db", func(context.Context) error {
		called = true
		return nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := sm.WaitForShutdown(ctx); err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if !called {
		t.Error("Expected shutdown func to run")
	}
}
