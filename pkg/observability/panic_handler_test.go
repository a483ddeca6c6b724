package observability

import (
	"bytes"
	"errors"
	"strings"
	"testing"
)

func TestRecoverPanic(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(ErrorLevel, &buf)

	func() {
		defer RecoverPanic(logger, "catalog watcher")
		panic("bad yaml")
	}()

	if !strings.Contains(buf.String(), "catalog watcher") || !strings.Contains(buf.String(), "bad yaml") {
		t.Errorf("Expected panic to be logged, got %s", buf.String())
	}
}

func TestRecoverPanicWithCallback(t *testing.T) {
	called := false
	func() {
		defer RecoverPanicWithCallback(NewNopLogger(), "worker", func() { called = true })
		panic("boom")
	}()
	if !called {
		t.Error("Expected callback after panic")
	}
}

func TestPanicError(t *testing.T) {
	if PanicError(nil) != nil {
		t.Error("Expected nil for nil recover value")
	}
	sentinel := errors.New("sentinel")
	if err := PanicError(sentinel); !errors.Is(err, sentinel) {
		t.Errorf("Expected wrapped sentinel, got %v", err)
	}
	if err := PanicError(42); err == nil || err.Error() != "panic: 42" {
		t.Errorf("Unexpected error %v", err)
	}
}
