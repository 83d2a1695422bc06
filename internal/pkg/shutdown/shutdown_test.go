package shutdown

import (
	"bytes"
	"context"
	"errors"
	"reflect"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"pitchreel/internal/pkg/logger"
)

func newTestLogger() *logger.Logger {
	var buf bytes.Buffer
	return logger.New(logger.Config{
		Level:  "debug",
		Format: "json",
		Output: &buf,
	})
}

func TestNewManager(t *testing.T) {
	log := newTestLogger()

	t.Run("with default timeout", func(t *testing.T) {
		mgr := NewManager(log, 0)
		if mgr.timeout != 30*time.Second {
			t.Errorf("expected default timeout 30s, got %s", mgr.timeout)
		}
	})

	t.Run("with custom timeout", func(t *testing.T) {
		mgr := NewManager(log, 10*time.Second)
		if mgr.timeout != 10*time.Second {
			t.Errorf("expected timeout 10s, got %s", mgr.timeout)
		}
	})
}

func TestRegister(t *testing.T) {
	mgr := NewManager(newTestLogger(), time.Second)
	mgr.Register("redis", func(context.Context) error { return nil })
	mgr.RegisterSimple("postgres", func() {})

	if len(mgr.handlers) != 2 {
		t.Fatalf("expected 2 handlers, got %d", len(mgr.handlers))
	}
	if mgr.handlers[0].Name != "redis" {
		t.Errorf("expected handler name 'redis', got %s", mgr.handlers[0].Name)
	}
	if mgr.handlers[1].Name != "postgres" {
		t.Errorf("expected handler name 'postgres', got %s", mgr.handlers[1].Name)
	}
}

func TestShutdownRunsHandlersLIFO(t *testing.T) {
	mgr := NewManager(newTestLogger(), 5*time.Second)

	var (
		mu    sync.Mutex
		order []string
	)
	record := func(name string) func(context.Context) error {
		return func(context.Context) error {
			mu.Lock()
			defer mu.Unlock()
			order = append(order, name)
			return nil
		}
	}
	mgr.Register("notifiers", record("notifiers"))
	mgr.Register("scheduler", record("scheduler"))
	mgr.Register("http-server", record("http-server"))

	mgr.Shutdown()

	want := []string{"http-server", "scheduler", "notifiers"}
	if !reflect.DeepEqual(order, want) {
		t.Errorf("expected order %v, got %v", want, order)
	}
}

func TestShutdownContinuesAfterHandlerError(t *testing.T) {
	mgr := NewManager(newTestLogger(), time.Second)

	var ran bool
	mgr.RegisterSimple("first", func() { ran = true })
	mgr.Register("failing", func(context.Context) error { return errors.New("close failed") })

	mgr.Shutdown()
	if !ran {
		t.Error("expected earlier handler to run after a failure")
	}
}

func TestShutdownIsIdempotent(t *testing.T) {
	mgr := NewManager(newTestLogger(), time.Second)

	var calls int32
	mgr.RegisterSimple("once", func() { atomic.AddInt32(&calls, 1) })

	mgr.Shutdown()
	mgr.Shutdown()
	if got := atomic.LoadInt32(&calls); got != 1 {
		t.Errorf("expected 1 call, got %d", got)
	}
}

func TestShutdownTimeout(t *testing.T) {
	mgr := NewManager(newTestLogger(), 100*time.Millisecond)
	mgr.Register("slow", func(ctx context.Context) error {
		select {
		case <-time.After(5 * time.Second):
		case <-ctx.Done():
		}
		return nil
	})

	start := time.Now()
	mgr.Shutdown()
	if elapsed := time.Since(start); elapsed > 500*time.Millisecond {
		t.Errorf("shutdown took %s, expected it to respect the 100ms timeout", elapsed)
	}
}

func TestWaitReturnsOnContext(t *testing.T) {
	mgr := NewManager(newTestLogger(), time.Second)

	var ran atomic.Bool
	mgr.RegisterSimple("scheduler", func() { ran.Store(true) })

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	mgr.Wait(ctx)

	if !ran.Load() {
		t.Error("expected handlers to run once the context is done")
	}
}
