package lifecycle_test

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/JaimeStill/ktru/pkg/lifecycle"
)

func TestReadiness(t *testing.T) {
	lc := lifecycle.New()
	if lc.Ready() {
		t.Fatal("ready before startup")
	}

	var started atomic.Int32
	for range 3 {
		lc.OnStartup(func() { started.Add(1) })
	}
	lc.WaitForStartup()

	if !lc.Ready() {
		t.Error("not ready after startup")
	}
	if got := started.Load(); got != 3 {
		t.Errorf("startup hooks = %d, want 3", got)
	}
}

func TestGoWaitsForStartupAndStopsOnShutdown(t *testing.T) {
	lc := lifecycle.New()

	var ticks atomic.Int32
	var returned atomic.Bool

	lc.Go(func(ctx context.Context) {
		defer returned.Store(true)
		ticker := time.NewTicker(time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				ticks.Add(1)
			}
		}
	})

	time.Sleep(10 * time.Millisecond)
	if ticks.Load() != 0 {
		t.Fatal("loop ran before startup completed")
	}

	lc.WaitForStartup()
	time.Sleep(10 * time.Millisecond)

	if err := lc.Shutdown(5 * time.Second); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
	if ticks.Load() == 0 {
		t.Error("loop never ticked")
	}
	if !returned.Load() {
		t.Error("Shutdown returned before loop exited")
	}

	select {
	case <-lc.Context().Done():
	default:
		t.Error("context not cancelled after shutdown")
	}
}

func TestGoSkippedWhenShutdownBeforeStartup(t *testing.T) {
	lc := lifecycle.New()

	var ran atomic.Bool
	lc.Go(func(ctx context.Context) { ran.Store(true) })

	if err := lc.Shutdown(time.Second); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
	if ran.Load() {
		t.Error("loop ran although startup never completed")
	}
}

func TestCheck(t *testing.T) {
	lc := lifecycle.New()
	errDown := errors.New("connection refused")

	lc.AddCheck("store", func(context.Context) error { return nil })
	lc.AddCheck("archive", func(context.Context) error { return errDown })

	failures := lc.Check(context.Background())
	if len(failures) != 1 {
		t.Fatalf("failures = %v, want 1", failures)
	}
	if !errors.Is(failures["archive"], errDown) {
		t.Errorf("archive = %v", failures["archive"])
	}
}

func TestShutdownTimeout(t *testing.T) {
	lc := lifecycle.New()
	lc.OnShutdown(func() {
		<-lc.Context().Done()
		time.Sleep(500 * time.Millisecond)
	})
	lc.WaitForStartup()

	if err := lc.Shutdown(50 * time.Millisecond); err == nil {
		t.Error("expected timeout error")
	}
}
