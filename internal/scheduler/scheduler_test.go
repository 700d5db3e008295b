package scheduler

import (
	"context"
	"sync/atomic"
	"testing"
	"time"
)

func TestNewValidation(t *testing.T) {
	if _, err := New(0, func(context.Context) {}); err == nil {
		t.Error("expected error for zero interval")
	}
	if _, err := New(time.Second, nil); err == nil {
		t.Error("expected error for nil tick function")
	}
}

func TestStartTicksAndStops(t *testing.T) {
	var ticks atomic.Int64
	s, err := New(20*time.Millisecond, func(context.Context) { ticks.Add(1) })
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if !s.Start() {
		t.Fatal("Start() returned false on first call")
	}
	if s.Start() {
		t.Error("Start() returned true while already running")
	}

	deadline := time.Now().Add(2 * time.Second)
	for ticks.Load() < 3 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if ticks.Load() < 3 {
		t.Fatalf("expected at least 3 ticks, got %d", ticks.Load())
	}

	if !s.Stop() {
		t.Error("Stop() returned false while running")
	}
	if s.IsRunning() {
		t.Error("IsRunning() true after Stop")
	}
	if s.Stop() {
		t.Error("Stop() returned true when already stopped")
	}
}

func TestTickPanicRecovered(t *testing.T) {
	var ticks atomic.Int64
	s, err := New(10*time.Millisecond, func(context.Context) {
		ticks.Add(1)
		panic("sweep exploded")
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	s.Start()
	deadline := time.Now().Add(2 * time.Second)
	for ticks.Load() < 2 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	s.Stop()

	if ticks.Load() < 2 {
		t.Fatalf("loop died after panic: %d ticks", ticks.Load())
	}
}
