package infer

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestPriorityOrderWithFIFOWithinClass(t *testing.T) {
	// Single worker, blocked until all submissions are queued, so the drain
	// order exposes the queue discipline.
	p := NewPool(1, 64, 32, slog.Default())
	defer p.Close()
	ctx := context.Background()

	release := make(chan struct{})
	started := make(chan struct{})
	if err := p.Submit(ctx, PriorityBackground, func(context.Context) {
		close(started)
		<-release
	}); err != nil {
		t.Fatal(err)
	}
	<-started

	var mu sync.Mutex
	var order []string
	record := func(name string) Task {
		return func(context.Context) {
			mu.Lock()
			order = append(order, name)
			mu.Unlock()
		}
	}

	for _, sub := range []struct {
		pri  Priority
		name string
	}{
		{PriorityChat, "chat-1"},
		{PriorityBackground, "bg-1"},
		{PriorityEmergency, "emergency-1"},
		{PriorityChat, "chat-2"},
		{PriorityCall, "call-1"},
		{PriorityEmergency, "emergency-2"},
	} {
		if err := p.Submit(ctx, sub.pri, record(sub.name)); err != nil {
			t.Fatal(err)
		}
	}
	close(release)
	p.Close()

	want := []string{"emergency-1", "emergency-2", "call-1", "chat-1", "chat-2", "bg-1"}
	mu.Lock()
	defer mu.Unlock()
	if len(order) != len(want) {
		t.Fatalf("ran %d tasks, want %d: %v", len(order), len(want), order)
	}
	for i := range want {
		if order[i] != want[i] {
			t.Errorf("order[%d] = %s, want %s (full: %v)", i, order[i], want[i], order)
		}
	}
}

func TestQueueFull(t *testing.T) {
	p := NewPool(1, 2, 2, slog.Default())
	defer p.Close()
	ctx := context.Background()

	release := make(chan struct{})
	started := make(chan struct{})
	if err := p.Submit(ctx, PriorityCall, func(context.Context) {
		close(started)
		<-release
	}); err != nil {
		t.Fatal(err)
	}
	<-started

	if err := p.Submit(ctx, PriorityCall, func(context.Context) {}); err != nil {
		t.Fatal(err)
	}
	if err := p.Submit(ctx, PriorityCall, func(context.Context) {}); err != nil {
		t.Fatal(err)
	}
	if err := p.Submit(ctx, PriorityCall, func(context.Context) {}); !errors.Is(err, ErrQueueFull) {
		t.Errorf("err = %v, want ErrQueueFull", err)
	}
	close(release)
}

func TestCancelledTaskIsSkipped(t *testing.T) {
	p := NewPool(1, 8, 8, slog.Default())
	defer p.Close()

	release := make(chan struct{})
	started := make(chan struct{})
	if err := p.Submit(context.Background(), PriorityCall, func(context.Context) {
		close(started)
		<-release
	}); err != nil {
		t.Fatal(err)
	}
	<-started

	var ran atomic.Bool
	cancelled, cancel := context.WithCancel(context.Background())
	if err := p.Submit(cancelled, PriorityCall, func(context.Context) {
		ran.Store(true)
	}); err != nil {
		t.Fatal(err)
	}
	cancel()
	close(release)
	p.Close()

	if ran.Load() {
		t.Error("task with cancelled context was executed")
	}
}

func TestRunBlocksUntilDone(t *testing.T) {
	p := NewPool(2, 8, 8, slog.Default())
	defer p.Close()

	var ran atomic.Bool
	if err := p.Run(context.Background(), PriorityChat, func(context.Context) {
		ran.Store(true)
	}); err != nil {
		t.Fatal(err)
	}
	if !ran.Load() {
		t.Error("Run returned before the task finished")
	}
}

func TestRunReturnsOnCallerCancel(t *testing.T) {
	p := NewPool(1, 8, 8, slog.Default())
	defer p.Close()

	release := make(chan struct{})
	defer close(release)
	started := make(chan struct{})
	if err := p.Submit(context.Background(), PriorityCall, func(context.Context) {
		close(started)
		<-release
	}); err != nil {
		t.Fatal(err)
	}
	<-started

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := p.Run(ctx, PriorityCall, func(context.Context) {}); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("err = %v, want DeadlineExceeded", err)
	}
}

func TestHighWaterSignal(t *testing.T) {
	p := NewPool(1, 10, 2, slog.Default())
	defer p.Close()
	ctx := context.Background()

	release := make(chan struct{})
	started := make(chan struct{})
	if err := p.Submit(ctx, PriorityCall, func(context.Context) {
		close(started)
		<-release
	}); err != nil {
		t.Fatal(err)
	}
	<-started

	if p.Saturated() {
		t.Error("pool saturated before the mark was crossed")
	}
	for i := 0; i < 3; i++ {
		if err := p.Submit(ctx, PriorityBackground, func(context.Context) {}); err != nil {
			t.Fatal(err)
		}
	}
	if !p.Saturated() {
		t.Error("pool not saturated after crossing the mark")
	}
	if got := p.SaturationEvents(); got != 1 {
		t.Errorf("saturation events = %d, want exactly 1", got)
	}
	close(release)
}

func TestCloseDrainsQueuedWork(t *testing.T) {
	p := NewPool(2, 64, 32, slog.Default())

	var done atomic.Int64
	for i := 0; i < 20; i++ {
		if err := p.Submit(context.Background(), PriorityChat, func(context.Context) {
			done.Add(1)
		}); err != nil {
			t.Fatal(err)
		}
	}
	p.Close()
	if got := done.Load(); got != 20 {
		t.Errorf("drained %d tasks, want 20", got)
	}
}
