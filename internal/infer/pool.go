// Package infer provides the process-wide bounded worker pool for heavy
// inference work (STT, LLM, TTS).
//
// Submissions carry a priority class; the pool serves emergency before call
// before chat before background, FIFO within a class. Cancellation is
// cooperative: a task whose context is already cancelled when a worker picks
// it up is skipped, and running tasks observe their context themselves.
//
// The pool reports a saturation signal when the queue crosses its high-water
// mark; the session supervisor consumes it to reject new sessions while
// existing ones continue.
package infer

import (
	"context"
	"errors"
	"log/slog"
	"sync"
)

// Priority orders submissions. Lower values are served first.
type Priority int

const (
	PriorityEmergency Priority = iota
	PriorityCall
	PriorityChat
	PriorityBackground

	numPriorities
)

// String implements fmt.Stringer for log fields.
func (p Priority) String() string {
	switch p {
	case PriorityEmergency:
		return "emergency"
	case PriorityCall:
		return "call"
	case PriorityChat:
		return "chat"
	case PriorityBackground:
		return "background"
	}
	return "unknown"
}

var (
	// ErrQueueFull indicates the pool's hard queue cap is reached.
	ErrQueueFull = errors.New("infer: queue full")

	// ErrClosed indicates the pool no longer accepts work.
	ErrClosed = errors.New("infer: pool closed")
)

// Task is one unit of inference work. The context passed in is the
// submitter's context; the task must return promptly once it is cancelled.
type Task func(ctx context.Context)

type item struct {
	ctx  context.Context
	task Task
}

// Pool is a fixed-size worker pool with a bounded priority queue.
// All methods are safe for concurrent use.
type Pool struct {
	log       *slog.Logger
	capacity  int
	highWater int

	mu        sync.Mutex
	cond      *sync.Cond
	queues    [numPriorities][]item
	queued    int
	aboveHW   bool
	saturated uint64 // times the high-water mark was crossed
	closed    bool

	wg sync.WaitGroup
}

// NewPool creates a Pool with the given worker count, hard queue capacity and
// high-water mark, and starts its workers.
func NewPool(workers, capacity, highWater int, log *slog.Logger) *Pool {
	if workers <= 0 {
		workers = 1
	}
	if capacity <= 0 {
		capacity = 64
	}
	if highWater <= 0 || highWater > capacity {
		highWater = capacity * 3 / 4
	}

	p := &Pool{
		log:       log,
		capacity:  capacity,
		highWater: highWater,
	}
	p.cond = sync.NewCond(&p.mu)

	p.wg.Add(workers)
	for i := 0; i < workers; i++ {
		go p.worker()
	}
	return p
}

// Submit enqueues task at the given priority. It does not block; the task
// runs on a pool worker with ctx. Returns ErrQueueFull or ErrClosed.
func (p *Pool) Submit(ctx context.Context, pri Priority, task Task) error {
	if pri < 0 || pri >= numPriorities {
		pri = PriorityBackground
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return ErrClosed
	}
	if p.queued >= p.capacity {
		return ErrQueueFull
	}

	p.queues[pri] = append(p.queues[pri], item{ctx: ctx, task: task})
	p.queued++
	if p.queued > p.highWater && !p.aboveHW {
		p.aboveHW = true
		p.saturated++
		p.log.Warn("inference queue above high-water mark",
			"queued", p.queued,
			"high_water", p.highWater,
		)
	}
	p.cond.Signal()
	return nil
}

// Run submits task and blocks until it finishes or ctx is cancelled. When ctx
// is cancelled before the task starts, the pool skips it; when cancelled
// mid-run, the result is discarded by the caller returning early.
func (p *Pool) Run(ctx context.Context, pri Priority, task Task) error {
	done := make(chan struct{})
	err := p.Submit(ctx, pri, func(taskCtx context.Context) {
		defer close(done)
		task(taskCtx)
	})
	if err != nil {
		return err
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Saturated reports whether the queue currently exceeds the high-water mark.
func (p *Pool) Saturated() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.aboveHW
}

// QueueDepth returns the number of queued (not yet running) tasks.
func (p *Pool) QueueDepth() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.queued
}

// SaturationEvents returns how many times the queue crossed the high-water
// mark since start.
func (p *Pool) SaturationEvents() uint64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.saturated
}

// Close stops accepting work, lets queued tasks drain and waits for workers
// to exit.
func (p *Pool) Close() {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()
	p.cond.Broadcast()
	p.wg.Wait()
}

func (p *Pool) worker() {
	defer p.wg.Done()
	for {
		p.mu.Lock()
		for p.queued == 0 && !p.closed {
			p.cond.Wait()
		}
		if p.queued == 0 && p.closed {
			p.mu.Unlock()
			return
		}

		var it item
		for pri := range p.queues {
			if len(p.queues[pri]) > 0 {
				it = p.queues[pri][0]
				p.queues[pri] = p.queues[pri][1:]
				break
			}
		}
		p.queued--
		if p.queued <= p.highWater/2 && p.aboveHW {
			p.aboveHW = false
		}
		p.mu.Unlock()

		// Skip tasks whose submitter has already given up.
		if it.ctx.Err() != nil {
			continue
		}
		it.task(it.ctx)
	}
}
