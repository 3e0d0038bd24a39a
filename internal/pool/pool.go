// Package pool bounds how many one-shot jobs run at the same time.
package pool

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"
)

// Pool hands out a fixed number of numbered job slots. Slots live in a
// buffered channel; acquiring takes one out and releasing puts it back.
type Pool struct {
	slots    chan int
	capacity int
	logger   *slog.Logger

	waiting   atomic.Int64
	completed atomic.Int64
	rejected  atomic.Int64
}

// Stats is a snapshot of slot usage.
type Stats struct {
	Capacity  int   `json:"capacity"`
	InUse     int   `json:"in_use"`
	Waiting   int64 `json:"waiting"`
	Completed int64 `json:"completed"`
	Rejected  int64 `json:"rejected"`
}

func New(capacity int, logger *slog.Logger) *Pool {
	if capacity <= 0 {
		capacity = 1
	}
	if logger == nil {
		logger = slog.Default()
	}
	p := &Pool{
		slots:    make(chan int, capacity),
		capacity: capacity,
		logger:   logger,
	}
	for i := 0; i < capacity; i++ {
		p.slots <- i
	}
	return p
}

// Acquire blocks until a slot is free or ctx is done. The returned release
// function must be called exactly once; further calls are no-ops.
func (p *Pool) Acquire(ctx context.Context) (func(), error) {
	select {
	case slot := <-p.slots:
		return p.releaser(slot), nil
	default:
	}

	p.waiting.Add(1)
	defer p.waiting.Add(-1)
	start := time.Now()
	p.logger.Debug("waiting for job slot", "capacity", p.capacity)

	select {
	case slot := <-p.slots:
		p.logger.Debug("acquired job slot", "slot", slot, "waited", time.Since(start).Round(time.Millisecond))
		return p.releaser(slot), nil
	case <-ctx.Done():
		p.rejected.Add(1)
		return nil, ctx.Err()
	}
}

func (p *Pool) releaser(slot int) func() {
	var once atomic.Bool
	return func() {
		if !once.CompareAndSwap(false, true) {
			return
		}
		p.completed.Add(1)
		p.slots <- slot
	}
}

func (p *Pool) Stats() Stats {
	return Stats{
		Capacity:  p.capacity,
		InUse:     p.capacity - len(p.slots),
		Waiting:   p.waiting.Load(),
		Completed: p.completed.Load(),
		Rejected:  p.rejected.Load(),
	}
}
