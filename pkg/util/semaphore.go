package util

import (
	"context"
	"sync/atomic"
)

// Semaphore bounds the number of requests in flight.
type Semaphore interface {
	// Acquire will attempt to acquire a slot.  Returns true if successful, and false if the
	// context is cancelled first.
	Acquire(ctx context.Context) bool
	// TryAcquire acquires a slot only if one is free right now.
	TryAcquire() bool
	Release()
	// InFlight returns the number of slots currently held.
	InFlight() int
}

// NewSemaphore returns a new Semaphore with a capacity of the provided count.  If count is zero, the capacity
// is unlimited.
func NewSemaphore(count int) Semaphore {
	if count == 0 {
		return &nullSemaphore{}
	}
	return &chanSemaphore{
		sem: make(chan struct{}, count),
	}
}

// chanSemaphore holds a slot by putting a token into sem.
type chanSemaphore struct {
	sem chan struct{}
}

func (c *chanSemaphore) Acquire(ctx context.Context) bool {
	if ctx.Err() != nil {
		return false
	}
	select {
	case <-ctx.Done():
		return false
	case c.sem <- struct{}{}:
		return true
	}
}

func (c *chanSemaphore) TryAcquire() bool {
	select {
	case c.sem <- struct{}{}:
		return true
	default:
		return false
	}
}

func (c *chanSemaphore) Release() {
	<-c.sem
}

func (c *chanSemaphore) InFlight() int {
	return len(c.sem)
}

type nullSemaphore struct {
	inFlight int64
}

func (ns *nullSemaphore) Acquire(ctx context.Context) bool {
	if ctx.Err() != nil {
		return false
	}
	atomic.AddInt64(&ns.inFlight, 1)
	return true
}

func (ns *nullSemaphore) TryAcquire() bool {
	atomic.AddInt64(&ns.inFlight, 1)
	return true
}

func (ns *nullSemaphore) Release() {
	atomic.AddInt64(&ns.inFlight, -1)
}

func (ns *nullSemaphore) InFlight() int {
	return int(atomic.LoadInt64(&ns.inFlight))
}
