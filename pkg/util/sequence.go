package util

import (
	"sync/atomic"
	"time"
)

// Sequence is a lock free round robin counter, safe for concurrent use.  The zero value is ready
// to use.
type Sequence struct {
	value int64
}

// Next advances the sequence by exactly one slot and returns the new position in [0, bound).
// A bound which changed since the previous call never produces a value outside [0, bound).
// Next returns 0 if bound is not positive.
func (s *Sequence) Next(bound int) int {
	if bound <= 1 {
		return 0
	}
	for {
		current := atomic.LoadInt64(&s.value)
		next := current + 1
		if next >= int64(bound) || next < 0 {
			next = 0
		}
		if atomic.CompareAndSwapInt64(&s.value, current, next) {
			return int(next)
		}
		time.Sleep(1) // Lost the race, let the winner make progress instead of spinning.
	}
}
