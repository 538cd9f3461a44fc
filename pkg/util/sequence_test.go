package util

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSequenceRoundRobin(t *testing.T) {
	t.Parallel()
	var s Sequence

	seen := map[int]int{}
	for i := 0; i < 3; i++ {
		seen[s.Next(3)]++
	}
	require.Len(t, seen, 3)
	for n, count := range seen {
		assert.Less(t, n, 3)
		assert.Equal(t, 1, count)
	}
}

func TestSequenceIncreasesModuloBound(t *testing.T) {
	t.Parallel()
	var s Sequence

	assert.Equal(t, 1, s.Next(3))
	assert.Equal(t, 2, s.Next(3))
	assert.Equal(t, 0, s.Next(3))
	assert.Equal(t, 1, s.Next(3))
}

func TestSequenceShrinkingBound(t *testing.T) {
	t.Parallel()
	var s Sequence

	for i := 0; i < 4; i++ {
		s.Next(5)
	}
	for bound := 4; bound > 0; bound-- {
		n := s.Next(bound)
		assert.GreaterOrEqual(t, n, 0)
		assert.Less(t, n, bound)
	}
}

func TestSequenceNonPositiveBound(t *testing.T) {
	t.Parallel()
	var s Sequence

	assert.Equal(t, 0, s.Next(0))
	assert.Equal(t, 0, s.Next(-3))
	assert.Equal(t, 0, s.Next(1))
}

func TestSequenceConcurrentFairness(t *testing.T) {
	t.Parallel()
	var s Sequence

	const bound = 4
	const perWorker = 1000
	const workers = 8

	var mu sync.Mutex
	counts := make([]int, bound)
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			local := make([]int, bound)
			for i := 0; i < perWorker; i++ {
				local[s.Next(bound)]++
			}
			mu.Lock()
			defer mu.Unlock()
			for i, c := range local {
				counts[i] += c
			}
		}()
	}
	wg.Wait()

	// Every call advances by exactly one slot, so the total spreads evenly.
	for _, c := range counts {
		assert.Equal(t, workers*perWorker/bound, c)
	}
}
