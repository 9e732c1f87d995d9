package testutil

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestFakeClock_StartsAtEpoch(t *testing.T) {
	clock := NewFakeClock(time.Second)
	assert.Equal(t, Epoch, clock.Current())
}

func TestFakeClock_NowAdvancesByStep(t *testing.T) {
	clock := NewFakeClock(250 * time.Millisecond)

	first := clock.Now()
	second := clock.Now()
	assert.Equal(t, Epoch, first)
	assert.Equal(t, 250*time.Millisecond, second.Sub(first))
	assert.Equal(t, Epoch.Add(500*time.Millisecond), clock.Current())
}

func TestFakeClock_AdvanceAndReset(t *testing.T) {
	clock := NewFakeClock(time.Second)
	clock.Advance(time.Hour)
	assert.Equal(t, Epoch.Add(time.Hour), clock.Current())

	clock.Reset()
	assert.Equal(t, Epoch, clock.Current())
}

func TestFakeClock_ThreadSafe(t *testing.T) {
	clock := NewFakeClock(time.Millisecond)
	const numGoroutines = 50
	const callsPerGoroutine = 100

	var wg sync.WaitGroup
	wg.Add(numGoroutines)
	seen := make(chan time.Time, numGoroutines*callsPerGoroutine)
	for i := 0; i < numGoroutines; i++ {
		go func() {
			defer wg.Done()
			for j := 0; j < callsPerGoroutine; j++ {
				seen <- clock.Now()
			}
		}()
	}
	wg.Wait()
	close(seen)

	unique := make(map[time.Time]bool)
	for ts := range seen {
		assert.False(t, unique[ts], "duplicate reading %s", ts)
		unique[ts] = true
	}
	assert.Len(t, unique, numGoroutines*callsPerGoroutine)
	assert.Equal(t, Epoch.Add(numGoroutines*callsPerGoroutine*time.Millisecond), clock.Current())
}
