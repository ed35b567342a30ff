package embedding

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeClock drives the breaker's time source in transition tests
type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

func TestBreakerOpensAfterConsecutiveFailures(t *testing.T) {
	cb := NewCircuitBreaker(5, 30*time.Second)

	for i := 0; i < 4; i++ {
		require.True(t, cb.Allow())
		cb.RecordFailure()
		assert.Equal(t, BreakerClosed, cb.State(), "failure %d must not trip the breaker", i+1)
	}

	require.True(t, cb.Allow())
	cb.RecordFailure()
	assert.Equal(t, BreakerOpen, cb.State())
	assert.False(t, cb.Allow())
}

func TestBreakerSuccessResetsFailureCount(t *testing.T) {
	cb := NewCircuitBreaker(3, 30*time.Second)

	cb.RecordFailure()
	cb.RecordFailure()
	cb.RecordSuccess()
	cb.RecordFailure()
	cb.RecordFailure()
	assert.Equal(t, BreakerClosed, cb.State())

	cb.RecordFailure()
	assert.Equal(t, BreakerOpen, cb.State())
}

func TestBreakerHalfOpenAfterCoolDown(t *testing.T) {
	clock := newFakeClock()
	cb := NewCircuitBreaker(2, 30*time.Second)
	cb.now = clock.Now

	cb.RecordFailure()
	cb.RecordFailure()
	require.Equal(t, BreakerOpen, cb.State())
	require.False(t, cb.Allow())

	clock.Advance(29 * time.Second)
	assert.False(t, cb.Allow(), "still inside the cool-down")

	clock.Advance(time.Second)
	assert.True(t, cb.Allow(), "cool-down elapsed admits the trial")
	assert.Equal(t, BreakerHalfOpen, cb.State())
}

func TestBreakerHalfOpenAdmitsSingleTrial(t *testing.T) {
	clock := newFakeClock()
	cb := NewCircuitBreaker(1, 10*time.Second)
	cb.now = clock.Now

	cb.RecordFailure()
	clock.Advance(10 * time.Second)

	require.True(t, cb.Allow())
	assert.False(t, cb.Allow(), "second request during the trial must be rejected")
	assert.False(t, cb.Allow())
}

func TestBreakerTrialSuccessCloses(t *testing.T) {
	clock := newFakeClock()
	cb := NewCircuitBreaker(1, 10*time.Second)
	cb.now = clock.Now

	cb.RecordFailure()
	clock.Advance(10 * time.Second)
	require.True(t, cb.Allow())

	cb.RecordSuccess()
	assert.Equal(t, BreakerClosed, cb.State())
	assert.True(t, cb.Allow())
	assert.Equal(t, 0, cb.Status().ConsecutiveFailures)
}

func TestBreakerTrialFailureRestartsCoolDown(t *testing.T) {
	clock := newFakeClock()
	cb := NewCircuitBreaker(1, 10*time.Second)
	cb.now = clock.Now

	cb.RecordFailure()
	clock.Advance(10 * time.Second)
	require.True(t, cb.Allow())

	cb.RecordFailure()
	assert.Equal(t, BreakerOpen, cb.State())
	assert.False(t, cb.Allow(), "fresh cool-down begins at the failed trial")

	clock.Advance(10 * time.Second)
	assert.True(t, cb.Allow())
}

func TestBreakerStateReflectsElapsedCoolDown(t *testing.T) {
	clock := newFakeClock()
	cb := NewCircuitBreaker(1, 10*time.Second)
	cb.now = clock.Now

	cb.RecordFailure()
	require.Equal(t, BreakerOpen, cb.State())

	// State alone must surface the transition; readers that never call Allow
	// (the router's health snapshot) otherwise see open forever
	clock.Advance(10 * time.Second)
	assert.Equal(t, BreakerHalfOpen, cb.State())
	assert.Equal(t, BreakerHalfOpen, cb.Status().State)

	// Reading the state does not consume the trial slot
	assert.True(t, cb.Allow())
	assert.False(t, cb.Allow())
}

func TestBreakerStatusReportsTimestamps(t *testing.T) {
	clock := newFakeClock()
	cb := NewCircuitBreaker(1, 10*time.Second)
	cb.now = clock.Now

	status := cb.Status()
	assert.Nil(t, status.OpenedAt)
	assert.Nil(t, status.LastFailureTime)

	cb.RecordFailure()
	status = cb.Status()
	require.NotNil(t, status.OpenedAt)
	require.NotNil(t, status.LastFailureTime)
	assert.Equal(t, clock.Now(), *status.OpenedAt)
	assert.Equal(t, BreakerOpen, status.State)
}

func TestBreakerConcurrentAccess(t *testing.T) {
	cb := NewCircuitBreaker(50, 30*time.Second)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				cb.Allow()
				if (n+j)%3 == 0 {
					cb.RecordFailure()
				} else {
					cb.RecordSuccess()
				}
				cb.Status()
			}
		}(i)
	}
	wg.Wait()

	// Only sanity here; the race detector does the real work
	state := cb.State()
	assert.Contains(t, []BreakerState{BreakerClosed, BreakerOpen, BreakerHalfOpen}, state)
}
