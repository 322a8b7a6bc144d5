package llm

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeClock lets tests move time forward without sleeping.
type fakeClock struct {
	mu sync.Mutex
	t  time.Time
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

func newTestBreaker(threshold int) (*CircuitBreaker, *fakeClock) {
	clock := &fakeClock{t: time.Date(2024, 1, 15, 8, 0, 0, 0, time.UTC)}
	cb := NewCircuitBreaker(CircuitBreakerConfig{Name: "embeddings", Threshold: threshold, ResetAfter: 30 * time.Second})
	cb.now = clock.Now
	return cb, clock
}

func TestCircuitBreaker_InitialState(t *testing.T) {
	cb, _ := newTestBreaker(5)

	assert.Equal(t, CircuitClosed, cb.State())
	assert.Equal(t, 0, cb.ConsecutiveFailures())
	assert.NoError(t, cb.Allow())
}

func TestCircuitBreaker_TripsAfterThreshold(t *testing.T) {
	cb, _ := newTestBreaker(3)

	cb.RecordFailure()
	cb.RecordFailure()
	assert.Equal(t, CircuitClosed, cb.State(), "should not trip before threshold")

	cb.RecordFailure()
	assert.Equal(t, CircuitOpen, cb.State())
	assert.Equal(t, 3, cb.ConsecutiveFailures())

	err := cb.Allow()
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrCircuitOpen))
	assert.Contains(t, err.Error(), "embeddings")
}

func TestCircuitBreaker_SuccessResetsFailures(t *testing.T) {
	cb, _ := newTestBreaker(3)

	cb.RecordFailure()
	cb.RecordFailure()
	cb.RecordSuccess()
	cb.RecordFailure()

	assert.Equal(t, CircuitClosed, cb.State())
	assert.Equal(t, 1, cb.ConsecutiveFailures())
}

func TestCircuitBreaker_HalfOpen(t *testing.T) {
	tests := []struct {
		name      string
		probeErr  error
		wantState CircuitState
	}{
		{"probe success closes", nil, CircuitClosed},
		{"probe failure reopens", errors.New("503 service unavailable"), CircuitOpen},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cb, clock := newTestBreaker(1)
			cb.RecordFailure()
			require.Equal(t, CircuitOpen, cb.State())

			clock.Advance(31 * time.Second)
			require.NoError(t, cb.Allow())
			assert.Equal(t, CircuitHalfOpen, cb.State())

			// Only one probe at a time.
			assert.ErrorIs(t, cb.Allow(), ErrCircuitOpen)

			if tt.probeErr != nil {
				cb.RecordFailure()
			} else {
				cb.RecordSuccess()
			}
			assert.Equal(t, tt.wantState, cb.State())
		})
	}
}

func TestCircuitBreaker_Do(t *testing.T) {
	cb, _ := newTestBreaker(2)
	boom := errors.New("connection refused")

	calls := 0
	fail := func() error { calls++; return boom }

	assert.ErrorIs(t, cb.Do(fail), boom)
	assert.ErrorIs(t, cb.Do(fail), boom)
	assert.ErrorIs(t, cb.Do(fail), ErrCircuitOpen)
	assert.Equal(t, 2, calls, "open circuit must not invoke fn")

	cb.Reset()
	assert.NoError(t, cb.Do(func() error { return nil }))
	assert.Equal(t, CircuitClosed, cb.State())
}

func TestCircuitBreaker_DefaultConfig(t *testing.T) {
	cfg := DefaultCircuitBreakerConfig()
	assert.Equal(t, 5, cfg.Threshold)
	assert.Equal(t, 30*time.Second, cfg.ResetAfter)
}

func TestCircuitState_String(t *testing.T) {
	assert.Equal(t, "closed", CircuitClosed.String())
	assert.Equal(t, "open", CircuitOpen.String())
	assert.Equal(t, "half-open", CircuitHalfOpen.String())
	assert.Equal(t, "unknown", CircuitState(42).String())
}

func TestCircuitBreaker_ConcurrentAccess(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{Threshold: 100, ResetAfter: time.Minute})

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			cb.RecordFailure()
		}()
		go func() {
			defer wg.Done()
			_ = cb.Allow()
			_ = cb.State()
		}()
	}
	wg.Wait()

	assert.Equal(t, 50, cb.ConsecutiveFailures())
	assert.Equal(t, CircuitClosed, cb.State())
}
