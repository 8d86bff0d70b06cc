package utils

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCircuitBreaker_NewCircuitBreaker(t *testing.T) {
	cb := NewCircuitBreaker("test")

	assert.Equal(t, "test", cb.Name())
	assert.Equal(t, uint32(100), cb.maxRequests)
	assert.Equal(t, 60*time.Second, cb.interval)
	assert.Equal(t, 60*time.Second, cb.timeout)
	assert.Equal(t, 0.6, cb.failureRatio)
	assert.Equal(t, StateClosed, cb.State())
}

func TestCircuitBreaker_Settings(t *testing.T) {
	cb := NewCircuitBreakerWithSettings("compose", Settings{
		MaxRequests:  5,
		Timeout:      time.Second,
		FailureRatio: 0.5,
	})

	assert.Equal(t, uint32(5), cb.maxRequests)
	assert.Equal(t, time.Second, cb.timeout)
	assert.Equal(t, 60*time.Second, cb.interval)
	assert.Equal(t, 0.5, cb.failureRatio)
}

func TestCircuitBreaker_ExecuteSuccess(t *testing.T) {
	cb := NewCircuitBreaker("test")
	ctx := context.Background()

	result, err := cb.Execute(ctx, func() (any, error) {
		return "success", nil
	})

	assert.NoError(t, err)
	assert.Equal(t, "success", result)
	assert.Equal(t, StateClosed, cb.State())
	assert.Equal(t, uint32(1), cb.Counts().Requests)
	assert.Equal(t, uint32(1), cb.Counts().TotalSuccesses)
	assert.Equal(t, uint32(0), cb.Counts().TotalFailures)
}

func TestCircuitBreaker_ExecuteFailure(t *testing.T) {
	cb := NewCircuitBreaker("test")
	ctx := context.Background()

	expectedError := errors.New("test error")
	result, err := cb.Execute(ctx, func() (any, error) {
		return nil, expectedError
	})

	assert.Equal(t, expectedError, err)
	assert.Nil(t, result)
	assert.Equal(t, uint32(1), cb.Counts().Requests)
	assert.Equal(t, uint32(1), cb.Counts().TotalFailures)
}

func TestCircuitBreaker_CancelledContextIsNotAFailure(t *testing.T) {
	cb := NewCircuitBreaker("test")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := cb.Execute(ctx, func() (any, error) {
		return nil, ctx.Err()
	})

	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, uint32(0), cb.Counts().TotalFailures)
	assert.Equal(t, uint32(1), cb.Counts().TotalSuccesses)
}

func TestCircuitBreaker_ClosedToOpen(t *testing.T) {
	var transitions []string
	cb := NewCircuitBreakerWithSettings("test", Settings{
		MaxRequests:  5,
		FailureRatio: 0.6,
		OnStateChange: func(name string, from, to State) {
			transitions = append(transitions, from.String()+"->"+to.String())
		},
	})
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		_, err := cb.Execute(ctx, func() (any, error) { return "success", nil })
		assert.NoError(t, err)
	}
	for i := 0; i < 4; i++ {
		_, err := cb.Execute(ctx, func() (any, error) { return nil, errors.New("failure") })
		assert.Error(t, err)
	}

	assert.Equal(t, StateOpen, cb.State())
	assert.Equal(t, []string{"closed->open"}, transitions)

	_, err := cb.Execute(ctx, func() (any, error) {
		t.Fatal("This should not be executed when circuit is open")
		return nil, nil
	})
	assert.ErrorIs(t, err, ErrOpenState)
}

func TestCircuitBreaker_OpenToHalfOpenToClosed(t *testing.T) {
	cb := NewCircuitBreakerWithSettings("test", Settings{
		MaxRequests:  5,
		FailureRatio: 0.6,
		Timeout:      50 * time.Millisecond,
	})
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		_, _ = cb.Execute(ctx, func() (any, error) { return nil, errors.New("failure") })
	}
	require.Equal(t, StateOpen, cb.State())

	time.Sleep(80 * time.Millisecond)
	assert.Equal(t, StateHalfOpen, cb.State())

	_, err := cb.Execute(ctx, func() (any, error) { return "success", nil })
	assert.NoError(t, err)
	assert.Equal(t, StateClosed, cb.State())
}

func TestCircuitBreaker_HalfOpenFailureReopens(t *testing.T) {
	cb := NewCircuitBreakerWithSettings("test", Settings{
		MaxRequests:  2,
		FailureRatio: 0.5,
		Timeout:      50 * time.Millisecond,
	})
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		_, _ = cb.Execute(ctx, func() (any, error) { return nil, errors.New("failure") })
	}
	require.Equal(t, StateOpen, cb.State())

	time.Sleep(80 * time.Millisecond)

	_, err := cb.Execute(ctx, func() (any, error) { return nil, errors.New("failure") })
	assert.EqualError(t, err, "failure")
	assert.Equal(t, StateOpen, cb.State())
}

func TestCircuitBreaker_HalfOpenLimitsRequests(t *testing.T) {
	cb := NewCircuitBreakerWithSettings("test", Settings{MaxRequests: 1})

	cb.mutex.Lock()
	cb.state = StateHalfOpen
	cb.counts = Counts{Requests: 1}
	cb.mutex.Unlock()

	_, err := cb.Execute(context.Background(), func() (any, error) { return "success", nil })
	assert.ErrorIs(t, err, ErrTooManyRequests)
}

func TestCircuitBreaker_ConcurrentAccess(t *testing.T) {
	cb := NewCircuitBreaker("concurrent-test")
	ctx := context.Background()

	var wg sync.WaitGroup
	numGoroutines := 100
	successCount := 0
	mu := sync.Mutex{}

	for i := 0; i < numGoroutines; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()

			_, err := cb.Execute(ctx, func() (any, error) {
				time.Sleep(time.Millisecond)
				if id%10 == 0 {
					return nil, errors.New("simulated failure")
				}
				return "success", nil
			})

			if err == nil {
				mu.Lock()
				successCount++
				mu.Unlock()
			}
		}(i)
	}

	wg.Wait()

	assert.Equal(t, 90, successCount)
	assert.Equal(t, uint32(numGoroutines), cb.Counts().Requests)
}

func TestCircuitBreaker_PanicRecovery(t *testing.T) {
	cb := NewCircuitBreaker("panic-test")
	ctx := context.Background()

	assert.Panics(t, func() {
		_, _ = cb.Execute(ctx, func() (any, error) {
			panic("test panic")
		})
	})

	result, err := cb.Execute(ctx, func() (any, error) {
		return "recovery", nil
	})

	assert.NoError(t, err)
	assert.Equal(t, "recovery", result)
	assert.Equal(t, uint32(1), cb.Counts().TotalFailures)
}

func TestCircuitBreaker_ReadyToTrip(t *testing.T) {
	cb := NewCircuitBreaker("trip-test")

	tests := []struct {
		name           string
		requests       uint32
		failures       uint32
		maxRequests    uint32
		failureRatio   float64
		expectedResult bool
	}{
		{"Not enough requests", 5, 5, 10, 0.5, false},
		{"High failure ratio", 10, 8, 10, 0.6, true},
		{"Low failure ratio", 10, 3, 10, 0.6, false},
		{"Exact failure ratio threshold", 10, 6, 10, 0.6, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cb.maxRequests = tt.maxRequests
			cb.failureRatio = tt.failureRatio
			cb.counts.Requests = tt.requests
			cb.counts.TotalFailures = tt.failures

			assert.Equal(t, tt.expectedResult, cb.readyToTrip())
		})
	}
}

func TestCircuitBreaker_StateString(t *testing.T) {
	assert.Equal(t, "closed", StateClosed.String())
	assert.Equal(t, "half-open", StateHalfOpen.String())
	assert.Equal(t, "open", StateOpen.String())
	assert.Equal(t, "unknown", State(42).String())
}

func BenchmarkCircuitBreaker_Execute_Success(b *testing.B) {
	cb := NewCircuitBreaker("benchmark")
	ctx := context.Background()

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_, _ = cb.Execute(ctx, func() (any, error) {
			return "success", nil
		})
	}
}

func BenchmarkCircuitBreaker_Execute_Concurrent(b *testing.B) {
	cb := NewCircuitBreaker("benchmark-concurrent")
	ctx := context.Background()

	b.RunParallel(func(pb *testing.PB) {
		for pb.Next() {
			_, _ = cb.Execute(ctx, func() (any, error) {
				return "success", nil
			})
		}
	})
}
