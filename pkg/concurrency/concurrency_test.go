package concurrency

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLimiter_BoundsConcurrency(t *testing.T) {
	l := NewLimiter(2)
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = l.Do(context.Background(), func() error {
				time.Sleep(5 * time.Millisecond)
				return nil
			})
		}()
	}
	wg.Wait()

	m := l.GetMetrics()
	assert.Equal(t, int64(10), m.TotalAcquired)
	assert.Equal(t, int64(10), m.TotalReleased)
	assert.LessOrEqual(t, m.PeakConcurrent, int64(2))
	assert.Zero(t, l.CurrentActive())
}

func TestLimiter_AcquireHonorsContext(t *testing.T) {
	l := NewLimiter(1)
	require.NoError(t, l.Acquire(context.Background()))
	defer l.Release()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, l.Acquire(ctx), context.DeadlineExceeded)
}

func TestNewLimiter_MinimumCapacity(t *testing.T) {
	assert.Equal(t, 1, NewLimiter(0).Capacity())
}

func TestLoadConfig(t *testing.T) {
	t.Setenv("DFDL_MAX_COMPILES", "3")
	t.Setenv("DFDL_RUNNER_WORKERS", "7")

	c := LoadConfig()
	assert.Equal(t, 3, c.MaxCompiles)
	assert.Equal(t, 7, c.RunnerWorkers)
	assert.Equal(t, ConfigSourceEnvVar, c.Source)
	assert.Contains(t, c.String(), "MaxCompiles: 3")
}

func TestLoadConfig_Defaults(t *testing.T) {
	t.Setenv("DFDL_MAX_COMPILES", "")
	t.Setenv("DFDL_RUNNER_WORKERS", "not-a-number")

	c := LoadConfig()
	assert.GreaterOrEqual(t, c.MaxCompiles, 1)
	assert.GreaterOrEqual(t, c.RunnerWorkers, 4)
	assert.Equal(t, ConfigSourceAutoDetect, c.Source)
}
