// File: internal/executor/executor_test.go
package executor

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestNew_Validation(t *testing.T) {
	_, err := New(0, zap.NewNop())
	require.Error(t, err)

	_, err = New(-1, zap.NewNop())
	require.Error(t, err)

	_, err = New(1, nil)
	require.Error(t, err)
}

func TestLaunch_CountsSynchronously(t *testing.T) {
	e, err := New(2, zap.NewNop())
	require.NoError(t, err)

	block := make(chan struct{})
	require.NoError(t, e.Launch(context.Background(), "job-1", func(ctx context.Context) {
		<-block
	}))

	// The slot must be visible immediately, before the goroutine runs.
	assert.Equal(t, 1, e.Active())

	close(block)
	e.Wait()
	assert.Equal(t, 0, e.Active())
}

func TestLaunch_RejectsBeyondCapacity(t *testing.T) {
	e, err := New(3, zap.NewNop())
	require.NoError(t, err)

	block := make(chan struct{})
	for i := 0; i < 3; i++ {
		require.NoError(t, e.Launch(context.Background(), fmt.Sprintf("job-%d", i), func(ctx context.Context) {
			<-block
		}))
	}

	assert.Equal(t, 3, e.Active())
	assert.False(t, e.HasCapacity())

	// A fourth job must be refused while the three are running.
	err = e.Launch(context.Background(), "job-overflow", func(ctx context.Context) {})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrAtCapacity)

	close(block)
	e.Wait()

	// Capacity frees up once a job settles.
	assert.Equal(t, 0, e.Active())
	require.NoError(t, e.Launch(context.Background(), "job-after", func(ctx context.Context) {}))
	e.Wait()
}

func TestLaunch_ReleasesSlotOnPanic(t *testing.T) {
	e, err := New(1, zap.NewNop())
	require.NoError(t, err)

	require.NoError(t, e.Launch(context.Background(), "job-panics", func(ctx context.Context) {
		panic("step exploded")
	}))
	e.Wait()

	// The counter must return to zero even when the job panicked.
	assert.Equal(t, 0, e.Active())
	assert.True(t, e.HasCapacity())
}

func TestCapacityInvariant_UnderChurn(t *testing.T) {
	const ceiling = 4
	e, err := New(ceiling, zap.NewNop())
	require.NoError(t, err)

	var mu sync.Mutex
	maxSeen := 0
	running := 0

	launched := 0
	for attempt := 0; attempt < 200; attempt++ {
		err := e.Launch(context.Background(), fmt.Sprintf("job-%d", attempt), func(ctx context.Context) {
			mu.Lock()
			running++
			if running > maxSeen {
				maxSeen = running
			}
			mu.Unlock()

			time.Sleep(time.Millisecond)

			mu.Lock()
			running--
			mu.Unlock()
		})
		if err == nil {
			launched++
		} else {
			require.ErrorIs(t, err, ErrAtCapacity)
			time.Sleep(time.Millisecond)
		}

		assert.LessOrEqual(t, e.Active(), ceiling)
	}

	e.Wait()
	assert.Positive(t, launched)
	assert.LessOrEqual(t, maxSeen, ceiling)
	assert.Equal(t, 0, e.Active())
}
