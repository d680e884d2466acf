// internal/page/poll_test.go
package page

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPoll(t *testing.T) {
	t.Run("returns once condition holds", func(t *testing.T) {
		var calls atomic.Int32
		err := Poll(context.Background(), time.Second, 5*time.Millisecond, func(context.Context) (bool, error) {
			return calls.Add(1) >= 3, nil
		})
		require.NoError(t, err)
		assert.EqualValues(t, 3, calls.Load())
	})

	t.Run("zero timeout still evaluates once", func(t *testing.T) {
		var calls atomic.Int32
		err := Poll(context.Background(), 0, time.Millisecond, func(context.Context) (bool, error) {
			calls.Add(1)
			return true, nil
		})
		require.NoError(t, err)
		assert.EqualValues(t, 1, calls.Load())
	})

	t.Run("times out", func(t *testing.T) {
		err := Poll(context.Background(), 20*time.Millisecond, 5*time.Millisecond, func(context.Context) (bool, error) {
			return false, nil
		})
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrTimeout)
	})

	t.Run("condition error stops polling", func(t *testing.T) {
		boom := fmt.Errorf("wrapped: %w", ErrSessionLost)
		err := Poll(context.Background(), time.Second, time.Millisecond, func(context.Context) (bool, error) {
			return false, boom
		})
		assert.ErrorIs(t, err, ErrSessionLost)
		assert.True(t, IsFatal(err))
	})

	t.Run("context cancellation", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		err := Poll(ctx, time.Second, time.Millisecond, func(context.Context) (bool, error) {
			return false, nil
		})
		assert.True(t, errors.Is(err, context.Canceled))
	})
}

func TestSleep(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, Sleep(ctx, time.Hour), context.Canceled)
	assert.NoError(t, Sleep(context.Background(), time.Millisecond))
}
