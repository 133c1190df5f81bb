package task

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/arloliu/go-ebus/logger"
)

func newMockLogger() *logger.MockLogger {
	mockLogger := logger.NewMockLogger()
	mockLogger.On("Debug", mock.Anything, mock.Anything).Return()
	mockLogger.On("Error", mock.Anything, mock.Anything).Return()

	return mockLogger
}

func TestManager_Start(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	mgr := NewManager(ctx, newMockLogger())

	var calls atomic.Int32
	require.NoError(t, mgr.Start("testTask", func() bool {
		calls.Add(1)
		time.Sleep(time.Millisecond)

		return true
	}))

	assert.Eventually(t, func() bool { return calls.Load() > 2 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, 1, mgr.TaskCount())

	cancel()
	mgr.Wait()
	assert.Equal(t, 0, mgr.TaskCount())
}

func TestManager_TaskReturnsFalse(t *testing.T) {
	mgr := NewManager(context.Background(), newMockLogger())

	require.NoError(t, mgr.Start("once", func() bool { return false }))
	mgr.Wait()
	assert.Equal(t, 0, mgr.TaskCount())
}

func TestManager_RecoversPanic(t *testing.T) {
	mockLogger := newMockLogger()
	mgr := NewManager(context.Background(), mockLogger)

	require.NoError(t, mgr.Start("panics", func() bool { panic("boom") }))
	mgr.Wait()

	mockLogger.AssertCalled(t, "Error", "task: panic", mock.Anything)
}

func TestManager_StartInterval(t *testing.T) {
	mgr := NewManager(context.Background(), newMockLogger())

	var calls atomic.Int32
	require.NoError(t, mgr.StartInterval("interval", func() bool {
		calls.Add(1)
		return true
	}, 5*time.Millisecond))

	require.Error(t, mgr.StartInterval("interval", func() bool { return true }, 5*time.Millisecond))
	require.Error(t, mgr.StartInterval("zero", func() bool { return true }, 0))

	assert.Eventually(t, func() bool { return calls.Load() >= 3 }, time.Second, 5*time.Millisecond)

	mgr.Stop()
	mgr.Wait()
	assert.Equal(t, 0, mgr.TaskCount())
}

func TestManager_StartAfterStop(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	mgr := NewManager(ctx, newMockLogger())
	cancel()

	require.ErrorIs(t, mgr.Start("late", func() bool { return true }), ErrStopped)
}

func TestManager_RestartAfterWait(t *testing.T) {
	mgr := NewManager(context.Background(), newMockLogger())
	require.NoError(t, mgr.Start("first", func() bool { return true }))

	mgr.Stop()
	mgr.Wait()

	require.NoError(t, mgr.Start("second", func() bool { return false }))
	mgr.Wait()
}
