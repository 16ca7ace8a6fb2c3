package alarm

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSchedule_Fires(t *testing.T) {
	var fired atomic.Int32
	a := New(func() { fired.Add(1) }, nil)
	t.Cleanup(func() { _ = a.Stop(context.Background()) })

	require.NoError(t, a.Schedule(time.Second))
	assert.True(t, a.Active())
	assert.Equal(t, time.Second, a.Interval())
	assert.False(t, a.Next().IsZero())

	assert.Eventually(t, func() bool { return fired.Load() >= 1 }, 3*time.Second, 50*time.Millisecond)
}

func TestSchedule_RejectsSubSecond(t *testing.T) {
	a := New(func() {}, nil)
	t.Cleanup(func() { _ = a.Stop(context.Background()) })
	assert.Error(t, a.Schedule(500*time.Millisecond))
	assert.False(t, a.Active())
}

func TestCancel(t *testing.T) {
	var fired atomic.Int32
	a := New(func() { fired.Add(1) }, nil)
	t.Cleanup(func() { _ = a.Stop(context.Background()) })

	assert.False(t, a.Cancel(), "nothing scheduled yet")
	require.NoError(t, a.Schedule(time.Hour))
	require.NoError(t, a.Schedule(2*time.Hour), "rescheduling replaces")
	assert.Equal(t, 2*time.Hour, a.Interval())

	assert.True(t, a.Cancel())
	assert.False(t, a.Active())
	assert.True(t, a.Next().IsZero())
	assert.Equal(t, int32(0), fired.Load())
}

func TestStop_CancelsSchedule(t *testing.T) {
	a := New(func() {}, nil)
	require.NoError(t, a.Schedule(time.Minute))
	require.NoError(t, a.Stop(context.Background()))
	assert.False(t, a.Active())
}
