package testutil

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/graftkit/graft/internal/dispatch"
)

func TestManualTimersFireOnAdvance(t *testing.T) {
	loop := dispatch.New()
	m := NewManualTimers(loop)

	var fired []string
	m.ScheduleOnce(10*time.Millisecond, func() { fired = append(fired, "a") })
	m.ScheduleOnce(30*time.Millisecond, func() { fired = append(fired, "b") })

	m.Advance(5 * time.Millisecond)
	loop.RunUntilIdle()
	assert.Empty(t, fired, "nothing is due at 5ms")

	m.Advance(10 * time.Millisecond)
	loop.RunUntilIdle()
	assert.Equal(t, []string{"a"}, fired)

	m.Advance(20 * time.Millisecond)
	loop.RunUntilIdle()
	assert.Equal(t, []string{"a", "b"}, fired)
	assert.Equal(t, 0, m.Pending())
}

func TestManualTimersDeadlineOrder(t *testing.T) {
	loop := dispatch.New()
	m := NewManualTimers(loop)

	var fired []string
	m.ScheduleOnce(20*time.Millisecond, func() { fired = append(fired, "late") })
	m.ScheduleOnce(5*time.Millisecond, func() { fired = append(fired, "early") })
	m.ScheduleOnce(5*time.Millisecond, func() { fired = append(fired, "early2") })

	m.Advance(50 * time.Millisecond)
	loop.RunUntilIdle()
	require.Equal(t, []string{"early", "early2", "late"}, fired)
}

func TestManualTimersStop(t *testing.T) {
	loop := dispatch.New()
	m := NewManualTimers(loop)

	fired := false
	timer := m.ScheduleOnce(10*time.Millisecond, func() { fired = true })

	assert.True(t, timer.Stop())
	assert.False(t, timer.Stop(), "second stop reports already gone")

	m.Advance(time.Hour)
	loop.RunUntilIdle()
	assert.False(t, fired)
	assert.Equal(t, 0, m.Pending())
}

func TestManualTimersNow(t *testing.T) {
	loop := dispatch.New()
	m := NewManualTimers(loop)

	assert.Equal(t, time.Duration(0), m.Now())
	m.Advance(42 * time.Millisecond)
	assert.Equal(t, 42*time.Millisecond, m.Now())
}
