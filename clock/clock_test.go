package clock

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFake_AdvanceFiresInDeadlineOrder(t *testing.T) {
	c := NewFake()
	var fired []string

	c.AfterFunc(30*time.Millisecond, func() { fired = append(fired, "c") })
	c.AfterFunc(10*time.Millisecond, func() { fired = append(fired, "a") })
	c.AfterFunc(10*time.Millisecond, func() { fired = append(fired, "b") })

	c.Advance(20 * time.Millisecond)
	assert.Equal(t, []string{"a", "b"}, fired)
	assert.Equal(t, 1, c.Pending())

	c.Advance(10 * time.Millisecond)
	assert.Equal(t, []string{"a", "b", "c"}, fired)
	assert.Equal(t, 0, c.Pending())
}

func TestFake_StopPreventsFire(t *testing.T) {
	c := NewFake()
	fired := false

	timer := c.AfterFunc(time.Second, func() { fired = true })
	require.True(t, timer.Stop())
	require.False(t, timer.Stop())

	c.Advance(2 * time.Second)
	assert.False(t, fired)
}

func TestFake_TimerSeesItsOwnDeadline(t *testing.T) {
	c := NewFake()
	start := c.Now()
	var seen time.Time

	c.AfterFunc(5*time.Second, func() { seen = c.Now() })
	c.Advance(time.Minute)

	assert.Equal(t, start.Add(5*time.Second), seen)
	assert.Equal(t, start.Add(time.Minute), c.Now())
}

func TestFake_CallbackCanRearm(t *testing.T) {
	c := NewFake()
	count := 0

	var tick func()
	tick = func() {
		count++
		if count < 3 {
			c.AfterFunc(time.Second, tick)
		}
	}
	c.AfterFunc(time.Second, tick)

	c.Advance(10 * time.Second)
	assert.Equal(t, 3, count)
}

func TestFake_ZeroAdvanceFiresDueTimers(t *testing.T) {
	c := NewFake()
	fired := false
	c.AfterFunc(0, func() { fired = true })

	assert.False(t, fired)
	c.Advance(0)
	assert.True(t, fired)
}
