package renderer

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestStateString(t *testing.T) {
	assert.Equal(t, "idle", StateIdle.String())
	assert.Equal(t, "acquiring", StateAcquiring.String())
	assert.Equal(t, "recording", StateRecording.String())
	assert.Equal(t, "submitting", StateSubmitting.String())
	assert.Equal(t, "presented", StatePresented.String())
	assert.Equal(t, "rebuild-required", StateRebuildRequired.String())
	assert.Equal(t, "State(42)", State(42).String())
}

func TestFrameCounterDisabled(t *testing.T) {
	var c frameCounter
	now := time.Unix(0, 0)
	for i := 0; i < 10; i++ {
		assert.False(t, c.tick(now))
		now = now.Add(time.Second)
	}
	assert.Equal(t, uint64(10), c.Frames)
	assert.Zero(t, c.FPS)
}

func TestFrameCounterWindows(t *testing.T) {
	c := frameCounter{interval: 500 * time.Millisecond}
	now := time.Unix(0, 0)

	assert.False(t, c.tick(now))
	now = now.Add(500 * time.Millisecond)
	assert.True(t, c.tick(now))
	assert.InDelta(t, 4.0, c.FPS, 1e-9)

	// The next window starts at the report.
	now = now.Add(250 * time.Millisecond)
	assert.False(t, c.tick(now))
	now = now.Add(250 * time.Millisecond)
	assert.True(t, c.tick(now))
	assert.InDelta(t, 4.0, c.FPS, 1e-9)
}
