package renderer

import "time"

// Stats counts what the render loop has done so far.
type Stats struct {
	Frames   uint64
	Rebuilds uint64
	// Skipped counts frames dropped because the acquired chain was out of
	// date.
	Skipped uint64
	// FPS is the frame rate over the last completed stats interval.
	FPS float64
}

type frameCounter struct {
	Stats
	interval     time.Duration
	windowStart  time.Time
	windowFrames int
}

// tick counts a presented frame and reports whether a stats interval just
// ended.
func (c *frameCounter) tick(now time.Time) bool {
	c.Frames++
	if c.windowStart.IsZero() {
		c.windowStart = now
	}
	c.windowFrames++
	if c.interval <= 0 {
		return false
	}
	elapsed := now.Sub(c.windowStart)
	if elapsed < c.interval {
		return false
	}
	c.FPS = float64(c.windowFrames) / elapsed.Seconds()
	c.windowFrames = 0
	c.windowStart = now
	return true
}
