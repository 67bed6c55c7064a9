package chart

import (
	"errors"
	"sync"
)

// ErrReleased is returned when drawing on a canvas after Release.
var ErrReleased = errors.New("canvas released")

// Canvas collects the figure drawn during one evaluation. Acquire one per
// evaluation, Take the figure when done, then Release it. A later Draw
// replaces an earlier one.
type Canvas struct {
	mu       sync.Mutex
	fig      *Figure
	released bool
}

// NewCanvas returns an empty canvas.
func NewCanvas() *Canvas { return &Canvas{} }

// Draw places f on the canvas.
func (c *Canvas) Draw(f *Figure) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.released {
		return ErrReleased
	}
	c.fig = f
	return nil
}

// Take returns the current figure, if any, and clears the canvas.
func (c *Canvas) Take() *Figure {
	c.mu.Lock()
	defer c.mu.Unlock()
	f := c.fig
	c.fig = nil
	return f
}

// Release discards any figure left on the canvas and rejects further draws.
func (c *Canvas) Release() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.fig = nil
	c.released = true
}
