package audio

import "sync"

// Capture accumulates raw PCM bytes in arrival order for later export.
// Once the running total would exceed the ceiling, further appends are
// silently ignored so a contiguous prefix of the session survives even
// for very long debates. Playback is unaffected either way.
type Capture struct {
	mu       sync.Mutex
	segments [][]byte
	size     int
	ceiling  int
	full     bool
	dropped  int
}

func NewCapture(ceiling int) *Capture {
	return &Capture{ceiling: ceiling}
}

// Append records one chunk's raw bytes. Once a chunk would push the total
// past the ceiling, capture stops for the rest of the session: skipping one
// chunk and keeping later ones would leave a gap in the exported stream.
func (c *Capture) Append(raw []byte) {
	if len(raw) == 0 {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.full || c.size+len(raw) > c.ceiling {
		c.full = true
		c.dropped++
		return
	}
	seg := make([]byte, len(raw))
	copy(seg, raw)
	c.segments = append(c.segments, seg)
	c.size += len(seg)
}

// Bytes returns the captured session as one contiguous PCM stream in
// arrival order.
func (c *Capture) Bytes() []byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]byte, 0, c.size)
	for _, seg := range c.segments {
		out = append(out, seg...)
	}
	return out
}

// Len is the running byte total.
func (c *Capture) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.size
}

// Dropped counts chunks that arrived after the ceiling was reached.
func (c *Capture) Dropped() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.dropped
}

// Reset discards the captured session.
func (c *Capture) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.segments = nil
	c.size = 0
	c.full = false
	c.dropped = 0
}
