package playback

import (
	"sync"

	"github.com/podiumlabs/podium-voice/internal/audio"
)

// Queue is the single global FIFO of decoded segments awaiting playback.
// It is agnostic to speaker identity: cross-speaker interleaving follows
// arrival order, nothing is ever reordered.
type Queue struct {
	mu   sync.Mutex
	segs []*audio.Segment
}

func NewQueue() *Queue {
	return &Queue{}
}

// Push appends a segment to the tail.
func (q *Queue) Push(seg *audio.Segment) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.segs = append(q.segs, seg)
}

// Pop removes and returns the head. Popping an empty queue is a no-op.
func (q *Queue) Pop() (*audio.Segment, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.segs) == 0 {
		return nil, false
	}
	seg := q.segs[0]
	q.segs = q.segs[1:]
	return seg, true
}

// Requeue puts segments back at the head in the given order. Only the
// error path uses this, to return staged-but-unplayed segments after a
// device failure so resume continues where playback stopped.
func (q *Queue) Requeue(segs []*audio.Segment) {
	if len(segs) == 0 {
		return
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	q.segs = append(append([]*audio.Segment{}, segs...), q.segs...)
}

func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.segs)
}

// Reset drops all pending segments.
func (q *Queue) Reset() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.segs = nil
}
