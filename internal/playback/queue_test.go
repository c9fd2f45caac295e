package playback

import (
	"testing"

	"github.com/podiumlabs/podium-voice/internal/audio"
)

func seg(speaker string, round int) *audio.Segment {
	return &audio.Segment{Speaker: speaker, Round: round, Samples: make([]float64, 10)}
}

func TestQueueFIFO(t *testing.T) {
	q := NewQueue()
	q.Push(seg("A", 1))
	q.Push(seg("B", 1))
	q.Push(seg("A", 2))

	order := []string{"A", "B", "A"}
	rounds := []int{1, 1, 2}
	for i := range order {
		s, ok := q.Pop()
		if !ok {
			t.Fatalf("pop %d: queue unexpectedly empty", i)
		}
		if s.Speaker != order[i] || s.Round != rounds[i] {
			t.Fatalf("pop %d: got %s/%d, want %s/%d", i, s.Speaker, s.Round, order[i], rounds[i])
		}
	}
	if q.Len() != 0 {
		t.Fatalf("expected empty queue, len=%d", q.Len())
	}
}

func TestQueuePopEmptyIsNoOp(t *testing.T) {
	q := NewQueue()
	if s, ok := q.Pop(); ok || s != nil {
		t.Fatal("pop on empty queue should report empty")
	}
}

func TestQueueRequeuePrepends(t *testing.T) {
	q := NewQueue()
	q.Push(seg("C", 3))
	q.Requeue([]*audio.Segment{seg("A", 1), seg("B", 2)})

	want := []string{"A", "B", "C"}
	for i, w := range want {
		s, ok := q.Pop()
		if !ok || s.Speaker != w {
			t.Fatalf("pop %d: got %v, want speaker %s", i, s, w)
		}
	}
}
