package playback

import (
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/gopxl/beep/v2"
	"github.com/gopxl/beep/v2/effects"
	"github.com/gopxl/beep/v2/speaker"

	"github.com/podiumlabs/podium-voice/internal/audio"
)

// Completion signals that one segment finished rendering at the device's
// native rate.
type Completion struct {
	Speaker string
	Round   int
}

// Output renders decoded segments one at a time while exposing a live gain
// control and a frequency-magnitude snapshot. The Graph is the production
// implementation; tests use a stub device that pumps the same pipeline
// manually.
type Output interface {
	// Unlock initializes the audio device. Idempotent and safe from any
	// state; until it succeeds, Play accepts segments without producing
	// sound.
	Unlock() error
	// Play schedules a segment. Segments handed over before the current
	// one drains are chained with no inserted silence.
	Play(seg *audio.Segment)
	Pause()
	Resume()
	SetVolume(v float64)
	Volume() float64
	// Completions delivers exactly one event per played segment, in order.
	Completions() <-chan Completion
	// Waveform returns the latest frequency-magnitude snapshot, or nil
	// when nothing is playing.
	Waveform() []float64
	// Reset drops any scheduled segments and returns the ones that never
	// started playing.
	Reset() []*audio.Segment
	Close()
}

// device abstracts the speaker so the pipeline can be driven by tests.
type device interface {
	Init(sr beep.SampleRate, bufferSize int) error
	Play(s beep.Streamer)
	Lock()
	Unlock()
	Close()
}

type speakerDevice struct{}

func (speakerDevice) Init(sr beep.SampleRate, bufferSize int) error {
	return speaker.Init(sr, bufferSize)
}
func (speakerDevice) Play(s beep.Streamer) { speaker.Play(s) }
func (speakerDevice) Lock()                { speaker.Lock() }
func (speakerDevice) Unlock()              { speaker.Unlock() }
func (speakerDevice) Close()               { speaker.Close() }

// Graph is the three-stage output pipeline: segment feed -> volume ->
// analysis tap -> sink. The feed keeps streaming silence when idle so the
// sink never tears the stream down between segments.
type Graph struct {
	log  *slog.Logger
	dev  device
	feed *feed
	tap  *tap
	ctrl *beep.Ctrl
	vol  *effects.Volume
	an   *Analyzer

	bufferDur time.Duration

	mu       sync.Mutex
	unlocked bool
	volume   float64
}

// GraphConfig carries the engine tunables the graph needs.
type GraphConfig struct {
	WaveformBands   int
	SpeakerBufferMS int
}

func NewGraph(cfg GraphConfig, log *slog.Logger) *Graph {
	return newGraph(cfg, speakerDevice{}, log)
}

func newGraph(cfg GraphConfig, dev device, log *slog.Logger) *Graph {
	f := newFeed()
	ctrl := &beep.Ctrl{Streamer: f}
	vol := &effects.Volume{Streamer: ctrl, Base: 2, Volume: 0, Silent: false}
	tp := newTap(vol, fftSize)
	return &Graph{
		log:       log.With(slog.String("component", "audio-graph")),
		dev:       dev,
		feed:      f,
		tap:       tp,
		ctrl:      ctrl,
		vol:       vol,
		an:        NewAnalyzer(cfg.WaveformBands),
		bufferDur: time.Duration(cfg.SpeakerBufferMS) * time.Millisecond,
		volume:    1.0,
	}
}

// Unlock initializes the device and attaches the pipeline. Platform audio
// output requires an explicit user gesture before rendering; calling this
// again after success is a no-op.
func (g *Graph) Unlock() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.unlocked {
		return nil
	}
	sr := beep.SampleRate(audio.SampleRate)
	if err := g.dev.Init(sr, sr.N(g.bufferDur)); err != nil {
		return err
	}
	g.dev.Play(g.tap)
	g.unlocked = true
	g.log.Info("audio output unlocked")
	return nil
}

func (g *Graph) Play(seg *audio.Segment) {
	g.feed.add(seg)
}

func (g *Graph) Pause() {
	g.withLock(func() { g.ctrl.Paused = true })
}

func (g *Graph) Resume() {
	g.withLock(func() { g.ctrl.Paused = false })
}

// SetVolume maps the linear 0..1 control onto the gain stage. It applies
// immediately to in-flight and subsequent playback only; rendered audio is
// never touched.
func (g *Graph) SetVolume(v float64) {
	if v < 0 {
		v = 0
	}
	if v > 1 {
		v = 1
	}
	g.withLock(func() {
		if v == 0 {
			g.vol.Silent = true
		} else {
			g.vol.Silent = false
			g.vol.Volume = math.Log2(v)
		}
	})
	g.mu.Lock()
	g.volume = v
	g.mu.Unlock()
}

func (g *Graph) Volume() float64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.volume
}

func (g *Graph) Completions() <-chan Completion {
	return g.feed.done
}

func (g *Graph) Waveform() []float64 {
	if !g.feed.playing() {
		return nil
	}
	return g.an.Magnitudes(g.tap.samples(fftSize))
}

func (g *Graph) Reset() []*audio.Segment {
	return g.feed.reset()
}

func (g *Graph) Close() {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.unlocked {
		g.dev.Close()
		g.unlocked = false
	}
}

// withLock applies a pipeline mutation under the device lock when the
// device owns the stream, or directly before unlock.
func (g *Graph) withLock(fn func()) {
	g.mu.Lock()
	unlocked := g.unlocked
	g.mu.Unlock()
	if unlocked {
		g.dev.Lock()
		fn()
		g.dev.Unlock()
		return
	}
	fn()
}

// feed is the source stage. It pulls samples from the current segment and
// switches to the next scheduled segment inside the same Stream call, which
// is what makes chaining gapless. When no segment is scheduled it emits
// silence and stays alive.
type feed struct {
	mu      sync.Mutex
	current *segmentSource
	pending []*segmentSource
	done    chan Completion
}

type segmentSource struct {
	seg *audio.Segment
	pos int
}

func newFeed() *feed {
	return &feed{done: make(chan Completion, 16)}
}

func (f *feed) add(seg *audio.Segment) {
	f.mu.Lock()
	defer f.mu.Unlock()
	src := &segmentSource{seg: seg}
	if f.current == nil {
		f.current = src
		return
	}
	f.pending = append(f.pending, src)
}

func (f *feed) playing() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.current != nil
}

func (f *feed) reset() []*audio.Segment {
	f.mu.Lock()
	defer f.mu.Unlock()
	var unplayed []*audio.Segment
	for _, src := range f.pending {
		unplayed = append(unplayed, src.seg)
	}
	f.current = nil
	f.pending = nil
	return unplayed
}

func (f *feed) Stream(samples [][2]float64) (int, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()

	for i := range samples {
		for f.current != nil && f.current.pos >= len(f.current.seg.Samples) {
			f.finishLocked()
		}
		if f.current == nil {
			samples[i][0] = 0
			samples[i][1] = 0
			continue
		}
		v := f.current.seg.Samples[f.current.pos]
		f.current.pos++
		samples[i][0] = v
		samples[i][1] = v
	}
	return len(samples), true
}

func (f *feed) Err() error { return nil }

// finishLocked emits the current segment's completion and promotes the next
// scheduled one. The send must never block the audio thread; the channel is
// buffered well past what a prompt consumer needs.
func (f *feed) finishLocked() {
	c := Completion{Speaker: f.current.seg.Speaker, Round: f.current.seg.Round}
	select {
	case f.done <- c:
	default:
	}
	if len(f.pending) > 0 {
		f.current = f.pending[0]
		f.pending = f.pending[1:]
	} else {
		f.current = nil
	}
}

// tap sits between the gain stage and the sink, copying a mono mix of
// everything that passes through into a ring buffer for the analyzer.
// Sampling it can only ever read stale data, never delay scheduling.
type tap struct {
	s    beep.Streamer
	mu   sync.Mutex
	buf  []float64
	pos  int
	size int
}

func newTap(s beep.Streamer, size int) *tap {
	return &tap{s: s, buf: make([]float64, size), size: size}
}

func (t *tap) Stream(samples [][2]float64) (int, bool) {
	n, ok := t.s.Stream(samples)
	t.mu.Lock()
	for i := 0; i < n; i++ {
		t.buf[t.pos] = (samples[i][0] + samples[i][1]) / 2
		t.pos = (t.pos + 1) % t.size
	}
	t.mu.Unlock()
	return n, ok
}

func (t *tap) Err() error { return t.s.Err() }

// samples returns the last n captured samples in chronological order.
func (t *tap) samples(n int) []float64 {
	if n > t.size {
		n = t.size
	}
	out := make([]float64, n)
	t.mu.Lock()
	start := (t.pos - n + t.size) % t.size
	for i := 0; i < n; i++ {
		out[i] = t.buf[(start+i)%t.size]
	}
	t.mu.Unlock()
	return out
}
