package playback

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/podiumlabs/podium-voice/internal/audio"
)

// lookahead is how many segments the controller keeps staged in the output
// graph: the one playing plus one queued behind it, so the feed can switch
// segments without waiting on the completion round-trip.
const lookahead = 2

// Controller owns the session's playback state machine. All state mutations
// funnel through it; the output graph's completion channel drives the
// steady-state dequeue loop.
type Controller struct {
	out   Output
	queue *Queue
	log   *slog.Logger

	grace time.Duration

	mu       sync.Mutex
	state    State
	current  *audio.Segment
	inflight []*audio.Segment
	lastErr  string

	notify func(Status)

	watchdog *time.Timer
	deadline time.Time
	remain   time.Duration

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// ControllerConfig carries controller tunables.
type ControllerConfig struct {
	WatchdogGrace time.Duration
}

// NewController wires the controller to an output graph. notify, if
// non-nil, receives a Status snapshot after every transition.
func NewController(parent context.Context, cfg ControllerConfig, out Output, log *slog.Logger, notify func(Status)) *Controller {
	ctx, cancel := context.WithCancel(parent)
	c := &Controller{
		out:    out,
		queue:  NewQueue(),
		log:    log.With(slog.String("component", "playback-controller")),
		grace:  cfg.WatchdogGrace,
		state:  StateIdle,
		notify: notify,
		ctx:    ctx,
		cancel: cancel,
	}
	c.watchdog = time.NewTimer(time.Hour)
	if !c.watchdog.Stop() {
		<-c.watchdog.C
	}
	c.wg.Add(1)
	go c.run()
	return c
}

// Close stops the drain loop. The queue and state are dropped with it.
func (c *Controller) Close() {
	c.cancel()
	c.wg.Wait()
}

// Status returns a snapshot of the shared playback state.
func (c *Controller) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.statusLocked()
}

func (c *Controller) statusLocked() Status {
	st := Status{State: c.state, Volume: c.out.Volume(), Err: c.lastErr}
	if c.current != nil {
		st.Speaker = c.current.Speaker
		st.Round = c.current.Round
	}
	return st
}

// Enqueue adds a decoded segment to the FIFO and starts playback if the
// controller is idle. While playing it keeps the graph's lookahead primed;
// paused and error states leave the queue to accumulate.
func (c *Controller) Enqueue(seg *audio.Segment) {
	c.queue.Push(seg)

	c.mu.Lock()
	defer c.mu.Unlock()
	switch c.state {
	case StateIdle:
		c.startLocked()
	case StatePlaying:
		c.stageLocked()
	}
	c.notifyLocked()
}

// Play starts draining the queue from idle or error, and resumes from
// paused. Safe to call from any state.
func (c *Controller) Play() {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch c.state {
	case StateIdle:
		c.startLocked()
	case StatePaused:
		c.resumeLocked()
	case StateError:
		c.retryLocked()
	}
	c.notifyLocked()
}

// Pause suspends rendering without clearing the queue or the current
// segment; resuming continues mid-segment.
func (c *Controller) Pause() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StatePlaying {
		return
	}
	c.out.Pause()
	c.state = StatePaused
	c.stopWatchdogLocked()
	c.remain = time.Until(c.deadline)
	c.notifyLocked()
}

// Toggle flips between playing and paused, or starts playback when idle.
func (c *Controller) Toggle() {
	c.mu.Lock()
	state := c.state
	c.mu.Unlock()
	if state == StatePlaying {
		c.Pause()
		return
	}
	c.Play()
}

// Resume is the user-gesture unlock path: idempotent, safe from any state,
// and the retry path out of error.
func (c *Controller) Resume() {
	if err := c.out.Unlock(); err != nil {
		c.Fail("audio device unlock failed: " + err.Error())
		return
	}
	c.Play()
}

// SetVolume applies from any state without a transition.
func (c *Controller) SetVolume(v float64) {
	c.out.SetVolume(v)
	c.mu.Lock()
	defer c.mu.Unlock()
	c.notifyLocked()
}

// Fail records a session-fatal failure: the current speaker is cleared but
// the queue is preserved so a later resume continues the session.
func (c *Controller) Fail(msg string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.failLocked(msg)
	c.notifyLocked()
}

// End resets the session to idle and drops all pending audio.
func (c *Controller) End() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.out.Reset()
	c.queue.Reset()
	c.current = nil
	c.inflight = nil
	c.lastErr = ""
	c.state = StateIdle
	c.stopWatchdogLocked()
	c.notifyLocked()
}

func (c *Controller) run() {
	defer c.wg.Done()
	for {
		select {
		case <-c.ctx.Done():
			return
		case done := <-c.out.Completions():
			c.handleCompletion(done)
		case <-c.watchdog.C:
			c.handleWatchdog()
		}
	}
}

func (c *Controller) handleCompletion(done Completion) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StatePlaying && c.state != StatePaused {
		return
	}
	c.log.Debug("segment complete",
		slog.String("speaker", done.Speaker),
		slog.Int("round", done.Round))

	// Drop the finished head of the in-flight window.
	if len(c.inflight) > 0 {
		c.inflight = c.inflight[1:]
	}
	if len(c.inflight) > 0 {
		c.current = c.inflight[0]
		if c.state == StatePlaying {
			c.armWatchdogLocked(c.current)
		}
		c.stageLocked()
	} else if seg, ok := c.queue.Pop(); ok {
		// Queue had a segment the lookahead never staged; play it now.
		c.current = seg
		c.inflight = append(c.inflight, seg)
		c.out.Play(seg)
		if c.state == StatePlaying {
			c.armWatchdogLocked(seg)
		}
	} else {
		c.current = nil
		c.state = StateIdle
		c.stopWatchdogLocked()
	}
	c.notifyLocked()
}

func (c *Controller) handleWatchdog() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StatePlaying {
		return
	}
	c.log.Warn("segment never reported completion, failing playback")
	c.failLocked("playback stalled: segment exceeded its expected duration")
	c.notifyLocked()
}

// startLocked pulls the queue head and hands it to the graph.
func (c *Controller) startLocked() {
	seg, ok := c.queue.Pop()
	if !ok {
		return
	}
	c.current = seg
	c.inflight = append(c.inflight, seg)
	c.lastErr = ""
	c.state = StatePlaying
	c.out.Play(seg)
	c.armWatchdogLocked(seg)
	c.stageLocked()
}

// stageLocked keeps the graph primed with one segment beyond the current so
// chaining stays gapless.
func (c *Controller) stageLocked() {
	for len(c.inflight) < lookahead {
		seg, ok := c.queue.Pop()
		if !ok {
			return
		}
		c.inflight = append(c.inflight, seg)
		c.out.Play(seg)
	}
}

func (c *Controller) resumeLocked() {
	c.out.Resume()
	c.state = StatePlaying
	if c.current != nil {
		c.resetWatchdogLocked(c.remain)
	}
}

// retryLocked restarts queue draining after an error. With an empty queue
// the controller settles back to idle until the next enqueue.
func (c *Controller) retryLocked() {
	c.lastErr = ""
	c.state = StateIdle
	c.startLocked()
}

func (c *Controller) failLocked(msg string) {
	unplayed := c.out.Reset()
	// The current segment restarts from its head on retry; segments that
	// never started go back to the queue front in order.
	if c.current != nil {
		unplayed = append([]*audio.Segment{c.current}, unplayed...)
	}
	c.queue.Requeue(unplayed)
	c.current = nil
	c.inflight = nil
	c.lastErr = msg
	c.state = StateError
	c.stopWatchdogLocked()
}

func (c *Controller) armWatchdogLocked(seg *audio.Segment) {
	d := time.Duration(seg.DurationSeconds()*float64(time.Second)) + c.grace
	c.resetWatchdogLocked(d)
}

func (c *Controller) resetWatchdogLocked(d time.Duration) {
	if d < c.grace {
		d = c.grace
	}
	c.stopWatchdogLocked()
	c.deadline = time.Now().Add(d)
	c.watchdog.Reset(d)
}

func (c *Controller) stopWatchdogLocked() {
	if !c.watchdog.Stop() {
		select {
		case <-c.watchdog.C:
		default:
		}
	}
}

func (c *Controller) notifyLocked() {
	if c.notify == nil {
		return
	}
	c.notify(c.statusLocked())
}
