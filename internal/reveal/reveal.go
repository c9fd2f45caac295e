// Package reveal paces an on-screen transcript so text appears at the same
// rate the corresponding audio is spoken.
package reveal

import (
	"math/rand"
	"sync"
	"time"
)

// Config holds the reveal cadence tunables.
type Config struct {
	// AvgCharsPerWord approximates natural word length including the
	// trailing space.
	AvgCharsPerWord float64
	// Jitter is the ± fraction applied around the nominal per-character
	// delay so the cadence doesn't look mechanical.
	Jitter float64
	// MaxCatchUp bounds how many characters one tick may reveal when the
	// loop fell behind schedule. Without it, a long stall (tab in the
	// background) would dump a whole segment in a single tick.
	MaxCatchUp int
}

// Synchronizer converts a backend-supplied seconds-per-word figure into a
// monotonically growing revealed prefix. The rand source is injected so
// tests can fix the jitter.
type Synchronizer struct {
	cfg Config
	rnd *rand.Rand

	mu       sync.Mutex
	full     []rune
	revealed int
	perChar  time.Duration
	nextDue  time.Time
}

func New(cfg Config, rnd *rand.Rand) *Synchronizer {
	if rnd == nil {
		rnd = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	return &Synchronizer{cfg: cfg, rnd: rnd}
}

// Set installs the segment text and pacing. With no pacing data or an
// inactive segment the full text is revealed immediately; content display
// never blocks on animation. Text that does not extend the currently
// revealed prefix is treated as a new segment and restarts the animation.
func (s *Synchronizer) Set(fullText string, secondsPerWord float64, active bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	runes := []rune(fullText)

	if !active || secondsPerWord <= 0 {
		s.full = runes
		s.revealed = len(runes)
		s.perChar = 0
		return
	}

	if !extendsPrefix(runes, s.full, s.revealed) {
		s.revealed = 0
		s.nextDue = time.Time{}
	}
	s.full = runes
	s.perChar = time.Duration(secondsPerWord / s.cfg.AvgCharsPerWord * float64(time.Second))
}

func extendsPrefix(next, prev []rune, revealed int) bool {
	if revealed > len(next) {
		return false
	}
	for i := 0; i < revealed; i++ {
		if next[i] != prev[i] {
			return false
		}
	}
	return true
}

// Tick advances the animation to now and reports whether the revealed
// prefix grew. When the loop fell behind schedule it reveals extra
// characters proportional to the elapsed time, bounded by MaxCatchUp.
func (s *Synchronizer) Tick(now time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	remaining := len(s.full) - s.revealed
	if remaining <= 0 {
		return false
	}
	if s.perChar <= 0 {
		s.revealed = len(s.full)
		return true
	}
	if s.nextDue.IsZero() {
		s.nextDue = now
	}
	if now.Before(s.nextDue) {
		return false
	}

	n := 1 + int(now.Sub(s.nextDue)/s.perChar)
	if n > s.cfg.MaxCatchUp {
		n = s.cfg.MaxCatchUp
	}
	if n > remaining {
		n = remaining
	}
	s.revealed += n
	s.nextDue = now.Add(s.jitteredDelay())
	return true
}

func (s *Synchronizer) jitteredDelay() time.Duration {
	if s.cfg.Jitter <= 0 {
		return s.perChar
	}
	factor := 1 + (s.rnd.Float64()*2-1)*s.cfg.Jitter
	return time.Duration(float64(s.perChar) * factor)
}

// Revealed returns the currently visible prefix.
func (s *Synchronizer) Revealed() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return string(s.full[:s.revealed])
}

// Done reports whether the full text is visible.
func (s *Synchronizer) Done() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.revealed >= len(s.full)
}

// Reset clears the segment state.
func (s *Synchronizer) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.full = nil
	s.revealed = 0
	s.perChar = 0
	s.nextDue = time.Time{}
}
