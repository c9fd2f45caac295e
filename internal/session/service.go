// Package session demultiplexes the push channel into per-debate playback
// engines and publishes their state back onto the bus.
package session

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log/slog"
	"math/rand"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/podiumlabs/podium-voice/internal/audio"
	"github.com/podiumlabs/podium-voice/internal/bus"
	"github.com/podiumlabs/podium-voice/internal/config"
	"github.com/podiumlabs/podium-voice/internal/export"
	"github.com/podiumlabs/podium-voice/internal/playback"
	"github.com/podiumlabs/podium-voice/internal/protocol"
	"github.com/podiumlabs/podium-voice/internal/reveal"
)

// OutputFactory builds the output graph for a new session. Tests swap in a
// manual pump; production uses the speaker-backed graph.
type OutputFactory func(sessionID string) playback.Output

type Service struct {
	cfg      config.Config
	bus      *bus.Client
	exporter *export.Exporter
	outputs  OutputFactory
	log      *slog.Logger

	mu       sync.Mutex
	sessions map[string]*session
	subs     []*nats.Subscription
	ctx      context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	ready    bool

	chunksDecoded  metric.Int64Counter
	chunksRejected metric.Int64Counter
	captureBytes   metric.Int64Counter
	exportsDone    metric.Int64Counter
}

// session is one debate's playback engine: controller plus output graph for
// sound, capture for export, and the reveal pacer for its transcript.
type session struct {
	id      string
	out     playback.Output
	ctl     *playback.Controller
	capture *audio.Capture
	reveal  *reveal.Synchronizer

	mu           sync.Mutex
	speaker      string
	round        int
	lastRevealed int
	lastDone     bool
	droppedSeen  bool
}

func NewService(parent context.Context, cfg config.Config, busClient *bus.Client, exporter *export.Exporter, outputs OutputFactory) *Service {
	ctx, cancel := context.WithCancel(parent)
	s := &Service{
		cfg:      cfg,
		bus:      busClient,
		exporter: exporter,
		outputs:  outputs,
		log:      busClient.Logger().With(slog.String("component", "session")),
		sessions: make(map[string]*session),
		ctx:      ctx,
		cancel:   cancel,
	}
	if s.outputs == nil {
		s.outputs = func(string) playback.Output {
			return playback.NewGraph(playback.GraphConfig{
				WaveformBands:   cfg.Voice.WaveformBands,
				SpeakerBufferMS: cfg.Voice.SpeakerBufferMS,
			}, s.log)
		}
	}
	s.initMetrics()
	return s
}

func (s *Service) initMetrics() {
	meter := otel.Meter("podium-voice/session")
	var err error
	if s.chunksDecoded, err = meter.Int64Counter("podium.chunks.decoded", metric.WithDescription("Audio chunks decoded and enqueued")); err != nil {
		s.log.Warn("failed to create counter", slogError(err))
	}
	if s.chunksRejected, err = meter.Int64Counter("podium.chunks.rejected", metric.WithDescription("Audio chunks dropped as malformed")); err != nil {
		s.log.Warn("failed to create counter", slogError(err))
	}
	if s.captureBytes, err = meter.Int64Counter("podium.capture.bytes", metric.WithDescription("PCM bytes retained for export")); err != nil {
		s.log.Warn("failed to create counter", slogError(err))
	}
	if s.exportsDone, err = meter.Int64Counter("podium.exports", metric.WithDescription("Completed session exports")); err != nil {
		s.log.Warn("failed to create counter", slogError(err))
	}
}

func (s *Service) Start() error {
	handlers := map[string]nats.MsgHandler{
		protocol.SubjectChunkPrefix + ".>":      s.handleChunk,
		protocol.SubjectTranscriptPrefix + ".>": s.handleTranscript,
		protocol.SubjectErrorPrefix + ".>":      s.handleError,
		protocol.SubjectControlPrefix + ".>":    s.handleControl,
	}
	for subject, handler := range handlers {
		sub, err := s.bus.Conn().Subscribe(subject, handler)
		if err != nil {
			return fmt.Errorf("subscribe %s: %w", subject, err)
		}
		s.subs = append(s.subs, sub)
	}

	s.wg.Add(1)
	go s.run()

	s.mu.Lock()
	s.ready = true
	s.mu.Unlock()
	return nil
}

func (s *Service) Close() {
	s.cancel()
	for _, sub := range s.subs {
		_ = sub.Drain()
	}
	s.wg.Wait()

	s.mu.Lock()
	defer s.mu.Unlock()
	for id, sess := range s.sessions {
		sess.ctl.Close()
		sess.out.Close()
		delete(s.sessions, id)
	}
	s.ready = false
}

func (s *Service) Healthy() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ready
}

// SessionCount reports the live sessions for the readiness endpoint.
func (s *Service) SessionCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

// sessionID is the subject remainder past the prefix. Messages published
// without one share an engine keyed by a generated ID.
func (s *Service) sessionID(subject, prefix string) string {
	id := strings.TrimPrefix(subject, prefix+".")
	if id == "" || id == subject {
		return uuid.NewString()
	}
	return id
}

func (s *Service) session(id string) *session {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess := s.sessions[id]
	if sess != nil {
		return sess
	}

	sess = &session{
		id:      id,
		out:     s.outputs(id),
		capture: audio.NewCapture(s.cfg.Voice.CaptureCeiling),
		reveal: reveal.New(reveal.Config{
			AvgCharsPerWord: s.cfg.Reveal.AvgCharsPerWord,
			Jitter:          s.cfg.Reveal.Jitter,
			MaxCatchUp:      s.cfg.Reveal.MaxCatchUpChars,
		}, rand.New(rand.NewSource(time.Now().UnixNano()))),
		// An empty transcript counts as done; seed the snapshot so the
		// reveal loop stays quiet until text arrives.
		lastDone: true,
	}
	sess.ctl = playback.NewController(s.ctx, playback.ControllerConfig{
		WatchdogGrace: time.Duration(s.cfg.Voice.WatchdogGraceMS) * time.Millisecond,
	}, sess.out, s.log.With(slog.String("session", id)), func(st playback.Status) {
		s.publishState(id, st)
	})
	s.sessions[id] = sess
	s.log.Info("session started", slog.String("session", id))
	return sess
}

func (s *Service) handleChunk(msg *nats.Msg) {
	id := s.sessionID(msg.Subject, protocol.SubjectChunkPrefix)
	var chunk protocol.AudioChunk
	if err := json.Unmarshal(msg.Data, &chunk); err != nil {
		s.log.Warn("failed to decode audio chunk", slogError(err))
		s.count(s.chunksRejected, 1)
		return
	}

	seg, err := audio.Decode(audio.Chunk{
		Speaker: chunk.Speaker,
		Round:   chunk.Round,
		Payload: chunk.Payload,
	})
	if err != nil {
		s.log.Warn("dropping malformed chunk",
			slog.String("session", id),
			slog.String("speaker", chunk.Speaker),
			slogError(err))
		s.count(s.chunksRejected, 1)
		return
	}

	sess := s.session(id)
	sess.capture.Append(seg.Raw)
	s.count(s.captureBytes, int64(len(seg.Raw)))
	if dropped := sess.capture.Dropped(); dropped > 0 {
		sess.mu.Lock()
		first := !sess.droppedSeen
		sess.droppedSeen = true
		sess.mu.Unlock()
		if first {
			s.log.Warn("capture ceiling reached, export will cover a prefix of the session",
				slog.String("session", id),
				slog.Int("retained_bytes", sess.capture.Len()))
		}
	}
	sess.ctl.Enqueue(seg)
	s.count(s.chunksDecoded, 1)
}

func (s *Service) handleTranscript(msg *nats.Msg) {
	id := s.sessionID(msg.Subject, protocol.SubjectTranscriptPrefix)
	var tu protocol.TranscriptUpdate
	if err := json.Unmarshal(msg.Data, &tu); err != nil {
		s.log.Warn("failed to decode transcript update", slogError(err))
		return
	}

	sess := s.session(id)
	sess.mu.Lock()
	sess.speaker = tu.Speaker
	sess.round = tu.Round
	sess.mu.Unlock()
	sess.reveal.Set(tu.Text, tu.SecondsPerWord, tu.Active)
}

func (s *Service) handleError(msg *nats.Msg) {
	id := s.sessionID(msg.Subject, protocol.SubjectErrorPrefix)
	var ve protocol.VoiceError
	if err := json.Unmarshal(msg.Data, &ve); err != nil {
		s.log.Warn("failed to decode error event", slogError(err))
		return
	}
	s.log.Warn("backend reported session failure",
		slog.String("session", id),
		slog.String("message", ve.Message))
	s.session(id).ctl.Fail(ve.Message)
}

func (s *Service) handleControl(msg *nats.Msg) {
	id := s.sessionID(msg.Subject, protocol.SubjectControlPrefix)
	var ctl protocol.Control
	if err := json.Unmarshal(msg.Data, &ctl); err != nil {
		s.log.Warn("failed to decode control command", slogError(err))
		return
	}

	sess := s.session(id)
	switch ctl.Action {
	case protocol.ActionPlay:
		sess.ctl.Toggle()
	case protocol.ActionPause:
		sess.ctl.Pause()
	case protocol.ActionResume:
		sess.ctl.Resume()
	case protocol.ActionVolume:
		if ctl.Volume == nil {
			s.log.Warn("volume command without a value", slog.String("session", id))
			return
		}
		sess.ctl.SetVolume(*ctl.Volume)
	case protocol.ActionExport:
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.exportSession(sess, msg.Reply)
		}()
	case protocol.ActionEnd:
		s.endSession(sess)
	default:
		s.log.Warn("unknown control action",
			slog.String("session", id),
			slog.String("action", ctl.Action))
	}
}

func (s *Service) exportSession(sess *session, replyTo string) {
	ctx, cancel := context.WithTimeout(s.ctx, time.Duration(s.cfg.Export.TimeoutMS)*time.Millisecond)
	defer cancel()

	reply := protocol.ExportReply{}
	result, err := s.exporter.Export(ctx, sess.capture)
	switch {
	case err != nil:
		reply.Error = err.Error()
		s.log.Warn("export failed", slog.String("session", sess.id), slogError(err))
	case result == nil:
		reply.Error = "nothing captured for this session"
	default:
		reply.Format = string(result.Format)
		reply.ContentType = result.ContentType
		reply.DataBase64 = base64.StdEncoding.EncodeToString(result.Data)
		reply.Bytes = len(result.Data)
		s.count(s.exportsDone, 1, attribute.String("format", reply.Format))
		s.log.Info("export completed",
			slog.String("session", sess.id),
			slog.String("format", reply.Format),
			slog.Int("bytes", reply.Bytes))
	}

	if replyTo == "" {
		return
	}
	data, err := json.Marshal(reply)
	if err != nil {
		s.log.Warn("failed to marshal export reply", slogError(err))
		return
	}
	if err := s.bus.Conn().Publish(replyTo, data); err != nil {
		s.log.Warn("failed to publish export reply", slogError(err))
	}
}

func (s *Service) endSession(sess *session) {
	sess.ctl.End()
	sess.capture.Reset()
	sess.reveal.Reset()
	sess.ctl.Close()
	sess.out.Close()

	s.mu.Lock()
	delete(s.sessions, sess.id)
	s.mu.Unlock()
	s.log.Info("session ended", slog.String("session", sess.id))
}

// run drives the periodic outputs: waveform snapshots at the sampler
// interval and reveal progress at the reveal cadence.
func (s *Service) run() {
	defer s.wg.Done()
	sampler := time.NewTicker(time.Duration(s.cfg.Voice.SamplerIntervalMS) * time.Millisecond)
	defer sampler.Stop()
	revealTick := time.NewTicker(time.Duration(s.cfg.Reveal.TickMS) * time.Millisecond)
	defer revealTick.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-sampler.C:
			s.publishWaveforms()
		case now := <-revealTick.C:
			s.tickReveals(now)
		}
	}
}

func (s *Service) snapshot() []*session {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*session, 0, len(s.sessions))
	for _, sess := range s.sessions {
		out = append(out, sess)
	}
	return out
}

func (s *Service) publishWaveforms() {
	for _, sess := range s.snapshot() {
		bands := sess.out.Waveform()
		if bands == nil {
			continue
		}
		s.publish(protocol.SubjectWaveformPrefix+"."+sess.id, protocol.WaveformUpdate{Bands: bands})
	}
}

func (s *Service) tickReveals(now time.Time) {
	for _, sess := range s.snapshot() {
		sess.reveal.Tick(now)
		// Compare against the last published snapshot rather than trusting
		// the tick: an inactive transcript reveals in Set, not in Tick.
		text := sess.reveal.Revealed()
		done := sess.reveal.Done()

		sess.mu.Lock()
		changed := len(text) != sess.lastRevealed || done != sess.lastDone
		sess.lastRevealed = len(text)
		sess.lastDone = done
		speaker, round := sess.speaker, sess.round
		sess.mu.Unlock()
		if !changed {
			continue
		}

		s.publish(protocol.SubjectRevealPrefix+"."+sess.id, protocol.RevealUpdate{
			Speaker: speaker,
			Round:   round,
			Text:    text,
			Done:    done,
		})
	}
}

func (s *Service) publishState(id string, st playback.Status) {
	s.publish(protocol.SubjectStatePrefix+"."+id, protocol.StateUpdate{
		State:     string(st.State),
		Speaker:   st.Speaker,
		Round:     st.Round,
		Volume:    st.Volume,
		Error:     st.Err,
		Timestamp: time.Now().UTC(),
	})
}

func (s *Service) publish(subject string, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		s.log.Warn("failed to marshal bus message", slog.String("subject", subject), slogError(err))
		return
	}
	if err := s.bus.Conn().Publish(subject, data); err != nil {
		s.log.Warn("failed to publish bus message", slog.String("subject", subject), slogError(err))
	}
}

func (s *Service) count(c metric.Int64Counter, n int64, attrs ...attribute.KeyValue) {
	if c == nil {
		return
	}
	c.Add(s.ctx, n, metric.WithAttributes(attrs...))
}

func slogError(err error) slog.Attr {
	return slog.String("error", err.Error())
}
