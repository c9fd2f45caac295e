package protocol

import "time"

// AudioChunk is one base64-wrapped fragment of 16-bit LE mono PCM speech
// pushed by the backend for a debate session.
type AudioChunk struct {
	Speaker string `json:"speaker"`
	Round   int    `json:"round"`
	Payload string `json:"payload_base64"`
}

// TranscriptUpdate carries the running transcript text for a speaker's turn
// plus the backend's pacing figure used to derive reveal cadence.
type TranscriptUpdate struct {
	Speaker        string  `json:"speaker"`
	Round          int     `json:"round"`
	Text           string  `json:"text"`
	SecondsPerWord float64 `json:"seconds_per_word,omitempty"`
	Active         bool    `json:"active"`
}

// VoiceError is an out-of-band failure reported by the backend.
type VoiceError struct {
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

// Control actions accepted on the control subject.
const (
	ActionPlay   = "play"
	ActionPause  = "pause"
	ActionResume = "resume"
	ActionVolume = "volume"
	ActionExport = "export"
	ActionEnd    = "end"
)

// Control is a UI-originated playback command.
type Control struct {
	Action string   `json:"action"`
	Volume *float64 `json:"volume,omitempty"`
}

// StateUpdate is broadcast on every playback state transition.
type StateUpdate struct {
	State     string    `json:"state"`
	Speaker   string    `json:"speaker,omitempty"`
	Round     int       `json:"round,omitempty"`
	Volume    float64   `json:"volume"`
	Error     string    `json:"error,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// RevealUpdate is the progressively revealed transcript prefix.
type RevealUpdate struct {
	Speaker string `json:"speaker"`
	Round   int    `json:"round"`
	Text    string `json:"text"`
	Done    bool   `json:"done"`
}

// WaveformUpdate carries a frequency-magnitude snapshot for visualization.
type WaveformUpdate struct {
	Bands []float64 `json:"bands"`
}

// ExportReply is the response to an export control request.
type ExportReply struct {
	Format      string `json:"format"`
	ContentType string `json:"content_type"`
	DataBase64  string `json:"data_base64"`
	Bytes       int    `json:"bytes"`
	Error       string `json:"error,omitempty"`
}

const (
	SubjectChunkPrefix      = "voice.chunk"
	SubjectTranscriptPrefix = "voice.transcript"
	SubjectErrorPrefix      = "voice.error"
	SubjectControlPrefix    = "voice.control"
	SubjectStatePrefix      = "voice.state"
	SubjectRevealPrefix     = "voice.reveal"
	SubjectWaveformPrefix   = "voice.waveform"
)
