package audio

import (
	"encoding/base64"
	"errors"
	"fmt"
)

// Fixed PCM format of the push channel. Every chunk the backend sends is
// 24000 Hz, 16-bit signed little-endian, mono.
const (
	SampleRate     = 24000
	Channels       = 1
	BitDepth       = 16
	BytesPerSample = BitDepth / 8
)

// Decode failures are chunk-level and never fatal: the caller drops the
// chunk and logs.
var (
	ErrBadBase64 = errors.New("payload is not valid base64")
	ErrOddLength = errors.New("payload byte length is not a multiple of 2")
)

// Chunk is one speech fragment as it arrives off the push channel.
type Chunk struct {
	Speaker string
	Round   int
	Payload string
}

// Segment is a decoded chunk ready for playback. Raw keeps the original
// PCM bytes so the capture buffer can mirror exactly what arrived.
type Segment struct {
	Speaker string
	Round   int
	Samples []float64
	Raw     []byte
}

// DurationSeconds is the segment's play time at the channel's native rate.
func (s *Segment) DurationSeconds() float64 {
	return float64(len(s.Samples)) / SampleRate
}

// Decode converts a base64-wrapped PCM16LE chunk into normalized samples
// in [-1.0, 1.0).
func Decode(c Chunk) (*Segment, error) {
	raw, err := base64.StdEncoding.DecodeString(c.Payload)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadBase64, err)
	}
	if len(raw)%BytesPerSample != 0 {
		return nil, fmt.Errorf("%w: %d bytes", ErrOddLength, len(raw))
	}

	samples := make([]float64, len(raw)/BytesPerSample)
	for i := range samples {
		v := int16(raw[i*2]) | int16(raw[i*2+1])<<8
		samples[i] = float64(v) / 32768.0
	}

	return &Segment{
		Speaker: c.Speaker,
		Round:   c.Round,
		Samples: samples,
		Raw:     raw,
	}, nil
}

// EncodeSamples converts normalized samples back to PCM16LE bytes,
// clamping to the representable range.
func EncodeSamples(samples []float64) []byte {
	raw := make([]byte, len(samples)*BytesPerSample)
	for i, s := range samples {
		v := s * 32768.0
		if v > 32767 {
			v = 32767
		}
		if v < -32768 {
			v = -32768
		}
		u := int16(v)
		raw[i*2] = byte(u)
		raw[i*2+1] = byte(u >> 8)
	}
	return raw
}
