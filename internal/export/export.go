// Package export turns the captured session into a single portable audio
// blob: lossy-compressed when an encoder is available, a WAV container
// otherwise. Callers treat both outcomes as one playable file.
package export

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/podiumlabs/podium-voice/internal/audio"
)

type Format string

const (
	FormatMP3 Format = "mp3"
	FormatWAV Format = "wav"
)

// Result is the tagged outcome of an export: the format tells callers which
// path produced it, the payload is uniform either way.
type Result struct {
	Format      Format
	ContentType string
	Data        []byte
}

// Encoder compresses one contiguous PCM16LE stream.
type Encoder interface {
	Encode(ctx context.Context, pcm []byte) ([]byte, error)
}

// Exporter merges the capture buffer and encodes it.
type Exporter struct {
	enc Encoder
	log *slog.Logger
}

func New(enc Encoder, log *slog.Logger) *Exporter {
	return &Exporter{
		enc: enc,
		log: log.With(slog.String("component", "export")),
	}
}

// Export drains the capture buffer into one blob. Returns (nil, nil) when
// nothing was captured. Compression failure is recoverable: the raw PCM is
// wrapped in a WAV container instead, and the chosen path is logged.
func (e *Exporter) Export(ctx context.Context, capture *audio.Capture) (*Result, error) {
	pcm := capture.Bytes()
	if len(pcm) == 0 {
		return nil, nil
	}

	if e.enc != nil {
		data, err := e.enc.Encode(ctx, pcm)
		if err == nil {
			e.log.Info("session exported",
				slog.String("format", string(FormatMP3)),
				slog.Int("pcm_bytes", len(pcm)),
				slog.Int("encoded_bytes", len(data)))
			return &Result{Format: FormatMP3, ContentType: "audio/mpeg", Data: data}, nil
		}
		e.log.Warn("lossy encode failed, falling back to wav", slogError(err))
	}

	data, err := audio.EncodeWAV(pcm)
	if err != nil {
		return nil, fmt.Errorf("wav fallback: %w", err)
	}
	e.log.Info("session exported",
		slog.String("format", string(FormatWAV)),
		slog.Int("pcm_bytes", len(pcm)))
	return &Result{Format: FormatWAV, ContentType: "audio/wav", Data: data}, nil
}

func slogError(err error) slog.Attr {
	return slog.String("error", err.Error())
}
