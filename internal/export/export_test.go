package export

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/podiumlabs/podium-voice/internal/audio"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

type mockEncoder struct {
	out []byte
	err error
	got []byte
}

func (m *mockEncoder) Encode(_ context.Context, pcm []byte) ([]byte, error) {
	m.got = append([]byte(nil), pcm...)
	if m.err != nil {
		return nil, m.err
	}
	return m.out, nil
}

func capturedSession(t *testing.T, chunks ...[]byte) *audio.Capture {
	t.Helper()
	c := audio.NewCapture(1 << 20)
	for _, ch := range chunks {
		c.Append(ch)
	}
	return c
}

func TestExportEmptyCaptureReturnsNil(t *testing.T) {
	e := New(&mockEncoder{out: []byte("x")}, testLogger())
	res, err := e.Export(context.Background(), audio.NewCapture(1024))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res != nil {
		t.Fatalf("expected nil result for empty capture, got %+v", res)
	}
}

func TestExportCompressedPath(t *testing.T) {
	enc := &mockEncoder{out: []byte("mp3-bytes")}
	e := New(enc, testLogger())
	res, err := e.Export(context.Background(), capturedSession(t, []byte{1, 2}, []byte{3, 4}))
	if err != nil {
		t.Fatalf("export: %v", err)
	}
	if res.Format != FormatMP3 || res.ContentType != "audio/mpeg" {
		t.Fatalf("unexpected result tag: %+v", res)
	}
	if !bytes.Equal(res.Data, []byte("mp3-bytes")) {
		t.Fatal("encoder output not returned")
	}
	// The encoder must see the chunks merged in arrival order.
	if !bytes.Equal(enc.got, []byte{1, 2, 3, 4}) {
		t.Fatalf("encoder fed %v, want merged arrival order", enc.got)
	}
}

func TestExportFallsBackToWAV(t *testing.T) {
	capture := capturedSession(t, []byte{1, 0, 2, 0}, []byte{3, 0})
	e := New(&mockEncoder{err: errors.New("no encoder")}, testLogger())
	res, err := e.Export(context.Background(), capture)
	if err != nil {
		t.Fatalf("export: %v", err)
	}
	if res.Format != FormatWAV || res.ContentType != "audio/wav" {
		t.Fatalf("expected wav fallback, got %+v", res)
	}
	if len(res.Data) != 44+capture.Len() {
		t.Fatalf("expected 44-byte header + %d payload, got %d bytes", capture.Len(), len(res.Data))
	}
	if sr := binary.LittleEndian.Uint32(res.Data[24:28]); sr != audio.SampleRate {
		t.Fatalf("fallback header sample rate %d, want %d", sr, audio.SampleRate)
	}
	if ds := binary.LittleEndian.Uint32(res.Data[40:44]); int(ds) != capture.Len() {
		t.Fatalf("fallback header payload length %d, want %d", ds, capture.Len())
	}
	if !bytes.Equal(res.Data[44:], capture.Bytes()) {
		t.Fatal("fallback payload must be the captured stream byte for byte")
	}
}

func TestExportNoEncoderConfigured(t *testing.T) {
	e := New(nil, testLogger())
	res, err := e.Export(context.Background(), capturedSession(t, []byte{1, 0}))
	if err != nil {
		t.Fatalf("export: %v", err)
	}
	if res.Format != FormatWAV {
		t.Fatalf("expected wav, got %s", res.Format)
	}
}

func TestExecEncoderFramesEntireStream(t *testing.T) {
	// cat copies stdin to stdout, so the output must equal the input
	// regardless of how it was framed.
	enc, err := NewExecEncoder("cat", 4, 5*time.Second)
	if err != nil {
		t.Fatalf("new encoder: %v", err)
	}
	if !enc.Available() {
		t.Skip("cat not on PATH")
	}
	pcm := make([]byte, 4*7+2) // forces a trailing partial frame
	for i := range pcm {
		pcm[i] = byte(i)
	}
	out, err := enc.Encode(context.Background(), pcm)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if !bytes.Equal(out, pcm) {
		t.Fatal("framed stream does not match input")
	}
}

func TestExecEncoderUnavailable(t *testing.T) {
	enc, err := NewExecEncoder("definitely-not-a-real-encoder-binary", 1152, time.Second)
	if err != nil {
		t.Fatalf("new encoder: %v", err)
	}
	if enc.Available() {
		t.Fatal("expected unavailable")
	}
	if _, err := enc.Encode(context.Background(), []byte{1, 2}); err == nil {
		t.Fatal("expected error for missing binary")
	}
}

func TestExecEncoderRejectsBadCommand(t *testing.T) {
	if _, err := NewExecEncoder("", 1152, time.Second); err == nil {
		t.Fatal("expected error for empty command")
	}
}
