package audio

import (
	"bytes"
	"encoding/binary"
	"testing"

	"github.com/go-audio/wav"
)

func TestEncodeWAVHeader(t *testing.T) {
	raw := EncodeSamples(make([]float64, 2400)) // 0.1s of silence
	data, err := EncodeWAV(raw)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if len(data) != 44+len(raw) {
		t.Fatalf("expected %d bytes (44-byte header + payload), got %d", 44+len(raw), len(data))
	}
	if string(data[0:4]) != "RIFF" || string(data[8:12]) != "WAVE" {
		t.Fatal("missing RIFF/WAVE magic")
	}
	if sr := binary.LittleEndian.Uint32(data[24:28]); sr != SampleRate {
		t.Fatalf("header sample rate %d, want %d", sr, SampleRate)
	}
	if ch := binary.LittleEndian.Uint16(data[22:24]); ch != Channels {
		t.Fatalf("header channels %d, want %d", ch, Channels)
	}
	if bd := binary.LittleEndian.Uint16(data[34:36]); bd != BitDepth {
		t.Fatalf("header bit depth %d, want %d", bd, BitDepth)
	}
	if ds := binary.LittleEndian.Uint32(data[40:44]); int(ds) != len(raw) {
		t.Fatalf("header data size %d, want %d", ds, len(raw))
	}
}

func TestEncodeWAVRoundTrip(t *testing.T) {
	in := []int16{0, 1000, -1000, 32767, -32768, 42}
	raw := make([]byte, len(in)*2)
	for i, s := range in {
		raw[i*2] = byte(s)
		raw[i*2+1] = byte(s >> 8)
	}

	data, err := EncodeWAV(raw)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}

	dec := wav.NewDecoder(bytes.NewReader(data))
	buf, err := dec.FullPCMBuffer()
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if int(dec.SampleRate) != SampleRate {
		t.Fatalf("decoded sample rate %d, want %d", dec.SampleRate, SampleRate)
	}
	if len(buf.Data) != len(in) {
		t.Fatalf("expected %d samples, got %d", len(in), len(buf.Data))
	}
	for i, want := range in {
		if int16(buf.Data[i]) != want {
			t.Fatalf("sample %d: got %d, want %d", i, buf.Data[i], want)
		}
	}
}

func TestEncodeWAVRejectsBadInput(t *testing.T) {
	if _, err := EncodeWAV(nil); err == nil {
		t.Fatal("expected error for empty stream")
	}
	if _, err := EncodeWAV([]byte{1, 2, 3}); err == nil {
		t.Fatal("expected error for odd byte length")
	}
}
