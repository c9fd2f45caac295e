package config

import "testing"

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Bus.Servers[0] != "nats://localhost:4222" {
		t.Fatalf("expected default server, got %v", cfg.Bus.Servers)
	}
	if cfg.Voice.SampleRate != 24000 {
		t.Fatalf("expected 24000 Hz default, got %d", cfg.Voice.SampleRate)
	}
	if cfg.Voice.CaptureCeiling != 50<<20 {
		t.Fatalf("expected 50 MiB capture ceiling, got %d", cfg.Voice.CaptureCeiling)
	}
	if cfg.Reveal.AvgCharsPerWord != 6.5 {
		t.Fatalf("expected 6.5 chars per word, got %v", cfg.Reveal.AvgCharsPerWord)
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("PODIUM_BUS_SERVERS", "nats://one:4222, nats://two:4222")
	t.Setenv("PODIUM_BUS_EMBEDDED", "false")
	t.Setenv("PODIUM_VOICE_CAPTURE_CEILING_BYTES", "1048576")
	t.Setenv("PODIUM_EXPORT_COMMAND", "ffmpeg -f s16le -ar 24000 -ac 1 -i - -b:a 128k -f mp3 -")
	t.Setenv("PODIUM_REVEAL_JITTER", "0.2")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(cfg.Bus.Servers) != 2 {
		t.Fatalf("expected 2 servers, got %v", cfg.Bus.Servers)
	}
	if cfg.Bus.Embedded {
		t.Fatal("expected embedded override false")
	}
	if cfg.Voice.CaptureCeiling != 1<<20 {
		t.Fatalf("expected 1 MiB ceiling, got %d", cfg.Voice.CaptureCeiling)
	}
	if cfg.Export.Command == Default().Export.Command {
		t.Fatal("expected export command override")
	}
	if cfg.Reveal.Jitter != 0.2 {
		t.Fatalf("expected jitter 0.2, got %v", cfg.Reveal.Jitter)
	}
}

func TestValidateRejectsBadVoiceFormat(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"stereo", func(c *Config) { c.Voice.Channels = 2 }},
		{"bit depth", func(c *Config) { c.Voice.BitDepth = 24 }},
		{"bands not power of two", func(c *Config) { c.Voice.WaveformBands = 33 }},
		{"jitter out of range", func(c *Config) { c.Reveal.Jitter = 1.5 }},
		{"zero ceiling", func(c *Config) { c.Voice.CaptureCeiling = 0 }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := Default()
			tc.mutate(&cfg)
			if err := validate(cfg); err == nil {
				t.Fatal("expected validation error")
			}
		})
	}
}
