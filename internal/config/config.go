package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

type TelemetryConfig struct {
	LogLevel       string `yaml:"log_level"`
	OTLPEndpoint   string `yaml:"otlp_endpoint"`
	OTLPInsecure   bool   `yaml:"otlp_insecure"`
	PrometheusBind string `yaml:"prometheus_bind"`
}

type HTTPConfig struct {
	Bind string `yaml:"bind"`
	Port int    `yaml:"port"`
}

type BusConfig struct {
	Embedded       bool     `yaml:"embedded"`
	Port           int      `yaml:"port"`
	Servers        []string `yaml:"servers"`
	Username       string   `yaml:"username"`
	Password       string   `yaml:"password"`
	Token          string   `yaml:"token"`
	TLSInsecure    bool     `yaml:"tls_insecure"`
	ConnectTimeout int      `yaml:"connect_timeout_ms"`
}

// VoiceConfig describes the fixed PCM format of the push channel and the
// playback engine's tunables.
type VoiceConfig struct {
	SampleRate        int `yaml:"sample_rate"`
	Channels          int `yaml:"channels"`
	BitDepth          int `yaml:"bit_depth"`
	CaptureCeiling    int `yaml:"capture_ceiling_bytes"`
	WatchdogGraceMS   int `yaml:"watchdog_grace_ms"`
	SpeakerBufferMS   int `yaml:"speaker_buffer_ms"`
	WaveformBands     int `yaml:"waveform_bands"`
	SamplerIntervalMS int `yaml:"sampler_interval_ms"`
}

type ExportConfig struct {
	Command      string `yaml:"command"`
	BitrateKbps  int    `yaml:"bitrate_kbps"`
	FrameSamples int    `yaml:"frame_samples"`
	TimeoutMS    int    `yaml:"timeout_ms"`
}

type RevealConfig struct {
	AvgCharsPerWord float64 `yaml:"avg_chars_per_word"`
	TickMS          int     `yaml:"tick_ms"`
	Jitter          float64 `yaml:"jitter"`
	MaxCatchUpChars int     `yaml:"max_catch_up_chars"`
}

type Config struct {
	RuntimeName string          `yaml:"runtime_name"`
	Environment string          `yaml:"environment"`
	HTTP        HTTPConfig      `yaml:"http"`
	Telemetry   TelemetryConfig `yaml:"telemetry"`
	Bus         BusConfig       `yaml:"bus"`
	Voice       VoiceConfig     `yaml:"voice"`
	Export      ExportConfig    `yaml:"export"`
	Reveal      RevealConfig    `yaml:"reveal"`
}

func Default() Config {
	return Config{
		RuntimeName: "podium-voice",
		Environment: "development",
		HTTP: HTTPConfig{
			Bind: "0.0.0.0",
			Port: 8080,
		},
		Telemetry: TelemetryConfig{
			LogLevel:       "info",
			OTLPEndpoint:   "",
			OTLPInsecure:   true,
			PrometheusBind: ":9091",
		},
		Bus: BusConfig{
			Embedded:       true,
			Port:           4222,
			Servers:        []string{"nats://localhost:4222"},
			ConnectTimeout: 2000,
		},
		Voice: VoiceConfig{
			SampleRate:        24000,
			Channels:          1,
			BitDepth:          16,
			CaptureCeiling:    50 << 20,
			WatchdogGraceMS:   2000,
			SpeakerBufferMS:   100,
			WaveformBands:     32,
			SamplerIntervalMS: 33,
		},
		Export: ExportConfig{
			Command:      "lame -r -s 24 --signed --bitwidth 16 -m m -b 128 --quiet - -",
			BitrateKbps:  128,
			FrameSamples: 1152,
			TimeoutMS:    60000,
		},
		Reveal: RevealConfig{
			AvgCharsPerWord: 6.5,
			TickMS:          30,
			Jitter:          0.35,
			MaxCatchUpChars: 32,
		},
	}
}

func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if os.IsNotExist(err) {
				return cfg, fmt.Errorf("config file not found: %w", err)
			}
			return cfg, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	applyEnvOverrides(&cfg)
	if err := validate(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	overrideString(&cfg.RuntimeName, "PODIUM_RUNTIME_NAME")
	overrideString(&cfg.Environment, "PODIUM_RUNTIME_ENVIRONMENT")
	overrideString(&cfg.HTTP.Bind, "PODIUM_HTTP_BIND")
	overrideInt(&cfg.HTTP.Port, "PODIUM_HTTP_PORT")
	overrideString(&cfg.Telemetry.LogLevel, "PODIUM_TELEMETRY_LOG_LEVEL")
	overrideString(&cfg.Telemetry.OTLPEndpoint, "PODIUM_TELEMETRY_OTLP_ENDPOINT")
	overrideBool(&cfg.Telemetry.OTLPInsecure, "PODIUM_TELEMETRY_OTLP_INSECURE")
	overrideString(&cfg.Telemetry.PrometheusBind, "PODIUM_TELEMETRY_PROMETHEUS_BIND")
	overrideBool(&cfg.Bus.Embedded, "PODIUM_BUS_EMBEDDED")
	overrideInt(&cfg.Bus.Port, "PODIUM_BUS_PORT")
	overrideStringSlice(&cfg.Bus.Servers, "PODIUM_BUS_SERVERS")
	overrideString(&cfg.Bus.Username, "PODIUM_BUS_USERNAME")
	overrideString(&cfg.Bus.Password, "PODIUM_BUS_PASSWORD")
	overrideString(&cfg.Bus.Token, "PODIUM_BUS_TOKEN")
	overrideBool(&cfg.Bus.TLSInsecure, "PODIUM_BUS_TLS_INSECURE")
	overrideInt(&cfg.Bus.ConnectTimeout, "PODIUM_BUS_CONNECT_TIMEOUT_MS")
	overrideInt(&cfg.Voice.SampleRate, "PODIUM_VOICE_SAMPLE_RATE")
	overrideInt(&cfg.Voice.CaptureCeiling, "PODIUM_VOICE_CAPTURE_CEILING_BYTES")
	overrideInt(&cfg.Voice.WatchdogGraceMS, "PODIUM_VOICE_WATCHDOG_GRACE_MS")
	overrideInt(&cfg.Voice.SpeakerBufferMS, "PODIUM_VOICE_SPEAKER_BUFFER_MS")
	overrideInt(&cfg.Voice.WaveformBands, "PODIUM_VOICE_WAVEFORM_BANDS")
	overrideInt(&cfg.Voice.SamplerIntervalMS, "PODIUM_VOICE_SAMPLER_INTERVAL_MS")
	overrideString(&cfg.Export.Command, "PODIUM_EXPORT_COMMAND")
	overrideInt(&cfg.Export.BitrateKbps, "PODIUM_EXPORT_BITRATE_KBPS")
	overrideInt(&cfg.Export.FrameSamples, "PODIUM_EXPORT_FRAME_SAMPLES")
	overrideInt(&cfg.Export.TimeoutMS, "PODIUM_EXPORT_TIMEOUT_MS")
	overrideFloat(&cfg.Reveal.AvgCharsPerWord, "PODIUM_REVEAL_AVG_CHARS_PER_WORD")
	overrideInt(&cfg.Reveal.TickMS, "PODIUM_REVEAL_TICK_MS")
	overrideFloat(&cfg.Reveal.Jitter, "PODIUM_REVEAL_JITTER")
	overrideInt(&cfg.Reveal.MaxCatchUpChars, "PODIUM_REVEAL_MAX_CATCH_UP_CHARS")
}

func overrideString(target *string, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok && strings.TrimSpace(value) != "" {
		*target = value
	}
}

func overrideInt(target *int, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		if parsed, err := strconv.Atoi(value); err == nil {
			*target = parsed
		}
	}
}

func overrideBool(target *bool, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		if parsed, err := strconv.ParseBool(value); err == nil {
			*target = parsed
		}
	}
}

func overrideStringSlice(target *[]string, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		parts := strings.Split(value, ",")
		var trimmed []string
		for _, p := range parts {
			if s := strings.TrimSpace(p); s != "" {
				trimmed = append(trimmed, s)
			}
		}
		if len(trimmed) > 0 {
			*target = trimmed
		}
	}
}

func overrideFloat(target *float64, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		if parsed, err := strconv.ParseFloat(value, 64); err == nil {
			*target = parsed
		}
	}
}

func validate(cfg Config) error {
	if cfg.RuntimeName == "" {
		return errors.New("runtime_name must not be empty")
	}
	if cfg.HTTP.Port <= 0 || cfg.HTTP.Port > 65535 {
		return errors.New("http.port must be between 1 and 65535")
	}
	if cfg.Bus.Embedded {
		if cfg.Bus.Port <= 0 || cfg.Bus.Port > 65535 {
			return errors.New("bus.port must be between 1 and 65535 when embedded mode is enabled")
		}
	} else {
		if len(cfg.Bus.Servers) == 0 {
			return errors.New("bus.servers must not be empty when embedded mode is disabled")
		}
	}
	if cfg.Telemetry.PrometheusBind == "" {
		return errors.New("telemetry.prometheus_bind must not be empty")
	}
	if cfg.Voice.SampleRate <= 0 {
		return errors.New("voice.sample_rate must be positive")
	}
	if cfg.Voice.Channels != 1 {
		return errors.New("voice.channels must be 1 (push channel is mono)")
	}
	if cfg.Voice.BitDepth != 16 {
		return errors.New("voice.bit_depth must be 16")
	}
	if cfg.Voice.CaptureCeiling <= 0 {
		return errors.New("voice.capture_ceiling_bytes must be positive")
	}
	if cfg.Voice.WatchdogGraceMS <= 0 {
		return errors.New("voice.watchdog_grace_ms must be positive")
	}
	if cfg.Voice.WaveformBands <= 0 || cfg.Voice.WaveformBands&(cfg.Voice.WaveformBands-1) != 0 {
		return errors.New("voice.waveform_bands must be a positive power of two")
	}
	if cfg.Voice.SamplerIntervalMS <= 0 {
		return errors.New("voice.sampler_interval_ms must be positive")
	}
	if cfg.Export.FrameSamples <= 0 {
		return errors.New("export.frame_samples must be positive")
	}
	if cfg.Export.BitrateKbps <= 0 {
		return errors.New("export.bitrate_kbps must be positive")
	}
	if cfg.Reveal.AvgCharsPerWord <= 0 {
		return errors.New("reveal.avg_chars_per_word must be positive")
	}
	if cfg.Reveal.TickMS <= 0 {
		return errors.New("reveal.tick_ms must be positive")
	}
	if cfg.Reveal.Jitter < 0 || cfg.Reveal.Jitter >= 1 {
		return errors.New("reveal.jitter must be in [0, 1)")
	}
	if cfg.Reveal.MaxCatchUpChars <= 0 {
		return errors.New("reveal.max_catch_up_chars must be positive")
	}
	return nil
}
