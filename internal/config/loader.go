package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Defaults applied by [ApplyDefaults] to unset fields.
const (
	DefaultListenAddr       = ":9000"
	DefaultStunServer       = "stun:stun.l.google.com:19302"
	DefaultFrameRate        = 30
	DefaultKeyFrameInterval = 30
	DefaultGamma            = 1.0
	DefaultCodec            = "mjpeg"
	DefaultVideoName        = "recording"
	DefaultFrameWaitLimit   = time.Second
	DefaultSampleRate       = 48000
	DefaultChannels         = 2
	DefaultAudioCodec       = "lpcm"
	DefaultServiceName      = "vidcap"
)

// Load reads the YAML configuration file at path and returns a validated [Config].
// It is a convenience wrapper around [LoadFromReader].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r, fills defaults and validates
// the result. Useful in tests where configs are constructed from string literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	ApplyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Default returns a configuration with every default applied.
func Default() *Config {
	cfg := &Config{}
	ApplyDefaults(cfg)
	return cfg
}

// ApplyDefaults fills every unset field of cfg with its documented default.
func ApplyDefaults(cfg *Config) {
	if cfg.Server.ListenAddr == "" {
		cfg.Server.ListenAddr = DefaultListenAddr
	}
	if cfg.Server.LogLevel == "" {
		cfg.Server.LogLevel = LogInfo
	}
	if cfg.Server.StunServer == "" {
		cfg.Server.StunServer = DefaultStunServer
	}

	rec := &cfg.Recording
	if rec.OutputDir == "" {
		rec.OutputDir = os.TempDir()
	}
	if rec.VideoName == "" {
		rec.VideoName = DefaultVideoName
	}
	if rec.FrameRate == 0 {
		rec.FrameRate = DefaultFrameRate
	}
	if rec.KeyFrameInterval == 0 {
		rec.KeyFrameInterval = DefaultKeyFrameInterval
	}
	if rec.Gamma == nil {
		g := DefaultGamma
		rec.Gamma = &g
	}
	if rec.Codec == "" {
		rec.Codec = DefaultCodec
	}
	if rec.AudioMode == "" {
		rec.AudioMode = AudioNone
	}
	if rec.Pacing == "" {
		rec.Pacing = PacingUnlocked
	}
	if rec.Disposition == "" {
		rec.Disposition = DispositionDocuments
	}
	if rec.FrameWaitLimit == 0 {
		rec.FrameWaitLimit = DefaultFrameWaitLimit
	}

	if cfg.Audio.SampleRate == 0 {
		cfg.Audio.SampleRate = DefaultSampleRate
	}
	if cfg.Audio.Channels == 0 {
		cfg.Audio.Channels = DefaultChannels
	}
	if cfg.Audio.Codec == "" {
		cfg.Audio.Codec = DefaultAudioCodec
	}
	if cfg.Audio.Gain == 0 {
		cfg.Audio.Gain = 1.0
	}

	if cfg.Capture.FPS == 0 {
		cfg.Capture.FPS = cfg.Recording.FrameRate
	}
	if cfg.Telemetry.ServiceName == "" {
		cfg.Telemetry.ServiceName = DefaultServiceName
	}
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
// Frame size is not required here; it is enforced when a session is configured.
func Validate(cfg *Config) error {
	var errs []error

	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}

	rec := cfg.Recording
	if rec.Width < 0 || rec.Height < 0 {
		errs = append(errs, fmt.Errorf("recording frame size %dx%d must not be negative", rec.Width, rec.Height))
	}
	if rec.FrameRate < 0 {
		errs = append(errs, fmt.Errorf("recording.frame_rate %d must be positive", rec.FrameRate))
	}
	if rec.Bitrate < 0 {
		errs = append(errs, fmt.Errorf("recording.bitrate %d must not be negative", rec.Bitrate))
	}
	if rec.KeyFrameInterval < 0 {
		errs = append(errs, fmt.Errorf("recording.key_frame_interval %d must not be negative", rec.KeyFrameInterval))
	}
	if g := rec.Gamma; g != nil && (*g < 0 || *g > 3) {
		errs = append(errs, fmt.Errorf("recording.gamma %.2f is out of range [0, 3]", *g))
	}
	if rec.AudioMode != "" && !rec.AudioMode.IsValid() {
		errs = append(errs, fmt.Errorf("recording.audio_mode %q is invalid; valid values: none, device, device+mic, mic", rec.AudioMode))
	}
	if rec.Pacing != "" && !rec.Pacing.IsValid() {
		errs = append(errs, fmt.Errorf("recording.pacing %q is invalid; valid values: unlocked, locked, throttled", rec.Pacing))
	}
	if rec.Disposition != "" && !rec.Disposition.IsValid() {
		errs = append(errs, fmt.Errorf("recording.disposition %q is invalid; valid values: library, documents, discard", rec.Disposition))
	}
	if rec.FrameWaitLimit < 0 {
		errs = append(errs, fmt.Errorf("recording.frame_wait_limit %s must not be negative", rec.FrameWaitLimit))
	}
	if rec.Disposition == DispositionLibrary && rec.LibraryDir == "" {
		slog.Warn("recording.disposition is library but recording.library_dir is empty; library placement will fail")
	}

	if cfg.Audio.SampleRate < 0 || cfg.Audio.Channels < 0 {
		errs = append(errs, fmt.Errorf("audio format %d Hz x %d channels must not be negative", cfg.Audio.SampleRate, cfg.Audio.Channels))
	}
	if cfg.Audio.Channels > 2 {
		errs = append(errs, fmt.Errorf("audio.channels %d is unsupported; use 1 or 2", cfg.Audio.Channels))
	}
	switch cfg.Audio.Codec {
	case "", "lpcm", "opus":
	default:
		errs = append(errs, fmt.Errorf("audio.codec %q is invalid; valid values: lpcm, opus", cfg.Audio.Codec))
	}
	if cfg.Audio.Codec == "opus" && cfg.Audio.SampleRate != 0 && cfg.Audio.SampleRate != 48000 {
		errs = append(errs, fmt.Errorf("audio.codec opus requires audio.sample_rate 48000, got %d", cfg.Audio.SampleRate))
	}
	if cfg.Audio.Gain < 0 {
		errs = append(errs, fmt.Errorf("audio.gain %.2f must not be negative", cfg.Audio.Gain))
	}

	if cfg.Capture.Screen < 0 {
		errs = append(errs, fmt.Errorf("capture.screen %d must not be negative", cfg.Capture.Screen))
	}
	if cfg.Capture.FPS < 0 {
		errs = append(errs, fmt.Errorf("capture.fps %d must not be negative", cfg.Capture.FPS))
	}

	return errors.Join(errs...)
}

// SlogLevel converts l into the equivalent [slog.Level]. Unknown values map
// to info.
func (l LogLevel) SlogLevel() slog.Level {
	switch l {
	case LogDebug:
		return slog.LevelDebug
	case LogWarn:
		return slog.LevelWarn
	case LogError:
		return slog.LevelError
	}
	return slog.LevelInfo
}
