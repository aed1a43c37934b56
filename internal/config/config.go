// Package config provides the configuration schema and loader for the
// vidcap recording agent.
package config

import "time"

// LogLevel controls log verbosity for the agent.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// AudioMode selects which audio sources are captured alongside the video.
type AudioMode string

const (
	AudioNone         AudioMode = "none"
	AudioDevice       AudioMode = "device"
	AudioDeviceAndMic AudioMode = "device+mic"
	AudioMicOnly      AudioMode = "mic"
)

// IsValid reports whether m is a recognised audio mode.
func (m AudioMode) IsValid() bool {
	switch m {
	case AudioNone, AudioDevice, AudioDeviceAndMic, AudioMicOnly:
		return true
	}
	return false
}

// Pacing selects what happens to a frame offered while the encoder is busy.
type Pacing string

const (
	// PacingUnlocked drops the frame.
	PacingUnlocked Pacing = "unlocked"

	// PacingLocked blocks the caller up to the frame wait limit.
	PacingLocked Pacing = "locked"

	// PacingThrottled emits at most frame_rate frames per second and never blocks.
	PacingThrottled Pacing = "throttled"
)

// IsValid reports whether p is a recognised pacing mode.
func (p Pacing) IsValid() bool {
	switch p {
	case PacingUnlocked, PacingLocked, PacingThrottled:
		return true
	}
	return false
}

// Disposition selects where a finished recording ends up.
type Disposition string

const (
	DispositionLibrary   Disposition = "library"
	DispositionDocuments Disposition = "documents"
	DispositionDiscard   Disposition = "discard"
)

// IsValid reports whether d is a recognised disposition.
func (d Disposition) IsValid() bool {
	switch d {
	case DispositionLibrary, DispositionDocuments, DispositionDiscard:
		return true
	}
	return false
}

// Config is the root configuration structure for the agent.
// It is typically loaded from a YAML file using [Load] or [LoadFromReader].
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Recording RecordingConfig `yaml:"recording"`
	Audio     AudioConfig     `yaml:"audio"`
	Capture   CaptureConfig   `yaml:"capture"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
}

// ServerConfig holds network and logging settings.
type ServerConfig struct {
	// ListenAddr is the TCP address the HTTP API listens on (e.g., ":9000").
	ListenAddr string `yaml:"listen_addr"`

	// LogLevel controls verbosity.
	LogLevel LogLevel `yaml:"log_level"`

	// StunServer is the STUN URL handed to preview peer connections.
	StunServer string `yaml:"stun_server"`
}

// RecordingConfig holds the defaults for every recording session.
type RecordingConfig struct {
	// OutputDir receives in-progress and finished recordings.
	OutputDir string `yaml:"output_dir"`

	// LibraryDir is the media library finished videos are moved into when
	// the disposition is "library".
	LibraryDir string `yaml:"library_dir"`

	// VideoName is the base name (without extension) of the finished file.
	VideoName string `yaml:"video_name"`

	Width  int `yaml:"width"`
	Height int `yaml:"height"`

	// FrameRate is the target frame rate in frames per second.
	FrameRate int `yaml:"frame_rate"`

	// Bitrate is the target video bitrate in bits per second. Zero keeps the
	// codec default.
	Bitrate int `yaml:"bitrate"`

	// KeyFrameInterval is the maximum distance in frames between key frames.
	KeyFrameInterval int `yaml:"key_frame_interval"`

	// Gamma is applied to every captured frame; 1.0 is identity. Unset
	// means 1.0, while an explicit 0 is kept.
	Gamma *float64 `yaml:"gamma"`

	// Codec names a registered video codec ("mjpeg", "h264").
	Codec string `yaml:"codec"`

	AudioMode   AudioMode   `yaml:"audio_mode"`
	Pacing      Pacing      `yaml:"pacing"`
	Disposition Disposition `yaml:"disposition"`

	// FrameWaitLimit bounds how long a locked-pacing submission may block.
	FrameWaitLimit time.Duration `yaml:"frame_wait_limit"`

	// SyncWait delays the first captured frame so the renderer can settle.
	SyncWait time.Duration `yaml:"sync_wait"`
}

// AudioConfig holds audio capture settings.
type AudioConfig struct {
	SampleRate int `yaml:"sample_rate"`
	Channels   int `yaml:"channels"`

	// LiveTrack streams device audio into the container while recording
	// instead of composing a captured WAV file at the end.
	LiveTrack bool `yaml:"live_track"`

	// Codec names the live audio track codec ("lpcm", "opus").
	Codec string `yaml:"codec"`

	// Gain scales device audio before it is written.
	Gain float64 `yaml:"gain"`

	// MuteScene silences the caller's buffer after capture.
	MuteScene bool `yaml:"mute_scene"`
}

// CaptureConfig selects the desktop source used by the agent.
type CaptureConfig struct {
	Screen int `yaml:"screen"`
	FPS    int `yaml:"fps"`
}

// TelemetryConfig holds OpenTelemetry settings.
type TelemetryConfig struct {
	ServiceName string `yaml:"service_name"`
}
