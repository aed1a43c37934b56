package session

import (
	"errors"
	"fmt"
	"image"
	"time"

	"github.com/rviscarra/vidcap/internal/config"
	"github.com/rviscarra/vidcap/internal/encoders"
)

// Config is the immutable configuration of one recording session.
type Config struct {
	Width, Height    int
	FrameRate        int
	Bitrate          int
	KeyFrameInterval int
	Gamma            *float64
	Codec            encoders.VideoCodec

	AudioMode   config.AudioMode
	Pacing      config.Pacing
	Disposition config.Disposition

	FrameWaitLimit time.Duration
	SyncWait       time.Duration

	OutputDir string
	VideoName string

	Audio AudioConfig
}

// AudioConfig describes captured audio.
type AudioConfig struct {
	SampleRate int
	Channels   int
	Gain       float64
	Mute       bool

	// LiveTrack records device audio into the container while recording.
	LiveTrack bool
	Codec     encoders.AudioCodec
}

// ConfigFrom builds the session configuration from the agent configuration.
func ConfigFrom(cfg *config.Config) Config {
	rec := cfg.Recording
	return Config{
		Width:            rec.Width,
		Height:           rec.Height,
		FrameRate:        rec.FrameRate,
		Bitrate:          rec.Bitrate,
		KeyFrameInterval: rec.KeyFrameInterval,
		Gamma:            copyGamma(rec.Gamma),
		Codec:            encoders.VideoCodec(rec.Codec),
		AudioMode:        rec.AudioMode,
		Pacing:           rec.Pacing,
		Disposition:      rec.Disposition,
		FrameWaitLimit:   rec.FrameWaitLimit,
		SyncWait:         rec.SyncWait,
		OutputDir:        rec.OutputDir,
		VideoName:        rec.VideoName,
		Audio: AudioConfig{
			SampleRate: cfg.Audio.SampleRate,
			Channels:   cfg.Audio.Channels,
			Gain:       cfg.Audio.Gain,
			Mute:       cfg.Audio.MuteScene,
			LiveTrack:  cfg.Audio.LiveTrack,
			Codec:      encoders.AudioCodec(cfg.Audio.Codec),
		},
	}
}

// GammaValue returns the configured gamma, 1.0 when unset.
func (c Config) GammaValue() float64 {
	if c.Gamma == nil {
		return config.DefaultGamma
	}
	return *c.Gamma
}

func copyGamma(g *float64) *float64 {
	if g == nil {
		return nil
	}
	v := *g
	return &v
}

// Size returns the frame size.
func (c Config) Size() image.Point { return image.Pt(c.Width, c.Height) }

// withDefaults fills unset optional fields.
func (c Config) withDefaults() Config {
	if c.FrameRate == 0 {
		c.FrameRate = config.DefaultFrameRate
	}
	if c.KeyFrameInterval == 0 {
		c.KeyFrameInterval = config.DefaultKeyFrameInterval
	}
	if c.Gamma == nil {
		g := config.DefaultGamma
		c.Gamma = &g
	}
	if c.Codec == "" {
		c.Codec = encoders.VideoCodec(config.DefaultCodec)
	}
	if c.AudioMode == "" {
		c.AudioMode = config.AudioNone
	}
	if c.Pacing == "" {
		c.Pacing = config.PacingUnlocked
	}
	if c.Disposition == "" {
		c.Disposition = config.DispositionDocuments
	}
	if c.FrameWaitLimit == 0 {
		c.FrameWaitLimit = config.DefaultFrameWaitLimit
	}
	if c.VideoName == "" {
		c.VideoName = config.DefaultVideoName
	}
	if c.Audio.SampleRate == 0 {
		c.Audio.SampleRate = config.DefaultSampleRate
	}
	if c.Audio.Channels == 0 {
		c.Audio.Channels = config.DefaultChannels
	}
	if c.Audio.Gain == 0 {
		c.Audio.Gain = 1
	}
	if c.Audio.Codec == "" {
		c.Audio.Codec = encoders.LPCMCodec
	}
	return c
}

// Validate reports every problem with c. Only the frame size is mandatory.
func (c Config) Validate() error {
	var errs []error
	if c.Width <= 0 || c.Height <= 0 {
		errs = append(errs, fmt.Errorf("frame size %dx%d must be positive", c.Width, c.Height))
	}
	if c.FrameRate <= 0 {
		errs = append(errs, fmt.Errorf("frame rate %d must be positive", c.FrameRate))
	}
	if c.Bitrate < 0 {
		errs = append(errs, fmt.Errorf("bitrate %d must not be negative", c.Bitrate))
	}
	if g := c.GammaValue(); g < 0 || g > 3 {
		errs = append(errs, fmt.Errorf("gamma %.2f is out of range [0, 3]", g))
	}
	if !c.AudioMode.IsValid() {
		errs = append(errs, fmt.Errorf("audio mode %q is invalid", c.AudioMode))
	}
	if !c.Pacing.IsValid() {
		errs = append(errs, fmt.Errorf("pacing %q is invalid", c.Pacing))
	}
	if !c.Disposition.IsValid() {
		errs = append(errs, fmt.Errorf("disposition %q is invalid", c.Disposition))
	}
	if c.OutputDir == "" {
		errs = append(errs, errors.New("output directory is required"))
	}
	if c.Audio.LiveTrack && c.AudioMode != config.AudioDevice {
		errs = append(errs, fmt.Errorf("live audio track requires audio mode %q, got %q", config.AudioDevice, c.AudioMode))
	}
	if c.Audio.SampleRate <= 0 || c.Audio.Channels <= 0 || c.Audio.Channels > 2 {
		errs = append(errs, fmt.Errorf("audio format %d Hz x %d channels is unsupported", c.Audio.SampleRate, c.Audio.Channels))
	}
	return errors.Join(errs...)
}

func (c Config) captureDevice() bool {
	return c.AudioMode == config.AudioDevice || c.AudioMode == config.AudioDeviceAndMic
}

func (c Config) captureMic() bool {
	return c.AudioMode == config.AudioMicOnly || c.AudioMode == config.AudioDeviceAndMic
}
