// Package capture records audio alongside a session: device audio pushed by
// the host and the microphone.
package capture

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"os"
	"sync"
	"time"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

// ErrClosed is returned for writes after Close or Discard.
var ErrClosed = errors.New("capture: recorder closed")

const wavFormatPCM = 1

// Format describes interleaved 16-bit PCM.
type Format struct {
	SampleRate int
	Channels   int
}

// AudioSink receives audio for a live track. SubmitAudio may block.
type AudioSink interface {
	SubmitAudio(ctx context.Context, pts time.Duration, pcm []int16) error
}

// StreamOptions configures a StreamRecorder.
type StreamOptions struct {
	// Path is the WAV file to write. Empty disables the file.
	Path string

	Format Format

	// Gain scales every sample. Zero means 1.0.
	Gain float64

	// Mute zeroes the caller's buffer after it has been recorded.
	Mute bool

	// Sink, when set, receives every block with its stream timestamp.
	Sink AudioSink

	Logger *slog.Logger
}

// StreamRecorder records interleaved audio blocks pushed by the host into a
// 16-bit WAV file and, optionally, a live sink. It is safe for concurrent use.
type StreamRecorder struct {
	opts StreamOptions
	log  *slog.Logger

	mu     sync.Mutex
	f      *os.File
	enc    *wav.Encoder
	frames int64
	closed bool
	buf    audio.IntBuffer
}

// NewStreamRecorder creates the WAV file (if any) and returns a recorder.
func NewStreamRecorder(opts StreamOptions) (*StreamRecorder, error) {
	if opts.Format.SampleRate <= 0 || opts.Format.Channels <= 0 {
		return nil, fmt.Errorf("capture: invalid format %d Hz x %d", opts.Format.SampleRate, opts.Format.Channels)
	}
	if opts.Path == "" && opts.Sink == nil {
		return nil, fmt.Errorf("capture: recorder needs a path or a sink")
	}
	if opts.Gain == 0 {
		opts.Gain = 1.0
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	r := &StreamRecorder{
		opts: opts,
		log:  opts.Logger.With("path", opts.Path),
		buf: audio.IntBuffer{
			Format:         &audio.Format{NumChannels: opts.Format.Channels, SampleRate: opts.Format.SampleRate},
			SourceBitDepth: 16,
		},
	}
	if opts.Path != "" {
		f, err := os.Create(opts.Path)
		if err != nil {
			return nil, fmt.Errorf("capture: create %q: %w", opts.Path, err)
		}
		r.f = f
		r.enc = wav.NewEncoder(f, opts.Format.SampleRate, 16, opts.Format.Channels, wavFormatPCM)
	}
	return r, nil
}

// Path returns the WAV file path, or "" when recording only to a sink.
func (r *StreamRecorder) Path() string { return r.opts.Path }

// Format returns the recorded format.
func (r *StreamRecorder) Format() Format { return r.opts.Format }

// WriteFloat32 records samples in [-1, 1]. Values outside are clipped.
func (r *StreamRecorder) WriteFloat32(samples []float32) error {
	pcm := make([]int16, len(samples))
	for i, s := range samples {
		pcm[i] = toInt16(float64(s) * r.opts.Gain * 32767.0)
	}
	if err := r.write(pcm); err != nil {
		return err
	}
	if r.opts.Mute {
		clear(samples)
	}
	return nil
}

// WriteInt16 records 16-bit samples.
func (r *StreamRecorder) WriteInt16(samples []int16) error {
	pcm := make([]int16, len(samples))
	for i, s := range samples {
		pcm[i] = toInt16(float64(s) * r.opts.Gain)
	}
	if err := r.write(pcm); err != nil {
		return err
	}
	if r.opts.Mute {
		clear(samples)
	}
	return nil
}

// toInt16 rounds v to the nearest sample value, clipping at full scale.
func toInt16(v float64) int16 {
	v = math.Round(v)
	switch {
	case v > math.MaxInt16:
		return math.MaxInt16
	case v < math.MinInt16:
		return math.MinInt16
	}
	return int16(v)
}

func (r *StreamRecorder) write(pcm []int16) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return ErrClosed
	}
	if len(pcm)%r.opts.Format.Channels != 0 {
		return fmt.Errorf("capture: %d samples is not a whole number of %d-channel frames", len(pcm), r.opts.Format.Channels)
	}
	pts := time.Duration(r.frames * int64(time.Second) / int64(r.opts.Format.SampleRate))

	if r.enc != nil {
		r.buf.Data = r.buf.Data[:0]
		for _, s := range pcm {
			r.buf.Data = append(r.buf.Data, int(s))
		}
		if err := r.enc.Write(&r.buf); err != nil {
			return fmt.Errorf("capture: write wav: %w", err)
		}
	}
	r.frames += int64(len(pcm) / r.opts.Format.Channels)

	if r.opts.Sink != nil {
		if err := r.opts.Sink.SubmitAudio(context.Background(), pts, pcm); err != nil {
			r.log.Debug("live audio block rejected", "pts", pts, "err", err)
		}
	}
	return nil
}

// Duration returns the length of audio recorded so far.
func (r *StreamRecorder) Duration() time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()
	return time.Duration(r.frames * int64(time.Second) / int64(r.opts.Format.SampleRate))
}

// Close finalises the WAV header and closes the file.
func (r *StreamRecorder) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil
	}
	r.closed = true
	if r.enc == nil {
		return nil
	}
	if r.frames == 0 {
		// Forces the header and an empty data chunk.
		r.buf.Data = r.buf.Data[:0]
		if err := r.enc.Write(&r.buf); err != nil {
			r.f.Close()
			return fmt.Errorf("capture: write wav header: %w", err)
		}
	}
	err := r.enc.Close()
	if cerr := r.f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return fmt.Errorf("capture: close %q: %w", r.opts.Path, err)
	}
	return nil
}

// Discard closes the recorder and deletes its file.
func (r *StreamRecorder) Discard() error {
	r.mu.Lock()
	wasClosed := r.closed
	r.closed = true
	r.mu.Unlock()

	if r.f == nil {
		return nil
	}
	if !wasClosed {
		r.f.Close()
	}
	if err := os.Remove(r.opts.Path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("capture: remove %q: %w", r.opts.Path, err)
	}
	return nil
}
