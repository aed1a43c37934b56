// Package session drives one recording from configuration to the exported
// asset: it owns the encode feeder, the audio recorders and the frame pacing
// policy, and composes the final file when the recording ends.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/rviscarra/vidcap/internal/capture"
	"github.com/rviscarra/vidcap/internal/compose"
	"github.com/rviscarra/vidcap/internal/config"
	"github.com/rviscarra/vidcap/internal/container"
	"github.com/rviscarra/vidcap/internal/convert"
	"github.com/rviscarra/vidcap/internal/encoders"
	"github.com/rviscarra/vidcap/internal/feeder"
	"github.com/rviscarra/vidcap/internal/observe"
)

// encodeSink is the part of the feeder a session drives.
type encodeSink interface {
	Start() error
	IsReadyForNextFrame() bool
	WaitReady(ctx context.Context) bool
	SubmitFrame(pts time.Duration, frame *convert.Frame) error
	SubmitAudio(ctx context.Context, pts time.Duration, pcm []int16) error
	Finish() error
	Abort() bool
	Done() <-chan struct{}
	Result() feeder.Result
	SetTap(fn func(feeder.Packet))
}

// Deps are the collaborators shared by sessions. Zero fields get defaults.
type Deps struct {
	Encoders   encoders.Service
	Metrics    *observe.Metrics
	Logger     *slog.Logger
	Notifier   Notifier
	Library    Library
	Microphone capture.MicrophoneFactory
	Composer   *compose.Engine
}

func (d Deps) withDefaults() Deps {
	if d.Logger == nil {
		d.Logger = slog.Default()
	}
	if d.Metrics == nil {
		d.Metrics = observe.DefaultMetrics()
	}
	if d.Encoders == nil {
		d.Encoders = encoders.NewEncoderService()
	}
	if d.Notifier == nil {
		d.Notifier = LogNotifier{Logger: d.Logger}
	}
	if d.Microphone == nil {
		d.Microphone = capture.NewDeviceMicrophone
	}
	if d.Composer == nil {
		d.Composer = compose.NewEngine(d.Metrics, d.Logger)
	}
	return d
}

// EndRequest carries the finalisation inputs of End.
type EndRequest struct {
	// Disposition overrides the configured disposition when set.
	Disposition config.Disposition

	// Optional audio files composed with the recording.
	UserAudio1 string
	UserAudio2 string
	MixedAudio string
}

// Outcome is the terminal result of a session.
type Outcome struct {
	State  State
	Status Status
	Frames int
	Path   string
	Err    error
}

// Code returns the host-facing result: the frame count on success, the
// status code otherwise.
func (o Outcome) Code() int {
	if o.Status == StatusOK {
		return o.Frames
	}
	return int(o.Status)
}

// Stats is a snapshot of the session counters.
type Stats struct {
	State      State
	Frames     int64
	Dropped    int64
	Waited     int64
	AverageFPS float64
}

// Session is one recording. Frame submission ([Session.WriteFrame]) must
// come from a single caller context; every other method is safe for
// concurrent use.
type Session struct {
	id        string
	deps      Deps
	log       *slog.Logger
	newSink   func(feeder.Config) encodeSink
	onRelease func(*Session)

	mu        sync.Mutex
	state     State
	cfg       Config
	sink      encodeSink
	conv      *convert.Converter
	mic       capture.Microphone
	device    *capture.StreamRecorder
	files     paths
	cancelEnd context.CancelFunc
	began     time.Time
	ended     time.Time
	tap       func(feeder.Packet)
	onDone    []func(Outcome)
	onError   []func(Outcome)
	settled   bool
	placing   bool
	outcome   Outcome

	resolved chan struct{}

	frameNumber atomic.Int64
	dropped     atomic.Int64
	waited      atomic.Int64

	// Render context only.
	lastEmit time.Time
}

type paths struct {
	video, device, mic, mix, output string
}

func (p paths) temps() []string {
	return []string{p.video, p.device, p.mic, p.mix}
}

// New returns an idle session.
func New(deps Deps) *Session {
	deps = deps.withDefaults()
	id := uuid.NewString()
	s := &Session{
		id:       id,
		deps:     deps,
		log:      deps.Logger.With("session_id", id),
		resolved: make(chan struct{}),
	}
	s.newSink = func(cfg feeder.Config) encodeSink { return feeder.New(s.deps.Encoders, cfg) }
	return s
}

// ID returns the session id.
func (s *Session) ID() string { return s.id }

// State returns the current state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Config returns the frozen configuration.
func (s *Session) Config() Config {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg
}

// Done is closed once the session reaches a terminal state.
func (s *Session) Done() <-chan struct{} { return s.resolved }

// Outcome returns the terminal outcome. It is only meaningful after Done.
func (s *Session) Outcome() Outcome {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.outcome
}

// OnComplete registers fn to run once when the session completes.
func (s *Session) OnComplete(fn func(Outcome)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onDone = append(s.onDone, fn)
}

// OnError registers fn to run once when the session fails or is aborted.
func (s *Session) OnError(fn func(Outcome)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onError = append(s.onError, fn)
}

// SetPreview installs fn to receive encoded video packets of the recording.
func (s *Session) SetPreview(fn func(feeder.Packet)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tap = fn
	if s.sink != nil {
		s.sink.SetTap(fn)
	}
}

// DeviceAudio returns the recorder the host pushes device audio into, or
// nil when the audio mode does not capture device audio.
func (s *Session) DeviceAudio() *capture.StreamRecorder {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.device
}

// Configure validates and freezes cfg. On error the session stays where it
// was.
func (s *Session) Configure(cfg Config) error {
	cfg = cfg.withDefaults()
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("session: invalid configuration: %w", err)
	}
	if !s.deps.Encoders.Supports(cfg.Codec) {
		return fmt.Errorf("session: invalid configuration: codec %q not supported", cfg.Codec)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateIdle && s.state != StateConfigured {
		return fmt.Errorf("%w: configure from %s", ErrInvalidState, s.state)
	}
	s.cfg = cfg
	s.state = StateConfigured
	s.log.Debug("session configured", "size", cfg.Size(), "fps", cfg.FrameRate, "pacing", cfg.Pacing)
	return nil
}

// Begin allocates the encode feeder and starts audio capture. On failure
// the session stays Configured and the error wraps [ErrMemory] or
// [ErrFrameCapture].
func (s *Session) Begin(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateConfigured {
		return fmt.Errorf("%w: begin from %s", ErrInvalidState, s.state)
	}
	cfg := s.cfg

	if err := os.MkdirAll(cfg.OutputDir, 0o755); err != nil {
		return fmt.Errorf("%w: output directory: %v", ErrMemory, err)
	}
	conv, err := convert.New(convert.Options{
		Size:    cfg.Size(),
		Gamma:   cfg.GammaValue(),
		Buffers: feeder.DefaultQueueDepth + 2,
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrFrameCapture, err)
	}

	prefix := filepath.Join(cfg.OutputDir, "."+s.id)
	files := paths{
		video:  prefix + ".video.mp4",
		output: filepath.Join(cfg.OutputDir, cfg.VideoName+".mp4"),
	}
	format := capture.Format{SampleRate: cfg.Audio.SampleRate, Channels: cfg.Audio.Channels}

	var live *container.AudioTrack
	if cfg.Audio.LiveTrack {
		live = &container.AudioTrack{Codec: cfg.Audio.Codec, SampleRate: format.SampleRate, Channels: format.Channels}
	}
	sink := s.newSink(feeder.Config{
		Path:  files.video,
		Codec: cfg.Codec,
		Options: encoders.Options{
			Size:             cfg.Size(),
			FrameRate:        cfg.FrameRate,
			Bitrate:          cfg.Bitrate,
			KeyFrameInterval: cfg.KeyFrameInterval,
		},
		Audio:   live,
		Metrics: s.deps.Metrics,
		Logger:  s.log,
	})

	var mic capture.Microphone
	g, _ := errgroup.WithContext(ctx)
	g.Go(sink.Start)
	if cfg.captureMic() {
		files.mic = prefix + ".mic.wav"
		g.Go(func() error {
			m, err := s.deps.Microphone(format, s.log)
			if err != nil {
				return err
			}
			if err := m.Start(files.mic); err != nil {
				return err
			}
			mic = m
			return nil
		})
	}
	err = g.Wait()

	var device *capture.StreamRecorder
	if err == nil && cfg.captureDevice() {
		opts := capture.StreamOptions{
			Format: format,
			Gain:   cfg.Audio.Gain,
			Mute:   cfg.Audio.Mute,
			Logger: s.log,
		}
		if cfg.Audio.LiveTrack {
			opts.Sink = sink
		} else {
			files.device = prefix + ".device.wav"
			opts.Path = files.device
		}
		device, err = capture.NewStreamRecorder(opts)
	}

	if err != nil {
		sink.Abort()
		if mic != nil {
			mic.Stop()
		}
		removeAll(files.temps())
		s.log.Error("session failed to begin", "err", err)
		return fmt.Errorf("%w: %v", ErrMemory, err)
	}

	if s.tap != nil {
		sink.SetTap(s.tap)
	}
	s.sink, s.conv, s.mic, s.device, s.files = sink, conv, mic, device, files
	s.frameNumber.Store(0)
	s.dropped.Store(0)
	s.waited.Store(0)
	s.lastEmit = time.Time{}
	s.began = time.Now()
	s.state = StateRecording
	s.deps.Metrics.ActiveSessions.Add(ctx, 1)
	s.log.Info("recording started", "path", files.video, "codec", cfg.Codec, "audio", cfg.AudioMode)
	return nil
}

// End stops capture, drains the feeder and composes the final asset. It
// returns the number of frames recorded, or a negative status code with the
// cause. Concurrent calls share one outcome.
func (s *Session) End(ctx context.Context, req EndRequest) (int, error) {
	s.mu.Lock()
	switch {
	case s.state == StateRecording:
		var cancel context.CancelFunc
		ctx, cancel = context.WithCancel(ctx)
		s.cancelEnd = cancel
		s.state = StateEnding
		s.mu.Unlock()
		defer cancel()
		s.settle(s.end(ctx, req))
	case s.state == StateEnding || s.state == StateComposing || s.state.Terminal():
		s.mu.Unlock()
		select {
		case <-s.resolved:
		case <-ctx.Done():
			return int(StatusUnknown), ctx.Err()
		}
	default:
		state := s.state
		s.mu.Unlock()
		return int(StatusUnknown), fmt.Errorf("%w: end from %s", ErrInvalidState, state)
	}

	o := s.Outcome()
	return o.Code(), o.Err
}

func (s *Session) end(ctx context.Context, req EndRequest) Outcome {
	s.mu.Lock()
	sink, mic, device, cfg, files := s.sink, s.mic, s.device, s.cfg, s.files
	s.mu.Unlock()

	var micErr, deviceErr error
	g, gctx := errgroup.WithContext(ctx)
	if mic != nil {
		g.Go(func() error { micErr = mic.Stop(); return nil })
	}
	if device != nil {
		g.Go(func() error { deviceErr = device.Close(); return nil })
	}
	g.Go(func() error {
		if err := sink.Finish(); err != nil {
			return err
		}
		select {
		case <-sink.Done():
			return sink.Result().Err
		case <-gctx.Done():
			return gctx.Err()
		}
	})
	err := g.Wait()

	s.mu.Lock()
	s.ended = time.Now()
	s.mu.Unlock()
	if err != nil {
		removeAll(files.temps())
		return Outcome{State: StateFailed, Status: StatusOf(err), Err: err}
	}
	frames := sink.Result().Frames

	if micErr != nil {
		s.log.Warn("microphone recording lost", "err", micErr)
		files.mic = ""
	}
	if deviceErr != nil {
		s.log.Warn("device audio recording lost", "err", deviceErr)
		files.device = ""
	}

	disposition := cfg.Disposition
	if req.Disposition != "" {
		disposition = req.Disposition
	}
	if disposition == config.DispositionDiscard {
		removeAll(files.temps())
		return Outcome{State: StateCompleted, Status: StatusOK, Frames: frames}
	}

	s.mu.Lock()
	if s.state != StateEnding {
		s.mu.Unlock()
		return Outcome{State: StateAborted, Status: StatusAborted, Err: ErrAborted}
	}
	s.state = StateComposing
	s.mu.Unlock()

	err = s.compose(ctx, req, cfg, files)
	removeAll(files.temps())
	if err != nil {
		return Outcome{State: StateFailed, Status: StatusOf(err), Err: err}
	}

	if disposition == config.DispositionLibrary {
		// The import moves the file out of our hands, so aborts stop
		// applying once it starts.
		s.mu.Lock()
		if s.settled {
			s.mu.Unlock()
			removeAll([]string{files.output})
			return Outcome{State: StateAborted, Status: StatusAborted, Err: ErrAborted}
		}
		s.placing = true
		s.mu.Unlock()
		if s.deps.Library == nil || s.deps.Library.Import(files.output) != 0 {
			return Outcome{State: StateFailed, Status: StatusCopyToAlbum, Path: files.output, Err: ErrCopyToAlbum}
		}
	}
	return Outcome{State: StateCompleted, Status: StatusOK, Frames: frames, Path: files.output}
}

func (s *Session) compose(ctx context.Context, req EndRequest, cfg Config, files paths) error {
	video, err := compose.LoadVideo(files.video)
	if err != nil {
		return err
	}
	creq := compose.Request{Video: video, Output: files.output}

	captured := ""
	switch {
	case cfg.Audio.LiveTrack:
		captured = files.video
	case files.device != "" && files.mic != "":
		mix := files.video + ".mix.wav"
		s.mu.Lock()
		s.files.mix = mix
		s.mu.Unlock()
		defer os.Remove(mix)
		if err := capture.Mix(mix, files.device, files.mic); err != nil {
			s.log.Warn("mixing device and microphone audio failed; using device audio", "err", err)
			captured = files.device
		} else {
			captured = mix
		}
	case files.device != "":
		captured = files.device
	case files.mic != "":
		captured = files.mic
	}

	for _, ref := range []struct {
		path string
		dst  **compose.Asset
	}{
		{captured, &creq.Captured},
		{req.UserAudio1, &creq.User1},
		{req.UserAudio2, &creq.User2},
		{req.MixedAudio, &creq.Mixed},
	} {
		if ref.path == "" {
			continue
		}
		a, err := compose.LoadAudio(ref.path)
		if err != nil {
			return err
		}
		*ref.dst = a
	}

	_, err = s.deps.Composer.Compose(ctx, creq)
	return err
}

// Abort discards the recording and returns code. It is a no-op in Idle,
// after the session has reached a terminal state and once the output is
// being handed to the library.
func (s *Session) Abort(code Status) Status {
	s.mu.Lock()
	if s.state == StateIdle || s.settled || s.placing {
		placing := s.placing && !s.settled
		s.mu.Unlock()
		if placing {
			s.log.Debug("abort ignored, output is being placed in the library")
		}
		return code
	}
	sink, mic, device, cancel, files := s.sink, s.mic, s.device, s.cancelEnd, s.files
	s.mu.Unlock()

	if !s.settle(Outcome{State: StateAborted, Status: StatusAborted, Err: ErrAborted}) {
		return code
	}
	if cancel != nil {
		cancel()
	}
	if sink != nil {
		sink.Abort()
	}
	if mic != nil {
		if err := mic.Stop(); err != nil {
			s.log.Debug("microphone stop after abort", "err", err)
		}
	}
	if device != nil {
		device.Discard()
	}
	removeAll(append(files.temps(), files.output))
	s.log.Info("recording aborted", "code", code)
	return code
}

// settle records the terminal outcome once. Later calls report false.
func (s *Session) settle(o Outcome) bool {
	s.mu.Lock()
	if s.settled {
		output := s.files.output
		aborted := s.outcome.State == StateAborted
		s.mu.Unlock()
		if aborted && o.Path != "" {
			removeAll([]string{output})
		}
		return false
	}
	s.settled = true
	wasActive := s.state >= StateRecording
	s.state = o.State
	s.outcome = o
	if s.ended.IsZero() {
		s.ended = time.Now()
	}
	var observers []func(Outcome)
	if o.State == StateCompleted {
		observers = s.onDone
	} else {
		observers = s.onError
	}
	s.mu.Unlock()
	close(s.resolved)

	ctx := context.Background()
	if wasActive {
		s.deps.Metrics.ActiveSessions.Add(ctx, -1)
	}
	s.deps.Metrics.RecordSession(ctx, o.State.String())
	if o.State == StateCompleted {
		s.log.Info("recording completed", "frames", o.Frames, "path", o.Path)
		s.deps.Notifier.Notify(NotifySuccess, "success")
	} else {
		s.log.Warn("recording ended without output", "state", o.State, "status", o.Status, "err", o.Err)
		s.deps.Notifier.Notify(NotifyFailed, reason(o.Status))
	}
	for _, fn := range observers {
		fn(o)
	}
	if s.onRelease != nil {
		s.onRelease(s)
	}
	return true
}

func reason(st Status) string {
	switch st {
	case StatusFrameCapture:
		return "frame capture"
	case StatusMemory:
		return "aborted"
	case StatusCopyToAlbum:
		return "copy to album"
	case StatusVideoIncompatible:
		return "video incompatible"
	case StatusSessionExport:
		return "session export"
	case StatusAssetNotLoaded:
		return "asset could not be loaded"
	}
	return "unknown"
}

// Stats returns the counters of the current recording.
func (s *Session) Stats() Stats {
	s.mu.Lock()
	state, began, ended := s.state, s.began, s.ended
	s.mu.Unlock()

	st := Stats{
		State:   state,
		Frames:  s.frameNumber.Load(),
		Dropped: s.dropped.Load(),
		Waited:  s.waited.Load(),
	}
	if !began.IsZero() {
		if ended.IsZero() {
			ended = time.Now()
		}
		if d := ended.Sub(began).Seconds(); d > 0 {
			st.AverageFPS = float64(st.Frames) / d
		}
	}
	return st
}

// DroppedFrames returns the number of frames dropped in this recording.
func (s *Session) DroppedFrames() int64 { return s.dropped.Load() }

// WaitFrames returns the number of frame submissions that had to wait.
func (s *Session) WaitFrames() int64 { return s.waited.Load() }

// AverageFPS returns the rate of recorded frames since Begin.
func (s *Session) AverageFPS() float64 { return s.Stats().AverageFPS }

func removeAll(files []string) {
	for _, f := range files {
		if f == "" {
			continue
		}
		if err := os.Remove(f); err != nil && !errors.Is(err, os.ErrNotExist) {
			slog.Debug("remove session file", "path", f, "err", err)
		}
	}
}
