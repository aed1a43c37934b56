// Package feeder owns the encoders and container writer of one recording and
// serialises every write onto a single ordering goroutine.
package feeder

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rviscarra/vidcap/internal/container"
	"github.com/rviscarra/vidcap/internal/convert"
	"github.com/rviscarra/vidcap/internal/encoders"
	"github.com/rviscarra/vidcap/internal/observe"
)

var (
	// ErrStart is returned when the writer cannot be set up.
	ErrStart = errors.New("feeder: start failed")
	// ErrWrite marks a fatal writer failure while recording or finishing.
	ErrWrite = errors.New("feeder: write failed")
	// ErrAborted is the result of an aborted feeder.
	ErrAborted = errors.New("feeder: aborted")
	// ErrNotWriting is returned for submissions outside the Writing state.
	ErrNotWriting = errors.New("feeder: not writing")
	// ErrNotReady is returned when a frame is submitted while the queue is full.
	ErrNotReady = errors.New("feeder: not ready for next frame")
)

// DefaultQueueDepth is the number of frames that may be queued for encoding.
const DefaultQueueDepth = 2

// Config configures a Feeder.
type Config struct {
	// Path is the container file to create.
	Path string

	Codec   encoders.VideoCodec
	Options encoders.Options

	// Audio enables the live audio track when non-nil.
	Audio *container.AudioTrack

	// QueueDepth bounds the number of frames in flight.
	QueueDepth int

	Metrics *observe.Metrics
	Logger  *slog.Logger
}

// Result is the single outcome of a Feeder.
type Result struct {
	Path   string
	Frames int
	Err    error
}

// Packet is an encoded video access unit handed to the tap.
type Packet struct {
	Codec encoders.VideoCodec
	PTS   time.Duration
	Data  []byte
}

// Stats are the feeder counters.
type Stats struct {
	Frames       int64
	Regressed    int64
	AudioPackets int64
}

type jobKind int

const (
	jobFrame jobKind = iota
	jobAudio
	jobFinish
)

type job struct {
	kind  jobKind
	pts   time.Duration
	frame *convert.Frame
	pcm   []int16
}

// Feeder is the asynchronous encode side of a recording. Frame submission
// never blocks: callers consult [Feeder.IsReadyForNextFrame] first.
type Feeder struct {
	cfg     Config
	svc     encoders.Service
	log     *slog.Logger
	metrics *observe.Metrics

	state atomic.Int32

	video  encoders.Encoder
	audio  encoders.AudioEncoder
	writer *container.Writer

	queue   chan job
	pending atomic.Int32
	freed   chan struct{}

	abortOnce sync.Once
	abortCh   chan struct{}

	doneOnce sync.Once
	done     chan struct{}
	result   Result

	tap atomic.Pointer[func(Packet)]

	startedAt atomic.Int64
	frames    atomic.Int64
	regressed atomic.Int64
	packets   atomic.Int64

	// Owned by the ordering goroutine.
	lastVideo   time.Duration
	haveVideo   bool
	lastAudio   time.Duration
	audioBase   time.Duration
	audioCursor int64
	haveAudio   bool
}

// New creates an idle Feeder.
func New(svc encoders.Service, cfg Config) *Feeder {
	if cfg.QueueDepth <= 0 {
		cfg.QueueDepth = DefaultQueueDepth
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Metrics == nil {
		cfg.Metrics = observe.DefaultMetrics()
	}
	return &Feeder{
		cfg:     cfg,
		svc:     svc,
		log:     cfg.Logger.With("path", cfg.Path),
		metrics: cfg.Metrics,
		queue:   make(chan job, cfg.QueueDepth+32),
		freed:   make(chan struct{}, 1),
		abortCh: make(chan struct{}),
		done:    make(chan struct{}),
	}
}

// State returns the current state.
func (f *Feeder) State() State { return State(f.state.Load()) }

// Start allocates the encoders and opens the container. On success the
// feeder is Writing; on failure it is Failed and the result is resolved.
func (f *Feeder) Start() error {
	if !f.state.CompareAndSwap(int32(StateIdle), int32(StateStarting)) {
		return fmt.Errorf("%w: start from %s", ErrNotWriting, f.State())
	}

	if err := f.open(); err != nil {
		err = fmt.Errorf("%w: %v", ErrStart, err)
		f.closeEncoders()
		f.state.Store(int32(StateFailed))
		f.resolve(Result{Path: f.cfg.Path, Err: err})
		f.log.Error("feeder start failed", "err", err)
		return err
	}

	f.state.Store(int32(StateWriting))
	go f.run()
	f.log.Debug("feeder writing", "codec", f.cfg.Codec, "size", f.cfg.Options.Size)
	return nil
}

func (f *Feeder) open() error {
	enc, err := f.svc.NewEncoder(f.cfg.Codec, f.cfg.Options)
	if err != nil {
		return err
	}
	f.video = enc

	if f.cfg.Audio != nil {
		aenc, err := f.svc.NewAudioEncoder(f.cfg.Audio.Codec, encoders.AudioFormat{
			SampleRate: f.cfg.Audio.SampleRate,
			Channels:   f.cfg.Audio.Channels,
		})
		if err != nil {
			return err
		}
		f.audio = aenc
	}

	w, err := container.Create(f.cfg.Path, container.VideoTrack{
		Codec:     f.cfg.Codec,
		Size:      enc.VideoSize(),
		FrameRate: f.cfg.Options.FrameRate,
	}, f.cfg.Audio)
	if err != nil {
		return err
	}
	f.writer = w
	return nil
}

// IsReadyForNextFrame reports whether a frame submitted now would be queued.
func (f *Feeder) IsReadyForNextFrame() bool {
	return f.State() == StateWriting && int(f.pending.Load()) < f.cfg.QueueDepth
}

// WaitReady blocks until the feeder is ready for a frame, ctx is done or the
// feeder leaves the Writing state. It reports whether the feeder is ready.
func (f *Feeder) WaitReady(ctx context.Context) bool {
	for {
		if f.IsReadyForNextFrame() {
			return true
		}
		if f.State() != StateWriting {
			return false
		}
		select {
		case <-f.freed:
		case <-f.done:
			return false
		case <-ctx.Done():
			return false
		}
	}
}

// SubmitFrame queues a converted frame presented at pts. Ownership of frame
// passes to the feeder, which releases it once encoded, even on error.
func (f *Feeder) SubmitFrame(pts time.Duration, frame *convert.Frame) error {
	if f.State() != StateWriting {
		frame.Release()
		return ErrNotWriting
	}
	if int(f.pending.Add(1)) > f.cfg.QueueDepth {
		f.pending.Add(-1)
		frame.Release()
		return ErrNotReady
	}
	if f.startedAt.Load() == 0 {
		f.startedAt.CompareAndSwap(0, time.Now().UnixNano())
	}
	select {
	case f.queue <- job{kind: jobFrame, pts: pts, frame: frame}:
		return nil
	default:
		f.pending.Add(-1)
		frame.Release()
		return ErrNotReady
	}
}

// SubmitAudio queues interleaved PCM presented at pts. It blocks while the
// queue is full.
func (f *Feeder) SubmitAudio(ctx context.Context, pts time.Duration, pcm []int16) error {
	if f.cfg.Audio == nil {
		return fmt.Errorf("feeder: no audio track configured")
	}
	if f.State() != StateWriting {
		return ErrNotWriting
	}
	select {
	case f.queue <- job{kind: jobAudio, pts: pts, pcm: pcm}:
		return nil
	case <-f.done:
		return ErrNotWriting
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Finish requests an orderly finish. Queued work drains first; the outcome
// is delivered through [Feeder.Done]. Calling Finish again is a no-op.
func (f *Feeder) Finish() error {
	if !f.state.CompareAndSwap(int32(StateWriting), int32(StateFinishing)) {
		switch f.State() {
		case StateFinishing, StateFinished, StateFailed:
			return nil
		}
		return fmt.Errorf("%w: finish from %s", ErrNotWriting, f.State())
	}
	select {
	case f.queue <- job{kind: jobFinish}:
	case <-f.done:
	}
	return nil
}

// Abort discards the partial container and resolves the feeder with
// [ErrAborted]. It reports false when the feeder had already resolved.
func (f *Feeder) Abort() bool {
	select {
	case <-f.done:
		return false
	default:
	}
	switch State(f.state.Load()) {
	case StateIdle:
		if f.state.CompareAndSwap(int32(StateIdle), int32(StateFailed)) {
			return f.resolve(Result{Path: f.cfg.Path, Err: ErrAborted})
		}
	}
	f.abortOnce.Do(func() { close(f.abortCh) })
	<-f.done
	return errors.Is(f.result.Err, ErrAborted)
}

// Done is closed once the feeder has resolved.
func (f *Feeder) Done() <-chan struct{} { return f.done }

// Result returns the outcome. It is only meaningful once Done is closed.
func (f *Feeder) Result() Result {
	<-f.done
	return f.result
}

// Wait blocks until the feeder resolves or ctx is done.
func (f *Feeder) Wait(ctx context.Context) (Result, error) {
	select {
	case <-f.done:
		return f.result, nil
	case <-ctx.Done():
		return Result{}, ctx.Err()
	}
}

// SetTap installs fn to receive every encoded video packet. fn runs on the
// ordering goroutine and must not block. A nil fn removes the tap.
func (f *Feeder) SetTap(fn func(Packet)) {
	if fn == nil {
		f.tap.Store(nil)
		return
	}
	f.tap.Store(&fn)
}

// StartedAt returns the wall time of the first frame submission.
func (f *Feeder) StartedAt() time.Time {
	ns := f.startedAt.Load()
	if ns == 0 {
		return time.Time{}
	}
	return time.Unix(0, ns)
}

// Stats returns a snapshot of the counters.
func (f *Feeder) Stats() Stats {
	return Stats{
		Frames:       f.frames.Load(),
		Regressed:    f.regressed.Load(),
		AudioPackets: f.packets.Load(),
	}
}

func (f *Feeder) resolve(r Result) bool {
	resolved := false
	f.doneOnce.Do(func() {
		f.result = r
		close(f.done)
		resolved = true
	})
	return resolved
}

func (f *Feeder) closeEncoders() {
	if f.video != nil {
		f.video.Close()
	}
	if f.audio != nil {
		f.audio.Close()
	}
}
