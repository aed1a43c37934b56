package feeder

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rviscarra/vidcap/internal/container"
)

// run is the ordering goroutine: it is the only code touching the encoders
// and the writer after Start.
func (f *Feeder) run() {
	defer f.drain()
	for {
		select {
		case <-f.abortCh:
			f.abort()
			return
		default:
		}

		select {
		case <-f.abortCh:
			f.abort()
			return
		case j := <-f.queue:
			if done := f.handle(j); done {
				return
			}
		}
	}
}

func (f *Feeder) handle(j job) bool {
	switch j.kind {
	case jobFrame:
		err := f.writeFrame(j)
		f.pending.Add(-1)
		select {
		case f.freed <- struct{}{}:
		default:
		}
		if err != nil {
			f.fail(err)
			return true
		}
	case jobAudio:
		if err := f.writeAudio(j); err != nil {
			f.fail(err)
			return true
		}
	case jobFinish:
		f.finish()
		return true
	}
	return false
}

func (f *Feeder) writeFrame(j job) error {
	defer j.frame.Release()
	ctx := context.Background()

	if f.haveVideo && j.pts < f.lastVideo {
		f.regressed.Add(1)
		f.metrics.RecordRegression(ctx, "video")
		f.log.Debug("video timestamp regressed", "pts", j.pts, "last", f.lastVideo)
		return nil
	}

	start := time.Now()
	payload, err := f.video.Encode(j.frame.Image)
	if err != nil {
		return fmt.Errorf("%w: encode frame at %s: %v", ErrWrite, j.pts, err)
	}
	f.haveVideo = true
	f.lastVideo = j.pts
	if payload == nil {
		return nil
	}
	if err := f.writer.WriteVideo(j.pts, payload); err != nil {
		if errors.Is(err, container.ErrTimestampRegression) {
			f.regressed.Add(1)
			return nil
		}
		return fmt.Errorf("%w: %v", ErrWrite, err)
	}
	f.frames.Add(1)
	f.metrics.FramesWritten.Add(ctx, 1)
	f.metrics.EncodeDuration.Record(ctx, time.Since(start).Seconds())

	if tap := f.tap.Load(); tap != nil {
		(*tap)(Packet{Codec: f.cfg.Codec, PTS: j.pts, Data: payload})
	}
	return nil
}

func (f *Feeder) writeAudio(j job) error {
	if f.haveAudio && j.pts < f.lastAudio {
		f.regressed.Add(1)
		f.metrics.RecordRegression(context.Background(), "audio")
		return nil
	}
	if !f.haveAudio {
		f.audioBase = j.pts
		f.haveAudio = true
	}
	f.lastAudio = j.pts

	packets, err := f.audio.Encode(j.pcm)
	if err != nil {
		return fmt.Errorf("%w: encode audio: %v", ErrWrite, err)
	}
	channels := f.cfg.Audio.Channels
	rate := int64(f.cfg.Audio.SampleRate)
	for _, p := range packets {
		samples := f.audio.FrameSize()
		if samples == 0 {
			samples = len(p) / 2 / channels
		}
		pts := f.audioBase + time.Duration(f.audioCursor*int64(time.Second)/rate)
		if err := f.writer.WriteAudio(pts, p, samples); err != nil {
			return fmt.Errorf("%w: %v", ErrWrite, err)
		}
		f.audioCursor += int64(samples)
		f.packets.Add(1)
	}
	return nil
}

func (f *Feeder) finish() {
	f.closeEncoders()
	frames := f.writer.Frames()
	if err := f.writer.Close(); err != nil {
		f.writer.Abort()
		f.state.Store(int32(StateFailed))
		f.resolve(Result{Path: f.cfg.Path, Frames: frames, Err: fmt.Errorf("%w: %v", ErrWrite, err)})
		f.log.Error("feeder finish failed", "err", err)
		return
	}
	f.state.Store(int32(StateFinished))
	f.resolve(Result{Path: f.cfg.Path, Frames: frames})
	f.log.Debug("feeder finished", "frames", frames)
}

func (f *Feeder) fail(err error) {
	f.closeEncoders()
	f.writer.Abort()
	f.state.Store(int32(StateFailed))
	f.resolve(Result{Path: f.cfg.Path, Frames: f.writer.Frames(), Err: err})
	f.log.Error("feeder failed", "err", err)
}

func (f *Feeder) abort() {
	f.closeEncoders()
	if err := f.writer.Abort(); err != nil {
		f.log.Warn("feeder abort cleanup", "err", err)
	}
	f.state.Store(int32(StateFailed))
	f.resolve(Result{Path: f.cfg.Path, Frames: f.writer.Frames(), Err: ErrAborted})
	f.log.Debug("feeder aborted")
}

// drain releases frames still queued once the loop has exited.
func (f *Feeder) drain() {
	for {
		select {
		case j := <-f.queue:
			if j.kind == jobFrame {
				j.frame.Release()
				f.pending.Add(-1)
			}
		default:
			return
		}
	}
}
