package session

import (
	"context"
	"errors"
	"time"

	"github.com/rviscarra/vidcap/internal/config"
	"github.com/rviscarra/vidcap/internal/convert"
	"github.com/rviscarra/vidcap/internal/feeder"
)

// Drop reasons reported on the frames dropped counter.
const (
	dropNotReady  = "not_ready"
	dropTimeout   = "wait_timeout"
	dropThrottled = "throttled"
	dropCapture   = "capture"
)

// WriteFrame offers one rendered texture to the recording. The pacing mode
// decides what happens when the encoder is busy. A failed frame is counted
// and reported but never ends the recording.
func (s *Session) WriteFrame(ctx context.Context, tex convert.Texture) Status {
	s.mu.Lock()
	state, sink, conv, cfg, began := s.state, s.sink, s.conv, s.cfg, s.began
	s.mu.Unlock()
	if state != StateRecording {
		return StatusUnknown
	}

	now := time.Now()
	if cfg.SyncWait > 0 && now.Sub(began) < cfg.SyncWait {
		return StatusOK
	}

	ready := sink.IsReadyForNextFrame()
	switch cfg.Pacing {
	case config.PacingThrottled:
		interval := time.Second / time.Duration(cfg.FrameRate)
		if !s.lastEmit.IsZero() && now.Sub(s.lastEmit) < interval {
			s.drop(ctx, dropThrottled)
			return StatusOK
		}
		if !ready {
			s.drop(ctx, dropNotReady)
			return StatusOK
		}
	case config.PacingLocked:
		if !ready {
			s.waited.Add(1)
			s.deps.Metrics.FramesWaited.Add(ctx, 1)
			wctx, cancel := context.WithTimeout(ctx, cfg.FrameWaitLimit)
			ready = sink.WaitReady(wctx)
			cancel()
			if !ready {
				s.drop(ctx, dropTimeout)
				return s.sinkStatus(sink)
			}
		}
	default:
		if !ready {
			s.drop(ctx, dropNotReady)
			return StatusOK
		}
	}

	frame, err := conv.Convert(tex)
	if err != nil {
		s.drop(ctx, dropCapture)
		s.log.Debug("frame conversion failed", "frame", s.frameNumber.Load(), "err", err)
		return StatusOf(err)
	}

	n := s.frameNumber.Load()
	pts := time.Duration(n) * time.Second / time.Duration(cfg.FrameRate)
	if err := sink.SubmitFrame(pts, frame); err != nil {
		s.drop(ctx, dropNotReady)
		if errors.Is(err, feeder.ErrNotReady) {
			return StatusOK
		}
		return s.sinkStatus(sink)
	}
	s.frameNumber.Store(n + 1)
	s.lastEmit = now
	return StatusOK
}

// sinkStatus reports the failure of a resolved feeder, or OK while it is
// still running.
func (s *Session) sinkStatus(sink encodeSink) Status {
	select {
	case <-sink.Done():
		if err := sink.Result().Err; err != nil {
			return StatusOf(err)
		}
	default:
	}
	return StatusOK
}

func (s *Session) drop(ctx context.Context, reason string) {
	n := s.dropped.Add(1)
	s.deps.Metrics.RecordDrop(ctx, reason)
	if n == 1 {
		s.log.Debug("first frame dropped", "reason", reason, "frame", s.frameNumber.Load())
	}
}
