package rtc

import (
	"log/slog"
	"sync"
	"time"

	"github.com/bluenviron/mediacommon/pkg/codecs/h264"
	"github.com/pion/webrtc/v4/pkg/media"

	"github.com/rviscarra/vidcap/internal/feeder"
)

// defaultSampleDuration is used for the first sample of a stream.
const defaultSampleDuration = time.Second / 30

const streamerBuffer = 64

type sampleWriter interface {
	WriteSample(media.Sample) error
}

type rtcStreamer struct {
	track sampleWriter
	hub   *Hub
	log   *slog.Logger

	stopOnce sync.Once
	stop     chan struct{}
	done     chan struct{}

	started bool
	lastPTS time.Duration
	written int
}

func newRTCStreamer(track sampleWriter, hub *Hub, log *slog.Logger) *rtcStreamer {
	if log == nil {
		log = slog.Default()
	}
	return &rtcStreamer{
		track: track,
		hub:   hub,
		log:   log,
		stop:  make(chan struct{}),
		done:  make(chan struct{}),
	}
}

func (s *rtcStreamer) start() {
	packets, unsubscribe := s.hub.Subscribe(streamerBuffer)
	go s.run(packets, unsubscribe)
}

func (s *rtcStreamer) run(packets <-chan feeder.Packet, unsubscribe func()) {
	defer close(s.done)
	defer unsubscribe()
	for {
		select {
		case <-s.stop:
			return
		case p := <-packets:
			if err := s.stream(p); err != nil {
				s.log.Warn("preview stream ended", "err", err)
				return
			}
		}
	}
}

// stream writes p once the stream has reached its first IDR access unit.
func (s *rtcStreamer) stream(p feeder.Packet) error {
	if !s.started {
		au, err := h264.AnnexBUnmarshal(p.Data)
		if err != nil || !h264.IDRPresent(au) {
			return nil
		}
		s.started = true
		s.lastPTS = p.PTS - defaultSampleDuration
	}
	d := p.PTS - s.lastPTS
	if d <= 0 {
		d = defaultSampleDuration
	}
	s.lastPTS = p.PTS
	s.written++
	return s.track.WriteSample(media.Sample{Data: p.Data, Duration: d})
}

func (s *rtcStreamer) close() {
	s.stopOnce.Do(func() { close(s.stop) })
}
