package rtc

import (
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/rviscarra/vidcap/internal/encoders"
	"github.com/rviscarra/vidcap/internal/feeder"
)

// Hub fans encoded packets of the recording out to preview peers. Publish
// never blocks; slow peers lose packets.
type Hub struct {
	log *slog.Logger

	mu   sync.Mutex
	subs map[chan feeder.Packet]struct{}

	skipped  atomic.Int64
	warnOnce sync.Once
}

// NewHub returns an empty hub.
func NewHub(log *slog.Logger) *Hub {
	if log == nil {
		log = slog.Default()
	}
	return &Hub{log: log, subs: make(map[chan feeder.Packet]struct{})}
}

// Publish hands p to every subscriber. Only H.264 packets can be previewed.
func (h *Hub) Publish(p feeder.Packet) {
	if p.Codec != encoders.H264Codec {
		h.warnOnce.Do(func() {
			h.log.Warn("live preview needs the h264 codec", "codec", p.Codec)
		})
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	for ch := range h.subs {
		select {
		case ch <- p:
		default:
			h.skipped.Add(1)
		}
	}
}

// Subscribe registers a subscriber with a buffer of size packets. The
// returned function unsubscribes it.
func (h *Hub) Subscribe(size int) (<-chan feeder.Packet, func()) {
	ch := make(chan feeder.Packet, size)
	h.mu.Lock()
	h.subs[ch] = struct{}{}
	h.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.subs, ch)
			h.mu.Unlock()
		})
	}
}

// Viewers returns the number of subscribers.
func (h *Hub) Viewers() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

// Skipped returns the number of packets lost to slow subscribers.
func (h *Hub) Skipped() int64 { return h.skipped.Load() }
