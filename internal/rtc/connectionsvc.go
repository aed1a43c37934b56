package rtc

import (
	"log/slog"

	"github.com/rviscarra/vidcap/internal/observe"
)

// PreviewService is our implementation of the rtc.Service
type PreviewService struct {
	stunServer string
	hub        *Hub
	metrics    *observe.Metrics
	log        *slog.Logger
}

// NewPreviewService creates a new instance of PreviewService streaming
// the packets published on hub.
func NewPreviewService(stun string, hub *Hub, m *observe.Metrics, log *slog.Logger) Service {
	if log == nil {
		log = slog.Default()
	}
	if m == nil {
		m = observe.DefaultMetrics()
	}
	return &PreviewService{
		stunServer: stun,
		hub:        hub,
		metrics:    m,
		log:        log,
	}
}

// CreatePreviewConnection creates a peer connection that will stream the
// recording once its offer is processed
func (svc *PreviewService) CreatePreviewConnection() (PreviewConnection, error) {
	return &PreviewPeerConn{
		stunServer: svc.stunServer,
		hub:        svc.hub,
		metrics:    svc.metrics,
		log:        svc.log.With("component", "preview"),
	}, nil
}
