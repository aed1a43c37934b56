// Package rtc serves a live WebRTC preview of the video being recorded.
package rtc

import (
	"errors"
	"io"
)

// ErrNoCodec is returned when an offer has no H.264 format the preview can
// send.
var ErrNoCodec = errors.New("rtc: no matching H.264 codec in offer")

type videoStreamer interface {
	start()
	close()
}

// PreviewConnection Represents a WebRTC connection to a single peer
type PreviewConnection interface {
	io.Closer
	ProcessOffer(offer string) (string, error)
}

// Service WebRTC service
type Service interface {
	CreatePreviewConnection() (PreviewConnection, error)
}
