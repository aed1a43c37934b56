package session

import (
	"errors"
	"strconv"

	"github.com/rviscarra/vidcap/internal/compose"
	"github.com/rviscarra/vidcap/internal/convert"
	"github.com/rviscarra/vidcap/internal/feeder"
)

// Status is the stable result code reported to the host.
type Status int

const (
	StatusOK                Status = 0
	StatusFrameCapture      Status = -1
	StatusMemory            Status = -2
	StatusCopyToAlbum       Status = -3
	StatusVideoIncompatible Status = -4
	StatusSessionExport     Status = -5
	StatusUnknown           Status = -6
	StatusAssetNotLoaded    Status = -11
)

// StatusAborted is returned by End for an aborted session.
const StatusAborted = StatusMemory

func (s Status) String() string {
	switch s {
	case StatusOK:
		return "OK"
	case StatusFrameCapture:
		return "FAILED_FRAME_CAPTURE"
	case StatusMemory:
		return "FAILED_MEMORY"
	case StatusCopyToAlbum:
		return "FAILED_COPY_TO_ALBUM"
	case StatusVideoIncompatible:
		return "FAILED_VIDEO_INCOMPATIBLE"
	case StatusSessionExport:
		return "FAILED_SESSION_EXPORT"
	case StatusUnknown:
		return "FAILED_UNKNOWN"
	case StatusAssetNotLoaded:
		return "FAILED_ASSET_COULD_NOT_BE_LOADED"
	}
	return "Status(" + strconv.Itoa(int(s)) + ")"
}

var (
	// ErrFrameCapture marks a frame that could not be converted.
	ErrFrameCapture = convert.ErrFrameCapture
	// ErrMemory marks a failure to allocate session resources.
	ErrMemory = errors.New("session: resource allocation failed")
	// ErrCopyToAlbum is returned when the media library rejects a file.
	ErrCopyToAlbum = errors.New("session: copy to library failed")
	// ErrAborted is the outcome of an aborted session.
	ErrAborted = errors.New("session: aborted")
	// ErrSessionActive is returned when a second session is created.
	ErrSessionActive = errors.New("session: another session is active")
	// ErrInvalidState is returned for an operation the current state does
	// not allow.
	ErrInvalidState = errors.New("session: invalid state")
)

// StatusOf maps an error chain to its status code.
func StatusOf(err error) Status {
	switch {
	case err == nil:
		return StatusOK
	case errors.Is(err, ErrFrameCapture):
		return StatusFrameCapture
	case errors.Is(err, ErrMemory), errors.Is(err, ErrAborted), errors.Is(err, feeder.ErrAborted):
		return StatusMemory
	case errors.Is(err, ErrCopyToAlbum):
		return StatusCopyToAlbum
	case errors.Is(err, compose.ErrVideoIncompatible):
		return StatusVideoIncompatible
	case errors.Is(err, compose.ErrSessionExport), errors.Is(err, feeder.ErrStart), errors.Is(err, feeder.ErrWrite):
		return StatusSessionExport
	case errors.Is(err, compose.ErrAssetNotLoaded):
		return StatusAssetNotLoaded
	}
	return StatusUnknown
}
