package capture

import (
	"errors"
	"log/slog"
)

// ErrNoMicrophone is returned when the binary was built without a
// microphone backend.
var ErrNoMicrophone = errors.New("capture: no microphone backend")

// Microphone records from an input device into a WAV file. Start and Stop
// run independently of the video pipeline.
type Microphone interface {
	// Start begins recording into path.
	Start(path string) error

	// Stop ends recording and finalises the file. It returns once the file
	// is complete.
	Stop() error
}

// MicrophoneFactory creates a Microphone for the given format.
type MicrophoneFactory func(format Format, log *slog.Logger) (Microphone, error)

var newDeviceMicrophone MicrophoneFactory = func(Format, *slog.Logger) (Microphone, error) {
	return nil, ErrNoMicrophone
}

// NewDeviceMicrophone returns the default input device, if the binary has a
// backend for it.
func NewDeviceMicrophone(format Format, log *slog.Logger) (Microphone, error) {
	if log == nil {
		log = slog.Default()
	}
	return newDeviceMicrophone(format, log)
}
