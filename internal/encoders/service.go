package encoders

import (
	"image"
	"io"
)

// Service creates encoder instances
type Service interface {
	NewEncoder(codec VideoCodec, opts Options) (Encoder, error)
	Supports(codec VideoCodec) bool
	NewAudioEncoder(codec AudioCodec, format AudioFormat) (AudioEncoder, error)
	SupportsAudio(codec AudioCodec) bool
}

// Encoder takes an image/frame and encodes it
type Encoder interface {
	io.Closer
	// Encode returns the encoded access unit for frame. A nil payload means
	// the encoder buffered the frame and produced nothing yet.
	Encode(frame *image.RGBA) ([]byte, error)
	VideoSize() image.Point
}

// VideoCodec names a video codec
type VideoCodec string

const (
	// H264Codec emits Annex-B access units
	H264Codec VideoCodec = "h264"
	// MJPEGCodec emits one baseline JPEG per frame
	MJPEGCodec VideoCodec = "mjpeg"
)

// Options are the per-session video encoder settings
type Options struct {
	Size      image.Point
	FrameRate int

	// Bitrate in bits per second, 0 keeps the codec default
	Bitrate int

	KeyFrameInterval int
}

// AudioFormat describes interleaved signed 16-bit PCM input
type AudioFormat struct {
	SampleRate int
	Channels   int
}

// AudioCodec names an audio codec
type AudioCodec string

const (
	// LPCMCodec stores little-endian 16-bit PCM
	LPCMCodec AudioCodec = "lpcm"
	// OpusCodec emits 20 ms Opus packets
	OpusCodec AudioCodec = "opus"
)

// AudioEncoder turns interleaved PCM into packets
type AudioEncoder interface {
	io.Closer
	// Encode consumes pcm and returns every packet that became complete.
	Encode(pcm []int16) ([][]byte, error)
	// FrameSize is the number of samples per channel in each packet, or 0
	// when packets follow the input size.
	FrameSize() int
}
