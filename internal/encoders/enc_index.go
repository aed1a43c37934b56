package encoders

import (
	"fmt"
	"sort"
)

type encoderFactory = func(opts Options) (Encoder, error)

type audioEncoderFactory = func(format AudioFormat) (AudioEncoder, error)

// Index of supported codecs, each encoder should register itself
// It's implemented this way to support conditional compilation
// of each encoder.
var (
	registeredEncoders      = make(map[VideoCodec]encoderFactory, 2)
	registeredAudioEncoders = make(map[AudioCodec]audioEncoderFactory, 2)
)

// EncoderService creates instances of encoders
type EncoderService struct{}

// NewEncoderService creates an encoder factory
func NewEncoderService() Service {
	return &EncoderService{}
}

// NewEncoder creates an instance of an encoder of the selected codec
func (*EncoderService) NewEncoder(codec VideoCodec, opts Options) (Encoder, error) {
	factory, found := registeredEncoders[codec]
	if !found {
		return nil, fmt.Errorf("encoders: codec %q not supported", codec)
	}
	if opts.Size.X <= 0 || opts.Size.Y <= 0 {
		return nil, fmt.Errorf("encoders: invalid frame size %v", opts.Size)
	}
	if opts.FrameRate <= 0 {
		return nil, fmt.Errorf("encoders: invalid frame rate %d", opts.FrameRate)
	}
	return factory(opts)
}

// Supports returns a boolean indicating if the codec is supported
func (*EncoderService) Supports(codec VideoCodec) bool {
	_, found := registeredEncoders[codec]
	return found
}

// NewAudioEncoder creates an audio encoder of the selected codec
func (*EncoderService) NewAudioEncoder(codec AudioCodec, format AudioFormat) (AudioEncoder, error) {
	factory, found := registeredAudioEncoders[codec]
	if !found {
		return nil, fmt.Errorf("encoders: audio codec %q not supported", codec)
	}
	if format.SampleRate <= 0 || format.Channels <= 0 {
		return nil, fmt.Errorf("encoders: invalid audio format %d Hz x %d", format.SampleRate, format.Channels)
	}
	return factory(format)
}

// SupportsAudio returns a boolean indicating if the audio codec is supported
func (*EncoderService) SupportsAudio(codec AudioCodec) bool {
	_, found := registeredAudioEncoders[codec]
	return found
}

// VideoCodecs lists the registered video codecs in name order
func VideoCodecs() []VideoCodec {
	out := make([]VideoCodec, 0, len(registeredEncoders))
	for c := range registeredEncoders {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
