//go:build opus

package encoders

import (
	"fmt"

	"layeh.com/gopus"
)

const (
	opusSampleRate  = 48000
	opusFrameSizeMs = 20
	// opusFrameSize is the number of samples per channel per 20 ms frame.
	opusFrameSize = opusSampleRate * opusFrameSizeMs / 1000 // 960
	opusMaxPacket = 4000
)

// OpusEncoder buffers PCM until a full 20 ms frame is available
type OpusEncoder struct {
	enc      *gopus.Encoder
	channels int
	pending  []int16
}

func newOpusEncoder(format AudioFormat) (AudioEncoder, error) {
	if format.SampleRate != opusSampleRate {
		return nil, fmt.Errorf("encoders: opus needs %d Hz input, got %d", opusSampleRate, format.SampleRate)
	}
	enc, err := gopus.NewEncoder(opusSampleRate, format.Channels, gopus.Audio)
	if err != nil {
		return nil, fmt.Errorf("encoders: create opus encoder: %w", err)
	}
	return &OpusEncoder{enc: enc, channels: format.Channels}, nil
}

// Encode appends pcm to the pending buffer and encodes every complete frame
func (e *OpusEncoder) Encode(pcm []int16) ([][]byte, error) {
	e.pending = append(e.pending, pcm...)
	step := opusFrameSize * e.channels

	var packets [][]byte
	for len(e.pending) >= step {
		packet, err := e.enc.Encode(e.pending[:step], opusFrameSize, opusMaxPacket)
		if err != nil {
			return packets, fmt.Errorf("encoders: opus encode: %w", err)
		}
		packets = append(packets, packet)
		e.pending = e.pending[step:]
	}
	if len(e.pending) == 0 {
		e.pending = nil
	}
	return packets, nil
}

// FrameSize is 960 samples per channel
func (e *OpusEncoder) FrameSize() int { return opusFrameSize }

// Close drops any partial frame
func (e *OpusEncoder) Close() error {
	e.pending = nil
	return nil
}

func init() {
	registeredAudioEncoders[OpusCodec] = newOpusEncoder
}
