//go:build h264enc

package encoders

import (
	"bytes"
	"fmt"
	"image"

	"github.com/gen2brain/x264-go"
)

// H264Encoder h264 encoder
type H264Encoder struct {
	buffer  *bytes.Buffer
	encoder *x264.Encoder
	size    image.Point
}

func newH264Encoder(opts Options) (Encoder, error) {
	if opts.Size.X%2 != 0 || opts.Size.Y%2 != 0 {
		return nil, fmt.Errorf("encoders: h264 needs even frame dimensions, got %v", opts.Size)
	}
	buffer := bytes.NewBuffer(make([]byte, 0))
	xopts := x264.Options{
		Width:     opts.Size.X,
		Height:    opts.Size.Y,
		FrameRate: opts.FrameRate,
		Tune:      "zerolatency",
		Preset:    "veryfast",
		Profile:   "baseline",
		LogLevel:  x264.LogWarning,
	}
	encoder, err := x264.NewEncoder(buffer, &xopts)
	if err != nil {
		return nil, err
	}
	return &H264Encoder{
		buffer:  buffer,
		encoder: encoder,
		size:    opts.Size,
	}, nil
}

// Encode encodes a frame into an Annex-B access unit
func (e *H264Encoder) Encode(frame *image.RGBA) ([]byte, error) {
	err := e.encoder.Encode(frame)
	if err != nil {
		return nil, err
	}
	err = e.encoder.Flush()
	if err != nil {
		return nil, err
	}
	if e.buffer.Len() == 0 {
		return nil, nil
	}
	payload := make([]byte, e.buffer.Len())
	copy(payload, e.buffer.Bytes())
	e.buffer.Reset()
	return payload, nil
}

// VideoSize returns the encoded frame size
func (e *H264Encoder) VideoSize() image.Point {
	return e.size
}

// Close flushes and closes the inner x264 encoder
func (e *H264Encoder) Close() error {
	return e.encoder.Close()
}

func init() {
	registeredEncoders[H264Codec] = newH264Encoder
}
