package encoders

import (
	"bytes"
	"image"
	"image/jpeg"
)

const defaultJPEGQuality = 75

// MJPEGEncoder encodes every frame as a standalone JPEG
type MJPEGEncoder struct {
	buffer  bytes.Buffer
	quality int
	size    image.Point
}

func newMJPEGEncoder(opts Options) (Encoder, error) {
	return &MJPEGEncoder{
		quality: jpegQuality(opts),
		size:    opts.Size,
	}, nil
}

// jpegQuality maps the target bitrate to a JPEG quality through the bits
// available per pixel of one frame.
func jpegQuality(opts Options) int {
	if opts.Bitrate <= 0 {
		return defaultJPEGQuality
	}
	bpp := float64(opts.Bitrate) / float64(opts.FrameRate) / float64(opts.Size.X*opts.Size.Y)
	q := int(bpp * 50)
	switch {
	case q < 10:
		return 10
	case q > 95:
		return 95
	}
	return q
}

// Encode encodes a frame into a JPEG payload
func (e *MJPEGEncoder) Encode(frame *image.RGBA) ([]byte, error) {
	e.buffer.Reset()
	if err := jpeg.Encode(&e.buffer, frame, &jpeg.Options{Quality: e.quality}); err != nil {
		return nil, err
	}
	payload := make([]byte, e.buffer.Len())
	copy(payload, e.buffer.Bytes())
	return payload, nil
}

// VideoSize returns the encoded frame size
func (e *MJPEGEncoder) VideoSize() image.Point {
	return e.size
}

// Close is a no-op
func (e *MJPEGEncoder) Close() error {
	return nil
}

func init() {
	registeredEncoders[MJPEGCodec] = newMJPEGEncoder
}
