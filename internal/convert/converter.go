// Package convert turns renderer-owned textures into pixel buffers the
// encoders accept.
package convert

import (
	"errors"
	"fmt"
	"image"
	"image/draw"

	"github.com/nfnt/resize"
)

// ErrFrameCapture is returned when a texture cannot be turned into a pixel
// buffer. It is not retryable for the frame in question.
var ErrFrameCapture = errors.New("convert: frame capture failed")

// Texture is a frame owned by the renderer. It is only valid for the duration
// of the call it is passed to.
type Texture interface {
	Bounds() image.Rectangle

	// ReadPixels copies the texture contents into dst, whose bounds equal
	// Bounds() translated to the origin.
	ReadPixels(dst *image.RGBA) error
}

// ImageTexture adapts an in-memory image to [Texture].
type ImageTexture struct {
	Img image.Image
}

// Bounds implements Texture.
func (t ImageTexture) Bounds() image.Rectangle { return t.Img.Bounds() }

// ReadPixels implements Texture.
func (t ImageTexture) ReadPixels(dst *image.RGBA) error {
	draw.Draw(dst, dst.Rect, t.Img, t.Img.Bounds().Min, draw.Src)
	return nil
}

// Frame is a converted pixel buffer. Release must be called once the encoder
// is done with it.
type Frame struct {
	Image *image.RGBA
	pool  *Pool
}

// Release hands the buffer back to the cache. It is safe to call twice.
func (f *Frame) Release() {
	if f == nil || f.Image == nil {
		return
	}
	f.pool.Put(f.Image)
	f.Image = nil
}

// Converter produces frame-sized pixel buffers from textures, resizing and
// gamma correcting as needed. A Converter belongs to one session and is only
// used from the render context.
type Converter struct {
	size  image.Point
	gamma *GammaLUT
	pool  *Pool
}

// Options configures a Converter.
type Options struct {
	Size  image.Point
	Gamma float64

	// Buffers bounds how many converted frames may be in flight. Zero
	// means unlimited.
	Buffers int
}

// New creates a Converter for frames of opts.Size.
func New(opts Options) (*Converter, error) {
	if opts.Size.X <= 0 || opts.Size.Y <= 0 {
		return nil, fmt.Errorf("convert: invalid frame size %v", opts.Size)
	}
	c := &Converter{
		size: opts.Size,
		pool: NewPool(4, opts.Buffers),
	}
	if opts.Gamma != 1.0 {
		c.gamma = NewGammaLUT(opts.Gamma)
	}
	return c, nil
}

// Size returns the output frame size.
func (c *Converter) Size() image.Point { return c.size }

// Pool exposes the buffer cache.
func (c *Converter) Pool() *Pool { return c.pool }

// Convert reads tex into a pooled buffer of the configured frame size.
func (c *Converter) Convert(tex Texture) (*Frame, error) {
	if tex == nil {
		return nil, fmt.Errorf("%w: nil texture", ErrFrameCapture)
	}
	src := tex.Bounds().Size()
	if src.X <= 0 || src.Y <= 0 {
		return nil, fmt.Errorf("%w: empty texture", ErrFrameCapture)
	}

	if src == c.size {
		buf, ok := c.pool.Get(c.size)
		if !ok {
			return nil, fmt.Errorf("%w: buffer cache exhausted", ErrFrameCapture)
		}
		if err := tex.ReadPixels(buf); err != nil {
			c.pool.Put(buf)
			return nil, fmt.Errorf("%w: %v", ErrFrameCapture, err)
		}
		return c.finish(buf), nil
	}

	staging, ok := c.pool.Get(src)
	if !ok {
		return nil, fmt.Errorf("%w: buffer cache exhausted", ErrFrameCapture)
	}
	defer c.pool.Put(staging)
	if err := tex.ReadPixels(staging); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrFrameCapture, err)
	}

	buf, ok := c.pool.Get(c.size)
	if !ok {
		return nil, fmt.Errorf("%w: buffer cache exhausted", ErrFrameCapture)
	}
	scaled := resize.Resize(uint(c.size.X), uint(c.size.Y), staging, resize.Bilinear)
	draw.Draw(buf, buf.Rect, scaled, scaled.Bounds().Min, draw.Src)
	return c.finish(buf), nil
}

func (c *Converter) finish(buf *image.RGBA) *Frame {
	if c.gamma != nil {
		c.gamma.Apply(buf.Pix)
	}
	return &Frame{Image: buf, pool: c.pool}
}
