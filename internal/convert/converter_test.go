package convert

import (
	"errors"
	"image"
	"image/color"
	"testing"
)

func solid(w, h int, c color.RGBA) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for i := 0; i < len(img.Pix); i += 4 {
		img.Pix[i], img.Pix[i+1], img.Pix[i+2], img.Pix[i+3] = c.R, c.G, c.B, c.A
	}
	return img
}

type failingTexture struct{}

func (failingTexture) Bounds() image.Rectangle      { return image.Rect(0, 0, 4, 4) }
func (failingTexture) ReadPixels(*image.RGBA) error { return errors.New("device lost") }

func TestConvert_SameSizeIdentity(t *testing.T) {
	t.Parallel()
	c, err := New(Options{Size: image.Pt(8, 6), Gamma: 1.0})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	want := color.RGBA{R: 10, G: 120, B: 250, A: 255}
	f, err := c.Convert(ImageTexture{Img: solid(8, 6, want)})
	if err != nil {
		t.Fatalf("Convert: %v", err)
	}
	defer f.Release()

	if got := f.Image.Rect.Size(); got != image.Pt(8, 6) {
		t.Fatalf("size = %v, want 8x6", got)
	}
	if got := f.Image.RGBAAt(3, 3); got != want {
		t.Errorf("pixel = %v, want %v", got, want)
	}
}

func TestConvert_ResizesToFrameSize(t *testing.T) {
	t.Parallel()
	c, err := New(Options{Size: image.Pt(16, 12), Gamma: 1.0})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	f, err := c.Convert(ImageTexture{Img: solid(64, 48, color.RGBA{R: 200, A: 255})})
	if err != nil {
		t.Fatalf("Convert: %v", err)
	}
	defer f.Release()
	if got := f.Image.Rect.Size(); got != image.Pt(16, 12) {
		t.Errorf("size = %v, want 16x12", got)
	}
	if c.Pool().Outstanding() != 1 {
		t.Errorf("outstanding = %d, want 1 (staging buffer returned)", c.Pool().Outstanding())
	}
}

func TestConvert_AppliesGamma(t *testing.T) {
	t.Parallel()
	c, err := New(Options{Size: image.Pt(2, 2), Gamma: 2.0})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	f, err := c.Convert(ImageTexture{Img: solid(2, 2, color.RGBA{R: 128, G: 255, B: 0, A: 77})})
	if err != nil {
		t.Fatalf("Convert: %v", err)
	}
	defer f.Release()

	got := f.Image.RGBAAt(0, 0)
	// 255*(128/255)^2 = 64.25
	if got.R != 64 || got.G != 255 || got.B != 0 {
		t.Errorf("rgb = %d,%d,%d, want 64,255,0", got.R, got.G, got.B)
	}
	if got.A != 77 {
		t.Errorf("alpha = %d, want 77 (untouched)", got.A)
	}
}

func TestGammaLUT_Identity(t *testing.T) {
	t.Parallel()
	lut := NewGammaLUT(1.0)
	for i := range lut {
		if int(lut[i]) != i {
			t.Fatalf("lut[%d] = %d, want identity", i, lut[i])
		}
	}
}

func TestConvert_Errors(t *testing.T) {
	t.Parallel()
	c, err := New(Options{Size: image.Pt(4, 4), Gamma: 1.0, Buffers: 1})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	if _, err := c.Convert(failingTexture{}); !errors.Is(err, ErrFrameCapture) {
		t.Errorf("read failure: err = %v, want ErrFrameCapture", err)
	}
	if c.Pool().Outstanding() != 0 {
		t.Errorf("failed read leaked a buffer")
	}

	held, err := c.Convert(ImageTexture{Img: solid(4, 4, color.RGBA{A: 255})})
	if err != nil {
		t.Fatalf("Convert: %v", err)
	}
	if _, err := c.Convert(ImageTexture{Img: solid(4, 4, color.RGBA{A: 255})}); !errors.Is(err, ErrFrameCapture) {
		t.Errorf("exhausted cache: err = %v, want ErrFrameCapture", err)
	}
	held.Release()
	held.Release()

	again, err := c.Convert(ImageTexture{Img: solid(4, 4, color.RGBA{A: 255})})
	if err != nil {
		t.Fatalf("Convert after release: %v", err)
	}
	again.Release()
	if c.Pool().Allocated() != 1 {
		t.Errorf("allocated = %d, want 1 (buffer recycled)", c.Pool().Allocated())
	}
}

func TestNew_InvalidSize(t *testing.T) {
	t.Parallel()
	if _, err := New(Options{Size: image.Pt(0, 480)}); err == nil {
		t.Error("expected error for zero width")
	}
}
