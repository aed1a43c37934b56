package encoders

import (
	"bytes"
	"image"
	"image/color"
	"image/jpeg"
	"testing"
)

func TestEncoderService_MJPEG(t *testing.T) {
	t.Parallel()
	svc := NewEncoderService()
	if !svc.Supports(MJPEGCodec) {
		t.Fatal("mjpeg should always be registered")
	}

	enc, err := svc.NewEncoder(MJPEGCodec, Options{Size: image.Pt(32, 24), FrameRate: 30})
	if err != nil {
		t.Fatalf("NewEncoder: %v", err)
	}
	defer enc.Close()

	frame := image.NewRGBA(image.Rect(0, 0, 32, 24))
	for x := 0; x < 32; x++ {
		frame.SetRGBA(x, 5, color.RGBA{R: 255, A: 255})
	}
	payload, err := enc.Encode(frame)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	img, err := jpeg.Decode(bytes.NewReader(payload))
	if err != nil {
		t.Fatalf("payload is not a JPEG: %v", err)
	}
	if got := img.Bounds().Size(); got != image.Pt(32, 24) {
		t.Errorf("decoded size = %v, want 32x24", got)
	}
	if enc.VideoSize() != image.Pt(32, 24) {
		t.Errorf("VideoSize = %v", enc.VideoSize())
	}

	// Payloads must not alias the encoder's scratch buffer.
	second, err := enc.Encode(image.NewRGBA(image.Rect(0, 0, 32, 24)))
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	if bytes.Equal(payload, second) {
		t.Error("distinct frames produced identical payloads")
	}
	if _, err := jpeg.Decode(bytes.NewReader(payload)); err != nil {
		t.Errorf("first payload corrupted by second encode: %v", err)
	}
}

func TestEncoderService_Rejects(t *testing.T) {
	t.Parallel()
	svc := NewEncoderService()
	tests := []struct {
		name  string
		codec VideoCodec
		opts  Options
	}{
		{"unknown codec", VideoCodec("theora"), Options{Size: image.Pt(16, 16), FrameRate: 30}},
		{"zero size", MJPEGCodec, Options{Size: image.Pt(0, 16), FrameRate: 30}},
		{"zero fps", MJPEGCodec, Options{Size: image.Pt(16, 16)}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := svc.NewEncoder(tt.codec, tt.opts); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestJPEGQuality(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		opts Options
		want int
	}{
		{"default", Options{Size: image.Pt(640, 480), FrameRate: 30}, defaultJPEGQuality},
		{"starved", Options{Size: image.Pt(640, 480), FrameRate: 30, Bitrate: 100_000}, 10},
		{"generous", Options{Size: image.Pt(640, 480), FrameRate: 30, Bitrate: 200_000_000}, 95},
		{"middle", Options{Size: image.Pt(100, 100), FrameRate: 10, Bitrate: 150_000}, 75},
	}
	for _, tt := range tests {
		if got := jpegQuality(tt.opts); got != tt.want {
			t.Errorf("%s: quality = %d, want %d", tt.name, got, tt.want)
		}
	}
}

func TestLPCMEncoder(t *testing.T) {
	t.Parallel()
	svc := NewEncoderService()
	enc, err := svc.NewAudioEncoder(LPCMCodec, AudioFormat{SampleRate: 44100, Channels: 2})
	if err != nil {
		t.Fatalf("NewAudioEncoder: %v", err)
	}
	defer enc.Close()

	in := []int16{0, 1, -1, 32767, -32768, 256}
	packets, err := enc.Encode(in)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	if len(packets) != 1 || len(packets[0]) != len(in)*2 {
		t.Fatalf("packets = %d (len %d), want one of %d bytes", len(packets), len(packets[0]), len(in)*2)
	}
	out := BytesToInt16s(packets[0])
	for i := range in {
		if out[i] != in[i] {
			t.Errorf("sample %d = %d, want %d", i, out[i], in[i])
		}
	}
	if packets[0][6] != 0xff || packets[0][7] != 0x7f {
		t.Errorf("32767 encoded as % x, want little-endian ff 7f", packets[0][6:8])
	}

	if _, err := svc.NewAudioEncoder(LPCMCodec, AudioFormat{}); err == nil {
		t.Error("expected error for empty format")
	}
}
