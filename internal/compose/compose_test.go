package compose

import (
	"context"
	"errors"
	"image"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/bluenviron/mediacommon/pkg/formats/fmp4"
	"github.com/go-audio/audio"
	"github.com/go-audio/wav"

	"github.com/rviscarra/vidcap/internal/container"
	"github.com/rviscarra/vidcap/internal/encoders"
)

// writeRecording writes an MJPEG recording of frames at 30 fps, with a
// live LPCM track when withAudio is set.
func writeRecording(t *testing.T, path string, frames int, withAudio bool) {
	t.Helper()
	var at *container.AudioTrack
	if withAudio {
		at = &container.AudioTrack{Codec: encoders.LPCMCodec, SampleRate: 48000, Channels: 1}
	}
	w, err := container.Create(path,
		container.VideoTrack{Codec: encoders.MJPEGCodec, Size: image.Pt(32, 32), FrameRate: 30},
		at,
	)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	for i := 0; i < frames; i++ {
		pts := time.Duration(i) * time.Second / 30
		if err := w.WriteVideo(pts, []byte{0xff, 0xd8, byte(i), 0xff, 0xd9}); err != nil {
			t.Fatalf("WriteVideo: %v", err)
		}
		if withAudio {
			if err := w.WriteAudio(pts, make([]byte, 1600*2), 1600); err != nil {
				t.Fatalf("WriteAudio: %v", err)
			}
		}
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
}

func writeWAV(t *testing.T, path string, rate, bitDepth, frames int) {
	t.Helper()
	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	enc := wav.NewEncoder(f, rate, bitDepth, 1, 1)
	data := make([]int, frames)
	for i := range data {
		data[i] = i % 100
	}
	buf := &audio.IntBuffer{
		Format:         &audio.Format{NumChannels: 1, SampleRate: rate},
		Data:           data,
		SourceBitDepth: bitDepth,
	}
	if err := enc.Write(buf); err != nil {
		t.Fatalf("wav write: %v", err)
	}
	if err := enc.Close(); err != nil {
		t.Fatalf("wav close: %v", err)
	}
}

func loadVideo(t *testing.T, path string) *Video {
	t.Helper()
	v, err := LoadVideo(path)
	if err != nil {
		t.Fatalf("LoadVideo: %v", err)
	}
	return v
}

func loadAudio(t *testing.T, path string) *Asset {
	t.Helper()
	a, err := LoadAudio(path)
	if err != nil {
		t.Fatalf("LoadAudio(%s): %v", path, err)
	}
	return a
}

func TestCompose_UserAudioTracks(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	videoPath := filepath.Join(dir, "video.mp4")
	writeRecording(t, videoPath, 45, false)
	writeWAV(t, filepath.Join(dir, "user1.wav"), 8000, 16, 16000)
	writeWAV(t, filepath.Join(dir, "user2.wav"), 8000, 16, 8000)

	out := filepath.Join(dir, "final.mp4")
	res, err := NewEngine(nil, nil).Compose(context.Background(), Request{
		Video:  loadVideo(t, videoPath),
		User1:  loadAudio(t, filepath.Join(dir, "user1.wav")),
		User2:  loadAudio(t, filepath.Join(dir, "user2.wav")),
		Output: out,
	})
	if err != nil {
		t.Fatalf("Compose: %v", err)
	}
	if res.Tracks != 3 {
		t.Errorf("tracks = %d, want 3", res.Tracks)
	}
	if res.Duration != 1500*time.Millisecond {
		t.Errorf("duration = %s, want 1.5s", res.Duration)
	}

	f, err := container.ReadFile(out)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if len(f.Init.Tracks) != 3 {
		t.Fatalf("init tracks = %d, want 3", len(f.Init.Tracks))
	}
	if got := len(f.Samples(1)); got != 45 {
		t.Errorf("video samples = %d, want 45", got)
	}
	if got := f.Duration(1); got != 1500*time.Millisecond {
		t.Errorf("video duration = %s, want 1.5s", got)
	}
	// user1 is longer than the video and is cut to its length.
	if got := f.Duration(2); got != 1500*time.Millisecond {
		t.Errorf("user1 duration = %s, want 1.5s", got)
	}
	if got := f.Duration(3); got != time.Second {
		t.Errorf("user2 duration = %s, want 1s", got)
	}
	var bytes int
	for _, s := range f.Samples(2) {
		bytes += len(s.Payload)
	}
	if bytes != 12000*2 {
		t.Errorf("user1 payload = %d bytes, want %d", bytes, 12000*2)
	}
	if _, ok := f.Track(2).Codec.(*fmp4.CodecLPCM); !ok {
		t.Errorf("user1 codec = %T, want *fmp4.CodecLPCM", f.Track(2).Codec)
	}
	if first := f.Samples(3)[0]; first.DTS != 0 {
		t.Errorf("user2 starts at %d, want 0", first.DTS)
	}
}

func TestCompose_CapturedFromRecording(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	videoPath := filepath.Join(dir, "video.mp4")
	writeRecording(t, videoPath, 30, false)
	capturedPath := filepath.Join(dir, "captured.mp4")
	writeRecording(t, capturedPath, 30, true)
	writeWAV(t, filepath.Join(dir, "mixed.wav"), 8000, 16, 8000)

	out := filepath.Join(dir, "final.mp4")
	res, err := NewEngine(nil, nil).Compose(context.Background(), Request{
		Video:    loadVideo(t, videoPath),
		Captured: loadAudio(t, capturedPath),
		Mixed:    loadAudio(t, filepath.Join(dir, "mixed.wav")),
		Output:   out,
	})
	if err != nil {
		t.Fatalf("Compose: %v", err)
	}
	if res.Tracks != 2 {
		t.Errorf("tracks = %d, want 2 (mixed audio ignored)", res.Tracks)
	}
}

func TestCompose_IncompatibleLeavesNoOutput(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	videoPath := filepath.Join(dir, "video.mp4")
	writeRecording(t, videoPath, 30, false)
	writeWAV(t, filepath.Join(dir, "user1.wav"), 8000, 8, 8000)

	user1 := loadAudio(t, filepath.Join(dir, "user1.wav"))
	if user1.Compatible {
		t.Fatal("8-bit WAV reported compatible")
	}

	out := filepath.Join(dir, "final.mp4")
	_, err := NewEngine(nil, nil).Compose(context.Background(), Request{
		Video:  loadVideo(t, videoPath),
		User1:  user1,
		Output: out,
	})
	if !errors.Is(err, ErrVideoIncompatible) {
		t.Fatalf("err = %v, want ErrVideoIncompatible", err)
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	for _, e := range entries {
		if e.Name() != "video.mp4" && e.Name() != "user1.wav" {
			t.Errorf("unexpected file %s", e.Name())
		}
	}
}

func TestCompose_IncompatibleMixedRejected(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	videoPath := filepath.Join(dir, "video.mp4")
	writeRecording(t, videoPath, 30, false)
	writeWAV(t, filepath.Join(dir, "user1.wav"), 8000, 16, 8000)
	writeWAV(t, filepath.Join(dir, "mixed.wav"), 8000, 8, 8000)

	out := filepath.Join(dir, "final.mp4")
	_, err := NewEngine(nil, nil).Compose(context.Background(), Request{
		Video:  loadVideo(t, videoPath),
		User1:  loadAudio(t, filepath.Join(dir, "user1.wav")),
		Mixed:  loadAudio(t, filepath.Join(dir, "mixed.wav")),
		Output: out,
	})
	if !errors.Is(err, ErrVideoIncompatible) {
		t.Fatalf("err = %v, want ErrVideoIncompatible", err)
	}
	if _, err := os.Stat(out); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("output written despite incompatible mixed audio: %v", err)
	}
}

func TestLoad_Errors(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	garbage := filepath.Join(dir, "garbage.bin")
	if err := os.WriteFile(garbage, []byte("not media at all"), 0o644); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name string
		load func() error
	}{
		{"missing audio", func() error { _, err := LoadAudio(filepath.Join(dir, "nope.wav")); return err }},
		{"garbage audio", func() error { _, err := LoadAudio(garbage); return err }},
		{"missing video", func() error { _, err := LoadVideo(filepath.Join(dir, "nope.mp4")); return err }},
		{"garbage video", func() error { _, err := LoadVideo(garbage); return err }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := tt.load(); !errors.Is(err, ErrAssetNotLoaded) {
				t.Errorf("err = %v, want ErrAssetNotLoaded", err)
			}
		})
	}
}

func TestRequest_Sources(t *testing.T) {
	t.Parallel()
	captured := &Asset{Path: "captured"}
	user2 := &Asset{Path: "user2"}
	mixed := &Asset{Path: "mixed"}

	tests := []struct {
		name string
		req  Request
		want []string
	}{
		{"none", Request{}, nil},
		{"mixed only", Request{Mixed: mixed}, []string{"mixed"}},
		{"order kept", Request{User2: user2, Captured: captured, Mixed: mixed}, []string{"captured", "user2"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := tt.req.Sources()
			if len(got) != len(tt.want) {
				t.Fatalf("sources = %d, want %d", len(got), len(tt.want))
			}
			for i, a := range got {
				if a.Path != tt.want[i] {
					t.Errorf("source %d = %s, want %s", i, a.Path, tt.want[i])
				}
			}
		})
	}
}

func TestRequest_SourcesSkipsEmpty(t *testing.T) {
	t.Parallel()
	empty := &Asset{Path: "captured", Compatible: true}
	mixed := &Asset{Path: "mixed", Compatible: true, samples: []container.Sample{{PartSample: &fmp4.PartSample{Duration: 1}}}}

	got := Request{Captured: empty, Mixed: mixed}.Sources()
	if len(got) != 1 || got[0] != mixed {
		t.Fatalf("sources = %v, want only the mixed reference", got)
	}
}
