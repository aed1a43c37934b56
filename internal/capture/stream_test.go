package capture

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/go-audio/wav"
)

type recordingSink struct {
	mu  sync.Mutex
	pts []time.Duration
	n   int
}

func (s *recordingSink) SubmitAudio(_ context.Context, pts time.Duration, pcm []int16) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pts = append(s.pts, pts)
	s.n += len(pcm)
	return nil
}

func decode(t *testing.T, path string) *wav.Decoder {
	t.Helper()
	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { f.Close() })
	d := wav.NewDecoder(f)
	if !d.IsValidFile() {
		t.Fatalf("%s is not a valid WAV file", path)
	}
	return d
}

func TestStreamRecorder_GainMuteAndSink(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "device.wav")
	sink := &recordingSink{}
	r, err := NewStreamRecorder(StreamOptions{
		Path:   path,
		Format: Format{SampleRate: 1000, Channels: 2},
		Gain:   0.5,
		Mute:   true,
		Sink:   sink,
	})
	if err != nil {
		t.Fatalf("NewStreamRecorder: %v", err)
	}

	block := []float32{1, -1, 0.5, 2}
	if err := r.WriteFloat32(block); err != nil {
		t.Fatalf("WriteFloat32: %v", err)
	}
	for i, s := range block {
		if s != 0 {
			t.Errorf("block[%d] = %v, want muted", i, s)
		}
	}
	if err := r.WriteInt16([]int16{1000, -1000}); err != nil {
		t.Fatalf("WriteInt16: %v", err)
	}
	if err := r.WriteInt16([]int16{1}); err == nil {
		t.Error("expected error for a partial frame")
	}
	if got := r.Duration(); got != 3*time.Millisecond {
		t.Errorf("duration = %s, want 3ms", got)
	}
	if err := r.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := r.WriteInt16([]int16{0, 0}); !errors.Is(err, ErrClosed) {
		t.Errorf("write after close: err = %v, want ErrClosed", err)
	}

	d := decode(t, path)
	if d.NumChans != 2 || d.SampleRate != 1000 || d.BitDepth != 16 {
		t.Errorf("format = %d ch, %d Hz, %d bit", d.NumChans, d.SampleRate, d.BitDepth)
	}
	buf, err := d.FullPCMBuffer()
	if err != nil {
		t.Fatalf("FullPCMBuffer: %v", err)
	}
	want := []int{16384, -16384, 8192, 32767, 500, -500}
	if len(buf.Data) != len(want) {
		t.Fatalf("samples = %v, want %v", buf.Data, want)
	}
	for i := range want {
		if buf.Data[i] != want[i] {
			t.Errorf("sample %d = %d, want %d", i, buf.Data[i], want[i])
		}
	}

	if len(sink.pts) != 2 || sink.pts[0] != 0 || sink.pts[1] != 2*time.Millisecond {
		t.Errorf("sink pts = %v, want [0 2ms]", sink.pts)
	}
}

func TestStreamRecorder_EmptyFileIsValid(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "empty.wav")
	r, err := NewStreamRecorder(StreamOptions{Path: path, Format: Format{SampleRate: 48000, Channels: 1}})
	if err != nil {
		t.Fatalf("NewStreamRecorder: %v", err)
	}
	if err := r.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := r.Close(); err != nil {
		t.Errorf("second Close: %v", err)
	}
	decode(t, path)
}

func TestStreamRecorder_Discard(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "gone.wav")
	r, err := NewStreamRecorder(StreamOptions{Path: path, Format: Format{SampleRate: 8000, Channels: 1}})
	if err != nil {
		t.Fatalf("NewStreamRecorder: %v", err)
	}
	_ = r.WriteInt16([]int16{1, 2, 3})
	if err := r.Discard(); err != nil {
		t.Fatalf("Discard: %v", err)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Error("file still exists after discard")
	}
}

func TestNewStreamRecorder_Invalid(t *testing.T) {
	t.Parallel()
	if _, err := NewStreamRecorder(StreamOptions{Path: "x.wav"}); err == nil {
		t.Error("expected error for empty format")
	}
	if _, err := NewStreamRecorder(StreamOptions{Format: Format{SampleRate: 8000, Channels: 1}}); err == nil {
		t.Error("expected error without path or sink")
	}
}
