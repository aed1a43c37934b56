package capture

import (
	"path/filepath"
	"testing"
)

func writeStream(t *testing.T, path string, rate int, samples []int16) {
	t.Helper()
	r, err := NewStreamRecorder(StreamOptions{Path: path, Format: Format{SampleRate: rate, Channels: 1}})
	if err != nil {
		t.Fatalf("NewStreamRecorder: %v", err)
	}
	if err := r.WriteInt16(samples); err != nil {
		t.Fatalf("WriteInt16: %v", err)
	}
	if err := r.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
}

func TestMix(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	a := filepath.Join(dir, "a.wav")
	b := filepath.Join(dir, "b.wav")
	writeStream(t, a, 8000, []int16{100, 30000, -30000, 5})
	writeStream(t, b, 8000, []int16{1, 30000, -30000})

	out := filepath.Join(dir, "mixed.wav")
	if err := Mix(out, a, b); err != nil {
		t.Fatalf("Mix: %v", err)
	}

	d := decode(t, out)
	buf, err := d.FullPCMBuffer()
	if err != nil {
		t.Fatalf("FullPCMBuffer: %v", err)
	}
	want := []int{101, 32767, -32768, 5}
	if len(buf.Data) != len(want) {
		t.Fatalf("samples = %v, want %v", buf.Data, want)
	}
	for i := range want {
		if buf.Data[i] != want[i] {
			t.Errorf("sample %d = %d, want %d", i, buf.Data[i], want[i])
		}
	}
}

func TestMix_FormatMismatch(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	a := filepath.Join(dir, "a.wav")
	b := filepath.Join(dir, "b.wav")
	writeStream(t, a, 8000, []int16{1})
	writeStream(t, b, 16000, []int16{1})

	if err := Mix(filepath.Join(dir, "mixed.wav"), a, b); err == nil {
		t.Fatal("expected error for mismatched sample rates")
	}
	if err := Mix(filepath.Join(dir, "none.wav")); err == nil {
		t.Fatal("expected error without inputs")
	}
}
