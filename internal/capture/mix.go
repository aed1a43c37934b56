package capture

import (
	"fmt"
	"math"
	"os"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

// Mix sums 16-bit WAV inputs of one format into dst, clipping at full
// scale. The output is as long as the longest input.
func Mix(dst string, inputs ...string) error {
	if len(inputs) == 0 {
		return fmt.Errorf("capture: mix: no inputs")
	}

	var (
		format *audio.Format
		mixed  []int
	)
	for _, path := range inputs {
		buf, err := readWAV(path)
		if err != nil {
			return err
		}
		if format == nil {
			format = buf.Format
		} else if *buf.Format != *format {
			return fmt.Errorf("capture: mix: %s is %d Hz x %d, want %d Hz x %d",
				path, buf.Format.SampleRate, buf.Format.NumChannels, format.SampleRate, format.NumChannels)
		}
		if len(buf.Data) > len(mixed) {
			mixed = append(mixed, make([]int, len(buf.Data)-len(mixed))...)
		}
		for i, s := range buf.Data {
			mixed[i] += s
		}
	}
	for i, s := range mixed {
		mixed[i] = max(math.MinInt16, min(math.MaxInt16, s))
	}

	f, err := os.Create(dst)
	if err != nil {
		return fmt.Errorf("capture: mix: %w", err)
	}
	enc := wav.NewEncoder(f, format.SampleRate, 16, format.NumChannels, wavFormatPCM)
	err = enc.Write(&audio.IntBuffer{Format: format, Data: mixed, SourceBitDepth: 16})
	if err == nil {
		err = enc.Close()
	}
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(dst)
		return fmt.Errorf("capture: mix %q: %w", dst, err)
	}
	return nil
}

func readWAV(path string) (*audio.IntBuffer, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("capture: mix: %w", err)
	}
	defer f.Close()

	d := wav.NewDecoder(f)
	if !d.IsValidFile() {
		return nil, fmt.Errorf("capture: mix: %s is not a WAV file", path)
	}
	if d.BitDepth != 16 {
		return nil, fmt.Errorf("capture: mix: %s has %d-bit samples, want 16", path, d.BitDepth)
	}
	buf, err := d.FullPCMBuffer()
	if err != nil {
		return nil, fmt.Errorf("capture: mix: decode %s: %w", path, err)
	}
	buf.Format = &audio.Format{NumChannels: int(d.NumChans), SampleRate: int(d.SampleRate)}
	return buf, nil
}
