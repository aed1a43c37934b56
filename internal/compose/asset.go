// Package compose builds the exported asset of a recording: the recorded
// video plus any audio references, aligned to a common start.
package compose

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/bluenviron/mediacommon/pkg/formats/fmp4"
	"github.com/go-audio/wav"

	"github.com/rviscarra/vidcap/internal/container"
)

var (
	// ErrVideoIncompatible is returned when a reference cannot be placed in
	// the output container.
	ErrVideoIncompatible = errors.New("compose: video incompatible")
	// ErrSessionExport is returned when writing the output fails.
	ErrSessionExport = errors.New("compose: session export failed")
	// ErrAssetNotLoaded is returned when a reference cannot be read at all.
	ErrAssetNotLoaded = errors.New("compose: asset could not be loaded")
)

// wavPacketFrames is the number of PCM frames per sample when a WAV file is
// carried into the container.
const wavPacketFrames = 1024

// Asset is a loaded media reference. Compatible is false when its format
// cannot be carried by the output container; Reason says why.
type Asset struct {
	Path       string
	Compatible bool
	Reason     string

	codec     fmp4.Codec
	timeScale uint32
	samples   []container.Sample

	// bytesPerFrame is set for LPCM so samples can be cut at frame edges.
	bytesPerFrame int
}

// Duration returns the playing time of the asset.
func (a *Asset) Duration() time.Duration {
	if len(a.samples) == 0 || a.timeScale == 0 {
		return 0
	}
	last := a.samples[len(a.samples)-1]
	first := a.samples[0].DTS
	end := last.DTS + uint64(last.Duration) - first
	return time.Duration(end * uint64(time.Second) / uint64(a.timeScale))
}

// Codec returns the track codec of the asset.
func (a *Asset) Codec() fmp4.Codec { return a.codec }

func incompatible(path, reason string) *Asset {
	return &Asset{Path: path, Reason: reason}
}

// LoadAudio loads an audio reference from a WAV file or the first audio
// track of a fragmented MP4 file.
func LoadAudio(path string) (*Asset, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrAssetNotLoaded, err)
	}
	if len(data) >= 12 && string(data[:4]) == "RIFF" && string(data[8:12]) == "WAVE" {
		return loadWAV(path, data)
	}

	f, err := container.Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrAssetNotLoaded, path, err)
	}
	for _, t := range f.Init.Tracks {
		if t.Codec.IsVideo() {
			continue
		}
		a := &Asset{Path: path, codec: t.Codec, timeScale: t.TimeScale, samples: f.Samples(t.ID)}
		switch c := t.Codec.(type) {
		case *fmp4.CodecLPCM:
			a.bytesPerFrame = c.BitDepth / 8 * c.ChannelCount
			a.Compatible = a.bytesPerFrame > 0
		case *fmp4.CodecOpus:
			a.Compatible = true
		}
		if !a.Compatible {
			a.Reason = fmt.Sprintf("audio codec %T is not supported", t.Codec)
		}
		return a, nil
	}
	return incompatible(path, "no audio track"), nil
}

func loadWAV(path string, data []byte) (*Asset, error) {
	d := wav.NewDecoder(bytes.NewReader(data))
	if !d.IsValidFile() {
		return nil, fmt.Errorf("%w: %s: invalid WAV file", ErrAssetNotLoaded, path)
	}
	if d.WavAudioFormat != 1 || d.BitDepth != 16 {
		return incompatible(path, fmt.Sprintf("WAV format %d with %d-bit samples; need 16-bit PCM", d.WavAudioFormat, d.BitDepth)), nil
	}
	if d.NumChans == 0 || d.SampleRate == 0 {
		return incompatible(path, "WAV file has no channels"), nil
	}
	buf, err := d.FullPCMBuffer()
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrAssetNotLoaded, path, err)
	}

	channels := int(d.NumChans)
	a := &Asset{
		Path:       path,
		Compatible: true,
		codec: &fmp4.CodecLPCM{
			LittleEndian: true,
			BitDepth:     16,
			SampleRate:   int(d.SampleRate),
			ChannelCount: channels,
		},
		timeScale:     d.SampleRate,
		bytesPerFrame: 2 * channels,
	}

	frames := len(buf.Data) / channels
	var dts uint64
	for start := 0; start < frames; start += wavPacketFrames {
		n := min(wavPacketFrames, frames-start)
		payload := make([]byte, 0, n*a.bytesPerFrame)
		for _, s := range buf.Data[start*channels : (start+n)*channels] {
			payload = append(payload, byte(s), byte(s>>8))
		}
		a.samples = append(a.samples, container.Sample{
			DTS:        dts,
			PartSample: &fmp4.PartSample{Duration: uint32(n), Payload: payload},
		})
		dts += uint64(n)
	}
	return a, nil
}

// Video is a loaded video reference.
type Video struct {
	Path       string
	Compatible bool
	Reason     string

	file  *container.File
	track *fmp4.InitTrack
}

// LoadVideo loads the recorded video container at path.
func LoadVideo(path string) (*Video, error) {
	f, err := container.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrAssetNotLoaded, err)
	}
	v := &Video{Path: path, file: f, track: f.VideoTrack()}
	switch {
	case v.track == nil:
		v.Reason = "no video track"
	case len(f.Samples(v.track.ID)) == 0:
		v.Reason = "video track is empty"
	default:
		switch v.track.Codec.(type) {
		case *fmp4.CodecH264, *fmp4.CodecMJPEG:
			v.Compatible = true
		default:
			v.Reason = fmt.Sprintf("video codec %T is not supported", v.track.Codec)
		}
	}
	return v, nil
}

// Duration returns the playing time of the video track.
func (v *Video) Duration() time.Duration {
	if v.track == nil {
		return 0
	}
	return v.file.Duration(v.track.ID)
}
