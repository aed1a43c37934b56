package container

import (
	"bytes"
	"fmt"
	"os"
	"time"

	"github.com/abema/go-mp4"
	"github.com/bluenviron/mediacommon/pkg/formats/fmp4"
)

// Layout describes the top-level boxes of an MP4 file.
type Layout struct {
	MajorBrand string
	Boxes      []string

	// FragmentsOffset is the offset of the first moof box, or -1.
	FragmentsOffset int64
}

// Fragmented reports whether the file carries moof fragments.
func (l Layout) Fragmented() bool { return l.FragmentsOffset >= 0 }

// Probe scans the top-level boxes of data without descending into them.
func Probe(data []byte) (Layout, error) {
	layout := Layout{FragmentsOffset: -1}
	_, err := mp4.ReadBoxStructure(bytes.NewReader(data), func(h *mp4.ReadHandle) (interface{}, error) {
		layout.Boxes = append(layout.Boxes, h.BoxInfo.Type.String())
		switch h.BoxInfo.Type {
		case mp4.BoxTypeFtyp():
			box, _, err := h.ReadPayload()
			if err != nil {
				return nil, err
			}
			if ftyp, ok := box.(*mp4.Ftyp); ok {
				layout.MajorBrand = string(ftyp.MajorBrand[:])
			}
		case mp4.BoxTypeMoof():
			if layout.FragmentsOffset < 0 {
				layout.FragmentsOffset = int64(h.BoxInfo.Offset)
			}
		}
		return nil, nil
	})
	if err != nil {
		return Layout{}, fmt.Errorf("container: scan boxes: %w", err)
	}
	if len(layout.Boxes) == 0 || layout.Boxes[0] != "ftyp" {
		return Layout{}, fmt.Errorf("container: not an MP4 file")
	}
	return layout, nil
}

// File is a parsed fragmented MP4 file.
type File struct {
	Init  fmp4.Init
	Parts fmp4.Parts
}

// Sample is a stored sample with its decode time in track timescale units.
type Sample struct {
	DTS uint64
	*fmp4.PartSample
}

// ReadFile parses a fragmented MP4 file written by [Writer] or [Muxer].
func ReadFile(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("container: read %q: %w", path, err)
	}
	return Parse(data)
}

// Parse decodes a fragmented MP4 held in memory.
func Parse(data []byte) (*File, error) {
	layout, err := Probe(data)
	if err != nil {
		return nil, err
	}
	initEnd := int64(len(data))
	if layout.Fragmented() {
		initEnd = layout.FragmentsOffset
	}

	f := &File{}
	if err := f.Init.Unmarshal(bytes.NewReader(data[:initEnd])); err != nil {
		return nil, fmt.Errorf("container: parse init segment: %w", err)
	}
	if layout.Fragmented() {
		if err := f.Parts.Unmarshal(data[initEnd:]); err != nil {
			return nil, fmt.Errorf("container: parse fragments: %w", err)
		}
	}
	return f, nil
}

// Track returns the init track with the given ID, or nil.
func (f *File) Track(id int) *fmp4.InitTrack {
	for _, t := range f.Init.Tracks {
		if t.ID == id {
			return t
		}
	}
	return nil
}

// VideoTrack returns the first video track, or nil.
func (f *File) VideoTrack() *fmp4.InitTrack {
	for _, t := range f.Init.Tracks {
		if t.Codec.IsVideo() {
			return t
		}
	}
	return nil
}

// Samples returns every sample of a track in decode order.
func (f *File) Samples(id int) []Sample {
	var out []Sample
	for _, part := range f.Parts {
		for _, pt := range part.Tracks {
			if pt.ID != id {
				continue
			}
			dts := pt.BaseTime
			for _, s := range pt.Samples {
				out = append(out, Sample{DTS: dts, PartSample: s})
				dts += uint64(s.Duration)
			}
		}
	}
	return out
}

// Duration returns the end time of a track's last sample.
func (f *File) Duration(id int) time.Duration {
	t := f.Track(id)
	if t == nil || t.TimeScale == 0 {
		return 0
	}
	samples := f.Samples(id)
	if len(samples) == 0 {
		return 0
	}
	last := samples[len(samples)-1]
	end := last.DTS + uint64(last.Duration)
	return time.Duration(end * uint64(time.Second) / uint64(t.TimeScale))
}
