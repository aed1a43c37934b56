// Package container writes and reads the fragmented MP4 files produced by
// recording sessions.
//
// A file is an init segment (ftyp + moov) followed by fragments
// (moof + mdat). Video uses a 90 kHz timescale; audio tracks use their
// sample rate.
package container

import (
	"fmt"
	"io"

	"github.com/bluenviron/mediacommon/pkg/formats/fmp4"
	"github.com/bluenviron/mediacommon/pkg/formats/fmp4/seekablebuffer"
)

// VideoTimeScale is the timescale of every video track.
const VideoTimeScale = 90000

// Muxer serialises an init segment and a sequence of fragments to w.
type Muxer struct {
	w        io.Writer
	buf      seekablebuffer.Buffer
	initDone bool
	seq      uint32
	written  int64
}

// NewMuxer returns a Muxer writing to w.
func NewMuxer(w io.Writer) *Muxer {
	return &Muxer{w: w}
}

// WriteInit writes the init segment. It must be called exactly once, before
// any fragment.
func (m *Muxer) WriteInit(init *fmp4.Init) error {
	if m.initDone {
		return fmt.Errorf("container: init segment already written")
	}
	m.buf.Reset()
	if err := init.Marshal(&m.buf); err != nil {
		return fmt.Errorf("container: marshal init: %w", err)
	}
	if err := m.flush(); err != nil {
		return err
	}
	m.initDone = true
	return nil
}

// WritePart writes one fragment, assigning the next sequence number. Tracks
// without samples are left out.
func (m *Muxer) WritePart(tracks []*fmp4.PartTrack) error {
	if !m.initDone {
		return fmt.Errorf("container: fragment before init segment")
	}
	part := &fmp4.Part{SequenceNumber: m.seq + 1}
	for _, t := range tracks {
		if len(t.Samples) > 0 {
			part.Tracks = append(part.Tracks, t)
		}
	}
	if len(part.Tracks) == 0 {
		return nil
	}
	m.buf.Reset()
	if err := part.Marshal(&m.buf); err != nil {
		return fmt.Errorf("container: marshal fragment %d: %w", part.SequenceNumber, err)
	}
	if err := m.flush(); err != nil {
		return err
	}
	m.seq = part.SequenceNumber
	return nil
}

// InitWritten reports whether the init segment has been written.
func (m *Muxer) InitWritten() bool { return m.initDone }

// Fragments returns the number of fragments written so far.
func (m *Muxer) Fragments() int { return int(m.seq) }

// BytesWritten returns the number of bytes handed to the underlying writer.
func (m *Muxer) BytesWritten() int64 { return m.written }

func (m *Muxer) flush() error {
	n, err := m.w.Write(m.buf.Bytes())
	m.written += int64(n)
	if err != nil {
		return fmt.Errorf("container: write: %w", err)
	}
	return nil
}
