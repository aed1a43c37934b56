package container

import (
	"errors"
	"fmt"
	"image"
	"os"
	"time"

	"github.com/bluenviron/mediacommon/pkg/codecs/h264"
	"github.com/bluenviron/mediacommon/pkg/formats/fmp4"

	"github.com/rviscarra/vidcap/internal/encoders"
)

// Track IDs used by recordings.
const (
	VideoTrackID = 1
	AudioTrackID = 2
)

// ErrTimestampRegression is returned for a sample whose timestamp precedes
// the previous sample of the same track.
var ErrTimestampRegression = errors.New("container: timestamp regression")

// VideoTrack describes the recorded video track.
type VideoTrack struct {
	Codec     encoders.VideoCodec
	Size      image.Point
	FrameRate int
}

// AudioTrack describes an optional live audio track.
type AudioTrack struct {
	Codec      encoders.AudioCodec
	SampleRate int
	Channels   int
}

// Writer records one video track and an optional audio track into a
// fragmented MP4 file. It is not safe for concurrent use.
type Writer struct {
	path  string
	f     *os.File
	mux   *Muxer
	video VideoTrack
	audio *AudioTrack

	fragment time.Duration

	sps, pps []byte

	// held is the newest video sample; its duration is known once the next
	// one arrives.
	held     *fmp4.PartSample
	heldDTS  uint64
	hasVideo bool
	lastPTS  time.Duration
	frames   int

	videoSamples []*fmp4.PartSample
	videoBase    uint64

	audioSamples []*fmp4.PartSample
	audioBase    uint64
	audioNext    uint64
	audioStarted bool
	audioLastPTS time.Duration
}

// Create opens path for writing. For H.264 the init segment is deferred
// until the first access unit carrying SPS and PPS has been seen.
func Create(path string, video VideoTrack, audio *AudioTrack) (*Writer, error) {
	switch video.Codec {
	case encoders.H264Codec, encoders.MJPEGCodec:
	default:
		return nil, fmt.Errorf("container: video codec %q not supported", video.Codec)
	}
	if video.FrameRate <= 0 {
		return nil, fmt.Errorf("container: invalid frame rate %d", video.FrameRate)
	}
	if audio != nil {
		switch audio.Codec {
		case encoders.LPCMCodec, encoders.OpusCodec:
		default:
			return nil, fmt.Errorf("container: audio codec %q not supported", audio.Codec)
		}
		if audio.SampleRate <= 0 || audio.Channels <= 0 {
			return nil, fmt.Errorf("container: invalid audio format %d Hz x %d", audio.SampleRate, audio.Channels)
		}
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("container: create %q: %w", path, err)
	}
	w := &Writer{
		path:     path,
		f:        f,
		mux:      NewMuxer(f),
		video:    video,
		audio:    audio,
		fragment: time.Second,
	}
	if video.Codec == encoders.MJPEGCodec {
		if err := w.writeInit(); err != nil {
			f.Close()
			os.Remove(path)
			return nil, err
		}
	}
	return w, nil
}

// Path returns the output file path.
func (w *Writer) Path() string { return w.path }

// Frames returns the number of video samples accepted.
func (w *Writer) Frames() int { return w.frames }

func (w *Writer) writeInit() error {
	init := &fmp4.Init{}
	vt := &fmp4.InitTrack{ID: VideoTrackID, TimeScale: VideoTimeScale}
	switch w.video.Codec {
	case encoders.H264Codec:
		vt.Codec = &fmp4.CodecH264{SPS: w.sps, PPS: w.pps}
	case encoders.MJPEGCodec:
		vt.Codec = &fmp4.CodecMJPEG{Width: w.video.Size.X, Height: w.video.Size.Y}
	}
	init.Tracks = append(init.Tracks, vt)
	if w.audio != nil {
		init.Tracks = append(init.Tracks, AudioInitTrack(AudioTrackID, *w.audio))
	}
	return w.mux.WriteInit(init)
}

// AudioInitTrack builds the init track for an audio stream.
func AudioInitTrack(id int, a AudioTrack) *fmp4.InitTrack {
	t := &fmp4.InitTrack{ID: id, TimeScale: uint32(a.SampleRate)}
	switch a.Codec {
	case encoders.OpusCodec:
		t.Codec = &fmp4.CodecOpus{ChannelCount: a.Channels}
	default:
		t.Codec = &fmp4.CodecLPCM{
			LittleEndian: true,
			BitDepth:     16,
			SampleRate:   a.SampleRate,
			ChannelCount: a.Channels,
		}
	}
	return t
}

// durationToTS rounds to the nearest tick. Frame times such as n/30 s are
// truncated to whole nanoseconds by the caller and must land back on n*3000.
func durationToTS(d time.Duration, scale uint64) uint64 {
	if d <= 0 {
		return 0
	}
	return (uint64(d)*scale + uint64(time.Second)/2) / uint64(time.Second)
}

// WriteVideo adds one encoded frame presented at pts.
func (w *Writer) WriteVideo(pts time.Duration, payload []byte) error {
	if w.hasVideo && pts < w.lastPTS {
		return fmt.Errorf("%w: video %s after %s", ErrTimestampRegression, pts, w.lastPTS)
	}

	sample, err := w.videoSample(payload)
	if err != nil {
		return err
	}
	if sample == nil {
		return nil
	}
	if !w.mux.InitWritten() {
		if w.sps == nil || w.pps == nil {
			return fmt.Errorf("container: first h264 access unit carries no SPS/PPS")
		}
		if err := w.writeInit(); err != nil {
			return err
		}
	}

	dts := durationToTS(pts, VideoTimeScale)
	if w.held != nil {
		w.held.Duration = uint32(dts - w.heldDTS)
		if len(w.videoSamples) == 0 {
			w.videoBase = w.heldDTS
		}
		w.videoSamples = append(w.videoSamples, w.held)
	}
	w.held = sample
	w.heldDTS = dts
	w.hasVideo = true
	w.lastPTS = pts
	w.frames++

	if len(w.videoSamples) > 0 && time.Duration((dts-w.videoBase)*uint64(time.Second)/VideoTimeScale) >= w.fragment {
		return w.flushFragment()
	}
	return nil
}

func (w *Writer) videoSample(payload []byte) (*fmp4.PartSample, error) {
	if w.video.Codec == encoders.MJPEGCodec {
		return &fmp4.PartSample{Payload: payload}, nil
	}

	au, err := h264.AnnexBUnmarshal(payload)
	if err != nil {
		return nil, fmt.Errorf("container: parse access unit: %w", err)
	}
	filtered := au[:0]
	for _, nalu := range au {
		if len(nalu) == 0 {
			continue
		}
		switch h264.NALUType(nalu[0] & 0x1f) {
		case h264.NALUTypeSPS:
			w.sps = append([]byte(nil), nalu...)
			continue
		case h264.NALUTypePPS:
			w.pps = append([]byte(nil), nalu...)
			continue
		case h264.NALUTypeAccessUnitDelimiter:
			continue
		}
		filtered = append(filtered, nalu)
	}
	if len(filtered) == 0 {
		return nil, nil
	}
	return fmp4.NewPartSampleH26x(0, h264.IDRPresent(filtered), filtered)
}

// WriteAudio adds one encoded audio packet holding samples frames per
// channel, presented at pts. Gaps in pts are not represented; the track is
// laid out contiguously from its first packet.
func (w *Writer) WriteAudio(pts time.Duration, packet []byte, samples int) error {
	if w.audio == nil {
		return fmt.Errorf("container: no audio track configured")
	}
	if w.audioStarted && pts < w.audioLastPTS {
		return fmt.Errorf("%w: audio %s after %s", ErrTimestampRegression, pts, w.audioLastPTS)
	}
	if samples <= 0 || len(packet) == 0 {
		return nil
	}
	if !w.audioStarted {
		w.audioNext = durationToTS(pts, uint64(w.audio.SampleRate))
		w.audioStarted = true
	}
	if len(w.audioSamples) == 0 {
		w.audioBase = w.audioNext
	}
	w.audioSamples = append(w.audioSamples, &fmp4.PartSample{
		Duration: uint32(samples),
		Payload:  packet,
	})
	w.audioNext += uint64(samples)
	w.audioLastPTS = pts
	return nil
}

func (w *Writer) flushFragment() error {
	if !w.mux.InitWritten() {
		w.videoSamples = nil
		w.audioSamples = nil
		return nil
	}
	tracks := []*fmp4.PartTrack{{
		ID:       VideoTrackID,
		BaseTime: w.videoBase,
		Samples:  w.videoSamples,
	}}
	if w.audio != nil {
		tracks = append(tracks, &fmp4.PartTrack{
			ID:       AudioTrackID,
			BaseTime: w.audioBase,
			Samples:  w.audioSamples,
		})
	}
	err := w.mux.WritePart(tracks)
	w.videoSamples = nil
	w.audioSamples = nil
	return err
}

// Close writes the pending fragment and closes the file. The final frame
// lasts one frame period.
func (w *Writer) Close() error {
	if w.held != nil {
		w.held.Duration = uint32(VideoTimeScale / w.video.FrameRate)
		if len(w.videoSamples) == 0 {
			w.videoBase = w.heldDTS
		}
		w.videoSamples = append(w.videoSamples, w.held)
		w.held = nil
	}
	err := w.flushFragment()
	if !w.mux.InitWritten() && err == nil {
		err = fmt.Errorf("container: no video was written")
	}
	if cerr := w.f.Close(); err == nil && cerr != nil {
		err = fmt.Errorf("container: close %q: %w", w.path, cerr)
	}
	return err
}

// Abort closes and deletes the file.
func (w *Writer) Abort() error {
	w.f.Close()
	if err := os.Remove(w.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("container: remove %q: %w", w.path, err)
	}
	return nil
}
