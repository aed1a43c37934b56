package compose

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/bluenviron/mediacommon/pkg/formats/fmp4"
	"github.com/google/uuid"

	"github.com/rviscarra/vidcap/internal/container"
	"github.com/rviscarra/vidcap/internal/observe"
)

// Request names the inputs of one composition. Nil audio slots are absent.
type Request struct {
	Video *Video

	Captured *Asset
	User1    *Asset
	User2    *Asset

	// Mixed is only used when the other audio slots are all absent.
	Mixed *Asset

	Output string
}

// Result describes the exported asset.
type Result struct {
	Path     string
	Tracks   int
	Duration time.Duration
}

// Engine composes exported assets. It holds no per-composition state.
type Engine struct {
	Metrics *observe.Metrics
	Logger  *slog.Logger
}

// NewEngine returns an Engine reporting to m.
func NewEngine(m *observe.Metrics, log *slog.Logger) *Engine {
	if log == nil {
		log = slog.Default()
	}
	return &Engine{Metrics: m, Logger: log}
}

// Sources returns the audio references that take part in the output, in
// track order. Compatible references without samples count as absent.
func (r Request) Sources() []*Asset {
	var out []*Asset
	for _, a := range []*Asset{r.Captured, r.User1, r.User2} {
		if present(a) {
			out = append(out, a)
		}
	}
	if len(out) == 0 && present(r.Mixed) {
		out = append(out, r.Mixed)
	}
	return out
}

func present(a *Asset) bool {
	return a != nil && (!a.Compatible || len(a.samples) > 0)
}

// Compose writes the video track of req.Video and one track per audio
// source to req.Output. Every reference is checked before anything is
// written; on failure no output file is left behind.
func (e *Engine) Compose(ctx context.Context, req Request) (Result, error) {
	start := time.Now()
	if req.Video == nil {
		return Result{}, fmt.Errorf("%w: no video reference", ErrAssetNotLoaded)
	}
	if !req.Video.Compatible {
		return Result{}, fmt.Errorf("%w: %s: %s", ErrVideoIncompatible, req.Video.Path, req.Video.Reason)
	}
	// Every supplied reference is checked, including slots Sources skips.
	for _, a := range []*Asset{req.Captured, req.User1, req.User2, req.Mixed} {
		if a != nil && !a.Compatible {
			return Result{}, fmt.Errorf("%w: %s: %s", ErrVideoIncompatible, a.Path, a.Reason)
		}
	}
	sources := req.Sources()

	tmp := filepath.Join(filepath.Dir(req.Output), "."+uuid.NewString()+".compose")
	res, err := e.write(ctx, tmp, req.Video, sources)
	if err == nil {
		if err = os.Rename(tmp, req.Output); err != nil {
			err = fmt.Errorf("rename: %w", err)
		}
	}
	if err != nil {
		os.Remove(tmp)
		e.Logger.Error("composition failed", "output", req.Output, "err", err)
		return Result{}, fmt.Errorf("%w: %v", ErrSessionExport, err)
	}
	res.Path = req.Output

	if e.Metrics != nil {
		e.Metrics.ComposeDuration.Record(ctx, time.Since(start).Seconds())
	}
	e.Logger.Info("composition exported", "output", req.Output, "tracks", res.Tracks, "duration", res.Duration)
	return res, nil
}

// audioTrack is one output audio track with its samples rebased to zero.
type audioTrack struct {
	id        int
	timeScale uint32
	samples   []container.Sample
	next      int
}

func (e *Engine) write(ctx context.Context, path string, video *Video, sources []*Asset) (Result, error) {
	vfile := video.file
	vtrack := video.track
	videoSamples := vfile.Samples(vtrack.ID)
	videoStart := videoSamples[0].DTS
	videoEnd := videoStart
	for _, s := range videoSamples {
		videoEnd = s.DTS + uint64(s.Duration)
	}
	videoLen := videoEnd - videoStart

	init := &fmp4.Init{Tracks: []*fmp4.InitTrack{{
		ID:        1,
		TimeScale: vtrack.TimeScale,
		Codec:     vtrack.Codec,
	}}}
	tracks := make([]*audioTrack, 0, len(sources))
	for i, a := range sources {
		id := i + 2
		init.Tracks = append(init.Tracks, &fmp4.InitTrack{ID: id, TimeScale: a.timeScale, Codec: a.codec})
		limit := videoLen * uint64(a.timeScale) / uint64(vtrack.TimeScale)
		tracks = append(tracks, &audioTrack{
			id:        id,
			timeScale: a.timeScale,
			samples:   trim(a, limit),
		})
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		return Result{}, err
	}
	defer f.Close()

	mux := container.NewMuxer(f)
	if err := mux.WriteInit(init); err != nil {
		return Result{}, err
	}

	for pi, part := range vfile.Parts {
		if err := ctx.Err(); err != nil {
			return Result{}, err
		}
		var vt *fmp4.PartTrack
		for _, pt := range part.Tracks {
			if pt.ID == vtrack.ID {
				vt = pt
				break
			}
		}
		if vt == nil || len(vt.Samples) == 0 {
			continue
		}

		partEnd := videoEnd
		if pi+1 < len(vfile.Parts) {
			if nt := nextVideoBase(vfile.Parts[pi+1:], vtrack.ID); nt > 0 {
				partEnd = nt
			}
		}

		out := []*fmp4.PartTrack{{ID: 1, BaseTime: vt.BaseTime - videoStart, Samples: vt.Samples}}
		for _, at := range tracks {
			end := (partEnd - videoStart) * uint64(at.timeScale) / uint64(vtrack.TimeScale)
			if pi == len(vfile.Parts)-1 {
				end = ^uint64(0)
			}
			if pt := at.take(end); pt != nil {
				out = append(out, pt)
			}
		}
		if err := mux.WritePart(out); err != nil {
			return Result{}, err
		}
	}

	if err := f.Sync(); err != nil {
		return Result{}, err
	}
	return Result{
		Tracks:   len(init.Tracks),
		Duration: time.Duration(videoLen * uint64(time.Second) / uint64(vtrack.TimeScale)),
	}, nil
}

func nextVideoBase(parts fmp4.Parts, id int) uint64 {
	for _, p := range parts {
		for _, pt := range p.Tracks {
			if pt.ID == id && len(pt.Samples) > 0 {
				return pt.BaseTime
			}
		}
	}
	return 0
}

// take returns the samples starting before end as one fragment track.
func (t *audioTrack) take(end uint64) *fmp4.PartTrack {
	if t.next >= len(t.samples) || t.samples[t.next].DTS >= end {
		return nil
	}
	pt := &fmp4.PartTrack{ID: t.id, BaseTime: t.samples[t.next].DTS}
	for t.next < len(t.samples) && t.samples[t.next].DTS < end {
		pt.Samples = append(pt.Samples, t.samples[t.next].PartSample)
		t.next++
	}
	return pt
}

// trim rebases the asset's samples to start at zero and cuts them at limit
// timescale units. LPCM samples crossing the limit are shortened; other
// codecs keep the whole packet with a shortened duration.
func trim(a *Asset, limit uint64) []container.Sample {
	if len(a.samples) == 0 {
		return nil
	}
	base := a.samples[0].DTS
	out := make([]container.Sample, 0, len(a.samples))
	for _, s := range a.samples {
		dts := s.DTS - base
		if dts >= limit {
			break
		}
		ps := s.PartSample
		if dts+uint64(ps.Duration) > limit {
			keep := uint32(limit - dts)
			cut := &fmp4.PartSample{Duration: keep, Payload: ps.Payload}
			if a.bytesPerFrame > 0 {
				cut.Payload = ps.Payload[:min(len(ps.Payload), int(keep)*a.bytesPerFrame)]
			}
			ps = cut
		}
		out = append(out, container.Sample{DTS: dts, PartSample: ps})
	}
	return out
}
