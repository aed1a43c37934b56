package rdisplay

import (
	"context"
	"log/slog"

	"github.com/rviscarra/vidcap/internal/convert"
	"github.com/rviscarra/vidcap/internal/session"
)

// FrameSink receives rendered frames. *session.Session implements it.
type FrameSink interface {
	WriteFrame(ctx context.Context, tex convert.Texture) session.Status
}

// FeedStats counts the frames handed to a sink.
type FeedStats struct {
	Offered int
	Failed  int
}

// Feed starts g and offers every captured frame to sink until ctx is done
// or the grabber stops. The grabber is stopped on return.
func Feed(ctx context.Context, g ScreenGrabber, sink FrameSink, log *slog.Logger) (FeedStats, error) {
	if log == nil {
		log = slog.Default()
	}
	var st FeedStats
	g.Start()
	defer g.Stop()

	frames := g.Frames()
	for {
		select {
		case <-ctx.Done():
			return st, nil
		case img, ok := <-frames:
			if !ok {
				return st, g.Err()
			}
			st.Offered++
			if status := sink.WriteFrame(ctx, convert.ImageTexture{Img: img}); status != session.StatusOK {
				st.Failed++
				log.Debug("frame not recorded", "status", status, "frame", st.Offered)
			}
		}
	}
}
