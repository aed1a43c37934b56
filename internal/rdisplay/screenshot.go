package rdisplay

import (
	"fmt"
	"image"
	"log/slog"
	"sync"
	"time"

	"github.com/kbinani/screenshot"
)

// XVideoProvider implements the rdisplay.Service interface for XServer
type XVideoProvider struct {
	log *slog.Logger
}

// XScreenGrabber captures video from a X server
type XScreenGrabber struct {
	fps    int
	screen Screen
	frames chan *image.RGBA
	log    *slog.Logger

	stopOnce sync.Once
	stop     chan struct{}

	mu  sync.Mutex
	err error
}

// CreateScreenGrabber Creates an screen capturer for the X server
func (x *XVideoProvider) CreateScreenGrabber(screen Screen, fps int) (ScreenGrabber, error) {
	if fps <= 0 {
		return nil, fmt.Errorf("rdisplay: invalid capture rate %d", fps)
	}
	return &XScreenGrabber{
		screen: screen,
		fps:    fps,
		frames: make(chan *image.RGBA),
		stop:   make(chan struct{}),
		log:    x.log.With("screen", screen.Index),
	}, nil
}

// Screens Returns the available screens to capture
func (x *XVideoProvider) Screens() ([]Screen, error) {
	numScreens := screenshot.NumActiveDisplays()
	if numScreens == 0 {
		return nil, ErrNoScreens
	}
	screens := make([]Screen, numScreens)
	for i := 0; i < numScreens; i++ {
		screens[i] = Screen{
			Index:  i,
			Bounds: screenshot.GetDisplayBounds(i),
		}
	}
	return screens, nil
}

// Frames returns a channel that will receive an image stream. It is closed
// when the capture loop ends.
func (g *XScreenGrabber) Frames() <-chan *image.RGBA {
	return g.frames
}

// Start initiates the screen capture loop
func (g *XScreenGrabber) Start() {
	ticker := time.NewTicker(time.Second / time.Duration(g.fps))
	go func() {
		defer close(g.frames)
		defer ticker.Stop()
		for {
			select {
			case <-g.stop:
				return
			case <-ticker.C:
			}
			img, err := screenshot.CaptureRect(g.screen.Bounds)
			if err != nil {
				g.mu.Lock()
				g.err = fmt.Errorf("rdisplay: capture screen %d: %w", g.screen.Index, err)
				g.mu.Unlock()
				g.log.Error("screen capture failed", "err", err)
				return
			}
			select {
			case g.frames <- img:
			case <-g.stop:
				return
			}
		}
	}()
}

// Stop sends a stop signal to the capture loop
func (g *XScreenGrabber) Stop() {
	g.stopOnce.Do(func() { close(g.stop) })
}

// Screen returns a pointer to the screen we're capturing
func (g *XScreenGrabber) Screen() *Screen {
	return &g.screen
}

// Fps returns the frames per sec. we're capturing
func (g *XScreenGrabber) Fps() int {
	return g.fps
}

// Err returns the capture error that stopped the loop.
func (g *XScreenGrabber) Err() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.err
}

// NewVideoProvider returns an X Server-based video provider
func NewVideoProvider(log *slog.Logger) (Service, error) {
	if log == nil {
		log = slog.Default()
	}
	return &XVideoProvider{log: log}, nil
}
