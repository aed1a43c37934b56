package api

import (
	"bytes"
	"encoding/json"
	"errors"
	"image"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/rviscarra/vidcap/internal/config"
	"github.com/rviscarra/vidcap/internal/rdisplay"
	"github.com/rviscarra/vidcap/internal/rtc"
	"github.com/rviscarra/vidcap/internal/session"
)

type fakeGrabber struct {
	screen rdisplay.Screen
	n      int
	frames chan *image.RGBA

	stopOnce sync.Once
	stop     chan struct{}
}

func (g *fakeGrabber) Start() {
	go func() {
		defer close(g.frames)
		for i := 0; i < g.n; i++ {
			select {
			case g.frames <- image.NewRGBA(g.screen.Bounds):
			case <-g.stop:
				return
			}
		}
	}()
}

func (g *fakeGrabber) Frames() <-chan *image.RGBA { return g.frames }
func (g *fakeGrabber) Stop()                      { g.stopOnce.Do(func() { close(g.stop) }) }
func (g *fakeGrabber) Fps() int                   { return 30 }
func (g *fakeGrabber) Screen() *rdisplay.Screen   { return &g.screen }
func (g *fakeGrabber) Err() error                 { return nil }

type fakeDisplay struct {
	frames int
}

func (d fakeDisplay) Screens() ([]rdisplay.Screen, error) {
	return []rdisplay.Screen{{Index: 0, Bounds: image.Rect(0, 0, 32, 32)}}, nil
}

func (d fakeDisplay) CreateScreenGrabber(screen rdisplay.Screen, _ int) (rdisplay.ScreenGrabber, error) {
	return &fakeGrabber{
		screen: screen,
		n:      d.frames,
		frames: make(chan *image.RGBA),
		stop:   make(chan struct{}),
	}, nil
}

type echoPeer struct{ closed bool }

func (p *echoPeer) ProcessOffer(offer string) (string, error) {
	if offer == "" {
		return "", errors.New("empty offer")
	}
	return "answer:" + offer, nil
}

func (p *echoPeer) Close() error {
	p.closed = true
	return nil
}

type echoPreview struct{ peers []*echoPeer }

func (e *echoPreview) CreatePreviewConnection() (rtc.PreviewConnection, error) {
	p := &echoPeer{}
	e.peers = append(e.peers, p)
	return p, nil
}

func newTestHandler(t *testing.T, frames int) (*Handler, string) {
	t.Helper()
	dir := t.TempDir()
	defaults := config.Default()
	defaults.Recording.OutputDir = dir
	defaults.Recording.VideoName = "final"
	defaults.Recording.Pacing = config.PacingLocked

	h := MakeHandler(Options{
		Sessions: session.NewManager(session.Deps{}),
		Display:  fakeDisplay{frames: frames},
		Preview:  &echoPreview{},
		Defaults: defaults,
	})
	t.Cleanup(h.Close)
	return h, dir
}

func do(t *testing.T, h http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatal(err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.NewDecoder(rec.Body).Decode(&v); err != nil {
		t.Fatalf("decode %q: %v", rec.Body.String(), err)
	}
	return v
}

func waitFrames(t *testing.T, h http.Handler, want int64) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		rec := do(t, h, http.MethodGet, "/session", nil)
		if rec.Code == http.StatusOK && decodeBody[sessionResponse](t, rec).Frames >= want {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("session did not reach %d frames", want)
}

func TestScreens(t *testing.T) {
	t.Parallel()
	h, _ := newTestHandler(t, 0)

	rec := do(t, h, http.MethodGet, "/screens", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	got := decodeBody[screensResponse](t, rec)
	if len(got.Screens) != 1 || got.Screens[0].Width != 32 || got.Screens[0].Height != 32 {
		t.Errorf("screens = %+v", got.Screens)
	}

	if rec := do(t, h, http.MethodPost, "/screens", nil); rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("POST /screens = %d, want 405", rec.Code)
	}
}

func TestSessionLifecycle(t *testing.T) {
	t.Parallel()
	h, dir := newTestHandler(t, 3)

	rec := do(t, h, http.MethodPost, "/session", newSessionRequest{})
	if rec.Code != http.StatusOK {
		t.Fatalf("create = %d: %s", rec.Code, rec.Body.String())
	}
	created := decodeBody[newSessionResponse](t, rec)
	if created.ID == "" || created.State != session.StateRecording.String() {
		t.Errorf("created = %+v", created)
	}

	if rec := do(t, h, http.MethodPost, "/session", newSessionRequest{}); rec.Code != http.StatusConflict {
		t.Errorf("second create = %d, want 409", rec.Code)
	}

	waitFrames(t, h, 3)

	rec = do(t, h, http.MethodPost, "/session/end", endSessionRequest{})
	if rec.Code != http.StatusOK {
		t.Fatalf("end = %d", rec.Code)
	}
	ended := decodeBody[endSessionResponse](t, rec)
	if ended.Status != 0 || ended.Frames != 3 || ended.Error != "" {
		t.Errorf("end = %+v, want status 0 with 3 frames", ended)
	}
	if _, err := os.Stat(filepath.Join(dir, "final.mp4")); err != nil {
		t.Errorf("output missing: %v", err)
	}

	rec = do(t, h, http.MethodGet, "/session", nil)
	got := decodeBody[sessionResponse](t, rec)
	if got.ID != created.ID || got.State != session.StateCompleted.String() {
		t.Errorf("session = %+v", got)
	}

	if rec := do(t, h, http.MethodPost, "/session/abort", nil); rec.Code != http.StatusConflict {
		t.Errorf("abort after end = %d, want 409", rec.Code)
	}
}

func TestSessionAbort(t *testing.T) {
	t.Parallel()
	h, dir := newTestHandler(t, 2)

	if rec := do(t, h, http.MethodPost, "/session", newSessionRequest{Width: 16, Height: 16}); rec.Code != http.StatusOK {
		t.Fatalf("create = %d: %s", rec.Code, rec.Body.String())
	}
	rec := do(t, h, http.MethodPost, "/session/abort", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("abort = %d", rec.Code)
	}
	if got := decodeBody[statusResponse](t, rec); got.Status != int(session.StatusAborted) {
		t.Errorf("abort status = %d, want %d", got.Status, session.StatusAborted)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 0 {
		t.Errorf("aborted session left %d files", len(entries))
	}
}

func TestCreateSession_Invalid(t *testing.T) {
	t.Parallel()
	h, _ := newTestHandler(t, 0)

	tests := []struct {
		name string
		req  newSessionRequest
	}{
		{"codec", newSessionRequest{Codec: "theora"}},
		{"pacing", newSessionRequest{Pacing: "sometimes"}},
		{"audio mode", newSessionRequest{AudioMode: "stereo"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if rec := do(t, h, http.MethodPost, "/session", tt.req); rec.Code != http.StatusBadRequest {
				t.Errorf("create = %d, want 400: %s", rec.Code, rec.Body.String())
			}
		})
	}
}

func TestGetSession_None(t *testing.T) {
	t.Parallel()
	h, _ := newTestHandler(t, 0)
	if rec := do(t, h, http.MethodGet, "/session", nil); rec.Code != http.StatusNotFound {
		t.Errorf("GET /session = %d, want 404", rec.Code)
	}
}

func TestPreview(t *testing.T) {
	t.Parallel()
	h, _ := newTestHandler(t, 0)

	rec := do(t, h, http.MethodPost, "/preview", previewRequest{Offer: "v=0"})
	if rec.Code != http.StatusOK {
		t.Fatalf("preview = %d", rec.Code)
	}
	if got := decodeBody[previewResponse](t, rec); got.Answer != "answer:v=0" {
		t.Errorf("answer = %q", got.Answer)
	}

	if rec := do(t, h, http.MethodPost, "/preview", previewRequest{}); rec.Code != http.StatusBadRequest {
		t.Errorf("empty offer = %d, want 400", rec.Code)
	}
	peers := h.opts.Preview.(*echoPreview).peers
	if len(peers) != 2 || !peers[1].closed {
		t.Errorf("failed connection was not closed")
	}
}
