package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"sync"

	"github.com/rviscarra/vidcap/internal/config"
	"github.com/rviscarra/vidcap/internal/encoders"
	"github.com/rviscarra/vidcap/internal/rdisplay"
	"github.com/rviscarra/vidcap/internal/rtc"
	"github.com/rviscarra/vidcap/internal/session"
)

// Options configures the HTTP handler.
type Options struct {
	Sessions *session.Manager
	Display  rdisplay.Service
	Preview  rtc.Service
	Hub      *rtc.Hub
	Library  session.Library
	Notifier session.Notifier

	// Defaults is the agent configuration new sessions start from.
	Defaults *config.Config
	Logger   *slog.Logger
}

// Handler serves the recording API.
type Handler struct {
	http.Handler

	opts Options
	log  *slog.Logger

	mu      sync.Mutex
	capture *captureLoop
}

// captureLoop feeds one screen into the active session.
type captureLoop struct {
	cancel context.CancelFunc
	done   chan struct{}
}

func (c *captureLoop) stop() {
	c.cancel()
	<-c.done
}

func handleError(w http.ResponseWriter, log *slog.Logger, code int, err error) {
	if code >= http.StatusInternalServerError {
		log.Error("request failed", "err", err)
	} else {
		log.Debug("request rejected", "code", code, "err", err)
	}
	writeJSON(w, code, errorResponse{Error: err.Error()})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func allow(w http.ResponseWriter, r *http.Request, method string) bool {
	if r.Method != method {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return false
	}
	return true
}

func decode(w http.ResponseWriter, r *http.Request, log *slog.Logger, v any) bool {
	if r.ContentLength == 0 {
		return true
	}
	if err := json.NewDecoder(r.Body).Decode(v); err != nil && !errors.Is(err, io.EOF) {
		handleError(w, log, http.StatusBadRequest, err)
		return false
	}
	return true
}

// MakeHandler returns an HTTP handler for the recording API
func MakeHandler(opts Options) *Handler {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Defaults == nil {
		opts.Defaults = config.Default()
	}
	if opts.Notifier == nil {
		opts.Notifier = session.LogNotifier{Logger: opts.Logger}
	}
	h := &Handler{opts: opts, log: opts.Logger}

	mux := http.NewServeMux()
	mux.HandleFunc("/session", func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodPost:
			h.createSession(w, r)
		case http.MethodGet:
			h.getSession(w, r)
		default:
			w.WriteHeader(http.StatusMethodNotAllowed)
		}
	})
	mux.HandleFunc("/session/end", h.endSession)
	mux.HandleFunc("/session/abort", h.abortSession)
	mux.HandleFunc("/library", h.copyToLibrary)
	mux.HandleFunc("/preview", h.preview)
	mux.HandleFunc("/screens", h.screens)
	h.Handler = mux
	return h
}

func (h *Handler) sessionConfig(req newSessionRequest) (session.Config, int, error) {
	cfg := session.ConfigFrom(h.opts.Defaults)
	if req.Width > 0 {
		cfg.Width = req.Width
	}
	if req.Height > 0 {
		cfg.Height = req.Height
	}
	if req.FrameRate > 0 {
		cfg.FrameRate = req.FrameRate
	}
	if req.Bitrate > 0 {
		cfg.Bitrate = req.Bitrate
	}
	if req.Gamma != nil {
		g := *req.Gamma
		cfg.Gamma = &g
	}
	if req.Codec != "" {
		cfg.Codec = encoders.VideoCodec(req.Codec)
	}
	if req.AudioMode != "" {
		cfg.AudioMode = config.AudioMode(req.AudioMode)
	}
	if req.Pacing != "" {
		cfg.Pacing = config.Pacing(req.Pacing)
	}
	if req.Disposition != "" {
		cfg.Disposition = config.Disposition(req.Disposition)
	}
	if req.VideoName != "" {
		cfg.VideoName = req.VideoName
	}

	// The frame size defaults to the captured screen.
	if (cfg.Width == 0 || cfg.Height == 0) && h.opts.Display != nil {
		screen, err := rdisplay.ScreenAt(h.opts.Display, h.screenIndex(req))
		if err != nil {
			return cfg, http.StatusInternalServerError, err
		}
		cfg.Width, cfg.Height = screen.Bounds.Dx(), screen.Bounds.Dy()
	}
	return cfg, 0, nil
}

func (h *Handler) createSession(w http.ResponseWriter, r *http.Request) {
	req := newSessionRequest{}
	if !decode(w, r, h.log, &req) {
		return
	}
	cfg, code, err := h.sessionConfig(req)
	if err != nil {
		handleError(w, h.log, code, err)
		return
	}

	s, err := h.opts.Sessions.Create(cfg)
	switch {
	case errors.Is(err, session.ErrSessionActive):
		handleError(w, h.log, http.StatusConflict, err)
		return
	case err != nil:
		handleError(w, h.log, http.StatusBadRequest, err)
		return
	}
	if h.opts.Hub != nil {
		s.SetPreview(h.opts.Hub.Publish)
	}
	if err := s.Begin(r.Context()); err != nil {
		s.Abort(session.StatusOf(err))
		handleError(w, h.log, http.StatusInternalServerError, err)
		return
	}

	if h.opts.Display != nil {
		if err := h.startCapture(s, h.screenIndex(req), h.captureRate(req, s)); err != nil {
			s.Abort(session.StatusFrameCapture)
			handleError(w, h.log, http.StatusInternalServerError, err)
			return
		}
	}
	writeJSON(w, http.StatusOK, newSessionResponse{ID: s.ID(), State: s.State().String()})
}

func (h *Handler) screenIndex(req newSessionRequest) int {
	if req.Screen != nil {
		return *req.Screen
	}
	return h.opts.Defaults.Capture.Screen
}

// captureRate is the configured grab rate unless the request picks its own
// frame rate.
func (h *Handler) captureRate(req newSessionRequest, s *session.Session) int {
	if req.FrameRate == 0 && h.opts.Defaults.Capture.FPS > 0 {
		return h.opts.Defaults.Capture.FPS
	}
	return s.Config().FrameRate
}

func (h *Handler) startCapture(s *session.Session, screenIx, fps int) error {
	screen, err := rdisplay.ScreenAt(h.opts.Display, screenIx)
	if err != nil {
		return err
	}
	grabber, err := h.opts.Display.CreateScreenGrabber(screen, fps)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	loop := &captureLoop{cancel: cancel, done: make(chan struct{})}
	log := h.log.With("session_id", s.ID(), "screen", screen.Index)
	go func() {
		defer close(loop.done)
		st, err := rdisplay.Feed(ctx, grabber, s, log)
		if err != nil {
			log.Error("screen capture stopped", "err", err)
		}
		log.Debug("screen capture finished", "offered", st.Offered, "failed", st.Failed)
	}()

	h.mu.Lock()
	h.capture = loop
	h.mu.Unlock()
	return nil
}

func (h *Handler) stopCapture() {
	h.mu.Lock()
	loop := h.capture
	h.capture = nil
	h.mu.Unlock()
	if loop != nil {
		loop.stop()
	}
}

func (h *Handler) getSession(w http.ResponseWriter, _ *http.Request) {
	s := h.opts.Sessions.Last()
	if s == nil {
		handleError(w, h.log, http.StatusNotFound, errors.New("no session"))
		return
	}
	st := s.Stats()
	writeJSON(w, http.StatusOK, sessionResponse{
		ID:         s.ID(),
		State:      st.State.String(),
		Frames:     st.Frames,
		Dropped:    st.Dropped,
		Waited:     st.Waited,
		AverageFPS: st.AverageFPS,
	})
}

func (h *Handler) endSession(w http.ResponseWriter, r *http.Request) {
	if !allow(w, r, http.MethodPost) {
		return
	}
	req := endSessionRequest{}
	if !decode(w, r, h.log, &req) {
		return
	}
	s := h.opts.Sessions.Active()
	if s == nil {
		handleError(w, h.log, http.StatusConflict, errors.New("no active session"))
		return
	}

	h.stopCapture()
	code, err := s.End(r.Context(), session.EndRequest{
		Disposition: config.Disposition(req.Disposition),
		UserAudio1:  req.AudioFile1,
		UserAudio2:  req.AudioFile2,
		MixedAudio:  req.MixedAudio,
	})
	resp := endSessionResponse{Status: code}
	if err != nil {
		resp.Error = err.Error()
	} else {
		resp.Status = int(session.StatusOK)
		resp.Frames = code
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) abortSession(w http.ResponseWriter, r *http.Request) {
	if !allow(w, r, http.MethodPost) {
		return
	}
	s := h.opts.Sessions.Active()
	if s == nil {
		handleError(w, h.log, http.StatusConflict, errors.New("no active session"))
		return
	}
	h.stopCapture()
	writeJSON(w, http.StatusOK, statusResponse{Status: int(s.Abort(session.StatusAborted))})
}

func (h *Handler) copyToLibrary(w http.ResponseWriter, r *http.Request) {
	if !allow(w, r, http.MethodPost) {
		return
	}
	req := libraryRequest{}
	if !decode(w, r, h.log, &req) {
		return
	}
	if req.Path == "" || h.opts.Library == nil {
		handleError(w, h.log, http.StatusBadRequest, errors.New("path and a configured library are required"))
		return
	}
	st := session.CopyToLibrary(req.Path, h.opts.Library, h.opts.Notifier)
	writeJSON(w, http.StatusOK, statusResponse{Status: int(st)})
}

func (h *Handler) preview(w http.ResponseWriter, r *http.Request) {
	if !allow(w, r, http.MethodPost) {
		return
	}
	if h.opts.Preview == nil {
		handleError(w, h.log, http.StatusNotFound, errors.New("preview disabled"))
		return
	}
	req := previewRequest{}
	if !decode(w, r, h.log, &req) {
		return
	}

	peer, err := h.opts.Preview.CreatePreviewConnection()
	if err != nil {
		handleError(w, h.log, http.StatusInternalServerError, err)
		return
	}
	answer, err := peer.ProcessOffer(req.Offer)
	if err != nil {
		peer.Close()
		handleError(w, h.log, http.StatusBadRequest, err)
		return
	}
	writeJSON(w, http.StatusOK, previewResponse{Answer: answer})
}

func (h *Handler) screens(w http.ResponseWriter, r *http.Request) {
	if !allow(w, r, http.MethodGet) {
		return
	}
	if h.opts.Display == nil {
		writeJSON(w, http.StatusOK, screensResponse{Screens: []screenPayload{}})
		return
	}
	screens, err := h.opts.Display.Screens()
	if err != nil {
		handleError(w, h.log, http.StatusInternalServerError, err)
		return
	}

	screensPayload := make([]screenPayload, len(screens))
	for i, s := range screens {
		screensPayload[i] = screenPayload{
			Index:  s.Index,
			Width:  s.Bounds.Dx(),
			Height: s.Bounds.Dy(),
		}
	}
	writeJSON(w, http.StatusOK, screensResponse{Screens: screensPayload})
}

// Close stops screen capture and aborts the active session.
func (h *Handler) Close() {
	h.stopCapture()
	if s := h.opts.Sessions.Active(); s != nil {
		s.Abort(session.StatusAborted)
	}
}
