package session

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/rviscarra/vidcap/internal/compose"
)

// Notifier receives (status, reason) pairs for the host. Notify must not
// block.
type Notifier interface {
	Notify(status, reason string)
}

// NotifierFunc adapts a function to [Notifier].
type NotifierFunc func(status, reason string)

// Notify calls f.
func (f NotifierFunc) Notify(status, reason string) { f(status, reason) }

// LogNotifier writes notifications to a logger.
type LogNotifier struct {
	Logger *slog.Logger
}

// Notify logs the pair at warn level for failures and info otherwise.
func (n LogNotifier) Notify(status, reason string) {
	log := n.Logger
	if log == nil {
		log = slog.Default()
	}
	level := slog.LevelInfo
	if status == NotifyFailed {
		level = slog.LevelWarn
	}
	log.Log(context.Background(), level, "session notification", "status", status, "reason", reason)
}

// Notification statuses.
const (
	NotifySuccess = "SUCCESS"
	NotifyFailed  = "FAILED"
)

// Library places finished files into the media library. Import returns 0
// when the file was accepted and moved, -1 when it was incompatible and
// left untouched.
type Library interface {
	Import(path string) int
}

// DirLibrary is a media library backed by a directory.
type DirLibrary struct {
	Dir    string
	Logger *slog.Logger
}

// Import moves path into the library directory if it is a playable video.
func (l DirLibrary) Import(path string) int {
	log := l.Logger
	if log == nil {
		log = slog.Default()
	}
	v, err := compose.LoadVideo(path)
	if err != nil || !v.Compatible {
		log.Warn("library rejected file", "path", path, "err", err)
		return -1
	}
	if l.Dir == "" {
		log.Warn("library directory is not configured", "path", path)
		return -1
	}
	dst := filepath.Join(l.Dir, filepath.Base(path))
	if err := moveFile(path, dst); err != nil {
		log.Warn("library import failed", "path", path, "err", err)
		return -1
	}
	log.Info("video imported into library", "path", dst)
	return 0
}

// moveFile renames src to dst, copying when they are on different devices.
func moveFile(src, dst string) error {
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return err
	}
	if err := os.Rename(src, dst); err == nil {
		return nil
	}
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		os.Remove(dst)
		return fmt.Errorf("copy: %w", err)
	}
	if err := out.Close(); err != nil {
		os.Remove(dst)
		return err
	}
	return os.Remove(src)
}

// CopyToLibrary hands an already finished video to lib and reports the
// outcome through n.
func CopyToLibrary(path string, lib Library, n Notifier) Status {
	v, err := compose.LoadVideo(path)
	switch {
	case err != nil:
		n.Notify(NotifyFailed, "asset could not be loaded")
		return StatusAssetNotLoaded
	case !v.Compatible:
		n.Notify(NotifyFailed, "video incompatible")
		return StatusVideoIncompatible
	}
	if lib.Import(path) != 0 {
		n.Notify(NotifyFailed, "copy to album")
		return StatusCopyToAlbum
	}
	n.Notify(NotifySuccess, "success")
	return StatusOK
}
