// Package rdisplay provides the renderer side of a recording: desktop
// screens captured as frames and a loop feeding them into a session.
package rdisplay

import (
	"errors"
	"image"
)

// ErrNoScreens is returned when no display is available.
var ErrNoScreens = errors.New("rdisplay: no available screens")

// ScreenGrabber captures one screen at a fixed rate.
type ScreenGrabber interface {
	Start()
	Frames() <-chan *image.RGBA
	Stop()
	Fps() int
	Screen() *Screen

	// Err returns the error that ended the capture loop, if any.
	Err() error
}

// Screen is a capturable display.
type Screen struct {
	Index  int
	Bounds image.Rectangle
}

// Service lists screens and creates grabbers for them.
type Service interface {
	CreateScreenGrabber(screen Screen, fps int) (ScreenGrabber, error)
	Screens() ([]Screen, error)
}

// ScreenAt returns screen ix, or the first screen when ix is out of range.
func ScreenAt(svc Service, ix int) (Screen, error) {
	screens, err := svc.Screens()
	if err != nil {
		return Screen{}, err
	}
	if len(screens) == 0 {
		return Screen{}, ErrNoScreens
	}
	if ix < 0 || ix >= len(screens) {
		ix = 0
	}
	return screens[ix], nil
}
