// Package window provides the surface the frame driver renders for: a GLFW
// window on desktop builds, or a fixed-size offscreen surface.
//
// The driver only needs three things from a surface: the framebuffer size,
// whether it changed since the last frame, and a way to block while the
// window is minimized instead of spinning.
package window

import (
	"errors"
	"sync/atomic"
)

// ErrNoDisplay is returned by Open in builds without windowing support.
var ErrNoDisplay = errors.New("window: no display support in this build")

// Surface is what the frame driver renders for.
type Surface interface {
	// FramebufferSize returns the size in pixels.
	FramebufferSize() (width, height int)
	// ConsumeResized reports whether the size changed since the last call
	// and clears the flag.
	ConsumeResized() bool
	// WaitWhileMinimized blocks while the framebuffer has a zero extent.
	WaitWhileMinimized()
}

// Offscreen is a Surface with a size set by the caller.
type Offscreen struct {
	size    atomic.Uint64
	resized atomic.Bool
}

// NewOffscreen returns an offscreen surface of the given size.
func NewOffscreen(width, height int) *Offscreen {
	o := &Offscreen{}
	o.size.Store(packSize(width, height))
	return o
}

// Resize changes the size and raises the resized flag.
func (o *Offscreen) Resize(width, height int) {
	o.size.Store(packSize(width, height))
	o.resized.Store(true)
}

// FramebufferSize implements Surface.
func (o *Offscreen) FramebufferSize() (int, int) { return unpackSize(o.size.Load()) }

// ConsumeResized implements Surface.
func (o *Offscreen) ConsumeResized() bool { return o.resized.Swap(false) }

// WaitWhileMinimized implements Surface. An offscreen surface is never
// minimized.
func (o *Offscreen) WaitWhileMinimized() {}

func packSize(w, h int) uint64 { return uint64(uint32(w))<<32 | uint64(uint32(h)) }

func unpackSize(v uint64) (int, int) { return int(uint32(v >> 32)), int(uint32(v)) }

// waitWhileMinimized calls wait until size reports a non-zero extent or
// closed reports true.
func waitWhileMinimized(size func() (int, int), closed func() bool, wait func()) {
	for {
		w, h := size()
		if (w > 0 && h > 0) || closed() {
			return
		}
		wait()
	}
}
