//go:build offscreen

package window

import "unsafe"

// Config describes the window to open.
type Config struct {
	Width, Height int
	Title         string
}

// Window is unavailable in offscreen builds.
type Window struct{ Offscreen }

// Init always fails in offscreen builds.
func Init() error { return ErrNoDisplay }

// Terminate does nothing in offscreen builds.
func Terminate() {}

// VulkanProcAddr returns nil in offscreen builds.
func VulkanProcAddr() unsafe.Pointer { return nil }

// Open always fails in offscreen builds.
func Open(Config) (*Window, error) { return nil, ErrNoDisplay }

// ShouldClose reports true.
func (w *Window) ShouldClose() bool { return true }

// PollEvents does nothing.
func (w *Window) PollEvents() {}

// RequiredInstanceExtensions returns nil.
func (w *Window) RequiredInstanceExtensions() []string { return nil }

// CreateSurface always fails in offscreen builds.
func (w *Window) CreateSurface(any) (uintptr, error) { return 0, ErrNoDisplay }

// Destroy does nothing.
func (w *Window) Destroy() {}
