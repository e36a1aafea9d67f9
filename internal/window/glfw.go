//go:build !offscreen

package window

import (
	"fmt"
	"sync/atomic"
	"unsafe"

	"github.com/go-gl/glfw/v3.3/glfw"
)

// Config describes the window to open.
type Config struct {
	Width, Height int
	Title         string
}

// Window is a GLFW window without a client API, for Vulkan rendering.
//
// Thread Safety: every method except FramebufferSize and ConsumeResized
// must be called on the main thread.
type Window struct {
	win     *glfw.Window
	resized atomic.Bool
}

// Init initializes GLFW. It must be called on the main thread before Open.
func Init() error {
	if err := glfw.Init(); err != nil {
		return fmt.Errorf("window: init glfw: %w", err)
	}
	return nil
}

// Terminate shuts GLFW down. It must be called on the main thread.
func Terminate() { glfw.Terminate() }

// VulkanProcAddr returns vkGetInstanceProcAddr as loaded by GLFW.
func VulkanProcAddr() unsafe.Pointer { return glfw.GetVulkanGetInstanceProcAddress() }

// Open creates a window.
func Open(cfg Config) (*Window, error) {
	glfw.WindowHint(glfw.ClientAPI, glfw.NoAPI)
	glfw.WindowHint(glfw.Resizable, glfw.True)
	win, err := glfw.CreateWindow(cfg.Width, cfg.Height, cfg.Title, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("window: create: %w", err)
	}
	w := &Window{win: win}
	win.SetFramebufferSizeCallback(func(_ *glfw.Window, width, height int) {
		w.resized.Store(true)
		slogger().Debug("framebuffer resized", "width", width, "height", height)
	})
	slogger().Info("window opened", "width", cfg.Width, "height", cfg.Height)
	return w, nil
}

// FramebufferSize implements Surface.
func (w *Window) FramebufferSize() (int, int) { return w.win.GetFramebufferSize() }

// ConsumeResized implements Surface.
func (w *Window) ConsumeResized() bool { return w.resized.Swap(false) }

// WaitWhileMinimized implements Surface by blocking in glfw.WaitEvents
// until the framebuffer has a non-zero extent or the window is closed.
func (w *Window) WaitWhileMinimized() {
	waitWhileMinimized(w.win.GetFramebufferSize, w.win.ShouldClose, glfw.WaitEvents)
}

// ShouldClose reports whether the user asked to close the window.
func (w *Window) ShouldClose() bool { return w.win.ShouldClose() }

// PollEvents processes pending window events.
func (w *Window) PollEvents() { glfw.PollEvents() }

// RequiredInstanceExtensions returns the Vulkan instance extensions the
// window surface needs.
func (w *Window) RequiredInstanceExtensions() []string {
	return w.win.GetRequiredInstanceExtensions()
}

// CreateSurface creates a Vulkan surface for instance and returns its
// handle.
func (w *Window) CreateSurface(instance any) (uintptr, error) {
	s, err := w.win.CreateWindowSurface(instance, nil)
	if err != nil {
		return 0, fmt.Errorf("window: create surface: %w", err)
	}
	return s, nil
}

// Destroy closes the window.
func (w *Window) Destroy() { w.win.Destroy() }
