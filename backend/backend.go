package backend

import (
	"errors"

	"github.com/gogpu/lumen/internal/gpu"
)

// Common backend errors.
var (
	// ErrBackendNotAvailable is returned when a requested backend is not available.
	ErrBackendNotAvailable = errors.New("backend: not available")

	// ErrNotInitialized is returned when operations are called before Init.
	ErrNotInitialized = errors.New("backend: not initialized")
)

// Backend name constants.
const (
	// BackendVulkan is the native Vulkan backend (goki/vulkan).
	BackendVulkan = "vulkan"
	// BackendWGPU is the portable backend on the gogpu/wgpu HAL.
	BackendWGPU = "wgpu"
	// BackendNull records commands into memory and renders nothing.
	BackendNull = "null"
)

// RenderBackend opens the device the rendering core records against.
//
// Backends must be registered via Register() and are selected via
// Get() or Default().
type RenderBackend interface {
	// Name returns the backend identifier (e.g., "vulkan", "wgpu").
	Name() string

	// Init opens the device.
	// This should be called before Device.
	Init() error

	// Close releases the device and every backend object.
	// The backend should not be used after Close is called.
	Close()

	// Device returns the opened device, or nil before Init.
	Device() gpu.Device
}
