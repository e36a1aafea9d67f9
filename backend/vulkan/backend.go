//go:build !nogpu

package vulkan

import (
	"sync"

	"github.com/gogpu/lumen/backend"
	"github.com/gogpu/lumen/internal/gpu"
)

// AppName is passed to the instance as the application name.
var AppName = "lumen"

func init() {
	backend.Register(backend.BackendVulkan, func() backend.RenderBackend {
		return NewBackend()
	})
}

// Backend is the registry entry of the Vulkan device.
type Backend struct {
	mu     sync.Mutex
	device *Device
}

// NewBackend returns an unopened backend.
func NewBackend() *Backend { return &Backend{} }

// Name returns the backend identifier.
func (b *Backend) Name() string { return backend.BackendVulkan }

// Init opens the device. It is a no-op when already open.
func (b *Backend) Init() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.device != nil {
		return nil
	}
	d, err := Open(AppName)
	if err != nil {
		return err
	}
	b.device = d
	return nil
}

// Close destroys the device.
func (b *Backend) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.device != nil {
		b.device.Destroy()
		b.device = nil
	}
}

// Device returns the open device, or nil before Init.
func (b *Backend) Device() gpu.Device {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.device == nil {
		return nil
	}
	return b.device
}
