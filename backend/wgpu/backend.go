//go:build !nogpu

package wgpu

import (
	"fmt"
	"sync"

	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"
	_ "github.com/gogpu/wgpu/hal/vulkan"

	"github.com/gogpu/lumen/backend"
	"github.com/gogpu/lumen/internal/gpu"
)

func init() {
	backend.Register(backend.BackendWGPU, func() backend.RenderBackend {
		return NewBackend()
	})
}

// Backend is the registry entry of the hal device. It opens the first
// available hal API on Init.
type Backend struct {
	mu     sync.Mutex
	device *Device
	apis   []gputypes.Backend
}

// NewBackend returns a backend that tries the Vulkan hal API.
func NewBackend() *Backend {
	return &Backend{apis: []gputypes.Backend{gputypes.BackendVulkan}}
}

// Name returns the backend identifier.
func (b *Backend) Name() string { return backend.BackendWGPU }

// Init opens a device on the first hal API that has an adapter. It is a
// no-op when already open.
func (b *Backend) Init() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.device != nil {
		return nil
	}
	var lastErr error = backend.ErrBackendNotAvailable
	for _, api := range b.apis {
		halBackend, ok := hal.GetBackend(api)
		if !ok {
			continue
		}
		d, err := Open(halBackend)
		if err != nil {
			backend.Logger().Debug("wgpu: hal api unavailable", "api", api, "err", err)
			lastErr = err
			continue
		}
		b.device = d
		return nil
	}
	return fmt.Errorf("wgpu: %w", lastErr)
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
