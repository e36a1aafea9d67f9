package backend

import (
	"sync"

	"github.com/gogpu/lumen/internal/gpu"
	"github.com/gogpu/lumen/internal/gpu/gputest"
)

// NullBackend opens an in-memory device. Every object is tracked and every
// command is recorded, but nothing reaches a GPU. It keeps headless runs
// and CI machines without a driver working end to end.
type NullBackend struct {
	mu     sync.Mutex
	device *gputest.Device
}

func init() {
	Register(BackendNull, func() RenderBackend {
		return &NullBackend{}
	})
}

// NewNullBackend creates a new null backend.
func NewNullBackend() *NullBackend {
	return &NullBackend{}
}

// Name returns the backend identifier.
func (b *NullBackend) Name() string {
	return BackendNull
}

// Init opens the in-memory device. It is a no-op when already open.
func (b *NullBackend) Init() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.device == nil {
		b.device = gputest.NewDevice()
	}
	return nil
}

// Close releases the device.
func (b *NullBackend) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.device != nil {
		b.device.Destroy()
		b.device = nil
	}
}

// Device returns the in-memory device, or nil before Init.
func (b *NullBackend) Device() gpu.Device {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.device == nil {
		return nil
	}
	return b.device
}
