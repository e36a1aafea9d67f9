package backend

import (
	"errors"
	"slices"
	"testing"

	"github.com/gogpu/lumen/internal/gpu"
)

// =============================================================================
// Null backend
// =============================================================================

func TestNullBackendName(t *testing.T) {
	b := NewNullBackend()
	if b.Name() != BackendNull {
		t.Errorf("Name() = %q, want %q", b.Name(), BackendNull)
	}
}

func TestNullBackendLifecycle(t *testing.T) {
	b := NewNullBackend()
	if b.Device() != nil {
		t.Fatal("Device() before Init should be nil")
	}
	if err := b.Init(); err != nil {
		t.Fatalf("Init() error = %v", err)
	}
	dev := b.Device()
	if dev == nil {
		t.Fatal("Device() after Init is nil")
	}
	if err := b.Init(); err != nil {
		t.Fatalf("second Init() error = %v", err)
	}
	if b.Device() != dev {
		t.Error("second Init() replaced the device")
	}
	b.Close()
	if b.Device() != nil {
		t.Error("Device() after Close should be nil")
	}
	b.Close()
}

func TestNullBackendOpensContext(t *testing.T) {
	b := NewNullBackend()
	if err := b.Init(); err != nil {
		t.Fatalf("Init() error = %v", err)
	}
	defer b.Close()

	gctx, err := gpu.NewContext(b.Device())
	if err != nil {
		t.Fatalf("NewContext() error = %v", err)
	}
	defer gctx.Close()
	if gctx.FramesInFlight() != 2 {
		t.Errorf("FramesInFlight() = %d, want 2", gctx.FramesInFlight())
	}
}

// =============================================================================
// Registry
// =============================================================================

type fakeBackend struct {
	name    string
	initErr error
	inited  bool
}

func (f *fakeBackend) Name() string { return f.name }
func (f *fakeBackend) Init() error {
	if f.initErr != nil {
		return f.initErr
	}
	f.inited = true
	return nil
}
func (f *fakeBackend) Close()             {}
func (f *fakeBackend) Device() gpu.Device { return nil }

// withRegistry swaps the registry contents for the duration of a test.
func withRegistry(t *testing.T, factories map[string]BackendFactory) {
	t.Helper()
	registryMu.Lock()
	saved := backends
	backends = factories
	registryMu.Unlock()
	t.Cleanup(func() {
		registryMu.Lock()
		backends = saved
		registryMu.Unlock()
	})
}

func TestRegistryNullRegisteredOnImport(t *testing.T) {
	if !IsRegistered(BackendNull) {
		t.Fatal("null backend should register itself")
	}
	if b := Get(BackendNull); b == nil || b.Name() != BackendNull {
		t.Errorf("Get(%q) = %v", BackendNull, b)
	}
}

func TestRegistryPriority(t *testing.T) {
	withRegistry(t, map[string]BackendFactory{
		BackendNull:   func() RenderBackend { return &fakeBackend{name: BackendNull} },
		BackendWGPU:   func() RenderBackend { return &fakeBackend{name: BackendWGPU} },
		"experimental": func() RenderBackend { return &fakeBackend{name: "experimental"} },
		BackendVulkan: func() RenderBackend { return &fakeBackend{name: BackendVulkan} },
	})

	want := []string{BackendVulkan, BackendWGPU, BackendNull, "experimental"}
	if got := Available(); !slices.Equal(got, want) {
		t.Errorf("Available() = %v, want %v", got, want)
	}
	if got := Default().Name(); got != BackendVulkan {
		t.Errorf("Default() = %q, want %q", got, BackendVulkan)
	}

	Unregister(BackendVulkan)
	if IsRegistered(BackendVulkan) {
		t.Error("vulkan still registered after Unregister")
	}
	if got := Default().Name(); got != BackendWGPU {
		t.Errorf("Default() after Unregister = %q, want %q", got, BackendWGPU)
	}
}

func TestInitDefaultSkipsFailingBackends(t *testing.T) {
	errNoDriver := errors.New("no driver")
	withRegistry(t, map[string]BackendFactory{
		BackendVulkan: func() RenderBackend { return &fakeBackend{name: BackendVulkan, initErr: errNoDriver} },
		BackendNull:   func() RenderBackend { return &fakeBackend{name: BackendNull} },
	})

	b, err := InitDefault()
	if err != nil {
		t.Fatalf("InitDefault() error = %v", err)
	}
	if b.Name() != BackendNull {
		t.Errorf("InitDefault() = %q, want %q", b.Name(), BackendNull)
	}
	if !b.(*fakeBackend).inited {
		t.Error("selected backend was not initialized")
	}
}

func TestInitNamed(t *testing.T) {
	errNoDriver := errors.New("no driver")
	withRegistry(t, map[string]BackendFactory{
		BackendVulkan: func() RenderBackend { return &fakeBackend{name: BackendVulkan, initErr: errNoDriver} },
	})

	tests := []struct {
		name    string
		backend string
		wantErr error
	}{
		{"unknown", "metal", ErrBackendNotAvailable},
		{"init fails", BackendVulkan, errNoDriver},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := InitNamed(tt.backend)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("InitNamed(%q) error = %v, want %v", tt.backend, err, tt.wantErr)
			}
		})
	}

	withRegistry(t, map[string]BackendFactory{})
	if _, err := InitDefault(); !errors.Is(err, ErrBackendNotAvailable) {
		t.Errorf("InitDefault() on empty registry error = %v", err)
	}
	if Default() != nil {
		t.Error("Default() on empty registry should be nil")
	}
}
