package gpu

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"sync"
)

// Buffer errors.
var (
	// ErrInvalidBufferSize is returned when creating a zero-sized buffer.
	ErrInvalidBufferSize = errors.New("gpu: invalid buffer size")

	// ErrWriteOutOfRange is returned when a write exceeds the buffer size.
	ErrWriteOutOfRange = errors.New("gpu: write range out of bounds")
)

// BufferKind selects usage and memory placement of a buffer.
type BufferKind uint8

const (
	// BufferUniform is a host-visible uniform buffer.
	BufferUniform BufferKind = iota
	// BufferStaging is a host-visible transfer source.
	BufferStaging
	// BufferVertex is a host-visible vertex buffer.
	BufferVertex
	// BufferIndex is a host-visible index buffer.
	BufferIndex
	// BufferStorage is a device-local storage buffer.
	BufferStorage
	// BufferReadback is a host-visible transfer destination.
	BufferReadback
)

// String returns the kind name.
func (k BufferKind) String() string {
	switch k {
	case BufferUniform:
		return "Uniform"
	case BufferStaging:
		return "Staging"
	case BufferVertex:
		return "Vertex"
	case BufferIndex:
		return "Index"
	case BufferStorage:
		return "Storage"
	case BufferReadback:
		return "Readback"
	default:
		return fmt.Sprintf("Unknown(%d)", int(k))
	}
}

func (k BufferKind) usage() BufferUsage {
	switch k {
	case BufferUniform:
		return BufferUsageUniform
	case BufferStaging:
		return BufferUsageTransferSrc
	case BufferVertex:
		return BufferUsageVertex
	case BufferIndex:
		return BufferUsageIndex
	case BufferReadback:
		return BufferUsageTransferDst
	default:
		return BufferUsageStorage | BufferUsageTransferDst | BufferUsageTransferSrc
	}
}

func (k BufferKind) hostVisible() bool { return k != BufferStorage }

// Buffer is a single-owner GPU buffer with its backing memory.
//
// Buffers are always used through a pointer; the zero value is not usable.
// Only Destroy releases the native buffer, and it does so once.
//
// Thread Safety:
// Buffer guards its lifecycle with a mutex. Mapped slices are not
// synchronized.
//
// Lifecycle:
//  1. NewBuffer describes the buffer (Uninitialized)
//  2. Create allocates it (Created)
//  3. Map/Unmap or Write for host-visible kinds
//  4. Destroy releases it (Destroyed)
type Buffer struct {
	mu sync.Mutex

	gctx  *Context
	label string
	kind  BufferKind
	size  uint64

	handle BufferHandle
	memory MemoryHandle
	state  Lifecycle
	mapped []byte
}

// NewBuffer describes a buffer. No native object is created until Create.
func NewBuffer(gctx *Context, kind BufferKind, size uint64, label string) *Buffer {
	return &Buffer{gctx: gctx, kind: kind, size: size, label: label}
}

// Create allocates the native buffer. Calling Create on a live buffer logs
// a warning and does nothing.
func (b *Buffer) Create() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state.live() {
		slogger().Warn("buffer already created", "label", b.label)
		return nil
	}
	if b.state == Destroyed {
		return fmt.Errorf("create buffer %q: %w", b.label, ErrResourceDestroyed)
	}
	if b.size == 0 {
		return fmt.Errorf("create buffer %q: %w", b.label, ErrInvalidBufferSize)
	}

	h, mem, err := b.gctx.device.CreateBuffer(&BufferDesc{
		Label:       b.label,
		Size:        b.size,
		Usage:       b.kind.usage(),
		HostVisible: b.kind.hostVisible(),
	})
	if err != nil {
		return fmt.Errorf("create buffer %q: %w", b.label, err)
	}
	b.handle, b.memory, b.state = h, mem, Created
	slogger().Debug("buffer created", "label", b.label, "kind", b.kind, "size", b.size)
	return nil
}

// Label returns the debug label.
func (b *Buffer) Label() string { return b.label }

// Kind returns the buffer kind.
func (b *Buffer) Kind() BufferKind { return b.kind }

// Size returns the buffer size in bytes.
func (b *Buffer) Size() uint64 { return b.size }

// State returns the lifecycle state.
func (b *Buffer) State() Lifecycle {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Handle returns the native buffer handle.
func (b *Buffer) Handle() (BufferHandle, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := checkLive(b.state, b.label); err != nil {
		return 0, err
	}
	return b.handle, nil
}

// Map maps the whole buffer for host access.
func (b *Buffer) Map() ([]byte, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.mapLocked()
}

// mapLocked maps the buffer. Caller must hold mu.
func (b *Buffer) mapLocked() ([]byte, error) {
	if err := checkLive(b.state, b.label); err != nil {
		return nil, err
	}
	if b.state == Mapped {
		return nil, fmt.Errorf("map %q: %w", b.label, ErrResourceMapped)
	}
	if !b.kind.hostVisible() {
		return nil, fmt.Errorf("map %q: %w", b.label, ErrNotHostVisible)
	}
	data, err := b.gctx.device.MapMemory(b.memory, 0, b.size)
	if err != nil {
		return nil, fmt.Errorf("map %q: %w", b.label, err)
	}
	b.mapped, b.state = data, Mapped
	return data, nil
}

// Unmap releases the host mapping.
func (b *Buffer) Unmap() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.unmapLocked()
}

// unmapLocked unmaps the buffer. Caller must hold mu.
func (b *Buffer) unmapLocked() error {
	if b.state != Mapped {
		return fmt.Errorf("unmap %q: %w", b.label, ErrResourceNotMapped)
	}
	b.gctx.device.UnmapMemory(b.memory)
	b.mapped, b.state = nil, Created
	return nil
}

// Write copies data into the buffer at offset through a temporary mapping.
func (b *Buffer) Write(offset uint64, data []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if offset+uint64(len(data)) > b.size {
		return fmt.Errorf("write %q: %w: %d+%d > %d", b.label, ErrWriteOutOfRange, offset, len(data), b.size)
	}
	dst, err := b.mapLocked()
	if err != nil {
		return err
	}
	copy(dst[offset:], data)
	return b.unmapLocked()
}

// WriteValue encodes v little-endian and writes it at offset. v must be a
// fixed-size value such as a float32, an mgl32 matrix or a struct of them.
func (b *Buffer) WriteValue(offset uint64, v any) error {
	var buf bytes.Buffer
	if err := binary.Write(&buf, binary.LittleEndian, v); err != nil {
		return fmt.Errorf("encode %q: %w", b.label, err)
	}
	return b.Write(offset, buf.Bytes())
}

// Destroy releases the native buffer. Destroying a buffer that was never
// created or is already destroyed logs a warning and does nothing.
func (b *Buffer) Destroy() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.state.live() {
		slogger().Warn("destroy on buffer without native object", "label", b.label, "state", b.state)
		return
	}
	if b.state == Mapped {
		b.gctx.device.UnmapMemory(b.memory)
		b.mapped = nil
	}
	b.gctx.device.DestroyBuffer(b.handle, b.memory)
	b.handle, b.memory, b.state = 0, 0, Destroyed
}

// NewUniformBuffers creates one uniform buffer per frame in flight.
func NewUniformBuffers(gctx *Context, size uint64, label string) ([]*Buffer, error) {
	out := make([]*Buffer, gctx.FramesInFlight())
	for i := range out {
		b := NewBuffer(gctx, BufferUniform, size, fmt.Sprintf("%s[%d]", label, i))
		if err := b.Create(); err != nil {
			for _, prev := range out[:i] {
				prev.Destroy()
			}
			return nil, err
		}
		out[i] = b
	}
	return out, nil
}
