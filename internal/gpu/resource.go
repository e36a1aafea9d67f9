package gpu

import (
	"errors"
	"fmt"
)

// Resource lifecycle errors.
var (
	// ErrResourceNotCreated is returned when a handle is requested before Create.
	ErrResourceNotCreated = errors.New("gpu: resource not created")

	// ErrResourceDestroyed is returned when a handle is requested after Destroy.
	ErrResourceDestroyed = errors.New("gpu: resource destroyed")

	// ErrResourceMapped is returned when an operation needs the resource unmapped.
	ErrResourceMapped = errors.New("gpu: resource is mapped")

	// ErrResourceNotMapped is returned by Unmap on a resource that is not mapped.
	ErrResourceNotMapped = errors.New("gpu: resource is not mapped")

	// ErrNotHostVisible is returned when mapping device-local memory.
	ErrNotHostVisible = errors.New("gpu: resource memory is not host visible")
)

// Lifecycle is the lifecycle state of a GPU resource.
//
// State Machine:
//
//	Uninitialized -> Create()  -> Created
//	Created       -> Map()     -> Mapped
//	Mapped        -> Unmap()   -> Created
//	Created       -> Destroy() -> Destroyed
//	Mapped        -> Destroy() -> Destroyed
type Lifecycle uint8

const (
	// Uninitialized means no native object exists yet.
	Uninitialized Lifecycle = iota
	// Created means the native object exists.
	Created
	// Mapped means the backing memory is mapped for host access.
	Mapped
	// Destroyed means the native object was released.
	Destroyed
)

// String returns the state name.
func (l Lifecycle) String() string {
	switch l {
	case Uninitialized:
		return "Uninitialized"
	case Created:
		return "Created"
	case Mapped:
		return "Mapped"
	case Destroyed:
		return "Destroyed"
	default:
		return fmt.Sprintf("Unknown(%d)", int(l))
	}
}

// live reports whether a native object exists.
func (l Lifecycle) live() bool { return l == Created || l == Mapped }

// checkLive returns the error for handle access in state l.
func checkLive(l Lifecycle, label string) error {
	switch l {
	case Uninitialized:
		return fmt.Errorf("%s: %w", label, ErrResourceNotCreated)
	case Destroyed:
		return fmt.Errorf("%s: %w", label, ErrResourceDestroyed)
	default:
		return nil
	}
}
