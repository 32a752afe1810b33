// Package engine defines the interface of the interactive inference engine
// that backs a segmentation session.
//
// All coordinates, shapes and buffers exchanged with an Engine use storage
// order (slowest axis first), which is the reverse of image index order.
package engine

import (
	"context"
	"errors"
	"slices"
)

// Sentinel errors for engine construction and use.
var (
	ErrDeviceUnavailable = errors.New("device unavailable")
	ErrModelNotFound     = errors.New("model not found")
	ErrInvalidModel      = errors.New("invalid model definition")
	ErrNoImage           = errors.New("no image set")
	ErrNoTarget          = errors.New("no target buffer set")
	ErrClosed            = errors.New("engine closed")
)

// Devices lists the device names an engine may be asked to run on.
var Devices = []string{"cpu", "cuda", "mps"}

// Engine is an interactive segmentation model bound to one device.
type Engine interface {
	// SetImage loads a single-channel volume with the given storage shape.
	SetImage(ctx context.Context, shape [3]int, voxels []float32) error
	// SetTargetBuffer binds buf as the result buffer. Interactions write into
	// it in place; it must have one byte per image voxel.
	SetTargetBuffer(buf []uint8) error
	// AddPointInteraction refines the target around coord.
	AddPointInteraction(ctx context.Context, coord [3]int, include bool) error
	// AddScribbleInteraction refines the target using a painted mask.
	AddScribbleInteraction(ctx context.Context, mask []uint8, include bool) error
	// AddLassoInteraction refines the target using a closed contour mask.
	AddLassoInteraction(ctx context.Context, mask []uint8, include bool) error
	// ResetInteractions discards accumulated interaction state.
	ResetInteractions() error
	// Close releases the model and every buffer the engine holds.
	Close() error
}

// Loader constructs initialized engines. Load is expected to be slow.
type Loader interface {
	Load(ctx context.Context) (Engine, error)
}

// LoaderFunc adapts a function to the Loader interface.
type LoaderFunc func(ctx context.Context) (Engine, error)

// Load implements Loader.
func (f LoaderFunc) Load(ctx context.Context) (Engine, error) {
	return f(ctx)
}

// ValidDevice reports whether name is a known device.
func ValidDevice(name string) bool {
	return slices.Contains(Devices, name)
}
