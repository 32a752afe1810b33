// Package volume defines image and mask types and their wire codec.
//
// Sizes are kept in index order (fastest-varying axis first, the order
// clients send in upload metadata). Voxel storage is contiguous with the
// first axis varying fastest, so the storage shape is the reverse of Size.
package volume

import (
	"errors"
	"fmt"
	"math"
)

// ErrShapeMismatch is returned when two images are expected to share a grid but do not.
var ErrShapeMismatch = errors.New("shape mismatch")

// MaxVoxels is the largest grid any geometry may describe. Its float32
// byte length still fits in an int.
const MaxVoxels = math.MaxInt / 4

// Geometry describes the voxel grid and its physical placement.
type Geometry struct {
	Size      []int     `json:"size"`
	Spacing   []float64 `json:"spacing"`
	Origin    []float64 `json:"origin"`
	Direction []float64 `json:"direction"` // row-major, len(Size)^2
}

// NewGeometry returns a geometry with unit spacing, zero origin and identity direction.
func NewGeometry(size ...int) Geometry {
	n := len(size)
	g := Geometry{
		Size:      append([]int(nil), size...),
		Spacing:   make([]float64, n),
		Origin:    make([]float64, n),
		Direction: make([]float64, n*n),
	}
	for i := range n {
		g.Spacing[i] = 1
		g.Direction[i*n+i] = 1
	}
	return g
}

// Dim returns the number of axes.
func (g Geometry) Dim() int {
	return len(g.Size)
}

// NumVoxels returns the product of Size, or 0 for an empty geometry. The
// product is only meaningful for a geometry that passes Validate.
func (g Geometry) NumVoxels() int {
	if len(g.Size) == 0 {
		return 0
	}
	n := 1
	for _, s := range g.Size {
		n *= s
	}
	return n
}

// Shape returns the storage shape, slowest-varying axis first.
func (g Geometry) Shape() []int {
	shape := make([]int, len(g.Size))
	for i, s := range g.Size {
		shape[len(g.Size)-1-i] = s
	}
	return shape
}

// SameSize reports whether both geometries describe the same voxel grid.
func (g Geometry) SameSize(o Geometry) bool {
	if len(g.Size) != len(o.Size) {
		return false
	}
	for i := range g.Size {
		if g.Size[i] != o.Size[i] {
			return false
		}
	}
	return true
}

// Clone returns a deep copy.
func (g Geometry) Clone() Geometry {
	return Geometry{
		Size:      append([]int(nil), g.Size...),
		Spacing:   append([]float64(nil), g.Spacing...),
		Origin:    append([]float64(nil), g.Origin...),
		Direction: append([]float64(nil), g.Direction...),
	}
}

// Validate checks that sizes are positive, that the voxel count does not
// exceed MaxVoxels and that the metadata arrays agree with the rank.
func (g Geometry) Validate() error {
	n := len(g.Size)
	if n == 0 {
		return errors.New("geometry has no dimensions")
	}
	total := 1
	for i, s := range g.Size {
		if s <= 0 {
			return fmt.Errorf("dimension %d has non-positive size %d", i, s)
		}
		if total > MaxVoxels/s {
			return fmt.Errorf("size %v exceeds %d voxels", g.Size, MaxVoxels)
		}
		total *= s
	}
	if len(g.Spacing) != n {
		return fmt.Errorf("spacing has %d values, want %d", len(g.Spacing), n)
	}
	if len(g.Origin) != n {
		return fmt.Errorf("origin has %d values, want %d", len(g.Origin), n)
	}
	if len(g.Direction) != n*n {
		return fmt.Errorf("direction has %d values, want %d", len(g.Direction), n*n)
	}
	return nil
}

// Squeeze drops the slowest axis when it has length 1, turning a batched
// (x, y, z, 1) grid into (x, y, z). Other geometries are returned unchanged.
func (g Geometry) Squeeze() Geometry {
	n := len(g.Size)
	if n < 2 || g.Size[n-1] != 1 {
		return g
	}
	m := n - 1
	out := Geometry{
		Size:      append([]int(nil), g.Size[:m]...),
		Spacing:   append([]float64(nil), g.Spacing[:m]...),
		Origin:    append([]float64(nil), g.Origin[:m]...),
		Direction: make([]float64, m*m),
	}
	for r := range m {
		for c := range m {
			out.Direction[r*m+c] = g.Direction[r*n+c]
		}
	}
	return out
}

// Volume is a scalar intensity image.
type Volume struct {
	Geometry
	Voxels []float32
}

// Mask is a label image where any non-zero voxel is foreground.
type Mask struct {
	Geometry
	Voxels []uint8
}

// NewMask allocates an all-background mask on the given grid.
func NewMask(g Geometry) *Mask {
	return &Mask{Geometry: g.Clone(), Voxels: make([]uint8, g.NumVoxels())}
}

// Binarize converts the volume into a mask where every non-zero voxel is 1.
func (v *Volume) Binarize() *Mask {
	m := NewMask(v.Geometry)
	for i, x := range v.Voxels {
		if x != 0 {
			m.Voxels[i] = 1
		}
	}
	return m
}

// Count returns the number of foreground voxels.
func (m *Mask) Count() int {
	n := 0
	for _, v := range m.Voxels {
		if v != 0 {
			n++
		}
	}
	return n
}
