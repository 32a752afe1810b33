package volume

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGeometry_Shape(t *testing.T) {
	g := NewGeometry(64, 64, 32)
	assert.Equal(t, []int{32, 64, 64}, g.Shape())
	assert.Equal(t, 64*64*32, g.NumVoxels())
	assert.Equal(t, 3, g.Dim())
}

func TestGeometry_Squeeze(t *testing.T) {
	tests := []struct {
		name string
		size []int
		want []int
	}{
		{name: "batched 3d", size: []int{8, 6, 4, 1}, want: []int{8, 6, 4}},
		{name: "plain 3d", size: []int{8, 6, 4}, want: []int{8, 6, 4}},
		{name: "non-unit outer axis", size: []int{8, 6, 4, 2}, want: []int{8, 6, 4, 2}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g := NewGeometry(tt.size...).Squeeze()
			assert.Equal(t, tt.want, g.Size)
			require.NoError(t, g.Validate())
		})
	}
}

func TestGeometry_SqueezeKeepsDirection(t *testing.T) {
	g := NewGeometry(2, 2, 2, 1)
	g.Direction[1] = 0.5 // row 0, col 1
	s := g.Squeeze()
	assert.InDelta(t, 0.5, s.Direction[1], 1e-9)
	assert.InDelta(t, 1, s.Direction[4], 1e-9)
}

func TestGeometry_Validate(t *testing.T) {
	g := NewGeometry(2, 0, 2)
	assert.Error(t, g.Validate())

	assert.Error(t, Geometry{}.Validate())
}

func TestGeometry_ValidateRejectsOverflow(t *testing.T) {
	assert.Error(t, NewGeometry(1<<32, 1<<32, 1).Validate())
	assert.Error(t, NewGeometry(1<<31, 1<<31, 2).Validate())
	assert.Error(t, NewGeometry(MaxVoxels+1).Validate())
	assert.NoError(t, NewGeometry(MaxVoxels).Validate())
}

func TestGeometry_SameSize(t *testing.T) {
	assert.True(t, NewGeometry(2, 3, 4).SameSize(NewGeometry(2, 3, 4)))
	assert.False(t, NewGeometry(2, 3, 4).SameSize(NewGeometry(4, 3, 2)))
	assert.False(t, NewGeometry(2, 3).SameSize(NewGeometry(2, 3, 1)))
}

func TestVolume_Binarize(t *testing.T) {
	v := &Volume{Geometry: NewGeometry(4), Voxels: []float32{0, 0.5, -1, 0}}
	m := v.Binarize()
	assert.Equal(t, []uint8{0, 1, 1, 0}, m.Voxels)
	assert.Equal(t, 2, m.Count())
}
