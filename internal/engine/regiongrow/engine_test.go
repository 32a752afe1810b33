package regiongrow

import (
	"context"
	"testing"

	"github.com/hay-kot/snapdls/internal/core/engine"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testShape = [3]int{4, 8, 8}

// cubeImage returns a dark volume with a bright 2x4x4 block at [1..2, 2..5, 2..5].
func cubeImage() []float32 {
	g := grid{shape: testShape}
	v := make([]float32, g.len())
	for z := 1; z <= 2; z++ {
		for y := 2; y <= 5; y++ {
			for x := 2; x <= 5; x++ {
				v[g.index([3]int{z, y, x})] = 100
			}
		}
	}
	return v
}

func newLoadedEngine(t *testing.T) (*Engine, []uint8) {
	t.Helper()
	e := New(DefaultModel())
	require.NoError(t, e.SetImage(context.Background(), testShape, cubeImage()))
	target := make([]uint8, grid{shape: testShape}.len())
	require.NoError(t, e.SetTargetBuffer(target))
	return e, target
}

func countSet(buf []uint8) int {
	n := 0
	for _, v := range buf {
		if v != 0 {
			n++
		}
	}
	return n
}

func TestEngine_PointIncludeGrowsBrightRegion(t *testing.T) {
	e, target := newLoadedEngine(t)

	require.NoError(t, e.AddPointInteraction(context.Background(), [3]int{1, 3, 3}, true))

	assert.Equal(t, 32, countSet(target))
	assert.Equal(t, uint8(1), target[grid{shape: testShape}.index([3]int{2, 5, 5})])
	assert.Equal(t, uint8(0), target[0])
	assert.Equal(t, 1, e.Interactions())
}

func TestEngine_PointExcludeClearsComponent(t *testing.T) {
	e, target := newLoadedEngine(t)
	ctx := context.Background()

	require.NoError(t, e.AddPointInteraction(ctx, [3]int{1, 3, 3}, true))
	require.NoError(t, e.AddPointInteraction(ctx, [3]int{2, 4, 4}, false))

	assert.Equal(t, 0, countSet(target))
}

func TestEngine_PointRespectsRadius(t *testing.T) {
	m := DefaultModel()
	m.Radius = 1
	e := New(m)
	require.NoError(t, e.SetImage(context.Background(), testShape, cubeImage()))
	target := make([]uint8, grid{shape: testShape}.len())
	require.NoError(t, e.SetTargetBuffer(target))

	require.NoError(t, e.AddPointInteraction(context.Background(), [3]int{1, 3, 3}, true))

	// window [0..2, 2..4, 2..4] intersected with the block [1..2, 2..5, 2..5]
	assert.Equal(t, 2*3*3, countSet(target))
}

func TestEngine_PointOutsideImage(t *testing.T) {
	e, _ := newLoadedEngine(t)
	err := e.AddPointInteraction(context.Background(), [3]int{4, 0, 0}, true)
	assert.Error(t, err)
}

func TestEngine_ScribbleIncludeAndExclude(t *testing.T) {
	e, target := newLoadedEngine(t)
	ctx := context.Background()
	g := grid{shape: testShape}

	scribble := make([]uint8, g.len())
	scribble[g.index([3]int{1, 2, 2})] = 1
	scribble[g.index([3]int{1, 2, 3})] = 1

	require.NoError(t, e.AddScribbleInteraction(ctx, scribble, true))
	assert.Equal(t, 32, countSet(target))

	require.NoError(t, e.AddScribbleInteraction(ctx, scribble, false))
	assert.Equal(t, 0, countSet(target))
}

func TestEngine_ScribbleWrongSize(t *testing.T) {
	e, _ := newLoadedEngine(t)
	err := e.AddScribbleInteraction(context.Background(), make([]uint8, 3), true)
	assert.Error(t, err)
}

func TestEngine_LassoFillsContour(t *testing.T) {
	e, target := newLoadedEngine(t)
	ctx := context.Background()
	g := grid{shape: testShape}

	lasso := make([]uint8, g.len())
	for i := 1; i <= 6; i++ {
		lasso[g.index([3]int{0, 1, i})] = 1
		lasso[g.index([3]int{0, 6, i})] = 1
		lasso[g.index([3]int{0, i, 1})] = 1
		lasso[g.index([3]int{0, i, 6})] = 1
	}

	require.NoError(t, e.AddLassoInteraction(ctx, lasso, true))
	assert.Equal(t, 36, countSet(target))
	assert.Equal(t, uint8(1), target[g.index([3]int{0, 3, 3})])
	assert.Equal(t, uint8(0), target[g.index([3]int{1, 3, 3})])

	require.NoError(t, e.AddLassoInteraction(ctx, lasso, false))
	assert.Equal(t, 0, countSet(target))
}

func TestEngine_Preconditions(t *testing.T) {
	ctx := context.Background()
	e := New(DefaultModel())

	err := e.AddPointInteraction(ctx, [3]int{0, 0, 0}, true)
	require.ErrorIs(t, err, engine.ErrNoImage)

	require.ErrorIs(t, e.SetTargetBuffer(make([]uint8, 1)), engine.ErrNoImage)

	require.NoError(t, e.SetImage(ctx, testShape, cubeImage()))
	err = e.AddPointInteraction(ctx, [3]int{0, 0, 0}, true)
	require.ErrorIs(t, err, engine.ErrNoTarget)

	assert.Error(t, e.SetTargetBuffer(make([]uint8, 3)))
}

func TestEngine_SetImageRejectsWrongLength(t *testing.T) {
	e := New(DefaultModel())
	err := e.SetImage(context.Background(), testShape, make([]float32, 10))
	assert.Error(t, err)
}

func TestEngine_ResetClearsHistory(t *testing.T) {
	e, _ := newLoadedEngine(t)
	require.NoError(t, e.AddPointInteraction(context.Background(), [3]int{1, 3, 3}, true))
	require.Equal(t, 1, e.Interactions())

	require.NoError(t, e.ResetInteractions())
	assert.Equal(t, 0, e.Interactions())
}

func TestEngine_Closed(t *testing.T) {
	e, _ := newLoadedEngine(t)
	require.NoError(t, e.Close())

	err := e.AddPointInteraction(context.Background(), [3]int{1, 3, 3}, true)
	require.ErrorIs(t, err, engine.ErrClosed)
	require.ErrorIs(t, e.ResetInteractions(), engine.ErrClosed)
}
