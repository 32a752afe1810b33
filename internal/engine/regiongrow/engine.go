package regiongrow

import (
	"context"
	"fmt"
	"math"

	"github.com/hay-kot/snapdls/internal/core/engine"
)

type interactionKind string

const (
	kindPoint    interactionKind = "point"
	kindScribble interactionKind = "scribble"
	kindLasso    interactionKind = "lasso"
)

type interaction struct {
	kind    interactionKind
	include bool
}

// Engine implements engine.Engine. It is not safe for concurrent use; the
// owning session serializes calls.
type Engine struct {
	model Model

	grid   grid
	image  []float32
	stddev float64
	target []uint8

	history []interaction
	closed  bool
}

// New returns an engine using the given model parameters.
func New(m Model) *Engine {
	return &Engine{model: m}
}

// Model returns the parameters the engine was built with.
func (e *Engine) Model() Model {
	return e.model
}

// Interactions returns how many interactions have been applied since the
// last image or reset.
func (e *Engine) Interactions() int {
	return len(e.history)
}

// SetImage implements engine.Engine.
func (e *Engine) SetImage(ctx context.Context, shape [3]int, voxels []float32) error {
	if e.closed {
		return engine.ErrClosed
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	g := grid{shape: shape}
	if g.len() != len(voxels) {
		return fmt.Errorf("image has %d voxels, shape %v needs %d", len(voxels), shape, g.len())
	}

	e.grid = g
	e.image = voxels
	e.stddev = stddev(voxels)
	e.target = nil
	e.history = e.history[:0]
	return nil
}

// SetTargetBuffer implements engine.Engine.
func (e *Engine) SetTargetBuffer(buf []uint8) error {
	if e.closed {
		return engine.ErrClosed
	}
	if e.image == nil {
		return engine.ErrNoImage
	}
	if len(buf) != e.grid.len() {
		return fmt.Errorf("target buffer has %d voxels, image has %d", len(buf), e.grid.len())
	}
	e.target = buf
	return nil
}

// AddPointInteraction implements engine.Engine.
func (e *Engine) AddPointInteraction(ctx context.Context, coord [3]int, include bool) error {
	if err := e.ready(ctx); err != nil {
		return err
	}
	if !e.grid.inside(coord) {
		return fmt.Errorf("point %v outside image of shape %v", coord, e.grid.shape)
	}

	window := e.grid.window([][3]int{coord}, e.model.Radius)
	seed := e.grid.index(coord)

	if include {
		ref := float64(e.image[seed])
		e.grid.flood(window, e.model.Connectivity, []int{seed}, e.similarTo(ref), func(i int) {
			e.target[i] = 1
		})
	} else if e.target[seed] != 0 {
		e.grid.flood(window, e.model.Connectivity, []int{seed}, e.foreground, func(i int) {
			e.target[i] = 0
		})
	}

	e.history = append(e.history, interaction{kind: kindPoint, include: include})
	return nil
}

// AddScribbleInteraction implements engine.Engine.
func (e *Engine) AddScribbleInteraction(ctx context.Context, mask []uint8, include bool) error {
	if err := e.ready(ctx); err != nil {
		return err
	}
	if len(mask) != e.grid.len() {
		return fmt.Errorf("scribble has %d voxels, image has %d", len(mask), e.grid.len())
	}

	seeds, coords := e.grid.nonzero(mask)
	if len(seeds) > 0 {
		window := e.grid.window(coords, e.model.Radius)

		if include {
			var sum float64
			for _, i := range seeds {
				sum += float64(e.image[i])
			}
			ref := sum / float64(len(seeds))
			e.grid.flood(window, e.model.Connectivity, seeds, e.similarTo(ref), func(i int) {
				e.target[i] = 1
			})
		} else {
			e.grid.flood(window, e.model.Connectivity, seeds, e.foreground, func(i int) {
				e.target[i] = 0
			})
		}
	}

	e.history = append(e.history, interaction{kind: kindScribble, include: include})
	return nil
}

// AddLassoInteraction implements engine.Engine.
func (e *Engine) AddLassoInteraction(ctx context.Context, mask []uint8, include bool) error {
	if err := e.ready(ctx); err != nil {
		return err
	}
	if len(mask) != e.grid.len() {
		return fmt.Errorf("lasso has %d voxels, image has %d", len(mask), e.grid.len())
	}

	var value uint8
	if include {
		value = 1
	}
	e.grid.fillContours(mask, func(i int) {
		e.target[i] = value
	})

	e.history = append(e.history, interaction{kind: kindLasso, include: include})
	return nil
}

// ResetInteractions implements engine.Engine.
func (e *Engine) ResetInteractions() error {
	if e.closed {
		return engine.ErrClosed
	}
	e.history = e.history[:0]
	return nil
}

// Close implements engine.Engine.
func (e *Engine) Close() error {
	e.closed = true
	e.image = nil
	e.target = nil
	e.history = nil
	return nil
}

func (e *Engine) ready(ctx context.Context) error {
	if e.closed {
		return engine.ErrClosed
	}
	if e.image == nil {
		return engine.ErrNoImage
	}
	if e.target == nil {
		return engine.ErrNoTarget
	}
	return ctx.Err()
}

func (e *Engine) similarTo(ref float64) func(i int) bool {
	tol := e.model.Tolerance * e.stddev
	return func(i int) bool {
		return math.Abs(float64(e.image[i])-ref) <= tol
	}
}

func (e *Engine) foreground(i int) bool {
	return e.target[i] != 0
}

func stddev(v []float32) float64 {
	if len(v) == 0 {
		return 0
	}
	var mean float64
	for _, x := range v {
		mean += float64(x)
	}
	mean /= float64(len(v))

	var ss float64
	for _, x := range v {
		d := float64(x) - mean
		ss += d * d
	}
	return math.Sqrt(ss / float64(len(v)))
}

var _ engine.Engine = (*Engine)(nil)
