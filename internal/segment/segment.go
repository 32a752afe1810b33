// Package segment provides the segmentation session: one inference engine
// plus the image and target mask currently bound to it.
package segment

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/hay-kot/snapdls/internal/core/engine"
	"github.com/hay-kot/snapdls/internal/core/volume"
	"github.com/rs/zerolog"
)

// Sentinel errors for session operations.
var (
	ErrNoImage      = errors.New("no image has been set for this session")
	ErrInvalidShape = errors.New("invalid shape")
	ErrClosed       = errors.New("session closed")
)

// State is the lifecycle state of a session.
type State string

const (
	StateUninitialized State = "uninitialized"
	StateImageLoaded   State = "image_loaded"
	StateInteracting   State = "interacting"
	StateClosed        State = "closed"
)

// Info is a point-in-time summary of a session.
type Info struct {
	State        State `json:"state"`
	ImageSize    []int `json:"image_size,omitempty"`
	Interactions int   `json:"interactions"`
}

// Session owns one engine and the image/target pair bound to it. All
// methods are safe for concurrent use; calls are serialized.
type Session struct {
	mu  sync.Mutex
	log zerolog.Logger

	engine engine.Engine
	image  *volume.Volume
	target *volume.Mask

	state        State
	interactions int
}

// New wraps an initialized engine.
func New(eng engine.Engine, log zerolog.Logger) *Session {
	return &Session{
		engine: eng,
		log:    log,
		state:  StateUninitialized,
	}
}

// Open loads an engine and wraps it in a session.
func Open(ctx context.Context, loader engine.Loader, log zerolog.Logger) (*Session, error) {
	start := time.Now()
	eng, err := loader.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("load engine: %w", err)
	}
	log.Debug().Dur("elapsed", time.Since(start)).Msg("segmentation session created")
	return New(eng, log), nil
}

// State returns the current lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Info returns a summary of the session.
func (s *Session) Info() Info {
	s.mu.Lock()
	defer s.mu.Unlock()

	info := Info{State: s.state, Interactions: s.interactions}
	if s.image != nil {
		info.ImageSize = append([]int(nil), s.image.Size...)
	}
	return info
}

// SetImage replaces the source image and resets the target to all background.
// A batched volume whose outermost axis has length 1 is accepted as 3D. If
// the engine accepts the image but not the new target, the session drops
// back to uninitialized and the caller must upload again.
func (s *Session) SetImage(ctx context.Context, img *volume.Volume) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == StateClosed {
		return ErrClosed
	}

	g := img.Geometry
	if g.Dim() == 4 {
		g = g.Squeeze()
	}
	if g.Dim() != 3 {
		return fmt.Errorf("%w: image must be 3D or batched 3D, got %d dimensions", ErrInvalidShape, img.Dim())
	}
	if err := g.Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidShape, err)
	}
	if len(img.Voxels) != g.NumVoxels() {
		return fmt.Errorf("%w: image has %d voxels, size %v needs %d", ErrInvalidShape, len(img.Voxels), g.Size, g.NumVoxels())
	}

	src := &volume.Volume{Geometry: g.Clone(), Voxels: img.Voxels}
	if err := s.engine.SetImage(ctx, storageShape(src.Geometry), src.Voxels); err != nil {
		return fmt.Errorf("engine set image: %w", err)
	}

	target := volume.NewMask(src.Geometry)
	if err := s.engine.SetTargetBuffer(target.Voxels); err != nil {
		// The engine already holds src, so the previous pair no longer
		// matches it. Interactions stay refused until the next SetImage.
		s.image = nil
		s.target = nil
		s.state = StateUninitialized
		s.interactions = 0
		return fmt.Errorf("engine bind target: %w", err)
	}

	s.image = src
	s.target = target
	s.state = StateImageLoaded
	s.interactions = 0

	s.log.Debug().Ints("size", src.Size).Msg("image set")
	return nil
}

// AddPointInteraction places a point at index (image index order, fastest
// axis first). The engine receives the coordinate in reversed order.
func (s *Session) AddPointInteraction(ctx context.Context, index [3]int, include bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.requireImage(); err != nil {
		return err
	}
	for a, v := range index {
		if v < 0 || v >= s.image.Size[a] {
			return fmt.Errorf("%w: point %v outside image of size %v", ErrInvalidShape, index, s.image.Size)
		}
	}

	coord := [3]int{index[2], index[1], index[0]}
	if err := s.engine.AddPointInteraction(ctx, coord, include); err != nil {
		return fmt.Errorf("engine point interaction: %w", err)
	}

	s.interacted()
	return nil
}

// AddScribbleInteraction applies a painted mask on the image grid.
func (s *Session) AddScribbleInteraction(ctx context.Context, mask *volume.Mask, include bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.requireMask(mask); err != nil {
		return err
	}
	if err := s.engine.AddScribbleInteraction(ctx, mask.Voxels, include); err != nil {
		return fmt.Errorf("engine scribble interaction: %w", err)
	}

	s.interacted()
	return nil
}

// AddLassoInteraction applies a closed contour mask on the image grid.
func (s *Session) AddLassoInteraction(ctx context.Context, mask *volume.Mask, include bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.requireMask(mask); err != nil {
		return err
	}
	if err := s.engine.AddLassoInteraction(ctx, mask.Voxels, include); err != nil {
		return fmt.Errorf("engine lasso interaction: %w", err)
	}

	s.interacted()
	return nil
}

// ResetInteractions discards refinement state and clears the target while
// keeping the current image.
func (s *Session) ResetInteractions() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.requireImage(); err != nil {
		return err
	}

	target := volume.NewMask(s.image.Geometry)
	if err := s.engine.SetTargetBuffer(target.Voxels); err != nil {
		return fmt.Errorf("engine bind target: %w", err)
	}
	if err := s.engine.ResetInteractions(); err != nil {
		return fmt.Errorf("engine reset: %w", err)
	}

	s.target = target
	s.state = StateImageLoaded
	s.interactions = 0
	return nil
}

// Result returns a copy of the target mask carrying the source image geometry.
func (s *Session) Result() (*volume.Mask, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.requireImage(); err != nil {
		return nil, err
	}

	return &volume.Mask{
		Geometry: s.image.Geometry.Clone(),
		Voxels:   append([]uint8(nil), s.target.Voxels...),
	}, nil
}

// Close releases the engine and every buffer. It is safe to call more than once.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == StateClosed {
		return nil
	}
	s.state = StateClosed
	s.image = nil
	s.target = nil

	if err := s.engine.Close(); err != nil {
		return fmt.Errorf("close engine: %w", err)
	}
	return nil
}

func (s *Session) requireImage() error {
	switch s.state {
	case StateClosed:
		return ErrClosed
	case StateUninitialized:
		return ErrNoImage
	}
	return nil
}

func (s *Session) requireMask(mask *volume.Mask) error {
	if err := s.requireImage(); err != nil {
		return err
	}
	g := mask.Geometry
	if g.Dim() == 4 {
		g = g.Squeeze()
	}
	if !g.SameSize(s.image.Geometry) || len(mask.Voxels) != s.image.NumVoxels() {
		return fmt.Errorf("%w: mask size %v does not match image size %v", ErrInvalidShape, mask.Size, s.image.Size)
	}
	return nil
}

func (s *Session) interacted() {
	s.state = StateInteracting
	s.interactions++
}

func storageShape(g volume.Geometry) [3]int {
	shape := g.Shape()
	return [3]int{shape[0], shape[1], shape[2]}
}
