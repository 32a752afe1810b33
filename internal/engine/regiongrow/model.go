// Package regiongrow is an in-process interactive segmentation engine based
// on intensity region growing. It runs on the CPU only.
package regiongrow

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/hay-kot/snapdls/internal/core/engine"
	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"
)

// DefaultGlob locates the model definition inside a models folder.
const DefaultGlob = "**/model.yaml"

// Model holds the tunable parameters read from a model definition file.
type Model struct {
	Name string `yaml:"name"`
	// Tolerance is the accepted intensity distance from the reference value,
	// in units of the image standard deviation.
	Tolerance float64 `yaml:"tolerance"`
	// Radius bounds every interaction to a window of this many voxels per axis.
	Radius int `yaml:"radius"`
	// Connectivity is 6 (faces) or 26 (faces, edges and corners).
	Connectivity int `yaml:"connectivity"`
}

// DefaultModel returns the parameters used for keys absent from a definition.
func DefaultModel() Model {
	return Model{
		Name:         "regiongrow",
		Tolerance:    1.0,
		Radius:       32,
		Connectivity: 6,
	}
}

// Validate checks the model parameters.
func (m Model) Validate() error {
	if m.Tolerance < 0 {
		return fmt.Errorf("%w: tolerance must not be negative", engine.ErrInvalidModel)
	}
	if m.Radius < 1 {
		return fmt.Errorf("%w: radius must be at least 1", engine.ErrInvalidModel)
	}
	if m.Connectivity != 6 && m.Connectivity != 26 {
		return fmt.Errorf("%w: connectivity must be 6 or 26, got %d", engine.ErrInvalidModel, m.Connectivity)
	}
	return nil
}

// ReadModel parses a model definition file.
func ReadModel(path string) (Model, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Model{}, fmt.Errorf("read model definition: %w", err)
	}

	m := DefaultModel()
	if err := yaml.Unmarshal(data, &m); err != nil {
		return Model{}, fmt.Errorf("%w: parse %s: %v", engine.ErrInvalidModel, path, err)
	}

	if err := m.Validate(); err != nil {
		return Model{}, err
	}
	return m, nil
}

// Loader builds engines from a models folder.
type Loader struct {
	ModelsPath string
	Glob       string
	Device     string
	Log        zerolog.Logger
}

// Find returns the path of the model definition inside ModelsPath. When
// several files match, the lexically first one wins.
func (l *Loader) Find() (string, error) {
	if l.ModelsPath == "" {
		return "", fmt.Errorf("%w: models path not set", engine.ErrModelNotFound)
	}

	info, err := os.Stat(l.ModelsPath)
	if err != nil {
		return "", fmt.Errorf("%w: %v", engine.ErrModelNotFound, err)
	}
	if !info.IsDir() {
		return "", fmt.Errorf("%w: %s is not a directory", engine.ErrModelNotFound, l.ModelsPath)
	}

	pattern := l.Glob
	if pattern == "" {
		pattern = DefaultGlob
	}

	matches, err := doublestar.Glob(os.DirFS(l.ModelsPath), pattern)
	if err != nil {
		return "", fmt.Errorf("match %q: %w", pattern, err)
	}
	if len(matches) == 0 {
		return "", fmt.Errorf("%w: nothing matches %q in %s", engine.ErrModelNotFound, pattern, l.ModelsPath)
	}

	slices.Sort(matches)
	return filepath.Join(l.ModelsPath, filepath.FromSlash(matches[0])), nil
}

// Load implements engine.Loader.
func (l *Loader) Load(ctx context.Context) (engine.Engine, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if l.Device != "cpu" {
		return nil, fmt.Errorf("%w: %q is not supported by the region growing engine", engine.ErrDeviceUnavailable, l.Device)
	}

	start := time.Now()

	path, err := l.Find()
	if err != nil {
		return nil, err
	}

	m, err := ReadModel(path)
	if err != nil {
		return nil, err
	}

	l.Log.Debug().
		Str("model", m.Name).
		Str("path", path).
		Dur("elapsed", time.Since(start)).
		Msg("model initialized")

	return New(m), nil
}

var _ engine.Loader = (*Loader)(nil)
