package volume

import (
	"bytes"
	"encoding/base64"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"

	"github.com/klauspost/compress/gzip"
)

// Sentinel errors for decoding uploads.
var (
	ErrMalformedPayload = errors.New("malformed payload")
	ErrVolumeTooLarge   = errors.New("volume too large")
)

// Metadata accompanies a raw volume upload.
// Dimensions are listed fastest axis first, the reverse of storage order.
type Metadata struct {
	Dimensions []int     `json:"dimensions"`
	Spacing    []float64 `json:"spacing,omitempty"`
	Origin     []float64 `json:"origin,omitempty"`
	Direction  []float64 `json:"direction,omitempty"`
}

// ParseMetadata decodes the JSON metadata form field.
func ParseMetadata(raw string) (Metadata, error) {
	var m Metadata
	if err := json.Unmarshal([]byte(raw), &m); err != nil {
		return Metadata{}, fmt.Errorf("%w: parse metadata: %v", ErrMalformedPayload, err)
	}
	if len(m.Dimensions) == 0 {
		return Metadata{}, fmt.Errorf("%w: metadata has no dimensions", ErrMalformedPayload)
	}
	return m, nil
}

// Geometry builds the grid described by the metadata, filling defaults for
// the optional spacing, origin and direction.
func (m Metadata) Geometry() (Geometry, error) {
	g := NewGeometry(m.Dimensions...)
	if len(m.Spacing) > 0 {
		g.Spacing = append([]float64(nil), m.Spacing...)
	}
	if len(m.Origin) > 0 {
		g.Origin = append([]float64(nil), m.Origin...)
	}
	if len(m.Direction) > 0 {
		g.Direction = append([]float64(nil), m.Direction...)
	}
	if err := g.Validate(); err != nil {
		return Geometry{}, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	return g, nil
}

// DecodeRaw reads a gzip-compressed little-endian float32 voxel buffer and
// shapes it according to meta. Metadata describing more than maxVoxels voxels
// is rejected before any decompression; maxVoxels <= 0 leaves only the
// MaxVoxels bound.
func DecodeRaw(r io.Reader, meta Metadata, maxVoxels int) (*Volume, error) {
	g, err := meta.Geometry()
	if err != nil {
		return nil, err
	}
	if maxVoxels > 0 && g.NumVoxels() > maxVoxels {
		return nil, fmt.Errorf("%w: dimensions %v hold %d voxels, limit is %d",
			ErrVolumeTooLarge, meta.Dimensions, g.NumVoxels(), maxVoxels)
	}

	zr, err := gzip.NewReader(r)
	if err != nil {
		return nil, fmt.Errorf("%w: open gzip stream: %v", ErrMalformedPayload, err)
	}
	defer func() { _ = zr.Close() }()

	want := int64(g.NumVoxels()) * 4
	raw, err := io.ReadAll(io.LimitReader(zr, want+1))
	if err != nil {
		return nil, fmt.Errorf("%w: decompress: %v", ErrMalformedPayload, err)
	}
	if int64(len(raw)) != want {
		return nil, fmt.Errorf("%w: got %d bytes for dimensions %v, want %d",
			ErrMalformedPayload, len(raw), meta.Dimensions, want)
	}

	voxels := make([]float32, g.NumVoxels())
	for i := range voxels {
		voxels[i] = math.Float32frombits(binary.LittleEndian.Uint32(raw[i*4:]))
	}

	return &Volume{Geometry: g, Voxels: voxels}, nil
}

// EncodeRaw is the inverse of DecodeRaw. It returns the compressed payload
// and the matching metadata.
func EncodeRaw(v *Volume) ([]byte, Metadata, error) {
	raw := make([]byte, len(v.Voxels)*4)
	for i, x := range v.Voxels {
		binary.LittleEndian.PutUint32(raw[i*4:], math.Float32bits(x))
	}

	compressed, err := compress(raw)
	if err != nil {
		return nil, Metadata{}, err
	}

	meta := Metadata{
		Dimensions: append([]int(nil), v.Size...),
		Spacing:    append([]float64(nil), v.Spacing...),
		Origin:     append([]float64(nil), v.Origin...),
		Direction:  append([]float64(nil), v.Direction...),
	}
	return compressed, meta, nil
}

// EncodeMask serializes a mask as one byte per voxel (1 for foreground,
// 0 otherwise), gzip-compressed and base64-encoded.
func EncodeMask(m *Mask) (string, error) {
	raw := make([]byte, len(m.Voxels))
	for i, v := range m.Voxels {
		if v > 0 {
			raw[i] = 1
		}
	}

	compressed, err := compress(raw)
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(compressed), nil
}

// DecodeMaskBytes reverses EncodeMask and returns the raw voxel bytes.
func DecodeMaskBytes(payload string) ([]byte, error) {
	compressed, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return nil, fmt.Errorf("%w: base64: %v", ErrMalformedPayload, err)
	}

	zr, err := gzip.NewReader(bytes.NewReader(compressed))
	if err != nil {
		return nil, fmt.Errorf("%w: open gzip stream: %v", ErrMalformedPayload, err)
	}
	defer func() { _ = zr.Close() }()

	raw, err := io.ReadAll(zr)
	if err != nil {
		return nil, fmt.Errorf("%w: decompress: %v", ErrMalformedPayload, err)
	}
	return raw, nil
}

// DecodeMask reverses EncodeMask onto the given grid.
func DecodeMask(payload string, g Geometry) (*Mask, error) {
	raw, err := DecodeMaskBytes(payload)
	if err != nil {
		return nil, err
	}
	if len(raw) != g.NumVoxels() {
		return nil, fmt.Errorf("%w: got %d voxels, want %d", ErrMalformedPayload, len(raw), g.NumVoxels())
	}
	return &Mask{Geometry: g.Clone(), Voxels: raw}, nil
}

func compress(raw []byte) ([]byte, error) {
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	if _, err := zw.Write(raw); err != nil {
		return nil, fmt.Errorf("compress: %w", err)
	}
	if err := zw.Close(); err != nil {
		return nil, fmt.Errorf("compress: %w", err)
	}
	return buf.Bytes(), nil
}
