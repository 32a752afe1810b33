package doctor

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hay-kot/snapdls/internal/engine/regiongrow"
)

func writeModel(t *testing.T, dir, body string) {
	t.Helper()
	path := filepath.Join(dir, "nested", "model.yaml")
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
}

func newLoader(dir, device string) *regiongrow.Loader {
	return &regiongrow.Loader{ModelsPath: dir, Glob: regiongrow.DefaultGlob, Device: device, Log: zerolog.Nop()}
}

func TestModelCheck_Healthy(t *testing.T) {
	dir := t.TempDir()
	writeModel(t, dir, "name: liver\ntolerance: 1.5\n")

	result := NewModelCheck(newLoader(dir, "cpu")).Run(context.Background())

	assert.Equal(t, "Model", result.Name)
	require.Len(t, result.Items, 3)
	for _, item := range result.Items {
		assert.Equal(t, StatusPass, item.Status, item.Label)
	}
	assert.Contains(t, result.Items[1].Detail, "liver")
	assert.Equal(t, "Engine on cpu", result.Items[2].Label)
}

func TestModelCheck_MissingDefinition(t *testing.T) {
	result := NewModelCheck(newLoader(t.TempDir(), "cpu")).Run(context.Background())

	require.Len(t, result.Items, 1)
	assert.Equal(t, StatusFail, result.Items[0].Status)
	assert.Contains(t, result.Items[0].Detail, "model not found")
}

func TestModelCheck_InvalidParameters(t *testing.T) {
	dir := t.TempDir()
	writeModel(t, dir, "connectivity: 7\n")

	result := NewModelCheck(newLoader(dir, "cpu")).Run(context.Background())

	require.Len(t, result.Items, 2)
	assert.Equal(t, StatusFail, result.Items[1].Status)
	assert.Contains(t, result.Items[1].Detail, "connectivity")
}

func TestModelCheck_UnsupportedDevice(t *testing.T) {
	dir := t.TempDir()
	writeModel(t, dir, "name: liver\n")

	result := NewModelCheck(newLoader(dir, "cuda")).Run(context.Background())

	require.Len(t, result.Items, 3)
	assert.Equal(t, StatusFail, result.Items[2].Status)
	assert.Equal(t, "Engine on cuda", result.Items[2].Label)
	assert.Contains(t, result.Items[2].Detail, "device unavailable")
}
