package doctor

import (
	"context"
	"fmt"
	"time"

	"github.com/hay-kot/snapdls/internal/engine/regiongrow"
)

// ModelCheck locates the model definition and builds one engine from it,
// the same way a warm-up does.
type ModelCheck struct {
	loader *regiongrow.Loader
}

// NewModelCheck creates a check for the models folder behind loader.
func NewModelCheck(loader *regiongrow.Loader) *ModelCheck {
	return &ModelCheck{loader: loader}
}

func (c *ModelCheck) Name() string {
	return "Model"
}

func (c *ModelCheck) Run(ctx context.Context) Result {
	result := Result{Name: c.Name()}

	path, err := c.loader.Find()
	if err != nil {
		result.Items = append(result.Items, CheckItem{
			Label:  "Model definition",
			Status: StatusFail,
			Detail: err.Error(),
		})
		return result
	}
	result.Items = append(result.Items, CheckItem{
		Label:  "Model definition",
		Status: StatusPass,
		Detail: path,
	})

	m, err := regiongrow.ReadModel(path)
	if err != nil {
		result.Items = append(result.Items, CheckItem{
			Label:  "Model parameters",
			Status: StatusFail,
			Detail: err.Error(),
		})
		return result
	}
	result.Items = append(result.Items, CheckItem{
		Label:  "Model parameters",
		Status: StatusPass,
		Detail: fmt.Sprintf("%s (tolerance %.2g, radius %d, connectivity %d)", m.Name, m.Tolerance, m.Radius, m.Connectivity),
	})

	start := time.Now()
	eng, err := c.loader.Load(ctx)
	if err != nil {
		result.Items = append(result.Items, CheckItem{
			Label:  "Engine on " + c.loader.Device,
			Status: StatusFail,
			Detail: err.Error(),
		})
		return result
	}
	_ = eng.Close()

	result.Items = append(result.Items, CheckItem{
		Label:  "Engine on " + c.loader.Device,
		Status: StatusPass,
		Detail: fmt.Sprintf("built in %s", time.Since(start).Round(time.Millisecond)),
	})
	return result
}
