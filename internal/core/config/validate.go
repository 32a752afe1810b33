package config

import (
	"errors"
	"fmt"
	"os"
	"slices"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/hay-kot/criterio"

	"github.com/hay-kot/snapdls/internal/core/volume"
)

// Devices lists the accepted values of the device key.
var Devices = []string{"cpu", "cuda", "mps"}

// ValidationWarning represents a non-fatal configuration issue.
type ValidationWarning struct {
	Category string `json:"category"`
	Item     string `json:"item,omitempty"`
	Message  string `json:"message"`
}

// Validate checks that the configuration is usable. Errors are returned as
// criterio.FieldErrors.
func (c *Config) Validate() error {
	var errs criterio.FieldErrorsBuilder

	if c.Server.Host == "" {
		errs = errs.Append("server.host", fmt.Errorf("cannot be empty"))
	}
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		errs = errs.Append("server.port", fmt.Errorf("must be between 0 and 65535, got %d", c.Server.Port))
	}
	if c.Server.ReadTimeout < 0 {
		errs = errs.Append("server.read_timeout", fmt.Errorf("cannot be negative"))
	}
	if c.Server.WriteTimeout < 0 {
		errs = errs.Append("server.write_timeout", fmt.Errorf("cannot be negative"))
	}
	if c.Server.ShutdownTimeout < 0 {
		errs = errs.Append("server.shutdown_timeout", fmt.Errorf("cannot be negative"))
	}
	if c.Server.MaxUploadBytes < 0 {
		errs = errs.Append("server.max_upload_bytes", fmt.Errorf("cannot be negative"))
	}
	if c.Server.MaxVoxels < 0 {
		errs = errs.Append("server.max_voxels", fmt.Errorf("cannot be negative"))
	} else if c.Server.MaxVoxels > volume.MaxVoxels {
		errs = errs.Append("server.max_voxels", fmt.Errorf("cannot exceed %d", volume.MaxVoxels))
	}

	if !slices.Contains(Devices, c.Device) {
		errs = errs.Append("device", fmt.Errorf("must be one of %s, got %q", strings.Join(Devices, ", "), c.Device))
	}
	if !doublestar.ValidatePattern(c.ModelGlob) {
		errs = errs.Append("model_glob", fmt.Errorf("invalid glob pattern %q", c.ModelGlob))
	}

	if c.Warmup.Timeout < 0 {
		errs = errs.Append("warmup.timeout", fmt.Errorf("cannot be negative"))
	}
	if c.Session.IdleTimeout < 0 {
		errs = errs.Append("session.idle_timeout", fmt.Errorf("cannot be negative"))
	}
	if c.Session.PruneInterval <= 0 {
		errs = errs.Append("session.prune_interval", fmt.Errorf("must be positive"))
	}

	return errs.ToError()
}

// ValidateDeep runs Validate and also checks the file system: the config
// file, when given, must be a file and models_path must be a directory.
func (c *Config) ValidateDeep(configPath string) error {
	var errs criterio.FieldErrorsBuilder

	if err := c.Validate(); err != nil {
		var fieldErrs criterio.FieldErrors
		if !errors.As(err, &fieldErrs) {
			return err
		}
		for _, fe := range fieldErrs {
			errs = errs.Append(fe.Field, fe.Err)
		}
	}

	if configPath != "" {
		if info, err := os.Stat(configPath); err == nil && info.IsDir() {
			errs = errs.Append("config", fmt.Errorf("%s is a directory, not a file", configPath))
		} else if err != nil && !os.IsNotExist(err) {
			errs = errs.Append("config", fmt.Errorf("cannot access %s: %w", configPath, err))
		}
	}

	if c.ModelsPath == "" {
		errs = errs.Append("models_path", fmt.Errorf("cannot be empty"))
	} else if info, err := os.Stat(c.ModelsPath); err != nil {
		errs = errs.Append("models_path", fmt.Errorf("cannot access %s: %w", c.ModelsPath, err))
	} else if !info.IsDir() {
		errs = errs.Append("models_path", fmt.Errorf("%s is not a directory", c.ModelsPath))
	}

	return errs.ToError()
}

// Warnings returns non-fatal issues with the configuration.
func (c *Config) Warnings() []ValidationWarning {
	var warnings []ValidationWarning

	if c.Device != "" && c.Device != "cpu" {
		warnings = append(warnings, ValidationWarning{
			Category: "Engine",
			Item:     "device",
			Message:  fmt.Sprintf("the built-in engine runs on cpu only; warm-ups on %q will fail", c.Device),
		})
	}
	if c.Server.WriteTimeout > 0 && c.Server.WriteTimeout < c.Warmup.Timeout {
		warnings = append(warnings, ValidationWarning{
			Category: "Server",
			Item:     "write_timeout",
			Message:  "write_timeout is shorter than warmup.timeout; start_session may time out while a model loads",
		})
	}
	if c.Session.IdleTimeout == 0 {
		warnings = append(warnings, ValidationWarning{
			Category: "Sessions",
			Item:     "idle_timeout",
			Message:  "idle sessions are never pruned; abandoned sessions hold memory until restart",
		})
	}

	return warnings
}
