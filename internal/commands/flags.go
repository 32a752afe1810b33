package commands

import (
	"os"
	"path/filepath"

	"github.com/hay-kot/snapdls/internal/core/config"
)

type Flags struct {
	LogLevel   string
	LogFile    string
	ConfigPath string

	// Config is loaded in the Before hook and available to all commands
	Config *config.Config
}

// DefaultConfigPath returns the default config file path using XDG_CONFIG_HOME.
func DefaultConfigPath() string {
	configHome := os.Getenv("XDG_CONFIG_HOME")
	if configHome == "" {
		home, _ := os.UserHomeDir()
		configHome = filepath.Join(home, ".config")
	}
	return filepath.Join(configHome, "snapdls", "config.yaml")
}

// DefaultServerURL is where status and sessions look for a running server.
const DefaultServerURL = "http://127.0.0.1:8911"
