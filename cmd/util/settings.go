package util

import (
	"sync"

	"github.com/pgschema/pgmatview/internal/config"
	"github.com/pgschema/pgmatview/internal/logger"
)

var (
	settingsMu sync.RWMutex
	settings   *config.Config
)

// LoadSettings loads pgmatview.yaml (or explicitPath) and keeps it for the commands
func LoadSettings(explicitPath string) error {
	cfg, path, err := config.LoadConfig(explicitPath)
	if err != nil {
		return err
	}
	if path != "" {
		logger.Get().Debug("Loaded config file", "path", path)
	}

	settingsMu.Lock()
	defer settingsMu.Unlock()
	settings = cfg
	return nil
}

// Settings returns the loaded configuration, or the defaults when LoadSettings was
// never called
func Settings() *config.Config {
	settingsMu.RLock()
	cfg := settings
	settingsMu.RUnlock()
	if cfg != nil {
		return cfg
	}

	cfg, _, err := config.LoadConfig("")
	if err != nil {
		return &config.Config{}
	}
	return cfg
}
