package config

import (
	"fmt"
	"os"
)

// InitConfig writes a sample configuration file to the default
// location ($XDG_CONFIG_HOME/galaxycache/config.yaml), returning the
// path written. Refuses to overwrite an existing file unless force is
// set.
func InitConfig(force bool) (string, error) {
	return InitConfigToPath(GetDefaultConfigPath(), force)
}

// InitConfigToPath writes a sample configuration file to path,
// refusing to overwrite an existing file unless force is set.
func InitConfigToPath(path string, force bool) (string, error) {
	if !force {
		if _, err := os.Stat(path); err == nil {
			return "", fmt.Errorf("configuration file already exists at %s (use --force to overwrite)", path)
		}
	}

	cfg := GetDefaultConfig()
	if err := SaveConfig(cfg, path); err != nil {
		return "", fmt.Errorf("failed to write configuration file: %w", err)
	}
	return path, nil
}
