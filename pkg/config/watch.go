package config

import (
	"fmt"

	"github.com/fsnotify/fsnotify"

	"github.com/cuemby/corral/pkg/log"
)

// WatchConfig reloads the configuration whenever the config file changes
// and passes each valid result to onChange. Updates that fail to parse or
// validate are logged and skipped, keeping the last good configuration in
// effect. Requires an existing config file.
func WatchConfig(configPath string, onChange func(*Config)) error {
	v := newViper(configPath)

	if err := v.ReadInConfig(); err != nil {
		return fmt.Errorf("failed to read config file for watching: %w", err)
	}

	v.OnConfigChange(func(e fsnotify.Event) {
		logger := log.WithComponent("config")
		cfg, err := unmarshalConfig(v)
		if err != nil {
			logger.Warn().
				Err(err).
				Str("file", e.Name).
				Msg("Ignoring invalid config update")
			return
		}
		logger.Info().
			Str("file", e.Name).
			Msg("Config reloaded")
		onChange(cfg)
	})
	v.WatchConfig()

	return nil
}
