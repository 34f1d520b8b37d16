/*
Package config loads and validates Corral's runtime configuration.

Configuration merges three sources with increasing priority: built-in
defaults, an optional YAML file (corral.yaml), and CORRAL_-prefixed
environment variables. A local .env file is honored for development.

# Core Components

Config:
  - One struct per component: log, store, queue, runtime, session,
    worker, health, logs, usage, metrics, manifest
  - mapstructure tags bind YAML keys, validate tags gate values
  - Durations accept Go syntax ("30s", "10m", "24h")

Loading:
  - LoadConfig(path): explicit file, or search ".", "./configs",
    "/etc/corral" when path is empty
  - MustLoadConfig(path): panics on error, for main()
  - DATABASE_URL overrides store.dsn without the CORRAL_ prefix

Live reload:
  - WatchConfig(path, onChange) re-reads the file on change
  - Invalid updates are logged and skipped; the last good
    configuration stays in effect
  - Consumers apply tunable knobs (health cadence, idle eviction)
    without a restart

# Usage

	cfg := config.MustLoadConfig(configPath)

	log.Init(log.Config{
		Level:      log.Level(cfg.Log.Level),
		JSONOutput: cfg.Log.JSON,
	})

	err := config.WatchConfig(configPath, func(next *config.Config) {
		monitor.UpdateConfig(next.Health)
		sessions.UpdateConfig(next.Session)
	})

Environment overrides:

	CORRAL_LOG_LEVEL=debug
	CORRAL_QUEUE_MAX_ATTEMPTS=5
	CORRAL_SESSION_IDLE_TIMEOUT=10m
	DATABASE_URL=postgres://corral@db/corral
*/
package config
