package config

import "time"

// SetDefaults sets default values for all configuration fields
func SetDefaults(cfg *Config) {
	// Log defaults
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}

	// Store defaults
	if cfg.Store.Driver == "" {
		cfg.Store.Driver = "sqlite"
	}
	if cfg.Store.DSN == "" {
		cfg.Store.DSN = "corral.db"
	}
	if cfg.Store.Pool.MaxOpen == 0 {
		cfg.Store.Pool.MaxOpen = 25
	}
	if cfg.Store.Pool.MaxIdle == 0 {
		cfg.Store.Pool.MaxIdle = 5
	}
	if cfg.Store.Pool.MaxLifetime == 0 {
		cfg.Store.Pool.MaxLifetime = 5 * time.Minute
	}

	// Queue defaults
	if cfg.Queue.Path == "" {
		cfg.Queue.Path = "corral-queue.db"
	}
	if cfg.Queue.VisibilityTimeout == 0 {
		cfg.Queue.VisibilityTimeout = 15 * time.Minute
	}
	if cfg.Queue.MaxAttempts == 0 {
		cfg.Queue.MaxAttempts = 3
	}
	if cfg.Queue.BackoffBase == 0 {
		cfg.Queue.BackoffBase = 5 * time.Second
	}
	if cfg.Queue.BackoffCap == 0 {
		cfg.Queue.BackoffCap = 60 * time.Second
	}
	if cfg.Queue.CompletedRetention == 0 {
		cfg.Queue.CompletedRetention = time.Hour
	}
	if cfg.Queue.CompletedKeep == 0 {
		cfg.Queue.CompletedKeep = 100
	}
	if cfg.Queue.FailedRetention == 0 {
		cfg.Queue.FailedRetention = 24 * time.Hour
	}
	if cfg.Queue.FailedKeep == 0 {
		cfg.Queue.FailedKeep = 200
	}
	if cfg.Queue.VisibilityInterval == 0 {
		cfg.Queue.VisibilityInterval = time.Second
	}
	if cfg.Queue.RetentionInterval == 0 {
		cfg.Queue.RetentionInterval = 5 * time.Minute
	}

	// Runtime defaults
	if cfg.Runtime.PingTimeout == 0 {
		cfg.Runtime.PingTimeout = 5 * time.Second
	}

	// Session defaults
	if cfg.Session.Command == "" {
		cfg.Session.Command = "claude"
	}
	if len(cfg.Session.Args) == 0 {
		cfg.Session.Args = []string{
			"--print",
			"--input-format", "stream-json",
			"--output-format", "stream-json",
			"--verbose",
			"--dangerously-skip-permissions",
		}
	}
	if cfg.Session.WorkingDir == "" {
		cfg.Session.WorkingDir = "/workspace"
	}
	if cfg.Session.OutputLimitBytes == 0 {
		cfg.Session.OutputLimitBytes = 16 * 1024 * 1024
	}
	if cfg.Session.StartTimeout == 0 {
		cfg.Session.StartTimeout = 10 * time.Second
	}
	if cfg.Session.PollInterval == 0 {
		cfg.Session.PollInterval = 500 * time.Millisecond
	}
	if cfg.Session.BarrierPoll == 0 {
		cfg.Session.BarrierPoll = 2 * time.Second
	}
	if cfg.Session.BarrierTimeout == 0 {
		cfg.Session.BarrierTimeout = 10 * time.Minute
	}
	if cfg.Session.IdleTimeout == 0 {
		cfg.Session.IdleTimeout = 30 * time.Minute
	}
	if cfg.Session.EvictInterval == 0 {
		cfg.Session.EvictInterval = time.Minute
	}

	// Worker defaults
	if cfg.Worker.RateLimit == 0 {
		cfg.Worker.RateLimit = 10
	}
	if cfg.Worker.RateWindow == 0 {
		cfg.Worker.RateWindow = time.Minute
	}
	if cfg.Worker.PollInterval == 0 {
		cfg.Worker.PollInterval = time.Second
	}
	if cfg.Worker.HeartbeatInterval == 0 {
		cfg.Worker.HeartbeatInterval = cfg.Queue.VisibilityTimeout / 3
	}

	// Health defaults
	if cfg.Health.Interval == 0 {
		cfg.Health.Interval = 30 * time.Second
	}
	if cfg.Health.MaxRecoveryAttempts == 0 {
		cfg.Health.MaxRecoveryAttempts = 3
	}
	if cfg.Health.RecoveryDelay == 0 {
		cfg.Health.RecoveryDelay = 5 * time.Second
	}
	if cfg.Health.VerifyDelay == 0 {
		cfg.Health.VerifyDelay = 2 * time.Second
	}

	// Log collector defaults
	if cfg.Logs.BatchSize == 0 {
		cfg.Logs.BatchSize = 100
	}
	if cfg.Logs.FlushInterval == 0 {
		cfg.Logs.FlushInterval = time.Second
	}
	if cfg.Logs.Retention == 0 {
		cfg.Logs.Retention = 24 * time.Hour
	}
	if cfg.Logs.CleanupInterval == 0 {
		cfg.Logs.CleanupInterval = time.Hour
	}
	if cfg.Logs.ReconnectDelay == 0 {
		cfg.Logs.ReconnectDelay = 5 * time.Second
	}
	if cfg.Logs.ReconnectAttempts == 0 {
		cfg.Logs.ReconnectAttempts = 3
	}
	if cfg.Logs.Lookback == 0 {
		cfg.Logs.Lookback = 24 * time.Hour
	}

	// Usage defaults
	if cfg.Usage.Retention == 0 {
		cfg.Usage.Retention = 30 * 24 * time.Hour
	}
	if cfg.Usage.CompactInterval == 0 {
		cfg.Usage.CompactInterval = 24 * time.Hour
	}

	// Metrics defaults
	if cfg.Metrics.Address == "" {
		cfg.Metrics.Address = ":9090"
	}

	// Manifest defaults
	if cfg.Manifest.CacheTTL == 0 {
		cfg.Manifest.CacheTTL = 5 * time.Second
	}

	// Lifecycle defaults
	if cfg.Lifecycle.DrainTimeout == 0 {
		cfg.Lifecycle.DrainTimeout = 30 * time.Second
	}
	if cfg.Lifecycle.DrainPoll == 0 {
		cfg.Lifecycle.DrainPoll = time.Second
	}
}
