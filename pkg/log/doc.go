/*
Package log provides structured logging for Corral using zerolog.

Every component logs through a child of one process-wide zerolog
logger. Child loggers carry a component field, and the long-lived
per-container loops (queue workers, log attachments) carry a
container_id as well, so a query over the JSON stream can follow a
single sandbox across enqueue, dispatch, health recovery, and
eviction.

# Architecture

	                  log.Init(Config)
	                         │
	                         ▼
	           ┌──────────────────────────┐
	           │       root Logger        │
	           │  level gate + timestamp  │
	           └────────────┬─────────────┘
	                        │
	      ┌─────────────────┼─────────────────────┐
	      ▼                 ▼                     ▼
	WithComponent     WithComponent         ForContainer
	  ("queue")        ("session")       ("worker", "c1a2…")
	      │                 │                     │
	      └─────────────────┴─────────────────────┘
	                        │
	                        ▼
	       JSON (services) or console (development)

Init rebuilds the root logger, so it runs once in main before any
component starts. Loops hold their child logger for their whole life
instead of re-tagging every line.

# Field Conventions

Fields Corral attaches to log lines, roughly by ubiquity:

  - component: which subsystem wrote the line (every line)
  - container_id: the sandbox the line concerns
  - job_id: the queued instruction being processed
  - runtime_id: the runtime handle behind a container record
  - token: the generated identifier of the current session epoch
  - reason: why a job was rejected or a session stopped

Levels follow zerolog: debug for per-poll chatter, info for state
transitions, warn for retried or degraded paths, error for failures an
operator should see.

# Usage

Initialize once in main, before any component starts:

	log.Init(log.Config{
		Level:      log.InfoLevel,
		JSONOutput: true,
	})

Console output when a human is watching:

	log.Init(log.Config{
		Level:      log.DebugLevel,
		JSONOutput: false,
	})

Component loggers:

	qlog := log.WithComponent("queue")
	qlog.Warn().Str("job_id", job.ID).Msg("Job dead lettered")

Per-container loops hold a ForContainer logger:

	wlog := log.ForContainer("worker", containerID)
	wlog.Debug().Str("job_id", jobID).Msg("Claimed job")
	wlog.Error().Err(err).Msg("Dispatch failed")

# Output

JSON, one object per line:

	{"level":"info","component":"worker","container_id":"c1a2b3","job_id":"7d0f2a41","time":"2026-08-25T10:30:00Z","message":"Instruction completed"}

Console:

	10:30AM INF Instruction completed component=worker container_id=c1a2b3

# Integration Points

This package integrates with:

  - pkg/manager: Logs orchestrator lifecycle and component wiring
  - pkg/session: Logs session starts, dispatches, and eviction
  - pkg/worker: Logs job claims, stage transitions, and retries
  - pkg/health: Logs probe results and recovery attempts
  - pkg/logstream: Logs attach/reconnect cycles and retention sweeps
  - pkg/queue: Logs enqueue rejections and dead-letter moves

# Conventions

Do:
  - Derive a child logger per component, or per container for loops
  - Put identifiers in typed fields, not in the message text
  - Attach errors with .Err(err)

Don't:
  - Log instruction bodies or captured agent output
  - Leave debug level on in production fleets
  - Log inside per-record hot paths without sampling

# See Also

  - Zerolog documentation: https://github.com/rs/zerolog
  - 12-Factor App Logs: https://12factor.net/logs
*/
package log
