/*
Package health watches container sessions and restarts the ones that stop
responding.

Each watched container gets its own probe loop. A probe asks the session
manager for the container's session status; the container counts as healthy
while that session is running or processing an instruction. Anything else
(stopped, errored, or no session at all) is an unhealthy probe, and the
monitor spends a bounded recovery budget trying to bring the session back
before it gives up.

# Architecture

	┌─────────────────────────────────────────────────────┐
	│                      Monitor                        │
	│  Watch / Unwatch / State / States / UpdateConfig    │
	└────────┬────────────────────────────────────────────┘
	         │ one goroutine per container
	         ▼
	┌─────────────────┐   Status()    ┌───────────────────┐
	│   probe loop    │──────────────▶│ SessionController │
	│  (interval tick)│  Stop/Ensure  │ (session.Manager) │
	└────────┬────────┘──────────────▶└───────────────────┘
	         │
	         ▼ health:* events
	┌─────────────────┐
	│  events.Broker  │
	└─────────────────┘

# Probe Flow

 1. Every interval: read session status from the session manager
 2. Running or processing → healthy, failure counter resets
 3. Anything else → unhealthy, failure counter increments
 4. Counter below the attempt budget → recover in place
 5. Counter reaches the budget → emit health:recovery_failed and stop
    monitoring the container

Recovery is stop, settle, restart, verify: the session is stopped
best-effort, the monitor waits the recovery delay, starts the session again
through the session manager, waits the verify delay, and checks that the
session came back. A successful recovery resets the failure counter and
emits health:recovered; a failed attempt leaves the counter alone so the
next probe can try again or give up.

A container dropped after an exhausted budget is not gone forever: calling
Watch again starts a fresh loop with a clean count. That is the operator
path after fixing whatever kept the session from starting.

# Events

	health:healthy          first successful probe for a container
	health:recovering       probe failed, recovery starting
	health:recovered        session came back (recovery or on its own)
	health:recovery_failed  budget exhausted, monitoring stopped

Every event carries a HealthState snapshot with the failure counter, the
last probe time, and the last error seen.

# Usage

	monitor := health.NewMonitor(sessions, broker, cfg.Health)
	monitor.Watch(containerID, runtimeID)
	defer monitor.Close()

	state := monitor.State(containerID)
	if state != nil && !state.Healthy {
		// inspect state.LastError, state.ConsecutiveFailures
	}

Probe knobs (interval, attempt budget, delays) can be swapped at runtime
with UpdateConfig; loops pick the new values up on their next cycle.

# Integration Points

  - pkg/session: probed and restarted through the SessionController seam
  - pkg/events: health transitions published on the bus
  - pkg/lifecycle: calls Watch on container start and Unwatch on stop
  - pkg/config: HealthConfig carries the probe knobs
*/
package health
