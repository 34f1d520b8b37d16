/*
Package lifecycle sequences per-container components across container
transitions.

The coordinator is the single place where a container transition fans
out to the session manager, health monitor, worker pool, log collector,
and queue. The components never call each other across a transition;
they only learn about starts and stops from here.

# Transitions

	OnStart (container began running)
	  1. session EnsureStarted     assistant daemon comes up
	  2. health Watch              probe loop begins
	  3. workers Ensure            claim loop begins
	  4. logs Attach               output collection begins
	  5. queue Resume              claims allowed again

	OnStop (container stopping)
	  1. queue Pause               no new claims
	  2. drain active job          bounded wait, hard cap
	  3. health Unwatch
	  4. session Stop
	  5. workers Stop
	  6. logs Detach

	OnDelete = OnStop + session Forget + queue Destroy
	(session record dropped, all job records removed)

A failed start step is published as lifecycle:error and logged, then
the sequence continues; the health monitor picks up a session that
refused to start. The stop drain is bounded by the configured timeout
(default 30 s, 1 s poll). A job still active when the bound elapses is
abandoned; the queue's visibility sweep re-delivers it after the next
start.

# Startup Adoption

InitExisting applies OnStart to every registry record whose last-known
status is running, so containers that outlived a process restart get
their sessions, monitors, workers, and log attachments back without an
operator touch.

# Usage

	coord := lifecycle.NewCoordinator(sessions, monitor, pool,
		collector, store, registry, broker, cfg.Lifecycle)

	coord.OnStart(ctx, containerID, runtimeID)
	// ... container runs ...
	coord.OnStop(ctx, containerID)

# Integration Points

  - pkg/session, pkg/health, pkg/worker, pkg/logstream, pkg/queue:
    driven through narrow per-concern interfaces
  - pkg/registry: RunningContainers feeds startup adoption
  - pkg/events: lifecycle:error announcements
  - pkg/manager: owns the coordinator and routes runtime events to it
*/
package lifecycle
