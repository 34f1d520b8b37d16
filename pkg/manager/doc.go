/*
Package manager assembles and owns the container fleet: store, queue,
event bus, runtime client, registry, session manager, health monitor,
worker pool, log collector, usage accountant, and the lifecycle
coordinator that sequences them.

External collaborators (API layers, bots, UIs) hold a single *Manager
and use its typed methods plus the event bus; no component is reached
around it.

# Startup and Shutdown

	Start(ctx)
	  1. migrate the relational store
	  2. load the fleet manifest (when configured)
	  3. queue sweepers (visibility, retention)
	  4. session idle evictor
	  5. log collector (attaches running containers)
	  6. usage janitor
	  7. InitExisting: adopt containers already running
	  8. runtime event watcher

	Shutdown() runs the reverse: watcher, sampler, janitor, collector,
	workers, monitors, sessions, queue, bus, runtime, and the store
	last so late writers still land.

# Runtime Event Watcher

The watcher subscribes to container start/stop/die notifications and
routes them through the lifecycle coordinator: start marks the record
running and fans out OnStart; stop and die mark it stopped and fan out
OnStop. Handles the registry does not know belong to other tenants and
are ignored. A failed stream is re-subscribed after five seconds.

# API Surface

	EnqueueInstruction  append work to a container's queue
	CancelJob           remove a waiting or delayed job
	RetryJob            re-enqueue a failed job, attempts reset
	QueueStats          per-container queue counters
	JobHistory          recent terminal jobs
	DeadLetters         paginated dead letter set
	Sessions            live session snapshots
	HealthStates        monitored container snapshots
	UsageSummary        token and cost aggregates
	LogStats            collector counters
	UpdateResources     apply new container limits
	DeleteContainer     retire a container and purge its queue
	StartMonitor        resume monitoring after recovery exhaustion
	UpdateHealthConfig  live probe knob reload
	Events              the bus, for subscribers

# Usage

	mgr, err := manager.NewManager(cfg)
	if err != nil {
	    return err
	}
	if err := mgr.Start(ctx); err != nil {
	    return err
	}
	defer mgr.Shutdown()

	jobID, waiting, err := mgr.EnqueueInstruction(containerID,
	    "run the tests", types.ModeInteractive)
*/
package manager
