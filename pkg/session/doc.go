/*
Package session manages the assistant session lifecycle for every
container: start and stop, one-at-a-time instruction dispatch, stream
parsing, and idle eviction.

# State Machine

	STARTING ──▶ RUNNING ⇄ PROCESSING
	                │
	                ▼
	            STOPPING ──▶ STOPPED

	any state ──▶ ERROR (until restarted)

A session enters PROCESSING for the duration of one dispatch and
returns to RUNNING when it finishes. ERROR is set when the container
is gone or failed verification; EnsureStarted out of ERROR mints a new
session.

# Core Components

  - Manager: owns the session map. Starts are deduplicated per
    container, so concurrent EnsureStarted callers share one attempt
    and one token.
  - Dispatch: execs the assistant inside the container with the
    instruction as a single stdin envelope, captures stdout and stderr
    up to a per-channel cap, and publishes one activity event per
    parsed stream record.
  - Idle evictor: every minute, stops sessions inactive past the idle
    timeout. A dispatch in flight is never interrupted.

# Dispatch Flow

The assistant command line carries the configured session flags plus
--session-id <token> on the first dispatch and --resume <token> after
that. Stdout is newline-delimited JSON; each line is probed for its
type (assistant, user, tool_use, tool_result, result, error; anything
else maps to system) and forwarded on the event bus with the raw
record attached.

After a zero-exit child whose output shows subagent spawns, Dispatch
holds completion until no assistant processes remain in the container,
polling the process table and emitting progress with the outstanding
count, up to a bounded wait.

# Usage

	mgr := session.NewManager(rt, broker, cfg.Session)
	mgr.Start()
	defer mgr.Close()

	snap, err := mgr.EnsureStarted(ctx, containerID, runtimeID)
	res, err := mgr.Dispatch(ctx, containerID, "run the tests")

# Integration Points

  - pkg/runtime: Inspect verifies the container, Exec spawns the
    assistant, ListProcesses backs the background-agent wait.
  - pkg/events: session lifecycle, stream activity, and agent-wait
    progress events.
  - pkg/worker: the instruction pipeline drives EnsureStarted and
    Dispatch; pkg/health probes Status and restarts through
    EnsureStarted.
*/
package session
