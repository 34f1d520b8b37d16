/*
Package runtime is the narrow container runtime surface used by the core.

Everything the orchestrator needs from the engine fits in one
interface: inspect, exec with attached pipes, the multiplexed log
stream, the lifecycle event stream, process listing, resource updates,
and a reachability ping. Higher layers never import the engine SDK
directly.

# Error Classification

Every call classifies its failure. A missing container surfaces as a
gone fault, which is authoritative: callers stop all work on that
handle. Anything else is transient and safe to retry. Use IsGone for
the authoritative check.

# Exec Semantics

Exec attaches before start, writes the caller's stdin bytes, and
closes the write side so the child sees EOF. The multiplexed exec
stream is split into stdout and stderr pipes; stream end means the
process exited and Wait resolves the exit code from exec inspect.
The engine cannot signal an exec'd process, so cancellation falls back
to pkill by command name inside the container.

# Usage

	rt, err := runtime.NewDockerRuntime(cfg.Runtime)
	if err != nil {
	    return err
	}
	defer rt.Close()

	state, err := rt.Inspect(ctx, handle)
	if runtime.IsGone(err) {
	    // container was removed; drop the handle
	}

	proc, err := rt.Exec(ctx, handle, runtime.ExecSpec{
	    Argv:       []string{"assistant", "--print"},
	    WorkingDir: "/workspace",
	    Stdin:      envelope,
	})

# Integration Points

  - pkg/session: execs the assistant and polls ListProcesses
  - pkg/logstream: consumes AttachLogs and Events
  - pkg/health: uses Inspect during recovery
  - pkg/manager: watches Events to drive lifecycle transitions
*/
package runtime
