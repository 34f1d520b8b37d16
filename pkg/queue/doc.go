/*
Package queue implements the durable per-container instruction queue.

Every instruction submitted to a container becomes a job in a BoltDB
database that survives process restarts. Each container has an
independent FIFO ordered by priority (lower value wins) and enqueue
time, with at most one active job at a time. Claimed jobs carry a
visibility deadline; a worker that stops heartbeating loses its claim
and the job returns to waiting with an extra attempt counted.

# Architecture

	                 ┌──────────────────────────────┐
	   Enqueue ────► │ pending  [prio|time|seq]→id  │ ──► Claim
	                 ├──────────────────────────────┤
	   Fail ───────► │ delayed  [ready|seq]→id      │ ──► promote on claim
	   (backoff)     ├──────────────────────────────┤
	                 │ active   container→{id,ddl}  │ ──► visibility sweep
	                 ├──────────────────────────────┤
	   Finalize ───► │ done     [finish|seq]→id     │ ──► retention sweep
	                 ├──────────────────────────────┤
	   exhausted ──► │ dead     [died|seq]→copy     │     (never trimmed)
	                 └──────────────────────────────┘

# Core Components

  - Store: BoltDB-backed queue with all job state transitions
  - Visibility sweep: reclaims expired active jobs every second
  - Retention sweep: trims terminal jobs by age and count bounds

# Job Lifecycle

Jobs move waiting → active → completed, or on failure through delayed
back to waiting with exponential backoff (base 5s, factor 2, cap 60s).
A job that fails max_attempts times is marked failed and an immutable
copy is stored in the dead letter set. Dead letters are exempt from
retention and can be re-run manually with Retry, which resets the
attempt counter.

Completed jobs are kept for one hour and at most 100 per container;
failed jobs for 24 hours and at most 200. Both bounds apply together.

# Usage

	store, err := queue.NewStore(cfg.Queue, broker)
	if err != nil {
	    return err
	}
	store.Start()
	defer store.Stop()

	jobID, waiting, err := store.Enqueue(types.JobPayload{
	    ContainerID: containerID,
	    Instruction: "run the test suite",
	    Mode:        types.ModeInteractive,
	})

	job, err := store.Claim(containerID, 30*time.Second)
	if job != nil {
	    // ... dispatch ...
	    err = store.Finalize(job.ID, result)
	}

# Integration Points

  - pkg/security: screens instructions before anything is persisted
  - pkg/worker: claims, heartbeats, and finalizes jobs
  - pkg/events: rejection and dead letter notifications
  - pkg/metrics: job counters and queue depth gauges

# See Also

  - pkg/worker for the dispatch loop that drains this queue
  - pkg/lifecycle for pause/resume during container transitions
*/
package queue
