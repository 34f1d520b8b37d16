/*
Package worker runs queued instructions against assistant sessions.

The pool keeps exactly one worker goroutine per managed container.
Each worker claims jobs from the container's queue partition, drives
the assistant session through the instruction, and settles the job as
completed, retried, or dead lettered. The queue's single active job
per container guarantees serial execution even if two workers briefly
overlap during a replace.

# Architecture

	┌───────────────────────── POOL ─────────────────────────┐
	│  Ensure / Stop / StopAll          one Worker per        │
	│                                   container             │
	└──────┬──────────────────────────────────────────────────┘
	       │
	┌──────▼──────────────── WORKER ─────────────────────────┐
	│  claim loop (poll interval, token bucket)               │
	│     │                                                   │
	│     ▼                                                   │
	│  process(job)                                           │
	│     ├── heartbeat goroutine (visibility extension)      │
	│     ├── stage machine ──► session.Dispatch              │
	│     └── settle: Finalize / Fail / FailTerminal          │
	└──────┬──────────────────────────┬───────────────────────┘
	       │                          │
	┌──────▼──────┐            ┌──────▼──────┐
	│ queue.Store │            │ session     │
	│ (bbolt)     │            │ .Manager    │
	└─────────────┘            └─────────────┘

# Stage Machine

Every job moves through fixed stages, each persisted to the queue and
mirrored on the event bus as instruction:progress:

	validating            5 → 10   re-screen the stored instruction
	checking_daemon      15        session status lookup
	starting_daemon      20 → 30   start and poll until running
	sending_instruction  35 → 40   hand off to the session
	processing           45 → 55   assistant working, barrier waits
	finalizing           80 → 95   exit code check, usage recording
	completed           100        result persisted

The starting_daemon stage is skipped when the session is already
running. While processing, barrier waits published by the session
(no job ID, agent count set) are re-published with the job ID so a
subscriber following one job sees the whole story.

# Failure Handling

A failed stage produces a fault. Retryable faults settle through
queue.Fail, which delays the job with exponential backoff, or dead
letters it once attempts reach the cap. Validation, dangerous, gone,
and exhausted faults are terminal and settle through
queue.FailTerminal, skipping remaining retries. The worker publishes
instruction:failed only when another attempt is coming; dead letter
announcements come from the queue itself.

# Claim Pacing

Claims are paced by a token bucket (rate_limit per rate_window) on top
of the poll interval. The bucket reservation is returned when a poll
finds nothing to claim, so an idle container never exhausts its own
budget. Deferred claims are counted and the overflow simply stays
queued.

# Usage

	pool := worker.NewPool(store, sessions, accountant, broker,
		cfg.Worker, cfg.Session)

	pool.Ensure(containerID, runtimeID)

	// container went away
	pool.Stop(containerID)

	// shutdown
	pool.StopAll()

Stop waits for the claim loop to exit. An in-flight dispatch is
aborted through the worker context, which releases the session's
process wait.

# Integration Points

  - pkg/queue: claim, heartbeat, progress, and settlement
  - pkg/session: daemon startup and instruction dispatch
  - pkg/security: instruction re-screening before dispatch
  - pkg/usage: token and cost extraction from assistant output
  - pkg/events: progress, completion, and failure announcements
  - pkg/lifecycle: ensures and stops workers as containers come and go
*/
package worker
