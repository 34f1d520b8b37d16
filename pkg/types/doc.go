/*
Package types defines the core data structures used throughout Corral.

This package contains the fundamental types of Corral's domain model:
container records, assistant sessions, instruction jobs, health states,
log entries, and usage aggregates. Every other package builds on these
types for state management and cross-component communication.

# Core Types

Container fleet:
  - ContainerRecord: Externally owned container record (read by the core)
  - ContainerStatus: Creating, running, stopped, error, deleted
  - Mode: Interactive or autonomous (drives queue priority)

Sessions:
  - Session: Per-container assistant session snapshot
  - SessionStatus: Starting, running, processing, stopping, stopped, error
  - DispatchResult: Captured stdout/stderr/exit of one instruction

Instruction pipeline:
  - JobPayload: Enqueue request (container id, instruction, mode, priority)
  - Job: Durable queue record with attempts, progress, and result
  - Progress: Percent, stage, message for observers
  - DeadLetter: Immutable copy of a job that exhausted retries
  - QueueStats: Per-container waiting/active/completed/failed/delayed counts

Observability:
  - HealthState: Probe outcome, consecutive failures, recovery flag
  - LogEntry: Sanitized, classified container log line
  - UsageSummary: Token/cost aggregates over 24h, 7d, and the current
    5-hour session bucket

# Error Model

Failures cross component boundaries as *Fault values tagged with a
FaultKind (validation, transient, gone, session_not_ready, busy,
dangerous, exhausted). The kind decides policy: validation and dangerous
faults are rejected at enqueue, transient faults retry with backoff, gone
faults stop all components for the container, exhausted faults move jobs
to the dead-letter set. FaultKindOf and Retryable inspect wrapped chains
so callers never switch on error strings.

All types marshal to JSON for storage in the queue store and for event
envelopes; timestamps are time.Time values in UTC.
*/
package types
