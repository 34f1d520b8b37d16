/*
Package events provides the typed in-process publish/subscribe bus for Corral.

The events package fans component events (instruction progress, session state
changes, health transitions, background agent activity) out to subscribers
keyed by container and kind. Components never call each other for
notifications; they publish here and stay decoupled.

# Architecture

	┌────────────────────── EVENT BUS ──────────────────────────┐
	│                                                             │
	│  Publishers                       Subscribers               │
	│  ┌──────────┐                    ┌───────────────────┐    │
	│  │ worker   │──┐             ┌──▶│ sub: ("c1", *)     │    │
	│  │ session  │──┤  ┌────────┐ │   │ chan *Event (1024) │    │
	│  │ health   │──┼─▶│ Broker │─┤   └───────────────────┘    │
	│  │ queue    │──┤  │ run()  │ │   ┌───────────────────┐    │
	│  │ manager  │──┘  └────────┘ └──▶│ sub: ("", kinds)   │    │
	│  └──────────┘                    └───────────────────┘    │
	│                                                             │
	│  Delivery: at-least-once, publication order preserved       │
	│  per (container_id, kind). Full buffers evict the oldest    │
	│  event and count the drop.                                  │
	└─────────────────────────────────────────────────────────┘

# Core Components

Event:
  - Envelope with ContainerID, Kind, Timestamp, JobID
  - Optional typed payloads: Progress, Result, Session, Health, AgentCount
  - JSON-serializable for external collaborators

Broker:
  - Single distribution goroutine preserves publication order
  - Subscribe filters by container (empty = all) and kinds (none = all)
  - Per-subscription buffer of 1024 events, drop-oldest on overflow
  - Drops are counted in corral_events_dropped_total

Event Kinds:
  - instruction:started|progress|completed|failed|dead_lettered|rejected
  - health:healthy|recovering|recovered|recovery_failed
  - session:started|stopped|error
  - agent:activity (background agent count changes)
  - lifecycle:error (non-fatal coordinator step failures)

# Usage

Publishing:

	broker.Publish(&events.Event{
		ContainerID: containerID,
		Kind:        events.EventInstructionProgress,
		JobID:       job.ID,
		Progress:    &progress,
	})

Subscribing:

	sub := broker.Subscribe(containerID, events.EventInstructionProgress)
	defer broker.Unsubscribe(sub)

	for ev := range sub.C {
		fmt.Printf("%s: %d%% %s\n", ev.JobID, ev.Progress.Percent, ev.Progress.Stage)
	}

# Integration Points

This package integrates with:

  - pkg/worker: Publishes stage progress and terminal outcomes
  - pkg/session: Publishes session transitions and agent activity
  - pkg/health: Publishes probe and recovery transitions
  - pkg/queue: Publishes rejection and dead-letter events
  - pkg/lifecycle: Publishes non-fatal step errors during transitions
  - pkg/manager: Exposes subscriptions to embedding processes
*/
package events
