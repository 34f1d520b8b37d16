/*
Package logstream collects container output continuously, splits the
runtime's multiplexed byte stream into lines, classifies each line, and
batch-persists the result for later inspection.

# Architecture

	┌─────────────────────────────────────────────────────────┐
	│                       Collector                         │
	│                                                         │
	│  attachment (one per container)                         │
	│  ┌─────────┐   ┌─────────┐   ┌──────────┐   ┌────────┐  │
	│  │ runtime │──▶│ Decoder │──▶│ classify │──▶│ buffer │  │
	│  │ stream  │   │ (frames)│   │ (levels) │   │        │  │
	│  └─────────┘   └─────────┘   └──────────┘   └───┬────┘  │
	│       ▲                                         │       │
	│  reconnect loop                          batch insert   │
	│  (5s, give up                                   │       │
	│   after 3)                                      ▼       │
	│                                          container_logs │
	└─────────────────────────────────────────────────────────┘

# Core Components

  - Decoder: incremental parser for the 8-byte-header multiplexed frame
    format (stream type, reserved bytes, big-endian payload length).
    Tolerates frames split across reads and rejects corrupt headers.
  - Collector: owns one attachment per running container, follows
    runtime start/stop/die events to keep the set aligned, and runs the
    flush, retention, and rate-sampling loops.
  - classifyLine: maps each line to error, warning, build, runtime, or
    info. Rules apply in that order and the first match wins; stderr
    lines are never classified below error.

# Line Handling

Frame payloads are joined per stream and split on newlines, so a line
that straddles frames is reassembled before classification. A leading
RFC3339 timestamp is stripped and becomes the entry's recorded time;
lines without one use arrival time. ANSI escapes and control characters
are removed before storage. Entries older than the retention window are
deleted hourly.

Inserts that fail keep entries buffered up to ten batches; beyond that
the oldest are dropped and counted, so a database outage cannot grow
memory without bound.

# Usage

	collector := logstream.NewCollector(rt, db, registry, cfg.Logs)
	if err := collector.Start(); err != nil {
	    return err
	}
	defer collector.Stop()

	stats := collector.Stats() // attached count, entries/sec, drops

# Integration Points

  - pkg/runtime: AttachLogs supplies the multiplexed stream; Events
    drives attach and detach.
  - pkg/registry: resolves runtime IDs from event notifications to
    container records.
  - pkg/store: LogEntryModel rows via batch insert.
  - pkg/metrics: attachment gauge, per-level entry counters, drop and
    reconnect counters.

# See Also

  - pkg/runtime: stream and event sources
  - pkg/lifecycle: attaches and detaches around container transitions
*/
package logstream
