/*
Package usage accounts assistant token and cost consumption per
container.

Dispatch stdout is scanned for result records; their input tokens,
output tokens, and dollar cost (stored as integer micros) are summed
into one row keyed by the job and the container's session bucket, a
5-hour wall-clock-aligned window. The (job, bucket) pair is unique, so
replaying the same output never double-counts.

Summary serves three aggregates per container: the last 24 hours, the
last 7 days, and the current session bucket with its end timestamp so
clients can show when the window rolls over. A daily janitor deletes
records older than 30 days.

# Usage

	acct := usage.NewAccountant(db, cfg.Usage)
	acct.Start()
	defer acct.Stop()

	wrote, err := acct.Record(containerID, jobID, result.Stdout)
	summary, err := acct.Summary(containerID)

# Integration Points

  - pkg/worker: records usage while finalizing each instruction.
  - pkg/store: UsageRecordModel rows.
  - pkg/metrics: token and cost counters.
*/
package usage
