package types

import (
	"encoding/json"
	"time"
)

// ContainerStatus represents the current state of a container record
type ContainerStatus string

const (
	ContainerStatusCreating ContainerStatus = "creating"
	ContainerStatusRunning  ContainerStatus = "running"
	ContainerStatusStopped  ContainerStatus = "stopped"
	ContainerStatusError    ContainerStatus = "error"
	ContainerStatusDeleted  ContainerStatus = "deleted"
)

// Mode selects how instructions for a container are prioritized
type Mode string

const (
	ModeInteractive Mode = "interactive"
	ModeAutonomous  Mode = "autonomous"
)

// Priority returns the queue priority for the mode (lower wins)
func (m Mode) Priority() int {
	if m == ModeAutonomous {
		return 2
	}
	return 1
}

// ContainerRecord is the externally owned container record the core reads
type ContainerRecord struct {
	ID          string
	RuntimeID   string // opaque handle passed to the runtime adapter
	Name        string
	Status      ContainerStatus
	Mode        Mode
	MemoryBytes int64
	CPUShares   int64
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// SessionStatus represents the assistant session state machine
type SessionStatus string

const (
	SessionStarting   SessionStatus = "starting"
	SessionRunning    SessionStatus = "running"
	SessionProcessing SessionStatus = "processing"
	SessionStopping   SessionStatus = "stopping"
	SessionStopped    SessionStatus = "stopped"
	SessionError      SessionStatus = "error"
)

// Session is a snapshot of one container's assistant session
type Session struct {
	ContainerID  string        `json:"container_id"`
	RuntimeID    string        `json:"runtime_id"`
	Status       SessionStatus `json:"status"`
	Token        string        `json:"token"` // opaque; minted on first start
	Mode         Mode          `json:"mode"`
	StartedAt    time.Time     `json:"started_at"`
	LastActivity time.Time     `json:"last_activity"`
	Instructions int           `json:"instructions"`
	InFlight     bool          `json:"in_flight"`
	Reason       string        `json:"reason,omitempty"` // set when Status == error
}

// Active reports whether the session can accept or is performing work
func (s *Session) Active() bool {
	return s.Status == SessionRunning || s.Status == SessionProcessing
}

// JobStatus represents the instruction job lifecycle
type JobStatus string

const (
	JobWaiting   JobStatus = "waiting"
	JobActive    JobStatus = "active"
	JobCompleted JobStatus = "completed"
	JobFailed    JobStatus = "failed"
	JobDelayed   JobStatus = "delayed"
	JobPaused    JobStatus = "paused"
)

// Stage names for the instruction worker state machine
const (
	StageValidating         = "validating"
	StageCheckingDaemon     = "checking_daemon"
	StageStartingDaemon     = "starting_daemon"
	StageSendingInstruction = "sending_instruction"
	StageProcessing         = "processing"
	StageFinalizing         = "finalizing"
	StageCompleted          = "completed"
	StageFailed             = "failed"
)

// Progress tracks how far a job has advanced through the stage machine
type Progress struct {
	Percent   int       `json:"percent"`
	Stage     string    `json:"stage"`
	Message   string    `json:"message"`
	UpdatedAt time.Time `json:"updated_at"`
}

// JobResult captures the outcome of a completed dispatch
type JobResult struct {
	ExitCode        int    `json:"exit_code"`
	Stdout          string `json:"stdout"`
	Stderr          string `json:"stderr"`
	DurationMs      int64  `json:"duration_ms"`
	StdoutTruncated bool   `json:"stdout_truncated,omitempty"`
	StderrTruncated bool   `json:"stderr_truncated,omitempty"`
}

// JobPayload is an enqueue request
type JobPayload struct {
	ContainerID string    `json:"container_id"`
	Instruction string    `json:"instruction"`
	Mode        Mode      `json:"mode"`
	Priority    int       `json:"priority"`
	CreatedAt   time.Time `json:"created_at"`
}

// Job is a durable instruction job owned by the queue store
type Job struct {
	ID          string     `json:"id"`
	ContainerID string     `json:"container_id"`
	Instruction string     `json:"instruction"`
	Mode        Mode       `json:"mode"`
	Priority    int        `json:"priority"`
	Status      JobStatus  `json:"status"`
	Attempts    int        `json:"attempts"`
	MaxAttempts int        `json:"max_attempts"`
	Progress    Progress   `json:"progress"`
	Result      *JobResult `json:"result,omitempty"`
	FailReason  string     `json:"fail_reason,omitempty"`
	ErrorStack  []string   `json:"error_stack,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	StartedAt   time.Time  `json:"started_at"`
	FinishedAt  time.Time  `json:"finished_at"`
	ReadyAt     time.Time  `json:"ready_at"` // next attempt time while delayed
}

// Terminal reports whether the job reached a write-once final state
func (j *Job) Terminal() bool {
	return j.Status == JobCompleted || j.Status == JobFailed
}

// DeadLetter is an immutable copy of a job that exhausted its attempts
type DeadLetter struct {
	Job    Job       `json:"job"`
	DiedAt time.Time `json:"died_at"`
}

// QueueStats summarizes one container's queue
type QueueStats struct {
	Waiting   int  `json:"waiting"`
	Active    int  `json:"active"`
	Completed int  `json:"completed"`
	Failed    int  `json:"failed"`
	Delayed   int  `json:"delayed"`
	Paused    bool `json:"paused"`
}

// DispatchResult is what a session dispatch returns to the worker
type DispatchResult struct {
	ExitCode        int
	Stdout          string
	Stderr          string
	Duration        time.Duration
	StdoutTruncated bool
	StderrTruncated bool
}

// AgentRecordType classifies one line of the assistant's output stream
type AgentRecordType string

const (
	AgentRecordAssistant  AgentRecordType = "assistant"
	AgentRecordUser       AgentRecordType = "user"
	AgentRecordToolUse    AgentRecordType = "tool_use"
	AgentRecordToolResult AgentRecordType = "tool_result"
	AgentRecordResult     AgentRecordType = "result"
	AgentRecordError      AgentRecordType = "error"
	AgentRecordSystem     AgentRecordType = "system"
)

// AgentRecord is one parsed line of the assistant's JSON stream
type AgentRecord struct {
	Type AgentRecordType `json:"type"`
	Raw  json.RawMessage `json:"raw,omitempty"`
}

// HealthState tracks the monitor's view of one container
type HealthState struct {
	ContainerID         string    `json:"container_id"`
	Healthy             bool      `json:"healthy"`
	LastCheck           time.Time `json:"last_check"`
	ConsecutiveFailures int       `json:"consecutive_failures"`
	Recovering          bool      `json:"recovering"`
	LastError           string    `json:"last_error,omitempty"`
}

// LogStream identifies which side of the multiplexed stream a line came from
type LogStream string

const (
	LogStreamStdout LogStream = "stdout"
	LogStreamStderr LogStream = "stderr"
)

// LogLevel is the collector's classification of a log line
type LogLevel string

const (
	LogLevelBuild   LogLevel = "build"
	LogLevelRuntime LogLevel = "runtime"
	LogLevelInfo    LogLevel = "info"
	LogLevelWarning LogLevel = "warning"
	LogLevelError   LogLevel = "error"
)

// LogEntry is one sanitized, classified container log line
type LogEntry struct {
	ContainerID string
	Stream      LogStream
	Level       LogLevel
	Content     string
	RecordedAt  time.Time
}

// LogStats summarizes the log collector
type LogStats struct {
	Attached      int       `json:"attached"`
	TotalEntries  int64     `json:"total_entries"`
	EntriesPerSec float64   `json:"entries_per_sec"`
	Dropped       int64     `json:"dropped"`
	LastCleanup   time.Time `json:"last_cleanup"`
}

// UsageTotals is a token/cost aggregate
type UsageTotals struct {
	InputTokens  int64 `json:"input_tokens"`
	OutputTokens int64 `json:"output_tokens"`
	CostMicros   int64 `json:"cost_micros"`
}

// UsageSummary aggregates token and cost records for a container
type UsageSummary struct {
	Last24h       UsageTotals `json:"last_24h"`
	Last7d        UsageTotals `json:"last_7d"`
	CurrentBucket UsageTotals `json:"current_bucket"`
	BucketEndsAt  time.Time   `json:"bucket_ends_at"`
}
