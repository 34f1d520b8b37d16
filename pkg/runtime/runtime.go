package runtime

import (
	"context"
	"io"
	"time"

	"github.com/cuemby/corral/pkg/types"
)

// ContainerState is the narrow inspect view the core needs
type ContainerState struct {
	Running   bool
	Status    string
	PID       int
	ExitCode  int
	StartedAt time.Time
}

// ExecSpec describes a child process to run inside a container
type ExecSpec struct {
	Argv       []string
	WorkingDir string
	Env        []string

	// Stdin is written to the process and the pipe is closed
	Stdin []byte
}

// ExitStatus is the recorded outcome of an exec'd process
type ExitStatus struct {
	Code int
}

// Process is a running child inside a container. Stdout carries
// newline-delimited JSON; stderr is free-form text.
type Process interface {
	Stdout() io.Reader
	Stderr() io.Reader

	// Wait blocks until exit or context cancellation. Cancellation
	// signals the process and closes the pipes.
	Wait(ctx context.Context) (ExitStatus, error)

	// Kill signals the process inside the container, best effort
	Kill(ctx context.Context) error

	Close() error
}

// ContainerEvent is one runtime lifecycle notification
type ContainerEvent struct {
	RuntimeID string
	Action    string // start, stop, die
	At        time.Time
}

// ResourceUpdate carries new limits; nil fields are left unchanged
type ResourceUpdate struct {
	MemoryBytes *int64
	CPUShares   *int64
}

// Runtime is the container runtime surface consumed by the core. All
// methods classify failures: a missing container is a gone fault and
// callers must stop operating on the handle; anything else is
// transient.
type Runtime interface {
	// Inspect reports the container's current state
	Inspect(ctx context.Context, handle string) (*ContainerState, error)

	// Exec starts a process inside the container
	Exec(ctx context.Context, handle string, spec ExecSpec) (Process, error)

	// AttachLogs returns the container's multiplexed log stream
	AttachLogs(ctx context.Context, handle string, since time.Time, follow bool) (io.ReadCloser, error)

	// Events streams container start/stop/die notifications until the
	// context ends
	Events(ctx context.Context) (<-chan ContainerEvent, <-chan error)

	// ListProcesses returns the command lines visible inside the
	// container
	ListProcesses(ctx context.Context, handle string) ([]string, error)

	// UpdateResources applies new resource limits to the container
	UpdateResources(ctx context.Context, handle string, update ResourceUpdate) error

	// Ping verifies the runtime endpoint is reachable
	Ping(ctx context.Context) error

	Close() error
}

// IsGone reports whether err marks the container as authoritatively absent
func IsGone(err error) bool {
	return types.IsFault(err, types.FaultGone)
}
