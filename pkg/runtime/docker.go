package runtime

import (
	"context"
	"fmt"
	"io"
	"time"

	dockertypes "github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"
	dockerevents "github.com/docker/docker/api/types/events"
	"github.com/docker/docker/api/types/filters"
	"github.com/docker/docker/client"
	"github.com/docker/docker/errdefs"

	"github.com/cuemby/corral/pkg/config"
	"github.com/cuemby/corral/pkg/log"
	"github.com/cuemby/corral/pkg/types"
)

// DockerRuntime implements Runtime against the Docker Engine API
type DockerRuntime struct {
	cli         *client.Client
	pingTimeout time.Duration
}

// NewDockerRuntime connects to the Docker daemon and verifies it responds
func NewDockerRuntime(cfg config.RuntimeConfig) (*DockerRuntime, error) {
	opts := []client.Opt{
		client.FromEnv,
		client.WithAPIVersionNegotiation(),
	}
	if cfg.Endpoint != "" {
		opts = append(opts, client.WithHost(cfg.Endpoint))
	}

	cli, err := client.NewClientWithOpts(opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create docker client: %w", err)
	}

	r := &DockerRuntime{cli: cli, pingTimeout: cfg.PingTimeout}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.PingTimeout)
	defer cancel()
	if _, err := cli.Ping(ctx); err != nil {
		cli.Close()
		return nil, fmt.Errorf("docker daemon unreachable: %w", err)
	}

	log.WithComponent("runtime").Info().
		Str("api_version", cli.ClientVersion()).
		Msg("Docker runtime connected")

	return r, nil
}

// classify maps runtime errors onto the fault taxonomy. Absent
// containers are gone and authoritative; everything else is transient.
func classify(op string, err error) error {
	if err == nil {
		return nil
	}
	if errdefs.IsNotFound(err) {
		return types.NewFault(types.FaultGone, op, err)
	}
	return types.NewFault(types.FaultTransient, op, err)
}

// Inspect reports the container's running state
func (r *DockerRuntime) Inspect(ctx context.Context, handle string) (*ContainerState, error) {
	info, err := r.cli.ContainerInspect(ctx, handle)
	if err != nil {
		return nil, classify("runtime.inspect", err)
	}

	state := &ContainerState{}
	if info.State != nil {
		state.Running = info.State.Running
		state.Status = info.State.Status
		state.PID = info.State.Pid
		state.ExitCode = info.State.ExitCode
		if started, err := time.Parse(time.RFC3339Nano, info.State.StartedAt); err == nil {
			state.StartedAt = started
		}
	}
	return state, nil
}

// Exec starts a process inside the container with attached pipes
func (r *DockerRuntime) Exec(ctx context.Context, handle string, spec ExecSpec) (Process, error) {
	created, err := r.cli.ContainerExecCreate(ctx, handle, dockertypes.ExecConfig{
		Cmd:          spec.Argv,
		WorkingDir:   spec.WorkingDir,
		Env:          spec.Env,
		AttachStdin:  len(spec.Stdin) > 0,
		AttachStdout: true,
		AttachStderr: true,
	})
	if err != nil {
		return nil, classify("runtime.exec", err)
	}

	hijack, err := r.cli.ContainerExecAttach(ctx, created.ID, dockertypes.ExecStartCheck{})
	if err != nil {
		return nil, classify("runtime.exec", err)
	}

	proc := newDockerProcess(r.cli, handle, created.ID, spec.Argv, hijack)

	if len(spec.Stdin) > 0 {
		go func() {
			if _, err := hijack.Conn.Write(spec.Stdin); err != nil {
				log.WithComponent("runtime").Debug().Err(err).Msg("Exec stdin write failed")
			}
			if err := hijack.CloseWrite(); err != nil {
				log.WithComponent("runtime").Debug().Err(err).Msg("Exec stdin close failed")
			}
		}()
	}

	return proc, nil
}

// AttachLogs opens the container's multiplexed log stream. Lines carry
// a leading RFC3339 nanosecond timestamp.
func (r *DockerRuntime) AttachLogs(ctx context.Context, handle string, since time.Time, follow bool) (io.ReadCloser, error) {
	opts := container.LogsOptions{
		ShowStdout: true,
		ShowStderr: true,
		Follow:     follow,
		Timestamps: true,
	}
	if !since.IsZero() {
		opts.Since = since.UTC().Format(time.RFC3339Nano)
	}

	stream, err := r.cli.ContainerLogs(ctx, handle, opts)
	if err != nil {
		return nil, classify("runtime.attach_logs", err)
	}
	return stream, nil
}

// Events adapts the daemon's container start/stop/die notifications
func (r *DockerRuntime) Events(ctx context.Context) (<-chan ContainerEvent, <-chan error) {
	f := filters.NewArgs(
		filters.Arg("type", "container"),
		filters.Arg("event", "start"),
		filters.Arg("event", "stop"),
		filters.Arg("event", "die"),
	)
	msgs, errs := r.cli.Events(ctx, dockerevents.ListOptions{Filters: f})

	out := make(chan ContainerEvent)
	errOut := make(chan error, 1)

	go func() {
		defer close(out)
		for {
			select {
			case msg, ok := <-msgs:
				if !ok {
					return
				}
				ev := ContainerEvent{
					RuntimeID: msg.Actor.ID,
					Action:    string(msg.Action),
					At:        time.Unix(0, msg.TimeNano),
				}
				if msg.TimeNano == 0 {
					ev.At = time.Unix(msg.Time, 0)
				}
				select {
				case out <- ev:
				case <-ctx.Done():
					return
				}
			case err, ok := <-errs:
				if !ok {
					return
				}
				select {
				case errOut <- classify("runtime.events", err):
				default:
				}
				return
			case <-ctx.Done():
				return
			}
		}
	}()

	return out, errOut
}

// ListProcesses returns the command line of every process in the container
func (r *DockerRuntime) ListProcesses(ctx context.Context, handle string) ([]string, error) {
	body, err := r.cli.ContainerTop(ctx, handle, nil)
	if err != nil {
		return nil, classify("runtime.list_processes", err)
	}

	cmdIdx := -1
	for i, title := range body.Titles {
		if title == "CMD" || title == "COMMAND" {
			cmdIdx = i
			break
		}
	}

	procs := make([]string, 0, len(body.Processes))
	for _, row := range body.Processes {
		switch {
		case cmdIdx >= 0 && cmdIdx < len(row):
			procs = append(procs, row[cmdIdx])
		case len(row) > 0:
			procs = append(procs, row[len(row)-1])
		}
	}
	return procs, nil
}

// UpdateResources applies new memory and CPU limits
func (r *DockerRuntime) UpdateResources(ctx context.Context, handle string, update ResourceUpdate) error {
	cfg := container.UpdateConfig{}
	if update.MemoryBytes != nil {
		cfg.Memory = *update.MemoryBytes
		// The daemon rejects memory above swap; mirror the CLI's 2x default
		cfg.MemorySwap = *update.MemoryBytes * 2
	}
	if update.CPUShares != nil {
		cfg.CPUShares = *update.CPUShares
	}

	if _, err := r.cli.ContainerUpdate(ctx, handle, cfg); err != nil {
		return classify("runtime.update_resources", err)
	}
	return nil
}

// Ping verifies the daemon answers within the configured timeout
func (r *DockerRuntime) Ping(ctx context.Context) error {
	if r.pingTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.pingTimeout)
		defer cancel()
	}
	if _, err := r.cli.Ping(ctx); err != nil {
		return classify("runtime.ping", err)
	}
	return nil
}

// Close releases the client connection
func (r *DockerRuntime) Close() error {
	return r.cli.Close()
}
