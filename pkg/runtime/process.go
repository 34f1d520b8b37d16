package runtime

import (
	"context"
	"io"
	"sync"
	"time"

	dockertypes "github.com/docker/docker/api/types"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"

	"github.com/cuemby/corral/pkg/types"
)

// dockerProcess wraps one exec instance. The attached stream is
// demultiplexed into stdout and stderr pipes; stream end means the
// process finished and the exit code is read from exec inspect.
type dockerProcess struct {
	cli         *client.Client
	containerID string
	execID      string
	argv        []string

	hijack  dockertypes.HijackedResponse
	stdout  *io.PipeReader
	stdoutW *io.PipeWriter
	stderr  *io.PipeReader
	stderrW *io.PipeWriter

	done      chan struct{}
	closeOnce sync.Once
}

func newDockerProcess(cli *client.Client, containerID, execID string, argv []string, hijack dockertypes.HijackedResponse) *dockerProcess {
	p := &dockerProcess{
		cli:         cli,
		containerID: containerID,
		execID:      execID,
		argv:        argv,
		hijack:      hijack,
		done:        make(chan struct{}),
	}
	p.stdout, p.stdoutW = io.Pipe()
	p.stderr, p.stderrW = io.Pipe()
	go p.demux()
	return p
}

func (p *dockerProcess) demux() {
	_, err := stdcopy.StdCopy(p.stdoutW, p.stderrW, p.hijack.Reader)
	p.stdoutW.CloseWithError(err)
	p.stderrW.CloseWithError(err)
	close(p.done)
}

func (p *dockerProcess) Stdout() io.Reader {
	return p.stdout
}

func (p *dockerProcess) Stderr() io.Reader {
	return p.stderr
}

// Wait blocks until the stream ends, then reads the exit code. On
// context cancellation the process is signalled and pipes are closed.
func (p *dockerProcess) Wait(ctx context.Context) (ExitStatus, error) {
	select {
	case <-ctx.Done():
		killCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = p.Kill(killCtx)
		_ = p.Close()
		return ExitStatus{Code: -1}, ctx.Err()
	case <-p.done:
	}

	// The exit record can land just after stream end; poll briefly
	deadline := time.Now().Add(5 * time.Second)
	for {
		inspect, err := p.cli.ContainerExecInspect(ctx, p.execID)
		if err != nil {
			return ExitStatus{Code: -1}, classify("runtime.exec_wait", err)
		}
		if !inspect.Running {
			return ExitStatus{Code: inspect.ExitCode}, nil
		}
		if time.Now().After(deadline) {
			return ExitStatus{Code: -1}, types.Faultf(types.FaultTransient,
				"runtime.exec_wait", "exec %s still running after stream end", p.execID)
		}
		select {
		case <-ctx.Done():
			return ExitStatus{Code: -1}, ctx.Err()
		case <-time.After(100 * time.Millisecond):
		}
	}
}

// Kill terminates the process inside the container. The engine offers
// no exec-level signal, so this runs pkill against the command name.
func (p *dockerProcess) Kill(ctx context.Context) error {
	if len(p.argv) == 0 {
		return nil
	}

	created, err := p.cli.ContainerExecCreate(ctx, p.containerID, dockertypes.ExecConfig{
		Cmd:    []string{"pkill", "-TERM", "-f", p.argv[0]},
		Detach: true,
	})
	if err != nil {
		return classify("runtime.exec_kill", err)
	}
	if err := p.cli.ContainerExecStart(ctx, created.ID, dockertypes.ExecStartCheck{Detach: true}); err != nil {
		return classify("runtime.exec_kill", err)
	}
	return nil
}

// Close tears down the attached stream and pipes
func (p *dockerProcess) Close() error {
	p.closeOnce.Do(func() {
		p.hijack.Close()
		_ = p.stdout.Close()
		_ = p.stderr.Close()
	})
	return nil
}
