package runtime

import (
	"errors"
	"io"
	"net"
	"sync"
	"testing"
	"time"

	dockertypes "github.com/docker/docker/api/types"
	"github.com/docker/docker/errdefs"
	"github.com/docker/docker/pkg/stdcopy"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/corral/pkg/types"
)

// TestClassify maps daemon errors onto the fault taxonomy
func TestClassify(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		wantKind types.FaultKind
	}{
		{
			name:     "missing container is gone",
			err:      errdefs.NotFound(errors.New("no such container: abc")),
			wantKind: types.FaultGone,
		},
		{
			name:     "connection failure is transient",
			err:      errors.New("dial unix /var/run/docker.sock: connection refused"),
			wantKind: types.FaultTransient,
		},
		{
			name:     "conflict is transient",
			err:      errdefs.Conflict(errors.New("container is restarting")),
			wantKind: types.FaultTransient,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := classify("runtime.inspect", tt.err)
			require.Error(t, got)
			assert.Equal(t, tt.wantKind, types.FaultKindOf(got))
		})
	}

	assert.NoError(t, classify("runtime.inspect", nil))
}

// TestIsGone treats gone as authoritative and non-retryable
func TestIsGone(t *testing.T) {
	gone := classify("runtime.exec", errdefs.NotFound(errors.New("gone")))
	assert.True(t, IsGone(gone))
	assert.False(t, types.Retryable(gone))

	transient := classify("runtime.exec", errors.New("timeout"))
	assert.False(t, IsGone(transient))
	assert.True(t, types.Retryable(transient))
}

// TestProcessDemux splits a multiplexed exec stream into the two pipes
func TestProcessDemux(t *testing.T) {
	server, conn := net.Pipe()
	hijack := dockertypes.NewHijackedResponse(conn, "application/vnd.docker.raw-stream")
	proc := newDockerProcess(nil, "container", "exec", []string{"assistant"}, hijack)

	go func() {
		outW := stdcopy.NewStdWriter(server, stdcopy.Stdout)
		errW := stdcopy.NewStdWriter(server, stdcopy.Stderr)
		_, _ = outW.Write([]byte(`{"type":"assistant"}` + "\n"))
		_, _ = errW.Write([]byte("warning: slow disk\n"))
		_, _ = outW.Write([]byte(`{"type":"result"}` + "\n"))
		server.Close()
	}()

	var wg sync.WaitGroup
	var stdout, stderr []byte
	wg.Add(2)
	go func() {
		defer wg.Done()
		stdout, _ = io.ReadAll(proc.Stdout())
	}()
	go func() {
		defer wg.Done()
		stderr, _ = io.ReadAll(proc.Stderr())
	}()
	wg.Wait()

	assert.Equal(t, "{\"type\":\"assistant\"}\n{\"type\":\"result\"}\n", string(stdout))
	assert.Equal(t, "warning: slow disk\n", string(stderr))

	select {
	case <-proc.done:
	case <-time.After(time.Second):
		t.Fatal("process never signalled stream end")
	}

	require.NoError(t, proc.Close())
	require.NoError(t, proc.Close()) // idempotent
}
