package session

import (
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/corral/pkg/config"
	"github.com/cuemby/corral/pkg/events"
	"github.com/cuemby/corral/pkg/runtime"
	"github.com/cuemby/corral/pkg/types"
)

const sampleStream = `{"type":"system","subtype":"init","session_id":"abc"}
{"type":"assistant","message":{"content":[{"type":"text","text":"on it"}]}}
{"type":"result","subtype":"success","total_cost_usd":0.12,"usage":{"input_tokens":100,"output_tokens":50}}
`

func startSession(t *testing.T, mgr *Manager) *types.Session {
	t.Helper()
	snap, err := mgr.EnsureStarted(context.Background(), testContainer, testHandle)
	require.NoError(t, err)
	return snap
}

func TestDispatchHappyPath(t *testing.T) {
	rt := &fakeExec{
		procs: []*fakeProcess{{
			stdout: strings.NewReader(sampleStream),
			stderr: strings.NewReader("some diagnostics\n"),
		}},
	}
	mgr, broker := newTestManager(t, rt)
	snap := startSession(t, mgr)
	sub := broker.Subscribe(testContainer, events.EventAgentActivity)

	result, err := mgr.Dispatch(context.Background(), testContainer, "echo hello")
	require.NoError(t, err)

	assert.Equal(t, 0, result.ExitCode)
	assert.Contains(t, result.Stdout, `"type":"result"`)
	assert.Equal(t, "some diagnostics\n", result.Stderr)
	assert.Greater(t, result.Duration, time.Duration(0))
	assert.False(t, result.StdoutTruncated)

	// Command line mints the session on the first dispatch
	spec := rt.lastSpec(t)
	assert.Equal(t, "claude", spec.Argv[0])
	assert.Contains(t, spec.Argv, "--session-id")
	assert.Contains(t, spec.Argv, snap.Token)
	assert.NotContains(t, spec.Argv, "--resume")
	assert.Equal(t, "/workspace", spec.WorkingDir)

	// Stdin carries exactly one user envelope
	var envelope userEnvelope
	require.NoError(t, json.Unmarshal(spec.Stdin, &envelope))
	assert.Equal(t, "user", envelope.Type)
	assert.Equal(t, "echo hello", envelope.Message.Content)
	assert.True(t, strings.HasSuffix(string(spec.Stdin), "\n"))

	// One activity event per stream record, unknown types folded to system
	kinds := []types.AgentRecordType{}
	for i := 0; i < 3; i++ {
		ev := nextEvent(t, sub)
		require.NotNil(t, ev.Activity)
		kinds = append(kinds, ev.Activity.Type)
	}
	assert.Equal(t, []types.AgentRecordType{
		types.AgentRecordSystem,
		types.AgentRecordAssistant,
		types.AgentRecordResult,
	}, kinds)

	after := mgr.Status(testContainer)
	assert.Equal(t, types.SessionRunning, after.Status)
	assert.False(t, after.InFlight)
	assert.Equal(t, 1, after.Instructions)
}

func TestDispatchResumesAfterFirst(t *testing.T) {
	rt := &fakeExec{
		procs: []*fakeProcess{
			{stdout: strings.NewReader(""), stderr: strings.NewReader("")},
			{stdout: strings.NewReader(""), stderr: strings.NewReader("")},
		},
	}
	mgr, _ := newTestManager(t, rt)
	snap := startSession(t, mgr)

	_, err := mgr.Dispatch(context.Background(), testContainer, "first")
	require.NoError(t, err)
	_, err = mgr.Dispatch(context.Background(), testContainer, "second")
	require.NoError(t, err)

	spec := rt.lastSpec(t)
	assert.Contains(t, spec.Argv, "--resume")
	assert.Contains(t, spec.Argv, snap.Token)
	assert.NotContains(t, spec.Argv, "--session-id")
	assert.Equal(t, 2, mgr.Status(testContainer).Instructions)
}

func TestDispatchRejectsConcurrent(t *testing.T) {
	rt := &fakeExec{
		procs: []*fakeProcess{{
			stdout: strings.NewReader(""),
			stderr: strings.NewReader(""),
			delay:  300 * time.Millisecond,
		}},
	}
	mgr, _ := newTestManager(t, rt)
	startSession(t, mgr)

	done := make(chan error, 1)
	go func() {
		_, err := mgr.Dispatch(context.Background(), testContainer, "slow")
		done <- err
	}()

	require.Eventually(t, func() bool {
		snap := mgr.Status(testContainer)
		return snap != nil && snap.InFlight
	}, 2*time.Second, 5*time.Millisecond)

	_, err := mgr.Dispatch(context.Background(), testContainer, "rejected")
	require.Error(t, err)
	assert.True(t, types.IsFault(err, types.FaultBusy))

	require.NoError(t, <-done)
	assert.False(t, mgr.Status(testContainer).InFlight)
}

func TestDispatchRequiresRunningSession(t *testing.T) {
	rt := &fakeExec{}
	mgr, _ := newTestManager(t, rt)

	_, err := mgr.Dispatch(context.Background(), testContainer, "anything")
	require.Error(t, err)
	assert.True(t, types.IsFault(err, types.FaultNotReady))

	startSession(t, mgr)
	mgr.Stop(testContainer)

	_, err = mgr.Dispatch(context.Background(), testContainer, "anything")
	require.Error(t, err)
	assert.True(t, types.IsFault(err, types.FaultNotReady))
}

func TestDispatchNonZeroExit(t *testing.T) {
	rt := &fakeExec{
		procs: []*fakeProcess{{
			stdout: strings.NewReader(`{"type":"error","error":{"message":"boom"}}` + "\n"),
			stderr: strings.NewReader("fatal: boom\n"),
			exit:   runtime.ExitStatus{Code: 2},
		}},
	}
	mgr, _ := newTestManager(t, rt)
	startSession(t, mgr)

	result, err := mgr.Dispatch(context.Background(), testContainer, "explode")
	require.NoError(t, err)
	assert.Equal(t, 2, result.ExitCode)
	assert.Contains(t, result.Stderr, "boom")

	// A failed instruction leaves the session usable
	assert.Equal(t, types.SessionRunning, mgr.Status(testContainer).Status)
}

func TestDispatchClearsInFlightOnExecError(t *testing.T) {
	rt := &fakeExec{
		execErr: types.NewFault(types.FaultTransient, "runtime.exec", assert.AnError),
	}
	mgr, _ := newTestManager(t, rt)
	startSession(t, mgr)

	_, err := mgr.Dispatch(context.Background(), testContainer, "anything")
	require.Error(t, err)

	snap := mgr.Status(testContainer)
	assert.False(t, snap.InFlight)
	assert.Equal(t, types.SessionRunning, snap.Status)
}

func TestDispatchGoneErrorsSession(t *testing.T) {
	rt := &fakeExec{
		execErr: types.Faultf(types.FaultGone, "runtime.exec", "no such container"),
	}
	mgr, _ := newTestManager(t, rt)
	startSession(t, mgr)

	_, err := mgr.Dispatch(context.Background(), testContainer, "anything")
	require.Error(t, err)
	assert.True(t, runtime.IsGone(err))

	snap := mgr.Status(testContainer)
	assert.Equal(t, types.SessionError, snap.Status)
	assert.False(t, snap.InFlight)
}

func TestDispatchTruncatesOutput(t *testing.T) {
	long := strings.Repeat("x", 4096)
	rt := &fakeExec{
		procs: []*fakeProcess{{
			stdout: strings.NewReader(long + "\n"),
			stderr: strings.NewReader(long),
		}},
	}
	mgr, _ := newTestManager(t, rt, func(cfg *config.SessionConfig) {
		cfg.OutputLimitBytes = 128
	})
	startSession(t, mgr)

	result, err := mgr.Dispatch(context.Background(), testContainer, "spam")
	require.NoError(t, err)

	assert.Len(t, result.Stdout, 128)
	assert.True(t, result.StdoutTruncated)
	assert.Len(t, result.Stderr, 128)
	assert.True(t, result.StderrTruncated)
}

// TestDispatchWaitsForBackgroundAgents holds completion until the
// process table shows no assistant processes
func TestDispatchWaitsForBackgroundAgents(t *testing.T) {
	stream := `{"type":"assistant","message":{"content":[{"type":"tool_use","name":"Task","input":{}}]}}` + "\n" +
		`{"type":"result","subtype":"success","name":"Task"}` + "\n"
	rt := &fakeExec{
		procs: []*fakeProcess{{
			stdout: strings.NewReader(stream),
			stderr: strings.NewReader(""),
		}},
		topTable: [][]string{
			{"/usr/local/bin/claude --resume abc", "sh -c npm test"},
			{"/usr/local/bin/claude --resume abc"},
			{},
		},
	}
	mgr, broker := newTestManager(t, rt)
	startSession(t, mgr)
	sub := broker.Subscribe(testContainer, events.EventInstructionProgress)

	result, err := mgr.Dispatch(context.Background(), testContainer, "fan out")
	require.NoError(t, err)
	assert.Equal(t, 0, result.ExitCode)
	assert.GreaterOrEqual(t, rt.topCalls, 3)

	ev := nextEvent(t, sub)
	require.NotNil(t, ev.AgentCount)
	assert.Equal(t, 1, *ev.AgentCount)
	require.NotNil(t, ev.Progress)
	assert.Contains(t, ev.Progress.Message, "background agents")
}

// TestDispatchBarrierTimesOut gives up when agents never settle
func TestDispatchBarrierTimesOut(t *testing.T) {
	rt := &fakeExec{
		procs: []*fakeProcess{{
			stdout: strings.NewReader(`{"type":"system","run_in_background":true}` + "\n"),
			stderr: strings.NewReader(""),
		}},
		topTable: [][]string{{"claude --resume abc"}},
	}
	mgr, _ := newTestManager(t, rt, func(cfg *config.SessionConfig) {
		cfg.BarrierTimeout = 60 * time.Millisecond
		cfg.BarrierPoll = 10 * time.Millisecond
	})
	startSession(t, mgr)

	start := time.Now()
	_, err := mgr.Dispatch(context.Background(), testContainer, "spawn forever")
	require.NoError(t, err)
	assert.GreaterOrEqual(t, time.Since(start), 60*time.Millisecond)
}

// TestDispatchSkipsBarrierOnFailure never waits after a non-zero exit
func TestDispatchSkipsBarrierOnFailure(t *testing.T) {
	rt := &fakeExec{
		procs: []*fakeProcess{{
			stdout: strings.NewReader(`{"type":"system","run_in_background":true}` + "\n"),
			stderr: strings.NewReader(""),
			exit:   runtime.ExitStatus{Code: 1},
		}},
		topTable: [][]string{{"claude --resume abc"}},
	}
	mgr, _ := newTestManager(t, rt)
	startSession(t, mgr)

	_, err := mgr.Dispatch(context.Background(), testContainer, "fail")
	require.NoError(t, err)
	assert.Zero(t, rt.topCalls)
}

func TestCountAgentProcesses(t *testing.T) {
	tests := []struct {
		name     string
		cmdlines []string
		want     int
	}{
		{
			name:     "bare command",
			cmdlines: []string{"claude --resume abc"},
			want:     1,
		},
		{
			name:     "absolute path",
			cmdlines: []string{"/usr/local/bin/claude --print"},
			want:     1,
		},
		{
			name:     "unrelated processes",
			cmdlines: []string{"sh -c sleep 5", "node server.js"},
			want:     0,
		},
		{
			name:     "substring does not match",
			cmdlines: []string{"claudette --help", "tail -f claude.log"},
			want:     0,
		},
		{
			name:     "several agents",
			cmdlines: []string{"claude --resume a", "claude --resume b", "ps aux"},
			want:     2,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, countAgentProcesses(tt.cmdlines, "claude"))
		})
	}
}

func TestHasBackgroundMarkers(t *testing.T) {
	assert.True(t, hasBackgroundMarkers(`{"name":"Task","input":{}}`))
	assert.True(t, hasBackgroundMarkers(`{"run_in_background":true}`))
	assert.False(t, hasBackgroundMarkers(`{"name":"Bash","input":{}}`))
	assert.False(t, hasBackgroundMarkers(""))
}

func TestCappedBuffer(t *testing.T) {
	buf := newCappedBuffer(10)

	n, err := buf.Write([]byte("12345"))
	require.NoError(t, err)
	assert.Equal(t, 5, n)
	assert.False(t, buf.Truncated())

	// Crosses the limit; the write still reports full length
	n, err = buf.Write([]byte("6789AB"))
	require.NoError(t, err)
	assert.Equal(t, 6, n)
	assert.True(t, buf.Truncated())
	assert.Equal(t, "123456789A", buf.String())

	// Past the limit everything is discarded
	n, err = buf.Write([]byte("more"))
	require.NoError(t, err)
	assert.Equal(t, 4, n)
	assert.Equal(t, "123456789A", buf.String())
}
