package session

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/cuemby/corral/pkg/events"
	"github.com/cuemby/corral/pkg/log"
	"github.com/cuemby/corral/pkg/metrics"
	"github.com/cuemby/corral/pkg/runtime"
	"github.com/cuemby/corral/pkg/types"
)

// userEnvelope is the single stdin message handed to the assistant
type userEnvelope struct {
	Type    string      `json:"type"`
	Message userMessage `json:"message"`
}

type userMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Dispatch runs one instruction inside the container's session and
// returns the captured result. The session must be running with no
// dispatch in flight.
func (m *Manager) Dispatch(ctx context.Context, containerID, instruction string) (*types.DispatchResult, error) {
	s := m.lookup(containerID)
	if s == nil {
		return nil, types.Faultf(types.FaultNotReady, "session.dispatch",
			"no session for container %s", containerID)
	}

	s.mu.Lock()
	if s.status != types.SessionRunning {
		status := s.status
		s.mu.Unlock()
		return nil, types.Faultf(types.FaultNotReady, "session.dispatch",
			"session for %s is %s, not running", containerID, status)
	}
	if s.inFlight {
		s.mu.Unlock()
		return nil, types.Faultf(types.FaultBusy, "session.dispatch",
			"dispatch already in flight for %s", containerID)
	}
	s.inFlight = true
	s.status = types.SessionProcessing
	first := s.instructions == 0
	token := s.token
	runtimeID := s.runtimeID
	s.touchLocked(time.Now().UTC())
	s.mu.Unlock()
	retag(types.SessionRunning, types.SessionProcessing)

	defer func() {
		s.mu.Lock()
		s.inFlight = false
		if s.status == types.SessionProcessing {
			s.status = types.SessionRunning
			retag(types.SessionProcessing, types.SessionRunning)
		}
		s.mu.Unlock()
	}()

	stdin, err := json.Marshal(userEnvelope{
		Type:    "user",
		Message: userMessage{Role: "user", Content: instruction},
	})
	if err != nil {
		return nil, types.NewFault(types.FaultValidation, "session.dispatch", err)
	}
	stdin = append(stdin, '\n')

	started := time.Now()
	proc, err := m.rt.Exec(ctx, runtimeID, runtime.ExecSpec{
		Argv:       m.buildArgv(first, token),
		WorkingDir: m.cfg.WorkingDir,
		Stdin:      stdin,
	})
	if err != nil {
		if runtime.IsGone(err) {
			m.fail(s, fmt.Sprintf("container gone: %v", err))
		}
		return nil, fmt.Errorf("failed to exec assistant: %w", err)
	}
	defer proc.Close()

	stdout := newCappedBuffer(m.cfg.OutputLimitBytes)
	stderr := newCappedBuffer(m.cfg.OutputLimitBytes)

	var readers sync.WaitGroup
	readers.Add(2)
	go func() {
		defer readers.Done()
		m.scanStdout(s, proc.Stdout(), stdout)
	}()
	go func() {
		defer readers.Done()
		_, _ = io.Copy(stderr, proc.Stderr())
	}()

	exit, waitErr := proc.Wait(ctx)
	readers.Wait()
	if waitErr != nil {
		if runtime.IsGone(waitErr) {
			m.fail(s, fmt.Sprintf("container gone: %v", waitErr))
		}
		return nil, fmt.Errorf("failed waiting for assistant: %w", waitErr)
	}

	result := &types.DispatchResult{
		ExitCode:        exit.Code,
		Stdout:          stdout.String(),
		Stderr:          stderr.String(),
		StdoutTruncated: stdout.Truncated(),
		StderrTruncated: stderr.Truncated(),
	}

	if exit.Code == 0 && hasBackgroundMarkers(result.Stdout) {
		m.awaitBackgroundAgents(ctx, containerID, runtimeID)
	}
	result.Duration = time.Since(started)

	now := time.Now().UTC()
	s.mu.Lock()
	s.instructions++
	s.touchLocked(now)
	s.mu.Unlock()

	metrics.DispatchDuration.Observe(result.Duration.Seconds())
	log.WithComponent("session").Info().
		Str("container_id", containerID).
		Int("exit_code", result.ExitCode).
		Dur("duration", result.Duration).
		Msg("Dispatch finished")
	return result, nil
}

// buildArgv assembles the assistant command line. The first dispatch
// mints the session id; later ones resume it.
func (m *Manager) buildArgv(first bool, token string) []string {
	argv := make([]string, 0, len(m.cfg.Args)+3)
	argv = append(argv, m.cfg.Command)
	argv = append(argv, m.cfg.Args...)
	if first {
		argv = append(argv, "--session-id", token)
	} else {
		argv = append(argv, "--resume", token)
	}
	return argv
}

// scanStdout splits the assistant's stream into lines, captures them,
// and publishes one activity event per parsed record
func (m *Manager) scanStdout(s *session, r io.Reader, sink *cappedBuffer) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		_, _ = sink.Write(line)
		_, _ = sink.Write([]byte{'\n'})
		s.touch(time.Now().UTC())
		m.emitRecord(s.containerID, line)
	}
	if err := scanner.Err(); err != nil {
		log.WithComponent("session").Warn().
			Err(err).
			Str("container_id", s.containerID).
			Msg("Assistant stream scan stopped early")
	}
	// Keep draining so the process pipes never stall
	_, _ = io.Copy(io.Discard, r)
}

// emitRecord publishes one stream record. Lines that are not JSON carry
// no event.
func (m *Manager) emitRecord(containerID string, line []byte) {
	if m.broker == nil {
		return
	}
	var probe struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(line, &probe); err != nil {
		return
	}

	record := &types.AgentRecord{
		Type: normalizeRecordType(probe.Type),
		Raw:  make(json.RawMessage, len(line)),
	}
	copy(record.Raw, line)

	m.broker.Publish(&events.Event{
		ContainerID: containerID,
		Kind:        events.EventAgentActivity,
		Activity:    record,
	})
}

// normalizeRecordType maps unknown stream record types to system
func normalizeRecordType(t string) types.AgentRecordType {
	switch types.AgentRecordType(t) {
	case types.AgentRecordAssistant, types.AgentRecordUser, types.AgentRecordToolUse,
		types.AgentRecordToolResult, types.AgentRecordResult, types.AgentRecordError:
		return types.AgentRecordType(t)
	default:
		return types.AgentRecordSystem
	}
}

// hasBackgroundMarkers reports whether the stream shows subagent spawns
func hasBackgroundMarkers(stdout string) bool {
	return strings.Contains(stdout, `"name":"Task"`) ||
		strings.Contains(stdout, "run_in_background")
}

// awaitBackgroundAgents polls the container's process table until no
// assistant processes remain or the barrier times out
func (m *Manager) awaitBackgroundAgents(ctx context.Context, containerID, runtimeID string) {
	begin := time.Now()
	defer func() {
		metrics.BarrierWaitDuration.Observe(time.Since(begin).Seconds())
	}()

	deadline := time.NewTimer(m.cfg.BarrierTimeout)
	defer deadline.Stop()
	ticker := time.NewTicker(m.cfg.BarrierPoll)
	defer ticker.Stop()

	for {
		cmdlines, err := m.rt.ListProcesses(ctx, runtimeID)
		switch {
		case runtime.IsGone(err):
			return
		case err != nil:
			log.WithComponent("session").Warn().
				Err(err).
				Str("container_id", containerID).
				Msg("Process poll failed during agent wait")
		default:
			n := countAgentProcesses(cmdlines, m.cfg.Command)
			if n == 0 {
				return
			}
			m.publishAgentWait(containerID, n)
			log.WithComponent("session").Debug().
				Str("container_id", containerID).
				Int("agents", n).
				Msg("Waiting for background agents")
		}

		select {
		case <-ctx.Done():
			return
		case <-deadline.C:
			log.WithComponent("session").Warn().
				Str("container_id", containerID).
				Dur("waited", time.Since(begin)).
				Msg("Gave up waiting for background agents")
			return
		case <-ticker.C:
		}
	}
}

// countAgentProcesses counts process table lines running the assistant
func countAgentProcesses(cmdlines []string, command string) int {
	n := 0
	for _, cmdline := range cmdlines {
		for _, field := range strings.Fields(cmdline) {
			if field == command || strings.HasSuffix(field, "/"+command) {
				n++
				break
			}
		}
	}
	return n
}

func (m *Manager) publishAgentWait(containerID string, n int) {
	if m.broker == nil {
		return
	}
	m.broker.Publish(&events.Event{
		ContainerID: containerID,
		Kind:        events.EventInstructionProgress,
		AgentCount:  &n,
		Progress: &types.Progress{
			Percent:   55,
			Stage:     types.StageProcessing,
			Message:   fmt.Sprintf("waiting for %d background agents", n),
			UpdatedAt: time.Now().UTC(),
		},
	})
}

// cappedBuffer keeps at most limit bytes and records whether anything
// was cut. Writes never fail so upstream copies always drain.
type cappedBuffer struct {
	buf       bytes.Buffer
	limit     int64
	truncated bool
}

func newCappedBuffer(limit int64) *cappedBuffer {
	return &cappedBuffer{limit: limit}
}

func (b *cappedBuffer) Write(p []byte) (int, error) {
	remain := b.limit - int64(b.buf.Len())
	if remain <= 0 {
		b.truncated = true
		return len(p), nil
	}
	if int64(len(p)) > remain {
		b.buf.Write(p[:remain])
		b.truncated = true
		return len(p), nil
	}
	return b.buf.Write(p)
}

func (b *cappedBuffer) String() string {
	return b.buf.String()
}

func (b *cappedBuffer) Truncated() bool {
	return b.truncated
}
