package session

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	"github.com/cuemby/corral/pkg/config"
	"github.com/cuemby/corral/pkg/events"
	"github.com/cuemby/corral/pkg/log"
	"github.com/cuemby/corral/pkg/metrics"
	"github.com/cuemby/corral/pkg/runtime"
	"github.com/cuemby/corral/pkg/types"
)

// ExecSource is the slice of the runtime surface sessions consume
type ExecSource interface {
	Inspect(ctx context.Context, handle string) (*runtime.ContainerState, error)
	Exec(ctx context.Context, handle string, spec runtime.ExecSpec) (runtime.Process, error)
	ListProcesses(ctx context.Context, handle string) ([]string, error)
}

// session is one container's assistant session. The mutex guards every
// field; snapshots are handed out, never the struct itself.
type session struct {
	mu           sync.Mutex
	containerID  string
	runtimeID    string
	status       types.SessionStatus
	token        string
	mode         types.Mode
	startedAt    time.Time
	lastActivity time.Time
	instructions int
	inFlight     bool
	reason       string
}

func (s *session) snapshotLocked() *types.Session {
	return &types.Session{
		ContainerID:  s.containerID,
		RuntimeID:    s.runtimeID,
		Status:       s.status,
		Token:        s.token,
		Mode:         s.mode,
		StartedAt:    s.startedAt,
		LastActivity: s.lastActivity,
		Instructions: s.instructions,
		InFlight:     s.inFlight,
		Reason:       s.reason,
	}
}

func (s *session) snapshot() *types.Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

// touchLocked advances last activity, never rewinding it
func (s *session) touchLocked(now time.Time) {
	if now.After(s.lastActivity) {
		s.lastActivity = now
	}
}

func (s *session) touch(now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.touchLocked(now)
}

// Manager owns the assistant session state machine for every container
type Manager struct {
	rt     ExecSource
	broker *events.Broker
	cfg    config.SessionConfig

	mu       sync.RWMutex
	sessions map[string]*session

	starts singleflight.Group
	stopCh chan struct{}
}

// NewManager creates the session manager
func NewManager(rt ExecSource, broker *events.Broker, cfg config.SessionConfig) *Manager {
	return &Manager{
		rt:       rt,
		broker:   broker,
		cfg:      cfg,
		sessions: make(map[string]*session),
		stopCh:   make(chan struct{}),
	}
}

// Start launches the idle eviction loop
func (m *Manager) Start() {
	go m.evictLoop()
	log.WithComponent("session").Info().
		Dur("idle_timeout", m.cfg.IdleTimeout).
		Msg("Session manager started")
}

// Close halts the eviction loop. Sessions are left as they are.
func (m *Manager) Close() {
	close(m.stopCh)
}

// EnsureStarted brings the container's session to running and returns a
// snapshot. Idempotent; concurrent callers for the same container share
// one start attempt.
func (m *Manager) EnsureStarted(ctx context.Context, containerID, runtimeID string) (*types.Session, error) {
	if s := m.lookup(containerID); s != nil {
		if snap := s.snapshot(); snap.Active() {
			return snap, nil
		}
	}

	v, err, _ := m.starts.Do(containerID, func() (interface{}, error) {
		return m.start(ctx, containerID, runtimeID)
	})
	if err != nil {
		return nil, err
	}
	return v.(*types.Session), nil
}

// start performs one actual session start. Only one runs per container
// at a time.
func (m *Manager) start(ctx context.Context, containerID, runtimeID string) (*types.Session, error) {
	s := m.obtain(containerID, runtimeID)

	s.mu.Lock()
	if s.status == types.SessionRunning || s.status == types.SessionProcessing {
		snap := s.snapshotLocked()
		s.mu.Unlock()
		return snap, nil
	}
	prev := s.status
	s.status = types.SessionStarting
	s.runtimeID = runtimeID
	s.mu.Unlock()
	retag(prev, types.SessionStarting)

	state, err := m.rt.Inspect(ctx, runtimeID)
	if err != nil {
		m.fail(s, fmt.Sprintf("inspect failed: %v", err))
		return nil, err
	}
	if !state.Running {
		reason := fmt.Sprintf("container is %s", state.Status)
		m.fail(s, reason)
		return nil, types.Faultf(types.FaultNotReady, "session.ensure_started",
			"container %s is %s, not running", containerID, state.Status)
	}

	now := time.Now().UTC()
	s.mu.Lock()
	s.token = uuid.New().String()
	s.status = types.SessionRunning
	s.startedAt = now
	s.lastActivity = now
	s.instructions = 0
	s.inFlight = false
	s.reason = ""
	snap := s.snapshotLocked()
	s.mu.Unlock()
	retag(types.SessionStarting, types.SessionRunning)

	m.publish(events.EventSessionStarted, snap, "")
	log.WithComponent("session").Info().
		Str("container_id", containerID).
		Str("token", snap.Token).
		Msg("Session started")
	return snap, nil
}

// Stop transitions the session to stopped. Idempotent; a missing
// session is a no-op.
func (m *Manager) Stop(containerID string) {
	s := m.lookup(containerID)
	if s == nil {
		return
	}

	s.mu.Lock()
	if s.status == types.SessionStopped {
		s.mu.Unlock()
		return
	}
	prev := s.status
	s.status = types.SessionStopping
	s.mu.Unlock()
	retag(prev, types.SessionStopping)

	s.mu.Lock()
	s.status = types.SessionStopped
	snap := s.snapshotLocked()
	s.mu.Unlock()
	retag(types.SessionStopping, types.SessionStopped)

	m.publish(events.EventSessionStopped, snap, "")
	log.WithComponent("session").Info().
		Str("container_id", containerID).
		Msg("Session stopped")
}

// Forget drops the session record entirely, for deleted containers
func (m *Manager) Forget(containerID string) {
	m.mu.Lock()
	s, exists := m.sessions[containerID]
	delete(m.sessions, containerID)
	m.mu.Unlock()

	if exists {
		s.mu.Lock()
		prev := s.status
		s.mu.Unlock()
		retag(prev, "")
	}
}

// Status returns a snapshot of the container's session, or nil
func (m *Manager) Status(containerID string) *types.Session {
	s := m.lookup(containerID)
	if s == nil {
		return nil
	}
	return s.snapshot()
}

// List returns snapshots of every tracked session, ordered by container
func (m *Manager) List() []*types.Session {
	m.mu.RLock()
	all := make([]*session, 0, len(m.sessions))
	for _, s := range m.sessions {
		all = append(all, s)
	}
	m.mu.RUnlock()

	snaps := make([]*types.Session, 0, len(all))
	for _, s := range all {
		snaps = append(snaps, s.snapshot())
	}
	sort.Slice(snaps, func(i, j int) bool {
		return snaps[i].ContainerID < snaps[j].ContainerID
	})
	return snaps
}

// EvictIdle stops running sessions whose last activity is older than
// the idle timeout. In-flight dispatches are never interrupted.
func (m *Manager) EvictIdle() {
	cutoff := time.Now().UTC().Add(-m.cfg.IdleTimeout)

	m.mu.RLock()
	all := make([]*session, 0, len(m.sessions))
	for _, s := range m.sessions {
		all = append(all, s)
	}
	m.mu.RUnlock()

	for _, s := range all {
		s.mu.Lock()
		idle := s.status == types.SessionRunning && !s.inFlight && s.lastActivity.Before(cutoff)
		containerID := s.containerID
		last := s.lastActivity
		s.mu.Unlock()

		if !idle {
			continue
		}
		log.WithComponent("session").Info().
			Str("container_id", containerID).
			Time("last_activity", last).
			Msg("Evicting idle session")
		m.Stop(containerID)
		metrics.SessionsEvicted.Inc()
	}
}

func (m *Manager) evictLoop() {
	ticker := time.NewTicker(m.cfg.EvictInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			m.EvictIdle()
		case <-m.stopCh:
			return
		}
	}
}

func (m *Manager) lookup(containerID string) *session {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.sessions[containerID]
}

// obtain returns the container's session record, creating it if needed
func (m *Manager) obtain(containerID, runtimeID string) *session {
	m.mu.Lock()
	defer m.mu.Unlock()

	if s, exists := m.sessions[containerID]; exists {
		return s
	}
	s := &session{
		containerID: containerID,
		runtimeID:   runtimeID,
		mode:        types.ModeInteractive,
	}
	m.sessions[containerID] = s
	return s
}

// fail marks the session errored until an operator or recovery restarts it
func (m *Manager) fail(s *session, reason string) {
	s.mu.Lock()
	prev := s.status
	s.status = types.SessionError
	s.reason = reason
	snap := s.snapshotLocked()
	s.mu.Unlock()
	retag(prev, types.SessionError)

	m.publish(events.EventSessionError, snap, reason)
	log.WithComponent("session").Error().
		Str("container_id", snap.ContainerID).
		Str("reason", reason).
		Msg("Session errored")
}

func (m *Manager) publish(kind events.EventKind, snap *types.Session, errMsg string) {
	if m.broker == nil {
		return
	}
	m.broker.Publish(&events.Event{
		ContainerID: snap.ContainerID,
		Kind:        kind,
		Session:     snap,
		Err:         errMsg,
	})
}

// retag moves the per-status session gauge between states
func retag(from, to types.SessionStatus) {
	if from != "" {
		metrics.SessionsTotal.WithLabelValues(string(from)).Dec()
	}
	if to != "" {
		metrics.SessionsTotal.WithLabelValues(string(to)).Inc()
	}
}
