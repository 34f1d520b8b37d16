package health

import (
	"context"
	"sync"
	"time"

	"github.com/cuemby/corral/pkg/config"
	"github.com/cuemby/corral/pkg/events"
	"github.com/cuemby/corral/pkg/log"
	"github.com/cuemby/corral/pkg/metrics"
	"github.com/cuemby/corral/pkg/types"
)

// restartTimeout bounds the session restart during recovery
const restartTimeout = 30 * time.Second

// SessionController is the slice of the session manager the monitor
// drives during probes and recovery
type SessionController interface {
	EnsureStarted(ctx context.Context, containerID, runtimeID string) (*types.Session, error)
	Stop(containerID string)
	Status(containerID string) *types.Session
}

// watch is one container's monitoring state. The mutex guards all
// fields; probing dedupes overlapping checks.
type watch struct {
	mu                  sync.Mutex
	containerID         string
	runtimeID           string
	probing             bool
	healthy             bool
	everHealthy         bool
	lastCheck           time.Time
	consecutiveFailures int
	recovering          bool
	lastError           string
	stopCh              chan struct{}
}

func (w *watch) snapshot() *types.HealthState {
	w.mu.Lock()
	defer w.mu.Unlock()
	return &types.HealthState{
		ContainerID:         w.containerID,
		Healthy:             w.healthy,
		LastCheck:           w.lastCheck,
		ConsecutiveFailures: w.consecutiveFailures,
		Recovering:          w.recovering,
		LastError:           w.lastError,
	}
}

// Monitor probes every watched container's session and attempts bounded
// recovery when one goes unhealthy. A container whose recovery budget is
// exhausted is dropped from monitoring until Watch is called again.
type Monitor struct {
	sessions SessionController
	broker   *events.Broker

	cfgMu sync.RWMutex
	cfg   config.HealthConfig

	mu      sync.Mutex
	watches map[string]*watch
}

// NewMonitor creates the health monitor
func NewMonitor(sessions SessionController, broker *events.Broker, cfg config.HealthConfig) *Monitor {
	return &Monitor{
		sessions: sessions,
		broker:   broker,
		cfg:      cfg,
		watches:  make(map[string]*watch),
	}
}

// UpdateConfig applies new probe knobs. Running loops pick them up on
// their next cycle.
func (m *Monitor) UpdateConfig(cfg config.HealthConfig) {
	m.cfgMu.Lock()
	m.cfg = cfg
	m.cfgMu.Unlock()
}

func (m *Monitor) config() config.HealthConfig {
	m.cfgMu.RLock()
	defer m.cfgMu.RUnlock()
	return m.cfg
}

// Watch begins monitoring a container. Watching an already monitored
// container restarts its loop with a clean failure count.
func (m *Monitor) Watch(containerID, runtimeID string) {
	w := &watch{
		containerID: containerID,
		runtimeID:   runtimeID,
		stopCh:      make(chan struct{}),
	}

	m.mu.Lock()
	old, replaced := m.watches[containerID]
	if replaced {
		close(old.stopCh)
	}
	m.watches[containerID] = w
	m.mu.Unlock()

	if !replaced {
		metrics.MonitorsActive.Inc()
	}
	go m.loop(w)
	logger := log.WithComponent("health")
	logger.Info().
		Str("container_id", containerID).
		Msg("Monitoring container health")
}

// Unwatch stops monitoring a container
func (m *Monitor) Unwatch(containerID string) {
	m.mu.Lock()
	w, exists := m.watches[containerID]
	delete(m.watches, containerID)
	m.mu.Unlock()

	if exists {
		close(w.stopCh)
		metrics.MonitorsActive.Dec()
		logger := log.WithComponent("health")
		logger.Info().
			Str("container_id", containerID).
			Msg("Stopped monitoring container health")
	}
}

// Close stops every probe loop
func (m *Monitor) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, w := range m.watches {
		close(w.stopCh)
		delete(m.watches, id)
		metrics.MonitorsActive.Dec()
	}
}

// Watched returns how many containers are currently monitored
func (m *Monitor) Watched() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.watches)
}

// State returns the container's health snapshot, or nil if unwatched
func (m *Monitor) State(containerID string) *types.HealthState {
	m.mu.Lock()
	w := m.watches[containerID]
	m.mu.Unlock()
	if w == nil {
		return nil
	}
	return w.snapshot()
}

// States returns snapshots for every watched container
func (m *Monitor) States() []*types.HealthState {
	m.mu.Lock()
	all := make([]*watch, 0, len(m.watches))
	for _, w := range m.watches {
		all = append(all, w)
	}
	m.mu.Unlock()

	states := make([]*types.HealthState, 0, len(all))
	for _, w := range all {
		states = append(states, w.snapshot())
	}
	return states
}

func (m *Monitor) loop(w *watch) {
	for {
		select {
		case <-w.stopCh:
			return
		case <-time.After(m.config().Interval):
		}
		if !m.checkWatch(w) {
			return
		}
	}
}

// Check runs one probe cycle for a container right away. Returns false
// once the container is no longer monitored.
func (m *Monitor) Check(containerID string) bool {
	m.mu.Lock()
	w := m.watches[containerID]
	m.mu.Unlock()
	if w == nil {
		return false
	}
	return m.checkWatch(w)
}

func (m *Monitor) checkWatch(w *watch) bool {
	m.mu.Lock()
	registered := m.watches[w.containerID] == w
	m.mu.Unlock()
	if !registered {
		return false
	}

	w.mu.Lock()
	if w.probing || w.recovering {
		w.mu.Unlock()
		return true
	}
	w.probing = true
	w.lastCheck = time.Now().UTC()
	w.mu.Unlock()
	defer func() {
		w.mu.Lock()
		w.probing = false
		w.mu.Unlock()
	}()

	snap := m.sessions.Status(w.containerID)
	if snap != nil && snap.Active() {
		metrics.HealthChecks.WithLabelValues("healthy").Inc()
		m.markHealthy(w)
		return true
	}

	metrics.HealthChecks.WithLabelValues("unhealthy").Inc()
	return m.handleUnhealthy(w, snap)
}

// markHealthy clears failure state and publishes the transition
func (m *Monitor) markHealthy(w *watch) {
	w.mu.Lock()
	recovered := w.consecutiveFailures > 0
	firstTime := !w.everHealthy
	w.healthy = true
	w.everHealthy = true
	w.consecutiveFailures = 0
	w.lastError = ""
	w.mu.Unlock()

	switch {
	case recovered:
		m.publish(w, events.EventHealthRecovered, "")
		logger := log.WithComponent("health")
		logger.Info().
			Str("container_id", w.containerID).
			Msg("Container healthy again")
	case firstTime:
		m.publish(w, events.EventHealthHealthy, "")
	}
}

// handleUnhealthy counts the failure and either recovers or gives up
func (m *Monitor) handleUnhealthy(w *watch, snap *types.Session) bool {
	reason := "no session"
	if snap != nil {
		reason = "session is " + string(snap.Status)
		if snap.Reason != "" {
			reason += ": " + snap.Reason
		}
	}

	cfg := m.config()
	w.mu.Lock()
	w.healthy = false
	w.consecutiveFailures++
	w.lastError = reason
	failures := w.consecutiveFailures
	if failures < cfg.MaxRecoveryAttempts {
		w.recovering = true
	}
	w.mu.Unlock()

	if failures >= cfg.MaxRecoveryAttempts {
		m.publish(w, events.EventHealthRecoveryFailed, reason)
		metrics.Recoveries.WithLabelValues("gave_up").Inc()
		logger := log.WithComponent("health")
		logger.Error().
			Str("container_id", w.containerID).
			Int("failures", failures).
			Str("reason", reason).
			Msg("Recovery attempts exhausted, monitoring stopped")

		m.mu.Lock()
		if m.watches[w.containerID] == w {
			delete(m.watches, w.containerID)
			metrics.MonitorsActive.Dec()
		}
		m.mu.Unlock()
		return false
	}

	m.publish(w, events.EventHealthRecovering, reason)
	logger := log.WithComponent("health")
	logger.Warn().
		Str("container_id", w.containerID).
		Int("failures", failures).
		Str("reason", reason).
		Msg("Container unhealthy, recovering")

	m.recover(w, cfg)
	return true
}

// recover restarts the session: stop, settle, start, verify
func (m *Monitor) recover(w *watch, cfg config.HealthConfig) {
	defer func() {
		w.mu.Lock()
		w.recovering = false
		w.mu.Unlock()
	}()

	m.sessions.Stop(w.containerID)

	select {
	case <-w.stopCh:
		return
	case <-time.After(cfg.RecoveryDelay):
	}

	ctx, cancel := context.WithTimeout(context.Background(), restartTimeout)
	defer cancel()
	if _, err := m.sessions.EnsureStarted(ctx, w.containerID, w.runtimeID); err != nil {
		m.noteRecoveryFailure(w, "restart failed: "+err.Error())
		return
	}

	select {
	case <-w.stopCh:
		return
	case <-time.After(cfg.VerifyDelay):
	}

	snap := m.sessions.Status(w.containerID)
	if snap == nil || !snap.Active() {
		status := "missing"
		if snap != nil {
			status = string(snap.Status)
		}
		m.noteRecoveryFailure(w, "session "+status+" after restart")
		return
	}

	w.mu.Lock()
	w.healthy = true
	w.everHealthy = true
	w.consecutiveFailures = 0
	w.recovering = false
	w.lastError = ""
	w.mu.Unlock()

	m.publish(w, events.EventHealthRecovered, "")
	metrics.Recoveries.WithLabelValues("recovered").Inc()
	logger := log.WithComponent("health")
	logger.Info().
		Str("container_id", w.containerID).
		Msg("Session recovered")
}

func (m *Monitor) noteRecoveryFailure(w *watch, reason string) {
	w.mu.Lock()
	w.lastError = reason
	w.mu.Unlock()

	metrics.Recoveries.WithLabelValues("failed").Inc()
	logger := log.WithComponent("health")
	logger.Warn().
		Str("container_id", w.containerID).
		Str("reason", reason).
		Msg("Recovery attempt failed")
}

func (m *Monitor) publish(w *watch, kind events.EventKind, errMsg string) {
	if m.broker == nil {
		return
	}
	m.broker.Publish(&events.Event{
		ContainerID: w.containerID,
		Kind:        kind,
		Health:      w.snapshot(),
		Err:         errMsg,
	})
}
