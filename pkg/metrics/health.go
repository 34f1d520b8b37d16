package metrics

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"
)

// readinessGates lists the components that must report healthy before the
// process advertises ready. Without the store and queue no instruction
// survives a restart, and without the runtime none can be dispatched.
var readinessGates = []string{"store", "queue", "runtime"}

// ComponentStatus is one component's entry in a Report.
type ComponentStatus struct {
	Healthy bool      `json:"healthy"`
	Detail  string    `json:"detail,omitempty"`
	Updated time.Time `json:"updated"`
}

// Report is the document served on the /healthz and /readyz endpoints.
type Report struct {
	Status     string                     `json:"status"`
	Version    string                     `json:"version,omitempty"`
	Uptime     string                     `json:"uptime"`
	Components map[string]ComponentStatus `json:"components,omitempty"`
	Reason     string                     `json:"reason,omitempty"`
}

// board holds the component states behind the ops endpoints. The manager
// registers components during startup and flips them as they fail or
// recover.
type board struct {
	mu      sync.RWMutex
	entries map[string]ComponentStatus
	version string
	started time.Time
}

func newBoard() *board {
	return &board{
		entries: make(map[string]ComponentStatus),
		started: time.Now(),
	}
}

var ops = newBoard()

// SetVersion records the build version included in reports.
func SetVersion(version string) {
	ops.mu.Lock()
	defer ops.mu.Unlock()
	ops.version = version
}

// RegisterComponent puts a component on the board. Registering a name
// that already exists overwrites its state, so this doubles as the
// update path.
func RegisterComponent(name string, healthy bool, detail string) {
	ops.mu.Lock()
	defer ops.mu.Unlock()
	ops.entries[name] = ComponentStatus{
		Healthy: healthy,
		Detail:  detail,
		Updated: time.Now(),
	}
}

// UpdateComponent flips a component's state on the board.
func UpdateComponent(name string, healthy bool, detail string) {
	RegisterComponent(name, healthy, detail)
}

// health reports every registered component. The overall status is ok
// only while nothing on the board is failing; per-component detail
// stays in the entries.
func (b *board) health() Report {
	b.mu.RLock()
	defer b.mu.RUnlock()

	rep := Report{
		Status:     "ok",
		Version:    b.version,
		Uptime:     b.uptime(),
		Components: make(map[string]ComponentStatus, len(b.entries)),
	}
	for name, st := range b.entries {
		rep.Components[name] = st
		if !st.Healthy {
			rep.Status = "degraded"
		}
	}
	return rep
}

// readiness walks the gate list in order and reports the first blocker.
// Gates that never registered count as blocking so a half-started
// process is not routable.
func (b *board) readiness() Report {
	b.mu.RLock()
	defer b.mu.RUnlock()

	rep := Report{
		Status:     "ready",
		Version:    b.version,
		Uptime:     b.uptime(),
		Components: make(map[string]ComponentStatus, len(readinessGates)),
	}
	for _, name := range readinessGates {
		st, registered := b.entries[name]
		if !registered {
			st = ComponentStatus{Detail: "not registered"}
		}
		rep.Components[name] = st
		if st.Healthy || rep.Status != "ready" {
			continue
		}
		rep.Status = "waiting"
		rep.Reason = "waiting for " + name
	}
	return rep
}

// uptime is called with b.mu held.
func (b *board) uptime() string {
	return time.Since(b.started).Round(time.Second).String()
}

// HealthHandler serves GET /healthz. A failing component turns the
// response into a 503; the body always carries the full component map.
func HealthHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		rep := ops.health()
		writeReport(w, rep, rep.Status == "ok")
	}
}

// ReadyHandler serves GET /readyz. Orchestrators use it to hold traffic
// until the critical components have all come up.
func ReadyHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		rep := ops.readiness()
		writeReport(w, rep, rep.Status == "ready")
	}
}

// LivenessHandler serves GET /livez. It proves the process can still
// answer, nothing more, so it never reports anything but 200.
func LivenessHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]string{
			"status": "alive",
			"uptime": time.Since(ops.started).Round(time.Second).String(),
		})
	}
}

func writeReport(w http.ResponseWriter, rep Report, ok bool) {
	w.Header().Set("Content-Type", "application/json")
	if !ok {
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	_ = json.NewEncoder(w).Encode(rep)
}
