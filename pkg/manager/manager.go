package manager

import (
	"context"
	"fmt"
	"sync"

	"gorm.io/gorm"

	"github.com/cuemby/corral/pkg/config"
	"github.com/cuemby/corral/pkg/events"
	"github.com/cuemby/corral/pkg/health"
	"github.com/cuemby/corral/pkg/lifecycle"
	"github.com/cuemby/corral/pkg/log"
	"github.com/cuemby/corral/pkg/logstream"
	"github.com/cuemby/corral/pkg/metrics"
	"github.com/cuemby/corral/pkg/queue"
	"github.com/cuemby/corral/pkg/registry"
	"github.com/cuemby/corral/pkg/runtime"
	"github.com/cuemby/corral/pkg/session"
	"github.com/cuemby/corral/pkg/store"
	"github.com/cuemby/corral/pkg/types"
	"github.com/cuemby/corral/pkg/usage"
	"github.com/cuemby/corral/pkg/worker"
)

// Manager owns the fleet components and their startup and shutdown
// order. External collaborators talk to the fleet exclusively through
// its typed API and the event bus; no component reaches around it.
type Manager struct {
	cfg *config.Config

	db        *gorm.DB
	queue     *queue.Store
	broker    *events.Broker
	runtime   runtime.Runtime
	registry  *registry.Repository
	sessions  *session.Manager
	monitor   *health.Monitor
	workers   *worker.Pool
	collector *logstream.Collector
	usage     *usage.Accountant
	fleet     *lifecycle.Coordinator
	sampler   *metrics.Collector

	mu          sync.Mutex
	started     bool
	watchCancel context.CancelFunc
	watchDone   chan struct{}
}

// NewManager connects the container runtime and assembles the fleet
// components around it
func NewManager(cfg *config.Config) (*Manager, error) {
	rt, err := runtime.NewDockerRuntime(cfg.Runtime)
	if err != nil {
		return nil, fmt.Errorf("failed to connect runtime: %w", err)
	}
	return newManager(cfg, rt)
}

func newManager(cfg *config.Config, rt runtime.Runtime) (*Manager, error) {
	db, err := store.NewConnection(&cfg.Store)
	if err != nil {
		rt.Close()
		return nil, fmt.Errorf("failed to open store: %w", err)
	}

	broker := events.NewBroker()
	broker.Start()

	queueStore, err := queue.NewStore(cfg.Queue, broker)
	if err != nil {
		broker.Stop()
		store.Close(db)
		rt.Close()
		return nil, fmt.Errorf("failed to open queue: %w", err)
	}

	repo := registry.NewRepository(db, cfg.Manifest)
	sessions := session.NewManager(rt, broker, cfg.Session)
	monitor := health.NewMonitor(sessions, broker, cfg.Health)
	accountant := usage.NewAccountant(db, cfg.Usage)
	pool := worker.NewPool(queueStore, sessions, accountant, broker, cfg.Worker, cfg.Session)
	collector := logstream.NewCollector(rt, db, repo, cfg.Logs)
	fleet := lifecycle.NewCoordinator(sessions, monitor, pool, collector, queueStore, repo, broker, cfg.Lifecycle)

	m := &Manager{
		cfg:       cfg,
		db:        db,
		queue:     queueStore,
		broker:    broker,
		runtime:   rt,
		registry:  repo,
		sessions:  sessions,
		monitor:   monitor,
		workers:   pool,
		collector: collector,
		usage:     accountant,
		fleet:     fleet,
	}
	m.sampler = metrics.NewCollector(m)

	metrics.RegisterComponent("store", true, "")
	metrics.RegisterComponent("queue", true, "")
	metrics.RegisterComponent("runtime", true, "")

	return m, nil
}

// Start migrates the store, brings up the background services, adopts
// containers that were already running, and begins following runtime
// events. Call once.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	if m.started {
		m.mu.Unlock()
		return fmt.Errorf("manager already started")
	}
	m.started = true
	m.mu.Unlock()

	if err := store.AutoMigrate(m.db); err != nil {
		metrics.UpdateComponent("store", false, err.Error())
		return fmt.Errorf("failed to migrate store: %w", err)
	}

	if m.cfg.Manifest.Path != "" {
		count, err := m.registry.LoadManifest(m.cfg.Manifest.Path)
		if err != nil {
			return fmt.Errorf("failed to load fleet manifest: %w", err)
		}
		log.WithComponent("manager").Info().
			Int("containers", count).
			Str("path", m.cfg.Manifest.Path).
			Msg("Fleet manifest loaded")
	}

	m.queue.Start()
	m.sessions.Start()
	if err := m.collector.Start(); err != nil {
		return fmt.Errorf("failed to start log collector: %w", err)
	}
	m.usage.Start()
	m.sampler.Start()

	if err := m.fleet.InitExisting(ctx); err != nil {
		return fmt.Errorf("failed to adopt running containers: %w", err)
	}

	watchCtx, cancel := context.WithCancel(context.Background())
	m.watchCancel = cancel
	m.watchDone = make(chan struct{})
	go m.watchRuntime(watchCtx)

	log.WithComponent("manager").Info().Msg("Manager started")
	return nil
}

// Shutdown tears the fleet down in reverse start order. Every step is
// attempted; the store closes last so late writers still land.
func (m *Manager) Shutdown() error {
	log.WithComponent("manager").Info().Msg("Manager stopping")

	if m.watchCancel != nil {
		m.watchCancel()
		<-m.watchDone
	}

	m.sampler.Stop()
	m.usage.Stop()
	m.collector.Stop()
	m.workers.StopAll()
	m.monitor.Close()
	m.sessions.Close()

	m.queue.Stop()
	if err := m.queue.Close(); err != nil {
		log.WithComponent("manager").Error().Err(err).Msg("Failed to close queue")
	}

	m.broker.Stop()

	if err := m.runtime.Close(); err != nil {
		log.WithComponent("manager").Error().Err(err).Msg("Failed to close runtime")
	}

	if err := store.Close(m.db); err != nil {
		return fmt.Errorf("failed to close store: %w", err)
	}

	log.WithComponent("manager").Info().Msg("Manager stopped")
	return nil
}

// EnqueueInstruction appends an instruction to the container's queue.
// The container record must exist; the queue screens the instruction
// itself. Returns the job id and the container's waiting depth.
func (m *Manager) EnqueueInstruction(containerID, instruction string, mode types.Mode) (string, int, error) {
	if _, err := m.registry.Get(containerID); err != nil {
		return "", 0, err
	}
	return m.queue.Enqueue(types.JobPayload{
		ContainerID: containerID,
		Instruction: instruction,
		Mode:        mode,
	})
}

// CancelJob removes a waiting or delayed job. False means the job was
// already active or settled.
func (m *Manager) CancelJob(jobID string) (bool, error) {
	return m.queue.Cancel(jobID)
}

// RetryJob re-enqueues a failed job with a fresh attempt budget
func (m *Manager) RetryJob(jobID string) error {
	return m.queue.Retry(jobID)
}

// QueueStats reports one container's queue counters
func (m *Manager) QueueStats(containerID string) (*types.QueueStats, error) {
	return m.queue.Stats(containerID)
}

// JobHistory returns the container's most recent terminal jobs
func (m *Manager) JobHistory(containerID string, limit int) ([]*types.Job, error) {
	return m.queue.History(containerID, limit)
}

// DeadLetters returns a page of the container's dead letter set
func (m *Manager) DeadLetters(containerID string, limit, offset int) ([]*types.DeadLetter, error) {
	return m.queue.DeadLetters(containerID, limit, offset)
}

// Sessions snapshots every live assistant session
func (m *Manager) Sessions() []*types.Session {
	return m.sessions.List()
}

// HealthStates snapshots every monitored container
func (m *Manager) HealthStates() []*types.HealthState {
	return m.monitor.States()
}

// UsageSummary aggregates the container's token and cost records
func (m *Manager) UsageSummary(containerID string) (*types.UsageSummary, error) {
	return m.usage.Summary(containerID)
}

// LogStats reports collector counters: attachments, entries, rate
func (m *Manager) LogStats() types.LogStats {
	return m.collector.Stats()
}

// UpdateResources applies new limits to the container and keeps the
// registry record in line with what the runtime accepted.
func (m *Manager) UpdateResources(ctx context.Context, containerID string, update runtime.ResourceUpdate) error {
	record, err := m.registry.Get(containerID)
	if err != nil {
		return err
	}
	if err := m.runtime.UpdateResources(ctx, record.RuntimeID, update); err != nil {
		return err
	}
	if update.MemoryBytes != nil {
		record.MemoryBytes = *update.MemoryBytes
	}
	if update.CPUShares != nil {
		record.CPUShares = *update.CPUShares
	}
	if err := m.registry.Save(record); err != nil {
		return fmt.Errorf("failed to persist resource limits: %w", err)
	}
	return nil
}

// DeleteContainer retires a container for good: drains and destroys
// its queue, drops its session and monitoring, and removes the
// registry record. The container itself is removed by whoever owns
// provisioning.
func (m *Manager) DeleteContainer(ctx context.Context, containerID string) error {
	if _, err := m.registry.Get(containerID); err != nil {
		return err
	}
	m.fleet.OnDelete(ctx, containerID)
	return m.registry.Delete(containerID)
}

// StartMonitor resumes health monitoring for a container whose
// recovery budget was exhausted. The operator path after fixing the
// underlying failure.
func (m *Manager) StartMonitor(containerID string) error {
	record, err := m.registry.Get(containerID)
	if err != nil {
		return err
	}
	m.monitor.Watch(record.ID, record.RuntimeID)
	return nil
}

// UpdateHealthConfig applies reloaded probe knobs to the monitor
func (m *Manager) UpdateHealthConfig(cfg config.HealthConfig) {
	m.monitor.UpdateConfig(cfg)
}

// Events exposes the bus for external subscribers
func (m *Manager) Events() *events.Broker {
	return m.broker
}

// QueueTotals feeds the metrics sampler the fleet-wide queue depth
func (m *Manager) QueueTotals() (types.QueueStats, error) {
	return m.queue.TotalStats()
}
