package worker

import (
	"sync"

	"github.com/cuemby/corral/pkg/config"
	"github.com/cuemby/corral/pkg/events"
	"github.com/cuemby/corral/pkg/log"
)

// Pool owns one worker per managed container. The lifecycle
// coordinator ensures a worker when a container comes up and stops it
// when the container goes away.
type Pool struct {
	queue    JobSource
	sessions SessionDriver
	usage    UsageRecorder
	broker   *events.Broker
	cfg      config.WorkerConfig
	session  config.SessionConfig

	mu      sync.Mutex
	workers map[string]*Worker
}

// NewPool wires a pool over the queue, session manager, and usage
// accountant shared by every worker.
func NewPool(queue JobSource, sessions SessionDriver, usage UsageRecorder, broker *events.Broker, cfg config.WorkerConfig, session config.SessionConfig) *Pool {
	return &Pool{
		queue:    queue,
		sessions: sessions,
		usage:    usage,
		broker:   broker,
		cfg:      cfg,
		session:  session,
		workers:  make(map[string]*Worker),
	}
}

// Ensure starts a claim loop for the container. Calling it again with
// the same runtime handle is a no-op; a new handle replaces the worker
// so a recreated container never runs against a stale session target.
func (p *Pool) Ensure(containerID, runtimeID string) {
	p.mu.Lock()
	existing := p.workers[containerID]
	if existing != nil && existing.runtimeID == runtimeID {
		p.mu.Unlock()
		return
	}
	w := newWorker(containerID, runtimeID, p)
	p.workers[containerID] = w
	p.mu.Unlock()

	if existing != nil {
		existing.stop()
		log.WithComponent("worker").Info().
			Str("container_id", containerID).
			Str("runtime_id", runtimeID).
			Msg("Worker replaced for new runtime handle")
	}

	go w.run()
}

// Stop halts the container worker and waits for its claim loop to
// exit. An in-flight dispatch is aborted through the worker context.
func (p *Pool) Stop(containerID string) {
	p.mu.Lock()
	w := p.workers[containerID]
	delete(p.workers, containerID)
	p.mu.Unlock()

	if w != nil {
		w.stop()
	}
}

// StopAll halts every worker and waits for all of them.
func (p *Pool) StopAll() {
	p.mu.Lock()
	drained := make([]*Worker, 0, len(p.workers))
	for _, w := range p.workers {
		drained = append(drained, w)
	}
	p.workers = make(map[string]*Worker)
	p.mu.Unlock()

	var wg sync.WaitGroup
	for _, w := range drained {
		wg.Add(1)
		go func(w *Worker) {
			defer wg.Done()
			w.stop()
		}(w)
	}
	wg.Wait()
}

// Has reports whether a worker is ensured for the container.
func (p *Pool) Has(containerID string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.workers[containerID]
	return ok
}

// Count returns the number of ensured workers.
func (p *Pool) Count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.workers)
}
