package lifecycle

import (
	"context"
	"fmt"
	"time"

	"github.com/cuemby/corral/pkg/config"
	"github.com/cuemby/corral/pkg/events"
	"github.com/cuemby/corral/pkg/log"
	"github.com/cuemby/corral/pkg/metrics"
	"github.com/cuemby/corral/pkg/types"
)

// SessionControl is the slice of the session manager the coordinator
// drives on container transitions
type SessionControl interface {
	EnsureStarted(ctx context.Context, containerID, runtimeID string) (*types.Session, error)
	Stop(containerID string)
	Forget(containerID string)
}

// HealthControl starts and stops per-container health monitoring
type HealthControl interface {
	Watch(containerID, runtimeID string)
	Unwatch(containerID string)
}

// WorkerControl starts and stops per-container instruction workers
type WorkerControl interface {
	Ensure(containerID, runtimeID string)
	Stop(containerID string)
}

// LogControl attaches and detaches container log collection
type LogControl interface {
	Attach(containerID, handle string)
	Detach(containerID string)
}

// QueueControl is the slice of the queue store the coordinator uses to
// gate claims and drain in-flight work
type QueueControl interface {
	Pause(containerID string) error
	Resume(containerID string) error
	Stats(containerID string) (*types.QueueStats, error)
	Destroy(containerID string) error
}

// RecordSource lists container records for startup adoption
type RecordSource interface {
	RunningContainers() ([]*types.ContainerRecord, error)
}

// Coordinator sequences the per-container components when a container
// transitions between running, stopped, and deleted. It is the only
// place that touches more than one component per transition; the
// components themselves never call each other across that boundary.
type Coordinator struct {
	sessions SessionControl
	health   HealthControl
	workers  WorkerControl
	logs     LogControl
	queue    QueueControl
	records  RecordSource
	broker   *events.Broker
	cfg      config.LifecycleConfig
}

// NewCoordinator creates the lifecycle coordinator
func NewCoordinator(
	sessions SessionControl,
	health HealthControl,
	workers WorkerControl,
	logs LogControl,
	queue QueueControl,
	records RecordSource,
	broker *events.Broker,
	cfg config.LifecycleConfig,
) *Coordinator {
	return &Coordinator{
		sessions: sessions,
		health:   health,
		workers:  workers,
		logs:     logs,
		queue:    queue,
		records:  records,
		broker:   broker,
		cfg:      cfg,
	}
}

// OnStart brings up the container's components: session, health
// monitoring, instruction worker, log attachment, and finally the
// queue. A failed step is published and logged but never blocks the
// remaining steps; the health monitor recovers a session that refused
// to start here.
func (c *Coordinator) OnStart(ctx context.Context, containerID, runtimeID string) {
	metrics.LifecycleTransitions.WithLabelValues("start").Inc()
	logger := log.WithComponent("lifecycle")
	logger.Info().
		Str("container_id", containerID).
		Str("runtime_id", runtimeID).
		Msg("Container starting")

	if _, err := c.sessions.EnsureStarted(ctx, containerID, runtimeID); err != nil {
		c.stepFailed(containerID, "ensure_session", err)
	}
	c.health.Watch(containerID, runtimeID)
	c.workers.Ensure(containerID, runtimeID)
	c.logs.Attach(containerID, runtimeID)
	if err := c.queue.Resume(containerID); err != nil {
		c.stepFailed(containerID, "resume_queue", err)
	}
}

// OnStop tears the container's components down in reverse dependency
// order: claims are paused first, the active job gets a bounded drain,
// then monitoring, session, worker, and log attachment go away. Work
// still queued survives and resumes on the next start.
func (c *Coordinator) OnStop(ctx context.Context, containerID string) {
	metrics.LifecycleTransitions.WithLabelValues("stop").Inc()
	logger := log.WithComponent("lifecycle")
	logger.Info().
		Str("container_id", containerID).
		Msg("Container stopping")
	c.stop(ctx, containerID)
}

// OnDelete runs the stop sequence, drops the session record, and
// destroys the container's queue partition, jobs, history, and dead
// letters included.
func (c *Coordinator) OnDelete(ctx context.Context, containerID string) {
	metrics.LifecycleTransitions.WithLabelValues("delete").Inc()
	logger := log.WithComponent("lifecycle")
	logger.Info().
		Str("container_id", containerID).
		Msg("Container deleted")
	c.stop(ctx, containerID)
	c.sessions.Forget(containerID)
	if err := c.queue.Destroy(containerID); err != nil {
		c.stepFailed(containerID, "destroy_queue", err)
	}
}

// InitExisting applies the start sequence to every container whose
// last-known status is running. Called once at process start so
// containers that outlived the previous process are re-adopted.
func (c *Coordinator) InitExisting(ctx context.Context) error {
	records, err := c.records.RunningContainers()
	if err != nil {
		return fmt.Errorf("failed to list running containers: %w", err)
	}
	for _, record := range records {
		c.OnStart(ctx, record.ID, record.RuntimeID)
	}
	if len(records) > 0 {
		logger := log.WithComponent("lifecycle")
		logger.Info().
			Int("containers", len(records)).
			Msg("Adopted running containers")
	}
	return nil
}

func (c *Coordinator) stop(ctx context.Context, containerID string) {
	if err := c.queue.Pause(containerID); err != nil {
		c.stepFailed(containerID, "pause_queue", err)
	}
	c.drainActive(ctx, containerID)
	c.health.Unwatch(containerID)
	c.sessions.Stop(containerID)
	c.workers.Stop(containerID)
	c.logs.Detach(containerID)
}

// drainActive polls the container's queue until its active job settles
// or the drain bound elapses. The bound is hard: whatever is still
// active is abandoned and re-delivered by the queue's visibility sweep
// after the next start.
func (c *Coordinator) drainActive(ctx context.Context, containerID string) {
	deadline := time.Now().Add(c.cfg.DrainTimeout)
	for {
		stats, err := c.queue.Stats(containerID)
		if err != nil {
			c.stepFailed(containerID, "drain_active", err)
			return
		}
		if stats.Active == 0 {
			return
		}
		if time.Now().After(deadline) {
			logger := log.WithComponent("lifecycle")
			logger.Warn().
				Str("container_id", containerID).
				Int("active", stats.Active).
				Dur("drain_timeout", c.cfg.DrainTimeout).
				Msg("Drain bound elapsed with a job still active")
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(c.cfg.DrainPoll):
		}
	}
}

func (c *Coordinator) stepFailed(containerID, step string, err error) {
	metrics.LifecycleStepErrors.WithLabelValues(step).Inc()
	logger := log.WithComponent("lifecycle")
	logger.Error().
		Err(err).
		Str("container_id", containerID).
		Str("step", step).
		Msg("Lifecycle step failed")
	if c.broker != nil {
		c.broker.Publish(&events.Event{
			ContainerID: containerID,
			Kind:        events.EventLifecycleError,
			Err:         fmt.Sprintf("%s: %v", step, err),
		})
	}
}
