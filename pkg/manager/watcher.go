package manager

import (
	"context"
	"time"

	"github.com/cuemby/corral/pkg/log"
	"github.com/cuemby/corral/pkg/metrics"
	"github.com/cuemby/corral/pkg/runtime"
	"github.com/cuemby/corral/pkg/types"
)

// watchRetryDelay paces re-subscription after the event stream fails
const watchRetryDelay = 5 * time.Second

// watchRuntime follows container start/stop/die notifications and
// routes them through the lifecycle coordinator. A broken stream is
// re-subscribed after a delay; events for containers the registry does
// not know are ignored.
func (m *Manager) watchRuntime(ctx context.Context) {
	defer close(m.watchDone)

	for {
		evs, errs := m.runtime.Events(ctx)
		metrics.UpdateComponent("runtime", true, "")

	drain:
		for {
			select {
			case ev, ok := <-evs:
				if !ok {
					break drain
				}
				m.handleRuntimeEvent(ctx, ev)
			case err, ok := <-errs:
				if ok && err != nil {
					metrics.UpdateComponent("runtime", false, err.Error())
					log.WithComponent("manager").Warn().Err(err).
						Msg("Runtime event stream failed")
				}
				break drain
			case <-ctx.Done():
				return
			}
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(watchRetryDelay):
		}
	}
}

func (m *Manager) handleRuntimeEvent(ctx context.Context, ev runtime.ContainerEvent) {
	record, err := m.registry.ByRuntimeID(ev.RuntimeID)
	if err != nil {
		log.WithComponent("manager").Warn().Err(err).
			Str("runtime_id", ev.RuntimeID).
			Msg("Failed to resolve runtime event")
		return
	}
	if record == nil {
		return
	}

	switch ev.Action {
	case "start":
		if err := m.registry.UpdateStatus(record.ID, types.ContainerStatusRunning); err != nil {
			log.WithComponent("manager").Warn().Err(err).
				Str("container_id", record.ID).
				Msg("Failed to mark container running")
		}
		m.fleet.OnStart(ctx, record.ID, record.RuntimeID)
	case "stop", "die":
		if record.Status != types.ContainerStatusRunning {
			// Docker fires die then stop; the second pass is a no-op
			return
		}
		if err := m.registry.UpdateStatus(record.ID, types.ContainerStatusStopped); err != nil {
			log.WithComponent("manager").Warn().Err(err).
				Str("container_id", record.ID).
				Msg("Failed to mark container stopped")
		}
		m.fleet.OnStop(ctx, record.ID)
	}
}
