package metrics

import (
	"time"

	"github.com/cuemby/corral/pkg/types"
)

// sampleInterval is how often the collector reads queue totals.
const sampleInterval = 15 * time.Second

// FleetSource exposes the queue totals the collector samples. Session,
// monitor, and attachment gauges are maintained incrementally by their
// owning components; queue depth lives in bbolt and is cheapest to
// sample.
type FleetSource interface {
	QueueTotals() (types.QueueStats, error)
}

// Collector keeps the queue depth gauges current.
type Collector struct {
	source FleetSource
	stopCh chan struct{}
}

// NewCollector creates a collector reading from source.
func NewCollector(source FleetSource) *Collector {
	return &Collector{
		source: source,
		stopCh: make(chan struct{}),
	}
}

// Start launches the sampling loop. The first sample lands immediately
// so the gauges are never blank between process start and the first
// tick.
func (c *Collector) Start() {
	go c.sampleLoop()
}

// Stop ends the sampling loop
func (c *Collector) Stop() {
	close(c.stopCh)
}

func (c *Collector) sampleLoop() {
	ticker := time.NewTicker(sampleInterval)
	defer ticker.Stop()

	c.sample()
	for {
		select {
		case <-ticker.C:
			c.sample()
		case <-c.stopCh:
			return
		}
	}
}

func (c *Collector) sample() {
	stats, err := c.source.QueueTotals()
	if err != nil {
		return
	}
	QueueDepth.WithLabelValues("waiting").Set(float64(stats.Waiting))
	QueueDepth.WithLabelValues("active").Set(float64(stats.Active))
	QueueDepth.WithLabelValues("delayed").Set(float64(stats.Delayed))
}
