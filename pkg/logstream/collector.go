package logstream

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/cuemby/corral/pkg/config"
	"github.com/cuemby/corral/pkg/log"
	"github.com/cuemby/corral/pkg/metrics"
	"github.com/cuemby/corral/pkg/runtime"
	"github.com/cuemby/corral/pkg/store"
	"github.com/cuemby/corral/pkg/types"
)

const rateWindowSize = 60

// StreamSource is the slice of the runtime surface the collector
// consumes
type StreamSource interface {
	AttachLogs(ctx context.Context, handle string, since time.Time, follow bool) (io.ReadCloser, error)
	Events(ctx context.Context) (<-chan runtime.ContainerEvent, <-chan error)
}

// ContainerSource resolves container records for attachment decisions
type ContainerSource interface {
	RunningContainers() ([]*types.ContainerRecord, error)
	ByRuntimeID(runtimeID string) (*types.ContainerRecord, error)
}

// attachment is one container's log stream. All fields after creation
// are touched only by the consume goroutine.
type attachment struct {
	containerID string
	handle      string
	cancel      context.CancelFunc
	lastSeen    time.Time
	logger      zerolog.Logger
}

// Collector continuously attaches to running containers' multiplexed
// log streams, classifies lines, and batch-inserts them
type Collector struct {
	rt     StreamSource
	db     *gorm.DB
	source ContainerSource
	cfg    config.LogsConfig

	mu          sync.Mutex
	attachments map[string]*attachment
	buffer      []*store.LogEntryModel
	lastCleanup time.Time

	total   atomic.Int64
	dropped atomic.Int64

	sampleMu sync.Mutex
	samples  [rateWindowSize]float64
	sampled  int
	prev     int64

	watchCancel context.CancelFunc
	stopCh      chan struct{}
}

// NewCollector creates the log collector
func NewCollector(rt StreamSource, db *gorm.DB, source ContainerSource, cfg config.LogsConfig) *Collector {
	return &Collector{
		rt:          rt,
		db:          db,
		source:      source,
		cfg:         cfg,
		attachments: make(map[string]*attachment),
		stopCh:      make(chan struct{}),
	}
}

// Start attaches to every running container and begins the flush,
// janitor, sampler, and runtime event loops
func (c *Collector) Start() error {
	records, err := c.source.RunningContainers()
	if err != nil {
		return fmt.Errorf("failed to list running containers: %w", err)
	}
	for _, record := range records {
		c.Attach(record.ID, record.RuntimeID)
	}

	watchCtx, cancel := context.WithCancel(context.Background())
	c.watchCancel = cancel

	go c.flushLoop()
	go c.janitorLoop()
	go c.samplerLoop()
	go c.watchEvents(watchCtx)

	log.WithComponent("logstream").Info().
		Int("attached", len(records)).
		Msg("Log collector started")
	return nil
}

// Stop detaches everything and halts the loops
func (c *Collector) Stop() {
	if c.watchCancel != nil {
		c.watchCancel()
	}
	close(c.stopCh)

	c.mu.Lock()
	for id, att := range c.attachments {
		att.cancel()
		delete(c.attachments, id)
		metrics.LogAttachments.Dec()
	}
	c.mu.Unlock()

	c.flush()
}

// Attach begins collecting one container's logs. At most one
// attachment exists per container; extra calls are no-ops.
func (c *Collector) Attach(containerID, handle string) {
	c.mu.Lock()
	if _, exists := c.attachments[containerID]; exists {
		c.mu.Unlock()
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	att := &attachment{
		containerID: containerID,
		handle:      handle,
		cancel:      cancel,
		logger:      log.ForContainer("logstream", containerID),
	}
	c.attachments[containerID] = att
	c.mu.Unlock()

	metrics.LogAttachments.Inc()
	go c.consume(ctx, att)

	att.logger.Info().Msg("Attached to container logs")
}

// Detach stops collecting one container's logs
func (c *Collector) Detach(containerID string) {
	c.mu.Lock()
	att, exists := c.attachments[containerID]
	if exists {
		att.cancel()
		delete(c.attachments, containerID)
	}
	c.mu.Unlock()

	if exists {
		metrics.LogAttachments.Dec()
		log.WithComponent("logstream").Info().
			Str("container_id", containerID).
			Msg("Detached from container logs")
	}
}

// remove drops bookkeeping after a consume goroutine gives up on its own
func (c *Collector) remove(containerID string) {
	c.mu.Lock()
	att, exists := c.attachments[containerID]
	delete(c.attachments, containerID)
	c.mu.Unlock()
	if exists {
		att.cancel()
		metrics.LogAttachments.Dec()
	}
}

// consume streams one attachment, reconnecting on failure. Three
// consecutive failed streams abandon the attachment; a stream that
// delivered data resets the count.
func (c *Collector) consume(ctx context.Context, att *attachment) {
	since := time.Now().UTC().Add(-c.cfg.Lookback)
	att.lastSeen = since
	failures := 0

	for {
		received, err := c.stream(ctx, att, since)
		if ctx.Err() != nil {
			return
		}
		if runtime.IsGone(err) {
			att.logger.Warn().Msg("Container gone, dropping log attachment")
			c.remove(att.containerID)
			return
		}

		if received {
			failures = 0
			since = att.lastSeen
		} else {
			failures++
		}

		if failures >= c.cfg.ReconnectAttempts && c.cfg.ReconnectAttempts > 0 {
			att.logger.Error().
				Err(err).
				Int("failures", failures).
				Msg("Giving up on log stream after repeated failures")
			c.remove(att.containerID)
			return
		}

		metrics.LogReconnects.Inc()
		att.logger.Warn().
			Err(err).
			Msg("Log stream interrupted, reconnecting")

		select {
		case <-ctx.Done():
			return
		case <-time.After(c.cfg.ReconnectDelay):
		}
	}
}

// stream reads one attachment until error or end. Returns whether any
// frame arrived.
func (c *Collector) stream(ctx context.Context, att *attachment, since time.Time) (bool, error) {
	rc, err := c.rt.AttachLogs(ctx, att.handle, since, true)
	if err != nil {
		return false, err
	}
	defer rc.Close()

	dec := &Decoder{}
	carry := map[types.LogStream][]byte{}
	received := false
	buf := make([]byte, 32*1024)

	for {
		n, readErr := rc.Read(buf)
		if n > 0 {
			frames, decErr := dec.Feed(buf[:n])
			for _, frame := range frames {
				received = true
				c.splitLines(att, frame, carry)
			}
			if decErr != nil {
				return received, decErr
			}
		}
		if readErr != nil {
			// Push any trailing partial lines before reporting
			for stream, rest := range carry {
				if len(rest) > 0 {
					c.push(att, stream, string(rest))
				}
			}
			if readErr == io.EOF {
				return received, fmt.Errorf("log stream ended while attached")
			}
			return received, readErr
		}
	}
}

// splitLines appends the frame payload to the per-stream carry buffer
// and pushes every complete line
func (c *Collector) splitLines(att *attachment, frame Frame, carry map[types.LogStream][]byte) {
	data := append(carry[frame.Stream], frame.Payload...)
	for {
		idx := bytes.IndexByte(data, '\n')
		if idx < 0 {
			break
		}
		c.push(att, frame.Stream, string(data[:idx]))
		data = data[idx+1:]
	}
	carry[frame.Stream] = data
}

// push sanitizes, classifies, and buffers one line
func (c *Collector) push(att *attachment, stream types.LogStream, raw string) {
	wall := time.Now().UTC()
	content, recordedAt := parseLine(raw, wall)
	if content == "" {
		return
	}
	att.lastSeen = recordedAt

	level := classifyLine(stream, content)
	entry := &store.LogEntryModel{
		ContainerID: att.containerID,
		Stream:      string(stream),
		Level:       string(level),
		Content:     content,
		RecordedAt:  recordedAt,
	}

	c.total.Add(1)
	metrics.LogEntriesTotal.WithLabelValues(entry.Level).Inc()

	flushNow := false
	c.mu.Lock()
	limit := c.cfg.BatchSize * 10
	if len(c.buffer) >= limit {
		drop := len(c.buffer) - limit + 1
		c.buffer = c.buffer[drop:]
		c.dropped.Add(int64(drop))
		metrics.LogEntriesDropped.Add(float64(drop))
	}
	c.buffer = append(c.buffer, entry)
	flushNow = len(c.buffer) >= c.cfg.BatchSize
	c.mu.Unlock()

	if flushNow {
		c.flush()
	}
}

// flush batch-inserts the pending buffer. On failure entries are
// re-buffered up to ten batches, oldest dropped beyond that.
func (c *Collector) flush() {
	c.mu.Lock()
	if len(c.buffer) == 0 {
		c.mu.Unlock()
		return
	}
	batch := c.buffer
	c.buffer = nil
	c.mu.Unlock()

	if err := c.db.CreateInBatches(batch, c.cfg.BatchSize).Error; err != nil {
		log.WithComponent("logstream").Error().
			Err(err).
			Int("entries", len(batch)).
			Msg("Log batch insert failed, re-buffering")

		c.mu.Lock()
		c.buffer = append(batch, c.buffer...)
		limit := c.cfg.BatchSize * 10
		if len(c.buffer) > limit {
			drop := len(c.buffer) - limit
			c.buffer = c.buffer[drop:]
			c.dropped.Add(int64(drop))
			metrics.LogEntriesDropped.Add(float64(drop))
		}
		c.mu.Unlock()
	}
}

func (c *Collector) flushLoop() {
	ticker := time.NewTicker(c.cfg.FlushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.flush()
		case <-c.stopCh:
			return
		}
	}
}

func (c *Collector) janitorLoop() {
	ticker := time.NewTicker(c.cfg.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.cleanup()
		case <-c.stopCh:
			return
		}
	}
}

// cleanup deletes entries past the retention window
func (c *Collector) cleanup() {
	cutoff := time.Now().UTC().Add(-c.cfg.Retention)
	result := c.db.Where("recorded_at < ?", cutoff).Delete(&store.LogEntryModel{})
	if result.Error != nil {
		log.WithComponent("logstream").Error().Err(result.Error).Msg("Log retention cleanup failed")
		return
	}

	c.mu.Lock()
	c.lastCleanup = time.Now().UTC()
	c.mu.Unlock()

	if result.RowsAffected > 0 {
		log.WithComponent("logstream").Debug().
			Int64("deleted", result.RowsAffected).
			Msg("Trimmed expired log entries")
	}
}

// samplerLoop records per-second entry counts into the rate window
func (c *Collector) samplerLoop() {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			cur := c.total.Load()
			c.sampleMu.Lock()
			c.samples[c.sampled%rateWindowSize] = float64(cur - c.prev)
			c.sampled++
			c.prev = cur
			c.sampleMu.Unlock()
		case <-c.stopCh:
			return
		}
	}
}

// watchEvents follows runtime start/stop/die notifications and keeps
// the attachment set aligned with running containers
func (c *Collector) watchEvents(ctx context.Context) {
	for {
		evs, errs := c.rt.Events(ctx)

	drain:
		for {
			select {
			case ev, ok := <-evs:
				if !ok {
					break drain
				}
				c.handleEvent(ev)
			case err, ok := <-errs:
				if ok && err != nil {
					log.WithComponent("logstream").Warn().Err(err).Msg("Runtime event stream failed")
				}
				break drain
			case <-ctx.Done():
				return
			}
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(c.cfg.ReconnectDelay):
		}
	}
}

func (c *Collector) handleEvent(ev runtime.ContainerEvent) {
	record, err := c.source.ByRuntimeID(ev.RuntimeID)
	if err != nil || record == nil {
		return
	}

	switch ev.Action {
	case "start":
		c.Attach(record.ID, record.RuntimeID)
	case "stop", "die":
		c.Detach(record.ID)
	}
}

// Stats reports collector counters and the sliding per-second rate
func (c *Collector) Stats() types.LogStats {
	c.mu.Lock()
	attached := len(c.attachments)
	lastCleanup := c.lastCleanup
	c.mu.Unlock()

	c.sampleMu.Lock()
	n := c.sampled
	if n > rateWindowSize {
		n = rateWindowSize
	}
	var sum float64
	for i := 0; i < n; i++ {
		sum += c.samples[i]
	}
	c.sampleMu.Unlock()

	rate := 0.0
	if n > 0 {
		rate = sum / float64(n)
	}

	return types.LogStats{
		Attached:      attached,
		TotalEntries:  c.total.Load(),
		EntriesPerSec: rate,
		Dropped:       c.dropped.Load(),
		LastCleanup:   lastCleanup,
	}
}
