package logstream

import (
	"bytes"
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/cuemby/corral/pkg/config"
	"github.com/cuemby/corral/pkg/runtime"
	"github.com/cuemby/corral/pkg/store"
	"github.com/cuemby/corral/pkg/types"
)

const (
	testContainer = "c1a2b3d4e5f6"
	testHandle    = "rt-c1a2b3d4e5f6"
)

type fakeStreams struct {
	mu     sync.Mutex
	queue  []func() (io.ReadCloser, error)
	calls  int
	events chan runtime.ContainerEvent
	errs   chan error
}

func newFakeStreams() *fakeStreams {
	return &fakeStreams{
		events: make(chan runtime.ContainerEvent),
		errs:   make(chan error),
	}
}

func (f *fakeStreams) AttachLogs(ctx context.Context, handle string, since time.Time, follow bool) (io.ReadCloser, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if len(f.queue) == 0 {
		return nil, errors.New("daemon unavailable")
	}
	next := f.queue[0]
	f.queue = f.queue[1:]
	return next()
}

func (f *fakeStreams) Events(ctx context.Context) (<-chan runtime.ContainerEvent, <-chan error) {
	return f.events, f.errs
}

func (f *fakeStreams) attachCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func (f *fakeStreams) script(fn func() (io.ReadCloser, error)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.queue = append(f.queue, fn)
}

type fakeRecords struct {
	running []*types.ContainerRecord
	known   []*types.ContainerRecord
}

func (f *fakeRecords) RunningContainers() ([]*types.ContainerRecord, error) {
	return f.running, nil
}

func (f *fakeRecords) ByRuntimeID(runtimeID string) (*types.ContainerRecord, error) {
	for _, record := range append(f.running, f.known...) {
		if record.RuntimeID == runtimeID {
			return record, nil
		}
	}
	return nil, nil
}

func testLogsConfig() config.LogsConfig {
	return config.LogsConfig{
		BatchSize:         2,
		FlushInterval:     20 * time.Millisecond,
		Retention:         24 * time.Hour,
		CleanupInterval:   time.Hour,
		ReconnectDelay:    10 * time.Millisecond,
		ReconnectAttempts: 3,
		Lookback:          time.Hour,
	}
}

// frameStream encodes the given lines as stdout frames; the reader
// EOFs when drained
func frameStream(lines ...string) func() (io.ReadCloser, error) {
	return func() (io.ReadCloser, error) {
		var buf bytes.Buffer
		for _, line := range lines {
			if err := EncodeFrame(&buf, types.LogStreamStdout, []byte(line)); err != nil {
				return nil, err
			}
		}
		return io.NopCloser(&buf), nil
	}
}

func newTestCollector(t *testing.T, streams *fakeStreams, records *fakeRecords) (*Collector, *gorm.DB) {
	t.Helper()
	db, err := store.NewTestConnection()
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close(db) })

	return NewCollector(streams, db, records, testLogsConfig()), db
}

func countEntries(t *testing.T, db *gorm.DB) int64 {
	t.Helper()
	var n int64
	require.NoError(t, db.Model(&store.LogEntryModel{}).Count(&n).Error)
	return n
}

// TestCollectorPersistsEntries runs the full path from multiplexed
// frames to classified rows
func TestCollectorPersistsEntries(t *testing.T) {
	streams := newFakeStreams()
	reader, writer := io.Pipe()
	streams.script(func() (io.ReadCloser, error) { return reader, nil })

	records := &fakeRecords{running: []*types.ContainerRecord{
		{ID: testContainer, RuntimeID: testHandle, Status: types.ContainerStatusRunning},
	}}

	collector, db := newTestCollector(t, streams, records)
	require.NoError(t, collector.Start())
	defer collector.Stop()
	defer writer.Close()

	go func() {
		_ = EncodeFrame(writer, types.LogStreamStdout, []byte("2025-06-01T08:30:15.5Z npm install\n"))
		_ = EncodeFrame(writer, types.LogStreamStderr, []byte("connection reset\n"))
	}()

	require.Eventually(t, func() bool {
		return countEntries(t, db) == 2
	}, 2*time.Second, 10*time.Millisecond)

	var entries []store.LogEntryModel
	require.NoError(t, db.Order("recorded_at asc").Find(&entries).Error)
	require.Len(t, entries, 2)

	assert.Equal(t, testContainer, entries[0].ContainerID)
	assert.Equal(t, string(types.LogStreamStdout), entries[0].Stream)
	assert.Equal(t, string(types.LogLevelBuild), entries[0].Level)
	assert.Equal(t, "npm install", entries[0].Content)
	assert.Equal(t, 2025, entries[0].RecordedAt.UTC().Year())

	assert.Equal(t, string(types.LogStreamStderr), entries[1].Stream)
	assert.Equal(t, string(types.LogLevelError), entries[1].Level)

	stats := collector.Stats()
	assert.Equal(t, 1, stats.Attached)
	assert.EqualValues(t, 2, stats.TotalEntries)
}

// TestCollectorAssemblesSplitLines joins a line that spans frames
func TestCollectorAssemblesSplitLines(t *testing.T) {
	streams := newFakeStreams()
	reader, writer := io.Pipe()
	streams.script(func() (io.ReadCloser, error) { return reader, nil })

	collector, db := newTestCollector(t, streams, &fakeRecords{})
	collector.Attach(testContainer, testHandle)
	defer collector.Stop()
	defer writer.Close()

	go func() {
		_ = EncodeFrame(writer, types.LogStreamStdout, []byte("hel"))
		_ = EncodeFrame(writer, types.LogStreamStdout, []byte("lo world\nsecond line\n"))
	}()

	require.Eventually(t, func() bool {
		return countEntries(t, db) == 2
	}, 2*time.Second, 10*time.Millisecond)

	var entries []store.LogEntryModel
	require.NoError(t, db.Order("id asc").Find(&entries).Error)
	assert.Equal(t, "hello world", entries[0].Content)
	assert.Equal(t, "second line", entries[1].Content)
}

// TestCollectorReconnects resumes after a stream ends mid-attachment
func TestCollectorReconnects(t *testing.T) {
	streams := newFakeStreams()
	streams.script(frameStream("first stream line\n"))

	reader, writer := io.Pipe()
	streams.script(func() (io.ReadCloser, error) { return reader, nil })

	collector, db := newTestCollector(t, streams, &fakeRecords{})
	collector.Attach(testContainer, testHandle)
	defer collector.Stop()
	defer writer.Close()

	require.Eventually(t, func() bool {
		return streams.attachCalls() >= 2
	}, 2*time.Second, 10*time.Millisecond)

	go func() {
		_ = EncodeFrame(writer, types.LogStreamStdout, []byte("after reconnect\n"))
	}()

	require.Eventually(t, func() bool {
		var n int64
		db.Model(&store.LogEntryModel{}).Where("content = ?", "after reconnect").Count(&n)
		return n == 1
	}, 2*time.Second, 10*time.Millisecond)
}

// TestCollectorGivesUpAfterRepeatedFailures abandons the attachment
func TestCollectorGivesUpAfterRepeatedFailures(t *testing.T) {
	streams := newFakeStreams() // empty queue, every attach fails

	collector, _ := newTestCollector(t, streams, &fakeRecords{})
	collector.Attach(testContainer, testHandle)
	defer collector.Stop()

	require.Eventually(t, func() bool {
		return collector.Stats().Attached == 0
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, 3, streams.attachCalls())
}

// TestCollectorStopsOnGone treats a missing container as final
func TestCollectorStopsOnGone(t *testing.T) {
	streams := newFakeStreams()
	streams.script(func() (io.ReadCloser, error) {
		return nil, types.Faultf(types.FaultGone, "runtime.attach_logs", "no such container")
	})

	collector, _ := newTestCollector(t, streams, &fakeRecords{})
	collector.Attach(testContainer, testHandle)
	defer collector.Stop()

	require.Eventually(t, func() bool {
		return collector.Stats().Attached == 0
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, 1, streams.attachCalls())
}

// TestCollectorEventDrivenAttachment follows runtime start and die
// notifications
func TestCollectorEventDrivenAttachment(t *testing.T) {
	streams := newFakeStreams()
	reader, writer := io.Pipe()
	defer writer.Close()
	streams.script(func() (io.ReadCloser, error) { return reader, nil })

	records := &fakeRecords{known: []*types.ContainerRecord{
		{ID: testContainer, RuntimeID: testHandle, Status: types.ContainerStatusStopped},
	}}

	collector, _ := newTestCollector(t, streams, records)
	require.NoError(t, collector.Start())
	defer collector.Stop()
	require.Equal(t, 0, collector.Stats().Attached)

	streams.events <- runtime.ContainerEvent{RuntimeID: testHandle, Action: "start", At: time.Now()}
	require.Eventually(t, func() bool {
		return collector.Stats().Attached == 1
	}, 2*time.Second, 10*time.Millisecond)

	streams.events <- runtime.ContainerEvent{RuntimeID: testHandle, Action: "die", At: time.Now()}
	require.Eventually(t, func() bool {
		return collector.Stats().Attached == 0
	}, 2*time.Second, 10*time.Millisecond)
}

// TestCollectorCleanup trims entries past retention
func TestCollectorCleanup(t *testing.T) {
	collector, db := newTestCollector(t, newFakeStreams(), &fakeRecords{})

	old := &store.LogEntryModel{
		ContainerID: testContainer,
		Stream:      string(types.LogStreamStdout),
		Level:       string(types.LogLevelInfo),
		Content:     "ancient history",
		RecordedAt:  time.Now().UTC().Add(-25 * time.Hour),
	}
	fresh := &store.LogEntryModel{
		ContainerID: testContainer,
		Stream:      string(types.LogStreamStdout),
		Level:       string(types.LogLevelInfo),
		Content:     "recent news",
		RecordedAt:  time.Now().UTC(),
	}
	require.NoError(t, db.Create(old).Error)
	require.NoError(t, db.Create(fresh).Error)

	collector.cleanup()

	var remaining []store.LogEntryModel
	require.NoError(t, db.Find(&remaining).Error)
	require.Len(t, remaining, 1)
	assert.Equal(t, "recent news", remaining[0].Content)
	assert.False(t, collector.Stats().LastCleanup.IsZero())
}

// TestCollectorDropsOldestWhenStoreDown bounds the pending buffer at
// ten batches
func TestCollectorDropsOldestWhenStoreDown(t *testing.T) {
	streams := newFakeStreams()
	reader, writer := io.Pipe()
	streams.script(func() (io.ReadCloser, error) { return reader, nil })

	collector, db := newTestCollector(t, streams, &fakeRecords{})
	require.NoError(t, db.Migrator().DropTable(&store.LogEntryModel{}))

	collector.Attach(testContainer, testHandle)
	defer collector.Stop()
	defer writer.Close()

	go func() {
		for i := 0; i < 60; i++ {
			_ = EncodeFrame(writer, types.LogStreamStdout, []byte("overflow line\n"))
		}
	}()

	require.Eventually(t, func() bool {
		return collector.Stats().Dropped > 0
	}, 2*time.Second, 10*time.Millisecond)
}
