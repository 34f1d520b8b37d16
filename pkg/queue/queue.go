package queue

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	bolt "go.etcd.io/bbolt"

	"github.com/cuemby/corral/pkg/config"
	"github.com/cuemby/corral/pkg/events"
	"github.com/cuemby/corral/pkg/log"
	"github.com/cuemby/corral/pkg/metrics"
	"github.com/cuemby/corral/pkg/security"
	"github.com/cuemby/corral/pkg/types"
)

var (
	// Bucket names
	bucketJobs    = []byte("jobs")
	bucketPending = []byte("pending")
	bucketDelayed = []byte("delayed")
	bucketActive  = []byte("active")
	bucketDone    = []byte("done")
	bucketDead    = []byte("dead")
	bucketMeta    = []byte("meta")
)

var (
	// ErrNotFound is returned when a job id is unknown
	ErrNotFound = errors.New("job not found")

	// ErrNotActive is returned for terminal transitions on non-active jobs
	ErrNotActive = errors.New("job not active")

	// ErrNotFailed is returned when retrying a job that has not failed
	ErrNotFailed = errors.New("job not failed")
)

// activeEntry is the single active-job marker per container. One key per
// container enforces one in-flight job.
type activeEntry struct {
	JobID      string        `json:"job_id"`
	Deadline   time.Time     `json:"deadline"`
	Visibility time.Duration `json:"visibility"`
}

// containerMeta carries per-container queue flags
type containerMeta struct {
	Paused bool `json:"paused"`
}

// Store is the durable per-container job queue backed by BoltDB
type Store struct {
	db     *bolt.DB
	broker *events.Broker
	cfg    config.QueueConfig
	stopCh chan struct{}
}

// NewStore opens (creating if needed) the queue database
func NewStore(cfg config.QueueConfig, broker *events.Broker) (*Store, error) {
	db, err := bolt.Open(cfg.Path, 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to open queue database: %w", err)
	}

	// Create buckets
	err = db.Update(func(tx *bolt.Tx) error {
		buckets := [][]byte{
			bucketJobs,
			bucketPending,
			bucketDelayed,
			bucketActive,
			bucketDone,
			bucketDead,
			bucketMeta,
		}

		for _, bucket := range buckets {
			if _, err := tx.CreateBucketIfNotExists(bucket); err != nil {
				return fmt.Errorf("failed to create bucket %s: %w", bucket, err)
			}
		}
		return nil
	})

	if err != nil {
		db.Close()
		return nil, err
	}

	return &Store{
		db:     db,
		broker: broker,
		cfg:    cfg,
		stopCh: make(chan struct{}),
	}, nil
}

// Close closes the database
func (s *Store) Close() error {
	return s.db.Close()
}

// pendingKey orders waiting jobs by priority (lower first), then enqueue
// time, then sequence. Big-endian encoding keeps byte order numeric.
func pendingKey(priority int, enqueuedAt time.Time, seq uint64) []byte {
	if priority < 0 {
		priority = 0
	}
	if priority > 255 {
		priority = 255
	}
	key := make([]byte, 17)
	key[0] = byte(priority)
	binary.BigEndian.PutUint64(key[1:9], uint64(enqueuedAt.UnixNano()))
	binary.BigEndian.PutUint64(key[9:17], seq)
	return key
}

// timeSeqKey orders delayed, done, and dead entries by timestamp
func timeSeqKey(ts time.Time, seq uint64) []byte {
	key := make([]byte, 16)
	binary.BigEndian.PutUint64(key[0:8], uint64(ts.UnixNano()))
	binary.BigEndian.PutUint64(key[8:16], seq)
	return key
}

func timeOfKey(key []byte) time.Time {
	return time.Unix(0, int64(binary.BigEndian.Uint64(key[0:8]))).UTC()
}

// backoffDelay implements base * 2^(attempt-1) capped delays
func backoffDelay(attempt int, base, cap time.Duration) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	delay := base
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= cap {
			return cap
		}
	}
	if delay > cap {
		return cap
	}
	return delay
}

func putJob(tx *bolt.Tx, job *types.Job) error {
	data, err := json.Marshal(job)
	if err != nil {
		return err
	}
	return tx.Bucket(bucketJobs).Put([]byte(job.ID), data)
}

func getJob(tx *bolt.Tx, jobID string) (*types.Job, error) {
	data := tx.Bucket(bucketJobs).Get([]byte(jobID))
	if data == nil {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, jobID)
	}
	var job types.Job
	if err := json.Unmarshal(data, &job); err != nil {
		return nil, err
	}
	return &job, nil
}

func getMeta(tx *bolt.Tx, containerID string) containerMeta {
	var meta containerMeta
	if data := tx.Bucket(bucketMeta).Get([]byte(containerID)); data != nil {
		_ = json.Unmarshal(data, &meta)
	}
	return meta
}

func putMeta(tx *bolt.Tx, containerID string, meta containerMeta) error {
	data, err := json.Marshal(meta)
	if err != nil {
		return err
	}
	return tx.Bucket(bucketMeta).Put([]byte(containerID), data)
}

// subBucket returns the container's sub-bucket under parent, creating it
// in update transactions
func subBucket(tx *bolt.Tx, parent []byte, containerID string, create bool) (*bolt.Bucket, error) {
	p := tx.Bucket(parent)
	if create {
		return p.CreateBucketIfNotExists([]byte(containerID))
	}
	b := p.Bucket([]byte(containerID))
	return b, nil
}

// deleteByValue removes the first key in b whose value equals jobID
func deleteByValue(b *bolt.Bucket, jobID string) bool {
	if b == nil {
		return false
	}
	c := b.Cursor()
	for k, v := c.First(); k != nil; k, v = c.Next() {
		if string(v) == jobID {
			_ = b.Delete(k)
			return true
		}
	}
	return false
}

// Enqueue screens, persists, and indexes a job. Returns the new job id
// and the container's waiting count. The job is durable before return.
func (s *Store) Enqueue(payload types.JobPayload) (string, int, error) {
	cleaned, err := security.ScreenInstruction(payload.ContainerID, payload.Instruction)
	if err != nil {
		kind := types.FaultKindOf(err)
		metrics.JobsRejected.WithLabelValues(string(kind)).Inc()
		if kind == types.FaultDangerous && s.broker != nil {
			s.broker.Publish(&events.Event{
				ContainerID: payload.ContainerID,
				Kind:        events.EventInstructionRejected,
				Err:         err.Error(),
			})
		}
		log.WithComponent("queue").Warn().
			Err(err).
			Str("container_id", payload.ContainerID).
			Msg("Rejected instruction")
		return "", 0, err
	}

	now := time.Now().UTC()
	if payload.CreatedAt.IsZero() {
		payload.CreatedAt = now
	}
	priority := payload.Priority
	if priority == 0 {
		priority = payload.Mode.Priority()
	}

	job := &types.Job{
		ID:          uuid.New().String(),
		ContainerID: payload.ContainerID,
		Instruction: cleaned,
		Mode:        payload.Mode,
		Priority:    priority,
		Status:      types.JobWaiting,
		MaxAttempts: s.cfg.MaxAttempts,
		CreatedAt:   payload.CreatedAt,
	}

	var waiting int
	err = s.db.Update(func(tx *bolt.Tx) error {
		if err := putJob(tx, job); err != nil {
			return err
		}

		pending, err := subBucket(tx, bucketPending, job.ContainerID, true)
		if err != nil {
			return err
		}
		seq, err := tx.Bucket(bucketJobs).NextSequence()
		if err != nil {
			return err
		}
		if err := pending.Put(pendingKey(job.Priority, job.CreatedAt, seq), []byte(job.ID)); err != nil {
			return err
		}

		// Bucket stats lag uncommitted writes; count through the cursor
		c := pending.Cursor()
		for k, _ := c.First(); k != nil; k, _ = c.Next() {
			waiting++
		}
		return nil
	})
	if err != nil {
		return "", 0, fmt.Errorf("failed to enqueue job: %w", err)
	}

	metrics.JobsEnqueued.WithLabelValues(string(job.Mode)).Inc()
	return job.ID, waiting, nil
}

// Claim atomically moves the best waiting job to active. Returns nil
// when the container is paused, already has an active job, or has no
// due work. Claimed jobs must heartbeat or finalize within visibility.
func (s *Store) Claim(containerID string, visibility time.Duration) (*types.Job, error) {
	if visibility <= 0 {
		visibility = s.cfg.VisibilityTimeout
	}

	var claimed *types.Job
	err := s.db.Update(func(tx *bolt.Tx) error {
		if getMeta(tx, containerID).Paused {
			return nil
		}

		if tx.Bucket(bucketActive).Get([]byte(containerID)) != nil {
			return nil
		}

		now := time.Now().UTC()
		if err := s.promoteDue(tx, containerID, now); err != nil {
			return err
		}

		pending, err := subBucket(tx, bucketPending, containerID, false)
		if err != nil || pending == nil {
			return err
		}

		c := pending.Cursor()
		key, jobID := c.First()
		if key == nil {
			return nil
		}

		job, err := getJob(tx, string(jobID))
		if err != nil {
			return err
		}
		if err := pending.Delete(key); err != nil {
			return err
		}

		job.Status = types.JobActive
		job.StartedAt = now
		if err := putJob(tx, job); err != nil {
			return err
		}

		entry, err := json.Marshal(activeEntry{
			JobID:      job.ID,
			Deadline:   now.Add(visibility),
			Visibility: visibility,
		})
		if err != nil {
			return err
		}
		if err := tx.Bucket(bucketActive).Put([]byte(containerID), entry); err != nil {
			return err
		}

		claimed = job
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to claim job: %w", err)
	}
	return claimed, nil
}

// promoteDue moves delayed jobs whose ready time has passed back to the
// pending index, preserving their priority and original enqueue order.
func (s *Store) promoteDue(tx *bolt.Tx, containerID string, now time.Time) error {
	delayed, err := subBucket(tx, bucketDelayed, containerID, false)
	if err != nil || delayed == nil {
		return err
	}

	type promotion struct {
		key   []byte
		jobID string
	}
	var due []promotion

	c := delayed.Cursor()
	for k, v := c.First(); k != nil; k, v = c.Next() {
		if timeOfKey(k).After(now) {
			break
		}
		key := make([]byte, len(k))
		copy(key, k)
		due = append(due, promotion{key: key, jobID: string(v)})
	}

	for _, p := range due {
		if err := delayed.Delete(p.key); err != nil {
			return err
		}
		job, err := getJob(tx, p.jobID)
		if err != nil {
			return err
		}
		job.Status = types.JobWaiting
		job.ReadyAt = time.Time{}
		if err := putJob(tx, job); err != nil {
			return err
		}

		pending, err := subBucket(tx, bucketPending, containerID, true)
		if err != nil {
			return err
		}
		seq, err := tx.Bucket(bucketJobs).NextSequence()
		if err != nil {
			return err
		}
		if err := pending.Put(pendingKey(job.Priority, job.CreatedAt, seq), []byte(job.ID)); err != nil {
			return err
		}
	}
	return nil
}

// Heartbeat extends the visibility deadline of the container's active job
func (s *Store) Heartbeat(jobID string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		job, err := getJob(tx, jobID)
		if err != nil {
			return err
		}

		active := tx.Bucket(bucketActive)
		data := active.Get([]byte(job.ContainerID))
		if data == nil {
			return fmt.Errorf("%w: %s", ErrNotActive, jobID)
		}
		var entry activeEntry
		if err := json.Unmarshal(data, &entry); err != nil {
			return err
		}
		if entry.JobID != jobID {
			return fmt.Errorf("%w: %s", ErrNotActive, jobID)
		}

		entry.Deadline = time.Now().UTC().Add(entry.Visibility)
		updated, err := json.Marshal(entry)
		if err != nil {
			return err
		}
		return active.Put([]byte(job.ContainerID), updated)
	})
}

// UpdateProgress persists worker progress on the job record
func (s *Store) UpdateProgress(jobID string, progress types.Progress) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		job, err := getJob(tx, jobID)
		if err != nil {
			return err
		}
		if progress.UpdatedAt.IsZero() {
			progress.UpdatedAt = time.Now().UTC()
		}
		job.Progress = progress
		return putJob(tx, job)
	})
}

// Finalize completes an active job with its captured result
func (s *Store) Finalize(jobID string, result *types.JobResult) error {
	err := s.db.Update(func(tx *bolt.Tx) error {
		job, err := getJob(tx, jobID)
		if err != nil {
			return err
		}
		if job.Status != types.JobActive {
			return fmt.Errorf("%w: %s is %s", ErrNotActive, jobID, job.Status)
		}

		if err := s.releaseActive(tx, job.ContainerID, jobID); err != nil {
			return err
		}

		now := time.Now().UTC()
		job.Status = types.JobCompleted
		job.Result = result
		job.FinishedAt = now
		job.Progress = types.Progress{
			Percent:   100,
			Stage:     types.StageCompleted,
			Message:   "completed",
			UpdatedAt: now,
		}
		if err := putJob(tx, job); err != nil {
			return err
		}

		return s.indexDone(tx, job.ContainerID, job.ID, now)
	})
	if err != nil {
		return fmt.Errorf("failed to finalize job: %w", err)
	}

	metrics.JobsCompleted.Inc()
	return nil
}

// Fail records a failed attempt. Below the attempt cap the job is
// delayed for retry with exponential backoff; at the cap it is moved to
// the dead letter set.
func (s *Store) Fail(jobID string, failErr error) error {
	var deadLettered bool
	var containerID string

	err := s.db.Update(func(tx *bolt.Tx) error {
		job, err := getJob(tx, jobID)
		if err != nil {
			return err
		}
		if job.Status != types.JobActive {
			return fmt.Errorf("%w: %s is %s", ErrNotActive, jobID, job.Status)
		}

		if err := s.releaseActive(tx, job.ContainerID, jobID); err != nil {
			return err
		}

		now := time.Now().UTC()
		job.Attempts++
		reason := "unknown error"
		if failErr != nil {
			reason = failErr.Error()
		}
		job.FailReason = reason
		job.ErrorStack = append(job.ErrorStack,
			fmt.Sprintf("%s attempt %d: %s", now.Format(time.RFC3339), job.Attempts, reason))
		containerID = job.ContainerID

		if job.Attempts >= job.MaxAttempts {
			deadLettered = true
			return s.deadLetter(tx, job, now)
		}

		delay := backoffDelay(job.Attempts, s.cfg.BackoffBase, s.cfg.BackoffCap)
		job.Status = types.JobDelayed
		job.ReadyAt = now.Add(delay)
		if err := putJob(tx, job); err != nil {
			return err
		}

		delayed, err := subBucket(tx, bucketDelayed, job.ContainerID, true)
		if err != nil {
			return err
		}
		seq, err := tx.Bucket(bucketJobs).NextSequence()
		if err != nil {
			return err
		}
		return delayed.Put(timeSeqKey(job.ReadyAt, seq), []byte(job.ID))
	})
	if err != nil {
		return fmt.Errorf("failed to fail job: %w", err)
	}

	metrics.JobsFailed.Inc()
	if deadLettered {
		s.publishDeadLetter(containerID, jobID)
	} else {
		metrics.JobsRetried.Inc()
	}
	return nil
}

// FailTerminal dead letters an active job regardless of its remaining
// attempt budget. Used for faults no retry can fix.
func (s *Store) FailTerminal(jobID string, failErr error) error {
	var containerID string
	err := s.db.Update(func(tx *bolt.Tx) error {
		job, err := getJob(tx, jobID)
		if err != nil {
			return err
		}
		if job.Status != types.JobActive {
			return fmt.Errorf("%w: %s is %s", ErrNotActive, jobID, job.Status)
		}

		if err := s.releaseActive(tx, job.ContainerID, jobID); err != nil {
			return err
		}

		now := time.Now().UTC()
		job.Attempts++
		reason := "unknown error"
		if failErr != nil {
			reason = failErr.Error()
		}
		job.FailReason = reason
		job.ErrorStack = append(job.ErrorStack,
			fmt.Sprintf("%s attempt %d: %s", now.Format(time.RFC3339), job.Attempts, reason))
		containerID = job.ContainerID
		return s.deadLetter(tx, job, now)
	})
	if err != nil {
		return fmt.Errorf("failed to fail job: %w", err)
	}

	metrics.JobsFailed.Inc()
	s.publishDeadLetter(containerID, jobID)
	return nil
}

// deadLetter marks the job failed and stores an immutable copy in the
// dead letter set. Dead letters are exempt from retention sweeps.
func (s *Store) deadLetter(tx *bolt.Tx, job *types.Job, now time.Time) error {
	job.Status = types.JobFailed
	job.FinishedAt = now
	job.Progress = types.Progress{
		Percent:   100,
		Stage:     types.StageFailed,
		Message:   job.FailReason,
		UpdatedAt: now,
	}
	if err := putJob(tx, job); err != nil {
		return err
	}
	if err := s.indexDone(tx, job.ContainerID, job.ID, now); err != nil {
		return err
	}

	dead, err := subBucket(tx, bucketDead, job.ContainerID, true)
	if err != nil {
		return err
	}
	seq, err := tx.Bucket(bucketJobs).NextSequence()
	if err != nil {
		return err
	}
	copyData, err := json.Marshal(types.DeadLetter{Job: *job, DiedAt: now})
	if err != nil {
		return err
	}
	return dead.Put(timeSeqKey(now, seq), copyData)
}

func (s *Store) publishDeadLetter(containerID, jobID string) {
	metrics.JobsDeadLettered.Inc()
	if s.broker != nil {
		s.broker.Publish(&events.Event{
			ContainerID: containerID,
			Kind:        events.EventInstructionDeadLettered,
			JobID:       jobID,
		})
	}
	log.WithComponent("queue").Warn().
		Str("container_id", containerID).
		Str("job_id", jobID).
		Msg("Job dead lettered")
}

func (s *Store) releaseActive(tx *bolt.Tx, containerID, jobID string) error {
	active := tx.Bucket(bucketActive)
	data := active.Get([]byte(containerID))
	if data == nil {
		return fmt.Errorf("%w: %s", ErrNotActive, jobID)
	}
	var entry activeEntry
	if err := json.Unmarshal(data, &entry); err != nil {
		return err
	}
	if entry.JobID != jobID {
		return fmt.Errorf("%w: %s", ErrNotActive, jobID)
	}
	return active.Delete([]byte(containerID))
}

func (s *Store) indexDone(tx *bolt.Tx, containerID, jobID string, finishedAt time.Time) error {
	done, err := subBucket(tx, bucketDone, containerID, true)
	if err != nil {
		return err
	}
	seq, err := tx.Bucket(bucketJobs).NextSequence()
	if err != nil {
		return err
	}
	return done.Put(timeSeqKey(finishedAt, seq), []byte(jobID))
}

// Cancel removes a waiting or delayed job. Returns false for jobs that
// are active or already terminal.
func (s *Store) Cancel(jobID string) (bool, error) {
	var cancelled bool
	err := s.db.Update(func(tx *bolt.Tx) error {
		job, err := getJob(tx, jobID)
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				return nil
			}
			return err
		}

		switch job.Status {
		case types.JobWaiting:
			pending, err := subBucket(tx, bucketPending, job.ContainerID, false)
			if err != nil {
				return err
			}
			if !deleteByValue(pending, jobID) {
				return nil
			}
		case types.JobDelayed:
			delayed, err := subBucket(tx, bucketDelayed, job.ContainerID, false)
			if err != nil {
				return err
			}
			if !deleteByValue(delayed, jobID) {
				return nil
			}
		default:
			return nil
		}

		if err := tx.Bucket(bucketJobs).Delete([]byte(jobID)); err != nil {
			return err
		}
		cancelled = true
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("failed to cancel job: %w", err)
	}
	return cancelled, nil
}

// Retry re-enqueues a failed job with attempts reset to zero. The
// failure audit trail stays on the record.
func (s *Store) Retry(jobID string) error {
	err := s.db.Update(func(tx *bolt.Tx) error {
		job, err := getJob(tx, jobID)
		if err != nil {
			return err
		}
		if job.Status != types.JobFailed {
			return fmt.Errorf("%w: %s is %s", ErrNotFailed, jobID, job.Status)
		}

		done, err := subBucket(tx, bucketDone, job.ContainerID, false)
		if err != nil {
			return err
		}
		deleteByValue(done, jobID)

		now := time.Now().UTC()
		job.Status = types.JobWaiting
		job.Attempts = 0
		job.Result = nil
		job.Progress = types.Progress{}
		job.StartedAt = time.Time{}
		job.FinishedAt = time.Time{}
		job.ReadyAt = time.Time{}
		job.CreatedAt = now
		if err := putJob(tx, job); err != nil {
			return err
		}

		pending, err := subBucket(tx, bucketPending, job.ContainerID, true)
		if err != nil {
			return err
		}
		seq, err := tx.Bucket(bucketJobs).NextSequence()
		if err != nil {
			return err
		}
		return pending.Put(pendingKey(job.Priority, now, seq), []byte(job.ID))
	})
	if err != nil {
		return fmt.Errorf("failed to retry job: %w", err)
	}
	return nil
}

// Pause stops claims for the container. Enqueues are still accepted.
func (s *Store) Pause(containerID string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return putMeta(tx, containerID, containerMeta{Paused: true})
	})
}

// Resume re-enables claims for the container
func (s *Store) Resume(containerID string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return putMeta(tx, containerID, containerMeta{Paused: false})
	})
}

// Get returns the job record by id
func (s *Store) Get(jobID string) (*types.Job, error) {
	var job *types.Job
	err := s.db.View(func(tx *bolt.Tx) error {
		j, err := getJob(tx, jobID)
		if err != nil {
			return err
		}
		job = j
		return nil
	})
	return job, err
}

// Stats reports per-container queue counts and the paused flag
func (s *Store) Stats(containerID string) (*types.QueueStats, error) {
	stats := &types.QueueStats{}
	err := s.db.View(func(tx *bolt.Tx) error {
		stats.Paused = getMeta(tx, containerID).Paused

		if pending, _ := subBucket(tx, bucketPending, containerID, false); pending != nil {
			stats.Waiting = pending.Stats().KeyN
		}
		if delayed, _ := subBucket(tx, bucketDelayed, containerID, false); delayed != nil {
			stats.Delayed = delayed.Stats().KeyN
		}
		if tx.Bucket(bucketActive).Get([]byte(containerID)) != nil {
			stats.Active = 1
		}

		done, _ := subBucket(tx, bucketDone, containerID, false)
		if done == nil {
			return nil
		}
		return done.ForEach(func(k, v []byte) error {
			job, err := getJob(tx, string(v))
			if err != nil {
				return nil
			}
			switch job.Status {
			case types.JobCompleted:
				stats.Completed++
			case types.JobFailed:
				stats.Failed++
			}
			return nil
		})
	})
	if err != nil {
		return nil, fmt.Errorf("failed to read stats: %w", err)
	}
	return stats, nil
}

// TotalStats aggregates live queue depth across all containers
func (s *Store) TotalStats() (types.QueueStats, error) {
	var stats types.QueueStats
	err := s.db.View(func(tx *bolt.Tx) error {
		if err := tx.Bucket(bucketPending).ForEachBucket(func(k []byte) error {
			b := tx.Bucket(bucketPending).Bucket(k)
			stats.Waiting += b.Stats().KeyN
			return nil
		}); err != nil {
			return err
		}
		if err := tx.Bucket(bucketDelayed).ForEachBucket(func(k []byte) error {
			b := tx.Bucket(bucketDelayed).Bucket(k)
			stats.Delayed += b.Stats().KeyN
			return nil
		}); err != nil {
			return err
		}
		return tx.Bucket(bucketActive).ForEach(func(k, v []byte) error {
			stats.Active++
			return nil
		})
	})
	return stats, err
}

// History returns up to limit most-recent terminal jobs, newest first
func (s *Store) History(containerID string, limit int) ([]*types.Job, error) {
	if limit <= 0 {
		limit = 50
	}
	var jobs []*types.Job
	err := s.db.View(func(tx *bolt.Tx) error {
		done, _ := subBucket(tx, bucketDone, containerID, false)
		if done == nil {
			return nil
		}
		c := done.Cursor()
		for k, v := c.Last(); k != nil && len(jobs) < limit; k, v = c.Prev() {
			job, err := getJob(tx, string(v))
			if err != nil {
				continue
			}
			jobs = append(jobs, job)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to read history: %w", err)
	}
	return jobs, nil
}

// DeadLetters returns a page of the container's dead letter set, newest
// first
func (s *Store) DeadLetters(containerID string, limit, offset int) ([]*types.DeadLetter, error) {
	if limit <= 0 {
		limit = 50
	}
	var letters []*types.DeadLetter
	err := s.db.View(func(tx *bolt.Tx) error {
		dead, _ := subBucket(tx, bucketDead, containerID, false)
		if dead == nil {
			return nil
		}
		c := dead.Cursor()
		skipped := 0
		for k, v := c.Last(); k != nil && len(letters) < limit; k, v = c.Prev() {
			if skipped < offset {
				skipped++
				continue
			}
			var letter types.DeadLetter
			if err := json.Unmarshal(v, &letter); err != nil {
				continue
			}
			letters = append(letters, &letter)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to read dead letters: %w", err)
	}
	return letters, nil
}

// Destroy removes every queue artifact for the container
func (s *Store) Destroy(containerID string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		key := []byte(containerID)
		jobs := tx.Bucket(bucketJobs)

		// Collect job ids referenced by every index before dropping them
		collect := func(parent []byte, jobValue bool) error {
			b := tx.Bucket(parent).Bucket(key)
			if b == nil {
				return nil
			}
			if err := b.ForEach(func(k, v []byte) error {
				if jobValue {
					return jobs.Delete(v)
				}
				return nil
			}); err != nil {
				return err
			}
			return tx.Bucket(parent).DeleteBucket(key)
		}

		if err := collect(bucketPending, true); err != nil {
			return err
		}
		if err := collect(bucketDelayed, true); err != nil {
			return err
		}
		if err := collect(bucketDone, true); err != nil {
			return err
		}
		// Dead letters store full copies; the bucket drop removes them
		if err := collect(bucketDead, false); err != nil {
			return err
		}

		if data := tx.Bucket(bucketActive).Get(key); data != nil {
			var entry activeEntry
			if err := json.Unmarshal(data, &entry); err == nil {
				_ = jobs.Delete([]byte(entry.JobID))
			}
			if err := tx.Bucket(bucketActive).Delete(key); err != nil {
				return err
			}
		}

		return tx.Bucket(bucketMeta).Delete(key)
	})
}
