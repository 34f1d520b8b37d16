package queue

import (
	"encoding/json"
	"fmt"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/cuemby/corral/pkg/log"
	"github.com/cuemby/corral/pkg/types"
)

// Start launches the visibility and retention sweep loops
func (s *Store) Start() {
	go s.visibilityLoop()
	go s.retentionLoop()
	log.WithComponent("queue").Info().
		Str("path", s.cfg.Path).
		Dur("visibility_timeout", s.cfg.VisibilityTimeout).
		Int("max_attempts", s.cfg.MaxAttempts).
		Msg("Queue store started")
}

// Stop stops the sweep loops
func (s *Store) Stop() {
	close(s.stopCh)
}

func (s *Store) visibilityLoop() {
	ticker := time.NewTicker(s.cfg.VisibilityInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := s.sweepExpired(); err != nil {
				log.WithComponent("queue").Error().Err(err).Msg("Visibility sweep failed")
			}
		case <-s.stopCh:
			return
		}
	}
}

func (s *Store) retentionLoop() {
	ticker := time.NewTicker(s.cfg.RetentionInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := s.sweepRetention(); err != nil {
				log.WithComponent("queue").Error().Err(err).Msg("Retention sweep failed")
			}
		case <-s.stopCh:
			return
		}
	}
}

// sweepExpired returns jobs whose visibility deadline passed to waiting
// with an extra attempt counted. Jobs at the attempt cap dead letter.
func (s *Store) sweepExpired() error {
	now := time.Now().UTC()
	var deadLettered []string
	containerOf := map[string]string{}

	err := s.db.Update(func(tx *bolt.Tx) error {
		type expiry struct {
			containerID string
			jobID       string
		}
		var expired []expiry

		active := tx.Bucket(bucketActive)
		if err := active.ForEach(func(k, v []byte) error {
			var entry activeEntry
			if err := json.Unmarshal(v, &entry); err != nil {
				return nil
			}
			if entry.Deadline.Before(now) {
				expired = append(expired, expiry{containerID: string(k), jobID: entry.JobID})
			}
			return nil
		}); err != nil {
			return err
		}

		for _, e := range expired {
			if err := active.Delete([]byte(e.containerID)); err != nil {
				return err
			}
			job, err := getJob(tx, e.jobID)
			if err != nil {
				continue
			}

			job.Attempts++
			job.ErrorStack = append(job.ErrorStack,
				fmt.Sprintf("%s attempt %d: visibility timeout expired", now.Format(time.RFC3339), job.Attempts))

			if job.Attempts >= job.MaxAttempts {
				job.FailReason = "visibility timeout expired"
				if err := s.deadLetter(tx, job, now); err != nil {
					return err
				}
				deadLettered = append(deadLettered, job.ID)
				containerOf[job.ID] = job.ContainerID
				continue
			}

			job.Status = types.JobWaiting
			job.StartedAt = time.Time{}
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

			log.WithComponent("queue").Warn().
				Str("container_id", job.ContainerID).
				Str("job_id", job.ID).
				Int("attempts", job.Attempts).
				Msg("Claimed job expired, returned to waiting")
		}
		return nil
	})
	if err != nil {
		return err
	}

	for _, jobID := range deadLettered {
		s.publishDeadLetter(containerOf[jobID], jobID)
	}
	return nil
}

// sweepRetention trims terminal jobs that exceed the age or count
// bounds. Dead letter copies are never trimmed.
func (s *Store) sweepRetention() error {
	var containers []string
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketDone).ForEachBucket(func(k []byte) error {
			containers = append(containers, string(k))
			return nil
		})
	})
	if err != nil {
		return err
	}

	for _, containerID := range containers {
		if err := s.trimContainer(containerID); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) trimContainer(containerID string) error {
	now := time.Now().UTC()

	return s.db.Update(func(tx *bolt.Tx) error {
		done, err := subBucket(tx, bucketDone, containerID, false)
		if err != nil || done == nil {
			return err
		}

		type entry struct {
			key        []byte
			jobID      string
			status     types.JobStatus
			finishedAt time.Time
		}
		var completed, failed []entry
		var orphaned [][]byte

		c := done.Cursor()
		for k, v := c.First(); k != nil; k, v = c.Next() {
			key := make([]byte, len(k))
			copy(key, k)
			job, err := getJob(tx, string(v))
			if err != nil {
				orphaned = append(orphaned, key)
				continue
			}
			e := entry{key: key, jobID: job.ID, status: job.Status, finishedAt: job.FinishedAt}
			switch job.Status {
			case types.JobCompleted:
				completed = append(completed, e)
			case types.JobFailed:
				failed = append(failed, e)
			}
		}

		for _, key := range orphaned {
			if err := done.Delete(key); err != nil {
				return err
			}
		}

		remove := func(entries []entry, maxAge time.Duration, keep int) error {
			cutoff := now.Add(-maxAge)
			// Entries are in finish order; everything past the keep
			// bound counts from the oldest end
			excess := len(entries) - keep
			for i, e := range entries {
				if i >= excess && !e.finishedAt.Before(cutoff) {
					continue
				}
				if err := done.Delete(e.key); err != nil {
					return err
				}
				if err := tx.Bucket(bucketJobs).Delete([]byte(e.jobID)); err != nil {
					return err
				}
			}
			return nil
		}

		if err := remove(completed, s.cfg.CompletedRetention, s.cfg.CompletedKeep); err != nil {
			return err
		}
		return remove(failed, s.cfg.FailedRetention, s.cfg.FailedKeep)
	})
}
