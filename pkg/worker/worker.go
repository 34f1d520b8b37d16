package worker

import (
	"context"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/cuemby/corral/pkg/config"
	"github.com/cuemby/corral/pkg/events"
	"github.com/cuemby/corral/pkg/log"
	"github.com/cuemby/corral/pkg/metrics"
	"github.com/cuemby/corral/pkg/types"
)

// JobSource is the queue surface a worker claims from and settles into.
type JobSource interface {
	Claim(containerID string, visibility time.Duration) (*types.Job, error)
	Heartbeat(jobID string) error
	UpdateProgress(jobID string, progress types.Progress) error
	Finalize(jobID string, result *types.JobResult) error
	Fail(jobID string, failErr error) error
	FailTerminal(jobID string, failErr error) error
}

// SessionDriver is the session manager surface a worker drives.
type SessionDriver interface {
	Status(containerID string) *types.Session
	EnsureStarted(ctx context.Context, containerID, runtimeID string) (*types.Session, error)
	Dispatch(ctx context.Context, containerID, instruction string) (*types.DispatchResult, error)
}

// UsageRecorder ingests assistant output for usage accounting.
type UsageRecorder interface {
	Record(containerID, jobID, stdout string) (bool, error)
}

// Worker claims queued instructions for one container and runs them
// through the assistant session, one at a time. The queue's single
// active job per container keeps concurrent workers from doubling up,
// so the worker itself stays a plain loop.
type Worker struct {
	containerID string
	runtimeID   string

	queue    JobSource
	sessions SessionDriver
	usage    UsageRecorder
	broker   *events.Broker
	cfg      config.WorkerConfig
	session  config.SessionConfig
	limiter  *rate.Limiter
	logger   zerolog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

func newWorker(containerID, runtimeID string, p *Pool) *Worker {
	ctx, cancel := context.WithCancel(context.Background())
	return &Worker{
		containerID: containerID,
		runtimeID:   runtimeID,
		queue:       p.queue,
		sessions:    p.sessions,
		usage:       p.usage,
		broker:      p.broker,
		cfg:         p.cfg,
		session:     p.session,
		limiter:     newClaimLimiter(p.cfg),
		logger:      log.ForContainer("worker", containerID),
		ctx:         ctx,
		cancel:      cancel,
		done:        make(chan struct{}),
	}
}

func newClaimLimiter(cfg config.WorkerConfig) *rate.Limiter {
	if cfg.RateLimit <= 0 || cfg.RateWindow <= 0 {
		return rate.NewLimiter(rate.Inf, 1)
	}
	return rate.NewLimiter(rate.Every(cfg.RateWindow/time.Duration(cfg.RateLimit)), cfg.RateLimit)
}

// run is the claim loop. It polls the queue on the configured cadence
// and processes at most one job at a time. Tokens are only consumed
// when a claim actually yields a job, so idle polling never starves
// the bucket.
func (w *Worker) run() {
	defer close(w.done)

	w.logger.Info().
		Str("runtime_id", w.runtimeID).
		Msg("Worker started")

	for {
		select {
		case <-w.ctx.Done():
			w.logger.Info().Msg("Worker stopped")
			return
		case <-time.After(w.cfg.PollInterval):
		}

		reservation := w.limiter.Reserve()
		if !reservation.OK() || reservation.Delay() > 0 {
			reservation.Cancel()
			metrics.ClaimsDeferred.Inc()
			continue
		}

		job, err := w.queue.Claim(w.containerID, 0)
		if err != nil {
			reservation.Cancel()
			w.logger.Warn().Err(err).Msg("Claim failed")
			continue
		}
		if job == nil {
			reservation.Cancel()
			continue
		}

		w.process(job)
	}
}

// stop cancels the worker context and waits for the claim loop to
// exit. An in-flight dispatch is aborted through the context.
func (w *Worker) stop() {
	w.cancel()
	<-w.done
}

// heartbeatLoop extends the visibility deadline of a claimed job until
// stop closes. Long dispatches outlive the visibility timeout without
// being swept back to waiting.
func (w *Worker) heartbeatLoop(jobID string, stop <-chan struct{}) {
	if w.cfg.HeartbeatInterval <= 0 {
		return
	}
	ticker := time.NewTicker(w.cfg.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			if err := w.queue.Heartbeat(jobID); err != nil {
				w.logger.Warn().Err(err).
					Str("job_id", jobID).
					Msg("Heartbeat failed")
			}
		}
	}
}
