package worker

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/cuemby/corral/pkg/events"
	"github.com/cuemby/corral/pkg/metrics"
	"github.com/cuemby/corral/pkg/security"
	"github.com/cuemby/corral/pkg/types"
)

// stderrSnippetLimit bounds how much captured stderr lands in a fail
// reason.
const stderrSnippetLimit = 200

// process runs one claimed job through the stage machine and settles
// it as completed, retried, or dead lettered. A heartbeat goroutine
// keeps the claim visible for the duration.
func (w *Worker) process(job *types.Job) {
	timer := metrics.NewTimer()

	w.logger.Info().
		Str("job_id", job.ID).
		Str("mode", string(job.Mode)).
		Int("attempt", job.Attempts+1).
		Msg("Processing instruction")

	hbStop := make(chan struct{})
	go w.heartbeatLoop(job.ID, hbStop)
	defer close(hbStop)

	w.publish(&events.Event{
		ContainerID: w.containerID,
		Kind:        events.EventInstructionStarted,
		JobID:       job.ID,
	})

	result, err := w.execute(job)
	if err != nil {
		w.fail(job, err)
	} else {
		w.finish(job, result)
	}
	timer.ObserveDuration(metrics.InstructionDuration)
}

func (w *Worker) execute(job *types.Job) (*types.DispatchResult, error) {
	instruction, err := w.validate(job)
	if err != nil {
		return nil, err
	}
	if err := w.ensureSession(job); err != nil {
		return nil, err
	}

	w.progress(job, 35, types.StageSendingInstruction, "sending instruction to the assistant")

	result, err := w.dispatch(job, instruction)
	if err != nil {
		return nil, err
	}
	if err := w.finalize(job, result); err != nil {
		return nil, err
	}
	return result, nil
}

// validate re-screens the stored instruction. Jobs are screened at
// enqueue time, but blocked patterns can change between enqueue and
// claim, so the cleaned form from this pass is what gets dispatched.
func (w *Worker) validate(job *types.Job) (string, error) {
	w.progress(job, 5, types.StageValidating, "validating instruction")

	instruction, err := security.ScreenInstruction(w.containerID, job.Instruction)
	if err != nil {
		return "", err
	}

	w.progress(job, 10, types.StageValidating, "instruction validated")
	return instruction, nil
}

// ensureSession makes sure the assistant daemon is running before the
// instruction is sent. A session already running skips the start path.
func (w *Worker) ensureSession(job *types.Job) error {
	w.progress(job, 15, types.StageCheckingDaemon, "checking the assistant session")

	if snap := w.sessions.Status(w.containerID); snap != nil && snap.Status == types.SessionRunning {
		return nil
	}

	w.progress(job, 20, types.StageStartingDaemon, "starting the assistant session")
	if _, err := w.sessions.EnsureStarted(w.ctx, w.containerID, w.runtimeID); err != nil {
		return err
	}
	if err := w.awaitRunning(); err != nil {
		return err
	}

	w.progress(job, 30, types.StageStartingDaemon, "assistant session is running")
	return nil
}

// awaitRunning polls session status until it reaches running or the
// start timeout lapses. EnsureStarted returning is not enough on its
// own when the session was mid-dispatch or freshly restarted.
func (w *Worker) awaitRunning() error {
	deadline := time.NewTimer(w.session.StartTimeout)
	defer deadline.Stop()
	ticker := time.NewTicker(w.session.PollInterval)
	defer ticker.Stop()

	for {
		if snap := w.sessions.Status(w.containerID); snap != nil && snap.Status == types.SessionRunning {
			return nil
		}
		select {
		case <-w.ctx.Done():
			return w.ctx.Err()
		case <-deadline.C:
			return types.Faultf(types.FaultNotReady, "worker.start_daemon",
				"session did not reach running within %s", w.session.StartTimeout)
		case <-ticker.C:
		}
	}
}

// dispatch hands the instruction to the session and blocks until the
// assistant finishes. While it runs, barrier waits published by the
// session are re-published as job progress so subscribers following
// the job see them.
func (w *Worker) dispatch(job *types.Job, instruction string) (*types.DispatchResult, error) {
	var forward sync.WaitGroup
	var sub *events.Subscription
	if w.broker != nil {
		sub = w.broker.Subscribe(w.containerID, events.EventInstructionProgress)
		forward.Add(1)
		go func() {
			defer forward.Done()
			for event := range sub.C {
				// Session barrier events carry no job ID; anything
				// with one is an echo of our own progress.
				if event.JobID != "" || event.AgentCount == nil {
					continue
				}
				w.progress(job, 55, types.StageProcessing,
					fmt.Sprintf("waiting for %d background agents", *event.AgentCount))
			}
		}()
	}

	w.progress(job, 40, types.StageSendingInstruction, "instruction handed to the session")
	w.progress(job, 45, types.StageProcessing, "assistant is processing the instruction")

	result, err := w.sessions.Dispatch(w.ctx, w.containerID, instruction)

	if sub != nil {
		w.broker.Unsubscribe(sub)
		forward.Wait()
	}
	if err != nil {
		return nil, err
	}

	w.progress(job, 55, types.StageProcessing, "assistant finished")
	return result, nil
}

// finalize validates the dispatch result and records usage. A non-zero
// exit is a transient fault so the attempt counts against the retry
// budget. Usage recording failures are logged, never fatal.
func (w *Worker) finalize(job *types.Job, result *types.DispatchResult) error {
	w.progress(job, 80, types.StageFinalizing, "validating the result")

	if result.ExitCode != 0 {
		snippet := strings.TrimSpace(result.Stderr)
		if len(snippet) > stderrSnippetLimit {
			snippet = snippet[:stderrSnippetLimit]
		}
		if snippet != "" {
			return types.Faultf(types.FaultTransient, "worker.finalize",
				"assistant exited with code %d: %s", result.ExitCode, snippet)
		}
		return types.Faultf(types.FaultTransient, "worker.finalize",
			"assistant exited with code %d", result.ExitCode)
	}

	if w.usage != nil {
		if _, err := w.usage.Record(w.containerID, job.ID, result.Stdout); err != nil {
			w.logger.Warn().Err(err).
				Str("job_id", job.ID).
				Msg("Usage recording failed")
		}
	}

	w.progress(job, 95, types.StageFinalizing, "usage recorded")
	return nil
}

// finish completes the job in the queue and announces the result.
func (w *Worker) finish(job *types.Job, result *types.DispatchResult) {
	jobResult := &types.JobResult{
		ExitCode:        result.ExitCode,
		Stdout:          result.Stdout,
		Stderr:          result.Stderr,
		DurationMs:      result.Duration.Milliseconds(),
		StdoutTruncated: result.StdoutTruncated,
		StderrTruncated: result.StderrTruncated,
	}
	if err := w.queue.Finalize(job.ID, jobResult); err != nil {
		w.logger.Error().Err(err).
			Str("job_id", job.ID).
			Msg("Finalize failed")
		return
	}

	w.publish(&events.Event{
		ContainerID: w.containerID,
		Kind:        events.EventInstructionCompleted,
		JobID:       job.ID,
		Result:      jobResult,
		Progress: &types.Progress{
			Percent:   100,
			Stage:     types.StageCompleted,
			Message:   "completed",
			UpdatedAt: time.Now().UTC(),
		},
	})

	w.logger.Info().
		Str("job_id", job.ID).
		Int("exit_code", jobResult.ExitCode).
		Int64("duration_ms", jobResult.DurationMs).
		Msg("Instruction completed")
}

// fail settles a failed attempt. Retryable faults go through Fail,
// which delays the job for backoff or dead letters it at the attempt
// cap. Terminal faults skip retries entirely. The instruction:failed
// event only fires when another attempt is coming; dead letter events
// come from the queue.
func (w *Worker) fail(job *types.Job, cause error) {
	attempt := job.Attempts + 1
	reason := fmt.Errorf("attempt %d/%d: %w", attempt, job.MaxAttempts, cause)

	retryable := types.Retryable(cause)
	willRetry := retryable && attempt < job.MaxAttempts

	var settleErr error
	if retryable {
		settleErr = w.queue.Fail(job.ID, reason)
	} else {
		settleErr = w.queue.FailTerminal(job.ID, reason)
	}
	if settleErr != nil {
		w.logger.Error().Err(settleErr).
			Str("job_id", job.ID).
			Msg("Failed to settle job")
		return
	}

	if willRetry {
		w.publish(&events.Event{
			ContainerID: w.containerID,
			Kind:        events.EventInstructionFailed,
			JobID:       job.ID,
			Err:         reason.Error(),
		})
	}

	w.logger.Warn().Err(cause).
		Str("job_id", job.ID).
		Int("attempt", attempt).
		Int("max_attempts", job.MaxAttempts).
		Bool("will_retry", willRetry).
		Msg("Instruction failed")
}

// progress persists job progress and mirrors it on the event bus.
func (w *Worker) progress(job *types.Job, percent int, stage, message string) {
	p := types.Progress{
		Percent:   percent,
		Stage:     stage,
		Message:   message,
		UpdatedAt: time.Now().UTC(),
	}
	if err := w.queue.UpdateProgress(job.ID, p); err != nil {
		w.logger.Debug().Err(err).
			Str("job_id", job.ID).
			Msg("Progress update failed")
	}
	w.publish(&events.Event{
		ContainerID: w.containerID,
		Kind:        events.EventInstructionProgress,
		JobID:       job.ID,
		Progress:    &p,
	})
}

func (w *Worker) publish(event *events.Event) {
	if w.broker == nil {
		return
	}
	w.broker.Publish(event)
}
