// Package synth dispatches speech-synthesis calls for a chapter run with
// bounded concurrency, per-call retry, and artifact-or-nothing failure
// semantics.
package synth

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/book-expert/logger"

	"github.com/lingolou/audiobook-service/internal/core"
)

// Job is one synthesis call: the member of a line entry it belongs to plus
// the fully resolved, emotion-adjusted request. EntryIndex and Member key the
// result back to its place in the script regardless of completion order.
type Job struct {
	EntryIndex int
	Member     int
	Speaker    string
	Request    core.SpeechRequest
}

// Dispatcher issues synthesis jobs against the external voice service. The
// concurrency gate is scoped per DispatchAll call, so parallel chapter runs
// do not starve each other.
type Dispatcher struct {
	synthesizer core.Synthesizer
	isTransient func(error) bool
	workers     int
	maxAttempts int
	baseBackoff time.Duration
	log         *logger.Logger
}

// New creates a dispatcher. workers bounds in-flight calls, maxAttempts
// bounds tries per job (including the first), and baseBackoff is the delay
// before the first retry, doubling per attempt. isTransient classifies
// synthesizer errors; non-transient failures are never retried.
func New(
	synthesizer core.Synthesizer,
	isTransient func(error) bool,
	workers int,
	maxAttempts int,
	baseBackoff time.Duration,
	log *logger.Logger,
) *Dispatcher {
	if workers < 1 {
		workers = 1
	}

	if maxAttempts < 1 {
		maxAttempts = 1
	}

	return &Dispatcher{
		synthesizer: synthesizer,
		isTransient: isTransient,
		workers:     workers,
		maxAttempts: maxAttempts,
		baseBackoff: baseBackoff,
		log:         log,
	}
}

// DispatchAll runs every job and returns the audio clips indexed in job
// order. The first failure cancels all remaining work and fails the whole
// batch: a chapter is synthesized completely or not at all. Cancelling ctx
// stops new dispatches immediately; in-flight calls are abandoned and their
// results discarded with the batch.
func (d *Dispatcher) DispatchAll(
	ctx context.Context,
	jobs []Job,
	onDone func(completed, total int),
) ([][]byte, error) {
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	var (
		waitGroup sync.WaitGroup
		mutex     sync.Mutex
		firstErr  error
		completed atomic.Int64
	)

	clips := make([][]byte, len(jobs))
	gate := make(chan struct{}, d.workers)

	for jobIndex, job := range jobs {
		// Stop issuing new work as soon as the run is cancelled or failed.
		if runCtx.Err() != nil {
			break
		}

		waitGroup.Add(1)

		go func(index int, job Job) {
			defer waitGroup.Done()

			select {
			case gate <- struct{}{}:
			case <-runCtx.Done():
				return
			}

			defer func() { <-gate }()

			audio, err := d.synthesizeWithRetry(runCtx, job)
			if err != nil {
				mutex.Lock()

				if firstErr == nil {
					firstErr = err
				}

				mutex.Unlock()
				cancel()
				d.log.Error(
					"Synthesis failed for entry %d speaker %s: %v",
					job.EntryIndex,
					job.Speaker,
					err,
				)

				return
			}

			clips[index] = audio

			if onDone != nil {
				onDone(int(completed.Add(1)), len(jobs))
			}
		}(jobIndex, job)
	}

	waitGroup.Wait()

	mutex.Lock()
	err := firstErr
	mutex.Unlock()

	if err != nil {
		return nil, err
	}

	// A cancelled run may have skipped jobs without recording a failure.
	if ctxErr := ctx.Err(); ctxErr != nil {
		return nil, fmt.Errorf("chapter run cancelled: %w", ctxErr)
	}

	return clips, nil
}

// synthesizeWithRetry tries one job up to maxAttempts times with exponential
// backoff between attempts. Only transient failures are retried; exhaustion
// or a permanent failure yields a core.SynthesisError for the job's speaker.
func (d *Dispatcher) synthesizeWithRetry(ctx context.Context, job Job) ([]byte, error) {
	backoff := d.baseBackoff

	var lastErr error

	for attempt := 1; attempt <= d.maxAttempts; attempt++ {
		audio, err := d.synthesizer.Synthesize(ctx, job.Request)
		if err == nil {
			return audio, nil
		}

		lastErr = err

		if ctx.Err() != nil {
			return nil, &core.SynthesisError{Speaker: job.Speaker, Cause: ctx.Err()}
		}

		if !d.isTransient(err) {
			break
		}

		if attempt == d.maxAttempts {
			break
		}

		d.log.Warn(
			"Transient synthesis failure for speaker %s (attempt %d/%d), retrying in %s: %v",
			job.Speaker,
			attempt,
			d.maxAttempts,
			backoff,
			err,
		)

		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			return nil, &core.SynthesisError{Speaker: job.Speaker, Cause: ctx.Err()}
		}

		backoff *= 2
	}

	return nil, &core.SynthesisError{Speaker: job.Speaker, Cause: lastErr}
}
