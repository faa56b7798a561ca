// Copyright (c) 2026 The Nexus developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package submitter implements the pipeline's single consumer of
// Submission records: it signs each completed proof, sends it to the
// orchestrator, classifies the response, retries where the classification
// allows, and feeds every terminal outcome back to the difficulty
// controller. An in-memory set of successfully submitted task ids guards
// against duplicate sends after a retry-classification race.
package submitter

import (
	"context"
	"encoding/hex"
	"errors"
	"math/rand"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/nexus-xyz/nexusworker/internal/difficulty"
	"github.com/nexus-xyz/nexusworker/internal/events"
	"github.com/nexus-xyz/nexusworker/internal/identity"
	"github.com/nexus-xyz/nexusworker/internal/log"
	"github.com/nexus-xyz/nexusworker/internal/orchestrator"
	"github.com/nexus-xyz/nexusworker/internal/task"
)

var subsystemLog = log.NewSubsystem("SUBM")

// DefaultMaxRetries is the number of Transient retries before a
// submission is marked Failed.
const DefaultMaxRetries = 5

// shutdownMaxRetries is the shortened retry budget applied to submissions
// still buffered on the queue when the drain pass runs at shutdown.
const shutdownMaxRetries = 1

// shutdownDrainWindow bounds how long the drain pass may spend on final
// submits once SUP has cancelled the submitter's context.
const shutdownDrainWindow = 10 * time.Second

// rateLimitInitialBackoff, rateLimitMaxBackoff and rateLimitJitter mirror
// the fetcher's rate-limit schedule.
const (
	rateLimitInitialBackoff = 2 * time.Second
	rateLimitMaxBackoff     = 5 * time.Minute
	rateLimitJitter         = 0.25
)

// OrchestratorClient is the subset of *orchestrator.Client the submitter
// depends on, narrowed to an interface so tests can substitute a fake
// orchestrator without dialing a real server.
type OrchestratorClient interface {
	SubmitProof(ctx context.Context, args orchestrator.SubmitProofArgs) error
}

// Config wires a Submitter to the rest of the pipeline.
type Config struct {
	SID             *identity.SID
	OC              OrchestratorClient
	DC              *difficulty.Controller
	SubmissionQueue <-chan *task.Submission
	Bus             *events.Bus

	// MaxRetries overrides DefaultMaxRetries; zero means use the default.
	MaxRetries int

	// MaxTasks, if non-nil, is decremented atomically on each terminal
	// Succeeded submission. The caller (SUP) owns the backing value and
	// observes it falling to zero; OnMaxTasksReached is invoked exactly
	// once at that point, from the submitter's own goroutine.
	MaxTasks          *int64
	OnMaxTasksReached func()
}

// Submitter is the single-consumer submit loop. It is not safe for
// concurrent use: there is exactly one submitter per process, and the
// anti-replay set below relies on that.
type Submitter struct {
	cfg Config

	// submitted holds task ids that have already reached a Succeeded
	// submission this process. Only ever touched from Run's goroutine.
	submitted map[string]struct{}

	maxTasksFired atomic.Bool
}

// New constructs a Submitter.
func New(cfg Config) *Submitter {
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = DefaultMaxRetries
	}
	return &Submitter{cfg: cfg, submitted: make(map[string]struct{})}
}

// Run drives the submit loop until ctx is cancelled, at which point it
// performs one best-effort drain pass over whatever is already buffered on
// the submission queue with a shortened retry budget. The fetcher and the
// worker pool have already stopped by the time the supervisor cancels the
// submitter, so the drain sees every Submission the pool will ever
// produce.
func (s *Submitter) Run(ctx context.Context) {
	for {
		// A cancellation that is already visible wins over a buffered
		// Submission, so whatever is left on the queue goes through drain's
		// shortened budget instead of the normal one on a dead context.
		if ctx.Err() != nil {
			s.drain()
			return
		}
		select {
		case sub, ok := <-s.cfg.SubmissionQueue:
			if !ok {
				return
			}
			s.process(ctx, sub, s.cfg.MaxRetries)

		case <-ctx.Done():
			s.drain()
			return
		}
	}
}

func (s *Submitter) drain() {
	drainCtx, cancel := context.WithTimeout(context.Background(), shutdownDrainWindow)
	defer cancel()
	for {
		select {
		case sub, ok := <-s.cfg.SubmissionQueue:
			if !ok {
				return
			}
			s.process(drainCtx, sub, shutdownMaxRetries)
		default:
			return
		}
	}
}

// process runs one Submission through the classify/retry/notify pipeline
// to a terminal outcome.
func (s *Submitter) process(ctx context.Context, sub *task.Submission, maxRetries int) {
	t := sub.Task

	if sub.Outcome == task.Failed {
		// The worker already produced a terminal failure isolated to this
		// task; there is nothing to put on the wire, but the difficulty
		// controller still needs to hear about it.
		s.emit(events.Error, t.TaskID, "prover error on "+t.TaskID+": "+sub.FailReason)
		s.cfg.DC.Observe(difficulty.Outcome{
			Succeeded:      false,
			Duration:       sub.Duration,
			ServerAssigned: t.ServerDifficulty,
		})
		return
	}

	if s.alreadySubmitted(t.TaskID) {
		subsystemLog.Debugf("suppressing duplicate submit for %s", t.TaskID)
		return
	}

	firstHash := sub.FirstHash()
	hashBytes, err := hex.DecodeString(firstHash)
	if err != nil {
		s.emit(events.Error, t.TaskID, "cannot sign "+t.TaskID+": malformed proof hash")
		return
	}

	args := orchestrator.SubmitProofArgs{
		TaskID:     t.TaskID,
		ProofHash:  firstHash,
		ProofBytes: sub.FirstProof(),
		Telemetry:  sub.Telemetry,
		PublicKey:  s.cfg.SID.PublicKey(),
		Signature:  s.cfg.SID.Sign(t.TaskID, hashBytes),
	}

	rlAttempt := 0
	for {
		err := s.attempt(ctx, args, maxRetries)
		if err == nil {
			s.markSubmitted(t.TaskID)
			s.emit(events.Success, t.TaskID, "Step 4 of 4: Proof submitted successfully")
			s.cfg.DC.Observe(difficulty.Outcome{
				Succeeded:      true,
				Duration:       sub.Duration,
				ServerAssigned: t.ServerDifficulty,
			})
			s.countdownMaxTasks()
			return
		}

		var re *orchestrator.RequestError
		if errors.As(err, &re) && re.Kind == orchestrator.KindRateLimited {
			wait := re.RetryAfter
			if wait <= 0 {
				wait = rateLimitBackoff(rlAttempt)
				rlAttempt++
			}
			s.emit(events.Warn, t.TaskID, "rate limited submitting "+t.TaskID+", retrying after "+wait.String())
			if !sleepCancellable(ctx, wait) {
				return
			}
			continue // re-attempt without consuming the Transient retry budget
		}

		s.emit(events.Error, t.TaskID, "submit failed for "+t.TaskID+": "+err.Error())
		s.cfg.DC.Observe(difficulty.Outcome{
			Succeeded:      false,
			Duration:       sub.Duration,
			ServerAssigned: t.ServerDifficulty,
			NetworkFailure: !orchestrator.IsKind(err, orchestrator.KindPermanent),
		})
		return
	}
}

// attempt calls OC.SubmitProof, retrying Transient/unclassified failures up
// to maxRetries times with cenkalti/backoff's exponential schedule.
// RateLimited and Permanent are both short-circuited out of the retry loop
// (backoff.Permanent): RateLimited is handled by the caller's own
// sleep-and-resend, which must not consume this budget; Permanent is never
// retried at all. A Malformed response is retried as Transient exactly
// once, then treated as Permanent.
func (s *Submitter) attempt(ctx context.Context, args orchestrator.SubmitProofArgs, maxRetries int) error {
	malformedRetried := false
	b := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), uint64(maxRetries)), ctx)
	return backoff.Retry(func() error {
		err := s.cfg.OC.SubmitProof(ctx, args)
		if err == nil {
			return nil
		}
		var re *orchestrator.RequestError
		if errors.As(err, &re) {
			switch re.Kind {
			case orchestrator.KindRateLimited, orchestrator.KindPermanent:
				return backoff.Permanent(err)
			case orchestrator.KindMalformed:
				if malformedRetried {
					return backoff.Permanent(err)
				}
				malformedRetried = true
			}
		}
		return err
	}, b)
}

func (s *Submitter) alreadySubmitted(taskID string) bool {
	_, ok := s.submitted[taskID]
	return ok
}

func (s *Submitter) markSubmitted(taskID string) {
	s.submitted[taskID] = struct{}{}
}

func (s *Submitter) countdownMaxTasks() {
	if s.cfg.MaxTasks == nil {
		return
	}
	remaining := atomic.AddInt64(s.cfg.MaxTasks, -1)
	if remaining <= 0 && s.maxTasksFired.CompareAndSwap(false, true) {
		if s.cfg.OnMaxTasksReached != nil {
			s.cfg.OnMaxTasksReached()
		}
	}
}

func (s *Submitter) emit(level events.Level, taskID, msg string) {
	if s.cfg.Bus == nil {
		return
	}
	s.cfg.Bus.Publish(events.Event{
		Timestamp: time.Now(),
		Level:     level,
		Category:  events.CategorySubmit,
		Message:   msg,
		TaskID:    taskID,
	})
}

// rateLimitBackoff returns the jittered exponential wait for the given
// zero-based attempt count, capped at rateLimitMaxBackoff.
func rateLimitBackoff(attempt int) time.Duration {
	d := rateLimitInitialBackoff << attempt
	if d > rateLimitMaxBackoff || d <= 0 {
		d = rateLimitMaxBackoff
	}
	jitterRange := float64(d) * rateLimitJitter
	jitter := (rand.Float64()*2 - 1) * jitterRange
	result := time.Duration(float64(d) + jitter)
	if result < 0 {
		result = 0
	}
	return result
}

// sleepCancellable sleeps for d or until ctx is done, reporting which
// happened.
func sleepCancellable(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}
