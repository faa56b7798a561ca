// Copyright (c) 2026 The Nexus developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package fetcher implements the pipeline's single logical task producer:
// a loop that polls the orchestrator at the current difficulty, applies
// backoff on failure, and pushes admitted tasks onto the task queue.
package fetcher

import (
	"context"
	"crypto/ed25519"
	"errors"
	"math/rand"
	"time"

	"golang.org/x/time/rate"

	"github.com/nexus-xyz/nexusworker/internal/difficulty"
	"github.com/nexus-xyz/nexusworker/internal/events"
	"github.com/nexus-xyz/nexusworker/internal/log"
	"github.com/nexus-xyz/nexusworker/internal/orchestrator"
	"github.com/nexus-xyz/nexusworker/internal/task"
)

var subsystemLog = log.NewSubsystem("FETC")

// transientBackoff is the fixed pause after a Transient classification.
const transientBackoff = 5 * time.Second

// permanentPause is the short pause after a Permanent classification; the
// error is attributed to the request, not fatal, so the loop continues.
const permanentPause = 2 * time.Second

// rateLimitInitialBackoff, rateLimitMaxBackoff and rateLimitJitter shape
// the exponential-with-jitter schedule used under sustained rate limiting.
const (
	rateLimitInitialBackoff = 2 * time.Second
	rateLimitMaxBackoff     = 5 * time.Minute
	rateLimitJitter         = 0.25
)

// OrchestratorClient is the subset of *orchestrator.Client the fetcher
// depends on, narrowed to an interface so tests can substitute a fake
// orchestrator without dialing a real server.
type OrchestratorClient interface {
	GetProofTask(ctx context.Context, nodeID string, pub ed25519.PublicKey, maxDifficulty task.DifficultyLevel) (*orchestrator.TaskResult, error)
}

// Config wires a Fetcher to the rest of the pipeline.
type Config struct {
	NodeID    string
	PublicKey ed25519.PublicKey
	OC        OrchestratorClient
	DC        *difficulty.Controller
	TaskQueue chan<- *task.Task
	Bus       *events.Bus
}

// Fetcher is the single-threaded fetch loop.
type Fetcher struct {
	cfg            Config
	backoffAttempt int

	// malformedRetried records that the previous outcome was already a
	// Malformed classification retried as Transient; a repeat is treated
	// as Permanent. Reset by any non-malformed outcome.
	malformedRetried bool

	// idle caps how often the loop may attempt a fetch even outside an
	// explicit backoff, so a stream of Permanent errors (which re-loop
	// after only a short pause) can never turn into a busy loop.
	idle *rate.Limiter
}

// New constructs a Fetcher.
func New(cfg Config) *Fetcher {
	return &Fetcher{
		cfg:  cfg,
		idle: rate.NewLimiter(rate.Every(100*time.Millisecond), 1),
	}
}

// Run drives the fetch loop until ctx is cancelled. On cancellation it
// exits after the in-flight fetch completes or is cancelled; it never
// pushes a partial task.
func (f *Fetcher) Run(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}
		if err := f.idle.Wait(ctx); err != nil {
			return
		}

		level := f.cfg.DC.Current()
		result, err := f.cfg.OC.GetProofTask(ctx, f.cfg.NodeID, f.cfg.PublicKey, level)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			f.handleError(ctx, err)
			continue
		}

		f.malformedRetried = false
		if !f.push(ctx, result.Task) {
			return
		}
	}
}

// push admits t onto the task queue, blocking (backpressure) until there
// is room or the context is cancelled.
func (f *Fetcher) push(ctx context.Context, t *task.Task) bool {
	select {
	case f.cfg.TaskQueue <- t:
	case <-ctx.Done():
		return false
	}

	f.emit(events.Info, t.TaskID, "Got task "+t.TaskID)
	if t.Downgraded() {
		f.emit(events.Success, t.TaskID,
			"Server adjusted difficulty: requested "+t.Difficulty.String()+
				", assigned "+t.ServerDifficulty.String()+" (reputation gating)")
	}
	return true
}

func (f *Fetcher) handleError(ctx context.Context, err error) {
	var re *orchestrator.RequestError
	if !errors.As(err, &re) {
		f.malformedRetried = false
		subsystemLog.Errorf("unclassified fetch error: %v", err)
		sleepCancellable(ctx, permanentPause)
		return
	}

	if re.Kind != orchestrator.KindMalformed {
		f.malformedRetried = false
	}

	switch re.Kind {
	case orchestrator.KindRateLimited:
		wait := re.RetryAfter
		if wait <= 0 {
			wait = f.backoff()
		}
		f.emit(events.Warn, "", "rate limited fetching task, backing off "+wait.String())
		sleepCancellable(ctx, wait)

	case orchestrator.KindTransient:
		f.resetBackoff()
		f.emit(events.Warn, "", "transient error fetching task: "+re.Error())
		sleepCancellable(ctx, transientBackoff)

	case orchestrator.KindPermanent:
		f.resetBackoff()
		f.emit(events.Error, "", "fetch request rejected: "+re.Error())
		sleepCancellable(ctx, permanentPause)

	case orchestrator.KindMalformed:
		// A malformed body is retried as Transient exactly once; a
		// repeat is treated as Permanent until a non-malformed outcome.
		if f.malformedRetried {
			f.emit(events.Error, "", "repeated malformed response fetching task: "+re.Error())
			sleepCancellable(ctx, permanentPause)
			return
		}
		f.malformedRetried = true
		f.emit(events.Warn, "", "malformed response fetching task, retrying: "+re.Error())
		sleepCancellable(ctx, transientBackoff)

	default:
		f.emit(events.Error, "", "fetch error: "+re.Error())
		sleepCancellable(ctx, permanentPause)
	}
}

// backoff returns the next jittered exponential backoff duration,
// tracking attempt count on the Fetcher itself since the fetch loop is
// single-threaded by construction.
func (f *Fetcher) backoff() time.Duration {
	d := rateLimitInitialBackoff << f.backoffAttempt
	if d > rateLimitMaxBackoff || d <= 0 {
		d = rateLimitMaxBackoff
	} else {
		f.backoffAttempt++
	}
	jitterRange := float64(d) * rateLimitJitter
	jitter := (rand.Float64()*2 - 1) * jitterRange
	result := time.Duration(float64(d) + jitter)
	if result < 0 {
		result = 0
	}
	return result
}

func (f *Fetcher) resetBackoff() {
	f.backoffAttempt = 0
}

func sleepCancellable(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
	case <-ctx.Done():
	}
}

func (f *Fetcher) emit(level events.Level, taskID, msg string) {
	if f.cfg.Bus == nil {
		return
	}
	f.cfg.Bus.Publish(events.Event{
		Timestamp: time.Now(),
		Level:     level,
		Category:  events.CategoryFetch,
		Message:   msg,
		TaskID:    taskID,
	})
}
