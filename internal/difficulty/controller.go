// Copyright (c) 2026 The Nexus developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package difficulty implements the Difficulty Controller (DC): a
// single-writer, multi-reader state machine advancing the requested
// difficulty level based on observed proof durations, server overrides,
// and consecutive failures.
package difficulty

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/nexus-xyz/nexusworker/internal/events"
	"github.com/nexus-xyz/nexusworker/internal/log"
	"github.com/nexus-xyz/nexusworker/internal/task"
)

var subsystemLog = log.NewSubsystem("DIFF")

// PromotionThreshold is the duration below which a success promotes the
// ladder.
const PromotionThreshold = 7 * time.Minute

// ConsecutiveFailureLimit is the number of consecutive classified failures
// at the current level before it is downgraded.
const ConsecutiveFailureLimit = 3

// windowSize bounds the recent-completion-duration window kept for
// observability; the promotion decision itself only needs the latest
// duration.
const windowSize = 16

// Outcome is what the submitter observed for one terminal Submission,
// passed to Controller.Observe.
type Outcome struct {
	// Succeeded reports whether the submission ultimately succeeded.
	Succeeded bool
	// Duration is the prover's wall-clock execution time for the task.
	Duration time.Duration
	// ServerAssigned is the difficulty the orchestrator actually assigned
	// to the task, which may be below the level requested.
	ServerAssigned task.DifficultyLevel
	// NetworkFailure distinguishes a Transient/RateLimited submit failure
	// (which is retried to success or exhausted) from a ProverError or
	// Permanent classification. Only non-network failures count toward
	// the consecutive-failure downgrade counter; see DESIGN.md's
	// resolution of the corresponding Open Question.
	NetworkFailure bool
}

// Controller is the single-writer DC cell. Only the submitter package
// calls Observe; every other reader uses Current, which never blocks the
// writer.
type Controller struct {
	current       atomic.Uint32 // task.DifficultyLevel, atomic for lock-free reads
	maxDifficulty task.DifficultyLevel
	hasMax        bool
	bus           *events.Bus

	// mu serializes writers; there is exactly one writer (the submitter)
	// in practice, but the mutex keeps the invariant explicit rather than
	// relying on caller discipline alone.
	mu               sync.Mutex
	consecutiveFails int
	window           []time.Duration
}

// New constructs a Controller at the initial Small level. If maxDifficulty
// is non-nil, every transition clamps to it (the operator's
// --max-difficulty override). Level changes are announced on bus when one
// is given.
func New(maxDifficulty *task.DifficultyLevel, bus *events.Bus) *Controller {
	c := &Controller{bus: bus}
	if maxDifficulty != nil {
		c.maxDifficulty = *maxDifficulty
		c.hasMax = true
	} else {
		c.maxDifficulty = task.Max
	}
	initial := task.Small
	if c.hasMax {
		initial = initial.Clamp(c.maxDifficulty)
	}
	c.current.Store(uint32(initial))
	return c
}

// Current is F's lock-free snapshot read.
func (c *Controller) Current() task.DifficultyLevel {
	return task.DifficultyLevel(c.current.Load())
}

// Observe applies one terminal Submission outcome's transition rules. It
// is the sole write path into the controller.
func (c *Controller) Observe(o Outcome) {
	c.mu.Lock()
	defer c.mu.Unlock()

	level := c.Current()

	switch {
	case o.Succeeded:
		c.consecutiveFails = 0
		c.pushWindow(o.Duration)

		if o.ServerAssigned < level {
			// Server-side reputation gating: probe promotion one level
			// above the downgraded value only when the server pushed us
			// all the way down to Small.
			if o.ServerAssigned == task.Small {
				if next, ok := o.ServerAssigned.Successor(); ok {
					c.setLevel(next)
				}
			}
			return
		}

		if o.Duration < PromotionThreshold && level != task.Max {
			if next, ok := level.Successor(); ok {
				c.setLevel(next)
			}
		}

	case o.NetworkFailure:
		// Transient/RateLimited failures that were ultimately exhausted
		// still don't count toward the ladder's downgrade counter; they
		// reflect orchestrator-side conditions, not task difficulty.
		subsystemLog.Debugf("network failure observed at %s, not counted toward downgrade", level)

	default:
		c.consecutiveFails++
		if c.consecutiveFails >= ConsecutiveFailureLimit {
			c.consecutiveFails = 0
			if prev, ok := level.Predecessor(); ok {
				c.setLevel(prev)
			}
		}
	}
}

// setLevel clamps and stores a new level, announcing the change. Called
// with c.mu held.
func (c *Controller) setLevel(next task.DifficultyLevel) {
	if c.hasMax {
		next = next.Clamp(c.maxDifficulty)
	}
	prev := c.Current()
	if next == prev {
		return
	}
	c.current.Store(uint32(next))
	subsystemLog.Infof("difficulty %s -> %s", prev, next)
	if c.bus != nil {
		c.bus.Publish(events.Event{
			Timestamp: time.Now(),
			Level:     events.StateChange,
			Category:  events.CategoryDifficulty,
			Message:   "difficulty " + prev.String() + " -> " + next.String(),
		})
	}
}

func (c *Controller) pushWindow(d time.Duration) {
	c.window = append(c.window, d)
	if len(c.window) > windowSize {
		c.window = c.window[len(c.window)-windowSize:]
	}
}

// Window returns a copy of the recent completion durations kept for
// observability.
func (c *Controller) Window() []time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]time.Duration, len(c.window))
	copy(out, c.window)
	return out
}
