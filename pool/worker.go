// Copyright (c) 2026 The Nexus developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package pool implements the prover worker pool: a fixed-size set of
// identical workers consuming one shared task queue and producing
// Submission records onto one shared submission queue.
package pool

import (
	"context"
	"math/big"
	"runtime"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nexus-xyz/nexusworker/internal/events"
	"github.com/nexus-xyz/nexusworker/internal/log"
	"github.com/nexus-xyz/nexusworker/internal/prover"
	"github.com/nexus-xyz/nexusworker/internal/resource"
	"github.com/nexus-xyz/nexusworker/internal/task"
)

var subsystemLog = log.NewSubsystem("PROV")

// telemetryCalcThreshold is the interval, in seconds, at which
// telemetryMonitor logs a worker's flops/sec estimate. The estimate itself
// is recalculated after every completed task, not on this interval.
const telemetryCalcThreshold = 20

// memoryGuardGrace is how long a worker sleeps (cancellable) waiting for
// memory to free up before re-checking.
const memoryGuardGrace = 30 * time.Second

// shutdownGrace bounds how long an in-flight prover execution is given to
// finish after cancellation before the worker abandons it.
const shutdownGrace = 30 * time.Second

// ZeroRat is the default value for a big.Rat.
var ZeroRat = new(big.Rat).SetInt64(0)

// Config wires a Worker to the rest of the pipeline.
type Config struct {
	// TaskQueue is the shared, bounded, multi-consumer queue workers pop
	// from (capacity = worker count).
	TaskQueue <-chan *task.Task
	// SubmissionQueue is the shared, bounded, single-consumer queue
	// workers push completed Submissions onto.
	SubmissionQueue chan<- *task.Submission
	// Engine is the opaque prover invoked for every public input.
	Engine prover.Engine
	// RO answers the memory-guard's availability check.
	RO resource.Oracle
	// Bus receives every Event a worker emits.
	Bus *events.Bus
	// Location is the optional deployment tag stamped on telemetry.
	Location string
}

// Worker is one cooperative task plus its dedicated prover goroutine,
// capable of executing one proof at a time.
type Worker struct {
	id  string
	cfg Config

	tasksCompleted int64 // update atomically
	tasksFailed    int64 // update atomically

	flopsRate    *big.Rat
	flopsRateMtx sync.RWMutex

	wg sync.WaitGroup
}

// NewWorker constructs a Worker identified by id.
func NewWorker(id string, cfg Config) *Worker {
	return &Worker{id: id, cfg: cfg, flopsRate: ZeroRat}
}

// Run drives the worker's task loop until ctx is cancelled or the task
// queue is closed. Tasks still buffered on the queue once ctx is cancelled
// are not drained. It must be run as a goroutine.
func (w *Worker) Run(ctx context.Context) {
	w.wg.Add(1)
	go w.telemetryMonitor(ctx)

	for {
		select {
		case <-ctx.Done():
			w.wg.Wait()
			return

		case t, ok := <-w.cfg.TaskQueue:
			if !ok {
				w.wg.Wait()
				return
			}
			w.runTask(ctx, t)
		}
	}
}

// runTask executes the per-task 4-step lifecycle and pushes at most one
// Submission for t: a completed Submission is discarded if shutdown races
// its push, and a failure Submission is dropped if the submission queue
// stays full for a second.
func (w *Worker) runTask(ctx context.Context, t *task.Task) {
	w.emit(events.Info, events.CategoryProve, t.TaskID,
		"Step 1 of 4: Got task "+t.TaskID)

	if err := w.awaitMemory(ctx); err != nil {
		w.pushFailure(t, "deferred past shutdown waiting on memory: "+err.Error())
		return
	}

	start := time.Now()
	proofs := make([]task.Proof, 0, len(t.PublicInputsList))
	hashes := make([]string, 0, len(t.PublicInputsList))
	var totalBytes int

	for _, input := range t.PublicInputsList {
		proofBytes, err := w.runOnThread(ctx, t.ProgramID, input)
		if err != nil {
			atomic.AddInt64(&w.tasksFailed, 1)
			w.emit(events.Error, events.CategoryProve, t.TaskID,
				"prover error on "+t.TaskID+": "+err.Error())
			w.pushFailure(t, err.Error())
			return
		}
		proofs = append(proofs, proofBytes)
		hashes = append(hashes, task.Keccak256Hex(proofBytes))
		totalBytes += len(proofBytes)
	}

	duration := time.Since(start)
	w.recordTelemetry(totalBytes, duration)
	atomic.AddInt64(&w.tasksCompleted, 1)

	sub := &task.Submission{
		Task:        t,
		ProofBytes:  proofs,
		ProofHashes: hashes,
		Telemetry:   w.snapshotTelemetry(),
		Duration:    duration,
		Outcome:     task.Pending, // the submitter assigns the terminal outcome
	}

	select {
	case w.cfg.SubmissionQueue <- sub:
	case <-ctx.Done():
		// Shutdown raced the push; the submission is discarded rather
		// than admitted half-owned.
		return
	}

	w.emit(events.StateChange, events.CategoryProve, t.TaskID,
		completionMessage(t, duration))
}

// pushFailure builds and pushes a Failed-outcome Submission for t, keeping
// the worker itself alive to consume further tasks: a prover error never
// poisons the worker.
func (w *Worker) pushFailure(t *task.Task, reason string) {
	sub := &task.Submission{
		Task:       t,
		Telemetry:  w.snapshotTelemetry(),
		Outcome:    task.Failed,
		FailReason: reason,
	}
	select {
	case w.cfg.SubmissionQueue <- sub:
	default:
		// Submission queue is full and we must not block indefinitely on
		// a failure path during shutdown; try once more with a short
		// bound so a saturated queue doesn't wedge the worker forever.
		select {
		case w.cfg.SubmissionQueue <- sub:
		case <-time.After(time.Second):
			subsystemLog.Warnf("dropped failure submission for %s: submission queue saturated", t.TaskID)
		}
	}
}

// proveResult is the result of one dedicated-OS-thread prover invocation.
type proveResult struct {
	proof []byte
	err   error
}

// runOnThread bridges the opaque, CPU-bound prover call onto a dedicated
// goroutine and awaits it cooperatively, so the fetch/submit loops and
// cancellation stay responsive while a proof runs. Cancellation is honored
// with a bounded grace window.
func (w *Worker) runOnThread(ctx context.Context, programID string, input []byte) ([]byte, error) {
	resultCh := make(chan proveResult, 1)
	go func() {
		// Never unlocked: the OS thread exits together with this goroutine.
		runtime.LockOSThread()
		proof, err := prover.Run(context.Background(), w.cfg.Engine, programID, input)
		resultCh <- proveResult{proof: proof, err: err}
	}()

	select {
	case r := <-resultCh:
		return r.proof, r.err
	case <-ctx.Done():
		select {
		case r := <-resultCh:
			return r.proof, r.err
		case <-time.After(shutdownGrace):
			subsystemLog.Warnf("%s: prover execution abandoned after grace window", w.id)
			return nil, ctx.Err()
		}
	}
}

// awaitMemory is the memory guard run before proving starts: if available
// memory is below PerWorkerMem, wait up to memoryGuardGrace (cancellable)
// before re-checking. This prevents oversubscription when external load
// changes after the pool was sized.
func (w *Worker) awaitMemory(ctx context.Context) error {
	if w.cfg.RO == nil {
		return nil
	}
	for {
		avail, err := w.cfg.RO.AvailableMemoryBytes()
		if err != nil || avail >= resource.PerWorkerMem {
			return nil
		}
		w.emit(events.Warn, events.CategoryResource, "",
			w.id+": deferring work, available memory below per-worker budget")
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(memoryGuardGrace):
		}
	}
}

// recordTelemetry folds one task's instantaneous flops/sec estimate into
// the worker's moving average: the new sample is averaged against the
// previous rate rather than replacing it outright.
func (w *Worker) recordTelemetry(totalBytes int, d time.Duration) {
	if d <= 0 {
		return
	}
	sample := new(big.Rat).SetFloat64(float64(totalBytes) / d.Seconds())
	if sample == nil {
		return
	}
	w.flopsRateMtx.Lock()
	w.flopsRate = new(big.Rat).Quo(new(big.Rat).Add(w.flopsRate, sample),
		new(big.Rat).SetInt64(2))
	w.flopsRateMtx.Unlock()
}

func (w *Worker) snapshotTelemetry() task.Telemetry {
	w.flopsRateMtx.RLock()
	rate, _ := new(big.Rat).Set(w.flopsRate).Float64()
	w.flopsRateMtx.RUnlock()

	t := task.Telemetry{FlopsPerSec: rate, Location: w.cfg.Location}
	if w.cfg.RO != nil {
		if avail, err := w.cfg.RO.AvailableMemoryBytes(); err == nil {
			t.MemoryUsedBytes = 0 // the worker does not instrument its own RSS
			// Best effort: currently-available memory, not installed
			// capacity; the oracle has no portable total-memory reading.
			t.MemoryCapBytes = avail
		}
	}
	return t
}

// telemetryMonitor periodically logs the worker's flops/sec estimate.
func (w *Worker) telemetryMonitor(ctx context.Context) {
	defer w.wg.Done()
	ticker := time.NewTicker(telemetryCalcThreshold * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			completed := atomic.LoadInt64(&w.tasksCompleted)
			if completed == 0 {
				continue
			}
			w.flopsRateMtx.RLock()
			rate, _ := w.flopsRate.Float64()
			w.flopsRateMtx.RUnlock()
			subsystemLog.Debugf("%s: %d tasks completed, ~%.2f flops/sec", w.id, completed, rate)
		}
	}
}

func (w *Worker) emit(level events.Level, cat events.Category, taskID, msg string) {
	if w.cfg.Bus == nil {
		return
	}
	w.cfg.Bus.Publish(events.Event{
		Timestamp: time.Now(),
		Level:     level,
		Category:  cat,
		Message:   msg,
		TaskID:    taskID,
	})
}

func completionMessage(t *task.Task, d time.Duration) string {
	return t.TaskID + " completed, Task size: " + strconv.Itoa(len(t.PublicInputsList)) +
		", Duration: " + d.String() + ", Difficulty: " + t.Difficulty.String()
}

// Stats reports the worker's lifetime counters, used by the supervisor's
// aggregate metrics.
type Stats struct {
	TasksCompleted int64
	TasksFailed    int64
}

func (w *Worker) Stats() Stats {
	return Stats{
		TasksCompleted: atomic.LoadInt64(&w.tasksCompleted),
		TasksFailed:    atomic.LoadInt64(&w.tasksFailed),
	}
}
