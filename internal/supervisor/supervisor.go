// Copyright (c) 2026 The Nexus developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package supervisor implements the top-level process lifecycle: it sizes
// the worker pool from the resource oracle, constructs every other
// component, spawns the fetcher, the pool, and the submitter, and tears
// them down in order on shutdown.
package supervisor

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/google/uuid"

	"github.com/nexus-xyz/nexusworker/internal/config"
	"github.com/nexus-xyz/nexusworker/internal/difficulty"
	"github.com/nexus-xyz/nexusworker/internal/events"
	"github.com/nexus-xyz/nexusworker/internal/fetcher"
	"github.com/nexus-xyz/nexusworker/internal/identity"
	"github.com/nexus-xyz/nexusworker/internal/log"
	"github.com/nexus-xyz/nexusworker/internal/orchestrator"
	"github.com/nexus-xyz/nexusworker/internal/prover"
	"github.com/nexus-xyz/nexusworker/internal/resource"
	"github.com/nexus-xyz/nexusworker/internal/submitter"
	"github.com/nexus-xyz/nexusworker/internal/task"

	"github.com/nexus-xyz/nexusworker/pool"
)

var subsystemLog = log.NewSubsystem("SUPV")

// Process exit codes.
const (
	ExitClean     = 0
	ExitInterrupt = 2
)

// OrchestratorClient is the union of what F and S each need from the
// orchestrator. *orchestrator.Client satisfies it structurally, as does
// any test double that implements both narrower interfaces.
type OrchestratorClient interface {
	fetcher.OrchestratorClient
	submitter.OrchestratorClient
}

// Options configures a Supervisor. Engine is the only required field with
// no sensible default: the opaque prover is an external collaborator the
// supervisor never constructs on its own.
type Options struct {
	Config config.Config
	Engine prover.Engine

	// RO overrides the resource oracle; nil uses resource.NewHostOracle().
	RO resource.Oracle

	// OC overrides the orchestrator client; nil dials opts.Config.OrchestratorURL.
	OC OrchestratorClient
}

type shutdownReason int32

const (
	reasonNone shutdownReason = iota
	reasonMaxTasks
	reasonInterrupt
)

// Supervisor owns every pipeline component's lifetime for one process run.
type Supervisor struct {
	cfg   config.Config
	ro    resource.Oracle
	bus   *events.Bus
	dc    *difficulty.Controller
	sid   *identity.SID
	oc    OrchestratorClient
	pwp   *pool.Pool
	f     *fetcher.Fetcher
	s     *submitter.Submitter
	runID uuid.UUID

	cancel context.CancelFunc
	reason atomic.Int32
}

// New validates cfg, consults RO, sizes the pool, and constructs every
// component, but does not start any goroutine; call Run for that.
func New(opts Options) (*Supervisor, error) {
	if err := opts.Config.Validate(); err != nil {
		return nil, err
	}

	ro := opts.RO
	if ro == nil {
		ro = resource.NewHostOracle()
	}
	if opts.Config.CheckMemory {
		if err := ro.CheckSustained(); err != nil {
			return nil, fmt.Errorf("supervisor: preflight memory check: %w", err)
		}
	}
	workerCount, err := ro.RecommendWorkers(opts.Config.MaxThreads)
	if err != nil {
		return nil, fmt.Errorf("supervisor: size worker pool: %w", err)
	}

	bus := events.NewBus(events.DefaultCapacity)
	dc := difficulty.New(opts.Config.MaxDifficulty, bus)

	sid, err := identity.New()
	if err != nil {
		return nil, fmt.Errorf("supervisor: %w", err)
	}
	if err := sid.SelfTest(); err != nil {
		return nil, fmt.Errorf("supervisor: signing self-test failed: %w", err)
	}

	oc := opts.OC
	if oc == nil {
		dialed, err := orchestrator.NewClient(orchestrator.Config{BaseURL: opts.Config.OrchestratorURL})
		if err != nil {
			return nil, fmt.Errorf("supervisor: %w", err)
		}
		oc = dialed
	}

	runID, err := uuid.NewRandom()
	if err != nil {
		return nil, fmt.Errorf("supervisor: generate run id: %w", err)
	}

	taskQueueCap, submissionQueueCap := pool.QueueSizes(workerCount)
	taskQueue := make(chan *task.Task, taskQueueCap)
	submissionQueue := make(chan *task.Submission, submissionQueueCap)

	pwp, err := pool.New(workerCount, pool.Config{
		TaskQueue:       taskQueue,
		SubmissionQueue: submissionQueue,
		Engine:          opts.Engine,
		RO:              ro,
		Bus:             bus,
		Location:        opts.Config.NodeLocation,
	})
	if err != nil {
		return nil, fmt.Errorf("supervisor: %w", err)
	}

	f := fetcher.New(fetcher.Config{
		NodeID:    opts.Config.NodeID,
		PublicKey: sid.PublicKey(),
		OC:        oc,
		DC:        dc,
		TaskQueue: taskQueue,
		Bus:       bus,
	})

	sup := &Supervisor{
		cfg:   opts.Config,
		ro:    ro,
		bus:   bus,
		dc:    dc,
		sid:   sid,
		oc:    oc,
		pwp:   pwp,
		f:     f,
		runID: runID,
	}

	var maxTasks *int64
	if opts.Config.MaxTasks > 0 {
		remaining := opts.Config.MaxTasks
		maxTasks = &remaining
	}

	sup.s = submitter.New(submitter.Config{
		SID:               sid,
		OC:                oc,
		DC:                dc,
		SubmissionQueue:   submissionQueue,
		Bus:               bus,
		MaxTasks:          maxTasks,
		OnMaxTasksReached: sup.triggerMaxTasksShutdown,
	})

	subsystemLog.Infof("run %s: sized pool at %d workers", runID, workerCount)
	bus.Publish(events.Event{
		Timestamp: time.Now(),
		Level:     events.Info,
		Category:  events.CategorySupervisor,
		Message:   fmt.Sprintf("run %s: starting %d workers", runID, workerCount),
	})
	return sup, nil
}

// RunID returns the process-local run id used for log correlation across
// one process lifetime.
func (sup *Supervisor) RunID() uuid.UUID { return sup.runID }

// Bus exposes the event stream for an external observer, such as a TTY
// dashboard.
func (sup *Supervisor) Bus() *events.Bus { return sup.bus }

// Stats aggregates the pool's lifetime counters.
func (sup *Supervisor) Stats() pool.Stats { return sup.pwp.Stats() }

func (sup *Supervisor) triggerMaxTasksShutdown() {
	sup.reason.CompareAndSwap(int32(reasonNone), int32(reasonMaxTasks))
	if sup.cancel != nil {
		sup.cancel()
	}
}

// Run spawns the fetcher, the pool, and the submitter, and blocks until
// ctx is cancelled, an interrupt is received, or --max-tasks is satisfied.
// Shutdown is ordered: the fetcher and pool stop first, and only then is
// the submitter's own context cancelled, so its drain pass sees every
// Submission the pool will ever produce before the bus is flushed and the
// process exit code returned.
func (sup *Supervisor) Run(ctx context.Context) int {
	ctx, cancel := context.WithCancel(ctx)
	sup.cancel = cancel
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigCh)
	go func() {
		select {
		case <-sigCh:
			sup.reason.CompareAndSwap(int32(reasonNone), int32(reasonInterrupt))
			cancel()
		case <-ctx.Done():
		}
	}()

	var fwg, pwg sync.WaitGroup
	fwg.Add(1)
	go func() {
		defer fwg.Done()
		sup.f.Run(ctx)
	}()
	pwg.Add(1)
	go func() {
		defer pwg.Done()
		sup.pwp.Run(ctx)
	}()

	subCtx, subCancel := context.WithCancel(context.Background())
	var swg sync.WaitGroup
	swg.Add(1)
	go func() {
		defer swg.Done()
		sup.s.Run(subCtx)
	}()

	fwg.Wait()
	pwg.Wait()

	subCancel()
	swg.Wait()

	stats := sup.Stats()
	sup.bus.Publish(events.Event{
		Timestamp: time.Now(),
		Level:     events.StateChange,
		Category:  events.CategorySupervisor,
		Message: fmt.Sprintf("shutdown complete, %d tasks completed, %d tasks failed",
			stats.TasksCompleted, stats.TasksFailed),
	})
	sup.bus.Close()
	subsystemLog.Infof("run %s: shutdown complete, %d tasks completed, %d tasks failed",
		sup.runID, stats.TasksCompleted, stats.TasksFailed)

	if shutdownReason(sup.reason.Load()) == reasonInterrupt {
		return ExitInterrupt
	}
	return ExitClean
}
