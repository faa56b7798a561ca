// Copyright (c) 2026 The Nexus developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package pool

import (
	"context"
	"fmt"
	"sync"
)

// Pool is a fixed-size set of identical Workers sharing one task queue
// and one submission queue, sized once at construction by the resource
// oracle.
type Pool struct {
	workers []*Worker
	wg      sync.WaitGroup
}

// QueueSizes reports the queue capacities for a pool of the given size:
// the task queue holds exactly workerCount entries (capping in-flight work
// to the pool size), the submission queue holds workerCount+4 (headroom
// for bursts at the submit boundary).
func QueueSizes(workerCount int) (taskQueueCap, submissionQueueCap int) {
	return workerCount, workerCount + 4
}

// New constructs a Pool of the given size, cloning cfg into every worker.
// cfg's queues are shared across the pool; the caller owns their lifetime.
func New(size int, cfg Config) (*Pool, error) {
	if size < 1 {
		return nil, fmt.Errorf("pool: size must be >= 1, got %d", size)
	}
	p := &Pool{workers: make([]*Worker, 0, size)}
	for i := 0; i < size; i++ {
		id := fmt.Sprintf("worker-%d", i)
		p.workers = append(p.workers, NewWorker(id, cfg))
	}
	return p, nil
}

// Run starts every worker and blocks until ctx is cancelled and every
// worker has drained its in-flight task or hit its shutdown grace window.
func (p *Pool) Run(ctx context.Context) {
	p.wg.Add(len(p.workers))
	for _, w := range p.workers {
		w := w
		go func() {
			defer p.wg.Done()
			w.Run(ctx)
		}()
	}
	p.wg.Wait()
}

// Size returns the number of workers in the pool.
func (p *Pool) Size() int {
	return len(p.workers)
}

// Stats aggregates every worker's lifetime counters.
func (p *Pool) Stats() Stats {
	var total Stats
	for _, w := range p.workers {
		s := w.Stats()
		total.TasksCompleted += s.TasksCompleted
		total.TasksFailed += s.TasksFailed
	}
	return total
}
