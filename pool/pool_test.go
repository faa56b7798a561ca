package pool

import (
	"context"
	"testing"
	"time"

	"github.com/nexus-xyz/nexusworker/internal/prover/provertest"
	"github.com/nexus-xyz/nexusworker/internal/task"
)

func TestQueueSizes(t *testing.T) {
	taskCap, subCap := QueueSizes(3)
	if taskCap != 3 || subCap != 7 {
		t.Fatalf("expected (3, 7), got (%d, %d)", taskCap, subCap)
	}
}

func TestNewRejectsNonPositiveSize(t *testing.T) {
	if _, err := New(0, Config{}); err == nil {
		t.Fatalf("expected an error for a zero-size pool")
	}
}

func TestPoolRunAggregatesStatsAcrossWorkers(t *testing.T) {
	const workers = 3
	const tasks = 9

	taskQueue := make(chan *task.Task, workers)
	submissionQueue := make(chan *task.Submission, workers+4)
	p, err := New(workers, Config{
		TaskQueue:       taskQueue,
		SubmissionQueue: submissionQueue,
		Engine:          &provertest.Fixed{ProofBytes: []byte{0x01}},
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if p.Size() != workers {
		t.Fatalf("expected %d workers, got %d", workers, p.Size())
	}

	ctx, cancel := context.WithCancel(context.Background())
	runDone := make(chan struct{})
	go func() {
		p.Run(ctx)
		close(runDone)
	}()

	go func() {
		for i := 0; i < tasks; i++ {
			taskQueue <- &task.Task{TaskID: taskID(i), ProgramID: "fib", PublicInputsList: [][]byte{{byte(i)}}}
		}
	}()

	received := 0
	for received < tasks {
		select {
		case <-submissionQueue:
			received++
		case <-time.After(3 * time.Second):
			t.Fatalf("expected %d submissions, got %d", tasks, received)
		}
	}

	cancel()
	select {
	case <-runDone:
	case <-time.After(2 * time.Second):
		t.Fatalf("expected Pool.Run to return after cancellation")
	}

	stats := p.Stats()
	if stats.TasksCompleted != tasks {
		t.Fatalf("expected %d completed tasks across the pool, got %d", tasks, stats.TasksCompleted)
	}
}

func taskID(i int) string {
	return "T" + string(rune('0'+i))
}
