package pool

import (
	"context"
	"testing"
	"time"

	"github.com/nexus-xyz/nexusworker/internal/prover/provertest"
	"github.com/nexus-xyz/nexusworker/internal/resource/resourcetest"
	"github.com/nexus-xyz/nexusworker/internal/task"
)

func TestWorkerProcessesTaskEndToEnd(t *testing.T) {
	taskQueue := make(chan *task.Task, 1)
	submissionQueue := make(chan *task.Submission, 1)
	w := NewWorker("worker-0", Config{
		TaskQueue:       taskQueue,
		SubmissionQueue: submissionQueue,
		Engine:          &provertest.Fixed{ProofBytes: []byte{0xAA}},
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		w.Run(ctx)
		close(done)
	}()

	taskQueue <- &task.Task{TaskID: "T1", ProgramID: "fib", PublicInputsList: [][]byte{{1}}}

	select {
	case sub := <-submissionQueue:
		if sub.Task.TaskID != "T1" || sub.Outcome != task.Pending {
			t.Fatalf("unexpected submission: %+v", sub)
		}
		wantHash := task.Keccak256Hex([]byte{0xAA})
		if sub.FirstHash() != wantHash {
			t.Fatalf("expected proof hash %s, got %s", wantHash, sub.FirstHash())
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("expected a submission within 2s")
	}

	if got := w.Stats().TasksCompleted; got != 1 {
		t.Fatalf("expected 1 completed task, got %d", got)
	}

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("expected Run to return after cancellation")
	}
}

func TestWorkerIsolatesFailingProgramAndContinues(t *testing.T) {
	taskQueue := make(chan *task.Task, 2)
	submissionQueue := make(chan *task.Submission, 2)
	w := NewWorker("worker-0", Config{
		TaskQueue:       taskQueue,
		SubmissionQueue: submissionQueue,
		Engine:          &provertest.FailingProgram{FailProgramID: "bad"},
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go w.Run(ctx)

	taskQueue <- &task.Task{TaskID: "T-bad", ProgramID: "bad", PublicInputsList: [][]byte{{1}}}
	taskQueue <- &task.Task{TaskID: "T-good", ProgramID: "good", PublicInputsList: [][]byte{{2}}}

	first := recvSubmission(t, submissionQueue)
	if first.Outcome != task.Failed || first.FailReason == "" {
		t.Fatalf("expected a Failed submission for the bad program, got %+v", first)
	}

	second := recvSubmission(t, submissionQueue)
	if second.Outcome != task.Pending || second.Task.TaskID != "T-good" {
		t.Fatalf("expected the worker to keep processing after an isolated failure, got %+v", second)
	}

	stats := w.Stats()
	if stats.TasksFailed != 1 || stats.TasksCompleted != 1 {
		t.Fatalf("expected one failure and one completion, got %+v", stats)
	}
}

func recvSubmission(t *testing.T, ch <-chan *task.Submission) *task.Submission {
	t.Helper()
	select {
	case sub := <-ch:
		return sub
	case <-time.After(2 * time.Second):
		t.Fatalf("expected a submission within 2s")
		return nil
	}
}

func TestAwaitMemoryReturnsImmediatelyWhenContextAlreadyCancelled(t *testing.T) {
	w := NewWorker("worker-0", Config{
		RO: resourcetest.NewFake(4, 1), // far below PerWorkerMem
	})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	done := make(chan error, 1)
	go func() { done <- w.awaitMemory(ctx) }()

	select {
	case err := <-done:
		if err != context.Canceled {
			t.Fatalf("expected context.Canceled, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("expected awaitMemory to observe the already-cancelled context immediately")
	}
}

func TestAwaitMemoryProceedsWithoutAnOracle(t *testing.T) {
	w := NewWorker("worker-0", Config{})
	if err := w.awaitMemory(context.Background()); err != nil {
		t.Fatalf("expected no memory guard without an RO, got %v", err)
	}
}

func TestAwaitMemoryProceedsWhenMemoryIsSufficient(t *testing.T) {
	w := NewWorker("worker-0", Config{RO: resourcetest.NewFake(4, 8*1024*1024*1024)})
	if err := w.awaitMemory(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}
