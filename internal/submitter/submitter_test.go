package submitter

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/nexus-xyz/nexusworker/internal/difficulty"
	"github.com/nexus-xyz/nexusworker/internal/events"
	"github.com/nexus-xyz/nexusworker/internal/identity"
	"github.com/nexus-xyz/nexusworker/internal/orchestrator"
	"github.com/nexus-xyz/nexusworker/internal/orchestrator/orchestratortest"
	"github.com/nexus-xyz/nexusworker/internal/task"
)

func testSID(t *testing.T) *identity.SID {
	t.Helper()
	sid, err := identity.New()
	if err != nil {
		t.Fatalf("identity.New: %v", err)
	}
	return sid
}

func testSubmission(taskID string) *task.Submission {
	proof := []byte("proof-" + taskID)
	return &task.Submission{
		Task: &task.Task{
			TaskID:           taskID,
			ProgramID:        "prog",
			PublicInputsList: [][]byte{[]byte("input")},
			Kind:             task.ProofRequired,
			Difficulty:       task.Medium,
			ServerDifficulty: task.Medium,
		},
		ProofBytes:  []task.Proof{proof},
		ProofHashes: []string{task.Keccak256Hex(proof)},
		Duration:    time.Second,
		Outcome:     task.Pending,
	}
}

func newSubmitterForTest(t *testing.T, fake *orchestratortest.Fake) (*Submitter, chan *task.Submission, *difficulty.Controller) {
	t.Helper()
	queue := make(chan *task.Submission, 8)
	dc := difficulty.New(nil, nil)
	s := New(Config{
		SID:             testSID(t),
		OC:              fake,
		DC:              dc,
		SubmissionQueue: queue,
		Bus:             events.NewBus(16),
	})
	return s, queue, dc
}

func TestSubmitterSucceedsAndNotifiesDC(t *testing.T) {
	fake := &orchestratortest.Fake{}
	s, _, dc := newSubmitterForTest(t, fake)

	before := dc.Current()
	sub := testSubmission("task-1")
	sub.Duration = time.Minute // well under PromotionThreshold
	s.process(context.Background(), sub, DefaultMaxRetries)

	if len(fake.Calls) != 1 || fake.Calls[0] != "task-1" {
		t.Fatalf("expected exactly one submit call for task-1, got %v", fake.Calls)
	}
	if !s.alreadySubmitted("task-1") {
		t.Fatalf("expected task-1 to be marked submitted")
	}
	if after := dc.Current(); after <= before {
		t.Fatalf("expected promotion after fast success, before=%s after=%s", before, after)
	}
}

func TestSubmitterSuppressesDuplicateSubmit(t *testing.T) {
	fake := &orchestratortest.Fake{}
	s, _, _ := newSubmitterForTest(t, fake)

	sub := testSubmission("task-2")
	s.process(context.Background(), sub, DefaultMaxRetries)
	s.process(context.Background(), sub, DefaultMaxRetries)

	if len(fake.Calls) != 1 {
		t.Fatalf("expected anti-replay to suppress the second submit, got %d calls", len(fake.Calls))
	}
}

func TestSubmitterPermanentDoesNotRetry(t *testing.T) {
	fake := &orchestratortest.Fake{
		SubmitProofFunc: func(ctx context.Context, args orchestrator.SubmitProofArgs) error {
			return &orchestrator.RequestError{Kind: orchestrator.KindPermanent, Err: errors.New("rejected")}
		},
	}
	s, _, dc := newSubmitterForTest(t, fake)

	sub := testSubmission("task-3")
	s.process(context.Background(), sub, DefaultMaxRetries)

	if len(fake.Calls) != 1 {
		t.Fatalf("expected exactly one attempt for a Permanent rejection, got %d", len(fake.Calls))
	}
	if s.alreadySubmitted("task-3") {
		t.Fatalf("a Permanent rejection must not be marked submitted")
	}
	_ = dc
}

func TestSubmitterTransientRetriesThenFails(t *testing.T) {
	attempts := 0
	fake := &orchestratortest.Fake{
		SubmitProofFunc: func(ctx context.Context, args orchestrator.SubmitProofArgs) error {
			attempts++
			return &orchestrator.RequestError{Kind: orchestrator.KindTransient, Err: errors.New("transient")}
		},
	}
	s, _, _ := newSubmitterForTest(t, fake)

	sub := testSubmission("task-4")
	s.process(context.Background(), sub, 2)

	if attempts != 3 { // one initial attempt plus two retries
		t.Fatalf("expected 3 total attempts with maxRetries=2, got %d", attempts)
	}
	if s.alreadySubmitted("task-4") {
		t.Fatalf("an exhausted Transient retry must not be marked submitted")
	}
}

func TestSubmitterMalformedRetriedOnceThenPermanent(t *testing.T) {
	attempts := 0
	fake := &orchestratortest.Fake{
		SubmitProofFunc: func(ctx context.Context, args orchestrator.SubmitProofArgs) error {
			attempts++
			return &orchestrator.RequestError{Kind: orchestrator.KindMalformed, Err: errors.New("garbled")}
		},
	}
	s, _, _ := newSubmitterForTest(t, fake)

	sub := testSubmission("task-9")
	s.process(context.Background(), sub, DefaultMaxRetries)

	if attempts != 2 { // the original attempt plus the single transient retry
		t.Fatalf("expected a malformed response to be retried exactly once, got %d attempts", attempts)
	}
	if s.alreadySubmitted("task-9") {
		t.Fatalf("a repeated-malformed submission must not be marked submitted")
	}
}

func TestSubmitterRateLimitedRetriesWithoutConsumingBudget(t *testing.T) {
	attempts := 0
	fake := &orchestratortest.Fake{
		SubmitProofFunc: func(ctx context.Context, args orchestrator.SubmitProofArgs) error {
			attempts++
			if attempts < 3 {
				return &orchestrator.RequestError{Kind: orchestrator.KindRateLimited, Err: errors.New("rate limited"), RetryAfter: time.Millisecond}
			}
			return nil
		},
	}
	s, _, _ := newSubmitterForTest(t, fake)

	sub := testSubmission("task-5")
	s.process(context.Background(), sub, 1) // a Transient budget of 1 would fail if RateLimited consumed it

	if attempts != 3 {
		t.Fatalf("expected 3 attempts (2 rate-limited + 1 success), got %d", attempts)
	}
	if !s.alreadySubmitted("task-5") {
		t.Fatalf("expected eventual success to be marked submitted")
	}
}

func TestSubmitterWorkerFailureNotifiesDCWithoutSubmitting(t *testing.T) {
	fake := &orchestratortest.Fake{}
	s, _, _ := newSubmitterForTest(t, fake)

	sub := testSubmission("task-6")
	sub.Outcome = task.Failed
	sub.FailReason = "simulated prover failure"
	s.process(context.Background(), sub, DefaultMaxRetries)

	if len(fake.Calls) != 0 {
		t.Fatalf("a worker-side failure must never reach the wire, got %d calls", len(fake.Calls))
	}
}

func TestSubmitterMaxTasksCountdown(t *testing.T) {
	fake := &orchestratortest.Fake{}
	remaining := int64(1)
	fired := make(chan struct{}, 1)
	dc := difficulty.New(nil, nil)
	s := New(Config{
		SID:             testSID(t),
		OC:              fake,
		DC:              dc,
		SubmissionQueue: make(chan *task.Submission, 1),
		MaxTasks:        &remaining,
		OnMaxTasksReached: func() {
			fired <- struct{}{}
		},
	})

	s.process(context.Background(), testSubmission("task-7"), DefaultMaxRetries)

	select {
	case <-fired:
	case <-time.After(time.Second):
		t.Fatalf("expected OnMaxTasksReached to fire once the counter hit zero")
	}
}

func TestSubmitterDrainUsesShortenedBudget(t *testing.T) {
	attempts := 0
	fake := &orchestratortest.Fake{
		SubmitProofFunc: func(ctx context.Context, args orchestrator.SubmitProofArgs) error {
			attempts++
			return &orchestrator.RequestError{Kind: orchestrator.KindTransient, Err: errors.New("down")}
		},
	}
	queue := make(chan *task.Submission, 1)
	dc := difficulty.New(nil, nil)
	s := New(Config{
		SID:             testSID(t),
		OC:              fake,
		DC:              dc,
		SubmissionQueue: queue,
		Bus:             events.NewBus(16),
	})
	queue <- testSubmission("task-8")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	done := make(chan struct{})
	go func() {
		s.Run(ctx)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatalf("Run did not return after context cancellation")
	}
	if attempts != shutdownMaxRetries+1 {
		t.Fatalf("expected %d attempts during drain, got %d", shutdownMaxRetries+1, attempts)
	}
}
