package supervisor

import (
	"context"
	"crypto/ed25519"
	"encoding/hex"
	"errors"
	"testing"
	"time"

	"github.com/nexus-xyz/nexusworker/internal/config"
	"github.com/nexus-xyz/nexusworker/internal/orchestrator"
	"github.com/nexus-xyz/nexusworker/internal/orchestrator/orchestratortest"
	"github.com/nexus-xyz/nexusworker/internal/prover/provertest"
	"github.com/nexus-xyz/nexusworker/internal/resource"
	"github.com/nexus-xyz/nexusworker/internal/resource/resourcetest"
	"github.com/nexus-xyz/nexusworker/internal/task"
)

// TestSingleTaskSuccessEndToEnd drives one task through the whole
// pipeline: fetch -> prove -> submit, with the difficulty controller
// promoting on the fast success and --max-tasks 1 triggering a clean
// shutdown.
func TestSingleTaskSuccessEndToEnd(t *testing.T) {
	served := false
	var submittedTaskID, submittedHash string
	var submittedSig []byte

	fake := &orchestratortest.Fake{
		GetProofTaskFunc: func(ctx context.Context, nodeID string, pub ed25519.PublicKey, maxDifficulty task.DifficultyLevel) (*orchestrator.TaskResult, error) {
			if served {
				<-ctx.Done()
				return nil, ctx.Err()
			}
			served = true
			return &orchestrator.TaskResult{Task: &task.Task{
				TaskID:           "T1",
				ProgramID:        "fib",
				PublicInputsList: [][]byte{{5, 1, 1}},
				Kind:             task.ProofRequired,
				Difficulty:       maxDifficulty,
				ServerDifficulty: task.Small,
			}}, nil
		},
		SubmitProofFunc: func(ctx context.Context, args orchestrator.SubmitProofArgs) error {
			submittedTaskID = args.TaskID
			submittedHash = args.ProofHash
			submittedSig = args.Signature
			return nil
		},
	}

	cfg := config.Config{
		NodeID:          "node-1",
		OrchestratorURL: "unused:443",
		MaxTasks:        1,
	}
	sup, err := New(Options{
		Config: cfg,
		Engine: &provertest.Fixed{ProofBytes: []byte{0xAA}},
		RO:     resourcetest.NewFake(4, 8*1024*1024*1024),
		OC:     fake,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	done := make(chan int, 1)
	go func() { done <- sup.Run(context.Background()) }()

	select {
	case code := <-done:
		if code != ExitClean {
			t.Fatalf("expected exit code %d, got %d", ExitClean, code)
		}
	case <-time.After(10 * time.Second):
		t.Fatalf("supervisor did not shut down within 10s of --max-tasks 1 being satisfied")
	}

	if submittedTaskID != "T1" {
		t.Fatalf("expected a SubmitProof call for T1, got %q", submittedTaskID)
	}
	wantHash := task.Keccak256Hex([]byte{0xAA})
	if submittedHash != wantHash {
		t.Fatalf("expected proof hash %s, got %s", wantHash, submittedHash)
	}
	if !sup.sid.Verify("T1", mustDecodeHex(t, wantHash), submittedSig) {
		t.Fatalf("expected a valid signature over task_id || proof_hash")
	}
	if got := sup.dc.Current(); got != task.SmallMedium {
		t.Fatalf("expected DC to promote Small -> SmallMedium on the fast success, got %s", got)
	}
}

// TestStartupFailsFastWhenMemoryIsInsufficient starves the resource
// oracle so not even one worker fits: construction must fail before any
// fetch is issued.
func TestStartupFailsFastWhenMemoryIsInsufficient(t *testing.T) {
	fetched := false
	fake := &orchestratortest.Fake{
		GetProofTaskFunc: func(ctx context.Context, nodeID string, pub ed25519.PublicKey, maxDifficulty task.DifficultyLevel) (*orchestrator.TaskResult, error) {
			fetched = true
			return nil, ctx.Err()
		},
	}

	_, err := New(Options{
		Config: config.Config{NodeID: "node-1", OrchestratorURL: "unused:443"},
		Engine: &provertest.Fixed{ProofBytes: []byte{0x01}},
		RO:     resourcetest.NewFake(8, 3*1024*1024*1024),
		OC:     fake,
	})
	if !errors.Is(err, resource.ErrInsufficientResources) {
		t.Fatalf("expected ErrInsufficientResources, got %v", err)
	}
	if fetched {
		t.Fatalf("no fetch may be issued when startup fails")
	}
}

// TestExternalCancellationShutsDownCleanly interrupts the pipeline while
// the fetcher is blocked on the orchestrator and expects an orderly exit.
func TestExternalCancellationShutsDownCleanly(t *testing.T) {
	fake := &orchestratortest.Fake{
		GetProofTaskFunc: func(ctx context.Context, nodeID string, pub ed25519.PublicKey, maxDifficulty task.DifficultyLevel) (*orchestrator.TaskResult, error) {
			<-ctx.Done()
			return nil, ctx.Err()
		},
	}
	sup, err := New(Options{
		Config: config.Config{NodeID: "node-1", OrchestratorURL: "unused:443"},
		Engine: &provertest.Fixed{ProofBytes: []byte{0x01}},
		RO:     resourcetest.NewFake(4, 8*1024*1024*1024),
		OC:     fake,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan int, 1)
	go func() { done <- sup.Run(ctx) }()
	cancel()

	select {
	case code := <-done:
		if code != ExitClean {
			t.Fatalf("expected exit code %d, got %d", ExitClean, code)
		}
	case <-time.After(10 * time.Second):
		t.Fatalf("supervisor did not shut down after cancellation")
	}
}

func mustDecodeHex(t *testing.T, s string) []byte {
	t.Helper()
	b, err := hex.DecodeString(s)
	if err != nil {
		t.Fatalf("decode hex: %v", err)
	}
	return b
}
