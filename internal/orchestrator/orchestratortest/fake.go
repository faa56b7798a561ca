// Copyright (c) 2026 The Nexus developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package orchestratortest provides a scriptable orchestrator.Client
// double satisfying both the fetcher's and the submitter's narrow
// OrchestratorClient interfaces, so neither package's tests need a real
// gRPC dial.
package orchestratortest

import (
	"context"
	"crypto/ed25519"

	"github.com/nexus-xyz/nexusworker/internal/orchestrator"
	"github.com/nexus-xyz/nexusworker/internal/task"
)

// Fake is a configurable orchestrator double. GetProofTaskFunc and
// SubmitProofFunc default to returning zero values with a nil error when
// left unset.
type Fake struct {
	GetProofTaskFunc func(ctx context.Context, nodeID string, pub ed25519.PublicKey, maxDifficulty task.DifficultyLevel) (*orchestrator.TaskResult, error)
	SubmitProofFunc  func(ctx context.Context, args orchestrator.SubmitProofArgs) error

	// Calls records every SubmitProof invocation's TaskID, in order, for
	// tests asserting on anti-replay/dedup behavior.
	Calls []string
}

func (f *Fake) GetProofTask(ctx context.Context, nodeID string, pub ed25519.PublicKey, maxDifficulty task.DifficultyLevel) (*orchestrator.TaskResult, error) {
	if f.GetProofTaskFunc == nil {
		return &orchestrator.TaskResult{}, nil
	}
	return f.GetProofTaskFunc(ctx, nodeID, pub, maxDifficulty)
}

func (f *Fake) SubmitProof(ctx context.Context, args orchestrator.SubmitProofArgs) error {
	f.Calls = append(f.Calls, args.TaskID)
	if f.SubmitProofFunc == nil {
		return nil
	}
	return f.SubmitProofFunc(ctx, args)
}
