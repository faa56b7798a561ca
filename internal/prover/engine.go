// Copyright (c) 2026 The Nexus developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package prover defines the boundary to the zero-knowledge prover engine
// itself. The core invokes it as an opaque blocking operation and never
// inspects its internals.
package prover

import (
	"context"
	"fmt"
)

// Engine executes one public input against a program and returns the
// resulting proof bytes. Implementations are expected to be CPU-bound for
// seconds to minutes; callers are responsible for running Prove off the
// cooperative scheduler (see pool.Worker), not Engine itself.
type Engine interface {
	Prove(ctx context.Context, programID string, publicInput []byte) ([]byte, error)
}

// Error wraps a failure from the prover engine. It is scoped to the task
// that triggered it and never poisons the worker that observed it.
type Error struct {
	ProgramID string
	Cause     error
}

func (e *Error) Error() string {
	return fmt.Sprintf("prover: program %s: %v", e.ProgramID, e.Cause)
}

func (e *Error) Unwrap() error { return e.Cause }

// Run invokes engine.Prove and converts a panic or error into an *Error,
// isolating the caller from both. It does not itself move work to a
// dedicated OS thread; see pool.Worker.runOnThread for that bridge.
func Run(ctx context.Context, eng Engine, programID string, input []byte) (proof []byte, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &Error{ProgramID: programID, Cause: fmt.Errorf("panic: %v", r)}
		}
	}()
	proof, err = eng.Prove(ctx, programID, input)
	if err != nil {
		err = &Error{ProgramID: programID, Cause: err}
	}
	return proof, err
}
