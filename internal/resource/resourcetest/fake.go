// Copyright (c) 2026 The Nexus developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package resourcetest provides a deterministic resource.Oracle double for
// exercising sizing and starvation paths without touching the real host.
package resourcetest

import "github.com/nexus-xyz/nexusworker/internal/resource"

// Fake is a fixed-profile resource.Oracle.
type Fake struct {
	Cores           int
	AvailableMemory uint64
	MemErr          error
	SustainedErr    error
}

// NewFake returns a Fake with the given core count and available memory.
func NewFake(cores int, availableMemoryBytes uint64) *Fake {
	return &Fake{Cores: cores, AvailableMemory: availableMemoryBytes}
}

func (f *Fake) LogicalCores() int { return f.Cores }

func (f *Fake) AvailableMemoryBytes() (uint64, error) {
	if f.MemErr != nil {
		return 0, f.MemErr
	}
	return f.AvailableMemory, nil
}

func (f *Fake) RecommendWorkers(userRequest int) (int, error) {
	return resource.Recommend(f, userRequest)
}

func (f *Fake) CheckSustained() error {
	if f.SustainedErr != nil {
		return f.SustainedErr
	}
	mem, err := f.AvailableMemoryBytes()
	if err != nil {
		return err
	}
	if mem < resource.PerWorkerMem {
		return resource.ErrInsufficientResources
	}
	return nil
}

var _ resource.Oracle = (*Fake)(nil)
