// Copyright (c) 2026 The Nexus developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package resource implements the Resource Oracle (RO): it answers how many
// concurrent provers the host can support, consulted once by the
// supervisor at startup and periodically by the memory guard inside the
// prover worker pool.
package resource

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"runtime"
	"strconv"
	"strings"
)

// PerWorkerMem is the memory budget reserved per concurrent prover.
const PerWorkerMem = 4 * 1024 * 1024 * 1024 // 4 GiB

// ErrInsufficientResources is returned when the host cannot support even a
// single worker.
var ErrInsufficientResources = errors.New("resource: insufficient resources for even one worker")

// Oracle is the interface consumed by the rest of the pipeline, so tests
// can inject a fixed host profile without reading the real machine.
type Oracle interface {
	LogicalCores() int
	AvailableMemoryBytes() (uint64, error)
	RecommendWorkers(userRequest int) (int, error)
	// CheckSustained reports whether the host can sustain one worker for
	// the duration of a typical large-difficulty proof, a stricter
	// preflight than RecommendWorkers.
	CheckSustained() error
}

// HostOracle is the production Oracle, reading live host counters.
type HostOracle struct {
	// MemInfoPath overrides the path read for available memory; tests set
	// this to a fixture file. Empty means the real /proc/meminfo.
	MemInfoPath string
}

// NewHostOracle returns the production oracle for the current machine.
func NewHostOracle() *HostOracle {
	return &HostOracle{MemInfoPath: "/proc/meminfo"}
}

// LogicalCores returns the number of logical CPUs usable by this process.
func (h *HostOracle) LogicalCores() int {
	n := runtime.NumCPU()
	if n < 1 {
		return 1
	}
	return n
}

// AvailableMemoryBytes returns the host's currently available memory. On
// Linux it parses /proc/meminfo's MemAvailable field, the kernel's own
// estimate of memory available for new allocations without swapping. When
// that file cannot be opened or has no MemAvailable line, it returns the
// fixed fallbackAvailableMemory value (one worker's budget), since the
// pack carries no portable host-memory-stat dependency (see DESIGN.md).
func (h *HostOracle) AvailableMemoryBytes() (uint64, error) {
	path := h.MemInfoPath
	if path == "" {
		path = "/proc/meminfo"
	}
	f, err := os.Open(path)
	if err != nil {
		return fallbackAvailableMemory(), nil
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "MemAvailable:") {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) < 2 {
			return 0, fmt.Errorf("resource: malformed MemAvailable line %q", line)
		}
		kb, err := strconv.ParseUint(fields[1], 10, 64)
		if err != nil {
			return 0, fmt.Errorf("resource: parse MemAvailable: %w", err)
		}
		return kb * 1024, nil
	}
	if err := scanner.Err(); err != nil {
		return 0, fmt.Errorf("resource: read meminfo: %w", err)
	}
	return fallbackAvailableMemory(), nil
}

// fallbackAvailableMemory is used when /proc/meminfo (or MemInfoPath) is
// missing or lacks a MemAvailable line. It
// deliberately underestimates (a single worker's budget) rather than risk
// oversubscription, since it has no real visibility into host memory.
func fallbackAvailableMemory() uint64 {
	return PerWorkerMem
}

// RecommendWorkers recommends a worker count for this host. A userRequest
// of 0 means "no preference."
func (h *HostOracle) RecommendWorkers(userRequest int) (int, error) {
	return Recommend(h, userRequest)
}

// Recommend sizes a worker pool against any Oracle, so both the
// production HostOracle and test doubles share one implementation: start
// from half the logical cores, cap at three quarters of them, then cap
// again at one worker per PerWorkerMem of available memory.
func Recommend(o Oracle, userRequest int) (int, error) {
	cores := o.LogicalCores()
	def := cores / 2
	if def < 1 {
		def = 1
	}
	hardCap := cores * 3 / 4
	if hardCap < 1 {
		hardCap = 1
	}
	mem, err := o.AvailableMemoryBytes()
	if err != nil {
		return 0, err
	}
	memCap := int(mem / PerWorkerMem)
	if memCap < 1 {
		memCap = 1
	}

	want := def
	if userRequest > 0 {
		want = userRequest
	}
	result := min3(want, hardCap, memCap)

	if mem < PerWorkerMem {
		return 0, ErrInsufficientResources
	}
	if result < 1 {
		return 0, ErrInsufficientResources
	}
	return result, nil
}

func min3(a, b, c int) int {
	m := a
	if b < m {
		m = b
	}
	if c < m {
		m = c
	}
	return m
}

// CheckSustained fails fast if the host's current available memory cannot
// sustain one worker for the duration of a typical large proof. Unlike
// RecommendWorkers, which is a one-time sizing decision, this re-reads the
// live counter so it can be called again during the memory guard.
func (h *HostOracle) CheckSustained() error {
	mem, err := h.AvailableMemoryBytes()
	if err != nil {
		return err
	}
	if mem < PerWorkerMem {
		return ErrInsufficientResources
	}
	return nil
}
