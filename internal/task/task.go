// Copyright (c) 2026 The Nexus developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package task defines the core data model shared across the prover
// pipeline: the unit of work fetched from the orchestrator, the difficulty
// ladder that gates it, and the submission produced once it is proved.
package task

import (
	"encoding/hex"
	"time"

	"golang.org/x/crypto/sha3"
)

// Kind distinguishes a task that requires a full proof submission from one
// where only the proof's hash needs to reach the orchestrator.
type Kind uint8

const (
	// ProofRequired tasks submit the first proof's bytes and hash.
	ProofRequired Kind = iota
	// HashOnly tasks submit only the first proof's hash; proof bytes are
	// never sent over the wire for these.
	HashOnly
)

func (k Kind) String() string {
	if k == HashOnly {
		return "HASH_ONLY"
	}
	return "PROOF_REQUIRED"
}

// DifficultyLevel is the totally ordered difficulty ladder. The zero value
// is Small, the ladder's minimum.
type DifficultyLevel uint8

const (
	Small DifficultyLevel = iota
	SmallMedium
	Medium
	Large
	ExtraLarge
	ExtraLarge2
	ExtraLarge3
	ExtraLarge4
	ExtraLarge5
	numDifficultyLevels
)

var difficultyNames = [numDifficultyLevels]string{
	Small:       "Small",
	SmallMedium: "SmallMedium",
	Medium:      "Medium",
	Large:       "Large",
	ExtraLarge:  "ExtraLarge",
	ExtraLarge2: "ExtraLarge2",
	ExtraLarge3: "ExtraLarge3",
	ExtraLarge4: "ExtraLarge4",
	ExtraLarge5: "ExtraLarge5",
}

func (d DifficultyLevel) String() string {
	if d >= numDifficultyLevels {
		return "Unknown"
	}
	return difficultyNames[d]
}

// ParseDifficultyLevel parses the name a --max-difficulty flag carries
// (case-sensitive, matching String's output) back into a DifficultyLevel.
func ParseDifficultyLevel(s string) (DifficultyLevel, bool) {
	for i, name := range difficultyNames {
		if name == s {
			return DifficultyLevel(i), true
		}
	}
	return 0, false
}

// Max is the highest difficulty level the ladder supports.
const Max = ExtraLarge5

// Successor returns the next difficulty level and true, or the receiver
// itself and false if it is already Max.
func (d DifficultyLevel) Successor() (DifficultyLevel, bool) {
	if d >= Max {
		return d, false
	}
	return d + 1, true
}

// Predecessor returns the previous difficulty level and true, or the
// receiver itself and false if it is already Small.
func (d DifficultyLevel) Predecessor() (DifficultyLevel, bool) {
	if d <= Small {
		return d, false
	}
	return d - 1, true
}

// Clamp returns d if d <= max, otherwise max.
func (d DifficultyLevel) Clamp(max DifficultyLevel) DifficultyLevel {
	if d > max {
		return max
	}
	return d
}

// WireValue returns the enum value sent on the wire for this level:
// SMALL=0, MEDIUM=5, LARGE=10. Levels above Large are local-only client
// upgrades and are sent as the highest value the server understands.
func (d DifficultyLevel) WireValue() uint32 {
	switch {
	case d == Small:
		return 0
	case d == SmallMedium || d == Medium:
		return 5
	default:
		return 10
	}
}

// Task is an immutable unit of work admitted to the pipeline. Once
// constructed it is never mutated; its fingerprint is its TaskID.
type Task struct {
	TaskID           string
	ProgramID        string
	PublicInputsList [][]byte
	Kind             Kind
	Difficulty       DifficultyLevel
	ServerDifficulty DifficultyLevel
	CreatedAt        time.Time
}

// Fingerprint returns the task's locally assigned unique identity.
func (t *Task) Fingerprint() string {
	return t.TaskID
}

// Downgraded reports whether the server assigned a difficulty lower than
// the one requested.
func (t *Task) Downgraded() bool {
	return t.ServerDifficulty < t.Difficulty
}

// Proof is an opaque byte string produced by the prover for one
// public-input entry.
type Proof []byte

// Keccak256Hex returns the lowercase hex-encoded Keccak-256 digest of b.
// This is deterministic: the same input always yields the same digest.
func Keccak256Hex(b []byte) string {
	h := sha3.NewLegacyKeccak256()
	h.Write(b)
	return hex.EncodeToString(h.Sum(nil))
}

// Outcome is the terminal or in-flight state of a Submission.
type Outcome uint8

const (
	// Pending has not yet reached a terminal state.
	Pending Outcome = iota
	Succeeded
	Failed
)

func (o Outcome) String() string {
	switch o {
	case Succeeded:
		return "Succeeded"
	case Failed:
		return "Failed"
	default:
		return "Pending"
	}
}

// Telemetry is best-effort execution telemetry; any field may be absent
// (its zero value).
type Telemetry struct {
	FlopsPerSec     float64
	MemoryUsedBytes uint64
	MemoryCapBytes  uint64
	Location        string
}

// Submission is produced by a worker after attempting every public input of
// a Task and is owned by the submitter until a terminal outcome is known.
type Submission struct {
	Task        *Task
	ProofBytes  []Proof
	ProofHashes []string
	Telemetry   Telemetry
	Duration    time.Duration
	Outcome     Outcome
	FailReason  string
}

// FirstHash returns the hash of the first proof, which is the only hash
// the wire protocol ever carries.
func (s *Submission) FirstHash() string {
	if len(s.ProofHashes) == 0 {
		return ""
	}
	return s.ProofHashes[0]
}

// FirstProof returns the bytes of the first proof, or nil for a HashOnly
// task (the wire payload must carry zero proof bytes for those).
func (s *Submission) FirstProof() Proof {
	if s.Task.Kind == HashOnly {
		return nil
	}
	if len(s.ProofBytes) == 0 {
		return nil
	}
	return s.ProofBytes[0]
}
