// Copyright (c) 2026 The Nexus developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package identity owns the process-wide signing key pair (SID). The key is
// generated once at supervisor startup, lives for the process lifetime, and
// is never persisted to disk.
package identity

import (
	"crypto/ed25519"
	"crypto/rand"
	"fmt"
)

// SID is an ephemeral Ed25519 signing identity. It is safe for concurrent
// read-only use by any number of goroutines once constructed; nothing ever
// mutates it after New returns.
type SID struct {
	public  ed25519.PublicKey
	private ed25519.PrivateKey
}

// New generates a fresh Ed25519 key pair using the OS CSPRNG.
func New() (*SID, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("generate signing key: %w", err)
	}
	return &SID{public: pub, private: priv}, nil
}

// PublicKey returns the 32-byte Ed25519 public key sent with every request.
func (s *SID) PublicKey() ed25519.PublicKey {
	return s.public
}

// Sign produces a 64-byte detached signature over UTF-8(taskID) followed by
// the raw (not hex) bytes of firstProofHash.
func (s *SID) Sign(taskID string, firstProofHash []byte) []byte {
	msg := make([]byte, 0, len(taskID)+len(firstProofHash))
	msg = append(msg, []byte(taskID)...)
	msg = append(msg, firstProofHash...)
	return ed25519.Sign(s.private, msg)
}

// Verify reports whether sig is a valid signature over UTF-8(taskID) +
// firstProofHash under this identity's public key. It exists chiefly for
// the supervisor's startup self-test and for tests.
func (s *SID) Verify(taskID string, firstProofHash []byte, sig []byte) bool {
	msg := make([]byte, 0, len(taskID)+len(firstProofHash))
	msg = append(msg, []byte(taskID)...)
	msg = append(msg, firstProofHash...)
	return ed25519.Verify(s.public, msg, sig)
}

// SelfTest signs and verifies a throwaway message, failing fast if the
// platform's crypto/rand source or the ed25519 implementation is broken,
// rather than discovering it on the first real submission.
func (s *SID) SelfTest() error {
	const probeTask = "nexusworker-selftest"
	probeHash := []byte{0xde, 0xad, 0xbe, 0xef}
	sig := s.Sign(probeTask, probeHash)
	if !s.Verify(probeTask, probeHash, sig) {
		return fmt.Errorf("signing self-test failed: signature did not verify")
	}
	return nil
}
