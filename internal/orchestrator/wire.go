// Copyright (c) 2026 The Nexus developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package orchestrator

// NodeType identifies the kind of client issuing a request.
type NodeType uint32

const (
	// CLIProver is the only node type this worker ever sends.
	CLIProver NodeType = 1
)

// wireTaskKind mirrors task.Kind on the wire.
type wireTaskKind uint32

const (
	wireProofRequired wireTaskKind = 0
	wireHashOnly      wireTaskKind = 1
)

// getProofTaskRequest asks the orchestrator for a new task at up to
// MaxDifficulty.
type getProofTaskRequest struct {
	NodeID           string   `json:"node_id"`
	NodeType         NodeType `json:"node_type"`
	Ed25519PublicKey []byte   `json:"ed25519_public_key"`
	MaxDifficulty    uint32   `json:"max_difficulty"`
}

type wireTask struct {
	TaskID                   string       `json:"task_id"`
	ProgramID                string       `json:"program_id"`
	PublicInputsList         [][]byte     `json:"public_inputs_list"`
	TaskType                 wireTaskKind `json:"task_type"`
	CreatedAt                int64        `json:"created_at"` // unix seconds
	ServerAssignedDifficulty uint32       `json:"server_assigned_difficulty"`
}

type getProofTaskResponse struct {
	Task wireTask `json:"task"`
}

// wireTelemetry mirrors task.Telemetry on the wire.
type wireTelemetry struct {
	FlopsPerSec     float64 `json:"flops_per_sec,omitempty"`
	MemoryUsedBytes uint64  `json:"memory_used_bytes,omitempty"`
	MemoryCapBytes  uint64  `json:"memory_cap_bytes,omitempty"`
	Location        string  `json:"location,omitempty"`
}

// submitProofRequest carries one signed proof submission.
type submitProofRequest struct {
	NodeType         NodeType      `json:"node_type"`
	ProofHash        string        `json:"proof_hash"`
	NodeTelemetry    wireTelemetry `json:"node_telemetry"`
	Proof            []byte        `json:"proof"`
	TaskID           string        `json:"task_id"`
	Ed25519PublicKey []byte        `json:"ed25519_public_key"`
	Signature        []byte        `json:"signature"`
}

type submitProofResponse struct {
	OK           bool   `json:"ok"`
	ErrorMessage string `json:"error_message,omitempty"`
}

type registerUserRequest struct {
	UUID          string `json:"uuid"`
	WalletAddress string `json:"wallet_address"`
}

type registerUserResponse struct{}

type registerNodeRequest struct {
	UserID   string   `json:"user_id"`
	NodeType NodeType `json:"node_type"`
}

type registerNodeResponse struct {
	NodeID string `json:"node_id"`
}

type getNodeRequest struct {
	NodeID string `json:"node_id"`
}

type getNodeResponse struct {
	WalletAddress string `json:"wallet_address"`
}
