// Copyright (c) 2026 The Nexus developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package orchestrator implements the client side of the orchestrator
// wire protocol: a stateless request layer responsible for
// encoding/decoding and for classifying responses into the retry-policy
// taxonomy the fetch and submit loops act on.
//
// The task-fetch/submit hot path rides a persistent grpc.ClientConn (real
// HTTP2 framing, real deadlines), while the bootstrap-only calls
// (register_user, register_node, get_node) use a short-lived
// gorilla/websocket round trip.
package orchestrator

import (
	"context"
	"crypto/ed25519"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"time"

	"github.com/davecgh/go-spew/spew"
	"github.com/gorilla/websocket"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"

	"github.com/nexus-xyz/nexusworker/internal/log"
	"github.com/nexus-xyz/nexusworker/internal/task"
)

var subsystemLog = log.NewSubsystem("ORCH")

// RequestTimeout bounds a single outbound network call.
const RequestTimeout = 30 * time.Second

const (
	methodGetProofTask = "/nexus.orchestrator.Orchestrator/GetProofTask"
	methodSubmitProof  = "/nexus.orchestrator.Orchestrator/SubmitProof"
)

// invoker is the subset of *grpc.ClientConn this package depends on,
// narrowed so tests can substitute a fake without dialing a real server.
type invoker interface {
	Invoke(ctx context.Context, method string, args, reply interface{}, opts ...grpc.CallOption) error
}

// wsDialer opens the bootstrap websocket connection; overridable in tests.
type wsDialer func(ctx context.Context, url string) (*websocket.Conn, error)

// Client is the stateless orchestrator request layer. It holds no task
// state of its own; every call is independently classified.
type Client struct {
	baseURL string
	cc      invoker
	dialWS  wsDialer
}

// Config configures a new Client.
type Config struct {
	// BaseURL is the orchestrator's address, e.g. "orchestrator.nexus.xyz:443".
	BaseURL string
	// Insecure disables TLS, for tests and local development.
	Insecure bool
}

// NewClient dials the orchestrator and returns a ready Client. The dial
// itself is lazy/non-blocking per grpc's default WithBlock-less behavior;
// the first RPC surfaces any connection failure, classified as Transient.
func NewClient(cfg Config) (*Client, error) {
	var dialOpts []grpc.DialOption
	if cfg.Insecure {
		dialOpts = append(dialOpts, grpc.WithTransportCredentials(insecure.NewCredentials()))
	} else {
		dialOpts = append(dialOpts, grpc.WithTransportCredentials(
			credentials.NewTLS(&tls.Config{MinVersion: tls.VersionTLS12})))
	}
	cc, err := grpc.Dial(cfg.BaseURL, dialOpts...)
	if err != nil {
		return nil, fmt.Errorf("orchestrator: dial %s: %w", cfg.BaseURL, err)
	}
	return &Client{
		baseURL: cfg.BaseURL,
		cc:      cc,
		dialWS:  defaultDialWS,
	}, nil
}

// newClientForTest builds a Client around a fake invoker and/or websocket
// dialer, bypassing any real network dial.
func newClientForTest(cc invoker, dialWS wsDialer) *Client {
	return &Client{cc: cc, dialWS: dialWS}
}

// TaskResult is the successful outcome of GetProofTask.
type TaskResult struct {
	Task *task.Task
}

// GetProofTask requests a new task at up to maxDifficulty. The server may
// assign a lower difficulty (reputation gating); Task.ServerDifficulty
// reflects whatever it actually assigned.
func (c *Client) GetProofTask(ctx context.Context, nodeID string, pub ed25519.PublicKey, maxDifficulty task.DifficultyLevel) (*TaskResult, error) {
	ctx, cancel := context.WithTimeout(ctx, RequestTimeout)
	defer cancel()

	req := &getProofTaskRequest{
		NodeID:           nodeID,
		NodeType:         CLIProver,
		Ed25519PublicKey: []byte(pub),
		MaxDifficulty:    maxDifficulty.WireValue(),
	}
	var resp getProofTaskResponse
	err := c.cc.Invoke(ctx, methodGetProofTask, req, &resp, grpc.CallContentSubtype(jsonCodecName))
	if err != nil {
		return nil, classifyGRPCError(err)
	}

	t, err := decodeWireTask(&resp.Task, maxDifficulty)
	if err != nil {
		subsystemLog.Errorf("malformed task body: %v (%s)", err, spew.Sdump(resp))
		return nil, &RequestError{Kind: KindMalformed, Err: err}
	}
	return &TaskResult{Task: t}, nil
}

func decodeWireTask(w *wireTask, requested task.DifficultyLevel) (*task.Task, error) {
	if w.TaskID == "" {
		return nil, fmt.Errorf("empty task_id")
	}
	if len(w.PublicInputsList) == 0 {
		return nil, fmt.Errorf("task %s: empty public_inputs_list", w.TaskID)
	}
	kind := task.ProofRequired
	if w.TaskType == wireHashOnly {
		kind = task.HashOnly
	}
	return &task.Task{
		TaskID:           w.TaskID,
		ProgramID:        w.ProgramID,
		PublicInputsList: w.PublicInputsList,
		Kind:             kind,
		Difficulty:       requested,
		ServerDifficulty: wireValueToLevel(w.ServerAssignedDifficulty, requested),
		CreatedAt:        time.Unix(w.CreatedAt, 0).UTC(),
	}, nil
}

// wireValueToLevel maps a wire-reported difficulty back to the local
// ladder. Only SMALL=0, MEDIUM=5 and LARGE=10 have server-side meaning;
// several local levels share a wire value, so a server echoing the
// requested value is never a downgrade. Anything unrecognized is treated
// as "same as requested" since the server has no opinion on local-only
// saturation levels.
func wireValueToLevel(v uint32, requested task.DifficultyLevel) task.DifficultyLevel {
	if v == requested.WireValue() {
		return requested
	}
	switch v {
	case 0:
		return task.Small
	case 5:
		return task.Medium
	case 10:
		return task.Large
	default:
		return requested
	}
}

// SubmitProofArgs bundles a submission's wire payload.
type SubmitProofArgs struct {
	TaskID     string
	ProofHash  string
	ProofBytes []byte // nil/empty for HashOnly tasks
	Telemetry  task.Telemetry
	PublicKey  ed25519.PublicKey
	Signature  []byte
}

// SubmitProof sends a signed proof submission. It is idempotent by
// TaskID: a duplicate submit must not be treated as new credit by the
// orchestrator, and this client never synthesizes a second distinct
// submission for the same task.
func (c *Client) SubmitProof(ctx context.Context, args SubmitProofArgs) error {
	ctx, cancel := context.WithTimeout(ctx, RequestTimeout)
	defer cancel()

	req := &submitProofRequest{
		NodeType:  CLIProver,
		ProofHash: args.ProofHash,
		NodeTelemetry: wireTelemetry{
			FlopsPerSec:     args.Telemetry.FlopsPerSec,
			MemoryUsedBytes: args.Telemetry.MemoryUsedBytes,
			MemoryCapBytes:  args.Telemetry.MemoryCapBytes,
			Location:        args.Telemetry.Location,
		},
		Proof:            args.ProofBytes,
		TaskID:           args.TaskID,
		Ed25519PublicKey: []byte(args.PublicKey),
		Signature:        args.Signature,
	}
	var resp submitProofResponse
	err := c.cc.Invoke(ctx, methodSubmitProof, req, &resp, grpc.CallContentSubtype(jsonCodecName))
	if err != nil {
		return classifyGRPCError(err)
	}
	if !resp.OK {
		return &RequestError{Kind: KindPermanent, Err: fmt.Errorf("rejected: %s", resp.ErrorMessage)}
	}
	return nil
}

// RegisterUser and RegisterNode are bootstrap-only calls issued before a
// node id exists, so they use the short-lived websocket round trip rather
// than the persistent gRPC channel.
func (c *Client) RegisterUser(ctx context.Context, uuid, walletAddress string) error {
	return c.wsRoundTrip(ctx, "register_user",
		registerUserRequest{UUID: uuid, WalletAddress: walletAddress},
		&registerUserResponse{})
}

// RegisterNode registers a node for userID and returns its assigned id.
func (c *Client) RegisterNode(ctx context.Context, userID string) (string, error) {
	var resp registerNodeResponse
	if err := c.wsRoundTrip(ctx, "register_node",
		registerNodeRequest{UserID: userID, NodeType: CLIProver}, &resp); err != nil {
		return "", err
	}
	return resp.NodeID, nil
}

// GetNode returns the wallet address bound to nodeID.
func (c *Client) GetNode(ctx context.Context, nodeID string) (string, error) {
	var resp getNodeResponse
	if err := c.wsRoundTrip(ctx, "get_node", getNodeRequest{NodeID: nodeID}, &resp); err != nil {
		return "", err
	}
	return resp.WalletAddress, nil
}

type wsEnvelope struct {
	Method string          `json:"method"`
	Status int             `json:"status,omitempty"` // HTTP-equivalent status on responses; 0 on requests
	Body   json.RawMessage `json:"body"`
}

func (c *Client) wsRoundTrip(ctx context.Context, method string, req, resp interface{}) error {
	ctx, cancel := context.WithTimeout(ctx, RequestTimeout)
	defer cancel()

	conn, err := c.dialWS(ctx, c.baseURL)
	if err != nil {
		return &RequestError{Kind: KindTransient, Err: err}
	}
	defer conn.Close()

	body, err := json.Marshal(req)
	if err != nil {
		return &RequestError{Kind: KindPermanent, Err: err}
	}
	env := wsEnvelope{Method: method, Body: body}
	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetWriteDeadline(deadline)
		_ = conn.SetReadDeadline(deadline)
	}
	if err := conn.WriteJSON(env); err != nil {
		return &RequestError{Kind: KindTransient, Err: err}
	}
	var respEnv wsEnvelope
	if err := conn.ReadJSON(&respEnv); err != nil {
		return &RequestError{Kind: KindTransient, Err: err}
	}
	if respEnv.Status != 0 && respEnv.Status != 200 {
		if classified := classifyHTTPStatus(respEnv.Status, string(respEnv.Body), nil); classified != nil {
			return classified
		}
	}
	if err := json.Unmarshal(respEnv.Body, resp); err != nil {
		return &RequestError{Kind: KindMalformed, Err: err}
	}
	return nil
}

func defaultDialWS(ctx context.Context, baseURL string) (*websocket.Conn, error) {
	dialer := websocket.Dialer{HandshakeTimeout: RequestTimeout}
	conn, _, err := dialer.DialContext(ctx, wsURL(baseURL), nil)
	return conn, err
}

func wsURL(baseURL string) string {
	return "wss://" + baseURL + "/bootstrap"
}

// classifyGRPCError maps a grpc.Invoke error into the retry taxonomy
// using the RPC status code gRPC attaches to every error.
func classifyGRPCError(err error) error {
	if err == nil {
		return nil
	}
	if re, ok := err.(*RequestError); ok {
		return re
	}
	st := status.Convert(err)
	if containsRateLimitMarker(st.Message()) {
		return &RequestError{Kind: KindRateLimited, Err: err}
	}
	switch st.Code() {
	case codes.ResourceExhausted:
		return &RequestError{Kind: KindRateLimited, Err: err}
	case codes.Unavailable, codes.DeadlineExceeded, codes.Internal, codes.Unknown, codes.Aborted:
		return &RequestError{Kind: KindTransient, Err: err}
	case codes.InvalidArgument, codes.NotFound, codes.PermissionDenied, codes.Unauthenticated, codes.FailedPrecondition:
		return &RequestError{Kind: KindPermanent, Err: err}
	default:
		return &RequestError{Kind: KindTransient, Err: err}
	}
}
