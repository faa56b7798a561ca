// Copyright (c) 2026 The Nexus developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Command nexusworker is the thin front end wiring flags and environment
// variables into internal/config.Config, then handing the process over to
// internal/supervisor. It prints the event stream to stdout unless
// --headless is given; a richer interactive dashboard can subscribe to the
// same bus.
package main

import (
	"context"
	"fmt"
	"os"
	"time"

	flags "github.com/jessevdk/go-flags"
	"golang.org/x/crypto/sha3"

	"github.com/nexus-xyz/nexusworker/internal/config"
	"github.com/nexus-xyz/nexusworker/internal/events"
	"github.com/nexus-xyz/nexusworker/internal/log"
	"github.com/nexus-xyz/nexusworker/internal/supervisor"
	"github.com/nexus-xyz/nexusworker/internal/task"
)

type cliOptions struct {
	NodeID          string `long:"node-id" description:"node identifier; falls back to NEXUS_NODE_ID then --state-file"`
	Headless        bool   `long:"headless" description:"suppress the console event observer"`
	MaxTasks        int64  `long:"max-tasks" description:"exit cleanly after this many successful submissions"`
	MaxDifficulty   string `long:"max-difficulty" description:"clamp the difficulty ladder at this level (e.g. Medium)"`
	MaxThreads      int    `long:"max-threads" description:"override the recommended worker count"`
	CheckMemory     bool   `long:"check-memory" description:"fail fast if available memory cannot sustain one worker"`
	OrchestratorURL string `long:"orchestrator-url" description:"explicit orchestrator address, overrides --env"`
	Env             string `long:"env" default:"production" description:"orchestrator environment (beta, production)"`
	StateFile       string `long:"state-file" description:"path to the persisted per-user state JSON"`
	LogFile         string `long:"log-file" description:"rotate logs to this file in addition to stdout"`
}

func main() {
	os.Exit(run())
}

func run() int {
	var opts cliOptions
	parser := flags.NewParser(&opts, flags.Default)
	if _, err := parser.Parse(); err != nil {
		if flagsErr, ok := err.(*flags.Error); ok && flagsErr.Type == flags.ErrHelp {
			return 0
		}
		return 1
	}

	nodeID := resolveNodeID(opts)
	if nodeID == "" {
		fmt.Fprintln(os.Stderr, "nexusworker: no node id given (set --node-id, NEXUS_NODE_ID, or --state-file)")
		return 1
	}

	var maxDiff *task.DifficultyLevel
	if opts.MaxDifficulty != "" {
		lvl, ok := task.ParseDifficultyLevel(opts.MaxDifficulty)
		if !ok {
			fmt.Fprintf(os.Stderr, "nexusworker: unknown --max-difficulty %q\n", opts.MaxDifficulty)
			return 1
		}
		maxDiff = &lvl
	}

	url, err := config.ResolveOrchestratorURL(opts.OrchestratorURL, config.Env(opts.Env))
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}

	if opts.LogFile != "" {
		if err := log.InitLogRotator(opts.LogFile); err != nil {
			fmt.Fprintln(os.Stderr, err)
			return 1
		}
	}

	cfg := config.Config{
		NodeID:          nodeID,
		Headless:        opts.Headless,
		MaxTasks:        opts.MaxTasks,
		MaxDifficulty:   maxDiff,
		MaxThreads:      opts.MaxThreads,
		CheckMemory:     opts.CheckMemory,
		OrchestratorURL: url,
		Env:             config.Env(opts.Env),
		NodeLocation:    config.NodeLocationFromEnv(),
	}

	sup, err := supervisor.New(supervisor.Options{
		Config: cfg,
		Engine: placeholderEngine{},
	})
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}

	if !opts.Headless {
		go printEvents(sup.Bus())
	}

	return sup.Run(context.Background())
}

// resolveNodeID applies the node id precedence: an explicit flag, then
// NEXUS_NODE_ID, then whatever was last persisted to --state-file.
func resolveNodeID(opts cliOptions) string {
	if opts.NodeID != "" {
		return opts.NodeID
	}
	if id := config.NodeIDFromEnv(); id != "" {
		return id
	}
	if opts.StateFile == "" {
		return ""
	}
	st, err := config.LoadPersistedState(opts.StateFile)
	if err != nil || st == nil {
		return ""
	}
	return st.NodeID
}

func printEvents(bus *events.Bus) {
	sub := bus.Subscribe()
	defer sub.Close()
	for e := range sub.Events() {
		fmt.Printf("[%s] %-5s %-10s %s\n", e.Timestamp.Format(time.RFC3339), e.Level, e.Category, e.Message)
	}
}

// placeholderEngine stands in for the real zero-knowledge prover binding,
// which is an external collaborator never implemented by this module. It
// exists only so the binary is runnable end to end without it.
type placeholderEngine struct{}

func (placeholderEngine) Prove(ctx context.Context, programID string, input []byte) ([]byte, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}
	h := sha3.NewLegacyKeccak256()
	h.Write([]byte(programID))
	h.Write(input)
	return h.Sum(nil), nil
}
