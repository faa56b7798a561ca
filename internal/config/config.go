// Copyright (c) 2026 The Nexus developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package config defines the worker's configuration contract: the flat
// Config struct the front end populates from flags and environment
// variables, its validation rules, and the shape of the per-user persisted
// state file the core reads (but never writes) at startup. Config is a
// plain struct of values handed in by the owner and validated once before
// use, rather than a config object that reaches back out to flags or the
// filesystem itself.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"unicode"

	"github.com/nexus-xyz/nexusworker/internal/task"
)

// Env names one of the orchestrator deployment environments a node can
// target via --env.
type Env string

const (
	EnvBeta       Env = "beta"
	EnvProduction Env = "production"
)

// envOrchestratorURLs resolves an Env to its default orchestrator address
// when --orchestrator-url is not given explicitly.
var envOrchestratorURLs = map[Env]string{
	EnvBeta:       "beta.orchestrator.nexus.xyz:443",
	EnvProduction: "orchestrator.nexus.xyz:443",
}

// NodeIDEnvVar is the environment variable consulted as the fallback
// source for --node-id.
const NodeIDEnvVar = "NEXUS_NODE_ID"

// NodeLocationEnvVar supplies the best-effort telemetry location string.
const NodeLocationEnvVar = "NEXUS_NODE_LOCATION"

// Config is the fully resolved set of knobs the supervisor needs. The
// front end (cmd/nexusworker) is responsible for turning flags, the
// NEXUS_NODE_ID environment fallback, and --env resolution into one of
// these before calling Validate.
type Config struct {
	NodeID          string
	Headless        bool
	MaxTasks        int64 // 0 means unlimited
	MaxDifficulty   *task.DifficultyLevel
	MaxThreads      int // 0 means let the Resource Oracle decide
	CheckMemory     bool
	OrchestratorURL string
	Env             Env
	NodeLocation    string
}

// ConfigError reports a single invalid field: which field, and why.
type ConfigError struct {
	Field  string
	Reason string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("config: %s: %s", e.Field, e.Reason)
}

// Validate checks the fields Validate can check without touching the
// network or filesystem; resource sufficiency is RO's job at startup.
func (c *Config) Validate() error {
	trimmed := strings.TrimSpace(c.NodeID)
	if trimmed == "" {
		return &ConfigError{Field: "node_id", Reason: "must not be empty"}
	}
	if !isPrintableID(trimmed) {
		return &ConfigError{Field: "node_id", Reason: "must contain only printable characters"}
	}
	if c.OrchestratorURL == "" {
		return &ConfigError{Field: "orchestrator_url", Reason: "must not be empty (set --orchestrator-url or --env)"}
	}
	if c.MaxTasks < 0 {
		return &ConfigError{Field: "max_tasks", Reason: "must not be negative"}
	}
	if c.MaxThreads < 0 {
		return &ConfigError{Field: "max_threads", Reason: "must not be negative"}
	}
	return nil
}

func isPrintableID(s string) bool {
	for _, r := range s {
		if !unicode.IsPrint(r) || unicode.IsSpace(r) {
			return false
		}
	}
	return true
}

// ResolveOrchestratorURL returns explicit if non-empty, otherwise the
// default address for env. It is a free function rather than a Config
// method so the front end can call it before Config exists, while
// assembling --orchestrator-url's effective value.
func ResolveOrchestratorURL(explicit string, env Env) (string, error) {
	if explicit != "" {
		return explicit, nil
	}
	if env == "" {
		return "", &ConfigError{Field: "orchestrator_url", Reason: "neither --orchestrator-url nor --env was given"}
	}
	url, ok := envOrchestratorURLs[env]
	if !ok {
		return "", &ConfigError{Field: "env", Reason: fmt.Sprintf("unknown environment %q", env)}
	}
	return url, nil
}

// PersistedState is the single JSON document kept at a conventional
// per-user location. The core only ever reads this at startup; it never
// writes or locks it.
type PersistedState struct {
	NodeID        string `json:"node_id"`
	WalletAddress string `json:"wallet_address,omitempty"`
}

// LoadPersistedState reads and parses the state file at path. A missing
// file is not an error: it simply means no prior node id has been
// persisted, and (nil, nil) is returned. The front end consults this file
// only after --node-id and NEXUS_NODE_ID have both come up empty.
func LoadPersistedState(path string) (*PersistedState, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("config: read persisted state: %w", err)
	}
	var st PersistedState
	if err := json.Unmarshal(data, &st); err != nil {
		return nil, fmt.Errorf("config: parse persisted state: %w", err)
	}
	return &st, nil
}

// NodeIDFromEnv reads the NEXUS_NODE_ID fallback.
func NodeIDFromEnv() string {
	return os.Getenv(NodeIDEnvVar)
}

// NodeLocationFromEnv reads the optional telemetry location tag.
func NodeLocationFromEnv() string {
	return os.Getenv(NodeLocationEnvVar)
}
