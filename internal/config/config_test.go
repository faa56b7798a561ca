package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestValidateRejectsEmptyNodeID(t *testing.T) {
	c := &Config{NodeID: "  ", OrchestratorURL: "orchestrator:443"}
	if err := c.Validate(); err == nil {
		t.Fatalf("expected an error for a whitespace-only node id")
	}
}

func TestValidateRejectsMissingOrchestratorURL(t *testing.T) {
	c := &Config{NodeID: "node-1"}
	var cfgErr *ConfigError
	err := c.Validate()
	if err == nil {
		t.Fatalf("expected an error for a missing orchestrator url")
	}
	if !as(err, &cfgErr) || cfgErr.Field != "orchestrator_url" {
		t.Fatalf("expected a ConfigError on orchestrator_url, got %v", err)
	}
}

func TestValidateAcceptsWellFormedConfig(t *testing.T) {
	c := &Config{NodeID: "node-1", OrchestratorURL: "orchestrator:443"}
	if err := c.Validate(); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
}

func TestResolveOrchestratorURLPrefersExplicit(t *testing.T) {
	url, err := ResolveOrchestratorURL("custom:443", EnvBeta)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if url != "custom:443" {
		t.Fatalf("expected the explicit url to win, got %s", url)
	}
}

func TestResolveOrchestratorURLFallsBackToEnv(t *testing.T) {
	url, err := ResolveOrchestratorURL("", EnvProduction)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if url == "" {
		t.Fatalf("expected a non-empty default url for production")
	}
}

func TestResolveOrchestratorURLFailsWithNeither(t *testing.T) {
	if _, err := ResolveOrchestratorURL("", ""); err == nil {
		t.Fatalf("expected an error when neither url nor env is given")
	}
}

func TestLoadPersistedStateMissingFileIsNotAnError(t *testing.T) {
	st, err := LoadPersistedState(filepath.Join(t.TempDir(), "does-not-exist.json"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if st != nil {
		t.Fatalf("expected nil state for a missing file, got %+v", st)
	}
}

func TestLoadPersistedStateParsesJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")
	if err := os.WriteFile(path, []byte(`{"node_id":"n1","wallet_address":"0xabc"}`), 0o600); err != nil {
		t.Fatalf("write fixture: %v", err)
	}
	st, err := LoadPersistedState(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if st.NodeID != "n1" || st.WalletAddress != "0xabc" {
		t.Fatalf("unexpected state: %+v", st)
	}
}

// as is a tiny errors.As shim so the test doesn't need to import errors
// just for this one call site.
func as(err error, target **ConfigError) bool {
	ce, ok := err.(*ConfigError)
	if !ok {
		return false
	}
	*target = ce
	return true
}
