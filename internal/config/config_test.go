package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadAppliesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "leno.json")
	if err := os.WriteFile(path, []byte(`{"llm":{"provider":"anthropic"}}`), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Server.Address != ":3001" {
		t.Fatalf("unexpected address: %s", cfg.Server.Address)
	}
	if cfg.Agents.ManagerApp != "agent4_app" || cfg.Agents.BrokerageApp != "stock_agent" {
		t.Fatalf("unexpected apps: %+v", cfg.Agents)
	}
	if cfg.Agents.User != "user_1" || cfg.Agents.Session != "session_001" {
		t.Fatalf("unexpected identity: %+v", cfg.Agents)
	}
	if cfg.LLM.APIKeyEnv != "ANTHROPIC_API_KEY" {
		t.Fatalf("provider specific key env not applied: %s", cfg.LLM.APIKeyEnv)
	}
	if cfg.Agents.Catalog != filepath.Join(dir, "agents.yaml") {
		t.Fatalf("catalog path not resolved: %s", cfg.Agents.Catalog)
	}
	if cfg.Runtime.DataDir != filepath.Join(dir, "data") {
		t.Fatalf("data dir not resolved: %s", cfg.Runtime.DataDir)
	}
	if cfg.Server.AllowedOrigins[0] != "*" {
		t.Fatalf("cors origins not defaulted: %v", cfg.Server.AllowedOrigins)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.json")); err == nil {
		t.Fatalf("expected error for missing config")
	}
	if _, err := Load(""); err == nil {
		t.Fatalf("expected error for empty path")
	}
}

func TestApplyEnvOverrides(t *testing.T) {
	env := map[string]string{
		"LENO_ADDR":         ":9000",
		"LENO_TASK_QUEUE":   "redis",
		"LENO_TASK_WORKERS": "7",
		"LENO_LLM_MODEL":    " gpt-4.1 ",
	}
	var cfg Config
	cfg.applyEnv(func(key string) (string, bool) {
		v, ok := env[key]
		return v, ok
	})
	cfg.applyDefaults(t.TempDir())

	if cfg.Server.Address != ":9000" || cfg.TaskQueue.Driver != "redis" {
		t.Fatalf("env overrides not applied: %+v", cfg)
	}
	if cfg.TaskQueue.Workers != 7 || cfg.TaskQueue.RabbitMQ.Prefetch != 7 {
		t.Fatalf("worker override not applied: %+v", cfg.TaskQueue)
	}
	if cfg.LLM.Model != "gpt-4.1" {
		t.Fatalf("model override not trimmed: %q", cfg.LLM.Model)
	}
}

func TestResolveTokensMergesEnv(t *testing.T) {
	t.Setenv("LENO_TEST_TOKENS", "a, b ,,c")
	cfg := AuthConfig{Tokens: []string{"static"}, TokensEnv: "LENO_TEST_TOKENS"}
	tokens := cfg.ResolveTokens()
	if len(tokens) != 4 || tokens[0] != "static" || tokens[2] != "b" {
		t.Fatalf("unexpected tokens: %v", tokens)
	}
}

func TestSQLiteDefaultDSN(t *testing.T) {
	dir := t.TempDir()
	cfg := Config{Storage: StorageConfig{History: HistoryConfig{Driver: "sqlite"}}}
	cfg.applyDefaults(dir)
	if cfg.Storage.History.DSN != filepath.Join(dir, "data", "leno.db") {
		t.Fatalf("unexpected sqlite dsn: %s", cfg.Storage.History.DSN)
	}
}

func TestFallbackPathsFollowDataDir(t *testing.T) {
	root := t.TempDir()
	configDir := filepath.Join(root, "configs")
	cfg := Config{
		Runtime: RuntimeConfig{DataDir: "../data"},
		Storage: StorageConfig{History: HistoryConfig{Driver: "file"}},
	}
	cfg.applyDefaults(configDir)

	dataDir := filepath.Join(root, "data")
	if cfg.Runtime.DataDir != dataDir {
		t.Fatalf("unexpected data dir: %s", cfg.Runtime.DataDir)
	}
	if cfg.Agents.WorkspaceDir != filepath.Join(dataDir, "workspace") {
		t.Fatalf("workspace should default under the data dir: %s", cfg.Agents.WorkspaceDir)
	}
	if cfg.Storage.History.Path != filepath.Join(dataDir, "history.jsonl") {
		t.Fatalf("history file should default under the data dir: %s", cfg.Storage.History.Path)
	}

	explicit := Config{
		Runtime: RuntimeConfig{DataDir: "../data"},
		Agents:  AgentsConfig{WorkspaceDir: "ws"},
	}
	explicit.applyDefaults(configDir)
	if explicit.Agents.WorkspaceDir != filepath.Join(configDir, "ws") {
		t.Fatalf("explicit workspace should resolve against the config dir: %s", explicit.Agents.WorkspaceDir)
	}
}
