package main

import (
	"context"
	"errors"
	"io/fs"
	"path/filepath"
	"testing"

	"Leno-Agent/internal/config"
)

func loadShippedConfig(t *testing.T) *config.Config {
	t.Helper()
	t.Setenv("OPENAI_API_KEY", "test-key")
	cfg, err := config.Load(filepath.Join("..", "..", "configs", "leno.json"))
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	cfg.Storage.History.Driver = "memory"
	cfg.Agents.WorkspaceDir = filepath.Join(t.TempDir(), "workspace")
	return cfg
}

func TestBuildFromShippedConfig(t *testing.T) {
	cfg := loadShippedConfig(t)

	app, err := build(context.Background(), cfg)
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	defer app.close()

	if app.chat == nil || app.tasks == nil || app.processor == nil || app.auth == nil {
		t.Fatalf("expected every component to be built")
	}
	for _, name := range []string{
		"get_realtime_quote", "place_market_order", "google_custom_search",
		"youtube_rate_video_by_name", "summarize_txt_file", "create_file",
		"stock_agent", "coding_agent", "request_trade_confirmation", "record_task",
	} {
		if _, ok := app.registry.Lookup(name); !ok {
			t.Fatalf("tool %s not registered", name)
		}
	}
}

func TestBuildRejectsUnknownDrivers(t *testing.T) {
	cases := map[string]func(*config.Config){
		"llm":        func(c *config.Config) { c.LLM.Provider = "gemini" },
		"session":    func(c *config.Config) { c.Session.Driver = "etcd" },
		"history":    func(c *config.Config) { c.Storage.History.Driver = "postgres" },
		"task store": func(c *config.Config) { c.Storage.TaskStore.Driver = "mongo" },
		"task queue": func(c *config.Config) { c.TaskQueue.Driver = "kafka" },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			cfg := loadShippedConfig(t)
			mutate(cfg)
			if _, err := build(context.Background(), cfg); err == nil {
				t.Fatalf("expected error for unknown %s driver", name)
			}
		})
	}
}

func TestBuildRequiresAPIKey(t *testing.T) {
	cfg := loadShippedConfig(t)
	t.Setenv("OPENAI_API_KEY", "")
	if _, err := build(context.Background(), cfg); err == nil {
		t.Fatalf("expected error without api key")
	}
}

func TestLoadEnvFileIgnoresMissingFile(t *testing.T) {
	if err := loadEnvFile(filepath.Join(t.TempDir(), "missing.env")); err != nil {
		t.Fatalf("missing env file should be ignored: %v", err)
	}
	if err := loadEnvFile(t.TempDir()); err == nil || errors.Is(err, fs.ErrNotExist) {
		t.Fatalf("expected read error for a directory, got %v", err)
	}
}

func TestShippedConfigKeepsHistoryInMemory(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "test-key")
	cfg, err := config.Load(filepath.Join("..", "..", "configs", "leno.json"))
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.Storage.History.Driver != "memory" {
		t.Fatalf("history should be process-lifetime by default, got %q", cfg.Storage.History.Driver)
	}
}
