package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	if cfg.Service.Port != 8377 {
		t.Errorf("unexpected default port: %d", cfg.Service.Port)
	}
	if cfg.Approvals.PollInterval != 5*time.Second {
		t.Errorf("unexpected poll interval: %v", cfg.Approvals.PollInterval)
	}
	if cfg.Agent.MaxToolIterations != 10 {
		t.Errorf("unexpected iteration cap: %d", cfg.Agent.MaxToolIterations)
	}
	if cfg.Paths.DBPath() == "" || filepath.Base(cfg.Paths.DBPath()) != "penates.db" {
		t.Errorf("unexpected db path: %s", cfg.Paths.DBPath())
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("PENATES_SERVICE_PORT", "9000")
	t.Setenv("PENATES_APPROVALS_REQUIRE_ALL", "true")
	t.Setenv("PENATES_APPROVALS_ALLOWED_ROOTS", "/home/user:/tmp/work")
	t.Setenv("PENATES_AGENT_MAX_TOOL_ITERATIONS", "3")
	t.Setenv("PENATES_AGENT_CONTEXT_WINDOW_LIMIT", "32000")
	t.Setenv("PENATES_APPROVALS_POLL_INTERVAL", "10s")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Service.Port != 9000 {
		t.Errorf("port override ignored: %d", cfg.Service.Port)
	}
	if !cfg.Approvals.RequireAll {
		t.Error("require-all override ignored")
	}
	want := PathList{"/home/user", "/tmp/work"}
	if len(cfg.Approvals.AllowedRoots) != 2 || cfg.Approvals.AllowedRoots[0] != want[0] || cfg.Approvals.AllowedRoots[1] != want[1] {
		t.Errorf("colon-separated roots not parsed: %v", cfg.Approvals.AllowedRoots)
	}
	if cfg.Agent.MaxToolIterations != 3 {
		t.Errorf("iteration cap override ignored: %d", cfg.Agent.MaxToolIterations)
	}
	if cfg.Agent.ContextWindowLimit != 32000 {
		t.Errorf("context window override ignored: %d", cfg.Agent.ContextWindowLimit)
	}
	if cfg.Approvals.PollInterval != 10*time.Second {
		t.Errorf("poll interval override ignored: %v", cfg.Approvals.PollInterval)
	}
}

func TestLoadEnvFile(t *testing.T) {
	dir := t.TempDir()
	envFile := filepath.Join(dir, "env")
	if err := os.WriteFile(envFile, []byte("PENATES_DISCORD_TOKEN=file-token\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("PENATES_ENV_FILE", envFile)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Discord.Token != "file-token" {
		t.Errorf("env file not loaded: %q", cfg.Discord.Token)
	}
}

func TestProcessEnvWinsOverEnvFile(t *testing.T) {
	dir := t.TempDir()
	envFile := filepath.Join(dir, "env")
	if err := os.WriteFile(envFile, []byte("PENATES_DISCORD_TOKEN=file-token\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("PENATES_ENV_FILE", envFile)
	t.Setenv("PENATES_DISCORD_TOKEN", "process-token")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Discord.Token != "process-token" {
		t.Errorf("process env overridden by file: %q", cfg.Discord.Token)
	}
}

func TestPathListDecode(t *testing.T) {
	var p PathList
	if err := p.Decode("/a : /b::/c"); err != nil {
		t.Fatal(err)
	}
	if len(p) != 3 || p[0] != "/a" || p[1] != "/b" || p[2] != "/c" {
		t.Fatalf("unexpected paths: %v", p)
	}
}
