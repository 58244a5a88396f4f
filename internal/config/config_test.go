package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/ShayCichocki/missioncontrol/pkg/models"
)

func TestDefault(t *testing.T) {
	cfg := Default()

	if cfg.Scheduler.Interval != 30*time.Second {
		t.Errorf("expected interval 30s, got %v", cfg.Scheduler.Interval)
	}
	if cfg.Scheduler.MaxInterval != 5*time.Minute {
		t.Errorf("expected max interval 5m, got %v", cfg.Scheduler.MaxInterval)
	}
	if cfg.Store.Driver != "sqlite" {
		t.Errorf("expected sqlite driver, got %q", cfg.Store.Driver)
	}
	if _, ok := cfg.Engine(models.EngineClaude); !ok {
		t.Error("expected a claude engine")
	}
	if cfg.QA.Agent != "qa" {
		t.Errorf("expected qa agent 'qa', got %q", cfg.QA.Agent)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("default config should validate: %v", err)
	}
}

func TestLoadFromPath(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	configContent := `
store:
  path: /tmp/mc-test.db
  driver: sqlite3
scheduler:
  interval: 10s
  max_interval: 2m
  stall_after: 20m
engines:
  claude:
    command: /opt/bin/claude
    timeout: 30m
  research:
    command: research-cli
    args: ["--json"]
    timeout: 1m
qa:
  agent: Quinn
server:
  addr: 0.0.0.0:9000
master_intent: Grow revenue without paid ads.
`
	if err := os.WriteFile(configPath, []byte(configContent), 0644); err != nil {
		t.Fatalf("failed to write config file: %v", err)
	}

	cfg, err := LoadFromPath(configPath)
	if err != nil {
		t.Fatalf("LoadFromPath failed: %v", err)
	}

	if cfg.Store.Driver != "sqlite3" {
		t.Errorf("expected driver sqlite3, got %q", cfg.Store.Driver)
	}
	if cfg.Scheduler.Interval != 10*time.Second {
		t.Errorf("expected interval 10s, got %v", cfg.Scheduler.Interval)
	}
	if cfg.Scheduler.StallAfter != 20*time.Minute {
		t.Errorf("expected stall_after 20m, got %v", cfg.Scheduler.StallAfter)
	}
	claude, _ := cfg.Engine("claude")
	if claude.Command != "/opt/bin/claude" || claude.Timeout != 30*time.Minute {
		t.Errorf("claude engine = %+v", claude)
	}
	research, ok := cfg.Engine("research")
	if !ok || research.Command != "research-cli" || len(research.Args) != 1 {
		t.Errorf("research engine = %+v, %v", research, ok)
	}
	if cfg.QA.Agent != "Quinn" {
		t.Errorf("expected qa agent Quinn, got %q", cfg.QA.Agent)
	}
	if cfg.MasterIntent == "" {
		t.Error("expected master intent to be loaded")
	}
	// Untouched sections keep defaults.
	if cfg.Router.DeepMinChars != 400 {
		t.Errorf("expected default deep_min_chars 400, got %d", cfg.Router.DeepMinChars)
	}
}

func TestLoadFromPath_Invalid(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "config.yaml")
	content := "scheduler:\n  interval: 1m\n  max_interval: 10s\n"
	if err := os.WriteFile(configPath, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadFromPath(configPath); err == nil {
		t.Error("expected validation error when max_interval < interval")
	}
}

func TestLoadFromPath_EnvOverride(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(configPath, []byte("log:\n  level: info\n"), 0644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("MC_LOG_LEVEL", "debug")
	t.Setenv("MC_API_TOKEN", "tok")

	cfg, err := LoadFromPath(configPath)
	if err != nil {
		t.Fatalf("LoadFromPath failed: %v", err)
	}
	if cfg.Log.Level != "debug" {
		t.Errorf("expected env override debug, got %q", cfg.Log.Level)
	}
	if cfg.Server.Token != "tok" {
		t.Errorf("expected token from MC_API_TOKEN, got %q", cfg.Server.Token)
	}
}

func TestSetUserValue(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())

	if err := SetUserValue("qa.agent", "Reviewer"); err != nil {
		t.Fatalf("SetUserValue failed: %v", err)
	}
	if err := SetUserValue("log.level", "warn"); err != nil {
		t.Fatalf("SetUserValue failed: %v", err)
	}

	cfg, err := LoadFromPath(GetUserConfigPath())
	if err != nil {
		t.Fatalf("LoadFromPath failed: %v", err)
	}
	if cfg.QA.Agent != "Reviewer" || cfg.Log.Level != "warn" {
		t.Errorf("saved values not loaded: qa.agent=%q log.level=%q", cfg.QA.Agent, cfg.Log.Level)
	}
}

func TestFindProjectConfig(t *testing.T) {
	root := t.TempDir()
	nested := filepath.Join(root, "a", "b")
	if err := os.MkdirAll(nested, 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(root, ProjectConfigName), []byte("log:\n  level: debug\n"), 0644); err != nil {
		t.Fatal(err)
	}

	wd, _ := os.Getwd()
	t.Cleanup(func() { os.Chdir(wd) })
	if err := os.Chdir(nested); err != nil {
		t.Fatal(err)
	}

	got := findProjectConfig()
	want, _ := filepath.EvalSymlinks(filepath.Join(root, ProjectConfigName))
	gotResolved, _ := filepath.EvalSymlinks(got)
	if gotResolved != want {
		t.Errorf("findProjectConfig() = %q, want %q", got, want)
	}
}
