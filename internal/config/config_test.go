package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/nexus-build/nexus/pkg/models"
)

func TestDefault(t *testing.T) {
	cfg := Default()

	if cfg.Defaults.AgentType != "builder" {
		t.Errorf("expected default agent type 'builder', got %q", cfg.Defaults.AgentType)
	}

	if cfg.Defaults.TokenBudget != 100000 {
		t.Errorf("expected default token budget 100000, got %d", cfg.Defaults.TokenBudget)
	}

	if cfg.Timeouts.Scout != 5*time.Minute {
		t.Errorf("expected scout timeout 5m, got %v", cfg.Timeouts.Scout)
	}

	if cfg.Timeouts.Builder != 15*time.Minute {
		t.Errorf("expected builder timeout 15m, got %v", cfg.Timeouts.Builder)
	}

	if cfg.Timeouts.Architect != 30*time.Minute {
		t.Errorf("expected architect timeout 30m, got %v", cfg.Timeouts.Architect)
	}

	if !cfg.QualityGates.Test || !cfg.QualityGates.Build || !cfg.QualityGates.Lint {
		t.Error("expected all quality gates to default to true")
	}
}

func TestLoadFromPath(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	configContent := `
llm:
  backend: api
  api_key: test-key
defaults:
  agent_type: scout
  token_budget: 50000
timeouts:
  scout: 10m
  builder: 20m
  architect: 40m
pool:
  scout: 4
  builder: 6
  architect: 2
quality_gates:
  test: false
  build: true
  lint: false
`
	if err := os.WriteFile(configPath, []byte(configContent), 0644); err != nil {
		t.Fatalf("failed to write config file: %v", err)
	}

	cfg, err := LoadFromPath(configPath)
	if err != nil {
		t.Fatalf("LoadFromPath failed: %v", err)
	}

	if cfg.LLM.APIKey != "test-key" {
		t.Errorf("expected api_key 'test-key', got %q", cfg.LLM.APIKey)
	}

	if cfg.Defaults.AgentType != "scout" {
		t.Errorf("expected agent type 'scout', got %q", cfg.Defaults.AgentType)
	}

	if cfg.Defaults.TokenBudget != 50000 {
		t.Errorf("expected token budget 50000, got %d", cfg.Defaults.TokenBudget)
	}

	if cfg.Timeouts.Scout != 10*time.Minute {
		t.Errorf("expected scout timeout 10m, got %v", cfg.Timeouts.Scout)
	}

	if cfg.Pool.Builder != 6 {
		t.Errorf("expected pool.builder 6, got %d", cfg.Pool.Builder)
	}

	if cfg.QualityGates.Test {
		t.Error("expected quality_gates.test to be false")
	}

	if !cfg.QualityGates.Build {
		t.Error("expected quality_gates.build to be true")
	}
}

func TestLoadFromPathExpandsAPIKeyEnvVar(t *testing.T) {
	os.Setenv("NEXUS_TEST_KEY", "expanded-secret")
	defer os.Unsetenv("NEXUS_TEST_KEY")

	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")
	if err := os.WriteFile(configPath, []byte("llm:\n  api_key: ${NEXUS_TEST_KEY}\n"), 0644); err != nil {
		t.Fatalf("failed to write config file: %v", err)
	}

	cfg, err := LoadFromPath(configPath)
	if err != nil {
		t.Fatalf("LoadFromPath failed: %v", err)
	}

	if cfg.LLM.APIKey != "expanded-secret" {
		t.Errorf("expected api_key to be expanded to 'expanded-secret', got %q", cfg.LLM.APIKey)
	}
}

func TestGetUserConfigDir(t *testing.T) {
	os.Setenv("XDG_CONFIG_HOME", "/custom/config")
	defer os.Unsetenv("XDG_CONFIG_HOME")

	dir := getUserConfigDir()
	expected := "/custom/config/nexus"
	if dir != expected {
		t.Errorf("expected %q, got %q", expected, dir)
	}
}

func TestFindProjectConfigWalksUpToParent(t *testing.T) {
	root := t.TempDir()
	if err := os.WriteFile(filepath.Join(root, ".nexus.yaml"), []byte("defaults:\n  agent_type: builder\n"), 0644); err != nil {
		t.Fatalf("write .nexus.yaml: %v", err)
	}

	nested := filepath.Join(root, "a", "b", "c")
	if err := os.MkdirAll(nested, 0755); err != nil {
		t.Fatalf("mkdir nested: %v", err)
	}

	cwd, err := os.Getwd()
	if err != nil {
		t.Fatalf("Getwd: %v", err)
	}
	defer os.Chdir(cwd)

	if err := os.Chdir(nested); err != nil {
		t.Fatalf("Chdir: %v", err)
	}

	got := findProjectConfig()
	want := filepath.Join(root, ".nexus.yaml")
	if got != want {
		t.Errorf("findProjectConfig() = %q, want %q", got, want)
	}
}

func TestTimeoutsConfigForDefaultsToBuilder(t *testing.T) {
	timeouts := TimeoutsConfig{Scout: 1 * time.Minute, Builder: 2 * time.Minute, Architect: 3 * time.Minute}

	if got := timeouts.For(models.AgentTypeScout); got != 1*time.Minute {
		t.Errorf("For(Scout) = %v, want 1m", got)
	}
	if got := timeouts.For(models.AgentTypeArchitect); got != 3*time.Minute {
		t.Errorf("For(Architect) = %v, want 3m", got)
	}
	if got := timeouts.For(models.AgentTypeBuilder); got != 2*time.Minute {
		t.Errorf("For(Builder) = %v, want 2m", got)
	}
	if got := timeouts.For(models.AgentType("unknown")); got != 2*time.Minute {
		t.Errorf("For(unknown) = %v, want builder fallback 2m", got)
	}
}

func TestPoolConfigForDefaultsToBuilder(t *testing.T) {
	pool := PoolConfig{Scout: 1, Builder: 2, Architect: 3}

	if got := pool.For(models.AgentTypeScout); got != 1 {
		t.Errorf("For(Scout) = %d, want 1", got)
	}
	if got := pool.For(models.AgentType("unknown")); got != 2 {
		t.Errorf("For(unknown) = %d, want builder fallback 2", got)
	}
}

func TestSaveThenLoadFromPathRoundTrips(t *testing.T) {
	tmpDir := t.TempDir()
	os.Setenv("XDG_CONFIG_HOME", tmpDir)
	defer os.Unsetenv("XDG_CONFIG_HOME")

	cfg := Default()
	cfg.LLM.Backend = "api"
	cfg.LLM.Model = "claude-test"
	cfg.Pool.Architect = 9

	if err := Save(cfg); err != nil {
		t.Fatalf("Save: %v", err)
	}

	loaded, err := LoadFromPath(GetUserConfigPath())
	if err != nil {
		t.Fatalf("LoadFromPath: %v", err)
	}

	if loaded.LLM.Backend != "api" || loaded.LLM.Model != "claude-test" {
		t.Errorf("LLM section did not round-trip: %+v", loaded.LLM)
	}
	if loaded.Pool.Architect != 9 {
		t.Errorf("Pool.Architect = %d, want 9", loaded.Pool.Architect)
	}
}

func TestSaveToPathWritesAnArbitraryFile(t *testing.T) {
	tmpDir := t.TempDir()
	path := filepath.Join(tmpDir, "nested", ".nexus.yaml")

	cfg := Default()
	cfg.Pool.Builder = 7
	if err := SaveToPath(cfg, path); err != nil {
		t.Fatalf("SaveToPath: %v", err)
	}

	loaded, err := LoadFromPath(path)
	if err != nil {
		t.Fatalf("LoadFromPath: %v", err)
	}
	if loaded.Pool.Builder != 7 {
		t.Errorf("Pool.Builder = %d, want 7", loaded.Pool.Builder)
	}
}
