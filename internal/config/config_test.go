package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		"DAILYRUN_ROUTINE", "DAILYRUN_MODE", "DAILYRUN_HISTORY_DB",
		"DAILYRUN_AUDIT_LOG", "DAILYRUN_LOG_LEVEL",
	} {
		t.Setenv(key, "")
	}
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	if cfg.Routine != "./run_day.sh" {
		t.Errorf("expected Routine=./run_day.sh, got %s", cfg.Routine)
	}
	if cfg.Execution.Mode != ModeHost {
		t.Errorf("expected Mode=host, got %s", cfg.Execution.Mode)
	}
	if cfg.Execution.GetTimeout() != 0 {
		t.Errorf("expected no default timeout, got %s", cfg.Execution.GetTimeout())
	}
	if cfg.History.Enabled {
		t.Error("expected history disabled by default")
	}
	if !cfg.Execution.InheritEnv {
		t.Error("expected the host environment inherited by default")
	}
	if cfg.Execution.GetWaitDelay() != 100*time.Millisecond {
		t.Errorf("expected 100ms wait delay, got %s", cfg.Execution.GetWaitDelay())
	}
	if cfg.Audit.Enabled {
		t.Error("expected audit disabled by default")
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("default config should validate: %v", err)
	}
}

func TestConfig_SaveLoad(t *testing.T) {
	clearEnv(t)

	tmpDir := t.TempDir()
	path := filepath.Join(tmpDir, "nested", "dailyrun.yaml")

	cfg := DefaultConfig()
	cfg.Routine = "/opt/sim/run_day.sh"
	cfg.Execution.Mode = ModeContainer
	cfg.Execution.Timeout = "90m"
	cfg.Execution.InheritEnv = false
	cfg.Execution.WaitDelay = "2s"
	cfg.Logging.Categories = map[string]bool{"tactile": false}

	if err := cfg.Save(path); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if loaded.Routine != "/opt/sim/run_day.sh" {
		t.Errorf("expected Routine=/opt/sim/run_day.sh, got %s", loaded.Routine)
	}
	if loaded.Execution.Mode != ModeContainer {
		t.Errorf("expected Mode=container, got %s", loaded.Execution.Mode)
	}
	if loaded.Execution.GetTimeout() != 90*time.Minute {
		t.Errorf("expected timeout 90m, got %s", loaded.Execution.GetTimeout())
	}
	if loaded.Execution.InheritEnv {
		t.Error("expected inherit_env=false to survive a round trip")
	}
	if loaded.Execution.GetWaitDelay() != 2*time.Second {
		t.Errorf("expected wait delay 2s, got %s", loaded.Execution.GetWaitDelay())
	}
	if enabled, ok := loaded.Logging.Categories["tactile"]; !ok || enabled {
		t.Errorf("expected tactile category disabled, got %v", loaded.Logging.Categories)
	}
}

func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	clearEnv(t)

	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Routine != DefaultConfig().Routine {
		t.Errorf("expected default routine, got %s", cfg.Routine)
	}
}

func TestLoad_WhitelistOnlyEnvironment(t *testing.T) {
	clearEnv(t)

	path := filepath.Join(t.TempDir(), "dailyrun.yaml")
	content := "execution:\n  inherit_env: false\n  allowed_env_vars: [PATH, DOCKER_HOST]\n"
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Execution.InheritEnv {
		t.Error("expected inherit_env disabled")
	}
	if len(cfg.Execution.AllowedEnvVars) != 2 || cfg.Execution.AllowedEnvVars[1] != "DOCKER_HOST" {
		t.Errorf("unexpected whitelist: %v", cfg.Execution.AllowedEnvVars)
	}
}

func TestLoad_PartialFileKeepsDefaults(t *testing.T) {
	clearEnv(t)

	path := filepath.Join(t.TempDir(), "dailyrun.yaml")
	content := "routine: ./day.sh\nexecution:\n  timeout: 5s\n"
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Routine != "./day.sh" {
		t.Errorf("expected Routine=./day.sh, got %s", cfg.Routine)
	}
	if cfg.Execution.Mode != ModeHost {
		t.Errorf("expected default mode preserved, got %s", cfg.Execution.Mode)
	}
	if cfg.Execution.GetTimeout() != 5*time.Second {
		t.Errorf("expected 5s timeout, got %s", cfg.Execution.GetTimeout())
	}
}

func TestLoad_InvalidYAML(t *testing.T) {
	clearEnv(t)

	path := filepath.Join(t.TempDir(), "dailyrun.yaml")
	if err := os.WriteFile(path, []byte("routine: [unterminated"), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(path); err == nil {
		t.Error("expected parse error")
	}
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"empty routine", func(c *Config) { c.Routine = "" }},
		{"bad mode", func(c *Config) { c.Execution.Mode = "kubernetes" }},
		{"bad timeout", func(c *Config) { c.Execution.Timeout = "soon" }},
		{"negative timeout", func(c *Config) { c.Execution.Timeout = "-1s" }},
		{"bad wait delay", func(c *Config) { c.Execution.WaitDelay = "later" }},
		{"negative wait delay", func(c *Config) { c.Execution.WaitDelay = "-5ms" }},
		{"negative output cap", func(c *Config) { c.Execution.MaxOutputBytes = -1 }},
		{"history without path", func(c *Config) { c.History.Enabled = true; c.History.DatabasePath = "" }},
		{"audit without path", func(c *Config) { c.Audit.Enabled = true; c.Audit.Path = "" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			if err := cfg.Validate(); err == nil {
				t.Error("expected validation error")
			}
		})
	}
}
