package detector

import (
	"os"
	"path/filepath"
	"testing"
)

func TestFileConfig_DefaultsAreValid(t *testing.T) {
	cfg := DefaultFileConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config should validate, got %v", err)
	}
}

func TestFileConfig_RejectsBadStressMode(t *testing.T) {
	cfg := DefaultFileConfig()
	cfg.StressMode = "whenever"
	if err := cfg.Validate(); err == nil {
		t.Error("expected an unknown stress mode to be rejected")
	}
}

func TestFileConfig_RejectsInvertedDelayRange(t *testing.T) {
	cfg := DefaultFileConfig()
	cfg.StressMinDelayMicros = 5000
	cfg.StressMaxDelayMicros = 100
	if err := cfg.Validate(); err == nil {
		t.Error("expected min > max delay to be rejected")
	}
}

func TestLoadConfigFile_ParsesYAMLAndAppliesEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "gridlock.yaml")
	const body = "lock_order_graph: true\nstress_mode: random-preemption\n"
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}

	os.Setenv("GRIDLOCK_STRESS_PROBABILITY", "0.9")
	defer os.Unsetenv("GRIDLOCK_STRESS_PROBABILITY")

	cfg, err := LoadConfigFile(path)
	if err != nil {
		t.Fatalf("LoadConfigFile failed: %v", err)
	}
	if !cfg.LockOrderGraph {
		t.Error("expected lock_order_graph: true to be parsed from YAML")
	}
	if cfg.StressMode != "random-preemption" {
		t.Errorf("expected stress_mode from YAML, got %q", cfg.StressMode)
	}
	if cfg.StressProbability != 0.9 {
		t.Errorf("expected env override of stress_probability, got %f", cfg.StressProbability)
	}
}

func TestLoadConfigFile_RejectsInvalidAfterEnvOverride(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "gridlock.yaml")
	if err := os.WriteFile(path, []byte("{}"), 0o644); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}

	os.Setenv("GRIDLOCK_STRESS_MODE", "not-a-real-mode")
	defer os.Unsetenv("GRIDLOCK_STRESS_MODE")

	if _, err := LoadConfigFile(path); err == nil {
		t.Error("expected an invalid env-overridden stress mode to fail validation")
	}
}
