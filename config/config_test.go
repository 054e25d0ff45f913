package config

import (
	"os"
	"path/filepath"
	"testing"

	"ddcop/dcop"
)

func TestLoadEnvDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Env.Domain != "default" {
		t.Fatalf("expected default DOMAIN, got %q", cfg.Env.Domain)
	}
	if cfg.Env.MaxPingCount != 3 {
		t.Fatalf("expected default MAX_PING_COUNT 3, got %d", cfg.Env.MaxPingCount)
	}
	if cfg.QuietWindow() <= 0 {
		t.Fatalf("expected a positive default quiet window, got %v", cfg.QuietWindow())
	}
}

func TestLoadEnvOverride(t *testing.T) {
	t.Setenv("DOMAIN", "prod")
	t.Setenv("MAX_PING_COUNT", "7")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Env.Domain != "prod" {
		t.Fatalf("expected DOMAIN=prod from environment, got %q", cfg.Env.Domain)
	}
	if cfg.Env.MaxPingCount != 7 {
		t.Fatalf("expected MAX_PING_COUNT=7 from environment, got %d", cfg.Env.MaxPingCount)
	}
}

func TestLoadRuntimeOptions(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "run.yaml")
	body := "dcop_algorithm: dpop\ngraph_algorithm: digca\ndomain_size: 5\noptimization_op: max\nseed: 42\nexecution_mode: simulation\n"
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write runtime options: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Runtime.DcopAlgorithm != "dpop" {
		t.Fatalf("expected dcop_algorithm dpop, got %q", cfg.Runtime.DcopAlgorithm)
	}
	if cfg.Runtime.Seed != 42 {
		t.Fatalf("expected seed 42, got %d", cfg.Runtime.Seed)
	}
	if cfg.OptimizationOp() != dcop.Max {
		t.Fatalf("expected Max from optimization_op: max")
	}
}
