package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	for _, key := range []string{
		"SNAPSHOT_BACKEND", "MERGE_WINDOW_MS", "ENGINE_TIMEOUT_SECONDS", "RUN_MAX_ITERATIONS",
		"API_RATE_LIMIT_RPS", "API_QUEUE_WAIT_MS", "ENGINE_SECONDARY_URL", "BREAKER_ENABLED",
	} {
		t.Setenv(key, "")
	}

	cfg := Load()
	if cfg.SnapshotBackend != SnapshotFile {
		t.Fatalf("expected file snapshot backend, got %q", cfg.SnapshotBackend)
	}
	if cfg.MergeWindow != 3*time.Second {
		t.Fatalf("expected 3s merge window, got %s", cfg.MergeWindow)
	}
	if cfg.EngineTimeout != 120*time.Second {
		t.Fatalf("expected 120s engine timeout, got %s", cfg.EngineTimeout)
	}
	if cfg.RunMaxIterations != 50 {
		t.Fatalf("expected 50 iterations, got %d", cfg.RunMaxIterations)
	}
	if cfg.APIRateLimitRPS != 0 || cfg.APIQueueWait != 50*time.Millisecond {
		t.Fatalf("unexpected api limits rps=%v wait=%s", cfg.APIRateLimitRPS, cfg.APIQueueWait)
	}
	if cfg.EngineSecondaryURL != "" {
		t.Fatalf("expected secondary engine disabled, got %q", cfg.EngineSecondaryURL)
	}
	if !cfg.BreakerEnabled {
		t.Fatalf("expected breaker enabled by default")
	}
}

func TestLoadParsesOverrides(t *testing.T) {
	t.Setenv("SNAPSHOT_BACKEND", "SQLite")
	t.Setenv("MERGE_WINDOW_MS", "250")
	t.Setenv("THREAD_IDLE_TIMEOUT_SECONDS", "30")
	t.Setenv("API_RATE_LIMIT_RPS", "2.5")
	t.Setenv("RUN_PARALLEL_WORKERS", "8")
	t.Setenv("BREAKER_ENABLED", "false")

	cfg := Load()
	if cfg.SnapshotBackend != SnapshotSQLite {
		t.Fatalf("expected sqlite backend, got %q", cfg.SnapshotBackend)
	}
	if cfg.MergeWindow != 250*time.Millisecond {
		t.Fatalf("expected 250ms merge window, got %s", cfg.MergeWindow)
	}
	if cfg.ThreadIdleTimeout != 30*time.Second {
		t.Fatalf("expected 30s idle timeout, got %s", cfg.ThreadIdleTimeout)
	}
	if cfg.APIRateLimitRPS != 2.5 {
		t.Fatalf("expected 2.5 rps, got %v", cfg.APIRateLimitRPS)
	}
	if cfg.RunParallelWorkers != 8 {
		t.Fatalf("expected 8 workers, got %d", cfg.RunParallelWorkers)
	}
	if cfg.BreakerEnabled {
		t.Fatalf("expected breaker disabled")
	}
}

func TestLoadFallsBackOnInvalidValues(t *testing.T) {
	t.Setenv("SNAPSHOT_BACKEND", "redis")
	t.Setenv("MERGE_WINDOW_MS", "soon")
	t.Setenv("MAX_THREADS", "-")
	t.Setenv("API_RATE_LIMIT_RPS", "-4")

	cfg := Load()
	if cfg.SnapshotBackend != SnapshotFile {
		t.Fatalf("expected unknown backend to fall back, got %q", cfg.SnapshotBackend)
	}
	if cfg.MergeWindow != 3*time.Second || cfg.MaxThreads != 20 || cfg.APIRateLimitRPS != 0 {
		t.Fatalf("expected fallbacks, got window=%s threads=%d rps=%v", cfg.MergeWindow, cfg.MaxThreads, cfg.APIRateLimitRPS)
	}
}

func TestLoadPolicyMissingFileUsesDefaults(t *testing.T) {
	p, err := LoadPolicy(filepath.Join(t.TempDir(), "absent.yaml"))
	if err != nil {
		t.Fatalf("LoadPolicy() error = %v", err)
	}
	c := p.Cognition()
	if c.FingerprintThreshold != 3 || c.NameThresholds["web_search"] != 6 {
		t.Fatalf("expected default cognition policy, got %+v", c)
	}
	if len(p.ParallelSafeTools()) != 0 {
		t.Fatalf("expected no parallel-safe overrides")
	}
}

func TestLoadPolicyOverlaysFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "policy.yaml")
	body := `
loop:
  fingerprint_threshold: 4
  name_thresholds:
    browse_url: 5
tools:
  parallel_safe: [web_search, browse_url]
  dependent: [send_message]
  domain_groups:
    crm: [lookup_contact, update_contact]
  phases:
    lookup_contact: research
  verification: [check_result]
`
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write policy: %v", err)
	}

	p, err := LoadPolicy(path)
	if err != nil {
		t.Fatalf("LoadPolicy() error = %v", err)
	}

	c := p.Cognition()
	if c.FingerprintThreshold != 4 {
		t.Fatalf("expected fingerprint threshold 4, got %d", c.FingerprintThreshold)
	}
	if c.NameThresholds["browse_url"] != 5 || c.NameThresholds["web_search"] != 6 {
		t.Fatalf("expected merged name thresholds, got %v", c.NameThresholds)
	}
	if c.Phases["lookup_contact"] != "research" || c.Phases["send_message"] != "delivery" {
		t.Fatalf("expected merged phases, got %v", c.Phases)
	}
	if len(c.VerificationTools) != 1 || c.VerificationTools[0] != "check_result" {
		t.Fatalf("expected verification override, got %v", c.VerificationTools)
	}

	tp := p.ToolPolicy()
	if len(tp.DependentTools) != 1 || tp.DependentTools[0] != "send_message" {
		t.Fatalf("expected dependent override, got %v", tp.DependentTools)
	}
	if len(tp.DomainGroups["crm"]) != 2 || len(tp.DomainGroups["dev"]) == 0 {
		t.Fatalf("expected merged domain groups, got %v", tp.DomainGroups)
	}
	if tp.VerificationTool != "check_result" {
		t.Fatalf("expected verification tool override, got %q", tp.VerificationTool)
	}
	if got := p.ParallelSafeTools(); len(got) != 2 {
		t.Fatalf("expected 2 parallel-safe tools, got %v", got)
	}
}

func TestLoadPolicyRejectsInvalidFile(t *testing.T) {
	dir := t.TempDir()
	cases := map[string]string{
		"syntax":    "loop: [",
		"phase":     "tools:\n  phases:\n    x: planning\n",
		"threshold": "loop:\n  name_thresholds:\n    x: 0\n",
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(dir, name+".yaml")
			if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
				t.Fatalf("write policy: %v", err)
			}
			if _, err := LoadPolicy(path); err == nil {
				t.Fatalf("expected error for %s", name)
			}
		})
	}
}
