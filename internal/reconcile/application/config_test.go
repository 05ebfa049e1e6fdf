package application

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func clearReconcileEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		"RECONCILE_CONFIG",
		"RECONCILE_GAP_THRESHOLD",
		"RECONCILE_MAX_FILL",
		"RECONCILE_MIN_FILL",
		"RECONCILE_DAILY_AT",
		"RECONCILE_WEBHOOK_URL",
	} {
		t.Setenv(key, "")
	}
}

func TestLoadConfig_EnvDefaults(t *testing.T) {
	clearReconcileEnv(t)

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Defaults.GapThreshold.Std() != 3*time.Minute {
		t.Fatalf("gap threshold = %v", cfg.Defaults.GapThreshold.Std())
	}
	if cfg.Defaults.MaxFill.Std() != 24*time.Hour {
		t.Fatalf("max fill = %v", cfg.Defaults.MaxFill.Std())
	}
	if cfg.Defaults.MinFill.Std() != time.Minute {
		t.Fatalf("min fill = %v", cfg.Defaults.MinFill.Std())
	}
	if cfg.Schedule.DailyAt != "02:15" {
		t.Fatalf("daily at = %q", cfg.Schedule.DailyAt)
	}
	if cfg.WebhookURL != "" {
		t.Fatalf("webhook = %q", cfg.WebhookURL)
	}
}

func TestLoadConfig_EnvOverrides(t *testing.T) {
	clearReconcileEnv(t)
	t.Setenv("RECONCILE_GAP_THRESHOLD", "10m")
	t.Setenv("RECONCILE_DAILY_AT", "03:00")
	t.Setenv("RECONCILE_WEBHOOK_URL", "http://hooks.local/reconcile")

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Defaults.GapThreshold.Std() != 10*time.Minute {
		t.Fatalf("gap threshold = %v", cfg.Defaults.GapThreshold.Std())
	}
	if cfg.Schedule.DailyAt != "03:00" {
		t.Fatalf("daily at = %q", cfg.Schedule.DailyAt)
	}
	if cfg.WebhookURL != "http://hooks.local/reconcile" {
		t.Fatalf("webhook = %q", cfg.WebhookURL)
	}
}

func TestLoadConfig_YAMLFile(t *testing.T) {
	clearReconcileEnv(t)
	raw := `defaults:
  gap_threshold: "90s"
  max_fill: "12h"
  min_fill: "2m"
classrooms:
  "6B":
    gap_threshold: "30m"
schedule:
  daily_at: "01:45"
webhook_url: "http://hooks.local/yaml"
`
	path := filepath.Join(t.TempDir(), "reconcile.yaml")
	if err := os.WriteFile(path, []byte(raw), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv("RECONCILE_CONFIG", path)

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Defaults.GapThreshold.Std() != 90*time.Second {
		t.Fatalf("gap threshold = %v", cfg.Defaults.GapThreshold.Std())
	}
	if cfg.Defaults.MaxFill.Std() != 12*time.Hour {
		t.Fatalf("max fill = %v", cfg.Defaults.MaxFill.Std())
	}
	if cfg.Defaults.MinFill.Std() != 2*time.Minute {
		t.Fatalf("min fill = %v", cfg.Defaults.MinFill.Std())
	}
	if cfg.Schedule.DailyAt != "01:45" {
		t.Fatalf("daily at = %q", cfg.Schedule.DailyAt)
	}
	if cfg.WebhookURL != "http://hooks.local/yaml" {
		t.Fatalf("webhook = %q", cfg.WebhookURL)
	}

	merged := cfg.ThresholdsForClassroom("6B")
	if merged.GapThreshold.Std() != 30*time.Minute {
		t.Fatalf("6B gap threshold = %v", merged.GapThreshold.Std())
	}
	// Unset override fields inherit the defaults.
	if merged.MaxFill.Std() != 12*time.Hour || merged.MinFill.Std() != 2*time.Minute {
		t.Fatalf("6B merged = %+v", merged)
	}
}

func TestLoadConfig_BadDurationRejected(t *testing.T) {
	clearReconcileEnv(t)
	path := filepath.Join(t.TempDir(), "reconcile.yaml")
	if err := os.WriteFile(path, []byte("defaults:\n  gap_threshold: \"soon\"\n"), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv("RECONCILE_CONFIG", path)

	if _, err := LoadConfig(); err == nil {
		t.Fatal("expected error for unparseable duration")
	}
}

func TestThresholdsForClassroom_UnknownUsesDefaults(t *testing.T) {
	cfg := Config{
		Defaults: Thresholds{
			GapThreshold: Duration(3 * time.Minute),
			MaxFill:      Duration(24 * time.Hour),
			MinFill:      Duration(time.Minute),
		},
		Classrooms: map[string]Thresholds{
			"7A": {MinFill: Duration(10 * time.Minute)},
		},
	}
	if got := cfg.ThresholdsForClassroom("5C"); got != cfg.Defaults {
		t.Fatalf("5C thresholds = %+v", got)
	}
	merged := cfg.ThresholdsForClassroom("7A")
	if merged.MinFill.Std() != 10*time.Minute {
		t.Fatalf("7A min fill = %v", merged.MinFill.Std())
	}
	if merged.GapThreshold.Std() != 3*time.Minute {
		t.Fatalf("7A gap threshold = %v", merged.GapThreshold.Std())
	}
}
