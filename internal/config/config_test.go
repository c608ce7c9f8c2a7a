package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(nil)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.MAWindowSec != DefaultMAWindowSec {
		t.Errorf("MAWindowSec = %d, want %d", cfg.MAWindowSec, DefaultMAWindowSec)
	}
	if cfg.AlertThreshold != DefaultAlertThreshold {
		t.Errorf("AlertThreshold = %v, want %v", cfg.AlertThreshold, DefaultAlertThreshold)
	}
	if cfg.FanoutQueueCap != DefaultFanoutQueueCap {
		t.Errorf("FanoutQueueCap = %d, want %d", cfg.FanoutQueueCap, DefaultFanoutQueueCap)
	}
}

func TestLoadFlagsOverrideDefaults(t *testing.T) {
	cfg, err := Load([]string{"--ma-window-sec=45", "--alert-threshold=75.5"})
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.MAWindowSec != 45 {
		t.Errorf("MAWindowSec = %d, want 45", cfg.MAWindowSec)
	}
	if cfg.AlertThreshold != 75.5 {
		t.Errorf("AlertThreshold = %v, want 75.5", cfg.AlertThreshold)
	}
}

func TestLoadEnvOverridesDefaults(t *testing.T) {
	t.Setenv("PIPEWATCH_STD_WINDOW_SEC", "90")
	cfg, err := Load(nil)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.StdWindowSec != 90 {
		t.Errorf("StdWindowSec = %d, want 90", cfg.StdWindowSec)
	}
}

func TestLoadFlagsOverrideEnv(t *testing.T) {
	t.Setenv("PIPEWATCH_STD_WINDOW_SEC", "90")
	cfg, err := Load([]string{"--std-window-sec=120"})
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.StdWindowSec != 120 {
		t.Errorf("StdWindowSec = %d, want 120", cfg.StdWindowSec)
	}
}

func TestLoadFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "pipewatch.yaml")
	content := "ma-window-sec: 15\nalert-threshold: 40\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	cfg, err := Load([]string{"--config-file=" + path})
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.MAWindowSec != 15 {
		t.Errorf("MAWindowSec = %d, want 15", cfg.MAWindowSec)
	}
	if cfg.AlertThreshold != 40 {
		t.Errorf("AlertThreshold = %v, want 40", cfg.AlertThreshold)
	}
	// values absent from the file keep their defaults
	if cfg.StdWindowSec != DefaultStdWindowSec {
		t.Errorf("StdWindowSec = %d, want default %d", cfg.StdWindowSec, DefaultStdWindowSec)
	}
}

func TestLoadFileThenFlagOverride(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "pipewatch.yaml")
	if err := os.WriteFile(path, []byte("ma-window-sec: 15\n"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	cfg, err := Load([]string{"--config-file=" + path, "--ma-window-sec=20"})
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.MAWindowSec != 20 {
		t.Errorf("MAWindowSec = %d, want 20 (flag should win over file)", cfg.MAWindowSec)
	}
}

func TestValidateRejectsBadConfig(t *testing.T) {
	cases := []struct {
		name string
		args []string
	}{
		{"negative ma window", []string{"--ma-window-sec=-1"}},
		{"zero std window", []string{"--std-window-sec=0"}},
		{"minor bounds inverted", []string{"--rule-minor-low-pct=0.2", "--rule-minor-high-pct=0.1"}},
		{"alert threshold too high", []string{"--alert-threshold=150"}},
		{"if subsample too small", []string{"--if-subsample=1"}},
		{"zero hysteresis", []string{"--hysteresis-consecutive=0"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := Load(tc.args); err == nil {
				t.Errorf("Load(%v) = nil error, want validation error", tc.args)
			}
		})
	}
}

func TestLoadFileMissingConfigFile(t *testing.T) {
	_, err := LoadFile(filepath.Join(t.TempDir(), "missing.yaml"))
	if err == nil {
		t.Error("LoadFile with missing file = nil error, want error")
	}
}
