package config

import (
	"os"
	"testing"
	"time"
)

func TestLoadSettingsDefaultsWhenMissing(t *testing.T) {
	root := t.TempDir()

	settings, err := LoadSettings(root)
	if err != nil {
		t.Fatalf("LoadSettings: %v", err)
	}
	if settings.Sessions.GracePeriod != 2*time.Minute {
		t.Errorf("grace period = %v, want 2m", settings.Sessions.GracePeriod)
	}
	if settings.Logging.FlushInterval != 100*time.Millisecond {
		t.Errorf("flush interval = %v, want 100ms", settings.Logging.FlushInterval)
	}
	if settings.Recovery.DefaultTTL != 24*time.Hour {
		t.Errorf("checkpoint ttl = %v, want 24h", settings.Recovery.DefaultTTL)
	}
}

func TestSettingsRoundTrip(t *testing.T) {
	root := t.TempDir()

	settings, err := LoadSettings(root)
	if err != nil {
		t.Fatalf("LoadSettings: %v", err)
	}
	settings.Sessions.GracePeriod = 5 * time.Minute
	settings.Logging.MaxTotalEntries = 42
	settings.Sessions.LivenessStrategy = "token"

	if err := SaveSettings(root, settings); err != nil {
		t.Fatalf("SaveSettings: %v", err)
	}

	loaded, err := LoadSettings(root)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if loaded.Sessions.GracePeriod != 5*time.Minute {
		t.Errorf("grace period = %v, want 5m", loaded.Sessions.GracePeriod)
	}
	if loaded.Logging.MaxTotalEntries != 42 {
		t.Errorf("max entries = %d, want 42", loaded.Logging.MaxTotalEntries)
	}
	if loaded.Sessions.LivenessStrategy != "token" {
		t.Errorf("liveness strategy = %q, want token", loaded.Sessions.LivenessStrategy)
	}
}

func TestEnsureRootCreatesLayout(t *testing.T) {
	root := t.TempDir() + "/nested/data"

	if err := EnsureRoot(root); err != nil {
		t.Fatalf("EnsureRoot: %v", err)
	}
	for _, dir := range []string{
		ActiveSessionsDir(root),
		SessionCheckpointsDir(root),
		RecoveryCheckpointsDir(root),
	} {
		info, err := os.Stat(dir)
		if err != nil || !info.IsDir() {
			t.Errorf("missing directory %s (err %v)", dir, err)
		}
	}
}
