package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDefaultProfile_Validates(t *testing.T) {
	p := DefaultProfile()
	if err := p.Validate(); err != nil {
		t.Fatalf("default profile should validate: %v", err)
	}
}

func TestLoadProfile_MissingFileUsesDefaults(t *testing.T) {
	t.Setenv("ANONMANAGER_HOME", t.TempDir())
	p, err := LoadProfile("nonexistent")
	if err != nil {
		t.Fatalf("LoadProfile: %v", err)
	}
	if p.BootstrapTimeoutSeconds != 180 {
		t.Errorf("BootstrapTimeoutSeconds = %d, want 180", p.BootstrapTimeoutSeconds)
	}
	if p.Name != "nonexistent" {
		t.Errorf("Name = %q, want nonexistent", p.Name)
	}
}

func TestLoadProfile_FileOverridesDefaults(t *testing.T) {
	home := t.TempDir()
	t.Setenv("ANONMANAGER_HOME", home)

	dir := filepath.Join(home, "profiles")
	if err := os.MkdirAll(dir, 0700); err != nil {
		t.Fatalf("MkdirAll: %v", err)
	}
	content := "bootstrap_timeout_seconds: 240\nlog_level: debug\n"
	if err := os.WriteFile(filepath.Join(dir, "custom.yaml"), []byte(content), 0600); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	p, err := LoadProfile("custom")
	if err != nil {
		t.Fatalf("LoadProfile: %v", err)
	}
	if p.BootstrapTimeoutSeconds != 240 {
		t.Errorf("BootstrapTimeoutSeconds = %d, want 240", p.BootstrapTimeoutSeconds)
	}
	if p.LogLevel != "debug" {
		t.Errorf("LogLevel = %q, want debug", p.LogLevel)
	}
}

func TestLoadProfile_EnvironmentOverridesFile(t *testing.T) {
	home := t.TempDir()
	t.Setenv("ANONMANAGER_HOME", home)
	t.Setenv("ANONMANAGER_LOG_LEVEL", "error")

	dir := filepath.Join(home, "profiles")
	if err := os.MkdirAll(dir, 0700); err != nil {
		t.Fatalf("MkdirAll: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "default.yaml"), []byte("log_level: debug\n"), 0600); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	p, err := LoadProfile("default")
	if err != nil {
		t.Fatalf("LoadProfile: %v", err)
	}
	if p.LogLevel != "error" {
		t.Errorf("LogLevel = %q, want error (from environment)", p.LogLevel)
	}
}

func TestLoadProfile_InvalidFieldFailsValidation(t *testing.T) {
	home := t.TempDir()
	t.Setenv("ANONMANAGER_HOME", home)
	t.Setenv("ANONMANAGER_LOG_LEVEL", "nonsense")

	if _, err := LoadProfile("default"); err == nil {
		t.Fatal("expected validation error for invalid log level")
	}
}

func TestLoadProfile_EmptyNameDefaultsToDefault(t *testing.T) {
	t.Setenv("ANONMANAGER_HOME", t.TempDir())
	p, err := LoadProfile("")
	if err != nil {
		t.Fatalf("LoadProfile: %v", err)
	}
	if p.Name != "default" {
		t.Errorf("Name = %q, want default", p.Name)
	}
}
