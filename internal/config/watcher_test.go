package config

import (
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"
)

func writeConfig(t *testing.T, path, logLevel string) {
	t.Helper()
	content := strings.ReplaceAll(validYAML, "log_level: info", "log_level: "+logLevel)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestWatcher_InitialLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "reverie.yaml")
	writeConfig(t, path, "info")

	w, err := NewWatcher(path, time.Hour, nil)
	if err != nil {
		t.Fatalf("NewWatcher: %v", err)
	}
	defer w.Stop()

	if got := w.Current().LogLevel; got != LogInfo {
		t.Errorf("initial log level = %q, want info", got)
	}
}

func TestWatcher_InvalidInitialConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "reverie.yaml")
	if err := os.WriteFile(path, []byte("provider: [broken"), 0o644); err != nil {
		t.Fatal(err)
	}

	if _, err := NewWatcher(path, 0, nil); err == nil {
		t.Fatal("NewWatcher accepted broken config")
	}
}

func TestWatcher_DetectsChange(t *testing.T) {
	path := filepath.Join(t.TempDir(), "reverie.yaml")
	writeConfig(t, path, "info")

	var mu sync.Mutex
	var gotOld, gotNew *Config
	onChange := func(old, new *Config) {
		mu.Lock()
		defer mu.Unlock()
		gotOld, gotNew = old, new
	}

	w, err := NewWatcher(path, 10*time.Millisecond, onChange)
	if err != nil {
		t.Fatalf("NewWatcher: %v", err)
	}
	defer w.Stop()

	// Mtime granularity can swallow rapid rewrites; back-date first.
	past := time.Now().Add(-time.Minute)
	_ = os.Chtimes(path, past, past)
	writeConfig(t, path, "debug")

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		mu.Lock()
		done := gotNew != nil
		mu.Unlock()
		if done {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}

	mu.Lock()
	defer mu.Unlock()
	if gotNew == nil {
		t.Fatal("onChange never fired")
	}
	if gotOld.LogLevel != LogInfo || gotNew.LogLevel != LogDebug {
		t.Errorf("onChange got %q -> %q, want info -> debug", gotOld.LogLevel, gotNew.LogLevel)
	}
	if got := w.Current().LogLevel; got != LogDebug {
		t.Errorf("Current log level = %q, want debug", got)
	}
}

func TestWatcher_KeepsOldConfigOnInvalidEdit(t *testing.T) {
	path := filepath.Join(t.TempDir(), "reverie.yaml")
	writeConfig(t, path, "info")

	w, err := NewWatcher(path, 10*time.Millisecond, nil)
	if err != nil {
		t.Fatalf("NewWatcher: %v", err)
	}
	defer w.Stop()

	past := time.Now().Add(-time.Minute)
	_ = os.Chtimes(path, past, past)
	if err := os.WriteFile(path, []byte("provider: [broken"), 0o644); err != nil {
		t.Fatal(err)
	}

	time.Sleep(100 * time.Millisecond)
	if got := w.Current().LogLevel; got != LogInfo {
		t.Errorf("Current after invalid edit = %q, want unchanged info", got)
	}
}
