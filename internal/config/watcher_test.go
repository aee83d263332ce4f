package config

import (
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"
)

func writeConfig(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("writing config: %v", err)
	}
}

func TestWatcherInitialLoad(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "config.yaml")
	writeConfig(t, path, "server:\n  listen_addr: \":8080\"\n")

	w, err := NewWatcher(path, nil, WithInterval(10*time.Millisecond))
	if err != nil {
		t.Fatalf("NewWatcher: %v", err)
	}
	defer w.Stop()

	if got := w.Current().Server.ListenAddr; got != ":8080" {
		t.Errorf("listen_addr = %q", got)
	}
}

func TestWatcherInitialLoadFailure(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "config.yaml")
	writeConfig(t, path, "server:\n  log_level: loud\n")

	if _, err := NewWatcher(path, nil); err == nil {
		t.Fatal("expected error for invalid initial config")
	}
}

func TestWatcherDetectsChange(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "config.yaml")
	writeConfig(t, path, "server:\n  log_level: info\n")

	var mu sync.Mutex
	var got *Config
	changed := make(chan struct{}, 1)
	onChange := func(old, new *Config) {
		mu.Lock()
		got = new
		mu.Unlock()
		select {
		case changed <- struct{}{}:
		default:
		}
	}

	w, err := NewWatcher(path, onChange, WithInterval(10*time.Millisecond))
	if err != nil {
		t.Fatalf("NewWatcher: %v", err)
	}
	defer w.Stop()

	// Force a distinct mtime on filesystems with coarse timestamps.
	writeConfig(t, path, "server:\n  log_level: debug\n")
	future := time.Now().Add(2 * time.Second)
	if err := os.Chtimes(path, future, future); err != nil {
		t.Fatalf("Chtimes: %v", err)
	}

	select {
	case <-changed:
	case <-time.After(5 * time.Second):
		t.Fatal("change was not detected")
	}

	mu.Lock()
	defer mu.Unlock()
	if got.Server.LogLevel != LogDebug {
		t.Errorf("new log_level = %q, want debug", got.Server.LogLevel)
	}
	if w.Current().Server.LogLevel != LogDebug {
		t.Error("Current() not updated after reload")
	}
}

func TestWatcherKeepsOldConfigOnInvalidEdit(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "config.yaml")
	writeConfig(t, path, "server:\n  log_level: info\n")

	w, err := NewWatcher(path, func(old, new *Config) {
		t.Error("onChange fired for invalid config")
	}, WithInterval(10*time.Millisecond))
	if err != nil {
		t.Fatalf("NewWatcher: %v", err)
	}
	defer w.Stop()

	writeConfig(t, path, "server:\n  log_level: loud\n")
	future := time.Now().Add(2 * time.Second)
	if err := os.Chtimes(path, future, future); err != nil {
		t.Fatalf("Chtimes: %v", err)
	}

	time.Sleep(200 * time.Millisecond)
	if got := w.Current().Server.LogLevel; got != LogInfo {
		t.Errorf("Current() log_level = %q, want unchanged info", got)
	}
}

func TestWatcherStopIsIdempotent(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "config.yaml")
	writeConfig(t, path, "server: {}\n")

	w, err := NewWatcher(path, nil)
	if err != nil {
		t.Fatalf("NewWatcher: %v", err)
	}
	w.Stop()
	w.Stop()
}
