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
		t.Fatal(err)
	}
}

func TestWatcher_ReloadsOnChange(t *testing.T) {
	path := filepath.Join(t.TempDir(), "yomiage.yaml")
	writeConfig(t, path, "narration:\n  max_length: 100\n")

	var mu sync.Mutex
	var changes []ConfigDiff
	w, err := NewWatcher(path, func(old, new *Config) {
		mu.Lock()
		changes = append(changes, Diff(old, new))
		mu.Unlock()
	}, WithDebounce(10*time.Millisecond))
	if err != nil {
		t.Fatalf("NewWatcher: %v", err)
	}
	defer w.Stop()

	if got := w.Current().Narration.MaxLength; got != 100 {
		t.Fatalf("initial max_length = %d", got)
	}

	writeConfig(t, path, "narration:\n  max_length: 50\n")

	deadline := time.Now().Add(3 * time.Second)
	for w.Current().Narration.MaxLength != 50 {
		if time.Now().After(deadline) {
			t.Fatal("config was not reloaded")
		}
		time.Sleep(5 * time.Millisecond)
	}
	mu.Lock()
	defer mu.Unlock()
	if len(changes) != 1 || !changes[0].NormalizerChanged || changes[0].MaxLength != 50 {
		t.Errorf("changes = %+v", changes)
	}
}

func TestWatcher_KeepsConfigOnInvalidFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "yomiage.yaml")
	writeConfig(t, path, "narration:\n  max_length: 100\n")

	called := make(chan struct{}, 1)
	w, err := NewWatcher(path, func(_, _ *Config) { called <- struct{}{} }, WithDebounce(10*time.Millisecond))
	if err != nil {
		t.Fatalf("NewWatcher: %v", err)
	}
	defer w.Stop()

	writeConfig(t, path, "server:\n  log_level: shouting\n")
	select {
	case <-called:
		t.Fatal("onChange called for an invalid config")
	case <-time.After(200 * time.Millisecond):
	}
	if got := w.Current().Narration.MaxLength; got != 100 {
		t.Errorf("max_length = %d, want previous value 100", got)
	}
}

func TestWatcher_InitialLoadFails(t *testing.T) {
	if _, err := NewWatcher(filepath.Join(t.TempDir(), "missing.yaml"), nil); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestWatcher_StopIsIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "yomiage.yaml")
	writeConfig(t, path, "")
	w, err := NewWatcher(path, nil)
	if err != nil {
		t.Fatal(err)
	}
	w.Stop()
	w.Stop()
}
