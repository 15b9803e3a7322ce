package config_test

import (
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/emberhealth/chartflow/internal/config"
)

const watcherValidYAML = `
server:
  log_level: info
backend:
  name: openai
  model: gpt-4o
`

const watcherUpdatedYAML = `
server:
  log_level: debug
backend:
  name: openai
  model: gpt-4o
`

const watcherInvalidYAML = `
server:
  log_level: bananas
`

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("failed to write file %q: %v", path, err)
	}
}

func TestWatcher_InitialLoad(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "config.yaml")
	writeFile(t, cfgPath, watcherValidYAML)

	w, err := config.NewWatcher(cfgPath, nil, config.WithInterval(50*time.Millisecond))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer w.Stop()

	cfg := w.Current()
	if cfg == nil {
		t.Fatal("Current() returned nil after initial load")
	}
	if cfg.Server.LogLevel != config.LogInfo {
		t.Errorf("log_level: got %q, want %q", cfg.Server.LogLevel, config.LogInfo)
	}
}

func TestWatcher_InitialLoadInvalid(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "config.yaml")
	writeFile(t, cfgPath, watcherInvalidYAML)

	_, err := config.NewWatcher(cfgPath, nil)
	if err == nil {
		t.Fatal("expected error for invalid initial config, got nil")
	}
}

func TestWatcher_DetectsChange(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "config.yaml")
	writeFile(t, cfgPath, watcherValidYAML)

	var mu sync.Mutex
	var callbackOld, callbackNew *config.Config
	called := make(chan struct{}, 1)

	w, err := config.NewWatcher(cfgPath, func(old, new *config.Config) {
		mu.Lock()
		callbackOld = old
		callbackNew = new
		mu.Unlock()
		select {
		case called <- struct{}{}:
		default:
		}
	}, config.WithInterval(50*time.Millisecond))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer w.Stop()

	// Sleep past the mtime resolution so the rewrite is observable.
	time.Sleep(10 * time.Millisecond)
	writeFile(t, cfgPath, watcherUpdatedYAML)

	select {
	case <-called:
	case <-time.After(5 * time.Second):
		t.Fatal("onChange callback was not invoked within 5s")
	}

	mu.Lock()
	defer mu.Unlock()
	if callbackOld == nil || callbackNew == nil {
		t.Fatal("callback received nil config")
	}
	if callbackOld.Server.LogLevel != config.LogInfo {
		t.Errorf("old log_level: got %q, want %q", callbackOld.Server.LogLevel, config.LogInfo)
	}
	if callbackNew.Server.LogLevel != config.LogDebug {
		t.Errorf("new log_level: got %q, want %q", callbackNew.Server.LogLevel, config.LogDebug)
	}
	if got := w.Current().Server.LogLevel; got != config.LogDebug {
		t.Errorf("Current() log_level: got %q, want %q", got, config.LogDebug)
	}
}

func TestWatcher_KeepsOldConfigOnInvalidChange(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "config.yaml")
	writeFile(t, cfgPath, watcherValidYAML)

	called := make(chan struct{}, 1)
	w, err := config.NewWatcher(cfgPath, func(old, new *config.Config) {
		select {
		case called <- struct{}{}:
		default:
		}
	}, config.WithInterval(50*time.Millisecond))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer w.Stop()

	time.Sleep(10 * time.Millisecond)
	writeFile(t, cfgPath, watcherInvalidYAML)

	select {
	case <-called:
		t.Fatal("onChange should not fire for an invalid config")
	case <-time.After(300 * time.Millisecond):
	}

	if got := w.Current().Server.LogLevel; got != config.LogInfo {
		t.Errorf("Current() log_level after invalid write: got %q, want %q", got, config.LogInfo)
	}
}

func TestDiff_HotReloadableFields(t *testing.T) {
	t.Parallel()
	old := &config.Config{}
	old.Server.LogLevel = config.LogInfo
	old.Pipeline.SynthesisWorkers = 4
	old.Pipeline.Temperature = 0.2

	updated := &config.Config{}
	updated.Server.LogLevel = config.LogDebug
	updated.Pipeline.SynthesisWorkers = 8
	updated.Pipeline.Temperature = 0.2

	d := config.Diff(old, updated)
	if !d.Changed() {
		t.Fatal("Changed() = false, want true")
	}
	if !d.LogLevelChanged || d.NewLogLevel != config.LogDebug {
		t.Errorf("log level diff: got (%v, %q), want (true, debug)", d.LogLevelChanged, d.NewLogLevel)
	}
	if !d.WorkersChanged || d.NewWorkers != 8 {
		t.Errorf("workers diff: got (%v, %d), want (true, 8)", d.WorkersChanged, d.NewWorkers)
	}
	if d.TemperatureChanged {
		t.Error("temperature diff: got true, want false")
	}
}
