package config

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"
)

func TestNewWatcher_NilCallback(t *testing.T) {
	home, cleanup := setupTestHome(t)
	defer cleanup()

	configPath := filepath.Join(home, ".config", "banditd", "config.yaml")

	_, err := NewWatcher(configPath, zap.NewNop(), nil)
	if err == nil {
		t.Fatal("NewWatcher() with nil callback should error, got nil")
	}
}

func TestNewWatcher_PathValidation(t *testing.T) {
	_, cleanup := setupTestHome(t)
	defer cleanup()

	_, err := NewWatcher("/tmp/evil/config.yaml", zap.NewNop(), func(*Config) {})
	if err == nil {
		t.Fatal("NewWatcher() outside allowed dirs should error, got nil")
	}
	if !strings.Contains(err.Error(), "must be in") {
		t.Errorf("Expected path validation error, got: %v", err)
	}
}

func TestNewWatcher_DefaultPath(t *testing.T) {
	home, cleanup := setupTestHome(t)
	defer cleanup()

	w, err := NewWatcher("", zap.NewNop(), func(*Config) {})
	if err != nil {
		t.Fatalf("NewWatcher(\"\") error = %v, want nil", err)
	}
	defer w.Stop()

	want := filepath.Join(home, ".config", "banditd", "config.yaml")
	if w.Path() != want {
		t.Errorf("Path() = %q, want %q", w.Path(), want)
	}
}

func TestWatcher_ReloadOnChange(t *testing.T) {
	home, cleanup := setupTestHome(t)
	defer cleanup()

	configPath := writeTestConfig(t, home, "server:\n  http_port: 9091\n")

	loaded := make(chan *Config, 4)
	w, err := NewWatcher(configPath, zap.NewNop(), func(cfg *Config) {
		loaded <- cfg
	})
	if err != nil {
		t.Fatalf("NewWatcher() error = %v", err)
	}
	defer w.Stop()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := w.Start(ctx); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	// Give the watcher time to initialize
	time.Sleep(50 * time.Millisecond)

	if err := os.WriteFile(configPath, []byte("server:\n  http_port: 8082\n"), 0600); err != nil {
		t.Fatalf("Failed to rewrite config: %v", err)
	}

	select {
	case cfg := <-loaded:
		if cfg.Server.Port != 8082 {
			t.Errorf("reloaded Server.Port = %d, want 8082", cfg.Server.Port)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for config reload")
	}
}

func TestWatcher_InvalidEditKeepsOldConfig(t *testing.T) {
	home, cleanup := setupTestHome(t)
	defer cleanup()

	configPath := writeTestConfig(t, home, "server:\n  http_port: 9091\n")

	loaded := make(chan *Config, 4)
	w, err := NewWatcher(configPath, zap.NewNop(), func(cfg *Config) {
		loaded <- cfg
	})
	if err != nil {
		t.Fatalf("NewWatcher() error = %v", err)
	}
	defer w.Stop()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := w.Start(ctx); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	// Give the watcher time to initialize
	time.Sleep(50 * time.Millisecond)

	// Edit that fails validation: no callback, old config stays in effect
	if err := os.WriteFile(configPath, []byte("server:\n  http_port: 99999\n"), 0600); err != nil {
		t.Fatalf("Failed to rewrite config: %v", err)
	}

	// Wait out the debounce and the failed reload attempt
	time.Sleep(500 * time.Millisecond)

	// A valid edit afterwards still gets picked up
	if err := os.WriteFile(configPath, []byte("server:\n  http_port: 8083\n"), 0600); err != nil {
		t.Fatalf("Failed to rewrite config: %v", err)
	}

	select {
	case cfg := <-loaded:
		if cfg.Server.Port != 8083 {
			t.Errorf("first delivered Server.Port = %d, want 8083 (invalid edit must not reach the callback)", cfg.Server.Port)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for config reload after invalid edit")
	}
}

func TestWatcher_StopIdempotent(t *testing.T) {
	home, cleanup := setupTestHome(t)
	defer cleanup()

	configPath := writeTestConfig(t, home, "server:\n  http_port: 9091\n")

	w, err := NewWatcher(configPath, zap.NewNop(), func(*Config) {})
	if err != nil {
		t.Fatalf("NewWatcher() error = %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := w.Start(ctx); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	// Double Stop must not panic
	w.Stop()
	w.Stop()
}
