package main

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/IshaanNene/CartKeeper/internal/config"
)

func TestMask(t *testing.T) {
	tests := map[string]string{
		"":                 "",
		"abc":              "****",
		"supersecretvalue": "su************ue",
	}
	for in, want := range tests {
		if got := mask(in); got != want {
			t.Errorf("mask(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestSetupLogger(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "cartkeeper.log")
	logger, err := setupLogger(config.LoggingConfig{Level: "warn", Format: "json", Output: logPath})
	if err != nil {
		t.Fatalf("setupLogger: %v", err)
	}
	if logger.Enabled(context.Background(), slog.LevelInfo) {
		t.Error("info should be disabled at warn level")
	}
	logger.Warn("disk almost full")

	data, err := os.ReadFile(logPath)
	if err != nil {
		t.Fatal(err)
	}
	if len(data) == 0 || data[0] != '{' {
		t.Errorf("expected a JSON log line, got %q", data)
	}

	if _, err := setupLogger(config.LoggingConfig{Level: "loud"}); err == nil {
		t.Error("expected an error for an unknown level")
	}
}

func TestOpenBackendDefaultsToMemory(t *testing.T) {
	cfg := config.DefaultConfig()
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
	s, err := openBackend(context.Background(), cfg, logger)
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()
	if s.Name() != "memory" {
		t.Errorf("backend = %s, want memory", s.Name())
	}
}
