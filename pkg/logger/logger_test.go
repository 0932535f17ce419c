package logger

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoggerInit(t *testing.T) {
	// Test development mode
	err := Init()
	if err != nil {
		t.Fatalf("failed to initialize development logger: %v", err)
	}
	defer func() {
		if err := Sync(); err != nil {
			t.Errorf("failed to sync logger: %v", err)
		}
	}()

	logger := Get()
	if logger == nil {
		t.Fatal("logger is nil after initialization")
	}

	// Test production mode
	err = Init()
	if err != nil {
		t.Fatalf("failed to initialize production logger: %v", err)
	}
	defer func() {
		if err := Sync(); err != nil {
			t.Errorf("failed to sync logger: %v", err)
		}
	}()

	logger = Get()
	if logger == nil {
		t.Fatal("logger is nil after initialization")
	}
}

// Basic logging test (slog-backed; no Sugar)
func TestLoggerBasic(t *testing.T) {
	err := Init()
	if err != nil {
		t.Fatalf("failed to initialize logger: %v", err)
	}
	defer func() {
		if err := Sync(); err != nil {
			t.Errorf("failed to sync logger: %v", err)
		}
	}()

	logger := Get()
	if logger == nil {
		t.Fatal("logger is nil")
	}

	ctx := context.Background()
	logger.Info(ctx, "test message", String("k", "v"))
}

func TestLoggerNamed(t *testing.T) {
	err := Init()
	if err != nil {
		t.Fatalf("failed to initialize logger: %v", err)
	}
	defer func() {
		if err := Sync(); err != nil {
			t.Errorf("failed to sync logger: %v", err)
		}
	}()

	namedLogger := Named("test")
	if namedLogger == nil {
		t.Fatal("named logger is nil")
	}

	ctx := context.Background()
	namedLogger.Info(ctx, "test message")
}

func TestLoggerWithFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "halom.log")
	if err := InitWithOptions(WithFile(path), WithFormat(FormatJSON), WithRotation(1, 1, 1, false)); err != nil {
		t.Fatalf("failed to initialize file logger: %v", err)
	}

	Get().Info(context.Background(), "written to file", String("k", "v"), Duration("took", time.Second))
	if err := Sync(); err != nil {
		t.Fatalf("failed to sync logger: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("failed to read log file: %v", err)
	}
	if !strings.Contains(string(data), `"msg":"written to file"`) {
		t.Errorf("log file does not contain the message: %s", data)
	}
}

func TestLoggerUnknownFormat(t *testing.T) {
	if err := InitWithOptions(WithFormat("xml")); err == nil {
		t.Fatal("expected an error for an unknown format")
	}
	if err := Init(); err != nil {
		t.Fatalf("failed to reinitialize logger: %v", err)
	}
}

func TestSetLevelString(t *testing.T) {
	for _, level := range []string{"debug", "info", "WARN", "warning", "error", ""} {
		if err := SetLevelString(level); err != nil {
			t.Errorf("level %q rejected: %v", level, err)
		}
	}
	if err := SetLevelString("verbose"); err == nil {
		t.Error("expected an error for an unknown level")
	}
}
