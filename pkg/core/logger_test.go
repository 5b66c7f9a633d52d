package core

import (
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestNewDefaultLogger(t *testing.T) {
	logger := NewDefaultLogger()
	if logger == nil {
		t.Fatal("NewDefaultLogger() should not return nil")
	}

	// Logger methods must not panic.
	logger.Infof("test info: %s", "message")
	logger.Debugw("test debug", "segment", 1)
}

func TestNewLevelLogger(t *testing.T) {
	if _, err := NewLevelLogger("warn"); err != nil {
		t.Fatalf("NewLevelLogger(warn): %v", err)
	}
	if _, err := NewLevelLogger("loud"); err == nil {
		t.Fatal("expected error for unknown level")
	}
}

func TestNewZapLogger_StructuredFields(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	logger := NewZapLogger(zap.New(core))

	logger.Warnw("segment deletion failed", "segment", uint64(7), "error", "permission denied")
	logger.Errorf("ledger %s", "corrupted")

	entries := logs.All()
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(entries))
	}
	if entries[0].Message != "segment deletion failed" {
		t.Errorf("unexpected message %q", entries[0].Message)
	}
	if got := entries[0].ContextMap()["segment"]; got != uint64(7) {
		t.Errorf("segment field = %v, want 7", got)
	}
	if entries[1].Message != "ledger corrupted" {
		t.Errorf("unexpected message %q", entries[1].Message)
	}
}

func TestNewZapLogger_NilFallsBackToNop(t *testing.T) {
	logger := NewZapLogger(nil)
	logger.Error("dropped")
}
