package util

import (
	"path/filepath"
	"testing"
	"time"
)

func TestBlockClockMonotonic(t *testing.T) {
	start := time.UnixMilli(1_700_000_000_000)
	c := NewBlockClock(start)
	if !c.Now().Equal(start) {
		t.Fatalf("Now() = %v, want %v", c.Now(), start)
	}

	next := start.Add(time.Second)
	c.Set(next)
	if !c.Now().Equal(next) {
		t.Errorf("Now() = %v, want %v", c.Now(), next)
	}

	c.Set(start)
	if !c.Now().Equal(next) {
		t.Errorf("clock went backwards to %v", c.Now())
	}
}

func TestNewLoggerLevels(t *testing.T) {
	if _, err := NewLogger(""); err != nil {
		t.Errorf("default level: %v", err)
	}
	if _, err := NewLogger("debug"); err != nil {
		t.Errorf("debug level: %v", err)
	}
	if _, err := NewLogger("loud"); err == nil {
		t.Error("expected error for unknown level")
	}
}

func TestNewLoggerWithFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "node.log")
	logger, err := NewLoggerWithFile("info", path)
	if err != nil {
		t.Fatalf("NewLoggerWithFile failed: %v", err)
	}
	logger.Info("hello")
	_ = logger.Sync()
}
