package logx

import (
	"testing"
	"time"
)

func TestLoggerCapturesEntries(t *testing.T) {
	logger := NewLogger("test-component")
	marker := time.Now().UTC().Add(-time.Second)

	logger.Info("hello %s", "world")
	logger.Warn("something odd")

	entries := RecentEntries("test-component", marker)
	if len(entries) < 2 {
		t.Fatalf("expected at least 2 captured entries, got %d", len(entries))
	}

	last := entries[len(entries)-1]
	if last.Level != "WARN" {
		t.Errorf("expected WARN level, got %s", last.Level)
	}
	if last.Message != "something odd" {
		t.Errorf("unexpected message: %s", last.Message)
	}
}

func TestDebugDomainFiltering(t *testing.T) {
	SetDebug(true)
	defer SetDebug(false)

	SetDebugDomains([]string{"vigilance"})
	defer SetDebugDomains(nil)

	if !IsDebugEnabledFor("vigilance") {
		t.Error("expected vigilance domain to be enabled")
	}
	if IsDebugEnabledFor("approval") {
		t.Error("expected approval domain to be disabled")
	}

	SetDebugDomains(nil)
	if !IsDebugEnabledFor("approval") {
		t.Error("expected all domains enabled when no filter set")
	}
}

func TestWrapNil(t *testing.T) {
	if err := Wrap(nil, "context"); err != nil {
		t.Errorf("expected nil, got %v", err)
	}
}

func TestErrorfReturnsError(t *testing.T) {
	err := Errorf("phase %s failed", "1A")
	if err == nil {
		t.Fatal("expected error")
	}
	if err.Error() != "phase 1A failed" {
		t.Errorf("unexpected error text: %s", err.Error())
	}
}
