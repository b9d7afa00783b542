package engine

import (
	"errors"
	"testing"

	"github.com/raisekit/outreach-orchestrator/internal/domain"
)

func TestGuard_AcquireRelease(t *testing.T) {
	g := NewGuard()

	if err := g.Acquire("ws-1", "req-1"); err != nil {
		t.Fatal(err)
	}
	if !g.Held("ws-1", "req-1") {
		t.Error("key should be held")
	}

	if err := g.Acquire("ws-1", "req-1"); !errors.Is(err, domain.ErrAlreadyExecuting) {
		t.Errorf("second acquire err = %v, want ErrAlreadyExecuting", err)
	}

	// Same request in a different workspace is a different key
	if err := g.Acquire("ws-2", "req-1"); err != nil {
		t.Errorf("different workspace should not collide: %v", err)
	}

	g.Release("ws-1", "req-1")
	if g.Held("ws-1", "req-1") {
		t.Error("key should be free after release")
	}
	if err := g.Acquire("ws-1", "req-1"); err != nil {
		t.Errorf("reacquire after release failed: %v", err)
	}
}

func TestGuard_ReleaseUnheldKey(t *testing.T) {
	g := NewGuard()
	g.Release("ws-1", "never-acquired") // must not panic
}
