package engine

import (
	"fmt"
	"sync"

	"github.com/raisekit/outreach-orchestrator/internal/domain"
)

type guardKey struct {
	workspaceID string
	requestID   string
}

// Guard is the process-wide registry of in-flight (workspace, request)
// executions. It is the only mutual-exclusion primitive in the engine:
// everything else is last-writer-wins because the guard excludes the one
// path where that would lose an update.
type Guard struct {
	mu       sync.Mutex
	inflight map[guardKey]struct{}
}

// NewGuard creates an empty guard
func NewGuard() *Guard {
	return &Guard{inflight: make(map[guardKey]struct{})}
}

// Acquire claims the key, or fails fast with ErrAlreadyExecuting
func (g *Guard) Acquire(workspaceID, requestID string) error {
	key := guardKey{workspaceID, requestID}
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, held := g.inflight[key]; held {
		return fmt.Errorf("request %s: %w", requestID, domain.ErrAlreadyExecuting)
	}
	g.inflight[key] = struct{}{}
	return nil
}

// Release frees the key. Safe to call for a key that is not held.
func (g *Guard) Release(workspaceID, requestID string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.inflight, guardKey{workspaceID, requestID})
}

// Held reports whether the key is currently claimed. The watchdog uses
// this to leave actively-running attempts alone.
func (g *Guard) Held(workspaceID, requestID string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	_, held := g.inflight[guardKey{workspaceID, requestID}]
	return held
}
