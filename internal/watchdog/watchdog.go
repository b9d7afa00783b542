// Package watchdog supervises submission executions: it recovers requests
// stuck in executing past a stale threshold and promotes due retries, on a
// fixed sweep interval independent of any single request.
package watchdog

import (
	"context"
	"log"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/raisekit/outreach-orchestrator/internal/domain"
	"github.com/raisekit/outreach-orchestrator/internal/engine"
	"github.com/raisekit/outreach-orchestrator/internal/store"
)

// Config holds the watchdog tunables. All values are hot-reloadable.
type Config struct {
	SweepInterval  time.Duration
	StaleAfter     time.Duration
	RetryBatchSize int
}

// applyFloors clamps the config to sane minimums
func (c *Config) applyFloors() {
	if c.SweepInterval < time.Second {
		c.SweepInterval = time.Second
	}
	if c.StaleAfter < 10*time.Second {
		c.StaleAfter = 10 * time.Second
	}
	if c.RetryBatchSize < 1 {
		c.RetryBatchSize = 1
	}
}

// maxParallelWorkspaces bounds the per-sweep workspace fan-out
const maxParallelWorkspaces = 4

// Watchdog periodically sweeps every workspace for stalled executions and
// due retries
type Watchdog struct {
	store  *store.Store
	engine *engine.Engine

	mu  sync.RWMutex
	cfg Config

	sweeping atomic.Bool
	stop     chan struct{}
}

// New creates a Watchdog with floors applied to the config
func New(st *store.Store, eng *engine.Engine, cfg Config) *Watchdog {
	cfg.applyFloors()
	return &Watchdog{
		store:  st,
		engine: eng,
		cfg:    cfg,
		stop:   make(chan struct{}),
	}
}

// UpdateConfig replaces the tunables; the new sweep interval takes effect
// on the next tick
func (w *Watchdog) UpdateConfig(cfg Config) {
	cfg.applyFloors()
	w.mu.Lock()
	w.cfg = cfg
	w.mu.Unlock()
	log.Printf("watchdog config updated: interval=%s stale=%s batch=%d", cfg.SweepInterval, cfg.StaleAfter, cfg.RetryBatchSize)
}

func (w *Watchdog) config() Config {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.cfg
}

// Start begins the sweep loop. Blocks until Stop is called.
func (w *Watchdog) Start(ctx context.Context) {
	for {
		interval := w.config().SweepInterval
		select {
		case <-w.stop:
			return
		case <-ctx.Done():
			return
		case <-time.After(interval):
			w.Sweep(ctx)
		}
	}
}

// Stop ends the sweep loop
func (w *Watchdog) Stop() {
	close(w.stop)
}

// Sweep runs one pass over all workspaces. A sweep that is still running
// when the next tick fires is skipped, not queued.
func (w *Watchdog) Sweep(ctx context.Context) {
	if !w.sweeping.CompareAndSwap(false, true) {
		log.Printf("watchdog sweep still in progress, skipping")
		return
	}
	defer w.sweeping.Store(false)

	workspaces, err := w.store.ListWorkspaces()
	if err != nil {
		log.Printf("watchdog: listing workspaces: %v", err)
		return
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxParallelWorkspaces)
	for _, ws := range workspaces {
		ws := ws
		g.Go(func() error {
			w.sweepWorkspace(gctx, ws.ID)
			return nil
		})
	}
	g.Wait()
}

func (w *Watchdog) sweepWorkspace(ctx context.Context, workspaceID string) {
	cfg := w.config()
	w.recoverStale(workspaceID, cfg.StaleAfter)
	w.promoteRetries(ctx, workspaceID, cfg.RetryBatchSize)
}

// recoverStale forces executing requests whose last activity predates the
// stale threshold into pending_retry or failed. Requests holding the
// in-flight guard are actively running and are never touched.
func (w *Watchdog) recoverStale(workspaceID string, staleAfter time.Duration) {
	executing, err := w.store.ListRequests(store.RequestListOptions{
		WorkspaceID: workspaceID,
		Status:      domain.RequestExecuting,
	})
	if err != nil {
		log.Printf("watchdog: listing executing requests in %s: %v", workspaceID, err)
		return
	}

	now := time.Now()
	for _, req := range executing {
		if w.engine.Guard().Held(workspaceID, req.ID) {
			continue
		}
		if now.Sub(req.StaleReference()) <= staleAfter {
			continue
		}
		updated, err := w.store.UpdateRequest(req.ID, func(r *domain.SubmissionRequest) error {
			return r.ForceTimeout(staleAfter, time.Now())
		})
		if err != nil {
			log.Printf("watchdog: timing out request %s: %v", req.ID, err)
			continue
		}
		log.Printf("watchdog: request %s stale in executing, forced to %s", req.ID, updated.Status)
	}
}

// promoteRetries launches due retries, bounded per sweep per workspace so
// a backlog does not stampede the submission driver
func (w *Watchdog) promoteRetries(ctx context.Context, workspaceID string, batchSize int) {
	pending, err := w.store.ListRequests(store.RequestListOptions{
		WorkspaceID: workspaceID,
		Status:      domain.RequestPendingRetry,
	})
	if err != nil {
		log.Printf("watchdog: listing pending retries in %s: %v", workspaceID, err)
		return
	}

	now := time.Now()
	var due []*domain.SubmissionRequest
	for _, req := range pending {
		// An unset retry timestamp is treated as immediately due
		if req.NextRetryAt == nil || !req.NextRetryAt.After(now) {
			due = append(due, req)
		}
	}

	// Oldest retry timestamps first; unset timestamps sort first
	sort.SliceStable(due, func(i, j int) bool {
		ti, tj := due[i].NextRetryAt, due[j].NextRetryAt
		switch {
		case ti == nil:
			return tj != nil
		case tj == nil:
			return false
		default:
			return ti.Before(*tj)
		}
	})
	if len(due) > batchSize {
		due = due[:batchSize]
	}

	for _, req := range due {
		if _, _, err := w.engine.Execute(ctx, workspaceID, req.ID); err != nil {
			// Guard collisions and similar are per-request problems; the
			// sweep carries on with the rest of the batch
			log.Printf("watchdog: retrying request %s: %v", req.ID, err)
		}
	}
}
