// Package engine executes approved submission requests against the
// submission driver, applying the retry policy and holding the in-flight
// guard for the duration of each request's execution.
package engine

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/raisekit/outreach-orchestrator/internal/domain"
	"github.com/raisekit/outreach-orchestrator/internal/driver"
	"github.com/raisekit/outreach-orchestrator/internal/notify"
	"github.com/raisekit/outreach-orchestrator/internal/store"
)

// EventSink receives every event the engine appends
type EventSink func(*domain.Event)

// Config holds the engine's tunables
type Config struct {
	DefaultMaxAttempts int
	RetryDelay         time.Duration
}

// Engine runs the execution loop for one submission request at a time per
// (workspace, request) key
type Engine struct {
	store    *store.Store
	driver   driver.Driver
	guard    *Guard
	cfg      Config
	notifier notify.Notifier
	sink     EventSink
}

// New creates an Engine with floors applied to the config
func New(st *store.Store, drv driver.Driver, cfg Config) *Engine {
	if cfg.DefaultMaxAttempts < 1 {
		cfg.DefaultMaxAttempts = 1
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = time.Minute
	}
	return &Engine{
		store:    st,
		driver:   drv,
		guard:    NewGuard(),
		cfg:      cfg,
		notifier: notify.NoopNotifier{},
	}
}

// Guard exposes the in-flight registry so the watchdog can skip requests
// that are actively being executed
func (e *Engine) Guard() *Guard {
	return e.guard
}

// SetNotifier replaces the terminal-state notifier
func (e *Engine) SetNotifier(n notify.Notifier) {
	e.notifier = n
}

// SetEventSink registers a callback invoked for every appended event
func (e *Engine) SetEventSink(sink EventSink) {
	e.sink = sink
}

// Execute runs an approved (or retry-due) request to a terminal or retry
// state. Driver failures are never returned as errors; they become outcome
// transitions. Execute only errors for unknown requests, guard collisions,
// and illegal lifecycle states.
func (e *Engine) Execute(ctx context.Context, workspaceID, requestID string) (*domain.SubmissionRequest, *domain.Outcome, error) {
	if err := e.guard.Acquire(workspaceID, requestID); err != nil {
		return nil, nil, err
	}
	defer e.guard.Release(workspaceID, requestID)

	req, err := e.store.GetRequest(requestID)
	if err != nil {
		return nil, nil, err
	}
	if req.WorkspaceID != workspaceID {
		return nil, nil, fmt.Errorf("request %s belongs to another workspace: %w", requestID, domain.ErrForbidden)
	}

	budget := req.MaxAttempts
	if budget < 1 {
		budget = e.cfg.DefaultMaxAttempts
	}

	var lastOutcome *domain.Outcome
	for i := 0; i < budget; i++ {
		// Persist the attempt before the driver call so a crash mid-call
		// is observable as "executing" to the watchdog
		req, err = e.store.UpdateRequest(requestID, func(r *domain.SubmissionRequest) error {
			if r.MaxAttempts < 1 {
				r.MaxAttempts = e.cfg.DefaultMaxAttempts
			}
			return r.BeginExecution(time.Now())
		})
		if err != nil {
			return nil, lastOutcome, err
		}

		outcome := e.submit(ctx, req)
		lastOutcome = outcome
		e.appendEvent(req, outcome)

		req, err = e.store.UpdateRequest(requestID, func(r *domain.SubmissionRequest) error {
			return r.ApplyOutcome(outcome, e.cfg.RetryDelay, time.Now())
		})
		if err != nil {
			return nil, lastOutcome, err
		}

		switch req.Status {
		case domain.RequestCompleted:
			e.foldIntoFirm(req, domain.FirmContacted, "")
			e.notifyTerminal(req, notify.NotifySuccess, "submission completed")
			return req, outcome, nil
		case domain.RequestFailed:
			e.foldIntoFirm(req, domain.FirmReview, req.ResultNote)
			e.notifyTerminal(req, notify.NotifyError, "submission failed")
			return req, outcome, nil
		case domain.RequestPendingRetry:
			select {
			case <-time.After(e.cfg.RetryDelay):
			case <-ctx.Done():
				// The request stays pending_retry; the watchdog will
				// promote it once the retry timestamp elapses
				return req, outcome, ctx.Err()
			}
		default:
			return req, outcome, fmt.Errorf("%w: unexpected state %s after outcome", domain.ErrInvalidTransition, req.Status)
		}
	}

	// Defensive fallback: the transition table should have produced a
	// terminal state before the budget ran out
	log.Printf("request %s exhausted budget %d without a terminal outcome", requestID, budget)
	return req, &domain.Outcome{
		Status: domain.ChannelErrored,
		Note:   fmt.Sprintf("execution budget of %d attempts exhausted", budget),
	}, nil
}

// submit invokes the driver, mapping driver errors to the errored outcome
// class so the retry policy applies to them
func (e *Engine) submit(ctx context.Context, req *domain.SubmissionRequest) *domain.Outcome {
	outcome, err := e.driver.Submit(ctx, req.Payload, req.FormURL)
	if err != nil {
		return &domain.Outcome{
			Status: domain.ChannelErrored,
			Note:   fmt.Sprintf("driver error: %v", err),
		}
	}
	return outcome
}

func (e *Engine) appendEvent(req *domain.SubmissionRequest, outcome *domain.Outcome) {
	event := &domain.Event{
		ID:          uuid.NewString(),
		WorkspaceID: req.WorkspaceID,
		FirmID:      req.FirmID,
		RequestID:   req.ID,
		Status:      outcome.Status,
		Attempt:     req.ExecutionAttempts,
		Budget:      req.MaxAttempts,
		Note:        outcome.Note,
		OccurredAt:  time.Now(),
	}
	if err := e.store.AppendEvent(event); err != nil {
		log.Printf("appending event for request %s: %v", req.ID, err)
		return
	}
	if e.sink != nil {
		e.sink(event)
	}
}

func (e *Engine) foldIntoFirm(req *domain.SubmissionRequest, status domain.FirmStatus, reason string) {
	if err := e.store.UpdateFirmStatus(req.FirmID, status, reason); err != nil {
		log.Printf("updating firm %s after request %s: %v", req.FirmID, req.ID, err)
	}
}

func (e *Engine) notifyTerminal(req *domain.SubmissionRequest, typ notify.NotificationType, title string) {
	if err := e.notifier.Send(notify.Notification{
		Title:     title,
		Message:   req.ResultNote,
		Type:      typ,
		RequestID: req.ID,
	}); err != nil {
		log.Printf("notify for request %s: %v", req.ID, err)
	}
}
