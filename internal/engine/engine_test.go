package engine

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/raisekit/outreach-orchestrator/internal/domain"
	"github.com/raisekit/outreach-orchestrator/internal/driver"
	"github.com/raisekit/outreach-orchestrator/internal/store"
)

func newTestEngine(t *testing.T, drv driver.Driver) (*Engine, *store.Store) {
	t.Helper()
	st, err := store.New(":memory:")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { st.Close() })

	if err := st.CreateWorkspace(&domain.Workspace{ID: "ws-1", Name: "Acme", CreatedAt: time.Now()}); err != nil {
		t.Fatal(err)
	}
	if err := st.UpsertFirm(&domain.Firm{ID: "f-1", WorkspaceID: "ws-1", Name: "Index", Status: domain.FirmPrepared, CreatedAt: time.Now(), UpdatedAt: time.Now()}); err != nil {
		t.Fatal(err)
	}

	e := New(st, drv, Config{DefaultMaxAttempts: 3, RetryDelay: time.Millisecond})
	return e, st
}

func seedApprovedRequest(t *testing.T, st *store.Store, maxAttempts int) *domain.SubmissionRequest {
	t.Helper()
	req := &domain.SubmissionRequest{
		ID:          "req-1",
		WorkspaceID: "ws-1",
		FirmID:      "f-1",
		Mode:        domain.ModeSimulation,
		Payload:     domain.Payload{CompanyName: "Acme", ContactEmail: "dana@acme.dev"},
		FormURL:     "https://index.vc/contact",
		Status:      domain.RequestPendingApproval,
		MaxAttempts: maxAttempts,
		PreparedAt:  time.Now(),
	}
	if err := st.CreateRequest(req); err != nil {
		t.Fatal(err)
	}
	updated, err := st.UpdateRequest(req.ID, func(r *domain.SubmissionRequest) error {
		return r.Approve("alice", time.Now())
	})
	if err != nil {
		t.Fatal(err)
	}
	return updated
}

func TestExecute_NotFound(t *testing.T) {
	e, _ := newTestEngine(t, driver.Simulator{})
	_, _, err := e.Execute(context.Background(), "ws-1", "missing")
	if !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestExecute_WrongWorkspace(t *testing.T) {
	e, st := newTestEngine(t, driver.Simulator{})
	seedApprovedRequest(t, st, 3)

	_, _, err := e.Execute(context.Background(), "ws-other", "req-1")
	if !errors.Is(err, domain.ErrForbidden) {
		t.Errorf("err = %v, want ErrForbidden", err)
	}
}

func TestExecute_UnapprovedRequest(t *testing.T) {
	e, st := newTestEngine(t, driver.Simulator{})
	req := &domain.SubmissionRequest{
		ID: "req-1", WorkspaceID: "ws-1", FirmID: "f-1", Mode: domain.ModeSimulation,
		Status: domain.RequestPendingApproval, MaxAttempts: 3, PreparedAt: time.Now(),
	}
	if err := st.CreateRequest(req); err != nil {
		t.Fatal(err)
	}

	_, _, err := e.Execute(context.Background(), "ws-1", "req-1")
	if !errors.Is(err, domain.ErrInvalidTransition) {
		t.Errorf("err = %v, want ErrInvalidTransition", err)
	}
}

// First attempt succeeds: request completes with one attempt and one event
func TestExecute_FirstAttemptSubmits(t *testing.T) {
	drv := driver.NewScripted(&domain.Outcome{Status: domain.ChannelSubmitted, Note: "ok"})
	e, st := newTestEngine(t, drv)
	seedApprovedRequest(t, st, 3)

	req, outcome, err := e.Execute(context.Background(), "ws-1", "req-1")
	if err != nil {
		t.Fatal(err)
	}
	if req.Status != domain.RequestCompleted {
		t.Errorf("Status = %q, want completed", req.Status)
	}
	if req.ExecutionAttempts != 1 {
		t.Errorf("ExecutionAttempts = %d, want 1", req.ExecutionAttempts)
	}
	if outcome.Status != domain.ChannelSubmitted {
		t.Errorf("outcome = %q, want submitted", outcome.Status)
	}
	if req.ExecutedAt == nil {
		t.Error("ExecutedAt not stamped")
	}

	events, _ := st.ListEvents(store.EventListOptions{RequestID: "req-1"})
	if len(events) != 1 {
		t.Errorf("events = %d, want 1", len(events))
	}
	if events[0].Attempt != 1 || events[0].Budget != 3 {
		t.Errorf("event attempt/budget = %d/%d, want 1/3", events[0].Attempt, events[0].Budget)
	}

	firm, _ := st.GetFirm("f-1")
	if firm.Status != domain.FirmContacted {
		t.Errorf("firm status = %q, want contacted", firm.Status)
	}
}

// Errored then submitted with budget 2: completes on attempt two, two events
func TestExecute_RetryThenSuccess(t *testing.T) {
	drv := driver.NewScripted(
		&domain.Outcome{Status: domain.ChannelErrored, Note: "transient"},
		&domain.Outcome{Status: domain.ChannelSubmitted, Note: "ok"},
	)
	e, st := newTestEngine(t, drv)
	seedApprovedRequest(t, st, 2)

	req, _, err := e.Execute(context.Background(), "ws-1", "req-1")
	if err != nil {
		t.Fatal(err)
	}
	if req.Status != domain.RequestCompleted {
		t.Errorf("Status = %q, want completed", req.Status)
	}
	if req.ExecutionAttempts != 2 {
		t.Errorf("ExecutionAttempts = %d, want 2", req.ExecutionAttempts)
	}

	events, _ := st.ListEvents(store.EventListOptions{RequestID: "req-1"})
	if len(events) != 2 {
		t.Fatalf("events = %d, want exactly 2", len(events))
	}
	if events[0].Status != domain.ChannelErrored || events[1].Status != domain.ChannelSubmitted {
		t.Errorf("event sequence = %q, %q", events[0].Status, events[1].Status)
	}
}

// Three consecutive errored outcomes with budget 3: failed, attempts = 3
func TestExecute_BudgetExhaustion(t *testing.T) {
	drv := driver.NewScripted(&domain.Outcome{Status: domain.ChannelErrored, Note: "down"})
	e, st := newTestEngine(t, drv)
	seedApprovedRequest(t, st, 3)

	req, _, err := e.Execute(context.Background(), "ws-1", "req-1")
	if err != nil {
		t.Fatal(err)
	}
	if req.Status != domain.RequestFailed {
		t.Errorf("Status = %q, want failed", req.Status)
	}
	if req.ExecutionAttempts != 3 {
		t.Errorf("ExecutionAttempts = %d, want 3", req.ExecutionAttempts)
	}
	if !strings.Contains(req.ResultNote, "3/3") {
		t.Errorf("ResultNote = %q, want budget exhaustion note", req.ResultNote)
	}
	if drv.Calls() != 3 {
		t.Errorf("driver calls = %d, want 3", drv.Calls())
	}

	firm, _ := st.GetFirm("f-1")
	if firm.Status != domain.FirmReview {
		t.Errorf("firm status = %q, want review", firm.Status)
	}
}

// Non-retriable outcomes fail immediately without consuming the budget
func TestExecute_NonRetriableFailsOnFirstAttempt(t *testing.T) {
	drv := driver.NewScripted(&domain.Outcome{Status: domain.ChannelBlocked, BlockedReason: "captcha"})
	e, st := newTestEngine(t, drv)
	seedApprovedRequest(t, st, 3)

	req, _, err := e.Execute(context.Background(), "ws-1", "req-1")
	if err != nil {
		t.Fatal(err)
	}
	if req.Status != domain.RequestFailed {
		t.Errorf("Status = %q, want failed", req.Status)
	}
	if req.ExecutionAttempts != 1 {
		t.Errorf("ExecutionAttempts = %d, want 1 (blocked is not retried)", req.ExecutionAttempts)
	}
	if drv.Calls() != 1 {
		t.Errorf("driver calls = %d, want 1", drv.Calls())
	}
	if !strings.Contains(req.ResultNote, "captcha") {
		t.Errorf("ResultNote = %q, want blocked reason", req.ResultNote)
	}
	_ = st
}

// A driver error maps to the errored class and is retried
func TestExecute_DriverErrorRetries(t *testing.T) {
	calls := 0
	drv := driver.Func(func(ctx context.Context, p domain.Payload, formURL string) (*domain.Outcome, error) {
		calls++
		if calls == 1 {
			return nil, errors.New("connection reset")
		}
		return &domain.Outcome{Status: domain.ChannelSubmitted}, nil
	})
	e, st := newTestEngine(t, drv)
	seedApprovedRequest(t, st, 3)

	req, _, err := e.Execute(context.Background(), "ws-1", "req-1")
	if err != nil {
		t.Fatal(err)
	}
	if req.Status != domain.RequestCompleted || req.ExecutionAttempts != 2 {
		t.Errorf("status/attempts = %q/%d, want completed/2", req.Status, req.ExecutionAttempts)
	}

	events, _ := st.ListEvents(store.EventListOptions{RequestID: "req-1"})
	if len(events) != 2 || !strings.Contains(events[0].Note, "driver error") {
		t.Errorf("events = %+v, want driver error folded into first event", events)
	}
}

// Attempts never exceed the budget after any transition
func TestExecute_AttemptsNeverExceedBudget(t *testing.T) {
	drv := driver.NewScripted(&domain.Outcome{Status: domain.ChannelErrored})
	e, st := newTestEngine(t, drv)
	seedApprovedRequest(t, st, 2)

	req, _, err := e.Execute(context.Background(), "ws-1", "req-1")
	if err != nil {
		t.Fatal(err)
	}
	if req.ExecutionAttempts > req.MaxAttempts {
		t.Errorf("attempts %d exceeds budget %d", req.ExecutionAttempts, req.MaxAttempts)
	}

	stored, err := st.GetRequest("req-1")
	if err != nil {
		t.Fatal(err)
	}
	if stored.ExecutionAttempts != req.ExecutionAttempts {
		t.Errorf("persisted attempts = %d, want %d", stored.ExecutionAttempts, req.ExecutionAttempts)
	}
}

// The guard rejects a concurrent Execute on the same request
func TestExecute_GuardRejectsConcurrentExecution(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	drv := driver.Func(func(ctx context.Context, p domain.Payload, formURL string) (*domain.Outcome, error) {
		close(started)
		<-release
		return &domain.Outcome{Status: domain.ChannelSubmitted}, nil
	})
	e, st := newTestEngine(t, drv)
	seedApprovedRequest(t, st, 3)

	var wg sync.WaitGroup
	wg.Add(1)
	var firstErr error
	go func() {
		defer wg.Done()
		_, _, firstErr = e.Execute(context.Background(), "ws-1", "req-1")
	}()

	<-started // the first execution is now mid-driver-call
	_, _, err := e.Execute(context.Background(), "ws-1", "req-1")
	if !errors.Is(err, domain.ErrAlreadyExecuting) {
		t.Errorf("concurrent execute err = %v, want ErrAlreadyExecuting", err)
	}

	close(release)
	wg.Wait()
	if firstErr != nil {
		t.Fatalf("first execute failed: %v", firstErr)
	}

	events, _ := st.ListEvents(store.EventListOptions{RequestID: "req-1"})
	if len(events) != 1 {
		t.Errorf("events = %d, the request must not be double-submitted", len(events))
	}
}

// The guard is released after execution, allowing a later re-approval
func TestExecute_GuardReleasedAfterCompletion(t *testing.T) {
	drv := driver.NewScripted(&domain.Outcome{Status: domain.ChannelErrored})
	e, st := newTestEngine(t, drv)
	seedApprovedRequest(t, st, 1)

	if _, _, err := e.Execute(context.Background(), "ws-1", "req-1"); err != nil {
		t.Fatal(err)
	}
	if e.Guard().Held("ws-1", "req-1") {
		t.Error("guard still held after Execute returned")
	}

	// Re-approve the failed request and run again
	if _, err := st.UpdateRequest("req-1", func(r *domain.SubmissionRequest) error {
		return r.Approve("bob", time.Now())
	}); err != nil {
		t.Fatal(err)
	}
	req, _, err := e.Execute(context.Background(), "ws-1", "req-1")
	if err != nil {
		t.Fatal(err)
	}
	if req.Status != domain.RequestFailed {
		t.Errorf("Status = %q, want failed again (attempts already at budget)", req.Status)
	}
}
