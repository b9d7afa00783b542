package store

import (
	"errors"
	"testing"
	"time"

	"github.com/raisekit/outreach-orchestrator/internal/domain"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(":memory:")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func seedWorkspace(t *testing.T, s *Store) *domain.Workspace {
	t.Helper()
	ws := &domain.Workspace{ID: "ws-1", Name: "Acme Raise", CreatedAt: time.Now()}
	if err := s.CreateWorkspace(ws); err != nil {
		t.Fatal(err)
	}
	return ws
}

func TestStore_WorkspaceNotFound(t *testing.T) {
	s := newTestStore(t)
	_, err := s.GetWorkspace("missing")
	if !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestStore_FirmsInsertionOrder(t *testing.T) {
	s := newTestStore(t)
	seedWorkspace(t, s)

	names := []string{"Sequoia", "Accel", "Index"}
	for i, name := range names {
		f := &domain.Firm{
			ID:          name,
			WorkspaceID: "ws-1",
			Name:        name,
			Status:      domain.FirmPending,
			CreatedAt:   time.Now().Add(time.Duration(-i) * time.Hour), // deliberately out of time order
			UpdatedAt:   time.Now(),
		}
		if err := s.UpsertFirm(f); err != nil {
			t.Fatal(err)
		}
	}

	firms, err := s.ListFirms("ws-1")
	if err != nil {
		t.Fatal(err)
	}
	if len(firms) != 3 {
		t.Fatalf("len = %d, want 3", len(firms))
	}
	for i, name := range names {
		if firms[i].Name != name {
			t.Errorf("firms[%d] = %q, want %q (insertion order must be stable)", i, firms[i].Name, name)
		}
	}
}

func TestStore_UpdateFirmStatus(t *testing.T) {
	s := newTestStore(t)
	seedWorkspace(t, s)

	f := &domain.Firm{ID: "f-1", WorkspaceID: "ws-1", Name: "Index", Status: domain.FirmPending, CreatedAt: time.Now(), UpdatedAt: time.Now()}
	if err := s.UpsertFirm(f); err != nil {
		t.Fatal(err)
	}

	if err := s.UpdateFirmStatus("f-1", domain.FirmReview, "not recommended"); err != nil {
		t.Fatal(err)
	}
	got, err := s.GetFirm("f-1")
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != domain.FirmReview || got.ReviewReason != "not recommended" {
		t.Errorf("firm = %+v, want review state with reason", got)
	}

	if err := s.UpdateFirmStatus("missing", domain.FirmReview, "x"); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestStore_RunRoundTrip(t *testing.T) {
	s := newTestStore(t)
	seedWorkspace(t, s)

	run := &domain.Run{
		ID:          "run-1",
		WorkspaceID: "ws-1",
		Initiator:   "alice",
		Mode:        domain.ModeSimulation,
		Status:      domain.RunRunning,
		Total:       2,
		StartedAt:   time.Now(),
	}
	if err := s.PutRun(run); err != nil {
		t.Fatal(err)
	}

	run.Processed = 2
	run.Success = 1
	run.Failed = 1
	run.TaskIDs = []string{"t-1", "t-2"}
	run.LogIDs = []int64{1, 2, 3}
	run.Status = domain.RunCompleted
	now := time.Now()
	run.CompletedAt = &now
	if err := s.PutRun(run); err != nil {
		t.Fatal(err)
	}

	got, err := s.GetRun("run-1")
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != domain.RunCompleted {
		t.Errorf("Status = %q, want completed", got.Status)
	}
	if got.Processed != got.Success+got.Failed {
		t.Errorf("processed %d != success %d + failed %d", got.Processed, got.Success, got.Failed)
	}
	if len(got.TaskIDs) != 2 || len(got.LogIDs) != 3 {
		t.Errorf("id lists = %v / %v, want 2 tasks and 3 logs", got.TaskIDs, got.LogIDs)
	}
	if got.CompletedAt == nil {
		t.Error("CompletedAt not persisted")
	}
}

func TestStore_TasksAndLogs(t *testing.T) {
	s := newTestStore(t)
	seedWorkspace(t, s)
	if err := s.PutRun(&domain.Run{ID: "run-1", WorkspaceID: "ws-1", Mode: domain.ModeSimulation, Status: domain.RunRunning, StartedAt: time.Now()}); err != nil {
		t.Fatal(err)
	}

	task := &domain.StageTask{
		ID:         "t-1",
		RunID:      "run-1",
		FirmID:     "f-1",
		Stage:      "qualification",
		Status:     domain.TaskCompleted,
		Confidence: 0.82,
		Summary:    "recommended",
		Output:     map[string]any{"recommended": true},
		StartedAt:  time.Now(),
		EndedAt:    time.Now(),
	}
	if err := s.AppendTask(task); err != nil {
		t.Fatal(err)
	}

	id, err := s.AppendLog("run-1", "info", "qualification passed")
	if err != nil {
		t.Fatal(err)
	}
	if id == 0 {
		t.Error("log id should be assigned")
	}

	tasks, err := s.ListTasks("run-1")
	if err != nil {
		t.Fatal(err)
	}
	if len(tasks) != 1 {
		t.Fatalf("len = %d, want 1", len(tasks))
	}
	if rec, ok := tasks[0].Output["recommended"].(bool); !ok || !rec {
		t.Errorf("Output = %v, want recommended=true", tasks[0].Output)
	}

	logs, err := s.ListLogs("run-1")
	if err != nil {
		t.Fatal(err)
	}
	if len(logs) != 1 || logs[0].Message != "qualification passed" {
		t.Errorf("logs = %+v", logs)
	}
}

func TestStore_RequestLifecyclePersistence(t *testing.T) {
	s := newTestStore(t)
	seedWorkspace(t, s)

	req := &domain.SubmissionRequest{
		ID:          "req-1",
		WorkspaceID: "ws-1",
		FirmID:      "f-1",
		Mode:        domain.ModeLive,
		Payload:     domain.Payload{CompanyName: "Acme", ContactEmail: "cfo@acme.dev", RaiseAmount: "$4M"},
		FormURL:     "https://index.vc/contact",
		Status:      domain.RequestPendingApproval,
		MaxAttempts: 3,
		PreparedAt:  time.Now(),
	}
	if err := s.CreateRequest(req); err != nil {
		t.Fatal(err)
	}

	updated, err := s.UpdateRequest("req-1", func(r *domain.SubmissionRequest) error {
		return r.Approve("alice", time.Now())
	})
	if err != nil {
		t.Fatal(err)
	}
	if updated.Status != domain.RequestApproved {
		t.Errorf("Status = %q, want approved", updated.Status)
	}

	got, err := s.GetRequest("req-1")
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != domain.RequestApproved || got.ApprovedBy != "alice" || got.ApprovedAt == nil {
		t.Errorf("persisted request = %+v, want approval recorded", got)
	}
	if got.Payload.CompanyName != "Acme" {
		t.Errorf("Payload.CompanyName = %q, want Acme", got.Payload.CompanyName)
	}
}

func TestStore_UpdateRequestMutatorErrorAbortsWrite(t *testing.T) {
	s := newTestStore(t)
	seedWorkspace(t, s)

	req := &domain.SubmissionRequest{
		ID: "req-1", WorkspaceID: "ws-1", FirmID: "f-1", Mode: domain.ModeSimulation,
		Status: domain.RequestCompleted, MaxAttempts: 1, PreparedAt: time.Now(),
	}
	if err := s.CreateRequest(req); err != nil {
		t.Fatal(err)
	}

	_, err := s.UpdateRequest("req-1", func(r *domain.SubmissionRequest) error {
		return r.Reject("ops", "too late", time.Now())
	})
	if !errors.Is(err, domain.ErrInvalidTransition) {
		t.Fatalf("err = %v, want ErrInvalidTransition", err)
	}

	got, _ := s.GetRequest("req-1")
	if got.Status != domain.RequestCompleted {
		t.Errorf("Status = %q, terminal state must be immutable", got.Status)
	}
}

func TestStore_UpdateRequestNotFound(t *testing.T) {
	s := newTestStore(t)
	_, err := s.UpdateRequest("missing", func(r *domain.SubmissionRequest) error { return nil })
	if !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestStore_ListRequestsByStatus(t *testing.T) {
	s := newTestStore(t)
	seedWorkspace(t, s)

	for i, status := range []domain.RequestStatus{domain.RequestPendingRetry, domain.RequestExecuting, domain.RequestPendingRetry} {
		req := &domain.SubmissionRequest{
			ID: string(rune('a' + i)), WorkspaceID: "ws-1", FirmID: "f-1",
			Mode: domain.ModeSimulation, Status: status, MaxAttempts: 3,
			PreparedAt: time.Now().Add(time.Duration(i) * time.Second),
		}
		if err := s.CreateRequest(req); err != nil {
			t.Fatal(err)
		}
	}

	got, err := s.ListRequests(RequestListOptions{WorkspaceID: "ws-1", Status: domain.RequestPendingRetry})
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 {
		t.Errorf("len = %d, want 2", len(got))
	}
}

func TestStore_EventsAppendOnly(t *testing.T) {
	s := newTestStore(t)
	seedWorkspace(t, s)

	for i := 0; i < 3; i++ {
		e := &domain.Event{
			ID:          string(rune('a' + i)),
			WorkspaceID: "ws-1",
			FirmID:      "f-1",
			RequestID:   "req-1",
			Status:      domain.ChannelErrored,
			Attempt:     i + 1,
			Budget:      3,
			OccurredAt:  time.Now(),
		}
		if err := s.AppendEvent(e); err != nil {
			t.Fatal(err)
		}
	}

	events, err := s.ListEvents(EventListOptions{RequestID: "req-1"})
	if err != nil {
		t.Fatal(err)
	}
	if len(events) != 3 {
		t.Fatalf("len = %d, want 3", len(events))
	}
	for i, e := range events {
		if e.Attempt != i+1 {
			t.Errorf("events[%d].Attempt = %d, want %d", i, e.Attempt, i+1)
		}
	}
}
