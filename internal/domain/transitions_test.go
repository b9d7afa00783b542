package domain

import (
	"errors"
	"strings"
	"testing"
	"time"
)

func newRequest() *SubmissionRequest {
	return &SubmissionRequest{
		ID:          "req-1",
		WorkspaceID: "ws-1",
		FirmID:      "firm-1",
		Status:      RequestPendingApproval,
		MaxAttempts: 3,
		PreparedAt:  time.Now(),
	}
}

func TestApprove(t *testing.T) {
	now := time.Now()

	req := newRequest()
	if err := req.Approve("alice", now); err != nil {
		t.Fatal(err)
	}
	if req.Status != RequestApproved {
		t.Errorf("Status = %q, want approved", req.Status)
	}
	if req.ApprovedBy != "alice" || req.ApprovedAt == nil {
		t.Error("approval metadata not recorded")
	}

	// Approving again from approved is illegal
	if err := req.Approve("alice", now); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("double approve error = %v, want ErrInvalidTransition", err)
	}

	// Missing approver
	req2 := newRequest()
	if err := req2.Approve("", now); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("empty approver error = %v, want ErrInvalidTransition", err)
	}
}

func TestApprove_ClearsStaleRetryTimestamp(t *testing.T) {
	now := time.Now()
	req := newRequest()
	req.Status = RequestPendingRetry
	req.NextRetryAt = &now

	if err := req.Approve("bob", now); err != nil {
		t.Fatal(err)
	}
	if req.NextRetryAt != nil {
		t.Error("NextRetryAt should be cleared on approval")
	}
}

func TestApprove_FromFailed(t *testing.T) {
	req := newRequest()
	req.Status = RequestFailed
	req.ExecutionAttempts = 3

	if err := req.Approve("carol", time.Now()); err != nil {
		t.Fatalf("re-approving a failed request should work: %v", err)
	}
}

func TestBeginExecution(t *testing.T) {
	now := time.Now()
	req := newRequest()
	if err := req.Approve("a", now); err != nil {
		t.Fatal(err)
	}
	if err := req.BeginExecution(now); err != nil {
		t.Fatal(err)
	}
	if req.Status != RequestExecuting {
		t.Errorf("Status = %q, want executing", req.Status)
	}
	if req.ExecutionAttempts != 1 {
		t.Errorf("ExecutionAttempts = %d, want 1", req.ExecutionAttempts)
	}
	if req.LastExecutionStart == nil {
		t.Error("LastExecutionStart not stamped")
	}

	// Cannot start a second attempt without an intervening transition
	if err := req.BeginExecution(now); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("double begin error = %v, want ErrInvalidTransition", err)
	}
}

func TestBeginExecution_AttemptsCappedAtBudget(t *testing.T) {
	now := time.Now()
	req := newRequest()
	req.Status = RequestPendingRetry
	req.ExecutionAttempts = 3 // already at MaxAttempts

	if err := req.BeginExecution(now); err != nil {
		t.Fatal(err)
	}
	if req.ExecutionAttempts > req.MaxAttempts {
		t.Errorf("ExecutionAttempts = %d exceeds budget %d", req.ExecutionAttempts, req.MaxAttempts)
	}
}

func TestApplyOutcome_Success(t *testing.T) {
	now := time.Now()
	req := newRequest()
	req.Approve("a", now)
	req.BeginExecution(now)

	if err := req.ApplyOutcome(&Outcome{Status: ChannelSubmitted, Note: "form submitted"}, time.Minute, now); err != nil {
		t.Fatal(err)
	}
	if req.Status != RequestCompleted {
		t.Errorf("Status = %q, want completed", req.Status)
	}
	if req.ExecutedAt == nil {
		t.Error("ExecutedAt not stamped")
	}
	if req.NextRetryAt != nil {
		t.Error("NextRetryAt must be nil outside pending_retry")
	}
}

func TestApplyOutcome_ErroredRetries(t *testing.T) {
	now := time.Now()
	req := newRequest()
	req.Approve("a", now)
	req.BeginExecution(now)

	if err := req.ApplyOutcome(&Outcome{Status: ChannelErrored, Note: "driver crashed"}, time.Minute, now); err != nil {
		t.Fatal(err)
	}
	if req.Status != RequestPendingRetry {
		t.Errorf("Status = %q, want pending_retry", req.Status)
	}
	if req.NextRetryAt == nil {
		t.Fatal("NextRetryAt not set")
	}
	if got, want := *req.NextRetryAt, now.Add(time.Minute); !got.Equal(want) {
		t.Errorf("NextRetryAt = %v, want %v", got, want)
	}
}

func TestApplyOutcome_NonRetriableFailsImmediately(t *testing.T) {
	for _, status := range []ChannelStatus{ChannelBlocked, ChannelNoFormFound, ChannelNeedsReview} {
		now := time.Now()
		req := newRequest()
		req.Approve("a", now)
		req.BeginExecution(now)

		out := &Outcome{Status: status, BlockedReason: "captcha"}
		if err := req.ApplyOutcome(out, time.Minute, now); err != nil {
			t.Fatal(err)
		}
		if req.Status != RequestFailed {
			t.Errorf("%s: Status = %q, want failed", status, req.Status)
		}
		if req.ExecutionAttempts != 1 {
			t.Errorf("%s: attempts = %d, want 1 (no retry of domain negatives)", status, req.ExecutionAttempts)
		}
	}
}

func TestApplyOutcome_BudgetExhaustion(t *testing.T) {
	now := time.Now()
	req := newRequest()
	req.Approve("a", now)

	// Three consecutive errored outcomes with a budget of three
	for i := 0; i < 3; i++ {
		if err := req.BeginExecution(now); err != nil {
			t.Fatalf("attempt %d: %v", i+1, err)
		}
		if err := req.ApplyOutcome(&Outcome{Status: ChannelErrored, Note: "timeout"}, time.Minute, now); err != nil {
			t.Fatalf("attempt %d: %v", i+1, err)
		}
		if req.ExecutionAttempts > req.MaxAttempts {
			t.Fatalf("attempts %d exceeds budget", req.ExecutionAttempts)
		}
	}

	if req.Status != RequestFailed {
		t.Errorf("Status = %q, want failed", req.Status)
	}
	if req.ExecutionAttempts != 3 {
		t.Errorf("ExecutionAttempts = %d, want 3", req.ExecutionAttempts)
	}
	if !strings.Contains(req.ResultNote, "gave up after 3/3") {
		t.Errorf("ResultNote = %q, want budget-exhaustion note", req.ResultNote)
	}
}

func TestReject(t *testing.T) {
	now := time.Now()

	req := newRequest()
	if err := req.Reject("ops", "duplicate target", now); err != nil {
		t.Fatal(err)
	}
	if req.Status != RequestRejected {
		t.Errorf("Status = %q, want rejected", req.Status)
	}

	// Rejecting a terminal request must error, never silently succeed
	for _, status := range []RequestStatus{RequestCompleted, RequestRejected, RequestFailed} {
		r := newRequest()
		r.Status = status
		if err := r.Reject("ops", "again", now); !errors.Is(err, ErrInvalidTransition) {
			t.Errorf("reject from %s error = %v, want ErrInvalidTransition", status, err)
		}
	}
}

func TestForceTimeout(t *testing.T) {
	now := time.Now()

	req := newRequest()
	req.Approve("a", now)
	req.BeginExecution(now)
	if err := req.ForceTimeout(10*time.Minute, now); err != nil {
		t.Fatal(err)
	}
	if req.Status != RequestPendingRetry {
		t.Errorf("Status = %q, want pending_retry", req.Status)
	}
	if req.NextRetryAt == nil || !req.NextRetryAt.Equal(now) {
		t.Errorf("NextRetryAt = %v, want now (immediately due)", req.NextRetryAt)
	}
	if !strings.Contains(req.ResultNote, "timed out") {
		t.Errorf("ResultNote = %q, want timeout note", req.ResultNote)
	}

	// Exhausted budget times out to failed
	req2 := newRequest()
	req2.Status = RequestExecuting
	req2.ExecutionAttempts = 3
	if err := req2.ForceTimeout(10*time.Minute, now); err != nil {
		t.Fatal(err)
	}
	if req2.Status != RequestFailed {
		t.Errorf("Status = %q, want failed", req2.Status)
	}

	// Only an executing request can time out
	req3 := newRequest()
	if err := req3.ForceTimeout(10*time.Minute, now); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("timeout from pending_approval error = %v, want ErrInvalidTransition", err)
	}
}

func TestStaleReference(t *testing.T) {
	prepared := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	approved := prepared.Add(time.Hour)
	started := approved.Add(time.Minute)

	req := &SubmissionRequest{PreparedAt: prepared}
	if got := req.StaleReference(); !got.Equal(prepared) {
		t.Errorf("StaleReference = %v, want PreparedAt", got)
	}

	req.ApprovedAt = &approved
	if got := req.StaleReference(); !got.Equal(approved) {
		t.Errorf("StaleReference = %v, want ApprovedAt", got)
	}

	req.LastExecutionStart = &started
	if got := req.StaleReference(); !got.Equal(started) {
		t.Errorf("StaleReference = %v, want LastExecutionStart", got)
	}
}
