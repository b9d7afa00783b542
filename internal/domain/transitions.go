package domain

import (
	"fmt"
	"time"
)

// transitionErr builds a consistent illegal-transition error
func transitionErr(from RequestStatus, action string) error {
	return fmt.Errorf("%w: cannot %s from %s", ErrInvalidTransition, action, from)
}

// Approve moves a request into the approved state. Allowed from
// pending_approval, pending_retry, and failed (an operator may requeue a
// failed request after manual review). Clears any stale retry timestamp.
func (r *SubmissionRequest) Approve(by string, now time.Time) error {
	switch r.Status {
	case RequestPendingApproval, RequestPendingRetry, RequestFailed:
	default:
		return transitionErr(r.Status, "approve")
	}
	if by == "" {
		return fmt.Errorf("%w: approve requires an approver", ErrInvalidTransition)
	}
	r.Status = RequestApproved
	r.ApprovedBy = by
	r.ApprovedAt = &now
	r.NextRetryAt = nil
	return nil
}

// BeginExecution marks the start of one attempt. Allowed from approved and
// pending_retry. The attempt counter and start timestamp are recorded here,
// before the driver is invoked, so a crash mid-call is visible as
// "executing" to the watchdog.
func (r *SubmissionRequest) BeginExecution(now time.Time) error {
	switch r.Status {
	case RequestApproved, RequestPendingRetry:
	default:
		return transitionErr(r.Status, "begin execution")
	}
	r.Status = RequestExecuting
	if r.ExecutionAttempts < r.MaxAttempts {
		r.ExecutionAttempts++
	}
	r.LastExecutionStart = &now
	r.LastExecutionEnd = nil
	r.NextRetryAt = nil
	return nil
}

// ApplyOutcome folds one attempt's outcome into the request. Success-class
// outcomes complete the request; errored outcomes retry while attempts
// remain; everything else fails immediately.
func (r *SubmissionRequest) ApplyOutcome(out *Outcome, retryDelay time.Duration, now time.Time) error {
	if r.Status != RequestExecuting {
		return transitionErr(r.Status, "apply outcome")
	}
	r.LastExecutionEnd = &now
	r.LastExecutionStatus = out.Status
	r.NextRetryAt = nil

	switch {
	case out.Status.IsSuccess():
		r.Status = RequestCompleted
		r.ExecutedAt = &now
		r.ResultNote = out.Note
	case out.Status.IsRetriable() && r.ExecutionAttempts < r.MaxAttempts:
		r.Status = RequestPendingRetry
		next := now.Add(retryDelay)
		r.NextRetryAt = &next
		r.ResultNote = out.Note
	default:
		r.Status = RequestFailed
		r.ResultNote = failNote(out, r.ExecutionAttempts, r.MaxAttempts)
	}
	return nil
}

// Reject is an explicit operator action, legal from any non-terminal state
// regardless of attempt count.
func (r *SubmissionRequest) Reject(by, reason string, now time.Time) error {
	if r.IsTerminal() {
		return transitionErr(r.Status, "reject")
	}
	r.Status = RequestRejected
	r.NextRetryAt = nil
	r.LastExecutionEnd = &now
	r.ResultNote = fmt.Sprintf("rejected by %s: %s", by, reason)
	return nil
}

// ForceTimeout is the watchdog's recovery for an execution that never
// reached a terminal transition: back to pending_retry (due immediately)
// while attempts remain, otherwise failed. The note always says "timed out"
// so operators can tell supervision apart from driver-reported failure.
func (r *SubmissionRequest) ForceTimeout(staleAfter time.Duration, now time.Time) error {
	if r.Status != RequestExecuting {
		return transitionErr(r.Status, "force timeout")
	}
	r.LastExecutionEnd = &now
	note := fmt.Sprintf("execution timed out after %s (attempt %d/%d)", staleAfter, r.ExecutionAttempts, r.MaxAttempts)
	if r.ExecutionAttempts < r.MaxAttempts {
		r.Status = RequestPendingRetry
		r.NextRetryAt = &now
		r.ResultNote = note
	} else {
		r.Status = RequestFailed
		r.ResultNote = note
	}
	return nil
}

// StaleReference returns the timestamp the watchdog compares against the
// stale threshold: execution start, falling back to approval, then
// preparation time.
func (r *SubmissionRequest) StaleReference() time.Time {
	if r.LastExecutionStart != nil {
		return *r.LastExecutionStart
	}
	if r.ApprovedAt != nil {
		return *r.ApprovedAt
	}
	return r.PreparedAt
}

func failNote(out *Outcome, attempts, max int) string {
	switch {
	case out.Status == ChannelBlocked && out.BlockedReason != "":
		return fmt.Sprintf("blocked: %s", out.BlockedReason)
	case out.Status == ChannelErrored:
		return fmt.Sprintf("gave up after %d/%d attempts: %s", attempts, max, out.Note)
	case out.Note != "":
		return out.Note
	default:
		return string(out.Status)
	}
}
