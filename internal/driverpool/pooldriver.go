package driverpool

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/raisekit/outreach-orchestrator/internal/domain"
	"github.com/raisekit/outreach-orchestrator/internal/driver"
	"github.com/raisekit/outreach-orchestrator/internal/submitprotocol"
)

// defaultSubmitTimeout bounds a single form submission end to end
const defaultSubmitTimeout = 2 * time.Minute

// PoolDriver routes submissions through the worker pool. It satisfies
// the same contract as the local drivers, so the engine does not care
// whether a submission ran in-process or on a remote worker.
type PoolDriver struct {
	dispatcher *Dispatcher
	mode       domain.Mode
	timeout    time.Duration
}

// NewPoolDriver creates a driver backed by the given dispatcher
func NewPoolDriver(dispatcher *Dispatcher, mode domain.Mode) *PoolDriver {
	return &PoolDriver{
		dispatcher: dispatcher,
		mode:       mode,
		timeout:    defaultSubmitTimeout,
	}
}

// SetTimeout overrides the per-submission timeout
func (p *PoolDriver) SetTimeout(d time.Duration) {
	p.timeout = d
}

// Submit queues the payload for a pool worker and waits for the outcome
func (p *PoolDriver) Submit(ctx context.Context, payload domain.Payload, formURL string) (*domain.Outcome, error) {
	msg := &submitprotocol.SubmissionMessage{
		SubmissionID: uuid.NewString(),
		FormURL:      formURL,
		Mode:         string(p.mode),
		Fields:       payloadFields(payload),
		Message:      payload.PitchSummary,
		Timeout:      int(p.timeout.Seconds()),
	}

	resultCh := p.dispatcher.Enqueue(msg)
	p.dispatcher.TryDispatch()

	select {
	case result := <-resultCh:
		return outcomeFromMessage(result), nil
	case <-time.After(p.timeout):
		return nil, fmt.Errorf("submission %s timed out after %s", msg.SubmissionID, p.timeout)
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func payloadFields(payload domain.Payload) map[string]string {
	fields := map[string]string{
		"name":    payload.ContactName,
		"email":   payload.ContactEmail,
		"company": payload.CompanyName,
		"website": payload.Website,
		"raise":   payload.RaiseAmount,
	}
	if payload.OpeningLine != "" {
		fields["opening_line"] = payload.OpeningLine
	}
	return fields
}

func outcomeFromMessage(msg *submitprotocol.OutcomeMessage) *domain.Outcome {
	out := &domain.Outcome{
		Status: domain.ChannelStatus(msg.Status),
		Note:   msg.Note,
	}
	if out.Status == "" {
		out.Status = domain.ChannelErrored
		if out.Note == "" {
			out.Note = "worker returned no status"
		}
	}
	if out.Status == domain.ChannelBlocked && msg.Note != "" {
		out.BlockedReason = msg.Note
	}
	if out.Status.IsSuccess() {
		now := time.Now()
		out.SubmittedAt = &now
	}
	return out
}

// EmbeddedFallback wraps a local driver as the dispatcher's embedded
// fallback, used whenever no workers are connected.
func EmbeddedFallback(local driver.Driver, mode domain.Mode) EmbeddedDriverFunc {
	return func(msg *submitprotocol.SubmissionMessage) *submitprotocol.OutcomeMessage {
		timeout := time.Duration(msg.Timeout) * time.Second
		if timeout == 0 {
			timeout = defaultSubmitTimeout
		}
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()

		started := time.Now()
		out, err := local.Submit(ctx, payloadFromFields(msg), msg.FormURL)
		if err != nil {
			return &submitprotocol.OutcomeMessage{
				SubmissionID: msg.SubmissionID,
				Status:       string(domain.ChannelErrored),
				Note:         "embedded driver error: " + err.Error(),
				DurationMs:   time.Since(started).Milliseconds(),
			}
		}
		return &submitprotocol.OutcomeMessage{
			SubmissionID: msg.SubmissionID,
			Status:       string(out.Status),
			Note:         out.Note,
			DurationMs:   time.Since(started).Milliseconds(),
		}
	}
}

func payloadFromFields(msg *submitprotocol.SubmissionMessage) domain.Payload {
	return domain.Payload{
		ContactName:  msg.Fields["name"],
		ContactEmail: msg.Fields["email"],
		CompanyName:  msg.Fields["company"],
		Website:      msg.Fields["website"],
		RaiseAmount:  msg.Fields["raise"],
		PitchSummary: msg.Message,
		OpeningLine:  msg.Fields["opening_line"],
	}
}
