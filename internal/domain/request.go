package domain

import "time"

// Payload is the prepared contact/company/raise content submitted to a form
type Payload struct {
	ContactName  string `json:"contact_name"`
	ContactEmail string `json:"contact_email"`
	CompanyName  string `json:"company_name"`
	Website      string `json:"website"`
	RaiseAmount  string `json:"raise_amount"`
	PitchSummary string `json:"pitch_summary"`
	OpeningLine  string `json:"opening_line,omitempty"`
}

// SubmissionRequest is one prepared outreach submission moving through
// approval, execution, retry, and a terminal outcome. Mutate only through
// the transition methods in transitions.go.
type SubmissionRequest struct {
	ID          string
	WorkspaceID string
	FirmID      string
	RunID       string
	Mode        Mode
	Payload     Payload
	FormURL     string

	Status              RequestStatus
	ExecutionAttempts   int
	MaxAttempts         int
	LastExecutionStart  *time.Time
	LastExecutionEnd    *time.Time
	LastExecutionStatus ChannelStatus
	NextRetryAt         *time.Time
	ResultNote          string
	ApprovedBy          string
	ApprovedAt          *time.Time
	ExecutedAt          *time.Time
	PreparedAt          time.Time
}

// Outcome is the result of one execution attempt against the submission
// driver. It is folded into an Event and the request, never stored alone.
type Outcome struct {
	Status        ChannelStatus `json:"status"`
	FilledAt      *time.Time    `json:"filled_at,omitempty"`
	SubmittedAt   *time.Time    `json:"submitted_at,omitempty"`
	BlockedReason string        `json:"blocked_reason,omitempty"`
	Note          string        `json:"note,omitempty"`
}

// IsTerminal reports whether no further transitions are allowed.
// A failed request may still be re-approved by an operator, so it is
// terminal only in the sense that the engine will not touch it again.
func (r *SubmissionRequest) IsTerminal() bool {
	return r.Status == RequestCompleted || r.Status == RequestRejected || r.Status == RequestFailed
}
