package domain

// Mode selects whether a run submits against real forms or a simulator
type Mode string

const (
	ModeSimulation Mode = "simulation"
	ModeLive       Mode = "live"
)

// RunStatus represents the lifecycle state of a campaign run
type RunStatus string

const (
	RunRunning   RunStatus = "running"
	RunCompleted RunStatus = "completed"
	RunFailed    RunStatus = "failed"
)

// FirmStatus represents where a target firm sits in the outreach funnel
type FirmStatus string

const (
	FirmPending   FirmStatus = "pending"
	FirmReview    FirmStatus = "review"
	FirmPrepared  FirmStatus = "prepared"
	FirmContacted FirmStatus = "contacted"
)

// RequestStatus represents the lifecycle state of a submission request
type RequestStatus string

const (
	RequestPendingApproval RequestStatus = "pending_approval"
	RequestApproved        RequestStatus = "approved"
	RequestExecuting       RequestStatus = "executing"
	RequestCompleted       RequestStatus = "completed"
	RequestPendingRetry    RequestStatus = "pending_retry"
	RequestFailed          RequestStatus = "failed"
	RequestRejected        RequestStatus = "rejected"
)

// TaskStatus represents the recorded result of one stage invocation
type TaskStatus string

const (
	TaskCompleted TaskStatus = "completed"
	TaskFailed    TaskStatus = "failed"
)

// ChannelStatus classifies one outreach-channel milestone or attempt outcome
type ChannelStatus string

const (
	ChannelDiscovered  ChannelStatus = "discovered"
	ChannelFormFilled  ChannelStatus = "form_filled"
	ChannelSubmitted   ChannelStatus = "submitted"
	ChannelNoFormFound ChannelStatus = "no_form_found"
	ChannelBlocked     ChannelStatus = "blocked"
	ChannelNeedsReview ChannelStatus = "needs_review"
	ChannelErrored     ChannelStatus = "errored"
)

// IsSuccess reports whether the status counts as a successful submission
func (s ChannelStatus) IsSuccess() bool {
	return s == ChannelSubmitted || s == ChannelFormFilled
}

// IsRetriable reports whether the status is a transient failure worth
// another attempt. Domain-level negatives (no form, blocked, needs review)
// are final answers, not infrastructure hiccups.
func (s ChannelStatus) IsRetriable() bool {
	return s == ChannelErrored
}
