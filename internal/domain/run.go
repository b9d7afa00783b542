package domain

import "time"

// Workspace groups the firms, runs, and requests of one fundraising team
type Workspace struct {
	ID        string
	Name      string
	CreatedAt time.Time
}

// Firm is one target investment firm in a workspace
type Firm struct {
	ID           string
	WorkspaceID  string
	Name         string
	Website      string
	ContactName  string
	ContactEmail string
	Status       FirmStatus
	ReviewReason string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Run is one orchestration pass over a set of firms within a workspace
type Run struct {
	ID          string
	WorkspaceID string
	Initiator   string
	Mode        Mode
	Status      RunStatus
	Total       int
	Processed   int
	Success     int
	Failed      int
	TaskIDs     []string
	LogIDs      []int64
	StartedAt   time.Time
	CompletedAt *time.Time
}

// StageTask records one stage invocation for one firm within a run.
// Immutable once written.
type StageTask struct {
	ID         string
	RunID      string
	FirmID     string
	Stage      string
	Status     TaskStatus
	Confidence float64
	Summary    string
	Output     map[string]any
	StartedAt  time.Time
	EndedAt    time.Time
}

// LogEntry is one log line attached to a run
type LogEntry struct {
	ID        int64
	RunID     string
	Timestamp time.Time
	Level     string
	Message   string
}

// Event is an append-only record of outreach-channel progress for a firm.
// The most recent event for a firm is its de-facto channel status.
type Event struct {
	ID          string
	WorkspaceID string
	FirmID      string
	RequestID   string
	Status      ChannelStatus
	Attempt     int
	Budget      int
	Note        string
	OccurredAt  time.Time
}
