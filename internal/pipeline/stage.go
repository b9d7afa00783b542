// Package pipeline defines the per-firm stage contract consumed by the
// campaign orchestrator, plus lightweight built-in stages for simulation
// mode. Real scoring and templating live behind the same interface.
package pipeline

import "context"

// Stage names in their fixed execution order
const (
	StageDiscovery       = "discovery"
	StageQualification   = "qualification"
	StagePersonalization = "personalization"
	StageValidation      = "validation"
	StageOutreachPrep    = "outreach_preparation"
	StageFollowUp        = "follow_up_scheduling"
)

// Sender describes the fundraising company on whose behalf outreach runs
type Sender struct {
	ContactName  string
	ContactEmail string
	CompanyName  string
	Website      string
	RaiseAmount  string
	PitchSummary string
}

// Input is the fixed bundle handed to every stage
type Input struct {
	RunID        string
	WorkspaceID  string
	FirmID       string
	FirmName     string
	FirmWebsite  string
	ContactName  string
	ContactEmail string
	Sender       Sender

	// Prior holds each earlier stage's structured output, keyed by stage name
	Prior map[string]map[string]any
}

// Result is a stage's declared contract: a confidence score, a one-line
// summary, and an opaque structured output
type Result struct {
	Confidence float64
	Summary    string
	Output     map[string]any
}

// Stage is one named unit of work in the fixed six-step sequence
type Stage interface {
	Name() string
	Execute(ctx context.Context, in *Input) (*Result, error)
}
