// Package orchestrator drives one campaign run: it resolves the target
// firms, walks each one through the fixed stage sequence, applies the
// qualification and validation gates, and emits a submission request plus
// tracking event for every firm that survives both gates.
package orchestrator

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/raisekit/outreach-orchestrator/internal/domain"
	"github.com/raisekit/outreach-orchestrator/internal/pipeline"
	"github.com/raisekit/outreach-orchestrator/internal/store"
)

// EventSink receives every event the orchestrator appends, e.g. for SSE
type EventSink func(*domain.Event)

// Orchestrator creates and drives campaign runs
type Orchestrator struct {
	store       *store.Store
	stages      []pipeline.Stage
	sender      pipeline.Sender
	maxAttempts int
	sink        EventSink
}

// New creates an Orchestrator. stages must be in execution order;
// maxAttempts is the retry budget stamped on new submission requests.
func New(st *store.Store, stages []pipeline.Stage, sender pipeline.Sender, maxAttempts int) *Orchestrator {
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	return &Orchestrator{store: st, stages: stages, sender: sender, maxAttempts: maxAttempts}
}

// SetEventSink registers a callback invoked for every appended event
func (o *Orchestrator) SetEventSink(sink EventSink) {
	o.sink = sink
}

// CreateRun resolves the target set and processes every firm sequentially.
// The run record is persisted as running before any firm is touched, so a
// crash mid-run leaves an inspectable run. Stage failures isolate to the
// current firm; store failures abort the run.
func (o *Orchestrator) CreateRun(ctx context.Context, initiator, workspaceID string, mode domain.Mode, firmIDs []string) (*domain.Run, error) {
	if _, err := o.store.GetWorkspace(workspaceID); err != nil {
		return nil, err
	}

	firms, err := o.resolveFirms(workspaceID, firmIDs)
	if err != nil {
		return nil, err
	}

	run := &domain.Run{
		ID:          uuid.NewString(),
		WorkspaceID: workspaceID,
		Initiator:   initiator,
		Mode:        mode,
		Status:      domain.RunRunning,
		Total:       len(firms),
		StartedAt:   time.Now(),
	}
	if err := o.store.PutRun(run); err != nil {
		return nil, fmt.Errorf("persisting run: %w", err)
	}

	for _, firm := range firms {
		if err := o.processFirm(ctx, run, firm); err != nil {
			return run, fmt.Errorf("firm %s: %w", firm.ID, err)
		}
	}

	now := time.Now()
	run.Status = domain.RunCompleted
	run.CompletedAt = &now
	if err := o.store.PutRun(run); err != nil {
		return run, fmt.Errorf("closing run: %w", err)
	}
	return run, nil
}

// resolveFirms returns the explicit subset, or every firm in the workspace
// when no subset is given. Order follows the target list and is never
// re-sorted.
func (o *Orchestrator) resolveFirms(workspaceID string, firmIDs []string) ([]*domain.Firm, error) {
	if len(firmIDs) == 0 {
		return o.store.ListFirms(workspaceID)
	}
	firms := make([]*domain.Firm, 0, len(firmIDs))
	for _, id := range firmIDs {
		f, err := o.store.GetFirm(id)
		if err != nil {
			return nil, err
		}
		if f.WorkspaceID != workspaceID {
			return nil, fmt.Errorf("firm %s not in workspace %s: %w", id, workspaceID, domain.ErrNotFound)
		}
		firms = append(firms, f)
	}
	return firms, nil
}

// processFirm runs the stage sequence for one firm. Returned errors are
// store failures only; gate rejections and stage errors are folded into
// the firm's state and the run counters.
func (o *Orchestrator) processFirm(ctx context.Context, run *domain.Run, firm *domain.Firm) error {
	in := &pipeline.Input{
		RunID:        run.ID,
		WorkspaceID:  run.WorkspaceID,
		FirmID:       firm.ID,
		FirmName:     firm.Name,
		FirmWebsite:  firm.Website,
		ContactName:  firm.ContactName,
		ContactEmail: firm.ContactEmail,
		Sender:       o.sender,
		Prior:        make(map[string]map[string]any),
	}

	for _, stage := range o.stages {
		res, stageErr, err := o.runStage(ctx, run, firm, stage, in)
		if err != nil {
			return err
		}
		if stageErr != nil {
			// Entity-level isolation: a stage failure parks this firm and
			// the run moves on to the next one
			return o.divertToReview(run, firm, fmt.Sprintf("%s failed: %v", stage.Name(), stageErr))
		}

		switch stage.Name() {
		case pipeline.StageQualification:
			if recommended, _ := res.Output["recommended"].(bool); !recommended {
				reason, _ := res.Output["reason"].(string)
				if reason == "" {
					reason = res.Summary
				}
				return o.divertToReview(run, firm, "not recommended: "+reason)
			}
		case pipeline.StageValidation:
			if canProceed, _ := res.Output["can_proceed"].(bool); !canProceed {
				return o.divertToReview(run, firm, "QA blocked: "+res.Summary)
			}
		}
	}

	return o.prepareSubmission(run, firm, in)
}

// runStage invokes one stage and records a task plus a log line regardless
// of the outcome. The second return value is the stage's own failure; the
// third is a store failure, which is fatal to the run.
func (o *Orchestrator) runStage(ctx context.Context, run *domain.Run, firm *domain.Firm, stage pipeline.Stage, in *pipeline.Input) (*pipeline.Result, error, error) {
	started := time.Now()
	res, stageErr := stage.Execute(ctx, in)

	task := &domain.StageTask{
		ID:        uuid.NewString(),
		RunID:     run.ID,
		FirmID:    firm.ID,
		Stage:     stage.Name(),
		Status:    domain.TaskCompleted,
		StartedAt: started,
		EndedAt:   time.Now(),
	}
	level, message := "info", ""
	if stageErr != nil {
		task.Status = domain.TaskFailed
		task.Summary = stageErr.Error()
		level = "error"
		message = fmt.Sprintf("%s failed for %s: %v", stage.Name(), firm.Name, stageErr)
		res = &pipeline.Result{Summary: stageErr.Error(), Output: map[string]any{}}
	} else {
		task.Confidence = res.Confidence
		task.Summary = res.Summary
		task.Output = res.Output
		message = fmt.Sprintf("%s for %s: %s", stage.Name(), firm.Name, res.Summary)
	}

	if err := o.store.AppendTask(task); err != nil {
		return nil, nil, fmt.Errorf("recording task: %w", err)
	}
	logID, err := o.store.AppendLog(run.ID, level, message)
	if err != nil {
		return nil, nil, fmt.Errorf("recording log: %w", err)
	}
	run.TaskIDs = append(run.TaskIDs, task.ID)
	run.LogIDs = append(run.LogIDs, logID)

	in.Prior[stage.Name()] = res.Output
	return res, stageErr, nil
}

// divertToReview parks the firm for human review and counts the firm as
// failed for this run
func (o *Orchestrator) divertToReview(run *domain.Run, firm *domain.Firm, reason string) error {
	if err := o.store.UpdateFirmStatus(firm.ID, domain.FirmReview, reason); err != nil {
		return err
	}
	run.Processed++
	run.Failed++
	return o.store.PutRun(run)
}

// prepareSubmission writes the pending-approval request, appends the
// discovery event, and marks the firm prepared
func (o *Orchestrator) prepareSubmission(run *domain.Run, firm *domain.Firm, in *pipeline.Input) error {
	formURL, _ := in.Prior[pipeline.StageDiscovery]["form_url"].(string)
	openingLine, _ := in.Prior[pipeline.StagePersonalization]["opening_line"].(string)

	req := &domain.SubmissionRequest{
		ID:          uuid.NewString(),
		WorkspaceID: run.WorkspaceID,
		FirmID:      firm.ID,
		RunID:       run.ID,
		Mode:        run.Mode,
		Payload: domain.Payload{
			ContactName:  o.sender.ContactName,
			ContactEmail: o.sender.ContactEmail,
			CompanyName:  o.sender.CompanyName,
			Website:      o.sender.Website,
			RaiseAmount:  o.sender.RaiseAmount,
			PitchSummary: o.sender.PitchSummary,
			OpeningLine:  openingLine,
		},
		FormURL:     formURL,
		Status:      domain.RequestPendingApproval,
		MaxAttempts: o.maxAttempts,
		PreparedAt:  time.Now(),
	}
	if err := o.store.CreateRequest(req); err != nil {
		return fmt.Errorf("creating request: %w", err)
	}

	event := &domain.Event{
		ID:          uuid.NewString(),
		WorkspaceID: run.WorkspaceID,
		FirmID:      firm.ID,
		RequestID:   req.ID,
		Status:      domain.ChannelDiscovered,
		Note:        fmt.Sprintf("submission prepared, awaiting approval (form: %s)", formURL),
		OccurredAt:  time.Now(),
	}
	if err := o.store.AppendEvent(event); err != nil {
		return fmt.Errorf("appending event: %w", err)
	}
	if o.sink != nil {
		o.sink(event)
	}

	if err := o.store.UpdateFirmStatus(firm.ID, domain.FirmPrepared, ""); err != nil {
		return err
	}

	run.Processed++
	run.Success++
	if err := o.store.PutRun(run); err != nil {
		return err
	}
	log.Printf("prepared submission %s for %s (run %s)", req.ID, firm.Name, run.ID)
	return nil
}
