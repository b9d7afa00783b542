package store

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/raisekit/outreach-orchestrator/internal/domain"
	_ "modernc.org/sqlite"
)

// Store provides SQLite-backed persistence for workspaces, firms, runs,
// stage tasks, logs, events, and submission requests.
type Store struct {
	db *sql.DB

	// Serializes request mutators. The in-flight guard already excludes
	// concurrent execution of one request; this keeps every other
	// read-modify-write on requests single-writer as well.
	reqMu sync.Mutex
}

// New creates a new Store with the given database path
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, err
	}

	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		return nil, err
	}

	if _, err := db.Exec(schema); err != nil {
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return &Store{db: db}, nil
}

// Close closes the database connection
func (s *Store) Close() error {
	return s.db.Close()
}

// --- workspaces ---

// CreateWorkspace inserts a workspace
func (s *Store) CreateWorkspace(ws *domain.Workspace) error {
	_, err := s.db.Exec(`INSERT INTO workspaces (id, name, created_at) VALUES (?, ?, ?)`,
		ws.ID, ws.Name, ws.CreatedAt)
	return err
}

// GetWorkspace retrieves a workspace by ID, or ErrNotFound
func (s *Store) GetWorkspace(id string) (*domain.Workspace, error) {
	var ws domain.Workspace
	err := s.db.QueryRow(`SELECT id, name, created_at FROM workspaces WHERE id = ?`, id).
		Scan(&ws.ID, &ws.Name, &ws.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("workspace %s: %w", id, domain.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &ws, nil
}

// ListWorkspaces returns all workspaces in creation order
func (s *Store) ListWorkspaces() ([]*domain.Workspace, error) {
	rows, err := s.db.Query(`SELECT id, name, created_at FROM workspaces ORDER BY created_at, id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*domain.Workspace
	for rows.Next() {
		var ws domain.Workspace
		if err := rows.Scan(&ws.ID, &ws.Name, &ws.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, &ws)
	}
	return out, rows.Err()
}

// --- firms ---

// UpsertFirm inserts or updates a firm
func (s *Store) UpsertFirm(f *domain.Firm) error {
	_, err := s.db.Exec(`
		INSERT INTO firms (id, workspace_id, name, website, contact_name, contact_email, status, review_reason, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			website = excluded.website,
			contact_name = excluded.contact_name,
			contact_email = excluded.contact_email,
			status = excluded.status,
			review_reason = excluded.review_reason,
			updated_at = excluded.updated_at
	`,
		f.ID, f.WorkspaceID, f.Name, f.Website, f.ContactName, f.ContactEmail,
		string(f.Status), f.ReviewReason, f.CreatedAt, f.UpdatedAt)
	return err
}

// GetFirm retrieves a firm by ID, or ErrNotFound
func (s *Store) GetFirm(id string) (*domain.Firm, error) {
	row := s.db.QueryRow(`
		SELECT id, workspace_id, name, website, contact_name, contact_email, status, review_reason, created_at, updated_at
		FROM firms WHERE id = ?`, id)
	f, err := scanFirm(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("firm %s: %w", id, domain.ErrNotFound)
	}
	return f, err
}

// ListFirms returns a workspace's firms in insertion order. This is the
// resolved target-list order: stable, never re-sorted.
func (s *Store) ListFirms(workspaceID string) ([]*domain.Firm, error) {
	rows, err := s.db.Query(`
		SELECT id, workspace_id, name, website, contact_name, contact_email, status, review_reason, created_at, updated_at
		FROM firms WHERE workspace_id = ? ORDER BY rowid`, workspaceID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var firms []*domain.Firm
	for rows.Next() {
		f, err := scanFirm(rows.Scan)
		if err != nil {
			return nil, err
		}
		firms = append(firms, f)
	}
	return firms, rows.Err()
}

// UpdateFirmStatus updates a firm's funnel status and review reason
func (s *Store) UpdateFirmStatus(id string, status domain.FirmStatus, reason string) error {
	res, err := s.db.Exec(`UPDATE firms SET status = ?, review_reason = ?, updated_at = ? WHERE id = ?`,
		string(status), reason, time.Now(), id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("firm %s: %w", id, domain.ErrNotFound)
	}
	return nil
}

func scanFirm(scan func(...any) error) (*domain.Firm, error) {
	var f domain.Firm
	var status string
	var website, contactName, contactEmail, reviewReason sql.NullString
	err := scan(&f.ID, &f.WorkspaceID, &f.Name, &website, &contactName, &contactEmail,
		&status, &reviewReason, &f.CreatedAt, &f.UpdatedAt)
	if err != nil {
		return nil, err
	}
	f.Status = domain.FirmStatus(status)
	f.Website = website.String
	f.ContactName = contactName.String
	f.ContactEmail = contactEmail.String
	f.ReviewReason = reviewReason.String
	return &f, nil
}

// --- runs ---

// PutRun inserts or updates a run
func (s *Store) PutRun(r *domain.Run) error {
	taskIDs, err := json.Marshal(r.TaskIDs)
	if err != nil {
		return err
	}
	logIDs, err := json.Marshal(r.LogIDs)
	if err != nil {
		return err
	}

	_, err = s.db.Exec(`
		INSERT INTO runs (id, workspace_id, initiator, mode, status, total, processed, success, failed, task_ids, log_ids, started_at, completed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			status = excluded.status,
			total = excluded.total,
			processed = excluded.processed,
			success = excluded.success,
			failed = excluded.failed,
			task_ids = excluded.task_ids,
			log_ids = excluded.log_ids,
			completed_at = excluded.completed_at
	`,
		r.ID, r.WorkspaceID, r.Initiator, string(r.Mode), string(r.Status),
		r.Total, r.Processed, r.Success, r.Failed,
		string(taskIDs), string(logIDs), r.StartedAt, nullTime(r.CompletedAt))
	return err
}

// GetRun retrieves a run by ID, or ErrNotFound
func (s *Store) GetRun(id string) (*domain.Run, error) {
	row := s.db.QueryRow(`
		SELECT id, workspace_id, initiator, mode, status, total, processed, success, failed, task_ids, log_ids, started_at, completed_at
		FROM runs WHERE id = ?`, id)

	var r domain.Run
	var mode, status string
	var initiator, taskIDs, logIDs sql.NullString
	var completedAt sql.NullTime
	err := row.Scan(&r.ID, &r.WorkspaceID, &initiator, &mode, &status,
		&r.Total, &r.Processed, &r.Success, &r.Failed, &taskIDs, &logIDs,
		&r.StartedAt, &completedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("run %s: %w", id, domain.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}

	r.Initiator = initiator.String
	r.Mode = domain.Mode(mode)
	r.Status = domain.RunStatus(status)
	r.CompletedAt = timePtr(completedAt)
	if err := unmarshalList(taskIDs, &r.TaskIDs); err != nil {
		return nil, err
	}
	if err := unmarshalList(logIDs, &r.LogIDs); err != nil {
		return nil, err
	}
	return &r, nil
}

// ListRuns returns a workspace's runs, most recent first
func (s *Store) ListRuns(workspaceID string) ([]*domain.Run, error) {
	rows, err := s.db.Query(`SELECT id FROM runs WHERE workspace_id = ? ORDER BY started_at DESC, id`, workspaceID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	runs := make([]*domain.Run, 0, len(ids))
	for _, id := range ids {
		r, err := s.GetRun(id)
		if err != nil {
			return nil, err
		}
		runs = append(runs, r)
	}
	return runs, nil
}

// --- stage tasks ---

// AppendTask inserts a stage task record. Tasks are append-only.
func (s *Store) AppendTask(t *domain.StageTask) error {
	output, err := json.Marshal(t.Output)
	if err != nil {
		return err
	}
	_, err = s.db.Exec(`
		INSERT INTO tasks (id, run_id, firm_id, stage, status, confidence, summary, output, started_at, ended_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.ID, t.RunID, t.FirmID, t.Stage, string(t.Status), t.Confidence, t.Summary,
		string(output), t.StartedAt, t.EndedAt)
	return err
}

// ListTasks returns a run's stage tasks in insertion order
func (s *Store) ListTasks(runID string) ([]*domain.StageTask, error) {
	rows, err := s.db.Query(`
		SELECT id, run_id, firm_id, stage, status, confidence, summary, output, started_at, ended_at
		FROM tasks WHERE run_id = ? ORDER BY rowid`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var tasks []*domain.StageTask
	for rows.Next() {
		var t domain.StageTask
		var status string
		var summary, output sql.NullString
		if err := rows.Scan(&t.ID, &t.RunID, &t.FirmID, &t.Stage, &status,
			&t.Confidence, &summary, &output, &t.StartedAt, &t.EndedAt); err != nil {
			return nil, err
		}
		t.Status = domain.TaskStatus(status)
		t.Summary = summary.String
		if output.Valid && output.String != "" && output.String != "null" {
			if err := json.Unmarshal([]byte(output.String), &t.Output); err != nil {
				return nil, err
			}
		}
		tasks = append(tasks, &t)
	}
	return tasks, rows.Err()
}

// --- logs ---

// AppendLog inserts a log line for a run and returns its ID
func (s *Store) AppendLog(runID, level, message string) (int64, error) {
	res, err := s.db.Exec(`INSERT INTO logs (run_id, timestamp, level, message) VALUES (?, ?, ?, ?)`,
		runID, time.Now(), level, message)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

// ListLogs returns a run's log lines in order
func (s *Store) ListLogs(runID string) ([]*domain.LogEntry, error) {
	rows, err := s.db.Query(`SELECT id, run_id, timestamp, level, message FROM logs WHERE run_id = ? ORDER BY id`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []*domain.LogEntry
	for rows.Next() {
		var e domain.LogEntry
		var level, message sql.NullString
		if err := rows.Scan(&e.ID, &e.RunID, &e.Timestamp, &level, &message); err != nil {
			return nil, err
		}
		e.Level = level.String
		e.Message = message.String
		entries = append(entries, &e)
	}
	return entries, rows.Err()
}

// --- events ---

// AppendEvent inserts an outreach event. Events are append-only and never
// mutated.
func (s *Store) AppendEvent(e *domain.Event) error {
	_, err := s.db.Exec(`
		INSERT INTO events (id, workspace_id, firm_id, request_id, status, attempt, budget, note, occurred_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.WorkspaceID, e.FirmID, e.RequestID, string(e.Status), e.Attempt, e.Budget, e.Note, e.OccurredAt)
	return err
}

// EventListOptions filters event listings
type EventListOptions struct {
	FirmID    string
	RequestID string
}

// ListEvents returns matching events in insertion order
func (s *Store) ListEvents(opts EventListOptions) ([]*domain.Event, error) {
	query := `SELECT id, workspace_id, firm_id, request_id, status, attempt, budget, note, occurred_at FROM events WHERE 1=1`
	var args []any

	if opts.FirmID != "" {
		query += " AND firm_id = ?"
		args = append(args, opts.FirmID)
	}
	if opts.RequestID != "" {
		query += " AND request_id = ?"
		args = append(args, opts.RequestID)
	}
	query += " ORDER BY rowid"

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []*domain.Event
	for rows.Next() {
		var e domain.Event
		var status string
		var requestID, note sql.NullString
		if err := rows.Scan(&e.ID, &e.WorkspaceID, &e.FirmID, &requestID, &status,
			&e.Attempt, &e.Budget, &note, &e.OccurredAt); err != nil {
			return nil, err
		}
		e.Status = domain.ChannelStatus(status)
		e.RequestID = requestID.String
		e.Note = note.String
		events = append(events, &e)
	}
	return events, rows.Err()
}

// --- submission requests ---

// CreateRequest inserts a submission request
func (s *Store) CreateRequest(r *domain.SubmissionRequest) error {
	payload, err := json.Marshal(r.Payload)
	if err != nil {
		return err
	}
	_, err = s.db.Exec(`
		INSERT INTO requests (id, workspace_id, firm_id, run_id, mode, payload, form_url, status,
			execution_attempts, max_attempts, last_execution_start, last_execution_end,
			last_execution_status, next_retry_at, result_note, approved_by, approved_at, executed_at, prepared_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.WorkspaceID, r.FirmID, r.RunID, string(r.Mode), string(payload), r.FormURL, string(r.Status),
		r.ExecutionAttempts, r.MaxAttempts, nullTime(r.LastExecutionStart), nullTime(r.LastExecutionEnd),
		string(r.LastExecutionStatus), nullTime(r.NextRetryAt), r.ResultNote, r.ApprovedBy,
		nullTime(r.ApprovedAt), nullTime(r.ExecutedAt), r.PreparedAt)
	return err
}

// GetRequest retrieves a request by ID, or ErrNotFound
func (s *Store) GetRequest(id string) (*domain.SubmissionRequest, error) {
	row := s.db.QueryRow(requestSelect+` WHERE id = ?`, id)
	r, err := scanRequest(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("request %s: %w", id, domain.ErrNotFound)
	}
	return r, err
}

// RequestListOptions filters request listings
type RequestListOptions struct {
	WorkspaceID string
	Status      domain.RequestStatus
}

// ListRequests returns matching requests in preparation order
func (s *Store) ListRequests(opts RequestListOptions) ([]*domain.SubmissionRequest, error) {
	query := requestSelect + ` WHERE 1=1`
	var args []any

	if opts.WorkspaceID != "" {
		query += " AND workspace_id = ?"
		args = append(args, opts.WorkspaceID)
	}
	if opts.Status != "" {
		query += " AND status = ?"
		args = append(args, string(opts.Status))
	}
	query += " ORDER BY prepared_at, id"

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var requests []*domain.SubmissionRequest
	for rows.Next() {
		r, err := scanRequest(rows.Scan)
		if err != nil {
			return nil, err
		}
		requests = append(requests, r)
	}
	return requests, rows.Err()
}

// UpdateRequest loads a request, applies the mutator, and writes the result
// back in one serialized section. Every lifecycle transition goes through
// here. A mutator error aborts the write and is returned unchanged.
func (s *Store) UpdateRequest(id string, mutate func(*domain.SubmissionRequest) error) (*domain.SubmissionRequest, error) {
	s.reqMu.Lock()
	defer s.reqMu.Unlock()

	r, err := s.GetRequest(id)
	if err != nil {
		return nil, err
	}
	if err := mutate(r); err != nil {
		return nil, err
	}

	payload, err := json.Marshal(r.Payload)
	if err != nil {
		return nil, err
	}
	_, err = s.db.Exec(`
		UPDATE requests SET
			status = ?, execution_attempts = ?, max_attempts = ?,
			last_execution_start = ?, last_execution_end = ?, last_execution_status = ?,
			next_retry_at = ?, result_note = ?, approved_by = ?, approved_at = ?, executed_at = ?,
			payload = ?, form_url = ?
		WHERE id = ?`,
		string(r.Status), r.ExecutionAttempts, r.MaxAttempts,
		nullTime(r.LastExecutionStart), nullTime(r.LastExecutionEnd), string(r.LastExecutionStatus),
		nullTime(r.NextRetryAt), r.ResultNote, r.ApprovedBy, nullTime(r.ApprovedAt), nullTime(r.ExecutedAt),
		string(payload), r.FormURL, r.ID)
	if err != nil {
		return nil, err
	}
	return r, nil
}

const requestSelect = `
	SELECT id, workspace_id, firm_id, run_id, mode, payload, form_url, status,
		execution_attempts, max_attempts, last_execution_start, last_execution_end,
		last_execution_status, next_retry_at, result_note, approved_by, approved_at, executed_at, prepared_at
	FROM requests`

func scanRequest(scan func(...any) error) (*domain.SubmissionRequest, error) {
	var r domain.SubmissionRequest
	var mode, status, payload string
	var runID, formURL, lastStatus, resultNote, approvedBy sql.NullString
	var lastStart, lastEnd, nextRetry, approvedAt, executedAt sql.NullTime

	err := scan(&r.ID, &r.WorkspaceID, &r.FirmID, &runID, &mode, &payload, &formURL, &status,
		&r.ExecutionAttempts, &r.MaxAttempts, &lastStart, &lastEnd,
		&lastStatus, &nextRetry, &resultNote, &approvedBy, &approvedAt, &executedAt, &r.PreparedAt)
	if err != nil {
		return nil, err
	}

	r.RunID = runID.String
	r.Mode = domain.Mode(mode)
	r.FormURL = formURL.String
	r.Status = domain.RequestStatus(status)
	r.LastExecutionStatus = domain.ChannelStatus(lastStatus.String)
	r.ResultNote = resultNote.String
	r.ApprovedBy = approvedBy.String
	r.LastExecutionStart = timePtr(lastStart)
	r.LastExecutionEnd = timePtr(lastEnd)
	r.NextRetryAt = timePtr(nextRetry)
	r.ApprovedAt = timePtr(approvedAt)
	r.ExecutedAt = timePtr(executedAt)
	if err := json.Unmarshal([]byte(payload), &r.Payload); err != nil {
		return nil, err
	}
	return &r, nil
}

func nullTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return *t
}

func timePtr(nt sql.NullTime) *time.Time {
	if !nt.Valid {
		return nil
	}
	t := nt.Time
	return &t
}

func unmarshalList[T any](s sql.NullString, dst *[]T) error {
	if !s.Valid || s.String == "" || s.String == "null" {
		return nil
	}
	return json.Unmarshal([]byte(s.String), dst)
}
