package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/raisekit/outreach-orchestrator/internal/domain"
	"github.com/raisekit/outreach-orchestrator/internal/store"
)

// RunResponse is the API response for a run
type RunResponse struct {
	ID          string  `json:"id"`
	WorkspaceID string  `json:"workspace_id"`
	Initiator   string  `json:"initiator,omitempty"`
	Mode        string  `json:"mode"`
	Status      string  `json:"status"`
	Total       int     `json:"total"`
	Processed   int     `json:"processed"`
	Success     int     `json:"success"`
	Failed      int     `json:"failed"`
	StartedAt   string  `json:"started_at"`
	CompletedAt *string `json:"completed_at,omitempty"`
}

// RequestResponse is the API response for a submission request
type RequestResponse struct {
	ID                string  `json:"id"`
	WorkspaceID       string  `json:"workspace_id"`
	FirmID            string  `json:"firm_id"`
	RunID             string  `json:"run_id,omitempty"`
	Mode              string  `json:"mode"`
	FormURL           string  `json:"form_url,omitempty"`
	Status            string  `json:"status"`
	ExecutionAttempts int     `json:"execution_attempts"`
	MaxAttempts       int     `json:"max_attempts"`
	NextRetryAt       *string `json:"next_retry_at,omitempty"`
	ResultNote        string  `json:"result_note,omitempty"`
	ApprovedBy        string  `json:"approved_by,omitempty"`
	PreparedAt        string  `json:"prepared_at"`
}

// FirmResponse is the API response for a firm
type FirmResponse struct {
	ID           string `json:"id"`
	WorkspaceID  string `json:"workspace_id"`
	Name         string `json:"name"`
	Website      string `json:"website,omitempty"`
	Status       string `json:"status"`
	ReviewReason string `json:"review_reason,omitempty"`
}

// EventResponse is the API response for a channel event
type EventResponse struct {
	ID         string `json:"id"`
	FirmID     string `json:"firm_id"`
	RequestID  string `json:"request_id,omitempty"`
	Status     string `json:"status"`
	Attempt    int    `json:"attempt,omitempty"`
	Budget     int    `json:"budget,omitempty"`
	Note       string `json:"note,omitempty"`
	OccurredAt string `json:"occurred_at"`
}

// StatusResponse is the API response for overall workspace status
type StatusResponse struct {
	Workspaces      int            `json:"workspaces"`
	Firms           int            `json:"firms"`
	Runs            int            `json:"runs"`
	RunsActive      int            `json:"runs_active"`
	RequestsByState map[string]int `json:"requests_by_state"`
}

// BulkActionRequest is the body for bulk approve/reject
type BulkActionRequest struct {
	IDs    []string `json:"ids"`
	Actor  string   `json:"actor"`
	Reason string   `json:"reason,omitempty"`
}

// BulkActionResult reports the outcome per request ID
type BulkActionResult struct {
	ID    string `json:"id"`
	OK    bool   `json:"ok"`
	Error string `json:"error,omitempty"`
}

func runToResponse(r *domain.Run) RunResponse {
	resp := RunResponse{
		ID:          r.ID,
		WorkspaceID: r.WorkspaceID,
		Initiator:   r.Initiator,
		Mode:        string(r.Mode),
		Status:      string(r.Status),
		Total:       r.Total,
		Processed:   r.Processed,
		Success:     r.Success,
		Failed:      r.Failed,
		StartedAt:   r.StartedAt.Format(time.RFC3339),
	}
	if r.CompletedAt != nil {
		t := r.CompletedAt.Format(time.RFC3339)
		resp.CompletedAt = &t
	}
	return resp
}

func requestToResponse(r *domain.SubmissionRequest) RequestResponse {
	resp := RequestResponse{
		ID:                r.ID,
		WorkspaceID:       r.WorkspaceID,
		FirmID:            r.FirmID,
		RunID:             r.RunID,
		Mode:              string(r.Mode),
		FormURL:           r.FormURL,
		Status:            string(r.Status),
		ExecutionAttempts: r.ExecutionAttempts,
		MaxAttempts:       r.MaxAttempts,
		ResultNote:        r.ResultNote,
		ApprovedBy:        r.ApprovedBy,
		PreparedAt:        r.PreparedAt.Format(time.RFC3339),
	}
	if r.NextRetryAt != nil {
		t := r.NextRetryAt.Format(time.RFC3339)
		resp.NextRetryAt = &t
	}
	return resp
}

func firmToResponse(f *domain.Firm) FirmResponse {
	return FirmResponse{
		ID:           f.ID,
		WorkspaceID:  f.WorkspaceID,
		Name:         f.Name,
		Website:      f.Website,
		Status:       string(f.Status),
		ReviewReason: f.ReviewReason,
	}
}

func eventToResponse(e *domain.Event) EventResponse {
	return EventResponse{
		ID:         e.ID,
		FirmID:     e.FirmID,
		RequestID:  e.RequestID,
		Status:     string(e.Status),
		Attempt:    e.Attempt,
		Budget:     e.Budget,
		Note:       e.Note,
		OccurredAt: e.OccurredAt.Format(time.RFC3339),
	}
}

func (s *Server) statusHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			writeError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}

		workspaces, err := s.store.ListWorkspaces()
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}

		status := StatusResponse{
			Workspaces:      len(workspaces),
			RequestsByState: make(map[string]int),
		}

		for _, ws := range workspaces {
			firms, err := s.store.ListFirms(ws.ID)
			if err != nil {
				writeError(w, http.StatusInternalServerError, err.Error())
				return
			}
			status.Firms += len(firms)

			runs, err := s.store.ListRuns(ws.ID)
			if err != nil {
				writeError(w, http.StatusInternalServerError, err.Error())
				return
			}
			status.Runs += len(runs)
			for _, run := range runs {
				if run.Status == domain.RunRunning {
					status.RunsActive++
				}
			}

			requests, err := s.store.ListRequests(store.RequestListOptions{WorkspaceID: ws.ID})
			if err != nil {
				writeError(w, http.StatusInternalServerError, err.Error())
				return
			}
			for _, req := range requests {
				status.RequestsByState[string(req.Status)]++
			}
		}

		writeJSON(w, status)
	}
}

func (s *Server) listWorkspacesHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			writeError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}

		workspaces, err := s.store.ListWorkspaces()
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		writeJSON(w, workspaces)
	}
}

func (s *Server) listFirmsHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			writeError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}

		workspaceID := r.URL.Query().Get("workspace")
		if workspaceID == "" {
			writeError(w, http.StatusBadRequest, "workspace query parameter required")
			return
		}

		firms, err := s.store.ListFirms(workspaceID)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}

		responses := make([]FirmResponse, len(firms))
		for i, f := range firms {
			responses[i] = firmToResponse(f)
		}
		writeJSON(w, responses)
	}
}

func (s *Server) listRunsHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			writeError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}

		workspaceID := r.URL.Query().Get("workspace")
		if workspaceID == "" {
			writeError(w, http.StatusBadRequest, "workspace query parameter required")
			return
		}

		runs, err := s.store.ListRuns(workspaceID)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}

		responses := make([]RunResponse, len(runs))
		for i, run := range runs {
			responses[i] = runToResponse(run)
		}
		writeJSON(w, responses)
	}
}

func (s *Server) getRunHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			writeError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}

		id := strings.TrimPrefix(r.URL.Path, "/api/runs/")
		if id == "" {
			writeError(w, http.StatusBadRequest, "run ID required")
			return
		}

		run, err := s.store.GetRun(id)
		if err != nil {
			if errors.Is(err, domain.ErrNotFound) {
				writeError(w, http.StatusNotFound, "run not found")
				return
			}
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}

		writeJSON(w, runToResponse(run))
	}
}

func (s *Server) listRequestsHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			writeError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}

		opts := store.RequestListOptions{
			WorkspaceID: r.URL.Query().Get("workspace"),
			Status:      domain.RequestStatus(r.URL.Query().Get("status")),
		}
		if opts.WorkspaceID == "" {
			writeError(w, http.StatusBadRequest, "workspace query parameter required")
			return
		}

		requests, err := s.store.ListRequests(opts)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}

		responses := make([]RequestResponse, len(requests))
		for i, req := range requests {
			responses[i] = requestToResponse(req)
		}
		writeJSON(w, responses)
	}
}

// requestHandler routes /api/requests/{id} and /api/requests/{id}/{action}
func (s *Server) requestHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		path := strings.TrimPrefix(r.URL.Path, "/api/requests/")
		if path == "" {
			writeError(w, http.StatusBadRequest, "request ID required")
			return
		}

		id := path
		action := ""
		if idx := strings.LastIndex(path, "/"); idx > 0 {
			id, action = path[:idx], path[idx+1:]
		}

		switch action {
		case "":
			s.getRequest(w, r, id)
		case "approve":
			s.approveRequest(w, r, id)
		case "reject":
			s.rejectRequest(w, r, id)
		default:
			writeError(w, http.StatusNotFound, "unknown action")
		}
	}
}

func (s *Server) getRequest(w http.ResponseWriter, r *http.Request, id string) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	req, err := s.store.GetRequest(id)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			writeError(w, http.StatusNotFound, "request not found")
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, requestToResponse(req))
}

type actionBody struct {
	Actor  string `json:"actor"`
	Reason string `json:"reason,omitempty"`
}

func (s *Server) approveRequest(w http.ResponseWriter, r *http.Request, id string) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	var body actionBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if body.Actor == "" {
		writeError(w, http.StatusBadRequest, "actor is required")
		return
	}

	req, err := s.approveAndExecute(id, body.Actor)
	if err != nil {
		writeApprovalError(w, err)
		return
	}

	s.Broadcast(SSEEvent{Type: "request_update", Data: requestToResponse(req)})
	writeJSON(w, requestToResponse(req))
}

// approveAndExecute approves a request and kicks off execution in the
// background. The HTTP response returns the approved state, not the
// execution result.
func (s *Server) approveAndExecute(id, actor string) (*domain.SubmissionRequest, error) {
	now := time.Now()
	req, err := s.store.UpdateRequest(id, func(r *domain.SubmissionRequest) error {
		return r.Approve(actor, now)
	})
	if err != nil {
		return nil, err
	}

	go func() {
		updated, _, execErr := s.engine.Execute(context.Background(), req.WorkspaceID, req.ID)
		if execErr != nil {
			if errors.Is(execErr, domain.ErrAlreadyExecuting) {
				return
			}
			s.Broadcast(SSEEvent{Type: "request_error", Data: map[string]string{
				"id":    req.ID,
				"error": execErr.Error(),
			}})
			return
		}
		s.Broadcast(SSEEvent{Type: "request_update", Data: requestToResponse(updated)})
	}()

	return req, nil
}

func (s *Server) rejectRequest(w http.ResponseWriter, r *http.Request, id string) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	var body actionBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if body.Actor == "" {
		writeError(w, http.StatusBadRequest, "actor is required")
		return
	}

	now := time.Now()
	req, err := s.store.UpdateRequest(id, func(r *domain.SubmissionRequest) error {
		return r.Reject(body.Actor, body.Reason, now)
	})
	if err != nil {
		writeApprovalError(w, err)
		return
	}

	s.Broadcast(SSEEvent{Type: "request_update", Data: requestToResponse(req)})
	writeJSON(w, requestToResponse(req))
}

func (s *Server) bulkApproveHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			writeError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}

		var body BulkActionRequest
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
			return
		}
		if body.Actor == "" {
			writeError(w, http.StatusBadRequest, "actor is required")
			return
		}
		if len(body.IDs) == 0 {
			writeError(w, http.StatusBadRequest, "ids is required")
			return
		}

		results := make([]BulkActionResult, 0, len(body.IDs))
		for _, id := range body.IDs {
			res := BulkActionResult{ID: id, OK: true}
			if _, err := s.approveAndExecute(id, body.Actor); err != nil {
				res.OK = false
				res.Error = err.Error()
			}
			results = append(results, res)
		}
		writeJSON(w, results)
	}
}

func (s *Server) bulkRejectHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			writeError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}

		var body BulkActionRequest
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
			return
		}
		if body.Actor == "" {
			writeError(w, http.StatusBadRequest, "actor is required")
			return
		}

		now := time.Now()
		results := make([]BulkActionResult, 0, len(body.IDs))
		for _, id := range body.IDs {
			res := BulkActionResult{ID: id, OK: true}
			_, err := s.store.UpdateRequest(id, func(r *domain.SubmissionRequest) error {
				return r.Reject(body.Actor, body.Reason, now)
			})
			if err != nil {
				res.OK = false
				res.Error = err.Error()
			}
			results = append(results, res)
		}
		writeJSON(w, results)
	}
}

func (s *Server) listEventsHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			writeError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}

		opts := store.EventListOptions{
			FirmID:    r.URL.Query().Get("firm"),
			RequestID: r.URL.Query().Get("request"),
		}
		if opts.FirmID == "" && opts.RequestID == "" {
			writeError(w, http.StatusBadRequest, "firm or request query parameter required")
			return
		}

		events, err := s.store.ListEvents(opts)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}

		responses := make([]EventResponse, len(events))
		for i, e := range events {
			responses[i] = eventToResponse(e)
		}
		writeJSON(w, responses)
	}
}

func writeApprovalError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, domain.ErrNotFound):
		writeError(w, http.StatusNotFound, "request not found")
	case errors.Is(err, domain.ErrInvalidTransition):
		writeError(w, http.StatusConflict, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}
