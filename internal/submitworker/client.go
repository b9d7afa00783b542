// Package submitworker implements the worker side of the submission
// pool: a client that connects to the coordinator, claims form
// submissions, runs them through a local driver, and reports outcomes.
package submitworker

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/raisekit/outreach-orchestrator/internal/domain"
	"github.com/raisekit/outreach-orchestrator/internal/driver"
	"github.com/raisekit/outreach-orchestrator/internal/submitprotocol"
)

// Backoff constants for reconnection
const (
	initialBackoff = 1 * time.Second
	maxBackoff     = 60 * time.Second
	backoffFactor  = 2
)

// calculateBackoff returns the delay for a given attempt number using exponential backoff
func calculateBackoff(attempt int) time.Duration {
	delay := initialBackoff
	for i := 0; i < attempt; i++ {
		delay *= backoffFactor
		if delay > maxBackoff {
			return maxBackoff
		}
	}
	return delay
}

// WorkerConfig configures the worker client
type WorkerConfig struct {
	ServerURL string
	WorkerID  string
	MaxSlots  int
	AuthToken string
}

// Validate checks the config is valid
func (c *WorkerConfig) Validate() error {
	if c.ServerURL == "" {
		return fmt.Errorf("server_url is required")
	}
	if c.MaxSlots <= 0 {
		return fmt.Errorf("max_slots must be positive")
	}
	return nil
}

// Worker is a submission agent that connects to a coordinator
type Worker struct {
	config WorkerConfig
	pool   *Pool
	driver driver.Driver
	conn   *websocket.Conn
	mu     sync.Mutex

	// For graceful shutdown
	ctx    context.Context
	cancel context.CancelFunc

	// Submission tracking for cancellation
	subsMu sync.Mutex
	subs   map[string]context.CancelFunc
}

// NewWorker creates a new worker client running submissions through drv
func NewWorker(config WorkerConfig, drv driver.Driver) (*Worker, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Worker{
		config: config,
		pool:   NewPool(config.MaxSlots),
		driver: drv,
		ctx:    ctx,
		cancel: cancel,
		subs:   make(map[string]context.CancelFunc),
	}, nil
}

// pingWait is how long we wait for a ping from the coordinator before timing out
const pingWait = 90 * time.Second

// writeWait is time allowed to write a control message
const writeWait = 10 * time.Second

// Connect establishes connection to the coordinator
func (w *Worker) Connect() error {
	var header http.Header
	if w.config.AuthToken != "" {
		header = http.Header{"Authorization": {"Bearer " + w.config.AuthToken}}
	}

	conn, _, err := websocket.DefaultDialer.Dial(w.config.ServerURL, header)
	if err != nil {
		return fmt.Errorf("dial failed: %w", err)
	}

	// WebSocket-level ping handler extends the read deadline when the
	// coordinator pings us
	conn.SetReadDeadline(time.Now().Add(pingWait))
	conn.SetPingHandler(func(appData string) error {
		conn.SetReadDeadline(time.Now().Add(pingWait))
		// Send pong response (must do this since we override the default handler)
		deadline := time.Now().Add(writeWait)
		err := conn.WriteControl(websocket.PongMessage, []byte(appData), deadline)
		if err != nil {
			log.Printf("failed to send pong: %v", err)
		}
		return err
	})

	w.mu.Lock()
	w.conn = conn
	w.mu.Unlock()

	return w.send(submitprotocol.TypeRegister, submitprotocol.RegisterMessage{
		WorkerID: w.config.WorkerID,
		MaxSlots: w.config.MaxSlots,
	})
}

// Run starts the worker loop
func (w *Worker) Run() error {
	// Send initial ready message
	if err := w.sendReady(); err != nil {
		return err
	}

	for {
		select {
		case <-w.ctx.Done():
			return nil
		default:
		}

		_, message, err := w.conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("read failed: %w", err)
		}

		// Extend read deadline on any message received
		w.conn.SetReadDeadline(time.Now().Add(pingWait))

		var env submitprotocol.EnvelopeRaw
		if err := json.Unmarshal(message, &env); err != nil {
			log.Printf("invalid message: %v", err)
			continue
		}

		switch env.Type {
		case submitprotocol.TypeSubmission:
			var sub submitprotocol.SubmissionMessage
			if err := json.Unmarshal(env.Payload, &sub); err != nil {
				log.Printf("invalid submission message: %v", err)
				continue
			}
			go w.handleSubmission(sub)

		case submitprotocol.TypePing:
			// Application-level ping, kept for older coordinators
			w.send(submitprotocol.TypePong, nil)

		case submitprotocol.TypeCancel:
			var cancel submitprotocol.CancelMessage
			if err := json.Unmarshal(env.Payload, &cancel); err != nil {
				log.Printf("invalid cancel message: %v", err)
				continue
			}
			log.Printf("cancelling submission %s", cancel.SubmissionID)
			w.CancelSubmission(cancel.SubmissionID)
		}
	}
}

func (w *Worker) handleSubmission(sub submitprotocol.SubmissionMessage) {
	if !w.pool.Acquire() {
		w.send(submitprotocol.TypeError, submitprotocol.ErrorMessage{
			SubmissionID: sub.SubmissionID,
			Message:      "no slots available",
		})
		return
	}
	defer func() {
		w.pool.Release()
		w.UntrackSubmission(sub.SubmissionID)
		w.sendReady()
	}()

	timeout := time.Duration(sub.Timeout) * time.Second
	if timeout == 0 {
		timeout = 2 * time.Minute
	}

	ctx, cancel := context.WithTimeout(w.ctx, timeout)
	defer cancel()

	w.TrackSubmission(sub.SubmissionID, cancel)

	payload := domain.Payload{
		ContactName:  sub.Fields["name"],
		ContactEmail: sub.Fields["email"],
		CompanyName:  sub.Fields["company"],
		Website:      sub.Fields["website"],
		RaiseAmount:  sub.Fields["raise"],
		PitchSummary: sub.Message,
		OpeningLine:  sub.Fields["opening_line"],
	}

	started := time.Now()
	out, err := w.driver.Submit(ctx, payload, sub.FormURL)
	if err != nil {
		w.send(submitprotocol.TypeError, submitprotocol.ErrorMessage{
			SubmissionID: sub.SubmissionID,
			Message:      err.Error(),
		})
		return
	}

	w.send(submitprotocol.TypeOutcome, submitprotocol.OutcomeMessage{
		SubmissionID: sub.SubmissionID,
		Status:       string(out.Status),
		Note:         out.Note,
		DurationMs:   time.Since(started).Milliseconds(),
	})
}

func (w *Worker) sendReady() error {
	return w.send(submitprotocol.TypeReady, submitprotocol.ReadyMessage{
		Slots: w.pool.Available(),
	})
}

func (w *Worker) send(msgType string, payload interface{}) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	data, err := submitprotocol.MarshalEnvelope(msgType, payload)
	if err != nil {
		return err
	}
	return w.conn.WriteMessage(websocket.TextMessage, data)
}

// Stop gracefully shuts down the worker
func (w *Worker) Stop() {
	w.cancel()
	w.mu.Lock()
	if w.conn != nil {
		w.conn.Close()
		w.conn = nil
	}
	w.mu.Unlock()
}

// RunWithReconnect runs the worker with automatic reconnection
func (w *Worker) RunWithReconnect() error {
	attempt := 0

	for {
		select {
		case <-w.ctx.Done():
			return nil
		default:
		}

		err := w.Connect()
		if err != nil {
			delay := calculateBackoff(attempt)
			log.Printf("connection failed: %v, retrying in %v", err, delay)
			attempt++

			select {
			case <-w.ctx.Done():
				return nil
			case <-time.After(delay):
				continue
			}
		}

		// Connected - reset backoff
		attempt = 0
		log.Printf("connected to coordinator")

		// Run until disconnected
		err = w.Run()

		// Close the connection before reconnecting to avoid leaking file descriptors
		w.mu.Lock()
		if w.conn != nil {
			w.conn.Close()
			w.conn = nil
		}
		w.mu.Unlock()

		if err != nil {
			log.Printf("disconnected: %v", err)
		}

		select {
		case <-w.ctx.Done():
			return nil
		default:
			// Will reconnect
		}
	}
}

// TrackSubmission registers a submission's cancel function
func (w *Worker) TrackSubmission(id string, cancel context.CancelFunc) {
	w.subsMu.Lock()
	defer w.subsMu.Unlock()
	w.subs[id] = cancel
}

// UntrackSubmission removes a submission from tracking
func (w *Worker) UntrackSubmission(id string) {
	w.subsMu.Lock()
	defer w.subsMu.Unlock()
	delete(w.subs, id)
}

// HasSubmission checks if a submission is being tracked
func (w *Worker) HasSubmission(id string) bool {
	w.subsMu.Lock()
	defer w.subsMu.Unlock()
	_, ok := w.subs[id]
	return ok
}

// CancelSubmission cancels a running submission
func (w *Worker) CancelSubmission(id string) {
	w.subsMu.Lock()
	cancel, ok := w.subs[id]
	if ok {
		delete(w.subs, id)
	}
	w.subsMu.Unlock()

	if ok && cancel != nil {
		cancel()
	}
}
