package driverpool

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/raisekit/outreach-orchestrator/internal/submitprotocol"
)

// CoordinatorConfig configures the coordinator
type CoordinatorConfig struct {
	ListenAddr        string
	AuthToken         string
	HeartbeatInterval time.Duration
	HeartbeatTimeout  time.Duration
}

// Coordinator accepts worker connections and routes submissions
type Coordinator struct {
	config     CoordinatorConfig
	registry   *Registry
	dispatcher *Dispatcher
	upgrader   websocket.Upgrader

	server *http.Server
	mu     sync.Mutex
}

// NewCoordinator creates a new coordinator
func NewCoordinator(config CoordinatorConfig, registry *Registry, dispatcher *Dispatcher) *Coordinator {
	if config.HeartbeatInterval == 0 {
		config.HeartbeatInterval = 30 * time.Second
	}
	if config.HeartbeatTimeout == 0 {
		config.HeartbeatTimeout = 90 * time.Second // Allow missing 2 heartbeats before disconnect
	}

	c := &Coordinator{
		config:     config,
		registry:   registry,
		dispatcher: dispatcher,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}

	c.dispatcher.SetSendFunc(c.sendSubmissionToWorker)

	return c
}

// Registry returns the worker registry
func (c *Coordinator) Registry() *Registry {
	return c.registry
}

// Dispatcher returns the submission dispatcher
func (c *Coordinator) Dispatcher() *Dispatcher {
	return c.dispatcher
}

// HandleWebSocket handles incoming WebSocket connections from workers
func (c *Coordinator) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	if c.config.AuthToken != "" && r.Header.Get("Authorization") != "Bearer "+c.config.AuthToken {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	conn, err := c.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("upgrade failed: %v", err)
		return
	}

	go c.handleWorkerConnection(conn)
}

func (c *Coordinator) handleWorkerConnection(conn *websocket.Conn) {
	var workerID string
	defer func() {
		conn.Close()
		if workerID != "" {
			c.registry.Unregister(workerID)
			c.dispatcher.RequeueWorkerSubmissions(workerID)
			c.dispatcher.TryDispatch()
			log.Printf("worker %s disconnected", workerID)
		}
	}()

	// WebSocket-level pong handler extends the read deadline
	conn.SetReadDeadline(time.Now().Add(c.config.HeartbeatTimeout))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(c.config.HeartbeatTimeout))
		return nil
	})

	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Printf("read error: %v", err)
			}
			return
		}

		// Extend read deadline on any message received
		conn.SetReadDeadline(time.Now().Add(c.config.HeartbeatTimeout))

		var env submitprotocol.EnvelopeRaw
		if err := json.Unmarshal(message, &env); err != nil {
			log.Printf("invalid message: %v", err)
			continue
		}

		switch env.Type {
		case submitprotocol.TypeRegister:
			var reg submitprotocol.RegisterMessage
			if err := json.Unmarshal(env.Payload, &reg); err != nil {
				log.Printf("invalid register: %v", err)
				continue
			}
			workerID = reg.WorkerID
			c.registry.Register(&ConnectedWorker{
				ID:       reg.WorkerID,
				MaxSlots: reg.MaxSlots,
				Slots:    reg.MaxSlots,
				Conn:     conn,
			})
			log.Printf("worker %s registered (max_slots=%d)", reg.WorkerID, reg.MaxSlots)

		case submitprotocol.TypeReady:
			var ready submitprotocol.ReadyMessage
			if err := json.Unmarshal(env.Payload, &ready); err != nil {
				log.Printf("failed to unmarshal %s message: %v", env.Type, err)
				continue
			}
			if w := c.registry.Get(workerID); w != nil {
				w.UpdateSlots(ready.Slots)
				c.dispatcher.TryDispatch()
			}

		case submitprotocol.TypeOutcome:
			var outcome submitprotocol.OutcomeMessage
			if err := json.Unmarshal(env.Payload, &outcome); err != nil {
				log.Printf("failed to unmarshal %s message: %v", env.Type, err)
				continue
			}
			c.dispatcher.Complete(outcome.SubmissionID, &outcome)

		case submitprotocol.TypeError:
			var errMsg submitprotocol.ErrorMessage
			if err := json.Unmarshal(env.Payload, &errMsg); err != nil {
				log.Printf("failed to unmarshal %s message: %v", env.Type, err)
				continue
			}
			c.dispatcher.Complete(errMsg.SubmissionID, &submitprotocol.OutcomeMessage{
				SubmissionID: errMsg.SubmissionID,
				Status:       "errored",
				Note:         "worker error: " + errMsg.Message,
			})

		case submitprotocol.TypePong:
			if w := c.registry.Get(workerID); w != nil {
				w.SetLastHeartbeat(time.Now())
			}
		}
	}
}

func (c *Coordinator) sendSubmissionToWorker(w *ConnectedWorker, msg *submitprotocol.SubmissionMessage) error {
	data, err := submitprotocol.MarshalEnvelope(submitprotocol.TypeSubmission, msg)
	if err != nil {
		return err
	}
	return w.WriteMessage(websocket.TextMessage, data)
}

// Start starts the coordinator server
func (c *Coordinator) Start(ctx context.Context) error {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", c.HandleWebSocket)
	mux.HandleFunc("/status", c.HandleStatus)

	c.server = &http.Server{
		Addr:    c.config.ListenAddr,
		Handler: mux,
	}

	go c.heartbeatLoop(ctx)

	log.Printf("submission coordinator listening on %s", c.config.ListenAddr)
	return c.server.ListenAndServe()
}

// HandleStatus returns the current pool status
func (c *Coordinator) HandleStatus(w http.ResponseWriter, r *http.Request) {
	workers := []map[string]interface{}{}
	for _, worker := range c.registry.All() {
		maxSlots, slots, connectedAt := worker.GetStatus()
		workers = append(workers, map[string]interface{}{
			"id":                 worker.ID,
			"max_slots":          maxSlots,
			"active_submissions": maxSlots - slots,
			"connected_since":    connectedAt.Format(time.RFC3339),
		})
	}

	status := map[string]interface{}{
		"workers":             workers,
		"queued_submissions":  c.dispatcher.QueueLength(),
		"pending_submissions": c.dispatcher.PendingCount(),
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(status)
}

// Stop stops the coordinator server
func (c *Coordinator) Stop() error {
	if c.server != nil {
		return c.server.Close()
	}
	return nil
}

func (c *Coordinator) heartbeatLoop(ctx context.Context) {
	ticker := time.NewTicker(c.config.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.sendHeartbeats()
		}
	}
}

func (c *Coordinator) sendHeartbeats() {
	for _, w := range c.registry.All() {
		// Protocol-level ping so the worker's pong handler keeps the
		// connection alive
		w.writeMu.Lock()
		w.Conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
		err := w.Conn.WriteMessage(websocket.PingMessage, nil)
		w.Conn.SetWriteDeadline(time.Time{})
		w.writeMu.Unlock()

		if err != nil {
			log.Printf("ping to %s failed: %v", w.ID, err)
			// The read loop handles cleanup once the connection drops
			w.Conn.Close()
		}
	}
}
