package driverpool

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/raisekit/outreach-orchestrator/internal/domain"
	"github.com/raisekit/outreach-orchestrator/internal/driver"
	"github.com/raisekit/outreach-orchestrator/internal/submitprotocol"
	"github.com/raisekit/outreach-orchestrator/internal/submitworker"
)

// newTestCoordinator creates a coordinator with default registry and dispatcher
func newTestCoordinator(config CoordinatorConfig) *Coordinator {
	registry := NewRegistry()
	dispatcher := NewDispatcher(registry, nil)
	return NewCoordinator(config, registry, dispatcher)
}

func TestCoordinator_AcceptWorker(t *testing.T) {
	coord := newTestCoordinator(CoordinatorConfig{})

	server := httptest.NewServer(http.HandlerFunc(coord.HandleWebSocket))
	defer server.Close()

	wsURL := "ws" + strings.TrimPrefix(server.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	defer conn.Close()

	registerMsg := `{"type":"register","payload":{"worker_id":"test-worker","max_slots":4}}`
	if err := conn.WriteMessage(websocket.TextMessage, []byte(registerMsg)); err != nil {
		t.Fatalf("write failed: %v", err)
	}

	// Give time for registration
	time.Sleep(50 * time.Millisecond)

	if coord.Registry().Count() != 1 {
		t.Errorf("got worker count=%d, want 1", coord.Registry().Count())
	}

	worker := coord.Registry().Get("test-worker")
	if worker == nil {
		t.Fatal("worker not found in registry")
	}
	if worker.MaxSlots != 4 {
		t.Errorf("got max_slots=%d, want 4", worker.MaxSlots)
	}
}

func TestCoordinator_RejectsBadToken(t *testing.T) {
	coord := newTestCoordinator(CoordinatorConfig{AuthToken: "secret"})

	server := httptest.NewServer(http.HandlerFunc(coord.HandleWebSocket))
	defer server.Close()

	wsURL := "ws" + strings.TrimPrefix(server.URL, "http")
	_, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err == nil {
		t.Fatal("dial without token should fail")
	}
	if resp == nil || resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("expected 401 response, got %+v", resp)
	}

	conn, _, err := websocket.DefaultDialer.Dial(wsURL, http.Header{"Authorization": {"Bearer secret"}})
	if err != nil {
		t.Fatalf("dial with token failed: %v", err)
	}
	conn.Close()
}

func TestCoordinator_WorkerDisconnectRequeues(t *testing.T) {
	coord := newTestCoordinator(CoordinatorConfig{})

	server := httptest.NewServer(http.HandlerFunc(coord.HandleWebSocket))
	defer server.Close()

	wsURL := "ws" + strings.TrimPrefix(server.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}

	registerMsg := `{"type":"register","payload":{"worker_id":"disconnect-test","max_slots":2}}`
	if err := conn.WriteMessage(websocket.TextMessage, []byte(registerMsg)); err != nil {
		t.Fatalf("write failed: %v", err)
	}

	time.Sleep(50 * time.Millisecond)

	if coord.Registry().Count() != 1 {
		t.Fatal("worker not registered")
	}

	// Hand the worker an in-flight submission, then drop the connection
	coord.Dispatcher().Enqueue(&submitprotocol.SubmissionMessage{SubmissionID: "sub-1"})
	coord.Dispatcher().TryDispatch()

	conn.Close()
	time.Sleep(50 * time.Millisecond)

	if coord.Registry().Count() != 0 {
		t.Errorf("got worker count=%d, want 0", coord.Registry().Count())
	}
	if coord.Dispatcher().QueueLength() != 1 {
		t.Errorf("queue length = %d, want 1 (requeued)", coord.Dispatcher().QueueLength())
	}
}

func TestCoordinator_EndToEndSubmission(t *testing.T) {
	coord := newTestCoordinator(CoordinatorConfig{})

	server := httptest.NewServer(http.HandlerFunc(coord.HandleWebSocket))
	defer server.Close()

	wsURL := "ws" + strings.TrimPrefix(server.URL, "http")
	worker, err := submitworker.NewWorker(submitworker.WorkerConfig{
		ServerURL: wsURL,
		WorkerID:  "e2e-worker",
		MaxSlots:  2,
	}, driver.Simulator{})
	if err != nil {
		t.Fatal(err)
	}
	if err := worker.Connect(); err != nil {
		t.Fatal(err)
	}
	defer worker.Stop()
	go worker.Run()

	// Wait for the worker to register and report ready
	deadline := time.Now().Add(2 * time.Second)
	for coord.Registry().TotalSlots() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("worker never became ready")
		}
		time.Sleep(10 * time.Millisecond)
	}

	pd := NewPoolDriver(coord.Dispatcher(), domain.ModeSimulation)
	pd.SetTimeout(5 * time.Second)

	out, err := pd.Submit(context.Background(), domain.Payload{
		ContactName:  "Ada Lovelace",
		ContactEmail: "ada@example.com",
		CompanyName:  "Analytical Engines",
	}, "https://fund.example/contact")
	if err != nil {
		t.Fatal(err)
	}
	if out.Status != domain.ChannelSubmitted {
		t.Errorf("Status = %q, want submitted", out.Status)
	}
}
