package driverpool

import (
	"sync"

	"github.com/raisekit/outreach-orchestrator/internal/submitprotocol"
)

// PendingSubmission tracks a submission waiting for dispatch or an outcome
type PendingSubmission struct {
	Msg      *submitprotocol.SubmissionMessage
	ResultCh chan *submitprotocol.OutcomeMessage
	WorkerID string // Assigned worker (empty if queued)
}

// SendFunc sends a submission to a worker
type SendFunc func(w *ConnectedWorker, msg *submitprotocol.SubmissionMessage) error

// EmbeddedDriverFunc runs a submission on the embedded local driver
type EmbeddedDriverFunc func(msg *submitprotocol.SubmissionMessage) *submitprotocol.OutcomeMessage

// Dispatcher manages the submission queue and worker assignment.
// With no workers connected it falls back to the embedded driver, so
// a single-process deployment works without any worker fleet.
type Dispatcher struct {
	registry *Registry
	embedded EmbeddedDriverFunc
	sendFunc SendFunc

	queue   []*PendingSubmission
	pending map[string]*PendingSubmission // submissionID -> pending
	mu      sync.Mutex
}

// NewDispatcher creates a new submission dispatcher
func NewDispatcher(registry *Registry, embedded EmbeddedDriverFunc) *Dispatcher {
	return &Dispatcher{
		registry: registry,
		embedded: embedded,
		pending:  make(map[string]*PendingSubmission),
	}
}

// SetSendFunc sets the function used to send submissions to workers
func (d *Dispatcher) SetSendFunc(fn SendFunc) {
	d.sendFunc = fn
}

// Enqueue adds a submission to the queue and returns a channel for the outcome
func (d *Dispatcher) Enqueue(msg *submitprotocol.SubmissionMessage) chan *submitprotocol.OutcomeMessage {
	d.mu.Lock()
	defer d.mu.Unlock()

	resultCh := make(chan *submitprotocol.OutcomeMessage, 1)
	pending := &PendingSubmission{
		Msg:      msg,
		ResultCh: resultCh,
	}

	d.queue = append(d.queue, pending)
	d.pending[msg.SubmissionID] = pending

	return resultCh
}

// TryDispatch attempts to dispatch queued submissions to available workers
func (d *Dispatcher) TryDispatch() {
	d.mu.Lock()
	defer d.mu.Unlock()

	var remaining []*PendingSubmission

	for _, ps := range d.queue {
		worker := d.registry.FindReady()

		if worker != nil && d.sendFunc != nil {
			worker.DecrementSlots()
			ps.WorkerID = worker.ID

			if err := d.sendFunc(worker, ps.Msg); err != nil {
				// Send failed, return the slot and keep in queue
				worker.IncrementSlots()
				ps.WorkerID = ""
				remaining = append(remaining, ps)
				continue
			}
		} else if d.embedded != nil && d.registry.Count() == 0 {
			// No workers, use the embedded driver
			go func(ps *PendingSubmission) {
				result := d.embedded(ps.Msg)
				d.Complete(ps.Msg.SubmissionID, result)
			}(ps)
		} else {
			// No available workers, keep in queue
			remaining = append(remaining, ps)
		}
	}

	d.queue = remaining
}

// Complete resolves a pending submission with its outcome
func (d *Dispatcher) Complete(submissionID string, result *submitprotocol.OutcomeMessage) {
	d.mu.Lock()
	ps, ok := d.pending[submissionID]
	if ok {
		delete(d.pending, submissionID)
	}
	d.mu.Unlock()

	if ok && ps.ResultCh != nil {
		ps.ResultCh <- result
		close(ps.ResultCh)
	}
}

// RequeueWorkerSubmissions returns a disconnected worker's in-flight
// submissions to the queue for redispatch.
func (d *Dispatcher) RequeueWorkerSubmissions(workerID string) {
	d.mu.Lock()
	defer d.mu.Unlock()

	for _, ps := range d.pending {
		if ps.WorkerID != workerID {
			continue
		}
		ps.WorkerID = ""
		d.queue = append(d.queue, ps)
	}
}

// QueueLength returns the number of queued submissions
func (d *Dispatcher) QueueLength() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.queue)
}

// PendingCount returns the number of pending submissions (queued + in-progress)
func (d *Dispatcher) PendingCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.pending)
}
