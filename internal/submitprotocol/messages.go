// Package submitprotocol defines message types for worker-coordinator
// communication in the distributed submission pool. Messages flow over
// WebSocket connections.
package submitprotocol

import "encoding/json"

// Envelope wraps all messages with a type discriminator.
// When marshaling, Payload can be any message struct.
// When unmarshaling, use EnvelopeRaw for type-based dispatch.
type Envelope struct {
	Type    string      `json:"type"`
	Payload interface{} `json:"payload,omitempty"`
}

// EnvelopeRaw is used for receiving messages where the payload
// needs to be unmarshaled based on the message type.
type EnvelopeRaw struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// MarshalEnvelope creates an envelope with the given type and payload
func MarshalEnvelope(msgType string, payload interface{}) ([]byte, error) {
	return json.Marshal(Envelope{Type: msgType, Payload: payload})
}

// Worker -> Coordinator messages

// RegisterMessage sent when worker first connects
type RegisterMessage struct {
	WorkerID string `json:"worker_id"`
	MaxSlots int    `json:"max_slots"`
}

// ReadyMessage sent when worker has available submission slots
type ReadyMessage struct {
	Slots int `json:"slots"`
}

// OutcomeMessage sent when a submission attempt finishes
type OutcomeMessage struct {
	SubmissionID string `json:"submission_id"`
	Status       string `json:"status"`
	Note         string `json:"note,omitempty"`
	DurationMs   int64  `json:"duration_ms"`
}

// ErrorMessage sent when a submission fails before producing an outcome
type ErrorMessage struct {
	SubmissionID string `json:"submission_id"`
	Message      string `json:"message"`
}

// Coordinator -> Worker messages

// SubmissionMessage assigns a contact-form submission to a worker
type SubmissionMessage struct {
	SubmissionID string            `json:"submission_id"`
	FormURL      string            `json:"form_url"`
	Mode         string            `json:"mode"`
	Fields       map[string]string `json:"fields,omitempty"`
	Message      string            `json:"message,omitempty"`
	Timeout      int               `json:"timeout_secs,omitempty"`
}

// CancelMessage requests submission cancellation
type CancelMessage struct {
	SubmissionID string `json:"submission_id"`
}

// Message type constants
const (
	TypeRegister   = "register"
	TypeReady      = "ready"
	TypeOutcome    = "outcome"
	TypeError      = "error"
	TypeSubmission = "submission"
	TypeCancel     = "cancel"
	TypePing       = "ping"
	TypePong       = "pong"
)
