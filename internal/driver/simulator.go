package driver

import (
	"context"
	"sync"
	"time"

	"github.com/raisekit/outreach-orchestrator/internal/domain"
)

// Simulator is the no-op submission driver used in simulation mode and as
// the embedded fallback when no remote worker is connected. It never
// touches the network: a request with a form location "submits", one
// without reports no_form_found.
type Simulator struct{}

// Submit implements Driver
func (Simulator) Submit(ctx context.Context, payload domain.Payload, formURL string) (*domain.Outcome, error) {
	now := time.Now()
	if formURL == "" {
		return &domain.Outcome{
			Status: domain.ChannelNoFormFound,
			Note:   "no candidate form location",
		}, nil
	}
	return &domain.Outcome{
		Status:      domain.ChannelSubmitted,
		FilledAt:    &now,
		SubmittedAt: &now,
		Note:        "simulated submission to " + formURL,
	}, nil
}

// Scripted replays a fixed sequence of outcomes, one per Submit call, and
// repeats the last one when the script runs out. Intended for tests.
type Scripted struct {
	mu       sync.Mutex
	script   []*domain.Outcome
	calls    int
	lastIdx  int
	delay    time.Duration
	Payloads []domain.Payload
}

// NewScripted creates a scripted driver from the given outcomes
func NewScripted(outcomes ...*domain.Outcome) *Scripted {
	return &Scripted{script: outcomes, lastIdx: len(outcomes) - 1}
}

// SetDelay makes every Submit call block for d (to simulate a slow driver)
func (s *Scripted) SetDelay(d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.delay = d
}

// Calls returns how many times Submit has been invoked
func (s *Scripted) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

// Submit implements Driver
func (s *Scripted) Submit(ctx context.Context, payload domain.Payload, formURL string) (*domain.Outcome, error) {
	s.mu.Lock()
	idx := s.calls
	if idx > s.lastIdx {
		idx = s.lastIdx
	}
	s.calls++
	s.Payloads = append(s.Payloads, payload)
	out := s.script[idx]
	delay := s.delay
	s.mu.Unlock()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return out, nil
}
